package retry

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/cruciblehq/forge/internal/errutil"
)

var ErrTimeoutExceeded = errors.New("retry budget timeout exceeded")

// Hardcoded fallbacks when neither the project nor the environment sets
// a budget.
const (
	DefaultAttempts = 1
	DefaultTimeout  = 7200 * time.Second
)

// Environment variables overriding the default budget.
const (
	envAttempts = "FORGE_RETRY_COUNT"
	envTimeout  = "FORGE_TIMEOUT"
)

// Pause between attempts. Kept short: the operations wrapped in a budget
// fail on transient network and mirror errors, not on load.
const retryDelay = time.Second

// A bounded allowance for re-running a flaky operation.
//
// The budget covers the entire sequence: all attempts and the pauses
// between them must finish before the deadline derived from Timeout.
type Budget struct {
	Attempts int           // Total attempts, including the first.
	Timeout  time.Duration // Deadline for the whole sequence.
}

// Resolves a budget from project-level settings.
//
// Zero values fall through to the FORGE_RETRY_COUNT and FORGE_TIMEOUT
// environment variables, and finally to the hardcoded defaults.
func Resolve(attempts int, timeoutSeconds int) Budget {
	b := Budget{Attempts: attempts, Timeout: time.Duration(timeoutSeconds) * time.Second}

	if b.Attempts <= 0 {
		b.Attempts = envInt(envAttempts, DefaultAttempts)
	}
	if b.Timeout <= 0 {
		b.Timeout = time.Duration(envInt(envTimeout, int(DefaultTimeout/time.Second))) * time.Second
	}

	return b
}

// Reads a positive integer from the environment, falling back when the
// variable is unset or malformed.
func envInt(name string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(name))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

// Runs op until it succeeds, the attempts are exhausted, or the deadline
// passes.
//
// The context handed to op carries the budget's deadline, so blocking
// remote operations are cut off when the budget expires rather than
// overrunning it. Exceeding the deadline wraps the last observed error
// in [ErrTimeoutExceeded]; exhausting the attempts returns the last
// error unwrapped.
func (b Budget) Run(ctx context.Context, desc string, op func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, b.Timeout)
	defer cancel()

	var lastErr error
	for attempt := 1; attempt <= b.Attempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}

		slog.Warn("attempt failed",
			"operation", desc,
			"attempt", attempt,
			"of", b.Attempts,
			"error", lastErr,
		)

		if ctx.Err() != nil {
			return errutil.Wrapf(ErrTimeoutExceeded, "%s: %w", desc, lastErr)
		}
		if attempt == b.Attempts {
			break
		}

		select {
		case <-time.After(retryDelay):
		case <-ctx.Done():
			return errutil.Wrapf(ErrTimeoutExceeded, "%s: %w", desc, lastErr)
		}
	}

	return lastErr
}
