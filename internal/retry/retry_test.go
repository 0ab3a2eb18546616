package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRunSucceedsAfterFailures(t *testing.T) {
	calls := 0
	fail := errors.New("transient")

	b := Budget{Attempts: 5, Timeout: time.Minute}
	err := b.Run(t.Context(), "flaky op", func(context.Context) error {
		calls++
		if calls <= 2 {
			return fail
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Run = %v, want nil", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestRunExhaustsAttempts(t *testing.T) {
	calls := 0
	fail := errors.New("persistent")

	b := Budget{Attempts: 3, Timeout: time.Minute}
	err := b.Run(t.Context(), "doomed op", func(context.Context) error {
		calls++
		return fail
	})

	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
	if !errors.Is(err, fail) {
		t.Fatalf("Run = %v, want wrapped %v", err, fail)
	}
	if errors.Is(err, ErrTimeoutExceeded) {
		t.Fatal("attempt exhaustion reported as timeout")
	}
}

func TestRunFirstAttemptSucceeds(t *testing.T) {
	calls := 0
	b := Budget{Attempts: 1, Timeout: time.Minute}
	if err := b.Run(t.Context(), "ok op", func(context.Context) error {
		calls++
		return nil
	}); err != nil {
		t.Fatalf("Run = %v, want nil", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestRunTimeout(t *testing.T) {
	fail := errors.New("slow failure")

	b := Budget{Attempts: 100, Timeout: 10 * time.Millisecond}
	err := b.Run(t.Context(), "slow op", func(ctx context.Context) error {
		<-ctx.Done()
		return fail
	})

	if !errors.Is(err, ErrTimeoutExceeded) {
		t.Fatalf("Run = %v, want ErrTimeoutExceeded", err)
	}
	if !errors.Is(err, fail) {
		t.Fatal("timeout error does not wrap the last underlying error")
	}
}

func TestRunContextDeadlinePropagated(t *testing.T) {
	b := Budget{Attempts: 1, Timeout: time.Minute}
	err := b.Run(t.Context(), "deadline op", func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			t.Error("op context has no deadline")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Run = %v, want nil", err)
	}
}

func TestResolve(t *testing.T) {
	b := Resolve(0, 0)
	if b.Attempts != DefaultAttempts {
		t.Fatalf("Attempts = %d, want default %d", b.Attempts, DefaultAttempts)
	}
	if b.Timeout != DefaultTimeout {
		t.Fatalf("Timeout = %v, want default %v", b.Timeout, DefaultTimeout)
	}
}

func TestResolveProjectSettingsWin(t *testing.T) {
	t.Setenv("FORGE_RETRY_COUNT", "9")
	t.Setenv("FORGE_TIMEOUT", "111")

	b := Resolve(2, 300)
	if b.Attempts != 2 {
		t.Fatalf("Attempts = %d, want project value 2", b.Attempts)
	}
	if b.Timeout != 300*time.Second {
		t.Fatalf("Timeout = %v, want project value 300s", b.Timeout)
	}
}

func TestResolveEnvOverride(t *testing.T) {
	t.Setenv("FORGE_RETRY_COUNT", "4")
	t.Setenv("FORGE_TIMEOUT", "60")

	b := Resolve(0, 0)
	if b.Attempts != 4 {
		t.Fatalf("Attempts = %d, want env value 4", b.Attempts)
	}
	if b.Timeout != 60*time.Second {
		t.Fatalf("Timeout = %v, want env value 60s", b.Timeout)
	}
}

func TestResolveMalformedEnv(t *testing.T) {
	t.Setenv("FORGE_RETRY_COUNT", "banana")
	t.Setenv("FORGE_TIMEOUT", "-1")

	b := Resolve(0, 0)
	if b.Attempts != DefaultAttempts || b.Timeout != DefaultTimeout {
		t.Fatalf("Resolve = %+v, want defaults", b)
	}
}
