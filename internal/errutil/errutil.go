// Package errutil wraps errors with package-level sentinels.
//
// Each package declares sentinel errors for its failure categories and
// wraps underlying causes with [Wrap] or [Wrapf]. Callers match on the
// sentinel with [errors.Is] and still see the full cause chain in the
// message.
package errutil

import "fmt"

// Wraps err with a sentinel error.
//
// The sentinel becomes the outermost error in the chain and both the
// sentinel and err remain matchable with [errors.Is]. A nil err returns
// the sentinel alone.
func Wrap(sentinel, err error) error {
	if err == nil {
		return sentinel
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

// Wraps a formatted message with a sentinel error.
//
// The format string may itself contain %w verbs to chain further causes.
func Wrapf(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{sentinel}, args...)...)
}
