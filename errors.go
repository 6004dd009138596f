package fanline

import (
	"context"
	"errors"

	"github.com/haileyok/fanline/internal/store"
)

// ErrNotFound is re-exported so callers don't import internal/store just
// to classify errors.
var ErrNotFound = store.ErrNotFound

// PolicyError marks requests rejected at the boundary before reaching the
// core: negative limits, malformed cursors, oversized content.
type PolicyError struct {
	Reason string
}

func (e *PolicyError) Error() string {
	return "policy violation: " + e.Reason
}

func IsPolicy(err error) bool {
	var pe *PolicyError
	return errors.As(err, &pe)
}

// isTransient decides whether a per-follower fan-out failure is worth
// another attempt. Cancellation and policy/absence errors are not.
func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrNotFound) || IsPolicy(err) {
		return false
	}
	return true
}
