package store

import "errors"

// ErrNotFound is returned when a post or user is absent. Callers surface
// it as an empty result, not a fault.
var ErrNotFound = errors.New("not found")
