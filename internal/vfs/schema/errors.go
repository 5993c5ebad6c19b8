package schema

import "errors"

// ErrNotFound is the shared "record does not exist" sentinel. Stores wrap
// it so callers can classify misses without importing a concrete store.
var ErrNotFound = errors.New("not found")
