package db

import (
	"errors"

	"github.com/kwspace/kws/internal/vfs/schema"
)

// Errors returned by the store. Check them with errors.Is:
//
//	if errors.Is(err, db.ErrNotFound) {
//	    // the node, workspace or content object does not exist
//	}
var (
	// ErrNotFound is returned when an addressed record does not exist.
	// It is the same value as schema.ErrNotFound.
	ErrNotFound = schema.ErrNotFound

	// ErrContentMismatch is returned when stored bytes do not hash to the
	// fingerprint they were stored under.
	ErrContentMismatch = errors.New("content does not match fingerprint")

	// ErrKindMismatch is returned when an operation meets a node of the
	// wrong kind (for example writing file content onto a directory).
	ErrKindMismatch = errors.New("node kind mismatch")
)

// IsNotFound reports whether err is (or wraps) ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
