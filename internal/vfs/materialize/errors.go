package materialize

import (
	"errors"
	"fmt"

	"github.com/kwspace/kws/internal/vfs/schema"
)

// Kind classifies engine errors.
type Kind int

const (
	// KindNotFound: a required source (directory, backup, content) is missing.
	KindNotFound Kind = iota + 1
	// KindInvalidInput: bad arguments or an operation the platform cannot do.
	KindInvalidInput
	// KindIO: a filesystem operation failed.
	KindIO
	// KindVFS: the virtual file store failed.
	KindVFS
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindInvalidInput:
		return "invalid input"
	case KindIO:
		return "io"
	case KindVFS:
		return "vfs"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Sentinels for errors.Is. An *Error matches the sentinel of its Kind.
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrIO           = errors.New("io error")
	ErrVFS          = errors.New("vfs error")

	// ErrUnsupportedPlatform is returned (as KindInvalidInput) when the
	// filesystem cannot create symlinks.
	ErrUnsupportedPlatform = errors.New("operation not supported on this platform")
)

// Error is the error type returned by the engine.
type Error struct {
	Kind Kind
	Op   string // flush, sync, backup, restore, resolve
	Path string // physical or virtual path, may be empty
	Err  error
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg + ": " + e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel for e.Kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrInvalidInput:
		return e.Kind == KindInvalidInput
	case ErrIO:
		return e.Kind == KindIO
	case ErrVFS:
		return e.Kind == KindVFS
	}
	return false
}

// KindOf returns the Kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsNotFound reports whether err is a NotFound engine error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsUnsupportedPlatform reports whether err came from a missing platform
// capability such as symlink creation.
func IsUnsupportedPlatform(err error) bool {
	return errors.Is(err, ErrUnsupportedPlatform)
}

func newError(kind Kind, op, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

func invalidInput(op, path, format string, args ...any) *Error {
	return newError(KindInvalidInput, op, path, fmt.Errorf(format, args...))
}

func ioError(op, path string, err error) *Error {
	return newError(KindIO, op, path, err)
}

// vfsError wraps a store failure; store misses become KindNotFound.
func vfsError(op, path string, err error) *Error {
	if errors.Is(err, schema.ErrNotFound) {
		return newError(KindNotFound, op, path, err)
	}
	return newError(KindVFS, op, path, err)
}
