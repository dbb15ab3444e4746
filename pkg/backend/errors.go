package backend

import "errors"

// Error represents a domain error from backend operations.
//
// These are filesystem-semantic errors (file not found, permission denied,
// lock conflict, etc.) as opposed to infrastructure errors (network failure,
// corrupted store). The dispatch layer never converts or swallows a backend
// error; it only attaches taxonomy information where the backend returned a
// bare infrastructure error.
type Error struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Path is the filesystem path related to the error (if applicable)
	Path string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Path != "" {
		return e.Message + ": " + e.Path
	}
	return e.Message
}

// ErrorCode represents the category of a backend error.
//
// The dispatch layer and any transport bound to it translate these generic
// categories into their wire representation (e.g. negated errno values).
type ErrorCode int

const (
	// ErrNotFound indicates the requested file or directory doesn't exist
	ErrNotFound ErrorCode = iota

	// ErrPermissionDenied indicates a permission check failed
	ErrPermissionDenied

	// ErrExists indicates a file or directory with the name already exists
	ErrExists

	// ErrIsDirectory indicates operation expected a file but got a directory
	ErrIsDirectory

	// ErrNotDirectory indicates operation expected a directory but got a file
	ErrNotDirectory

	// ErrNoSpace indicates no space is available
	ErrNoSpace

	// ErrInvalidArgument indicates invalid parameters were provided
	// Examples: stale handle token, bad offset, empty name
	ErrInvalidArgument

	// ErrNotSupported indicates the backend does not implement the
	// capability and no documented fallback applies
	ErrNotSupported

	// ErrInterrupted indicates a blocking wait was cancelled
	ErrInterrupted

	// ErrWouldBlock indicates a non-blocking operation hit a conflict
	ErrWouldBlock

	// ErrNotEmpty indicates a directory is not empty (cannot be removed)
	ErrNotEmpty

	// ErrIOError indicates an opaque backend failure
	ErrIOError
)

func (c ErrorCode) String() string {
	switch c {
	case ErrNotFound:
		return "not found"
	case ErrPermissionDenied:
		return "permission denied"
	case ErrExists:
		return "already exists"
	case ErrIsDirectory:
		return "is a directory"
	case ErrNotDirectory:
		return "not a directory"
	case ErrNoSpace:
		return "no space left"
	case ErrInvalidArgument:
		return "invalid argument"
	case ErrNotSupported:
		return "not supported"
	case ErrInterrupted:
		return "interrupted"
	case ErrWouldBlock:
		return "resource temporarily unavailable"
	case ErrNotEmpty:
		return "directory not empty"
	case ErrIOError:
		return "input/output error"
	default:
		return "unknown error"
	}
}

// NewError builds a taxonomy error with the code's default message.
func NewError(code ErrorCode, path string) *Error {
	return &Error{Code: code, Message: code.String(), Path: path}
}

// CodeOf extracts the taxonomy code from an error chain.
//
// Returns ErrIOError for errors that carry no taxonomy information, so
// opaque backend failures surface as I/O errors rather than panics.
func CodeOf(err error) ErrorCode {
	var be *Error
	if errors.As(err, &be) {
		return be.Code
	}
	return ErrIOError
}

// IsCode reports whether err carries the given taxonomy code.
func IsCode(err error, code ErrorCode) bool {
	var be *Error
	return errors.As(err, &be) && be.Code == code
}
