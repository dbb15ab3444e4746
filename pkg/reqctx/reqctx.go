// Package reqctx carries the caller identity of one filesystem request.
//
// The identity is injected into a context.Context for the dynamic extent of
// a single dispatched operation and read back by backends that perform
// their own permission checks. It is never stored anywhere else: concurrent
// requests from different callers each carry their own value, so one
// request can never observe another's identity.
package reqctx

// Caller is the read-only identity of the process behind one request.
//
// It is valid only for the duration of the call that received it and must
// not be retained by any component.
type Caller struct {
	// UID is the user id of the calling process.
	UID uint32

	// GID is the primary group id of the calling process.
	GID uint32

	// PID is the process id of the calling process. Used as the lock
	// requester pid for POSIX record locks.
	PID uint32

	// Umask is the umask of the calling process, applied by backends
	// when creating new objects.
	Umask uint32
}
