package resilinet

//
// Error taxonomy
//

import (
	"errors"

	"golang.org/x/sys/unix"
)

// ErrResourceNotFound indicates that a referenced namespace or interface
// does not exist.
var ErrResourceNotFound = errors.New("resilinet: resource not found")

// ErrAlreadyExists indicates a namespace name collision. The [Topology]
// tolerates this error by tracking the existing namespace for cleanup
// rather than aborting.
var ErrAlreadyExists = errors.New("resilinet: resource already exists")

// ErrPermissionDenied indicates insufficient privilege for namespace,
// link, or queueing-discipline operations (CAP_NET_ADMIN is required).
var ErrPermissionDenied = errors.New("resilinet: permission denied")

// ErrTimeout indicates that a capture or a readiness handshake exceeded
// its configured bound.
var ErrTimeout = errors.New("resilinet: timeout")

// ErrExecutionFailure indicates that a cross-context job failed or that
// the spawned execution unit died without producing a proper result.
var ErrExecutionFailure = errors.New("resilinet: execution failure")

// ErrAssertionFailure indicates that the expected protocol behavior was
// not observed even though every job executed successfully.
var ErrAssertionFailure = errors.New("resilinet: assertion failure")

// IsAlreadyExists returns whether err is an [ErrAlreadyExists].
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsResourceNotFound returns whether err is an [ErrResourceNotFound].
func IsResourceNotFound(err error) bool {
	return errors.Is(err, ErrResourceNotFound)
}

// classifyErrno maps kernel errnos surfaced by the network control
// capability onto the error taxonomy. Errors that are not recognizable
// errnos pass through unchanged.
func classifyErrno(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, unix.EEXIST):
		return ErrAlreadyExists
	case errors.Is(err, unix.ENOENT),
		errors.Is(err, unix.ENODEV),
		errors.Is(err, unix.ESRCH):
		return ErrResourceNotFound
	case errors.Is(err, unix.EPERM),
		errors.Is(err, unix.EACCES):
		return ErrPermissionDenied
	default:
		return err
	}
}
