package schemas

import (
	"errors"
	"fmt"
)

// -- Error Taxonomy --
//
// Resolution and start failures abort acquisition outright. Element lookup,
// staleness, and timeout errors are retryable by policy. A crashed peer is
// fatal for the in-flight operation; recovery is an explicit Restart, never
// automatic.

// ErrNoSuchVersion indicates the driver distribution service has no artifact
// for the requested version. Not transient: retrying cannot help.
var ErrNoSuchVersion = errors.New("no driver published for requested version")

// BinaryResolutionError reports that no compatible browser/driver pair could
// be produced.
type BinaryResolutionError struct {
	Reason string
	Err    error
}

func (e *BinaryResolutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("binary resolution failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("binary resolution failed: %s", e.Reason)
}

func (e *BinaryResolutionError) Unwrap() error { return e.Err }

// SessionStartError reports that the driver process or its health check
// failed during launch.
type SessionStartError struct {
	Stage string
	Err   error
}

func (e *SessionStartError) Error() string {
	return fmt.Sprintf("session start failed during %s: %v", e.Stage, e.Err)
}

func (e *SessionStartError) Unwrap() error { return e.Err }

// SessionNotReadyError reports an operation attempted against a session that
// is not accepting commands. This is a caller bug, surfaced immediately.
type SessionNotReadyError struct {
	State string
}

func (e *SessionNotReadyError) Error() string {
	return fmt.Sprintf("session not ready for commands (state: %s)", e.State)
}

// SessionCrashedError reports that the driver process died underneath a live
// session.
type SessionCrashedError struct {
	Err error
}

func (e *SessionCrashedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("driver process crashed: %v", e.Err)
	}
	return "driver process crashed"
}

func (e *SessionCrashedError) Unwrap() error { return e.Err }

// ElementNotFoundError reports that a locator matched nothing. Retryable:
// the element may simply not have rendered yet.
type ElementNotFoundError struct {
	Selector string
}

func (e *ElementNotFoundError) Error() string {
	return fmt.Sprintf("no element matching %q", e.Selector)
}

// StaleReferenceError reports that a previously located element detached
// from the document. Retryable: re-finding usually succeeds.
type StaleReferenceError struct {
	Selector string
}

func (e *StaleReferenceError) Error() string {
	return fmt.Sprintf("element reference for %q is stale", e.Selector)
}

// OperationTimeoutError reports that a single attempt exceeded its deadline.
type OperationTimeoutError struct {
	Operation string
	Err       error
}

func (e *OperationTimeoutError) Error() string {
	return fmt.Sprintf("operation %q timed out: %v", e.Operation, e.Err)
}

func (e *OperationTimeoutError) Unwrap() error { return e.Err }

// IsRetryable reports whether an error belongs to the retryable kinds:
// element-not-found-yet, stale reference, and per-attempt timeout.
// Everything else, crashes included, is treated as fatal.
func IsRetryable(err error) bool {
	var notFound *ElementNotFoundError
	var stale *StaleReferenceError
	var timeout *OperationTimeoutError
	return errors.As(err, &notFound) || errors.As(err, &stale) || errors.As(err, &timeout)
}

// IsCrash reports whether an error indicates the peer process died.
func IsCrash(err error) bool {
	var crashed *SessionCrashedError
	return errors.As(err, &crashed)
}
