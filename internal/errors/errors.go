package errors

import (
	"errors"
	"fmt"
)

// EngineError is the base interface for all errors produced by this module.
type EngineError interface {
	error
	IsEngineError() bool
}

// Compile-time verification that all error types implement EngineError.
var (
	_ EngineError = (*SpawnError)(nil)
	_ EngineError = (*InitTimeoutError)(nil)
	_ EngineError = (*EngineCrashedError)(nil)
	_ EngineError = (*SuspendedProcessDiedError)(nil)
)

// Sentinel errors for commonly checked conditions.
var (
	// ErrTransportClosed indicates the engine process has exited and the
	// transport can no longer be written to.
	ErrTransportClosed = errors.New("transport closed")

	// ErrReadTimeout indicates no complete line arrived within the read timeout.
	ErrReadTimeout = errors.New("read timeout")

	// ErrNotRunning indicates the service has not been started.
	ErrNotRunning = errors.New("service not running")

	// ErrAlreadyRunning indicates the service has already been started.
	ErrAlreadyRunning = errors.New("service already running")

	// ErrSessionState indicates an operation was attempted in a session state
	// that does not permit it.
	ErrSessionState = errors.New("invalid session state")

	// ErrBatchStopped indicates a request was enqueued after the batch
	// worker was told to stop.
	ErrBatchStopped = errors.New("batch analyzer stopped")
)

// SpawnError indicates the engine executable could not be launched.
type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn engine %q: %v", e.Path, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// IsEngineError implements EngineError.
func (e *SpawnError) IsEngineError() bool { return true }

// InitTimeoutError indicates the engine never acknowledged the handshake.
type InitTimeoutError struct {
	Path    string
	Timeout string
}

func (e *InitTimeoutError) Error() string {
	return fmt.Sprintf("engine %q did not send uciok within %s", e.Path, e.Timeout)
}

// IsEngineError implements EngineError.
func (e *InitTimeoutError) IsEngineError() bool { return true }

// EngineCrashedError indicates the engine process exited unexpectedly
// mid-session. The session is unusable afterwards; callers must create a
// replacement session if they want to continue.
type EngineCrashedError struct {
	Pid int
	Err error
}

func (e *EngineCrashedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("engine process (pid %d) terminated unexpectedly: %v", e.Pid, e.Err)
	}

	return fmt.Sprintf("engine process (pid %d) terminated unexpectedly", e.Pid)
}

func (e *EngineCrashedError) Unwrap() error {
	return e.Err
}

// IsEngineError implements EngineError.
func (e *EngineCrashedError) IsEngineError() bool { return true }

// SuspendedProcessDiedError indicates the engine process died while its
// session was suspended, so the session cannot be resumed. The owning
// service must create a fresh session instead.
type SuspendedProcessDiedError struct {
	Pid int
}

func (e *SuspendedProcessDiedError) Error() string {
	return fmt.Sprintf("engine process (pid %d) died while suspended", e.Pid)
}

// IsEngineError implements EngineError.
func (e *SuspendedProcessDiedError) IsEngineError() bool { return true }
