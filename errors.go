package uciflow

import "github.com/pawnsight/uciflow/internal/errors"

// Re-export error types from internal package

// SpawnError indicates the engine executable could not be launched.
type SpawnError = errors.SpawnError

// InitTimeoutError indicates the engine never acknowledged the handshake.
type InitTimeoutError = errors.InitTimeoutError

// EngineCrashedError indicates the engine process exited unexpectedly
// mid-session.
type EngineCrashedError = errors.EngineCrashedError

// SuspendedProcessDiedError indicates the engine process died while its
// session was suspended, so the session cannot be resumed.
type SuspendedProcessDiedError = errors.SuspendedProcessDiedError

// EngineError is the base interface for all errors produced by this module.
type EngineError = errors.EngineError

// Re-export sentinel errors from internal package.
var (
	// ErrTransportClosed indicates the engine process has exited and its
	// transport can no longer be used.
	ErrTransportClosed = errors.ErrTransportClosed

	// ErrReadTimeout indicates no complete line arrived within the read timeout.
	ErrReadTimeout = errors.ErrReadTimeout

	// ErrNotRunning indicates the service has not been started.
	ErrNotRunning = errors.ErrNotRunning

	// ErrAlreadyRunning indicates the service has already been started.
	ErrAlreadyRunning = errors.ErrAlreadyRunning

	// ErrSessionState indicates an operation was attempted in a session
	// state that does not permit it.
	ErrSessionState = errors.ErrSessionState

	// ErrBatchStopped indicates a request was enqueued after the batch
	// worker was told to stop.
	ErrBatchStopped = errors.ErrBatchStopped
)
