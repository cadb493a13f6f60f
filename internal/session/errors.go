package session

import "errors"

var (
	// ErrConnection means the transport could not be opened, or closed
	// before the relay signalled readiness.
	ErrConnection = errors.New("connection failed")

	// ErrConnectionTimeout means the relay did not become ready in time.
	ErrConnectionTimeout = errors.New("connection timeout")

	// ErrProtocolViolation marks a frame received out of phase. Such frames
	// are dropped.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrTransport is an I/O failure on an open connection.
	ErrTransport = errors.New("transport error")

	// ErrSessionClosed means the session has ended and accepts no commands.
	ErrSessionClosed = errors.New("session closed")

	// ErrInvalidTransition means a phase change is not in the transition table.
	ErrInvalidTransition = errors.New("invalid phase transition")

	errStaleConnection = errors.New("connection was replaced")
)

// BackendError carries the message of an error frame verbatim.
type BackendError struct {
	Message string
}

func (e *BackendError) Error() string {
	return "backend error: " + e.Message
}
