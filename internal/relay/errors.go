package relay

import (
	"errors"
	"io"
	"net"

	"github.com/gorilla/websocket"
)

var (
	// ErrAuthMissing means the upgrade request carried no credential.
	ErrAuthMissing = errors.New("credential missing")

	// ErrAuthInvalid means a credential was present but rejected.
	ErrAuthInvalid = errors.New("credential invalid")

	// ErrHandshakeTimeout means a leg did not open within the handshake window.
	ErrHandshakeTimeout = errors.New("handshake timeout")

	// ErrDialFailure means the backend could not be reached or refused the connection.
	ErrDialFailure = errors.New("backend dial failed")

	// ErrTransport is a mid-session I/O failure on either leg.
	ErrTransport = errors.New("transport error")

	// ErrBackpressure means a leg's outbound queue overflowed.
	ErrBackpressure = errors.New("send queue full")

	// ErrLegClosed means a leg was closed by its peer.
	ErrLegClosed = errors.New("leg closed")

	// ErrRelayClosed means the relay itself is shutting down.
	ErrRelayClosed = errors.New("relay closed")
)

// classifyReadError maps a read failure on a leg to ErrLegClosed for
// orderly shutdowns and ErrTransport for everything else.
func classifyReadError(err error) error {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		switch ce.Code {
		case websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived:
			return ErrLegClosed
		}
		return ErrTransport
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return ErrLegClosed
	}
	return ErrTransport
}

// closeCodeFor picks the close code sent to the surviving leg.
func closeCodeFor(cause error) int {
	switch {
	case errors.Is(cause, ErrLegClosed):
		return websocket.CloseNormalClosure
	case errors.Is(cause, ErrRelayClosed):
		return websocket.CloseGoingAway
	case errors.Is(cause, ErrBackpressure):
		return websocket.CloseTryAgainLater
	default:
		return websocket.CloseInternalServerErr
	}
}
