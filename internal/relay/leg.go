package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Leg is one side of a relayed session. Reads happen on the caller's
// goroutine; writes go through a bounded queue drained by a single
// writer so frames leave in the order they were enqueued.
type Leg struct {
	name       string
	conn       *websocket.Conn
	send       chan []byte
	writeWait  time.Duration
	pingPeriod time.Duration

	// pending holds a frame dequeued after cancellation, for flush.
	pending []byte

	closeOnce sync.Once
}

// newLeg wraps conn. A pingPeriod of zero disables keepalive pings.
func newLeg(name string, conn *websocket.Conn, queueSize int, writeWait, pingPeriod time.Duration) *Leg {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Leg{
		name:       name,
		conn:       conn,
		send:       make(chan []byte, queueSize),
		writeWait:  writeWait,
		pingPeriod: pingPeriod,
	}
}

// configureKeepalive applies the read limit and pong-driven read deadline.
func (l *Leg) configureKeepalive(maxMessageSize int64, pongWait time.Duration) {
	if maxMessageSize > 0 {
		l.conn.SetReadLimit(maxMessageSize)
	}
	if pongWait <= 0 {
		return
	}
	l.conn.SetReadDeadline(time.Now().Add(pongWait))
	l.conn.SetPongHandler(func(string) error {
		return l.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

// Enqueue schedules a text frame for delivery. It never blocks; a full
// queue yields ErrBackpressure.
func (l *Leg) Enqueue(data []byte) error {
	select {
	case l.send <- data:
		return nil
	default:
		return fmt.Errorf("%s leg: %w", l.name, ErrBackpressure)
	}
}

// ReadFrame blocks for the next data frame. Binary frames are returned as
// is and forwarded as text.
func (l *Leg) ReadFrame() ([]byte, error) {
	_, data, err := l.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("%s leg: %w: %v", l.name, classifyReadError(err), err)
	}
	return data, nil
}

// writePump drains the send queue until ctx is done or a write fails.
// Nothing is written once ctx is done.
func (l *Leg) writePump(ctx context.Context) error {
	var tick <-chan time.Time
	if l.pingPeriod > 0 {
		ticker := time.NewTicker(l.pingPeriod)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case message := <-l.send:
			if ctx.Err() != nil {
				l.pending = message
				return nil
			}
			l.conn.SetWriteDeadline(time.Now().Add(l.writeWait))
			if err := l.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return fmt.Errorf("%s leg: %w: %v", l.name, ErrTransport, err)
			}
		case <-tick:
			l.conn.SetWriteDeadline(time.Now().Add(l.writeWait))
			if err := l.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return fmt.Errorf("%s leg ping: %w: %v", l.name, ErrTransport, err)
			}
		}
	}
}

// flush writes whatever is still queued. Only call it after writePump has
// returned.
func (l *Leg) flush() {
	if l.pending != nil {
		l.conn.SetWriteDeadline(time.Now().Add(l.writeWait))
		if err := l.conn.WriteMessage(websocket.TextMessage, l.pending); err != nil {
			return
		}
		l.pending = nil
	}
	for {
		select {
		case message := <-l.send:
			l.conn.SetWriteDeadline(time.Now().Add(l.writeWait))
			if err := l.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		default:
			return
		}
	}
}

// Close sends a close frame with code and closes the connection.
// Safe to call more than once and concurrently with the pumps.
func (l *Leg) Close(code int) {
	l.closeOnce.Do(func() {
		deadline := time.Now().Add(l.writeWait)
		l.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, ""), deadline)
		l.conn.Close()
	})
}

// closeSilently closes conn with a close frame carrying no payload.
func closeSilently(conn *websocket.Conn, writeWait time.Duration) {
	conn.WriteControl(websocket.CloseMessage, []byte{}, time.Now().Add(writeWait))
	conn.Close()
}
