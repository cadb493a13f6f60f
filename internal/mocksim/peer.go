package mocksim

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/landingbay/rlbridge/internal/protocol"
)

// Peer is one accepted backend connection.
type Peer struct {
	Token string

	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
}

// Send encodes and writes f.
func (p *Peer) Send(f protocol.Frame) error {
	data, err := protocol.Encode(f)
	if err != nil {
		return err
	}
	return p.SendRaw(data)
}

// SendRaw writes data as a text frame without inspecting it.
func (p *Peer) SendRaw(data []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

// Read returns the next frame payload exactly as received.
func (p *Peer) Read() ([]byte, error) {
	_, data, err := p.conn.ReadMessage()
	return data, err
}

// ReadFrame reads and decodes the next frame.
func (p *Peer) ReadFrame() (protocol.Frame, error) {
	data, err := p.Read()
	if err != nil {
		return nil, err
	}
	return protocol.Decode(data)
}

// Close performs a normal close handshake and drops the connection.
func (p *Peer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = p.conn.Close()
	})
	return err
}

// Drop closes the TCP connection without a close frame.
func (p *Peer) Drop() error {
	var err error
	p.closeOnce.Do(func() {
		err = p.conn.UnderlyingConn().Close()
	})
	return err
}
