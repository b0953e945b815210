package connection

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Socket is one duplex streaming channel. Any WebSocket-compatible
// transport satisfies this.
type Socket interface {
	// ReadMessage blocks until the next message or a transport error.
	ReadMessage() ([]byte, error)

	// WriteMessage writes one message.
	WriteMessage(data []byte) error

	// Close tears the channel down. Safe to call more than once.
	Close() error
}

// Dialer opens Sockets to an endpoint.
type Dialer interface {
	Dial(ctx context.Context, url string) (Socket, error)
}

// wsDialer is the production Dialer backed by gorilla/websocket.
type wsDialer struct {
	writeTimeout time.Duration
}

func newWSDialer(writeTimeout time.Duration) *wsDialer {
	return &wsDialer{writeTimeout: writeTimeout}
}

func (d *wsDialer) Dial(ctx context.Context, url string) (Socket, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	return &wsSocket{conn: conn, writeTimeout: d.writeTimeout}, nil
}

// wsSocket wraps a gorilla connection. Writes are serialized; gorilla
// permits one concurrent reader and one concurrent writer.
type wsSocket struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	writeMu sync.Mutex

	closeMu sync.Mutex
	closed  bool
}

func (s *wsSocket) ReadMessage() ([]byte, error) {
	_, data, err := s.conn.ReadMessage()
	return data, err
}

func (s *wsSocket) WriteMessage(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *wsSocket) Close() error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	s.writeMu.Lock()
	s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	s.writeMu.Unlock()

	return s.conn.Close()
}
