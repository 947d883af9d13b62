package connection

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

// Socket is the subset of a websocket connection the manager needs.
// Production code uses gorilla connections; tests substitute fakes.
type Socket interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// Dialer opens a websocket to the given URL.
type Dialer interface {
	Dial(ctx context.Context, url string) (Socket, error)
}

type gorillaDialer struct {
	handshakeTimeout time.Duration
}

// NewDialer returns a Dialer backed by gorilla/websocket.
func NewDialer(handshakeTimeout time.Duration) Dialer {
	return &gorillaDialer{handshakeTimeout: handshakeTimeout}
}

func (d *gorillaDialer) Dial(ctx context.Context, url string) (Socket, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: d.handshakeTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
