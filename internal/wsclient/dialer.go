package wsclient

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is one established connection as the client sees it.
type Conn interface {
	Read() ([]byte, error)
	Write(data []byte) error
	Close() error
}

// Dialer opens connections. GorillaDialer is the production implementation;
// tests substitute their own.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

type GorillaDialer struct {
	Header           http.Header
	HandshakeTimeout time.Duration
}

func (d GorillaDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}
	if dialer.HandshakeTimeout == 0 {
		dialer.HandshakeTimeout = 10 * time.Second
	}
	ws, _, err := dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		return nil, err
	}
	return &gorillaConn{ws: ws}, nil
}

type gorillaConn struct {
	ws *websocket.Conn
}

func (c *gorillaConn) Read() ([]byte, error) {
	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		if msgType == websocket.TextMessage {
			return data, nil
		}
	}
}

func (c *gorillaConn) Write(data []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *gorillaConn) Close() error {
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.ws.Close()
}
