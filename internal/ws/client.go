package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"lobbybroker/internal/broker"
)

// clientConn adapts one gorilla connection to broker.Conn. Writes are
// serialized under a mutex with a deadline so a stalled peer surfaces as a
// send error instead of blocking the broker.
type clientConn struct {
	rawConn *websocket.Conn
	ip      string

	mu  sync.Mutex
	att *broker.Attachment
}

func (c *clientConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_ = c.rawConn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.rawConn.WriteMessage(websocket.TextMessage, data)
}

func (c *clientConn) Close() {
	_ = c.rawConn.Close()
}

// Attachment and SetAttachment pin the broker's durable session identity to
// the connection handle itself.
func (c *clientConn) Attachment() *broker.Attachment {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.att
}

func (c *clientConn) SetAttachment(att *broker.Attachment) {
	c.mu.Lock()
	c.att = att
	c.mu.Unlock()
}

func (c *clientConn) RemoteIP() string { return c.ip }
