package broker

import "time"

// Attachment is the minimal identity pinned to the connection handle itself.
// The broker's in-memory session table can be dropped and rebuilt at any point
// between messages; the attachment is the only durable anchor, so it is read
// on every inbound event and rewritten whenever authentication state changes.
type Attachment struct {
	SessionID     string
	IP            string
	ConnectedAt   time.Time
	Authenticated bool
	AuthKey       string
}

// Conn is what the broker needs from a transport-level connection. The
// websocket upgrade, IP extraction and frame framing all live behind it.
type Conn interface {
	// Send writes one text frame, best effort. A non-nil error is treated
	// as "peer is gone" and routed through the disconnect cleanup path.
	Send(data []byte) error
	Close()
	Attachment() *Attachment
	SetAttachment(att *Attachment)
	RemoteIP() string
}
