package broker

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeConn records everything the broker sends, in order.
type fakeConn struct {
	ip       string
	att      *Attachment
	sent     [][]byte
	closed   bool
	failSend bool
}

func (c *fakeConn) Send(data []byte) error {
	if c.failSend {
		return errors.New("peer gone")
	}
	c.sent = append(c.sent, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Close()                      { c.closed = true }
func (c *fakeConn) Attachment() *Attachment     { return c.att }
func (c *fakeConn) SetAttachment(a *Attachment) { c.att = a }
func (c *fakeConn) RemoteIP() string            { return c.ip }

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestBroker(opts ...func(*Options)) (*Broker, *testClock) {
	clock := &testClock{now: time.Unix(1700000000, 0)}
	o := Options{
		Logger:      zap.NewNop(),
		Now:         clock.Now,
		ServerSlots: 4,
	}
	for _, fn := range opts {
		fn(&o)
	}
	return New(o), clock
}

func connect(t *testing.T, b *Broker, ip string) *fakeConn {
	t.Helper()
	c := &fakeConn{ip: ip}
	require.NoError(t, b.Connect(c))
	return c
}

func sid(c *fakeConn) string { return c.att.SessionID }

// sendCmd marshals parts as one JSON array frame and feeds it to the broker.
func sendCmd(t *testing.T, b *Broker, c *fakeConn, parts ...any) {
	t.Helper()
	data, err := json.Marshal(parts)
	require.NoError(t, err)
	b.HandleMessage(c, data)
}

func authenticate(t *testing.T, b *Broker, c *fakeConn, key string) {
	t.Helper()
	sendCmd(t, b, c, "server", "key", []any{key})
}

// decodeFrames parses every JSON frame sent so far; non-JSON frames (the
// literal heartbeat) come through as a single-element ["<raw>"].
func decodeFrames(c *fakeConn) [][]any {
	var out [][]any
	for _, raw := range c.sent {
		var f []any
		if err := json.Unmarshal(raw, &f); err != nil {
			f = []any{string(raw)}
		}
		out = append(out, f)
	}
	return out
}

// lastTagged returns the most recent frame whose first element is tag.
func lastTagged(c *fakeConn, tag string) []any {
	frames := decodeFrames(c)
	for i := len(frames) - 1; i >= 0; i-- {
		if len(frames[i]) > 0 && frames[i][0] == tag {
			return frames[i]
		}
	}
	return nil
}

func hasTagged(c *fakeConn, tag string) bool { return lastTagged(c, tag) != nil }

func TestConnectSendsRoomlistSnapshot(t *testing.T) {
	b, _ := newTestBroker()
	c := connect(t, b, "10.0.0.1")

	require.NotNil(t, c.att)
	assert.Regexp(t, `^\d+$`, c.att.SessionID)
	assert.False(t, c.att.Authenticated)

	snap := lastTagged(c, "roomlist")
	require.Len(t, snap, 5)
	assert.Empty(t, snap[1]) // no listable rooms yet (unowned slots hidden)
	assert.Equal(t, c.att.SessionID, snap[4])
}

func TestConnectFromBannedIPIsRefused(t *testing.T) {
	b, _ := newTestBroker()
	b.AddBan(BanKindIP, "10.0.0.9")

	c := &fakeConn{ip: "10.0.0.9"}
	err := b.Connect(c)
	require.ErrorIs(t, err, ErrBannedIP)
	assert.True(t, c.closed)
	assert.Empty(t, c.sent, "no snapshot may leak to a banned IP")
	assert.Equal(t, 0, b.SessionCount())
}

func TestAuthKeySetsAuthenticatedAndRewritesAttachment(t *testing.T) {
	b, _ := newTestBroker()
	c := connect(t, b, "10.0.0.1")

	authenticate(t, b, c, "K1")

	s := b.sessions[sid(c)]
	require.NotNil(t, s)
	assert.True(t, s.Authenticated)
	assert.Equal(t, "K1", s.AuthKey)
	assert.True(t, c.att.Authenticated)
	assert.Equal(t, "K1", c.att.AuthKey)
}

func TestBannedAuthKeyBansIPAndCuts(t *testing.T) {
	b, _ := newTestBroker()
	b.AddBan(BanKindKey, "BADKEY")
	c := connect(t, b, "10.0.0.2")
	c.sent = nil

	authenticate(t, b, c, "BADKEY")

	assert.True(t, c.closed)
	assert.Empty(t, c.sent, "banned actor gets no confirmation")
	assert.Contains(t, b.Bans().IPs, "10.0.0.2")
	assert.Equal(t, 0, b.SessionCount())
}

func TestRehydrationRebuildsSessionFromAttachment(t *testing.T) {
	b, _ := newTestBroker()
	c := connect(t, b, "10.0.0.3")
	authenticate(t, b, c, "K9")
	id := sid(c)

	// the broker's working memory is discarded between messages
	b.sessions = make(map[string]*Session)

	sendCmd(t, b, c, "server", "status", "back")

	s := b.sessions[id]
	require.NotNil(t, s, "session must be rebuilt under its old id")
	assert.True(t, s.Authenticated)
	assert.Equal(t, "K9", s.AuthKey)
	assert.Equal(t, "back", s.Status)
}

func TestRehydrationNeverResetsLiveSession(t *testing.T) {
	b, _ := newTestBroker()
	c := connect(t, b, "10.0.0.3")
	authenticate(t, b, c, "K9")
	sendCmd(t, b, c, "server", "changeAvatar", "Alice", "av1")

	sendCmd(t, b, c, "server", "status", "idle")

	s := b.sessions[sid(c)]
	require.NotNil(t, s)
	assert.Equal(t, "Alice", s.Nickname, "live session state survives resolve")
	assert.Equal(t, 1, b.SessionCount())
}

func TestMalformedEnvelopeGetsDeniedBanned(t *testing.T) {
	b, _ := newTestBroker()
	c := connect(t, b, "10.0.0.4")

	for _, raw := range []string{`{"not":"an array"}`, `["server"]`, `["other","create"]`, `garbage`} {
		c.sent = nil
		b.HandleMessage(c, []byte(raw))
		denied := lastTagged(c, "denied")
		require.NotNil(t, denied, "raw=%s", raw)
		assert.Equal(t, "banned", denied[1])
		assert.False(t, c.closed, "protocol violation keeps the connection open")
	}
}

func TestUnknownCommandIsIgnored(t *testing.T) {
	b, _ := newTestBroker()
	c := connect(t, b, "10.0.0.5")
	c.sent = nil

	sendCmd(t, b, c, "server", "fly", "x")

	assert.Empty(t, c.sent)
	assert.False(t, c.closed)
}

func TestSendFailureRunsDisconnectCleanup(t *testing.T) {
	b, _ := newTestBroker()
	c := connect(t, b, "10.0.0.6")
	other := connect(t, b, "10.0.0.7")

	c.failSend = true
	// any broadcast path will now hit the broken conn
	sendCmd(t, b, other, "server", "status", "hi")

	assert.True(t, c.closed)
	assert.Nil(t, b.sessions[sid(c)])
	assert.Equal(t, 1, b.SessionCount())
}

func TestDisconnectRemovesSessionAndNotifiesLobby(t *testing.T) {
	b, _ := newTestBroker()
	c := connect(t, b, "10.0.1.1")
	watcher := connect(t, b, "10.0.1.2")
	watcher.sent = nil

	b.Disconnect(c)

	assert.Nil(t, b.sessions[sid(c)])
	update := lastTagged(watcher, "updateclients")
	require.NotNil(t, update)
	assert.Len(t, update[1], 1)
}

func TestDisconnectWithoutLiveSessionIsNoop(t *testing.T) {
	b, _ := newTestBroker()
	c := connect(t, b, "10.0.1.3")
	b.Disconnect(c)
	b.Disconnect(c) // second pass must not rehydrate just to tear down
	assert.Equal(t, 0, b.SessionCount())
}

func TestShutdownClosesEverything(t *testing.T) {
	b, _ := newTestBroker()
	c1 := connect(t, b, "10.0.1.4")
	c2 := connect(t, b, "10.0.1.5")

	b.Shutdown()

	assert.True(t, c1.closed)
	assert.True(t, c2.closed)
	assert.Equal(t, 0, b.SessionCount())
}
