package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func joinAsGuest(t *testing.T, b *Broker) (*fakeConn, *fakeConn) {
	t.Helper()
	owner := connect(t, b, "10.4.0.1")
	guest := connect(t, b, "10.4.0.2")
	createRoom(t, b, owner, "K1", "Alice", "av1")
	sendCmd(t, b, guest, "server", "enter", "K1", "Bob", "av2")
	owner.sent = nil
	guest.sent = nil
	return owner, guest
}

func TestGuestTrafficForwardedVerbatim(t *testing.T) {
	b, _ := newTestBroker()
	owner, guest := joinAsGuest(t, b)

	raw := `{"throw":[20,19,3],"turn":7}`
	b.HandleMessage(guest, []byte(raw))

	fwd := lastTagged(owner, "onmessage")
	require.NotNil(t, fwd)
	assert.Equal(t, sid(guest), fwd[1])
	assert.Equal(t, raw, fwd[2], "payload carried as an opaque string, unparsed")
	assert.Empty(t, guest.sent, "guest frames are never answered by the broker")
}

func TestGuestTrafficToVanishedOwnerIsDropped(t *testing.T) {
	b, _ := newTestBroker()
	_, guest := joinAsGuest(t, b)
	b.sessions[sid(guest)].OwnerID = "4242424242" // stale reference

	b.HandleMessage(guest, []byte(`anything at all`))

	assert.Empty(t, guest.sent)
	assert.False(t, guest.closed, "stale relay target degrades to a no-op")
}

func TestOwnerSendPushesRawPayloadToGuest(t *testing.T) {
	b, _ := newTestBroker()
	owner, guest := joinAsGuest(t, b)

	sendCmd(t, b, owner, "server", "send", sid(guest), map[string]any{"deal": 3})

	require.Len(t, guest.sent, 1)
	assert.JSONEq(t, `{"deal":3}`, string(guest.sent[0]))
}

func TestSendToForeignSessionIsIgnored(t *testing.T) {
	b, _ := newTestBroker()
	_, guest := joinAsGuest(t, b)
	stranger := connect(t, b, "10.4.0.3")
	authenticate(t, b, stranger, "K9")
	guest.sent = nil

	sendCmd(t, b, stranger, "server", "send", sid(guest), map[string]any{"deal": 3})

	assert.Empty(t, guest.sent, "only the recorded relay owner may push to a guest")
}

func TestOwnerCloseCutsGuest(t *testing.T) {
	b, _ := newTestBroker()
	owner, guest := joinAsGuest(t, b)

	sendCmd(t, b, owner, "server", "close", sid(guest))

	assert.True(t, guest.closed)
	assert.Nil(t, b.sessions[sid(guest)])
	closed := lastTagged(owner, "onclose")
	require.NotNil(t, closed)
	assert.Equal(t, sid(guest), closed[1])
}

func TestCloseFromNonOwnerIsIgnored(t *testing.T) {
	b, _ := newTestBroker()
	_, guest := joinAsGuest(t, b)
	stranger := connect(t, b, "10.4.0.4")
	authenticate(t, b, stranger, "K9")

	sendCmd(t, b, stranger, "server", "close", sid(guest))

	assert.False(t, guest.closed)
	assert.NotNil(t, b.sessions[sid(guest)])
}

func TestChangeAvatarUpdatesLobbyRoster(t *testing.T) {
	b, _ := newTestBroker()
	c := connect(t, b, "10.4.0.5")
	watcher := connect(t, b, "10.4.0.6")
	watcher.sent = nil

	sendCmd(t, b, c, "server", "changeAvatar", "Zoe", "av7")

	assert.Equal(t, "Zoe", b.sessions[sid(c)].Nickname)
	update := lastTagged(watcher, "updateclients")
	require.NotNil(t, update)
	roster := update[1].([]any)
	assert.Len(t, roster, 2)
}

func TestNicknameSanitized(t *testing.T) {
	b, _ := newTestBroker()
	c := connect(t, b, "10.4.0.7")

	sendCmd(t, b, c, "server", "changeAvatar", "  a very long nickname indeed\n", "av")
	assert.Equal(t, "a very long", b.sessions[sid(c)].Nickname, "no trailing space after the cut")

	sendCmd(t, b, c, "server", "changeAvatar", "\t\n ", "av")
	assert.Equal(t, defaultNickname, b.sessions[sid(c)].Nickname)
}

func TestStatusBroadcastsClients(t *testing.T) {
	b, _ := newTestBroker()
	c := connect(t, b, "10.4.0.8")
	watcher := connect(t, b, "10.4.0.9")
	watcher.sent = nil

	sendCmd(t, b, c, "server", "status", "looking for 501")

	assert.Equal(t, "looking for 501", b.sessions[sid(c)].Status)
	assert.True(t, hasTagged(watcher, "updateclients"))
}

func TestRoomMembersDoNotGetLobbyBroadcasts(t *testing.T) {
	b, _ := newTestBroker()
	owner, guest := joinAsGuest(t, b)
	lobbyist := connect(t, b, "10.4.1.0")
	owner.sent = nil
	guest.sent = nil
	lobbyist.sent = nil

	other := connect(t, b, "10.4.1.1")
	sendCmd(t, b, other, "server", "status", "hi")

	assert.True(t, hasTagged(lobbyist, "updateclients"))
	assert.False(t, hasTagged(owner, "updateclients"), "in-room sessions are outside the lobby fan-out")
	assert.Empty(t, guest.sent)
}
