package broker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepDeniesUnauthenticatedAfterGrace(t *testing.T) {
	b, clock := newTestBroker()
	c := connect(t, b, "10.1.0.1")
	c.sent = nil

	clock.Advance(1900 * time.Millisecond)
	b.Sweep()
	assert.False(t, c.closed, "still inside the grace window")

	clock.Advance(200 * time.Millisecond)
	b.Sweep()

	denied := lastTagged(c, "denied")
	require.NotNil(t, denied)
	assert.Equal(t, "key", denied[1])
	assert.True(t, c.closed)
	assert.Equal(t, 0, b.SessionCount())
}

func TestSweepSparesAuthenticatedSession(t *testing.T) {
	b, clock := newTestBroker()
	c := connect(t, b, "10.1.0.2")
	authenticate(t, b, c, "K1")
	c.sent = nil

	clock.Advance(10 * time.Second)
	b.Sweep()

	assert.False(t, c.closed)
	assert.False(t, hasTagged(c, "denied"))
}

func TestHeartbeatProbeThenCloseOnSecondMiss(t *testing.T) {
	b, clock := newTestBroker()
	c := connect(t, b, "10.1.0.3")
	authenticate(t, b, c, "K1")
	c.sent = nil

	clock.Advance(61 * time.Second)
	b.Sweep()
	require.Len(t, c.sent, 1)
	assert.Equal(t, "heartbeat", string(c.sent[0]))
	assert.False(t, c.closed, "first miss only probes")

	// still silent; the next sweep finds the probe unanswered
	clock.Advance(10 * time.Second)
	b.Sweep()
	assert.True(t, c.closed)
	assert.Equal(t, 0, b.SessionCount())
}

func TestAnyInboundTrafficCountsAsHeartbeatAnswer(t *testing.T) {
	b, clock := newTestBroker()
	c := connect(t, b, "10.1.0.4")
	authenticate(t, b, c, "K1")

	clock.Advance(61 * time.Second)
	b.Sweep()
	require.True(t, b.sessions[sid(c)].AwaitingPong)

	// an ordinary command, not a heartbeat reply
	sendCmd(t, b, c, "server", "status", "busy")
	assert.False(t, b.sessions[sid(c)].AwaitingPong)

	clock.Advance(10 * time.Second)
	b.Sweep()
	assert.False(t, c.closed, "activity reset the idle window")
}

func TestHeartbeatReplyBypassesCommandParsing(t *testing.T) {
	b, clock := newTestBroker()
	c := connect(t, b, "10.1.0.5")
	authenticate(t, b, c, "K1")

	clock.Advance(61 * time.Second)
	b.Sweep()
	c.sent = nil

	b.HandleMessage(c, []byte("heartbeat"))

	assert.Empty(t, c.sent, "no denied reply for the literal heartbeat frame")
	assert.False(t, b.sessions[sid(c)].AwaitingPong)
}

func TestExactlyOneProbePerIdleWindow(t *testing.T) {
	b, clock := newTestBroker()
	c := connect(t, b, "10.1.0.6")
	authenticate(t, b, c, "K1")
	c.sent = nil

	clock.Advance(61 * time.Second)
	b.Sweep()
	b.HandleMessage(c, []byte("heartbeat"))
	c.sent = nil

	// answered: a fresh idle window must elapse before the next probe
	clock.Advance(30 * time.Second)
	b.Sweep()
	assert.Empty(t, c.sent)

	clock.Advance(31 * time.Second)
	b.Sweep()
	require.Len(t, c.sent, 1)
	assert.Equal(t, "heartbeat", string(c.sent[0]))
}

func TestSweepReportsWhetherToRearm(t *testing.T) {
	b, _ := newTestBroker()
	assert.False(t, b.Sweep(), "idle broker stops scheduling wakeups")

	c := connect(t, b, "10.1.0.7")
	authenticate(t, b, c, "K1")
	assert.True(t, b.Sweep())

	b.Disconnect(c)
	assert.False(t, b.Sweep())
}

func TestSweepSendFailureIsTreatedAsDisconnect(t *testing.T) {
	b, clock := newTestBroker()
	c := connect(t, b, "10.1.0.8")
	authenticate(t, b, c, "K1")

	c.failSend = true
	clock.Advance(61 * time.Second)
	b.Sweep()

	assert.True(t, c.closed)
	assert.Equal(t, 0, b.SessionCount())
}
