package broker

import (
	"time"

	"go.uber.org/zap"
)

// sweepLocked runs one liveness pass over every tracked session. Two checks:
//
//  1. Auth timeout: a session still unauthenticated past the grace window is
//     denied and cut. Authentication flips the flag synchronously on the
//     inbound path, so a sweep racing a fresh key command sees it set.
//  2. Heartbeat: past the idle window, the first pass sends a probe; a
//     session whose previous probe went unanswered is cut. Any inbound
//     traffic counts as the answer, not just a heartbeat reply.
func (b *Broker) sweepLocked(now time.Time) {
	for _, s := range b.sessionList() {
		if _, live := b.sessions[s.ID]; !live {
			continue
		}

		if !s.Authenticated && now.Sub(s.ConnectedAt) > b.authGrace {
			b.send(s, []any{"denied", "key"})
			b.log.Debug("broker.auth_timeout", zap.String("session", s.ID))
			b.dropSession(s)
			continue
		}

		if now.Sub(s.LastActivityAt) > b.idleWindow {
			if s.AwaitingPong {
				b.log.Debug("broker.heartbeat_timeout", zap.String("session", s.ID))
				b.dropSession(s)
				continue
			}
			s.AwaitingPong = true
			b.sendRaw(s, []byte(heartbeatFrame))
		}
	}
}
