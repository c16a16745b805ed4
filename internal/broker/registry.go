package broker

import "go.uber.org/zap"

// resolve maps an inbound event to its session, rebuilding a minimal session
// from the connection attachment if the in-memory registry lost it since the
// last message. Rehydration is reconstruct-if-absent only: a live session is
// never duplicated or reset.
func (b *Broker) resolve(conn Conn) *Session {
	att := conn.Attachment()
	if att == nil {
		return nil
	}
	s, ok := b.sessions[att.SessionID]
	if !ok {
		s = &Session{
			ID:             att.SessionID,
			IP:             att.IP,
			Nickname:       defaultNickname,
			AuthKey:        att.AuthKey,
			Authenticated:  att.Authenticated,
			ConnectedAt:    att.ConnectedAt,
			LastActivityAt: b.now(),
		}
		b.sessions[s.ID] = s
		b.log.Debug("broker.rehydrate", zap.String("session", s.ID))
	}
	s.conn = conn
	return s
}

// touchActivity records liveness: any inbound traffic counts, a dedicated
// heartbeat reply is not required.
func (b *Broker) touchActivity(s *Session) {
	s.LastActivityAt = b.now()
	s.AwaitingPong = false
}

// removeSession detaches a session from all broker state: rooms it owns are
// torn down, its relay owner (if any) is told the guest is gone, and the
// lobby is re-announced.
func (b *Broker) removeSession(s *Session) {
	delete(b.sessions, s.ID)
	wasInRoom := s.RoomKey != ""

	b.cleanupOwnedRooms(s)

	// Sessions relayed through the departing one re-resolve to nothing.
	for _, other := range b.sessions {
		if other.OwnerID == s.ID {
			other.OwnerID = ""
		}
	}

	if s.OwnerID != "" {
		if owner, ok := b.sessions[s.OwnerID]; ok {
			b.send(owner, []any{"onclose", s.ID})
		}
	}

	if wasInRoom {
		b.broadcastRooms()
	} else {
		b.broadcastClients()
	}
	b.log.Debug("broker.disconnect", zap.String("session", s.ID))
}
