package broker

import "sort"

// Lobby fan-out: room/client/event snapshots are pushed only to sessions that
// are not currently inside a room.

// buildClients lists the lobby roster as [nickname, avatar, status] triples,
// in a stable order.
func (b *Broker) buildClients() []any {
	ids := make([]string, 0, len(b.sessions))
	for id, s := range b.sessions {
		if s.RoomKey == "" {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	clients := make([]any, 0, len(ids))
	for _, id := range ids {
		s := b.sessions[id]
		clients = append(clients, []any{s.Nickname, s.Avatar, s.Status})
	}
	return clients
}

func (b *Broker) lobbySessions() []*Session {
	out := make([]*Session, 0, len(b.sessions))
	for _, s := range b.sessions {
		if s.RoomKey == "" {
			out = append(out, s)
		}
	}
	return out
}

// broadcastRooms pushes ["updaterooms", rooms, clients] to the lobby and
// nudges owners of listed-but-empty rooms with a reloadroom hint.
func (b *Broker) broadcastRooms() {
	rooms, stale := b.buildRooms()
	clients := b.buildClients()
	payload := []any{"updaterooms", rooms, clients}
	for _, s := range b.lobbySessions() {
		b.send(s, payload)
	}
	b.nudgeStaleOwners(stale)
}

// nudgeStaleOwners runs on every path that computes the room list, so an
// empty listed room pings its owner no matter what triggered the snapshot.
func (b *Broker) nudgeStaleOwners(stale []*Session) {
	for _, owner := range stale {
		b.send(owner, []any{"reloadroom"})
	}
}

func (b *Broker) broadcastClients() {
	payload := []any{"updateclients", b.buildClients()}
	for _, s := range b.lobbySessions() {
		b.send(s, payload)
	}
}

func (b *Broker) broadcastEvents() {
	payload := []any{"updateevents", b.buildEvents(b.now())}
	for _, s := range b.lobbySessions() {
		b.send(s, payload)
	}
}
