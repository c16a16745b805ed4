package broker

import (
	"encoding/json"
	"sort"
	"strconv"
)

// Room is a matchmaking unit with one owner and zero or more guests. Guests
// reference it by key only.
type Room struct {
	Key              string
	OwnerID          string
	Config           json.RawMessage
	ServerMode       bool
	PendingHandoffID string
	Slot             bool // provisioned servermode slot, survives owner loss
}

// roomConfig is the small window the broker peeks through into an otherwise
// opaque config blob, to decide whether a started game is still joinable.
type roomConfig struct {
	Started      bool `json:"started"`
	Observe      bool `json:"observe"`
	ObserveReady bool `json:"observeReady"`
}

// provisionSlots creates the fixed set of unowned servermode slots, keyed by
// decimal index. A room with no owner is never listed to lobby clients.
func (b *Broker) provisionSlots(n int) {
	for i := 0; i < n; i++ {
		r := &Room{Key: strconv.Itoa(i), Slot: true}
		b.rooms[r.Key] = r
		b.slots = append(b.slots, r)
	}
}

// cleanupOwnedRooms tears down every room the departing session owns: guests
// get selfclose and are detached, slot rooms return to the unowned pool,
// ad-hoc rooms are deleted. A pending handoff naming the session is left in
// place; it re-resolves to "target gone" when the owner publishes its config.
func (b *Broker) cleanupOwnedRooms(s *Session) {
	for key, room := range b.rooms {
		if room.OwnerID != s.ID {
			continue
		}
		for _, other := range b.sessions {
			if other.RoomKey != room.Key {
				continue
			}
			other.RoomKey = ""
			if other.OwnerID == s.ID {
				other.OwnerID = ""
			}
			other.ServerMode = false
			b.send(other, []any{"selfclose"})
		}
		if room.Slot {
			room.OwnerID = ""
			room.Config = nil
			room.ServerMode = false
			room.PendingHandoffID = ""
		} else {
			delete(b.rooms, key)
		}
	}
}

// ─────────────────────────────── commands ──────────────────────────────────

// cmdCreate allocates a room owned by the caller. The key must literally
// equal the caller's validated auth key, which ties room creation to a
// previously authenticated identity; anything else is dropped as noise.
func (b *Broker) cmdCreate(s *Session, args []json.RawMessage) {
	if len(args) < 3 {
		return
	}
	var key, nickname, avatar string
	if json.Unmarshal(args[0], &key) != nil || key == "" {
		return
	}
	if s.AuthKey == "" || s.AuthKey != key {
		return
	}
	if existing, ok := b.rooms[key]; ok && existing.OwnerID != "" {
		return
	}
	_ = json.Unmarshal(args[1], &nickname)
	_ = json.Unmarshal(args[2], &avatar)

	room := b.rooms[key]
	if room == nil {
		room = &Room{Key: key}
		b.rooms[key] = room
	}
	room.OwnerID = s.ID
	room.ServerMode = false
	room.PendingHandoffID = ""
	room.Config = nil
	if len(args) >= 4 && !rawIsNull(args[3]) {
		room.Config = cloneRaw(args[3])
	}

	s.Nickname = sanitizeNickname(nickname, b.nicknameMax)
	s.Avatar = avatar
	s.Status = ""
	s.RoomKey = key

	b.send(s, []any{"createroom", key})
	b.broadcastRooms()
}

// cmdEnter joins an existing room, either as a plain guest relayed through
// the owner or, against an unclaimed servermode slot, as the claim request
// that starts an ownership handoff.
func (b *Broker) cmdEnter(s *Session, args []json.RawMessage) {
	if len(args) < 3 {
		return
	}
	var key, nickname, avatar string
	_ = json.Unmarshal(args[0], &key)
	_ = json.Unmarshal(args[1], &nickname)
	_ = json.Unmarshal(args[2], &avatar)

	room := b.rooms[key]
	if room == nil || room.OwnerID == "" {
		b.send(s, []any{"enterroomfailed"})
		return
	}
	owner, ok := b.sessions[room.OwnerID]
	if !ok {
		b.send(s, []any{"enterroomfailed"})
		return
	}
	// a session never relays through itself
	if owner == s {
		b.send(s, []any{"enterroomfailed"})
		return
	}

	var cfg, mode json.RawMessage
	if len(args) >= 4 && !rawIsNull(args[3]) {
		cfg = args[3]
	}
	if len(args) >= 5 && !rawIsNull(args[4]) {
		mode = args[4]
	}

	// Claim of a generic relay host: the slot owner is handed the caller's
	// config and identity, and the handoff completes when the owner
	// publishes its config.
	if room.ServerMode && room.PendingHandoffID == "" && cfg != nil && mode != nil {
		s.Nickname = sanitizeNickname(nickname, b.nicknameMax)
		s.Avatar = avatar
		room.PendingHandoffID = s.ID
		owner.Nickname = s.Nickname
		owner.Avatar = s.Avatar
		b.send(owner, []any{"createroom", key, cfg, mode})
		b.broadcastRooms()
		return
	}

	if room.Config == nil || !roomJoinable(room.Config) {
		b.send(s, []any{"enterroomfailed"})
		return
	}

	s.Nickname = sanitizeNickname(nickname, b.nicknameMax)
	s.Avatar = avatar
	s.RoomKey = key
	s.OwnerID = owner.ID
	b.send(owner, []any{"onconnection", s.ID})
	b.send(s, []any{"onconnection", s.ID})
	b.broadcastRooms()
}

// roomJoinable allows entry unless the config marks the game started without
// observation being both enabled and ready. Configs that don't carry these
// fields parse to the zero value and stay joinable.
func roomJoinable(cfg json.RawMessage) bool {
	var rc roomConfig
	if err := json.Unmarshal(cfg, &rc); err != nil {
		return true
	}
	if !rc.Started {
		return true
	}
	return rc.Observe && rc.ObserveReady
}

// cmdServer claims a servermode relay slot. With an argument of
// [slotIndex, nickname, avatar] a specific slot is claimed; without one the
// first unowned room is taken anonymously.
func (b *Broker) cmdServer(s *Session, args []json.RawMessage) {
	if len(args) >= 1 && !rawIsNull(args[0]) {
		var claim []json.RawMessage
		if json.Unmarshal(args[0], &claim) != nil || len(claim) < 3 {
			return
		}
		var idx int
		var nickname, avatar string
		if json.Unmarshal(claim[0], &idx) != nil {
			return
		}
		_ = json.Unmarshal(claim[1], &nickname)
		_ = json.Unmarshal(claim[2], &avatar)

		room := b.rooms[strconv.Itoa(idx)]
		if room == nil || room.OwnerID != "" {
			b.send(s, []any{"reloadroom", true})
			return
		}
		s.Nickname = sanitizeNickname(nickname, b.nicknameMax)
		s.Avatar = avatar
		b.claimServerRoom(s, room)
		return
	}

	for _, room := range b.slots {
		if room.OwnerID == "" {
			b.claimServerRoom(s, room)
			return
		}
	}
}

func (b *Broker) claimServerRoom(s *Session, room *Room) {
	room.OwnerID = s.ID
	room.ServerMode = true
	room.Config = nil
	room.PendingHandoffID = ""
	s.ServerMode = true
	s.RoomKey = room.Key
	b.broadcastRooms()
}

// cmdConfig publishes the room config. Only the current owner is heard. If a
// handoff is pending, publishing the config finalizes it: the claiming guest
// is wired through this owner and the slot leaves servermode.
func (b *Broker) cmdConfig(s *Session, args []json.RawMessage) {
	if len(args) < 1 {
		return
	}
	room := b.rooms[s.RoomKey]
	if room == nil || room.OwnerID != s.ID {
		return
	}

	if room.ServerMode && room.PendingHandoffID != "" {
		if target, ok := b.sessions[room.PendingHandoffID]; ok {
			target.OwnerID = s.ID
			target.RoomKey = room.Key
			b.send(s, []any{"onconnection", target.ID})
			b.send(target, []any{"onconnection", target.ID})
		}
		room.PendingHandoffID = ""
		room.ServerMode = false
	}

	room.Config = cloneRaw(args[0])
	b.broadcastRooms()
}

// ─────────────────────────────── snapshots ─────────────────────────────────

// buildRooms computes the lobby view of the directory. An unclaimed-handoff
// servermode room is listed as the bare marker "server"; any other room is
// listed only with both an owner and a published config. Returned alongside
// is the set of owners whose listed room has zero live members, so broadcast
// paths can nudge them with a reloadroom hint (the snapshot itself is pure).
func (b *Broker) buildRooms() ([]any, []*Session) {
	rooms := make([]any, 0, len(b.rooms))
	var stale []*Session

	appendRoom := func(room *Room) {
		if room.OwnerID == "" {
			return
		}
		if room.ServerMode && room.PendingHandoffID == "" {
			rooms = append(rooms, "server")
			return
		}
		owner, ok := b.sessions[room.OwnerID]
		if !ok || room.Config == nil {
			return
		}
		members := 0
		for _, s := range b.sessions {
			if s.RoomKey == room.Key && !s.ServerMode {
				members++
			}
		}
		if members == 0 {
			stale = append(stale, owner)
		}
		rooms = append(rooms, []any{owner.Nickname, owner.Avatar, room.Config, members, room.Key})
	}

	seen := make(map[string]bool, len(b.slots))
	for _, room := range b.slots {
		appendRoom(room)
		seen[room.Key] = true
	}
	for _, key := range b.roomKeysSorted() {
		if !seen[key] {
			appendRoom(b.rooms[key])
		}
	}
	return rooms, stale
}

func (b *Broker) roomKeysSorted() []string {
	keys := make([]string, 0, len(b.rooms))
	for k := range b.rooms {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
