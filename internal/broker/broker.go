package broker

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var ErrBannedIP = errors.New("connection from banned ip")

// BanSink receives ban-list mutations for persistence outside the broker
// (the in-memory BanList stays authoritative). Implementations must not block.
type BanSink interface {
	SaveBan(kind, value string)
	DropBan(kind, value string)
}

// EventArchiver receives every accepted bulletin-board event, best effort.
type EventArchiver interface {
	Archive(e ArchivedEvent)
}

// Options tunes a Broker. Zero values fall back to the protocol defaults.
type Options struct {
	AuthGrace   time.Duration // window to authenticate before denial, default 2s
	IdleWindow  time.Duration // inactivity before a heartbeat probe, default 60s
	ServerSlots int           // pre-provisioned servermode room slots, default 8
	MaxEvents   int           // live bulletin-board event cap, default 20
	NicknameMax int           // nickname rune limit, default 12

	Bans    *BanList
	BanSink BanSink
	Archive EventArchiver
	Logger  *zap.Logger

	// Now and NewSessionID exist for tests.
	Now          func() time.Time
	NewSessionID func() string
}

// Broker is one lobby instance: the connection registry, room directory,
// event board and ban list, mutated only under a single coarse mutex so every
// inbound event (message, connect, disconnect, sweep) is handled strictly
// sequentially.
type Broker struct {
	mu sync.Mutex

	sessions map[string]*Session
	rooms    map[string]*Room
	slots    []*Room // provisioned servermode slots, index order
	events   []*Event
	bans     *BanList

	authGrace   time.Duration
	idleWindow  time.Duration
	maxEvents   int
	nicknameMax int

	banSink BanSink
	archive EventArchiver
	log     *zap.Logger

	now   func() time.Time
	newID func() string

	// sessions whose conn errored mid-handler; reaped before the lock is
	// released so send failures never unwind a handler
	dead []*Session
}

func New(opts Options) *Broker {
	if opts.AuthGrace <= 0 {
		opts.AuthGrace = 2 * time.Second
	}
	if opts.IdleWindow <= 0 {
		opts.IdleWindow = 60 * time.Second
	}
	if opts.ServerSlots <= 0 {
		opts.ServerSlots = 8
	}
	if opts.MaxEvents <= 0 {
		opts.MaxEvents = 20
	}
	if opts.NicknameMax <= 0 {
		opts.NicknameMax = 12
	}
	if opts.Bans == nil {
		opts.Bans = NewBanList()
	}
	if opts.Logger == nil {
		opts.Logger = zap.L()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewSessionID == nil {
		opts.NewSessionID = newSessionID
	}

	b := &Broker{
		sessions:    make(map[string]*Session),
		rooms:       make(map[string]*Room),
		bans:        opts.Bans,
		authGrace:   opts.AuthGrace,
		idleWindow:  opts.IdleWindow,
		maxEvents:   opts.MaxEvents,
		nicknameMax: opts.NicknameMax,
		banSink:     opts.BanSink,
		archive:     opts.Archive,
		log:         opts.Logger,
		now:         opts.Now,
		newID:       opts.NewSessionID,
	}
	b.provisionSlots(opts.ServerSlots)
	return b
}

// Connect registers a fresh connection. A banned source IP is cut before any
// state leaks to it; otherwise a session is allocated, its identity pinned to
// the connection handle, and the lobby snapshot pushed.
func (b *Broker) Connect(conn Conn) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	defer b.reap()

	ip := conn.RemoteIP()
	if b.bans.IP(ip) {
		conn.Close()
		return ErrBannedIP
	}

	now := b.now()
	s := &Session{
		ID:             b.newID(),
		IP:             ip,
		Nickname:       defaultNickname,
		ConnectedAt:    now,
		LastActivityAt: now,
		conn:           conn,
	}
	b.sessions[s.ID] = s
	conn.SetAttachment(&Attachment{SessionID: s.ID, IP: ip, ConnectedAt: now})

	rooms, stale := b.buildRooms()
	b.send(s, []any{"roomlist", rooms, b.buildEvents(now), b.buildClients(), s.ID})
	b.nudgeStaleOwners(stale)
	b.log.Debug("broker.connect", zap.String("session", s.ID), zap.String("ip", ip))
	return nil
}

// Disconnect tears a connection's session down. Unlike message handling it
// never rehydrates: a session absent from the registry has nothing to clean.
func (b *Broker) Disconnect(conn Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	defer b.reap()

	att := conn.Attachment()
	if att == nil {
		return
	}
	s, ok := b.sessions[att.SessionID]
	if !ok {
		return
	}
	b.removeSession(s)
}

// HandleMessage processes one inbound text frame.
func (b *Broker) HandleMessage(conn Conn, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	defer b.reap()

	s := b.resolve(conn)
	if s == nil {
		return
	}
	b.touchActivity(s)
	b.route(s, data)
}

// Sweep runs one liveness pass and reports whether the caller should re-arm
// the next wakeup (only while connections remain).
func (b *Broker) Sweep() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	defer b.reap()

	b.sweepLocked(b.now())
	return len(b.sessions) > 0
}

// SessionCount reports live sessions; used by the transport to decide whether
// a sweeper is needed at all.
func (b *Broker) SessionCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}

// Stats is the health-endpoint view.
type Stats struct {
	Sessions int `json:"sessions"`
	Rooms    int `json:"rooms"`
	Events   int `json:"events"`
}

func (b *Broker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	owned := 0
	for _, r := range b.rooms {
		if r.OwnerID != "" {
			owned++
		}
	}
	return Stats{Sessions: len(b.sessions), Rooms: owned, Events: len(b.events)}
}

// Shutdown closes every live connection and drops all broker state.
func (b *Broker) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, s := range b.sessions {
		if s.conn != nil {
			s.conn.Close()
		}
	}
	b.sessions = make(map[string]*Session)
	b.rooms = make(map[string]*Room)
	b.slots = nil
	b.events = nil
	b.dead = nil
}

// ─────────────────────────── ban administration ────────────────────────────

// AddBan inserts into the ban list and immediately cuts any live session that
// matches a banned IP or key, through the regular disconnect cleanup.
func (b *Broker) AddBan(kind, value string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	defer b.reap()

	if !b.bans.Add(kind, value) {
		return false
	}
	b.persistBan(kind, value)
	b.kickBanned(kind, value)
	return true
}

func (b *Broker) RemoveBan(kind, value string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.bans.Remove(kind, value) {
		return false
	}
	if b.banSink != nil {
		b.banSink.DropBan(kind, value)
	}
	return true
}

func (b *Broker) Bans() BanSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bans.Snapshot()
}

func (b *Broker) persistBan(kind, value string) {
	if b.banSink != nil {
		b.banSink.SaveBan(kind, value)
	}
}

func (b *Broker) kickBanned(kind, value string) {
	for _, s := range b.sessionList() {
		if _, live := b.sessions[s.ID]; !live {
			continue
		}
		if (kind == BanKindIP && s.IP == value) || (kind == BanKindKey && s.AuthKey == value) {
			b.dropSession(s)
		}
	}
}

// ──────────────────────────────── plumbing ─────────────────────────────────

// send marshals v as one JSON frame. Failures mark the session dead; cleanup
// happens in reap, never inline.
func (b *Broker) send(s *Session, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		b.log.Error("broker.marshal", zap.Error(err))
		return
	}
	b.sendRaw(s, data)
}

func (b *Broker) sendRaw(s *Session, data []byte) {
	if s.conn == nil {
		return
	}
	if err := s.conn.Send(data); err != nil {
		b.dead = append(b.dead, s)
	}
}

// reap runs disconnect cleanup for every session whose send failed during the
// current handler. Cleanup itself sends notifications, so the queue can grow
// while it drains.
func (b *Broker) reap() {
	for len(b.dead) > 0 {
		s := b.dead[0]
		b.dead = b.dead[1:]
		if _, live := b.sessions[s.ID]; !live {
			continue
		}
		b.dropSession(s)
	}
}

// dropSession is the broker-initiated disconnect: cleanup first, then close.
func (b *Broker) dropSession(s *Session) {
	b.removeSession(s)
	if s.conn != nil {
		s.conn.Close()
	}
}

// sessionList snapshots the registry so callers can iterate while mutating.
func (b *Broker) sessionList() []*Session {
	out := make([]*Session, 0, len(b.sessions))
	for _, s := range b.sessions {
		out = append(out, s)
	}
	return out
}
