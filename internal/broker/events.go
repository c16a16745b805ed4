package broker

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event is one scheduled-events bulletin-board entry. Day and hour are
// display-only hints carried through verbatim; UTC is the authoritative
// expiry instant, enforced lazily whenever the list is read.
type Event struct {
	ID       string
	AuthKey  string
	UTC      time.Time
	Day      json.RawMessage
	Hour     json.RawMessage
	Content  string
	Nickname string
	Avatar   string
	Members  []string
}

// ArchivedEvent is the audit record handed to the EventArchiver.
type ArchivedEvent struct {
	ID        string
	AuthKey   string
	UTC       time.Time
	Content   string
	Nickname  string
	Avatar    string
	CreatedAt time.Time
}

// eventSubmission is a full new-event candidate; all four fields must be
// present. Anything else shaped as a bare string is a membership toggle.
type eventSubmission struct {
	UTC     *float64        `json:"utc"` // epoch milliseconds
	Day     json.RawMessage `json:"day"`
	Hour    json.RawMessage `json:"hour"`
	Content *string         `json:"content"`
}

// cmdEvents is the bulletin-board entry point: ["server","events",candidate,authKey].
// A mismatched or banned auth key is treated as hostile (IP ban, cut).
func (b *Broker) cmdEvents(s *Session, args []json.RawMessage) {
	if len(args) < 2 {
		return
	}
	var authKey string
	if json.Unmarshal(args[1], &authKey) != nil {
		return
	}
	if authKey == "" || b.bans.Key(authKey) || authKey != s.AuthKey {
		b.banAndCut(s)
		return
	}

	candidate := args[0]

	var eventID string
	if json.Unmarshal(candidate, &eventID) == nil && eventID != "" {
		b.toggleEventMembership(s, eventID, authKey)
		return
	}

	var sub eventSubmission
	if json.Unmarshal(candidate, &sub) != nil {
		return
	}
	if sub.UTC == nil || sub.Content == nil || rawIsNull(sub.Day) || rawIsNull(sub.Hour) {
		return
	}
	b.submitEvent(s, sub, authKey)
}

func (b *Broker) toggleEventMembership(s *Session, eventID, authKey string) {
	idx := -1
	for i, e := range b.events {
		if e.ID == eventID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	e := b.events[idx]

	for i, m := range e.Members {
		if m == authKey {
			e.Members = append(e.Members[:i], e.Members[i+1:]...)
			if len(e.Members) == 0 {
				b.events = append(b.events[:idx], b.events[idx+1:]...)
			}
			b.broadcastEvents()
			return
		}
	}
	e.Members = append(e.Members, authKey)
	b.broadcastEvents()
}

func (b *Broker) submitEvent(s *Session, sub eventSubmission, authKey string) {
	now := b.now()
	b.purgeEvents(now)

	if len(b.events) >= b.maxEvents {
		b.send(s, []any{"eventsdenied", "total"})
		return
	}
	utc := time.UnixMilli(int64(*sub.UTC))
	if !utc.After(now) {
		b.send(s, []any{"eventsdenied", "time"})
		return
	}
	if b.bans.Content(*sub.Content) {
		b.send(s, []any{"eventsdenied", "ban"})
		return
	}

	e := &Event{
		ID:       uuid.NewString(),
		AuthKey:  authKey,
		UTC:      utc,
		Day:      cloneRaw(sub.Day),
		Hour:     cloneRaw(sub.Hour),
		Content:  *sub.Content,
		Nickname: s.Nickname,
		Avatar:   s.Avatar,
		Members:  []string{authKey},
	}
	// most recent first
	b.events = append([]*Event{e}, b.events...)

	if b.archive != nil {
		b.archive.Archive(ArchivedEvent{
			ID:        e.ID,
			AuthKey:   e.AuthKey,
			UTC:       e.UTC,
			Content:   e.Content,
			Nickname:  e.Nickname,
			Avatar:    e.Avatar,
			CreatedAt: now,
		})
	}
	b.broadcastEvents()
}

// purgeEvents drops every event whose expiry has elapsed. There is no timer
// per event; purging happens on every read of the list.
func (b *Broker) purgeEvents(now time.Time) {
	kept := b.events[:0]
	for _, e := range b.events {
		if e.UTC.After(now) {
			kept = append(kept, e)
		}
	}
	b.events = kept
}

// eventView is the wire shape of one bulletin-board entry.
type eventView struct {
	ID       string          `json:"id"`
	UTC      int64           `json:"utc"`
	Day      json.RawMessage `json:"day"`
	Hour     json.RawMessage `json:"hour"`
	Content  string          `json:"content"`
	Nickname string          `json:"nickname"`
	Avatar   string          `json:"avatar"`
	Members  []string        `json:"members"`
}

func (b *Broker) buildEvents(now time.Time) []eventView {
	b.purgeEvents(now)
	out := make([]eventView, 0, len(b.events))
	for _, e := range b.events {
		out = append(out, eventView{
			ID:       e.ID,
			UTC:      e.UTC.UnixMilli(),
			Day:      e.Day,
			Hour:     e.Hour,
			Content:  e.Content,
			Nickname: e.Nickname,
			Avatar:   e.Avatar,
			Members:  e.Members,
		})
	}
	return out
}
