package broker

import (
	"crypto/rand"
	"encoding/binary"
	"strconv"
	"strings"
	"time"
	"unicode"
)

const defaultNickname = "noname"

// Session is the server-side state for one connected client. Links to rooms
// and to other sessions are held by key/id, never by pointer, so a session
// rebuilt from its connection attachment can always re-resolve them through
// the registry ("target gone" degrades to a no-op).
type Session struct {
	ID       string
	IP       string
	Nickname string
	Avatar   string
	Status   string

	AuthKey       string
	Authenticated bool

	// RoomKey records which room's roster this session belongs to; OwnerID
	// records which session currently relays this session's traffic. A
	// session never has OwnerID pointing at itself.
	RoomKey    string
	OwnerID    string
	ServerMode bool

	ConnectedAt    time.Time
	LastActivityAt time.Time
	AwaitingPong   bool

	conn Conn
}

// newSessionID returns an unguessable random decimal string.
func newSessionID() string {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand never fails on supported platforms
		panic(err)
	}
	return strconv.FormatUint(binary.BigEndian.Uint64(buf[:]), 10)
}

// sanitizeNickname strips control runes, trims whitespace and truncates to
// max runes. An empty result falls back to the placeholder.
func sanitizeNickname(raw string, max int) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, raw)
	cleaned = strings.TrimSpace(cleaned)
	if runes := []rune(cleaned); len(runes) > max {
		// the cut can land on an inner space; trim once more
		cleaned = strings.TrimSpace(string(runes[:max]))
	}
	if cleaned == "" {
		return defaultNickname
	}
	return cleaned
}
