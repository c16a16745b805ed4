package broker

import "strings"

// Ban kinds accepted by the admin surface and the persistence sink.
const (
	BanKindIP      = "ip"
	BanKindKey     = "key"
	BanKindKeyword = "keyword"
)

// BanList holds three independent ban sets: source IPs, auth keys and content
// keywords. Keyword matching is substring, case-sensitive as authored.
// Not safe for concurrent use on its own; the owning Broker serializes access.
type BanList struct {
	ips      map[string]struct{}
	keys     map[string]struct{}
	keywords []string
}

func NewBanList() *BanList {
	return &BanList{
		ips:  make(map[string]struct{}),
		keys: make(map[string]struct{}),
	}
}

func (b *BanList) IP(ip string) bool {
	_, ok := b.ips[ip]
	return ok
}

func (b *BanList) Key(key string) bool {
	_, ok := b.keys[key]
	return ok
}

// Content reports whether text contains any banned keyword.
func (b *BanList) Content(text string) bool {
	for _, w := range b.keywords {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

func (b *BanList) Add(kind, value string) bool {
	if value == "" {
		return false
	}
	switch kind {
	case BanKindIP:
		b.ips[value] = struct{}{}
	case BanKindKey:
		b.keys[value] = struct{}{}
	case BanKindKeyword:
		for _, w := range b.keywords {
			if w == value {
				return true
			}
		}
		b.keywords = append(b.keywords, value)
	default:
		return false
	}
	return true
}

func (b *BanList) Remove(kind, value string) bool {
	switch kind {
	case BanKindIP:
		if _, ok := b.ips[value]; !ok {
			return false
		}
		delete(b.ips, value)
	case BanKindKey:
		if _, ok := b.keys[value]; !ok {
			return false
		}
		delete(b.keys, value)
	case BanKindKeyword:
		for i, w := range b.keywords {
			if w == value {
				b.keywords = append(b.keywords[:i], b.keywords[i+1:]...)
				return true
			}
		}
		return false
	default:
		return false
	}
	return true
}

// BanSnapshot is a copy of the three ban sets, safe to hand out.
type BanSnapshot struct {
	IPs      []string `json:"ips"`
	Keys     []string `json:"keys"`
	Keywords []string `json:"keywords"`
}

func (b *BanList) Snapshot() BanSnapshot {
	snap := BanSnapshot{
		IPs:      make([]string, 0, len(b.ips)),
		Keys:     make([]string, 0, len(b.keys)),
		Keywords: append([]string(nil), b.keywords...),
	}
	for ip := range b.ips {
		snap.IPs = append(snap.IPs, ip)
	}
	for k := range b.keys {
		snap.Keys = append(snap.Keys, k)
	}
	return snap
}
