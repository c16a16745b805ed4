package broker

import (
	"bytes"
	"encoding/json"

	"go.uber.org/zap"
)

// heartbeatFrame is the literal liveness frame, exchanged outside the JSON
// command envelope in both directions.
const heartbeatFrame = "heartbeat"

type commandFunc func(b *Broker, s *Session, args []json.RawMessage)

// lobbyCommands is the fixed dispatch table for the ["server", name, ...args]
// envelope. Unknown names are a defined no-op. The table is never mutated
// after init.
var lobbyCommands = map[string]commandFunc{
	"create":       (*Broker).cmdCreate,
	"enter":        (*Broker).cmdEnter,
	"changeAvatar": (*Broker).cmdChangeAvatar,
	"server":       (*Broker).cmdServer,
	"key":          (*Broker).cmdKey,
	"events":       (*Broker).cmdEvents,
	"config":       (*Broker).cmdConfig,
	"status":       (*Broker).cmdStatus,
	"send":         (*Broker).cmdSend,
	"close":        (*Broker).cmdClose,
}

// route is the per-message fork: heartbeat replies are consumed silently,
// traffic from a relayed guest is forwarded verbatim to its owner without
// parsing, and everything else must be a lobby command envelope.
func (b *Broker) route(s *Session, data []byte) {
	if string(bytes.TrimSpace(data)) == heartbeatFrame {
		return
	}

	if s.OwnerID != "" {
		if owner, ok := b.sessions[s.OwnerID]; ok {
			b.send(owner, []any{"onmessage", s.ID, string(data)})
		}
		return
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(data, &elems); err != nil || len(elems) < 2 {
		b.send(s, []any{"denied", "banned"})
		return
	}
	var tag, name string
	if json.Unmarshal(elems[0], &tag) != nil || tag != "server" {
		b.send(s, []any{"denied", "banned"})
		return
	}
	if json.Unmarshal(elems[1], &name) != nil {
		b.send(s, []any{"denied", "banned"})
		return
	}

	cmd, ok := lobbyCommands[name]
	if !ok {
		return
	}
	cmd(b, s, elems[2:])
}

// cmdKey validates the client's auth key. A banned key gets the source IP
// banned and the connection cut with no reply; a good one flips the session
// to authenticated and rewrites the durable attachment.
func (b *Broker) cmdKey(s *Session, args []json.RawMessage) {
	if len(args) < 1 {
		return
	}
	var tuple []json.RawMessage
	if json.Unmarshal(args[0], &tuple) != nil || len(tuple) == 0 {
		return
	}
	var key string
	if json.Unmarshal(tuple[0], &key) != nil || key == "" {
		return
	}

	if b.bans.Key(key) {
		b.banAndCut(s)
		return
	}

	s.AuthKey = key
	s.Authenticated = true
	b.writeAttachment(s)
	b.log.Debug("broker.auth", zap.String("session", s.ID))
}

// banAndCut bans the session's source IP and closes it without confirming
// anything to the peer.
func (b *Broker) banAndCut(s *Session) {
	b.bans.Add(BanKindIP, s.IP)
	b.persistBan(BanKindIP, s.IP)
	b.log.Info("broker.ban", zap.String("ip", s.IP))
	b.dropSession(s)
}

// writeAttachment refreshes the durable per-connection identity; called
// whenever authentication state changes.
func (b *Broker) writeAttachment(s *Session) {
	if s.conn == nil {
		return
	}
	s.conn.SetAttachment(&Attachment{
		SessionID:     s.ID,
		IP:            s.IP,
		ConnectedAt:   s.ConnectedAt,
		Authenticated: s.Authenticated,
		AuthKey:       s.AuthKey,
	})
}

// cmdSend pushes a raw payload to one of the caller's relayed guests. Only
// the recorded relay owner of the target is allowed through.
func (b *Broker) cmdSend(s *Session, args []json.RawMessage) {
	if len(args) < 2 {
		return
	}
	target := b.relayTarget(s, args[0])
	if target == nil {
		return
	}
	b.sendRaw(target, cloneRaw(args[1]))
}

// cmdClose forcibly disconnects one of the caller's relayed guests.
func (b *Broker) cmdClose(s *Session, args []json.RawMessage) {
	if len(args) < 1 {
		return
	}
	target := b.relayTarget(s, args[0])
	if target == nil {
		return
	}
	b.dropSession(target)
}

func (b *Broker) relayTarget(s *Session, rawID json.RawMessage) *Session {
	var id string
	if json.Unmarshal(rawID, &id) != nil {
		return nil
	}
	target, ok := b.sessions[id]
	if !ok || target.OwnerID != s.ID {
		return nil
	}
	return target
}

func (b *Broker) cmdChangeAvatar(s *Session, args []json.RawMessage) {
	if len(args) < 2 {
		return
	}
	var nickname, avatar string
	_ = json.Unmarshal(args[0], &nickname)
	_ = json.Unmarshal(args[1], &avatar)
	s.Nickname = sanitizeNickname(nickname, b.nicknameMax)
	s.Avatar = avatar
	b.broadcastClients()
}

func (b *Broker) cmdStatus(s *Session, args []json.RawMessage) {
	var status string
	if len(args) >= 1 {
		_ = json.Unmarshal(args[0], &status)
	}
	s.Status = status
	b.broadcastClients()
}

// ──────────────────────────── raw JSON helpers ─────────────────────────────

func rawIsNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	return append(json.RawMessage(nil), raw...)
}
