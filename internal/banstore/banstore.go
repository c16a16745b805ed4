// Package banstore persists the broker's ban list in redis so bans survive a
// process restart. The in-memory BanList stays authoritative at runtime: the
// store seeds it once at startup and mirrors every mutation best effort.
package banstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"lobbybroker/internal/broker"
)

const (
	keyIPs      = "bans:ips"
	keyKeys     = "bans:keys"
	keyKeywords = "bans:words"

	opTimeout = 3 * time.Second
)

type Store struct {
	rdc *redis.Client
}

func New(rdc *redis.Client) *Store { return &Store{rdc: rdc} }

// Load seeds a BanList from the three redis sets.
func (s *Store) Load(ctx context.Context) (*broker.BanList, error) {
	bans := broker.NewBanList()
	for _, kind := range []string{broker.BanKindIP, broker.BanKindKey, broker.BanKindKeyword} {
		members, err := s.rdc.SMembers(ctx, setKey(kind)).Result()
		if err != nil {
			return nil, err
		}
		for _, v := range members {
			bans.Add(kind, v)
		}
	}
	return bans, nil
}

// SaveBan mirrors one ban into redis. Runs detached: the broker must never
// block on persistence.
func (s *Store) SaveBan(kind, value string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		if err := s.rdc.SAdd(ctx, setKey(kind), value).Err(); err != nil {
			zap.L().Warn("banstore.save", zap.String("kind", kind), zap.Error(err))
		}
	}()
}

// DropBan removes one ban from redis, detached like SaveBan.
func (s *Store) DropBan(kind, value string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		if err := s.rdc.SRem(ctx, setKey(kind), value).Err(); err != nil {
			zap.L().Warn("banstore.drop", zap.String("kind", kind), zap.Error(err))
		}
	}()
}

func setKey(kind string) string {
	switch kind {
	case broker.BanKindIP:
		return keyIPs
	case broker.BanKindKey:
		return keyKeys
	default:
		return keyKeywords
	}
}
