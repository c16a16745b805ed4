// Package eventarchive records every accepted bulletin-board event into
// postgres for moderation audit. Inserts are best effort and fully detached
// from the broker's handler path; a lost row is logged and forgotten.
package eventarchive

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"lobbybroker/internal/broker"
)

const insertEvent = `INSERT INTO events_archive
	(id, auth_key, expires_at, content, nickname, avatar, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT DO NOTHING`

type Archive struct {
	db *sql.DB
}

func New(db *sql.DB) *Archive { return &Archive{db: db} }

func (a *Archive) Archive(e broker.ArchivedEvent) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := a.insert(ctx, e); err != nil {
			zap.L().Warn("eventarchive.insert", zap.String("event", e.ID), zap.Error(err))
		}
	}()
}

func (a *Archive) insert(ctx context.Context, e broker.ArchivedEvent) error {
	_, err := a.db.ExecContext(ctx, insertEvent,
		e.ID, e.AuthKey, e.UTC, e.Content, e.Nickname, e.Avatar, e.CreatedAt,
	)
	return err
}
