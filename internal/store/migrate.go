package store

import (
	"context"

	"github.com/jackc/pgx/v5"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS sends (
	id UUID PRIMARY KEY,
	tx_hash TEXT UNIQUE NOT NULL,
	room TEXT NOT NULL,
	room_id TEXT NOT NULL,
	sender_name TEXT NOT NULL DEFAULT '',
	sender TEXT NOT NULL,
	ts BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_sends_ts ON sends(ts DESC);
CREATE INDEX IF NOT EXISTS idx_sends_room_ts ON sends(room, ts DESC);
`

// RunMigrations creates the send log schema in PostgreSQL.
func RunMigrations(ctx context.Context, databaseURL string) error {
	conn, err := pgx.Connect(ctx, databaseURL)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	// No arguments, so pgx sends this over the simple protocol and the
	// statements run as one batch.
	_, err = conn.Exec(ctx, postgresSchema)
	return err
}
