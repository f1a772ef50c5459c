package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eldtechnologies/streamchat/internal/metrics"
	"github.com/eldtechnologies/streamchat/internal/models"
)

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// RecordSend inserts a confirmed send. A repeated tx hash is ignored.
func (s *PostgresStore) RecordSend(ctx context.Context, rec *models.SendRecord) error {
	prepareRecord(rec)
	start := time.Now()
	defer func() { metrics.DatabaseLatency.Observe(time.Since(start).Seconds()) }()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO sends (id, tx_hash, room, room_id, sender_name, sender, ts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (tx_hash) DO NOTHING
	`, rec.ID, rec.TxHash, rec.Room, rec.RoomID, rec.SenderName, rec.Sender, rec.Timestamp, rec.CreatedAt)
	return err
}

// ListRecentSends returns the newest sends, optionally for one room.
func (s *PostgresStore) ListRecentSends(ctx context.Context, room string, limit int) ([]models.SendRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tx_hash, room, room_id, sender_name, sender, ts, created_at
		FROM sends
		WHERE $1 = '' OR room = $1
		ORDER BY ts DESC
		LIMIT $2
	`, room, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sends := []models.SendRecord{}
	for rows.Next() {
		var rec models.SendRecord
		err := rows.Scan(
			&rec.ID,
			&rec.TxHash,
			&rec.Room,
			&rec.RoomID,
			&rec.SenderName,
			&rec.Sender,
			&rec.Timestamp,
			&rec.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		sends = append(sends, rec)
	}

	return sends, rows.Err()
}

// CountSends returns the total number of logged sends.
func (s *PostgresStore) CountSends(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM sends`).Scan(&count)
	return count, err
}

// CountRooms returns the number of distinct rooms with at least one send.
func (s *PostgresStore) CountRooms(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(DISTINCT room) FROM sends`).Scan(&count)
	return count, err
}

// GetMostRecentSend returns the newest send, or nil when the log is empty.
func (s *PostgresStore) GetMostRecentSend(ctx context.Context) (*models.SendRecord, error) {
	rec := &models.SendRecord{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, tx_hash, room, room_id, sender_name, sender, ts, created_at
		FROM sends ORDER BY ts DESC LIMIT 1
	`).Scan(
		&rec.ID,
		&rec.TxHash,
		&rec.Room,
		&rec.RoomID,
		&rec.SenderName,
		&rec.Sender,
		&rec.Timestamp,
		&rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}

// GetTopRooms returns the rooms with the most sends.
func (s *PostgresStore) GetTopRooms(ctx context.Context, limit int) ([]models.RoomActivity, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT room, COUNT(*), MAX(ts)
		FROM sends
		GROUP BY room
		ORDER BY COUNT(*) DESC, MAX(ts) DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rooms := []models.RoomActivity{}
	for rows.Next() {
		var r models.RoomActivity
		if err := rows.Scan(&r.Room, &r.Sends, &r.LastSendTS); err != nil {
			return nil, err
		}
		rooms = append(rooms, r)
	}

	return rooms, rows.Err()
}
