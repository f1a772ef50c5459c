package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/eldtechnologies/streamchat/internal/metrics"
	"github.com/eldtechnologies/streamchat/internal/models"
)

// SQLiteStore handles SQLite database operations.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/streamchat.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/streamchat.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	store := &SQLiteStore{db: db}

	// Initialize schema
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sends (
		id TEXT PRIMARY KEY,
		tx_hash TEXT UNIQUE NOT NULL,
		room TEXT NOT NULL,
		room_id TEXT NOT NULL,
		sender_name TEXT NOT NULL DEFAULT '',
		sender TEXT NOT NULL,
		ts INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sends_ts ON sends(ts);
	CREATE INDEX IF NOT EXISTS idx_sends_room_ts ON sends(room, ts);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// RecordSend inserts a confirmed send. A repeated tx hash is ignored.
func (s *SQLiteStore) RecordSend(ctx context.Context, rec *models.SendRecord) error {
	prepareRecord(rec)
	start := time.Now()
	defer func() { metrics.DatabaseLatency.Observe(time.Since(start).Seconds()) }()

	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO sends (id, tx_hash, room, room_id, sender_name, sender, ts, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID.String(), rec.TxHash, rec.Room, rec.RoomID, rec.SenderName, rec.Sender, rec.Timestamp, rec.CreatedAt.UnixMilli())
	return err
}

// ListRecentSends returns the newest sends, optionally for one room.
func (s *SQLiteStore) ListRecentSends(ctx context.Context, room string, limit int) ([]models.SendRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tx_hash, room, room_id, sender_name, sender, ts, created_at
		FROM sends
		WHERE ? = '' OR room = ?
		ORDER BY ts DESC
		LIMIT ?
	`, room, room, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sends := []models.SendRecord{}
	for rows.Next() {
		rec, err := scanSend(rows)
		if err != nil {
			return nil, err
		}
		sends = append(sends, *rec)
	}

	return sends, rows.Err()
}

// CountSends returns the total number of logged sends.
func (s *SQLiteStore) CountSends(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sends`).Scan(&count)
	return count, err
}

// CountRooms returns the number of distinct rooms with at least one send.
func (s *SQLiteStore) CountRooms(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT room) FROM sends`).Scan(&count)
	return count, err
}

// GetMostRecentSend returns the newest send, or nil when the log is empty.
func (s *SQLiteStore) GetMostRecentSend(ctx context.Context) (*models.SendRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tx_hash, room, room_id, sender_name, sender, ts, created_at
		FROM sends ORDER BY ts DESC LIMIT 1
	`)
	rec, err := scanSend(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}

// GetTopRooms returns the rooms with the most sends.
func (s *SQLiteStore) GetTopRooms(ctx context.Context, limit int) ([]models.RoomActivity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT room, COUNT(*) AS sends, MAX(ts) AS last_ts
		FROM sends
		GROUP BY room
		ORDER BY sends DESC, last_ts DESC
		LIMIT ?
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSend(row rowScanner) (*models.SendRecord, error) {
	var (
		rec       models.SendRecord
		idStr     string
		createdMs int64
	)
	err := row.Scan(
		&idStr,
		&rec.TxHash,
		&rec.Room,
		&rec.RoomID,
		&rec.SenderName,
		&rec.Sender,
		&rec.Timestamp,
		&createdMs,
	)
	if err != nil {
		return nil, err
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, err
	}
	rec.ID = id
	rec.CreatedAt = time.UnixMilli(createdMs).UTC()
	return &rec, nil
}
