package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/eldtechnologies/streamchat/internal/crypto"
	"github.com/eldtechnologies/streamchat/internal/models"
)

// DataStore defines the interface for the persistent send log.
// Both PostgresStore and SQLiteStore implement this interface.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// Send log
	RecordSend(ctx context.Context, rec *models.SendRecord) error
	ListRecentSends(ctx context.Context, room string, limit int) ([]models.SendRecord, error)
	CountSends(ctx context.Context) (int64, error)
	CountRooms(ctx context.Context) (int64, error)
	GetMostRecentSend(ctx context.Context) (*models.SendRecord, error)
	GetTopRooms(ctx context.Context, limit int) ([]models.RoomActivity, error)
}

// prepareRecord fills in the id and creation time of a new record.
func prepareRecord(rec *models.SendRecord) {
	if rec.ID == uuid.Nil {
		rec.ID = crypto.NewRecordID()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.Timestamp == 0 {
		rec.Timestamp = rec.CreatedAt.UnixMilli()
	}
}
