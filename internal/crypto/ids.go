package crypto

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewRecordID generates a time-ordered UUID v7 for persisted send records.
func NewRecordID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// NewConnID generates a sortable ULID used to tag live feed connections.
func NewConnID() string {
	return ulid.Make().String()
}
