package db

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

type Streamer struct {
	ID             uuid.UUID
	Platform       string
	PlatformUserID string
	Login          string
	DisplayName    string
	Approved       bool
	CreatedAt      time.Time
}

type Subathon struct {
	StreamerID          uuid.UUID
	Status              string
	CurrentClicks       int32
	ClicksRequired      int32
	CooldownSeconds     int32
	TimeMode            string
	TimeIncrement       int32
	MinRandomTime       int32
	MaxRandomTime       int32
	InitialDuration     int64
	TotalElapsedTime    int64
	TotalTimeAdded      int64
	TotalPausedDuration int64
	StreamStartedAt     sql.NullTime
	PauseStartedAt      sql.NullTime
	EndedAt             sql.NullTime
	Version             int64
	CreatedAt           time.Time
	UpdatedAt           time.Time
	ElapsedCarryUs      int64
	PausedCarryUs       int64
}

type TimeAddition struct {
	ID              uuid.UUID
	StreamerID      uuid.UUID
	EventType       string
	TimeSeconds     int64
	PlayerIdentity  sql.NullString
	ExternalEventID sql.NullString
	EventData       pqtype.NullRawMessage
	CreatedAt       time.Time
}

type UnresolvedEvent struct {
	ID             uuid.UUID
	Platform       string
	EventID        string
	EventType      string
	PlatformUserID string
	Reason         string
	Payload        pqtype.NullRawMessage
	ReceivedAt     time.Time
}

type ProcessedEvent struct {
	EventID     string
	StreamerID  uuid.UUID
	EventType   string
	ProcessedAt time.Time
}

type SubathonOutbox struct {
	ID         uuid.UUID
	StreamerID uuid.UUID
	EventType  string
	Version    int64
	Payload    []byte
	CreatedAt  time.Time
	SentAt     sql.NullTime
}
