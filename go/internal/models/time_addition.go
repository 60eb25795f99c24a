package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TimeAdditionEventType identifies what caused time to be added
type TimeAdditionEventType string

const (
	EventTypeMinigameWin      TimeAdditionEventType = "minigame_win"
	EventTypeSubscribe        TimeAdditionEventType = "channel.subscribe"
	EventTypeCheer            TimeAdditionEventType = "channel.cheer"
	EventTypeSubscriptionGift TimeAdditionEventType = "channel.subscription.gift"
)

// IsExternal reports whether the event type originates from the streaming platform
func (t TimeAdditionEventType) IsExternal() bool {
	return t != EventTypeMinigameWin
}

// TimeAddition is one append-only ledger row
type TimeAddition struct {
	ID              uuid.UUID             `json:"id"`
	StreamerID      uuid.UUID             `json:"streamer_id"`
	EventType       TimeAdditionEventType `json:"event_type"`
	TimeSeconds     int64                 `json:"time_seconds"`
	PlayerIdentity  *string               `json:"player_identity,omitempty"`
	ExternalEventID *string               `json:"external_event_id,omitempty"`
	EventData       json.RawMessage       `json:"event_data,omitempty"`
	CreatedAt       time.Time             `json:"created_at"`
}

// Streamer is a broadcaster on a streaming platform that owns one subathon
type Streamer struct {
	ID             uuid.UUID `json:"id"`
	Platform       string    `json:"platform"`
	PlatformUserID string    `json:"platform_user_id"`
	Login          string    `json:"login"`
	DisplayName    string    `json:"display_name"`
	Approved       bool      `json:"approved"`
	CreatedAt      time.Time `json:"created_at"`
}

// UnresolvedEvent is a platform event whose broadcaster could not be mapped to a streamer
type UnresolvedEvent struct {
	ID             uuid.UUID       `json:"id"`
	Platform       string          `json:"platform"`
	EventID        string          `json:"event_id"`
	EventType      string          `json:"event_type"`
	PlatformUserID string          `json:"platform_user_id"`
	Reason         string          `json:"reason"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	ReceivedAt     time.Time       `json:"received_at"`
}
