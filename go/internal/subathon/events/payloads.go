package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mcdev12/subathon/go/internal/models"
)

// Event payload types shared between the engine, the outbox relay and the gateway

// Type is the kind of change an envelope carries
type Type string

const (
	TypeLedgerAppend Type = "ledger_append"
	TypeStateChange  Type = "state_change"
	// TypeSnapshot is only sent by the gateway, as the first message on a subscription
	TypeSnapshot Type = "snapshot"
)

// Envelope wraps one committed change. Every envelope produced by the same
// commit carries the same Version, which is the subathon's version after that
// commit.
type Envelope struct {
	ID         uuid.UUID       `json:"id"`
	StreamerID uuid.UUID       `json:"streamer_id"`
	Type       Type            `json:"type"`
	Version    int64           `json:"version"`
	Timestamp  time.Time       `json:"timestamp"`
	Data       json.RawMessage `json:"data"`
}

// LedgerAppendPayload is the payload for a ledger_append envelope
type LedgerAppendPayload struct {
	Addition         models.TimeAddition `json:"addition"`
	TotalTimeAdded   int64               `json:"total_time_added"`
	RemainingSeconds int64               `json:"remaining_seconds"`
}

// StateChangePayload is the payload for a state_change envelope
type StateChangePayload struct {
	Subathon         *models.Subathon      `json:"subathon"`
	PreviousStatus   models.SubathonStatus `json:"previous_status"`
	ElapsedSeconds   int64                 `json:"elapsed_seconds"`
	RemainingSeconds int64                 `json:"remaining_seconds"`
	Reason           string                `json:"reason,omitempty"`
}

// NewEnvelope marshals payload into a fresh envelope
func NewEnvelope(streamerID uuid.UUID, typ Type, version int64, at time.Time, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return Envelope{
		ID:         uuid.New(),
		StreamerID: streamerID,
		Type:       typ,
		Version:    version,
		Timestamp:  at,
		Data:       data,
	}, nil
}

// DecodeStateChange parses the payload of a state_change envelope
func DecodeStateChange(env Envelope) (StateChangePayload, error) {
	var p StateChangePayload
	if env.Type != TypeStateChange {
		return p, fmt.Errorf("envelope %s is %s, not %s", env.ID, env.Type, TypeStateChange)
	}
	if err := json.Unmarshal(env.Data, &p); err != nil {
		return p, fmt.Errorf("unmarshal state_change payload: %w", err)
	}
	return p, nil
}

// DecodeLedgerAppend parses the payload of a ledger_append envelope
func DecodeLedgerAppend(env Envelope) (LedgerAppendPayload, error) {
	var p LedgerAppendPayload
	if env.Type != TypeLedgerAppend {
		return p, fmt.Errorf("envelope %s is %s, not %s", env.ID, env.Type, TypeLedgerAppend)
	}
	if err := json.Unmarshal(env.Data, &p); err != nil {
		return p, fmt.Errorf("unmarshal ledger_append payload: %w", err)
	}
	return p, nil
}
