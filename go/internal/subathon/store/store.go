// Package store holds the contract shared by the subathon storage backends.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/mcdev12/subathon/go/internal/models"
	"github.com/mcdev12/subathon/go/internal/subathon/events"
)

var (
	// ErrNotFound is returned when a subathon or streamer row does not exist
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when creating a row that is already present
	ErrAlreadyExists = errors.New("already exists")
)

// SubathonTx is the view of one streamer's rows inside a locked transaction.
// Writes made through it are committed together or not at all.
type SubathonTx interface {
	// Subathon returns the row loaded under the lock. Callers may mutate it
	// and persist it with SaveSubathon.
	Subathon() *models.Subathon
	SaveSubathon(ctx context.Context, s *models.Subathon) error

	// InsertTimeAddition appends a ledger row. It reports false without error
	// when a row with the same external event id already exists.
	InsertTimeAddition(ctx context.Context, a models.TimeAddition) (bool, error)

	// HasExternalEvent reports whether a platform event id was already applied,
	// either as a ledger row or as a processed state event.
	HasExternalEvent(ctx context.Context, eventID string) (bool, error)
	// MarkEventProcessed records a platform event that changed state without
	// adding time. It reports false when the id is already recorded.
	MarkEventProcessed(ctx context.Context, eventID, eventType string, at time.Time) (bool, error)

	LastClickAt(ctx context.Context, playerIdentity string) (*time.Time, error)
	SaveClick(ctx context.Context, playerIdentity string, at time.Time) error

	InsertOutbox(ctx context.Context, envs []events.Envelope) error
}
