package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/mcdev12/subathon/go/internal/subathon/events"
	"github.com/mcdev12/subathon/go/internal/subathon/repository/db"
)

// ErrNotPending is returned when an outbox row is missing or already sent
var ErrNotPending = errors.New("outbox event not found or already sent")

// Repository reads and acknowledges rows of the subathon_outbox table
type Repository struct {
	queries *db.Queries
}

func NewRepository(conn *sql.DB) *Repository {
	return &Repository{queries: db.New(conn)}
}

func (r *Repository) FetchOutboxByID(ctx context.Context, id uuid.UUID) (*events.Envelope, error) {
	row, err := r.queries.FetchOutboxByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", id, ErrNotPending)
		}
		return nil, fmt.Errorf("failed to fetch outbox event by ID: %w", err)
	}
	env := rowToEnvelope(row)
	return &env, nil
}

// FetchUnsentOutbox returns up to limit unsent rows, oldest first
func (r *Repository) FetchUnsentOutbox(ctx context.Context, limit int) ([]events.Envelope, error) {
	rows, err := r.queries.FetchUnsentOutbox(ctx, int32(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unsent outbox events: %w", err)
	}
	envs := make([]events.Envelope, len(rows))
	for i, row := range rows {
		envs[i] = rowToEnvelope(row)
	}
	return envs, nil
}

func (r *Repository) MarkOutboxSent(ctx context.Context, id uuid.UUID) error {
	if err := r.queries.MarkOutboxSent(ctx, id); err != nil {
		return fmt.Errorf("failed to mark outbox event as sent: %w", err)
	}
	return nil
}

func rowToEnvelope(row db.SubathonOutbox) events.Envelope {
	return events.Envelope{
		ID:         row.ID,
		StreamerID: row.StreamerID,
		Type:       events.Type(row.EventType),
		Version:    row.Version,
		Timestamp:  row.CreatedAt.UTC(),
		Data:       row.Payload,
	}
}
