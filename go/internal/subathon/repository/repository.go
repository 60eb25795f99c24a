// Package repository is the PostgreSQL subathon store.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mcdev12/subathon/go/internal/models"
	"github.com/mcdev12/subathon/go/internal/sqlutil"
	"github.com/mcdev12/subathon/go/internal/subathon/events"
	"github.com/mcdev12/subathon/go/internal/subathon/repository/db"
	"github.com/mcdev12/subathon/go/internal/subathon/store"
)

// ErrConcurrentUpdate is returned when a locked row changed version underneath
// the transaction, which means the row lock was not held
var ErrConcurrentUpdate = errors.New("subathon updated concurrently")

type Repository struct {
	db      *sql.DB
	queries *db.Queries
}

func NewRepository(conn *sql.DB) *Repository {
	return &Repository{
		db:      conn,
		queries: db.New(conn),
	}
}

func (r *Repository) GetStreamer(ctx context.Context, id uuid.UUID) (*models.Streamer, error) {
	row, err := r.queries.GetStreamer(ctx, id)
	if err != nil {
		return nil, notFound(fmt.Sprintf("get streamer %s", id), err)
	}
	return dbStreamerToModel(row), nil
}

func (r *Repository) FindStreamerByPlatformUser(ctx context.Context, platform, platformUserID string) (*models.Streamer, error) {
	row, err := r.queries.GetStreamerByPlatformUser(ctx, platform, platformUserID)
	if err != nil {
		return nil, notFound(fmt.Sprintf("find streamer %s/%s", platform, platformUserID), err)
	}
	return dbStreamerToModel(row), nil
}

// UpsertStreamer registers a streamer or refreshes its profile and approval
func (r *Repository) UpsertStreamer(ctx context.Context, st models.Streamer) (*models.Streamer, error) {
	if st.ID == uuid.Nil {
		st.ID = uuid.New()
	}
	row, err := r.queries.UpsertStreamer(ctx, db.UpsertStreamerParams{
		ID:             st.ID,
		Platform:       st.Platform,
		PlatformUserID: st.PlatformUserID,
		Login:          st.Login,
		DisplayName:    st.DisplayName,
		Approved:       st.Approved,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert streamer: %w", err)
	}
	return dbStreamerToModel(row), nil
}

func (r *Repository) CreateSubathon(ctx context.Context, s *models.Subathon) error {
	if err := r.queries.CreateSubathon(ctx, modelSubathonToDB(s)); err != nil {
		switch {
		case sqlutil.IsUniqueViolation(err):
			return fmt.Errorf("create subathon %s: %w", s.StreamerID, store.ErrAlreadyExists)
		case sqlutil.IsForeignKeyViolation(err):
			return fmt.Errorf("create subathon %s: streamer: %w", s.StreamerID, store.ErrNotFound)
		}
		return fmt.Errorf("failed to create subathon: %w", err)
	}
	return nil
}

func (r *Repository) GetSubathon(ctx context.Context, streamerID uuid.UUID) (*models.Subathon, error) {
	row, err := r.queries.GetSubathon(ctx, streamerID)
	if err != nil {
		return nil, notFound(fmt.Sprintf("get subathon %s", streamerID), err)
	}
	return dbSubathonToModel(row), nil
}

func (r *Repository) ListSubathonsByStatus(ctx context.Context, status models.SubathonStatus) ([]models.Subathon, error) {
	rows, err := r.queries.ListSubathonsByStatus(ctx, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list subathons by status: %w", err)
	}
	out := make([]models.Subathon, len(rows))
	for i, row := range rows {
		out[i] = *dbSubathonToModel(row)
	}
	return out, nil
}

// ReadSnapshot reads the subathon row and its newest ledger rows from one
// database snapshot, so the rows listed are exactly those counted in the row
func (r *Repository) ReadSnapshot(ctx context.Context, streamerID uuid.UUID, limit int) (*models.Subathon, []models.TimeAddition, error) {
	var (
		sub       *models.Subathon
		additions []models.TimeAddition
	)
	err := sqlutil.RunReadOnly(ctx, r.db, r.queries.WithTx, func(q *db.Queries) error {
		row, err := q.GetSubathon(ctx, streamerID)
		if err != nil {
			return notFound(fmt.Sprintf("get subathon %s", streamerID), err)
		}
		rows, err := q.ListTimeAdditions(ctx, streamerID, int32(limit))
		if err != nil {
			return fmt.Errorf("failed to list time additions: %w", err)
		}
		sub = dbSubathonToModel(row)
		additions = make([]models.TimeAddition, len(rows))
		for i, row := range rows {
			additions[i] = dbTimeAdditionToModel(row)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return sub, additions, nil
}

// ListTimeAdditions returns the newest rows first
func (r *Repository) ListTimeAdditions(ctx context.Context, streamerID uuid.UUID, limit int) ([]models.TimeAddition, error) {
	rows, err := r.queries.ListTimeAdditions(ctx, streamerID, int32(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list time additions: %w", err)
	}
	out := make([]models.TimeAddition, len(rows))
	for i, row := range rows {
		out[i] = dbTimeAdditionToModel(row)
	}
	return out, nil
}

func (r *Repository) SumTimeAdditions(ctx context.Context, streamerID uuid.UUID) (int64, error) {
	total, err := r.queries.SumTimeAdditions(ctx, streamerID)
	if err != nil {
		return 0, fmt.Errorf("failed to sum time additions: %w", err)
	}
	return total, nil
}

// RecordUnresolvedEvent stores an event for reconciliation. Redelivery of an
// event already waiting is ignored.
func (r *Repository) RecordUnresolvedEvent(ctx context.Context, ev models.UnresolvedEvent) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	err := r.queries.InsertUnresolvedEvent(ctx, db.UnresolvedEvent{
		ID:             ev.ID,
		Platform:       ev.Platform,
		EventID:        ev.EventID,
		EventType:      ev.EventType,
		PlatformUserID: ev.PlatformUserID,
		Reason:         ev.Reason,
		Payload:        sqlutil.ToNullRawMessage(ev.Payload),
		ReceivedAt:     ev.ReceivedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to record unresolved event: %w", err)
	}
	return nil
}

// ListUnresolvedEvents returns the newest events first
func (r *Repository) ListUnresolvedEvents(ctx context.Context, limit int) ([]models.UnresolvedEvent, error) {
	rows, err := r.queries.ListUnresolvedEvents(ctx, int32(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list unresolved events: %w", err)
	}
	out := make([]models.UnresolvedEvent, len(rows))
	for i, row := range rows {
		out[i] = models.UnresolvedEvent{
			ID:             row.ID,
			Platform:       row.Platform,
			EventID:        row.EventID,
			EventType:      row.EventType,
			PlatformUserID: row.PlatformUserID,
			Reason:         row.Reason,
			Payload:        sqlutil.FromNullRawMessage(row.Payload),
			ReceivedAt:     row.ReceivedAt.UTC(),
		}
	}
	return out, nil
}

// WithSubathonLock runs fn in one transaction holding the subathon row lock
func (r *Repository) WithSubathonLock(ctx context.Context, streamerID uuid.UUID, fn func(tx store.SubathonTx) error) error {
	return sqlutil.Run(ctx, r.db, r.queries.WithTx, func(q *db.Queries) error {
		row, err := q.GetSubathonForUpdate(ctx, streamerID)
		if err != nil {
			return notFound(fmt.Sprintf("lock subathon %s", streamerID), err)
		}
		return fn(&subathonTx{
			queries:    q,
			streamerID: streamerID,
			sub:        dbSubathonToModel(row),
		})
	})
}

func notFound(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, store.ErrNotFound)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

type subathonTx struct {
	queries    *db.Queries
	streamerID uuid.UUID
	sub        *models.Subathon
}

func (t *subathonTx) Subathon() *models.Subathon {
	return t.sub
}

func (t *subathonTx) SaveSubathon(ctx context.Context, s *models.Subathon) error {
	n, err := t.queries.UpdateSubathon(ctx, modelSubathonToDB(s))
	if err != nil {
		return fmt.Errorf("failed to update subathon: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("update subathon %s to version %d: %w", s.StreamerID, s.Version, ErrConcurrentUpdate)
	}
	return nil
}

func (t *subathonTx) InsertTimeAddition(ctx context.Context, a models.TimeAddition) (bool, error) {
	n, err := t.queries.InsertTimeAddition(ctx, db.InsertTimeAdditionParams{
		ID:              a.ID,
		StreamerID:      a.StreamerID,
		EventType:       string(a.EventType),
		TimeSeconds:     a.TimeSeconds,
		PlayerIdentity:  sqlutil.ToSqlString(a.PlayerIdentity),
		ExternalEventID: sqlutil.ToSqlString(a.ExternalEventID),
		EventData:       sqlutil.ToNullRawMessage(a.EventData),
		CreatedAt:       a.CreatedAt,
	})
	if err != nil {
		return false, fmt.Errorf("failed to insert time addition: %w", err)
	}
	return n == 1, nil
}

func (t *subathonTx) HasExternalEvent(ctx context.Context, eventID string) (bool, error) {
	seen, err := t.queries.HasExternalEvent(ctx, eventID)
	if err != nil {
		return false, fmt.Errorf("failed to check external event: %w", err)
	}
	return seen, nil
}

func (t *subathonTx) MarkEventProcessed(ctx context.Context, eventID, eventType string, at time.Time) (bool, error) {
	n, err := t.queries.InsertProcessedEvent(ctx, db.ProcessedEvent{
		EventID:     eventID,
		StreamerID:  t.streamerID,
		EventType:   eventType,
		ProcessedAt: at,
	})
	if err != nil {
		return false, fmt.Errorf("failed to mark event processed: %w", err)
	}
	return n == 1, nil
}

func (t *subathonTx) LastClickAt(ctx context.Context, playerIdentity string) (*time.Time, error) {
	at, err := t.queries.GetLastClick(ctx, t.streamerID, playerIdentity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last click: %w", err)
	}
	at = at.UTC()
	return &at, nil
}

func (t *subathonTx) SaveClick(ctx context.Context, playerIdentity string, at time.Time) error {
	if err := t.queries.UpsertClick(ctx, t.streamerID, playerIdentity, at); err != nil {
		return fmt.Errorf("failed to save click: %w", err)
	}
	return nil
}

func (t *subathonTx) InsertOutbox(ctx context.Context, envs []events.Envelope) error {
	for _, env := range envs {
		err := t.queries.InsertOutbox(ctx, db.SubathonOutbox{
			ID:         env.ID,
			StreamerID: env.StreamerID,
			EventType:  string(env.Type),
			Version:    env.Version,
			Payload:    env.Data,
			CreatedAt:  env.Timestamp,
		})
		if err != nil {
			return fmt.Errorf("failed to insert %s outbox event: %w", env.Type, err)
		}
	}
	return nil
}
