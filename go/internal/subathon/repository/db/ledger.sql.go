package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

const timeAdditionColumns = `id, streamer_id, event_type, time_seconds, player_identity, external_event_id, event_data, created_at`

const insertTimeAddition = `INSERT INTO time_additions (` + timeAdditionColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (external_event_id) DO NOTHING`

type InsertTimeAdditionParams struct {
	ID              uuid.UUID
	StreamerID      uuid.UUID
	EventType       string
	TimeSeconds     int64
	PlayerIdentity  sql.NullString
	ExternalEventID sql.NullString
	EventData       pqtype.NullRawMessage
	CreatedAt       time.Time
}

// InsertTimeAddition reports the number of rows written: zero when the
// external event id is already recorded
func (q *Queries) InsertTimeAddition(ctx context.Context, arg InsertTimeAdditionParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, insertTimeAddition,
		arg.ID,
		arg.StreamerID,
		arg.EventType,
		arg.TimeSeconds,
		arg.PlayerIdentity,
		arg.ExternalEventID,
		arg.EventData,
		arg.CreatedAt,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const listTimeAdditions = `SELECT ` + timeAdditionColumns + `
FROM time_additions
WHERE streamer_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2`

func (q *Queries) ListTimeAdditions(ctx context.Context, streamerID uuid.UUID, limit int32) ([]TimeAddition, error) {
	rows, err := q.db.QueryContext(ctx, listTimeAdditions, streamerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []TimeAddition
	for rows.Next() {
		var i TimeAddition
		if err := rows.Scan(
			&i.ID,
			&i.StreamerID,
			&i.EventType,
			&i.TimeSeconds,
			&i.PlayerIdentity,
			&i.ExternalEventID,
			&i.EventData,
			&i.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const sumTimeAdditions = `SELECT COALESCE(SUM(time_seconds), 0)::BIGINT FROM time_additions WHERE streamer_id = $1`

func (q *Queries) SumTimeAdditions(ctx context.Context, streamerID uuid.UUID) (int64, error) {
	var total int64
	err := q.db.QueryRowContext(ctx, sumTimeAdditions, streamerID).Scan(&total)
	return total, err
}

const hasExternalEvent = `SELECT EXISTS (SELECT 1 FROM time_additions WHERE external_event_id = $1)
    OR EXISTS (SELECT 1 FROM processed_events WHERE event_id = $1)`

func (q *Queries) HasExternalEvent(ctx context.Context, eventID string) (bool, error) {
	var seen bool
	err := q.db.QueryRowContext(ctx, hasExternalEvent, eventID).Scan(&seen)
	return seen, err
}

const insertProcessedEvent = `INSERT INTO processed_events (event_id, streamer_id, event_type, processed_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (event_id) DO NOTHING`

// InsertProcessedEvent reports the number of rows written: zero when the
// event id is already recorded
func (q *Queries) InsertProcessedEvent(ctx context.Context, arg ProcessedEvent) (int64, error) {
	result, err := q.db.ExecContext(ctx, insertProcessedEvent,
		arg.EventID,
		arg.StreamerID,
		arg.EventType,
		arg.ProcessedAt,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const insertUnresolvedEvent = `INSERT INTO unresolved_events (
    id, platform, event_id, event_type, platform_user_id, reason, payload, received_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (platform, event_id) DO NOTHING`

func (q *Queries) InsertUnresolvedEvent(ctx context.Context, arg UnresolvedEvent) error {
	_, err := q.db.ExecContext(ctx, insertUnresolvedEvent,
		arg.ID,
		arg.Platform,
		arg.EventID,
		arg.EventType,
		arg.PlatformUserID,
		arg.Reason,
		arg.Payload,
		arg.ReceivedAt,
	)
	return err
}

const listUnresolvedEvents = `SELECT id, platform, event_id, event_type, platform_user_id, reason, payload, received_at
FROM unresolved_events
ORDER BY received_at DESC, id DESC
LIMIT $1`

func (q *Queries) ListUnresolvedEvents(ctx context.Context, limit int32) ([]UnresolvedEvent, error) {
	rows, err := q.db.QueryContext(ctx, listUnresolvedEvents, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []UnresolvedEvent
	for rows.Next() {
		var i UnresolvedEvent
		if err := rows.Scan(
			&i.ID,
			&i.Platform,
			&i.EventID,
			&i.EventType,
			&i.PlatformUserID,
			&i.Reason,
			&i.Payload,
			&i.ReceivedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
