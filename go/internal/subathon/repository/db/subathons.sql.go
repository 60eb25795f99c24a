package db

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const subathonColumns = `streamer_id, status, current_clicks, clicks_required, cooldown_seconds,
    time_mode, time_increment, min_random_time, max_random_time,
    initial_duration, total_elapsed_time, total_time_added, total_paused_duration,
    stream_started_at, pause_started_at, ended_at, version, created_at, updated_at,
    elapsed_carry_us, paused_carry_us`

func scanSubathon(row interface{ Scan(...interface{}) error }) (Subathon, error) {
	var i Subathon
	err := row.Scan(
		&i.StreamerID,
		&i.Status,
		&i.CurrentClicks,
		&i.ClicksRequired,
		&i.CooldownSeconds,
		&i.TimeMode,
		&i.TimeIncrement,
		&i.MinRandomTime,
		&i.MaxRandomTime,
		&i.InitialDuration,
		&i.TotalElapsedTime,
		&i.TotalTimeAdded,
		&i.TotalPausedDuration,
		&i.StreamStartedAt,
		&i.PauseStartedAt,
		&i.EndedAt,
		&i.Version,
		&i.CreatedAt,
		&i.UpdatedAt,
		&i.ElapsedCarryUs,
		&i.PausedCarryUs,
	)
	return i, err
}

const createSubathon = `INSERT INTO subathons (` + subathonColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`

func (q *Queries) CreateSubathon(ctx context.Context, arg Subathon) error {
	_, err := q.db.ExecContext(ctx, createSubathon, subathonArgs(arg)...)
	return err
}

const getSubathon = `SELECT ` + subathonColumns + ` FROM subathons WHERE streamer_id = $1`

func (q *Queries) GetSubathon(ctx context.Context, streamerID uuid.UUID) (Subathon, error) {
	return scanSubathon(q.db.QueryRowContext(ctx, getSubathon, streamerID))
}

const getSubathonForUpdate = getSubathon + ` FOR UPDATE`

// GetSubathonForUpdate locks the row until the surrounding transaction ends
func (q *Queries) GetSubathonForUpdate(ctx context.Context, streamerID uuid.UUID) (Subathon, error) {
	return scanSubathon(q.db.QueryRowContext(ctx, getSubathonForUpdate, streamerID))
}

const listSubathonsByStatus = `SELECT ` + subathonColumns + `
FROM subathons
WHERE status = $1
ORDER BY streamer_id`

func (q *Queries) ListSubathonsByStatus(ctx context.Context, status string) ([]Subathon, error) {
	rows, err := q.db.QueryContext(ctx, listSubathonsByStatus, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Subathon
	for rows.Next() {
		i, err := scanSubathon(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const updateSubathon = `UPDATE subathons
SET status = $2,
    current_clicks = $3,
    clicks_required = $4,
    cooldown_seconds = $5,
    time_mode = $6,
    time_increment = $7,
    min_random_time = $8,
    max_random_time = $9,
    initial_duration = $10,
    total_elapsed_time = $11,
    total_time_added = $12,
    total_paused_duration = $13,
    stream_started_at = $14,
    pause_started_at = $15,
    ended_at = $16,
    version = $17,
    updated_at = $18,
    elapsed_carry_us = $19,
    paused_carry_us = $20
WHERE streamer_id = $1 AND version = $17 - 1`

// UpdateSubathon writes the row. It reports how many rows changed, which is
// zero when the stored version is not the one immediately before arg.Version.
func (q *Queries) UpdateSubathon(ctx context.Context, arg Subathon) (int64, error) {
	args := subathonArgs(arg)
	// created_at never changes
	args = append(args[:17:17], arg.UpdatedAt, arg.ElapsedCarryUs, arg.PausedCarryUs)
	result, err := q.db.ExecContext(ctx, updateSubathon, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func subathonArgs(arg Subathon) []interface{} {
	return []interface{}{
		arg.StreamerID,
		arg.Status,
		arg.CurrentClicks,
		arg.ClicksRequired,
		arg.CooldownSeconds,
		arg.TimeMode,
		arg.TimeIncrement,
		arg.MinRandomTime,
		arg.MaxRandomTime,
		arg.InitialDuration,
		arg.TotalElapsedTime,
		arg.TotalTimeAdded,
		arg.TotalPausedDuration,
		arg.StreamStartedAt,
		arg.PauseStartedAt,
		arg.EndedAt,
		arg.Version,
		arg.CreatedAt,
		arg.UpdatedAt,
		arg.ElapsedCarryUs,
		arg.PausedCarryUs,
	}
}

const getLastClick = `SELECT last_click_at FROM click_cooldowns
WHERE streamer_id = $1 AND player_identity = $2`

func (q *Queries) GetLastClick(ctx context.Context, streamerID uuid.UUID, playerIdentity string) (time.Time, error) {
	var lastClickAt time.Time
	err := q.db.QueryRowContext(ctx, getLastClick, streamerID, playerIdentity).Scan(&lastClickAt)
	return lastClickAt, err
}

const upsertClick = `INSERT INTO click_cooldowns (streamer_id, player_identity, last_click_at)
VALUES ($1, $2, $3)
ON CONFLICT (streamer_id, player_identity) DO UPDATE
SET last_click_at = EXCLUDED.last_click_at`

func (q *Queries) UpsertClick(ctx context.Context, streamerID uuid.UUID, playerIdentity string, at time.Time) error {
	_, err := q.db.ExecContext(ctx, upsertClick, streamerID, playerIdentity, at)
	return err
}
