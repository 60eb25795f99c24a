package db

import (
	"context"

	"github.com/google/uuid"
)

const streamerColumns = `id, platform, platform_user_id, login, display_name, approved, created_at`

func scanStreamer(row interface{ Scan(...interface{}) error }) (Streamer, error) {
	var i Streamer
	err := row.Scan(
		&i.ID,
		&i.Platform,
		&i.PlatformUserID,
		&i.Login,
		&i.DisplayName,
		&i.Approved,
		&i.CreatedAt,
	)
	return i, err
}

const getStreamer = `SELECT ` + streamerColumns + ` FROM streamers WHERE id = $1`

func (q *Queries) GetStreamer(ctx context.Context, id uuid.UUID) (Streamer, error) {
	return scanStreamer(q.db.QueryRowContext(ctx, getStreamer, id))
}

const getStreamerByPlatformUser = `SELECT ` + streamerColumns + `
FROM streamers
WHERE platform = $1 AND platform_user_id = $2`

func (q *Queries) GetStreamerByPlatformUser(ctx context.Context, platform, platformUserID string) (Streamer, error) {
	return scanStreamer(q.db.QueryRowContext(ctx, getStreamerByPlatformUser, platform, platformUserID))
}

const upsertStreamer = `INSERT INTO streamers (id, platform, platform_user_id, login, display_name, approved)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (platform, platform_user_id) DO UPDATE
SET login = EXCLUDED.login,
    display_name = EXCLUDED.display_name,
    approved = EXCLUDED.approved
RETURNING ` + streamerColumns

type UpsertStreamerParams struct {
	ID             uuid.UUID
	Platform       string
	PlatformUserID string
	Login          string
	DisplayName    string
	Approved       bool
}

func (q *Queries) UpsertStreamer(ctx context.Context, arg UpsertStreamerParams) (Streamer, error) {
	return scanStreamer(q.db.QueryRowContext(ctx, upsertStreamer,
		arg.ID,
		arg.Platform,
		arg.PlatformUserID,
		arg.Login,
		arg.DisplayName,
		arg.Approved,
	))
}
