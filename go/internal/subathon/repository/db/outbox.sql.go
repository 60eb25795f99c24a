package db

import (
	"context"

	"github.com/google/uuid"
)

const outboxColumns = `id, streamer_id, event_type, version, payload, created_at, sent_at`

func scanOutbox(row interface{ Scan(...interface{}) error }) (SubathonOutbox, error) {
	var i SubathonOutbox
	err := row.Scan(
		&i.ID,
		&i.StreamerID,
		&i.EventType,
		&i.Version,
		&i.Payload,
		&i.CreatedAt,
		&i.SentAt,
	)
	return i, err
}

const insertOutbox = `INSERT INTO subathon_outbox (id, streamer_id, event_type, version, payload, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`

func (q *Queries) InsertOutbox(ctx context.Context, arg SubathonOutbox) error {
	_, err := q.db.ExecContext(ctx, insertOutbox,
		arg.ID,
		arg.StreamerID,
		arg.EventType,
		arg.Version,
		arg.Payload,
		arg.CreatedAt,
	)
	return err
}

const fetchOutboxByID = `SELECT ` + outboxColumns + `
FROM subathon_outbox
WHERE id = $1 AND sent_at IS NULL`

// FetchOutboxByID returns sql.ErrNoRows when the row is missing or already sent
func (q *Queries) FetchOutboxByID(ctx context.Context, id uuid.UUID) (SubathonOutbox, error) {
	return scanOutbox(q.db.QueryRowContext(ctx, fetchOutboxByID, id))
}

const fetchUnsentOutbox = `SELECT ` + outboxColumns + `
FROM subathon_outbox
WHERE sent_at IS NULL
ORDER BY created_at, version
LIMIT $1`

func (q *Queries) FetchUnsentOutbox(ctx context.Context, limit int32) ([]SubathonOutbox, error) {
	rows, err := q.db.QueryContext(ctx, fetchUnsentOutbox, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []SubathonOutbox
	for rows.Next() {
		i, err := scanOutbox(rows)
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

const markOutboxSent = `UPDATE subathon_outbox SET sent_at = NOW() WHERE id = $1`

func (q *Queries) MarkOutboxSent(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.ExecContext(ctx, markOutboxSent, id)
	return err
}
