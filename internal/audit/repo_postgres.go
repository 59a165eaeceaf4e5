package audit

import (
	"context"
	"database/sql"
	"time"
)

// PostgresRepo writes webhook_audit_events. The table has no UPDATE/DELETE
// grants for the service role.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO webhook_audit_events (
  id, provider, event_id, event_type, entity_id, status, duplicate, error, raw_payload, received_at, processed_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID,
		e.Provider,
		e.EventID,
		e.EventType,
		e.EntityID,
		e.Status,
		e.Duplicate,
		e.Error,
		[]byte(e.RawPayload),
		e.ReceivedAt,
		e.ProcessedAt,
	)
	return err
}

func (r *PostgresRepo) Processed(ctx context.Context, provider, eventID string) (bool, error) {
	const q = `
SELECT EXISTS (
  SELECT 1 FROM webhook_audit_events
  WHERE provider = $1 AND event_id = $2 AND status <> 'failed'
)
`
	var ok bool
	err := r.db.QueryRowContext(ctx, q, provider, eventID).Scan(&ok)
	return ok, err
}

func (r *PostgresRepo) List(ctx context.Context, from, to time.Time) ([]Event, error) {
	const q = `
SELECT id, provider, event_id, event_type, entity_id, status, duplicate, error, raw_payload, received_at, processed_at
FROM webhook_audit_events
WHERE processed_at >= $1 AND processed_at < $2
ORDER BY processed_at
`
	rows, err := r.db.QueryContext(ctx, q, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var raw []byte
		if err := rows.Scan(
			&e.ID,
			&e.Provider,
			&e.EventID,
			&e.EventType,
			&e.EntityID,
			&e.Status,
			&e.Duplicate,
			&e.Error,
			&raw,
			&e.ReceivedAt,
			&e.ProcessedAt,
		); err != nil {
			return nil, err
		}
		e.RawPayload = raw
		out = append(out, e)
	}
	return out, rows.Err()
}
