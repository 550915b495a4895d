package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TimelineWindowParams selects one page of the timeline.
type TimelineWindowParams struct {
	FromAt     pgtype.Timestamptz
	ToAt       pgtype.Timestamptz
	Actor      pgtype.Text
	Entity     pgtype.Text
	Action     pgtype.Text
	OffsetRows int32
	LimitRows  int32
}

// TimelineAllParams selects the whole filtered timeline.
type TimelineAllParams struct {
	FromAt pgtype.Timestamptz
	ToAt   pgtype.Timestamptz
	Actor  pgtype.Text
	Entity pgtype.Text
	Action pgtype.Text
}

// TimelineRecord is the raw row shape returned by the repository.
type TimelineRecord struct {
	ID         int64
	At         pgtype.Timestamptz
	ActorID    int64
	ActorEmail pgtype.Text
	Action     string
	Entity     string
	EntityID   string
	IP         string
	Meta       []byte
}

// PGRepository reads and prunes audit_logs.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PGRepository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const timelineSelect = `SELECT a.id, a.occurred_at, a.actor_id, u.email, a.action, a.entity, a.entity_id, a.ip, a.meta
FROM audit_logs a
LEFT JOIN users u ON u.id = a.actor_id
WHERE ($1::timestamptz IS NULL OR a.occurred_at >= $1)
  AND ($2::timestamptz IS NULL OR a.occurred_at < $2)
  AND ($3::text IS NULL OR u.email = $3 OR a.actor_id::text = $3)
  AND ($4::text IS NULL OR a.entity = $4)
  AND ($5::text IS NULL OR a.action = $5)
ORDER BY a.occurred_at DESC, a.id DESC`

// AuditTimelineWindow returns one page of entries, newest first.
func (r *PGRepository) AuditTimelineWindow(ctx context.Context, arg TimelineWindowParams) ([]TimelineRecord, error) {
	rows, err := r.pool.Query(ctx, timelineSelect+` OFFSET $6 LIMIT $7`,
		arg.FromAt, arg.ToAt, arg.Actor, arg.Entity, arg.Action, arg.OffsetRows, arg.LimitRows)
	if err != nil {
		return nil, err
	}
	return scanTimeline(rows)
}

// AuditTimelineAll returns every matching entry, newest first.
func (r *PGRepository) AuditTimelineAll(ctx context.Context, arg TimelineAllParams) ([]TimelineRecord, error) {
	rows, err := r.pool.Query(ctx, timelineSelect, arg.FromAt, arg.ToAt, arg.Actor, arg.Entity, arg.Action)
	if err != nil {
		return nil, err
	}
	return scanTimeline(rows)
}

// DeleteBefore removes entries older than cutoff and reports how many.
func (r *PGRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM audit_logs WHERE occurred_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CountSince counts entries per day since the given time, keyed by UTC date.
func (r *PGRepository) CountSince(ctx context.Context, since time.Time) (map[string]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT to_char(date_trunc('day', occurred_at AT TIME ZONE 'UTC'), 'YYYY-MM-DD'), COUNT(*)
		FROM audit_logs WHERE occurred_at >= $1 GROUP BY 1`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]int64)
	for rows.Next() {
		var day string
		var n int64
		if err := rows.Scan(&day, &n); err != nil {
			return nil, err
		}
		out[day] = n
	}
	return out, rows.Err()
}

func scanTimeline(rows pgx.Rows) ([]TimelineRecord, error) {
	defer rows.Close()
	var out []TimelineRecord
	for rows.Next() {
		var rec TimelineRecord
		if err := rows.Scan(&rec.ID, &rec.At, &rec.ActorID, &rec.ActorEmail, &rec.Action, &rec.Entity, &rec.EntityID, &rec.IP, &rec.Meta); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func decodeMeta(raw []byte) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var meta map[string]any
	if err := json.Unmarshal(raw, &meta); err != nil || len(meta) == 0 {
		return nil
	}
	return meta
}
