package analytics

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ActivityCounter counts audit events per UTC day.
type ActivityCounter interface {
	CountSince(ctx context.Context, since time.Time) (map[string]int64, error)
}

// PGRepository reads aggregate counters from PostgreSQL.
type PGRepository struct {
	pool     *pgxpool.Pool
	activity ActivityCounter
}

// NewRepository constructs a PGRepository. Audit activity is delegated to the
// audit repository so the day bucketing lives in one place.
func NewRepository(pool *pgxpool.Pool, activity ActivityCounter) *PGRepository {
	return &PGRepository{pool: pool, activity: activity}
}

var _ Repository = (*PGRepository)(nil)

// UserStats counts users overall, active users and users per role.
func (r *PGRepository) UserStats(ctx context.Context) (UserStats, error) {
	stats := UserStats{ByRole: make(map[string]int64)}
	rows, err := r.pool.Query(ctx, `SELECT role, COUNT(*), COUNT(*) FILTER (WHERE is_active) FROM users GROUP BY role`)
	if err != nil {
		return UserStats{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var role string
		var total, active int64
		if err := rows.Scan(&role, &total, &active); err != nil {
			return UserStats{}, err
		}
		stats.ByRole[role] = total
		stats.Total += total
		stats.Active += active
	}
	return stats, rows.Err()
}

// ContentStats counts content items per status.
func (r *PGRepository) ContentStats(ctx context.Context) (ContentStats, error) {
	var stats ContentStats
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*),
		COUNT(*) FILTER (WHERE status = 'published'),
		COUNT(*) FILTER (WHERE status = 'draft')
		FROM content`).Scan(&stats.Total, &stats.Published, &stats.Drafts)
	return stats, err
}

// ActiveBlacklist counts blacklist entries that have not expired.
func (r *PGRepository) ActiveBlacklist(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM ip_blacklist WHERE expires_at IS NULL OR expires_at > $1`, now).Scan(&n)
	return n, err
}

// ActivitySince returns audit events per day since the given time.
func (r *PGRepository) ActivitySince(ctx context.Context, since time.Time) (map[string]int64, error) {
	if r.activity == nil {
		return map[string]int64{}, nil
	}
	return r.activity.CountSince(ctx, since)
}
