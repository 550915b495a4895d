package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/beacon-dash/beacon/internal/platform/db"
)

// Entry is a single auditable action.
type Entry struct {
	ActorID  int64
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	IP       string
	At       time.Time
}

// Recorder writes audit entries.
type Recorder struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewRecorder constructs a Recorder.
func NewRecorder(pool *pgxpool.Pool) *Recorder {
	return &Recorder{pool: pool, now: time.Now}
}

// Record persists entry outside any caller transaction.
func (r *Recorder) Record(ctx context.Context, entry Entry) error {
	if r == nil || r.pool == nil {
		return nil
	}
	return r.RecordTx(ctx, r.pool, entry)
}

// RecordTx persists entry through q, so callers can commit it atomically with
// the change it describes.
func (r *Recorder) RecordTx(ctx context.Context, q db.Querier, entry Entry) error {
	entry.Action = strings.TrimSpace(entry.Action)
	entry.Entity = strings.TrimSpace(entry.Entity)
	if entry.Action == "" || entry.Entity == "" {
		return fmt.Errorf("audit: action and entity required")
	}
	if entry.At.IsZero() {
		now := time.Now
		if r != nil && r.now != nil {
			now = r.now
		}
		entry.At = now().UTC()
	}
	meta := entry.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	payload, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("audit: encode meta: %w", err)
	}
	_, err = q.Exec(ctx, `INSERT INTO audit_logs (actor_id, action, entity, entity_id, meta, ip, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ActorID, entry.Action, entry.Entity, entry.EntityID, payload, entry.IP, entry.At)
	if err != nil {
		return fmt.Errorf("audit: record %s %s: %w", entry.Entity, entry.Action, err)
	}
	return nil
}
