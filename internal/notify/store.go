package notify

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/beacon-dash/beacon/internal/authz"
	"github.com/beacon-dash/beacon/internal/platform/db"
)

// PGStore keeps notification inboxes in PostgreSQL.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore constructs a PGStore.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// Recipients resolves a target to active user IDs using the stored roles.
func (s *PGStore) Recipients(ctx context.Context, all bool, users []int64, roles []authz.Role) ([]int64, error) {
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, string(r))
	}
	if users == nil {
		users = []int64{}
	}
	rows, err := s.pool.Query(ctx, `SELECT id FROM users
		WHERE is_active AND ($1 OR id = ANY($2) OR role = ANY($3))
		ORDER BY id`, all, users, names)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

// Insert stores one copy of msg per recipient.
func (s *PGStore) Insert(ctx context.Context, msg Message, recipients []int64) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		rows := make([][]any, 0, len(recipients))
		for _, id := range recipients {
			rows = append(rows, []any{uuid.New(), id, msg.SenderID, msg.Title, msg.Body, string(msg.Level), msg.CreatedAt})
		}
		_, err := tx.CopyFrom(ctx, pgx.Identifier{"notifications"},
			[]string{"id", "user_id", "sender_id", "title", "body", "level", "created_at"},
			pgx.CopyFromRows(rows))
		return err
	})
}

// List returns the newest notifications of userID.
func (s *PGStore) List(ctx context.Context, userID int64, unreadOnly bool, limit int) ([]Notification, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, user_id, sender_id, title, body, level, created_at, read_at
		FROM notifications WHERE user_id = $1 AND (NOT $2 OR read_at IS NULL)
		ORDER BY created_at DESC LIMIT $3`, userID, unreadOnly, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Notification{}
	for rows.Next() {
		var n Notification
		var level string
		var read pgtype.Timestamptz
		if err := rows.Scan(&n.ID, &n.UserID, &n.SenderID, &n.Title, &n.Body, &level, &n.CreatedAt, &read); err != nil {
			return nil, err
		}
		n.Level = Level(level)
		if read.Valid {
			t := read.Time
			n.ReadAt = &t
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkRead flags one of userID's notifications as read.
func (s *PGStore) MarkRead(ctx context.Context, userID int64, id uuid.UUID, at time.Time) error {
	var got uuid.UUID
	err := s.pool.QueryRow(ctx, `UPDATE notifications SET read_at = COALESCE(read_at, $3)
		WHERE id = $1 AND user_id = $2 RETURNING id`, id, userID, at).Scan(&got)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
