package roles

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/beacon-dash/beacon/internal/audit"
	"github.com/beacon-dash/beacon/internal/authz"
	"github.com/beacon-dash/beacon/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool     *pgxpool.Pool
	recorder *audit.Recorder
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool, recorder *audit.Recorder) *Repository {
	return &Repository{pool: pool, recorder: recorder}
}

// UserRole returns the current role of a user.
func (r *Repository) UserRole(ctx context.Context, userID int64) (authz.Role, error) {
	var role string
	err := r.pool.QueryRow(ctx, `SELECT role FROM users WHERE id = $1`, userID).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrUserNotFound
	}
	return authz.Role(role), err
}

// AssignRole moves a user to role and writes the audit entry in the same
// transaction. check runs against the locked current role so a concurrent
// assignment cannot slip past it.
func (r *Repository) AssignRole(ctx context.Context, actorID, userID int64, role authz.Role, ip string, check func(current authz.Role) error) (authz.Role, error) {
	var previous authz.Role
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var current string
		err := tx.QueryRow(ctx, `SELECT role FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&current)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrUserNotFound
			}
			return err
		}
		previous = authz.Role(current)
		if err := check(previous); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `UPDATE users SET role = $2, updated_at = NOW() WHERE id = $1`, userID, string(role)); err != nil {
			if db.IsForeignKeyViolation(err) {
				return ErrUnknownRole
			}
			return err
		}
		return r.recorder.RecordTx(ctx, tx, audit.Entry{
			ActorID:  actorID,
			Action:   "role.assign",
			Entity:   "user",
			EntityID: strconv.FormatInt(userID, 10),
			Meta:     map[string]any{"from": string(previous), "to": string(role)},
			IP:       ip,
		})
	})
	return previous, err
}
