// Package settings stores operator-editable key/value configuration.
package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/beacon-dash/beacon/internal/audit"
	"github.com/beacon-dash/beacon/internal/platform/httpx"
	"github.com/beacon-dash/beacon/internal/rbac"
)

var (
	// ErrNotFound indicates the key has no stored value.
	ErrNotFound = fmt.Errorf("setting %w", httpx.ErrNotFound)
	// ErrInvalidKey indicates a malformed key.
	ErrInvalidKey = fmt.Errorf("invalid setting key: %w", httpx.ErrValidation)
)

// Setting is one stored value.
type Setting struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedBy *int64    `json:"updated_by,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists settings.
type Store interface {
	List(ctx context.Context) ([]Setting, error)
	Get(ctx context.Context, key string) (Setting, error)
	Put(ctx context.Context, key, value string, updatedBy int64) (Setting, error)
}

// AuditRecorder records setting changes.
type AuditRecorder interface {
	Record(ctx context.Context, entry audit.Entry) error
}

// Service validates and audits setting changes.
type Service struct {
	store    Store
	audit    AuditRecorder
	logger   *slog.Logger
	validate *validator.Validate
}

// NewService constructs a Service.
func NewService(store Store, recorder AuditRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, audit: recorder, logger: logger, validate: httpx.NewValidator()}
}

// List returns every stored setting ordered by key.
func (s *Service) List(ctx context.Context) ([]Setting, error) {
	return s.store.List(ctx)
}

// Get returns one setting.
func (s *Service) Get(ctx context.Context, key string) (Setting, error) {
	key, err := s.normalizeKey(key)
	if err != nil {
		return Setting{}, err
	}
	return s.store.Get(ctx, key)
}

// Put stores value under key and records the previous value.
func (s *Service) Put(ctx context.Context, actor rbac.Principal, key, value, ip string) (Setting, error) {
	key, err := s.normalizeKey(key)
	if err != nil {
		return Setting{}, err
	}
	var previous *string
	if old, err := s.store.Get(ctx, key); err == nil {
		previous = &old.Value
	} else if !errors.Is(err, ErrNotFound) {
		return Setting{}, err
	}
	setting, err := s.store.Put(ctx, key, value, actor.UserID)
	if err != nil {
		return Setting{}, err
	}
	if s.audit != nil {
		if err := s.audit.Record(ctx, audit.Entry{
			ActorID:  actor.UserID,
			Action:   "settings.update",
			Entity:   "setting",
			EntityID: key,
			Meta:     map[string]any{"from": previous, "to": value},
			IP:       ip,
		}); err != nil {
			s.logger.Error("audit setting change", slog.String("key", key), slog.Any("error", err))
		}
	}
	return setting, nil
}

func (s *Service) normalizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if err := s.validate.Var(key, "required,max=64,lowercase,excludesall= /\\"); err != nil {
		return "", ErrInvalidKey
	}
	return key, nil
}

// PGStore implements Store on PostgreSQL.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore constructs a PGStore.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// List returns all settings.
func (p *PGStore) List(ctx context.Context) ([]Setting, error) {
	rows, err := p.pool.Query(ctx, `SELECT key, value, updated_by, updated_at FROM settings ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Setting{}
	for rows.Next() {
		s, err := scanSetting(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Get loads one setting.
func (p *PGStore) Get(ctx context.Context, key string) (Setting, error) {
	s, err := scanSetting(p.pool.QueryRow(ctx, `SELECT key, value, updated_by, updated_at FROM settings WHERE key = $1`, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return Setting{}, ErrNotFound
	}
	return s, err
}

// Put upserts a setting.
func (p *PGStore) Put(ctx context.Context, key, value string, updatedBy int64) (Setting, error) {
	return scanSetting(p.pool.QueryRow(ctx, `INSERT INTO settings (key, value, updated_by, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_by = EXCLUDED.updated_by, updated_at = NOW()
		RETURNING key, value, updated_by, updated_at`,
		key, value, pgtype.Int8{Int64: updatedBy, Valid: updatedBy > 0}))
}

func scanSetting(row pgx.Row) (Setting, error) {
	var s Setting
	var by pgtype.Int8
	if err := row.Scan(&s.Key, &s.Value, &by, &s.UpdatedAt); err != nil {
		return Setting{}, err
	}
	if by.Valid {
		v := by.Int64
		s.UpdatedBy = &v
	}
	return s, nil
}
