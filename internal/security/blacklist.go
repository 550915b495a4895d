package security

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrInvalidIP is returned for addresses that do not parse.
	ErrInvalidIP = errors.New("security: invalid ip address")
	// ErrNotFound indicates the address is not blacklisted.
	ErrNotFound = errors.New("security: not found")
)

// BlacklistEntry is a blocked client address.
type BlacklistEntry struct {
	IP        string     `json:"ip"`
	Reason    string     `json:"reason"`
	CreatedBy *int64     `json:"created_by,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Active reports whether the entry still blocks at now.
func (e BlacklistEntry) Active(now time.Time) bool {
	return e.ExpiresAt == nil || e.ExpiresAt.After(now)
}

// BlacklistStore persists blacklist entries.
type BlacklistStore interface {
	Upsert(ctx context.Context, entry BlacklistEntry) error
	Delete(ctx context.Context, ip string) error
	Get(ctx context.Context, ip string) (BlacklistEntry, error)
	List(ctx context.Context) ([]BlacklistEntry, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// NormalizeIP validates raw and returns its canonical text form.
func NormalizeIP(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if host, _, ok := strings.Cut(raw, "%"); ok {
		raw = host
	}
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidIP, raw)
	}
	return addr.Unmap().String(), nil
}

// Blacklist answers "is this address blocked" with a short-lived local cache
// in front of the store.
type Blacklist struct {
	store BlacklistStore
	cache *expirable.LRU[string, bool]
	now   func() time.Time
}

// NewBlacklist wraps store. cacheTTL bounds how long another instance's
// change may take to be observed here.
func NewBlacklist(store BlacklistStore, cacheTTL time.Duration) *Blacklist {
	if cacheTTL <= 0 {
		cacheTTL = 15 * time.Second
	}
	return &Blacklist{
		store: store,
		cache: expirable.NewLRU[string, bool](4096, nil, cacheTTL),
		now:   time.Now,
	}
}

// Add blocks ip for ttl; a zero ttl blocks until removed.
func (b *Blacklist) Add(ctx context.Context, ip, reason string, createdBy *int64, ttl time.Duration) (BlacklistEntry, error) {
	normalized, err := NormalizeIP(ip)
	if err != nil {
		return BlacklistEntry{}, err
	}
	entry := BlacklistEntry{
		IP:        normalized,
		Reason:    strings.TrimSpace(reason),
		CreatedBy: createdBy,
		CreatedAt: b.now().UTC(),
	}
	if ttl > 0 {
		expires := entry.CreatedAt.Add(ttl)
		entry.ExpiresAt = &expires
	}
	if err := b.store.Upsert(ctx, entry); err != nil {
		return BlacklistEntry{}, err
	}
	b.cache.Add(normalized, true)
	return entry, nil
}

// Remove unblocks ip.
func (b *Blacklist) Remove(ctx context.Context, ip string) error {
	normalized, err := NormalizeIP(ip)
	if err != nil {
		return err
	}
	if err := b.store.Delete(ctx, normalized); err != nil {
		return err
	}
	b.cache.Remove(normalized)
	return nil
}

// IsBlocked reports whether ip has an active entry.
func (b *Blacklist) IsBlocked(ctx context.Context, ip string) (bool, error) {
	normalized, err := NormalizeIP(ip)
	if err != nil {
		return false, err
	}
	if blocked, ok := b.cache.Get(normalized); ok {
		return blocked, nil
	}
	entry, err := b.store.Get(ctx, normalized)
	switch {
	case errors.Is(err, ErrNotFound):
		b.cache.Add(normalized, false)
		return false, nil
	case err != nil:
		return false, err
	}
	blocked := entry.Active(b.now())
	b.cache.Add(normalized, blocked)
	return blocked, nil
}

// List returns active entries.
func (b *Blacklist) List(ctx context.Context) ([]BlacklistEntry, error) {
	entries, err := b.store.List(ctx)
	if err != nil {
		return nil, err
	}
	now := b.now()
	active := make([]BlacklistEntry, 0, len(entries))
	for _, e := range entries {
		if e.Active(now) {
			active = append(active, e)
		}
	}
	return active, nil
}

// SweepExpired deletes entries whose expiry has passed.
func (b *Blacklist) SweepExpired(ctx context.Context) (int64, error) {
	n, err := b.store.DeleteExpired(ctx, b.now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		b.cache.Purge()
	}
	return n, nil
}

// PGBlacklistStore keeps entries in the ip_blacklist table.
type PGBlacklistStore struct {
	pool *pgxpool.Pool
}

// NewPGBlacklistStore constructs the store.
func NewPGBlacklistStore(pool *pgxpool.Pool) *PGBlacklistStore {
	return &PGBlacklistStore{pool: pool}
}

// Upsert inserts or refreshes an entry.
func (s *PGBlacklistStore) Upsert(ctx context.Context, entry BlacklistEntry) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO ip_blacklist (ip, reason, created_by, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (ip) DO UPDATE SET reason = EXCLUDED.reason, created_by = EXCLUDED.created_by,
			created_at = EXCLUDED.created_at, expires_at = EXCLUDED.expires_at`,
		entry.IP, entry.Reason, entry.CreatedBy, entry.CreatedAt, entry.ExpiresAt)
	return err
}

// Delete removes an entry.
func (s *PGBlacklistStore) Delete(ctx context.Context, ip string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM ip_blacklist WHERE ip = $1`, ip)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Get loads one entry.
func (s *PGBlacklistStore) Get(ctx context.Context, ip string) (BlacklistEntry, error) {
	var e BlacklistEntry
	err := s.pool.QueryRow(ctx, `SELECT ip, reason, created_by, created_at, expires_at FROM ip_blacklist WHERE ip = $1`, ip).
		Scan(&e.IP, &e.Reason, &e.CreatedBy, &e.CreatedAt, &e.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return BlacklistEntry{}, ErrNotFound
		}
		return BlacklistEntry{}, err
	}
	return e, nil
}

// List returns every entry, newest first.
func (s *PGBlacklistStore) List(ctx context.Context) ([]BlacklistEntry, error) {
	rows, err := s.pool.Query(ctx, `SELECT ip, reason, created_by, created_at, expires_at FROM ip_blacklist ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []BlacklistEntry
	for rows.Next() {
		var e BlacklistEntry
		if err := rows.Scan(&e.IP, &e.Reason, &e.CreatedBy, &e.CreatedAt, &e.ExpiresAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// DeleteExpired removes entries expired at now.
func (s *PGBlacklistStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM ip_blacklist WHERE expires_at IS NOT NULL AND expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
