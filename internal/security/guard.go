package security

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/beacon-dash/beacon/internal/shared"
)

// GuardConfig tunes the failed-login guard.
type GuardConfig struct {
	MaxAttempts int
	Window      time.Duration
	BanTTL      time.Duration
}

// LoginGuard counts failed logins per address in fixed Redis windows and
// blacklists addresses that exceed the limit.
type LoginGuard struct {
	client    *redis.Client
	blacklist *Blacklist
	cfg       GuardConfig
	logger    *slog.Logger
	prefix    string
}

// NewLoginGuard constructs a LoginGuard.
func NewLoginGuard(client *redis.Client, blacklist *Blacklist, cfg GuardConfig, logger *slog.Logger) *LoginGuard {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Window <= 0 {
		cfg.Window = 15 * time.Minute
	}
	if cfg.BanTTL <= 0 {
		cfg.BanTTL = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LoginGuard{client: client, blacklist: blacklist, cfg: cfg, logger: logger, prefix: "login:fail"}
}

// Check returns shared.ErrLoginBlocked when ip may not attempt a login.
func (g *LoginGuard) Check(ctx context.Context, ip string) error {
	blocked, err := g.blacklist.IsBlocked(ctx, ip)
	if err != nil {
		return err
	}
	if blocked {
		return shared.ErrLoginBlocked
	}
	return nil
}

// RecordFailure counts a failed attempt and reports whether ip is now blocked.
func (g *LoginGuard) RecordFailure(ctx context.Context, ip string) (bool, error) {
	normalized, err := NormalizeIP(ip)
	if err != nil {
		return false, err
	}
	key := g.key(normalized)
	var incr *redis.IntCmd
	if _, err := g.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, g.cfg.Window)
		return nil
	}); err != nil {
		return false, fmt.Errorf("security: count failure: %w", err)
	}
	count := incr.Val()
	if count < int64(g.cfg.MaxAttempts) {
		return false, nil
	}
	reason := fmt.Sprintf("%d failed logins within %s", count, g.cfg.Window)
	if _, err := g.blacklist.Add(ctx, normalized, reason, nil, g.cfg.BanTTL); err != nil {
		return false, err
	}
	if err := g.client.Del(ctx, key).Err(); err != nil {
		g.logger.Warn("reset login counter", slog.String("ip", normalized), slog.Any("error", err))
	}
	g.logger.Warn("address blacklisted", slog.String("ip", normalized), slog.Int64("attempts", count))
	return true, nil
}

// Reset clears the failure counter after a successful login.
func (g *LoginGuard) Reset(ctx context.Context, ip string) error {
	normalized, err := NormalizeIP(ip)
	if err != nil {
		return err
	}
	return g.client.Del(ctx, g.key(normalized)).Err()
}

// Attempts returns the failures counted in the current window.
func (g *LoginGuard) Attempts(ctx context.Context, ip string) (int64, error) {
	normalized, err := NormalizeIP(ip)
	if err != nil {
		return 0, err
	}
	n, err := g.client.Get(ctx, g.key(normalized)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}

func (g *LoginGuard) key(ip string) string {
	return g.prefix + ":" + ip
}
