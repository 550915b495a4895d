package analytics

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultWindowDays is the audit activity window reported by Summary.
const DefaultWindowDays = 7

// Repository exposes the aggregate counters backing the dashboard summary.
type Repository interface {
	UserStats(ctx context.Context) (UserStats, error)
	ContentStats(ctx context.Context) (ContentStats, error)
	ActiveBlacklist(ctx context.Context, now time.Time) (int64, error)
	ActivitySince(ctx context.Context, since time.Time) (map[string]int64, error)
}

// Service orchestrates analytics queries with caching.
type Service struct {
	repo  Repository
	cache *Cache
	days  int
	now   func() time.Time
}

// NewService constructs the analytics service.
func NewService(repo Repository, cache *Cache) *Service {
	return &Service{repo: repo, cache: cache, days: DefaultWindowDays, now: time.Now}
}

// WithNow overrides the clock.
func (s *Service) WithNow(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// GetSummary returns the dashboard summary, served from cache when fresh.
func (s *Service) GetSummary(ctx context.Context) (Summary, error) {
	key, err := s.cache.Key(ctx, keySummary(s.days))
	if err != nil {
		return Summary{}, err
	}
	var out Summary
	err = s.cache.Load(ctx, key, &out, func(ctx context.Context) (any, error) {
		return s.load(ctx)
	})
	return out, err
}

// Invalidate drops every cached summary.
func (s *Service) Invalidate(ctx context.Context) error {
	return s.cache.Bump(ctx)
}

// Warmup recomputes the summary under a fresh cache version.
func (s *Service) Warmup(ctx context.Context) (Summary, error) {
	if err := s.cache.Bump(ctx); err != nil {
		return Summary{}, err
	}
	return s.GetSummary(ctx)
}

func (s *Service) load(ctx context.Context) (Summary, error) {
	now := s.now().UTC()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -(s.days - 1))

	var (
		summary  = Summary{GeneratedAt: now, WindowDays: s.days}
		activity map[string]int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		stats, err := s.repo.UserStats(gctx)
		summary.Users = stats
		return err
	})
	g.Go(func() error {
		stats, err := s.repo.ContentStats(gctx)
		summary.Content = stats
		return err
	})
	g.Go(func() error {
		n, err := s.repo.ActiveBlacklist(gctx, now)
		summary.BlockedIPs = n
		return err
	})
	g.Go(func() error {
		counts, err := s.repo.ActivitySince(gctx, start)
		activity = counts
		return err
	})
	if err := g.Wait(); err != nil {
		return Summary{}, err
	}

	summary.Activity = make([]DayActivity, 0, s.days)
	for i := 0; i < s.days; i++ {
		day := start.AddDate(0, 0, i).Format("2006-01-02")
		summary.Activity = append(summary.Activity, DayActivity{Day: day, Events: activity[day]})
	}
	if summary.Users.ByRole == nil {
		summary.Users.ByRole = map[string]int64{}
	}
	return summary, nil
}
