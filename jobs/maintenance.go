package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/beacon-dash/beacon/internal/analytics"
	"github.com/beacon-dash/beacon/internal/authz"
	jobmetrics "github.com/beacon-dash/beacon/internal/jobs"
	"github.com/beacon-dash/beacon/internal/notify"
)

// BlacklistSweeper removes expired blacklist entries.
type BlacklistSweeper interface {
	SweepExpired(ctx context.Context) (int64, error)
}

// AuditPurger deletes audit entries older than the retention window.
type AuditPurger interface {
	Purge(ctx context.Context, retention time.Duration) (int64, error)
}

// SummaryWarmer recomputes the cached analytics summary.
type SummaryWarmer interface {
	Warmup(ctx context.Context) (analytics.Summary, error)
}

// Notifier delivers system notifications to roles.
type Notifier interface {
	Notify(ctx context.Context, roles []authz.Role, title, body string, level notify.Level) error
}

// Maintenance bundles the periodic housekeeping jobs.
type Maintenance struct {
	Blacklist BlacklistSweeper
	Audit     AuditPurger
	Analytics SummaryWarmer
	Notifier  Notifier
	Retention time.Duration
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// Handlers returns the task handlers for every configured job.
func (m *Maintenance) Handlers() []TaskHandler {
	var out []TaskHandler
	if m.Blacklist != nil {
		out = append(out, TaskHandler{Type: TaskBlacklistSweep, Handler: m.HandleBlacklistSweep})
	}
	if m.Audit != nil {
		out = append(out, TaskHandler{Type: TaskAuditRetention, Handler: m.HandleAuditRetention})
	}
	if m.Analytics != nil {
		out = append(out, TaskHandler{Type: TaskAnalyticsWarmup, Handler: m.HandleAnalyticsWarmup})
	}
	if m.Notifier != nil {
		out = append(out, TaskHandler{Type: TaskNotify, Handler: m.HandleNotify})
	}
	return out
}

// Schedule returns the default cron registrations.
func (m *Maintenance) Schedule() ([]CronRegistration, error) {
	retention, err := NewAuditRetentionTask(0)
	if err != nil {
		return nil, err
	}
	return []CronRegistration{
		{Spec: "*/15 * * * *", Task: NewBlacklistSweepTask()},
		{Spec: "30 3 * * *", Task: retention},
		{Spec: "*/10 * * * *", Task: NewAnalyticsWarmupTask()},
	}, nil
}

// HandleBlacklistSweep processes TaskBlacklistSweep tasks.
func (m *Maintenance) HandleBlacklistSweep(ctx context.Context, _ *asynq.Task) error {
	if m.Blacklist == nil {
		return errors.New("blacklist sweep: not configured")
	}
	tracker := m.Metrics.Track(TaskBlacklistSweep)
	removed, err := m.Blacklist.SweepExpired(ctx)
	if err != nil {
		m.logger(TaskBlacklistSweep).Error("sweep blacklist", slog.Any("error", err))
		return tracker.End(err)
	}
	m.Metrics.AddAffected(TaskBlacklistSweep, removed)
	m.logger(TaskBlacklistSweep).Info("blacklist swept", slog.Int64("removed", removed))
	return tracker.End(nil)
}

// HandleAuditRetention processes TaskAuditRetention tasks.
func (m *Maintenance) HandleAuditRetention(ctx context.Context, t *asynq.Task) error {
	if m.Audit == nil {
		return errors.New("audit retention: not configured")
	}
	var payload AuditRetentionPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	retention := m.Retention
	if payload.RetentionHours > 0 {
		retention = time.Duration(payload.RetentionHours) * time.Hour
	}
	if retention <= 0 {
		return asynq.SkipRetry
	}

	tracker := m.Metrics.Track(TaskAuditRetention)
	deleted, err := m.Audit.Purge(ctx, retention)
	if err != nil {
		m.logger(TaskAuditRetention).Error("purge audit log", slog.Any("error", err))
		return tracker.End(err)
	}
	m.Metrics.AddAffected(TaskAuditRetention, deleted)
	m.logger(TaskAuditRetention).Info("audit log purged", slog.Int64("deleted", deleted), slog.Duration("retention", retention))
	return tracker.End(nil)
}

// HandleAnalyticsWarmup processes TaskAnalyticsWarmup tasks.
func (m *Maintenance) HandleAnalyticsWarmup(ctx context.Context, _ *asynq.Task) error {
	if m.Analytics == nil {
		return errors.New("analytics warmup: not configured")
	}
	tracker := m.Metrics.Track(TaskAnalyticsWarmup)
	warmCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()
	summary, err := m.Analytics.Warmup(warmCtx)
	if err != nil {
		m.logger(TaskAnalyticsWarmup).Error("warm analytics", slog.Any("error", err))
		return tracker.End(err)
	}
	m.logger(TaskAnalyticsWarmup).Info("analytics warmed", slog.Int64("users", summary.Users.Total))
	return tracker.End(nil)
}

// HandleNotify processes TaskNotify tasks.
func (m *Maintenance) HandleNotify(ctx context.Context, t *asynq.Task) error {
	if m.Notifier == nil {
		return errors.New("notify: not configured")
	}
	var payload NotifyPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.Title == "" {
		return asynq.SkipRetry
	}
	roles := make([]authz.Role, 0, len(payload.Roles))
	for _, r := range payload.Roles {
		roles = append(roles, authz.Role(r))
	}
	level := notify.Level(payload.Level)
	if level == "" {
		level = notify.LevelInfo
	}

	tracker := m.Metrics.Track(TaskNotify)
	err := m.Notifier.Notify(ctx, roles, payload.Title, payload.Body, level)
	if errors.Is(err, notify.ErrUnknownRole) {
		m.logger(TaskNotify).Warn("drop notification", slog.Any("error", err))
		_ = tracker.End(err)
		return asynq.SkipRetry
	}
	return tracker.End(err)
}

func (m *Maintenance) logger(job string) *slog.Logger {
	if m.Logger != nil {
		return m.Logger.With(slog.String("job", job))
	}
	return slog.Default().With(slog.String("job", job))
}
