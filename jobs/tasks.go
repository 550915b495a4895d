package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskBlacklistSweep removes expired IP blacklist entries.
	TaskBlacklistSweep = "security:blacklist_sweep"
	// TaskAuditRetention deletes audit entries past the retention window.
	TaskAuditRetention = "audit:retention"
	// TaskAnalyticsWarmup recomputes the cached dashboard summary.
	TaskAnalyticsWarmup = "analytics:warmup"
	// TaskNotify delivers a system notification to roles.
	TaskNotify = "notify:send"
)

// AuditRetentionPayload overrides the configured retention window.
type AuditRetentionPayload struct {
	RetentionHours int `json:"retention_hours,omitempty"`
}

// NotifyPayload describes a system notification.
type NotifyPayload struct {
	Roles []string `json:"roles"`
	Title string   `json:"title"`
	Body  string   `json:"body"`
	Level string   `json:"level"`
}

// NewBlacklistSweepTask constructs the blacklist sweep task.
func NewBlacklistSweepTask() *asynq.Task {
	return asynq.NewTask(TaskBlacklistSweep, nil, asynq.Queue(QueueDefault))
}

// NewAuditRetentionTask constructs the audit retention task. A zero
// retention uses the worker's configured window.
func NewAuditRetentionTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(AuditRetentionPayload{RetentionHours: int(retention / time.Hour)})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditRetention, body, asynq.Queue(QueueDefault)), nil
}

// NewAnalyticsWarmupTask constructs the analytics warmup task.
func NewAnalyticsWarmupTask() *asynq.Task {
	return asynq.NewTask(TaskAnalyticsWarmup, nil, asynq.Queue(QueueDefault))
}

// NewNotifyTask constructs a system notification task.
func NewNotifyTask(payload NotifyPayload) (*asynq.Task, error) {
	if payload.Title == "" {
		return nil, fmt.Errorf("jobs: notification title required")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskNotify, body, asynq.Queue(QueueDefault)), nil
}

// NewTaskByType builds a payload-free maintenance task by its type name.
func NewTaskByType(taskType string) (*asynq.Task, error) {
	switch taskType {
	case TaskBlacklistSweep:
		return NewBlacklistSweepTask(), nil
	case TaskAuditRetention:
		return NewAuditRetentionTask(0)
	case TaskAnalyticsWarmup:
		return NewAnalyticsWarmupTask(), nil
	default:
		return nil, fmt.Errorf("jobs: unknown task %q", taskType)
	}
}
