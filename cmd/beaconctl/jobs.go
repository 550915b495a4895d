package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/beacon-dash/beacon/jobs"
)

// jobsCLI wraps manual management helpers for background jobs.
type jobsCLI struct {
	client    *jobs.Client
	inspector *asynq.Inspector
}

func newJobsCLI(redisAddr string) (*jobsCLI, error) {
	opts := asynq.RedisClientOpt{Addr: redisAddr}
	client, err := jobs.NewClient(opts)
	if err != nil {
		return nil, err
	}
	return &jobsCLI{client: client, inspector: asynq.NewInspector(opts)}, nil
}

// Close releases underlying resources.
func (c *jobsCLI) Close() error {
	var errs []error
	if c.inspector != nil {
		errs = append(errs, c.inspector.Close())
	}
	if c.client != nil {
		errs = append(errs, c.client.Close())
	}
	return errors.Join(errs...)
}

// Trigger enqueues a maintenance job by name with its default payload.
func (c *jobsCLI) Trigger(ctx context.Context, name string) (*asynq.TaskInfo, error) {
	task, err := jobs.NewTaskByType(name)
	if err != nil {
		return nil, err
	}
	return c.client.Enqueue(ctx, task)
}

// queueStats summarises the current queue state.
type queueStats struct {
	Queue     string
	Pending   int
	Active    int
	Scheduled int
	Retry     int
	Archived  int
}

// InspectQueue reports the default queue's depth.
func (c *jobsCLI) InspectQueue() (queueStats, error) {
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		return queueStats{}, err
	}
	return queueStats{
		Queue:     info.Queue,
		Pending:   info.Pending,
		Active:    info.Active,
		Scheduled: info.Scheduled,
		Retry:     info.Retry,
		Archived:  info.Archived,
	}, nil
}

func newJobsCommand(flags *globalFlags) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Trigger and inspect background jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	jobsCmd.AddCommand(&cobra.Command{
		Use:       "trigger <task>",
		Short:     "Enqueue a maintenance task now",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{jobs.TaskBlacklistSweep, jobs.TaskAuditRetention, jobs.TaskAnalyticsWarmup},
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := jobs.NewTaskByType(args[0]); err != nil {
				return err
			}
			c, err := newJobsCLI(flags.redisAddr())
			if err != nil {
				return err
			}
			defer c.Close()
			info, err := c.Trigger(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			cmd.Printf("Enqueued %s as %s on %s.\n", info.Type, info.ID, info.Queue)
			return nil
		},
	})

	payload := jobs.NotifyPayload{}
	var roles string
	notifyCmd := &cobra.Command{
		Use:   "notify",
		Short: "Enqueue a system notification",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			payload.Roles = splitList(roles)
			if strings.TrimSpace(payload.Title) == "" {
				return errors.New("--title is required")
			}
			c, err := newJobsCLI(flags.redisAddr())
			if err != nil {
				return err
			}
			defer c.Close()
			info, err := c.client.EnqueueNotify(cmd.Context(), payload)
			if err != nil {
				return err
			}
			cmd.Printf("Enqueued %s as %s on %s.\n", info.Type, info.ID, info.Queue)
			return nil
		},
	}
	notifyCmd.Flags().StringVar(&roles, "roles", "", "Comma separated target roles. Empty targets every connected user.")
	notifyCmd.Flags().StringVar(&payload.Title, "title", "", "Notification title.")
	notifyCmd.Flags().StringVar(&payload.Body, "body", "", "Notification body.")
	notifyCmd.Flags().StringVar(&payload.Level, "level", "info", "Notification level: info, warning or alert.")
	jobsCmd.AddCommand(notifyCmd)

	jobsCmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Print queue depth",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newJobsCLI(flags.redisAddr())
			if err != nil {
				return err
			}
			defer c.Close()
			stats, err := c.InspectQueue()
			if err != nil {
				return fmt.Errorf("inspect queue: %w", err)
			}
			cmd.Printf("queue=%s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
				stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived)
			return nil
		},
	})

	return jobsCmd
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
