package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-billing/jobs"
)

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    *asynq.Client
	inspector *asynq.Inspector
}

// NewJobsCLI initialises the CLI helpers using the provided Redis address.
func NewJobsCLI(redisAddr string) (*JobsCLI, error) {
	client := asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr})
	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: redisAddr})
	return &JobsCLI{client: client, inspector: inspector}, nil
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var err error
	if c.inspector != nil {
		if closeErr := c.inspector.Close(); closeErr != nil {
			err = closeErr
		}
	}
	if c.client != nil {
		if closeErr := c.client.Close(); closeErr != nil {
			err = closeErr
		}
	}
	return err
}

// TriggerParams selects the job and its payload.
type TriggerParams struct {
	Name   string
	BillID int64
	Limit  int
}

// BuildTask prepares the task for a supported job name.
func BuildTask(p TriggerParams) (*asynq.Task, error) {
	switch p.Name {
	case jobs.TaskFinderFeeCalculate:
		return jobs.NewFinderFeeTask(p.BillID)
	case jobs.TaskFinderFeeSweep:
		return jobs.NewFinderFeeSweepTask(p.Limit)
	case jobs.TaskIdempotencyCleanup:
		return jobs.NewIdempotencyCleanupTask(), nil
	default:
		return nil, fmt.Errorf("jobs cli: unsupported job %s", p.Name)
	}
}

// Trigger enqueues a supported job.
func (c *JobsCLI) Trigger(ctx context.Context, p TriggerParams) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	task, err := BuildTask(p)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task, asynq.MaxRetry(3))
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string
	Pending   int
	Active    int
	Scheduled int
	Retry     int
}

// InspectQueue reports the queue metrics for the default queue.
func (c *JobsCLI) InspectQueue(ctx context.Context) (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: jobs.QueueDefault}
	if info != nil {
		stats.Pending = int(info.Pending)
		stats.Active = int(info.Active)
		stats.Scheduled = int(info.Scheduled)
		stats.Retry = int(info.Retry)
	}
	return stats, nil
}

// ListScheduled returns scheduled task infos for observability.
func (c *JobsCLI) ListScheduled(ctx context.Context, size int) ([]*asynq.TaskInfo, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	if size <= 0 {
		size = 10
	}
	return c.inspector.ListScheduledTasks(jobs.QueueDefault, asynq.PageSize(size), asynq.Page(1))
}

func newJobsCmd(redisAddr string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Trigger and inspect background jobs",
	}
	cmd.PersistentFlags().StringVar(&redisAddr, "redis", redisAddr, "Redis address")

	withCLI := func(run func(ctx context.Context, c *JobsCLI, out io.Writer) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			c, err := NewJobsCLI(redisAddr)
			if err != nil {
				return err
			}
			defer c.Close()
			return run(cmd.Context(), c, cmd.OutOrStdout())
		}
	}

	var params TriggerParams
	trigger := &cobra.Command{
		Use:       "trigger <job>",
		Short:     "Enqueue a job",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{jobs.TaskFinderFeeCalculate, jobs.TaskFinderFeeSweep, jobs.TaskIdempotencyCleanup},
		RunE: func(cmd *cobra.Command, args []string) error {
			params.Name = args[0]
			if _, err := BuildTask(params); err != nil {
				return err
			}
			return withCLI(func(ctx context.Context, c *JobsCLI, out io.Writer) error {
				info, err := c.Trigger(ctx, params)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(out, "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
				return err
			})(cmd, args)
		},
	}
	trigger.Flags().Int64Var(&params.BillID, "bill", 0, "Bill id for finderfees:calculate")
	trigger.Flags().IntVar(&params.Limit, "limit", 0, "Maximum bills per finderfees:sweep run")

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show default queue counters",
		RunE: withCLI(func(ctx context.Context, c *JobsCLI, out io.Writer) error {
			s, err := c.InspectQueue(ctx)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "QUEUE\tPENDING\tACTIVE\tSCHEDULED\tRETRY")
			_, _ = fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\n", s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry)
			return tw.Flush()
		}),
	}

	var size int
	scheduled := &cobra.Command{
		Use:   "scheduled",
		Short: "List scheduled tasks",
		RunE: withCLI(func(ctx context.Context, c *JobsCLI, out io.Writer) error {
			infos, err := c.ListScheduled(ctx, size)
			if err != nil {
				return err
			}
			for _, info := range infos {
				_, _ = fmt.Fprintf(out, "%s\t%s\t%s\n", info.ID, info.Type, info.NextProcessAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		}),
	}
	scheduled.Flags().IntVar(&size, "size", 10, "Page size")

	cmd.AddCommand(trigger, stats, scheduled)
	return cmd
}
