package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-billing/internal/finderfees"
	jobmetrics "github.com/odyssey-erp/odyssey-billing/internal/jobs"
)

const defaultSweepLimit = 200

// FeeCalculator is the slice of the finder fee service the jobs need.
type FeeCalculator interface {
	CalculateAndCreate(ctx context.Context, billID int64) (finderfees.Outcome, error)
	PendingBills(ctx context.Context, limit int) ([]int64, error)
}

// FinderFeeJob handles the calculate and sweep tasks.
type FinderFeeJob struct {
	Service     FeeCalculator
	Logger      *slog.Logger
	Metrics     *jobmetrics.Metrics
	Concurrency int
}

// NewFinderFeeJob constructs the handler. concurrency bounds parallel
// calculations during a sweep.
func NewFinderFeeJob(service FeeCalculator, logger *slog.Logger, metrics *jobmetrics.Metrics, concurrency int) *FinderFeeJob {
	if concurrency < 1 {
		concurrency = 1
	}
	return &FinderFeeJob{Service: service, Logger: logger, Metrics: metrics, Concurrency: concurrency}
}

// Handle processes TaskFinderFeeCalculate. Skipped bills complete without
// error; a malformed payload is not retried.
func (j *FinderFeeJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Service == nil {
		return errors.New("finder fees: handler not configured")
	}
	var payload FinderFeePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.BillID <= 0 {
		j.logger().Warn("finder fee task payload rejected", slog.String("payload", string(t.Payload())))
		return fmt.Errorf("%w: %v", asynq.SkipRetry, ErrInvalidBillID)
	}

	tracker := j.Metrics.Track(TaskFinderFeeCalculate)
	defer func() {
		err = tracker.End(err)
	}()

	logger := j.logger().With(slog.Int64("bill_id", payload.BillID))
	out, err := j.Service.CalculateAndCreate(ctx, payload.BillID)
	if err != nil {
		if errors.Is(err, finderfees.ErrNotFound) {
			logger.Warn("finder fee bill missing", slog.Any("error", err))
			return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
		}
		logger.Error("finder fee calculation failed", slog.Any("error", err))
		return err
	}
	if out.Skipped != "" {
		logger.Info("finder fee calculation skipped", slog.String("reason", string(out.Skipped)))
		return nil
	}
	logger.Info("finder fees created",
		slog.Int("count", len(out.Created)),
		slog.String("net_amount", out.NetAmount.StringFixed(2)),
	)
	return nil
}

// HandleSweep processes TaskFinderFeeSweep by calculating every pending bill
// with bounded concurrency. Individual failures are logged and counted; the
// sweep itself fails only when the pending list cannot be read.
func (j *FinderFeeJob) HandleSweep(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Service == nil {
		return errors.New("finder fee sweep: handler not configured")
	}
	var payload FinderFeeSweepPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
		}
	}
	if payload.Limit <= 0 {
		payload.Limit = defaultSweepLimit
	}

	tracker := j.Metrics.Track(TaskFinderFeeSweep)
	defer func() {
		err = tracker.End(err)
	}()

	_, err = j.Sweep(ctx, payload.Limit)
	return err
}

// SweepResult counts what a sweep did.
type SweepResult struct {
	Pending int
	Failed  int
}

// Sweep calculates fees for up to limit pending bills.
func (j *FinderFeeJob) Sweep(ctx context.Context, limit int) (SweepResult, error) {
	logger := j.logger()
	billIDs, err := j.Service.PendingBills(ctx, limit)
	if err != nil {
		logger.Error("finder fee sweep: list pending", slog.Any("error", err))
		return SweepResult{}, err
	}
	if len(billIDs) == 0 {
		return SweepResult{}, nil
	}

	var failed atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.Concurrency)
	for _, billID := range billIDs {
		g.Go(func() error {
			if _, err := j.Service.CalculateAndCreate(gctx, billID); err != nil {
				failed.Add(1)
				logger.Warn("finder fee sweep: bill failed", slog.Int64("bill_id", billID), slog.Any("error", err))
			}
			return nil
		})
	}
	_ = g.Wait()

	res := SweepResult{Pending: len(billIDs), Failed: int(failed.Load())}
	logger.Info("finder fee sweep completed",
		slog.Int("pending", res.Pending),
		slog.Int("failed", res.Failed),
	)
	return res, nil
}

func (j *FinderFeeJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
