package jobs

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskFinderFeeCalculate computes finder fees for one paid bill.
	TaskFinderFeeCalculate = "finderfees:calculate"
	// TaskFinderFeeSweep re-enqueues paid bills that still lack fee rows.
	TaskFinderFeeSweep = "finderfees:sweep"
)

// uniqueWindow suppresses duplicate calculate tasks for the same bill.
const uniqueWindow = 24 * time.Hour

// ErrInvalidBillID is returned for payloads without a positive bill id.
var ErrInvalidBillID = errors.New("jobs: bill id must be positive")

// FinderFeePayload identifies the bill to process.
type FinderFeePayload struct {
	BillID int64 `json:"bill_id"`
}

// NewFinderFeeTask constructs the calculate task for a bill.
func NewFinderFeeTask(billID int64) (*asynq.Task, error) {
	if billID <= 0 {
		return nil, ErrInvalidBillID
	}
	body, err := json.Marshal(FinderFeePayload{BillID: billID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskFinderFeeCalculate, body,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(5),
		asynq.Unique(uniqueWindow),
	), nil
}

// FinderFeeSweepPayload bounds one sweep run.
type FinderFeeSweepPayload struct {
	Limit int `json:"limit"`
}

// NewFinderFeeSweepTask constructs the periodic sweep task.
func NewFinderFeeSweepTask(limit int) (*asynq.Task, error) {
	body, err := json.Marshal(FinderFeeSweepPayload{Limit: limit})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskFinderFeeSweep, body, asynq.Queue(QueueDefault)), nil
}
