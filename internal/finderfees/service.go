package finderfees

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-billing/internal/directory"
	"github.com/odyssey-erp/odyssey-billing/internal/money"
	"github.com/odyssey-erp/odyssey-billing/internal/shared"
)

// Repository persists fees and reads the bills they derive from.
type Repository interface {
	GetInvoice(ctx context.Context, billID int64) (Invoice, error)
	FeesExistForBill(ctx context.Context, billID int64) (bool, error)
	// CreateFees inserts all fees atomically, returning ErrAlreadyCreated when
	// any (bill, client finder) pair already exists.
	CreateFees(ctx context.Context, fees []FinderFee) ([]FinderFee, error)
	GetFee(ctx context.Context, id int64) (FinderFee, error)
	ListFeesByFinder(ctx context.Context, finderID int64) ([]FinderFee, error)
	ListFeesByBill(ctx context.Context, billID int64) ([]FinderFee, error)
	// ApplyPayment locks the fee, passes it to apply and stores the result
	// together with the payment row.
	ApplyPayment(ctx context.Context, feeID int64, amount decimal.Decimal, paidAt time.Time, apply func(FinderFee) (FinderFee, error)) (FinderFee, error)
	// MarkProcessed records that the bill reached a final outcome, created or
	// skipped.
	MarkProcessed(ctx context.Context, billID int64) error
	// UnprocessedPaidBills lists paid bills of clients with finders that were
	// never marked processed, oldest payment first.
	UnprocessedPaidBills(ctx context.Context, limit int) ([]int64, error)
}

// FinderSource lists a client's referral records.
type FinderSource interface {
	Finders(ctx context.Context, clientID int64) ([]directory.ClientFinder, error)
}

// Recorder receives calculation outcomes for metrics.
type Recorder interface {
	RecordFinderFeeOutcome(skipReason string, created int)
}

// Service computes and settles finder fees.
type Service struct {
	repo    Repository
	finders FinderSource
	cache   *Cache
	metrics Recorder
	logger  *slog.Logger
	now     func() time.Time
}

// NewService constructs the service. cache and metrics may be nil.
func NewService(repo Repository, finders FinderSource, cache *Cache, metrics Recorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, finders: finders, cache: cache, metrics: metrics, logger: logger, now: time.Now}
}

// NetAmount loads a bill and returns its net invoice amount.
func (s *Service) NetAmount(ctx context.Context, billID int64) (decimal.Decimal, error) {
	inv, err := s.repo.GetInvoice(ctx, billID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("bill %d: %w", billID, err)
	}
	return CalculateInvoiceNetAmount(inv), nil
}

// CalculateAndCreate creates one fee per eligible finder of a paid bill.
// Unpaid, already processed, lead-addressed, finder-less and zero-net bills
// are skipped without error so schedulers and retries can call it freely. A
// missing bill is an error.
func (s *Service) CalculateAndCreate(ctx context.Context, billID int64) (Outcome, error) {
	out, err := s.calculateAndCreate(ctx, billID)
	if err != nil {
		return out, err
	}
	// An unpaid bill may still be paid later; every other outcome is final.
	if out.Skipped != SkipNotPaid {
		if err := s.repo.MarkProcessed(ctx, billID); err != nil {
			return out, fmt.Errorf("mark bill %d processed: %w", billID, err)
		}
	}
	if s.metrics != nil {
		s.metrics.RecordFinderFeeOutcome(string(out.Skipped), len(out.Created))
	}
	log := s.logger.With(slog.Int64("bill_id", billID))
	if out.Skipped != SkipNone {
		log.Info("finder fees skipped", slog.String("reason", string(out.Skipped)))
	} else {
		log.Info("finder fees created", slog.Int("count", len(out.Created)), slog.String("net", out.NetAmount.StringFixed(2)))
	}
	return out, nil
}

func (s *Service) calculateAndCreate(ctx context.Context, billID int64) (Outcome, error) {
	out := Outcome{BillID: billID, NetAmount: decimal.Zero}
	inv, err := s.repo.GetInvoice(ctx, billID)
	if err != nil {
		return out, fmt.Errorf("bill %d: %w", billID, err)
	}
	if inv.Status != InvoicePaid || inv.PaidAt == nil {
		out.Skipped = SkipNotPaid
		return out, nil
	}
	exists, err := s.repo.FeesExistForBill(ctx, billID)
	if err != nil {
		return out, fmt.Errorf("check existing fees: %w", err)
	}
	if exists {
		out.Skipped = SkipAlreadyCreated
		return out, nil
	}
	if inv.ClientID == 0 {
		out.Skipped = SkipNoClient
		return out, nil
	}
	finders, err := s.finders.Finders(ctx, inv.ClientID)
	if err != nil {
		return out, fmt.Errorf("client finders: %w", err)
	}
	if len(finders) == 0 {
		out.Skipped = SkipNoFinders
		return out, nil
	}
	out.NetAmount = CalculateInvoiceNetAmount(inv)
	if !out.NetAmount.IsPositive() {
		out.Skipped = SkipNonPositiveNet
		return out, nil
	}

	fees := make([]FinderFee, 0, len(finders))
	for _, f := range finders {
		if !f.FinderFeePercent.IsPositive() {
			continue
		}
		amount := FeeAmount(out.NetAmount, f.FinderFeePercent)
		fees = append(fees, FinderFee{
			BillID:           billID,
			ClientFinderID:   f.ID,
			FinderID:         f.UserID,
			ClientID:         inv.ClientID,
			InvoiceNetAmount: out.NetAmount,
			FinderFeePercent: f.FinderFeePercent,
			FinderFeeAmount:  amount,
			RemainingAmount:  amount,
			Status:           StatusPending,
			EarnedAt:         *inv.PaidAt,
		})
	}
	if len(fees) == 0 {
		out.Skipped = SkipNoEligibleFinder
		return out, nil
	}

	created, err := s.repo.CreateFees(ctx, fees)
	if errors.Is(err, ErrAlreadyCreated) {
		out.Skipped = SkipAlreadyCreated
		return out, nil
	}
	if err != nil {
		return out, fmt.Errorf("create fees: %w", err)
	}
	out.Created = created
	for _, fee := range created {
		s.bump(ctx, fee.FinderID)
	}
	return out, nil
}

// RecordPayment settles part or all of a fee. Payments larger than the
// remaining amount are rejected.
func (s *Service) RecordPayment(ctx context.Context, feeID int64, amount decimal.Decimal, paidAt time.Time) (FinderFee, error) {
	if !amount.IsPositive() {
		return FinderFee{}, shared.FieldErrors{"amount": "Must be greater than 0"}
	}
	if paidAt.IsZero() {
		paidAt = s.now()
	}
	amount = money.Round2(amount)
	fee, err := s.repo.ApplyPayment(ctx, feeID, amount, paidAt, func(fee FinderFee) (FinderFee, error) {
		return ApplyPayment(fee, amount)
	})
	if err != nil {
		return FinderFee{}, fmt.Errorf("fee %d: %w", feeID, err)
	}
	s.bump(ctx, fee.FinderID)
	s.logger.Info("finder fee payment recorded",
		slog.Int64("fee_id", feeID),
		slog.String("amount", amount.StringFixed(2)),
		slog.String("status", string(fee.Status)))
	return fee, nil
}

// ApplyPayment returns fee with amount deducted and the status advanced.
func ApplyPayment(fee FinderFee, amount decimal.Decimal) (FinderFee, error) {
	if amount.GreaterThan(fee.RemainingAmount) {
		return fee, ErrOverpayment
	}
	fee.RemainingAmount = fee.RemainingAmount.Sub(amount)
	if fee.RemainingAmount.IsZero() {
		fee.Status = StatusPaid
	} else {
		fee.Status = StatusPartiallyPaid
	}
	return fee, nil
}

// FeesForFinder lists a finder's fees.
func (s *Service) FeesForFinder(ctx context.Context, finderID int64) ([]FinderFee, error) {
	return s.repo.ListFeesByFinder(ctx, finderID)
}

// FeesForBill lists the fees created for a bill.
func (s *Service) FeesForBill(ctx context.Context, billID int64) ([]FinderFee, error) {
	return s.repo.ListFeesByBill(ctx, billID)
}

// Summary aggregates a finder's fees, served from cache when possible.
func (s *Service) Summary(ctx context.Context, finderID int64) (Summary, error) {
	key, err := s.cache.SummaryKey(ctx, finderID)
	if err != nil {
		return Summary{}, err
	}
	var summary Summary
	err = s.cache.FetchJSON(ctx, key, &summary, func(ctx context.Context) (any, error) {
		fees, err := s.repo.ListFeesByFinder(ctx, finderID)
		if err != nil {
			return nil, err
		}
		return Summarize(finderID, fees), nil
	})
	return summary, err
}

// Summarize folds fees into a Summary.
func Summarize(finderID int64, fees []FinderFee) Summary {
	out := Summary{FinderID: finderID, Earned: decimal.Zero, Paid: decimal.Zero, Outstanding: decimal.Zero}
	for _, fee := range fees {
		out.FeeCount++
		out.Earned = out.Earned.Add(fee.FinderFeeAmount)
		out.Outstanding = out.Outstanding.Add(fee.RemainingAmount)
		switch fee.Status {
		case StatusPending:
			out.Pending++
		case StatusPartiallyPaid:
			out.Partial++
		case StatusPaid:
			out.Settled++
		}
	}
	out.Paid = out.Earned.Sub(out.Outstanding)
	return out
}

// PendingBills returns paid bills not yet marked processed.
func (s *Service) PendingBills(ctx context.Context, limit int) ([]int64, error) {
	return s.repo.UnprocessedPaidBills(ctx, limit)
}

func (s *Service) bump(ctx context.Context, finderID int64) {
	if err := s.cache.Bump(ctx, finderID); err != nil {
		s.logger.Warn("finder fee cache bump", slog.Int64("finder_id", finderID), slog.Any("error", err))
	}
}
