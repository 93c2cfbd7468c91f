package bills

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-billing/internal/money"
	"github.com/odyssey-erp/odyssey-billing/internal/numbering"
	"github.com/odyssey-erp/odyssey-billing/internal/proposals"
	"github.com/odyssey-erp/odyssey-billing/internal/shared"
)

const (
	idempotencyModule = "bills.paid"

	msgCreditAmount = "Must be greater than zero"
	msgDueDate      = "Must not be before the issue date"
)

// TxRepository exposes the writes performed inside one transaction.
type TxRepository interface {
	InsertBill(ctx context.Context, b Bill) (int64, error)
	InsertItem(ctx context.Context, billID int64, position int, item Item) (int64, error)
	// MarkPaid sets PAID and paidAt unless the bill is already paid. It reports
	// whether a row changed.
	MarkPaid(ctx context.Context, id int64, paidAt time.Time) (bool, error)
}

// RepositoryPort is the persistence port of the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Bill, error)
}

// ProposalSource loads priced proposals.
type ProposalSource interface {
	Get(ctx context.Context, id int64) (proposals.Proposal, error)
}

// NumberSource issues invoice numbers.
type NumberSource interface {
	NextInvoiceNumber(ctx context.Context) (string, error)
}

// FeeEnqueuer schedules finder fee calculation for a paid bill.
type FeeEnqueuer interface {
	EnqueueFinderFees(ctx context.Context, billID int64) error
}

// IdempotencyStore records processed request keys.
type IdempotencyStore interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// ServiceConfig tunes numbering.
type ServiceConfig struct {
	NumberAttempts int
}

// Service orchestrates bill workflows.
type Service struct {
	repo      RepositoryPort
	proposals ProposalSource
	numbers   NumberSource
	fees      FeeEnqueuer
	keys      IdempotencyStore
	attempts  int
	logger    *slog.Logger
	now       func() time.Time
}

// NewService constructs the bill service. fees and keys may be nil.
func NewService(repo RepositoryPort, props ProposalSource, numbers NumberSource, fees FeeEnqueuer, keys IdempotencyStore, cfg ServiceConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.NumberAttempts < 1 {
		cfg.NumberAttempts = 5
	}
	return &Service{
		repo:      repo,
		proposals: props,
		numbers:   numbers,
		fees:      fees,
		keys:      keys,
		attempts:  cfg.NumberAttempts,
		logger:    logger,
		now:       time.Now,
	}
}

// CreateFromProposal issues a bill for a finalized proposal, copying its
// priced items, client discount and tax configuration.
func (s *Service) CreateFromProposal(ctx context.Context, in CreateInput) (Bill, error) {
	p, err := s.proposals.Get(ctx, in.ProposalID)
	if err != nil {
		return Bill{}, fmt.Errorf("proposal %d: %w", in.ProposalID, err)
	}
	if p.Status != proposals.StatusFinalized {
		return Bill{}, ErrProposalNotFinal
	}
	draft, err := s.draft(p, in)
	if err != nil {
		return Bill{}, err
	}

	var saved Bill
	err = numbering.WithRetry(ctx, s.attempts, func(ctx context.Context) error {
		number, err := s.numbers.NextInvoiceNumber(ctx)
		if err != nil {
			return err
		}
		b := draft
		b.Number = number
		b.Items = append([]Item(nil), draft.Items...)
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			id, err := tx.InsertBill(ctx, b)
			if err != nil {
				return err
			}
			b.ID = id
			for i := range b.Items {
				itemID, err := tx.InsertItem(ctx, id, i, b.Items[i])
				if err != nil {
					return fmt.Errorf("insert item %d: %w", i, err)
				}
				b.Items[i].ID = itemID
			}
			saved = b
			return nil
		})
	})
	if err != nil {
		return Bill{}, fmt.Errorf("create bill: %w", err)
	}
	s.logger.Info("bill issued",
		slog.Int64("bill_id", saved.ID),
		slog.String("number", saved.Number),
		slog.Int64("proposal_id", p.ID),
		slog.String("total", saved.Total.StringFixed(2)))
	return saved, nil
}

func (s *Service) draft(p proposals.Proposal, in CreateInput) (Bill, error) {
	issue := shared.DateOf(s.now())
	if in.IssueDate != nil && !in.IssueDate.IsZero() {
		issue = *in.IssueDate
	}
	errs := shared.FieldErrors{}
	if in.DueDate != nil && in.DueDate.Before(issue) {
		errs.Add("dueDate", msgDueDate)
	}

	items := make([]Item, 0, len(p.Items)+len(in.Credits))
	subtotal := decimal.Zero
	for _, item := range p.Items {
		items = append(items, Item{Description: item.Description, Amount: item.Effective})
		subtotal = subtotal.Add(item.Effective)
	}
	credits := decimal.Zero
	for i, c := range in.Credits {
		if !c.Amount.IsPositive() {
			errs.Add(fmt.Sprintf("credits[%d].amount", i), msgCreditAmount)
			continue
		}
		amount := money.Round2(c.Amount)
		items = append(items, Item{Description: c.Description, Amount: amount.Neg(), IsCredit: true, ExpenseID: c.ExpenseID})
		credits = credits.Add(amount)
	}
	if !errs.Valid() {
		return Bill{}, errs
	}

	now := s.now()
	return Bill{
		ProposalID:   p.ID,
		Party:        p.Party,
		Currency:     p.Currency,
		Subtotal:     money.Ptr(money.Round2(subtotal)),
		Discount:     p.Config.ClientDiscount,
		TaxRate:      p.Config.TaxRate,
		TaxInclusive: p.Config.TaxInclusive,
		TaxAmount:    p.Totals.Tax,
		Total:        money.ClampNonNegative(p.Totals.GrandTotal.Sub(credits)),
		Status:       StatusIssued,
		IssueDate:    issue,
		DueDate:      in.DueDate,
		Items:        items,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// Get loads a bill with its items.
func (s *Service) Get(ctx context.Context, id int64) (Bill, error) {
	b, err := s.repo.Get(ctx, id)
	if err != nil {
		return Bill{}, fmt.Errorf("bill %d: %w", id, err)
	}
	return b, nil
}

// MarkPaid moves a bill to PAID exactly once and schedules finder fee
// calculation. Repeating the call, or replaying idempotencyKey, changes
// nothing and reports AlreadyPaid. A zero paidAt means now.
func (s *Service) MarkPaid(ctx context.Context, id int64, paidAt time.Time, idempotencyKey string) (PaidResult, error) {
	module := paidModule(id)
	if idempotencyKey != "" && s.keys != nil {
		err := s.keys.CheckAndInsert(ctx, idempotencyKey, module)
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			b, err := s.Get(ctx, id)
			if err != nil {
				return PaidResult{}, err
			}
			return PaidResult{Bill: b, AlreadyPaid: true}, nil
		}
		if err != nil {
			return PaidResult{}, fmt.Errorf("idempotency key: %w", err)
		}
	}

	out, err := s.markPaid(ctx, id, paidAt)
	if err != nil && idempotencyKey != "" && s.keys != nil {
		if delErr := s.keys.Delete(ctx, idempotencyKey, module); delErr != nil {
			s.logger.Error("release idempotency key", slog.Any("error", delErr))
		}
	}
	return out, err
}

// paidModule scopes idempotency keys to one bill, so a key replayed against
// another bill does not suppress that payment.
func paidModule(id int64) string {
	return idempotencyModule + ":" + strconv.FormatInt(id, 10)
}

func (s *Service) markPaid(ctx context.Context, id int64, paidAt time.Time) (PaidResult, error) {
	b, err := s.Get(ctx, id)
	if err != nil {
		return PaidResult{}, err
	}
	log := s.logger.With(slog.Int64("bill_id", id))
	if b.IsPaid() {
		log.Info("bill already paid")
		return PaidResult{Bill: b, AlreadyPaid: true}, nil
	}
	if paidAt.IsZero() {
		paidAt = s.now()
	}

	var changed bool
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		changed, err = tx.MarkPaid(ctx, id, paidAt)
		return err
	})
	if err != nil {
		return PaidResult{}, fmt.Errorf("mark bill %d paid: %w", id, err)
	}
	b, err = s.Get(ctx, id)
	if err != nil {
		return PaidResult{}, err
	}
	if !changed {
		log.Info("bill already paid")
		return PaidResult{Bill: b, AlreadyPaid: true}, nil
	}
	log.Info("bill paid", slog.Time("paid_at", paidAt))

	if s.fees != nil {
		if err := s.fees.EnqueueFinderFees(ctx, id); err != nil {
			log.Error("enqueue finder fees", slog.Any("error", err))
		}
	}
	return PaidResult{Bill: b}, nil
}
