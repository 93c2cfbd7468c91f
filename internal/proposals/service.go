package proposals

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-billing/internal/directory"
	"github.com/odyssey-erp/odyssey-billing/internal/milestones"
	"github.com/odyssey-erp/odyssey-billing/internal/money"
	"github.com/odyssey-erp/odyssey-billing/internal/numbering"
	"github.com/odyssey-erp/odyssey-billing/internal/paymentterms"
	"github.com/odyssey-erp/odyssey-billing/internal/pricing"
	"github.com/odyssey-erp/odyssey-billing/internal/shared"
)

const (
	msgParty            = "Select either a client or a lead"
	msgCurrency         = "Unknown currency"
	msgDiscountConflict = "Use either a percentage or an amount, not both"
	msgUnknownMilestone = "Unknown milestone"
	msgExpiry           = "Must not be before the issue date"
	msgNoItems          = "At least one line item is required"
	msgTermsRequired    = "Payment terms are required before finalizing"
	msgDeferred         = "Milestone-based balance has no milestones yet"
	msgExceedsCap       = "Estimate exceeds the capped amount"
)

// TxRepository exposes the writes performed while saving one proposal.
type TxRepository interface {
	InsertProposal(ctx context.Context, p Proposal) (int64, error)
	UpdateProposal(ctx context.Context, p Proposal) error
	InsertMilestone(ctx context.Context, proposalID int64, position int, m milestones.Milestone) (int64, error)
	UpdateMilestone(ctx context.Context, proposalID, milestoneID int64, position int, m milestones.Milestone) error
	DeleteMilestonesExcept(ctx context.Context, proposalID int64, keep []int64) error
	DeleteItems(ctx context.Context, proposalID int64) error
	InsertItem(ctx context.Context, proposalID int64, position int, item Item) (int64, error)
	LinkItemMilestone(ctx context.Context, itemID, milestoneID int64) error
	DeletePaymentTerms(ctx context.Context, proposalID int64) error
	// InsertPaymentTerm stores a proposal-level term when itemID is zero.
	InsertPaymentTerm(ctx context.Context, proposalID, itemID int64, t paymentterms.Term) error
	SetStatus(ctx context.Context, id int64, status Status) error
}

// RepositoryPort is the persistence port of the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Proposal, error)
	List(ctx context.Context, f ListFilter) ([]Summary, int, error)
}

// DirectoryPort resolves parties and hourly rates.
type DirectoryPort interface {
	ResolveParty(ctx context.Context, p directory.Party) (*directory.Client, error)
	BillingRateForUserInProject(ctx context.Context, userID, projectID int64) (*decimal.Decimal, error)
}

// NumberSource issues proposal numbers.
type NumberSource interface {
	NextProposalNumber(ctx context.Context) (string, error)
}

// ServiceConfig tunes pricing and numbering.
type ServiceConfig struct {
	Policy         pricing.SubtotalPolicy
	NumberAttempts int
}

// Service orchestrates proposal workflows.
type Service struct {
	repo      RepositoryPort
	directory DirectoryPort
	numbers   NumberSource
	engine    *pricing.Engine
	attempts  int
	logger    *slog.Logger
	now       func() time.Time
}

// NewService constructs the proposal service.
func NewService(repo RepositoryPort, dir DirectoryPort, numbers NumberSource, cfg ServiceConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.NumberAttempts < 1 {
		cfg.NumberAttempts = 5
	}
	return &Service{
		repo:      repo,
		directory: dir,
		numbers:   numbers,
		engine:    pricing.NewEngine(cfg.Policy),
		attempts:  cfg.NumberAttempts,
		logger:    logger,
		now:       time.Now,
	}
}

// Create validates, prices and stores a new draft proposal under a fresh
// number. Number collisions with a concurrent writer are retried.
func (s *Service) Create(ctx context.Context, in Input) (Proposal, error) {
	draft, err := s.build(ctx, in, true)
	if err != nil {
		return Proposal{}, err
	}
	draft.CreatedAt = s.now()
	draft.UpdatedAt = draft.CreatedAt

	var saved Proposal
	err = numbering.WithRetry(ctx, s.attempts, func(ctx context.Context) error {
		number, err := s.numbers.NextProposalNumber(ctx)
		if err != nil {
			return err
		}
		p := draft
		p.Number = number
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			id, err := tx.InsertProposal(ctx, p)
			if err != nil {
				return err
			}
			p.ID = id
			if err := writeChildren(ctx, tx, &p); err != nil {
				return err
			}
			saved = p
			return nil
		})
	})
	if err != nil {
		return Proposal{}, fmt.Errorf("create proposal: %w", err)
	}
	s.logger.Info("proposal created",
		slog.Int64("proposal_id", saved.ID),
		slog.String("number", saved.Number),
		slog.String("grand_total", saved.Totals.GrandTotal.StringFixed(2)))
	return saved, nil
}

// Update replaces the content of a draft proposal and refreshes its stored
// amount snapshot.
func (s *Service) Update(ctx context.Context, id int64, in Input) (Proposal, error) {
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return Proposal{}, fmt.Errorf("proposal %d: %w", id, err)
	}
	if existing.Status == StatusFinalized {
		return Proposal{}, ErrFinalized
	}
	p, err := s.build(ctx, in, true)
	if err != nil {
		return Proposal{}, err
	}
	p.ID = existing.ID
	p.Number = existing.Number
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = s.now()
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.UpdateProposal(ctx, p); err != nil {
			return err
		}
		return writeChildren(ctx, tx, &p)
	})
	if err != nil {
		return Proposal{}, fmt.Errorf("update proposal %d: %w", id, err)
	}
	return p, nil
}

// Get loads a proposal and reprices it.
func (s *Service) Get(ctx context.Context, id int64) (Proposal, error) {
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return Proposal{}, fmt.Errorf("proposal %d: %w", id, err)
	}
	s.price(&p)
	return p, nil
}

// List returns one page of proposal summaries.
func (s *Service) List(ctx context.Context, f ListFilter) ([]Summary, shared.Pagination, error) {
	page := shared.NewPagination(f.Page, f.PerPage, 0)
	f.Page, f.PerPage = page.Page, page.PerPage
	items, total, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, shared.Pagination{}, fmt.Errorf("list proposals: %w", err)
	}
	return items, shared.NewPagination(f.Page, f.PerPage, total), nil
}

// Finalize locks a proposal once it has line items, a valid proposal-level
// payment term and, when toggled, milestones. Finalizing twice is a no-op.
func (s *Service) Finalize(ctx context.Context, id int64) (Proposal, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return Proposal{}, err
	}
	if p.Status == StatusFinalized {
		return p, nil
	}
	errs := shared.FieldErrors{}
	if len(p.Items) == 0 {
		errs.Add("items", msgNoItems)
	}
	if p.PaymentTerm == nil {
		errs.Add("paymentTerms", msgTermsRequired)
	} else {
		errs.Merge("paymentTerms", paymentterms.Validate(p.PaymentTerm, len(p.Milestones)))
	}
	errs.Merge("", milestones.NewPlan(p.Milestones, len(p.Items)).Validate(p.Config.Type, p.UseMilestones))
	if !errs.Valid() {
		return Proposal{}, errs
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.SetStatus(ctx, id, StatusFinalized)
	})
	if err != nil {
		return Proposal{}, fmt.Errorf("finalize proposal %d: %w", id, err)
	}
	p.Status = StatusFinalized
	log := s.logger.With(slog.Int64("proposal_id", id), slog.String("number", p.Number))
	if paymentterms.MilestonesDeferred(p.PaymentTerm, len(p.Milestones)) {
		log.Warn("proposal finalized with deferred milestone balance")
	}
	log.Info("proposal finalized")
	return p, nil
}

// Quote prices a request without storing it. The party is optional.
func (s *Service) Quote(ctx context.Context, in Input) (QuoteResult, error) {
	p, err := s.build(ctx, in, false)
	if err != nil {
		return QuoteResult{}, err
	}
	quote := s.engine.Price(lineItems(p.Items), p.Config)
	plan := milestones.NewPlan(p.Milestones, len(p.Items))
	out := QuoteResult{
		Quote:       quote,
		Allocations: plan.Allocate(quote.Totals.GrandTotal),
		Warnings:    p.Warnings,
	}
	if p.PaymentTerm != nil {
		issue := shared.DateOf(s.now())
		if p.IssueDate != nil {
			issue = *p.IssueDate
		}
		out.Schedule = paymentterms.Schedule(p.PaymentTerm, quote.Totals.GrandTotal, issue, out.Allocations)
	}
	return out, nil
}

// ValidateTerms checks a payment term on its own, as the builder does before
// committing it.
func (s *Service) ValidateTerms(doc paymentterms.Document, milestoneCount int) TermCheck {
	structure := doc.Structure
	if structure == "" {
		structure = paymentterms.Detect(doc.Record)
	}
	term, errs := doc.Decode(milestoneCount)
	if !errs.Valid() {
		return TermCheck{Structure: structure, Errors: errs}
	}
	return TermCheck{
		Valid:     true,
		Structure: term.Structure(),
		Deferred:  paymentterms.MilestonesDeferred(term, milestoneCount),
	}
}

// build validates in and returns a priced, unsaved proposal. Field problems
// come back together as shared.FieldErrors.
func (s *Service) build(ctx context.Context, in Input, requireParty bool) (Proposal, error) {
	errs := shared.FieldErrors{}
	party := directory.Party{ClientID: in.ClientID, LeadID: in.LeadID}
	if requireParty && party.Validate() != nil {
		errs.Add("clientId", msgParty)
	}
	currency, err := money.ParseCurrency(in.Currency)
	if err != nil {
		errs.Add("currency", msgCurrency)
	}
	clientDiscount, err := pricing.DiscountFromFields(in.ClientDiscountPercent, in.ClientDiscountAmount)
	if err != nil {
		errs.Add("clientDiscountAmount", msgDiscountConflict)
	}
	cfg := pricing.Config{
		Type:           in.Type,
		TaxRate:        in.TaxRate,
		TaxInclusive:   in.TaxInclusive,
		ClientDiscount: clientDiscount,
		BlendedRate:    in.BlendedRate,
	}
	errs.Merge("", pricing.ValidateConfig(cfg))
	if in.IssueDate != nil && in.ExpiryDate != nil && in.ExpiryDate.Before(*in.IssueDate) {
		errs.Add("expiryDate", msgExpiry)
	}

	items := make([]Item, 0, len(in.Items))
	for i, raw := range in.Items {
		field := fmt.Sprintf("items[%d]", i)
		item, err := raw.item()
		if err != nil {
			errs.Add(field+".discountAmount", msgDiscountConflict)
		}
		errs.Merge(field, pricing.ValidateLineItem(cfg.Type, item.LineItem))
		items = append(items, item)
	}

	plan := milestones.NewPlan(in.Milestones, len(items))
	for i := range items {
		if err := plan.Assign(i, items[i].MilestoneIDs); err != nil {
			errs.Add(fmt.Sprintf("items[%d].milestoneIds", i), msgUnknownMilestone)
		}
		items[i].MilestoneIDs = plan.ItemMilestones(i)
	}
	errs.Merge("", plan.Validate(cfg.Type, in.UseMilestones))

	p := Proposal{
		Party:         party,
		ProjectID:     in.ProjectID,
		Title:         in.Title,
		Currency:      currency,
		Config:        cfg,
		UseMilestones: in.UseMilestones,
		IssueDate:     in.IssueDate,
		ExpiryDate:    in.ExpiryDate,
		Status:        StatusDraft,
		Items:         items,
		Milestones:    plan.Milestones(),
	}
	if in.PaymentTerms != nil {
		p.PaymentTerm = decodeTerm(errs, "paymentTerms", *in.PaymentTerms, plan)
	}
	for i, raw := range in.Items {
		if raw.PaymentTerms != nil {
			p.Items[i].PaymentTerm = decodeTerm(errs, fmt.Sprintf("items[%d].paymentTerms", i), *raw.PaymentTerms, plan)
		}
	}
	if !errs.Valid() {
		return Proposal{}, errs
	}

	if requireParty {
		client, err := s.directory.ResolveParty(ctx, party)
		if err != nil {
			return Proposal{}, err
		}
		if client != nil && clientDiscount.IsZero() {
			p.Config.ClientDiscount = client.DefaultDiscount
		}
	}
	if err := s.resolveRates(ctx, &p); err != nil {
		return Proposal{}, err
	}
	s.price(&p)
	return p, nil
}

// resolveRates fills hourly rates. The blended rate always wins; otherwise an
// entered rate is kept and a missing one comes from the assignee's project or
// default rate.
func (s *Service) resolveRates(ctx context.Context, p *Proposal) error {
	for i := range p.Items {
		item := &p.Items[i]
		if pricing.ItemMethod(p.Config.Type, item.LineItem) != pricing.MethodHourly {
			continue
		}
		if p.Config.BlendedRate == nil && item.Rate != nil {
			continue
		}
		var personRate *decimal.Decimal
		if p.Config.BlendedRate == nil && item.AssigneeID > 0 {
			rate, err := s.directory.BillingRateForUserInProject(ctx, item.AssigneeID, p.ProjectID)
			if err != nil {
				return fmt.Errorf("items[%d] rate: %w", i, err)
			}
			personRate = rate
		}
		if rate := pricing.ResolveRate(personRate, p.Config.BlendedRate); rate != nil {
			item.Rate = rate
		}
	}
	return nil
}

func (s *Service) price(p *Proposal) {
	quote := s.engine.Price(lineItems(p.Items), p.Config)
	for i, priced := range quote.Items {
		p.Items[i].LineItem = priced.LineItem
		p.Items[i].Effective = priced.Effective
		p.Items[i].ExceedsCap = priced.ExceedsCap
	}
	p.Totals = quote.Totals
	p.Warnings = warnings(*p)
}

func warnings(p Proposal) []string {
	var out []string
	for i, item := range p.Items {
		if item.ExceedsCap {
			out = append(out, fmt.Sprintf("items[%d]: %s", i, msgExceedsCap))
		}
	}
	if paymentterms.MilestonesDeferred(p.PaymentTerm, len(p.Milestones)) {
		out = append(out, msgDeferred)
	}
	return out
}

func decodeTerm(errs shared.FieldErrors, field string, doc paymentterms.Document, plan *milestones.Plan) paymentterms.Term {
	term, termErrs := doc.Decode(plan.Len())
	if !termErrs.Valid() {
		errs.Merge(field, termErrs)
		return nil
	}
	for _, id := range paymentterms.MilestoneIDs(term) {
		if _, ok := plan.Get(id); !ok {
			errs.Add(field+".milestoneIds", msgUnknownMilestone)
			break
		}
	}
	return term
}

// writeChildren stores milestones, items, links and terms of p. Temporary
// milestone ids are swapped for the stored ones everywhere they appear.
func writeChildren(ctx context.Context, tx TxRepository, p *Proposal) error {
	p.Items = append([]Item(nil), p.Items...)
	plan := milestones.NewPlan(p.Milestones, len(p.Items))
	for i, item := range p.Items {
		if err := plan.Assign(i, item.MilestoneIDs); err != nil {
			return err
		}
	}

	resolved := make(map[string]string)
	keep := make([]int64, 0, plan.Len())
	for pos, m := range plan.Milestones() {
		if id, ok := durableID(m.ID); ok {
			if err := tx.UpdateMilestone(ctx, p.ID, id, pos, m); err != nil {
				return fmt.Errorf("milestone %s: %w", m.ID, err)
			}
			keep = append(keep, id)
			continue
		}
		id, err := tx.InsertMilestone(ctx, p.ID, pos, m)
		if err != nil {
			return fmt.Errorf("insert milestone: %w", err)
		}
		durable := strconv.FormatInt(id, 10)
		plan.Resolve(m.ID, durable)
		resolved[m.ID] = durable
		keep = append(keep, id)
	}
	if err := tx.DeleteMilestonesExcept(ctx, p.ID, keep); err != nil {
		return err
	}
	if err := tx.DeletePaymentTerms(ctx, p.ID); err != nil {
		return err
	}
	if err := tx.DeleteItems(ctx, p.ID); err != nil {
		return err
	}

	for i := range p.Items {
		item := &p.Items[i]
		item.MilestoneIDs = plan.ItemMilestones(i)
		id, err := tx.InsertItem(ctx, p.ID, i, *item)
		if err != nil {
			return fmt.Errorf("insert item %d: %w", i, err)
		}
		item.ID = id
		for _, mid := range item.MilestoneIDs {
			n, _ := durableID(mid)
			if err := tx.LinkItemMilestone(ctx, id, n); err != nil {
				return err
			}
		}
		if item.PaymentTerm != nil {
			item.PaymentTerm = paymentterms.RemapMilestones(item.PaymentTerm, resolved)
			if err := tx.InsertPaymentTerm(ctx, p.ID, id, item.PaymentTerm); err != nil {
				return err
			}
		}
	}
	if p.PaymentTerm != nil {
		p.PaymentTerm = paymentterms.RemapMilestones(p.PaymentTerm, resolved)
		if err := tx.InsertPaymentTerm(ctx, p.ID, 0, p.PaymentTerm); err != nil {
			return err
		}
	}
	p.Milestones = plan.Milestones()
	return nil
}

func (in ItemInput) item() (Item, error) {
	discount, err := pricing.DiscountFromFields(in.DiscountPercent, in.DiscountAmount)
	return Item{
		LineItem: pricing.LineItem{
			BillingMethod: in.BillingMethod,
			Description:   in.Description,
			Quantity:      in.Quantity,
			Rate:          in.Rate,
			UnitPrice:     in.UnitPrice,
			Amount:        money.NonNil(in.Amount),
			Discount:      discount,
			IsEstimate:    in.IsEstimate,
			IsCapped:      in.IsCapped,
			CappedHours:   in.CappedHours,
			CappedAmount:  in.CappedAmount,
		},
		AssigneeID:   in.AssigneeID,
		MilestoneIDs: in.MilestoneIDs,
	}, err
}

func lineItems(items []Item) []pricing.LineItem {
	out := make([]pricing.LineItem, len(items))
	for i, item := range items {
		out[i] = item.LineItem
	}
	return out
}

func durableID(id string) (int64, bool) {
	n, err := strconv.ParseInt(id, 10, 64)
	return n, err == nil && n > 0
}
