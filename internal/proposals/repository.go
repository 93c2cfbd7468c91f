package proposals

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-billing/internal/milestones"
	"github.com/odyssey-erp/odyssey-billing/internal/numbering"
	"github.com/odyssey-erp/odyssey-billing/internal/paymentterms"
	"github.com/odyssey-erp/odyssey-billing/internal/platform/db"
	"github.com/odyssey-erp/odyssey-billing/internal/pricing"
	"github.com/odyssey-erp/odyssey-billing/internal/shared"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const proposalColumns = `id, number, client_id, lead_id, project_id, title, type, currency, tax_rate,
	tax_inclusive, client_discount_percent, client_discount_amount, blended_rate, use_milestones,
	issue_date, expiry_date, status, subtotal, tax_amount, amount, created_at, updated_at`

// Get loads a proposal with its milestones, items and payment terms.
func (r *Repository) Get(ctx context.Context, id int64) (Proposal, error) {
	p, err := scanProposal(r.pool.QueryRow(ctx,
		`SELECT `+proposalColumns+` FROM proposals WHERE id = $1 AND deleted_at IS NULL`, id))
	if err != nil {
		return Proposal{}, err
	}
	if p.Milestones, err = r.milestones(ctx, id); err != nil {
		return Proposal{}, err
	}
	if p.Items, err = r.items(ctx, id); err != nil {
		return Proposal{}, err
	}
	if err := r.attachLinks(ctx, &p); err != nil {
		return Proposal{}, err
	}
	if err := r.attachTerms(ctx, &p); err != nil {
		return Proposal{}, err
	}
	return p, nil
}

// List returns proposal summaries and the total match count.
func (r *Repository) List(ctx context.Context, f ListFilter) ([]Summary, int, error) {
	where := []string{"deleted_at IS NULL"}
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.ClientID > 0 {
		add("client_id = $%d", f.ClientID)
	}
	if f.LeadID > 0 {
		add("lead_id = $%d", f.LeadID)
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM proposals WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	page := shared.NewPagination(f.Page, f.PerPage, total)
	args = append(args, page.PerPage, page.Offset())
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, number, client_id, lead_id, title, type, currency, status, amount, created_at
		FROM proposals WHERE %s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d`, clause, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := make([]Summary, 0, page.PerPage)
	for rows.Next() {
		var (
			s            Summary
			client, lead pgtype.Int8
			typ, status  string
			amount       pgtype.Numeric
		)
		if err := rows.Scan(&s.ID, &s.Number, &client, &lead, &s.Title, &typ, &s.Currency, &status, &amount, &s.CreatedAt); err != nil {
			return nil, 0, err
		}
		s.ClientID, s.LeadID = client.Int64, lead.Int64
		s.Type, s.Status = pricing.BillingMethod(typ), Status(status)
		if s.Amount, err = db.Decimal(amount); err != nil {
			return nil, 0, err
		}
		out = append(out, s)
	}
	return out, total, rows.Err()
}

func scanProposal(row pgx.Row) (Proposal, error) {
	var (
		p                              Proposal
		client, lead, project          pgtype.Int8
		typ, status                    string
		taxRate, pct, amountOff, blend pgtype.Numeric
		subtotal, tax, amount          pgtype.Numeric
		issue, expiry                  shared.Date
	)
	err := row.Scan(&p.ID, &p.Number, &client, &lead, &project, &p.Title, &typ, &p.Currency, &taxRate,
		&p.Config.TaxInclusive, &pct, &amountOff, &blend, &p.UseMilestones,
		&issue, &expiry, &status, &subtotal, &tax, &amount, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Proposal{}, ErrNotFound
	}
	if err != nil {
		return Proposal{}, err
	}
	p.ClientID, p.LeadID, p.ProjectID = client.Int64, lead.Int64, project.Int64
	p.Config.Type = pricing.BillingMethod(typ)
	p.Status = Status(status)
	p.IssueDate, p.ExpiryDate = shared.DatePtr(issue), shared.DatePtr(expiry)
	if p.Config.TaxRate, err = db.Decimal(taxRate); err != nil {
		return Proposal{}, err
	}
	if p.Config.BlendedRate, err = db.NullDecimal(blend); err != nil {
		return Proposal{}, err
	}
	if p.Config.ClientDiscount, err = discount(pct, amountOff); err != nil {
		return Proposal{}, err
	}
	if p.Totals.Subtotal, err = db.Decimal(subtotal); err != nil {
		return Proposal{}, err
	}
	if p.Totals.Tax, err = db.Decimal(tax); err != nil {
		return Proposal{}, err
	}
	if p.Totals.GrandTotal, err = db.Decimal(amount); err != nil {
		return Proposal{}, err
	}
	return p, nil
}

func (r *Repository) milestones(ctx context.Context, proposalID int64) ([]milestones.Milestone, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, description, amount, percent, due_date
		FROM proposal_milestones
		WHERE proposal_id = $1 AND deleted_at IS NULL
		ORDER BY position, id`, proposalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []milestones.Milestone
	for rows.Next() {
		var (
			m               milestones.Milestone
			id              int64
			amount, percent pgtype.Numeric
			due             shared.Date
		)
		if err := rows.Scan(&id, &m.Name, &m.Description, &amount, &percent, &due); err != nil {
			return nil, err
		}
		m.ID = strconv.FormatInt(id, 10)
		m.DueDate = shared.DatePtr(due)
		a, err := db.NullDecimal(amount)
		if err != nil {
			return nil, err
		}
		pc, err := db.NullDecimal(percent)
		if err != nil {
			return nil, err
		}
		if m.Share, err = milestones.ShareFromFields(a, pc); err != nil {
			return nil, fmt.Errorf("milestone %d: %w", id, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *Repository) items(ctx context.Context, proposalID int64) ([]Item, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, billing_method, description, quantity, rate, unit_price, amount,
		       discount_percent, discount_amount, is_estimate, is_capped, capped_hours,
		       capped_amount, assignee_id
		FROM proposal_items
		WHERE proposal_id = $1 AND deleted_at IS NULL
		ORDER BY position, id`, proposalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		var (
			item                          Item
			method                        string
			qty, rate, unit, amount       pgtype.Numeric
			pct, amountOff, hours, capAmt pgtype.Numeric
			assignee                      pgtype.Int8
		)
		if err := rows.Scan(&item.ID, &method, &item.Description, &qty, &rate, &unit, &amount,
			&pct, &amountOff, &item.IsEstimate, &item.IsCapped, &hours, &capAmt, &assignee); err != nil {
			return nil, err
		}
		item.BillingMethod = pricing.BillingMethod(method)
		item.AssigneeID = assignee.Int64
		var err error
		if item.Quantity, err = db.NullDecimal(qty); err != nil {
			return nil, err
		}
		if item.Rate, err = db.NullDecimal(rate); err != nil {
			return nil, err
		}
		if item.UnitPrice, err = db.NullDecimal(unit); err != nil {
			return nil, err
		}
		if item.Amount, err = db.Decimal(amount); err != nil {
			return nil, err
		}
		if item.CappedHours, err = db.NullDecimal(hours); err != nil {
			return nil, err
		}
		if item.CappedAmount, err = db.NullDecimal(capAmt); err != nil {
			return nil, err
		}
		if item.Discount, err = discount(pct, amountOff); err != nil {
			return nil, fmt.Errorf("item %d: %w", item.ID, err)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (r *Repository) attachLinks(ctx context.Context, p *Proposal) error {
	if len(p.Items) == 0 {
		return nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT l.item_id, l.milestone_id
		FROM proposal_item_milestones l
		JOIN proposal_items i ON i.id = l.item_id AND i.deleted_at IS NULL
		JOIN proposal_milestones m ON m.id = l.milestone_id AND m.deleted_at IS NULL
		WHERE i.proposal_id = $1
		ORDER BY l.item_id, m.position, m.id`, p.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	index := make(map[int64]int, len(p.Items))
	for i, item := range p.Items {
		index[item.ID] = i
	}
	for rows.Next() {
		var itemID, milestoneID int64
		if err := rows.Scan(&itemID, &milestoneID); err != nil {
			return err
		}
		if i, ok := index[itemID]; ok {
			p.Items[i].MilestoneIDs = append(p.Items[i].MilestoneIDs, strconv.FormatInt(milestoneID, 10))
		}
	}
	return rows.Err()
}

func (r *Repository) attachTerms(ctx context.Context, p *Proposal) error {
	rows, err := r.pool.Query(ctx, `
		SELECT proposal_item_id, due_date, upfront_type, upfront_value, balance_payment_type,
		       balance_due_date, recurring_enabled, recurring_frequency, recurring_custom_months,
		       recurring_start_date, installment_type, installment_count, installment_frequency,
		       milestone_ids
		FROM payment_terms
		WHERE proposal_id = $1 AND deleted_at IS NULL`, p.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	index := make(map[int64]int, len(p.Items))
	for i, item := range p.Items {
		index[item.ID] = i
	}
	for rows.Next() {
		var (
			itemID                        pgtype.Int8
			due, balanceDue, start        shared.Date
			upfrontType, balanceType      pgtype.Text
			frequency, instType, instFreq pgtype.Text
			upfrontValue                  pgtype.Numeric
			customMonths, instCount       pgtype.Int4
			rec                           paymentterms.Record
		)
		if err := rows.Scan(&itemID, &due, &upfrontType, &upfrontValue, &balanceType,
			&balanceDue, &rec.RecurringEnabled, &frequency, &customMonths,
			&start, &instType, &instCount, &instFreq, &rec.MilestoneIDs); err != nil {
			return err
		}
		value, err := db.NullDecimal(upfrontValue)
		if err != nil {
			return err
		}
		rec.DueDate = shared.DatePtr(due)
		rec.UpfrontType = textAs[paymentterms.UpfrontType](upfrontType)
		rec.UpfrontValue = value
		rec.BalancePaymentType = textAs[paymentterms.BalancePaymentType](balanceType)
		rec.BalanceDueDate = shared.DatePtr(balanceDue)
		rec.RecurringFrequency = textAs[paymentterms.Frequency](frequency)
		rec.RecurringCustomMonths = intPtr(customMonths)
		rec.RecurringStartDate = shared.DatePtr(start)
		rec.InstallmentType = textAs[paymentterms.InstallmentType](instType)
		rec.InstallmentCount = intPtr(instCount)
		rec.InstallmentFrequency = textAs[paymentterms.InstallmentFrequency](instFreq)

		term := paymentterms.FromRecord(rec)
		if !itemID.Valid {
			p.PaymentTerm = term
			continue
		}
		if i, ok := index[itemID.Int64]; ok {
			p.Items[i].PaymentTerm = term
		}
	}
	return rows.Err()
}

func (r *txRepo) InsertProposal(ctx context.Context, p Proposal) (int64, error) {
	pct, amountOff := p.Config.ClientDiscount.Percent(), p.Config.ClientDiscount.Amount()
	var id int64
	err := r.tx.QueryRow(ctx, `
		INSERT INTO proposals (number, client_id, lead_id, project_id, title, type, currency, tax_rate,
			tax_inclusive, client_discount_percent, client_discount_amount, blended_rate, use_milestones,
			issue_date, expiry_date, status, subtotal, tax_amount, amount, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,NOW(),NOW())
		RETURNING id`,
		p.Number, db.Int8(p.ClientID), db.Int8(p.LeadID), db.Int8(p.ProjectID), p.Title,
		string(p.Config.Type), p.Currency, db.Numeric(p.Config.TaxRate), p.Config.TaxInclusive,
		db.NullNumeric(pct), db.NullNumeric(amountOff), db.NullNumeric(p.Config.BlendedRate),
		p.UseMilestones, p.IssueDate, p.ExpiryDate, string(p.Status),
		db.Numeric(p.Totals.Subtotal), db.Numeric(p.Totals.Tax), db.Numeric(p.Totals.GrandTotal),
	).Scan(&id)
	if db.IsUniqueViolation(err, "proposals_number_key") {
		return 0, fmt.Errorf("%w: %s", numbering.ErrDuplicateNumber, p.Number)
	}
	return id, err
}

func (r *txRepo) UpdateProposal(ctx context.Context, p Proposal) error {
	pct, amountOff := p.Config.ClientDiscount.Percent(), p.Config.ClientDiscount.Amount()
	tag, err := r.tx.Exec(ctx, `
		UPDATE proposals SET client_id = $2, lead_id = $3, project_id = $4, title = $5, type = $6,
			currency = $7, tax_rate = $8, tax_inclusive = $9, client_discount_percent = $10,
			client_discount_amount = $11, blended_rate = $12, use_milestones = $13, issue_date = $14,
			expiry_date = $15, subtotal = $16, tax_amount = $17, amount = $18, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`,
		p.ID, db.Int8(p.ClientID), db.Int8(p.LeadID), db.Int8(p.ProjectID), p.Title,
		string(p.Config.Type), p.Currency, db.Numeric(p.Config.TaxRate), p.Config.TaxInclusive,
		db.NullNumeric(pct), db.NullNumeric(amountOff), db.NullNumeric(p.Config.BlendedRate),
		p.UseMilestones, p.IssueDate, p.ExpiryDate,
		db.Numeric(p.Totals.Subtotal), db.Numeric(p.Totals.Tax), db.Numeric(p.Totals.GrandTotal))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *txRepo) InsertMilestone(ctx context.Context, proposalID int64, position int, m milestones.Milestone) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `
		INSERT INTO proposal_milestones (proposal_id, position, name, description, amount, percent, due_date)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING id`,
		proposalID, position, m.Name, m.Description,
		db.NullNumeric(m.Share.Amount()), db.NullNumeric(m.Share.Percent()), m.DueDate,
	).Scan(&id)
	return id, err
}

func (r *txRepo) UpdateMilestone(ctx context.Context, proposalID, milestoneID int64, position int, m milestones.Milestone) error {
	tag, err := r.tx.Exec(ctx, `
		UPDATE proposal_milestones SET position = $3, name = $4, description = $5, amount = $6,
			percent = $7, due_date = $8
		WHERE id = $1 AND proposal_id = $2 AND deleted_at IS NULL`,
		milestoneID, proposalID, position, m.Name, m.Description,
		db.NullNumeric(m.Share.Amount()), db.NullNumeric(m.Share.Percent()), m.DueDate)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("proposals: milestone %d: %w", milestoneID, shared.ErrNotFound)
	}
	return nil
}

func (r *txRepo) DeleteMilestonesExcept(ctx context.Context, proposalID int64, keep []int64) error {
	if keep == nil {
		keep = []int64{}
	}
	_, err := r.tx.Exec(ctx, `
		UPDATE proposal_milestones SET deleted_at = NOW()
		WHERE proposal_id = $1 AND deleted_at IS NULL AND NOT (id = ANY($2))`, proposalID, keep)
	return err
}

func (r *txRepo) DeleteItems(ctx context.Context, proposalID int64) error {
	if _, err := r.tx.Exec(ctx, `
		DELETE FROM proposal_item_milestones
		WHERE item_id IN (SELECT id FROM proposal_items WHERE proposal_id = $1)`, proposalID); err != nil {
		return err
	}
	_, err := r.tx.Exec(ctx, `
		UPDATE proposal_items SET deleted_at = NOW()
		WHERE proposal_id = $1 AND deleted_at IS NULL`, proposalID)
	return err
}

func (r *txRepo) InsertItem(ctx context.Context, proposalID int64, position int, item Item) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `
		INSERT INTO proposal_items (proposal_id, position, billing_method, description, quantity, rate,
			unit_price, amount, discount_percent, discount_amount, is_estimate, is_capped,
			capped_hours, capped_amount, assignee_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		RETURNING id`,
		proposalID, position, string(item.BillingMethod), item.Description,
		db.NullNumeric(item.Quantity), db.NullNumeric(item.Rate), db.NullNumeric(item.UnitPrice),
		db.Numeric(item.Amount), db.NullNumeric(item.Discount.Percent()), db.NullNumeric(item.Discount.Amount()),
		item.IsEstimate, item.IsCapped, db.NullNumeric(item.CappedHours), db.NullNumeric(item.CappedAmount),
		db.Int8(item.AssigneeID),
	).Scan(&id)
	return id, err
}

func (r *txRepo) LinkItemMilestone(ctx context.Context, itemID, milestoneID int64) error {
	_, err := r.tx.Exec(ctx, `
		INSERT INTO proposal_item_milestones (item_id, milestone_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, itemID, milestoneID)
	return err
}

func (r *txRepo) DeletePaymentTerms(ctx context.Context, proposalID int64) error {
	_, err := r.tx.Exec(ctx, `
		UPDATE payment_terms SET deleted_at = NOW()
		WHERE proposal_id = $1 AND deleted_at IS NULL`, proposalID)
	return err
}

func (r *txRepo) InsertPaymentTerm(ctx context.Context, proposalID, itemID int64, t paymentterms.Term) error {
	rec := paymentterms.ToRecord(t)
	ids := rec.MilestoneIDs
	if ids == nil {
		ids = []string{}
	}
	_, err := r.tx.Exec(ctx, `
		INSERT INTO payment_terms (proposal_id, proposal_item_id, due_date, upfront_type, upfront_value,
			balance_payment_type, balance_due_date, recurring_enabled, recurring_frequency,
			recurring_custom_months, recurring_start_date, installment_type, installment_count,
			installment_frequency, milestone_ids)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		proposalID, db.Int8(itemID), rec.DueDate, text(rec.UpfrontType), db.NullNumeric(rec.UpfrontValue),
		text(rec.BalancePaymentType), rec.BalanceDueDate, rec.RecurringEnabled, text(rec.RecurringFrequency),
		rec.RecurringCustomMonths, rec.RecurringStartDate, text(rec.InstallmentType), rec.InstallmentCount,
		text(rec.InstallmentFrequency), ids)
	return err
}

func (r *txRepo) SetStatus(ctx context.Context, id int64, status Status) error {
	tag, err := r.tx.Exec(ctx, `
		UPDATE proposals SET status = $2, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`, id, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func discount(pct, amount pgtype.Numeric) (pricing.Discount, error) {
	p, err := db.NullDecimal(pct)
	if err != nil {
		return pricing.Discount{}, err
	}
	a, err := db.NullDecimal(amount)
	if err != nil {
		return pricing.Discount{}, err
	}
	return pricing.DiscountFromFields(p, a)
}

func text[T ~string](v *T) pgtype.Text {
	if v == nil {
		return pgtype.Text{}
	}
	return pgtype.Text{String: string(*v), Valid: true}
}

func textAs[T ~string](v pgtype.Text) *T {
	if !v.Valid {
		return nil
	}
	out := T(v.String)
	return &out
}

func intPtr(v pgtype.Int4) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int32)
	return &n
}
