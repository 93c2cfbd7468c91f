package bills

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-billing/internal/numbering"
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

// Get loads a bill with its items.
func (r *Repository) Get(ctx context.Context, id int64) (Bill, error) {
	var (
		b                                 Bill
		proposal, client, lead            pgtype.Int8
		subtotal, pct, amountOff, taxRate pgtype.Numeric
		tax, total                        pgtype.Numeric
		status                            string
		due                               shared.Date
		paidAt                            pgtype.Timestamptz
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, number, proposal_id, client_id, lead_id, currency, subtotal, discount_percent,
		       discount_amount, tax_rate, tax_inclusive, tax_amount, total, status, issue_date,
		       due_date, paid_at, created_at, updated_at
		FROM bills WHERE id = $1 AND deleted_at IS NULL`, id).
		Scan(&b.ID, &b.Number, &proposal, &client, &lead, &b.Currency, &subtotal, &pct,
			&amountOff, &taxRate, &b.TaxInclusive, &tax, &total, &status, &b.IssueDate,
			&due, &paidAt, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Bill{}, ErrNotFound
	}
	if err != nil {
		return Bill{}, err
	}
	b.ProposalID, b.ClientID, b.LeadID = proposal.Int64, client.Int64, lead.Int64
	b.Status = Status(status)
	b.DueDate = shared.DatePtr(due)
	if paidAt.Valid {
		t := paidAt.Time
		b.PaidAt = &t
	}
	if b.Subtotal, err = db.NullDecimal(subtotal); err != nil {
		return Bill{}, err
	}
	if b.TaxRate, err = db.Decimal(taxRate); err != nil {
		return Bill{}, err
	}
	if b.TaxAmount, err = db.Decimal(tax); err != nil {
		return Bill{}, err
	}
	if b.Total, err = db.Decimal(total); err != nil {
		return Bill{}, err
	}
	p, err := db.NullDecimal(pct)
	if err != nil {
		return Bill{}, err
	}
	a, err := db.NullDecimal(amountOff)
	if err != nil {
		return Bill{}, err
	}
	if b.Discount, err = pricing.DiscountFromFields(p, a); err != nil {
		return Bill{}, fmt.Errorf("bill %d discount: %w", id, err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, description, amount, is_credit, expense_id
		FROM bill_items
		WHERE bill_id = $1 AND deleted_at IS NULL
		ORDER BY position, id`, id)
	if err != nil {
		return Bill{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			item    Item
			amount  pgtype.Numeric
			expense pgtype.Int8
		)
		if err := rows.Scan(&item.ID, &item.Description, &amount, &item.IsCredit, &expense); err != nil {
			return Bill{}, err
		}
		if item.Amount, err = db.Decimal(amount); err != nil {
			return Bill{}, err
		}
		item.ExpenseID = expense.Int64
		b.Items = append(b.Items, item)
	}
	return b, rows.Err()
}

func (r *txRepo) InsertBill(ctx context.Context, b Bill) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `
		INSERT INTO bills (number, proposal_id, client_id, lead_id, currency, subtotal, discount_percent,
			discount_amount, tax_rate, tax_inclusive, tax_amount, total, status, issue_date, due_date,
			created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$16)
		RETURNING id`,
		b.Number, db.Int8(b.ProposalID), db.Int8(b.ClientID), db.Int8(b.LeadID), b.Currency,
		db.NullNumeric(b.Subtotal), db.NullNumeric(b.Discount.Percent()), db.NullNumeric(b.Discount.Amount()),
		db.Numeric(b.TaxRate), b.TaxInclusive, db.Numeric(b.TaxAmount), db.Numeric(b.Total),
		string(b.Status), b.IssueDate, b.DueDate, b.CreatedAt,
	).Scan(&id)
	if db.IsUniqueViolation(err, "bills_number_key") {
		return 0, fmt.Errorf("%w: %s", numbering.ErrDuplicateNumber, b.Number)
	}
	return id, err
}

func (r *txRepo) InsertItem(ctx context.Context, billID int64, position int, item Item) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `
		INSERT INTO bill_items (bill_id, position, description, amount, is_credit, expense_id)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id`,
		billID, position, item.Description, db.Numeric(item.Amount), item.IsCredit, db.Int8(item.ExpenseID),
	).Scan(&id)
	return id, err
}

func (r *txRepo) MarkPaid(ctx context.Context, id int64, paidAt time.Time) (bool, error) {
	tag, err := r.tx.Exec(ctx, `
		UPDATE bills SET status = $2, paid_at = $3, finder_fees_processed_at = NULL, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL AND status <> $2`, id, string(StatusPaid), paidAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
