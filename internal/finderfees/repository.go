package finderfees

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-billing/internal/platform/db"
	"github.com/odyssey-erp/odyssey-billing/internal/pricing"
)

// PgRepository provides PostgreSQL backed persistence for finder fees.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const feeColumns = `id, bill_id, client_finder_id, finder_id, client_id, invoice_net_amount,
	finder_fee_percent, finder_fee_amount, remaining_amount, status, earned_at, created_at`

// GetInvoice loads the fee-relevant view of a bill.
func (r *PgRepository) GetInvoice(ctx context.Context, billID int64) (Invoice, error) {
	var (
		inv                     Invoice
		clientID                pgtype.Int8
		paidAt                  pgtype.Timestamptz
		subtotal, pct, discount pgtype.Numeric
		status                  string
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, client_id, status, paid_at, subtotal, discount_percent, discount_amount
		FROM bills WHERE id = $1 AND deleted_at IS NULL`, billID).
		Scan(&inv.ID, &clientID, &status, &paidAt, &subtotal, &pct, &discount)
	if errors.Is(err, pgx.ErrNoRows) {
		return Invoice{}, ErrNotFound
	}
	if err != nil {
		return Invoice{}, err
	}
	inv.ClientID = clientID.Int64
	inv.Status = InvoiceStatus(status)
	if paidAt.Valid {
		t := paidAt.Time
		inv.PaidAt = &t
	}
	if inv.Subtotal, err = db.NullDecimal(subtotal); err != nil {
		return Invoice{}, err
	}
	p, err := db.NullDecimal(pct)
	if err != nil {
		return Invoice{}, err
	}
	a, err := db.NullDecimal(discount)
	if err != nil {
		return Invoice{}, err
	}
	if inv.Discount, err = pricing.DiscountFromFields(p, a); err != nil {
		return Invoice{}, fmt.Errorf("bill %d discount: %w", billID, err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT amount, is_credit FROM bill_items
		WHERE bill_id = $1 AND deleted_at IS NULL
		ORDER BY position`, billID)
	if err != nil {
		return Invoice{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			item   InvoiceItem
			amount pgtype.Numeric
		)
		if err := rows.Scan(&amount, &item.IsCredit); err != nil {
			return Invoice{}, err
		}
		if item.Amount, err = db.Decimal(amount); err != nil {
			return Invoice{}, err
		}
		inv.Items = append(inv.Items, item)
	}
	return inv, rows.Err()
}

// FeesExistForBill reports whether any fee row exists for the bill.
func (r *PgRepository) FeesExistForBill(ctx context.Context, billID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM finder_fees WHERE bill_id = $1)`, billID).Scan(&exists)
	return exists, err
}

// CreateFees inserts the fees in one transaction.
func (r *PgRepository) CreateFees(ctx context.Context, fees []FinderFee) ([]FinderFee, error) {
	out := make([]FinderFee, 0, len(fees))
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		for _, fee := range fees {
			err := tx.QueryRow(ctx, `
				INSERT INTO finder_fees (
					bill_id, client_finder_id, finder_id, client_id, invoice_net_amount,
					finder_fee_percent, finder_fee_amount, remaining_amount, status, earned_at
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
				RETURNING id, created_at`,
				fee.BillID, fee.ClientFinderID, fee.FinderID, fee.ClientID,
				db.Numeric(fee.InvoiceNetAmount), db.Numeric(fee.FinderFeePercent),
				db.Numeric(fee.FinderFeeAmount), db.Numeric(fee.RemainingAmount),
				string(fee.Status), fee.EarnedAt,
			).Scan(&fee.ID, &fee.CreatedAt)
			if db.IsUniqueViolation(err) {
				return ErrAlreadyCreated
			}
			if err != nil {
				return err
			}
			out = append(out, fee)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetFee loads a fee.
func (r *PgRepository) GetFee(ctx context.Context, id int64) (FinderFee, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+feeColumns+` FROM finder_fees WHERE id = $1 AND deleted_at IS NULL`, id)
	fee, err := scanFee(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return FinderFee{}, ErrNotFound
	}
	return fee, err
}

// ListFeesByFinder lists a finder's fees, newest first.
func (r *PgRepository) ListFeesByFinder(ctx context.Context, finderID int64) ([]FinderFee, error) {
	return r.list(ctx, `SELECT `+feeColumns+` FROM finder_fees
		WHERE finder_id = $1 AND deleted_at IS NULL ORDER BY earned_at DESC, id DESC`, finderID)
}

// ListFeesByBill lists the fees of a bill.
func (r *PgRepository) ListFeesByBill(ctx context.Context, billID int64) ([]FinderFee, error) {
	return r.list(ctx, `SELECT `+feeColumns+` FROM finder_fees
		WHERE bill_id = $1 AND deleted_at IS NULL ORDER BY id`, billID)
}

// ApplyPayment locks the fee row, applies the payment and records it.
func (r *PgRepository) ApplyPayment(ctx context.Context, feeID int64, amount decimal.Decimal, paidAt time.Time, apply func(FinderFee) (FinderFee, error)) (FinderFee, error) {
	var updated FinderFee
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT `+feeColumns+` FROM finder_fees
			WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`, feeID)
		fee, err := scanFee(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if updated, err = apply(fee); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE finder_fees SET remaining_amount = $2, status = $3, updated_at = NOW()
			WHERE id = $1`, feeID, db.Numeric(updated.RemainingAmount), string(updated.Status)); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO finder_fee_payments (finder_fee_id, amount, paid_at) VALUES ($1, $2, $3)`,
			feeID, db.Numeric(amount), paidAt)
		return err
	})
	return updated, err
}

// MarkProcessed stamps the bill so the sweep no longer selects it.
func (r *PgRepository) MarkProcessed(ctx context.Context, billID int64) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE bills SET finder_fees_processed_at = NOW()
		WHERE id = $1 AND finder_fees_processed_at IS NULL`, billID)
	return err
}

// UnprocessedPaidBills lists paid client bills not yet stamped as processed
// whose client has at least one finder with a positive percentage.
func (r *PgRepository) UnprocessedPaidBills(ctx context.Context, limit int) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT b.id FROM bills b
		WHERE b.status = 'PAID' AND b.deleted_at IS NULL AND b.client_id IS NOT NULL
		  AND b.finder_fees_processed_at IS NULL
		  AND EXISTS (
			SELECT 1 FROM client_finders cf
			WHERE cf.client_id = b.client_id AND cf.deleted_at IS NULL AND cf.finder_fee_percent > 0)
		ORDER BY b.paid_at
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *PgRepository) list(ctx context.Context, query string, arg int64) ([]FinderFee, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []FinderFee
	for rows.Next() {
		fee, err := scanFee(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, fee)
	}
	return out, rows.Err()
}

func scanFee(row pgx.Row) (FinderFee, error) {
	var (
		fee                         FinderFee
		net, pct, amount, remaining pgtype.Numeric
		status                      string
	)
	if err := row.Scan(&fee.ID, &fee.BillID, &fee.ClientFinderID, &fee.FinderID, &fee.ClientID,
		&net, &pct, &amount, &remaining, &status, &fee.EarnedAt, &fee.CreatedAt); err != nil {
		return FinderFee{}, err
	}
	fee.Status = Status(status)
	var err error
	if fee.InvoiceNetAmount, err = db.Decimal(net); err != nil {
		return FinderFee{}, err
	}
	if fee.FinderFeePercent, err = db.Decimal(pct); err != nil {
		return FinderFee{}, err
	}
	if fee.FinderFeeAmount, err = db.Decimal(amount); err != nil {
		return FinderFee{}, err
	}
	if fee.RemainingAmount, err = db.Decimal(remaining); err != nil {
		return FinderFee{}, err
	}
	return fee, nil
}
