package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-billing/internal/platform/db"
	"github.com/odyssey-erp/odyssey-billing/internal/pricing"
)

// PgRepository reads the directory tables. Soft-deleted rows are invisible.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL backed repository.
func NewRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// GetClient loads a client.
func (r *PgRepository) GetClient(ctx context.Context, id int64) (Client, error) {
	var (
		c           Client
		pct, amount pgtype.Numeric
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, company, default_discount_percent, default_discount_amount
		FROM clients WHERE id = $1 AND deleted_at IS NULL`, id).
		Scan(&c.ID, &c.Name, &c.Company, &pct, &amount)
	if err != nil {
		return Client{}, notFound(err)
	}
	p, err := db.NullDecimal(pct)
	if err != nil {
		return Client{}, err
	}
	a, err := db.NullDecimal(amount)
	if err != nil {
		return Client{}, err
	}
	c.DefaultDiscount, err = pricing.DiscountFromFields(p, a)
	if err != nil {
		return Client{}, fmt.Errorf("client %d: %w", id, err)
	}
	return c, nil
}

// GetLead loads a lead.
func (r *PgRepository) GetLead(ctx context.Context, id int64) (Lead, error) {
	var l Lead
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, company FROM leads WHERE id = $1 AND deleted_at IS NULL`, id).
		Scan(&l.ID, &l.Name, &l.Company)
	if err != nil {
		return Lead{}, notFound(err)
	}
	return l, nil
}

// GetUser loads a user.
func (r *PgRepository) GetUser(ctx context.Context, id int64) (User, error) {
	var (
		u    User
		rate pgtype.Numeric
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, default_hourly_rate, profile_tier
		FROM users WHERE id = $1 AND deleted_at IS NULL`, id).
		Scan(&u.ID, &u.Name, &rate, &u.ProfileTier)
	if err != nil {
		return User{}, notFound(err)
	}
	u.DefaultHourlyRate, err = db.NullDecimal(rate)
	if err != nil {
		return User{}, err
	}
	return u, nil
}

// ListClientFinders returns the live referral records of a client.
func (r *PgRepository) ListClientFinders(ctx context.Context, clientID int64) ([]ClientFinder, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, client_id, user_id, finder_fee_percent
		FROM client_finders
		WHERE client_id = $1 AND deleted_at IS NULL
		ORDER BY id`, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ClientFinder
	for rows.Next() {
		var (
			f   ClientFinder
			pct pgtype.Numeric
		)
		if err := rows.Scan(&f.ID, &f.ClientID, &f.UserID, &pct); err != nil {
			return nil, err
		}
		if f.FinderFeePercent, err = db.Decimal(pct); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// ProjectRate returns the user's rate in the project's rate table, or nil.
func (r *PgRepository) ProjectRate(ctx context.Context, projectID, userID int64) (*decimal.Decimal, error) {
	var rate pgtype.Numeric
	err := r.pool.QueryRow(ctx, `
		SELECT pr.hourly_rate
		FROM project_rates pr
		JOIN projects p ON p.id = pr.project_id AND p.deleted_at IS NULL
		WHERE pr.project_id = $1 AND pr.user_id = $2`, projectID, userID).Scan(&rate)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return db.NullDecimal(rate)
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
