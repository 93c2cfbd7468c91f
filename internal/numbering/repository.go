package numbering

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads issued numbers from the proposals and bills tables.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the store.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var tables = map[Kind]string{
	KindProposal: "proposals",
	KindInvoice:  "bills",
}

// LastNumber returns the highest number with yearPrefix. Soft-deleted rows
// are included: their numbers stay taken under the unique constraint.
func (r *Repository) LastNumber(ctx context.Context, kind Kind, yearPrefix string) (string, bool, error) {
	table, ok := tables[kind]
	if !ok {
		return "", false, fmt.Errorf("numbering: unknown kind %q", kind)
	}
	query := fmt.Sprintf(`
		SELECT number FROM %s
		WHERE number LIKE $1
		ORDER BY length(number) DESC, number DESC
		LIMIT 1`, table)
	var number string
	err := r.pool.QueryRow(ctx, query, yearPrefix+"%").Scan(&number)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return number, true, nil
}
