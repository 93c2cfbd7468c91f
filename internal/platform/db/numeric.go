package db

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// Numeric converts d for a NUMERIC column.
func Numeric(d decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}

// NullNumeric converts an optional decimal; nil becomes SQL NULL.
func NullNumeric(d *decimal.Decimal) pgtype.Numeric {
	if d == nil {
		return pgtype.Numeric{}
	}
	return Numeric(*d)
}

// Decimal reads a NUMERIC value. NULL reads as zero.
func Decimal(n pgtype.Numeric) (decimal.Decimal, error) {
	if !n.Valid {
		return decimal.Zero, nil
	}
	if n.NaN || n.InfinityModifier != pgtype.Finite {
		return decimal.Zero, fmt.Errorf("platform/db: numeric %v is not finite", n)
	}
	if n.Int == nil {
		return decimal.Zero, nil
	}
	return decimal.NewFromBigInt(n.Int, n.Exp), nil
}

// NullDecimal reads a nullable NUMERIC value.
func NullDecimal(n pgtype.Numeric) (*decimal.Decimal, error) {
	if !n.Valid {
		return nil, nil
	}
	d, err := Decimal(n)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// Int8 converts a positive id to a nullable BIGINT; zero becomes NULL.
func Int8(id int64) pgtype.Int8 {
	return pgtype.Int8{Int64: id, Valid: id > 0}
}
