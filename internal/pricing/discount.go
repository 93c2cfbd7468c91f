package pricing

import (
	"encoding/json"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-billing/internal/money"
)

// ErrDiscountConflict is returned when both a percent and an amount are given.
var ErrDiscountConflict = errors.New("pricing: discount percent and amount are mutually exclusive")

// DiscountKind tags the active discount variant.
type DiscountKind string

const (
	DiscountNone    DiscountKind = ""
	DiscountPercent DiscountKind = "PERCENT"
	DiscountAmount  DiscountKind = "FIXED_AMOUNT"
)

// Discount is either nothing, a percentage or a fixed amount. Setting one
// variant replaces the other, so both can never be present together.
type Discount struct {
	Kind  DiscountKind
	Value decimal.Decimal
}

// NoDiscount is the empty discount.
func NoDiscount() Discount { return Discount{} }

// PercentOff builds a percentage discount.
func PercentOff(pct decimal.Decimal) Discount {
	return Discount{Kind: DiscountPercent, Value: pct}
}

// AmountOff builds a fixed amount discount.
func AmountOff(amount decimal.Decimal) Discount {
	return Discount{Kind: DiscountAmount, Value: amount}
}

// DiscountFromFields maps the nullable boundary representation to a Discount.
func DiscountFromFields(pct, amount *decimal.Decimal) (Discount, error) {
	switch {
	case pct != nil && amount != nil:
		return Discount{}, ErrDiscountConflict
	case pct != nil:
		return PercentOff(*pct), nil
	case amount != nil:
		return AmountOff(*amount), nil
	default:
		return NoDiscount(), nil
	}
}

// IsZero reports whether no discount applies.
func (d Discount) IsZero() bool {
	return d.Kind == DiscountNone
}

// Percent returns the percentage or nil.
func (d Discount) Percent() *decimal.Decimal {
	if d.Kind != DiscountPercent {
		return nil
	}
	return money.Ptr(d.Value)
}

// Amount returns the fixed amount or nil.
func (d Discount) Amount() *decimal.Decimal {
	if d.Kind != DiscountAmount {
		return nil
	}
	return money.Ptr(d.Value)
}

// Of returns the discount value taken off base, rounded to cents.
func (d Discount) Of(base decimal.Decimal) decimal.Decimal {
	switch d.Kind {
	case DiscountPercent:
		return money.Round2(money.Percent(base, d.Value))
	case DiscountAmount:
		return money.Round2(d.Value)
	default:
		return decimal.Zero
	}
}

type discountJSON struct {
	Type  DiscountKind     `json:"type,omitempty"`
	Value *decimal.Decimal `json:"value,omitempty"`
}

// MarshalJSON encodes {"type": "...", "value": "..."} or null.
func (d Discount) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(discountJSON{Type: d.Kind, Value: money.Ptr(d.Value)})
}

// UnmarshalJSON decodes the tagged form.
func (d *Discount) UnmarshalJSON(data []byte) error {
	var raw *discountJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil || raw.Type == DiscountNone {
		*d = NoDiscount()
		return nil
	}
	if raw.Type != DiscountPercent && raw.Type != DiscountAmount {
		return errors.New("pricing: unknown discount type " + string(raw.Type))
	}
	*d = Discount{Kind: raw.Type, Value: money.NonNil(raw.Value)}
	return nil
}
