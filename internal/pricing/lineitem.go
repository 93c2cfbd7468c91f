package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-billing/internal/money"
)

// LineItem is the priced portion of a proposal line.
type LineItem struct {
	BillingMethod BillingMethod    `json:"billingMethod"`
	Description   string           `json:"description"`
	Quantity      *decimal.Decimal `json:"quantity,omitempty"`
	Rate          *decimal.Decimal `json:"rate,omitempty"`
	UnitPrice     *decimal.Decimal `json:"unitPrice,omitempty"`
	Amount        decimal.Decimal  `json:"amount"`
	Discount      Discount         `json:"discount"`
	IsEstimate    bool             `json:"isEstimate"`
	IsCapped      bool             `json:"isCapped"`
	CappedHours   *decimal.Decimal `json:"cappedHours,omitempty"`
	CappedAmount  *decimal.Decimal `json:"cappedAmount,omitempty"`
}

// SetDiscountPercent replaces any existing discount with a percentage.
func (li *LineItem) SetDiscountPercent(pct decimal.Decimal) {
	li.Discount = PercentOff(pct)
}

// SetDiscountAmount replaces any existing discount with a fixed amount.
func (li *LineItem) SetDiscountAmount(amount decimal.Decimal) {
	li.Discount = AmountOff(amount)
}

// ClearDiscount removes the item discount.
func (li *LineItem) ClearDiscount() {
	li.Discount = NoDiscount()
}

// ComputeAmount returns the item amount for method. Missing inputs count as
// zero so partially filled drafts still price.
func ComputeAmount(method BillingMethod, item LineItem) decimal.Decimal {
	rule, ok := RuleFor(method)
	if !ok {
		return money.Round2(item.Amount)
	}
	switch rule.Basis {
	case BasisHours:
		hours := money.ClampNonNegative(money.NonNil(item.Quantity))
		rate := money.ClampNonNegative(money.NonNil(item.Rate))
		return money.Round2(hours.Mul(rate))
	case BasisUnits:
		if item.UnitPrice == nil {
			return money.Round2(money.ClampNonNegative(item.Amount))
		}
		qty := decimal.NewFromInt(1)
		if item.Quantity != nil {
			qty = money.ClampNonNegative(*item.Quantity)
		}
		return money.Round2(qty.Mul(money.ClampNonNegative(*item.UnitPrice)))
	default:
		return money.Round2(money.ClampNonNegative(item.Amount))
	}
}

// Recalculate updates item.Amount for auto-calculating methods and leaves
// directly entered amounts untouched. It is idempotent.
func Recalculate(method BillingMethod, item *LineItem) {
	item.Amount = ComputeAmount(method, *item)
}

// EffectiveAmount is the item amount after its own discount, never negative.
func EffectiveAmount(item LineItem) decimal.Decimal {
	return money.ClampNonNegative(money.Round2(item.Amount).Sub(item.Discount.Of(item.Amount)))
}

// CapCeiling is the most a capped hourly item may bill: the capped amount
// when set, otherwise capped hours at the item rate. Uncapped items have no
// ceiling.
func CapCeiling(item LineItem) (decimal.Decimal, bool) {
	if !item.IsCapped {
		return decimal.Zero, false
	}
	if item.CappedAmount != nil {
		return money.Round2(*item.CappedAmount), true
	}
	if item.CappedHours != nil {
		return money.Round2(item.CappedHours.Mul(money.NonNil(item.Rate))), true
	}
	return decimal.Zero, false
}

// ExceedsCap reports whether the computed amount is above the cap ceiling.
func ExceedsCap(item LineItem) bool {
	ceiling, ok := CapCeiling(item)
	return ok && item.Amount.GreaterThan(ceiling)
}

// ResolveRate picks the hourly rate for an assignee. A blended rate, when
// enabled, always wins, including when a different person is selected later.
func ResolveRate(personRate, blended *decimal.Decimal) *decimal.Decimal {
	if blended != nil {
		return money.Ptr(*blended)
	}
	if personRate != nil {
		return money.Ptr(*personRate)
	}
	return nil
}
