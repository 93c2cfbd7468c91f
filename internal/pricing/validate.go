package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-billing/internal/money"
	"github.com/odyssey-erp/odyssey-billing/internal/shared"
)

const (
	msgNegative       = "Cannot be negative"
	msgPercentRange   = "Percentage cannot exceed 100%"
	msgDescription    = "Description is required"
	msgUnknownMethod  = "Unknown billing method"
	msgDiscountExceed = "Discount cannot exceed the item amount"
	msgCapOnlyHourly  = "Caps apply to hourly items only"
)

// ValidateLineItem rejects negative inputs and out-of-range discounts. It runs
// at input time; ComputeAmount itself never fails.
func ValidateLineItem(proposalType BillingMethod, item LineItem) shared.FieldErrors {
	errs := shared.FieldErrors{}
	if item.Description == "" {
		errs.Add("description", msgDescription)
	}
	if item.BillingMethod != "" && !item.BillingMethod.Valid() {
		errs.Add("billingMethod", msgUnknownMethod)
	}
	checkNonNegative(errs, "quantity", item.Quantity)
	checkNonNegative(errs, "rate", item.Rate)
	checkNonNegative(errs, "unitPrice", item.UnitPrice)
	checkNonNegative(errs, "cappedHours", item.CappedHours)
	checkNonNegative(errs, "cappedAmount", item.CappedAmount)
	if item.Amount.IsNegative() {
		errs.Add("amount", msgNegative)
	}

	method := ItemMethod(proposalType, item)
	if item.IsCapped {
		if r, ok := RuleFor(method); ok && !r.Cap {
			errs.Add("isCapped", msgCapOnlyHourly)
		}
	}

	switch item.Discount.Kind {
	case DiscountPercent:
		if !money.IsPercent(item.Discount.Value) {
			if item.Discount.Value.IsNegative() {
				errs.Add("discountPercent", msgNegative)
			} else {
				errs.Add("discountPercent", msgPercentRange)
			}
		}
	case DiscountAmount:
		if item.Discount.Value.IsNegative() {
			errs.Add("discountAmount", msgNegative)
		} else if item.Discount.Value.GreaterThan(ComputeAmount(method, item)) {
			errs.Add("discountAmount", msgDiscountExceed)
		}
	}
	return errs
}

// ValidateConfig checks the proposal-level tax and client discount settings.
func ValidateConfig(cfg Config) shared.FieldErrors {
	errs := shared.FieldErrors{}
	if !cfg.Type.ValidProposalType() {
		errs.Add("type", msgUnknownMethod)
	}
	if !money.IsPercent(cfg.TaxRate) {
		if cfg.TaxRate.IsNegative() {
			errs.Add("taxRate", msgNegative)
		} else {
			errs.Add("taxRate", msgPercentRange)
		}
	}
	checkNonNegative(errs, "blendedRate", cfg.BlendedRate)
	switch cfg.ClientDiscount.Kind {
	case DiscountPercent:
		if cfg.ClientDiscount.Value.IsNegative() {
			errs.Add("clientDiscountPercent", msgNegative)
		} else if !money.IsPercent(cfg.ClientDiscount.Value) {
			errs.Add("clientDiscountPercent", msgPercentRange)
		}
	case DiscountAmount:
		if cfg.ClientDiscount.Value.IsNegative() {
			errs.Add("clientDiscountAmount", msgNegative)
		}
	}
	return errs
}

func checkNonNegative(errs shared.FieldErrors, field string, v *decimal.Decimal) {
	if v != nil && v.IsNegative() {
		errs.Add(field, msgNegative)
	}
}
