package finderfees

import (
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-billing/internal/money"
)

// CalculateInvoiceNetAmount returns the pre-tax amount collected on inv:
// subtotal less the invoice discount less expense reimbursements, floored at
// zero. The stored subtotal wins over the sum of non-credit items.
func CalculateInvoiceNetAmount(inv Invoice) decimal.Decimal {
	subtotal := decimal.Zero
	if inv.Subtotal != nil {
		subtotal = *inv.Subtotal
	} else {
		for _, item := range inv.Items {
			if !item.IsCredit {
				subtotal = subtotal.Add(item.Amount)
			}
		}
	}
	afterDiscount := subtotal.Sub(inv.Discount.Of(subtotal))
	return money.Round2(money.ClampNonNegative(afterDiscount.Sub(ExpenseReimbursements(inv))))
}

// ExpenseReimbursements sums the absolute value of credit items.
func ExpenseReimbursements(inv Invoice) decimal.Decimal {
	total := decimal.Zero
	for _, item := range inv.Items {
		if item.IsCredit {
			total = total.Add(item.Amount.Abs())
		}
	}
	return total
}

// FeeAmount is net × percent / 100 rounded to cents.
func FeeAmount(net, percent decimal.Decimal) decimal.Decimal {
	return money.Round2(money.Percent(net, percent))
}
