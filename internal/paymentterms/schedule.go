package paymentterms

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-billing/internal/milestones"
	"github.com/odyssey-erp/odyssey-billing/internal/money"
	"github.com/odyssey-erp/odyssey-billing/internal/shared"
)

// Payment is one expected collection derived from a term.
type Payment struct {
	Label       string          `json:"label"`
	DueDate     *shared.Date    `json:"dueDate,omitempty"`
	MilestoneID string          `json:"milestoneId,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
}

// Schedule expands t into expected payments for total, starting at issue.
// Milestone-driven parts use allocs; a recurring term yields its first
// period only.
func Schedule(t Term, total decimal.Decimal, issue shared.Date, allocs []milestones.Allocation) []Payment {
	total = money.Round2(total)
	switch v := t.(type) {
	case OneTime:
		return []Payment{{Label: "Full payment", DueDate: v.DueDate, Amount: total}}
	case UpfrontBalance:
		upfront := v.UpfrontDue(total)
		out := []Payment{{Label: "Upfront", DueDate: shared.DatePtr(issue), Amount: upfront}}
		balance := money.ClampNonNegative(total.Sub(upfront))
		switch v.BalanceType {
		case BalanceTimeBased:
			out = append(out, Payment{Label: "Balance", DueDate: v.BalanceDueDate, Amount: balance})
		case BalanceMilestoneBased:
			out = append(out, milestoneSplit(balance, selected(allocs, v.MilestoneIDs))...)
		case BalanceFullUpfront:
			out[0].Amount = total
		}
		return out
	case Recurring:
		if !v.Enabled {
			return []Payment{{Label: "Full payment", Amount: total}}
		}
		return []Payment{{
			Label:   fmt.Sprintf("Recurring every %d month(s)", v.IntervalMonths()),
			DueDate: v.StartDate,
			Amount:  total,
		}}
	case Installments:
		if v.Type == InstallmentMilestoneBased {
			return milestoneSplit(total, selected(allocs, v.MilestoneIDs))
		}
		return evenSplit(total, v.Count, v.Frequency, issue)
	}
	return nil
}

// evenSplit spreads total over count installments; the last one absorbs the
// rounding remainder.
func evenSplit(total decimal.Decimal, count int, f InstallmentFrequency, start shared.Date) []Payment {
	if count < 1 {
		return nil
	}
	share := total.Div(decimal.NewFromInt(int64(count))).RoundDown(money.Scale)
	out := make([]Payment, 0, count)
	due := start
	allocated := decimal.Zero
	for i := 0; i < count; i++ {
		amount := share
		if i == count-1 {
			amount = total.Sub(allocated)
		}
		allocated = allocated.Add(amount)
		out = append(out, Payment{
			Label:   fmt.Sprintf("Installment %d of %d", i+1, count),
			DueDate: shared.DatePtr(due),
			Amount:  amount,
		})
		due = advance(due, f)
	}
	return out
}

// milestoneSplit distributes amount in proportion to the milestones'
// allocations, or evenly when none carry a value.
func milestoneSplit(amount decimal.Decimal, allocs []milestones.Allocation) []Payment {
	if len(allocs) == 0 {
		return nil
	}
	weights := make([]decimal.Decimal, len(allocs))
	sum := decimal.Zero
	for i, a := range allocs {
		weights[i] = a.Amount
		sum = sum.Add(a.Amount)
	}
	if sum.IsZero() {
		for i := range weights {
			weights[i] = decimal.NewFromInt(1)
		}
		sum = decimal.NewFromInt(int64(len(weights)))
	}
	out := make([]Payment, 0, len(allocs))
	allocated := decimal.Zero
	for i, a := range allocs {
		part := money.Round2(amount.Mul(weights[i]).Div(sum))
		if i == len(allocs)-1 {
			part = amount.Sub(allocated)
		}
		allocated = allocated.Add(part)
		out = append(out, Payment{Label: "Milestone", MilestoneID: a.MilestoneID, Amount: part})
	}
	return out
}

func selected(allocs []milestones.Allocation, ids []string) []milestones.Allocation {
	if len(ids) == 0 {
		return allocs
	}
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	out := make([]milestones.Allocation, 0, len(ids))
	for _, a := range allocs {
		if _, ok := want[a.MilestoneID]; ok {
			out = append(out, a)
		}
	}
	return out
}

func advance(d shared.Date, f InstallmentFrequency) shared.Date {
	switch f {
	case InstallmentWeekly:
		return d.AddDays(7)
	case InstallmentQuarterly:
		return d.AddMonths(3)
	default:
		return d.AddMonths(1)
	}
}
