package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-billing/internal/money"
)

// SubtotalPolicy selects how line items roll up into the subtotal.
type SubtotalPolicy string

const (
	// SubtotalNetOfItemDiscounts sums amount minus each item's own discount
	// before the client-level discount applies.
	SubtotalNetOfItemDiscounts SubtotalPolicy = "net_of_item_discounts"
	// SubtotalGrossItemAmounts sums raw item amounts; only the client-level
	// discount reduces the total.
	SubtotalGrossItemAmounts SubtotalPolicy = "gross_item_amounts"
)

// ParseSubtotalPolicy validates a configured policy name.
func ParseSubtotalPolicy(s string) (SubtotalPolicy, error) {
	switch p := SubtotalPolicy(s); p {
	case SubtotalNetOfItemDiscounts, SubtotalGrossItemAmounts:
		return p, nil
	case "":
		return SubtotalNetOfItemDiscounts, nil
	default:
		return "", fmt.Errorf("pricing: unknown subtotal policy %q", s)
	}
}

// Config is the proposal-level billing configuration.
type Config struct {
	Type           BillingMethod    `json:"type"`
	TaxRate        decimal.Decimal  `json:"taxRate"`
	TaxInclusive   bool             `json:"taxInclusive"`
	ClientDiscount Discount         `json:"clientDiscount"`
	BlendedRate    *decimal.Decimal `json:"blendedRate,omitempty"`
}

// Totals are recomputed from scratch on every run.
type Totals struct {
	Subtotal       decimal.Decimal `json:"subtotal"`
	ItemDiscounts  decimal.Decimal `json:"itemDiscounts"`
	ClientDiscount decimal.Decimal `json:"clientDiscount"`
	AfterDiscount  decimal.Decimal `json:"afterDiscount"`
	Tax            decimal.Decimal `json:"tax"`
	GrandTotal     decimal.Decimal `json:"grandTotal"`
}

// PricedItem is a line item after pricing.
type PricedItem struct {
	LineItem
	Method     BillingMethod   `json:"resolvedMethod"`
	Effective  decimal.Decimal `json:"effectiveAmount"`
	ExceedsCap bool            `json:"exceedsCap"`
}

// Quote is the result of pricing a full proposal.
type Quote struct {
	Items  []PricedItem `json:"items"`
	Totals Totals       `json:"totals"`
}

// Engine prices proposals under one subtotal policy.
type Engine struct {
	policy SubtotalPolicy
}

// NewEngine builds an Engine. An empty policy defaults to net of item discounts.
func NewEngine(policy SubtotalPolicy) *Engine {
	if policy == "" {
		policy = SubtotalNetOfItemDiscounts
	}
	return &Engine{policy: policy}
}

// Policy returns the active subtotal policy.
func (e *Engine) Policy() SubtotalPolicy {
	return e.policy
}

// Price recalculates every item amount and the proposal totals. The input
// slice is not modified.
func (e *Engine) Price(items []LineItem, cfg Config) Quote {
	priced := make([]PricedItem, 0, len(items))
	recalculated := make([]LineItem, 0, len(items))
	for _, item := range items {
		method := ItemMethod(cfg.Type, item)
		Recalculate(method, &item)
		recalculated = append(recalculated, item)
		priced = append(priced, PricedItem{
			LineItem:   item,
			Method:     method,
			Effective:  EffectiveAmount(item),
			ExceedsCap: ExceedsCap(item),
		})
	}
	return Quote{Items: priced, Totals: ComputeTotals(recalculated, cfg, e.policy)}
}

// ComputeTotals derives subtotal, client discount, tax and grand total from
// already-priced items.
//
//	subtotal       = Σ effective (or Σ amount under the gross policy)
//	clientDiscount = pct of subtotal | fixed amount
//	tax            = inclusive ? after×rate/(100+rate) : after×rate/100
//	grandTotal     = inclusive ? after : after + tax
func ComputeTotals(items []LineItem, cfg Config, policy SubtotalPolicy) Totals {
	var t Totals
	gross := decimal.Zero
	net := decimal.Zero
	for _, item := range items {
		amount := money.Round2(item.Amount)
		gross = gross.Add(amount)
		net = net.Add(EffectiveAmount(item))
	}
	if policy == SubtotalGrossItemAmounts {
		t.Subtotal = gross
	} else {
		t.Subtotal = net
		t.ItemDiscounts = gross.Sub(net)
	}

	t.ClientDiscount = cfg.ClientDiscount.Of(t.Subtotal)
	t.AfterDiscount = money.ClampNonNegative(t.Subtotal.Sub(t.ClientDiscount))

	switch {
	case cfg.TaxRate.IsZero():
		t.Tax = decimal.Zero
	case cfg.TaxInclusive:
		t.Tax = money.Round2(money.PercentInclusive(t.AfterDiscount, cfg.TaxRate))
	default:
		t.Tax = money.Round2(money.Percent(t.AfterDiscount, cfg.TaxRate))
	}

	if cfg.TaxInclusive {
		t.GrandTotal = t.AfterDiscount
	} else {
		t.GrandTotal = t.AfterDiscount.Add(t.Tax)
	}
	return t
}
