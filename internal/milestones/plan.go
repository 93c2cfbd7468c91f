package milestones

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-billing/internal/money"
	"github.com/odyssey-erp/odyssey-billing/internal/pricing"
	"github.com/odyssey-erp/odyssey-billing/internal/shared"
)

// Plan holds a proposal's milestones and which line items reference them.
// Item links are kept by line item position.
type Plan struct {
	milestones []Milestone
	links      [][]string
}

// NewPlan builds a plan for itemCount line items. Milestones without an id
// receive a temporary one.
func NewPlan(ms []Milestone, itemCount int) *Plan {
	p := &Plan{links: make([][]string, itemCount)}
	for _, m := range ms {
		p.Add(m)
	}
	return p
}

// Milestones returns a copy of the milestones in insertion order.
func (p *Plan) Milestones() []Milestone {
	out := make([]Milestone, len(p.milestones))
	copy(out, p.milestones)
	return out
}

// Len is the number of milestones.
func (p *Plan) Len() int {
	return len(p.milestones)
}

// Add appends m, assigning a temporary id when it has none.
func (p *Plan) Add(m Milestone) Milestone {
	if m.ID == "" {
		m.ID = NewTempID()
	}
	p.milestones = append(p.milestones, m)
	return m
}

// Get finds a milestone by id.
func (p *Plan) Get(id string) (Milestone, bool) {
	for _, m := range p.milestones {
		if m.ID == id {
			return m, true
		}
	}
	return Milestone{}, false
}

// Assign replaces the milestone set of the item at itemIdx. Duplicate ids are
// collapsed.
func (p *Plan) Assign(itemIdx int, ids []string) error {
	if itemIdx < 0 || itemIdx >= len(p.links) {
		return fmt.Errorf("%w: %d", ErrItemOutOfRange, itemIdx)
	}
	seen := make(map[string]struct{}, len(ids))
	next := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := p.Get(id); !ok {
			return fmt.Errorf("%w: %s", ErrUnknownMilestone, id)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		next = append(next, id)
	}
	p.links[itemIdx] = next
	return nil
}

// ItemMilestones returns the milestone ids linked to the item at itemIdx.
func (p *Plan) ItemMilestones(itemIdx int) []string {
	if itemIdx < 0 || itemIdx >= len(p.links) {
		return nil
	}
	out := make([]string, len(p.links[itemIdx]))
	copy(out, p.links[itemIdx])
	return out
}

// Remove deletes the milestone and strips its id from every item. Removing an
// unknown id does nothing and reports false.
func (p *Plan) Remove(id string) bool {
	idx := -1
	for i, m := range p.milestones {
		if m.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}
	p.milestones = append(p.milestones[:idx], p.milestones[idx+1:]...)
	for i, ids := range p.links {
		kept := ids[:0]
		for _, linked := range ids {
			if linked != id {
				kept = append(kept, linked)
			}
		}
		p.links[i] = kept
	}
	return true
}

// Resolve swaps a temporary id for the durable one issued by the store,
// updating item links as well.
func (p *Plan) Resolve(tempID, durableID string) {
	for i := range p.milestones {
		if p.milestones[i].ID == tempID {
			p.milestones[i].ID = durableID
		}
	}
	for _, ids := range p.links {
		for j := range ids {
			if ids[j] == tempID {
				ids[j] = durableID
			}
		}
	}
}

// Validate checks each milestone and, when the method requires milestones
// and the toggle is on, that at least one exists.
func (p *Plan) Validate(method pricing.BillingMethod, useMilestones bool) shared.FieldErrors {
	errs := shared.FieldErrors{}
	if pricing.RequiresMilestones(method, useMilestones) && len(p.milestones) == 0 {
		errs.Add("milestones", "At least one milestone is required")
	}
	percentTotal := decimal.Zero
	for i, m := range p.milestones {
		field := fmt.Sprintf("milestones[%d]", i)
		if m.Name == "" {
			errs.Add(field+".name", "Name is required")
		}
		switch m.Share.Kind {
		case ShareAmount:
			if m.Share.Value.IsNegative() {
				errs.Add(field+".amount", "Cannot be negative")
			}
		case SharePercent:
			if !money.IsPercent(m.Share.Value) {
				errs.Add(field+".percent", "Percentage must be between 0 and 100")
			}
			percentTotal = percentTotal.Add(m.Share.Value)
		}
	}
	if percentTotal.GreaterThan(decimal.NewFromInt(100)) {
		errs.Add("milestones", "Milestone percentages cannot exceed 100% in total")
	}
	return errs
}

// Allocation is the monetary value a milestone carries for a given total.
type Allocation struct {
	MilestoneID string          `json:"milestoneId"`
	Amount      decimal.Decimal `json:"amount"`
}

// Allocate resolves each milestone's share against total. Milestones with no
// share allocate zero. Percentage shares are rounded to cents and the last
// percentage milestone takes the rounding remainder, so together they always
// carry exactly their combined percentage of total.
func (p *Plan) Allocate(total decimal.Decimal) []Allocation {
	out := make([]Allocation, 0, len(p.milestones))
	last := -1
	percentSum, allocated := decimal.Zero, decimal.Zero
	for i, m := range p.milestones {
		amount := decimal.Zero
		switch m.Share.Kind {
		case ShareAmount:
			amount = money.Round2(m.Share.Value)
		case SharePercent:
			amount = money.Round2(money.Percent(total, m.Share.Value))
			percentSum = percentSum.Add(m.Share.Value)
			allocated = allocated.Add(amount)
			last = i
		}
		out = append(out, Allocation{MilestoneID: m.ID, Amount: amount})
	}
	if last >= 0 {
		remainder := money.Round2(money.Percent(total, percentSum)).Sub(allocated)
		out[last].Amount = out[last].Amount.Add(remainder)
	}
	return out
}
