// Package pricing derives line-item amounts and proposal totals from the
// proposal's billing method.
package pricing

// BillingMethod is the pricing model governing how a value is computed.
type BillingMethod string

const (
	MethodFixedFee   BillingMethod = "FIXED_FEE"
	MethodHourly     BillingMethod = "HOURLY"
	MethodRetainer   BillingMethod = "RETAINER"
	MethodSuccessFee BillingMethod = "SUCCESS_FEE"
	MethodCappedFee  BillingMethod = "CAPPED_FEE"
	MethodMixedModel BillingMethod = "MIXED_MODEL"
	// MethodRecurring survives on older line items only; new proposals model
	// recurrence through the payment term.
	MethodRecurring BillingMethod = "RECURRING"
)

// Basis is how a rule turns item inputs into an amount.
type Basis int

const (
	// BasisDirect keeps the entered amount as authoritative.
	BasisDirect Basis = iota
	// BasisHours multiplies hours by an hourly rate.
	BasisHours
	// BasisUnits multiplies a quantity by a unit price.
	BasisUnits
)

// Rule captures the capabilities of one billing method. Every variant of the
// proposal form consults the same registry.
type Rule struct {
	Method BillingMethod
	Basis  Basis
	// ProposalType marks methods a proposal may be created with.
	ProposalType bool
	// Milestones marks methods that force milestone creation when the
	// proposal-level "use milestones" toggle is on.
	Milestones bool
	// Cap marks methods whose items may carry capped hours/amount.
	Cap bool
	// PerItem lets each item choose its own method.
	PerItem bool
}

var rules = map[BillingMethod]Rule{
	MethodFixedFee:   {Method: MethodFixedFee, Basis: BasisUnits, ProposalType: true, Milestones: true},
	MethodHourly:     {Method: MethodHourly, Basis: BasisHours, ProposalType: true, Cap: true},
	MethodRetainer:   {Method: MethodRetainer, Basis: BasisDirect, ProposalType: true},
	MethodSuccessFee: {Method: MethodSuccessFee, Basis: BasisDirect, ProposalType: true},
	MethodCappedFee:  {Method: MethodCappedFee, Basis: BasisDirect, ProposalType: true},
	MethodMixedModel: {Method: MethodMixedModel, Basis: BasisDirect, ProposalType: true, Milestones: true, PerItem: true},
	MethodRecurring:  {Method: MethodRecurring, Basis: BasisDirect},
}

// RuleFor returns the rule registered for m.
func RuleFor(m BillingMethod) (Rule, bool) {
	r, ok := rules[m]
	return r, ok
}

// Valid reports whether m is a known billing method.
func (m BillingMethod) Valid() bool {
	_, ok := rules[m]
	return ok
}

// ValidProposalType reports whether a proposal may be typed with m.
func (m BillingMethod) ValidProposalType() bool {
	r, ok := rules[m]
	return ok && r.ProposalType
}

// ItemMethod resolves the method item is priced with. Items inherit the
// proposal type unless the proposal is MIXED_MODEL, in which case each item's
// own choice wins. A MIXED_MODEL item without a choice is priced hourly when it
// carries both quantity and rate, and by direct entry otherwise.
func ItemMethod(proposalType BillingMethod, item LineItem) BillingMethod {
	if r, ok := rules[proposalType]; ok && r.PerItem {
		if item.BillingMethod.Valid() {
			return item.BillingMethod
		}
		if item.Quantity != nil && item.Rate != nil {
			return MethodHourly
		}
		return proposalType
	}
	if proposalType.Valid() {
		return proposalType
	}
	return item.BillingMethod
}

// RequiresMilestones reports whether at least one milestone must exist before
// the proposal can advance past the milestones step.
func RequiresMilestones(m BillingMethod, useMilestones bool) bool {
	r, ok := rules[m]
	return ok && r.Milestones && useMilestones
}
