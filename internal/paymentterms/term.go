// Package paymentterms models how and when a proposal's total is collected and
// drives the step-by-step builder that produces a validated term.
package paymentterms

import (
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-billing/internal/money"
	"github.com/odyssey-erp/odyssey-billing/internal/shared"
)

// Structure is the active payment structure of a term.
type Structure string

const (
	StructureOneTime        Structure = "ONE_TIME"
	StructureUpfrontBalance Structure = "UPFRONT_BALANCE"
	StructureRecurring      Structure = "RECURRING"
	StructureInstallments   Structure = "INSTALLMENTS"
)

// Valid reports whether s is a known structure.
func (s Structure) Valid() bool {
	switch s {
	case StructureOneTime, StructureUpfrontBalance, StructureRecurring, StructureInstallments:
		return true
	}
	return false
}

// UpfrontType says how the upfront value is expressed.
type UpfrontType string

const (
	UpfrontPercent UpfrontType = "PERCENT"
	UpfrontAmount  UpfrontType = "FIXED_AMOUNT"
)

// BalancePaymentType says how the remainder after the upfront part is collected.
type BalancePaymentType string

const (
	BalanceMilestoneBased BalancePaymentType = "MILESTONE_BASED"
	BalanceTimeBased      BalancePaymentType = "TIME_BASED"
	BalanceFullUpfront    BalancePaymentType = "FULL_UPFRONT"
)

// Frequency is a recurring billing interval.
type Frequency string

const (
	FrequencyMonthly   Frequency = "MONTHLY_1"
	FrequencyQuarterly Frequency = "MONTHLY_3"
	FrequencyHalfYear  Frequency = "MONTHLY_6"
	FrequencyYearly    Frequency = "YEARLY_12"
	FrequencyCustom    Frequency = "CUSTOM"
)

// Months returns the interval length; CUSTOM reads customMonths.
func (f Frequency) Months(customMonths int) int {
	switch f {
	case FrequencyMonthly:
		return 1
	case FrequencyQuarterly:
		return 3
	case FrequencyHalfYear:
		return 6
	case FrequencyYearly:
		return 12
	case FrequencyCustom:
		return customMonths
	}
	return 0
}

// InstallmentType selects time- or milestone-driven installments.
type InstallmentType string

const (
	InstallmentTimeBased      InstallmentType = "TIME_BASED"
	InstallmentMilestoneBased InstallmentType = "MILESTONE_BASED"
)

// InstallmentFrequency is the spacing of time-based installments.
type InstallmentFrequency string

const (
	InstallmentWeekly    InstallmentFrequency = "WEEKLY"
	InstallmentMonthly   InstallmentFrequency = "MONTHLY"
	InstallmentQuarterly InstallmentFrequency = "QUARTERLY"
)

// Term is one of OneTime, UpfrontBalance, Recurring or Installments.
type Term interface {
	Structure() Structure
	record() Record
}

// OneTime collects the full amount once.
type OneTime struct {
	DueDate *shared.Date
}

// UpfrontBalance collects an upfront part and then the balance.
type UpfrontBalance struct {
	UpfrontType    UpfrontType
	UpfrontValue   decimal.Decimal
	BalanceType    BalancePaymentType
	BalanceDueDate *shared.Date
	MilestoneIDs   []string
}

// Recurring bills the total every interval from StartDate.
type Recurring struct {
	Enabled      bool
	Frequency    Frequency
	CustomMonths int
	StartDate    *shared.Date
}

// Installments splits the total over time or over milestones.
type Installments struct {
	Type         InstallmentType
	Count        int
	Frequency    InstallmentFrequency
	MilestoneIDs []string
}

func (OneTime) Structure() Structure        { return StructureOneTime }
func (UpfrontBalance) Structure() Structure { return StructureUpfrontBalance }
func (Recurring) Structure() Structure      { return StructureRecurring }
func (Installments) Structure() Structure   { return StructureInstallments }

// UpfrontDue resolves the upfront part against total.
func (u UpfrontBalance) UpfrontDue(total decimal.Decimal) decimal.Decimal {
	if u.UpfrontType == UpfrontPercent {
		return money.Round2(money.Percent(total, u.UpfrontValue))
	}
	return money.Round2(decimal.Min(u.UpfrontValue, total))
}

// IntervalMonths is the recurring interval in months.
func (r Recurring) IntervalMonths() int {
	return r.Frequency.Months(r.CustomMonths)
}
