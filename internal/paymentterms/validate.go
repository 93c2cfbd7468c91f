package paymentterms

import (
	"github.com/odyssey-erp/odyssey-billing/internal/money"
	"github.com/odyssey-erp/odyssey-billing/internal/shared"
)

const (
	msgRequired        = "Required"
	msgNegative        = "Cannot be negative"
	msgPercentRange    = "Percentage cannot exceed 100%"
	msgCustomMonths    = "Must be at least 1 month"
	msgInstallments    = "Must be at least 1 installment"
	msgSelectMilestone = "Select at least one milestone"
	msgUnknown         = "Unknown value"
)

// Validate checks t against the rules of its structure. milestoneCount is the
// number of milestones the owning proposal currently has.
func Validate(t Term, milestoneCount int) shared.FieldErrors {
	errs := shared.FieldErrors{}
	switch v := t.(type) {
	case nil:
		errs.Add("paymentStructure", msgRequired)
	case OneTime:
	case UpfrontBalance:
		validateUpfront(errs, v)
		validateBalance(errs, v, milestoneCount)
	case Recurring:
		validateRecurring(errs, v)
	case Installments:
		validateInstallments(errs, v)
	}
	return errs
}

// ValidateRecord validates r as structure s. An empty s falls back to the
// structure the record detects as.
func ValidateRecord(s Structure, r Record, milestoneCount int) shared.FieldErrors {
	if s == "" {
		s = Detect(r)
	}
	if !s.Valid() {
		return shared.FieldErrors{"paymentStructure": msgUnknown}
	}
	errs := shared.FieldErrors{}
	requireRecordFields(errs, s, r)
	errs.Merge("", Validate(Build(s, r), milestoneCount))
	return errs
}

// requireRecordFields reports fields that Build would otherwise default to a
// zero value.
func requireRecordFields(errs shared.FieldErrors, s Structure, r Record) {
	if s == StructureUpfrontBalance && r.UpfrontValue == nil {
		errs.Add("upfrontValue", msgRequired)
	}
}

// MilestonesDeferred reports a milestone-based balance configured before any
// milestone exists. The term is accepted but stays incomplete until
// milestones are added.
func MilestonesDeferred(t Term, milestoneCount int) bool {
	u, ok := t.(UpfrontBalance)
	return ok && u.BalanceType == BalanceMilestoneBased && milestoneCount == 0
}

func validateUpfront(errs shared.FieldErrors, u UpfrontBalance) {
	switch u.UpfrontType {
	case UpfrontPercent, UpfrontAmount:
	case "":
		errs.Add("upfrontType", msgRequired)
	default:
		errs.Add("upfrontType", msgUnknown)
	}
	if u.UpfrontValue.IsNegative() {
		errs.Add("upfrontValue", msgNegative)
	} else if u.UpfrontType == UpfrontPercent && !money.IsPercent(u.UpfrontValue) {
		errs.Add("upfrontValue", msgPercentRange)
	}
}

func validateBalance(errs shared.FieldErrors, u UpfrontBalance, milestoneCount int) {
	switch u.BalanceType {
	case "":
		errs.Add("balancePaymentType", msgRequired)
	case BalanceTimeBased:
		if u.BalanceDueDate == nil || u.BalanceDueDate.IsZero() {
			errs.Add("balanceDueDate", msgRequired)
		}
	case BalanceMilestoneBased:
		if milestoneCount > 0 && len(u.MilestoneIDs) == 0 {
			errs.Add("milestoneIds", msgSelectMilestone)
		}
	case BalanceFullUpfront:
	default:
		errs.Add("balancePaymentType", msgUnknown)
	}
}

func validateRecurring(errs shared.FieldErrors, r Recurring) {
	if !r.Enabled {
		return
	}
	switch r.Frequency {
	case "":
		errs.Add("recurringFrequency", msgRequired)
	case FrequencyCustom:
		if r.CustomMonths < 1 {
			errs.Add("recurringCustomMonths", msgCustomMonths)
		}
	case FrequencyMonthly, FrequencyQuarterly, FrequencyHalfYear, FrequencyYearly:
	default:
		errs.Add("recurringFrequency", msgUnknown)
	}
	if r.StartDate == nil || r.StartDate.IsZero() {
		errs.Add("recurringStartDate", msgRequired)
	}
}

func validateInstallments(errs shared.FieldErrors, i Installments) {
	switch i.Type {
	case "":
		errs.Add("installmentType", msgRequired)
	case InstallmentTimeBased:
		if i.Count < 1 {
			errs.Add("installmentCount", msgInstallments)
		}
		switch i.Frequency {
		case "":
			errs.Add("installmentFrequency", msgRequired)
		case InstallmentWeekly, InstallmentMonthly, InstallmentQuarterly:
		default:
			errs.Add("installmentFrequency", msgUnknown)
		}
	case InstallmentMilestoneBased:
		if len(i.MilestoneIDs) == 0 {
			errs.Add("milestoneIds", msgSelectMilestone)
		}
	default:
		errs.Add("installmentType", msgUnknown)
	}
}
