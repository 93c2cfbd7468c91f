package paymentterms

import (
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-billing/internal/money"
	"github.com/odyssey-erp/odyssey-billing/internal/shared"
)

// Record is the persisted shape of a term: one nullable column per field of
// every structure. Only the fields of the active structure are ever set.
type Record struct {
	DueDate               *shared.Date          `json:"dueDate"`
	UpfrontType           *UpfrontType          `json:"upfrontType"`
	UpfrontValue          *decimal.Decimal      `json:"upfrontValue"`
	BalancePaymentType    *BalancePaymentType   `json:"balancePaymentType"`
	BalanceDueDate        *shared.Date          `json:"balanceDueDate"`
	RecurringEnabled      bool                  `json:"recurringEnabled"`
	RecurringFrequency    *Frequency            `json:"recurringFrequency"`
	RecurringCustomMonths *int                  `json:"recurringCustomMonths"`
	RecurringStartDate    *shared.Date          `json:"recurringStartDate"`
	InstallmentType       *InstallmentType      `json:"installmentType"`
	InstallmentCount      *int                  `json:"installmentCount"`
	InstallmentFrequency  *InstallmentFrequency `json:"installmentFrequency"`
	MilestoneIDs          []string              `json:"milestoneIds"`
}

// Detect classifies a persisted record. The checks run in priority order so
// exactly one structure matches.
func Detect(r Record) Structure {
	switch {
	case r.RecurringEnabled && r.RecurringFrequency != nil:
		return StructureRecurring
	case r.InstallmentType != nil && r.InstallmentCount != nil:
		return StructureInstallments
	case r.UpfrontType != nil && r.UpfrontValue != nil:
		return StructureUpfrontBalance
	default:
		return StructureOneTime
	}
}

// IsEmpty reports whether no field of any structure is set.
func (r Record) IsEmpty() bool {
	return r.DueDate == nil && r.UpfrontType == nil && r.UpfrontValue == nil &&
		r.BalancePaymentType == nil && r.BalanceDueDate == nil && !r.RecurringEnabled &&
		r.RecurringFrequency == nil && r.RecurringCustomMonths == nil && r.RecurringStartDate == nil &&
		r.InstallmentType == nil && r.InstallmentCount == nil && r.InstallmentFrequency == nil &&
		len(r.MilestoneIDs) == 0
}

// ToRecord flattens t. Fields of other structures stay nil.
func ToRecord(t Term) Record {
	if t == nil {
		return Record{}
	}
	return t.record()
}

// FromRecord rebuilds the term for the detected structure.
func FromRecord(r Record) Term {
	return Build(Detect(r), r)
}

// Build assembles a term of structure s from the record's fields, ignoring
// fields of other structures. Unknown structures yield nil.
func Build(s Structure, r Record) Term {
	switch s {
	case StructureOneTime:
		return OneTime{DueDate: r.DueDate}
	case StructureUpfrontBalance:
		return UpfrontBalance{
			UpfrontType:    value(r.UpfrontType),
			UpfrontValue:   money.NonNil(r.UpfrontValue),
			BalanceType:    value(r.BalancePaymentType),
			BalanceDueDate: r.BalanceDueDate,
			MilestoneIDs:   cloneIDs(r.MilestoneIDs),
		}
	case StructureRecurring:
		return Recurring{
			Enabled:      r.RecurringEnabled,
			Frequency:    value(r.RecurringFrequency),
			CustomMonths: value(r.RecurringCustomMonths),
			StartDate:    r.RecurringStartDate,
		}
	case StructureInstallments:
		return Installments{
			Type:         value(r.InstallmentType),
			Count:        value(r.InstallmentCount),
			Frequency:    value(r.InstallmentFrequency),
			MilestoneIDs: cloneIDs(r.MilestoneIDs),
		}
	}
	return nil
}

func (t OneTime) record() Record {
	return Record{DueDate: t.DueDate}
}

func (t UpfrontBalance) record() Record {
	r := Record{
		UpfrontType:  ptr(t.UpfrontType),
		UpfrontValue: money.Ptr(t.UpfrontValue),
	}
	if t.BalanceType != "" {
		r.BalancePaymentType = ptr(t.BalanceType)
	}
	switch t.BalanceType {
	case BalanceTimeBased:
		r.BalanceDueDate = t.BalanceDueDate
	case BalanceMilestoneBased:
		r.MilestoneIDs = cloneIDs(t.MilestoneIDs)
	}
	return r
}

// A disabled recurring term carries no schedule and is stored as one-time.
func (t Recurring) record() Record {
	if !t.Enabled {
		return Record{}
	}
	r := Record{
		RecurringEnabled:   true,
		RecurringFrequency: ptr(t.Frequency),
		RecurringStartDate: t.StartDate,
	}
	if t.Frequency == FrequencyCustom {
		r.RecurringCustomMonths = ptr(t.CustomMonths)
	}
	return r
}

// Milestone-based installments store one installment per milestone so the
// count column is always populated for detection.
func (t Installments) record() Record {
	r := Record{InstallmentType: ptr(t.Type)}
	switch t.Type {
	case InstallmentTimeBased:
		r.InstallmentCount = ptr(t.Count)
		if t.Frequency != "" {
			r.InstallmentFrequency = ptr(t.Frequency)
		}
	case InstallmentMilestoneBased:
		r.InstallmentCount = ptr(len(t.MilestoneIDs))
		r.MilestoneIDs = cloneIDs(t.MilestoneIDs)
	}
	return r
}

func ptr[T any](v T) *T {
	return &v
}

func value[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

func cloneIDs(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}
