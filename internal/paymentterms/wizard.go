package paymentterms

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-billing/internal/money"
	"github.com/odyssey-erp/odyssey-billing/internal/shared"
)

// Step is a position in the payment-terms builder.
type Step int

const (
	StepSelectStructure Step = iota + 1
	StepConfigureStructure
	StepConfigureBalance
	StepComplete
)

func (s Step) String() string {
	switch s {
	case StepSelectStructure:
		return "select_structure"
	case StepConfigureStructure:
		return "configure_structure"
	case StepConfigureBalance:
		return "configure_balance"
	case StepComplete:
		return "complete"
	}
	return fmt.Sprintf("step(%d)", int(s))
}

var (
	// ErrWrongStep is returned when an action is not allowed at the current step.
	ErrWrongStep = errors.New("paymentterms: action not allowed at this step")
	// ErrWrongStructure is returned when a setter does not belong to the
	// selected structure.
	ErrWrongStructure = errors.New("paymentterms: field does not belong to the selected structure")
	// ErrUnknownStructure is returned for an unrecognised structure.
	ErrUnknownStructure = errors.New("paymentterms: unknown structure")
)

// Wizard walks a user through choosing and configuring a payment term. It is
// not safe for concurrent use.
type Wizard struct {
	step           Step
	structure      Structure
	draft          Record
	milestoneCount int
	errs           shared.FieldErrors
}

// NewWizard starts on the structure selection step.
func NewWizard(milestoneCount int) *Wizard {
	return &Wizard{step: StepSelectStructure, milestoneCount: milestoneCount}
}

// Resume opens an existing term for editing. A record that already has a
// structure skips the selection step; stray fields of other structures are
// dropped.
func Resume(r Record, milestoneCount int) *Wizard {
	w := NewWizard(milestoneCount)
	if r.IsEmpty() {
		return w
	}
	w.structure = Detect(r)
	w.draft = ToRecord(FromRecord(r))
	w.step = StepConfigureStructure
	return w
}

// Step returns the current step.
func (w *Wizard) Step() Step { return w.step }

// Structure returns the selected structure, empty before selection.
func (w *Wizard) Structure() Structure { return w.structure }

// Draft returns the fields entered so far.
func (w *Wizard) Draft() Record { return w.draft }

// Errors returns the field errors from the last rejected Next.
func (w *Wizard) Errors() shared.FieldErrors { return w.errs }

// SetMilestoneCount updates the number of milestones on the proposal, e.g.
// after the user returns from adding milestones.
func (w *Wizard) SetMilestoneCount(n int) { w.milestoneCount = n }

// SelectStructure chooses the structure. Changing it clears every field of
// the previous structure.
func (w *Wizard) SelectStructure(s Structure) error {
	if w.step != StepSelectStructure {
		return ErrWrongStep
	}
	if !s.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownStructure, s)
	}
	if s != w.structure {
		w.draft = Record{}
		w.structure = s
	}
	w.errs = nil
	return nil
}

// SetDueDate sets the due date of a one-time term.
func (w *Wizard) SetDueDate(d *shared.Date) error {
	if err := w.editing(StructureOneTime, StepConfigureStructure); err != nil {
		return err
	}
	w.draft.DueDate = d
	return nil
}

// SetUpfront sets the upfront part of an upfront/balance term.
func (w *Wizard) SetUpfront(t UpfrontType, v decimal.Decimal) error {
	if err := w.editing(StructureUpfrontBalance, StepConfigureStructure); err != nil {
		return err
	}
	w.draft.UpfrontType = ptr(t)
	w.draft.UpfrontValue = money.Ptr(v)
	return nil
}

// SetBalance sets how the balance is paid. The due date is kept only for
// TIME_BASED and the milestones only for MILESTONE_BASED.
func (w *Wizard) SetBalance(t BalancePaymentType, due *shared.Date, milestoneIDs []string) error {
	if err := w.editing(StructureUpfrontBalance, StepConfigureBalance); err != nil {
		return err
	}
	w.draft.BalancePaymentType = ptr(t)
	w.draft.BalanceDueDate = nil
	w.draft.MilestoneIDs = nil
	switch t {
	case BalanceTimeBased:
		w.draft.BalanceDueDate = due
	case BalanceMilestoneBased:
		w.draft.MilestoneIDs = cloneIDs(milestoneIDs)
	}
	return nil
}

// SetRecurring configures a recurring term. Disabling recurrence clears the
// schedule fields.
func (w *Wizard) SetRecurring(enabled bool, f Frequency, customMonths int, start *shared.Date) error {
	if err := w.editing(StructureRecurring, StepConfigureStructure); err != nil {
		return err
	}
	w.draft.RecurringEnabled = enabled
	w.draft.RecurringFrequency = nil
	w.draft.RecurringCustomMonths = nil
	w.draft.RecurringStartDate = nil
	if !enabled {
		return nil
	}
	w.draft.RecurringFrequency = ptr(f)
	if f == FrequencyCustom {
		w.draft.RecurringCustomMonths = ptr(customMonths)
	}
	w.draft.RecurringStartDate = start
	return nil
}

// SetInstallments configures installments. Count and frequency apply to
// TIME_BASED, milestoneIDs to MILESTONE_BASED.
func (w *Wizard) SetInstallments(t InstallmentType, count int, f InstallmentFrequency, milestoneIDs []string) error {
	if err := w.editing(StructureInstallments, StepConfigureStructure); err != nil {
		return err
	}
	w.draft.InstallmentType = ptr(t)
	w.draft.InstallmentCount = nil
	w.draft.InstallmentFrequency = nil
	w.draft.MilestoneIDs = nil
	switch t {
	case InstallmentTimeBased:
		w.draft.InstallmentCount = ptr(count)
		w.draft.InstallmentFrequency = ptr(f)
	case InstallmentMilestoneBased:
		w.draft.MilestoneIDs = cloneIDs(milestoneIDs)
	}
	return nil
}

// Next validates the current step and advances. On failure the step is
// unchanged and the returned error is a shared.FieldErrors.
func (w *Wizard) Next() error {
	switch w.step {
	case StepSelectStructure:
		if w.structure == "" {
			return w.reject(shared.FieldErrors{"paymentStructure": msgRequired})
		}
		w.step = StepConfigureStructure
	case StepConfigureStructure:
		term := Build(w.structure, w.draft)
		if u, ok := term.(UpfrontBalance); ok {
			errs := shared.FieldErrors{}
			requireRecordFields(errs, w.structure, w.draft)
			validateUpfront(errs, u)
			if !errs.Valid() {
				return w.reject(errs)
			}
			w.step = StepConfigureBalance
			break
		}
		if errs := Validate(term, w.milestoneCount); !errs.Valid() {
			return w.reject(errs)
		}
		w.step = StepComplete
	case StepConfigureBalance:
		if errs := ValidateRecord(w.structure, w.draft, w.milestoneCount); !errs.Valid() {
			return w.reject(errs)
		}
		w.step = StepComplete
	default:
		return ErrWrongStep
	}
	w.errs = nil
	return nil
}

// Back returns to the previous step. It is a no-op on the first step.
func (w *Wizard) Back() {
	switch w.step {
	case StepComplete:
		if w.structure == StructureUpfrontBalance {
			w.step = StepConfigureBalance
		} else {
			w.step = StepConfigureStructure
		}
	case StepConfigureBalance:
		w.step = StepConfigureStructure
	case StepConfigureStructure:
		w.step = StepSelectStructure
	}
	w.errs = nil
}

// Commit returns the finished term. Only the fields of the selected structure
// survive; a recurring term with recurrence disabled commits as one-time.
func (w *Wizard) Commit() (Term, error) {
	if w.step != StepComplete {
		return nil, ErrWrongStep
	}
	term := Build(w.structure, w.draft)
	if r, ok := term.(Recurring); ok && !r.Enabled {
		term = OneTime{}
	}
	return term, nil
}

func (w *Wizard) editing(s Structure, step Step) error {
	if w.structure != s {
		return fmt.Errorf("%w: selected %s", ErrWrongStructure, w.structure)
	}
	if w.step != step {
		return fmt.Errorf("%w: at %s", ErrWrongStep, w.step)
	}
	return nil
}

func (w *Wizard) reject(errs shared.FieldErrors) error {
	w.errs = errs
	return errs
}
