package paymentterms

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-billing/internal/milestones"
	"github.com/odyssey-erp/odyssey-billing/internal/shared"
)

func date(y int, m time.Month, d int) *shared.Date {
	return shared.DatePtr(shared.NewDate(y, m, d))
}

func TestDetectPriority(t *testing.T) {
	tests := []struct {
		name   string
		record Record
		want   Structure
	}{
		{"empty is one time", Record{}, StructureOneTime},
		{"due date only", Record{DueDate: date(2026, 3, 1)}, StructureOneTime},
		{"upfront", Record{UpfrontType: ptr(UpfrontPercent), UpfrontValue: ptr(decimal.NewFromInt(30))}, StructureUpfrontBalance},
		{"upfront without value", Record{UpfrontType: ptr(UpfrontPercent)}, StructureOneTime},
		{"installments", Record{InstallmentType: ptr(InstallmentTimeBased), InstallmentCount: ptr(3)}, StructureInstallments},
		{"recurring disabled ignored", Record{RecurringFrequency: ptr(FrequencyMonthly)}, StructureOneTime},
		{"recurring wins over stale fields", Record{
			RecurringEnabled:   true,
			RecurringFrequency: ptr(FrequencyYearly),
			InstallmentType:    ptr(InstallmentTimeBased),
			InstallmentCount:   ptr(2),
			UpfrontType:        ptr(UpfrontAmount),
			UpfrontValue:       ptr(decimal.NewFromInt(10)),
		}, StructureRecurring},
		{"installments over upfront", Record{
			InstallmentType:  ptr(InstallmentTimeBased),
			InstallmentCount: ptr(2),
			UpfrontType:      ptr(UpfrontAmount),
			UpfrontValue:     ptr(decimal.NewFromInt(10)),
		}, StructureInstallments},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Detect(tt.record))
		})
	}
}

func TestCommittedStructureSurvivesPersistence(t *testing.T) {
	terms := []Term{
		OneTime{DueDate: date(2026, 1, 31)},
		OneTime{},
		UpfrontBalance{UpfrontType: UpfrontPercent, UpfrontValue: decimal.NewFromInt(40), BalanceType: BalanceTimeBased, BalanceDueDate: date(2026, 6, 1)},
		UpfrontBalance{UpfrontType: UpfrontAmount, UpfrontValue: decimal.Zero, BalanceType: BalanceFullUpfront},
		Recurring{Enabled: true, Frequency: FrequencyCustom, CustomMonths: 2, StartDate: date(2026, 2, 1)},
		Installments{Type: InstallmentTimeBased, Count: 4, Frequency: InstallmentWeekly},
		Installments{Type: InstallmentMilestoneBased, MilestoneIDs: []string{"1", "2"}},
	}
	for _, term := range terms {
		require.True(t, Validate(term, 2).Valid(), "%#v", term)
		raw, err := json.Marshal(ToRecord(term))
		require.NoError(t, err)
		var back Record
		require.NoError(t, json.Unmarshal(raw, &back))
		assert.Equal(t, term.Structure(), Detect(back), "%#v", term)
		assert.Equal(t, term.Structure(), FromRecord(back).Structure())
	}
}

func TestToRecordNullsOtherStructures(t *testing.T) {
	r := ToRecord(Installments{Type: InstallmentTimeBased, Count: 3, Frequency: InstallmentMonthly, MilestoneIDs: []string{"x"}})
	assert.Nil(t, r.UpfrontType)
	assert.Nil(t, r.RecurringFrequency)
	assert.False(t, r.RecurringEnabled)
	assert.Nil(t, r.MilestoneIDs)
	assert.Equal(t, 3, *r.InstallmentCount)

	r = ToRecord(UpfrontBalance{UpfrontType: UpfrontPercent, UpfrontValue: decimal.NewFromInt(20), BalanceType: BalanceFullUpfront, BalanceDueDate: date(2026, 1, 1)})
	assert.Nil(t, r.BalanceDueDate)
	assert.Equal(t, BalanceFullUpfront, *r.BalancePaymentType)
}

func TestUpfrontPercentOverHundred(t *testing.T) {
	errs := Validate(UpfrontBalance{UpfrontType: UpfrontPercent, UpfrontValue: decimal.NewFromInt(150), BalanceType: BalanceFullUpfront}, 0)
	assert.Equal(t, "Percentage cannot exceed 100%", errs["upfrontValue"])

	w := NewWizard(0)
	require.NoError(t, w.SelectStructure(StructureUpfrontBalance))
	require.NoError(t, w.Next())
	require.NoError(t, w.SetUpfront(UpfrontPercent, decimal.NewFromInt(150)))
	err := w.Next()
	require.Error(t, err)
	fe, ok := shared.AsFieldErrors(err)
	require.True(t, ok)
	assert.Equal(t, "Percentage cannot exceed 100%", fe["upfrontValue"])
	assert.Equal(t, StepConfigureStructure, w.Step())
}

func TestValidateRules(t *testing.T) {
	tests := []struct {
		name      string
		term      Term
		count     int
		wantField string
	}{
		{"upfront type required", UpfrontBalance{BalanceType: BalanceFullUpfront}, 0, "upfrontType"},
		{"upfront negative", UpfrontBalance{UpfrontType: UpfrontAmount, UpfrontValue: decimal.NewFromInt(-1), BalanceType: BalanceFullUpfront}, 0, "upfrontValue"},
		{"balance type required", UpfrontBalance{UpfrontType: UpfrontAmount, UpfrontValue: decimal.NewFromInt(1)}, 0, "balancePaymentType"},
		{"time based balance needs date", UpfrontBalance{UpfrontType: UpfrontAmount, UpfrontValue: decimal.NewFromInt(1), BalanceType: BalanceTimeBased}, 0, "balanceDueDate"},
		{"milestone balance needs selection when milestones exist", UpfrontBalance{UpfrontType: UpfrontAmount, UpfrontValue: decimal.NewFromInt(1), BalanceType: BalanceMilestoneBased}, 2, "milestoneIds"},
		{"recurring frequency", Recurring{Enabled: true, StartDate: date(2026, 1, 1)}, 0, "recurringFrequency"},
		{"recurring start date", Recurring{Enabled: true, Frequency: FrequencyMonthly}, 0, "recurringStartDate"},
		{"custom months", Recurring{Enabled: true, Frequency: FrequencyCustom, StartDate: date(2026, 1, 1)}, 0, "recurringCustomMonths"},
		{"installment type", Installments{}, 0, "installmentType"},
		{"installment count", Installments{Type: InstallmentTimeBased, Frequency: InstallmentMonthly}, 0, "installmentCount"},
		{"installment frequency", Installments{Type: InstallmentTimeBased, Count: 2}, 0, "installmentFrequency"},
		{"installment milestones", Installments{Type: InstallmentMilestoneBased}, 3, "milestoneIds"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := Validate(tt.term, tt.count)
			assert.Contains(t, errs, tt.wantField)
		})
	}
}

func TestValidateAcceptsOptionalCases(t *testing.T) {
	assert.True(t, Validate(OneTime{}, 0).Valid())
	assert.True(t, Validate(Recurring{Enabled: false}, 0).Valid())

	deferred := UpfrontBalance{UpfrontType: UpfrontPercent, UpfrontValue: decimal.NewFromInt(50), BalanceType: BalanceMilestoneBased}
	assert.True(t, Validate(deferred, 0).Valid())
	assert.True(t, MilestonesDeferred(deferred, 0))
	assert.False(t, MilestonesDeferred(deferred, 1))

	assert.Contains(t, Validate(nil, 0), "paymentStructure")
	assert.Contains(t, ValidateRecord("WEEKLY_PIZZA", Record{}, 0), "paymentStructure")
	assert.Contains(t, ValidateRecord(StructureUpfrontBalance, Record{}, 0), "upfrontType")
}

func TestUpfrontValueRequired(t *testing.T) {
	doc := Document{
		Structure: StructureUpfrontBalance,
		Record: Record{
			UpfrontType:        ptr(UpfrontPercent),
			BalancePaymentType: ptr(BalanceFullUpfront),
		},
	}
	term, errs := doc.Decode(0)
	assert.Nil(t, term)
	assert.Equal(t, msgRequired, errs["upfrontValue"])

	doc.UpfrontValue = ptr(decimal.Zero)
	term, errs = doc.Decode(0)
	require.True(t, errs.Valid(), errs)
	assert.True(t, term.(UpfrontBalance).UpfrontValue.IsZero())

	errs = ValidateRecord(StructureUpfrontBalance, Record{}, 0)
	assert.Equal(t, msgRequired, errs["upfrontType"])
	assert.Equal(t, msgRequired, errs["upfrontValue"])
}

func TestWizardRejectsMissingUpfrontValue(t *testing.T) {
	w := NewWizard(0)
	require.NoError(t, w.SelectStructure(StructureUpfrontBalance))
	require.NoError(t, w.Next())

	w.draft.UpfrontType = ptr(UpfrontAmount)
	require.Error(t, w.Next())
	assert.Equal(t, msgRequired, w.Errors()["upfrontValue"])
	assert.Equal(t, StepConfigureStructure, w.Step())

	require.NoError(t, w.SetUpfront(UpfrontAmount, decimal.NewFromInt(250)))
	require.NoError(t, w.Next())
	assert.Equal(t, StepConfigureBalance, w.Step())
}

func TestWizardUpfrontFlow(t *testing.T) {
	w := NewWizard(0)
	require.Error(t, w.Next())
	assert.Equal(t, msgRequired, w.Errors()["paymentStructure"])
	require.NoError(t, w.SelectStructure(StructureUpfrontBalance))
	require.NoError(t, w.Next())
	assert.Equal(t, StepConfigureStructure, w.Step())

	require.ErrorIs(t, w.SetBalance(BalanceTimeBased, date(2026, 9, 1), nil), ErrWrongStep)
	require.ErrorIs(t, w.SetDueDate(nil), ErrWrongStructure)
	require.NoError(t, w.SetUpfront(UpfrontPercent, decimal.NewFromInt(30)))
	require.NoError(t, w.Next())
	assert.Equal(t, StepConfigureBalance, w.Step())

	require.NoError(t, w.SetBalance(BalanceTimeBased, nil, nil))
	require.Error(t, w.Next())
	assert.Contains(t, w.Errors(), "balanceDueDate")
	require.NoError(t, w.SetBalance(BalanceTimeBased, date(2026, 9, 1), []string{"ignored"}))
	require.NoError(t, w.Next())
	assert.Equal(t, StepComplete, w.Step())
	assert.Empty(t, w.Errors())

	term, err := w.Commit()
	require.NoError(t, err)
	rec := ToRecord(term)
	assert.Equal(t, StructureUpfrontBalance, Detect(rec))
	assert.Nil(t, rec.MilestoneIDs)
	assert.Equal(t, "2026-09-01", rec.BalanceDueDate.String())

	w.Back()
	assert.Equal(t, StepConfigureBalance, w.Step())
	w.Back()
	w.Back()
	assert.Equal(t, StepSelectStructure, w.Step())
	w.Back()
	assert.Equal(t, StepSelectStructure, w.Step())
}

func TestWizardCommitRequiresCompletion(t *testing.T) {
	w := NewWizard(0)
	_, err := w.Commit()
	require.ErrorIs(t, err, ErrWrongStep)
	require.ErrorIs(t, w.SelectStructure("SOMETIMES"), ErrUnknownStructure)
}

func TestSwitchingFromRecurringToOneTimeClearsRecurringFields(t *testing.T) {
	persisted := ToRecord(Recurring{Enabled: true, Frequency: FrequencyMonthly, StartDate: date(2026, 4, 1)})
	w := Resume(persisted, 0)
	assert.Equal(t, StepConfigureStructure, w.Step())
	assert.Equal(t, StructureRecurring, w.Structure())

	w.Back()
	require.NoError(t, w.SelectStructure(StructureOneTime))
	assert.Nil(t, w.Draft().RecurringFrequency)
	require.NoError(t, w.Next())
	require.NoError(t, w.Next())

	term, err := w.Commit()
	require.NoError(t, err)
	rec := ToRecord(term)
	assert.False(t, rec.RecurringEnabled)
	assert.Nil(t, rec.RecurringFrequency)
	assert.Nil(t, rec.RecurringStartDate)
	assert.Equal(t, StructureOneTime, Detect(rec))
}

func TestResumeDropsStaleFields(t *testing.T) {
	stale := Record{
		InstallmentType:  ptr(InstallmentTimeBased),
		InstallmentCount: ptr(2),
		UpfrontType:      ptr(UpfrontAmount),
		UpfrontValue:     ptr(decimal.NewFromInt(5)),
	}
	w := Resume(stale, 0)
	assert.Equal(t, StructureInstallments, w.Structure())
	assert.Nil(t, w.Draft().UpfrontType)

	fresh := Resume(Record{}, 0)
	assert.Equal(t, StepSelectStructure, fresh.Step())
}

func TestDisabledRecurringCommitsAsOneTime(t *testing.T) {
	w := NewWizard(0)
	require.NoError(t, w.SelectStructure(StructureRecurring))
	require.NoError(t, w.Next())
	require.NoError(t, w.SetRecurring(false, FrequencyMonthly, 0, date(2026, 1, 1)))
	require.NoError(t, w.Next())
	term, err := w.Commit()
	require.NoError(t, err)
	assert.Equal(t, StructureOneTime, term.Structure())
}

func TestMilestoneBalanceWaitsForMilestones(t *testing.T) {
	w := NewWizard(0)
	require.NoError(t, w.SelectStructure(StructureUpfrontBalance))
	require.NoError(t, w.Next())
	require.NoError(t, w.SetUpfront(UpfrontAmount, decimal.NewFromInt(100)))
	require.NoError(t, w.Next())
	require.NoError(t, w.SetBalance(BalanceMilestoneBased, nil, nil))
	require.NoError(t, w.Next())

	w.Back()
	w.SetMilestoneCount(2)
	require.Error(t, w.Next())
	require.NoError(t, w.SetBalance(BalanceMilestoneBased, nil, []string{"7"}))
	require.NoError(t, w.Next())
}

func TestScheduleInstallmentsAbsorbRemainder(t *testing.T) {
	payments := Schedule(Installments{Type: InstallmentTimeBased, Count: 3, Frequency: InstallmentMonthly},
		decimal.NewFromInt(100), shared.NewDate(2026, 1, 31), nil)
	require.Len(t, payments, 3)
	assert.Equal(t, "33.33", payments[0].Amount.StringFixed(2))
	assert.Equal(t, "33.34", payments[2].Amount.StringFixed(2))
	assert.Equal(t, "2026-01-31", payments[0].DueDate.String())
	assert.Equal(t, 2026, payments[2].DueDate.Year())
}

func TestScheduleUpfrontBalance(t *testing.T) {
	term := UpfrontBalance{UpfrontType: UpfrontPercent, UpfrontValue: decimal.NewFromInt(25), BalanceType: BalanceMilestoneBased, MilestoneIDs: []string{"a", "b"}}
	allocs := []milestones.Allocation{
		{MilestoneID: "a", Amount: decimal.NewFromInt(100)},
		{MilestoneID: "b", Amount: decimal.NewFromInt(300)},
		{MilestoneID: "c", Amount: decimal.NewFromInt(600)},
	}
	payments := Schedule(term, decimal.NewFromInt(1000), shared.NewDate(2026, 1, 1), allocs)
	require.Len(t, payments, 3)
	assert.Equal(t, "250.00", payments[0].Amount.StringFixed(2))
	assert.Equal(t, "187.50", payments[1].Amount.StringFixed(2))
	assert.Equal(t, "562.50", payments[2].Amount.StringFixed(2))
	assert.Equal(t, "b", payments[2].MilestoneID)

	full := Schedule(UpfrontBalance{UpfrontType: UpfrontAmount, UpfrontValue: decimal.NewFromInt(10), BalanceType: BalanceFullUpfront},
		decimal.NewFromInt(80), shared.NewDate(2026, 1, 1), nil)
	require.Len(t, full, 1)
	assert.Equal(t, "80.00", full[0].Amount.StringFixed(2))
}
