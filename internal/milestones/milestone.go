// Package milestones associates milestones with proposal line items and checks
// milestone completeness for billing methods that need them.
package milestones

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-billing/internal/money"
	"github.com/odyssey-erp/odyssey-billing/internal/shared"
)

// TempPrefix marks identifiers assigned before a milestone is persisted.
const TempPrefix = "tmp-"

var (
	// ErrUnknownMilestone is returned when an item references a milestone the
	// plan does not contain.
	ErrUnknownMilestone = errors.New("milestones: unknown milestone")
	// ErrItemOutOfRange is returned for an item index outside the plan.
	ErrItemOutOfRange = errors.New("milestones: item index out of range")
)

// ShareKind tags how a milestone's value is expressed.
type ShareKind string

const (
	ShareNone    ShareKind = ""
	ShareAmount  ShareKind = "FIXED_AMOUNT"
	SharePercent ShareKind = "PERCENT"
)

// Share is a milestone's amount or percentage; never both.
type Share struct {
	Kind  ShareKind
	Value decimal.Decimal
}

// ShareFromFields maps nullable amount/percent columns to a Share.
func ShareFromFields(amount, percent *decimal.Decimal) (Share, error) {
	switch {
	case amount != nil && percent != nil:
		return Share{}, errors.New("milestones: amount and percent are mutually exclusive")
	case amount != nil:
		return Share{Kind: ShareAmount, Value: *amount}, nil
	case percent != nil:
		return Share{Kind: SharePercent, Value: *percent}, nil
	default:
		return Share{}, nil
	}
}

// Amount returns the fixed amount or nil.
func (s Share) Amount() *decimal.Decimal {
	if s.Kind != ShareAmount {
		return nil
	}
	return money.Ptr(s.Value)
}

// Percent returns the percentage or nil.
func (s Share) Percent() *decimal.Decimal {
	if s.Kind != SharePercent {
		return nil
	}
	return money.Ptr(s.Value)
}

// Milestone is a named, optionally dated checkpoint of a proposal.
type Milestone struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Share       Share        `json:"-"`
	DueDate     *shared.Date `json:"dueDate,omitempty"`
}

type milestoneJSON struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Amount      *decimal.Decimal `json:"amount,omitempty"`
	Percent     *decimal.Decimal `json:"percent,omitempty"`
	DueDate     *shared.Date     `json:"dueDate,omitempty"`
}

// MarshalJSON writes the share as amount/percent fields.
func (m Milestone) MarshalJSON() ([]byte, error) {
	return json.Marshal(milestoneJSON{
		ID:          m.ID,
		Name:        m.Name,
		Description: m.Description,
		Amount:      m.Share.Amount(),
		Percent:     m.Share.Percent(),
		DueDate:     m.DueDate,
	})
}

// UnmarshalJSON rejects payloads carrying both amount and percent.
func (m *Milestone) UnmarshalJSON(data []byte) error {
	var raw milestoneJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	share, err := ShareFromFields(raw.Amount, raw.Percent)
	if err != nil {
		return err
	}
	*m = Milestone{
		ID:          raw.ID,
		Name:        raw.Name,
		Description: raw.Description,
		Share:       share,
		DueDate:     raw.DueDate,
	}
	return nil
}

// IsTemporary reports whether the milestone has not been persisted yet.
func (m Milestone) IsTemporary() bool {
	return m.ID == "" || strings.HasPrefix(m.ID, TempPrefix)
}

// NewTempID returns a fresh client-side identifier.
func NewTempID() string {
	return TempPrefix + uuid.NewString()
}
