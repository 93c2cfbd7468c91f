// Package proposals assembles priced proposals: parties, line items,
// milestones and payment terms, persisted together under a yearly number.
package proposals

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-billing/internal/directory"
	"github.com/odyssey-erp/odyssey-billing/internal/milestones"
	"github.com/odyssey-erp/odyssey-billing/internal/paymentterms"
	"github.com/odyssey-erp/odyssey-billing/internal/pricing"
	"github.com/odyssey-erp/odyssey-billing/internal/shared"
)

var (
	// ErrNotFound indicates the proposal does not exist or was deleted.
	ErrNotFound = fmt.Errorf("proposals: %w", shared.ErrNotFound)
	// ErrFinalized blocks edits to a finalized proposal.
	ErrFinalized = fmt.Errorf("proposals: proposal is finalized: %w", shared.ErrConflict)
)

// Status enumerates proposal lifecycle states.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusFinalized Status = "FINALIZED"
)

// Item is a priced proposal line.
type Item struct {
	ID int64 `json:"id,omitempty"`
	pricing.LineItem
	AssigneeID   int64             `json:"assigneeId,omitempty"`
	MilestoneIDs []string          `json:"milestoneIds"`
	PaymentTerm  paymentterms.Term `json:"-"`
	Effective    decimal.Decimal   `json:"effectiveAmount"`
	ExceedsCap   bool              `json:"exceedsCap"`
}

// MarshalJSON adds the item payment term in its wire form.
func (i Item) MarshalJSON() ([]byte, error) {
	type alias Item
	return json.Marshal(struct {
		alias
		PaymentTerms *paymentterms.Document `json:"paymentTerms"`
	}{alias(i), paymentterms.Encode(i.PaymentTerm)})
}

// Proposal is a priced offer to exactly one client or lead.
type Proposal struct {
	ID     int64  `json:"id"`
	Number string `json:"number"`
	directory.Party
	ProjectID     int64                  `json:"projectId,omitempty"`
	Title         string                 `json:"title"`
	Currency      string                 `json:"currency"`
	Config        pricing.Config         `json:"config"`
	UseMilestones bool                   `json:"useMilestones"`
	IssueDate     *shared.Date           `json:"issueDate,omitempty"`
	ExpiryDate    *shared.Date           `json:"expiryDate,omitempty"`
	Status        Status                 `json:"status"`
	Items         []Item                 `json:"items"`
	Milestones    []milestones.Milestone `json:"milestones"`
	PaymentTerm   paymentterms.Term      `json:"-"`
	Totals        pricing.Totals         `json:"totals"`
	Warnings      []string               `json:"warnings,omitempty"`
	CreatedAt     time.Time              `json:"createdAt"`
	UpdatedAt     time.Time              `json:"updatedAt"`
}

// MarshalJSON adds the proposal-level payment term in its wire form.
func (p Proposal) MarshalJSON() ([]byte, error) {
	type alias Proposal
	return json.Marshal(struct {
		alias
		PaymentTerms *paymentterms.Document `json:"paymentTerms"`
	}{alias(p), paymentterms.Encode(p.PaymentTerm)})
}

// Summary is the list view of a proposal.
type Summary struct {
	ID     int64  `json:"id"`
	Number string `json:"number"`
	directory.Party
	Title     string                `json:"title"`
	Type      pricing.BillingMethod `json:"type"`
	Currency  string                `json:"currency"`
	Status    Status                `json:"status"`
	Amount    decimal.Decimal       `json:"amount"`
	CreatedAt time.Time             `json:"createdAt"`
}

// ListFilter narrows proposal listings.
type ListFilter struct {
	Status   Status
	ClientID int64
	LeadID   int64
	Page     int
	PerPage  int
}

// ItemInput is one line of a create/update request.
type ItemInput struct {
	BillingMethod   pricing.BillingMethod  `json:"billingMethod"`
	Description     string                 `json:"description" validate:"required,max=500"`
	Quantity        *decimal.Decimal       `json:"quantity"`
	Rate            *decimal.Decimal       `json:"rate"`
	UnitPrice       *decimal.Decimal       `json:"unitPrice"`
	Amount          *decimal.Decimal       `json:"amount"`
	DiscountPercent *decimal.Decimal       `json:"discountPercent"`
	DiscountAmount  *decimal.Decimal       `json:"discountAmount"`
	IsEstimate      bool                   `json:"isEstimate"`
	IsCapped        bool                   `json:"isCapped"`
	CappedHours     *decimal.Decimal       `json:"cappedHours"`
	CappedAmount    *decimal.Decimal       `json:"cappedAmount"`
	AssigneeID      int64                  `json:"assigneeId" validate:"gte=0"`
	MilestoneIDs    []string               `json:"milestoneIds"`
	PaymentTerms    *paymentterms.Document `json:"paymentTerms"`
}

// Input is the full create/update/quote request.
type Input struct {
	ClientID              int64                  `json:"clientId" validate:"gte=0"`
	LeadID                int64                  `json:"leadId" validate:"gte=0"`
	ProjectID             int64                  `json:"projectId" validate:"gte=0"`
	Title                 string                 `json:"title" validate:"max=200"`
	Type                  pricing.BillingMethod  `json:"type" validate:"required"`
	Currency              string                 `json:"currency" validate:"required,len=3"`
	TaxRate               decimal.Decimal        `json:"taxRate"`
	TaxInclusive          bool                   `json:"taxInclusive"`
	ClientDiscountPercent *decimal.Decimal       `json:"clientDiscountPercent"`
	ClientDiscountAmount  *decimal.Decimal       `json:"clientDiscountAmount"`
	BlendedRate           *decimal.Decimal       `json:"blendedRate"`
	UseMilestones         bool                   `json:"useMilestones"`
	IssueDate             *shared.Date           `json:"issueDate"`
	ExpiryDate            *shared.Date           `json:"expiryDate"`
	Items                 []ItemInput            `json:"items" validate:"dive"`
	Milestones            []milestones.Milestone `json:"milestones"`
	PaymentTerms          *paymentterms.Document `json:"paymentTerms"`
}

// QuoteResult previews pricing without persisting anything.
type QuoteResult struct {
	pricing.Quote
	Allocations []milestones.Allocation `json:"allocations"`
	Schedule    []paymentterms.Payment  `json:"schedule,omitempty"`
	Warnings    []string                `json:"warnings,omitempty"`
}

// TermCheck is the outcome of validating a payment term on its own.
type TermCheck struct {
	Valid     bool                   `json:"valid"`
	Structure paymentterms.Structure `json:"paymentStructure"`
	Errors    shared.FieldErrors     `json:"errors,omitempty"`
	Deferred  bool                   `json:"milestonesDeferred"`
}
