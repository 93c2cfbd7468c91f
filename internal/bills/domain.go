// Package bills issues invoices from finalized proposals and records their
// payment.
package bills

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-billing/internal/directory"
	"github.com/odyssey-erp/odyssey-billing/internal/pricing"
	"github.com/odyssey-erp/odyssey-billing/internal/shared"
)

var (
	// ErrNotFound indicates the bill does not exist or was deleted.
	ErrNotFound = fmt.Errorf("bills: %w", shared.ErrNotFound)
	// ErrProposalNotFinal blocks billing a proposal that is still a draft.
	ErrProposalNotFinal = fmt.Errorf("bills: proposal is not finalized: %w", shared.ErrConflict)
)

// Status enumerates bill states.
type Status string

const (
	StatusIssued Status = "ISSUED"
	StatusPaid   Status = "PAID"
)

// Item is a bill line. Credit lines carry a negative amount.
type Item struct {
	ID          int64           `json:"id,omitempty"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	IsCredit    bool            `json:"isCredit"`
	ExpenseID   int64           `json:"expenseId,omitempty"`
}

// Bill is an invoice derived from a proposal. PaidAt is set once, when the
// bill becomes PAID, and never cleared.
type Bill struct {
	ID         int64  `json:"id"`
	Number     string `json:"number"`
	ProposalID int64  `json:"proposalId"`
	directory.Party
	Currency     string           `json:"currency"`
	Subtotal     *decimal.Decimal `json:"subtotal,omitempty"`
	Discount     pricing.Discount `json:"discount"`
	TaxRate      decimal.Decimal  `json:"taxRate"`
	TaxInclusive bool             `json:"taxInclusive"`
	TaxAmount    decimal.Decimal  `json:"taxAmount"`
	Total        decimal.Decimal  `json:"total"`
	Status       Status           `json:"status"`
	IssueDate    shared.Date      `json:"issueDate"`
	DueDate      *shared.Date     `json:"dueDate,omitempty"`
	PaidAt       *time.Time       `json:"paidAt,omitempty"`
	Items        []Item           `json:"items"`
	CreatedAt    time.Time        `json:"createdAt"`
	UpdatedAt    time.Time        `json:"updatedAt"`
}

// IsPaid reports whether the bill reached PAID.
func (b Bill) IsPaid() bool { return b.Status == StatusPaid }

// CreditInput is an expense reimbursement deducted on the bill.
type CreditInput struct {
	Description string          `json:"description" validate:"required,max=500"`
	Amount      decimal.Decimal `json:"amount"`
	ExpenseID   int64           `json:"expenseId" validate:"gte=0"`
}

// CreateInput requests a bill for a finalized proposal.
type CreateInput struct {
	ProposalID int64         `json:"proposalId" validate:"required,gt=0"`
	IssueDate  *shared.Date  `json:"issueDate"`
	DueDate    *shared.Date  `json:"dueDate"`
	Credits    []CreditInput `json:"credits" validate:"dive"`
}

// PaidResult is the outcome of marking a bill paid. AlreadyPaid is set when
// the call changed nothing.
type PaidResult struct {
	Bill        Bill `json:"bill"`
	AlreadyPaid bool `json:"alreadyPaid"`
}
