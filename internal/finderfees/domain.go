// Package finderfees computes referral payouts from paid invoices and tracks
// their settlement.
package finderfees

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-billing/internal/pricing"
	"github.com/odyssey-erp/odyssey-billing/internal/shared"
)

var (
	// ErrNotFound indicates a bill or fee that does not exist.
	ErrNotFound = fmt.Errorf("finderfees: %w", shared.ErrNotFound)
	// ErrAlreadyCreated is reported by the store when fees for a bill already
	// exist under the unique (bill, client finder) constraint.
	ErrAlreadyCreated = errors.New("finderfees: fees already created for bill")
	// ErrOverpayment is returned when a payment exceeds the remaining amount.
	ErrOverpayment = fmt.Errorf("finderfees: payment exceeds remaining amount: %w", shared.ErrConflict)
)

// InvoiceStatus mirrors the bill status values the fee logic cares about.
type InvoiceStatus string

// InvoicePaid is the only status that earns fees.
const InvoicePaid InvoiceStatus = "PAID"

// InvoiceItem is a bill line as seen by the net amount calculation.
type InvoiceItem struct {
	Amount   decimal.Decimal `json:"amount"`
	IsCredit bool            `json:"isCredit"`
}

// Invoice is the projection of a bill needed to compute referral fees.
// ClientID is zero for bills addressed to a lead.
type Invoice struct {
	ID       int64            `json:"id"`
	ClientID int64            `json:"clientId,omitempty"`
	Status   InvoiceStatus    `json:"status"`
	PaidAt   *time.Time       `json:"paidAt,omitempty"`
	Subtotal *decimal.Decimal `json:"subtotal,omitempty"`
	Discount pricing.Discount `json:"discount"`
	Items    []InvoiceItem    `json:"items"`
}

// Status is the settlement state of a fee.
type Status string

const (
	StatusPending       Status = "PENDING"
	StatusPartiallyPaid Status = "PARTIALLY_PAID"
	StatusPaid          Status = "PAID"
)

// FinderFee is the payout owed to one finder for one paid bill. Amounts and
// percent are snapshots taken when the bill was paid.
type FinderFee struct {
	ID               int64           `json:"id"`
	BillID           int64           `json:"billId"`
	ClientFinderID   int64           `json:"clientFinderId"`
	FinderID         int64           `json:"finderId"`
	ClientID         int64           `json:"clientId"`
	InvoiceNetAmount decimal.Decimal `json:"invoiceNetAmount"`
	FinderFeePercent decimal.Decimal `json:"finderFeePercent"`
	FinderFeeAmount  decimal.Decimal `json:"finderFeeAmount"`
	RemainingAmount  decimal.Decimal `json:"remainingAmount"`
	Status           Status          `json:"status"`
	EarnedAt         time.Time       `json:"earnedAt"`
	CreatedAt        time.Time       `json:"createdAt"`
}

// Payment is a settlement recorded against a fee.
type Payment struct {
	ID          int64           `json:"id"`
	FinderFeeID int64           `json:"finderFeeId"`
	Amount      decimal.Decimal `json:"amount"`
	PaidAt      time.Time       `json:"paidAt"`
}

// SkipReason explains why no fees were created for a bill.
type SkipReason string

const (
	SkipNone             SkipReason = ""
	SkipNotPaid          SkipReason = "bill_not_paid"
	SkipAlreadyCreated   SkipReason = "already_processed"
	SkipNoClient         SkipReason = "no_client"
	SkipNoFinders        SkipReason = "no_finders"
	SkipNonPositiveNet   SkipReason = "non_positive_net"
	SkipNoEligibleFinder SkipReason = "no_eligible_finder"
)

// Outcome reports what a calculation run did. A skipped run is not an error.
type Outcome struct {
	BillID    int64           `json:"billId"`
	NetAmount decimal.Decimal `json:"netAmount"`
	Created   []FinderFee     `json:"created"`
	Skipped   SkipReason      `json:"skipped,omitempty"`
}

// Summary aggregates a finder's fees.
type Summary struct {
	FinderID    int64           `json:"finderId"`
	FeeCount    int             `json:"feeCount"`
	Earned      decimal.Decimal `json:"earned"`
	Paid        decimal.Decimal `json:"paid"`
	Outstanding decimal.Decimal `json:"outstanding"`
	Pending     int             `json:"pendingCount"`
	Partial     int             `json:"partiallyPaidCount"`
	Settled     int             `json:"paidCount"`
}
