// Package directory reads the parties a proposal or bill refers to: clients,
// leads, users, referral finders and project rate tables.
package directory

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-billing/internal/pricing"
	"github.com/odyssey-erp/odyssey-billing/internal/shared"
)

// ErrNotFound indicates the referenced record does not exist or is deleted.
var ErrNotFound = fmt.Errorf("directory: %w", shared.ErrNotFound)

// ErrPartyConflict is returned when both or neither of client and lead are set.
var ErrPartyConflict = errors.New("directory: exactly one of client or lead is required")

// Client is a billed customer.
type Client struct {
	ID              int64            `json:"id"`
	Name            string           `json:"name"`
	Company         string           `json:"company"`
	DefaultDiscount pricing.Discount `json:"defaultDiscount"`
}

// Lead is a prospect without a referral program.
type Lead struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Company string `json:"company"`
}

// User is a staff member that can be assigned to hourly work.
type User struct {
	ID                int64            `json:"id"`
	Name              string           `json:"name"`
	DefaultHourlyRate *decimal.Decimal `json:"defaultHourlyRate,omitempty"`
	ProfileTier       string           `json:"profileTier,omitempty"`
}

// ClientFinder entitles a user to a referral fee on a client's paid bills.
type ClientFinder struct {
	ID               int64           `json:"id"`
	ClientID         int64           `json:"clientId"`
	UserID           int64           `json:"userId"`
	FinderFeePercent decimal.Decimal `json:"finderFeePercent"`
}

// Party identifies the recipient of a proposal or bill.
type Party struct {
	ClientID int64 `json:"clientId,omitempty"`
	LeadID   int64 `json:"leadId,omitempty"`
}

// Validate enforces that exactly one side is set.
func (p Party) Validate() error {
	if (p.ClientID > 0) == (p.LeadID > 0) {
		return ErrPartyConflict
	}
	return nil
}

// IsClient reports whether the party is a client.
func (p Party) IsClient() bool { return p.ClientID > 0 }
