package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-billing/internal/money"
)

// Repository is the read-only store behind the directory.
type Repository interface {
	GetClient(ctx context.Context, id int64) (Client, error)
	GetLead(ctx context.Context, id int64) (Lead, error)
	GetUser(ctx context.Context, id int64) (User, error)
	ListClientFinders(ctx context.Context, clientID int64) ([]ClientFinder, error)
	ProjectRate(ctx context.Context, projectID, userID int64) (*decimal.Decimal, error)
}

// Service answers directory lookups for pricing and fee computation.
type Service struct {
	repo Repository
}

// NewService constructs the service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Client returns a client by id.
func (s *Service) Client(ctx context.Context, id int64) (Client, error) {
	return s.repo.GetClient(ctx, id)
}

// Finders lists the referral records of a client.
func (s *Service) Finders(ctx context.Context, clientID int64) ([]ClientFinder, error) {
	return s.repo.ListClientFinders(ctx, clientID)
}

// ResolveParty checks that the party exists and returns the client when the
// party is one. Leads return a nil client.
func (s *Service) ResolveParty(ctx context.Context, p Party) (*Client, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if p.IsClient() {
		c, err := s.repo.GetClient(ctx, p.ClientID)
		if err != nil {
			return nil, fmt.Errorf("client %d: %w", p.ClientID, err)
		}
		return &c, nil
	}
	if _, err := s.repo.GetLead(ctx, p.LeadID); err != nil {
		return nil, fmt.Errorf("lead %d: %w", p.LeadID, err)
	}
	return nil, nil
}

// BillingRateForUserInProject returns the project rate table entry for the
// user, falling back to the user's default hourly rate. nil means no rate is
// known.
func (s *Service) BillingRateForUserInProject(ctx context.Context, userID, projectID int64) (*decimal.Decimal, error) {
	if projectID > 0 {
		rate, err := s.repo.ProjectRate(ctx, projectID, userID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("project rate: %w", err)
		}
		if rate != nil {
			return money.Ptr(*rate), nil
		}
	}
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("user %d: %w", userID, err)
	}
	return user.DefaultHourlyRate, nil
}
