package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/Eldsal/eldsal-sub000/internal/domain"
	"github.com/google/uuid"
)

// MemberSubscriptions returns the member's own customers and subscriptions.
func (s *Service) MemberSubscriptions(ctx context.Context, memberID string) (*domain.MemberSubscriptions, error) {
	member, err := s.getMember(ctx, memberID)
	if err != nil {
		return nil, err
	}
	bundle, err := s.memberBundle(ctx, member)
	if err != nil {
		return nil, err
	}
	names, err := s.productNames(ctx)
	if err != nil {
		return nil, err
	}
	fillProductNames(bundle, names)
	return bundle, nil
}

// Prices lists the flavour's active recurring prices, cheapest per year first.
func (s *Service) Prices(ctx context.Context, f domain.Flavour) ([]domain.Price, error) {
	p, err := s.processor(f)
	if err != nil {
		return nil, err
	}
	prices, err := p.ListPrices(ctx)
	if err != nil {
		return nil, processorError(f, "list prices", err)
	}
	sort.SliceStable(prices, func(i, j int) bool {
		return prices[i].AmountPerYear < prices[j].AmountPerYear
	})
	return prices, nil
}

// CreateCheckoutSession starts a hosted checkout for one of the flavour's
// active prices and records the pending session on the member.
func (s *Service) CreateCheckoutSession(ctx context.Context, memberID string, f domain.Flavour, priceID string) (domain.CheckoutSession, error) {
	priceID = strings.TrimSpace(priceID)
	if priceID == "" {
		return domain.CheckoutSession{}, newValidationError("price", "is required")
	}
	p, err := s.processor(f)
	if err != nil {
		return domain.CheckoutSession{}, err
	}
	prices, err := p.ListPrices(ctx)
	if err != nil {
		return domain.CheckoutSession{}, processorError(f, "list prices", err)
	}
	if !containsPrice(prices, priceID) {
		return domain.CheckoutSession{}, newValidationError("price", "%q is not an active %s price", priceID, f)
	}

	member, err := s.getMember(ctx, memberID)
	if err != nil {
		return domain.CheckoutSession{}, err
	}
	if strings.TrimSpace(member.Email) == "" {
		return domain.CheckoutSession{}, newValidationError("email", "member has no email address")
	}
	customers, _, err := s.flavourCustomers(ctx, f, member, s.memberExists(ctx, member.ID))
	if err != nil {
		return domain.CheckoutSession{}, err
	}

	req := domain.CheckoutRequest{
		PriceID:        priceID,
		MemberID:       member.ID,
		SuccessURL:     s.checkoutSuccessURL,
		CancelURL:      s.checkoutCancelURL,
		IdempotencyKey: uuid.NewString(),
	}
	if c, ok := preferredCustomer(customers, member.ID); ok {
		req.CustomerID = c.ID
	} else {
		req.CustomerEmail = member.Email
	}

	session, err := p.CreateCheckoutSession(ctx, req)
	if err != nil {
		return domain.CheckoutSession{}, processorError(f, "create checkout session", err)
	}

	sessions := copySessions(member.AppMetadata.CheckoutSessions)
	sessions[string(f)] = session.ID
	if err := s.identity.SetCheckoutSessions(ctx, member.ID, sessions); err != nil {
		return domain.CheckoutSession{}, identityError("store checkout session", err)
	}
	s.logger.Info("checkout session created", "member_id", member.ID, "flavour", f, "session_id", session.ID, "price_id", priceID)
	return session, nil
}

func containsPrice(prices []domain.Price, id string) bool {
	for _, price := range prices {
		if price.ID == id {
			return true
		}
	}
	return false
}

// preferredCustomer picks the customer tagged with the member id, else the
// oldest one with a matching email.
func preferredCustomer(customers []domain.Customer, memberID string) (domain.Customer, bool) {
	if len(customers) == 0 {
		return domain.Customer{}, false
	}
	best := customers[0]
	for _, c := range customers[1:] {
		if c.MemberID == memberID && best.MemberID != memberID {
			best = c
			continue
		}
		if (c.MemberID == memberID) == (best.MemberID == memberID) && c.Created.Before(best.Created) {
			best = c
		}
	}
	return best, true
}

func copySessions(in map[string]string) map[string]string {
	out := make(map[string]string, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}

// CheckoutStatus reports the state of a member's pending checkout.
type CheckoutStatus struct {
	Flavour       domain.Flavour          `json:"flavour"`
	SessionID     string                  `json:"session_id"`
	Status        string                  `json:"status"`
	PaymentStatus string                  `json:"payment_status"`
	Synced        bool                    `json:"synced"`
	Payment       *domain.PaymentProperty `json:"payment,omitempty"`
}

// CheckCheckoutSession looks up the member's pending checkout for a flavour.
// A completed checkout triggers a sync; completed and expired sessions are
// then forgotten.
func (s *Service) CheckCheckoutSession(ctx context.Context, memberID string, f domain.Flavour) (CheckoutStatus, error) {
	p, err := s.processor(f)
	if err != nil {
		return CheckoutStatus{}, err
	}
	member, err := s.getMember(ctx, memberID)
	if err != nil {
		return CheckoutStatus{}, err
	}
	sessionID := member.AppMetadata.CheckoutSessions[string(f)]
	if sessionID == "" {
		return CheckoutStatus{}, fmt.Errorf("%w: no pending %s checkout", ErrNotFound, f)
	}

	session, err := p.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		err = processorError(f, "get checkout session", err)
		if errors.Is(err, ErrNotFound) {
			s.forgetCheckoutSession(ctx, member, f)
		}
		return CheckoutStatus{}, err
	}
	if session.MemberID != "" && session.MemberID != member.ID {
		return CheckoutStatus{}, ErrForbidden
	}

	status := CheckoutStatus{
		Flavour:       f,
		SessionID:     session.ID,
		Status:        session.Status,
		PaymentStatus: session.PaymentStatus,
	}
	switch session.Status {
	case domain.CheckoutStatusComplete:
		result, err := s.SyncMember(ctx, member.ID)
		if err != nil {
			return status, err
		}
		payment := result.Payments[f]
		status.Synced = true
		status.Payment = &payment
		s.forgetCheckoutSession(ctx, member, f)
	case domain.CheckoutStatusExpired:
		s.forgetCheckoutSession(ctx, member, f)
	}
	return status, nil
}

// forgetCheckoutSession clears a pending session id. Failures are only
// logged; the next check retries.
func (s *Service) forgetCheckoutSession(ctx context.Context, member domain.Member, f domain.Flavour) {
	sessions := copySessions(member.AppMetadata.CheckoutSessions)
	delete(sessions, string(f))
	if err := s.identity.SetCheckoutSessions(ctx, member.ID, sessions); err != nil {
		s.logger.Warn("failed to clear checkout session", "member_id", member.ID, "flavour", f, "error", err)
	}
}

// CancelResult is the cancelled subscription and the sync that followed.
type CancelResult struct {
	Subscription domain.Subscription `json:"subscription"`
	Sync         *SyncResult         `json:"sync,omitempty"`
}

// CancelMemberSubscription cancels one of the member's own subscriptions.
// Subscriptions of other customers are reported as not found.
func (s *Service) CancelMemberSubscription(ctx context.Context, memberID string, f domain.Flavour, subscriptionID string) (CancelResult, error) {
	if strings.TrimSpace(subscriptionID) == "" {
		return CancelResult{}, newValidationError("subscription_id", "is required")
	}
	p, err := s.processor(f)
	if err != nil {
		return CancelResult{}, err
	}
	member, err := s.getMember(ctx, memberID)
	if err != nil {
		return CancelResult{}, err
	}
	sub, err := p.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return CancelResult{}, processorError(f, "get subscription", err)
	}

	owned := sub.MemberID == member.ID
	if !owned {
		customers, _, err := s.flavourCustomers(ctx, f, member, s.memberExists(ctx, member.ID))
		if err != nil {
			return CancelResult{}, err
		}
		for _, c := range customers {
			if c.ID == sub.CustomerID {
				owned = true
				break
			}
		}
	}
	if !owned {
		return CancelResult{}, fmt.Errorf("%w: subscription %s", ErrNotFound, subscriptionID)
	}

	cancelled, err := p.CancelSubscription(ctx, subscriptionID)
	if err != nil {
		return CancelResult{}, processorError(f, "cancel subscription", err)
	}
	s.logger.Info("subscription cancelled by member", "member_id", member.ID, "flavour", f, "subscription_id", subscriptionID)

	result, err := s.SyncMember(ctx, member.ID)
	if err != nil {
		return CancelResult{Subscription: cancelled}, err
	}
	return CancelResult{Subscription: cancelled, Sync: &result}, nil
}

// CancelSubscription cancels any subscription of the flavour. The owning
// member, when known, is synced afterwards; a failed sync is only logged.
func (s *Service) CancelSubscription(ctx context.Context, f domain.Flavour, subscriptionID string) (domain.Subscription, error) {
	if strings.TrimSpace(subscriptionID) == "" {
		return domain.Subscription{}, newValidationError("subscription_id", "is required")
	}
	p, err := s.processor(f)
	if err != nil {
		return domain.Subscription{}, err
	}
	cancelled, err := p.CancelSubscription(ctx, subscriptionID)
	if err != nil {
		return domain.Subscription{}, processorError(f, "cancel subscription", err)
	}
	s.logger.Info("subscription cancelled by admin", "flavour", f, "subscription_id", subscriptionID)

	if cancelled.MemberID != "" {
		if _, err := s.SyncMember(ctx, cancelled.MemberID); err != nil {
			s.logger.Warn("sync after cancellation failed", "member_id", cancelled.MemberID, "error", err)
		}
	}
	return cancelled, nil
}

// Payouts lists the flavour account's payouts, newest first.
func (s *Service) Payouts(ctx context.Context, f domain.Flavour) ([]domain.Payout, error) {
	p, err := s.processor(f)
	if err != nil {
		return nil, err
	}
	payouts, err := p.ListPayouts(ctx)
	if err != nil {
		return nil, processorError(f, "list payouts", err)
	}
	sort.SliceStable(payouts, func(i, j int) bool {
		return payouts[i].Created.After(payouts[j].Created)
	})
	return payouts, nil
}

// PayoutTransactions lists the balance transactions settled in a payout.
func (s *Service) PayoutTransactions(ctx context.Context, f domain.Flavour, payoutID string) ([]domain.PayoutTransaction, error) {
	if strings.TrimSpace(payoutID) == "" {
		return nil, newValidationError("payout", "is required")
	}
	p, err := s.processor(f)
	if err != nil {
		return nil, err
	}
	txns, err := p.ListPayoutTransactions(ctx, payoutID)
	if err != nil {
		return nil, processorError(f, "list payout transactions", err)
	}
	return txns, nil
}
