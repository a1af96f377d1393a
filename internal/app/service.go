/**
 * @description
 * This file contains the Service that mediates between the HTTP layer and the
 * two external systems: the identity provider (member records) and the
 * payment processor (one account per fee flavour). The service owns no state
 * of its own; every derived view is recomputed per call.
 */
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/Eldsal/eldsal-sub000/internal/domain"
)

// IdentityProvider is the member store.
type IdentityProvider interface {
	GetUser(ctx context.Context, id string) (domain.Member, error)
	ListUsers(ctx context.Context) ([]domain.Member, error)
	UpdateProfile(ctx context.Context, id string, p domain.ProfileUpdate) (domain.Member, error)
	UpdatePayments(ctx context.Context, id string, payments map[string]interface{}) (domain.Member, error)
	SetCheckoutSessions(ctx context.Context, id string, sessions map[string]string) error
	CreatePasswordResetTicket(ctx context.Context, id, resultURL string) (string, error)
}

// PaymentProcessor is one fee flavour's processor account.
type PaymentProcessor interface {
	ListCustomers(ctx context.Context) ([]domain.Customer, error)
	FindCustomers(ctx context.Context, email string) ([]domain.Customer, error)
	GetCustomer(ctx context.Context, id string) (domain.Customer, error)
	SearchCustomersByMember(ctx context.Context, memberID string) ([]domain.Customer, error)
	SearchSubscriptionsByMember(ctx context.Context, memberID string) ([]domain.Subscription, error)
	ListSubscriptions(ctx context.Context, customerID string) ([]domain.Subscription, error)
	GetSubscription(ctx context.Context, id string) (domain.Subscription, error)
	CancelSubscription(ctx context.Context, id string) (domain.Subscription, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)
	ListPrices(ctx context.Context) ([]domain.Price, error)
	ListPayouts(ctx context.Context) ([]domain.Payout, error)
	ListPayoutTransactions(ctx context.Context, payoutID string) ([]domain.PayoutTransaction, error)
	CreateCheckoutSession(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, id string) (domain.CheckoutSession, error)
}

// EventPublisher publishes member events.
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
}

// RoutingKeyPaymentUpdated is published after a stored payment changes.
const RoutingKeyPaymentUpdated = "member.payment.updated"

// Options carries the optional collaborators and settings of a Service.
type Options struct {
	Events                 EventPublisher
	EventsExchange         string
	Metrics                *Metrics
	Logger                 *slog.Logger
	CheckoutSuccessURL     string
	CheckoutCancelURL      string
	PasswordResetResultURL string
	// MemberDelay pauses between members in SyncAll.
	MemberDelay time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

// Service provides the member, billing and reconciliation operations.
type Service struct {
	identity   IdentityProvider
	processors map[domain.Flavour]PaymentProcessor

	events                 EventPublisher
	eventsExchange         string
	metrics                *Metrics
	logger                 *slog.Logger
	checkoutSuccessURL     string
	checkoutCancelURL      string
	passwordResetResultURL string
	memberDelay            time.Duration
	now                    func() time.Time
}

// NewService creates a new member service.
func NewService(identity IdentityProvider, processors map[domain.Flavour]PaymentProcessor, opts Options) *Service {
	s := &Service{
		identity:               identity,
		processors:             processors,
		events:                 opts.Events,
		eventsExchange:         opts.EventsExchange,
		metrics:                opts.Metrics,
		logger:                 opts.Logger,
		checkoutSuccessURL:     opts.CheckoutSuccessURL,
		checkoutCancelURL:      opts.CheckoutCancelURL,
		passwordResetResultURL: opts.PasswordResetResultURL,
		memberDelay:            opts.MemberDelay,
		now:                    opts.Now,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *Service) today() time.Time {
	return domain.DateOnly(s.now())
}

func (s *Service) processor(f domain.Flavour) (PaymentProcessor, error) {
	p, ok := s.processors[f]
	if !ok || p == nil {
		return nil, errInvalidFlavour(string(f))
	}
	return p, nil
}

// ParseFlavour validates a flavour taken from a request.
func ParseFlavour(raw string) (domain.Flavour, error) {
	f, ok := domain.ParseFlavour(raw)
	if !ok {
		return "", errInvalidFlavour(raw)
	}
	return f, nil
}

func (s *Service) getMember(ctx context.Context, id string) (domain.Member, error) {
	if id == "" {
		return domain.Member{}, newValidationError("user_id", "is required")
	}
	m, err := s.identity.GetUser(ctx, id)
	if err != nil {
		return domain.Member{}, identityError("get user", err)
	}
	return m, nil
}

// mergePayments builds the full payments object to write back. Flavours
// without a change keep their raw stored value, malformed or not.
func mergePayments(m domain.Member, changes map[domain.Flavour]domain.PaymentRecord) map[string]interface{} {
	out := make(map[string]interface{}, len(m.AppMetadata.Payments)+len(changes))
	for key, raw := range m.AppMetadata.Payments {
		out[key] = raw
	}
	for f, rec := range changes {
		out[string(f)] = rec
	}
	return out
}

func (s *Service) publishPaymentUpdated(ctx context.Context, m domain.Member, p domain.PaymentProperty, source string) {
	if s.events == nil || s.eventsExchange == "" {
		return
	}
	event := domain.PaymentUpdatedEvent{
		MemberID:   m.ID,
		Email:      m.Email,
		Flavour:    p.Flavour,
		Payment:    p,
		Source:     source,
		OccurredAt: s.now().UTC(),
	}
	if err := s.events.Publish(ctx, s.eventsExchange, RoutingKeyPaymentUpdated, event); err != nil {
		s.logger.Warn("failed to publish payment event", "member_id", m.ID, "flavour", p.Flavour, "error", err)
	}
}
