package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"time"

	"github.com/Eldsal/eldsal-sub000/internal/domain"
	"github.com/Eldsal/eldsal-sub000/pkg/identityclient"
	"github.com/Eldsal/eldsal-sub000/pkg/stripeclient"
)

type identityStub struct {
	members     map[string]domain.Member
	order       []string
	listErr     error
	updateErr   map[string]error
	writes      map[string][]map[string]interface{}
	sessionSets map[string][]map[string]string
}

func newIdentityStub(members ...domain.Member) *identityStub {
	s := &identityStub{
		members:     make(map[string]domain.Member),
		updateErr:   make(map[string]error),
		writes:      make(map[string][]map[string]interface{}),
		sessionSets: make(map[string][]map[string]string),
	}
	for _, m := range members {
		s.members[m.ID] = m
		s.order = append(s.order, m.ID)
	}
	return s
}

func (s *identityStub) GetUser(ctx context.Context, id string) (domain.Member, error) {
	m, ok := s.members[id]
	if !ok {
		return domain.Member{}, identityclient.ErrUserNotFound
	}
	return m, nil
}

func (s *identityStub) ListUsers(ctx context.Context) ([]domain.Member, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := make([]domain.Member, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.members[id])
	}
	return out, nil
}

func (s *identityStub) UpdateProfile(ctx context.Context, id string, p domain.ProfileUpdate) (domain.Member, error) {
	m, ok := s.members[id]
	if !ok {
		return domain.Member{}, identityclient.ErrUserNotFound
	}
	m.GivenName = p.GivenName
	m.FamilyName = p.FamilyName
	m.UserMetadata = domain.UserMetadata{Address: p.Address, Zip: p.Zip, City: p.City, Country: p.Country, Phone: p.Phone, BirthDate: p.BirthDate}
	s.members[id] = m
	return m, nil
}

// UpdatePayments stores the payments the way the identity provider would:
// as decoded JSON.
func (s *identityStub) UpdatePayments(ctx context.Context, id string, payments map[string]interface{}) (domain.Member, error) {
	if err := s.updateErr[id]; err != nil {
		return domain.Member{}, err
	}
	m, ok := s.members[id]
	if !ok {
		return domain.Member{}, identityclient.ErrUserNotFound
	}
	s.writes[id] = append(s.writes[id], payments)

	raw, err := json.Marshal(payments)
	if err != nil {
		return domain.Member{}, err
	}
	var stored domain.PaymentsMetadata
	if err := json.Unmarshal(raw, &stored); err != nil {
		return domain.Member{}, err
	}
	m.AppMetadata.Payments = stored
	s.members[id] = m
	return m, nil
}

func (s *identityStub) SetCheckoutSessions(ctx context.Context, id string, sessions map[string]string) error {
	m, ok := s.members[id]
	if !ok {
		return identityclient.ErrUserNotFound
	}
	s.sessionSets[id] = append(s.sessionSets[id], sessions)
	m.AppMetadata.CheckoutSessions = sessions
	s.members[id] = m
	return nil
}

func (s *identityStub) CreatePasswordResetTicket(ctx context.Context, id, resultURL string) (string, error) {
	if _, ok := s.members[id]; !ok {
		return "", identityclient.ErrUserNotFound
	}
	return "https://eldsal.eu.auth0.com/lo/reset?ticket=abc&result=" + resultURL, nil
}

type processorStub struct {
	customers     []domain.Customer
	subscriptions []domain.Subscription
	products      []domain.Product
	prices        []domain.Price
	payouts       []domain.Payout
	transactions  map[string][]domain.PayoutTransaction
	sessions      map[string]domain.CheckoutSession

	customersErr     error
	subscriptionsErr error

	created   []domain.CheckoutRequest
	cancelled []string
}

func (p *processorStub) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	if p.customersErr != nil {
		return nil, p.customersErr
	}
	return append([]domain.Customer(nil), p.customers...), nil
}

func (p *processorStub) FindCustomers(ctx context.Context, email string) ([]domain.Customer, error) {
	if p.customersErr != nil {
		return nil, p.customersErr
	}
	var out []domain.Customer
	for _, c := range p.customers {
		if c.Email == email {
			out = append(out, c)
		}
	}
	return out, nil
}

func (p *processorStub) GetCustomer(ctx context.Context, id string) (domain.Customer, error) {
	for _, c := range p.customers {
		if c.ID == id {
			return c, nil
		}
	}
	return domain.Customer{}, stripeclient.ErrNotFound
}

func (p *processorStub) SearchCustomersByMember(ctx context.Context, memberID string) ([]domain.Customer, error) {
	if p.customersErr != nil {
		return nil, p.customersErr
	}
	var out []domain.Customer
	for _, c := range p.customers {
		if c.MemberID == memberID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (p *processorStub) SearchSubscriptionsByMember(ctx context.Context, memberID string) ([]domain.Subscription, error) {
	if p.subscriptionsErr != nil {
		return nil, p.subscriptionsErr
	}
	var out []domain.Subscription
	for _, sub := range p.subscriptions {
		if sub.MemberID == memberID {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (p *processorStub) ListSubscriptions(ctx context.Context, customerID string) ([]domain.Subscription, error) {
	if p.subscriptionsErr != nil {
		return nil, p.subscriptionsErr
	}
	var out []domain.Subscription
	for _, sub := range p.subscriptions {
		if customerID == "" || sub.CustomerID == customerID {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (p *processorStub) GetSubscription(ctx context.Context, id string) (domain.Subscription, error) {
	for _, sub := range p.subscriptions {
		if sub.ID == id {
			return sub, nil
		}
	}
	return domain.Subscription{}, stripeclient.ErrNotFound
}

func (p *processorStub) CancelSubscription(ctx context.Context, id string) (domain.Subscription, error) {
	for i, sub := range p.subscriptions {
		if sub.ID == id {
			p.cancelled = append(p.cancelled, id)
			p.subscriptions[i].Status = "canceled"
			return p.subscriptions[i], nil
		}
	}
	return domain.Subscription{}, stripeclient.ErrNotFound
}

func (p *processorStub) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return p.products, nil
}

func (p *processorStub) ListPrices(ctx context.Context) ([]domain.Price, error) {
	return append([]domain.Price(nil), p.prices...), nil
}

func (p *processorStub) ListPayouts(ctx context.Context) ([]domain.Payout, error) {
	return append([]domain.Payout(nil), p.payouts...), nil
}

func (p *processorStub) ListPayoutTransactions(ctx context.Context, payoutID string) ([]domain.PayoutTransaction, error) {
	txns, ok := p.transactions[payoutID]
	if !ok {
		return nil, stripeclient.ErrNotFound
	}
	return txns, nil
}

func (p *processorStub) CreateCheckoutSession(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutSession, error) {
	p.created = append(p.created, req)
	return domain.CheckoutSession{
		ID:       "cs_test_1",
		URL:      "https://checkout.stripe.com/c/pay/cs_test_1",
		Status:   domain.CheckoutStatusOpen,
		MemberID: req.MemberID,
	}, nil
}

func (p *processorStub) GetCheckoutSession(ctx context.Context, id string) (domain.CheckoutSession, error) {
	s, ok := p.sessions[id]
	if !ok {
		return domain.CheckoutSession{}, stripeclient.ErrNotFound
	}
	return s, nil
}

type publisherStub struct {
	events []domain.PaymentUpdatedEvent
}

func (p *publisherStub) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	if e, ok := body.(domain.PaymentUpdatedEvent); ok {
		p.events = append(p.events, e)
	}
	return nil
}

var testToday = time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC)

func date(s string) time.Time {
	t, err := time.Parse(domain.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

type testEnv struct {
	identity   *identityStub
	membership *processorStub
	housecard  *processorStub
	events     *publisherStub
	service    *Service
}

func newTestEnv(members ...domain.Member) *testEnv {
	env := &testEnv{
		identity:   newIdentityStub(members...),
		membership: &processorStub{},
		housecard:  &processorStub{},
		events:     &publisherStub{},
	}
	env.service = NewService(env.identity, map[domain.Flavour]PaymentProcessor{
		domain.FlavourMembership: env.membership,
		domain.FlavourHouseCard:  env.housecard,
	}, Options{
		Events:             env.events,
		EventsExchange:     "eldsal.members",
		Logger:             slog.New(slog.NewTextHandler(io.Discard, nil)),
		CheckoutSuccessURL: "https://medlem.eldsal.se/payment/success",
		CheckoutCancelURL:  "https://medlem.eldsal.se/payment/cancel",
		Now:                func() time.Time { return testToday },
	})
	return env
}

func newMember(id, email string) domain.Member {
	return domain.Member{ID: id, Email: email, GivenName: "Test", FamilyName: id}
}

func activeSubscription(id, customerID, start, end string, amount float64) domain.Subscription {
	return domain.Subscription{
		ID:            id,
		CustomerID:    customerID,
		Status:        "active",
		PeriodStart:   date(start),
		PeriodEnd:     date(end),
		ProductID:     "prod_membership",
		PriceID:       "price_year",
		Amount:        amount,
		Currency:      "sek",
		Interval:      domain.IntervalYear,
		IntervalCount: 1,
	}
}

// storedPayment renders a record the way it comes back from the identity
// provider.
func storedPayment(r domain.PaymentRecord) map[string]interface{} {
	raw, err := json.Marshal(r)
	if err != nil {
		panic(err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		panic(err)
	}
	return out
}

func withPayment(m domain.Member, f domain.Flavour, raw interface{}) domain.Member {
	payments := make(domain.PaymentsMetadata, len(m.AppMetadata.Payments)+1)
	for k, v := range m.AppMetadata.Payments {
		payments[k] = v
	}
	payments[string(f)] = raw
	m.AppMetadata.Payments = payments
	return m
}
