/**
 * @description
 * This package wraps the Stripe API for one fee flavour. The association
 * keeps membership fees and house-card fees in separate Stripe accounts, so
 * the service holds one Client per flavour, each with its own secret key.
 *
 * Every listing drains all pages explicitly before returning.
 */
package stripeclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"

	"github.com/Eldsal/eldsal-sub000/internal/domain"
)

// MetadataMemberID is the metadata key linking processor objects to a member.
const MetadataMemberID = "user_id"

// ErrNotFound is returned when a referenced object does not exist.
var ErrNotFound = errors.New("stripe resource not found")

// Client talks to the Stripe account of a single fee flavour.
type Client struct {
	flavour domain.Flavour
	api     *client.API
}

// NewClient creates a client for the given flavour's account.
func NewClient(flavour domain.Flavour, secretKey string) *Client {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &Client{flavour: flavour, api: api}
}

// Flavour returns the fee flavour this client bills.
func (c *Client) Flavour() domain.Flavour {
	return c.flavour
}

// ListCustomers returns every customer in the account.
func (c *Client) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	return c.listCustomers(ctx, "")
}

// FindCustomers returns the customers registered with the given email.
func (c *Client) FindCustomers(ctx context.Context, email string) ([]domain.Customer, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, nil
	}
	return c.listCustomers(ctx, email)
}

func (c *Client) listCustomers(ctx context.Context, email string) ([]domain.Customer, error) {
	raw, err := drain(ctx, func(ctx context.Context, startingAfter string) ([]*stripe.Customer, bool, error) {
		params := &stripe.CustomerListParams{}
		if email != "" {
			params.Email = stripe.String(email)
		}
		singlePage(ctx, &params.ListParams, startingAfter)
		return collect[*stripe.Customer](c.api.Customers.List(params))
	}, func(cu *stripe.Customer) string { return cu.ID })
	if err != nil {
		return nil, fmt.Errorf("list %s customers: %w", c.flavour, err)
	}

	out := make([]domain.Customer, 0, len(raw))
	for _, cu := range raw {
		if cu == nil || cu.Deleted {
			continue
		}
		out = append(out, toCustomer(cu))
	}
	return out, nil
}

// GetCustomer retrieves one customer.
func (c *Client) GetCustomer(ctx context.Context, id string) (domain.Customer, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	cu, err := c.api.Customers.Get(id, params)
	if err != nil {
		return domain.Customer{}, fmt.Errorf("get %s customer %s: %w", c.flavour, id, wrapError(err))
	}
	if cu.Deleted {
		return domain.Customer{}, fmt.Errorf("get %s customer %s: %w: deleted", c.flavour, id, ErrNotFound)
	}
	return toCustomer(cu), nil
}

// SearchCustomersByMember returns the customers tagged with the member id.
func (c *Client) SearchCustomersByMember(ctx context.Context, memberID string) ([]domain.Customer, error) {
	if strings.TrimSpace(memberID) == "" {
		return nil, nil
	}
	params := &stripe.CustomerSearchParams{}
	params.Context = ctx
	params.Query = memberQuery(memberID)
	params.Limit = stripe.Int64(pageSize)

	raw, err := collectAll[*stripe.Customer](c.api.Customers.Search(params))
	if err != nil {
		return nil, fmt.Errorf("search %s customers: %w", c.flavour, err)
	}
	out := make([]domain.Customer, 0, len(raw))
	for _, cu := range raw {
		if cu == nil || cu.Deleted {
			continue
		}
		out = append(out, toCustomer(cu))
	}
	return out, nil
}

// SearchSubscriptionsByMember returns the subscriptions tagged with the
// member id, in any status.
func (c *Client) SearchSubscriptionsByMember(ctx context.Context, memberID string) ([]domain.Subscription, error) {
	if strings.TrimSpace(memberID) == "" {
		return nil, nil
	}
	params := &stripe.SubscriptionSearchParams{}
	params.Context = ctx
	params.Query = memberQuery(memberID)
	params.Limit = stripe.Int64(pageSize)
	params.AddExpand("data.items.data.price")

	raw, err := collectAll[*stripe.Subscription](c.api.Subscriptions.Search(params))
	if err != nil {
		return nil, fmt.Errorf("search %s subscriptions: %w", c.flavour, err)
	}
	out := make([]domain.Subscription, 0, len(raw))
	for _, s := range raw {
		if s == nil {
			continue
		}
		out = append(out, toSubscription(s))
	}
	return out, nil
}

// memberQuery builds a search query on the member id metadata key.
func memberQuery(memberID string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(memberID)
	return fmt.Sprintf("metadata['%s']:'%s'", MetadataMemberID, escaped)
}

// ListSubscriptions returns every subscription, in any status, optionally
// limited to one customer.
func (c *Client) ListSubscriptions(ctx context.Context, customerID string) ([]domain.Subscription, error) {
	raw, err := drain(ctx, func(ctx context.Context, startingAfter string) ([]*stripe.Subscription, bool, error) {
		params := &stripe.SubscriptionListParams{Status: stripe.String("all")}
		if customerID != "" {
			params.Customer = stripe.String(customerID)
		}
		singlePage(ctx, &params.ListParams, startingAfter)
		params.AddExpand("data.items.data.price")
		return collect[*stripe.Subscription](c.api.Subscriptions.List(params))
	}, func(s *stripe.Subscription) string { return s.ID })
	if err != nil {
		return nil, fmt.Errorf("list %s subscriptions: %w", c.flavour, err)
	}

	out := make([]domain.Subscription, 0, len(raw))
	for _, s := range raw {
		if s == nil {
			continue
		}
		out = append(out, toSubscription(s))
	}
	return out, nil
}

// GetSubscription retrieves one subscription.
func (c *Client) GetSubscription(ctx context.Context, id string) (domain.Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	params.AddExpand("items.data.price")
	s, err := c.api.Subscriptions.Get(id, params)
	if err != nil {
		return domain.Subscription{}, fmt.Errorf("get %s subscription %s: %w", c.flavour, id, wrapError(err))
	}
	return toSubscription(s), nil
}

// CancelSubscription cancels a subscription immediately.
func (c *Client) CancelSubscription(ctx context.Context, id string) (domain.Subscription, error) {
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	s, err := c.api.Subscriptions.Cancel(id, params)
	if err != nil {
		return domain.Subscription{}, fmt.Errorf("cancel %s subscription %s: %w", c.flavour, id, wrapError(err))
	}
	return toSubscription(s), nil
}

// ListProducts returns every product in the account.
func (c *Client) ListProducts(ctx context.Context) ([]domain.Product, error) {
	raw, err := drain(ctx, func(ctx context.Context, startingAfter string) ([]*stripe.Product, bool, error) {
		params := &stripe.ProductListParams{}
		singlePage(ctx, &params.ListParams, startingAfter)
		return collect[*stripe.Product](c.api.Products.List(params))
	}, func(p *stripe.Product) string { return p.ID })
	if err != nil {
		return nil, fmt.Errorf("list %s products: %w", c.flavour, err)
	}

	out := make([]domain.Product, 0, len(raw))
	for _, p := range raw {
		if p == nil {
			continue
		}
		out = append(out, domain.Product{ID: p.ID, Name: p.Name, Active: p.Active})
	}
	return out, nil
}

// ListPrices returns the active recurring prices.
func (c *Client) ListPrices(ctx context.Context) ([]domain.Price, error) {
	raw, err := drain(ctx, func(ctx context.Context, startingAfter string) ([]*stripe.Price, bool, error) {
		params := &stripe.PriceListParams{
			Active: stripe.Bool(true),
			Type:   stripe.String("recurring"),
		}
		singlePage(ctx, &params.ListParams, startingAfter)
		params.AddExpand("data.product")
		return collect[*stripe.Price](c.api.Prices.List(params))
	}, func(p *stripe.Price) string { return p.ID })
	if err != nil {
		return nil, fmt.Errorf("list %s prices: %w", c.flavour, err)
	}

	out := make([]domain.Price, 0, len(raw))
	for _, p := range raw {
		if p == nil || p.Recurring == nil {
			continue
		}
		out = append(out, toPrice(p))
	}
	return out, nil
}

// ListPayouts returns every payout.
func (c *Client) ListPayouts(ctx context.Context) ([]domain.Payout, error) {
	raw, err := drain(ctx, func(ctx context.Context, startingAfter string) ([]*stripe.Payout, bool, error) {
		params := &stripe.PayoutListParams{}
		singlePage(ctx, &params.ListParams, startingAfter)
		return collect[*stripe.Payout](c.api.Payouts.List(params))
	}, func(p *stripe.Payout) string { return p.ID })
	if err != nil {
		return nil, fmt.Errorf("list %s payouts: %w", c.flavour, err)
	}

	out := make([]domain.Payout, 0, len(raw))
	for _, p := range raw {
		if p == nil {
			continue
		}
		out = append(out, toPayout(p))
	}
	return out, nil
}

// ListPayoutTransactions returns the balance transactions settled in a payout.
func (c *Client) ListPayoutTransactions(ctx context.Context, payoutID string) ([]domain.PayoutTransaction, error) {
	raw, err := drain(ctx, func(ctx context.Context, startingAfter string) ([]*stripe.BalanceTransaction, bool, error) {
		params := &stripe.BalanceTransactionListParams{Payout: stripe.String(payoutID)}
		singlePage(ctx, &params.ListParams, startingAfter)
		return collect[*stripe.BalanceTransaction](c.api.BalanceTransactions.List(params))
	}, func(bt *stripe.BalanceTransaction) string { return bt.ID })
	if err != nil {
		return nil, fmt.Errorf("list %s payout %s transactions: %w", c.flavour, payoutID, err)
	}

	out := make([]domain.PayoutTransaction, 0, len(raw))
	for _, bt := range raw {
		if bt == nil {
			continue
		}
		out = append(out, toPayoutTransaction(bt))
	}
	return out, nil
}

// CreateCheckoutSession creates a hosted subscription checkout.
func (c *Client) CreateCheckoutSession(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(req.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.MemberID),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{MetadataMemberID: req.MemberID},
		},
	}
	params.Context = ctx
	params.AddMetadata(MetadataMemberID, req.MemberID)
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	} else if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	if req.IdempotencyKey != "" {
		params.IdempotencyKey = stripe.String(req.IdempotencyKey)
	}

	s, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		return domain.CheckoutSession{}, fmt.Errorf("create %s checkout session: %w", c.flavour, wrapError(err))
	}
	return toCheckoutSession(s), nil
}

// GetCheckoutSession retrieves a checkout session.
func (c *Client) GetCheckoutSession(ctx context.Context, id string) (domain.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	s, err := c.api.CheckoutSessions.Get(id, params)
	if err != nil {
		return domain.CheckoutSession{}, fmt.Errorf("get %s checkout session %s: %w", c.flavour, id, wrapError(err))
	}
	return toCheckoutSession(s), nil
}

func wrapError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode == http.StatusNotFound || stripeErr.Code == stripe.ErrorCodeResourceMissing {
			return fmt.Errorf("%w: %s", ErrNotFound, stripeErr.Msg)
		}
	}
	return err
}

func unixTime(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
