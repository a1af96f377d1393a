/**
 * @description
 * Payment-processor side models. These are read-only from the service's point
 * of view, apart from subscription cancellation and checkout creation.
 */
package domain

import "time"

// Subscription is a recurring processor subscription reduced to the fields
// reconciliation and the admin views need. Amount is in major currency units.
type Subscription struct {
	ID                string    `json:"id"`
	CustomerID        string    `json:"customer_id"`
	MemberID          string    `json:"member_id,omitempty"`
	Status            string    `json:"status"`
	PeriodStart       time.Time `json:"period_start"`
	PeriodEnd         time.Time `json:"period_end"`
	ProductID         string    `json:"product_id,omitempty"`
	ProductName       string    `json:"product_name,omitempty"`
	PriceID           string    `json:"price_id,omitempty"`
	Amount            float64   `json:"amount"`
	Currency          string    `json:"currency"`
	Interval          string    `json:"interval"`
	IntervalCount     int       `json:"interval_count"`
	CancelAtPeriodEnd bool      `json:"cancel_at_period_end"`
	Created           time.Time `json:"created"`
}

// Customer is a processor customer.
type Customer struct {
	ID       string    `json:"id"`
	Email    string    `json:"email"`
	Name     string    `json:"name,omitempty"`
	MemberID string    `json:"member_id,omitempty"`
	Created  time.Time `json:"created"`
}

// Product is a processor product.
type Product struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// Price is an active recurring price with its normalized amounts.
type Price struct {
	ID             string  `json:"id"`
	ProductID      string  `json:"product_id"`
	ProductName    string  `json:"product_name,omitempty"`
	Nickname       string  `json:"nickname,omitempty"`
	Amount         float64 `json:"amount"`
	Currency       string  `json:"currency"`
	Interval       string  `json:"interval"`
	IntervalCount  int     `json:"interval_count"`
	AmountPerMonth float64 `json:"amount_per_month"`
	AmountPerYear  float64 `json:"amount_per_year"`
}

// Payout is a settlement batch paid out to the association's bank account.
type Payout struct {
	ID          string    `json:"id"`
	Amount      float64   `json:"amount"`
	Currency    string    `json:"currency"`
	Status      string    `json:"status"`
	Description string    `json:"description,omitempty"`
	ArrivalDate time.Time `json:"arrival_date"`
	Created     time.Time `json:"created"`
}

// PayoutTransaction is one balance transaction settled in a payout.
type PayoutTransaction struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Description string    `json:"description,omitempty"`
	SourceID    string    `json:"source_id,omitempty"`
	Amount      float64   `json:"amount"`
	Fee         float64   `json:"fee"`
	Net         float64   `json:"net"`
	Currency    string    `json:"currency"`
	Created     time.Time `json:"created"`
}

// CheckoutRequest describes a subscription checkout to create.
type CheckoutRequest struct {
	PriceID        string
	CustomerID     string
	CustomerEmail  string
	MemberID       string
	SuccessURL     string
	CancelURL      string
	IdempotencyKey string
}

// CheckoutSession is a hosted checkout page and its completion state.
type CheckoutSession struct {
	ID             string `json:"id"`
	URL            string `json:"url,omitempty"`
	Status         string `json:"status"`
	PaymentStatus  string `json:"payment_status"`
	SubscriptionID string `json:"subscription_id,omitempty"`
	MemberID       string `json:"member_id,omitempty"`
}

// Checkout session states reported by the processor.
const (
	CheckoutStatusOpen     = "open"
	CheckoutStatusComplete = "complete"
	CheckoutStatusExpired  = "expired"
)

// MemberSubscriptions bundles a member with everything the processor holds
// for it. Dummy is set for processor customers without an identity record.
type MemberSubscriptions struct {
	Member        Member                     `json:"member"`
	Dummy         bool                       `json:"dummy"`
	Customers     map[Flavour][]Customer     `json:"customers"`
	Subscriptions map[Flavour][]Subscription `json:"subscriptions"`
}

// NewMemberSubscriptions returns an empty bundle for m.
func NewMemberSubscriptions(m Member, dummy bool) *MemberSubscriptions {
	return &MemberSubscriptions{
		Member:        m,
		Dummy:         dummy,
		Customers:     make(map[Flavour][]Customer),
		Subscriptions: make(map[Flavour][]Subscription),
	}
}

// PaymentUpdatedEvent is published whenever a member's stored payment changes.
type PaymentUpdatedEvent struct {
	MemberID   string          `json:"member_id"`
	Email      string          `json:"email"`
	Flavour    Flavour         `json:"flavour"`
	Payment    PaymentProperty `json:"payment"`
	Source     string          `json:"source"`
	OccurredAt time.Time       `json:"occurred_at"`
}
