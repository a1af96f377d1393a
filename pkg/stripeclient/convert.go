package stripeclient

import (
	"strings"

	"github.com/stripe/stripe-go/v82"

	"github.com/Eldsal/eldsal-sub000/internal/domain"
)

// zeroDecimal lists currencies whose amounts Stripe reports in major units.
var zeroDecimal = map[string]bool{
	"bif": true, "clp": true, "djf": true, "gnf": true, "jpy": true, "kmf": true,
	"krw": true, "mga": true, "pyg": true, "rwf": true, "ugx": true, "vnd": true,
	"vuv": true, "xaf": true, "xof": true, "xpf": true,
}

// majorUnits converts a Stripe minor-unit amount.
func majorUnits(amount int64, currency stripe.Currency) float64 {
	if zeroDecimal[strings.ToLower(string(currency))] {
		return float64(amount)
	}
	return domain.Round2(float64(amount) / 100)
}

func toCustomer(cu *stripe.Customer) domain.Customer {
	return domain.Customer{
		ID:       cu.ID,
		Email:    cu.Email,
		Name:     cu.Name,
		MemberID: cu.Metadata[MetadataMemberID],
		Created:  unixTime(cu.Created),
	}
}

// toSubscription takes period and price from the first item and sums the
// amount over all items. A subscription that has ended is only paid up to
// its end, even if the billing period would have run longer.
func toSubscription(s *stripe.Subscription) domain.Subscription {
	out := domain.Subscription{
		ID:                s.ID,
		Status:            string(s.Status),
		MemberID:          s.Metadata[MetadataMemberID],
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
		Created:           unixTime(s.Created),
	}
	if s.Customer != nil {
		out.CustomerID = s.Customer.ID
	}

	var minor int64
	if s.Items != nil {
		for _, item := range s.Items.Data {
			if item == nil || item.Price == nil {
				continue
			}
			qty := item.Quantity
			if qty <= 0 {
				qty = 1
			}
			minor += item.Price.UnitAmount * qty
			if out.PriceID != "" {
				continue
			}
			out.PriceID = item.Price.ID
			out.Currency = strings.ToLower(string(item.Price.Currency))
			out.PeriodStart = unixTime(item.CurrentPeriodStart)
			out.PeriodEnd = unixTime(item.CurrentPeriodEnd)
			if item.Price.Product != nil {
				out.ProductID = item.Price.Product.ID
				out.ProductName = item.Price.Product.Name
			}
			if item.Price.Recurring != nil {
				out.Interval = string(item.Price.Recurring.Interval)
				out.IntervalCount = int(item.Price.Recurring.IntervalCount)
			}
		}
	}
	out.Amount = majorUnits(minor, stripe.Currency(out.Currency))

	if ended := unixTime(s.EndedAt); !ended.IsZero() && (out.PeriodEnd.IsZero() || ended.Before(out.PeriodEnd)) {
		out.PeriodEnd = ended
	}
	return out
}

func toPrice(p *stripe.Price) domain.Price {
	out := domain.Price{
		ID:       p.ID,
		Nickname: p.Nickname,
		Currency: strings.ToLower(string(p.Currency)),
		Amount:   majorUnits(p.UnitAmount, p.Currency),
	}
	if p.Product != nil {
		out.ProductID = p.Product.ID
		out.ProductName = p.Product.Name
	}
	if p.Recurring != nil {
		out.Interval = string(p.Recurring.Interval)
		out.IntervalCount = int(p.Recurring.IntervalCount)
	}
	out.AmountPerMonth = domain.NormalizeAmount(out.Amount, out.Interval, out.IntervalCount, domain.IntervalMonth)
	out.AmountPerYear = domain.NormalizeAmount(out.Amount, out.Interval, out.IntervalCount, domain.IntervalYear)
	return out
}

func toPayout(p *stripe.Payout) domain.Payout {
	return domain.Payout{
		ID:          p.ID,
		Amount:      majorUnits(p.Amount, p.Currency),
		Currency:    strings.ToLower(string(p.Currency)),
		Status:      string(p.Status),
		Description: p.Description,
		ArrivalDate: unixTime(p.ArrivalDate),
		Created:     unixTime(p.Created),
	}
}

func toPayoutTransaction(bt *stripe.BalanceTransaction) domain.PayoutTransaction {
	out := domain.PayoutTransaction{
		ID:          bt.ID,
		Type:        string(bt.Type),
		Description: bt.Description,
		Amount:      majorUnits(bt.Amount, bt.Currency),
		Fee:         majorUnits(bt.Fee, bt.Currency),
		Net:         majorUnits(bt.Net, bt.Currency),
		Currency:    strings.ToLower(string(bt.Currency)),
		Created:     unixTime(bt.Created),
	}
	if bt.Source != nil {
		out.SourceID = bt.Source.ID
	}
	return out
}

func toCheckoutSession(s *stripe.CheckoutSession) domain.CheckoutSession {
	out := domain.CheckoutSession{
		ID:            s.ID,
		URL:           s.URL,
		Status:        string(s.Status),
		PaymentStatus: string(s.PaymentStatus),
		MemberID:      s.ClientReferenceID,
	}
	if s.Subscription != nil {
		out.SubscriptionID = s.Subscription.ID
	}
	return out
}
