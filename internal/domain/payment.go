/**
 * @description
 * Payment properties are derived views over the payment metadata stored on a
 * member. They are never persisted on their own: every read recomputes them
 * from the raw metadata (or from a processor subscription) as of a given day.
 *
 * Construction never fails. Malformed input produces a property with Error
 * set and Paid false, so one bad record cannot break a listing.
 */
package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	// MethodStripe marks a payment recorded from the payment processor.
	MethodStripe = "stripe"

	IntervalMonth = "month"
	IntervalYear  = "year"

	// DateLayout is the stored format of period bounds.
	DateLayout = "2006-01-02"
)

// PaymentRecord is the shape written to app_metadata.payments.<flavour>.
type PaymentRecord struct {
	Paid          bool    `json:"paid"`
	PeriodStart   string  `json:"period_start,omitempty"`
	PeriodEnd     string  `json:"period_end,omitempty"`
	Interval      string  `json:"interval,omitempty"`
	IntervalCount int     `json:"interval_count,omitempty"`
	Method        string  `json:"method,omitempty"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency,omitempty"`
}

// PaymentProperty is the normalized view of one flavour's payment state.
type PaymentProperty struct {
	Flavour        Flavour `json:"flavour"`
	Paid           bool    `json:"paid"`
	PeriodStart    string  `json:"period_start,omitempty"`
	PeriodEnd      string  `json:"period_end,omitempty"`
	Interval       string  `json:"interval,omitempty"`
	IntervalCount  int     `json:"interval_count,omitempty"`
	Method         string  `json:"method,omitempty"`
	Amount         float64 `json:"amount"`
	Currency       string  `json:"currency,omitempty"`
	AmountPerMonth float64 `json:"amount_per_month"`
	AmountPerYear  float64 `json:"amount_per_year"`
	Error          string  `json:"error,omitempty"`
}

// HasError reports whether the property was built from malformed input.
func (p PaymentProperty) HasError() bool {
	return p.Error != ""
}

// IsEmpty reports whether nothing has ever been recorded for the flavour.
func (p PaymentProperty) IsEmpty() bool {
	return p.PeriodStart == "" && p.PeriodEnd == "" && !p.HasError()
}

// PeriodEndDate returns the parsed period end, if any.
func (p PaymentProperty) PeriodEndDate() (time.Time, bool) {
	if p.PeriodEnd == "" {
		return time.Time{}, false
	}
	t, err := ParseDate(p.PeriodEnd)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Record converts the property back to its stored shape.
func (p PaymentProperty) Record() PaymentRecord {
	return PaymentRecord{
		Paid:          p.Paid,
		PeriodStart:   p.PeriodStart,
		PeriodEnd:     p.PeriodEnd,
		Interval:      p.Interval,
		IntervalCount: p.IntervalCount,
		Method:        p.Method,
		Amount:        p.Amount,
		Currency:      p.Currency,
	}
}

// NewPaymentPropertyFromMetadata builds a property from stored metadata.
// Metadata without a period start means nothing was ever paid and yields an
// empty, unpaid property.
func NewPaymentPropertyFromMetadata(f Flavour, raw map[string]interface{}, today time.Time) PaymentProperty {
	empty := PaymentProperty{Flavour: f}
	if raw == nil {
		return empty
	}
	rawStart, present := raw["period_start"]
	if !present || rawStart == nil {
		return empty
	}
	start, ok := rawStart.(string)
	if !ok {
		return errorProperty(f, "period_start is not a date")
	}
	if strings.TrimSpace(start) == "" {
		return empty
	}

	end, _ := raw["period_end"].(string)
	interval, _ := raw["interval"].(string)
	method, _ := raw["method"].(string)
	currency, _ := raw["currency"].(string)

	count, err := toNumber(raw["interval_count"])
	if err != nil {
		return errorProperty(f, fmt.Sprintf("interval_count: %v", err))
	}
	amount, err := toNumber(raw["amount"])
	if err != nil {
		return errorProperty(f, fmt.Sprintf("amount: %v", err))
	}

	return buildProperty(f, paymentFields{
		start:    start,
		end:      end,
		interval: interval,
		count:    count,
		method:   method,
		amount:   amount,
		currency: currency,
	}, today)
}

// NewPaymentPropertyFromSubscription builds the candidate property for a
// processor subscription. A nil subscription yields an empty property.
func NewPaymentPropertyFromSubscription(f Flavour, sub *Subscription, today time.Time) PaymentProperty {
	if sub == nil {
		return PaymentProperty{Flavour: f}
	}
	var start, end string
	if !sub.PeriodStart.IsZero() {
		start = FormatDate(sub.PeriodStart)
	}
	if !sub.PeriodEnd.IsZero() {
		end = FormatDate(sub.PeriodEnd)
	}
	return buildProperty(f, paymentFields{
		start:    start,
		end:      end,
		interval: sub.Interval,
		count:    float64(sub.IntervalCount),
		method:   MethodStripe,
		amount:   sub.Amount,
		currency: sub.Currency,
	}, today)
}

// NewPaymentPropertyFromRecord builds a property from a typed record, for
// example a manually entered payment.
func NewPaymentPropertyFromRecord(f Flavour, r PaymentRecord, today time.Time) PaymentProperty {
	if strings.TrimSpace(r.PeriodStart) == "" {
		return PaymentProperty{Flavour: f}
	}
	return buildProperty(f, paymentFields{
		start:    r.PeriodStart,
		end:      r.PeriodEnd,
		interval: r.Interval,
		count:    float64(r.IntervalCount),
		method:   r.Method,
		amount:   r.Amount,
		currency: r.Currency,
	}, today)
}

type paymentFields struct {
	start, end string
	interval   string
	count      float64
	method     string
	amount     float64
	currency   string
}

func buildProperty(f Flavour, in paymentFields, today time.Time) PaymentProperty {
	start, err := ParseDate(in.start)
	if err != nil {
		return errorProperty(f, fmt.Sprintf("invalid period_start %q", in.start))
	}
	end, err := ParseDate(in.end)
	if err != nil {
		return errorProperty(f, fmt.Sprintf("invalid period_end %q", in.end))
	}
	if end.Before(start) {
		return errorProperty(f, "period_end is before period_start")
	}
	interval := strings.TrimSpace(in.interval)
	if interval != IntervalMonth && interval != IntervalYear {
		return errorProperty(f, fmt.Sprintf("invalid interval %q", in.interval))
	}
	if math.IsNaN(in.count) || in.count <= 0 || in.count != math.Trunc(in.count) {
		return errorProperty(f, fmt.Sprintf("invalid interval_count %v", in.count))
	}
	if math.IsNaN(in.amount) || math.IsInf(in.amount, 0) || in.amount < 0 {
		return errorProperty(f, fmt.Sprintf("invalid amount %v", in.amount))
	}
	currency := strings.ToLower(strings.TrimSpace(in.currency))
	if currency == "" {
		return errorProperty(f, "missing currency")
	}

	count := int(in.count)
	return PaymentProperty{
		Flavour:        f,
		Paid:           HasPaid(end, today),
		PeriodStart:    FormatDate(start),
		PeriodEnd:      FormatDate(end),
		Interval:       interval,
		IntervalCount:  count,
		Method:         strings.TrimSpace(in.method),
		Amount:         in.amount,
		Currency:       currency,
		AmountPerMonth: NormalizeAmount(in.amount, interval, count, IntervalMonth),
		AmountPerYear:  NormalizeAmount(in.amount, interval, count, IntervalYear),
	}
}

func errorProperty(f Flavour, msg string) PaymentProperty {
	return PaymentProperty{Flavour: f, Error: msg}
}

// toNumber accepts JSON numbers and numeric strings.
func toNumber(v interface{}) (float64, error) {
	var n float64
	switch t := v.(type) {
	case float64:
		n = t
	case int:
		n = float64(t)
	case int64:
		n = float64(t)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", t)
		}
		n = parsed
	case nil:
		return 0, fmt.Errorf("missing")
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, fmt.Errorf("%v is not a finite number", n)
	}
	return n, nil
}

// HasPaid reports whether a period ending on periodEnd still covers today.
// Only the UTC calendar dates are compared.
func HasPaid(periodEnd, today time.Time) bool {
	return !DateOnly(periodEnd).Before(DateOnly(today))
}

// DateOnly strips the time of day, in UTC.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate accepts YYYY-MM-DD and RFC 3339 timestamps.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return DateOnly(t), nil
}

// FormatDate renders the UTC date of t.
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// NormalizeAmount re-expresses an amount charged every count intervals as an
// amount per target interval, rounded to two decimals.
func NormalizeAmount(amount float64, interval string, count int, target string) float64 {
	if count <= 0 {
		return 0
	}
	var v float64
	switch {
	case interval == IntervalYear && target == IntervalMonth:
		v = amount / 12 / float64(count)
	case interval == IntervalMonth && target == IntervalYear:
		v = amount * 12 / float64(count)
	default:
		v = amount / float64(count)
	}
	return Round2(v)
}

// Round2 rounds half away from zero to two decimals.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
