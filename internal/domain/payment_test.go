package domain

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var today = time.Date(2025, time.June, 15, 13, 45, 0, 0, time.UTC)

func validMetadata() map[string]interface{} {
	return map[string]interface{}{
		"paid":           true,
		"period_start":   "2025-01-01",
		"period_end":     "2025-12-31",
		"interval":       "year",
		"interval_count": float64(1),
		"method":         "stripe",
		"amount":         float64(300),
		"currency":       "SEK",
	}
}

func TestNewPaymentPropertyFromMetadata_Valid(t *testing.T) {
	p := NewPaymentPropertyFromMetadata(FlavourMembership, validMetadata(), today)

	require.False(t, p.HasError(), p.Error)
	assert.True(t, p.Paid)
	assert.Equal(t, "2025-01-01", p.PeriodStart)
	assert.Equal(t, "2025-12-31", p.PeriodEnd)
	assert.Equal(t, "sek", p.Currency)
	assert.Equal(t, 25.0, p.AmountPerMonth)
	assert.Equal(t, 300.0, p.AmountPerYear)
}

func TestNewPaymentPropertyFromMetadata_PaidTracksPeriodEnd(t *testing.T) {
	tests := []struct {
		name      string
		periodEnd string
		want      bool
	}{
		{name: "ends_yesterday", periodEnd: "2025-06-14", want: false},
		{name: "ends_today", periodEnd: "2025-06-15", want: true},
		{name: "ends_tomorrow", periodEnd: "2025-06-16", want: true},
		{name: "timestamp_today_early", periodEnd: "2025-06-15T00:00:01Z", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := validMetadata()
			raw["period_start"] = "2025-01-01"
			raw["period_end"] = tt.periodEnd
			// The stored flag is ignored; paid is derived from the period.
			raw["paid"] = !tt.want

			p := NewPaymentPropertyFromMetadata(FlavourHouseCard, raw, today)
			require.False(t, p.HasError(), p.Error)
			assert.Equal(t, tt.want, p.Paid)
		})
	}
}

func TestNewPaymentPropertyFromMetadata_Malformed(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(map[string]interface{})
	}{
		{name: "bad_start", mutate: func(m map[string]interface{}) { m["period_start"] = "01/01/2025" }},
		{name: "bad_end", mutate: func(m map[string]interface{}) { m["period_end"] = "never" }},
		{name: "missing_end", mutate: func(m map[string]interface{}) { delete(m, "period_end") }},
		{name: "start_not_string", mutate: func(m map[string]interface{}) { m["period_start"] = float64(20250101) }},
		{name: "interval_week", mutate: func(m map[string]interface{}) { m["interval"] = "week" }},
		{name: "interval_plural", mutate: func(m map[string]interface{}) { m["interval"] = "months" }},
		{name: "zero_count", mutate: func(m map[string]interface{}) { m["interval_count"] = float64(0) }},
		{name: "negative_count", mutate: func(m map[string]interface{}) { m["interval_count"] = float64(-2) }},
		{name: "fractional_count", mutate: func(m map[string]interface{}) { m["interval_count"] = 1.5 }},
		{name: "negative_amount", mutate: func(m map[string]interface{}) { m["amount"] = float64(-1) }},
		{name: "nan_amount", mutate: func(m map[string]interface{}) { m["amount"] = math.NaN() }},
		{name: "text_amount", mutate: func(m map[string]interface{}) { m["amount"] = "lots" }},
		{name: "missing_amount", mutate: func(m map[string]interface{}) { delete(m, "amount") }},
		{name: "missing_currency", mutate: func(m map[string]interface{}) { delete(m, "currency") }},
		{name: "blank_currency", mutate: func(m map[string]interface{}) { m["currency"] = "  " }},
		{name: "end_before_start", mutate: func(m map[string]interface{}) { m["period_end"] = "2024-12-31" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := validMetadata()
			tt.mutate(raw)

			p := NewPaymentPropertyFromMetadata(FlavourMembership, raw, today)
			assert.True(t, p.HasError(), "expected error state")
			assert.False(t, p.Paid)
			assert.Equal(t, FlavourMembership, p.Flavour)
		})
	}
}

func TestNewPaymentPropertyFromMetadata_NumericStrings(t *testing.T) {
	raw := validMetadata()
	raw["amount"] = "120.50"
	raw["interval_count"] = "1"

	p := NewPaymentPropertyFromMetadata(FlavourMembership, raw, today)
	require.False(t, p.HasError(), p.Error)
	assert.Equal(t, 120.5, p.Amount)
	assert.Equal(t, 1, p.IntervalCount)
}

func TestNewPaymentPropertyFromMetadata_NothingStored(t *testing.T) {
	for _, raw := range []map[string]interface{}{
		nil,
		{},
		{"paid": false},
		{"period_start": ""},
	} {
		p := NewPaymentPropertyFromMetadata(FlavourHouseCard, raw, today)
		assert.False(t, p.HasError())
		assert.False(t, p.Paid)
		assert.True(t, p.IsEmpty())
	}
}

func TestNewPaymentPropertyFromSubscription(t *testing.T) {
	sub := &Subscription{
		ID:            "sub_1",
		PeriodStart:   time.Date(2025, 6, 1, 22, 0, 0, 0, time.UTC),
		PeriodEnd:     time.Date(2025, 7, 1, 22, 0, 0, 0, time.UTC),
		Interval:      IntervalMonth,
		IntervalCount: 1,
		Amount:        50,
		Currency:      "sek",
	}

	p := NewPaymentPropertyFromSubscription(FlavourHouseCard, sub, today)
	require.False(t, p.HasError(), p.Error)
	assert.True(t, p.Paid)
	assert.Equal(t, MethodStripe, p.Method)
	assert.Equal(t, "2025-06-01", p.PeriodStart)
	assert.Equal(t, "2025-07-01", p.PeriodEnd)
	assert.Equal(t, 600.0, p.AmountPerYear)

	empty := NewPaymentPropertyFromSubscription(FlavourHouseCard, nil, today)
	assert.True(t, empty.IsEmpty())
	assert.False(t, empty.Paid)
}

func TestNormalizeAmount(t *testing.T) {
	tests := []struct {
		name     string
		amount   float64
		interval string
		count    int
		target   string
		want     float64
	}{
		{name: "year_to_month", amount: 300, interval: IntervalYear, count: 1, target: IntervalMonth, want: 25},
		{name: "two_years_to_month", amount: 600, interval: IntervalYear, count: 2, target: IntervalMonth, want: 25},
		{name: "month_to_year", amount: 50, interval: IntervalMonth, count: 1, target: IntervalYear, want: 600},
		{name: "twelve_months_to_year", amount: 480, interval: IntervalMonth, count: 12, target: IntervalYear, want: 480},
		{name: "twelve_months_to_month", amount: 480, interval: IntervalMonth, count: 12, target: IntervalMonth, want: 40},
		{name: "quarter_to_month", amount: 100, interval: IntervalMonth, count: 3, target: IntervalMonth, want: 33.33},
		{name: "year_to_year", amount: 100, interval: IntervalYear, count: 3, target: IntervalYear, want: 33.33},
		{name: "rounds_half_up", amount: 0.125, interval: IntervalMonth, count: 1, target: IntervalMonth, want: 0.13},
		{name: "zero_count", amount: 100, interval: IntervalMonth, count: 0, target: IntervalYear, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeAmount(tt.amount, tt.interval, tt.count, tt.target))
		})
	}
}

func TestHasPaidIgnoresTimeOfDay(t *testing.T) {
	end := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	lateToday := time.Date(2025, 6, 15, 23, 59, 59, 0, time.UTC)
	assert.True(t, HasPaid(end, lateToday))

	stockholm := time.FixedZone("CEST", 2*60*60)
	// 01:00 local on the 16th is still the 15th in UTC.
	assert.True(t, HasPaid(end, time.Date(2025, 6, 16, 1, 0, 0, 0, stockholm)))
	assert.False(t, HasPaid(end, time.Date(2025, 6, 16, 3, 0, 0, 0, stockholm)))
}

func TestParseFlavour(t *testing.T) {
	f, ok := ParseFlavour("house-card")
	require.True(t, ok)
	assert.Equal(t, FlavourHouseCard, f)

	f, ok = ParseFlavour(" Membership ")
	require.True(t, ok)
	assert.Equal(t, FlavourMembership, f)

	_, ok = ParseFlavour("donation")
	assert.False(t, ok)
}

func TestMemberHasRole(t *testing.T) {
	m := Member{AppMetadata: AppMetadata{Roles: []string{"Admin"}}}
	assert.True(t, m.HasRole(RoleAdmin, RoleDeveloper))
	assert.False(t, m.HasRole(RoleDeveloper))
	assert.False(t, Member{}.HasRole(RoleAdmin))
}

func TestMemberDecodesMalformedPayments(t *testing.T) {
	tests := []struct {
		name           string
		payments       string
		wantMembership bool
		wantHouseCard  bool
	}{
		{name: "flavour_is_string", payments: `{"membership": "paid"}`, wantMembership: true},
		{name: "flavour_is_number", payments: `{"housecard": 1}`, wantHouseCard: true},
		{name: "payments_is_array", payments: `["membership"]`, wantMembership: true, wantHouseCard: true},
		{name: "payments_is_null", payments: `null`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m Member
			raw := `{"user_id": "auth0|1", "app_metadata": {"payments": ` + tt.payments + `}}`
			require.NoError(t, json.Unmarshal([]byte(raw), &m))

			membership := m.StoredPayment(FlavourMembership, today)
			housecard := m.StoredPayment(FlavourHouseCard, today)
			assert.Equal(t, tt.wantMembership, membership.HasError())
			assert.Equal(t, tt.wantHouseCard, housecard.HasError())
			assert.False(t, membership.Paid)
			assert.False(t, housecard.Paid)

			view := NewMemberView(m, today)
			assert.Equal(t, tt.wantMembership, view.Membership.HasError())
		})
	}
}
