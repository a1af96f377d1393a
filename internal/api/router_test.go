package api

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Eldsal/eldsal-sub000/internal/app"
	"github.com/Eldsal/eldsal-sub000/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMemberHeader = "X-Test-Member"

// fakeAuth trusts the member id in testMemberHeader.
func fakeAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(testMemberHeader)
		if id == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), memberIDKey, id)))
	})
}

// serviceStub implements the routes a test exercises; anything else panics
// through the nil embedded interface.
type serviceStub struct {
	MemberService

	admins     map[string]bool
	members    []domain.MemberView
	syncErr    error
	pricesErr  error
	lastQuery  app.ListQuery
	lastManual app.ManualPayment
}

func (s *serviceStub) IsPrivileged(ctx context.Context, memberID string) (bool, error) {
	return s.admins[memberID], nil
}

func (s *serviceStub) LoggedInMember(ctx context.Context, memberID string) (domain.MemberView, error) {
	return domain.MemberView{Member: domain.Member{ID: memberID, Email: "anna@example.org"}}, nil
}

func (s *serviceStub) SyncMember(ctx context.Context, memberID string) (app.SyncResult, error) {
	if s.syncErr != nil {
		return app.SyncResult{}, s.syncErr
	}
	return app.SyncResult{MemberID: memberID, Updated: map[domain.Flavour]bool{domain.FlavourMembership: true}}, nil
}

func (s *serviceStub) Prices(ctx context.Context, f domain.Flavour) ([]domain.Price, error) {
	if s.pricesErr != nil {
		return nil, s.pricesErr
	}
	return []domain.Price{{ID: "price_" + string(f)}}, nil
}

func (s *serviceStub) ListMembers(ctx context.Context, q app.ListQuery) ([]domain.MemberView, error) {
	s.lastQuery = q
	return s.members, nil
}

func (s *serviceStub) ExportMembers(ctx context.Context) ([]domain.MemberView, error) {
	return s.members, nil
}

func (s *serviceStub) UpdateManualPayment(ctx context.Context, memberID string, f domain.Flavour, mp app.ManualPayment) (domain.MemberView, error) {
	s.lastManual = mp
	return domain.MemberView{Member: domain.Member{ID: memberID}}, nil
}

type limiterStub struct {
	count int
}

func (l *limiterStub) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	l.count++
	return l.count, 42, nil
}

func newTestRouter(svc *serviceStub, limiter RateLimiter) (http.Handler, *prometheus.Registry) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	h := NewHandler(svc, logger)
	opts := RouterOptions{
		Auth:               fakeAuth,
		AllowedOrigins:     []string{"http://localhost:3000"},
		Metrics:            NewHTTPMetrics(reg),
		Gatherer:           reg,
		RateLimitPerMinute: 2,
		Logger:             logger,
	}
	if limiter != nil {
		opts.RateLimiter = limiter
	}
	return NewRouter(h, opts), reg
}

func do(t *testing.T, h http.Handler, method, target, member string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if member != "" {
		req.Header.Set(testMemberHeader, member)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthIsPublic(t *testing.T) {
	router, _ := newTestRouter(&serviceStub{}, nil)
	rec := do(t, router, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	router, _ := newTestRouter(&serviceStub{}, nil)
	rec := do(t, router, http.MethodGet, "/getLoggedInUser", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error"`)
}

func TestAdminRoutesRequireRole(t *testing.T) {
	svc := &serviceStub{admins: map[string]bool{"auth0|admin": true}}
	router, _ := newTestRouter(svc, nil)

	rec := do(t, router, http.MethodGet, "/admin/get-users", "auth0|member", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, router, http.MethodGet, "/admin/get-users?search=anna&sort=created_at&desc=true&filter.membership_paid=true", "auth0|admin", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, app.ListQuery{
		Search:  "anna",
		SortBy:  "created_at",
		Desc:    true,
		Filters: map[string]string{"membership_paid": "true"},
	}, svc.lastQuery)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "validation", err: &app.ValidationError{Field: "price", Message: "is required"}, wantStatus: http.StatusBadRequest},
		{name: "not found", err: app.ErrNotFound, wantStatus: http.StatusNotFound},
		{name: "forbidden", err: app.ErrForbidden, wantStatus: http.StatusForbidden},
		{name: "upstream", err: &app.UpstreamError{Service: "payment processor", Op: "list prices", Err: errors.New("timeout")}, wantStatus: http.StatusInternalServerError},
		{name: "unexpected", err: errors.New("boom"), wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, _ := newTestRouter(&serviceStub{pricesErr: tt.err}, nil)
			rec := do(t, router, http.MethodGet, "/prices?flavour=membership", "auth0|1", nil)
			assert.Equal(t, tt.wantStatus, rec.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body["error"])
			assert.NotContains(t, body["error"], "timeout")
		})
	}
}

func TestPricesRejectsUnknownFlavour(t *testing.T) {
	router, _ := newTestRouter(&serviceStub{}, nil)
	rec := do(t, router, http.MethodGet, "/prices?flavour=parking", "auth0|1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSyncUserIsRateLimited(t *testing.T) {
	router, _ := newTestRouter(&serviceStub{}, &limiterStub{})

	for i := 0; i < 2; i++ {
		rec := do(t, router, http.MethodPatch, "/sync-user", "auth0|1", nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := do(t, router, http.MethodPatch, "/sync-user", "auth0|1", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "42", rec.Header().Get("Retry-After"))
}

func TestAdminUpdatePaymentDecodesBody(t *testing.T) {
	svc := &serviceStub{admins: map[string]bool{"auth0|admin": true}}
	router, _ := newTestRouter(svc, nil)

	body := `{"period_start":"2025-01-01","period_end":"2025-12-31","interval":"year","interval_count":1,"method":"swish","amount":300,"currency":"sek"}`
	rec := do(t, router, http.MethodPatch, "/admin/update-user-housecard/auth0|1", "auth0|admin", strings.NewReader(body))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "swish", svc.lastManual.Method)
	assert.Equal(t, 300.0, svc.lastManual.Amount)

	rec = do(t, router, http.MethodPatch, "/admin/update-user-housecard/auth0|1", "auth0|admin", strings.NewReader("{"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExportUsersWritesCSV(t *testing.T) {
	svc := &serviceStub{
		admins: map[string]bool{"auth0|admin": true},
		members: []domain.MemberView{{
			Member:     domain.Member{ID: "auth0|1", Email: "anna@example.org", GivenName: "Anna", FamilyName: "Andersson, Jr"},
			Membership: domain.PaymentProperty{Flavour: domain.FlavourMembership, Paid: true, PeriodEnd: "2025-12-31"},
		}},
	}
	router, _ := newTestRouter(svc, nil)

	rec := do(t, router, http.MethodGet, "/admin/export-users", "auth0|admin", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/csv"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")

	rows, err := csv.NewReader(rec.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "user_id", rows[0][0])
	assert.Equal(t, "auth0|1", rows[1][0])
	assert.Equal(t, "Andersson, Jr", rows[1][3])
}

func TestMetricsEndpointCountsRequests(t *testing.T) {
	router, reg := newTestRouter(&serviceStub{}, nil)
	do(t, router, http.MethodGet, "/getLoggedInUser", "auth0|1", nil)

	families, err := reg.Gather()
	require.NoError(t, err)
	var found bool
	for _, mf := range families {
		if mf.GetName() != "eldsal_http_requests_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "route" && l.GetValue() == "/getLoggedInUser" {
					found = true
				}
			}
		}
	}
	assert.True(t, found, "expected a request counter for /getLoggedInUser")

	rec := do(t, router, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "eldsal_http_requests_total")
}
