package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRedisRateLimiterWithoutClientAllowsEverything(t *testing.T) {
	limiter := NewRedisRateLimiter(nil, "")
	if limiter.prefix != "eldsal:rate_limit" {
		t.Fatalf("unexpected default prefix %q", limiter.prefix)
	}

	count, retryAfter, err := limiter.ConsumeRateLimit(context.Background(), "sync-user", "auth0|1", 5, time.Minute)
	if err != nil || count != 0 || retryAfter != 0 {
		t.Fatalf("expected no-op, got count=%d retry=%d err=%v", count, retryAfter, err)
	}
}

type failingLimiter struct{}

func (failingLimiter) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	return 0, 0, errors.New("redis: connection refused")
}

func TestRateLimitFailsOpen(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := fakeAuth(RateLimit(failingLimiter{}, "sync-user", 1, time.Minute, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))

	req := httptest.NewRequest(http.MethodPatch, "/sync-user", nil)
	req.Header.Set(testMemberHeader, "auth0|1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected request to pass when limiter fails, got %d", rec.Code)
	}
}

func TestRateWindowIsClockAligned(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 30, 42, 500_000_000, time.UTC)
	w := windowAt(now, time.Minute)

	if !w.start.Equal(time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC)) {
		t.Fatalf("unexpected window start %s", w.start)
	}
	if got := w.retryAfter(now); got != 18 {
		t.Fatalf("expected 18s until the window closes, got %d", got)
	}
	if got := w.retryAfter(w.end); got != 1 {
		t.Fatalf("expected at least one second, got %d", got)
	}

	limiter := NewRedisRateLimiter(nil, "eldsal:rate_limit:")
	if got := limiter.key("sync-user", "auth0|1", w); got != "eldsal:rate_limit:sync-user:auth0|1:1748773800" {
		t.Fatalf("unexpected key %q", got)
	}
	next := windowAt(now.Add(time.Minute), time.Minute)
	if limiter.key("sync-user", "auth0|1", next) == limiter.key("sync-user", "auth0|1", w) {
		t.Fatal("expected a new counter in the next window")
	}
}
