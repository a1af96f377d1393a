package api

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// consumeScript counts one request in a member's window and expires the
// counter at the window end.
var consumeScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIREAT", KEYS[1], ARGV[1])
end
return count
`)

// RateLimiter counts requests per route scope and member within a window.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, memberID string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// RedisRateLimiter keeps one counter per scope, member and clock-aligned
// window, so every instance of the service shares the same budget.
type RedisRateLimiter struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRedisRateLimiter(client redis.UniversalClient, prefix string) *RedisRateLimiter {
	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = "eldsal:rate_limit"
	}
	return &RedisRateLimiter{
		client: client,
		prefix: strings.TrimSuffix(trimmedPrefix, ":"),
		now:    time.Now,
	}
}

// rateWindow is the clock-aligned window a request falls in.
type rateWindow struct {
	start time.Time
	end   time.Time
}

func windowAt(now time.Time, window time.Duration) rateWindow {
	if window < time.Second {
		window = time.Second
	}
	start := now.UTC().Truncate(window)
	return rateWindow{start: start, end: start.Add(window)}
}

// retryAfter is the whole number of seconds until the window closes, at
// least one.
func (w rateWindow) retryAfter(now time.Time) int {
	secs := int(math.Ceil(w.end.Sub(now).Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// key names the counter of one member on one route scope in this window.
func (r *RedisRateLimiter) key(scope, memberID string, w rateWindow) string {
	return fmt.Sprintf("%s:%s:%s:%d", r.prefix, scope, memberID, w.start.Unix())
}

func (r *RedisRateLimiter) ConsumeRateLimit(ctx context.Context, scope, memberID string, limit int, window time.Duration) (int, int, error) {
	if r == nil || r.client == nil || limit <= 0 || window <= 0 {
		return 0, 0, nil
	}
	scope = strings.TrimSpace(scope)
	memberID = strings.TrimSpace(memberID)
	if scope == "" || memberID == "" {
		return 0, 0, nil
	}

	now := r.now()
	w := windowAt(now, window)
	count, err := consumeScript.Run(ctx, r.client, []string{r.key(scope, memberID, w)}, w.end.UnixMilli()).Int()
	if err != nil {
		return 0, 0, fmt.Errorf("consume %s rate limit: %w", scope, err)
	}
	return count, w.retryAfter(now), nil
}

// RateLimit limits the authenticated member to limit requests per window on
// the wrapped routes. Limiter failures let the request through.
func RateLimit(limiter RateLimiter, scope string, limit int, window time.Duration, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil || limit <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			memberID, ok := MemberFromContext(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			count, retryAfter, err := limiter.ConsumeRateLimit(r.Context(), scope, memberID, limit, window)
			if err != nil {
				logger.Warn("rate limiter unavailable", "scope", scope, "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if count > limit {
				logger.Info("rate limit exceeded", "scope", scope, "member_id", memberID, "count", count, "limit", limit)
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				writeError(w, http.StatusTooManyRequests, "too many requests, try again later")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
