/**
 * @description
 * This file sets up the HTTP router for the member service using go-chi/chi.
 * Health and metrics endpoints are public; every other route requires a bearer token, and the
 * /admin routes additionally require the admin or developer role.
 */
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/Eldsal/eldsal-sub000/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterOptions wires the cross-cutting pieces of the router.
type RouterOptions struct {
	// Auth authenticates the caller and puts the member id in the context.
	Auth           func(http.Handler) http.Handler
	AllowedOrigins []string
	Metrics        *HTTPMetrics
	Gatherer       prometheus.Gatherer
	// RateLimiter may be nil, which disables rate limiting.
	RateLimiter        RateLimiter
	RateLimitPerMinute int
	Logger             *slog.Logger
}

// NewRouter creates a new Chi router and registers the member service routes.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))
	if opts.Metrics != nil {
		r.Use(opts.Metrics.Middleware)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Disposition", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("healthy"))
	})
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	limited := func(scope string) func(http.Handler) http.Handler {
		return RateLimit(opts.RateLimiter, scope, opts.RateLimitPerMinute, time.Minute, opts.Logger)
	}

	r.Group(func(r chi.Router) {
		r.Use(opts.Auth)

		r.Get("/getLoggedInUser", h.handleGetLoggedInUser)
		r.With(limited("sync-user")).Patch("/sync-user", h.handleSyncUser)
		r.With(RequireSelf).Patch("/updateUserProfile/{userId}", h.handleUpdateUserProfile)
		r.Post("/create-password-reset-ticket", h.handleCreatePasswordResetTicket)

		r.Get("/user-subscriptions", h.handleUserSubscriptions)
		r.Get("/prices", h.handlePrices)
		r.With(limited("check-session")).Get("/check-stripe-session", h.handleCheckStripeSession)
		r.With(limited("checkout")).Post("/create-checkout-session", h.handleCreateCheckoutSession)
		r.With(RequireSelf).Patch("/cancel-subscription/{userId}/{flavour}/{subscriptionId}", h.handleCancelMemberSubscription)

		r.Route("/admin", func(r chi.Router) {
			r.Use(RequireRole(h.service, opts.Logger))

			r.Get("/get-users", h.handleAdminGetUsers)
			r.Get("/export-users", h.handleAdminExportUsers)
			r.Patch("/sync-users", h.handleAdminSyncUsers)
			r.Patch("/update-user-membership/{userId}", h.handleAdminUpdatePayment(domain.FlavourMembership))
			r.Patch("/update-user-housecard/{userId}", h.handleAdminUpdatePayment(domain.FlavourHouseCard))
			r.Get("/get-subscriptions", h.handleAdminGetSubscriptions)
			r.Patch("/cancel-subscription-membfee/{subscriptionId}", h.handleAdminCancelMembershipSubscription)
			r.Get("/get-stripe-payouts", h.handleAdminGetPayouts)
			r.Get("/get-stripe-payout-transactions", h.handleAdminGetPayoutTransactions)
		})
	})

	return r
}
