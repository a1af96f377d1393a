/**
 * @description
 * HTTP handlers for the member service. Handlers parse the request, call the
 * service layer and write a JSON response; every failure is answered with
 * {"error": "..."}.
 */
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/Eldsal/eldsal-sub000/internal/app"
	"github.com/Eldsal/eldsal-sub000/internal/domain"
	"github.com/go-chi/chi/v5"
)

// MemberService is the part of app.Service the handlers use.
type MemberService interface {
	RoleChecker
	LoggedInMember(ctx context.Context, memberID string) (domain.MemberView, error)
	SyncMember(ctx context.Context, memberID string) (app.SyncResult, error)
	UpdateProfile(ctx context.Context, memberID string, p domain.ProfileUpdate) (domain.MemberView, error)
	CreatePasswordResetTicket(ctx context.Context, memberID string) (string, error)
	MemberSubscriptions(ctx context.Context, memberID string) (*domain.MemberSubscriptions, error)
	Prices(ctx context.Context, f domain.Flavour) ([]domain.Price, error)
	CreateCheckoutSession(ctx context.Context, memberID string, f domain.Flavour, priceID string) (domain.CheckoutSession, error)
	CheckCheckoutSession(ctx context.Context, memberID string, f domain.Flavour) (app.CheckoutStatus, error)
	CancelMemberSubscription(ctx context.Context, memberID string, f domain.Flavour, subscriptionID string) (app.CancelResult, error)

	ListMembers(ctx context.Context, q app.ListQuery) ([]domain.MemberView, error)
	ExportMembers(ctx context.Context) ([]domain.MemberView, error)
	SyncAll(ctx context.Context) (*app.SyncReport, error)
	UpdateManualPayment(ctx context.Context, memberID string, f domain.Flavour, mp app.ManualPayment) (domain.MemberView, error)
	AllSubscriptions(ctx context.Context) ([]*domain.MemberSubscriptions, error)
	CancelSubscription(ctx context.Context, f domain.Flavour, subscriptionID string) (domain.Subscription, error)
	Payouts(ctx context.Context, f domain.Flavour) ([]domain.Payout, error)
	PayoutTransactions(ctx context.Context, f domain.Flavour, payoutID string) ([]domain.PayoutTransaction, error)
}

// Handler holds the service the handlers interact with.
type Handler struct {
	service MemberService
	logger  *slog.Logger
}

// NewHandler creates a new Handler with the given service.
func NewHandler(service MemberService, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	writeServiceError(w, h.logger, err)
}

func decodeBody(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func flavourParam(r *http.Request) (domain.Flavour, error) {
	return app.ParseFlavour(r.URL.Query().Get("flavour"))
}

// handleGetLoggedInUser returns the caller's member record.
func (h *Handler) handleGetLoggedInUser(w http.ResponseWriter, r *http.Request) {
	memberID, _ := MemberFromContext(r.Context())
	view, err := h.service.LoggedInMember(r.Context(), memberID)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleSyncUser reconciles the caller with the payment processor.
func (h *Handler) handleSyncUser(w http.ResponseWriter, r *http.Request) {
	memberID, _ := MemberFromContext(r.Context())
	result, err := h.service.SyncMember(r.Context(), memberID)
	if err != nil {
		h.fail(w, err)
		return
	}
	view, err := h.service.LoggedInMember(r.Context(), memberID)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user":    view,
		"updated": result.Updated,
	})
}

func (h *Handler) handleUpdateUserProfile(w http.ResponseWriter, r *http.Request) {
	var req domain.ProfileUpdate
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	view, err := h.service.UpdateProfile(r.Context(), chi.URLParam(r, "userId"), req)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handleCreatePasswordResetTicket(w http.ResponseWriter, r *http.Request) {
	memberID, _ := MemberFromContext(r.Context())
	ticket, err := h.service.CreatePasswordResetTicket(r.Context(), memberID)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ticket": ticket})
}

func (h *Handler) handleUserSubscriptions(w http.ResponseWriter, r *http.Request) {
	memberID, _ := MemberFromContext(r.Context())
	bundle, err := h.service.MemberSubscriptions(r.Context(), memberID)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bundle)
}

func (h *Handler) handlePrices(w http.ResponseWriter, r *http.Request) {
	f, err := flavourParam(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	prices, err := h.service.Prices(r.Context(), f)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prices)
}

func (h *Handler) handleCreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	memberID, _ := MemberFromContext(r.Context())
	f, err := flavourParam(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	session, err := h.service.CreateCheckoutSession(r.Context(), memberID, f, r.URL.Query().Get("price"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (h *Handler) handleCheckStripeSession(w http.ResponseWriter, r *http.Request) {
	memberID, _ := MemberFromContext(r.Context())
	f, err := flavourParam(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	status, err := h.service.CheckCheckoutSession(r.Context(), memberID, f)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) handleCancelMemberSubscription(w http.ResponseWriter, r *http.Request) {
	f, err := app.ParseFlavour(chi.URLParam(r, "flavour"))
	if err != nil {
		h.fail(w, err)
		return
	}
	result, err := h.service.CancelMemberSubscription(r.Context(), chi.URLParam(r, "userId"), f, chi.URLParam(r, "subscriptionId"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// listQuery reads ?search=&sort=&desc=&filter.<column>=.
func listQuery(r *http.Request) app.ListQuery {
	values := r.URL.Query()
	q := app.ListQuery{
		Search: values.Get("search"),
		SortBy: values.Get("sort"),
	}
	q.Desc, _ = strconv.ParseBool(values.Get("desc"))
	for key, vals := range values {
		column, ok := strings.CutPrefix(key, "filter.")
		if !ok || len(vals) == 0 {
			continue
		}
		if q.Filters == nil {
			q.Filters = make(map[string]string)
		}
		q.Filters[column] = vals[0]
	}
	return q
}

func (h *Handler) handleAdminGetUsers(w http.ResponseWriter, r *http.Request) {
	members, err := h.service.ListMembers(r.Context(), listQuery(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, members)
}

func (h *Handler) handleAdminSyncUsers(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.SyncAll(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) handleAdminUpdatePayment(f domain.Flavour) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req app.ManualPayment
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		view, err := h.service.UpdateManualPayment(r.Context(), chi.URLParam(r, "userId"), f, req)
		if err != nil {
			h.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func (h *Handler) handleAdminGetSubscriptions(w http.ResponseWriter, r *http.Request) {
	bundles, err := h.service.AllSubscriptions(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bundles)
}

func (h *Handler) handleAdminCancelMembershipSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := h.service.CancelSubscription(r.Context(), domain.FlavourMembership, chi.URLParam(r, "subscriptionId"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// handleAdminGetPayouts lists one flavour's payouts, or every flavour's when
// no flavour is given.
func (h *Handler) handleAdminGetPayouts(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("flavour") != "" {
		f, err := flavourParam(r)
		if err != nil {
			h.fail(w, err)
			return
		}
		payouts, err := h.service.Payouts(r.Context(), f)
		if err != nil {
			h.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payouts)
		return
	}

	all := make(map[domain.Flavour][]domain.Payout, len(domain.Flavours))
	for _, f := range domain.Flavours {
		payouts, err := h.service.Payouts(r.Context(), f)
		if err != nil {
			h.fail(w, err)
			return
		}
		all[f] = payouts
	}
	writeJSON(w, http.StatusOK, all)
}

func (h *Handler) handleAdminGetPayoutTransactions(w http.ResponseWriter, r *http.Request) {
	f, err := flavourParam(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	txns, err := h.service.PayoutTransactions(r.Context(), f, r.URL.Query().Get("payout"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, txns)
}
