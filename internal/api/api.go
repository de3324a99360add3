// Package api exposes the ledger engine over HTTP. Handlers decode JSON,
// call one service operation and encode the result; all business rules live
// in the services. Caller identity is an explicit field or the X-Actor-ID
// header, never inferred.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/goldnet/ledger-engine/internal/apperr"
	"github.com/goldnet/ledger-engine/internal/audit"
	"github.com/goldnet/ledger-engine/internal/closing"
	"github.com/goldnet/ledger-engine/internal/config"
	"github.com/goldnet/ledger-engine/internal/model"
	"github.com/goldnet/ledger-engine/internal/price"
	"github.com/goldnet/ledger-engine/internal/reserve"
	"github.com/goldnet/ledger-engine/internal/store"
	"github.com/goldnet/ledger-engine/internal/trade"
	"github.com/goldnet/ledger-engine/internal/wallet"
)

// ActorHeader carries the acting admin's member id on /admin routes.
const ActorHeader = "X-Actor-ID"

// Server holds the services the handlers call. Hub may be nil, in which
// case the WebSocket route is not mounted.
type Server struct {
	Store    store.Store
	Settings *config.Settings
	Oracle   *price.Oracle
	Hub      *price.Hub
	Trades   *trade.Service
	Wallets  *wallet.Service
	Reserve  *reserve.Fund
	Closing  *closing.Engine
	Trail    *audit.Trail
}

// Routes mounts every endpoint under r.
func (s *Server) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		if s.Hub != nil {
			r.Get("/ws", s.Hub.HandleWS)
		}
		r.Get("/price", s.currentPrice)
		r.Post("/price/lock", s.lockPrice)

		r.Post("/trade/buy", s.buy)
		r.Post("/trade/sell", s.sell)

		r.Get("/members/{memberID}/wallet", s.memberWallet)
		r.Get("/members/{memberID}/ledger", s.memberLedger)
		r.Get("/members/{memberID}/commissions", s.memberCommissions)
		r.Post("/topups", s.requestTopUp)

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.requireAdmin)

			r.Post("/price/spot", s.setSpot)
			r.Put("/price/spreads", s.setSpreads)
			r.Get("/settings", s.listSettings)
			r.Put("/settings/{key}", s.putSetting)

			r.Get("/reserve", s.reserveInfo)
			r.Post("/reserve/deposit", s.reserveDeposit)
			r.Post("/reserve/withdraw", s.reserveWithdraw)

			r.Get("/topups", s.pendingTopUps)
			r.Post("/topups/{id}/approve", s.approveTopUp)
			r.Post("/topups/{id}/reject", s.rejectTopUp)

			r.Post("/rebates", s.creditRebate)
			r.Post("/adjustments", s.adjust)
			r.Post("/stock", s.adjustStock)
			r.Get("/payouts", s.pendingPayouts)
			r.Post("/payouts/{memberID}", s.processPayout)
			r.Post("/members/{memberID}/renew", s.renew)

			r.Post("/closing/monthly", s.closeMonthly)
			r.Post("/closing/yearly", s.closeYearly)

			r.Get("/reports/summary", s.summary)
			r.Get("/reports/reconcile", s.reconcile)
			r.Get("/audit", s.auditLog)
		})
	})
}

type actorKey struct{}

// requireAdmin rejects admin requests without an ADMIN or SUPER_ADMIN actor
// and stores the actor id in the request context.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actorID := r.Header.Get(ActorHeader)
		if actorID == "" {
			writeError(w, ActorHeader+" header is required", http.StatusBadRequest)
			return
		}
		actor, err := s.Store.GetMember(r.Context(), actorID)
		if errors.Is(err, apperr.ErrNotFound) {
			writeError(w, "unknown actor", http.StatusForbidden)
			return
		}
		if err != nil {
			writeErr(w, err)
			return
		}
		if actor.Role != model.RoleAdmin && actor.Role != model.RoleSuperAdmin {
			writeError(w, "admin role required", http.StatusForbidden)
			return
		}
		ctx := context.WithValue(r.Context(), actorKey{}, actorID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func actorFrom(r *http.Request) string {
	id, _ := r.Context().Value(actorKey{}).(string)
	return id
}

// decode reads a JSON body into v. Unknown fields are rejected so typos in
// amount field names never silently mean zero.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encode response", "err", err)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

type errorBody struct {
	Error     string           `json:"error"`
	Required  *decimal.Decimal `json:"required,omitempty"`
	Available *decimal.Decimal `json:"available,omitempty"`
	Shortfall *decimal.Decimal `json:"shortfall,omitempty"`
	Retryable bool             `json:"retryable,omitempty"`
}

// writeErr maps a service error to its status. Unclassified errors are
// logged and reported without detail.
func writeErr(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "err", err)
		writeError(w, "internal error", status)
		return
	}
	body := errorBody{Error: err.Error(), Retryable: apperr.IsRetryable(err)}
	var se *apperr.ShortfallError
	if errors.As(err, &se) {
		short := se.Shortfall()
		body.Required, body.Available, body.Shortfall = &se.Required, &se.Available, &short
	}
	if body.Retryable {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, body)
}

// StatusFor returns the HTTP status for a service error.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrInsufficientBalance),
		errors.Is(err, apperr.ErrInsufficientStock),
		errors.Is(err, apperr.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity
	case errors.Is(err, apperr.ErrExpiredLock):
		return http.StatusGone
	case errors.Is(err, apperr.ErrMembershipInactive),
		errors.Is(err, apperr.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, apperr.ErrAlreadyProcessed),
		errors.Is(err, apperr.ErrClosingInProgress):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrInternalConsistency),
		errors.Is(err, price.ErrNoQuote):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func queryInt(r *http.Request, key string, fallback int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return fallback
}
