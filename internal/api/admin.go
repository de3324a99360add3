package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/goldnet/ledger-engine/internal/apperr"
	"github.com/goldnet/ledger-engine/internal/audit"
	"github.com/goldnet/ledger-engine/internal/closing"
	"github.com/goldnet/ledger-engine/internal/model"
	"github.com/goldnet/ledger-engine/internal/period"
	"github.com/goldnet/ledger-engine/internal/report"
	"github.com/goldnet/ledger-engine/internal/wallet"
)

type spotRequest struct {
	Spot decimal.Decimal `json:"spot"`
}

type spreadsRequest struct {
	SellPct decimal.Decimal `json:"sell_pct"`
	BuyPct  decimal.Decimal `json:"buy_pct"`
}

type settingRequest struct {
	Value string `json:"value"`
}

type depositRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Source string          `json:"source"`
}

type withdrawRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Destination string          `json:"destination"`
	Purpose     string          `json:"purpose"`
}

type approveRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Destination *string         `json:"destination,omitempty"`
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

type rebateRequest struct {
	MemberID string          `json:"member_id"`
	Amount   decimal.Decimal `json:"amount"`
	Reason   string          `json:"reason"`
}

type adjustRequest struct {
	MemberID string          `json:"member_id"`
	Account  model.Account   `json:"account"`
	Amount   decimal.Decimal `json:"amount"`
	Reason   string          `json:"reason"`
}

type stockRequest struct {
	Grams decimal.Decimal `json:"grams"`
	Ref   string          `json:"ref"`
}

type payoutRequest struct {
	Action wallet.PayoutAction `json:"action"`
}

type closingRequest struct {
	Period string `json:"period"`
}

func (s *Server) setSpot(w http.ResponseWriter, r *http.Request) {
	var req spotRequest
	if !decode(w, r, &req) {
		return
	}
	q, err := s.Oracle.UpdateFromSpot(r.Context(), req.Spot)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *Server) setSpreads(w http.ResponseWriter, r *http.Request) {
	var req spreadsRequest
	if !decode(w, r, &req) {
		return
	}
	q, err := s.Oracle.SetSpreads(r.Context(), req.SellPct, req.BuyPct)
	if err != nil {
		writeErr(w, err)
		return
	}
	s.Trail.Record(r.Context(), actorFrom(r), audit.ActionSpreadChange,
		fmt.Sprintf("sell=%s%% buy=%s%%", req.SellPct, req.BuyPct), "")
	if q == nil {
		// No spot yet; only the settings changed.
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *Server) listSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Settings.All())
}

func (s *Server) putSetting(w http.ResponseWriter, r *http.Request) {
	key := strings.ToUpper(chi.URLParam(r, "key"))
	var req settingRequest
	if !decode(w, r, &req) {
		return
	}
	old := s.Settings.String(key)
	if err := s.Settings.Set(r.Context(), key, req.Value); err != nil {
		writeErr(w, err)
		return
	}
	s.Trail.Record(r.Context(), actorFrom(r), audit.ActionSettingChange,
		fmt.Sprintf("%s: %s -> %s", key, old, req.Value), key)
	writeJSON(w, http.StatusOK, map[string]string{key: req.Value})
}

func (s *Server) reserveInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.Reserve.Info(r.Context(), queryInt(r, "limit", 50))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) reserveDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if !decode(w, r, &req) {
		return
	}
	e, err := s.Reserve.Deposit(r.Context(), req.Amount, req.Source, actorFrom(r))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (s *Server) reserveWithdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if !decode(w, r, &req) {
		return
	}
	e, err := s.Reserve.Withdraw(r.Context(), req.Amount, req.Destination, req.Purpose, actorFrom(r))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (s *Server) pendingTopUps(w http.ResponseWriter, r *http.Request) {
	list, err := s.Wallets.PendingTopUps(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	if list == nil {
		list = []model.TopUpRequest{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) approveTopUp(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if !decode(w, r, &req) {
		return
	}
	var override *wallet.Destination
	if req.Destination != nil {
		d := wallet.Destination(*req.Destination)
		override = &d
	}
	out, err := s.Wallets.ApproveTopUp(r.Context(), actorFrom(r), chi.URLParam(r, "id"), req.Amount, override)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) rejectTopUp(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if !decode(w, r, &req) {
		return
	}
	out, err := s.Wallets.RejectTopUp(r.Context(), actorFrom(r), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) creditRebate(w http.ResponseWriter, r *http.Request) {
	var req rebateRequest
	if !decode(w, r, &req) {
		return
	}
	e, err := s.Wallets.CreditRebate(r.Context(), actorFrom(r), req.MemberID, req.Amount, req.Reason)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (s *Server) adjust(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if !decode(w, r, &req) {
		return
	}
	account := model.Account(strings.ToUpper(string(req.Account)))
	e, err := s.Wallets.Adjust(r.Context(), actorFrom(r), req.MemberID, account, req.Amount, req.Reason)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (s *Server) adjustStock(w http.ResponseWriter, r *http.Request) {
	var req stockRequest
	if !decode(w, r, &req) {
		return
	}
	e, err := s.Wallets.AdjustStock(r.Context(), actorFrom(r), req.Grams, req.Ref)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (s *Server) pendingPayouts(w http.ResponseWriter, r *http.Request) {
	list, err := s.Wallets.PendingPayouts(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	if list == nil {
		list = []wallet.PayoutCandidate{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) processPayout(w http.ResponseWriter, r *http.Request) {
	var req payoutRequest
	if !decode(w, r, &req) {
		return
	}
	memberID := chi.URLParam(r, "memberID")
	req.Action = wallet.PayoutAction(strings.ToUpper(string(req.Action)))
	amount, err := s.Wallets.ProcessPayout(r.Context(), actorFrom(r), memberID, req.Action)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"member_id": memberID, "action": req.Action, "amount": amount})
}

func (s *Server) renew(w http.ResponseWriter, r *http.Request) {
	memberID := chi.URLParam(r, "memberID")
	expiry, err := s.Wallets.RenewMembership(r.Context(), actorFrom(r), memberID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"member_id": memberID, "membership_expiry": expiry})
}

func (s *Server) closeMonthly(w http.ResponseWriter, r *http.Request) {
	s.runClosing(w, r, s.Closing.RunMonthly)
}

func (s *Server) closeYearly(w http.ResponseWriter, r *http.Request) {
	s.runClosing(w, r, s.Closing.RunYearly)
}

func (s *Server) runClosing(w http.ResponseWriter, r *http.Request, run func(ctx context.Context, tag, actorID string) (*closing.Result, error)) {
	var req closingRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := run(r.Context(), req.Period, actorFrom(r))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// summary handles GET /admin/reports/summary?period=2026-03. The current
// month is the default.
func (s *Server) summary(w http.ResponseWriter, r *http.Request) {
	p := period.Monthly(time.Now())
	if tag := r.URL.Query().Get("period"); tag != "" {
		var err error
		if p, err = period.Parse(tag); err != nil {
			writeErr(w, apperr.Invalid("%v", err))
			return
		}
	}
	sum, err := report.Summarize(r.Context(), s.Store, p)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) reconcile(w http.ResponseWriter, r *http.Request) {
	res, err := report.Reconcile(r.Context(), s.Store)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) auditLog(w http.ResponseWriter, r *http.Request) {
	entries, err := s.Trail.Recent(r.Context(), queryInt(r, "limit", 100))
	if err != nil {
		writeErr(w, err)
		return
	}
	if entries == nil {
		entries = []model.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
