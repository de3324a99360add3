package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/goldnet/ledger-engine/internal/apperr"
	"github.com/goldnet/ledger-engine/internal/model"
	"github.com/goldnet/ledger-engine/internal/period"
	"github.com/goldnet/ledger-engine/internal/wallet"
)

// TradeRequest is the body of POST /trade/buy and /trade/sell.
type TradeRequest struct {
	MemberID  string          `json:"member_id"`
	Grams     decimal.Decimal `json:"grams"`
	LockToken string          `json:"lock_token"`
}

// LockRequest is the body of POST /price/lock.
type LockRequest struct {
	MemberID string `json:"member_id"`
}

// TopUpRequest is the body of POST /topups.
type TopUpRequest struct {
	MemberID    string          `json:"member_id"`
	Amount      decimal.Decimal `json:"amount"`
	ProofURL    string          `json:"proof_url"`
	Destination string          `json:"destination"`
}

// MemberWallet is the response of GET /members/{memberID}/wallet.
type MemberWallet struct {
	Member *model.Member `json:"member"`
	Wallet *model.Wallet `json:"wallet"`
}

func (s *Server) currentPrice(w http.ResponseWriter, r *http.Request) {
	q, err := s.Oracle.Current()
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *Server) lockPrice(w http.ResponseWriter, r *http.Request) {
	var req LockRequest
	if !decode(w, r, &req) {
		return
	}
	lock, err := s.Trades.LockPrice(r.Context(), req.MemberID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, lock)
}

func (s *Server) buy(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if !decode(w, r, &req) {
		return
	}
	receipt, err := s.Trades.Buy(r.Context(), req.MemberID, req.Grams, req.LockToken)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (s *Server) sell(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if !decode(w, r, &req) {
		return
	}
	receipt, err := s.Trades.Sell(r.Context(), req.MemberID, req.Grams, req.LockToken)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (s *Server) memberWallet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "memberID")
	m, err := s.Store.GetMember(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	wal, err := s.Store.GetWallet(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MemberWallet{Member: m, Wallet: wal})
}

// memberLedger handles GET /members/{memberID}/ledger?stream=SALES&period=2026-03.
func (s *Server) memberLedger(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "memberID")
	if _, err := s.Store.GetMember(r.Context(), id); err != nil {
		writeErr(w, err)
		return
	}
	f := model.EntryFilter{
		MemberID: id,
		Stream:   model.Stream(strings.ToUpper(r.URL.Query().Get("stream"))),
	}
	if tag := r.URL.Query().Get("period"); tag != "" {
		p, err := period.Parse(tag)
		if err != nil {
			writeErr(w, apperr.Invalid("%v", err))
			return
		}
		f.From, f.To = p.Start, p.End
	}
	entries, err := s.Store.ListEntries(r.Context(), f)
	if err != nil {
		writeErr(w, err)
		return
	}
	if entries == nil {
		entries = []model.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) memberCommissions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "memberID")
	records, err := s.Store.ListCommissions(r.Context(), model.CommissionFilter{
		SponsorID: id,
		Period:    r.URL.Query().Get("period"),
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	if records == nil {
		records = []model.CommissionRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) requestTopUp(w http.ResponseWriter, r *http.Request) {
	var req TopUpRequest
	if !decode(w, r, &req) {
		return
	}
	created, err := s.Wallets.RequestTopUp(r.Context(), req.MemberID, req.Amount, req.ProofURL, wallet.Destination(req.Destination))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}
