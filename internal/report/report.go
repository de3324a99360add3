// Package report builds read-only projections over the journal and the
// balance rows: per-period stream totals and the reconciliation check that
// every balance is backed by its entries.
package report

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/goldnet/ledger-engine/internal/model"
	"github.com/goldnet/ledger-engine/internal/period"
)

// Reader is the slice of the store reports need.
type Reader interface {
	ListMembers(ctx context.Context) ([]model.Member, error)
	GetWallet(ctx context.Context, memberID string) (*model.Wallet, error)
	GetStock(ctx context.Context) (model.StockPosition, error)
	ReserveBalance(ctx context.Context) (decimal.Decimal, error)
	ListEntries(ctx context.Context, f model.EntryFilter) ([]model.LedgerEntry, error)
}

// StreamTotal aggregates one (stream, account) pair.
type StreamTotal struct {
	Stream  model.Stream    `json:"stream"`
	Account model.Account   `json:"account"`
	Entries int             `json:"entries"`
	Amount  decimal.Decimal `json:"amount"`
	Grams   decimal.Decimal `json:"grams"`
	GrossRM decimal.Decimal `json:"gross_rm"`
	CostRM  decimal.Decimal `json:"cost_rm"`
}

// Summary is the business view of one period.
type Summary struct {
	Period string        `json:"period"`
	From   time.Time     `json:"from"`
	To     time.Time     `json:"to"`
	Totals []StreamTotal `json:"totals"`

	SalesRevenue    decimal.Decimal `json:"sales_revenue"`
	GramsSold       decimal.Decimal `json:"grams_sold"`
	PurchaseCost    decimal.Decimal `json:"purchase_cost"`
	GramsBought     decimal.Decimal `json:"grams_bought"`
	RebatesGranted  decimal.Decimal `json:"rebates_granted"`
	RebatesUsed     decimal.Decimal `json:"rebates_used"`
	CommissionsPaid decimal.Decimal `json:"commissions_paid"`
	BonusesPaid     decimal.Decimal `json:"bonuses_paid"`
	FeesCollected   decimal.Decimal `json:"fees_collected"`
	ReserveIn       decimal.Decimal `json:"reserve_in"`
	ReserveOut      decimal.Decimal `json:"reserve_out"`

	// Point-in-time positions, read when the summary is built.
	StockGrams      decimal.Decimal `json:"stock_grams"`
	MemberGold      decimal.Decimal `json:"member_gold"`
	NetGoldPosition decimal.Decimal `json:"net_gold_position"`
	ReserveBalance  decimal.Decimal `json:"reserve_balance"`
}

// Summarize totals the journal over p and attaches current positions.
func Summarize(ctx context.Context, r Reader, p period.Period) (*Summary, error) {
	entries, err := r.ListEntries(ctx, model.EntryFilter{From: p.Start, To: p.End})
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}

	s := &Summary{Period: p.Tag, From: p.Start, To: p.End}
	type key struct {
		stream  model.Stream
		account model.Account
	}
	totals := make(map[key]*StreamTotal)
	for i := range entries {
		e := &entries[i]
		k := key{e.Stream, e.Account}
		t, ok := totals[k]
		if !ok {
			t = &StreamTotal{Stream: e.Stream, Account: e.Account}
			totals[k] = t
		}
		t.Entries++
		t.Amount = t.Amount.Add(e.Amount)
		t.Grams = t.Grams.Add(e.Grams)
		t.GrossRM = t.GrossRM.Add(e.GrossRM)
		t.CostRM = t.CostRM.Add(e.CostRM)

		switch e.Stream {
		case model.StreamSales:
			s.SalesRevenue = s.SalesRevenue.Add(e.GrossRM)
			s.GramsSold = s.GramsSold.Add(e.Grams)
		case model.StreamRebate:
			if e.Amount.IsPositive() {
				s.RebatesGranted = s.RebatesGranted.Add(e.Amount)
			} else {
				s.RebatesUsed = s.RebatesUsed.Sub(e.Amount)
			}
		case model.StreamPurchase:
			s.PurchaseCost = s.PurchaseCost.Add(e.CostRM)
			s.GramsBought = s.GramsBought.Add(e.Grams)
		case model.StreamCommission:
			s.CommissionsPaid = s.CommissionsPaid.Add(e.Amount)
		case model.StreamBonus:
			if e.Amount.IsPositive() {
				s.BonusesPaid = s.BonusesPaid.Add(e.Amount)
			}
		case model.StreamFee:
			s.FeesCollected = s.FeesCollected.Add(e.Amount)
		case model.StreamFund:
			if e.Amount.IsPositive() {
				s.ReserveIn = s.ReserveIn.Add(e.Amount)
			} else {
				s.ReserveOut = s.ReserveOut.Sub(e.Amount)
			}
		}
	}

	s.Totals = make([]StreamTotal, 0, len(totals))
	for _, t := range totals {
		s.Totals = append(s.Totals, *t)
	}
	sort.Slice(s.Totals, func(i, j int) bool {
		if s.Totals[i].Stream != s.Totals[j].Stream {
			return s.Totals[i].Stream < s.Totals[j].Stream
		}
		return s.Totals[i].Account < s.Totals[j].Account
	})

	stock, err := r.GetStock(ctx)
	if err != nil {
		return nil, err
	}
	gold, err := memberGold(ctx, r)
	if err != nil {
		return nil, err
	}
	reserve, err := r.ReserveBalance(ctx)
	if err != nil {
		return nil, err
	}
	s.StockGrams = stock.Grams
	s.MemberGold = gold
	s.NetGoldPosition = stock.Grams.Sub(gold)
	s.ReserveBalance = reserve
	return s, nil
}

func memberGold(ctx context.Context, r Reader) (decimal.Decimal, error) {
	members, err := r.ListMembers(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, m := range members {
		w, err := r.GetWallet(ctx, m.ID)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(w.GoldGrams)
	}
	return total, nil
}

// Mismatch is one balance that its journal does not explain.
type Mismatch struct {
	MemberID string          `json:"member_id,omitempty"`
	Account  model.Account   `json:"account"`
	Balance  decimal.Decimal `json:"balance"`
	Journal  decimal.Decimal `json:"journal"`
}

// Reconciliation is the result of Reconcile. OK is true when there are no
// mismatches and stock covers member gold.
type Reconciliation struct {
	OK         bool            `json:"ok"`
	Entries    int             `json:"entries"`
	Members    int             `json:"members"`
	StockGrams decimal.Decimal `json:"stock_grams"`
	MemberGold decimal.Decimal `json:"member_gold"`
	Solvent    bool            `json:"solvent"`
	Mismatches []Mismatch      `json:"mismatches"`
}

// Reconcile replays the whole journal and compares it with every wallet,
// the stock row and the reserve. Run it against a quiet store: balances and
// entries are read separately, so a write landing between the reads shows
// up as a mismatch.
func Reconcile(ctx context.Context, r Reader) (*Reconciliation, error) {
	entries, err := r.ListEntries(ctx, model.EntryFilter{})
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	type key struct {
		member  string
		account model.Account
	}
	sums := make(map[key]decimal.Decimal)
	for i := range entries {
		e := &entries[i]
		switch e.Account {
		case model.AccountStock, model.AccountReserve:
			sums[key{"", e.Account}] = sums[key{"", e.Account}].Add(e.Amount)
		case model.AccountNone:
		default:
			k := key{e.MemberID, e.Account}
			sums[k] = sums[k].Add(e.Amount)
		}
	}

	res := &Reconciliation{Entries: len(entries), Mismatches: []Mismatch{}}
	check := func(memberID string, account model.Account, balance decimal.Decimal) {
		journal := sums[key{memberID, account}]
		if !journal.Equal(balance) {
			res.Mismatches = append(res.Mismatches, Mismatch{
				MemberID: memberID, Account: account, Balance: balance, Journal: journal,
			})
		}
	}

	members, err := r.ListMembers(ctx)
	if err != nil {
		return nil, err
	}
	res.Members = len(members)
	known := make(map[string]bool, len(members))
	for _, m := range members {
		known[m.ID] = true
		w, err := r.GetWallet(ctx, m.ID)
		if err != nil {
			return nil, err
		}
		for _, a := range model.WalletAccounts {
			check(m.ID, a, w.Balance(a))
		}
		res.MemberGold = res.MemberGold.Add(w.GoldGrams)
	}
	// Entries pointing at members that no longer exist.
	for k, v := range sums {
		if k.member != "" && !known[k.member] && !v.IsZero() {
			res.Mismatches = append(res.Mismatches, Mismatch{MemberID: k.member, Account: k.account, Journal: v})
		}
	}

	stock, err := r.GetStock(ctx)
	if err != nil {
		return nil, err
	}
	reserve, err := r.ReserveBalance(ctx)
	if err != nil {
		return nil, err
	}
	check("", model.AccountStock, stock.Grams)
	check("", model.AccountReserve, reserve)

	res.StockGrams = stock.Grams
	res.Solvent = stock.Grams.GreaterThanOrEqual(res.MemberGold)
	res.OK = res.Solvent && len(res.Mismatches) == 0
	return res, nil
}
