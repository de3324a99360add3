// Package trade executes member gold buys and sells against a locked price.
// Each trade moves the member wallet, the company stock and the journal in
// one atomic unit; commissions, notifications and audit follow after
// commit and can never undo it.
//
// All monetary values use shopspring/decimal, never float64 for money.
package trade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/goldnet/ledger-engine/internal/apperr"
	"github.com/goldnet/ledger-engine/internal/audit"
	"github.com/goldnet/ledger-engine/internal/config"
	"github.com/goldnet/ledger-engine/internal/metrics"
	"github.com/goldnet/ledger-engine/internal/model"
	"github.com/goldnet/ledger-engine/internal/notify"
	"github.com/goldnet/ledger-engine/internal/price"
	"github.com/goldnet/ledger-engine/internal/store"
)

// Dispatcher receives committed buys for commission processing. It must
// not block the caller.
type Dispatcher interface {
	Dispatch(ev model.TradeEvent)
}

// Service executes trades.
type Service struct {
	store       store.Store
	primary     store.Store // uncached, for balance prechecks
	oracle      *price.Oracle
	settings    *config.Settings
	commissions Dispatcher  // optional
	notifier    notify.Sink // optional
	trail       *audit.Trail
	now         func() time.Time
}

// NewService creates a trade service. commissions and notifier may be nil.
func NewService(st store.Store, oracle *price.Oracle, settings *config.Settings,
	commissions Dispatcher, notifier notify.Sink, trail *audit.Trail) *Service {
	return &Service{
		store:       st,
		primary:     store.Uncached(st),
		oracle:      oracle,
		settings:    settings,
		commissions: commissions,
		notifier:    notifier,
		trail:       trail,
		now:         time.Now,
	}
}

// LockPrice pins the current quote for memberID's next Buy or Sell.
func (s *Service) LockPrice(ctx context.Context, memberID string) (model.PriceLock, error) {
	return s.oracle.LockPrice(ctx, memberID)
}

// Buy sells gold from company stock to a member at the locked quote's
// selling price. Up to REBATE_MAX_RATE of the gross is paid from the
// member's rebate balance, the rest from credit.
func (s *Service) Buy(ctx context.Context, memberID string, grams decimal.Decimal, lockToken string) (*model.Receipt, error) {
	start := time.Now()
	receipt, err := s.redeem(ctx, memberID, grams, lockToken, s.buy)
	s.observe(model.SideBuy, grams, start, err)
	if err != nil {
		return nil, err
	}

	metrics.StockGrams.Set(metrics.Float(receipt.StockAfter))
	if s.commissions != nil {
		s.commissions.Dispatch(model.TradeEvent{
			TradeID:  receipt.TradeID,
			MemberID: memberID,
			Grams:    grams,
			Value:    receipt.Net,
			At:       receipt.Timestamp,
		})
	}
	s.notify(ctx, memberID, "Purchase Successful", purchaseMessage(receipt))
	s.trail.Record(ctx, memberID, audit.ActionBuy,
		fmt.Sprintf("grams=%s price=%s net=%s rebate=%s", grams, receipt.PricePerGram.StringFixed(2),
			receipt.Net.StringFixed(2), receipt.Rebate.StringFixed(2)), receipt.TradeID)

	slog.Info("gold bought",
		"trade_id", receipt.TradeID,
		"member", memberID,
		"grams", grams.String(),
		"price", receipt.PricePerGram.String(),
		"net", receipt.Net.String(),
		"rebate", receipt.Rebate.String(),
		"stock_after", receipt.StockAfter.String(),
	)
	return receipt, nil
}

func (s *Service) buy(ctx context.Context, memberID string, grams decimal.Decimal, quote *model.PriceQuote) (*model.Receipt, error) {
	pricePerGram := quote.MemberBuyPrice()
	gross := grams.Mul(pricePerGram).Round(2)
	if !gross.IsPositive() {
		return nil, apperr.Invalid("trade value rounds to zero")
	}
	rebateRate := s.settings.Decimal(config.KeyRebateMaxRate)

	// Pre-check outside the unit so the common failures never take locks.
	stock, err := s.primary.GetStock(ctx)
	if err != nil {
		return nil, err
	}
	if stock.Grams.LessThan(grams) {
		return nil, apperr.Shortfall(apperr.ErrInsufficientStock, grams, stock.Grams)
	}
	wallet, err := s.primary.GetWallet(ctx, memberID)
	if err != nil {
		return nil, err
	}
	rebate := rebateFor(gross, rebateRate, wallet.Rebate)
	if net := gross.Sub(rebate); wallet.Credit.LessThan(net) {
		return nil, apperr.Shortfall(apperr.ErrInsufficientBalance, net, wallet.Credit)
	}

	receipt := &model.Receipt{
		TradeID:      uuid.New().String(),
		MemberID:     memberID,
		Side:         model.SideBuy,
		Grams:        grams,
		PricePerGram: pricePerGram,
		Gross:        gross,
		Timestamp:    s.now().UTC(),
	}

	err = s.store.InTx(ctx, func(tx store.Tx) error {
		if err := tx.LockClosing(ctx, false); err != nil {
			return err
		}
		stock, err := tx.LockStock(ctx)
		if err != nil {
			return err
		}
		if stock.Grams.LessThan(grams) {
			return apperr.Inconsistent("stock fell to %s below %s since pre-check", stock.Grams, grams)
		}
		w, err := tx.LockWallet(ctx, memberID)
		if err != nil {
			return err
		}
		rebate := rebateFor(gross, rebateRate, w.Rebate)
		net := gross.Sub(rebate)
		if w.Credit.LessThan(net) {
			return apperr.Inconsistent("credit fell to %s below %s since pre-check", w.Credit, net)
		}

		base := model.LedgerEntry{
			Grams:        grams,
			PricePerGram: pricePerGram,
			Ref:          receipt.TradeID,
			CreatedAt:    receipt.Timestamp,
		}

		sale := base
		sale.Stream, sale.Account, sale.Amount = model.StreamSales, model.AccountCredit, net.Neg()
		sale.GrossRM = gross
		if err := store.PostWallet(ctx, tx, w, &sale); err != nil {
			return err
		}
		if rebate.IsPositive() {
			used := base
			used.Stream, used.Account, used.Amount = model.StreamRebate, model.AccountRebate, rebate.Neg()
			used.Note = "rebate applied to purchase"
			if err := store.PostWallet(ctx, tx, w, &used); err != nil {
				return err
			}
		}
		holding := base
		holding.Stream, holding.Account, holding.Amount = model.StreamHolding, model.AccountGold, grams
		if err := store.PostWallet(ctx, tx, w, &holding); err != nil {
			return err
		}
		if err := tx.SaveWallet(ctx, w); err != nil {
			return err
		}

		out := base
		out.Stream, out.Amount, out.MemberID = model.StreamStock, grams.Neg(), memberID
		if err := store.PostStock(ctx, tx, &stock, &out); err != nil {
			return err
		}
		if err := tx.AddPersonalSales(ctx, memberID, grams); err != nil {
			return err
		}

		receipt.Rebate = rebate
		receipt.Net = net
		receipt.Wallet = *w
		receipt.StockAfter = stock.Grams
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// Sell buys gold back from a member at the locked quote's buying price.
// The grams return to company stock; no commission applies.
func (s *Service) Sell(ctx context.Context, memberID string, grams decimal.Decimal, lockToken string) (*model.Receipt, error) {
	start := time.Now()
	receipt, err := s.redeem(ctx, memberID, grams, lockToken, s.sell)
	s.observe(model.SideSell, grams, start, err)
	if err != nil {
		return nil, err
	}

	metrics.StockGrams.Set(metrics.Float(receipt.StockAfter))
	s.notify(ctx, memberID, "Sell Successful",
		fmt.Sprintf("You sold %sg of gold for RM %s.", grams.String(), receipt.Net.StringFixed(2)))
	s.trail.Record(ctx, memberID, audit.ActionSell,
		fmt.Sprintf("grams=%s price=%s payout=%s", grams, receipt.PricePerGram.StringFixed(2), receipt.Net.StringFixed(2)),
		receipt.TradeID)

	slog.Info("gold sold",
		"trade_id", receipt.TradeID,
		"member", memberID,
		"grams", grams.String(),
		"price", receipt.PricePerGram.String(),
		"payout", receipt.Net.String(),
		"stock_after", receipt.StockAfter.String(),
	)
	return receipt, nil
}

func (s *Service) sell(ctx context.Context, memberID string, grams decimal.Decimal, quote *model.PriceQuote) (*model.Receipt, error) {
	pricePerGram := quote.MemberSellPrice()
	payout := grams.Mul(pricePerGram).Round(2)
	if !payout.IsPositive() {
		return nil, apperr.Invalid("trade value rounds to zero")
	}

	wallet, err := s.primary.GetWallet(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if wallet.GoldGrams.LessThan(grams) {
		return nil, apperr.Shortfall(apperr.ErrInsufficientBalance, grams, wallet.GoldGrams)
	}

	receipt := &model.Receipt{
		TradeID:      uuid.New().String(),
		MemberID:     memberID,
		Side:         model.SideSell,
		Grams:        grams,
		PricePerGram: pricePerGram,
		Gross:        payout,
		Net:          payout,
		Timestamp:    s.now().UTC(),
	}

	err = s.store.InTx(ctx, func(tx store.Tx) error {
		if err := tx.LockClosing(ctx, false); err != nil {
			return err
		}
		stock, err := tx.LockStock(ctx)
		if err != nil {
			return err
		}
		w, err := tx.LockWallet(ctx, memberID)
		if err != nil {
			return err
		}
		if w.GoldGrams.LessThan(grams) {
			return apperr.Inconsistent("gold fell to %s below %s since pre-check", w.GoldGrams, grams)
		}

		base := model.LedgerEntry{
			Grams:        grams,
			PricePerGram: pricePerGram,
			Ref:          receipt.TradeID,
			CreatedAt:    receipt.Timestamp,
		}

		purchase := base
		purchase.Stream, purchase.Account, purchase.Amount = model.StreamPurchase, model.AccountCredit, payout
		purchase.CostRM = payout
		if err := store.PostWallet(ctx, tx, w, &purchase); err != nil {
			return err
		}
		holding := base
		holding.Stream, holding.Account, holding.Amount = model.StreamHolding, model.AccountGold, grams.Neg()
		if err := store.PostWallet(ctx, tx, w, &holding); err != nil {
			return err
		}
		if err := tx.SaveWallet(ctx, w); err != nil {
			return err
		}

		in := base
		in.Stream, in.Amount, in.MemberID = model.StreamStock, grams, memberID
		if err := store.PostStock(ctx, tx, &stock, &in); err != nil {
			return err
		}

		receipt.Wallet = *w
		receipt.StockAfter = stock.Grams
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

type execFunc func(ctx context.Context, memberID string, grams decimal.Decimal, quote *model.PriceQuote) (*model.Receipt, error)

// redeem validates the request, claims the price lock and runs exec at its
// quote. The lock is consumed only if exec commits; otherwise it is handed
// back so the member can retry before it expires.
func (s *Service) redeem(ctx context.Context, memberID string, grams decimal.Decimal, lockToken string, exec execFunc) (*model.Receipt, error) {
	if err := s.precheck(ctx, memberID, grams); err != nil {
		return nil, err
	}
	lock, err := s.oracle.Claim(ctx, lockToken, memberID)
	if err != nil {
		return nil, err
	}
	receipt, err := exec(ctx, memberID, grams, &lock.Quote)
	if err != nil {
		s.oracle.Restore(ctx, *lock)
		return nil, err
	}
	return receipt, nil
}

// precheck validates everything that does not depend on balances.
func (s *Service) precheck(ctx context.Context, memberID string, grams decimal.Decimal) error {
	if memberID == "" {
		return apperr.Invalid("member id is required")
	}
	if !grams.IsPositive() {
		return apperr.Invalid("grams must be positive, got %s", grams)
	}
	member, err := s.store.GetMember(ctx, memberID)
	if err != nil {
		return err
	}
	if !member.MembershipActive(s.now()) {
		return fmt.Errorf("%w: member %s", apperr.ErrMembershipInactive, memberID)
	}
	return nil
}

// purchaseMessage quotes what the member actually paid from credit.
func purchaseMessage(r *model.Receipt) string {
	msg := fmt.Sprintf("You bought %sg of gold for RM %s.", r.Grams.String(), r.Net.StringFixed(2))
	if r.Rebate.IsPositive() {
		msg += fmt.Sprintf(" RM %s rebate was applied to the RM %s total.", r.Rebate.StringFixed(2), r.Gross.StringFixed(2))
	}
	return msg
}

// rebateFor is the rebate applied to a purchase: rate x gross, capped by
// what the member holds.
func rebateFor(gross, rate, available decimal.Decimal) decimal.Decimal {
	r := gross.Mul(rate).Round(2)
	if r.GreaterThan(available) {
		r = available
	}
	if r.IsNegative() {
		return decimal.Zero
	}
	return r
}

func (s *Service) notify(ctx context.Context, memberID, title, body string) {
	if s.notifier == nil {
		return
	}
	n := model.Notification{MemberID: memberID, Title: title, Body: body, Category: model.CategoryTransaction}
	if err := s.notifier.Notify(ctx, n); err != nil {
		slog.Warn("trade notification failed", "err", err, "member", memberID)
	}
}

func (s *Service) observe(side model.Side, grams decimal.Decimal, start time.Time, err error) {
	label := string(side)
	metrics.TradesTotal.WithLabelValues(label, Outcome(err)).Inc()
	metrics.TradeLatency.WithLabelValues(label).Observe(time.Since(start).Seconds())
	if err == nil {
		metrics.TradeGrams.WithLabelValues(label).Add(metrics.Float(grams))
	}
}

// Outcome classifies a trade error for metrics and logs.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, apperr.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, apperr.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, apperr.ErrExpiredLock):
		return "expired_lock"
	case errors.Is(err, apperr.ErrMembershipInactive):
		return "membership_inactive"
	case errors.Is(err, apperr.ErrInternalConsistency):
		return "consistency"
	case errors.Is(err, apperr.ErrValidation):
		return "invalid"
	default:
		return "error"
	}
}
