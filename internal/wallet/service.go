// Package wallet holds the admin-driven balance operations that sit beside
// trading: top-up review, rebate grants, manual adjustments, stock intake,
// bonus payouts and membership renewal. Every operation names the acting
// admin explicitly; there is no default actor.
package wallet

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/goldnet/ledger-engine/internal/apperr"
	"github.com/goldnet/ledger-engine/internal/audit"
	"github.com/goldnet/ledger-engine/internal/config"
	"github.com/goldnet/ledger-engine/internal/metrics"
	"github.com/goldnet/ledger-engine/internal/model"
	"github.com/goldnet/ledger-engine/internal/notify"
	"github.com/goldnet/ledger-engine/internal/reserve"
	"github.com/goldnet/ledger-engine/internal/store"
)

// PayoutAction decides what happens to a member's bonus balance.
type PayoutAction string

const (
	PayoutPay     PayoutAction = "PAY"     // paid out by bank transfer
	PayoutForfeit PayoutAction = "FORFEIT" // moved to the reserve fund
)

// Service implements wallet operations.
type Service struct {
	store    store.Store
	settings *config.Settings
	trail    *audit.Trail
	notifier notify.Sink
	now      func() time.Time
}

// New creates the wallet service. notifier may be nil.
func New(st store.Store, settings *config.Settings, trail *audit.Trail, notifier notify.Sink) *Service {
	return &Service{store: st, settings: settings, trail: trail, notifier: notifier, now: time.Now}
}

// requireAdmin checks that actorID names an ADMIN or SUPER_ADMIN.
func (s *Service) requireAdmin(ctx context.Context, actorID string) error {
	if actorID == "" {
		return apperr.Invalid("actor id is required")
	}
	actor, err := s.store.GetMember(ctx, actorID)
	if err != nil {
		return err
	}
	if actor.Role != model.RoleAdmin && actor.Role != model.RoleSuperAdmin {
		return fmt.Errorf("%w: %s is %s", apperr.ErrUnauthorized, actorID, actor.Role)
	}
	return nil
}

// CreditRebate grants promotional rebate balance.
func (s *Service) CreditRebate(ctx context.Context, actorID, memberID string, amount decimal.Decimal, reason string) (*model.LedgerEntry, error) {
	if err := s.requireAdmin(ctx, actorID); err != nil {
		return nil, err
	}
	amount = amount.Round(2)
	if !amount.IsPositive() {
		return nil, apperr.Invalid("rebate amount must be positive, got %s", amount)
	}

	entry := &model.LedgerEntry{
		Stream:  model.StreamRebate,
		Account: model.AccountRebate,
		Amount:  amount,
		Note:    reason,
		ActorID: actorID,
	}
	if err := s.post(ctx, memberID, entry); err != nil {
		return nil, err
	}

	s.trail.Record(ctx, actorID, audit.ActionRebateCredit,
		fmt.Sprintf("amount=%s reason=%s", amount.StringFixed(2), reason), memberID)
	s.notify(ctx, memberID, "E-Rebate Received",
		fmt.Sprintf("You received RM%s E-Rebate! Reason: %s", amount.StringFixed(2), reason), model.CategorySuccess)
	return entry, nil
}

// Adjust applies a signed manual correction to a money account. Gold
// holdings only change through trades.
func (s *Service) Adjust(ctx context.Context, actorID, memberID string, account model.Account, amount decimal.Decimal, reason string) (*model.LedgerEntry, error) {
	if err := s.requireAdmin(ctx, actorID); err != nil {
		return nil, err
	}
	switch account {
	case model.AccountCredit, model.AccountRebate, model.AccountBonus:
	default:
		return nil, apperr.Invalid("account %q cannot be adjusted", account)
	}
	amount = amount.Round(2)
	if amount.IsZero() {
		return nil, apperr.Invalid("adjustment must be non-zero")
	}
	if reason == "" {
		return nil, apperr.Invalid("adjustment reason is required")
	}

	entry := &model.LedgerEntry{
		Stream:  model.StreamAdjustment,
		Account: account,
		Amount:  amount,
		Note:    reason,
		ActorID: actorID,
	}
	if err := s.post(ctx, memberID, entry); err != nil {
		return nil, err
	}
	s.trail.Record(ctx, actorID, audit.ActionAdjust,
		fmt.Sprintf("account=%s amount=%s reason=%s", account, amount.StringFixed(2), reason), memberID)
	return entry, nil
}

func (s *Service) post(ctx context.Context, memberID string, e *model.LedgerEntry) error {
	return s.store.InTx(ctx, func(tx store.Tx) error {
		w, err := tx.LockWallet(ctx, memberID)
		if err != nil {
			return err
		}
		if err := store.PostWallet(ctx, tx, w, e); err != nil {
			return err
		}
		return tx.SaveWallet(ctx, w)
	})
}

// AdjustStock records physical gold entering (positive) or leaving
// (negative) the company vault. Stock may never fall below what members
// hold in total.
func (s *Service) AdjustStock(ctx context.Context, actorID string, grams decimal.Decimal, ref string) (*model.LedgerEntry, error) {
	if err := s.requireAdmin(ctx, actorID); err != nil {
		return nil, err
	}
	if grams.IsZero() {
		return nil, apperr.Invalid("stock adjustment must be non-zero")
	}

	entry := &model.LedgerEntry{
		Stream:  model.StreamStock,
		Amount:  grams,
		Ref:     ref,
		Note:    "stock adjustment",
		ActorID: actorID,
	}
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		stock, err := tx.LockStock(ctx)
		if err != nil {
			return err
		}
		if grams.IsNegative() {
			held, err := heldGold(ctx, tx)
			if err != nil {
				return err
			}
			if stock.Grams.Add(grams).LessThan(held) {
				return apperr.Shortfall(apperr.ErrInsufficientStock, grams.Neg(), stock.Grams.Sub(held))
			}
		}
		return store.PostStock(ctx, tx, &stock, entry)
	})
	if err != nil {
		return nil, err
	}

	metrics.StockGrams.Set(metrics.Float(entry.BalanceAfter))
	s.trail.Record(ctx, actorID, audit.ActionStockAdjust,
		fmt.Sprintf("grams=%s ref=%s after=%s", grams, ref, entry.BalanceAfter), "")
	slog.Info("stock adjusted", "grams", grams.String(), "after", entry.BalanceAfter.String(), "actor", actorID)
	return entry, nil
}

// heldGold sums every member's gold. It locks the wallets in id order, so
// it must run after the stock lock.
func heldGold(ctx context.Context, tx store.Tx) (decimal.Decimal, error) {
	members, err := tx.ListMembers(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, m := range members {
		w, err := tx.LockWallet(ctx, m.ID)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(w.GoldGrams)
	}
	return total, nil
}

// PayoutCandidate is a member holding an unpaid bonus balance.
type PayoutCandidate struct {
	MemberID      string          `json:"member_id"`
	FullName      string          `json:"full_name"`
	Bonus         decimal.Decimal `json:"bonus"`
	PersonalGrams decimal.Decimal `json:"personal_grams"`
}

// PendingPayouts lists members with a positive bonus balance.
func (s *Service) PendingPayouts(ctx context.Context) ([]PayoutCandidate, error) {
	members, err := s.store.ListMembers(ctx)
	if err != nil {
		return nil, err
	}
	var out []PayoutCandidate
	for _, m := range members {
		w, err := s.store.GetWallet(ctx, m.ID)
		if err != nil {
			return nil, err
		}
		if w.Bonus.IsPositive() {
			out = append(out, PayoutCandidate{
				MemberID:      m.ID,
				FullName:      m.FullName,
				Bonus:         w.Bonus,
				PersonalGrams: m.PersonalSalesMonth,
			})
		}
	}
	return out, nil
}

// ProcessPayout empties a member's bonus balance, either paying it out or
// forfeiting it to the reserve. It returns the amount moved.
func (s *Service) ProcessPayout(ctx context.Context, actorID, memberID string, action PayoutAction) (decimal.Decimal, error) {
	if err := s.requireAdmin(ctx, actorID); err != nil {
		return decimal.Zero, err
	}
	if action != PayoutPay && action != PayoutForfeit {
		return decimal.Zero, apperr.Invalid("unknown payout action %q", action)
	}

	var amount decimal.Decimal
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		if action == PayoutForfeit {
			if _, err := tx.LockReserve(ctx); err != nil {
				return err
			}
		}
		w, err := tx.LockWallet(ctx, memberID)
		if err != nil {
			return err
		}
		amount = w.Bonus
		if !amount.IsPositive() {
			return apperr.Invalid("member %s has no bonus to process", memberID)
		}

		note := "bonus paid by bank transfer"
		if action == PayoutForfeit {
			note = "bonus forfeited to reserve"
		}
		if err := store.PostWallet(ctx, tx, w, &model.LedgerEntry{
			Stream:  model.StreamBonus,
			Account: model.AccountBonus,
			Amount:  amount.Neg(),
			Note:    note,
			ActorID: actorID,
		}); err != nil {
			return err
		}
		if err := tx.SaveWallet(ctx, w); err != nil {
			return err
		}
		if action == PayoutForfeit {
			_, err := reserve.DepositTx(ctx, tx, amount,
				fmt.Sprintf("forfeited bonus from %s", memberID), actorID, "")
			return err
		}
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}

	s.trail.Record(ctx, actorID, audit.ActionPayout,
		fmt.Sprintf("action=%s amount=%s", action, amount.StringFixed(2)), memberID)
	if action == PayoutPay {
		s.notify(ctx, memberID, "Bonus Payout Approved",
			fmt.Sprintf("Your bonus of RM%s has been processed and credited to your bank account.", amount.StringFixed(2)),
			model.CategorySuccess)
	} else {
		if bal, err := s.store.ReserveBalance(ctx); err == nil {
			metrics.ReserveBalance.Set(metrics.Float(bal))
		}
		s.notify(ctx, memberID, "Bonus Not Eligible",
			fmt.Sprintf("Your accumulated bonus of RM%s has been forfeited and diverted to the reserve fund.", amount.StringFixed(2)),
			model.CategoryWarning)
	}
	return amount, nil
}

// RenewMembership extends a membership by one year from the later of now
// and the current expiry, recording ANNUAL_FEE as fee revenue.
func (s *Service) RenewMembership(ctx context.Context, actorID, memberID string) (time.Time, error) {
	if err := s.requireAdmin(ctx, actorID); err != nil {
		return time.Time{}, err
	}
	fee := s.settings.Decimal(config.KeyAnnualFee).Round(2)

	var expiry time.Time
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		expiry, err = s.renewTx(ctx, tx, memberID, fee, actorID, "")
		return err
	})
	if err != nil {
		return time.Time{}, err
	}
	s.renewed(ctx, actorID, memberID, fee, expiry)
	return expiry, nil
}

func (s *Service) renewTx(ctx context.Context, tx store.Tx, memberID string, fee decimal.Decimal, actorID, ref string) (time.Time, error) {
	m, err := tx.GetMember(ctx, memberID)
	if err != nil {
		return time.Time{}, err
	}
	now := s.now().UTC()
	from := now
	if m.MembershipExpiry != nil && m.MembershipExpiry.After(now) {
		from = *m.MembershipExpiry
	}
	expiry := from.AddDate(1, 0, 0)
	if err := tx.SetMembershipExpiry(ctx, memberID, expiry); err != nil {
		return time.Time{}, err
	}
	if fee.IsPositive() {
		if err := tx.AppendEntry(ctx, &model.LedgerEntry{
			Stream:   model.StreamFee,
			Account:  model.AccountNone,
			MemberID: memberID,
			Amount:   fee,
			Ref:      ref,
			Note:     "annual membership fee",
			ActorID:  actorID,
		}); err != nil {
			return time.Time{}, err
		}
	}
	return expiry, nil
}

func (s *Service) renewed(ctx context.Context, actorID, memberID string, fee decimal.Decimal, expiry time.Time) {
	s.trail.Record(ctx, actorID, audit.ActionRenewal,
		fmt.Sprintf("fee=%s until=%s", fee.StringFixed(2), expiry.Format(time.RFC3339)), memberID)
	s.notify(ctx, memberID, "Membership Renewed",
		fmt.Sprintf("Thank you! Your membership is active until %s.", expiry.Format("2006-01-02")), model.CategorySuccess)
}

func (s *Service) notify(ctx context.Context, memberID, title, body, category string) {
	if s.notifier == nil {
		return
	}
	n := model.Notification{MemberID: memberID, Title: title, Body: body, Category: category}
	if err := s.notifier.Notify(ctx, n); err != nil {
		slog.Warn("wallet notification failed", "err", err, "member", memberID)
	}
}
