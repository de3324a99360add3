// Package commission pays sponsors for their direct downline's purchases.
//
// Two rules run for every committed buy, each in its own unit:
//
//	REFERRAL  BONUS_SPONSOR_RATE of the trade value, capped per sponsor and
//	          recruit by BONUS_REFERRAL_QUOTA over the pair's lifetime.
//	OVERRIDE  BONUS_DOWNLINE_PURCHASE_RATE of the trade value, paid only when
//	          the sponsor has bought MONTHLY_BONUS_MIN_GRAMS this month.
//	          Otherwise the amount goes to the reserve fund.
package commission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/goldnet/ledger-engine/internal/config"
	"github.com/goldnet/ledger-engine/internal/metrics"
	"github.com/goldnet/ledger-engine/internal/model"
	"github.com/goldnet/ledger-engine/internal/notify"
	"github.com/goldnet/ledger-engine/internal/period"
	"github.com/goldnet/ledger-engine/internal/reserve"
	"github.com/goldnet/ledger-engine/internal/store"
)

// Engine evaluates commission rules synchronously.
type Engine struct {
	store    store.Store
	settings *config.Settings
	notifier notify.Sink
	now      func() time.Time
}

// NewEngine creates a commission engine. notifier may be nil.
func NewEngine(st store.Store, settings *config.Settings, notifier notify.Sink) *Engine {
	return &Engine{store: st, settings: settings, notifier: notifier, now: time.Now}
}

// Process runs both rules for one trade. A failing rule does not stop the
// other; the returned error joins every rule failure.
func (e *Engine) Process(ctx context.Context, ev model.TradeEvent) error {
	buyer, err := e.store.GetMember(ctx, ev.MemberID)
	if err != nil {
		return fmt.Errorf("load buyer: %w", err)
	}
	if buyer.SponsorID == nil {
		return nil
	}
	at := ev.At
	if at.IsZero() {
		at = e.now()
	}
	tag := period.Monthly(at).Tag

	var errs []error
	if rec, err := e.Referral(ctx, ev, buyer, tag); err != nil {
		errs = append(errs, e.failed(model.RuleReferral, ev, err))
	} else if rec != nil {
		e.paid(ctx, rec, buyer)
	}
	if rec, err := e.Override(ctx, ev, buyer, tag); err != nil {
		errs = append(errs, e.failed(model.RuleOverride, ev, err))
	} else if rec != nil {
		e.paid(ctx, rec, buyer)
	}
	return errors.Join(errs...)
}

// Referral credits the sponsor's quota-clipped referral bonus. It returns
// nil without error when the rate is zero or the quota is exhausted.
func (e *Engine) Referral(ctx context.Context, ev model.TradeEvent, buyer *model.Member, tag string) (*model.CommissionRecord, error) {
	rate := e.settings.Decimal(config.KeySponsorRate)
	if !rate.IsPositive() || buyer.SponsorID == nil {
		return nil, nil
	}
	quota := e.settings.Decimal(config.KeyReferralQuota)
	sponsorID := *buyer.SponsorID
	amount := ev.Value.Mul(rate).Round(2)

	var rec *model.CommissionRecord
	err := e.store.InTx(ctx, func(tx store.Tx) error {
		rec = nil
		if err := tx.LockClosing(ctx, false); err != nil {
			return err
		}
		w, err := tx.LockWallet(ctx, sponsorID)
		if err != nil {
			return err
		}
		paid, err := tx.SumCommissions(ctx, model.CommissionFilter{
			SponsorID:      sponsorID,
			SourceMemberID: buyer.ID,
			Rule:           model.RuleReferral,
			Status:         model.StatusQualified,
		})
		if err != nil {
			return err
		}
		pay := clip(amount, quota, paid)
		if !pay.IsPositive() {
			return nil
		}

		note := fmt.Sprintf("%s%% referral bonus", rate.Shift(2).StringFixed(1))
		if err := e.credit(ctx, tx, w, pay, buyer.ID, ev.TradeID, tag, note); err != nil {
			return err
		}
		rec = &model.CommissionRecord{
			ID:             uuid.New().String(),
			SponsorID:      sponsorID,
			SourceMemberID: buyer.ID,
			TradeRef:       ev.TradeID,
			Period:         tag,
			Rule:           model.RuleReferral,
			Amount:         pay,
			Status:         model.StatusQualified,
			Note:           note,
		}
		return tx.InsertCommission(ctx, rec)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Override pays the sponsor's purchase bonus, or diverts it to the reserve
// when the sponsor's own month sales are below the minimum.
func (e *Engine) Override(ctx context.Context, ev model.TradeEvent, buyer *model.Member, tag string) (*model.CommissionRecord, error) {
	rate := e.settings.Decimal(config.KeyDownlineRate)
	if !rate.IsPositive() || buyer.SponsorID == nil {
		return nil, nil
	}
	minGrams := e.settings.Decimal(config.KeyMonthlyMinGrams)
	sponsorID := *buyer.SponsorID
	amount := ev.Value.Mul(rate).Round(2)
	if !amount.IsPositive() {
		return nil, nil
	}
	pct := rate.Shift(2).StringFixed(1)

	var rec *model.CommissionRecord
	err := e.store.InTx(ctx, func(tx store.Tx) error {
		if err := tx.LockClosing(ctx, false); err != nil {
			return err
		}
		sponsor, err := tx.GetMember(ctx, sponsorID)
		if err != nil {
			return err
		}
		rec = &model.CommissionRecord{
			ID:             uuid.New().String(),
			SponsorID:      sponsorID,
			SourceMemberID: buyer.ID,
			TradeRef:       ev.TradeID,
			Period:         tag,
			Rule:           model.RuleOverride,
			Amount:         amount,
		}

		if sponsor.PersonalSalesMonth.LessThan(minGrams) {
			rec.Status = model.StatusUnqualified
			rec.Note = fmt.Sprintf("%s%% purchase bonus (sales < %sg)", pct, minGrams)
			entry, err := reserve.DepositTx(ctx, tx, amount,
				fmt.Sprintf("unqualified override of %s from %s", sponsorID, buyer.ID), "", ev.TradeID)
			if err != nil {
				return err
			}
			metrics.ReserveBalance.Set(metrics.Float(entry.BalanceAfter))
			return tx.InsertCommission(ctx, rec)
		}

		w, err := tx.LockWallet(ctx, sponsorID)
		if err != nil {
			return err
		}
		rec.Status = model.StatusQualified
		rec.Note = pct + "% purchase bonus"
		if err := e.credit(ctx, tx, w, amount, buyer.ID, ev.TradeID, tag, rec.Note); err != nil {
			return err
		}
		return tx.InsertCommission(ctx, rec)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (e *Engine) credit(ctx context.Context, tx store.Tx, w *model.Wallet, amount decimal.Decimal,
	sourceID, tradeID, tag, note string) error {
	if err := store.PostWallet(ctx, tx, w, &model.LedgerEntry{
		Stream:         model.StreamCommission,
		Account:        model.AccountCredit,
		Amount:         amount,
		CounterpartyID: sourceID,
		Ref:            tradeID,
		Period:         tag,
		Note:           note,
	}); err != nil {
		return err
	}
	return tx.SaveWallet(ctx, w)
}

// clip limits amount so that paid never exceeds quota.
func clip(amount, quota, paid decimal.Decimal) decimal.Decimal {
	room := quota.Sub(paid)
	if !room.IsPositive() {
		return decimal.Zero
	}
	return decimal.Min(amount, room)
}

func (e *Engine) paid(ctx context.Context, rec *model.CommissionRecord, buyer *model.Member) {
	rule, status := string(rec.Rule), string(rec.Status)
	metrics.CommissionsTotal.WithLabelValues(rule, status).Inc()
	metrics.CommissionAmount.WithLabelValues(rule, status).Add(metrics.Float(rec.Amount))

	slog.Info("commission recorded",
		"rule", rule,
		"status", status,
		"sponsor", rec.SponsorID,
		"source", rec.SourceMemberID,
		"amount", rec.Amount.String(),
		"trade_id", rec.TradeRef,
	)

	if rec.Status != model.StatusQualified || e.notifier == nil {
		return
	}
	title := "Referral Bonus Received"
	body := fmt.Sprintf("You received RM%s referral bonus from %s's purchase.", rec.Amount.StringFixed(2), buyer.FullName)
	if rec.Rule == model.RuleOverride {
		title = "Override Bonus Received"
		body = fmt.Sprintf("You received RM%s override bonus from %s.", rec.Amount.StringFixed(2), buyer.FullName)
	}
	n := model.Notification{MemberID: rec.SponsorID, Title: title, Body: body, Category: model.CategoryMarketing}
	if err := e.notifier.Notify(ctx, n); err != nil {
		slog.Warn("commission notification failed", "err", err, "sponsor", rec.SponsorID)
	}
}

func (e *Engine) failed(rule model.CommissionRule, ev model.TradeEvent, err error) error {
	metrics.CommissionFailures.WithLabelValues(string(rule)).Inc()
	slog.Error("commission rule failed", "rule", rule, "trade_id", ev.TradeID, "member", ev.MemberID, "err", err)
	return fmt.Errorf("%s: %w", rule, err)
}
