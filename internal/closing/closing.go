// Package closing runs the monthly and yearly group-sales bonus closings.
//
// A run reads every member's downline sales for the period, pays the tier
// bonus to members who met their personal-sales minimum, sends the rest to
// the reserve fund and finally zeroes the period's personal-sales
// accumulator for everyone. The whole run is one exclusive unit: no trade
// can touch an accumulator between the read and the reset.
package closing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/goldnet/ledger-engine/internal/apperr"
	"github.com/goldnet/ledger-engine/internal/audit"
	"github.com/goldnet/ledger-engine/internal/config"
	"github.com/goldnet/ledger-engine/internal/metrics"
	"github.com/goldnet/ledger-engine/internal/model"
	"github.com/goldnet/ledger-engine/internal/notify"
	"github.com/goldnet/ledger-engine/internal/period"
	"github.com/goldnet/ledger-engine/internal/reserve"
	"github.com/goldnet/ledger-engine/internal/store"
)

// GroupSalesDepth is how many downline levels count toward group sales.
// Sales deeper than this are not counted.
const GroupSalesDepth = 3

// Outcome is the bonus decision for one member.
type Outcome struct {
	MemberID      string                 `json:"member_id"`
	GroupSales    decimal.Decimal        `json:"group_sales"`
	Rate          decimal.Decimal        `json:"rate"`
	Amount        decimal.Decimal        `json:"amount"`
	PersonalGrams decimal.Decimal        `json:"personal_grams"`
	Status        model.CommissionStatus `json:"status"`
}

// Result summarises a closing run. TotalPaid + TotalReserve always equals
// the sum of Outcomes[i].Amount.
type Result struct {
	Period       string           `json:"period"`
	Type         model.PeriodType `json:"type"`
	Processed    int              `json:"processed"`
	TotalPaid    decimal.Decimal  `json:"total_paid"`
	TotalReserve decimal.Decimal  `json:"total_reserve"`
	Outcomes     []Outcome        `json:"outcomes"`
	ResetCount   int              `json:"reset_count"`
}

// Engine runs closings. Only one run may be in progress per process; the
// store's exclusive closing gate serializes runs across processes.
type Engine struct {
	store    store.Store
	settings *config.Settings
	trail    *audit.Trail
	notifier notify.Sink
	running  sync.Mutex
}

// New creates a closing engine. notifier may be nil.
func New(st store.Store, settings *config.Settings, trail *audit.Trail, notifier notify.Sink) *Engine {
	return &Engine{store: st, settings: settings, trail: trail, notifier: notifier}
}

// RunMonthly closes a YYYY-MM period.
func (e *Engine) RunMonthly(ctx context.Context, tag, actorID string) (*Result, error) {
	return e.run(ctx, model.PeriodMonthly, tag, actorID)
}

// RunYearly closes a YYYY-YEARLY period.
func (e *Engine) RunYearly(ctx context.Context, tag, actorID string) (*Result, error) {
	return e.run(ctx, model.PeriodYearly, tag, actorID)
}

func (e *Engine) run(ctx context.Context, pt model.PeriodType, tag, actorID string) (*Result, error) {
	if actorID == "" {
		return nil, apperr.Invalid("actor id is required")
	}
	p, err := period.ParseAs(tag, pt)
	if err != nil {
		return nil, apperr.Invalid("%v", err)
	}
	if !e.running.TryLock() {
		return nil, apperr.ErrClosingInProgress
	}
	defer e.running.Unlock()

	start := time.Now()
	slog.Info("closing started", "period", p.Tag, "type", pt, "actor", actorID)

	var result *Result
	err = e.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		result, err = e.close(ctx, tx, p, actorID)
		return err
	})

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.ClosingRuns.WithLabelValues(string(pt), outcome).Inc()
	metrics.ClosingDuration.WithLabelValues(string(pt)).Observe(time.Since(start).Seconds())
	if err != nil {
		slog.Error("closing failed", "period", p.Tag, "err", err)
		return nil, err
	}

	e.trail.Record(ctx, actorID, audit.ActionClosing,
		fmt.Sprintf("period=%s processed=%d paid=%s reserve=%s reset=%d", p.Tag, result.Processed,
			result.TotalPaid.StringFixed(2), result.TotalReserve.StringFixed(2), result.ResetCount), "")
	e.notifyPaid(ctx, result)

	slog.Info("closing complete",
		"period", p.Tag,
		"processed", result.Processed,
		"total_paid", result.TotalPaid.String(),
		"total_reserve", result.TotalReserve.String(),
		"reset", result.ResetCount,
		"duration", time.Since(start),
	)
	return result, nil
}

func (e *Engine) close(ctx context.Context, tx store.Tx, p period.Period, actorID string) (*Result, error) {
	if err := tx.LockClosing(ctx, true); err != nil {
		return nil, err
	}
	// Reserve comes before any wallet in the lock order.
	if _, err := tx.LockReserve(ctx); err != nil {
		return nil, err
	}

	members, err := tx.ListMembers(ctx)
	if err != nil {
		return nil, err
	}
	sales, err := tx.SalesByMember(ctx, p.Start, p.End)
	if err != nil {
		return nil, err
	}
	children := Downlines(members)
	tiers := e.settings.Tiers(p.Type)
	minGrams := e.settings.MinPersonalGrams(p.Type)
	rule := model.RuleMonthlyGroup
	if p.Type == model.PeriodYearly {
		rule = model.RuleYearlyGroup
	}

	res := &Result{Period: p.Tag, Type: p.Type, TotalPaid: decimal.Zero, TotalReserve: decimal.Zero}
	for i := range members {
		m := &members[i]
		if m.Role != model.RoleMember || !m.Active {
			continue
		}
		group := GroupSales(m.ID, children, sales, GroupSalesDepth)
		if !group.IsPositive() {
			continue
		}
		tier, ok := SelectTier(tiers, group)
		if !ok {
			continue
		}
		amount := group.Mul(tier.Rate).Round(2)
		if !amount.IsPositive() {
			continue
		}

		out := Outcome{
			MemberID:      m.ID,
			GroupSales:    group,
			Rate:          tier.Rate,
			Amount:        amount,
			PersonalGrams: m.PersonalSales(p.Type),
		}
		rec := &model.CommissionRecord{SponsorID: m.ID, Period: p.Tag, Rule: rule, Amount: amount}

		if out.PersonalGrams.GreaterThanOrEqual(minGrams) {
			out.Status = model.StatusQualified
			w, err := tx.LockWallet(ctx, m.ID)
			if err != nil {
				return nil, err
			}
			if err := store.PostWallet(ctx, tx, w, &model.LedgerEntry{
				Stream:  model.StreamBonus,
				Account: model.AccountCredit,
				Amount:  amount,
				GrossRM: group,
				Period:  p.Tag,
				Note:    fmt.Sprintf("%s group bonus at %s", rule, tier.Rate),
				ActorID: actorID,
			}); err != nil {
				return nil, err
			}
			if err := tx.SaveWallet(ctx, w); err != nil {
				return nil, err
			}
			res.TotalPaid = res.TotalPaid.Add(amount)
		} else {
			out.Status = model.StatusUnqualified
			if _, err := reserve.DepositTx(ctx, tx, amount,
				fmt.Sprintf("UNQ_%s_%s", p.Type, m.MemberCode), actorID, p.Tag); err != nil {
				return nil, err
			}
			res.TotalReserve = res.TotalReserve.Add(amount)
		}

		rec.Status = out.Status
		rec.Note = fmt.Sprintf("group sales %s, personal %sg", group.StringFixed(2), out.PersonalGrams)
		if err := tx.InsertCommission(ctx, rec); err != nil {
			return nil, err
		}
		res.Outcomes = append(res.Outcomes, out)
		res.Processed++
	}

	n, err := tx.ResetPersonalSales(ctx, p.Type)
	if err != nil {
		return nil, fmt.Errorf("reset personal sales: %w", err)
	}
	res.ResetCount = n
	return res, nil
}

// Downlines indexes members by sponsor. Children keep the order of members.
func Downlines(members []model.Member) map[string][]string {
	children := make(map[string][]string)
	for _, m := range members {
		if m.SponsorID != nil {
			children[*m.SponsorID] = append(children[*m.SponsorID], m.ID)
		}
	}
	return children
}

// GroupSales sums sales of root's downline up to maxDepth levels below it.
// The root's own sales are not included. A visited set guards against
// malformed sponsor cycles.
func GroupSales(root string, children map[string][]string, sales map[string]decimal.Decimal, maxDepth int) decimal.Decimal {
	type item struct {
		id    string
		depth int
	}
	total := decimal.Zero
	visited := map[string]bool{root: true}
	queue := []item{{root, 0}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.depth == maxDepth {
			continue
		}
		for _, child := range children[cur.id] {
			if visited[child] {
				continue
			}
			visited[child] = true
			total = total.Add(sales[child])
			queue = append(queue, item{child, cur.depth + 1})
		}
	}
	return total
}

// SelectTier returns the highest tier whose threshold group reaches.
// tiers must be ordered highest threshold first.
func SelectTier(tiers []config.Tier, group decimal.Decimal) (config.Tier, bool) {
	for _, t := range tiers {
		if group.GreaterThanOrEqual(t.Threshold) {
			return t, true
		}
	}
	return config.Tier{}, false
}

func (e *Engine) notifyPaid(ctx context.Context, res *Result) {
	if e.notifier == nil {
		return
	}
	label := "Monthly"
	if res.Type == model.PeriodYearly {
		label = "Yearly"
	}
	var errs []error
	for _, o := range res.Outcomes {
		if o.Status != model.StatusQualified {
			continue
		}
		errs = append(errs, e.notifier.Notify(ctx, model.Notification{
			MemberID: o.MemberID,
			Title:    label + " Bonus Credited",
			Body:     fmt.Sprintf("Your %s group bonus of RM%s for %s has been credited.", label, o.Amount.StringFixed(2), res.Period),
			Category: model.CategorySuccess,
		}))
	}
	if err := errors.Join(errs...); err != nil {
		slog.Warn("closing notifications failed", "period", res.Period, "err", err)
	}
}
