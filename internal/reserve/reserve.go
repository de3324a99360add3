// Package reserve manages the Reserve Fund ("Dana Khas"): the shared pool
// that receives commissions and bonuses members did not qualify for.
// Every movement is a FUND entry on the RESERVE account.
package reserve

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/goldnet/ledger-engine/internal/apperr"
	"github.com/goldnet/ledger-engine/internal/audit"
	"github.com/goldnet/ledger-engine/internal/metrics"
	"github.com/goldnet/ledger-engine/internal/model"
	"github.com/goldnet/ledger-engine/internal/store"
)

// Fund is the reserve's service API.
type Fund struct {
	store store.Store
	trail *audit.Trail
}

// New creates the reserve service.
func New(st store.Store, trail *audit.Trail) *Fund {
	return &Fund{store: st, trail: trail}
}

// Info is the reserve balance with its latest movements.
type Info struct {
	Balance   decimal.Decimal     `json:"balance"`
	Movements []model.LedgerEntry `json:"movements"`
}

// DepositTx credits the reserve inside the caller's unit. The caller must
// not hold any wallet lock yet, or must have taken the reserve lock first.
func DepositTx(ctx context.Context, tx store.Tx, amount decimal.Decimal, note, actorID, ref string) (*model.LedgerEntry, error) {
	if !amount.IsPositive() {
		return nil, apperr.Invalid("reserve deposit must be positive, got %s", amount)
	}
	balance, err := tx.LockReserve(ctx)
	if err != nil {
		return nil, err
	}
	e := &model.LedgerEntry{
		Stream:  model.StreamFund,
		Amount:  amount,
		Ref:     ref,
		Note:    note,
		ActorID: actorID,
	}
	if err := store.PostReserve(ctx, tx, &balance, e); err != nil {
		return nil, err
	}
	return e, nil
}

// Deposit credits the reserve in its own unit.
func (f *Fund) Deposit(ctx context.Context, amount decimal.Decimal, source, actorID string) (*model.LedgerEntry, error) {
	if actorID == "" {
		return nil, apperr.Invalid("actor id is required")
	}
	amount = amount.Round(2)

	var entry *model.LedgerEntry
	err := f.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		entry, err = DepositTx(ctx, tx, amount, source, actorID, "")
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.ReserveBalance.Set(metrics.Float(entry.BalanceAfter))
	f.trail.Record(ctx, actorID, audit.ActionReserveDeposit,
		fmt.Sprintf("amount=%s source=%s", amount.StringFixed(2), source), "")
	return entry, nil
}

// Withdraw debits the reserve. Only a SUPER_ADMIN actor may withdraw.
func (f *Fund) Withdraw(ctx context.Context, amount decimal.Decimal, destination, purpose, actorID string) (*model.LedgerEntry, error) {
	if actorID == "" {
		return nil, apperr.Invalid("actor id is required")
	}
	amount = amount.Round(2)
	if !amount.IsPositive() {
		return nil, apperr.Invalid("withdrawal must be positive, got %s", amount)
	}
	if destination == "" || purpose == "" {
		return nil, apperr.Invalid("destination and purpose are required")
	}

	var entry *model.LedgerEntry
	err := f.store.InTx(ctx, func(tx store.Tx) error {
		actor, err := tx.GetMember(ctx, actorID)
		if err != nil {
			return err
		}
		if actor.Role != model.RoleSuperAdmin {
			return fmt.Errorf("%w: reserve withdrawal needs %s, actor is %s",
				apperr.ErrUnauthorized, model.RoleSuperAdmin, actor.Role)
		}

		balance, err := tx.LockReserve(ctx)
		if err != nil {
			return err
		}
		if balance.LessThan(amount) {
			return apperr.Shortfall(apperr.ErrInsufficientFunds, amount, balance)
		}
		entry = &model.LedgerEntry{
			Stream:         model.StreamFund,
			Amount:         amount.Neg(),
			CounterpartyID: destination,
			Note:           purpose,
			ActorID:        actorID,
		}
		return store.PostReserve(ctx, tx, &balance, entry)
	})
	if err != nil {
		return nil, err
	}

	metrics.ReserveBalance.Set(metrics.Float(entry.BalanceAfter))
	f.trail.Record(ctx, actorID, audit.ActionReserveWithdraw,
		fmt.Sprintf("amount=%s destination=%s purpose=%s", amount.StringFixed(2), destination, purpose), "")
	return entry, nil
}

// Balance returns the current reserve balance.
func (f *Fund) Balance(ctx context.Context) (decimal.Decimal, error) {
	return f.store.ReserveBalance(ctx)
}

// Movements returns reserve movements, newest first, up to limit (0 = all).
func (f *Fund) Movements(ctx context.Context, limit int) ([]model.LedgerEntry, error) {
	entries, err := f.store.ListEntries(ctx, model.EntryFilter{Account: model.AccountReserve})
	if err != nil {
		return nil, err
	}
	out := make([]model.LedgerEntry, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, entries[i])
	}
	return out, nil
}

// Info returns balance and the latest movements.
func (f *Fund) Info(ctx context.Context, limit int) (*Info, error) {
	balance, err := f.Balance(ctx)
	if err != nil {
		return nil, err
	}
	movements, err := f.Movements(ctx, limit)
	if err != nil {
		return nil, err
	}
	return &Info{Balance: balance, Movements: movements}, nil
}
