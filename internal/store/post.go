package store

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/goldnet/ledger-engine/internal/apperr"
	"github.com/goldnet/ledger-engine/internal/model"
)

// PostWallet applies e.Amount to the wallet field behind e.Account, stamps
// BalanceAfter and appends the entry. The caller saves the wallet.
func PostWallet(ctx context.Context, tx Tx, w *model.Wallet, e *model.LedgerEntry) error {
	before := w.Balance(e.Account)
	after := before.Add(e.Amount)
	if after.IsNegative() {
		return apperr.Shortfall(apperr.ErrInsufficientBalance, e.Amount.Neg(), before)
	}
	w.SetBalance(e.Account, after)
	e.MemberID = w.MemberID
	e.BalanceAfter = after
	return tx.AppendEntry(ctx, e)
}

// PostStock applies a STOCK entry to the locked stock position.
func PostStock(ctx context.Context, tx Tx, stock *model.StockPosition, e *model.LedgerEntry) error {
	after := stock.Grams.Add(e.Amount)
	if after.IsNegative() {
		return apperr.Shortfall(apperr.ErrInsufficientStock, e.Amount.Neg(), stock.Grams)
	}
	stock.Grams = after
	e.Account = model.AccountStock
	e.BalanceAfter = after
	if err := tx.AppendEntry(ctx, e); err != nil {
		return err
	}
	return tx.SaveStock(ctx, after)
}

// PostReserve applies a RESERVE entry to the locked reserve balance.
func PostReserve(ctx context.Context, tx Tx, balance *decimal.Decimal, e *model.LedgerEntry) error {
	after := balance.Add(e.Amount)
	if after.IsNegative() {
		return apperr.Shortfall(apperr.ErrInsufficientFunds, e.Amount.Neg(), *balance)
	}
	*balance = after
	e.Account = model.AccountReserve
	e.BalanceAfter = after
	if err := tx.AppendEntry(ctx, e); err != nil {
		return err
	}
	return tx.SaveReserve(ctx, after)
}
