// Package store defines the persistence interface for the ledger engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache over wallets and quotes), and in-memory (for testing).
//
// Every balance mutation happens inside InTx. A Tx hands out row locks in a
// fixed order: closing gate, stock, reserve, then wallets by ascending
// member id. Code running inside InTx must only use the Tx, never the
// Store's own readers.
package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/goldnet/ledger-engine/internal/model"
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// InTx runs fn in one atomic unit. Any error returned by fn rolls back
	// every write fn made.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	// --- Members and balances ---

	// CreateMember persists a member together with an all-zero wallet.
	CreateMember(ctx context.Context, m *model.Member) error
	GetMember(ctx context.Context, id string) (*model.Member, error)
	ListMembers(ctx context.Context) ([]model.Member, error)
	GetWallet(ctx context.Context, memberID string) (*model.Wallet, error)
	GetStock(ctx context.Context) (model.StockPosition, error)
	ReserveBalance(ctx context.Context) (decimal.Decimal, error)

	// --- Journal reads ---

	// ListEntries returns matching entries ordered by Seq.
	ListEntries(ctx context.Context, f model.EntryFilter) ([]model.LedgerEntry, error)
	// SumEntries sums Amount over matching entries.
	SumEntries(ctx context.Context, f model.EntryFilter) (decimal.Decimal, error)
	ListCommissions(ctx context.Context, f model.CommissionFilter) ([]model.CommissionRecord, error)

	// --- Price snapshots ---

	InsertQuote(ctx context.Context, q *model.PriceQuote) error
	// LatestQuote returns apperr.ErrNotFound before the first quote.
	LatestQuote(ctx context.Context) (*model.PriceQuote, error)

	// --- Settings ---

	LoadSettings(ctx context.Context) (map[string]string, error)
	SaveSetting(ctx context.Context, key, value string) error

	// --- Top-up requests ---

	CreateTopUp(ctx context.Context, r *model.TopUpRequest) error
	GetTopUp(ctx context.Context, id string) (*model.TopUpRequest, error)
	// ListTopUps filters by status; empty status lists all.
	ListTopUps(ctx context.Context, status model.TopUpStatus) ([]model.TopUpRequest, error)

	// --- Audit trail ---

	InsertAudit(ctx context.Context, e *model.AuditEntry) error
	ListAudit(ctx context.Context, limit int) ([]model.AuditEntry, error)
}

// Tx is the view of the store inside one atomic unit.
type Tx interface {
	// LockClosing takes the closing gate. Trades take it shared, closing
	// runs take it exclusive.
	LockClosing(ctx context.Context, exclusive bool) error

	GetMember(ctx context.Context, id string) (*model.Member, error)
	ListMembers(ctx context.Context) ([]model.Member, error)
	AddPersonalSales(ctx context.Context, memberID string, grams decimal.Decimal) error
	// ResetPersonalSales zeroes the accumulator for pt on every member and
	// returns how many members were touched.
	ResetPersonalSales(ctx context.Context, pt model.PeriodType) (int, error)
	SetMembershipExpiry(ctx context.Context, memberID string, expiry time.Time) error

	LockStock(ctx context.Context) (model.StockPosition, error)
	SaveStock(ctx context.Context, grams decimal.Decimal) error
	LockReserve(ctx context.Context) (decimal.Decimal, error)
	SaveReserve(ctx context.Context, balance decimal.Decimal) error
	LockWallet(ctx context.Context, memberID string) (*model.Wallet, error)
	SaveWallet(ctx context.Context, w *model.Wallet) error

	// AppendEntry assigns ID (if empty), Seq and CreatedAt (if zero) and
	// appends e to the journal.
	AppendEntry(ctx context.Context, e *model.LedgerEntry) error
	// SalesByMember sums SALES GrossRM per member over [from, to).
	SalesByMember(ctx context.Context, from, to time.Time) (map[string]decimal.Decimal, error)

	InsertCommission(ctx context.Context, r *model.CommissionRecord) error
	SumCommissions(ctx context.Context, f model.CommissionFilter) (decimal.Decimal, error)

	LockTopUp(ctx context.Context, id string) (*model.TopUpRequest, error)
	SaveTopUp(ctx context.Context, r *model.TopUpRequest) error
}
