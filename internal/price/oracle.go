// Package price keeps the current gold quote, derives member-facing prices
// from the spot price, and issues short-lived price locks that pin a quote
// for a pending trade.
package price

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/goldnet/ledger-engine/internal/apperr"
	"github.com/goldnet/ledger-engine/internal/config"
	"github.com/goldnet/ledger-engine/internal/model"
)

// ErrNoQuote is returned before the first spot price arrives.
var ErrNoQuote = errors.New("price: no quote available")

var hundred = decimal.NewFromInt(100)

// QuoteStore persists quote snapshots.
type QuoteStore interface {
	InsertQuote(ctx context.Context, q *model.PriceQuote) error
	LatestQuote(ctx context.Context) (*model.PriceQuote, error)
}

// SpotSource fetches the spot price per gram in RM. Price sourcing lives
// outside this service; the scheduler polls whichever source is injected.
type SpotSource interface {
	Spot(ctx context.Context) (decimal.Decimal, error)
}

// Oracle owns the current quote. Readers get an immutable snapshot; a new
// spot price replaces the snapshot atomically.
type Oracle struct {
	store    QuoteStore
	settings *config.Settings
	locks    LockStore
	hub      *Hub // optional

	current atomic.Pointer[model.PriceQuote]
	now     func() time.Time
}

// NewOracle creates an oracle. Pass nil for hub if quotes are not pushed
// over WebSocket.
func NewOracle(st QuoteStore, settings *config.Settings, locks LockStore, hub *Hub) *Oracle {
	return &Oracle{
		store:    st,
		settings: settings,
		locks:    locks,
		hub:      hub,
		now:      time.Now,
	}
}

// Load restores the last persisted quote, if any.
func (o *Oracle) Load(ctx context.Context) error {
	q, err := o.store.LatestQuote(ctx)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load quote: %w", err)
	}
	o.current.Store(q)
	return nil
}

// Current returns the latest quote snapshot.
func (o *Oracle) Current() (*model.PriceQuote, error) {
	q := o.current.Load()
	if q == nil {
		return nil, ErrNoQuote
	}
	cp := *q
	return &cp, nil
}

// Quote derives a full quote from a spot price. Per-gram prices are rounded
// to the sen.
func Quote(spot, sellPct, buyPct, purity decimal.Decimal, at time.Time) model.PriceQuote {
	sell := spot.Add(spot.Mul(sellPct).Div(hundred))
	buy := spot.Sub(spot.Mul(buyPct).Div(hundred))
	return model.PriceQuote{
		Spot:          spot,
		Sell:          sell.Round(2),
		Buy:           buy.Round(2),
		Sell916:       sell.Mul(purity).Round(2),
		Buy916:        buy.Mul(purity).Round(2),
		SellSpreadPct: sellPct,
		BuySpreadPct:  buyPct,
		Timestamp:     at.UTC(),
	}
}

// UpdateFromSpot prices a new spot with the configured spreads, persists
// the quote and makes it current.
func (o *Oracle) UpdateFromSpot(ctx context.Context, spot decimal.Decimal) (*model.PriceQuote, error) {
	if !spot.IsPositive() {
		return nil, apperr.Invalid("spot price must be positive, got %s", spot)
	}
	return o.publish(ctx, spot,
		o.settings.Decimal(config.KeySellSpreadPct),
		o.settings.Decimal(config.KeyBuySpreadPct))
}

// SetSpreads stores new spreads and re-prices the last spot with them.
// Before the first spot arrives only the settings change.
func (o *Oracle) SetSpreads(ctx context.Context, sellPct, buyPct decimal.Decimal) (*model.PriceQuote, error) {
	for _, pct := range []decimal.Decimal{sellPct, buyPct} {
		if pct.IsNegative() || pct.GreaterThanOrEqual(hundred) {
			return nil, apperr.Invalid("spread must be in [0, 100), got %s", pct)
		}
	}
	if err := o.settings.Set(ctx, config.KeySellSpreadPct, sellPct.String()); err != nil {
		return nil, err
	}
	if err := o.settings.Set(ctx, config.KeyBuySpreadPct, buyPct.String()); err != nil {
		return nil, err
	}

	last := o.current.Load()
	if last == nil {
		return nil, nil
	}
	return o.publish(ctx, last.Spot, sellPct, buyPct)
}

func (o *Oracle) publish(ctx context.Context, spot, sellPct, buyPct decimal.Decimal) (*model.PriceQuote, error) {
	q := Quote(spot, sellPct, buyPct, o.settings.Decimal(config.KeyPurity916), o.now())
	if err := o.store.InsertQuote(ctx, &q); err != nil {
		return nil, fmt.Errorf("persist quote: %w", err)
	}
	o.current.Store(&q)

	slog.Info("quote updated",
		"spot", spot.StringFixed(2),
		"sell", q.Sell.StringFixed(2),
		"buy", q.Buy.StringFixed(2),
		"sell_spread_pct", sellPct.String(),
	)
	if o.hub != nil {
		o.hub.Publish(q)
	}
	cp := q
	return &cp, nil
}

// LockPrice pins the current quote for memberID's next trade for
// PRICE_LOCK_SECONDS.
func (o *Oracle) LockPrice(ctx context.Context, memberID string) (model.PriceLock, error) {
	if memberID == "" {
		return model.PriceLock{}, apperr.Invalid("member id is required")
	}
	q, err := o.Current()
	if err != nil {
		return model.PriceLock{}, err
	}
	lock := model.PriceLock{
		Token:     uuid.New().String(),
		MemberID:  memberID,
		Quote:     *q,
		ExpiresAt: o.now().Add(o.settings.Duration(config.KeyPriceLockSeconds)),
	}
	if err := o.locks.Put(ctx, lock); err != nil {
		return model.PriceLock{}, fmt.Errorf("store price lock: %w", err)
	}
	return lock, nil
}

// Claim takes the lock behind token for one trade by memberID. A claimed
// lock cannot be claimed again; hand it back with Restore if the trade
// does not commit. A lock held by another member is left in place.
func (o *Oracle) Claim(ctx context.Context, token, memberID string) (*model.PriceLock, error) {
	if token == "" {
		return nil, apperr.ErrExpiredLock
	}
	lock, err := o.locks.Take(ctx, token)
	if err != nil {
		return nil, err
	}
	if lock.MemberID != memberID {
		o.Restore(ctx, *lock)
		return nil, fmt.Errorf("%w: price lock belongs to another member", apperr.ErrUnauthorized)
	}
	return lock, nil
}

// Restore makes a claimed lock available again until its original expiry.
func (o *Oracle) Restore(ctx context.Context, lock model.PriceLock) {
	if !o.now().Before(lock.ExpiresAt) {
		return
	}
	if err := o.locks.Put(ctx, lock); err != nil && !errors.Is(err, apperr.ErrExpiredLock) {
		slog.Warn("restore price lock failed", "err", err)
	}
}
