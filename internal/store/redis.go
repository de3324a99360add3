package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/goldnet/ledger-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for wallets and the latest quote. Units run against the primary;
// wallets saved inside a unit are evicted once it commits, and their
// version key is bumped so a read that overlapped the commit never writes
// its older row back. Everything not cached passes straight through to the
// primary.
type CachedStore struct {
	Store
	rdb *redis.Client
	ttl time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		Store: primary,
		rdb:   rdb,
		ttl:   ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	var touched []string
	err := s.Store.InTx(ctx, func(tx Tx) error {
		touched = touched[:0]
		return fn(&cachedTx{Tx: tx, touched: &touched})
	})
	if err != nil {
		return err
	}
	if len(touched) > 0 {
		_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
			for _, id := range touched {
				p.Incr(ctx, walletVersionKey(id))
				p.Del(ctx, walletKey(id))
			}
			return nil
		})
		if err != nil {
			slog.Warn("wallet cache eviction failed", "err", err, "wallets", len(touched))
		}
	}
	return nil
}

func (s *CachedStore) InsertQuote(ctx context.Context, q *model.PriceQuote) error {
	if err := s.Store.InsertQuote(ctx, q); err != nil {
		return err
	}
	s.cache(ctx, quoteKey, q)
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetWallet(ctx context.Context, memberID string) (*model.Wallet, error) {
	var w model.Wallet
	if s.lookup(ctx, walletKey(memberID), &w) {
		return &w, nil
	}

	// Cache miss: read from primary under WATCH of the version key. A
	// commit in between aborts the fill.
	var (
		wp      *model.Wallet
		readErr error
	)
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		if wp, readErr = s.Store.GetWallet(ctx, memberID); readErr != nil {
			return readErr
		}
		data, err := json.Marshal(wp)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, walletKey(memberID), data, s.ttl)
			return nil
		})
		return err
	}, walletVersionKey(memberID))
	switch {
	case readErr != nil:
		return nil, readErr
	case wp == nil:
		slog.Warn("wallet cache unavailable", "err", err)
		return s.Store.GetWallet(ctx, memberID)
	case err != nil && !errors.Is(err, redis.TxFailedErr):
		slog.Warn("wallet cache fill failed", "err", err)
	}
	return wp, nil
}

func (s *CachedStore) LatestQuote(ctx context.Context) (*model.PriceQuote, error) {
	var q model.PriceQuote
	if s.lookup(ctx, quoteKey, &q) {
		return &q, nil
	}

	qp, err := s.Store.LatestQuote(ctx)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, quoteKey, qp)
	return qp, nil
}

// cachedTx records which wallets a unit saved.
type cachedTx struct {
	Tx
	touched *[]string
}

func (t *cachedTx) SaveWallet(ctx context.Context, w *model.Wallet) error {
	if err := t.Tx.SaveWallet(ctx, w); err != nil {
		return err
	}
	*t.touched = append(*t.touched, w.MemberID)
	return nil
}

// --- Cache helpers ---

func (s *CachedStore) lookup(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *CachedStore) cache(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

const quoteKey = "quote:latest"

func walletKey(memberID string) string { return fmt.Sprintf("wallet:%s", memberID) }

func walletVersionKey(memberID string) string { return fmt.Sprintf("wallet:%s:ver", memberID) }

// Uncached returns the primary behind a CachedStore, or st itself.
func Uncached(st Store) Store {
	if c, ok := st.(*CachedStore); ok {
		return c.Store
	}
	return st
}
