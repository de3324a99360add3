package price

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/goldnet/ledger-engine/internal/apperr"
	"github.com/goldnet/ledger-engine/internal/model"
)

// LockStore keeps price locks until they expire or are taken. Take removes
// the lock atomically, so of any number of concurrent callers exactly one
// gets it; the rest see apperr.ErrExpiredLock, as for unknown and expired
// tokens.
type LockStore interface {
	Put(ctx context.Context, lock model.PriceLock) error
	Take(ctx context.Context, token string) (*model.PriceLock, error)
}

// MemoryLockStore is a process-local LockStore. Expired locks are dropped
// when looked up or swept.
type MemoryLockStore struct {
	mu    sync.Mutex
	locks map[string]model.PriceLock
	now   func() time.Time
}

// NewMemoryLockStore creates an empty lock store.
func NewMemoryLockStore() *MemoryLockStore {
	return &MemoryLockStore{
		locks: make(map[string]model.PriceLock),
		now:   time.Now,
	}
}

func (s *MemoryLockStore) Put(_ context.Context, lock model.PriceLock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locks[lock.Token] = lock
	return nil
}

func (s *MemoryLockStore) Take(_ context.Context, token string) (*model.PriceLock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[token]
	if !ok {
		return nil, apperr.ErrExpiredLock
	}
	delete(s.locks, token)
	if !s.now().Before(lock.ExpiresAt) {
		return nil, apperr.ErrExpiredLock
	}
	return &lock, nil
}

// Sweep drops every expired lock and returns how many were removed.
func (s *MemoryLockStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := 0
	for token, lock := range s.locks {
		if !now.Before(lock.ExpiresAt) {
			delete(s.locks, token)
			n++
		}
	}
	return n
}

// RedisLockStore shares price locks across instances. Redis expires the
// key; ExpiresAt is still checked so a lagging TTL never extends a lock.
type RedisLockStore struct {
	rdb *redis.Client
	now func() time.Time
}

// NewRedisLockStore creates a Redis-backed lock store.
func NewRedisLockStore(rdb *redis.Client) *RedisLockStore {
	return &RedisLockStore{rdb: rdb, now: time.Now}
}

func (s *RedisLockStore) Put(ctx context.Context, lock model.PriceLock) error {
	ttl := lock.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return apperr.ErrExpiredLock
	}
	data, err := json.Marshal(lock)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, lockKey(lock.Token), data, ttl).Err()
}

func (s *RedisLockStore) Take(ctx context.Context, token string) (*model.PriceLock, error) {
	data, err := s.rdb.GetDel(ctx, lockKey(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, apperr.ErrExpiredLock
	}
	if err != nil {
		return nil, fmt.Errorf("take price lock: %w", err)
	}
	var lock model.PriceLock
	if err := json.Unmarshal(data, &lock); err != nil {
		return nil, fmt.Errorf("decode price lock: %w", err)
	}
	if !s.now().Before(lock.ExpiresAt) {
		return nil, apperr.ErrExpiredLock
	}
	return &lock, nil
}

func lockKey(token string) string { return "pricelock:" + token }
