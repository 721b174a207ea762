package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vijayshreepathak/QuantAlert/pkg/cache"
)

// RuleLocker serializes the fire sequence of a single rule.
type RuleLocker interface {
	Lock(ctx context.Context, ruleID int64) (unlock func(), err error)
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

// KeyedMutex is an in-process RuleLocker. Entries are dropped once nobody holds or waits on them.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[int64]*keyedEntry
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[int64]*keyedEntry)}
}

func (k *KeyedMutex) Lock(_ context.Context, ruleID int64) (func(), error) {
	k.mu.Lock()
	e, ok := k.locks[ruleID]
	if !ok {
		e = &keyedEntry{}
		k.locks[ruleID] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, ruleID)
		}
		k.mu.Unlock()
	}, nil
}

// CacheLocker takes the rule lock through cache.Service.TryLock (Redis SETNX when Redis is enabled),
// so several instances evaluating the same symbol do not double-fire a rule. Every acquisition
// carries its own token, so an unlock after the TTL ran out cannot free another holder's lock.
type CacheLocker struct {
	cache cache.Service
	ttl   time.Duration
	retry time.Duration
}

func NewCacheLocker(c cache.Service, ttl time.Duration) *CacheLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &CacheLocker{cache: c, ttl: ttl, retry: 20 * time.Millisecond}
}

func (l *CacheLocker) Lock(ctx context.Context, ruleID int64) (func(), error) {
	key := cache.Key("lock:rule", ruleID)
	token := uuid.NewString()
	for {
		ok, err := l.cache.TryLock(ctx, key, token, l.ttl)
		if err != nil {
			return nil, fmt.Errorf("lock rule %d: %w", ruleID, err)
		}
		if ok {
			return func() {
				uctx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				_ = l.cache.Unlock(uctx, key, token)
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retry):
		}
	}
}
