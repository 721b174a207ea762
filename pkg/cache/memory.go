package cache

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// memoryItem stores an encoded value with expiration.
type memoryItem struct {
	value    []byte
	expireAt time.Time
}

func (m *memoryItem) expired(now time.Time) bool {
	return now.After(m.expireAt)
}

// MemoryCache implements Service using in-memory storage with LRU eviction.
// Values are JSON encoded so Get behaves like the Redis implementation.
type MemoryCache struct {
	data          map[string]*memoryItem
	access        map[string]time.Time
	mutex         sync.Mutex
	maxSize       int
	cleanupTicker *time.Ticker
	done          chan struct{}
	closeOnce     sync.Once
}

// NewMemoryCache creates an in-memory cache.
func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	cfg := &MemoryConfig{
		MaxSize:         1000,
		CleanupInterval: 5 * time.Minute,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	mc := &MemoryCache{
		data:          make(map[string]*memoryItem),
		access:        make(map[string]time.Time),
		maxSize:       cfg.MaxSize,
		cleanupTicker: time.NewTicker(cfg.CleanupInterval),
		done:          make(chan struct{}),
	}

	go mc.cleanupExpired()
	return mc
}

func encode(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case string:
		return []byte(v), nil
	case *string:
		return []byte(*v), nil
	case []byte:
		return v, nil
	default:
		return json.Marshal(value)
	}
}

func (mc *MemoryCache) Set(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return err
	}

	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	if _, exists := mc.data[key]; !exists && len(mc.data) >= mc.maxSize {
		mc.evictLRU()
	}

	now := time.Now()
	expireAt := now.Add(expiration)
	if expiration <= 0 {
		expireAt = now.Add(7 * 24 * time.Hour) // default 7 days
	}

	mc.data[key] = &memoryItem{value: data, expireAt: expireAt}
	mc.access[key] = now
	return nil
}

func (mc *MemoryCache) Get(_ context.Context, key string, dest interface{}) error {
	mc.mutex.Lock()
	now := time.Now()
	item, exists := mc.data[key]
	if !exists || item.expired(now) {
		if exists {
			delete(mc.data, key)
			delete(mc.access, key)
		}
		mc.mutex.Unlock()
		return ErrCacheMiss
	}
	mc.access[key] = now
	data := item.value
	mc.mutex.Unlock()

	if strPtr, ok := dest.(*string); ok {
		*strPtr = string(data)
		return nil
	}
	return json.Unmarshal(data, dest)
}

func (mc *MemoryCache) Delete(_ context.Context, keys ...string) error {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	for _, key := range keys {
		delete(mc.data, key)
		delete(mc.access, key)
	}
	return nil
}

func (mc *MemoryCache) DeleteByPattern(_ context.Context, pattern string) error {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	prefix := strings.TrimSuffix(pattern, "*")
	for key := range mc.data {
		if key == pattern || (prefix != pattern && strings.HasPrefix(key, prefix)) {
			delete(mc.data, key)
			delete(mc.access, key)
		}
	}
	return nil
}

func (mc *MemoryCache) TryLock(_ context.Context, key, token string, ttl time.Duration) (bool, error) {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	now := time.Now()
	if item, ok := mc.data[key]; ok && !item.expired(now) {
		return false, nil
	}

	mc.data[key] = &memoryItem{value: []byte(token), expireAt: now.Add(ttl)}
	mc.access[key] = now
	return true, nil
}

func (mc *MemoryCache) Unlock(_ context.Context, key, token string) error {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	item, ok := mc.data[key]
	if !ok || item.expired(time.Now()) || string(item.value) != token {
		return ErrLockNotHeld
	}
	delete(mc.data, key)
	delete(mc.access, key)
	return nil
}

func (mc *MemoryCache) evictLRU() {
	if len(mc.data) == 0 {
		return
	}

	var oldestKey string
	oldestTime := time.Now()

	for key, accessTime := range mc.access {
		if accessTime.Before(oldestTime) {
			oldestTime = accessTime
			oldestKey = key
		}
	}

	if oldestKey != "" {
		delete(mc.data, oldestKey)
		delete(mc.access, oldestKey)
	}
}

func (mc *MemoryCache) cleanupExpired() {
	for {
		select {
		case <-mc.done:
			return
		case <-mc.cleanupTicker.C:
		}
		mc.mutex.Lock()
		now := time.Now()
		for key, item := range mc.data {
			if item.expired(now) {
				delete(mc.data, key)
				delete(mc.access, key)
			}
		}
		mc.mutex.Unlock()
	}
}

// Close stops the cleanup goroutine.
func (mc *MemoryCache) Close() error {
	mc.closeOnce.Do(func() {
		mc.cleanupTicker.Stop()
		close(mc.done)
	})
	return nil
}
