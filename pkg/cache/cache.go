package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrCacheMiss = errors.New("cache: key not found")
	// ErrLockNotHeld is returned by Unlock when the lock expired or belongs to another token.
	ErrLockNotHeld = errors.New("cache: lock not held")
)

// Service defines cache operations interface.
type Service interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	// Get decodes the stored value into dest; *string receives the raw payload.
	Get(ctx context.Context, key string, dest interface{}) error
	Delete(ctx context.Context, keys ...string) error
	// DeleteByPattern removes keys matching a trailing-wildcard pattern such as "rules:*".
	DeleteByPattern(ctx context.Context, pattern string) error
	// TryLock takes key for ttl on behalf of token. Only the same token can Unlock it.
	TryLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key, token string) error
	Close() error
}

// Key joins a prefix and parameters with ':'.
func Key(prefix string, params ...interface{}) string {
	key := prefix
	for _, param := range params {
		key = fmt.Sprintf("%s:%v", key, param)
	}
	return key
}
