package models

import "errors"

var (
	// ErrProviderUnavailable marks an authentication or initialization failure of a feed provider.
	ErrProviderUnavailable = errors.New("provider unavailable")
	// ErrTransientFetch marks a single failed poll; the provider stays active.
	ErrTransientFetch = errors.New("transient fetch error")
	// ErrStaleData marks a value that failed the freshness check.
	ErrStaleData = errors.New("stale data")
	// ErrRuleResolutionMiss means there is no data behind a rule's value source yet.
	ErrRuleResolutionMiss = errors.New("rule resolution miss")
	ErrNotificationFailed = errors.New("notification failed")
	ErrPersistence        = errors.New("persistence failure")
	ErrNotFound           = errors.New("not found")
	// ErrRuleInactive is returned when a one-shot rule was already deactivated by a concurrent firing.
	ErrRuleInactive = errors.New("rule inactive")
	// ErrBucketClosed rejects a tick whose bucket window ended before the wall clock.
	ErrBucketClosed = errors.New("bucket closed")
)
