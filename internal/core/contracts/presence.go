package contracts

import (
	"context"
	"time"
)

// ConnectionRegistry maps a realtime connection to its owning account with a
// sliding expiration. Only used when a disconnect lost the account context.
type ConnectionRegistry interface {
	// BindConnection stores connID -> accountID and (re)starts its TTL.
	BindConnection(ctx context.Context, connID, accountID string, ttl time.Duration) error
	// ResolveConnection returns "" when the mapping is gone.
	ResolveConnection(ctx context.Context, connID string) (string, error)
	UnbindConnection(ctx context.Context, connID string) error
}

// OnlineCounter counts open realtime connections per account. Every method
// is a single-key atomic operation and the counter never goes below zero.
type OnlineCounter interface {
	// IncrementOnline adds one connection and refreshes the TTL.
	IncrementOnline(ctx context.Context, accountID string, ttl time.Duration) (int64, error)
	// DecrementOnline removes one connection, pins the result at 0 and refreshes the TTL.
	DecrementOnline(ctx context.Context, accountID string, ttl time.Duration) (int64, error)
	// EnsureOnline sets the counter to 1 when missing or non-positive,
	// otherwise only refreshes the TTL. Returns the resulting count.
	EnsureOnline(ctx context.Context, accountID string, ttl time.Duration) (int64, error)
	// OnlineCount returns 0 for a missing counter.
	OnlineCount(ctx context.Context, accountID string) (int64, error)
	OnlineCounts(ctx context.Context, accountIDs []string) (map[string]int64, error)
}

// DueCandidate is a schedule entry as it was read by Due.
type DueCandidate struct {
	Member string
	DueAt  time.Time
}

// OfflineSchedule is the time-ordered set of offline candidates; one entry
// per account, re-scheduling overwrites the due time.
type OfflineSchedule interface {
	Schedule(ctx context.Context, accountID string, dueAt time.Time) error
	Cancel(ctx context.Context, accountID string) error
	// Due returns up to limit raw members with dueAt <= now, earliest first.
	Due(ctx context.Context, now time.Time, limit int) ([]DueCandidate, error)
	// DueAt reports the pending due time of accountID, if any.
	DueAt(ctx context.Context, accountID string) (time.Time, bool, error)
	// Remove deletes each candidate only while its due time is unchanged, so
	// an entry re-scheduled after Due survives. Returns how many were removed.
	Remove(ctx context.Context, candidates ...DueCandidate) (int, error)
}

// Locker is a create-if-absent marker with a TTL. There is no unlock: the
// marker expires on its own.
type Locker interface {
	TryAcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// WindowCounter backs the fixed-window snapshot rate limiter.
type WindowCounter interface {
	// IncrementWindow increments key and sets ttl on the first hit.
	IncrementWindow(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// WindowTTL returns the remaining lifetime of key.
	WindowTTL(ctx context.Context, key string) (time.Duration, error)
}
