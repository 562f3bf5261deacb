package domain

import (
	"context"
	"time"
)

// LockManager provides try-locks. Acquire never waits: it returns
// ErrLockHeld when the key is taken.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// Lease is a renewable exclusive hold on a key.
type Lease interface {
	// Extend pushes the expiry out by ttl. It returns ErrLockHeld when the
	// lease has been lost to another holder.
	Extend(ctx context.Context, ttl time.Duration) error
	Release()
}

// RateLimiter provides shared request rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
