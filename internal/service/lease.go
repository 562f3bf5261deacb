package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/marketledger/internal/domain"
)

// LeaseAcquirer hands out renewable leases.
type LeaseAcquirer interface {
	AcquireLease(ctx context.Context, key string, ttl time.Duration) (domain.Lease, error)
}

// WriterLease keeps this instance the single writer of a shared database.
type WriterLease struct {
	locks  LeaseAcquirer
	key    string
	ttl    time.Duration
	logger *slog.Logger
	lease  domain.Lease
}

// NewWriterLease creates a WriterLease on key.
func NewWriterLease(locks LeaseAcquirer, key string, ttl time.Duration, logger *slog.Logger) *WriterLease {
	return &WriterLease{
		locks:  locks,
		key:    key,
		ttl:    ttl,
		logger: logger.With(slog.String("component", "writer_lease")),
	}
}

// Acquire takes the lease. It fails with domain.ErrLockHeld when another
// instance holds it.
func (w *WriterLease) Acquire(ctx context.Context) error {
	l, err := w.locks.AcquireLease(ctx, w.key, w.ttl)
	if err != nil {
		return fmt.Errorf("writer_lease: %w", err)
	}
	w.lease = l
	w.logger.InfoContext(ctx, "writer_lease: acquired", slog.String("key", w.key), slog.Duration("ttl", w.ttl))
	return nil
}

// Hold renews the lease at a third of its TTL until ctx is cancelled, then
// releases it. Losing the lease is returned as an error so the process
// stops writing.
func (w *WriterLease) Hold(ctx context.Context) error {
	if w.lease == nil {
		return fmt.Errorf("writer_lease: not acquired")
	}
	defer w.lease.Release()

	ticker := time.NewTicker(w.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("writer_lease: released", slog.String("key", w.key))
			return nil
		case <-ticker.C:
			if err := w.lease.Extend(ctx, w.ttl); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				w.logger.ErrorContext(ctx, "writer_lease: lost", slog.String("error", err.Error()))
				return fmt.Errorf("writer_lease: %w", err)
			}
		}
	}
}
