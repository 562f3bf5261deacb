package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketledger/internal/domain"
)

type fakeLease struct {
	extends  atomic.Int32
	failAt   int32
	released atomic.Bool
}

func (l *fakeLease) Extend(context.Context, time.Duration) error {
	if n := l.extends.Add(1); l.failAt > 0 && n >= l.failAt {
		return fmt.Errorf("%w: lost", domain.ErrLockHeld)
	}
	return nil
}

func (l *fakeLease) Release() { l.released.Store(true) }

type fakeLeases struct {
	lease *fakeLease
	err   error
}

func (f fakeLeases) AcquireLease(context.Context, string, time.Duration) (domain.Lease, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.lease, nil
}

func TestWriterLeaseLost(t *testing.T) {
	l := &fakeLease{failAt: 2}
	w := NewWriterLease(fakeLeases{lease: l}, "marketd:writer", 30*time.Millisecond, discard())
	require.NoError(t, w.Acquire(context.Background()))

	err := w.Hold(context.Background())
	require.ErrorIs(t, err, domain.ErrLockHeld)
	assert.True(t, l.released.Load())
}

func TestWriterLeaseReleasedOnCancel(t *testing.T) {
	l := &fakeLease{}
	w := NewWriterLease(fakeLeases{lease: l}, "k", 30*time.Millisecond, discard())
	require.NoError(t, w.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, w.Hold(ctx))
	assert.True(t, l.released.Load())
}

func TestWriterLeaseHeldElsewhere(t *testing.T) {
	w := NewWriterLease(fakeLeases{err: domain.ErrLockHeld}, "k", time.Second, discard())
	require.ErrorIs(t, w.Acquire(context.Background()), domain.ErrLockHeld)
	require.Error(t, w.Hold(context.Background()))
}
