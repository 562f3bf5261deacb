package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/alanyoungcy/marketledger/internal/domain"
)

const guardPrefix = "market:"

func itemKey(id domain.ItemID) string {
	return "item:" + strconv.FormatUint(uint64(id), 10)
}

func collectionKey(id domain.CollectionID) string {
	return "collection:" + strconv.FormatUint(uint64(id), 10)
}

const (
	createItemKey       = "create:item"
	createCollectionKey = "create:collection"
)

// guard is the per-entity reentrancy guard. A key stays held for the whole
// operation; any nested call that needs it fails with ErrReentrant.
type guard struct {
	locks domain.LockManager
	ttl   time.Duration
}

// enter acquires every key or none of them. The returned release function
// must be called on every exit path.
func (g guard) enter(ctx context.Context, keys ...string) (func(), error) {
	unlocks := make([]func(), 0, len(keys))
	release := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
	for _, k := range keys {
		unlock, err := g.locks.Acquire(ctx, guardPrefix+k, g.ttl)
		if err != nil {
			release()
			if errors.Is(err, domain.ErrLockHeld) {
				return nil, fmt.Errorf("%w: %s", domain.ErrReentrant, k)
			}
			return nil, fmt.Errorf("ledger: guard %s: %w", k, err)
		}
		unlocks = append(unlocks, unlock)
	}
	return release, nil
}

// LocalLocks is an in-process try-lock table. The ttl argument is ignored:
// keys are held until their unlock function runs.
type LocalLocks struct {
	mu   sync.Mutex
	held map[string]struct{}
}

var _ domain.LockManager = (*LocalLocks)(nil)

// NewLocalLocks returns an empty lock table.
func NewLocalLocks() *LocalLocks {
	return &LocalLocks{held: make(map[string]struct{})}
}

// Acquire takes key or returns domain.ErrLockHeld without waiting.
func (l *LocalLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return nil, domain.ErrLockHeld
	}
	l.held[key] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}

// Held reports whether key is currently taken.
func (l *LocalLocks) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[key]
	return ok
}
