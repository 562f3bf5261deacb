// Package ledger implements the marketplace ledger: item and collection
// records, the listing and sale state machine, and the read projections over
// them. Every mutating operation is all-or-nothing: a rejected call leaves
// the tables, indices, counters and journaled collaborator balances exactly
// as they were.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/marketledger/internal/domain"
)

// Config carries the marketplace constants.
type Config struct {
	// Address is the custody account holding escrowed assets and fees.
	Address common.Address
	// FeeCollector receives the listing fee when an item sells.
	FeeCollector common.Address
	ListingFee   uint256.Int
	// MintingFee is reported by GetMintingPrice and not charged.
	MintingFee uint256.Int
	// GuardTTL is passed to the lock manager for every guard key.
	GuardTTL time.Duration
}

// Call is the execution context of one mutating operation.
type Call struct {
	Caller common.Address
	Value  uint256.Int
}

// Observer is told the outcome of every top-level and nested operation.
type Observer interface {
	ObserveOperation(op string, err error, elapsed time.Duration)
}

// Option configures a Marketplace.
type Option func(*Marketplace)

// WithStore enables write-through persistence of every committed operation.
func WithStore(s domain.LedgerStore) Option {
	return func(m *Marketplace) { m.store = s }
}

// WithLocks replaces the in-process guard lock table.
func WithLocks(l domain.LockManager) Option {
	return func(m *Marketplace) { m.guard.locks = l }
}

// WithSinks registers event sinks. Events reach them in commit order.
func WithSinks(sinks ...domain.EventSink) Option {
	return func(m *Marketplace) { m.sinks = append(m.sinks, sinks...) }
}

// WithObserver sets the operation observer.
func WithObserver(o Observer) Option {
	return func(m *Marketplace) { m.observer = o }
}

// WithClock overrides the time source used for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Marketplace) { m.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Marketplace) { m.logger = l }
}

// Marketplace is the explicit store owning the counters, tables and indices.
// Item and collection behaviour live in their own ledgers, reached by
// delegation.
type Marketplace struct {
	cfg    Config
	ids    *Allocator
	assets domain.AssetRegistry
	funds  domain.Funds

	// mu is the sequencer: top-level mutations take it exclusively, reads
	// share it. Nested calls run under the holder's lock.
	mu    sync.RWMutex
	st    *state
	guard guard
	seq   uint64

	// Sink delivery is ticketed by sequence: an operation emits only once
	// every earlier sequence has been delivered.
	emitMu    sync.Mutex
	emitTurn  *sync.Cond
	delivered uint64

	items       itemLedger
	collections collectionLedger

	store    domain.LedgerStore
	sinks    []domain.EventSink
	observer Observer
	now      func() time.Time
	logger   *slog.Logger
}

// New builds an empty marketplace over the given collaborators.
func New(cfg Config, ids *Allocator, assets domain.AssetRegistry, funds domain.Funds, opts ...Option) *Marketplace {
	if ids == nil {
		ids = NewAllocator()
	}
	m := &Marketplace{
		cfg:    cfg,
		ids:    ids,
		assets: assets,
		funds:  funds,
		st:     newState(),
		guard:  guard{locks: NewLocalLocks(), ttl: cfg.GuardTTL},
		now:    time.Now,
		logger: slog.Default(),
	}
	m.emitTurn = sync.NewCond(&m.emitMu)
	m.items = itemLedger{m: m}
	m.collections = collectionLedger{m: m}
	for _, o := range opts {
		o(m)
	}
	m.logger = m.logger.With(slog.String("component", "ledger"))
	return m
}

// Address returns the custody account.
func (m *Marketplace) Address() common.Address { return m.cfg.Address }

// CreateCollection registers a collection backed by one unit of badge.
func (m *Marketplace) CreateCollection(ctx context.Context, call Call, badge domain.AssetID) (domain.CollectionID, error) {
	var id domain.CollectionID
	err := m.run(ctx, "create_collection", []string{createCollectionKey}, func(ctx context.Context, tx *txn) error {
		var err error
		id, err = m.collections.create(ctx, tx, call, badge)
		return err
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// AddItemToCollection groups an existing item under a collection the caller
// owns.
func (m *Marketplace) AddItemToCollection(ctx context.Context, call Call, cid domain.CollectionID, iid domain.ItemID) error {
	return m.run(ctx, "add_item_to_collection", []string{collectionKey(cid), itemKey(iid)}, func(ctx context.Context, tx *txn) error {
		return m.collections.add(ctx, tx, call, cid, iid)
	})
}

// RemoveItemFromCollection ungroups a member item.
func (m *Marketplace) RemoveItemFromCollection(ctx context.Context, call Call, cid domain.CollectionID, iid domain.ItemID) error {
	return m.run(ctx, "remove_item_from_collection", []string{collectionKey(cid), itemKey(iid)}, func(ctx context.Context, tx *txn) error {
		return m.collections.remove(ctx, tx, call, cid, iid)
	})
}

// CreateItem takes one unit of asset into custody and records it as a new
// item. The collection is attached only when price is non-zero.
func (m *Marketplace) CreateItem(ctx context.Context, call Call, asset domain.AssetID, price uint256.Int, cid domain.CollectionID) (domain.ItemID, error) {
	keys := []string{createItemKey}
	if cid != 0 && !price.IsZero() {
		keys = append(keys, collectionKey(cid))
	}
	var id domain.ItemID
	err := m.run(ctx, "create_item", keys, func(ctx context.Context, tx *txn) error {
		var err error
		id, err = m.items.create(ctx, tx, call, asset, price, cid)
		return err
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// ListItemForSale places an item on sale. call.Value must equal the listing
// fee.
func (m *Marketplace) ListItemForSale(ctx context.Context, call Call, iid domain.ItemID, price uint256.Int) error {
	return m.run(ctx, "list_item", []string{itemKey(iid)}, func(ctx context.Context, tx *txn) error {
		return m.items.list(ctx, tx, call, iid, price)
	})
}

// RemoveItemSaleListing takes an item off sale. call.Value must equal the
// listing fee, which is not refunded.
func (m *Marketplace) RemoveItemSaleListing(ctx context.Context, call Call, iid domain.ItemID) error {
	return m.run(ctx, "delist_item", []string{itemKey(iid)}, func(ctx context.Context, tx *txn) error {
		return m.items.delist(ctx, tx, call, iid)
	})
}

// ExecuteSale sells an item to the caller. call.Value must equal the price.
func (m *Marketplace) ExecuteSale(ctx context.Context, call Call, iid domain.ItemID) error {
	return m.run(ctx, "execute_sale", []string{itemKey(iid)}, func(ctx context.Context, tx *txn) error {
		return m.items.sell(ctx, tx, call, iid)
	})
}

// MintAsset creates a new asset token type with qty units credited to the
// caller. It is a development convenience; the minting fee is not charged.
func (m *Marketplace) MintAsset(ctx context.Context, call Call, qty uint64) (domain.AssetID, error) {
	var id domain.AssetID
	err := m.run(ctx, "mint_asset", nil, func(ctx context.Context, tx *txn) error {
		if err := requireNoValue(call); err != nil {
			return err
		}
		tx.track(m.ids.Assets)
		var err error
		id, err = m.assets.Mint(ctx, call.Caller, qty)
		if err != nil {
			return domain.TransferError("mint asset", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Load replaces the in-memory state with what the store holds. It is a
// no-op without a store.
func (m *Marketplace) Load(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	snap, err := m.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("ledger: load: %w", err)
	}
	return m.Restore(snap)
}

// Restore replaces the in-memory state with snap.
func (m *Marketplace) Restore(snap domain.Snapshot) error {
	st, err := loadState(snap)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st = st
	m.ids.Restore(snap.Counters)
	m.logger.Info("ledger: state restored",
		slog.Int("items", len(snap.Items)),
		slog.Int("collections", len(snap.Collections)),
	)
	return nil
}

// run executes fn as one all-or-nothing operation. A call carrying an
// in-flight frame is nested: it skips the sequencer, and on success its
// writes join the enclosing operation, which commits or rolls them back.
func (m *Marketplace) run(ctx context.Context, op string, keys []string, fn func(context.Context, *txn) error) error {
	start := m.now()
	parent, nested := m.frameOf(ctx)

	var events []domain.Event
	var err error
	if nested {
		err = m.transact(ctx, op, keys, parent.tx, fn)
	} else {
		events, err = m.transactTop(ctx, op, keys, fn)
	}

	if m.observer != nil {
		m.observer.ObserveOperation(op, err, m.now().Sub(start))
	}
	if err != nil {
		m.logger.Debug("ledger: operation rejected",
			slog.String("op", op),
			slog.Bool("nested", nested),
			slog.String("error", err.Error()),
		)
		return err
	}
	m.logger.Info("ledger: operation committed", slog.String("op", op), slog.Bool("nested", nested))

	m.deliver(ctx, events)
	return nil
}

// deliver hands events to the sinks in sequence order. Sinks run outside the
// sequencer so they may read the ledger; a sink must not mutate it from Emit.
func (m *Marketplace) deliver(ctx context.Context, events []domain.Event) {
	if len(events) == 0 {
		return
	}
	m.emitMu.Lock()
	for m.delivered+1 != events[0].Sequence {
		m.emitTurn.Wait()
	}
	m.emitMu.Unlock()

	defer func() {
		m.emitMu.Lock()
		m.delivered = events[len(events)-1].Sequence
		m.emitTurn.Broadcast()
		m.emitMu.Unlock()
	}()
	for _, evt := range events {
		for _, s := range m.sinks {
			s.Emit(ctx, evt)
		}
	}
}

func (m *Marketplace) transactTop(ctx context.Context, op string, keys []string, fn func(context.Context, *txn) error) ([]domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	release, err := m.guard.enter(ctx, keys...)
	if err != nil {
		return nil, err
	}
	defer release()

	tx := newTxn(m.st, nil, m.assets, m.funds)
	if err := fn(withFrame(ctx, frame{m: m, tx: tx}), tx); err != nil {
		tx.rollback()
		return nil, err
	}
	if m.store != nil {
		if cs := tx.changeset(m.ids.Counters()); !cs.Empty() || tx.bumped {
			if err := m.store.Commit(ctx, cs); err != nil {
				tx.rollback()
				return nil, fmt.Errorf("%w: %s: %w", domain.ErrPersist, op, err)
			}
		}
	}
	tx.release()

	for i := range tx.events {
		m.seq++
		tx.events[i].Sequence = m.seq
	}
	return tx.events, nil
}

func (m *Marketplace) transact(ctx context.Context, _ string, keys []string, parent *txn, fn func(context.Context, *txn) error) error {
	release, err := m.guard.enter(ctx, keys...)
	if err != nil {
		return err
	}
	defer release()

	tx := newTxn(m.st, parent, m.assets, m.funds)
	if err := fn(withFrame(ctx, frame{m: m, tx: tx}), tx); err != nil {
		tx.rollback()
		return err
	}
	tx.mergeInto(parent)
	return nil
}

// moveAsset transfers one unit of asset and reports failures as
// ErrTransferFailed.
func (m *Marketplace) moveAsset(ctx context.Context, from, to common.Address, asset domain.AssetID, what string) error {
	if err := m.assets.Transfer(ctx, from, to, asset, 1); err != nil {
		return domain.TransferError(what, err)
	}
	return nil
}

// pay moves native funds. Zero amounts are not sent.
func (m *Marketplace) pay(ctx context.Context, from, to common.Address, amount uint256.Int, what string) error {
	if amount.IsZero() {
		return nil
	}
	if err := m.funds.Transfer(ctx, from, to, amount); err != nil {
		return domain.TransferError(what, err)
	}
	return nil
}

func (m *Marketplace) itemEvent(kind domain.EventKind, call Call, it domain.MarketItem) domain.Event {
	return domain.Event{
		Kind:       kind,
		Caller:     call.Caller,
		Amount:     call.Value,
		Item:       &it,
		OccurredAt: m.now(),
	}
}

func (m *Marketplace) collectionEvent(kind domain.EventKind, call Call, c domain.Collection, it *domain.MarketItem) domain.Event {
	evt := domain.Event{
		Kind:       kind,
		Caller:     call.Caller,
		Amount:     call.Value,
		Collection: &c,
		OccurredAt: m.now(),
	}
	if it != nil {
		cp := *it
		evt.Item = &cp
	}
	return evt
}
