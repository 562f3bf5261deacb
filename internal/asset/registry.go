// Package asset provides in-memory implementations of the ledger's external
// collaborators: a semi-fungible asset registry and a native-currency bank.
// Both support receive hooks, which run after a credit and may reject it or
// call back into the marketplace.
package asset

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketledger/internal/domain"
)

// IDSource hands out asset identifiers.
type IDSource interface {
	Next() uint64
}

// ReceiveHook is invoked after to has been credited with qty units of asset.
// A non-nil error undoes the transfer. As with FundsHook, calls back into the
// marketplace must use the ctx the hook received; any other context
// deadlocks on the sequencer.
type ReceiveHook func(ctx context.Context, from common.Address, asset domain.AssetID, qty uint64) error

// Registry is an in-memory AssetRegistry.
type Registry struct {
	mu       sync.Mutex
	ids      IDSource
	balances map[common.Address]map[domain.AssetID]uint64
	supply   map[domain.AssetID]uint64
	hooks    map[common.Address]ReceiveHook
	j        journal
}

var (
	_ domain.AssetRegistry = (*Registry)(nil)
	_ domain.Journaled     = (*Registry)(nil)
)

// NewRegistry returns an empty registry drawing token ids from ids.
func NewRegistry(ids IDSource) *Registry {
	return &Registry{
		ids:      ids,
		balances: make(map[common.Address]map[domain.AssetID]uint64),
		supply:   make(map[domain.AssetID]uint64),
		hooks:    make(map[common.Address]ReceiveHook),
	}
}

// OnReceive installs (or, with a nil hook, removes) the receive hook of addr.
func (r *Registry) OnReceive(addr common.Address, hook ReceiveHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if hook == nil {
		delete(r.hooks, addr)
		return
	}
	r.hooks[addr] = hook
}

// Mint creates a new token type with qty units owned by to.
func (r *Registry) Mint(_ context.Context, to common.Address, qty uint64) (domain.AssetID, error) {
	if to == (common.Address{}) {
		return 0, fmt.Errorf("asset: mint to zero address")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	id := domain.AssetID(r.ids.Next())
	r.supply[id] = qty
	r.credit(to, id, qty)
	r.j.record(func() { delete(r.supply, id) })
	return id, nil
}

// Transfer moves qty units of asset. It fails without effect when from holds
// fewer units or when the receiver's hook rejects the credit.
func (r *Registry) Transfer(ctx context.Context, from, to common.Address, asset domain.AssetID, qty uint64) error {
	if to == (common.Address{}) {
		return fmt.Errorf("asset: transfer of asset %d to zero address", asset)
	}
	if qty == 0 {
		return nil
	}
	r.mu.Lock()
	held := r.balances[from][asset]
	if held < qty {
		r.mu.Unlock()
		return fmt.Errorf("asset: transfer %d of asset %d from %s (holds %d): %w",
			qty, asset, from.Hex(), held, domain.ErrInsufficientBalance)
	}
	cp := r.j.checkpoint()
	r.debit(from, asset, qty)
	r.credit(to, asset, qty)
	hook := r.hooks[to]
	r.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, from, asset, qty); err != nil {
			r.RevertTo(cp)
			return fmt.Errorf("asset: transfer of asset %d to %s: %w: %w", asset, to.Hex(), domain.ErrHookRejected, err)
		}
	}
	r.Release(cp)
	return nil
}

// BalanceOf returns how many units of asset owner holds.
func (r *Registry) BalanceOf(_ context.Context, owner common.Address, asset domain.AssetID) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.balances[owner][asset]
}

// Supply returns the minted quantity of asset.
func (r *Registry) Supply(asset domain.AssetID) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.supply[asset]
}

// Checkpoint opens a savepoint.
func (r *Registry) Checkpoint() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.j.checkpoint()
}

// RevertTo undoes every write since cp and closes it.
func (r *Registry) RevertTo(cp int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.j.revertTo(cp)
}

// Release closes cp keeping its writes.
func (r *Registry) Release(cp int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.j.release(cp)
}

// Balances returns every non-zero balance ordered by owner then asset.
func (r *Registry) Balances() []domain.AssetBalance {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.AssetBalance
	for owner, held := range r.balances {
		for id, qty := range held {
			if qty > 0 {
				out = append(out, domain.AssetBalance{Owner: owner, AssetID: id, Quantity: qty})
			}
		}
	}
	slices.SortFunc(out, func(a, b domain.AssetBalance) int {
		if c := bytes.Compare(a.Owner[:], b.Owner[:]); c != 0 {
			return c
		}
		return cmp.Compare(a.AssetID, b.AssetID)
	})
	return out
}

// Restore replaces all balances. Supply is recomputed from them.
func (r *Registry) Restore(balances []domain.AssetBalance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.balances = make(map[common.Address]map[domain.AssetID]uint64)
	r.supply = make(map[domain.AssetID]uint64)
	r.j = journal{}
	for _, b := range balances {
		r.credit(b.Owner, b.AssetID, b.Quantity)
		r.supply[b.AssetID] += b.Quantity
	}
}

// credit and debit must be called with mu held. They journal their own undo.
func (r *Registry) credit(to common.Address, asset domain.AssetID, qty uint64) {
	held, ok := r.balances[to]
	if !ok {
		held = make(map[domain.AssetID]uint64)
		r.balances[to] = held
	}
	held[asset] += qty
	r.j.record(func() { r.balances[to][asset] -= qty })
}

func (r *Registry) debit(from common.Address, asset domain.AssetID, qty uint64) {
	r.balances[from][asset] -= qty
	r.j.record(func() { r.balances[from][asset] += qty })
}
