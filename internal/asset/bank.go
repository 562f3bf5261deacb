package asset

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/marketledger/internal/domain"
)

// FundsHook is invoked after to has been credited with amount. A non-nil
// error undoes the payment. A hook that calls back into the marketplace must
// pass on the ctx it was given: that ctx carries the in-flight call, and a
// call made with any other context waits for the sequencer held by that
// same call and never returns.
type FundsHook func(ctx context.Context, from common.Address, amount uint256.Int) error

// Bank is an in-memory native-currency ledger.
type Bank struct {
	mu       sync.Mutex
	balances map[common.Address]uint256.Int
	hooks    map[common.Address]FundsHook
	j        journal
}

var (
	_ domain.Funds     = (*Bank)(nil)
	_ domain.Journaled = (*Bank)(nil)
)

// NewBank returns a bank with no balances.
func NewBank() *Bank {
	return &Bank{
		balances: make(map[common.Address]uint256.Int),
		hooks:    make(map[common.Address]FundsHook),
	}
}

// OnReceive installs (or, with a nil hook, removes) the receive hook of addr.
func (b *Bank) OnReceive(addr common.Address, hook FundsHook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if hook == nil {
		delete(b.hooks, addr)
		return
	}
	b.hooks[addr] = hook
}

// Credit adds amount to addr out of thin air. It is how balances are seeded.
func (b *Bank) Credit(addr common.Address, amount uint256.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.add(addr, amount)
}

// Transfer moves amount from one account to another.
func (b *Bank) Transfer(ctx context.Context, from, to common.Address, amount uint256.Int) error {
	if to == (common.Address{}) {
		return fmt.Errorf("asset: pay %s to zero address", amount.Dec())
	}
	if amount.IsZero() {
		return nil
	}
	b.mu.Lock()
	held := b.balances[from]
	if held.Lt(&amount) {
		b.mu.Unlock()
		return fmt.Errorf("asset: pay %s from %s (holds %s): %w",
			amount.Dec(), from.Hex(), held.Dec(), domain.ErrInsufficientBalance)
	}
	cp := b.j.checkpoint()
	b.sub(from, amount)
	if err := b.add(to, amount); err != nil {
		b.j.revertTo(cp)
		b.mu.Unlock()
		return err
	}
	hook := b.hooks[to]
	b.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, from, amount); err != nil {
			b.RevertTo(cp)
			return fmt.Errorf("asset: pay %s to %s: %w: %w", amount.Dec(), to.Hex(), domain.ErrHookRejected, err)
		}
	}
	b.Release(cp)
	return nil
}

// BalanceOf returns the balance of owner.
func (b *Bank) BalanceOf(_ context.Context, owner common.Address) uint256.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balances[owner]
}

// Checkpoint opens a savepoint.
func (b *Bank) Checkpoint() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.j.checkpoint()
}

// RevertTo undoes every write since cp and closes it.
func (b *Bank) RevertTo(cp int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.j.revertTo(cp)
}

// Release closes cp keeping its writes.
func (b *Bank) Release(cp int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.j.release(cp)
}

// Balances returns every non-zero balance ordered by owner.
func (b *Bank) Balances() []domain.FundBalance {
	b.mu.Lock()
	defer b.mu.Unlock()
	owners := make([]common.Address, 0, len(b.balances))
	for owner, amt := range b.balances {
		if !amt.IsZero() {
			owners = append(owners, owner)
		}
	}
	slices.SortFunc(owners, func(x, y common.Address) int { return bytes.Compare(x[:], y[:]) })
	out := make([]domain.FundBalance, 0, len(owners))
	for _, owner := range owners {
		amt := b.balances[owner]
		out = append(out, domain.FundBalance{Owner: owner, Amount: amt.Dec()})
	}
	return out
}

// Restore replaces all balances.
func (b *Bank) Restore(balances []domain.FundBalance) error {
	next := make(map[common.Address]uint256.Int, len(balances))
	for _, fb := range balances {
		amt, err := uint256.FromDecimal(fb.Amount)
		if err != nil {
			return fmt.Errorf("asset: restore balance of %s: %w", fb.Owner.Hex(), err)
		}
		next[fb.Owner] = *amt
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balances = next
	b.j = journal{}
	return nil
}

// add and sub must be called with mu held.
func (b *Bank) add(to common.Address, amount uint256.Int) error {
	prev := b.balances[to]
	var sum uint256.Int
	if _, overflow := sum.AddOverflow(&prev, &amount); overflow {
		return fmt.Errorf("asset: credit %s to %s overflows", amount.Dec(), to.Hex())
	}
	b.balances[to] = sum
	b.j.record(func() { b.balances[to] = prev })
	return nil
}

func (b *Bank) sub(from common.Address, amount uint256.Int) {
	prev := b.balances[from]
	var diff uint256.Int
	diff.Sub(&prev, &amount)
	b.balances[from] = diff
	b.j.record(func() { b.balances[from] = prev })
}
