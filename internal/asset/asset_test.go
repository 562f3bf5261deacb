package asset

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketledger/internal/domain"
)

type seq struct{ n uint64 }

func (s *seq) Next() uint64 { s.n++; return s.n }

var (
	alice = common.HexToAddress("0x0000000000000000000000000000000000000001")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000002")
)

func TestRegistryMintAndTransfer(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(&seq{n: 1})

	id, err := r.Mint(ctx, alice, 3)
	require.NoError(t, err)
	assert.Equal(t, domain.AssetID(2), id)
	assert.Equal(t, uint64(3), r.Supply(id))

	require.NoError(t, r.Transfer(ctx, alice, bob, id, 2))
	assert.Equal(t, uint64(1), r.BalanceOf(ctx, alice, id))
	assert.Equal(t, uint64(2), r.BalanceOf(ctx, bob, id))

	err = r.Transfer(ctx, alice, bob, id, 2)
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.Equal(t, uint64(1), r.BalanceOf(ctx, alice, id))

	require.NoError(t, r.Transfer(ctx, bob, alice, 99, 0))
}

func TestRegistryHookRejectionUndoesTransfer(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(&seq{})
	id, err := r.Mint(ctx, alice, 1)
	require.NoError(t, err)

	r.OnReceive(bob, func(context.Context, common.Address, domain.AssetID, uint64) error {
		return errors.New("not accepting")
	})
	err = r.Transfer(ctx, alice, bob, id, 1)
	require.ErrorIs(t, err, domain.ErrHookRejected)
	assert.Equal(t, uint64(1), r.BalanceOf(ctx, alice, id))
	assert.Equal(t, uint64(0), r.BalanceOf(ctx, bob, id))
}

func TestRegistryCheckpointRevert(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(&seq{})
	id, err := r.Mint(ctx, alice, 4)
	require.NoError(t, err)
	before := r.Balances()

	cp := r.Checkpoint()
	require.NoError(t, r.Transfer(ctx, alice, bob, id, 1))
	inner := r.Checkpoint()
	require.NoError(t, r.Transfer(ctx, alice, bob, id, 1))
	minted, err := r.Mint(ctx, bob, 7)
	require.NoError(t, err)
	r.Release(inner)
	r.RevertTo(cp)

	assert.Equal(t, before, r.Balances())
	assert.Zero(t, r.Supply(minted))
}

func TestRegistryEmptyJournalOutsideCheckpoint(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(&seq{})
	id, err := r.Mint(ctx, alice, 2)
	require.NoError(t, err)
	require.NoError(t, r.Transfer(ctx, alice, bob, id, 1))
	assert.Empty(t, r.j.entries)
}

func TestBankTransfer(t *testing.T) {
	ctx := context.Background()
	b := NewBank()
	require.NoError(t, b.Credit(alice, *uint256.NewInt(100)))

	require.NoError(t, b.Transfer(ctx, alice, bob, *uint256.NewInt(40)))
	a, o := b.BalanceOf(ctx, alice), b.BalanceOf(ctx, bob)
	assert.Equal(t, uint64(60), a.Uint64())
	assert.Equal(t, uint64(40), o.Uint64())

	err := b.Transfer(ctx, bob, alice, *uint256.NewInt(41))
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	assert.Equal(t, []domain.FundBalance{
		{Owner: alice, Amount: "60"},
		{Owner: bob, Amount: "40"},
	}, b.Balances())
}

func TestBankHookRejection(t *testing.T) {
	ctx := context.Background()
	b := NewBank()
	require.NoError(t, b.Credit(alice, *uint256.NewInt(10)))
	b.OnReceive(bob, func(context.Context, common.Address, uint256.Int) error {
		return errors.New("no")
	})

	err := b.Transfer(ctx, alice, bob, *uint256.NewInt(10))
	require.ErrorIs(t, err, domain.ErrHookRejected)
	bal := b.BalanceOf(ctx, alice)
	assert.Equal(t, uint64(10), bal.Uint64())
}

func TestBankCreditOverflow(t *testing.T) {
	b := NewBank()
	top := new(uint256.Int).SetAllOne()
	require.NoError(t, b.Credit(alice, *top))
	require.Error(t, b.Credit(alice, *uint256.NewInt(1)))
}

func TestBankRestore(t *testing.T) {
	ctx := context.Background()
	b := NewBank()
	require.NoError(t, b.Restore([]domain.FundBalance{{Owner: alice, Amount: "1000000000000000000000"}}))
	bal := b.BalanceOf(ctx, alice)
	assert.Equal(t, "1000000000000000000000", bal.Dec())

	require.Error(t, b.Restore([]domain.FundBalance{{Owner: alice, Amount: "-1"}}))
}
