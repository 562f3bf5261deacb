package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/go-cmp/cmp"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketledger/internal/asset"
	"github.com/alanyoungcy/marketledger/internal/domain"
	"github.com/alanyoungcy/marketledger/internal/ledger"
)

type memArchiver struct {
	mu       sync.Mutex
	archives []domain.Archive
}

func (a *memArchiver) Write(_ context.Context, arc domain.Archive) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.archives = append(a.archives, arc)
	return arc.TakenAt.Format(time.RFC3339), nil
}

func (a *memArchiver) Latest(context.Context) (domain.Archive, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.archives) == 0 {
		return domain.Archive{}, domain.ErrNotFound
	}
	return a.archives[len(a.archives)-1], nil
}

type stack struct {
	m    *ledger.Marketplace
	reg  *asset.Registry
	bank *asset.Bank
}

var (
	custody = common.HexToAddress("0xaa")
	seller  = common.HexToAddress("0x01")
)

func newStack(t *testing.T) stack {
	t.Helper()
	ids := ledger.NewAllocator()
	reg := asset.NewRegistry(ids.Assets)
	bank := asset.NewBank()
	m := ledger.New(ledger.Config{Address: custody, FeeCollector: common.HexToAddress("0xbb"), ListingFee: *uint256.NewInt(25)},
		ids, reg, bank, ledger.WithLogger(discard()))
	return stack{m: m, reg: reg, bank: bank}
}

func TestSnapshotTakeAndRestore(t *testing.T) {
	ctx := context.Background()
	src := newStack(t)
	require.NoError(t, src.bank.Credit(seller, *uint256.NewInt(1000)))
	a, err := src.m.MintAsset(ctx, ledger.Call{Caller: seller}, 3)
	require.NoError(t, err)
	iid, err := src.m.CreateItem(ctx, ledger.Call{Caller: seller}, a, *uint256.NewInt(100), 0)
	require.NoError(t, err)
	require.NoError(t, src.m.ListItemForSale(ctx, ledger.Call{Caller: seller, Value: *uint256.NewInt(25)}, iid, *uint256.NewInt(100)))

	arch := &memArchiver{}
	svc := NewSnapshotService(src.m, src.reg, src.bank, arch, discard())
	_, err = svc.Take(ctx)
	require.NoError(t, err)
	require.Len(t, arch.archives, 1)

	dst := newStack(t)
	restored, err := NewSnapshotService(dst.m, dst.reg, dst.bank, arch, discard()).RestoreLatest(ctx)
	require.NoError(t, err)
	assert.True(t, restored)

	if diff := cmp.Diff(src.m.Snapshot(ctx), dst.m.Snapshot(ctx)); diff != "" {
		t.Errorf("ledger mismatch (-src +dst):\n%s", diff)
	}
	assert.Equal(t, src.reg.Balances(), dst.reg.Balances())
	assert.Equal(t, src.bank.Balances(), dst.bank.Balances())

	it, err := dst.m.GetItem(ctx, iid)
	require.NoError(t, err)
	assert.True(t, it.ForSale)
}

func TestRestoreLatestWithoutArchive(t *testing.T) {
	s := newStack(t)
	restored, err := NewSnapshotService(s.m, s.reg, s.bank, &memArchiver{}, discard()).RestoreLatest(context.Background())
	require.NoError(t, err)
	assert.False(t, restored)
}

func TestSnapshotRunArchivesOnStop(t *testing.T) {
	s := newStack(t)
	arch := &memArchiver{}
	svc := NewSnapshotService(s.m, s.reg, s.bank, arch, discard())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, svc.Run(ctx, time.Hour))
	assert.Len(t, arch.archives, 1)
}
