package app

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/alanyoungcy/marketledger/internal/asset"
	"github.com/alanyoungcy/marketledger/internal/config"
	"github.com/alanyoungcy/marketledger/internal/domain"
	"github.com/alanyoungcy/marketledger/internal/ledger"
	"github.com/alanyoungcy/marketledger/internal/service"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

const alice = "0x00000000000000000000000000000000000A11cE"

func inMemoryConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Server.Enabled = false
	cfg.Market.SeedFunds = map[string]string{alice: "1000"}
	return &cfg
}

func wire(t *testing.T, cfg *config.Config) *Dependencies {
	t.Helper()
	deps, cleanup, err := Wire(context.Background(), cfg, discard())
	require.NoError(t, err)
	t.Cleanup(cleanup)
	return deps
}

func TestWireInMemory(t *testing.T) {
	deps := wire(t, inMemoryConfig())

	require.NotNil(t, deps.Marketplace)
	assert.IsType(t, &service.LocalBus{}, deps.SignalBus)
	assert.Nil(t, deps.Leases)
	assert.Nil(t, deps.RateLimiter)
	assert.Nil(t, deps.Archiver)
	assert.Nil(t, deps.Signer)
	assert.Empty(t, deps.Checks)
	assert.False(t, deps.Notifier.Enabled())

	fee := deps.Marketplace.GetListingPrice()
	assert.Equal(t, "25000000000000000", fee.Dec())
}

func TestWireRejectsBadFee(t *testing.T) {
	cfg := inMemoryConfig()
	cfg.Market.ListingFee = "lots"
	_, _, err := Wire(context.Background(), cfg, discard())
	require.ErrorContains(t, err, "listing fee")
}

func TestRestoreSeedsFreshLedger(t *testing.T) {
	cfg := inMemoryConfig()
	deps := wire(t, cfg)
	a := New(cfg, discard())

	require.NoError(t, a.restore(context.Background(), deps, nil))
	bal := deps.Bank.BalanceOf(context.Background(), common.HexToAddress(alice))
	assert.Equal(t, uint64(1000), bal.Uint64())
}

func TestSeedFundsRejectsBadAmount(t *testing.T) {
	deps := wire(t, inMemoryConfig())
	err := seedFunds(deps.Bank, map[string]string{alice: "ten"})
	require.ErrorContains(t, err, "seed funds")
}

func TestSnapshotModeNeedsStorage(t *testing.T) {
	cfg := inMemoryConfig()
	deps := wire(t, cfg)
	err := New(cfg, discard()).SnapshotMode(context.Background(), deps)
	require.ErrorContains(t, err, "object storage")
}

func TestServeModeStopsOnCancel(t *testing.T) {
	cfg := inMemoryConfig()
	deps := wire(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New(cfg, discard()).ServeMode(ctx, deps) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("serve mode did not stop")
	}
}

func TestRunRejectsUnknownMode(t *testing.T) {
	cfg := inMemoryConfig()
	cfg.Mode = "trade"
	a := New(cfg, discard())
	defer a.Close()
	require.ErrorContains(t, a.Run(context.Background()), "unsupported mode")
}

type fixedArchiver struct{ arc domain.Archive }

func (f fixedArchiver) Write(context.Context, domain.Archive) (string, error) { return "", nil }
func (f fixedArchiver) Latest(context.Context) (domain.Archive, error) { return f.arc, nil }

type fixedStore struct{ snap domain.Snapshot }

func (f fixedStore) Load(context.Context) (domain.Snapshot, error) { return f.snap, nil }
func (f fixedStore) Commit(context.Context, domain.Changeset) error { return nil }

func ledgerWithItem(sold bool) domain.Snapshot {
	it := domain.MarketItem{
		ItemID:  2,
		AssetID: 2,
		Seller:  common.HexToAddress(alice),
		ForSale: true,
		Price:   *uint256.NewInt(42),
	}
	if sold {
		it.Owner = common.HexToAddress("0x0000000000000000000000000000000000000B0b")
		it.Sold = true
	}
	return domain.Snapshot{
		Counters: domain.Counters{Items: 2, Collections: 1, Assets: 2},
		Items:    []domain.MarketItem{it},
	}
}

func restoreWith(t *testing.T, archived, stored domain.Snapshot) string {
	t.Helper()
	cfg := inMemoryConfig()
	cfg.Archive.RestoreOnStart = true

	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	ids := ledger.NewAllocator()
	reg := asset.NewRegistry(ids.Assets)
	bank := asset.NewBank()
	store := fixedStore{snap: stored}
	deps := &Dependencies{
		Marketplace: ledger.New(ledger.Config{}, ids, reg, bank, ledger.WithStore(store), ledger.WithLogger(discard())),
		Allocator:   ids,
		Registry:    reg,
		Bank:        bank,
		LedgerStore: store,
		Archiver:    fixedArchiver{arc: domain.Archive{Ledger: archived}},
	}

	a := New(cfg, logger)
	require.NoError(t, a.restore(context.Background(), deps, a.snapshotService(deps)))

	it, err := deps.Marketplace.GetItem(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, stored.Items[0].Sold, it.Sold, "stored rows win over the archive")
	bal := deps.Bank.BalanceOf(context.Background(), common.HexToAddress(alice))
	assert.Zero(t, bal.Uint64(), "seed funds skip a restored ledger")
	return logs.String()
}

func TestRestoreWarnsWhenRowsOutpaceArchive(t *testing.T) {
	logs := restoreWith(t, ledgerWithItem(false), ledgerWithItem(true))
	assert.Contains(t, logs, "ledger rows are newer than the archived balances")
}

func TestRestoreQuietWhenArchiveMatchesRows(t *testing.T) {
	logs := restoreWith(t, ledgerWithItem(true), ledgerWithItem(true))
	assert.NotContains(t, logs, "ledger rows are newer")
}
