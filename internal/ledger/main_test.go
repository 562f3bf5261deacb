package ledger

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/alanyoungcy/marketledger/internal/asset"
	"github.com/alanyoungcy/marketledger/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	listingFee  = 25
	startingBal = 1000
)

var (
	custody   = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	collector = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	alice     = common.HexToAddress("0x0000000000000000000000000000000000000001")
	bob       = common.HexToAddress("0x0000000000000000000000000000000000000002")
	carol     = common.HexToAddress("0x0000000000000000000000000000000000000003")
)

func amount(v uint64) uint256.Int { return *uint256.NewInt(v) }

func call(caller common.Address, value uint64) Call {
	return Call{Caller: caller, Value: amount(value)}
}

type recordSink struct {
	mu     sync.Mutex
	events []domain.Event
}

func (s *recordSink) Emit(_ context.Context, evt domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
}

func (s *recordSink) kinds() []domain.EventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.EventKind, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Kind)
	}
	return out
}

type fixture struct {
	m    *Marketplace
	ids  *Allocator
	reg  *asset.Registry
	bank *asset.Bank
	sink *recordSink
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	ids := NewAllocator()
	reg := asset.NewRegistry(ids.Assets)
	bank := asset.NewBank()
	sink := &recordSink{}
	cfg := Config{
		Address:      custody,
		FeeCollector: collector,
		ListingFee:   amount(listingFee),
		MintingFee:   amount(10),
	}
	base := []Option{
		WithSinks(sink),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	m := New(cfg, ids, reg, bank, append(base, opts...)...)
	for _, a := range []common.Address{alice, bob, carol} {
		require.NoError(t, bank.Credit(a, amount(startingBal)))
	}
	return &fixture{m: m, ids: ids, reg: reg, bank: bank, sink: sink}
}

func (f *fixture) mint(t *testing.T, owner common.Address, qty uint64) domain.AssetID {
	t.Helper()
	id, err := f.m.MintAsset(context.Background(), call(owner, 0), qty)
	require.NoError(t, err)
	return id
}

// item mints a fresh asset for seller and creates an item from it.
func (f *fixture) item(t *testing.T, seller common.Address, price uint64, cid domain.CollectionID) domain.ItemID {
	t.Helper()
	a := f.mint(t, seller, 1)
	id, err := f.m.CreateItem(context.Background(), call(seller, 0), a, amount(price), cid)
	require.NoError(t, err)
	return id
}

func (f *fixture) listed(t *testing.T, seller common.Address, price uint64) domain.ItemID {
	t.Helper()
	id := f.item(t, seller, price, 0)
	require.NoError(t, f.m.ListItemForSale(context.Background(), call(seller, listingFee), id, amount(price)))
	return id
}

func (f *fixture) collection(t *testing.T, owner common.Address) domain.CollectionID {
	t.Helper()
	badge := f.mint(t, owner, 1)
	id, err := f.m.CreateCollection(context.Background(), call(owner, 0), badge)
	require.NoError(t, err)
	return id
}

func (f *fixture) balance(addr common.Address) uint64 {
	b := f.bank.BalanceOf(context.Background(), addr)
	return b.Uint64()
}

// world is every piece of state an operation can touch.
type world struct {
	Ledger domain.Snapshot
	Assets []domain.AssetBalance
	Funds  []domain.FundBalance
}

func (f *fixture) world() world {
	return world{
		Ledger: f.m.Snapshot(context.Background()),
		Assets: f.reg.Balances(),
		Funds:  f.bank.Balances(),
	}
}

// requireMembershipInvariant checks that membership entries and item
// back-references agree and that every count matches its membership set.
func requireMembershipInvariant(t *testing.T, snap domain.Snapshot) {
	t.Helper()
	members := make(map[domain.Membership]bool)
	counts := make(map[domain.CollectionID]uint64)
	for _, m := range snap.Memberships {
		members[m] = true
		counts[m.CollectionID]++
	}
	for _, it := range snap.Items {
		if it.Grouped() {
			require.True(t, members[domain.Membership{CollectionID: it.CollectionID, ItemID: it.ItemID}],
				"item %d references collection %d without membership", it.ItemID, it.CollectionID)
		}
	}
	items := make(map[domain.ItemID]domain.MarketItem)
	for _, it := range snap.Items {
		items[it.ItemID] = it
	}
	for m := range members {
		require.Equal(t, m.CollectionID, items[m.ItemID].CollectionID)
	}
	for _, c := range snap.Collections {
		require.Equal(t, counts[c.CollectionID], c.ItemsInCollection, "collection %d", c.CollectionID)
	}
}
