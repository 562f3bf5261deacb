package ledger

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/marketledger/internal/domain"
)

// read runs fn against the current state. Calls from inside an operation
// already hold the sequencer and see its uncommitted writes.
func (m *Marketplace) read(ctx context.Context, fn func(*state)) {
	if _, nested := m.frameOf(ctx); !nested {
		m.mu.RLock()
		defer m.mu.RUnlock()
	}
	fn(m.st)
}

// GetItem returns the item with id.
func (m *Marketplace) GetItem(ctx context.Context, id domain.ItemID) (domain.MarketItem, error) {
	var (
		it domain.MarketItem
		ok bool
	)
	m.read(ctx, func(s *state) { it, ok = s.item(id) })
	if !ok {
		return domain.MarketItem{}, domain.ErrItemNotFound
	}
	return it, nil
}

// GetCollection returns the collection with id.
func (m *Marketplace) GetCollection(ctx context.Context, id domain.CollectionID) (domain.Collection, error) {
	var (
		c  domain.Collection
		ok bool
	)
	m.read(ctx, func(s *state) { c, ok = s.collection(id) })
	if !ok {
		return domain.Collection{}, domain.ErrCollectionNotFound
	}
	return c, nil
}

// GetCollectionItem reports whether iid is a member of cid.
func (m *Marketplace) GetCollectionItem(ctx context.Context, cid domain.CollectionID, iid domain.ItemID) (domain.ItemID, bool) {
	var ok bool
	m.read(ctx, func(s *state) {
		ok = s.isMember(domain.Membership{CollectionID: cid, ItemID: iid})
	})
	if !ok {
		return 0, false
	}
	return iid, true
}

// GetAmountOfCollectionItems returns the item count of cid.
func (m *Marketplace) GetAmountOfCollectionItems(ctx context.Context, cid domain.CollectionID) (uint64, error) {
	c, err := m.GetCollection(ctx, cid)
	if err != nil {
		return 0, err
	}
	return c.ItemsInCollection, nil
}

// FetchMarketItems returns every item that has not been bought, whether or
// not it is currently listed.
func (m *Marketplace) FetchMarketItems(ctx context.Context) []domain.MarketItem {
	var out []domain.MarketItem
	m.read(ctx, func(s *state) { out = s.itemsByID(s.idx.unownedItems()) })
	return out
}

// FetchMyItems returns the items party sold or bought.
func (m *Marketplace) FetchMyItems(ctx context.Context, party common.Address) []domain.MarketItem {
	var out []domain.MarketItem
	m.read(ctx, func(s *state) { out = s.itemsByID(s.idx.partyItems(party)) })
	return out
}

// FetchMarketCollections returns every collection in creation order.
func (m *Marketplace) FetchMarketCollections(ctx context.Context) []domain.Collection {
	var out []domain.Collection
	m.read(ctx, func(s *state) { out = s.collectionsByID(s.idx.allCollections()) })
	return out
}

// FetchMyCollections returns the collections owner created, in creation
// order.
func (m *Marketplace) FetchMyCollections(ctx context.Context, owner common.Address) []domain.Collection {
	var out []domain.Collection
	m.read(ctx, func(s *state) { out = s.collectionsByID(s.idx.ownerCollections(owner)) })
	return out
}

// GetListingPrice returns the fee required to list or delist.
func (m *Marketplace) GetListingPrice() uint256.Int { return m.cfg.ListingFee }

// GetMintingPrice returns the configured minting fee.
func (m *Marketplace) GetMintingPrice() uint256.Int { return m.cfg.MintingFee }

// Snapshot returns the full ledger state.
func (m *Marketplace) Snapshot(ctx context.Context) domain.Snapshot {
	var snap domain.Snapshot
	m.read(ctx, func(s *state) { snap = s.snapshot(m.ids.Counters()) })
	return snap
}

// SnapshotWith returns the ledger state and runs also while no operation can
// commit, so collaborator balances read inside it match the snapshot.
func (m *Marketplace) SnapshotWith(ctx context.Context, also func()) domain.Snapshot {
	var snap domain.Snapshot
	m.read(ctx, func(s *state) {
		snap = s.snapshot(m.ids.Counters())
		also()
	})
	return snap
}

func (s *state) itemsByID(ids []domain.ItemID) []domain.MarketItem {
	out := make([]domain.MarketItem, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.items[id])
	}
	return out
}

func (s *state) collectionsByID(ids []domain.CollectionID) []domain.Collection {
	out := make([]domain.Collection, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.collections[id])
	}
	return out
}
