package ledger

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketledger/internal/domain"
)

func TestCreateCollection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	badge := f.mint(t, alice, 1)

	id, err := f.m.CreateCollection(ctx, call(alice, 0), badge)
	require.NoError(t, err)
	require.Equal(t, domain.CollectionID(2), id)

	c, err := f.m.GetCollection(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, alice, c.Owner)
	assert.Equal(t, badge, c.BadgeAssetID)
	assert.Zero(t, c.ItemsInCollection)
	assert.Zero(t, c.ItemsSoldInCollection)
	assert.Equal(t, uint64(1), f.reg.BalanceOf(ctx, custody, badge))

	f.sink.mu.Lock()
	defer f.sink.mu.Unlock()
	require.Len(t, f.sink.events, 1)
	evt := f.sink.events[0]
	assert.Equal(t, domain.EventCollectionCreated, evt.Kind)
	assert.Equal(t, uint64(1), evt.Sequence)
	fields := evt.Fields()
	assert.Equal(t, alice.Hex(), fields["owner"])
	assert.Equal(t, uint64(id), fields["collection_id"])
	assert.Equal(t, uint64(badge), fields["token_id"])
	assert.Equal(t, uint64(0), fields["items_sold"])
	assert.Equal(t, uint64(0), fields["items_in_collection"])
}

func TestCreateCollectionWithoutBadge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	badge := f.mint(t, alice, 1)

	before := f.world()
	_, err := f.m.CreateCollection(ctx, call(bob, 0), badge)
	require.ErrorIs(t, err, domain.ErrTransferFailed)
	require.Empty(t, cmp.Diff(before, f.world()))
	require.Empty(t, f.m.FetchMarketCollections(ctx))
}

func TestAddAndRemoveItem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cid := f.collection(t, alice)
	iid := f.item(t, bob, 42, 0)

	require.NoError(t, f.m.AddItemToCollection(ctx, call(alice, 0), cid, iid))
	it, err := f.m.GetItem(ctx, iid)
	require.NoError(t, err)
	assert.Equal(t, cid, it.CollectionID)
	got, ok := f.m.GetCollectionItem(ctx, cid, iid)
	require.True(t, ok)
	assert.Equal(t, iid, got)
	n, err := f.m.GetAmountOfCollectionItems(ctx, cid)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
	requireMembershipInvariant(t, f.m.Snapshot(ctx))

	require.NoError(t, f.m.RemoveItemFromCollection(ctx, call(alice, 0), cid, iid))
	it, err = f.m.GetItem(ctx, iid)
	require.NoError(t, err)
	assert.False(t, it.Grouped())
	_, ok = f.m.GetCollectionItem(ctx, cid, iid)
	assert.False(t, ok)
	n, err = f.m.GetAmountOfCollectionItems(ctx, cid)
	require.NoError(t, err)
	assert.Zero(t, n)
	requireMembershipInvariant(t, f.m.Snapshot(ctx))
}

func TestAddItemAlreadyGrouped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.collection(t, alice)
	second := f.collection(t, alice)
	iid := f.item(t, alice, 42, first)

	before := f.world()
	err := f.m.AddItemToCollection(ctx, call(alice, 0), second, iid)
	require.ErrorIs(t, err, domain.ErrAlreadyGrouped)
	require.ErrorIs(t, err, domain.ErrInvalidState)
	require.Empty(t, cmp.Diff(before, f.world()))

	n, err := f.m.GetAmountOfCollectionItems(ctx, second)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAddItemRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cid := f.collection(t, alice)
	iid := f.item(t, bob, 42, 0)

	tests := []struct {
		name string
		call Call
		cid  domain.CollectionID
		iid  domain.ItemID
		want error
	}{
		{"unknown collection", call(alice, 0), 99, iid, domain.ErrCollectionNotFound},
		{"unknown item", call(alice, 0), cid, 99, domain.ErrItemNotFound},
		{"not owner", call(bob, 0), cid, iid, domain.ErrNotOwner},
		{"value attached", call(alice, 1), cid, iid, domain.ErrWrongAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := f.world()
			require.ErrorIs(t, f.m.AddItemToCollection(ctx, tt.call, tt.cid, tt.iid), tt.want)
			require.Empty(t, cmp.Diff(before, f.world()))
		})
	}
}

func TestRemoveItemRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cid := f.collection(t, alice)
	member := f.item(t, alice, 42, cid)
	loose := f.item(t, alice, 42, 0)

	tests := []struct {
		name string
		call Call
		iid  domain.ItemID
		want error
	}{
		{"not member", call(alice, 0), loose, domain.ErrNotMember},
		{"not member beats not owner", call(bob, 0), loose, domain.ErrNotMember},
		{"not owner", call(bob, 0), member, domain.ErrNotOwner},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := f.world()
			require.ErrorIs(t, f.m.RemoveItemFromCollection(ctx, tt.call, cid, tt.iid), tt.want)
			require.Empty(t, cmp.Diff(before, f.world()))
		})
	}
}

func TestCreateItemIntoCollection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cid := f.collection(t, alice)

	iid := f.item(t, alice, 42, cid)
	it, err := f.m.GetItem(ctx, iid)
	require.NoError(t, err)
	assert.Equal(t, cid, it.CollectionID)
	n, err := f.m.GetAmountOfCollectionItems(ctx, cid)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
	requireMembershipInvariant(t, f.m.Snapshot(ctx))

	a := f.mint(t, bob, 1)
	before := f.world()
	_, err = f.m.CreateItem(ctx, call(bob, 0), a, amount(42), cid)
	require.ErrorIs(t, err, domain.ErrNotOwner)
	_, err = f.m.CreateItem(ctx, call(bob, 0), a, amount(42), 99)
	require.ErrorIs(t, err, domain.ErrCollectionNotFound)
	require.Empty(t, cmp.Diff(before, f.world()))
}

func TestZeroPriceItemDropsCollection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cid := f.collection(t, alice)

	iid := f.item(t, alice, 0, cid)
	it, err := f.m.GetItem(ctx, iid)
	require.NoError(t, err)
	assert.False(t, it.Grouped())
	n, err := f.m.GetAmountOfCollectionItems(ctx, cid)
	require.NoError(t, err)
	assert.Zero(t, n)

	// The collection is not even looked up.
	iid = f.item(t, bob, 0, 99)
	it, err = f.m.GetItem(ctx, iid)
	require.NoError(t, err)
	assert.False(t, it.Grouped())
}

func TestSaleCountsTowardCollection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cid := f.collection(t, alice)
	iid := f.item(t, alice, 42, cid)
	require.NoError(t, f.m.ListItemForSale(ctx, call(alice, listingFee), iid, amount(42)))
	require.NoError(t, f.m.ExecuteSale(ctx, call(bob, 42), iid))

	c, err := f.m.GetCollection(ctx, cid)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), c.ItemsSoldInCollection)
	assert.Equal(t, uint64(1), c.ItemsInCollection)
}

func TestFetchCollections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a1 := f.collection(t, alice)
	b1 := f.collection(t, bob)
	a2 := f.collection(t, alice)

	ids := func(cs []domain.Collection) []domain.CollectionID {
		out := make([]domain.CollectionID, 0, len(cs))
		for _, c := range cs {
			out = append(out, c.CollectionID)
		}
		return out
	}
	assert.Equal(t, []domain.CollectionID{a1, b1, a2}, ids(f.m.FetchMarketCollections(ctx)))
	assert.Equal(t, []domain.CollectionID{a1, a2}, ids(f.m.FetchMyCollections(ctx, alice)))
	assert.Equal(t, []domain.CollectionID{b1}, ids(f.m.FetchMyCollections(ctx, bob)))
	assert.Empty(t, f.m.FetchMyCollections(ctx, carol))
}

func TestMembershipInvariantAcrossOperations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c1 := f.collection(t, alice)
	c2 := f.collection(t, bob)
	items := []domain.ItemID{
		f.item(t, alice, 5, c1),
		f.item(t, alice, 6, 0),
		f.item(t, bob, 7, c2),
		f.item(t, carol, 8, 0),
	}

	steps := []func() error{
		func() error { return f.m.AddItemToCollection(ctx, call(alice, 0), c1, items[1]) },
		func() error { return f.m.AddItemToCollection(ctx, call(bob, 0), c2, items[3]) },
		func() error { return f.m.AddItemToCollection(ctx, call(alice, 0), c1, items[3]) },
		func() error { return f.m.RemoveItemFromCollection(ctx, call(alice, 0), c1, items[0]) },
		func() error { return f.m.AddItemToCollection(ctx, call(bob, 0), c2, items[0]) },
		func() error { return f.m.RemoveItemFromCollection(ctx, call(bob, 0), c1, items[1]) },
		func() error { return f.m.RemoveItemFromCollection(ctx, call(bob, 0), c2, items[2]) },
		func() error { return f.m.RemoveItemFromCollection(ctx, call(bob, 0), c2, items[2]) },
	}
	for _, step := range steps {
		_ = step()
		requireMembershipInvariant(t, f.m.Snapshot(ctx))
	}

	c, err := f.m.GetCollection(ctx, c2)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), c.ItemsInCollection)
}
