package ledger

import (
	"cmp"
	"slices"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketledger/internal/domain"
)

// index holds the secondary indices behind the query projections. It is
// updated on every record write, including rollbacks, so it always mirrors
// the tables.
type index struct {
	unowned     map[domain.ItemID]struct{}
	byParty     map[common.Address]map[domain.ItemID]struct{}
	collByOwner map[common.Address]map[domain.CollectionID]struct{}
	collections map[domain.CollectionID]struct{}
	members     map[domain.CollectionID]map[domain.ItemID]struct{}
}

func newIndex() *index {
	return &index{
		unowned:     make(map[domain.ItemID]struct{}),
		byParty:     make(map[common.Address]map[domain.ItemID]struct{}),
		collByOwner: make(map[common.Address]map[domain.CollectionID]struct{}),
		collections: make(map[domain.CollectionID]struct{}),
		members:     make(map[domain.CollectionID]map[domain.ItemID]struct{}),
	}
}

func (x *index) addItem(it domain.MarketItem) {
	if !it.HasOwner() {
		x.unowned[it.ItemID] = struct{}{}
	}
	addTo(x.byParty, it.Seller, it.ItemID)
	if it.HasOwner() {
		addTo(x.byParty, it.Owner, it.ItemID)
	}
}

func (x *index) removeItem(it domain.MarketItem) {
	delete(x.unowned, it.ItemID)
	removeFrom(x.byParty, it.Seller, it.ItemID)
	if it.HasOwner() {
		removeFrom(x.byParty, it.Owner, it.ItemID)
	}
}

func (x *index) addCollection(c domain.Collection) {
	x.collections[c.CollectionID] = struct{}{}
	addTo(x.collByOwner, c.Owner, c.CollectionID)
}

func (x *index) removeCollection(c domain.Collection) {
	delete(x.collections, c.CollectionID)
	removeFrom(x.collByOwner, c.Owner, c.CollectionID)
}

func (x *index) join(m domain.Membership) {
	addTo(x.members, m.CollectionID, m.ItemID)
}

func (x *index) leave(m domain.Membership) {
	removeFrom(x.members, m.CollectionID, m.ItemID)
}

func (x *index) unownedItems() []domain.ItemID {
	return sortedKeys(x.unowned)
}

func (x *index) partyItems(party common.Address) []domain.ItemID {
	return sortedKeys(x.byParty[party])
}

func (x *index) allCollections() []domain.CollectionID {
	return sortedKeys(x.collections)
}

func (x *index) ownerCollections(owner common.Address) []domain.CollectionID {
	return sortedKeys(x.collByOwner[owner])
}

func (x *index) memberCount(cid domain.CollectionID) int {
	return len(x.members[cid])
}

func addTo[K comparable, V comparable](m map[K]map[V]struct{}, k K, v V) {
	set, ok := m[k]
	if !ok {
		set = make(map[V]struct{})
		m[k] = set
	}
	set[v] = struct{}{}
}

func removeFrom[K comparable, V comparable](m map[K]map[V]struct{}, k K, v V) {
	set, ok := m[k]
	if !ok {
		return
	}
	delete(set, v)
	if len(set) == 0 {
		delete(m, k)
	}
}

func sortedKeys[K cmp.Ordered](set map[K]struct{}) []K {
	out := make([]K, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
