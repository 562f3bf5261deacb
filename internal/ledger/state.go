package ledger

import (
	"fmt"
	"slices"

	"github.com/alanyoungcy/marketledger/internal/domain"
)

// state is the explicit store: the item and collection tables, the
// membership set and the indices derived from them. Every write goes
// through the put/drop helpers so the indices never drift from the tables.
type state struct {
	items       map[domain.ItemID]domain.MarketItem
	collections map[domain.CollectionID]domain.Collection
	members     map[domain.Membership]struct{}
	idx         *index
}

func newState() *state {
	return &state{
		items:       make(map[domain.ItemID]domain.MarketItem),
		collections: make(map[domain.CollectionID]domain.Collection),
		members:     make(map[domain.Membership]struct{}),
		idx:         newIndex(),
	}
}

func (s *state) item(id domain.ItemID) (domain.MarketItem, bool) {
	it, ok := s.items[id]
	return it, ok
}

func (s *state) collection(id domain.CollectionID) (domain.Collection, bool) {
	c, ok := s.collections[id]
	return c, ok
}

func (s *state) isMember(m domain.Membership) bool {
	_, ok := s.members[m]
	return ok
}

func (s *state) putItem(it domain.MarketItem) {
	if old, ok := s.items[it.ItemID]; ok {
		s.idx.removeItem(old)
	}
	s.items[it.ItemID] = it
	s.idx.addItem(it)
}

func (s *state) dropItem(id domain.ItemID) {
	if old, ok := s.items[id]; ok {
		s.idx.removeItem(old)
		delete(s.items, id)
	}
}

func (s *state) putCollection(c domain.Collection) {
	if old, ok := s.collections[c.CollectionID]; ok {
		s.idx.removeCollection(old)
	}
	s.collections[c.CollectionID] = c
	s.idx.addCollection(c)
}

func (s *state) dropCollection(id domain.CollectionID) {
	if old, ok := s.collections[id]; ok {
		s.idx.removeCollection(old)
		delete(s.collections, id)
	}
}

func (s *state) join(m domain.Membership) {
	s.members[m] = struct{}{}
	s.idx.join(m)
}

func (s *state) leave(m domain.Membership) {
	delete(s.members, m)
	s.idx.leave(m)
}

// snapshot copies the tables in ascending identifier order.
func (s *state) snapshot(c domain.Counters) domain.Snapshot {
	snap := domain.Snapshot{
		Counters:    c,
		Items:       make([]domain.MarketItem, 0, len(s.items)),
		Collections: make([]domain.Collection, 0, len(s.collections)),
		Memberships: make([]domain.Membership, 0, len(s.members)),
	}
	for _, id := range sortedKeys(keySet(s.items)) {
		snap.Items = append(snap.Items, s.items[id])
	}
	for _, id := range s.idx.allCollections() {
		snap.Collections = append(snap.Collections, s.collections[id])
	}
	for m := range s.members {
		snap.Memberships = append(snap.Memberships, m)
	}
	slices.SortFunc(snap.Memberships, compareMembership)
	return snap
}

// load replaces the whole state with snap after checking the membership
// invariant holds for it.
func loadState(snap domain.Snapshot) (*state, error) {
	s := newState()
	for _, it := range snap.Items {
		if it.ItemID <= reservedIDs || uint64(it.ItemID) > snap.Counters.Items {
			return nil, fmt.Errorf("ledger: load: item %d outside allocated range", it.ItemID)
		}
		s.putItem(it)
	}
	for _, c := range snap.Collections {
		if c.CollectionID <= reservedIDs || uint64(c.CollectionID) > snap.Counters.Collections {
			return nil, fmt.Errorf("ledger: load: collection %d outside allocated range", c.CollectionID)
		}
		s.putCollection(c)
	}
	for _, m := range snap.Memberships {
		it, ok := s.items[m.ItemID]
		if !ok || it.CollectionID != m.CollectionID {
			return nil, fmt.Errorf("ledger: load: membership (%d,%d) does not match item back-reference", m.CollectionID, m.ItemID)
		}
		s.join(m)
	}
	for _, it := range s.items {
		if it.Grouped() && !s.isMember(domain.Membership{CollectionID: it.CollectionID, ItemID: it.ItemID}) {
			return nil, fmt.Errorf("ledger: load: item %d references collection %d without membership", it.ItemID, it.CollectionID)
		}
	}
	for id, c := range s.collections {
		if n := s.idx.memberCount(id); uint64(n) != c.ItemsInCollection {
			return nil, fmt.Errorf("ledger: load: collection %d counts %d items, has %d members", id, c.ItemsInCollection, n)
		}
	}
	return s, nil
}

func keySet[K comparable, V any](m map[K]V) map[K]struct{} {
	out := make(map[K]struct{}, len(m))
	for k := range m {
		out[k] = struct{}{}
	}
	return out
}

func compareMembership(a, b domain.Membership) int {
	if a.CollectionID != b.CollectionID {
		if a.CollectionID < b.CollectionID {
			return -1
		}
		return 1
	}
	switch {
	case a.ItemID < b.ItemID:
		return -1
	case a.ItemID > b.ItemID:
		return 1
	}
	return 0
}
