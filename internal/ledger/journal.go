package ledger

import (
	"slices"

	"github.com/alanyoungcy/marketledger/internal/domain"
)

// savepoint is an open checkpoint on a journaled collaborator.
type savepoint struct {
	j  domain.Journaled
	cp int
}

// txn records every write one operation makes so that it can be undone
// exactly. A nested txn folds into its parent when it succeeds and unwinds
// on its own when it fails.
type txn struct {
	st     *state
	parent *txn

	undo    []func()
	items   map[domain.ItemID]struct{}
	colls   map[domain.CollectionID]struct{}
	touched map[domain.Membership]bool // membership presence before the first write
	events  []domain.Event
	saves   []savepoint
	bumped  bool // a counter moved
}

func newTxn(st *state, parent *txn, collaborators ...any) *txn {
	tx := &txn{
		st:      st,
		parent:  parent,
		items:   make(map[domain.ItemID]struct{}),
		colls:   make(map[domain.CollectionID]struct{}),
		touched: make(map[domain.Membership]bool),
	}
	for _, c := range collaborators {
		if j, ok := c.(domain.Journaled); ok {
			tx.saves = append(tx.saves, savepoint{j: j, cp: j.Checkpoint()})
		}
	}
	return tx
}

// next allocates from c and arranges for the allocation to be returned on
// rollback.
func (tx *txn) next(c *Counter) uint64 {
	tx.track(c)
	return c.Next()
}

// track remembers the current value of c so that rollback restores it.
func (tx *txn) track(c *Counter) {
	prev := c.Current()
	tx.bumped = true
	tx.undo = append(tx.undo, func() { c.Restore(prev) })
}

func (tx *txn) putItem(it domain.MarketItem) {
	prev, existed := tx.st.item(it.ItemID)
	tx.undo = append(tx.undo, func() {
		if existed {
			tx.st.putItem(prev)
			return
		}
		tx.st.dropItem(it.ItemID)
	})
	tx.items[it.ItemID] = struct{}{}
	tx.st.putItem(it)
}

func (tx *txn) putCollection(c domain.Collection) {
	prev, existed := tx.st.collection(c.CollectionID)
	tx.undo = append(tx.undo, func() {
		if existed {
			tx.st.putCollection(prev)
			return
		}
		tx.st.dropCollection(c.CollectionID)
	})
	tx.colls[c.CollectionID] = struct{}{}
	tx.st.putCollection(c)
}

func (tx *txn) join(m domain.Membership) {
	tx.touch(m)
	tx.undo = append(tx.undo, func() { tx.st.leave(m) })
	tx.st.join(m)
}

func (tx *txn) leave(m domain.Membership) {
	tx.touch(m)
	tx.undo = append(tx.undo, func() { tx.st.join(m) })
	tx.st.leave(m)
}

func (tx *txn) touch(m domain.Membership) {
	if _, seen := tx.touched[m]; !seen {
		tx.touched[m] = tx.st.isMember(m)
	}
}

func (tx *txn) emit(evt domain.Event) {
	tx.events = append(tx.events, evt)
}

// rollback undoes the ledger writes in reverse order and reverts every
// collaborator savepoint taken at the start of the txn.
func (tx *txn) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
	for i := len(tx.saves) - 1; i >= 0; i-- {
		tx.saves[i].j.RevertTo(tx.saves[i].cp)
	}
	tx.saves = nil
	tx.events = nil
}

// release keeps the collaborator writes and closes the savepoints.
func (tx *txn) release() {
	for i := len(tx.saves) - 1; i >= 0; i-- {
		tx.saves[i].j.Release(tx.saves[i].cp)
	}
	tx.saves = nil
}

// mergeInto hands a successful nested txn's writes to its parent, which
// becomes responsible for undoing them.
func (tx *txn) mergeInto(p *txn) {
	tx.release()
	p.undo = append(p.undo, tx.undo...)
	for id := range tx.items {
		p.items[id] = struct{}{}
	}
	for id := range tx.colls {
		p.colls[id] = struct{}{}
	}
	for m, was := range tx.touched {
		if _, seen := p.touched[m]; !seen {
			p.touched[m] = was
		}
	}
	p.events = append(p.events, tx.events...)
	p.bumped = p.bumped || tx.bumped
}

// changeset reports the final form of everything the txn wrote.
func (tx *txn) changeset(c domain.Counters) domain.Changeset {
	cs := domain.Changeset{Counters: c}
	for _, id := range sortedKeys(tx.items) {
		it, _ := tx.st.item(id)
		cs.Items = append(cs.Items, it)
	}
	for _, id := range sortedKeys(tx.colls) {
		col, _ := tx.st.collection(id)
		cs.Collections = append(cs.Collections, col)
	}
	for m, was := range tx.touched {
		switch now := tx.st.isMember(m); {
		case now && !was:
			cs.Joined = append(cs.Joined, m)
		case was && !now:
			cs.Left = append(cs.Left, m)
		}
	}
	slices.SortFunc(cs.Joined, compareMembership)
	slices.SortFunc(cs.Left, compareMembership)
	return cs
}
