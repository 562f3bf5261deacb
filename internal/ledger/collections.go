package ledger

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/marketledger/internal/domain"
)

// collectionLedger owns Collection records and the membership set.
type collectionLedger struct {
	m *Marketplace
}

func (l collectionLedger) create(ctx context.Context, tx *txn, call Call, badge domain.AssetID) (domain.CollectionID, error) {
	if err := requireNoValue(call); err != nil {
		return 0, err
	}
	c := domain.Collection{
		CollectionID: domain.CollectionID(tx.next(l.m.ids.Collections)),
		Owner:        call.Caller,
		BadgeAssetID: badge,
	}
	tx.putCollection(c)
	if err := l.m.moveAsset(ctx, call.Caller, l.m.cfg.Address, badge, "badge into custody"); err != nil {
		return 0, err
	}
	c, _ = tx.st.collection(c.CollectionID)
	tx.emit(l.m.collectionEvent(domain.EventCollectionCreated, call, c, nil))
	return c.CollectionID, nil
}

// lookup returns the collection and item, or the NotFound error for
// whichever is missing.
func (l collectionLedger) lookup(tx *txn, cid domain.CollectionID, iid domain.ItemID) (domain.Collection, domain.MarketItem, error) {
	c, ok := tx.st.collection(cid)
	if !ok {
		return domain.Collection{}, domain.MarketItem{}, domain.ErrCollectionNotFound
	}
	it, ok := tx.st.item(iid)
	if !ok {
		return domain.Collection{}, domain.MarketItem{}, domain.ErrItemNotFound
	}
	return c, it, nil
}

func (l collectionLedger) add(_ context.Context, tx *txn, call Call, cid domain.CollectionID, iid domain.ItemID) error {
	if err := requireNoValue(call); err != nil {
		return err
	}
	c, it, err := l.lookup(tx, cid, iid)
	if err != nil {
		return err
	}
	if err := requireCollectionOwner(call.Caller, c); err != nil {
		return err
	}
	if it.Grouped() {
		return domain.ErrAlreadyGrouped
	}
	it, c = l.attach(tx, c, it)
	tx.emit(l.m.collectionEvent(domain.EventItemGrouped, call, c, &it))
	return nil
}

// attach links it to c: back-reference, membership entry and count.
func (l collectionLedger) attach(tx *txn, c domain.Collection, it domain.MarketItem) (domain.MarketItem, domain.Collection) {
	it.CollectionID = c.CollectionID
	c.ItemsInCollection++
	tx.putItem(it)
	tx.join(domain.Membership{CollectionID: c.CollectionID, ItemID: it.ItemID})
	tx.putCollection(c)
	return it, c
}

func (l collectionLedger) remove(_ context.Context, tx *txn, call Call, cid domain.CollectionID, iid domain.ItemID) error {
	if err := requireNoValue(call); err != nil {
		return err
	}
	m := domain.Membership{CollectionID: cid, ItemID: iid}
	if !tx.st.isMember(m) {
		return domain.ErrNotMember
	}
	c, it, err := l.lookup(tx, cid, iid)
	if err != nil {
		return err
	}
	if err := requireCollectionOwner(call.Caller, c); err != nil {
		return err
	}
	if !it.Grouped() {
		return domain.ErrNotGrouped
	}
	if c.ItemsInCollection == 0 {
		panic(fmt.Sprintf("ledger: collection %d item count would go negative", cid))
	}
	it.CollectionID = 0
	c.ItemsInCollection--
	tx.putItem(it)
	tx.leave(m)
	tx.putCollection(c)
	tx.emit(l.m.collectionEvent(domain.EventItemUngrouped, call, c, &it))
	return nil
}

// recordSale bumps the sold counter of the collection it belongs to.
func (l collectionLedger) recordSale(tx *txn, it domain.MarketItem) {
	if !it.Grouped() {
		return
	}
	c, ok := tx.st.collection(it.CollectionID)
	if !ok {
		return
	}
	c.ItemsSoldInCollection++
	tx.putCollection(c)
}
