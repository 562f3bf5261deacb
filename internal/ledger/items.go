package ledger

import (
	"context"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/marketledger/internal/domain"
)

// itemLedger owns MarketItem records and the listing/sale state machine.
type itemLedger struct {
	m *Marketplace
}

func (l itemLedger) create(ctx context.Context, tx *txn, call Call, asset domain.AssetID, price uint256.Int, cid domain.CollectionID) (domain.ItemID, error) {
	if err := requireNoValue(call); err != nil {
		return 0, err
	}

	// Zero-price items never join a collection.
	var coll *domain.Collection
	if cid != 0 && !price.IsZero() {
		c, ok := tx.st.collection(cid)
		if !ok {
			return 0, domain.ErrCollectionNotFound
		}
		if err := requireCollectionOwner(call.Caller, c); err != nil {
			return 0, err
		}
		coll = &c
	}

	it := domain.MarketItem{
		ItemID:  domain.ItemID(tx.next(l.m.ids.Items)),
		AssetID: asset,
		Seller:  call.Caller,
		Price:   price,
	}
	tx.putItem(it)
	if coll != nil {
		l.m.collections.attach(tx, *coll, it)
	}
	if err := l.m.moveAsset(ctx, call.Caller, l.m.cfg.Address, asset, "asset into custody"); err != nil {
		return 0, err
	}

	it, _ = tx.st.item(it.ItemID)
	tx.emit(l.m.itemEvent(domain.EventMarketItemCreated, call, it))
	return it.ItemID, nil
}

func (l itemLedger) list(ctx context.Context, tx *txn, call Call, iid domain.ItemID, price uint256.Int) error {
	it, ok := tx.st.item(iid)
	if !ok {
		return domain.ErrItemNotFound
	}
	if err := requireSeller(call.Caller, it); err != nil {
		return err
	}
	switch {
	case it.Sold:
		return domain.ErrAlreadySold
	case it.ForSale:
		return domain.ErrAlreadyListed
	case price.IsZero():
		return domain.ErrInvalidPrice
	case call.Value != l.m.cfg.ListingFee:
		return domain.ErrWrongFee
	}

	it.ForSale = true
	it.Price = price
	tx.putItem(it)
	if err := l.m.pay(ctx, call.Caller, l.m.cfg.Address, call.Value, "listing fee"); err != nil {
		return err
	}
	tx.emit(l.m.itemEvent(domain.EventItemListed, call, it))
	return nil
}

func (l itemLedger) delist(ctx context.Context, tx *txn, call Call, iid domain.ItemID) error {
	it, ok := tx.st.item(iid)
	if !ok {
		return domain.ErrItemNotFound
	}
	if err := requireSeller(call.Caller, it); err != nil {
		return err
	}
	switch {
	case it.Sold:
		return domain.ErrAlreadySold
	case !it.ForSale:
		return domain.ErrNotListed
	case call.Value != l.m.cfg.ListingFee:
		return domain.ErrWrongFee
	}

	it.ForSale = false
	tx.putItem(it)
	if err := l.m.pay(ctx, call.Caller, l.m.cfg.Address, call.Value, "delisting fee"); err != nil {
		return err
	}
	tx.emit(l.m.itemEvent(domain.EventItemDelisted, call, it))
	return nil
}

// sell settles a purchase of a listed item. Ownership is recorded before any
// outbound transfer, so a reentrant sale of the same item sees it sold.
func (l itemLedger) sell(ctx context.Context, tx *txn, call Call, iid domain.ItemID) error {
	it, ok := tx.st.item(iid)
	if !ok {
		return domain.ErrItemNotFound
	}
	if it.Sold || it.HasOwner() {
		return domain.ErrAlreadySold
	}
	if !it.ForSale {
		return domain.ErrNotListed
	}
	if call.Value != it.Price {
		return domain.ErrWrongAmount
	}

	custody := l.m.cfg.Address
	if err := l.m.pay(ctx, call.Caller, custody, call.Value, "sale payment"); err != nil {
		return err
	}

	it.Owner = call.Caller
	it.Sold = true
	tx.putItem(it)
	l.m.collections.recordSale(tx, it)

	if err := l.m.pay(ctx, custody, it.Seller, it.Price, "seller proceeds"); err != nil {
		return err
	}
	if err := l.m.moveAsset(ctx, custody, call.Caller, it.AssetID, "asset to buyer"); err != nil {
		return err
	}
	if err := l.m.pay(ctx, custody, l.m.cfg.FeeCollector, l.m.cfg.ListingFee, "listing fee to collector"); err != nil {
		return err
	}

	it, _ = tx.st.item(iid)
	tx.emit(l.m.itemEvent(domain.EventItemSold, call, it))
	return nil
}
