package domain

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ItemID identifies a MarketItem. Zero is never allocated.
type ItemID uint64

// CollectionID identifies a Collection. Zero means "no collection".
type CollectionID uint64

// AssetID identifies one token type in the asset registry.
type AssetID uint64

// ItemState is the derived lifecycle state of a MarketItem.
type ItemState string

const (
	ItemStateCreated ItemState = "created"
	ItemStateListed  ItemState = "listed"
	ItemStateSold    ItemState = "sold"
)

// MarketItem is one listable unit of an asset held in marketplace custody.
// Sold never reverts, and a sale leaves ForSale untouched, so a sold item
// still reports ForSale == true.
type MarketItem struct {
	ItemID       ItemID
	AssetID      AssetID
	Seller       common.Address
	Owner        common.Address // zero until sold
	ForSale      bool
	Sold         bool
	Price        uint256.Int
	CollectionID CollectionID // zero when unaffiliated
}

// State reports where the item sits in the Created -> Listed -> Sold machine.
func (m MarketItem) State() ItemState {
	switch {
	case m.Sold:
		return ItemStateSold
	case m.ForSale:
		return ItemStateListed
	default:
		return ItemStateCreated
	}
}

// HasOwner reports whether the item has been bought.
func (m MarketItem) HasOwner() bool {
	return m.Owner != (common.Address{})
}

// Grouped reports whether the item carries a collection back-reference.
func (m MarketItem) Grouped() bool {
	return m.CollectionID != 0
}
