package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// EventKind names an emitted ledger fact.
type EventKind string

const (
	EventMarketItemCreated EventKind = "MarketItemCreated"
	EventCollectionCreated EventKind = "CollectionCreated"
	EventItemListed        EventKind = "ItemListed"
	EventItemDelisted      EventKind = "ItemDelisted"
	EventItemSold          EventKind = "ItemSold"
	EventItemGrouped       EventKind = "ItemGrouped"
	EventItemUngrouped     EventKind = "ItemUngrouped"
)

// Event is a fact emitted after an operation commits. Item and Collection
// hold the record as it stood once the operation finished.
type Event struct {
	Sequence   uint64
	Kind       EventKind
	Caller     common.Address
	Amount     uint256.Int
	Item       *MarketItem
	Collection *Collection
	OccurredAt time.Time
}

// Fields flattens the event into its wire form.
func (e Event) Fields() map[string]any {
	out := map[string]any{
		"kind":        string(e.Kind),
		"sequence":    e.Sequence,
		"caller":      e.Caller.Hex(),
		"amount":      e.Amount.Dec(),
		"occurred_at": e.OccurredAt.UTC().Format(time.RFC3339Nano),
	}
	if it := e.Item; it != nil {
		out["item_id"] = uint64(it.ItemID)
		out["token_id"] = uint64(it.AssetID)
		out["seller"] = it.Seller.Hex()
		out["owner"] = it.Owner.Hex()
		out["for_sale"] = it.ForSale
		out["sold"] = it.Sold
		out["price"] = it.Price.Dec()
		out["collection_id"] = uint64(it.CollectionID)
	}
	if c := e.Collection; c != nil {
		out["collection_id"] = uint64(c.CollectionID)
		out["collection_owner"] = c.Owner.Hex()
		out["badge_token_id"] = uint64(c.BadgeAssetID)
		out["items_sold"] = c.ItemsSoldInCollection
		out["items_in_collection"] = c.ItemsInCollection
		if e.Kind == EventCollectionCreated {
			out["owner"] = c.Owner.Hex()
			out["token_id"] = uint64(c.BadgeAssetID)
		}
	}
	return out
}

// EventSink receives committed events in emission order.
type EventSink interface {
	Emit(ctx context.Context, evt Event)
}
