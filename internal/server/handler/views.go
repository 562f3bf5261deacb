package handler

import "github.com/alanyoungcy/marketledger/internal/domain"

// itemView is the JSON form of a MarketItem. Amounts are decimal wei strings.
type itemView struct {
	ItemID       uint64 `json:"item_id"`
	TokenID      uint64 `json:"token_id"`
	Seller       string `json:"seller"`
	Owner        string `json:"owner,omitempty"`
	ForSale      bool   `json:"for_sale"`
	Sold         bool   `json:"sold"`
	State        string `json:"state"`
	Price        string `json:"price"`
	CollectionID uint64 `json:"collection_id,omitempty"`
}

func viewItem(it domain.MarketItem) itemView {
	v := itemView{
		ItemID:       uint64(it.ItemID),
		TokenID:      uint64(it.AssetID),
		Seller:       it.Seller.Hex(),
		ForSale:      it.ForSale,
		Sold:         it.Sold,
		State:        string(it.State()),
		Price:        it.Price.Dec(),
		CollectionID: uint64(it.CollectionID),
	}
	if it.HasOwner() {
		v.Owner = it.Owner.Hex()
	}
	return v
}

func viewItems(items []domain.MarketItem) []itemView {
	out := make([]itemView, 0, len(items))
	for _, it := range items {
		out = append(out, viewItem(it))
	}
	return out
}

// collectionView is the JSON form of a Collection.
type collectionView struct {
	CollectionID uint64 `json:"collection_id"`
	Owner        string `json:"owner"`
	BadgeTokenID uint64 `json:"badge_token_id"`
	ItemsTotal   uint64 `json:"items_in_collection"`
	ItemsSold    uint64 `json:"items_sold"`
}

func viewCollection(c domain.Collection) collectionView {
	return collectionView{
		CollectionID: uint64(c.CollectionID),
		Owner:        c.Owner.Hex(),
		BadgeTokenID: uint64(c.BadgeAssetID),
		ItemsTotal:   c.ItemsInCollection,
		ItemsSold:    c.ItemsSoldInCollection,
	}
}

func viewCollections(cs []domain.Collection) []collectionView {
	out := make([]collectionView, 0, len(cs))
	for _, c := range cs {
		out = append(out, viewCollection(c))
	}
	return out
}
