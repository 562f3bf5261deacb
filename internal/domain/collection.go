package domain

import "github.com/ethereum/go-ethereum/common"

// Collection is an owner-controlled grouping of items, itself backed by one
// badge asset unit held in custody.
type Collection struct {
	CollectionID          CollectionID
	Owner                 common.Address
	BadgeAssetID          AssetID
	ItemsInCollection     uint64
	ItemsSoldInCollection uint64
}

// Membership is one (collection, item) entry of the membership set.
type Membership struct {
	CollectionID CollectionID
	ItemID       ItemID
}
