package ledger

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketledger/internal/domain"
)

// Access control checks, shared by the item and collection ledgers.

func requireSeller(caller common.Address, it domain.MarketItem) error {
	if caller != it.Seller {
		return domain.ErrNotSeller
	}
	return nil
}

func requireCollectionOwner(caller common.Address, c domain.Collection) error {
	if caller != c.Owner {
		return domain.ErrNotOwner
	}
	return nil
}

func requireNoValue(call Call) error {
	if !call.Value.IsZero() {
		return domain.ErrWrongAmount
	}
	return nil
}
