package domain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// AssetRegistry owns balances of the underlying semi-fungible asset. The
// ledger only moves custody through it and never inspects its accounting.
type AssetRegistry interface {
	// Transfer moves qty units of asset from one party to another. It is
	// all-or-nothing.
	Transfer(ctx context.Context, from, to common.Address, asset AssetID, qty uint64) error
	// Mint creates a new token type and credits qty units of it to to.
	Mint(ctx context.Context, to common.Address, qty uint64) (AssetID, error)
	BalanceOf(ctx context.Context, owner common.Address, asset AssetID) uint64
}

// Funds holds native-currency balances used to settle prices and fees.
type Funds interface {
	Transfer(ctx context.Context, from, to common.Address, amount uint256.Int) error
	BalanceOf(ctx context.Context, owner common.Address) uint256.Int
}

// Journaled is implemented by collaborators that can undo their own writes
// exactly. Checkpoint opens a nested savepoint; RevertTo undoes everything
// written since it and closes it; Release keeps the writes and closes it.
type Journaled interface {
	Checkpoint() int
	RevertTo(cp int)
	Release(cp int)
}

// AssetBalance is one non-zero (owner, asset) balance.
type AssetBalance struct {
	Owner    common.Address `json:"owner"`
	AssetID  AssetID        `json:"asset_id"`
	Quantity uint64         `json:"quantity"`
}

// FundBalance is one non-zero native-currency balance.
type FundBalance struct {
	Owner  common.Address `json:"owner"`
	Amount string         `json:"amount"`
}
