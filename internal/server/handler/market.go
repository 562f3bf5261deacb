package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/marketledger/internal/domain"
	"github.com/alanyoungcy/marketledger/internal/ledger"
)

// Ledger is the marketplace surface the HTTP handlers drive.
type Ledger interface {
	CreateCollection(ctx context.Context, call ledger.Call, badge domain.AssetID) (domain.CollectionID, error)
	AddItemToCollection(ctx context.Context, call ledger.Call, cid domain.CollectionID, iid domain.ItemID) error
	RemoveItemFromCollection(ctx context.Context, call ledger.Call, cid domain.CollectionID, iid domain.ItemID) error
	CreateItem(ctx context.Context, call ledger.Call, asset domain.AssetID, price uint256.Int, cid domain.CollectionID) (domain.ItemID, error)
	ListItemForSale(ctx context.Context, call ledger.Call, iid domain.ItemID, price uint256.Int) error
	RemoveItemSaleListing(ctx context.Context, call ledger.Call, iid domain.ItemID) error
	ExecuteSale(ctx context.Context, call ledger.Call, iid domain.ItemID) error
	MintAsset(ctx context.Context, call ledger.Call, qty uint64) (domain.AssetID, error)

	GetItem(ctx context.Context, id domain.ItemID) (domain.MarketItem, error)
	GetCollection(ctx context.Context, id domain.CollectionID) (domain.Collection, error)
	GetCollectionItem(ctx context.Context, cid domain.CollectionID, iid domain.ItemID) (domain.ItemID, bool)
	GetAmountOfCollectionItems(ctx context.Context, cid domain.CollectionID) (uint64, error)
	FetchMarketItems(ctx context.Context) []domain.MarketItem
	FetchMyItems(ctx context.Context, party common.Address) []domain.MarketItem
	FetchMarketCollections(ctx context.Context) []domain.Collection
	FetchMyCollections(ctx context.Context, owner common.Address) []domain.Collection
	GetListingPrice() uint256.Int
	GetMintingPrice() uint256.Int
}

// FundsReader reads native balances.
type FundsReader interface {
	BalanceOf(ctx context.Context, owner common.Address) uint256.Int
}

// AssetBook lists asset balances.
type AssetBook interface {
	Balances() []domain.AssetBalance
}

// MarketHandler serves fees, balances and the development mint endpoint.
type MarketHandler struct {
	ledger Ledger
	funds  FundsReader
	assets AssetBook
	logger *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(l Ledger, funds FundsReader, assets AssetBook, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{ledger: l, funds: funds, assets: assets, logger: logger}
}

// Fees returns the listing and minting fees.
// GET /api/fees
func (h *MarketHandler) Fees(w http.ResponseWriter, r *http.Request) {
	listing, minting := h.ledger.GetListingPrice(), h.ledger.GetMintingPrice()
	writeJSON(w, http.StatusOK, map[string]string{
		"listing_fee": listing.Dec(),
		"minting_fee": minting.Dec(),
	})
}

type mintRequest struct {
	Quantity uint64 `json:"quantity"`
}

// Mint creates a new asset type credited to the caller.
// POST /api/assets
func (h *MarketHandler) Mint(w http.ResponseWriter, r *http.Request) {
	call, ok := requireCall(w, r)
	if !ok {
		return
	}
	var req mintRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Quantity == 0 {
		writeError(w, http.StatusBadRequest, "quantity must be greater than zero")
		return
	}
	id, err := h.ledger.MintAsset(r.Context(), call, req.Quantity)
	if err != nil {
		writeLedgerError(w, r, h.logger, "mint asset", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]uint64{"token_id": uint64(id), "quantity": req.Quantity})
}

type assetBalanceView struct {
	TokenID  uint64 `json:"token_id"`
	Quantity uint64 `json:"quantity"`
}

// Balances returns the native balance and every asset balance of an address.
// GET /api/balances/{address}
func (h *MarketHandler) Balances(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.PathValue("address"))
	if !common.IsHexAddress(raw) {
		writeError(w, http.StatusBadRequest, "address must be a hex address")
		return
	}
	addr := common.HexToAddress(raw)

	assets := []assetBalanceView{}
	for _, b := range h.assets.Balances() {
		if b.Owner == addr {
			assets = append(assets, assetBalanceView{TokenID: uint64(b.AssetID), Quantity: b.Quantity})
		}
	}
	native := h.funds.BalanceOf(r.Context(), addr)
	writeJSON(w, http.StatusOK, map[string]any{
		"address": addr.Hex(),
		"native":  native.Dec(),
		"assets":  assets,
	})
}
