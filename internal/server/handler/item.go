package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/marketledger/internal/domain"
)

// ItemHandler serves market item endpoints.
type ItemHandler struct {
	ledger Ledger
	logger *slog.Logger
}

// NewItemHandler creates an ItemHandler.
func NewItemHandler(l Ledger, logger *slog.Logger) *ItemHandler {
	return &ItemHandler{ledger: l, logger: logger}
}

type createItemRequest struct {
	TokenID      uint64 `json:"token_id"`
	Price        string `json:"price"`
	CollectionID uint64 `json:"collection_id"`
}

// Create takes one unit of a token into custody as a new item.
// POST /api/items
func (h *ItemHandler) Create(w http.ResponseWriter, r *http.Request) {
	call, ok := requireCall(w, r)
	if !ok {
		return
	}
	var req createItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	price, err := parseWei(req.Price)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := h.ledger.CreateItem(r.Context(), call, domain.AssetID(req.TokenID), price, domain.CollectionID(req.CollectionID))
	if err != nil {
		writeLedgerError(w, r, h.logger, "create item", err)
		return
	}
	h.respondItem(w, r, http.StatusCreated, id)
}

// List returns every item not yet bought.
// GET /api/items
func (h *ItemHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"items": viewItems(h.ledger.FetchMarketItems(r.Context()))})
}

// Mine returns the items the caller sold or bought.
// GET /api/items/mine[?address=0x...]
func (h *ItemHandler) Mine(w http.ResponseWriter, r *http.Request) {
	party, err := partyParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": viewItems(h.ledger.FetchMyItems(r.Context(), party))})
}

// Get returns one item.
// GET /api/items/{id}
func (h *ItemHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.respondItem(w, r, http.StatusOK, domain.ItemID(id))
}

type listRequest struct {
	Price string `json:"price"`
}

// ListForSale places an item on sale. X-Value must carry the listing fee.
// POST /api/items/{id}/listing
func (h *ItemHandler) ListForSale(w http.ResponseWriter, r *http.Request) {
	call, ok := requireCall(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req listRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	price, err := parseWei(req.Price)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.ledger.ListItemForSale(r.Context(), call, domain.ItemID(id), price); err != nil {
		writeLedgerError(w, r, h.logger, "list item", err)
		return
	}
	h.respondItem(w, r, http.StatusOK, domain.ItemID(id))
}

// Delist takes an item off sale. X-Value must carry the listing fee.
// DELETE /api/items/{id}/listing
func (h *ItemHandler) Delist(w http.ResponseWriter, r *http.Request) {
	call, ok := requireCall(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.ledger.RemoveItemSaleListing(r.Context(), call, domain.ItemID(id)); err != nil {
		writeLedgerError(w, r, h.logger, "delist item", err)
		return
	}
	h.respondItem(w, r, http.StatusOK, domain.ItemID(id))
}

// Buy sells the item to the caller. X-Value must equal the price.
// POST /api/items/{id}/sale
func (h *ItemHandler) Buy(w http.ResponseWriter, r *http.Request) {
	call, ok := requireCall(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.ledger.ExecuteSale(r.Context(), call, domain.ItemID(id)); err != nil {
		writeLedgerError(w, r, h.logger, "execute sale", err)
		return
	}
	h.respondItem(w, r, http.StatusOK, domain.ItemID(id))
}

func (h *ItemHandler) respondItem(w http.ResponseWriter, r *http.Request, status int, id domain.ItemID) {
	it, err := h.ledger.GetItem(r.Context(), id)
	if err != nil {
		writeLedgerError(w, r, h.logger, "get item", err)
		return
	}
	writeJSON(w, status, viewItem(it))
}
