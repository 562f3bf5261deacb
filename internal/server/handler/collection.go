package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/marketledger/internal/domain"
)

// CollectionHandler serves collection endpoints.
type CollectionHandler struct {
	ledger Ledger
	logger *slog.Logger
}

// NewCollectionHandler creates a CollectionHandler.
func NewCollectionHandler(l Ledger, logger *slog.Logger) *CollectionHandler {
	return &CollectionHandler{ledger: l, logger: logger}
}

type createCollectionRequest struct {
	BadgeTokenID uint64 `json:"badge_token_id"`
}

// Create registers a collection backed by one unit of the badge token.
// POST /api/collections
func (h *CollectionHandler) Create(w http.ResponseWriter, r *http.Request) {
	call, ok := requireCall(w, r)
	if !ok {
		return
	}
	var req createCollectionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := h.ledger.CreateCollection(r.Context(), call, domain.AssetID(req.BadgeTokenID))
	if err != nil {
		writeLedgerError(w, r, h.logger, "create collection", err)
		return
	}
	h.respondCollection(w, r, http.StatusCreated, id)
}

// List returns every collection.
// GET /api/collections
func (h *CollectionHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"collections": viewCollections(h.ledger.FetchMarketCollections(r.Context())),
	})
}

// Mine returns the collections the caller owns.
// GET /api/collections/mine[?address=0x...]
func (h *CollectionHandler) Mine(w http.ResponseWriter, r *http.Request) {
	owner, err := partyParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"collections": viewCollections(h.ledger.FetchMyCollections(r.Context(), owner)),
	})
}

// Get returns one collection.
// GET /api/collections/{id}
func (h *CollectionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.respondCollection(w, r, http.StatusOK, domain.CollectionID(id))
}

// Count returns the number of items in a collection.
// GET /api/collections/{id}/count
func (h *CollectionHandler) Count(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	n, err := h.ledger.GetAmountOfCollectionItems(r.Context(), domain.CollectionID(id))
	if err != nil {
		writeLedgerError(w, r, h.logger, "count collection items", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"collection_id": id, "items_in_collection": n})
}

// Member reports whether an item belongs to a collection.
// GET /api/collections/{id}/items/{itemID}
func (h *CollectionHandler) Member(w http.ResponseWriter, r *http.Request) {
	cid, iid, ok := memberPath(w, r)
	if !ok {
		return
	}
	got, member := h.ledger.GetCollectionItem(r.Context(), cid, iid)
	writeJSON(w, http.StatusOK, map[string]any{
		"collection_id": uint64(cid),
		"item_id":       uint64(got),
		"member":        member,
	})
}

type addItemRequest struct {
	ItemID uint64 `json:"item_id"`
}

// AddItem groups an item under a collection the caller owns.
// POST /api/collections/{id}/items
func (h *CollectionHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	call, ok := requireCall(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req addItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cid := domain.CollectionID(id)
	if err := h.ledger.AddItemToCollection(r.Context(), call, cid, domain.ItemID(req.ItemID)); err != nil {
		writeLedgerError(w, r, h.logger, "add item to collection", err)
		return
	}
	h.respondCollection(w, r, http.StatusOK, cid)
}

// RemoveItem ungroups a member item.
// DELETE /api/collections/{id}/items/{itemID}
func (h *CollectionHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	call, ok := requireCall(w, r)
	if !ok {
		return
	}
	cid, iid, ok := memberPath(w, r)
	if !ok {
		return
	}
	if err := h.ledger.RemoveItemFromCollection(r.Context(), call, cid, iid); err != nil {
		writeLedgerError(w, r, h.logger, "remove item from collection", err)
		return
	}
	h.respondCollection(w, r, http.StatusOK, cid)
}

func memberPath(w http.ResponseWriter, r *http.Request) (domain.CollectionID, domain.ItemID, bool) {
	cid, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return 0, 0, false
	}
	iid, err := pathID(r, "itemID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return 0, 0, false
	}
	return domain.CollectionID(cid), domain.ItemID(iid), true
}

func (h *CollectionHandler) respondCollection(w http.ResponseWriter, r *http.Request, status int, id domain.CollectionID) {
	c, err := h.ledger.GetCollection(r.Context(), id)
	if err != nil {
		writeLedgerError(w, r, h.logger, "get collection", err)
		return
	}
	writeJSON(w, status, viewCollection(c))
}
