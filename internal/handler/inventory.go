package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/errors"

	"github.com/trminh/vnshop/internal/domain/catalog"
	"github.com/trminh/vnshop/internal/domain/inventory"
)

type inventoryEntryDTO struct {
	ID              int64     `json:"id"`
	ProductID       string    `json:"productId"`
	VariantID       string    `json:"variantId,omitempty"`
	QuantityChange  int       `json:"quantityChange"`
	CurrentQuantity int       `json:"currentQuantity"`
	ReferenceType   string    `json:"referenceType"`
	ReferenceID     string    `json:"referenceId,omitempty"`
	Note            string    `json:"note,omitempty"`
	ActorID         string    `json:"actorId"`
	CreatedAt       time.Time `json:"createdAt"`
}

type adjustInventoryRequest struct {
	VariantID string `json:"variantId,omitempty"`
	Delta     int    `json:"delta"`
	Note      string `json:"note,omitempty"`
}

func (h *Handler) inventoryHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.inventory.History(r.Context(), r.PathValue("id"), r.PathValue("variantId"))
	if err != nil {
		internalError(w, r, err)
		return
	}

	out := make([]inventoryEntryDTO, len(entries))
	for i, e := range entries {
		out[i] = toInventoryEntryDTO(e)
	}
	writeJSON(w, r, http.StatusOK, out)
}

func (h *Handler) adjustInventory(w http.ResponseWriter, r *http.Request) {
	var req adjustInventoryRequest
	if !decodeBody(w, r, &req) {
		return
	}

	key, _ := KeyFromContext(r.Context())
	entry, err := h.inventory.Adjust(r.Context(), r.PathValue("id"), req.VariantID, req.Delta, key.ID, req.Note)
	if err != nil {
		var isErr *inventory.InsufficientStockError
		switch {
		case errors.Is(err, inventory.ErrZeroDelta):
			writeError(w, r, http.StatusBadRequest, err.Error())
		case errors.As(err, &isErr):
			writeError(w, r, http.StatusUnprocessableEntity, isErr.Error())
		case errors.Is(err, catalog.ErrNotFound):
			writeError(w, r, http.StatusNotFound, "product not found")
		default:
			internalError(w, r, err)
		}
		return
	}

	writeJSON(w, r, http.StatusCreated, toInventoryEntryDTO(*entry))
}

func toInventoryEntryDTO(e inventory.Entry) inventoryEntryDTO {
	return inventoryEntryDTO{
		ID:              e.ID,
		ProductID:       e.ProductID,
		VariantID:       e.VariantID,
		QuantityChange:  e.QuantityChange,
		CurrentQuantity: e.CurrentQuantity,
		ReferenceType:   string(e.ReferenceType),
		ReferenceID:     e.ReferenceID,
		Note:            e.Note,
		ActorID:         e.ActorID,
		CreatedAt:       e.CreatedAt,
	}
}
