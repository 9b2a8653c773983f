// Package handler implements the JSON-over-HTTP surface of the order service.
package handler

import (
	"net/http"

	"github.com/trminh/vnshop/internal/domain/auth"
	"github.com/trminh/vnshop/internal/domain/inventory"
	"github.com/trminh/vnshop/internal/domain/order"
)

// Handler wires the HTTP routes to the domain services.
type Handler struct {
	orders    *order.Service
	inventory *inventory.Service
	security  *Security
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(orders *order.Service, inv *inventory.Service, security *Security) *Handler {
	return &Handler{
		orders:    orders,
		inventory: inv,
		security:  security,
	}
}

// Register mounts all API routes on the given mux under /api.
func (h *Handler) Register(mux *http.ServeMux) {
	customer := func(fn http.HandlerFunc) http.Handler {
		return h.security.Require(auth.ScopeOrdersWrite, fn)
	}
	staff := func(fn http.HandlerFunc) http.Handler {
		return h.security.Require(auth.ScopeStaff, fn)
	}

	mux.Handle("POST /api/orders", customer(h.createOrder))
	mux.Handle("GET /api/orders/user", customer(h.listUserOrders))
	mux.Handle("GET /api/orders/{id}", customer(h.getOrder))
	mux.Handle("GET /api/orders", staff(h.listOrders))
	mux.Handle("POST /api/orders/{id}/items", staff(h.addOrderItem))
	mux.Handle("PUT /api/orders/{id}/status", staff(h.updateOrderStatus))
	mux.Handle("PUT /api/orders/{id}/shipment", staff(h.updateShipment))
	mux.Handle("GET /api/orders/{id}/logs", staff(h.getOrderLogs))

	mux.Handle("GET /api/products/{id}/inventory-history", staff(h.inventoryHistory))
	mux.Handle("GET /api/products/{id}/variants/{variantId}/inventory-history", staff(h.inventoryHistory))
	mux.Handle("POST /api/products/{id}/inventory-adjustments", staff(h.adjustInventory))
}
