package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/trminh/vnshop/internal/domain/inventory"
	"github.com/trminh/vnshop/internal/domain/order"
	"github.com/trminh/vnshop/internal/domain/promotion"
	"github.com/trminh/vnshop/internal/domain/shipping"
)

// --- Request/response DTOs ---

type addressDTO struct {
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Street   string `json:"street"`
	District string `json:"district"`
	City     string `json:"city"`
}

type orderLineDTO struct {
	ProductID string `json:"productId"`
	VariantID string `json:"variantId,omitempty"`
	Quantity  int    `json:"quantity"`
}

type createOrderRequest struct {
	Items           []orderLineDTO `json:"items"`
	ShippingMethod  string         `json:"shippingMethod"`
	PaymentMethod   string         `json:"paymentMethod"`
	ShippingAddress addressDTO     `json:"shippingAddress"`
	BillingAddress  string         `json:"billingAddress,omitempty"`
	PromotionCode   string         `json:"promotionCode,omitempty"`
	Note            string         `json:"note,omitempty"`
	// ShippingFee is what the storefront computed client-side. Advisory only;
	// the server always recomputes.
	ShippingFee float64 `json:"shippingFee,omitempty"`
}

type orderItemDTO struct {
	ProductID string  `json:"productId"`
	VariantID string  `json:"variantId,omitempty"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unitPrice"`
}

type shipmentDTO struct {
	Carrier        string     `json:"carrier"`
	TrackingNumber string     `json:"trackingNumber"`
	Status         string     `json:"status"`
	ShippedAt      *time.Time `json:"shippedAt,omitempty"`
	DeliveredAt    *time.Time `json:"deliveredAt,omitempty"`
}

type orderDTO struct {
	ID              string         `json:"id"`
	OrderNumber     string         `json:"orderNumber"`
	UserID          string         `json:"userId"`
	Status          string         `json:"status"`
	PaymentMethod   string         `json:"paymentMethod"`
	PaymentStatus   string         `json:"paymentStatus"`
	ShippingMethod  string         `json:"shippingMethod"`
	ShippingAddress addressDTO     `json:"shippingAddress"`
	BillingAddress  string         `json:"billingAddress,omitempty"`
	Subtotal        float64        `json:"subtotal"`
	ShippingFee     float64        `json:"shippingFee"`
	DiscountAmount  float64        `json:"discountAmount"`
	PromotionCode   string         `json:"promotionCode,omitempty"`
	TaxAmount       float64        `json:"taxAmount"`
	FinalPrice      float64        `json:"finalPrice"`
	Note            string         `json:"note,omitempty"`
	Items           []orderItemDTO `json:"items,omitempty"`
	Shipment        *shipmentDTO   `json:"shipment,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

type orderListResponse struct {
	Orders  []orderDTO `json:"orders"`
	Total   int        `json:"total"`
	Page    int        `json:"page"`
	PerPage int        `json:"perPage"`
}

type updateStatusRequest struct {
	Status string `json:"status"`
	Note   string `json:"note,omitempty"`
}

type updateShipmentRequest struct {
	Carrier        string `json:"carrier"`
	TrackingNumber string `json:"trackingNumber"`
	Status         string `json:"status"`
}

type orderLogDTO struct {
	Status    string    `json:"status"`
	Note      string    `json:"note,omitempty"`
	ActorID   string    `json:"actorId"`
	CreatedAt time.Time `json:"createdAt"`
}

// --- Handlers ---

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}

	key, _ := KeyFromContext(r.Context())

	lines := make([]order.CartLine, len(req.Items))
	for i, item := range req.Items {
		lines[i] = order.CartLine{
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			Quantity:  item.Quantity,
		}
	}

	o, err := h.orders.Create(r.Context(), order.CreateRequest{
		UserID:         key.ID,
		Lines:          lines,
		ShippingMethod: shipping.Method(req.ShippingMethod),
		PaymentMethod:  req.PaymentMethod,
		ShippingAddress: order.Address{
			Name:     req.ShippingAddress.Name,
			Phone:    req.ShippingAddress.Phone,
			Street:   req.ShippingAddress.Street,
			District: req.ShippingAddress.District,
			City:     req.ShippingAddress.City,
		},
		BillingAddress:    req.BillingAddress,
		PromotionCode:     req.PromotionCode,
		Note:              req.Note,
		ClientShippingFee: decimal.NewFromFloat(req.ShippingFee),
	})
	if err != nil {
		h.respondOrderError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusCreated, toOrderDTO(o))
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondOrderError(w, r, err)
		return
	}

	// Customers may only read their own orders; staff read everything.
	if key, _ := KeyFromContext(r.Context()); !keyIsStaff(r) && o.UserID != key.ID {
		writeError(w, r, http.StatusNotFound, "order not found")
		return
	}

	writeJSON(w, r, http.StatusOK, toOrderDTO(o))
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	f := order.ListFilter{}

	q := r.URL.Query()
	if raw := q.Get("status"); raw != "" {
		status, err := order.ParseStatus(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		f.Status = status
	}
	for param, dst := range map[string]**time.Time{"from": &f.From, "to": &f.To} {
		if raw := q.Get(param); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				writeError(w, r, http.StatusBadRequest, "invalid "+param+" timestamp")
				return
			}
			*dst = &t
		}
	}
	f.Page, _ = strconv.Atoi(q.Get("page"))
	f.PerPage, _ = strconv.Atoi(q.Get("per_page"))

	orders, total, err := h.orders.List(r.Context(), f)
	if err != nil {
		internalError(w, r, err)
		return
	}

	resp := orderListResponse{
		Orders:  make([]orderDTO, len(orders)),
		Total:   total,
		Page:    max(f.Page, 1),
		PerPage: f.PerPage,
	}
	if resp.PerPage < 1 || resp.PerPage > 100 {
		resp.PerPage = 20
	}
	for i := range orders {
		resp.Orders[i] = toOrderDTO(&orders[i])
	}
	writeJSON(w, r, http.StatusOK, resp)
}

func (h *Handler) listUserOrders(w http.ResponseWriter, r *http.Request) {
	key, _ := KeyFromContext(r.Context())

	orders, err := h.orders.ListByUser(r.Context(), key.ID)
	if err != nil {
		internalError(w, r, err)
		return
	}

	out := make([]orderDTO, len(orders))
	for i := range orders {
		out[i] = toOrderDTO(&orders[i])
	}
	writeJSON(w, r, http.StatusOK, out)
}

func (h *Handler) addOrderItem(w http.ResponseWriter, r *http.Request) {
	var req orderLineDTO
	if !decodeBody(w, r, &req) {
		return
	}

	key, _ := KeyFromContext(r.Context())
	o, err := h.orders.AddItem(r.Context(), r.PathValue("id"), order.CartLine{
		ProductID: req.ProductID,
		VariantID: req.VariantID,
		Quantity:  req.Quantity,
	}, key.ID)
	if err != nil {
		h.respondOrderError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, toOrderDTO(o))
}

func (h *Handler) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if !decodeBody(w, r, &req) {
		return
	}

	status, err := order.ParseStatus(req.Status)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	key, _ := KeyFromContext(r.Context())
	o, err := h.orders.UpdateStatus(r.Context(), r.PathValue("id"), status, req.Note, key.ID)
	if err != nil {
		h.respondOrderError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, toOrderDTO(o))
}

func (h *Handler) updateShipment(w http.ResponseWriter, r *http.Request) {
	var req updateShipmentRequest
	if !decodeBody(w, r, &req) {
		return
	}

	status, err := order.ParseStatus(req.Status)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	sh, err := h.orders.UpdateShipment(r.Context(), r.PathValue("id"), req.Carrier, req.TrackingNumber, status)
	if err != nil {
		h.respondOrderError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, toShipmentDTO(sh))
}

func (h *Handler) getOrderLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := h.orders.Logs(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondOrderError(w, r, err)
		return
	}

	out := make([]orderLogDTO, len(logs))
	for i, entry := range logs {
		out[i] = orderLogDTO{
			Status:    string(entry.Status),
			Note:      entry.Note,
			ActorID:   entry.ActorID,
			CreatedAt: entry.CreatedAt,
		}
	}
	writeJSON(w, r, http.StatusOK, out)
}

// respondOrderError maps domain errors onto the HTTP error taxonomy.
func (h *Handler) respondOrderError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		iqErr *order.InvalidQuantityError
		nfErr *order.SKUNotFoundError
		isErr *inventory.InsufficientStockError
	)
	switch {
	case errors.Is(err, order.ErrEmptyCart),
		errors.Is(err, order.ErrBlankAddress):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.As(err, &iqErr):
		writeError(w, r, http.StatusUnprocessableEntity, iqErr.Error())
	case errors.As(err, &nfErr):
		writeError(w, r, http.StatusUnprocessableEntity, nfErr.Error())
	case errors.As(err, &isErr):
		writeError(w, r, http.StatusUnprocessableEntity, isErr.Error())
	case promotionError(err) != nil:
		writeError(w, r, http.StatusUnprocessableEntity, promotionError(err).Error())
	case errors.Is(err, order.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "order not found")
	case errors.Is(err, order.ErrStateConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		internalError(w, r, err)
	}
}

// promotionError returns the matching promotion sentinel, or nil. Each
// failure keeps its own user-displayable message.
func promotionError(err error) error {
	for _, sentinel := range []error{
		promotion.ErrNotFound,
		promotion.ErrNotYetActive,
		promotion.ErrExpired,
		promotion.ErrMinimumNotMet,
		promotion.ErrUsageLimitReached,
	} {
		if errors.Is(err, sentinel) {
			return sentinel
		}
	}
	return nil
}

func keyIsStaff(r *http.Request) bool {
	key, ok := KeyFromContext(r.Context())
	return ok && key.HasScope("staff")
}

func toOrderDTO(o *order.Order) orderDTO {
	dto := orderDTO{
		ID:             o.ID,
		OrderNumber:    o.Number,
		UserID:         o.UserID,
		Status:         string(o.Status),
		PaymentMethod:  o.PaymentMethod,
		PaymentStatus:  o.PaymentStatus,
		ShippingMethod: o.ShippingMethod,
		ShippingAddress: addressDTO{
			Name:     o.ShippingAddress.Name,
			Phone:    o.ShippingAddress.Phone,
			Street:   o.ShippingAddress.Street,
			District: o.ShippingAddress.District,
			City:     o.ShippingAddress.City,
		},
		BillingAddress: o.BillingAddress,
		Subtotal:       o.Subtotal.InexactFloat64(),
		ShippingFee:    o.ShippingFee.InexactFloat64(),
		DiscountAmount: o.DiscountAmount.InexactFloat64(),
		PromotionCode:  o.PromotionCode,
		TaxAmount:      o.TaxAmount.InexactFloat64(),
		FinalPrice:     o.FinalPrice.InexactFloat64(),
		Note:           o.Note,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}

	dto.Items = make([]orderItemDTO, len(o.Items))
	for i, item := range o.Items {
		dto.Items[i] = orderItemDTO{
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice.InexactFloat64(),
		}
	}

	if o.Shipment != nil {
		sh := toShipmentDTO(o.Shipment)
		dto.Shipment = &sh
	}
	return dto
}

func toShipmentDTO(sh *order.Shipment) shipmentDTO {
	return shipmentDTO{
		Carrier:        sh.Carrier,
		TrackingNumber: sh.TrackingNumber,
		Status:         string(sh.Status),
		ShippedAt:      sh.ShippedAt,
		DeliveredAt:    sh.DeliveredAt,
	}
}
