package order

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/trminh/vnshop/internal/domain/catalog"
	"github.com/trminh/vnshop/internal/domain/promotion"
	"github.com/trminh/vnshop/internal/domain/shipping"
)

// InvalidQuantityError indicates a cart line with a non-positive quantity.
type InvalidQuantityError struct {
	ProductID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %s", e.ProductID)
}

// SKUNotFoundError indicates a cart line referencing an unknown product or
// variant.
type SKUNotFoundError struct {
	ProductID string
	VariantID string
}

func (e *SKUNotFoundError) Error() string {
	if e.VariantID != "" {
		return fmt.Sprintf("product %s variant %s not found", e.ProductID, e.VariantID)
	}
	return fmt.Sprintf("product %s not found", e.ProductID)
}

// CartLine is one requested line of a checkout.
type CartLine struct {
	ProductID string
	VariantID string
	Quantity  int
}

// CreateRequest holds the input for creating an order. ClientShippingFee is
// what the storefront computed in the browser; it is advisory only and the
// fee is always recomputed server-side.
type CreateRequest struct {
	UserID            string
	Lines             []CartLine
	ShippingMethod    shipping.Method
	PaymentMethod     string
	ShippingAddress   Address
	BillingAddress    string
	PromotionCode     string
	Note              string
	ClientShippingFee decimal.Decimal
}

// Service encapsulates the order lifecycle business logic.
type Service struct {
	catalog    catalog.Repository
	promotions promotion.Evaluator
	shipping   *shipping.Calculator
	orders     Repository
	now        func() time.Time
}

// NewService creates an order Service with the required domain dependencies.
func NewService(
	cat catalog.Repository,
	promos promotion.Evaluator,
	fees *shipping.Calculator,
	orders Repository,
) *Service {
	return &Service{
		catalog:    cat,
		promotions: promos,
		shipping:   fees,
		orders:     orders,
		now:        time.Now,
	}
}

// Create validates the cart, snapshots unit prices, evaluates the optional
// promotion, computes the shipping fee and final price, and persists the
// order together with its stock reservations in one atomic unit.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Order, error) {
	if len(req.Lines) == 0 {
		return nil, ErrEmptyCart
	}
	if err := validateAddress(req.ShippingAddress); err != nil {
		return nil, err
	}

	// Validate quantities and collect SKU keys for one batch lookup.
	keys := make([]catalog.SKUKey, len(req.Lines))
	for i, line := range req.Lines {
		if line.Quantity <= 0 {
			return nil, &InvalidQuantityError{ProductID: line.ProductID}
		}
		keys[i] = catalog.SKUKey{ProductID: line.ProductID, VariantID: line.VariantID}
	}

	fetched, err := s.catalog.GetSKUs(ctx, keys)
	if err != nil {
		return nil, errors.Wrap(err, "get skus")
	}
	skuMap := make(map[catalog.SKUKey]catalog.SKU, len(fetched))
	for _, sku := range fetched {
		skuMap[sku.Key] = sku
	}

	// Build items with price snapshots and calculate the subtotal.
	items := make([]Item, len(req.Lines))
	subtotal := decimal.Zero
	for i, line := range req.Lines {
		sku, ok := skuMap[keys[i]]
		if !ok {
			return nil, &SKUNotFoundError{ProductID: line.ProductID, VariantID: line.VariantID}
		}

		items[i] = Item{
			ProductID: line.ProductID,
			VariantID: line.VariantID,
			Quantity:  line.Quantity,
			UnitPrice: sku.Price,
		}
		subtotal = subtotal.Add(sku.Price.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}
	subtotal = subtotal.Round(2)

	// A supplied promotion code fails the whole request when invalid; only an
	// omitted code means "no discount".
	discount := decimal.Zero
	if req.PromotionCode != "" {
		result, err := s.promotions.Validate(ctx, req.PromotionCode, subtotal)
		if err != nil {
			return nil, errors.Wrap(err, "validate promotion")
		}
		discount = result.Discount
	}

	fee := s.shipping.Fee(subtotal, req.ShippingAddress.City, req.ShippingAddress.District, req.ShippingMethod)

	// Tax is a placeholder in this deployment; the column exists so the
	// reconciliation invariant covers it when it is ever populated.
	tax := decimal.Zero

	now := s.now()
	o := &Order{
		ID:              uuid.New().String(),
		Number:          NewNumber(now),
		UserID:          req.UserID,
		Status:          StatusPending,
		PaymentMethod:   req.PaymentMethod,
		PaymentStatus:   "unpaid",
		ShippingMethod:  string(req.ShippingMethod),
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  req.BillingAddress,
		Subtotal:        subtotal,
		ShippingFee:     fee,
		DiscountAmount:  discount,
		PromotionCode:   req.PromotionCode,
		TaxAmount:       tax,
		FinalPrice:      ComputeFinalPrice(subtotal, fee, discount, tax),
		Note:            req.Note,
		Items:           items,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.orders.Create(ctx, o); err != nil {
		return nil, errors.Wrap(err, "create order")
	}
	return o, nil
}

// UpdateStatus advances an order through the state machine. Transitions are
// validated against the transition table; on cancellation the reserved stock
// of every line is restored through the ledger, and on delivery the shipment
// delivered_at timestamp is stamped.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, newStatus Status, note, actorID string) (*Order, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if !o.Status.CanTransition(newStatus) {
		return nil, errors.Wrapf(ErrStateConflict, "%s -> %s", o.Status, newStatus)
	}

	updated, err := s.orders.UpdateStatus(ctx, StatusUpdate{
		OrderID:        orderID,
		From:           o.Status,
		To:             newStatus,
		Note:           note,
		ActorID:        actorID,
		RestoreStock:   newStatus == StatusCancelled,
		StampDelivered: newStatus == StatusDelivered,
	})
	if err != nil {
		return nil, errors.Wrap(err, "update status")
	}
	return updated, nil
}

// AddItem appends a line item to an order that is still pending, reserving
// its stock. Header totals are fixed at creation and are not recomputed.
func (s *Service) AddItem(ctx context.Context, orderID string, line CartLine, actorID string) (*Order, error) {
	if line.Quantity <= 0 {
		return nil, &InvalidQuantityError{ProductID: line.ProductID}
	}

	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != StatusPending {
		return nil, errors.Wrapf(ErrStateConflict, "cannot add items to %s order", o.Status)
	}

	skus, err := s.catalog.GetSKUs(ctx, []catalog.SKUKey{{ProductID: line.ProductID, VariantID: line.VariantID}})
	if err != nil {
		return nil, errors.Wrap(err, "get sku")
	}
	if len(skus) == 0 {
		return nil, &SKUNotFoundError{ProductID: line.ProductID, VariantID: line.VariantID}
	}

	item := &Item{
		ProductID: line.ProductID,
		VariantID: line.VariantID,
		Quantity:  line.Quantity,
		UnitPrice: skus[0].Price,
	}
	if err := s.orders.AddItem(ctx, orderID, item, actorID); err != nil {
		return nil, errors.Wrap(err, "add item")
	}

	return s.orders.Get(ctx, orderID)
}

// UpdateShipment creates or updates the shipment sub-record. The shipped_at
// and delivered_at timestamps are set exactly once, on the first update that
// enters the respective state.
func (s *Service) UpdateShipment(ctx context.Context, orderID, carrier, trackingNumber string, status Status) (*Shipment, error) {
	// The shipment carries a subset of order statuses.
	switch status {
	case StatusPending, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled:
	default:
		return nil, errors.Errorf("unknown shipment status: %q", status)
	}

	if _, err := s.orders.Get(ctx, orderID); err != nil {
		return nil, err
	}

	sh, err := s.orders.UpsertShipment(ctx, ShipmentUpdate{
		OrderID:        orderID,
		Carrier:        carrier,
		TrackingNumber: trackingNumber,
		Status:         status,
	})
	if err != nil {
		return nil, errors.Wrap(err, "upsert shipment")
	}
	return sh, nil
}

// Get loads a single order with items and shipment.
func (s *Service) Get(ctx context.Context, orderID string) (*Order, error) {
	return s.orders.Get(ctx, orderID)
}

// List returns a page of orders and the total count.
func (s *Service) List(ctx context.Context, f ListFilter) ([]Order, int, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 || f.PerPage > 100 {
		f.PerPage = 20
	}
	return s.orders.List(ctx, f)
}

// ListByUser returns the given user's orders, newest first.
func (s *Service) ListByUser(ctx context.Context, userID string) ([]Order, error) {
	return s.orders.ListByUser(ctx, userID)
}

// Logs returns the status audit trail for an order.
func (s *Service) Logs(ctx context.Context, orderID string) ([]LogEntry, error) {
	if _, err := s.orders.Get(ctx, orderID); err != nil {
		return nil, err
	}
	return s.orders.Logs(ctx, orderID)
}

func validateAddress(a Address) error {
	for _, field := range []string{a.Name, a.Street, a.District, a.City} {
		if strings.TrimSpace(field) == "" {
			return ErrBlankAddress
		}
	}
	return nil
}
