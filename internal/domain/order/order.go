// Package order owns the order aggregate: the header, its line items, the
// optional shipment sub-record, the status state machine, and final price
// computation.
package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Sentinel errors for order lookup and validation.
var (
	ErrNotFound     = errors.New("order not found")
	ErrEmptyCart    = errors.New("cart must contain at least one item")
	ErrBlankAddress = errors.New("shipping address is incomplete")
)

// Address is a denormalized snapshot of the delivery destination. It is
// copied onto the order at creation; later address-book edits never touch
// historical orders.
type Address struct {
	Name     string
	Phone    string
	Street   string
	District string
	City     string
}

// Order is the aggregate root. Money fields reconcile as
// FinalPrice = Subtotal + ShippingFee - DiscountAmount + TaxAmount,
// computed once at creation and never recomputed.
type Order struct {
	ID              string
	Number          string
	UserID          string
	Status          Status
	PaymentMethod   string
	PaymentStatus   string
	ShippingMethod  string
	ShippingAddress Address
	BillingAddress  string
	Subtotal        decimal.Decimal
	ShippingFee     decimal.Decimal
	DiscountAmount  decimal.Decimal
	PromotionCode   string // empty when no promotion was applied
	TaxAmount       decimal.Decimal
	FinalPrice      decimal.Decimal
	Note            string
	Items           []Item
	Shipment        *Shipment
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Item is a line item. UnitPrice is captured at order time and stays fixed
// even if the catalog price later changes.
type Item struct {
	ID        int64
	ProductID string
	VariantID string // empty for products without variants
	Quantity  int
	UnitPrice decimal.Decimal
}

// Shipment is the optional 1:1 delivery sub-record of an order.
// ShippedAt and DeliveredAt are stamped exactly once, on the first transition
// into the respective state.
type Shipment struct {
	OrderID        string
	Carrier        string
	TrackingNumber string
	Status         Status
	ShippedAt      *time.Time
	DeliveredAt    *time.Time
}

// LogEntry is one row of the append-only order status audit trail.
type LogEntry struct {
	ID        int64
	OrderID   string
	Status    Status
	Note      string
	ActorID   string
	CreatedAt time.Time
}

// ListFilter narrows and pages the order list.
type ListFilter struct {
	Status  Status // empty = all
	From    *time.Time
	To      *time.Time
	Page    int // 1-based
	PerPage int
}

// StatusUpdate carries one validated transition to the storage layer.
// The repository must apply it conditionally on the order still being in
// From, so a concurrent transition loses with ErrStateConflict instead of
// silently overwriting.
type StatusUpdate struct {
	OrderID        string
	From           Status
	To             Status
	Note           string
	ActorID        string
	RestoreStock   bool // cancellation: re-add every line through the ledger
	StampDelivered bool // delivery: set shipments.delivered_at if unset
}

// ShipmentUpdate carries a staff shipping-info change.
type ShipmentUpdate struct {
	OrderID        string
	Carrier        string
	TrackingNumber string
	Status         Status
}

// Repository defines persistence for the order aggregate. Create and
// UpdateStatus are transactional units: either every write they imply is
// applied (rows, logs, ledger entries, stock) or none are.
type Repository interface {
	// Create persists the order header, items, the initial order log row, and
	// one stock reservation per line. Returns
	// *inventory.InsufficientStockError when any line exceeds available
	// stock, and promotion.ErrUsageLimitReached when a usage-limited code has
	// no uses left at commit time.
	Create(ctx context.Context, o *Order) error

	// Get loads an order with its items and shipment, or ErrNotFound.
	Get(ctx context.Context, id string) (*Order, error)

	// List returns a page of orders plus the total count across pages.
	List(ctx context.Context, f ListFilter) ([]Order, int, error)

	// ListByUser returns the given user's orders, newest first.
	ListByUser(ctx context.Context, userID string) ([]Order, error)

	// UpdateStatus applies a validated transition. Returns ErrStateConflict
	// when the order is no longer in u.From.
	UpdateStatus(ctx context.Context, u StatusUpdate) (*Order, error)

	// AddItem appends a line item to a pending order, reserving its stock.
	// The pending check runs inside the write transaction; a concurrently
	// cancelled order surfaces as ErrStateConflict, not a stranded
	// reservation.
	AddItem(ctx context.Context, orderID string, item *Item, actorID string) error

	// UpsertShipment creates or updates the shipment record, stamping
	// shipped_at/delivered_at exactly once.
	UpsertShipment(ctx context.Context, u ShipmentUpdate) (*Shipment, error)

	// Logs returns the status audit trail for an order, oldest first.
	Logs(ctx context.Context, orderID string) ([]LogEntry, error)
}

// ComputeFinalPrice is the single place the payable amount is derived.
func ComputeFinalPrice(subtotal, shippingFee, discount, tax decimal.Decimal) decimal.Decimal {
	return subtotal.Add(shippingFee).Sub(discount).Add(tax).Round(2)
}
