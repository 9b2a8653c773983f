package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/trminh/vnshop/internal/domain/inventory"
	"github.com/trminh/vnshop/internal/domain/order"
	"github.com/trminh/vnshop/internal/domain/promotion"
)

const (
	insertOrderSQL = `INSERT INTO orders
		(id, order_number, user_id, status, payment_method, payment_status, shipping_method,
		 shipping_name, shipping_phone, shipping_street, shipping_district, shipping_city,
		 billing_address, subtotal, shipping_fee, discount_amount, promotion_code, tax_amount,
		 final_price, note, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $21)`

	insertOrderItemSQL = `INSERT INTO order_items (order_id, product_id, variant_id, quantity, unit_price)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`

	insertOrderLogSQL = `INSERT INTO order_logs (order_id, status, note, actor_id)
		VALUES ($1, $2, $3, $4)`

	incrementPromotionUsesSQL = `UPDATE promotions SET uses = uses + 1
		WHERE UPPER(code) = UPPER($1)
		AND (usage_limit IS NULL OR usage_limit = 0 OR uses < usage_limit)`

	orderColumns = `id, order_number, user_id, status, payment_method, payment_status, shipping_method,
		shipping_name, shipping_phone, shipping_street, shipping_district, shipping_city,
		billing_address, subtotal, shipping_fee, discount_amount, promotion_code, tax_amount,
		final_price, note, created_at, updated_at`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	getOrderItemsSQL = `SELECT id, product_id, variant_id, quantity, unit_price
		FROM order_items WHERE order_id = $1 ORDER BY id`

	getShipmentSQL = `SELECT order_id, carrier, tracking_number, status, shipped_at, delivered_at
		FROM shipments WHERE order_id = $1`

	listOrdersByUserSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE user_id = $1 ORDER BY created_at DESC`

	updateOrderStatusSQL = `UPDATE orders SET status = $2, updated_at = now()
		WHERE id = $1 AND status = $3`

	orderExistsSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`

	lockOrderStatusSQL = `SELECT status FROM orders WHERE id = $1 FOR UPDATE`

	stampDeliveredSQL = `UPDATE shipments
		SET status = 'delivered', delivered_at = COALESCE(delivered_at, now())
		WHERE order_id = $1`

	upsertShipmentSQL = `INSERT INTO shipments (order_id, carrier, tracking_number, status, shipped_at, delivered_at)
		VALUES ($1, $2, $3, $4,
			CASE WHEN $4 = 'shipped' THEN now() END,
			CASE WHEN $4 = 'delivered' THEN now() END)
		ON CONFLICT (order_id) DO UPDATE SET
			carrier = EXCLUDED.carrier,
			tracking_number = EXCLUDED.tracking_number,
			status = EXCLUDED.status,
			shipped_at = COALESCE(shipments.shipped_at, CASE WHEN EXCLUDED.status = 'shipped' THEN now() END),
			delivered_at = COALESCE(shipments.delivered_at, CASE WHEN EXCLUDED.status = 'delivered' THEN now() END)
		RETURNING order_id, carrier, tracking_number, status, shipped_at, delivered_at`

	getOrderLogsSQL = `SELECT id, order_id, status, note, actor_id, created_at
		FROM order_logs WHERE order_id = $1 ORDER BY created_at, id`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists the order header, its items, the initial log row, and one
// stock reservation per line in a single transaction. If any line's stock is
// insufficient the whole transaction rolls back and nothing is observable.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create-order tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	_, err = tx.Exec(ctx, insertOrderSQL,
		o.ID, o.Number, o.UserID, string(o.Status), o.PaymentMethod, o.PaymentStatus, o.ShippingMethod,
		o.ShippingAddress.Name, o.ShippingAddress.Phone, o.ShippingAddress.Street,
		o.ShippingAddress.District, o.ShippingAddress.City,
		o.BillingAddress, o.Subtotal, o.ShippingFee, o.DiscountAmount,
		nullable(o.PromotionCode), o.TaxAmount, o.FinalPrice, o.Note, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting order %q: %w", o.ID, err)
	}

	for i := range o.Items {
		item := &o.Items[i]
		err = tx.QueryRow(ctx, insertOrderItemSQL,
			o.ID, item.ProductID, nullable(item.VariantID), item.Quantity, item.UnitPrice,
		).Scan(&item.ID)
		if err != nil {
			return fmt.Errorf("inserting order item for product %q: %w", item.ProductID, err)
		}

		// Reserve stock through the ledger; failure aborts the whole order.
		if _, err := applyLedger(ctx, tx, &inventory.Entry{
			ProductID:      item.ProductID,
			VariantID:      item.VariantID,
			QuantityChange: -item.Quantity,
			ReferenceType:  inventory.ReferenceOrder,
			ReferenceID:    o.ID,
			Note:           "reserved for order " + o.Number,
			ActorID:        o.UserID,
		}); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(ctx, insertOrderLogSQL, o.ID, string(o.Status), "order created", o.UserID); err != nil {
		return fmt.Errorf("inserting order log: %w", err)
	}

	// Promotion usage counts against the same transaction, so a failed order
	// never burns a use. The increment re-checks the limit: validation reads
	// a snapshot, and two checkouts racing for the last use must not both
	// commit.
	if o.PromotionCode != "" {
		tag, err := tx.Exec(ctx, incrementPromotionUsesSQL, o.PromotionCode)
		if err != nil {
			return fmt.Errorf("incrementing promotion uses: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return promotion.ErrUsageLimitReached
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit create-order tx: %w", err)
	}
	return nil
}

// Get loads an order with its items and shipment.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, getOrderSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}

	itemRows, err := r.pool.Query(ctx, getOrderItemsSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting items for order %q: %w", id, err)
	}
	o.Items, err = pgx.CollectRows(itemRows, scanOrderItem)
	if err != nil {
		return nil, fmt.Errorf("scanning items for order %q: %w", id, err)
	}

	shipRows, err := r.pool.Query(ctx, getShipmentSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting shipment for order %q: %w", id, err)
	}
	sh, err := pgx.CollectExactlyOneRow(shipRows, scanShipment)
	switch {
	case err == nil:
		o.Shipment = &sh
	case errors.Is(err, pgx.ErrNoRows):
		// No shipment yet; the record is created lazily.
	default:
		return nil, fmt.Errorf("scanning shipment for order %q: %w", id, err)
	}

	return &o, nil
}

// List returns a filtered page of orders plus the total count. Items are not
// loaded for list views.
func (r *OrderRepository) List(ctx context.Context, f order.ListFilter) ([]order.Order, int, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, "status = $"+strconv.Itoa(len(args)))
	}
	if f.From != nil {
		args = append(args, *f.From)
		where = append(where, "created_at >= $"+strconv.Itoa(len(args)))
	}
	if f.To != nil {
		args = append(args, *f.To)
		where = append(where, "created_at < $"+strconv.Itoa(len(args)))
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT count(*) FROM orders"+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting orders: %w", err)
	}

	args = append(args, f.PerPage, (f.Page-1)*f.PerPage)
	query := "SELECT " + orderColumns + " FROM orders" + clause +
		" ORDER BY created_at DESC LIMIT $" + strconv.Itoa(len(args)-1) + " OFFSET $" + strconv.Itoa(len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing orders: %w", err)
	}
	out, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, 0, fmt.Errorf("scanning orders: %w", err)
	}
	return out, total, nil
}

// ListByUser returns all orders for a user, newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listOrdersByUserSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("listing orders for user %q: %w", userID, err)
	}
	return pgx.CollectRows(rows, scanOrder)
}

// UpdateStatus applies a validated transition conditionally on the order
// still being in u.From. A lost race surfaces as ErrStateConflict, never as a
// silent overwrite; stock restore and log append ride the same transaction.
func (r *OrderRepository) UpdateStatus(ctx context.Context, u order.StatusUpdate) (*order.Order, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin status tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	tag, err := tx.Exec(ctx, updateOrderStatusSQL, u.OrderID, string(u.To), string(u.From))
	if err != nil {
		return nil, fmt.Errorf("updating status of order %q: %w", u.OrderID, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, orderExistsSQL, u.OrderID).Scan(&exists); err != nil {
			return nil, fmt.Errorf("checking order existence: %w", err)
		}
		if !exists {
			return nil, order.ErrNotFound
		}
		return nil, order.ErrStateConflict
	}

	if _, err := tx.Exec(ctx, insertOrderLogSQL, u.OrderID, string(u.To), u.Note, u.ActorID); err != nil {
		return nil, fmt.Errorf("inserting order log: %w", err)
	}

	if u.RestoreStock {
		itemRows, err := tx.Query(ctx, getOrderItemsSQL, u.OrderID)
		if err != nil {
			return nil, fmt.Errorf("loading items of order %q: %w", u.OrderID, err)
		}
		items, err := pgx.CollectRows(itemRows, scanOrderItem)
		if err != nil {
			return nil, fmt.Errorf("scanning items of order %q: %w", u.OrderID, err)
		}
		for _, item := range items {
			if _, err := applyLedger(ctx, tx, &inventory.Entry{
				ProductID:      item.ProductID,
				VariantID:      item.VariantID,
				QuantityChange: item.Quantity,
				ReferenceType:  inventory.ReferenceOrder,
				ReferenceID:    u.OrderID,
				Note:           "restored on cancellation",
				ActorID:        u.ActorID,
			}); err != nil {
				return nil, err
			}
		}
	}

	if u.StampDelivered {
		if _, err := tx.Exec(ctx, stampDeliveredSQL, u.OrderID); err != nil {
			return nil, fmt.Errorf("stamping delivery of order %q: %w", u.OrderID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit status tx: %w", err)
	}

	return r.Get(ctx, u.OrderID)
}

// AddItem inserts a line item and reserves its stock in one transaction. The
// order row is locked and its status re-checked first: a concurrent
// cancellation holds the same row lock, so a line can never be reserved after
// the order's reservations were restored.
func (r *OrderRepository) AddItem(ctx context.Context, orderID string, item *order.Item, actorID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin add-item tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	var status string
	if err := tx.QueryRow(ctx, lockOrderStatusSQL, orderID).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return order.ErrNotFound
		}
		return fmt.Errorf("locking order %q: %w", orderID, err)
	}
	if order.Status(status) != order.StatusPending {
		return order.ErrStateConflict
	}

	err = tx.QueryRow(ctx, insertOrderItemSQL,
		orderID, item.ProductID, nullable(item.VariantID), item.Quantity, item.UnitPrice,
	).Scan(&item.ID)
	if err != nil {
		return fmt.Errorf("inserting item for order %q: %w", orderID, err)
	}

	if _, err := applyLedger(ctx, tx, &inventory.Entry{
		ProductID:      item.ProductID,
		VariantID:      item.VariantID,
		QuantityChange: -item.Quantity,
		ReferenceType:  inventory.ReferenceOrder,
		ReferenceID:    orderID,
		Note:           "reserved for added line item",
		ActorID:        actorID,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit add-item tx: %w", err)
	}
	return nil
}

// UpsertShipment creates or updates the shipment record. The shipped_at and
// delivered_at stamps survive later updates via COALESCE.
func (r *OrderRepository) UpsertShipment(ctx context.Context, u order.ShipmentUpdate) (*order.Shipment, error) {
	rows, err := r.pool.Query(ctx, upsertShipmentSQL, u.OrderID, u.Carrier, u.TrackingNumber, string(u.Status))
	if err != nil {
		return nil, fmt.Errorf("upserting shipment for order %q: %w", u.OrderID, err)
	}
	sh, err := pgx.CollectExactlyOneRow(rows, scanShipment)
	if err != nil {
		return nil, fmt.Errorf("scanning shipment for order %q: %w", u.OrderID, err)
	}
	return &sh, nil
}

// Logs returns the status audit trail for an order, oldest first.
func (r *OrderRepository) Logs(ctx context.Context, orderID string) ([]order.LogEntry, error) {
	rows, err := r.pool.Query(ctx, getOrderLogsSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("loading logs for order %q: %w", orderID, err)
	}
	return pgx.CollectRows(rows, scanOrderLog)
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o         order.Order
		status    string
		promoCode *string
	)
	err := row.Scan(
		&o.ID, &o.Number, &o.UserID, &status, &o.PaymentMethod, &o.PaymentStatus, &o.ShippingMethod,
		&o.ShippingAddress.Name, &o.ShippingAddress.Phone, &o.ShippingAddress.Street,
		&o.ShippingAddress.District, &o.ShippingAddress.City,
		&o.BillingAddress, &o.Subtotal, &o.ShippingFee, &o.DiscountAmount, &promoCode, &o.TaxAmount,
		&o.FinalPrice, &o.Note, &o.CreatedAt, &o.UpdatedAt,
	)
	o.Status = order.Status(status)
	o.PromotionCode = orEmpty(promoCode)
	return o, err
}

func scanOrderItem(row pgx.CollectableRow) (order.Item, error) {
	var (
		item      order.Item
		variantID *string
	)
	err := row.Scan(&item.ID, &item.ProductID, &variantID, &item.Quantity, &item.UnitPrice)
	item.VariantID = orEmpty(variantID)
	return item, err
}

func scanShipment(row pgx.CollectableRow) (order.Shipment, error) {
	var (
		sh     order.Shipment
		status string
	)
	err := row.Scan(&sh.OrderID, &sh.Carrier, &sh.TrackingNumber, &status, &sh.ShippedAt, &sh.DeliveredAt)
	sh.Status = order.Status(status)
	return sh, err
}

func scanOrderLog(row pgx.CollectableRow) (order.LogEntry, error) {
	var (
		e      order.LogEntry
		status string
	)
	err := row.Scan(&e.ID, &e.OrderID, &status, &e.Note, &e.ActorID, &e.CreatedAt)
	e.Status = order.Status(status)
	return e, err
}
