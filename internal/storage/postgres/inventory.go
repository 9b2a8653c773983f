package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/trminh/vnshop/internal/domain/catalog"
	"github.com/trminh/vnshop/internal/domain/inventory"
)

const (
	// The stock columns are materialized views of the ledger: both updates
	// below are conditional, so the check-and-decrement is a single atomic
	// statement and stock can never go negative under concurrency.
	adjustProductStockSQL = `UPDATE products SET stock = stock + $2
		WHERE id = $1 AND stock + $2 >= 0 RETURNING stock`

	adjustVariantStockSQL = `UPDATE product_variants SET stock = stock + $2
		WHERE id = $1 AND stock + $2 >= 0 RETURNING stock`

	productExistsSQL = `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`
	variantExistsSQL = `SELECT EXISTS (SELECT 1 FROM product_variants WHERE id = $1)`

	insertInventoryLogSQL = `INSERT INTO inventory_logs
		(product_id, variant_id, quantity_change, current_quantity, reference_type, reference_id, note, actor_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`

	inventoryHistorySQL = `SELECT id, product_id, variant_id, quantity_change, current_quantity,
			reference_type, reference_id, note, actor_id, created_at
		FROM inventory_logs
		WHERE product_id = $1 AND variant_id IS NOT DISTINCT FROM $2
		ORDER BY created_at, id`
)

var _ inventory.Ledger = (*LedgerRepository)(nil)

// LedgerRepository implements inventory.Ledger backed by PostgreSQL.
type LedgerRepository struct {
	pool *pgxpool.Pool
}

// NewLedgerRepository returns a LedgerRepository that uses the given pool.
func NewLedgerRepository(pool *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{pool: pool}
}

// Apply mutates a SKU's stock and appends the ledger row in one transaction.
func (r *LedgerRepository) Apply(ctx context.Context, entry *inventory.Entry) (*inventory.Entry, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin ledger tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	applied, err := applyLedger(ctx, tx, entry)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit ledger tx: %w", err)
	}
	return applied, nil
}

// History returns all ledger entries for a SKU, oldest first.
func (r *LedgerRepository) History(ctx context.Context, productID, variantID string) ([]inventory.Entry, error) {
	rows, err := r.pool.Query(ctx, inventoryHistorySQL, productID, nullable(variantID))
	if err != nil {
		return nil, fmt.Errorf("loading inventory history: %w", err)
	}
	return pgx.CollectRows(rows, scanInventoryEntry)
}

// applyLedger performs the conditional stock update plus the ledger insert
// inside the caller's transaction. The order repository shares it so order
// reservations, restores, and manual adjustments all go through the exact
// same write path.
func applyLedger(ctx context.Context, tx pgx.Tx, entry *inventory.Entry) (*inventory.Entry, error) {
	var (
		current int
		err     error
	)
	if entry.VariantID == "" {
		err = tx.QueryRow(ctx, adjustProductStockSQL, entry.ProductID, entry.QuantityChange).Scan(&current)
	} else {
		err = tx.QueryRow(ctx, adjustVariantStockSQL, entry.VariantID, entry.QuantityChange).Scan(&current)
	}
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, classifyStockFailure(ctx, tx, entry)
		}
		return nil, fmt.Errorf("adjusting stock for product %q: %w", entry.ProductID, err)
	}

	applied := *entry
	applied.CurrentQuantity = current
	err = tx.QueryRow(ctx, insertInventoryLogSQL,
		applied.ProductID, nullable(applied.VariantID), applied.QuantityChange, applied.CurrentQuantity,
		string(applied.ReferenceType), applied.ReferenceID, applied.Note, applied.ActorID,
	).Scan(&applied.ID, &applied.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("appending inventory log for product %q: %w", applied.ProductID, err)
	}

	return &applied, nil
}

// classifyStockFailure distinguishes "SKU does not exist" from "not enough
// stock" after a conditional update matched no row.
func classifyStockFailure(ctx context.Context, tx pgx.Tx, entry *inventory.Entry) error {
	var (
		exists bool
		err    error
	)
	if entry.VariantID == "" {
		err = tx.QueryRow(ctx, productExistsSQL, entry.ProductID).Scan(&exists)
	} else {
		err = tx.QueryRow(ctx, variantExistsSQL, entry.VariantID).Scan(&exists)
	}
	if err != nil {
		return fmt.Errorf("checking sku existence: %w", err)
	}
	if !exists {
		return catalog.ErrNotFound
	}
	return &inventory.InsufficientStockError{
		ProductID: entry.ProductID,
		VariantID: entry.VariantID,
		Requested: -entry.QuantityChange,
	}
}

func scanInventoryEntry(row pgx.CollectableRow) (inventory.Entry, error) {
	var (
		e         inventory.Entry
		variantID *string
		refType   string
	)
	err := row.Scan(
		&e.ID, &e.ProductID, &variantID, &e.QuantityChange, &e.CurrentQuantity,
		&refType, &e.ReferenceID, &e.Note, &e.ActorID, &e.CreatedAt,
	)
	e.VariantID = orEmpty(variantID)
	e.ReferenceType = inventory.ReferenceType(refType)
	return e, err
}
