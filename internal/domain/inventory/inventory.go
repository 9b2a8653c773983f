// Package inventory defines the append-only stock ledger. Every stock
// mutation in the system produces exactly one ledger entry, and the catalog
// stock column is updated in the same transaction that appends the entry.
package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
)

// ReferenceType classifies what caused a ledger entry.
type ReferenceType string

const (
	// ReferenceOrder marks reservations and restores driven by order flow;
	// ReferenceID holds the order id.
	ReferenceOrder ReferenceType = "ORDER"
	// ReferenceImport marks stock arriving from a supplier import.
	ReferenceImport ReferenceType = "IMPORT"
	// ReferenceAdjustment marks a manual correction.
	ReferenceAdjustment ReferenceType = "ADJUSTMENT"
)

// ErrZeroDelta is returned when an adjustment would not change stock.
var ErrZeroDelta = errors.New("quantity change must be non-zero")

// InsufficientStockError indicates a reservation or negative adjustment
// exceeded the available stock of a SKU.
type InsufficientStockError struct {
	ProductID string
	VariantID string
	Requested int
}

func (e *InsufficientStockError) Error() string {
	if e.VariantID != "" {
		return fmt.Sprintf("insufficient stock for product %s variant %s (requested %d)",
			e.ProductID, e.VariantID, e.Requested)
	}
	return fmt.Sprintf("insufficient stock for product %s (requested %d)", e.ProductID, e.Requested)
}

// Entry is one row of the ledger. Entries are never updated or deleted.
type Entry struct {
	ID              int64
	ProductID       string
	VariantID       string // empty for products without variants
	QuantityChange  int    // negative = reservation/sale, positive = restock/restore
	CurrentQuantity int    // stock level immediately after this entry
	ReferenceType   ReferenceType
	ReferenceID     string
	Note            string
	ActorID         string
	CreatedAt       time.Time
}

// Ledger defines the persistence operations for the stock ledger. Apply must
// perform the conditional stock update and the entry insert as one atomic
// unit with respect to concurrent calls for the same SKU; a plain
// read-then-write is a race and implementations must not do it.
type Ledger interface {
	// Apply decrements (delta < 0) or increments (delta > 0) the stock of a
	// SKU and appends the corresponding entry. Returns
	// *InsufficientStockError when a decrement exceeds available stock.
	Apply(ctx context.Context, entry *Entry) (*Entry, error)

	// History returns all entries for a SKU ordered by created_at ascending.
	History(ctx context.Context, productID, variantID string) ([]Entry, error)
}
