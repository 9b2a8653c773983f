// Package catalog exposes the narrow read interface the order engine consumes
// from the product catalog: unit price and current stock per SKU.
package catalog

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product or variant does not exist.
var ErrNotFound = errors.New("product not found")

// SKUKey identifies a purchasable unit: a product, or a product+variant pair.
type SKUKey struct {
	ProductID string
	VariantID string // empty when the product has no variants
}

// SKU is a snapshot of a purchasable unit at lookup time. Price is captured
// onto order items at creation and never re-read.
type SKU struct {
	Key   SKUKey
	Name  string
	Price decimal.Decimal
	Stock int
}

// Repository defines the catalog reads the order engine depends on.
// Stock mutations go through the inventory ledger, never through here.
type Repository interface {
	// GetSKUs resolves the given keys in one batch. A key that does not
	// resolve is simply absent from the result; callers detect the gap.
	GetSKUs(ctx context.Context, keys []SKUKey) ([]SKU, error)
}
