package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/trminh/vnshop/internal/domain/catalog"
)

const (
	getProductSKUsSQL = `SELECT id, name, price, stock
		FROM products WHERE id = ANY($1)`

	getVariantSKUsSQL = `SELECT v.id, v.product_id, v.name, v.price, v.stock
		FROM product_variants v WHERE v.id = ANY($1)`
)

var _ catalog.Repository = (*CatalogRepository)(nil)

// CatalogRepository implements catalog.Repository backed by PostgreSQL.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository returns a CatalogRepository that uses the given pool.
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// GetSKUs resolves product and product+variant keys in two batch queries.
// Keys that do not resolve (unknown ids, or a variant that belongs to a
// different product) are absent from the result.
func (r *CatalogRepository) GetSKUs(ctx context.Context, keys []catalog.SKUKey) ([]catalog.SKU, error) {
	var productIDs, variantIDs []string
	for _, key := range keys {
		if key.VariantID == "" {
			productIDs = append(productIDs, key.ProductID)
		} else {
			variantIDs = append(variantIDs, key.VariantID)
		}
	}

	out := make([]catalog.SKU, 0, len(keys))

	if len(productIDs) > 0 {
		rows, err := r.pool.Query(ctx, getProductSKUsSQL, productIDs)
		if err != nil {
			return nil, fmt.Errorf("getting product skus: %w", err)
		}
		skus, err := pgx.CollectRows(rows, scanProductSKU)
		if err != nil {
			return nil, fmt.Errorf("scanning product skus: %w", err)
		}
		out = append(out, skus...)
	}

	if len(variantIDs) > 0 {
		rows, err := r.pool.Query(ctx, getVariantSKUsSQL, variantIDs)
		if err != nil {
			return nil, fmt.Errorf("getting variant skus: %w", err)
		}
		skus, err := pgx.CollectRows(rows, scanVariantSKU)
		if err != nil {
			return nil, fmt.Errorf("scanning variant skus: %w", err)
		}
		// Drop variants whose product does not match the requested key.
		requested := make(map[catalog.SKUKey]struct{}, len(keys))
		for _, key := range keys {
			requested[key] = struct{}{}
		}
		for _, sku := range skus {
			if _, ok := requested[sku.Key]; ok {
				out = append(out, sku)
			}
		}
	}

	return out, nil
}

func scanProductSKU(row pgx.CollectableRow) (catalog.SKU, error) {
	var (
		sku   catalog.SKU
		price decimal.Decimal
	)
	err := row.Scan(&sku.Key.ProductID, &sku.Name, &price, &sku.Stock)
	sku.Price = price
	return sku, err
}

func scanVariantSKU(row pgx.CollectableRow) (catalog.SKU, error) {
	var (
		sku   catalog.SKU
		price decimal.Decimal
	)
	err := row.Scan(&sku.Key.VariantID, &sku.Key.ProductID, &sku.Name, &price, &sku.Stock)
	sku.Price = price
	return sku, err
}
