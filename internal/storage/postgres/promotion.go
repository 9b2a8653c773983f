package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/trminh/vnshop/internal/domain/promotion"
)

const getPromotionByCodeSQL = `SELECT code, discount_type, discount_value, max_discount_amount,
		min_order_amount, start_date, end_date, usage_limit, uses, description
	FROM promotions WHERE UPPER(code) = UPPER($1) AND active = TRUE`

var _ promotion.Repository = (*PromotionRepository)(nil)

// PromotionRepository implements promotion.Repository backed by PostgreSQL.
type PromotionRepository struct {
	pool *pgxpool.Pool
}

// NewPromotionRepository returns a PromotionRepository that uses the given pool.
func NewPromotionRepository(pool *pgxpool.Pool) *PromotionRepository {
	return &PromotionRepository{pool: pool}
}

// FindByCode looks up an active promotion by its code (case-insensitive).
// Returns promotion.ErrNotFound when no matching active promotion exists.
func (r *PromotionRepository) FindByCode(ctx context.Context, code string) (*promotion.Promotion, error) {
	rows, err := r.pool.Query(ctx, getPromotionByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding promotion by code %q: %w", code, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanPromotion)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, promotion.ErrNotFound
		}
		return nil, fmt.Errorf("finding promotion by code %q: %w", code, err)
	}
	return &p, nil
}

func scanPromotion(row pgx.CollectableRow) (promotion.Promotion, error) {
	var (
		p            promotion.Promotion
		discountType string
		maxDiscount  *decimal.Decimal
		startDate    *time.Time
		endDate      *time.Time
		usageLimit   *int32
		uses         int32
	)
	err := row.Scan(
		&p.Code, &discountType, &p.Value, &maxDiscount,
		&p.MinOrder, &startDate, &endDate, &usageLimit, &uses, &p.Description,
	)
	p.DiscountType = promotion.DiscountType(discountType)
	if maxDiscount != nil {
		p.MaxDiscount = *maxDiscount
	}
	p.StartDate = startDate
	p.EndDate = endDate
	if usageLimit != nil {
		p.UsageLimit = int(*usageLimit)
	}
	p.Uses = int(uses)
	return p, err
}
