package promotion

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported promotion discount strategies.
type DiscountType string

const (
	// DiscountPercentage applies a percentage of the subtotal, optionally
	// capped by MaxDiscount.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed subtracts a fixed amount, never capped.
	DiscountFixed DiscountType = "fixed"
)

// Each validation failure is a distinct, user-displayable sentinel.
var (
	ErrNotFound          = errors.New("promotion code not found")
	ErrNotYetActive      = errors.New("promotion is not yet active")
	ErrExpired           = errors.New("promotion has expired")
	ErrMinimumNotMet     = errors.New("order subtotal below promotion minimum")
	ErrUsageLimitReached = errors.New("promotion usage limit reached")
)

// Promotion defines a discount rule and its eligibility constraints.
// Orders reference promotions by code snapshot only, so editing a promotion
// never changes historical orders.
type Promotion struct {
	Code         string
	DiscountType DiscountType
	Value        decimal.Decimal
	MaxDiscount  decimal.Decimal // zero = no cap (percentage only)
	MinOrder     decimal.Decimal
	StartDate    *time.Time // nil = no lower bound
	EndDate      *time.Time // nil = no upper bound; window is [start, end)
	UsageLimit   int        // 0 = unlimited
	Uses         int
	Description  string
}

// Result holds the outcome of a successful validation.
type Result struct {
	Promotion *Promotion
	Discount  decimal.Decimal
}

// Repository provides lookup of active promotions by code.
type Repository interface {
	// FindByCode looks up an active promotion, case-insensitively.
	// Returns ErrNotFound when no matching active promotion exists.
	FindByCode(ctx context.Context, code string) (*Promotion, error)
}
