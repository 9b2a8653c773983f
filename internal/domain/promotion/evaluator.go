package promotion

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Evaluator validates a promotion code against an order subtotal and returns
// the computed discount.
type Evaluator interface {
	Validate(ctx context.Context, code string, subtotal decimal.Decimal) (*Result, error)
}

// RepoEvaluator implements Evaluator by looking up promotions from a
// Repository and applying them via the Apply function.
type RepoEvaluator struct {
	repo Repository
	now  func() time.Time
}

// NewRepoEvaluator creates a RepoEvaluator backed by the given Repository.
func NewRepoEvaluator(repo Repository) *RepoEvaluator {
	return &RepoEvaluator{repo: repo, now: time.Now}
}

// Validate looks up the promotion for the given code and checks, in order:
// existence, date window, minimum order amount, usage limit. On success it
// returns the promotion together with the computed discount amount.
func (e *RepoEvaluator) Validate(ctx context.Context, code string, subtotal decimal.Decimal) (*Result, error) {
	p, err := e.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "lookup promotion")
	}

	now := e.now()

	if p.StartDate != nil && now.Before(*p.StartDate) {
		return nil, ErrNotYetActive
	}
	// The window is half-open: end_date itself is already outside it.
	if p.EndDate != nil && !now.Before(*p.EndDate) {
		return nil, ErrExpired
	}

	if subtotal.LessThan(p.MinOrder) {
		return nil, ErrMinimumNotMet
	}

	if p.UsageLimit > 0 && p.Uses >= p.UsageLimit {
		return nil, ErrUsageLimitReached
	}

	discount, err := Apply(p, subtotal)
	if err != nil {
		return nil, err
	}

	return &Result{Promotion: p, Discount: discount}, nil
}

// Apply computes the discount amount for an already-validated promotion.
func Apply(p *Promotion, subtotal decimal.Decimal) (decimal.Decimal, error) {
	switch p.DiscountType {
	case DiscountPercentage:
		amount := subtotal.Mul(p.Value).Div(hundred)
		if p.MaxDiscount.IsPositive() && amount.GreaterThan(p.MaxDiscount) {
			amount = p.MaxDiscount
		}
		return amount.Round(2), nil
	case DiscountFixed:
		// Fixed discounts apply verbatim, never capped.
		return p.Value.Round(2), nil
	default:
		return decimal.Zero, errors.Errorf("unsupported discount type: %q", p.DiscountType)
	}
}
