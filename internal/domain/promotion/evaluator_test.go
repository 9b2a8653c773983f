package promotion

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockPromotionRepo struct {
	promo *Promotion
	err   error
}

func (m *mockPromotionRepo) FindByCode(_ context.Context, _ string) (*Promotion, error) {
	return m.promo, m.err
}

func newEvaluator(repo Repository, now time.Time) *RepoEvaluator {
	e := NewRepoEvaluator(repo)
	e.now = func() time.Time { return now }
	return e
}

func TestRepoEvaluator_Validate(t *testing.T) {
	fixedNow := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	pastTime := fixedNow.Add(-24 * time.Hour)
	futureTime := fixedNow.Add(24 * time.Hour)

	tests := []struct {
		name         string
		repo         *mockPromotionRepo
		code         string
		subtotal     decimal.Decimal
		wantDiscount decimal.Decimal
		wantErr      error
	}{
		{
			name: "valid percentage code",
			repo: &mockPromotionRepo{
				promo: &Promotion{
					Code:         "SAVE10",
					DiscountType: DiscountPercentage,
					Value:        decimal.NewFromInt(10),
				},
			},
			code:         "SAVE10",
			subtotal:     decimal.NewFromInt(200000),
			wantDiscount: decimal.NewFromInt(20000),
		},
		{
			name: "percentage capped at max discount",
			repo: &mockPromotionRepo{
				promo: &Promotion{
					Code:         "SALE10",
					DiscountType: DiscountPercentage,
					Value:        decimal.NewFromInt(10),
					MaxDiscount:  decimal.NewFromInt(50000),
				},
			},
			code:         "SALE10",
			subtotal:     decimal.NewFromInt(1000000),
			wantDiscount: decimal.NewFromInt(50000),
		},
		{
			name: "fixed discount is never capped",
			repo: &mockPromotionRepo{
				promo: &Promotion{
					Code:         "MINUS30K",
					DiscountType: DiscountFixed,
					Value:        decimal.NewFromInt(30000),
					MaxDiscount:  decimal.NewFromInt(5000),
				},
			},
			code:         "MINUS30K",
			subtotal:     decimal.NewFromInt(100000),
			wantDiscount: decimal.NewFromInt(30000),
		},
		{
			name:     "unknown code",
			repo:     &mockPromotionRepo{err: ErrNotFound},
			code:     "BOGUS",
			subtotal: decimal.NewFromInt(100000),
			wantErr:  ErrNotFound,
		},
		{
			name: "not yet active",
			repo: &mockPromotionRepo{
				promo: &Promotion{
					Code:         "SOON",
					DiscountType: DiscountPercentage,
					Value:        decimal.NewFromInt(10),
					StartDate:    &futureTime,
				},
			},
			code:     "SOON",
			subtotal: decimal.NewFromInt(100000),
			wantErr:  ErrNotYetActive,
		},
		{
			name: "expired (end date in past)",
			repo: &mockPromotionRepo{
				promo: &Promotion{
					Code:         "OLD",
					DiscountType: DiscountPercentage,
					Value:        decimal.NewFromInt(10),
					EndDate:      &pastTime,
				},
			},
			code:     "OLD",
			subtotal: decimal.NewFromInt(100000),
			wantErr:  ErrExpired,
		},
		{
			name: "end date is exclusive",
			repo: &mockPromotionRepo{
				promo: &Promotion{
					Code:         "EDGE",
					DiscountType: DiscountPercentage,
					Value:        decimal.NewFromInt(10),
					EndDate:      &fixedNow,
				},
			},
			code:     "EDGE",
			subtotal: decimal.NewFromInt(100000),
			wantErr:  ErrExpired,
		},
		{
			name: "subtotal below minimum",
			repo: &mockPromotionRepo{
				promo: &Promotion{
					Code:         "BIG",
					DiscountType: DiscountFixed,
					Value:        decimal.NewFromInt(50000),
					MinOrder:     decimal.NewFromInt(500000),
				},
			},
			code:     "BIG",
			subtotal: decimal.NewFromInt(499999),
			wantErr:  ErrMinimumNotMet,
		},
		{
			name: "usage limit exhausted",
			repo: &mockPromotionRepo{
				promo: &Promotion{
					Code:         "LIMITED",
					DiscountType: DiscountPercentage,
					Value:        decimal.NewFromInt(5),
					UsageLimit:   100,
					Uses:         100,
				},
			},
			code:     "LIMITED",
			subtotal: decimal.NewFromInt(100000),
			wantErr:  ErrUsageLimitReached,
		},
		{
			name: "zero usage limit means unlimited",
			repo: &mockPromotionRepo{
				promo: &Promotion{
					Code:         "FOREVER",
					DiscountType: DiscountPercentage,
					Value:        decimal.NewFromInt(5),
					Uses:         1_000_000,
				},
			},
			code:         "FOREVER",
			subtotal:     decimal.NewFromInt(100000),
			wantDiscount: decimal.NewFromInt(5000),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEvaluator(tt.repo, fixedNow)

			result, err := e.Validate(context.Background(), tt.code, tt.subtotal)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
			assert.True(t, tt.wantDiscount.Equal(result.Discount),
				"want %s, got %s", tt.wantDiscount, result.Discount)
		})
	}
}

func TestApply_UnsupportedType(t *testing.T) {
	_, err := Apply(&Promotion{DiscountType: "bogo"}, decimal.NewFromInt(100))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported discount type")
}
