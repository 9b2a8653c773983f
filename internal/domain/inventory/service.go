package inventory

import (
	"context"

	"github.com/go-faster/errors"
)

// Service exposes the manual correction and audit paths of the ledger.
// Order-driven reservations and restores run inside the order transaction in
// the storage layer and do not go through this service.
type Service struct {
	ledger Ledger
}

// NewService creates an inventory Service backed by the given Ledger.
func NewService(ledger Ledger) *Service {
	return &Service{ledger: ledger}
}

// Adjust applies a manual stock correction outside the order flow. Positive
// deltas are recorded as IMPORT, negative as ADJUSTMENT. Negative deltas that
// would take stock below zero fail with *InsufficientStockError.
func (s *Service) Adjust(ctx context.Context, productID, variantID string, delta int, actorID, note string) (*Entry, error) {
	if delta == 0 {
		return nil, ErrZeroDelta
	}

	refType := ReferenceAdjustment
	if delta > 0 {
		refType = ReferenceImport
	}

	entry, err := s.ledger.Apply(ctx, &Entry{
		ProductID:      productID,
		VariantID:      variantID,
		QuantityChange: delta,
		ReferenceType:  refType,
		Note:           note,
		ActorID:        actorID,
	})
	if err != nil {
		return nil, errors.Wrap(err, "apply adjustment")
	}
	return entry, nil
}

// History returns the full ledger for a SKU, oldest first.
func (s *Service) History(ctx context.Context, productID, variantID string) ([]Entry, error) {
	entries, err := s.ledger.History(ctx, productID, variantID)
	if err != nil {
		return nil, errors.Wrap(err, "load history")
	}
	return entries, nil
}
