package pipeline

import (
	"context"
	"fmt"

	"github.com/dvloznov/expense-ledger/internal/domain"
)

// ExistenceChecker is the store lookup used to find already persisted keys.
type ExistenceChecker interface {
	ExistsByKeys(ctx context.Context, keys []domain.Key) (domain.KeySet, error)
}

// ConflictChecker finds which candidate keys already belong to non-deleted
// records, using one store query per batch.
type ConflictChecker struct {
	store ExistenceChecker
}

// NewConflictChecker creates a checker over store.
func NewConflictChecker(store ExistenceChecker) *ConflictChecker {
	return &ConflictChecker{store: store}
}

// FindExisting returns the subset of keys already present. An empty key list
// does not reach the store.
func (c *ConflictChecker) FindExisting(ctx context.Context, keys []domain.Key) (domain.KeySet, error) {
	out := domain.NewKeySet()
	if len(keys) == 0 {
		return out, nil
	}

	existing, err := c.store.ExistsByKeys(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("FindExisting: %d keys: %w", len(keys), err)
	}

	for _, k := range keys {
		if existing.Has(k) {
			out.Add(k)
		}
	}
	return out, nil
}
