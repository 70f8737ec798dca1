// Package store defines the persistence contract of the ledger. Backends live
// in subpackages (sqlite) and in internal/infra/bigquery.
package store

import (
	"context"
	"errors"

	"github.com/dvloznov/expense-ledger/internal/domain"
)

var (
	// ErrNotFound is returned when no record matches.
	ErrNotFound = errors.New("transaction not found")

	// ErrDuplicateKey is returned when a write would leave two non-deleted
	// records with the same (date, normalized description) key.
	ErrDuplicateKey = errors.New("duplicate transaction key")
)

const (
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 500
)

// Filter selects records for Find.
type Filter struct {
	// Deleted selects soft-deleted records instead of live ones.
	Deleted bool
	// Search matches description or currency, case-insensitively.
	Search string
	Page   int
	Limit  int
}

// Normalize fills in paging defaults.
func (f Filter) Normalize() Filter {
	if f.Page < 1 {
		f.Page = DefaultPage
	}
	if f.Limit < 1 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	return f
}

// Offset returns the row offset of the filter's page.
func (f Filter) Offset() int {
	return (f.Page - 1) * f.Limit
}

// NewPage assembles a Page for a normalized filter.
func NewPage(f Filter, txs []domain.Transaction, total int) domain.Page {
	if txs == nil {
		txs = []domain.Transaction{}
	}
	return domain.Page{
		Transactions: txs,
		Total:        total,
		Page:         f.Page,
		Limit:        f.Limit,
		TotalPages:   (total + f.Limit - 1) / f.Limit,
	}
}

// Repository is the entity store. Implementations own their connection
// lifecycle; callers only hold the handle.
type Repository interface {
	// Find returns one page of records ordered by date descending.
	Find(ctx context.Context, f Filter) (domain.Page, error)

	// Get returns one record, deleted or not.
	Get(ctx context.Context, id string) (domain.Transaction, error)

	// All returns every record with the given deleted flag, date descending.
	All(ctx context.Context, deleted bool) ([]domain.Transaction, error)

	// PersistAll inserts every record or none. IDs and timestamps are assigned
	// here and returned.
	PersistAll(ctx context.Context, txs []domain.Transaction) ([]domain.Transaction, error)

	// ExistsByKeys returns the subset of keys held by a non-deleted record,
	// in a single round-trip.
	ExistsByKeys(ctx context.Context, keys []domain.Key) (domain.KeySet, error)

	// Update overwrites the mutable fields of an existing record.
	Update(ctx context.Context, tx domain.Transaction) (domain.Transaction, error)

	// SetDeleted flips the soft-delete flag on the given records that are not
	// already in the target state and reports how many changed.
	SetDeleted(ctx context.Context, ids []string, deleted bool) (int, error)

	// HardDelete removes records permanently. With onlyDeleted, live records
	// are left untouched.
	HardDelete(ctx context.Context, ids []string, onlyDeleted bool) (int, error)
}
