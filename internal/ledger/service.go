// Package ledger implements the single-record and batch operations on the
// ledger: create, list, search, update, soft delete, restore, hard delete
// and export. Bulk imports are delegated to the pipeline.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/expense-ledger/internal/domain"
	"github.com/dvloznov/expense-ledger/internal/export"
	"github.com/dvloznov/expense-ledger/internal/pipeline"
	"github.com/dvloznov/expense-ledger/internal/rates"
	"github.com/dvloznov/expense-ledger/internal/store"
)

var (
	// ErrInvalid wraps input validation failures.
	ErrInvalid = errors.New("invalid transaction")

	// ErrSoftDeleted is returned when updating a soft-deleted record.
	ErrSoftDeleted = errors.New("transaction is soft-deleted")

	// ErrAlreadyDeleted is returned when soft-deleting twice.
	ErrAlreadyDeleted = errors.New("transaction is already soft-deleted")

	// ErrNotDeleted is returned when restoring a live record.
	ErrNotDeleted = errors.New("transaction is not soft-deleted")

	// ErrNothingToExport is returned when there are no live records.
	ErrNothingToExport = errors.New("no transactions to export")
)

// Export formats.
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

// CreateInput is a single-record creation request. Date is ISO YYYY-MM-DD.
type CreateInput struct {
	Date           string  `json:"date"`
	Description    string  `json:"description"`
	OriginalAmount float64 `json:"originalAmount"`
	Currency       string  `json:"currency"`
}

// UpdateInput carries the fields to change; nil fields are left as they are.
type UpdateInput struct {
	Date           *string  `json:"date,omitempty"`
	Description    *string  `json:"description,omitempty"`
	OriginalAmount *float64 `json:"originalAmount,omitempty"`
	Currency       *string  `json:"currency,omitempty"`
}

// Service is the ledger application service.
type Service struct {
	repo     store.Repository
	rates    rates.Resolver
	importer *pipeline.Importer
}

// NewService creates a service. importer may be nil when bulk import is not
// needed.
func NewService(repo store.Repository, resolver rates.Resolver, importer *pipeline.Importer) *Service {
	return &Service{repo: repo, rates: resolver, importer: importer}
}

// Create validates, converts and stores one record.
func (s *Service) Create(ctx context.Context, in CreateInput) (domain.Transaction, error) {
	tx, err := s.build(ctx, in.Date, in.Description, in.OriginalAmount, in.Currency)
	if err != nil {
		return domain.Transaction{}, err
	}

	existing, err := s.repo.ExistsByKeys(ctx, []domain.Key{tx.Key()})
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("Create: %w", err)
	}
	if existing.Has(tx.Key()) {
		return domain.Transaction{}, fmt.Errorf("Create: %s: %w", tx.Key(), store.ErrDuplicateKey)
	}

	saved, err := s.repo.PersistAll(ctx, []domain.Transaction{tx})
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("Create: %w", err)
	}
	return saved[0], nil
}

func (s *Service) build(ctx context.Context, date, description string, amount float64, currency string) (domain.Transaction, error) {
	description = strings.TrimSpace(description)
	currency = rates.NormalizeCode(currency)

	switch {
	case description == "":
		return domain.Transaction{}, fmt.Errorf("%w: description is required", ErrInvalid)
	case math.IsNaN(amount) || math.IsInf(amount, 0):
		return domain.Transaction{}, fmt.Errorf("%w: amount must be a number", ErrInvalid)
	case amount < 0:
		return domain.Transaction{}, fmt.Errorf("%w: amount must not be negative", ErrInvalid)
	case currency == "":
		return domain.Transaction{}, fmt.Errorf("%w: currency is required", ErrInvalid)
	}

	d, err := civil.ParseDate(strings.TrimSpace(date))
	if err != nil || !d.IsValid() {
		return domain.Transaction{}, fmt.Errorf("%w: date %q is not YYYY-MM-DD", ErrInvalid, date)
	}

	rate, err := s.rates.Resolve(ctx, currency, &d)
	if err != nil {
		if errors.Is(err, rates.ErrUnknownCurrency) {
			return domain.Transaction{}, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		return domain.Transaction{}, fmt.Errorf("resolving rate: %w", err)
	}

	return domain.Transaction{
		Date:                      d,
		Description:               description,
		NormalizedDescription:     domain.NormalizeDescription(description),
		OriginalAmount:            amount,
		Currency:                  currency,
		AmountInReferenceCurrency: amount * rate,
	}, nil
}

// List returns a page of live records, newest first.
func (s *Service) List(ctx context.Context, page, limit int) (domain.Page, error) {
	return s.repo.Find(ctx, store.Filter{Page: page, Limit: limit})
}

// ListDeleted returns a page of soft-deleted records.
func (s *Service) ListDeleted(ctx context.Context, page, limit int) (domain.Page, error) {
	return s.repo.Find(ctx, store.Filter{Deleted: true, Page: page, Limit: limit})
}

// Search matches live records by description or currency.
func (s *Service) Search(ctx context.Context, query string, page, limit int) (domain.Page, error) {
	if strings.TrimSpace(query) == "" {
		return domain.Page{}, fmt.Errorf("%w: search query is required", ErrInvalid)
	}
	return s.repo.Find(ctx, store.Filter{Search: query, Page: page, Limit: limit})
}

// Get returns one record.
func (s *Service) Get(ctx context.Context, id string) (domain.Transaction, error) {
	return s.repo.Get(ctx, id)
}

// Update applies a partial update and recomputes the converted amount.
func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (domain.Transaction, error) {
	cur, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.Transaction{}, err
	}
	if cur.IsDeleted {
		return domain.Transaction{}, fmt.Errorf("Update: %s: %w", id, ErrSoftDeleted)
	}

	date := cur.Date.String()
	if in.Date != nil {
		date = *in.Date
	}
	description := cur.Description
	if in.Description != nil {
		description = *in.Description
	}
	amount := cur.OriginalAmount
	if in.OriginalAmount != nil {
		amount = *in.OriginalAmount
	}
	currency := cur.Currency
	if in.Currency != nil {
		currency = *in.Currency
	}

	next, err := s.build(ctx, date, description, amount, currency)
	if err != nil {
		return domain.Transaction{}, err
	}
	next.ID = cur.ID
	next.CreatedAt = cur.CreatedAt

	return s.repo.Update(ctx, next)
}

// Delete removes a record permanently.
func (s *Service) Delete(ctx context.Context, id string) error {
	n, err := s.repo.HardDelete(ctx, []string{id}, false)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("Delete: %s: %w", id, store.ErrNotFound)
	}
	return nil
}

// SoftDelete hides a record from normal listings.
func (s *Service) SoftDelete(ctx context.Context, id string) (domain.Transaction, error) {
	cur, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.Transaction{}, err
	}
	if cur.IsDeleted {
		return domain.Transaction{}, fmt.Errorf("SoftDelete: %s: %w", id, ErrAlreadyDeleted)
	}
	if _, err := s.repo.SetDeleted(ctx, []string{id}, true); err != nil {
		return domain.Transaction{}, err
	}
	return s.repo.Get(ctx, id)
}

// Restore brings a soft-deleted record back. It fails with
// store.ErrDuplicateKey when a live record took its key meanwhile.
func (s *Service) Restore(ctx context.Context, id string) (domain.Transaction, error) {
	cur, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.Transaction{}, err
	}
	if !cur.IsDeleted {
		return domain.Transaction{}, fmt.Errorf("Restore: %s: %w", id, ErrNotDeleted)
	}
	if _, err := s.repo.SetDeleted(ctx, []string{id}, false); err != nil {
		return domain.Transaction{}, err
	}
	return s.repo.Get(ctx, id)
}

// BatchSoftDelete soft-deletes the live records among ids.
func (s *Service) BatchSoftDelete(ctx context.Context, ids []string) (int, error) {
	return s.batch(ctx, "BatchSoftDelete", ids, func() (int, error) {
		return s.repo.SetDeleted(ctx, ids, true)
	})
}

// BatchRestore restores the soft-deleted records among ids.
func (s *Service) BatchRestore(ctx context.Context, ids []string) (int, error) {
	return s.batch(ctx, "BatchRestore", ids, func() (int, error) {
		return s.repo.SetDeleted(ctx, ids, false)
	})
}

// BatchHardDelete permanently removes the soft-deleted records among ids.
// Live records are never removed this way.
func (s *Service) BatchHardDelete(ctx context.Context, ids []string) (int, error) {
	return s.batch(ctx, "BatchHardDelete", ids, func() (int, error) {
		return s.repo.HardDelete(ctx, ids, true)
	})
}

func (s *Service) batch(ctx context.Context, op string, ids []string, fn func() (int, error)) (int, error) {
	ids = cleanIDs(ids)
	if len(ids) == 0 {
		return 0, fmt.Errorf("%w: ids are required", ErrInvalid)
	}
	n, err := fn()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return 0, fmt.Errorf("%s: no matching transactions: %w", op, store.ErrNotFound)
	}
	return n, nil
}

func cleanIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// Export writes every live record in the given format.
func (s *Service) Export(ctx context.Context, format string, w io.Writer) error {
	if format == "" {
		format = FormatCSV
	}
	if format != FormatCSV && format != FormatXLSX {
		return fmt.Errorf("%w: unknown export format %q", ErrInvalid, format)
	}

	txs, err := s.repo.All(ctx, false)
	if err != nil {
		return fmt.Errorf("Export: %w", err)
	}
	if len(txs) == 0 {
		return ErrNothingToExport
	}

	if format == FormatXLSX {
		return export.WriteXLSX(w, txs)
	}
	return export.WriteCSV(w, txs)
}

// ExportFilename names an export file.
func ExportFilename(format string, at time.Time) string {
	if format == "" {
		format = FormatCSV
	}
	return fmt.Sprintf("transactions-%s.%s", at.UTC().Format("20060102-150405"), format)
}

// Import runs a bulk import.
func (s *Service) Import(ctx context.Context, req pipeline.Request) (*pipeline.Report, error) {
	if s.importer == nil {
		return nil, fmt.Errorf("%w: import is not configured", pipeline.ErrProcessingFailed)
	}
	return s.importer.Import(ctx, req)
}
