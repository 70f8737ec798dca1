package ledger

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dvloznov/expense-ledger/internal/domain"
	"github.com/dvloznov/expense-ledger/internal/pipeline"
	"github.com/dvloznov/expense-ledger/internal/rates"
	"github.com/dvloznov/expense-ledger/internal/store"
	"github.com/dvloznov/expense-ledger/internal/store/sqlite"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := sqlite.OpenAndMigrate(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := sqlite.NewRepository(db)
	table := rates.DefaultTable(nil)
	return NewService(repo, table, pipeline.NewImporter(repo, table, pipeline.Options{}))
}

func create(t *testing.T, s *Service, date, desc string, amount float64, currency string) domain.Transaction {
	t.Helper()
	tx, err := s.Create(context.Background(), CreateInput{Date: date, Description: desc, OriginalAmount: amount, Currency: currency})
	require.NoError(t, err)
	return tx
}

func TestService_Create(t *testing.T) {
	s := newTestService(t)

	tx := create(t, s, "2024-01-01", "  Coffee ", 5, "usd")
	require.NotEmpty(t, tx.ID)
	require.Equal(t, "Coffee", tx.Description)
	require.Equal(t, "USD", tx.Currency)
	require.InDelta(t, 428.86, tx.AmountInReferenceCurrency, 1e-9)

	_, err := s.Create(context.Background(), CreateInput{Date: "2024-01-01", Description: "COFFEE!", OriginalAmount: 7, Currency: "EUR"})
	require.ErrorIs(t, err, store.ErrDuplicateKey)

	zero := create(t, s, "2024-01-02", "Free sample", 0, "GBP")
	require.Zero(t, zero.AmountInReferenceCurrency)
}

func TestService_CreateInvalid(t *testing.T) {
	s := newTestService(t)

	tests := []struct {
		name string
		in   CreateInput
	}{
		{"missing description", CreateInput{Date: "2024-01-01", OriginalAmount: 1, Currency: "USD"}},
		{"negative amount", CreateInput{Date: "2024-01-01", Description: "x", OriginalAmount: -1, Currency: "USD"}},
		{"missing currency", CreateInput{Date: "2024-01-01", Description: "x", OriginalAmount: 1}},
		{"unknown currency", CreateInput{Date: "2024-01-01", Description: "x", OriginalAmount: 1, Currency: "XYZ"}},
		{"bad date", CreateInput{Date: "01-01-2024", Description: "x", OriginalAmount: 1, Currency: "USD"}},
		{"impossible date", CreateInput{Date: "2024-02-30", Description: "x", OriginalAmount: 1, Currency: "USD"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Create(context.Background(), tt.in)
			require.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestService_ListAndSearch(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	create(t, s, "2024-01-01", "Coffee", 5, "USD")
	create(t, s, "2024-01-02", "Groceries", 50, "EUR")
	create(t, s, "2024-01-03", "Coffee beans", 12, "GBP")

	page, err := s.List(ctx, 0, 0)
	require.NoError(t, err)
	require.Equal(t, 3, page.Total)
	require.Equal(t, 1, page.Page)
	require.Equal(t, store.DefaultLimit, page.Limit)
	require.Equal(t, "Coffee beans", page.Transactions[0].Description)

	page, err = s.List(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, page.Transactions, 1)
	require.Equal(t, 2, page.TotalPages)

	page, err = s.Search(ctx, "coffee", 1, 10)
	require.NoError(t, err)
	require.Equal(t, 2, page.Total)

	page, err = s.Search(ctx, "eur", 1, 10)
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)

	_, err = s.Search(ctx, "  ", 1, 10)
	require.ErrorIs(t, err, ErrInvalid)
}

func TestService_Update(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	tx := create(t, s, "2024-01-01", "Coffee", 5, "USD")
	create(t, s, "2024-01-02", "Lunch", 10, "USD")

	amount := 10.0
	currency := "EUR"
	updated, err := s.Update(ctx, tx.ID, UpdateInput{OriginalAmount: &amount, Currency: &currency})
	require.NoError(t, err)
	require.Equal(t, "Coffee", updated.Description)
	require.Equal(t, "EUR", updated.Currency)
	require.InDelta(t, 888.19, updated.AmountInReferenceCurrency, 1e-9)

	date := "2024-01-02"
	desc := "lunch"
	_, err = s.Update(ctx, tx.ID, UpdateInput{Date: &date, Description: &desc})
	require.ErrorIs(t, err, store.ErrDuplicateKey)

	negative := -3.0
	_, err = s.Update(ctx, tx.ID, UpdateInput{OriginalAmount: &negative})
	require.ErrorIs(t, err, ErrInvalid)

	_, err = s.Update(ctx, "missing", UpdateInput{OriginalAmount: &amount})
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.SoftDelete(ctx, tx.ID)
	require.NoError(t, err)
	_, err = s.Update(ctx, tx.ID, UpdateInput{OriginalAmount: &amount})
	require.ErrorIs(t, err, ErrSoftDeleted)
}

func TestService_SoftDeleteAndRestore(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	tx := create(t, s, "2024-01-01", "Coffee", 5, "USD")

	deleted, err := s.SoftDelete(ctx, tx.ID)
	require.NoError(t, err)
	require.True(t, deleted.IsDeleted)

	_, err = s.SoftDelete(ctx, tx.ID)
	require.ErrorIs(t, err, ErrAlreadyDeleted)

	page, err := s.ListDeleted(ctx, 1, 10)
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)

	// A new live record may take the key while the old one is deleted.
	replacement := create(t, s, "2024-01-01", "coffee", 6, "USD")

	_, err = s.Restore(ctx, tx.ID)
	require.ErrorIs(t, err, store.ErrDuplicateKey)

	require.NoError(t, s.Delete(ctx, replacement.ID))
	restored, err := s.Restore(ctx, tx.ID)
	require.NoError(t, err)
	require.False(t, restored.IsDeleted)

	_, err = s.Restore(ctx, tx.ID)
	require.ErrorIs(t, err, ErrNotDeleted)

	_, err = s.SoftDelete(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestService_Delete(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	tx := create(t, s, "2024-01-01", "Coffee", 5, "USD")
	require.NoError(t, s.Delete(ctx, tx.ID))
	require.ErrorIs(t, s.Delete(ctx, tx.ID), store.ErrNotFound)

	_, err := s.Get(ctx, tx.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestService_BatchOperations(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	a := create(t, s, "2024-01-01", "A", 1, "USD")
	b := create(t, s, "2024-01-02", "B", 2, "USD")
	c := create(t, s, "2024-01-03", "C", 3, "USD")

	n, err := s.BatchSoftDelete(ctx, []string{a.ID, b.ID, b.ID, " "})
	require.NoError(t, err)
	require.Equal(t, 2, n)

	_, err = s.BatchSoftDelete(ctx, []string{a.ID})
	require.ErrorIs(t, err, store.ErrNotFound)

	n, err = s.BatchRestore(ctx, []string{a.ID, c.ID})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// c is live, so only b goes.
	n, err = s.BatchHardDelete(ctx, []string{b.ID, c.ID})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = s.Get(ctx, c.ID)
	require.NoError(t, err)

	_, err = s.BatchHardDelete(ctx, []string{c.ID})
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.BatchRestore(ctx, nil)
	require.ErrorIs(t, err, ErrInvalid)
}

func TestService_Export(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	var buf bytes.Buffer
	require.ErrorIs(t, s.Export(ctx, FormatCSV, &buf), ErrNothingToExport)

	tx := create(t, s, "2024-01-01", "Coffee", 5, "USD")
	deleted := create(t, s, "2024-01-02", "Hidden", 1, "USD")
	_, err := s.SoftDelete(ctx, deleted.ID)
	require.NoError(t, err)

	buf.Reset()
	require.NoError(t, s.Export(ctx, "", &buf))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	require.Equal(t, tx.ID+",2024-01-01,Coffee,5,USD,428.86", lines[1])

	buf.Reset()
	require.NoError(t, s.Export(ctx, FormatXLSX, &buf))
	require.True(t, bytes.HasPrefix(buf.Bytes(), []byte("PK")))

	require.ErrorIs(t, s.Export(ctx, "pdf", &buf), ErrInvalid)
}

func TestExportFilename(t *testing.T) {
	at := time.Date(2024, 3, 9, 14, 5, 6, 0, time.UTC)
	require.Equal(t, "transactions-20240309-140506.csv", ExportFilename("", at))
	require.Equal(t, "transactions-20240309-140506.xlsx", ExportFilename(FormatXLSX, at))
}

func TestService_Import(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	create(t, s, "2024-01-01", "Coffee", 5, "USD")

	report, err := s.Import(ctx, pipeline.Request{Rows: []domain.RawRow{
		{Date: "1-1-2024", Description: "coffee", Amount: "5", Currency: "USD"},
		{Date: "2-1-2024", Description: "Lunch", Amount: "10", Currency: "EUR"},
	}})
	require.NoError(t, err)
	require.Equal(t, 1, report.AcceptedCount)
	require.Len(t, report.DuplicatesInStore, 1)

	bare := NewService(nil, rates.DefaultTable(nil), nil)
	_, err = bare.Import(ctx, pipeline.Request{})
	require.ErrorIs(t, err, pipeline.ErrProcessingFailed)
}
