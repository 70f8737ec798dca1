package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dvloznov/expense-ledger/internal/domain"
	"github.com/dvloznov/expense-ledger/internal/jobs"
	"github.com/dvloznov/expense-ledger/internal/jobs/inmemory"
	"github.com/dvloznov/expense-ledger/internal/ledger"
	"github.com/dvloznov/expense-ledger/internal/logger"
	"github.com/dvloznov/expense-ledger/internal/pipeline"
	"github.com/dvloznov/expense-ledger/internal/rates"
	"github.com/dvloznov/expense-ledger/internal/store"
	"github.com/dvloznov/expense-ledger/internal/store/sqlite"
	"github.com/dvloznov/expense-ledger/internal/upload"
)

type testServer struct {
	*httptest.Server
	jobs *inmemory.Store
}

func newTestServer(t *testing.T, maxBytes int64) *testServer {
	t.Helper()

	db, err := sqlite.OpenAndMigrate(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := sqlite.NewRepository(db)
	table := rates.DefaultTable(nil)
	importer := pipeline.NewImporter(repo, table, pipeline.Options{})
	svc := ledger.NewService(repo, table, importer)

	jobStore := inmemory.NewStore()
	queue := inmemory.NewQueue(4, 1, jobStore)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, queue.Start(ctx, jobs.ImportHandler(importer)))
	t.Cleanup(func() {
		cancel()
		queue.Close()
	})

	log := logger.NewWithWriter(io.Discard)
	srv := httptest.NewServer(NewRouter(Deps{
		Service:        svc,
		Decoder:        upload.NewDecoder(upload.DefaultHeaders()),
		Publisher:      queue,
		JobStore:       jobStore,
		MaxUploadBytes: maxBytes,
		Log:            log,
	}))
	t.Cleanup(srv.Close)

	return &testServer{Server: srv, jobs: jobStore}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) (*http.Response, []byte) {
	t.Helper()

	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.URL+path, r)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func (s *testServer) create(t *testing.T, date, desc string, amount float64, currency string) domain.Transaction {
	t.Helper()
	resp, body := s.do(t, http.MethodPost, "/api/transactions", map[string]interface{}{
		"date": date, "description": desc, "originalAmount": amount, "currency": currency,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var tx domain.Transaction
	require.NoError(t, json.Unmarshal(body, &tx))
	return tx
}

func decodeError(t *testing.T, body []byte) string {
	t.Helper()
	var e map[string]string
	require.NoError(t, json.Unmarshal(body, &e))
	return e["error"]
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, 0)

	resp, body := s.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), "healthy")
	require.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestTransactions_CreateAndList(t *testing.T) {
	s := newTestServer(t, 0)

	tx := s.create(t, "2024-01-01", "Coffee", 5, "USD")
	require.Equal(t, 428.86, tx.AmountInReferenceCurrency)
	s.create(t, "2024-01-02", "Groceries", 20, "EUR")

	resp, body := s.do(t, http.MethodPost, "/api/transactions", map[string]interface{}{
		"date": "2024-01-01", "description": "coffee", "originalAmount": 1, "currency": "USD",
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = s.do(t, http.MethodPost, "/api/transactions", map[string]interface{}{
		"date": "2024-01-03", "description": "Bad", "originalAmount": -1, "currency": "USD",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Contains(t, decodeError(t, body), "negative")

	resp, _ = s.do(t, http.MethodPost, "/api/transactions", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = s.do(t, http.MethodGet, "/api/transactions?page=1&limit=1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var page domain.Page
	require.NoError(t, json.Unmarshal(body, &page))
	require.Equal(t, 2, page.Total)
	require.Equal(t, 2, page.TotalPages)
	require.Len(t, page.Transactions, 1)
	require.Equal(t, "Groceries", page.Transactions[0].Description)

	resp, body = s.do(t, http.MethodGet, "/api/transactions/search?query=COF", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &page))
	require.Equal(t, 1, page.Total)

	resp, _ = s.do(t, http.MethodGet, "/api/transactions/search", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTransactions_UpdateDeleteRestore(t *testing.T) {
	s := newTestServer(t, 0)

	tx := s.create(t, "2024-01-01", "Coffee", 5, "USD")

	resp, body := s.do(t, http.MethodPut, "/api/transactions/"+tx.ID, map[string]interface{}{"currency": "EUR"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var updated domain.Transaction
	require.NoError(t, json.Unmarshal(body, &updated))
	require.Equal(t, "EUR", updated.Currency)
	require.InDelta(t, 444.095, updated.AmountInReferenceCurrency, 1e-9)

	resp, _ = s.do(t, http.MethodPut, "/api/transactions/missing", map[string]interface{}{"currency": "EUR"})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = s.do(t, http.MethodPut, "/api/transactions/"+tx.ID+"/restore", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = s.do(t, http.MethodDelete, "/api/transactions/"+tx.ID+"/soft", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = s.do(t, http.MethodDelete, "/api/transactions/"+tx.ID+"/soft", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = s.do(t, http.MethodPut, "/api/transactions/"+tx.ID, map[string]interface{}{"currency": "GBP"})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body = s.do(t, http.MethodGet, "/api/transactions/deleted", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var page domain.Page
	require.NoError(t, json.Unmarshal(body, &page))
	require.Equal(t, 1, page.Total)

	taken := s.create(t, "2024-01-01", "COFFEE", 1, "USD")
	resp, _ = s.do(t, http.MethodPut, "/api/transactions/"+tx.ID+"/restore", nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = s.do(t, http.MethodDelete, "/api/transactions/"+taken.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = s.do(t, http.MethodDelete, "/api/transactions/"+taken.ID, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = s.do(t, http.MethodPut, "/api/transactions/"+tx.ID+"/restore", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTransactions_Batch(t *testing.T) {
	s := newTestServer(t, 0)

	a := s.create(t, "2024-01-01", "A", 1, "USD")
	b := s.create(t, "2024-01-02", "B", 1, "USD")

	resp, body := s.do(t, http.MethodPost, "/api/transactions/batch/soft-delete", map[string]interface{}{"ids": []string{a.ID, b.ID}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), `"count":2`)

	resp, _ = s.do(t, http.MethodPost, "/api/transactions/batch/soft-delete", map[string]interface{}{"ids": []string{a.ID}})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = s.do(t, http.MethodPost, "/api/transactions/batch/restore", map[string]interface{}{"ids": []string{a.ID}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), `"count":1`)

	resp, body = s.do(t, http.MethodPost, "/api/transactions/batch/hard-delete", map[string]interface{}{"ids": []string{a.ID, b.ID}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), `"count":1`)

	resp, _ = s.do(t, http.MethodPost, "/api/transactions/batch/hard-delete", map[string]interface{}{"ids": []string{}})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTransactions_Export(t *testing.T) {
	s := newTestServer(t, 0)

	resp, _ := s.do(t, http.MethodGet, "/api/transactions/export", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	tx := s.create(t, "2024-01-01", "Coffee", 5, "USD")

	resp, body := s.do(t, http.MethodGet, "/api/transactions/export?format=csv", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/csv", resp.Header.Get("Content-Type"))
	require.Contains(t, resp.Header.Get("Content-Disposition"), ".csv")
	require.Contains(t, string(body), tx.ID+",2024-01-01,Coffee,5,USD,428.86")

	resp, body = s.do(t, http.MethodGet, "/api/transactions/export?format=xlsx", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, bytes.HasPrefix(body, []byte("PK")))

	resp, _ = s.do(t, http.MethodGet, "/api/transactions/export?format=pdf", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

type importReport struct {
	AcceptedCount     int                  `json:"acceptedCount"`
	Records           []domain.Transaction `json:"records"`
	DuplicatesInBatch []domain.RawRow      `json:"duplicatesInBatch"`
	DuplicatesInStore []domain.RawRow      `json:"duplicatesInStore"`
	Rejected          []pipeline.Rejection `json:"rejected"`
	Summary           map[string]float64   `json:"summary"`
	ProcessedCSV      string               `json:"processedCsv"`
}

func TestImport_JSON(t *testing.T) {
	s := newTestServer(t, 0)
	s.create(t, "2024-01-03", "Rent", 100, "USD")

	resp, body := s.do(t, http.MethodPost, "/api/transactions/import", map[string]interface{}{
		"rows": []map[string]interface{}{
			{"date": "1-1-2024", "description": "Coffee", "amount": 5, "currency": "USD"},
			{"date": "1-1-2024", "description": "coffee!", "amount": "6", "currency": "USD"},
			{"date": "3-1-2024", "description": "rent", "amount": "100", "currency": "USD"},
			{"date": "2024-01-04", "description": "Bad date", "amount": "1", "currency": "USD"},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var report importReport
	require.NoError(t, json.Unmarshal(body, &report))
	require.Equal(t, 1, report.AcceptedCount)
	require.Len(t, report.DuplicatesInBatch, 1)
	require.Len(t, report.DuplicatesInStore, 1)
	require.Len(t, report.Rejected, 1)
	require.Equal(t, pipeline.ReasonInvalidDate, report.Rejected[0].Reason)
	require.Equal(t, map[string]float64{"USD": 5}, report.Summary)
	require.Contains(t, report.ProcessedCSV, ",2024-01-01,Coffee,5,USD,428.86")
}

func TestImport_MultipartCSV(t *testing.T) {
	s := newTestServer(t, 0)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "jan.csv")
	require.NoError(t, err)
	_, err = fw.Write([]byte("Date,Description,Amount,Currency\n1-1-2024,Coffee,5,USD\n2-1-2024,Lunch,12.5,EUR\n"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(s.URL+"/api/transactions/import", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var report importReport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	require.Equal(t, 2, report.AcceptedCount)
	require.Equal(t, 2, len(strings.Split(strings.TrimSpace(report.ProcessedCSV), "\n"))-1)
}

func TestImport_BadUploads(t *testing.T) {
	s := newTestServer(t, 256)

	resp, body := s.do(t, http.MethodPost, "/api/transactions/import", map[string]interface{}{"rows": "nope"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode, string(body))

	big := map[string]interface{}{"rows": []map[string]string{{"description": strings.Repeat("x", 512)}}}
	resp, _ = s.do(t, http.MethodPost, "/api/transactions/import", big)
	require.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("other", "x"))
	require.NoError(t, mw.Close())
	resp2, err := http.Post(s.URL+"/api/transactions/import", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	resp2.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp2.StatusCode)
}

func TestImport_Async(t *testing.T) {
	s := newTestServer(t, 0)

	resp, body := s.do(t, http.MethodPost, "/api/transactions/import?async=true", map[string]interface{}{
		"rows": []map[string]interface{}{
			{"date": "1-1-2024", "description": "Coffee", "amount": "5", "currency": "USD"},
		},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))

	var accepted map[string]string
	require.NoError(t, json.Unmarshal(body, &accepted))
	jobID := accepted["job_id"]
	require.NotEmpty(t, jobID)

	require.Eventually(t, func() bool {
		job, err := s.jobs.GetJob(context.Background(), jobID)
		return err == nil && job.Status == jobs.JobStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	resp, body = s.do(t, http.MethodGet, "/api/jobs/"+jobID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), `"acceptedCount":1`)
	require.NotContains(t, string(body), "Request")

	resp, body = s.do(t, http.MethodGet, "/api/jobs?status=completed", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), `"count":1`)

	resp, _ = s.do(t, http.MethodGet, "/api/jobs/missing", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// staleLookupRepo reports no existing keys, as when a concurrent import
// commits between the lookup and the insert.
type staleLookupRepo struct {
	store.Repository
}

func (staleLookupRepo) ExistsByKeys(ctx context.Context, keys []domain.Key) (domain.KeySet, error) {
	return domain.NewKeySet(), nil
}

func TestImport_PersistClashIsGenericServerError(t *testing.T) {
	db, err := sqlite.OpenAndMigrate(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := sqlite.NewRepository(db)
	table := rates.DefaultTable(nil)
	importer := pipeline.NewImporter(staleLookupRepo{Repository: repo}, table, pipeline.Options{})
	svc := ledger.NewService(repo, table, importer)

	srv := httptest.NewServer(NewRouter(Deps{
		Service: svc,
		Decoder: upload.NewDecoder(upload.DefaultHeaders()),
		Log:     logger.NewWithWriter(io.Discard),
	}))
	t.Cleanup(srv.Close)
	s := &testServer{Server: srv}

	s.create(t, "2024-01-01", "Coffee", 5, "USD")

	resp, body := s.do(t, http.MethodPost, "/api/transactions/import", map[string]interface{}{
		"rows": []map[string]interface{}{
			{"date": "1-1-2024", "description": "coffee", "amount": 5, "currency": "USD"},
		},
	})
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode, string(body))

	msg := decodeError(t, body)
	require.Equal(t, "Import processing failed", msg)
	require.NotContains(t, msg, "UNIQUE")

	resp, body = s.do(t, http.MethodGet, "/api/transactions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var page struct {
		Total int `json:"total"`
	}
	require.NoError(t, json.Unmarshal(body, &page))
	require.Equal(t, 1, page.Total)
}
