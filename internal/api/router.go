// Package api assembles the HTTP surface of the ledger.
package api

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/expense-ledger/internal/api/handlers"
	"github.com/dvloznov/expense-ledger/internal/api/middleware"
	"github.com/dvloznov/expense-ledger/internal/jobs"
	"github.com/dvloznov/expense-ledger/internal/ledger"
	"github.com/dvloznov/expense-ledger/internal/upload"
)

// Deps are the collaborators behind the router. Publisher and JobStore may
// be nil when async imports are disabled.
type Deps struct {
	Service        *ledger.Service
	Decoder        *upload.Decoder
	Publisher      jobs.Publisher
	JobStore       jobs.JobStore
	MaxUploadBytes int64
	Log            zerolog.Logger
}

// NewRouter returns the API handler with the middleware chain applied.
func NewRouter(d Deps) http.Handler {
	transactions := handlers.NewTransactionsHandler(d.Service, d.Log)
	imports := handlers.NewImportsHandler(d.Service, d.Publisher, d.Decoder, d.MaxUploadBytes, d.Log)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	// Transactions endpoints
	mux.HandleFunc("POST /api/transactions", transactions.CreateTransaction)
	mux.HandleFunc("GET /api/transactions", transactions.ListTransactions)
	mux.HandleFunc("GET /api/transactions/deleted", transactions.ListDeletedTransactions)
	mux.HandleFunc("GET /api/transactions/search", transactions.SearchTransactions)
	mux.HandleFunc("GET /api/transactions/export", transactions.ExportTransactions)
	mux.HandleFunc("PUT /api/transactions/{id}", transactions.UpdateTransaction)
	mux.HandleFunc("DELETE /api/transactions/{id}", transactions.DeleteTransaction)
	mux.HandleFunc("DELETE /api/transactions/{id}/soft", transactions.SoftDeleteTransaction)
	mux.HandleFunc("PUT /api/transactions/{id}/restore", transactions.RestoreTransaction)
	mux.HandleFunc("POST /api/transactions/batch/soft-delete", transactions.BatchSoftDelete)
	mux.HandleFunc("POST /api/transactions/batch/restore", transactions.BatchRestore)
	mux.HandleFunc("POST /api/transactions/batch/hard-delete", transactions.BatchHardDelete)
	mux.HandleFunc("POST /api/transactions/import", imports.ImportTransactions)

	// Jobs endpoints
	if d.JobStore != nil {
		jobsHandler := handlers.NewJobsHandler(d.JobStore, d.Log)
		mux.HandleFunc("GET /api/jobs", jobsHandler.ListJobs)
		mux.HandleFunc("GET /api/jobs/{id}", jobsHandler.GetJob)
	}

	return middleware.Chain(d.Log, mux)
}
