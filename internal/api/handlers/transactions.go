package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/expense-ledger/internal/api/middleware"
	"github.com/dvloznov/expense-ledger/internal/ledger"
)

// TransactionsHandler handles single-record and batch transaction endpoints.
type TransactionsHandler struct {
	svc *ledger.Service
	log zerolog.Logger
}

// NewTransactionsHandler creates a new transactions handler.
func NewTransactionsHandler(svc *ledger.Service, log zerolog.Logger) *TransactionsHandler {
	return &TransactionsHandler{
		svc: svc,
		log: log,
	}
}

type batchFunc func(ctx context.Context, ids []string) (int, error)

type idsRequest struct {
	IDs []string `json:"ids"`
}

// CreateTransaction handles POST /api/transactions
func (h *TransactionsHandler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req ledger.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	tx, err := h.svc.Create(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, h.log, err, "Failed to create transaction")
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, tx)
}

// ListTransactions handles GET /api/transactions
func (h *TransactionsHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	page, err := h.svc.List(r.Context(), queryInt(r, "page"), queryInt(r, "limit"))
	if err != nil {
		writeServiceError(w, r, h.log, err, "Failed to list transactions")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, page)
}

// ListDeletedTransactions handles GET /api/transactions/deleted
func (h *TransactionsHandler) ListDeletedTransactions(w http.ResponseWriter, r *http.Request) {
	page, err := h.svc.ListDeleted(r.Context(), queryInt(r, "page"), queryInt(r, "limit"))
	if err != nil {
		writeServiceError(w, r, h.log, err, "Failed to list deleted transactions")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, page)
}

// SearchTransactions handles GET /api/transactions/search
func (h *TransactionsHandler) SearchTransactions(w http.ResponseWriter, r *http.Request) {
	page, err := h.svc.Search(r.Context(), r.URL.Query().Get("query"), queryInt(r, "page"), queryInt(r, "limit"))
	if err != nil {
		writeServiceError(w, r, h.log, err, "Failed to search transactions")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, page)
}

// ExportTransactions handles GET /api/transactions/export
func (h *TransactionsHandler) ExportTransactions(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = ledger.FormatCSV
	}

	contentType := "text/csv"
	if format == ledger.FormatXLSX {
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}

	// Render into a buffer so a failure can still produce a JSON error.
	var buf bytes.Buffer
	if err := h.svc.Export(r.Context(), format, &buf); err != nil {
		writeServiceError(w, r, h.log, err, "Failed to export transactions")
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", ledger.ExportFilename(format, time.Now())))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// UpdateTransaction handles PUT /api/transactions/{id}
func (h *TransactionsHandler) UpdateTransaction(w http.ResponseWriter, r *http.Request) {
	var req ledger.UpdateInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	tx, err := h.svc.Update(r.Context(), r.PathValue("id"), req)
	if err != nil {
		writeServiceError(w, r, h.log, err, "Failed to update transaction")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, tx)
}

// DeleteTransaction handles DELETE /api/transactions/{id}
func (h *TransactionsHandler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.svc.Delete(r.Context(), id); err != nil {
		writeServiceError(w, r, h.log, err, "Failed to delete transaction")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]string{
		"id":     id,
		"status": "deleted",
	})
}

// SoftDeleteTransaction handles DELETE /api/transactions/{id}/soft
func (h *TransactionsHandler) SoftDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.svc.SoftDelete(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.log, err, "Failed to soft-delete transaction")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, tx)
}

// RestoreTransaction handles PUT /api/transactions/{id}/restore
func (h *TransactionsHandler) RestoreTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.svc.Restore(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.log, err, "Failed to restore transaction")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, tx)
}

// BatchSoftDelete handles POST /api/transactions/batch/soft-delete
func (h *TransactionsHandler) BatchSoftDelete(w http.ResponseWriter, r *http.Request) {
	h.batch(w, r, "soft-deleted", h.svc.BatchSoftDelete)
}

// BatchRestore handles POST /api/transactions/batch/restore
func (h *TransactionsHandler) BatchRestore(w http.ResponseWriter, r *http.Request) {
	h.batch(w, r, "restored", h.svc.BatchRestore)
}

// BatchHardDelete handles POST /api/transactions/batch/hard-delete
func (h *TransactionsHandler) BatchHardDelete(w http.ResponseWriter, r *http.Request) {
	h.batch(w, r, "deleted", h.svc.BatchHardDelete)
}

func (h *TransactionsHandler) batch(w http.ResponseWriter, r *http.Request, verb string, fn batchFunc) {
	var req idsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	n, err := fn(r.Context(), req.IDs)
	if err != nil {
		writeServiceError(w, r, h.log, err, "Failed to apply batch operation")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"message": fmt.Sprintf("%d transactions %s", n, verb),
		"count":   n,
	})
}
