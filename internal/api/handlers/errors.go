// Package handlers implements the HTTP endpoints of the ledger API.
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/dvloznov/expense-ledger/internal/api/middleware"
	"github.com/dvloznov/expense-ledger/internal/jobs"
	"github.com/dvloznov/expense-ledger/internal/ledger"
	"github.com/dvloznov/expense-ledger/internal/logger"
	"github.com/dvloznov/expense-ledger/internal/pipeline"
	"github.com/dvloznov/expense-ledger/internal/store"
)

// statusFor maps service errors to HTTP status codes. A failed import is
// always a server fault, whatever caused it underneath.
func statusFor(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrProcessingFailed):
		return http.StatusInternalServerError
	case errors.Is(err, ledger.ErrInvalid), errors.Is(err, ledger.ErrAlreadyDeleted):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrSoftDeleted):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound), errors.Is(err, ledger.ErrNotDeleted),
		errors.Is(err, ledger.ErrNothingToExport), errors.Is(err, jobs.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrDuplicateKey):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// writeServiceError answers with the status for err. Client errors echo the
// error text; server faults are logged and answered generically.
func writeServiceError(w http.ResponseWriter, r *http.Request, log zerolog.Logger, err error, msg string) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		reqLog := logger.FromContext(r.Context())
		reqLog.Error().Err(err).Str("path", r.URL.Path).Msg(msg)
		middleware.WriteError(w, status, msg)
		return
	}
	log.Debug().Err(err).Int("status", status).Msg(msg)
	middleware.WriteError(w, status, err.Error())
}

// queryInt parses an optional integer query parameter; bad values read as 0.
func queryInt(r *http.Request, name string) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}
