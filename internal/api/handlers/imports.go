package handlers

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dvloznov/expense-ledger/internal/api/middleware"
	"github.com/dvloznov/expense-ledger/internal/jobs"
	"github.com/dvloznov/expense-ledger/internal/ledger"
	"github.com/dvloznov/expense-ledger/internal/pipeline"
	"github.com/dvloznov/expense-ledger/internal/upload"
)

// DefaultMaxUploadBytes caps an upload when no limit is configured.
const DefaultMaxUploadBytes = 10 << 20

// ImportsHandler handles bulk import uploads.
type ImportsHandler struct {
	svc       *ledger.Service
	publisher jobs.Publisher
	decoder   *upload.Decoder
	maxBytes  int64
	log       zerolog.Logger
}

// NewImportsHandler creates a new imports handler. publisher may be nil, in
// which case async imports are refused.
func NewImportsHandler(svc *ledger.Service, publisher jobs.Publisher, decoder *upload.Decoder, maxBytes int64, log zerolog.Logger) *ImportsHandler {
	if decoder == nil {
		decoder = upload.NewDecoder(upload.DefaultHeaders())
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	return &ImportsHandler{
		svc:       svc,
		publisher: publisher,
		decoder:   decoder,
		maxBytes:  maxBytes,
		log:       log,
	}
}

// ImportTransactions handles POST /api/transactions/import
//
// The body is either multipart/form-data with a "file" field (CSV, XLSX or
// JSON) or an application/json document {"rows": [...]}. With ?async=true
// the import is queued and the response is 202 with the job ID.
func (h *ImportsHandler) ImportTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)

	name, data, contentType, err := h.readUpload(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			middleware.WriteError(w, http.StatusRequestEntityTooLarge, "Upload exceeds the size limit")
			return
		}
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	rows, err := h.decoder.Decode(name, contentType, bytes.NewReader(data))
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	req := pipeline.Request{Source: name, Upload: data, Rows: rows}

	if r.URL.Query().Get("async") == "true" {
		if h.publisher == nil {
			middleware.WriteError(w, http.StatusBadRequest, "Async import is not enabled")
			return
		}

		job := &jobs.ImportJob{Request: req}
		if err := h.publisher.PublishImport(ctx, job); err != nil {
			h.log.Error().Err(err).Msg("Failed to enqueue import job")
			middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue import job")
			return
		}

		h.log.Info().Str("job_id", job.JobID).Str("source", name).Int("rows", len(rows)).Msg("Import job enqueued")

		middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
			"job_id": job.JobID,
			"status": string(job.Status),
		})
		return
	}

	report, err := h.svc.Import(ctx, req)
	if err != nil {
		writeServiceError(w, r, h.log, err, "Import processing failed")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, report)
}

// readUpload returns the upload's file name, raw bytes and content type.
func (h *ImportsHandler) readUpload(r *http.Request) (string, []byte, string, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(h.maxBytes); err != nil {
			return "", nil, "", err
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			return "", nil, "", errors.New("multipart field \"file\" is required")
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			return "", nil, "", err
		}
		name := filepath.Base(strings.ReplaceAll(header.Filename, "\\", "/"))
		return name, data, header.Header.Get("Content-Type"), nil
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		return "", nil, "", err
	}
	name := "upload.json"
	if mediaType != "" && !strings.Contains(mediaType, "json") {
		name = "upload"
	}
	return name, data, mediaType, nil
}
