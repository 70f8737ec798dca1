// Package pipeline reconciles bulk uploads against the ledger: it validates
// rows, drops duplicates within the batch and against the store, converts
// amounts into the reference currency and commits the batch atomically.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/expense-ledger/internal/domain"
	"github.com/dvloznov/expense-ledger/internal/logger"
	"github.com/dvloznov/expense-ledger/internal/rates"
)

// Store is what the importer needs from the entity store.
type Store interface {
	ExistenceChecker
	Persister
}

// Options tunes an Importer.
type Options struct {
	// DateLayout is the time layout of upload dates; DefaultDateLayout if empty.
	DateLayout string
	// Archiver, when set, receives a copy of every raw upload.
	Archiver Archiver
}

// Request is one bulk import.
type Request struct {
	// Source names the upload, usually the original file name.
	Source string
	// Upload is the raw file, kept only for archiving.
	Upload []byte
	Rows   []domain.RawRow
}

// Report is the caller-facing outcome of an import.
type Report struct {
	AcceptedCount     int                  `json:"acceptedCount"`
	Records           []domain.Transaction `json:"records"`
	DuplicatesInBatch []domain.RawRow      `json:"duplicatesInBatch"`
	DuplicatesInStore []domain.RawRow      `json:"duplicatesInStore"`
	Rejected          []Rejection          `json:"rejected"`
	Summary           map[string]float64   `json:"summary"`
	ProcessedCSV      string               `json:"processedCsv"`
	ArchiveURI        string               `json:"archiveUri,omitempty"`
}

// Importer runs the import pipeline over an injected store handle.
type Importer struct {
	pipeline *Pipeline
}

// NewImporter wires the import steps.
func NewImporter(store Store, resolver rates.Resolver, opts Options) *Importer {
	engine := NewEngine(NewValidator(opts.DateLayout, resolver))
	return &Importer{
		pipeline: NewPipeline(
			&ClassifyStep{Engine: engine},
			&CheckExistingStep{Checker: NewConflictChecker(store)},
			&ResolveStep{Rates: resolver},
			&ArchiveStep{Archiver: opts.Archiver},
			&PersistStep{Persister: store},
			&RenderStep{},
		),
	}
}

// Import reconciles and commits one batch. Row-level problems are reported
// in the Report; an error means nothing was stored and wraps
// ErrProcessingFailed.
func (im *Importer) Import(ctx context.Context, req Request) (*Report, error) {
	log := logger.FromContext(ctx)
	start := time.Now()

	rows := make([]domain.RawRow, len(req.Rows))
	for i, row := range req.Rows {
		if row.Line == 0 {
			row.Line = i + 1
		}
		rows[i] = row
	}

	state := &PipelineState{Source: req.Source, Upload: req.Upload, Rows: rows}
	if err := im.pipeline.Execute(ctx, state); err != nil {
		log.Error().Err(err).Str("source", req.Source).Int("rows", len(rows)).Msg("Import failed")
		return nil, fmt.Errorf("%w: %w", ErrProcessingFailed, err)
	}

	res := state.Result
	log.Info().
		Str("source", req.Source).
		Int("rows", res.Total).
		Int("accepted", len(res.Accepted)).
		Int("rejected", len(res.Rejected)).
		Int("duplicates_in_batch", len(res.DuplicatesInBatch)).
		Int("duplicates_in_store", len(res.DuplicatesInStore)).
		Dur("duration", time.Since(start)).
		Msg("Import completed")

	return newReport(state), nil
}

func newReport(state *PipelineState) *Report {
	res := state.Result
	r := &Report{
		AcceptedCount:     len(state.Persisted),
		Records:           state.Persisted,
		DuplicatesInBatch: res.DuplicatesInBatch,
		DuplicatesInStore: res.DuplicatesInStore,
		Rejected:          res.Rejected,
		Summary:           res.Summary,
		ProcessedCSV:      state.ProcessedCSV,
		ArchiveURI:        state.ArchiveURI,
	}
	if r.Records == nil {
		r.Records = []domain.Transaction{}
	}
	if r.DuplicatesInBatch == nil {
		r.DuplicatesInBatch = []domain.RawRow{}
	}
	if r.DuplicatesInStore == nil {
		r.DuplicatesInStore = []domain.RawRow{}
	}
	if r.Rejected == nil {
		r.Rejected = []Rejection{}
	}
	return r
}
