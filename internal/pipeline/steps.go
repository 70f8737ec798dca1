package pipeline

import (
	"context"
	"fmt"

	"github.com/dvloznov/expense-ledger/internal/domain"
	"github.com/dvloznov/expense-ledger/internal/export"
	"github.com/dvloznov/expense-ledger/internal/logger"
	"github.com/dvloznov/expense-ledger/internal/rates"
)

// PipelineStep represents a single step in the import pipeline.
type PipelineStep interface {
	Execute(ctx context.Context, state *PipelineState) error
}

// PipelineState holds the shared state across all pipeline steps.
type PipelineState struct {
	Source       string
	Upload       []byte
	Rows         []domain.RawRow
	Plan         *Plan
	Existing     domain.KeySet
	Result       *Result
	Persisted    []domain.Transaction
	ArchiveURI   string
	ProcessedCSV string
}

// Persister commits a batch of records all-or-none.
type Persister interface {
	PersistAll(ctx context.Context, txs []domain.Transaction) ([]domain.Transaction, error)
}

// Archiver keeps a copy of the raw upload.
type Archiver interface {
	Archive(ctx context.Context, name string, data []byte) (string, error)
}

// Step 1: ClassifyStep validates rows and drops in-batch duplicates.
type ClassifyStep struct {
	Engine *Engine
}

func (s *ClassifyStep) Execute(ctx context.Context, state *PipelineState) error {
	state.Plan = s.Engine.Classify(state.Rows)
	return nil
}

// Step 2: CheckExistingStep looks the candidate keys up in the store.
type CheckExistingStep struct {
	Checker *ConflictChecker
}

func (s *CheckExistingStep) Execute(ctx context.Context, state *PipelineState) error {
	existing, err := s.Checker.FindExisting(ctx, state.Plan.Keys())
	if err != nil {
		return err
	}
	state.Existing = existing
	return nil
}

// Step 3: ResolveStep converts amounts and finalizes the partition.
type ResolveStep struct {
	Rates rates.Resolver
}

func (s *ResolveStep) Execute(ctx context.Context, state *PipelineState) error {
	res, err := state.Plan.Resolve(ctx, state.Existing, s.Rates)
	if err != nil {
		return err
	}
	state.Result = res
	return nil
}

// Step 4: ArchiveStep stores the raw upload. Archive failures are logged and
// do not fail the import.
type ArchiveStep struct {
	Archiver Archiver
}

func (s *ArchiveStep) Execute(ctx context.Context, state *PipelineState) error {
	if s.Archiver == nil || len(state.Upload) == 0 {
		return nil
	}
	uri, err := s.Archiver.Archive(ctx, state.Source, state.Upload)
	if err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("source", state.Source).Msg("Failed to archive upload")
		return nil
	}
	state.ArchiveURI = uri
	return nil
}

// Step 5: PersistStep commits the accepted records in one batch.
type PersistStep struct {
	Persister Persister
}

func (s *PersistStep) Execute(ctx context.Context, state *PipelineState) error {
	records := state.Result.Records()
	if len(records) == 0 {
		state.Persisted = []domain.Transaction{}
		return nil
	}

	persisted, err := s.Persister.PersistAll(ctx, records)
	if err != nil {
		return fmt.Errorf("%w: %d records: %w", ErrPersistenceFailure, len(records), err)
	}
	state.Persisted = persisted
	return nil
}

// Step 6: RenderStep renders the persisted records as CSV.
type RenderStep struct{}

func (s *RenderStep) Execute(ctx context.Context, state *PipelineState) error {
	out, err := export.CSV(state.Persisted)
	if err != nil {
		return fmt.Errorf("RenderStep: %w", err)
	}
	state.ProcessedCSV = out
	return nil
}

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []PipelineStep
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...PipelineStep) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs all steps in the pipeline sequentially. It stops at the first
// failing step or when ctx is done.
func (p *Pipeline) Execute(ctx context.Context, state *PipelineState) error {
	for i, step := range p.steps {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("pipeline step %d: %w", i+1, err)
		}
		if err := step.Execute(ctx, state); err != nil {
			return fmt.Errorf("pipeline step %d failed: %w", i+1, err)
		}
	}
	return nil
}
