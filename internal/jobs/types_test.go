package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dvloznov/expense-ledger/internal/pipeline"
)

type MockImporter struct {
	ImportFunc func(ctx context.Context, req pipeline.Request) (*pipeline.Report, error)
}

func (m *MockImporter) Import(ctx context.Context, req pipeline.Request) (*pipeline.Report, error) {
	return m.ImportFunc(ctx, req)
}

func TestImportHandler(t *testing.T) {
	importer := &MockImporter{ImportFunc: func(ctx context.Context, req pipeline.Request) (*pipeline.Report, error) {
		if req.Source == "bad.csv" {
			return nil, pipeline.ErrProcessingFailed
		}
		return &pipeline.Report{AcceptedCount: 3}, nil
	}}
	handler := ImportHandler(importer)

	job := &ImportJob{Request: pipeline.Request{Source: "good.csv"}}
	require.NoError(t, handler(context.Background(), job))
	require.Equal(t, 3, job.Report.AcceptedCount)

	bad := &ImportJob{Request: pipeline.Request{Source: "bad.csv"}}
	err := handler(context.Background(), bad)
	require.True(t, errors.Is(err, pipeline.ErrProcessingFailed))
	require.Nil(t, bad.Report)
}

func TestImportJob_Job(t *testing.T) {
	var j Job = &ImportJob{JobID: "x", Status: JobStatusRunning}
	require.Equal(t, "x", j.GetID())
	require.Equal(t, JobTypeImport, j.GetType())
	require.Equal(t, JobStatusRunning, j.GetStatus())
}
