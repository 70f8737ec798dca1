// Package bigquery stores the ledger in a BigQuery dataset. Batches are
// committed with a single load job, which BigQuery applies atomically.
package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"

	"github.com/dvloznov/expense-ledger/internal/store"
)

// Repository is the BigQuery implementation of store.Repository. It holds a
// shared client so operations do not open a connection each.
//
// BigQuery has no unique constraints: key uniqueness among live records is
// checked by queries before writes, which leaves a window for concurrent
// writers.
type Repository struct {
	client    *bigquery.Client
	projectID string
	datasetID string
}

// NewRepository creates a repository with its own client.
func NewRepository(ctx context.Context, projectID, datasetID string) (*Repository, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewRepository: creating client: %w", err)
	}
	return NewRepositoryWithClient(client, projectID, datasetID), nil
}

// NewRepositoryWithClient creates a repository over an existing client.
func NewRepositoryWithClient(client *bigquery.Client, projectID, datasetID string) *Repository {
	return &Repository{client: client, projectID: projectID, datasetID: datasetID}
}

// Close closes the BigQuery client connection.
func (r *Repository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// Client exposes the underlying client, e.g. for migrations.
func (r *Repository) Client() *bigquery.Client { return r.client }

func (r *Repository) tableRef() string {
	return fmt.Sprintf("`%s.%s.%s`", r.projectID, r.datasetID, transactionsTable)
}

func (r *Repository) table() *bigquery.Table {
	return r.client.DatasetInProject(r.projectID, r.datasetID).Table(transactionsTable)
}

var _ store.Repository = (*Repository)(nil)
