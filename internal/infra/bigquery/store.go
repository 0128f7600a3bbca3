package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"

	"github.com/spesalog/spesalog/internal/store"
)

// Store implements store.Store on a BigQuery dataset. The client is
// injected so callers control credentials and lifecycle.
type Store struct {
	client  *bigquery.Client
	dataset string
}

// New wraps an existing client. dataset is the unqualified dataset name
// in the client's project.
func New(client *bigquery.Client, dataset string) *Store {
	return &Store{client: client, dataset: dataset}
}

func (s *Store) table(name string) string {
	return s.dataset + "." + name
}

// runDML executes one DML statement and returns the number of affected
// rows.
func (s *Store) runDML(ctx context.Context, query string, params []bigquery.QueryParameter) (int64, error) {
	q := s.client.Query(query)
	q.Parameters = params
	job, err := q.Run(ctx)
	if err != nil {
		return 0, fmt.Errorf("run dml: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return 0, fmt.Errorf("wait dml: %w", err)
	}
	if err := status.Err(); err != nil {
		return 0, fmt.Errorf("dml failed: %w", err)
	}
	if stats, ok := status.Statistics.Details.(*bigquery.QueryStatistics); ok {
		return stats.NumDMLAffectedRows, nil
	}
	return 0, nil
}

// RunInTransaction executes fn directly. Every DML statement here is
// atomic on its own and the reconciliation pass that uses this hook is
// idempotent, so a partial run is safe to repeat.
func (s *Store) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

var _ store.Store = (*Store)(nil)
