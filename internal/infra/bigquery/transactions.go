package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"google.golang.org/api/iterator"

	"github.com/spesalog/spesalog/internal/domain"
	"github.com/spesalog/spesalog/internal/store"
)

const txColumns = `
	transaction_id, user_id, upload_id,
	merchant_id, merchant_raw_name, category_id,
	amount, original_amount,
	transaction_date, original_date,
	description, normalized_description,
	status, transaction_type, failure_code, modified_by_user,
	raw_data, created_ts, updated_ts`

// CreateTransactions inserts rows with DML so they are immediately
// updatable, in chunks to stay under the parameter size limit.
func (s *Store) CreateTransactions(ctx context.Context, txs []*domain.Transaction) error {
	const chunkSize = 500
	for start := 0; start < len(txs); start += chunkSize {
		end := start + chunkSize
		if end > len(txs) {
			end = len(txs)
		}
		rows := make([]TransactionRow, 0, end-start)
		for _, t := range txs[start:end] {
			if t.CreatedAt.IsZero() {
				t.CreatedAt = time.Now().UTC()
			}
			t.UpdatedAt = t.CreatedAt
			r, err := toTransactionRow(t)
			if err != nil {
				return fmt.Errorf("CreateTransactions: %w", err)
			}
			rows = append(rows, *r)
		}
		query := fmt.Sprintf(`
			INSERT INTO %s (%s)
			SELECT
				r.transaction_id, r.user_id, r.upload_id,
				r.merchant_id, r.merchant_raw_name, r.category_id,
				r.amount, r.original_amount,
				r.transaction_date, r.original_date,
				r.description, r.normalized_description,
				r.status, r.transaction_type, r.failure_code, r.modified_by_user,
				r.raw_data, r.created_ts, r.updated_ts
			FROM UNNEST(@rows) r
		`, s.table(transactionsTable), txColumns)
		if _, err := s.runDML(ctx, query, []bigquery.QueryParameter{
			{Name: "rows", Value: rows},
		}); err != nil {
			return fmt.Errorf("CreateTransactions: %w", err)
		}
	}
	return nil
}

func (s *Store) GetTransaction(ctx context.Context, userID, id string) (*domain.Transaction, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE transaction_id = @id LIMIT 1`,
		txColumns, s.table(transactionsTable))
	txs, err := s.queryTransactions(ctx, query, []bigquery.QueryParameter{
		{Name: "id", Value: id},
	})
	if err != nil {
		return nil, fmt.Errorf("GetTransaction: %w", err)
	}
	if len(txs) == 0 {
		return nil, store.ErrNotFound
	}
	if txs[0].UserID != userID {
		return nil, store.ErrNotOwned
	}
	return txs[0], nil
}

func (s *Store) UpdateTransaction(ctx context.Context, t *domain.Transaction) error {
	r, err := toTransactionRow(t)
	if err != nil {
		return fmt.Errorf("UpdateTransaction: %w", err)
	}
	query := fmt.Sprintf(`
		UPDATE %s SET
			merchant_id = @merchant_id,
			merchant_raw_name = @merchant_raw_name,
			category_id = @category_id,
			amount = @amount,
			original_amount = @original_amount,
			transaction_date = @transaction_date,
			original_date = @original_date,
			description = @description,
			normalized_description = @normalized_description,
			status = @status,
			transaction_type = @transaction_type,
			failure_code = @failure_code,
			modified_by_user = @modified_by_user,
			updated_ts = CURRENT_TIMESTAMP()
		WHERE transaction_id = @id AND user_id = @user_id
	`, s.table(transactionsTable))
	affected, err := s.runDML(ctx, query, []bigquery.QueryParameter{
		{Name: "id", Value: t.ID},
		{Name: "user_id", Value: t.UserID},
		{Name: "merchant_id", Value: r.MerchantID},
		{Name: "merchant_raw_name", Value: r.MerchantRawName},
		{Name: "category_id", Value: r.CategoryID},
		{Name: "amount", Value: r.Amount},
		{Name: "original_amount", Value: r.OriginalAmount},
		{Name: "transaction_date", Value: r.TransactionDate},
		{Name: "original_date", Value: r.OriginalDate},
		{Name: "description", Value: r.Description},
		{Name: "normalized_description", Value: r.NormalizedDescription},
		{Name: "status", Value: r.Status},
		{Name: "transaction_type", Value: r.TransactionType},
		{Name: "failure_code", Value: r.FailureCode},
		{Name: "modified_by_user", Value: r.ModifiedByUser},
	})
	if err != nil {
		return fmt.Errorf("UpdateTransaction: %w", err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) BulkUpdateTransactions(ctx context.Context, txs []*domain.Transaction) error {
	for _, t := range txs {
		if err := s.UpdateTransaction(ctx, t); err != nil {
			return fmt.Errorf("BulkUpdateTransactions: %s: %w", t.ID, err)
		}
	}
	return nil
}

func (s *Store) ListByUpload(ctx context.Context, uploadID string) ([]*domain.Transaction, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE upload_id = @upload_id ORDER BY created_ts`,
		txColumns, s.table(transactionsTable))
	txs, err := s.queryTransactions(ctx, query, []bigquery.QueryParameter{
		{Name: "upload_id", Value: uploadID},
	})
	if err != nil {
		return nil, fmt.Errorf("ListByUpload: %w", err)
	}
	return txs, nil
}

func (s *Store) ListCategorized(ctx context.Context, userID string, limit int) ([]*domain.Transaction, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE user_id = @user_id AND status = 'categorized'
		ORDER BY transaction_date DESC, created_ts DESC
	`, txColumns, s.table(transactionsTable))
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	txs, err := s.queryTransactions(ctx, query, []bigquery.QueryParameter{
		{Name: "user_id", Value: userID},
	})
	if err != nil {
		return nil, fmt.Errorf("ListCategorized: %w", err)
	}
	return txs, nil
}

func (s *Store) FindDuplicate(ctx context.Context, userID, normalizedDescription string, date time.Time) (*domain.Transaction, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE user_id = @user_id
		  AND normalized_description = @description
		  AND transaction_date = @date
		  AND status = 'categorized'
		LIMIT 1
	`, txColumns, s.table(transactionsTable))
	txs, err := s.queryTransactions(ctx, query, []bigquery.QueryParameter{
		{Name: "user_id", Value: userID},
		{Name: "description", Value: normalizedDescription},
		{Name: "date", Value: civil.DateOf(date)},
	})
	if err != nil {
		return nil, fmt.Errorf("FindDuplicate: %w", err)
	}
	if len(txs) == 0 {
		return nil, store.ErrNotFound
	}
	return txs[0], nil
}

func (s *Store) CountByUploadStatus(ctx context.Context, uploadID string) (domain.Progress, error) {
	query := fmt.Sprintf(`
		SELECT status, COUNT(*) AS n FROM %s
		WHERE upload_id = @upload_id
		GROUP BY status
	`, s.table(transactionsTable))
	q := s.client.Query(query)
	q.Parameters = []bigquery.QueryParameter{{Name: "upload_id", Value: uploadID}}

	it, err := q.Read(ctx)
	if err != nil {
		return domain.Progress{}, fmt.Errorf("CountByUploadStatus: query read: %w", err)
	}
	var progress domain.Progress
	for {
		var r struct {
			Status string `bigquery:"status"`
			N      int64  `bigquery:"n"`
		}
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return domain.Progress{}, fmt.Errorf("CountByUploadStatus: iter next: %w", err)
		}
		n := int(r.N)
		progress.Total += n
		switch domain.TransactionStatus(r.Status) {
		case domain.StatusPending:
			progress.Pending = n
		case domain.StatusProcessing:
			progress.Processing = n
		case domain.StatusCategorized:
			progress.Categorized = n
		case domain.StatusUncategorized:
			progress.Uncategorized = n
		}
	}
	return progress, nil
}

func (s *Store) queryTransactions(ctx context.Context, query string, params []bigquery.QueryParameter) ([]*domain.Transaction, error) {
	q := s.client.Query(query)
	q.Parameters = params

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("query read: %w", err)
	}
	var txs []*domain.Transaction
	for {
		var r TransactionRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iter next: %w", err)
		}
		t, err := r.Domain()
		if err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	return txs, nil
}
