package bigquery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/spesalog/spesalog/internal/domain"
	"github.com/spesalog/spesalog/internal/store"
)

const uploadColumns = `
	upload_id, user_id, filename, checksum, archive_uri, structure_hash,
	status, error, owner, claimed_at, tokens_input, tokens_output,
	created_ts, completed_ts`

// CreateUpload inserts through MERGE keyed on (user, checksum) so a
// re-upload of the same bytes is rejected instead of duplicated.
func (s *Store) CreateUpload(ctx context.Context, u *domain.Upload) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	if u.Status == "" {
		u.Status = domain.UploadStatusPending
	}
	query := fmt.Sprintf(`
		MERGE %s t
		USING (SELECT @user_id AS user_id, @checksum AS checksum) src
		ON t.user_id = src.user_id AND t.checksum = src.checksum
		WHEN NOT MATCHED THEN
		  INSERT (%s)
		  VALUES (@id, @user_id, @filename, @checksum, @archive_uri, @structure_hash,
		          @status, NULL, NULL, NULL, 0, 0, @created_ts, NULL)
	`, s.table(uploadsTable), uploadColumns)
	affected, err := s.runDML(ctx, query, []bigquery.QueryParameter{
		{Name: "id", Value: u.ID},
		{Name: "user_id", Value: u.UserID},
		{Name: "filename", Value: u.Filename},
		{Name: "checksum", Value: u.Checksum},
		{Name: "archive_uri", Value: nullString(u.ArchiveURI)},
		{Name: "structure_hash", Value: nullString(u.StructureHash)},
		{Name: "status", Value: string(u.Status)},
		{Name: "created_ts", Value: u.CreatedAt},
	})
	if err != nil {
		return fmt.Errorf("CreateUpload: %w", err)
	}
	if affected == 0 {
		return store.ErrDuplicate
	}
	return nil
}

func (s *Store) GetUpload(ctx context.Context, id string) (*domain.Upload, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE upload_id = @id LIMIT 1`,
		uploadColumns, s.table(uploadsTable))
	uploads, err := s.queryUploads(ctx, query, []bigquery.QueryParameter{
		{Name: "id", Value: id},
	})
	if err != nil {
		return nil, fmt.Errorf("GetUpload: %w", err)
	}
	if len(uploads) == 0 {
		return nil, store.ErrNotFound
	}
	return uploads[0], nil
}

func (s *Store) UpdateUpload(ctx context.Context, u *domain.Upload) error {
	r := toUploadRow(u)
	query := fmt.Sprintf(`
		UPDATE %s SET
			filename = @filename,
			archive_uri = @archive_uri,
			structure_hash = @structure_hash,
			status = @status,
			error = @error,
			tokens_input = @tokens_input,
			tokens_output = @tokens_output
		WHERE upload_id = @id
	`, s.table(uploadsTable))
	affected, err := s.runDML(ctx, query, []bigquery.QueryParameter{
		{Name: "id", Value: u.ID},
		{Name: "filename", Value: r.Filename},
		{Name: "archive_uri", Value: r.ArchiveURI},
		{Name: "structure_hash", Value: r.StructureHash},
		{Name: "status", Value: r.Status},
		{Name: "error", Value: r.Error},
		{Name: "tokens_input", Value: r.TokensInput},
		{Name: "tokens_output", Value: r.TokensOutput},
	})
	if err != nil {
		return fmt.Errorf("UpdateUpload: %w", err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ClaimUpload is one conditional UPDATE: it succeeds only when the upload
// is open, its current claim (if any) is stale, and no other upload of
// the same user holds a live claim.
func (s *Store) ClaimUpload(ctx context.Context, id, owner string, grace time.Duration) (*domain.Upload, error) {
	table := s.table(uploadsTable)
	query := fmt.Sprintf(`
		UPDATE %s u SET
			status = 'processing',
			owner = @owner,
			claimed_at = CURRENT_TIMESTAMP()
		WHERE u.upload_id = @id
		  AND u.status NOT IN ('completed', 'failed')
		  AND (u.owner IS NULL OR u.owner = '' OR u.claimed_at IS NULL
		       OR u.claimed_at <= TIMESTAMP_SUB(CURRENT_TIMESTAMP(), INTERVAL @grace_seconds SECOND))
		  AND NOT EXISTS (
		    SELECT 1 FROM %s o
		    WHERE o.user_id = u.user_id
		      AND o.upload_id != u.upload_id
		      AND o.status = 'processing'
		      AND o.claimed_at > TIMESTAMP_SUB(CURRENT_TIMESTAMP(), INTERVAL @grace_seconds SECOND)
		  )
	`, table, table)
	affected, err := s.runDML(ctx, query, []bigquery.QueryParameter{
		{Name: "id", Value: id},
		{Name: "owner", Value: owner},
		{Name: "grace_seconds", Value: int64(grace / time.Second)},
	})
	if err != nil {
		return nil, fmt.Errorf("ClaimUpload: %w", err)
	}
	if affected == 0 {
		if _, err := s.GetUpload(ctx, id); errors.Is(err, store.ErrNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, store.ErrUploadLocked
	}
	return s.GetUpload(ctx, id)
}

func (s *Store) ReleaseUpload(ctx context.Context, id, owner string, status domain.UploadStatus, errMsg string) error {
	query := fmt.Sprintf(`
		UPDATE %s SET
			status = @status,
			error = @error,
			owner = NULL,
			completed_ts = IF(@status = 'completed', CURRENT_TIMESTAMP(), completed_ts)
		WHERE upload_id = @id AND owner = @owner
	`, s.table(uploadsTable))
	affected, err := s.runDML(ctx, query, []bigquery.QueryParameter{
		{Name: "id", Value: id},
		{Name: "owner", Value: owner},
		{Name: "status", Value: string(status)},
		{Name: "error", Value: nullString(errMsg)},
	})
	if err != nil {
		return fmt.Errorf("ReleaseUpload: %w", err)
	}
	if affected == 0 {
		return store.ErrNotOwned
	}
	return nil
}

func (s *Store) ListStuckUploads(ctx context.Context, grace time.Duration) ([]*domain.Upload, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE status = 'processing'
		  AND claimed_at <= TIMESTAMP_SUB(CURRENT_TIMESTAMP(), INTERVAL @grace_seconds SECOND)
		ORDER BY claimed_at
	`, uploadColumns, s.table(uploadsTable))
	uploads, err := s.queryUploads(ctx, query, []bigquery.QueryParameter{
		{Name: "grace_seconds", Value: int64(grace / time.Second)},
	})
	if err != nil {
		return nil, fmt.Errorf("ListStuckUploads: %w", err)
	}
	return uploads, nil
}

func (s *Store) queryUploads(ctx context.Context, query string, params []bigquery.QueryParameter) ([]*domain.Upload, error) {
	q := s.client.Query(query)
	q.Parameters = params

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("query read: %w", err)
	}
	var out []*domain.Upload
	for {
		var r UploadRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iter next: %w", err)
		}
		out = append(out, r.Domain())
	}
	return out, nil
}

func (s *Store) GetStructure(ctx context.Context, hash string) (*domain.FileStructure, error) {
	query := fmt.Sprintf(`
		SELECT hash, date_column, description_column, merchant_column,
		       income_amount_column, expense_amount_column, operation_type_column,
		       low_confidence, columns, created_ts, updated_ts
		FROM %s
		WHERE hash = @hash
		LIMIT 1
	`, s.table(structuresTable))
	q := s.client.Query(query)
	q.Parameters = []bigquery.QueryParameter{{Name: "hash", Value: hash}}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("GetStructure: query read: %w", err)
	}
	var r FileStructureRow
	if err := it.Next(&r); err == iterator.Done {
		return nil, store.ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("GetStructure: iter next: %w", err)
	}
	return r.Domain(), nil
}

// SaveStructure has get-or-create semantics on the hash. An existing row
// is only overwritten when it was low-confidence and the new mapping is
// not.
func (s *Store) SaveStructure(ctx context.Context, fs *domain.FileStructure) (*domain.FileStructure, error) {
	query := fmt.Sprintf(`
		MERGE %s t
		USING (SELECT @hash AS hash) src
		ON t.hash = src.hash
		WHEN MATCHED AND t.low_confidence AND NOT @low_confidence THEN
		  UPDATE SET
		    date_column = @date_column,
		    description_column = @description_column,
		    merchant_column = @merchant_column,
		    income_amount_column = @income_amount_column,
		    expense_amount_column = @expense_amount_column,
		    operation_type_column = @operation_type_column,
		    low_confidence = @low_confidence,
		    columns = @columns,
		    updated_ts = CURRENT_TIMESTAMP()
		WHEN NOT MATCHED THEN
		  INSERT (hash, date_column, description_column, merchant_column,
		          income_amount_column, expense_amount_column, operation_type_column,
		          low_confidence, columns, created_ts, updated_ts)
		  VALUES (@hash, @date_column, @description_column, @merchant_column,
		          @income_amount_column, @expense_amount_column, @operation_type_column,
		          @low_confidence, @columns, CURRENT_TIMESTAMP(), CURRENT_TIMESTAMP())
	`, s.table(structuresTable))
	if _, err := s.runDML(ctx, query, []bigquery.QueryParameter{
		{Name: "hash", Value: fs.Hash},
		{Name: "date_column", Value: nullString(fs.DateColumn)},
		{Name: "description_column", Value: nullString(fs.DescriptionColumn)},
		{Name: "merchant_column", Value: nullString(fs.MerchantColumn)},
		{Name: "income_amount_column", Value: nullString(fs.IncomeAmountColumn)},
		{Name: "expense_amount_column", Value: nullString(fs.ExpenseAmountColumn)},
		{Name: "operation_type_column", Value: nullString(fs.OperationTypeColumn)},
		{Name: "low_confidence", Value: fs.LowConfidence},
		{Name: "columns", Value: fs.Columns},
	}); err != nil {
		return nil, fmt.Errorf("SaveStructure: %w", err)
	}
	return s.GetStructure(ctx, fs.Hash)
}
