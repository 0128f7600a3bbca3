package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/spesalog/spesalog/internal/domain"
	"github.com/spesalog/spesalog/internal/gcsarchive"
	"github.com/spesalog/spesalog/internal/ingest"
	"github.com/spesalog/spesalog/internal/logger"
)

// Archiver stores the original upload bytes. Implemented by
// gcsarchive.Archive; nil skips archival.
type Archiver interface {
	Store(ctx context.Context, userID, filename string, data []byte) (string, error)
}

// Ingest registers an uploaded file: checksum dedupe, optional archival,
// row parsing and creation of the pending transactions. It does not start
// resolution; ProcessUpload does.
func (p *Processor) Ingest(ctx context.Context, archiver Archiver, userID, filename string, data []byte) (*domain.Upload, error) {
	log := logger.FromContext(ctx)

	upload := &domain.Upload{
		ID:       uuid.New().String(),
		UserID:   userID,
		Filename: filename,
		Checksum: gcsarchive.Checksum(data),
		Status:   domain.UploadStatusPending,
	}
	if err := p.store.CreateUpload(ctx, upload); err != nil {
		return nil, fmt.Errorf("Ingest: %w", err)
	}

	if archiver != nil {
		uri, err := archiver.Store(ctx, userID, filename, data)
		if err != nil {
			// Archival is best-effort; the rows are already in hand.
			log.Warn().Err(err).Str("upload_id", upload.ID).Msg("archive upload file")
		} else {
			upload.ArchiveURI = uri
			if err := p.store.UpdateUpload(ctx, upload); err != nil {
				return nil, fmt.Errorf("Ingest: %w", err)
			}
		}
	}

	rows, columns, err := ingest.Parse(data, ingest.Options{})
	if err != nil {
		upload.Status = domain.UploadStatusFailed
		upload.Error = err.Error()
		_ = p.store.UpdateUpload(ctx, upload)
		return nil, fmt.Errorf("Ingest: %w", err)
	}
	upload.StructureHash = domain.StructureHash(columns)

	txs := make([]*domain.Transaction, 0, len(rows))
	for _, row := range rows {
		txs = append(txs, &domain.Transaction{
			ID:              uuid.New().String(),
			UserID:          userID,
			UploadID:        upload.ID,
			Status:          domain.StatusPending,
			TransactionType: domain.TypeExpense,
			RawData:         row,
		})
	}
	if err := p.store.CreateTransactions(ctx, txs); err != nil {
		return nil, fmt.Errorf("Ingest: create rows: %w", err)
	}
	if err := p.store.UpdateUpload(ctx, upload); err != nil {
		return nil, fmt.Errorf("Ingest: %w", err)
	}

	log.Info().
		Str("upload_id", upload.ID).
		Int("rows", len(txs)).
		Str("structure_hash", upload.StructureHash).
		Msg("upload ingested")
	return upload, nil
}
