// Package pipeline orchestrates the resolution of an upload: structure
// detection, extraction, pre-check matching, batch categorization and the
// final reconciliation pass.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/spesalog/spesalog/internal/agent"
	"github.com/spesalog/spesalog/internal/batch"
	"github.com/spesalog/spesalog/internal/domain"
	"github.com/spesalog/spesalog/internal/logger"
	"github.com/spesalog/spesalog/internal/match"
	"github.com/spesalog/spesalog/internal/store"
	"github.com/spesalog/spesalog/internal/structure"
)

// Config holds the orchestration tunables.
type Config struct {
	Batch batch.Bounds
	// StuckGracePeriod bounds how long a dead owner blocks a claim.
	StuckGracePeriod time.Duration
}

// Processor runs the whole resolution flow for one upload at a time.
// Every dependency is injected; the processor holds no global state.
type Processor struct {
	store    store.Store
	matcher  *match.Matcher
	model    agent.Categorizer
	detector *structure.Detector
	cfg      Config

	// owner identifies this process in the upload claim protocol.
	owner string
}

// New builds a processor with a fresh owner identity.
func New(s store.Store, matcher *match.Matcher, model agent.Categorizer, detector *structure.Detector, cfg Config) *Processor {
	return &Processor{
		store:    s,
		matcher:  matcher,
		model:    model,
		detector: detector,
		cfg:      cfg,
		owner:    uuid.New().String(),
	}
}

// ProcessUpload resolves every row of the upload and returns a summary.
// It is safe to call again after a crash: only rows not yet resolved are
// resubmitted, and a finished upload is a no-op.
func (p *Processor) ProcessUpload(ctx context.Context, uploadID string) (domain.UploadResult, error) {
	log := logger.FromContext(ctx).With().Str("upload_id", uploadID).Logger()
	ctx = logger.WithContext(ctx, log)

	upload, err := p.store.ClaimUpload(ctx, uploadID, p.owner, p.cfg.StuckGracePeriod)
	if err != nil {
		if errors.Is(err, store.ErrUploadLocked) {
			if res, ok := p.finishedResult(ctx, uploadID); ok {
				return res, nil
			}
		}
		return domain.UploadResult{}, fmt.Errorf("ProcessUpload: claim: %w", err)
	}

	result, err := p.run(ctx, upload, log)
	if err != nil {
		log.Error().Err(err).Msg("upload failed")
		_ = p.store.ReleaseUpload(ctx, uploadID, p.owner, domain.UploadStatusFailed, err.Error())
		return result, fmt.Errorf("ProcessUpload: %w", err)
	}

	if err := p.store.ReleaseUpload(ctx, uploadID, p.owner, domain.UploadStatusCompleted, ""); err != nil {
		return result, fmt.Errorf("ProcessUpload: release: %w", err)
	}
	log.Info().
		Int("total", result.TotalRows).
		Int("categorized", result.CategorizedCount).
		Int("uncategorized", result.UncategorizedCount).
		Ints("failed_batches", result.FailedBatchIndices).
		Msg("upload completed")
	return result, nil
}

// finishedResult builds a summary for an upload that already completed,
// making a re-run a no-op instead of an error.
func (p *Processor) finishedResult(ctx context.Context, uploadID string) (domain.UploadResult, bool) {
	upload, err := p.store.GetUpload(ctx, uploadID)
	if err != nil || upload.Status != domain.UploadStatusCompleted {
		return domain.UploadResult{}, false
	}
	progress, err := p.store.CountByUploadStatus(ctx, uploadID)
	if err != nil {
		return domain.UploadResult{}, false
	}
	return domain.UploadResult{
		UploadID:           uploadID,
		TotalRows:          progress.Total,
		CategorizedCount:   progress.Categorized,
		UncategorizedCount: progress.Uncategorized,
	}, true
}

func (p *Processor) run(ctx context.Context, upload *domain.Upload, log zerolog.Logger) (domain.UploadResult, error) {
	result := domain.UploadResult{UploadID: upload.ID}
	var usage agent.TokenUsage

	rows, err := p.store.ListByUpload(ctx, upload.ID)
	if err != nil {
		return result, fmt.Errorf("list rows: %w", err)
	}
	result.TotalRows = len(rows)
	if len(rows) == 0 {
		return result, nil
	}

	if err := p.seedDefaultCategories(ctx, upload.UserID); err != nil {
		return result, err
	}

	// Only rows not already resolved are (re)processed; a resume after a
	// crash picks up exactly the leftovers.
	var open []*domain.Transaction
	for _, t := range rows {
		if t.Status == domain.StatusPending || t.Status == domain.StatusProcessing {
			open = append(open, t)
		}
	}
	if len(open) == 0 {
		progress, err := p.store.CountByUploadStatus(ctx, upload.ID)
		if err != nil {
			return result, fmt.Errorf("count statuses: %w", err)
		}
		result.CategorizedCount = progress.Categorized
		result.UncategorizedCount = progress.Uncategorized
		return result, nil
	}

	fileStructure, structUsage, err := p.resolveStructure(ctx, open)
	if err != nil {
		return result, err
	}
	usage.Input += structUsage.Input
	usage.Output += structUsage.Output
	if upload.StructureHash == "" && fileStructure != nil {
		upload.StructureHash = fileStructure.Hash
	}

	for _, t := range open {
		t.Status = domain.StatusProcessing
	}
	if err := p.store.BulkUpdateTransactions(ctx, open); err != nil {
		return result, fmt.Errorf("mark processing: %w", err)
	}

	candidates := p.extractPass(ctx, open, fileStructure)

	batchUsage, failed, err := p.categorizeBatches(ctx, upload.UserID, candidates)
	if err != nil {
		return result, err
	}
	usage.Input += batchUsage.Input
	usage.Output += batchUsage.Output
	result.FailedBatchIndices = failed

	if err := p.finalize(ctx, upload, fileStructure); err != nil {
		return result, fmt.Errorf("finalize: %w", err)
	}

	upload.TokensInput += usage.Input
	upload.TokensOutput += usage.Output
	if err := p.store.UpdateUpload(ctx, upload); err != nil {
		return result, fmt.Errorf("update upload: %w", err)
	}

	progress, err := p.store.CountByUploadStatus(ctx, upload.ID)
	if err != nil {
		return result, fmt.Errorf("count statuses: %w", err)
	}
	result.CategorizedCount = progress.Categorized
	result.UncategorizedCount = progress.Uncategorized
	return result, nil
}

// resolveStructure runs the detector over the open rows' raw data.
func (p *Processor) resolveStructure(ctx context.Context, open []*domain.Transaction) (*domain.FileStructure, agent.TokenUsage, error) {
	var raw []domain.RawRow
	for _, t := range open {
		if t.RawData.Len() > 0 {
			raw = append(raw, t.RawData)
		}
	}
	if len(raw) == 0 {
		return nil, agent.TokenUsage{}, nil
	}
	columns := raw[0].Columns()
	s, usage, err := p.detector.Resolve(ctx, raw, columns)
	if err != nil {
		return nil, usage, fmt.Errorf("resolve structure: %w", err)
	}
	return s, usage, nil
}

func (p *Processor) seedDefaultCategories(ctx context.Context, userID string) error {
	existing, err := p.store.ListCategories(ctx, userID)
	if err != nil {
		return fmt.Errorf("seedDefaultCategories: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}
	for _, name := range domain.DefaultCategories {
		if _, _, err := p.store.GetOrCreateCategory(ctx, userID, name); err != nil {
			return fmt.Errorf("seedDefaultCategories: %w", err)
		}
	}
	return nil
}

// Progress reports per-status counts for a polling surface.
func (p *Processor) Progress(ctx context.Context, uploadID string) (domain.Progress, error) {
	return p.store.CountByUploadStatus(ctx, uploadID)
}
