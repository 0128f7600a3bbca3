package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spesalog/spesalog/internal/agent"
	"github.com/spesalog/spesalog/internal/batch"
	"github.com/spesalog/spesalog/internal/domain"
	"github.com/spesalog/spesalog/internal/match"
	"github.com/spesalog/spesalog/internal/store"
	"github.com/spesalog/spesalog/internal/store/inmemory"
	"github.com/spesalog/spesalog/internal/structure"
)

// countingModel wraps a Categorizer and counts CategorizeBatch calls.
// failOn makes that call (1-based) fail with ErrBatchFailed.
type countingModel struct {
	agent.Categorizer
	calls  atomic.Int64
	failOn int64
}

func (c *countingModel) CategorizeBatch(ctx context.Context, req agent.BatchRequest) (agent.BatchResult, error) {
	n := c.calls.Add(1)
	if c.failOn != 0 && n == c.failOn {
		return agent.BatchResult{}, fmt.Errorf("%w: injected", agent.ErrBatchFailed)
	}
	return c.Categorizer.CategorizeBatch(ctx, req)
}

func newTestProcessor(s store.Store, model agent.Categorizer, bounds batch.Bounds) *Processor {
	detector := structure.NewDetector(s, model, structure.Config{
		SamplePercent: 0.2,
		SampleFloor:   5,
		DateParseRate: 0.8,
	})
	matcher := match.New(s, nil, nil, match.Config{
		FuzzyThreshold:         0.80,
		MerchantFuzzyThreshold: 0.85,
	})
	return New(s, matcher, model, detector, Config{Batch: bounds})
}

const posExport = "DATA;USCITE;ENTRATE;DESCRIZIONE\n" +
	"01/02/2024;-4,42;;PAGAMENTO POS ESSELUNGA MILANO\n" +
	"02/02/2024;-12,00;;PAGAMENTO POS ESSELUNGA MILANO\n" +
	"03/02/2024;;+1.000,00;BONIFICO STIPENDIO FEBBRAIO\n"

func TestProcessUploadEndToEnd(t *testing.T) {
	ctx := context.Background()
	s := inmemory.New()
	model := &countingModel{Categorizer: agent.NewFake(map[string]string{"ESSELUNGA": "spesa"})}
	// One row per batch so the second POS row is pre-checked against the
	// first one's merchant instead of going back to the model.
	p := newTestProcessor(s, model, batch.Bounds{Size: 1, Min: 1, Max: 1})

	upload, err := p.Ingest(ctx, nil, "user-1", "export.csv", []byte(posExport))
	require.NoError(t, err)

	result, err := p.ProcessUpload(ctx, upload.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, result.TotalRows)
	assert.Equal(t, 2, result.CategorizedCount)
	assert.Equal(t, 1, result.UncategorizedCount)
	assert.Empty(t, result.FailedBatchIndices)
	assert.EqualValues(t, 1, model.calls.Load(), "second POS row must reuse the first one's merchant")

	rows, err := s.ListByUpload(ctx, upload.ID)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	first, second, income := rows[0], rows[1], rows[2]
	assert.Equal(t, domain.StatusCategorized, first.Status)
	assert.Equal(t, domain.StatusCategorized, second.Status)
	assert.NotEmpty(t, first.MerchantID)
	assert.Equal(t, first.MerchantID, second.MerchantID)
	assert.Equal(t, first.CategoryID, second.CategoryID)
	assert.True(t, first.Amount.Equal(decimal.RequireFromString("-4.42")), "got %s", first.Amount)

	categories, err := s.ListCategories(ctx, "user-1")
	require.NoError(t, err)
	var spesa string
	for _, c := range categories {
		if c.Name == "spesa" {
			spesa = c.ID
		}
	}
	assert.Equal(t, spesa, first.CategoryID)

	assert.Equal(t, domain.TypeIncome, income.TransactionType)
	assert.Equal(t, domain.StatusUncategorized, income.Status)
	assert.True(t, income.Amount.Equal(decimal.RequireFromString("1000")), "got %s", income.Amount)

	final, err := s.GetUpload(ctx, upload.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.UploadStatusCompleted, final.Status)
}

func TestProcessUploadFailedBatchIsolation(t *testing.T) {
	ctx := context.Background()
	s := inmemory.New()
	model := &countingModel{Categorizer: agent.NewFake(nil), failOn: 2}
	p := newTestProcessor(s, model, batch.Bounds{Size: 2, Min: 1, Max: 2})

	data := "DATA;USCITE;ENTRATE;DESCRIZIONE\n" +
		"01/02/2024;-4,42;;PAGAMENTO POS ESSELUNGA MILANO\n" +
		"02/02/2024;-9,99;;PRELIEVO ATM VIA ROMA\n" +
		"03/02/2024;-7,50;;ADDEBITO CANONE NETFLIX MENSILE\n" +
		"04/02/2024;-20,00;;RICARICA TELEFONICA WIND TRE\n"

	upload, err := p.Ingest(ctx, nil, "user-1", "export.csv", []byte(data))
	require.NoError(t, err)

	result, err := p.ProcessUpload(ctx, upload.ID)
	require.NoError(t, err, "a failed batch must not fail the upload")
	assert.Equal(t, []int{2}, result.FailedBatchIndices)
	assert.Equal(t, 2, result.CategorizedCount)
	assert.Equal(t, 2, result.UncategorizedCount)

	rows, err := s.ListByUpload(ctx, upload.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCategorized, rows[0].Status)
	assert.Equal(t, domain.StatusCategorized, rows[1].Status)
	for _, r := range rows[2:] {
		assert.Equal(t, domain.StatusUncategorized, r.Status, "rows of the failed batch settle as uncategorized")
	}

	final, err := s.GetUpload(ctx, upload.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.UploadStatusCompleted, final.Status)
}

func TestProcessUploadRerunIsNoOp(t *testing.T) {
	ctx := context.Background()
	s := inmemory.New()
	model := &countingModel{Categorizer: agent.NewFake(nil)}
	p := newTestProcessor(s, model, batch.Bounds{Size: 15, Min: 10, Max: 25})

	upload, err := p.Ingest(ctx, nil, "user-1", "export.csv", []byte(posExport))
	require.NoError(t, err)

	first, err := p.ProcessUpload(ctx, upload.ID)
	require.NoError(t, err)
	calls := model.calls.Load()

	second, err := p.ProcessUpload(ctx, upload.ID)
	require.NoError(t, err)
	assert.Equal(t, first.TotalRows, second.TotalRows)
	assert.Equal(t, first.CategorizedCount, second.CategorizedCount)
	assert.Equal(t, first.UncategorizedCount, second.UncategorizedCount)
	assert.Equal(t, calls, model.calls.Load(), "re-running a completed upload must not hit the model")
}

func TestProcessUploadRespectsUserEdits(t *testing.T) {
	ctx := context.Background()
	s := inmemory.New()
	model := &countingModel{Categorizer: agent.NewFake(map[string]string{"ESSELUNGA": "spesa"})}
	p := newTestProcessor(s, model, batch.Bounds{Size: 15, Min: 10, Max: 25})

	upload, err := p.Ingest(ctx, nil, "user-1", "export.csv", []byte(posExport))
	require.NoError(t, err)

	rows, err := s.ListByUpload(ctx, upload.ID)
	require.NoError(t, err)
	edited := rows[0]
	edited.ModifiedByUser = true
	edited.Status = domain.StatusCategorized
	edited.CategoryID = "user-chosen"
	require.NoError(t, s.UpdateTransaction(ctx, edited))

	_, err = p.ProcessUpload(ctx, upload.ID)
	require.NoError(t, err)

	after, err := s.GetTransaction(ctx, "user-1", edited.ID)
	require.NoError(t, err)
	assert.Equal(t, "user-chosen", after.CategoryID)
	assert.Equal(t, domain.StatusCategorized, after.Status)
	assert.True(t, after.ModifiedByUser)
}

func TestProcessUploadRuleOverridesModel(t *testing.T) {
	ctx := context.Background()
	s := inmemory.New()
	model := &countingModel{Categorizer: agent.NewFake(map[string]string{"ESSELUNGA": "spesa"})}
	p := newTestProcessor(s, model, batch.Bounds{Size: 15, Min: 10, Max: 25})

	merchant, _, err := s.GetOrCreateMerchant(ctx, "user-1", "PAGAMENTO POS ESSELUNGA MILANO")
	require.NoError(t, err)
	casa, _, err := s.GetOrCreateCategory(ctx, "user-1", "casa")
	require.NoError(t, err)
	require.NoError(t, s.CreateRule(ctx, &domain.Rule{
		UserID:     "user-1",
		Text:       "tutto ciò che compro da Esselunga va in casa",
		MerchantID: merchant.ID,
		CategoryID: casa.ID,
		IsActive:   true,
	}))

	data := "DATA;USCITE;ENTRATE;DESCRIZIONE\n" +
		"01/02/2024;-4,42;;PAGAMENTO POS ESSELUNGA MILANO\n"
	upload, err := p.Ingest(ctx, nil, "user-1", "export.csv", []byte(data))
	require.NoError(t, err)

	_, err = p.ProcessUpload(ctx, upload.ID)
	require.NoError(t, err)

	rows, err := s.ListByUpload(ctx, upload.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, domain.StatusCategorized, rows[0].Status)
	assert.Equal(t, casa.ID, rows[0].CategoryID, "merchant-bound rule wins over the model's answer")
}

func TestIngestRejectsDuplicateFile(t *testing.T) {
	ctx := context.Background()
	s := inmemory.New()
	p := newTestProcessor(s, agent.NewFake(nil), batch.Bounds{Size: 15, Min: 10, Max: 25})

	_, err := p.Ingest(ctx, nil, "user-1", "export.csv", []byte(posExport))
	require.NoError(t, err)

	_, err = p.Ingest(ctx, nil, "user-1", "again.csv", []byte(posExport))
	assert.ErrorIs(t, err, store.ErrDuplicate)

	// Another user may upload the same bytes.
	_, err = p.Ingest(ctx, nil, "user-2", "export.csv", []byte(posExport))
	assert.NoError(t, err)
}
