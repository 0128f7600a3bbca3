package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/spesalog/spesalog/internal/domain"
	"github.com/spesalog/spesalog/internal/logger"
	"github.com/spesalog/spesalog/internal/match"
	"github.com/spesalog/spesalog/internal/parse"
)

// finalize is the reconciliation pass: every row still open is either
// re-resolved from the now-known structure or finalized as uncategorized,
// and provisional expense rows with income evidence get their type
// corrected. The whole pass commits atomically.
func (p *Processor) finalize(ctx context.Context, upload *domain.Upload, fileStructure *domain.FileStructure) error {
	return p.store.RunInTransaction(ctx, func(ctx context.Context) error {
		rows, err := p.store.ListByUpload(ctx, upload.ID)
		if err != nil {
			return fmt.Errorf("list rows: %w", err)
		}
		for _, t := range rows {
			if t.ModifiedByUser {
				continue
			}
			if t.Status == domain.StatusPending || t.Status == domain.StatusProcessing {
				p.sweepRow(ctx, upload.UserID, t, fileStructure)
			}
			p.correctType(ctx, t, fileStructure)
		}
		return nil
	})
}

// sweepRow gives an open row one last deterministic chance, then settles
// it. Pending is never a terminal state.
func (p *Processor) sweepRow(ctx context.Context, userID string, t *domain.Transaction, fileStructure *domain.FileStructure) {
	log := logger.FromContext(ctx)

	parsed := parse.Extract(t.RawData, fileStructure)
	applyParsed(t, parsed)

	if parsed.Type == domain.TypeIncome {
		t.Status = domain.StatusUncategorized
		if err := p.store.UpdateTransaction(ctx, t); err != nil {
			log.Warn().Err(err).Str("transaction_id", t.ID).Msg("sweep: persist income row")
		}
		return
	}

	if parsed.IsValid() {
		res, err := p.matcher.FindReference(ctx, userID, match.Candidate{
			MerchantHint: parsed.MerchantHint,
			Description:  parsed.Description,
		})
		if err != nil {
			log.Warn().Err(err).Str("transaction_id", t.ID).Msg("sweep: matcher unavailable")
		} else if res.Reference != nil {
			p.copyReference(ctx, t, res.Reference)
			return
		}
	}

	t.Status = domain.StatusUncategorized
	if t.FailureCode == "" {
		t.FailureCode = "unresolved"
	}
	if err := p.store.UpdateTransaction(ctx, t); err != nil {
		log.Warn().Err(err).Str("transaction_id", t.ID).Msg("sweep: persist row")
	}
}

// correctType flips a provisional expense to income when the raw evidence
// contradicts it: a positive raw amount, or an empty expense column next
// to a filled income column. Income rows are not expense-categorized, so
// the row is reset to uncategorized.
func (p *Processor) correctType(ctx context.Context, t *domain.Transaction, fileStructure *domain.FileStructure) {
	if t.TransactionType != domain.TypeExpense {
		return
	}

	positive := t.Amount.IsPositive()
	incomeColumnOnly := false
	if fileStructure != nil && fileStructure.ExpenseAmountColumn != "" && fileStructure.IncomeAmountColumn != "" {
		expenseValue := strings.TrimSpace(t.RawData.Value(fileStructure.ExpenseAmountColumn))
		incomeValue := strings.TrimSpace(t.RawData.Value(fileStructure.IncomeAmountColumn))
		incomeColumnOnly = expenseValue == "" && incomeValue != ""
	}
	if !positive && !incomeColumnOnly {
		return
	}

	log := logger.FromContext(ctx)
	t.TransactionType = domain.TypeIncome
	t.Status = domain.StatusUncategorized
	t.CategoryID = ""
	if err := p.store.UpdateTransaction(ctx, t); err != nil {
		log.Warn().Err(err).Str("transaction_id", t.ID).Msg("persist type correction")
	}
}
