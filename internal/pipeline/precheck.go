package pipeline

import (
	"context"
	"fmt"

	"github.com/spesalog/spesalog/internal/domain"
	"github.com/spesalog/spesalog/internal/logger"
	"github.com/spesalog/spesalog/internal/match"
	"github.com/spesalog/spesalog/internal/parse"
)

// unresolvedRow couples an open transaction with its extraction result and
// any semantic context hints gathered during the pre-check.
type unresolvedRow struct {
	txn    *domain.Transaction
	parsed parse.ParsedTransaction
	hints  []*domain.Transaction
}

// extractPass runs the extractors over every open row. Income rows are
// routed out of expense categorization immediately; everything else
// becomes a candidate for the per-batch pre-check and model pass.
func (p *Processor) extractPass(ctx context.Context, open []*domain.Transaction, fileStructure *domain.FileStructure) []unresolvedRow {
	log := logger.FromContext(ctx)

	var candidates []unresolvedRow
	for _, t := range open {
		parsed := parse.Extract(t.RawData, fileStructure)
		applyParsed(t, parsed)

		if parsed.Type == domain.TypeIncome {
			t.TransactionType = domain.TypeIncome
			t.Status = domain.StatusUncategorized
			if err := p.store.UpdateTransaction(ctx, t); err != nil {
				log.Warn().Err(err).Str("transaction_id", t.ID).Msg("extract: persist income row")
			}
			continue
		}
		candidates = append(candidates, unresolvedRow{txn: t, parsed: parsed})
	}
	return candidates
}

// precheckRow tries the similarity matcher for one row. It runs just
// before the row's batch is submitted, so merchants resolved by earlier
// batches of the same upload are already in the store. Reports whether
// the row was resolved.
func (p *Processor) precheckRow(ctx context.Context, userID string, row *unresolvedRow) (bool, error) {
	// Rows without amount and date carry too little signal for a
	// deterministic match; the model sees them with their raw fields.
	if !row.parsed.IsValid() {
		return false, nil
	}

	res, err := p.matcher.FindReference(ctx, userID, match.Candidate{
		MerchantHint: row.parsed.MerchantHint,
		Description:  row.parsed.Description,
	})
	if err != nil {
		return false, fmt.Errorf("precheckRow: %w", err)
	}
	if res.Reference != nil {
		p.copyReference(ctx, row.txn, res.Reference)
		return true, nil
	}
	row.hints = res.Context
	return false, nil
}

// applyParsed writes the extraction result onto the transaction.
func applyParsed(t *domain.Transaction, parsed parse.ParsedTransaction) {
	if !parsed.Amount.IsZero() || parsed.OriginalAmount != "" {
		t.Amount = parsed.Amount
		t.OriginalAmount = parsed.OriginalAmount
	}
	if !parsed.Date.IsZero() {
		t.TransactionDate = parsed.Date
		t.OriginalDate = parsed.OriginalDate
	}
	if parsed.Description != "" {
		t.Description = parsed.Description
		t.NormalizedDescription = domain.NormalizeDescription(parsed.Description)
	}
	if parsed.MerchantHint != "" {
		t.MerchantRawName = parsed.MerchantHint
	}
	t.TransactionType = parsed.Type
}

// copyReference resolves a row from a matched prior transaction.
func (p *Processor) copyReference(ctx context.Context, t *domain.Transaction, ref *domain.Transaction) {
	t.MerchantID = ref.MerchantID
	if t.MerchantRawName == "" {
		t.MerchantRawName = ref.MerchantRawName
	}
	t.CategoryID = ref.CategoryID
	p.markResolved(ctx, t)
}

// markResolved finalizes a row as categorized unless an identical
// categorized row already exists for the user.
func (p *Processor) markResolved(ctx context.Context, t *domain.Transaction) {
	log := logger.FromContext(ctx)

	if t.ModifiedByUser {
		return
	}
	if dup, err := p.store.FindDuplicate(ctx, t.UserID, t.NormalizedDescription, t.TransactionDate); err == nil && dup.ID != t.ID {
		log.Warn().
			Str("transaction_id", t.ID).
			Str("duplicate_of", dup.ID).
			Msg("duplicate row discarded")
		t.Status = domain.StatusUncategorized
		t.FailureCode = "duplicate"
	} else {
		t.Status = domain.StatusCategorized
		t.FailureCode = ""
	}
	if err := p.store.UpdateTransaction(ctx, t); err != nil {
		log.Warn().Err(err).Str("transaction_id", t.ID).Msg("persist resolved row")
	}
}
