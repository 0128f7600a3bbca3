package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spesalog/spesalog/internal/agent"
	"github.com/spesalog/spesalog/internal/batch"
	"github.com/spesalog/spesalog/internal/domain"
	"github.com/spesalog/spesalog/internal/logger"
	"github.com/spesalog/spesalog/internal/parse"
)

// batchCache carries the merchant/category pairs learned while persisting
// one batch, so a merchant resolved from row N settles row N+k of the same
// batch without further lookups. It is scoped to a single batch and never
// survives it.
type batchCache struct {
	entries map[string]cacheEntry // normalized merchant name
}

type cacheEntry struct {
	merchantID   string
	merchantName string
	categoryID   string
}

func newBatchCache() *batchCache {
	return &batchCache{entries: make(map[string]cacheEntry)}
}

func (c *batchCache) lookup(merchantName string) (cacheEntry, bool) {
	e, ok := c.entries[domain.NormalizeName(merchantName)]
	return e, ok
}

func (c *batchCache) learn(merchantName, merchantID, categoryID string) {
	key := domain.NormalizeName(merchantName)
	if key == "" {
		return
	}
	if _, ok := c.entries[key]; !ok {
		c.entries[key] = cacheEntry{merchantID: merchantID, merchantName: merchantName, categoryID: categoryID}
	}
}

// categorizeBatches partitions the candidates and processes batches
// sequentially. Each batch runs its pre-check right before submission so
// merchants resolved by earlier batches are already matchable. A failed
// batch is recorded and skipped; it never aborts its siblings.
func (p *Processor) categorizeBatches(ctx context.Context, userID string, candidates []unresolvedRow) (agent.TokenUsage, []int, error) {
	log := logger.FromContext(ctx)
	var usage agent.TokenUsage
	var failed []int

	if len(candidates) == 0 {
		return usage, nil, nil
	}

	rules, err := p.store.ListActiveRules(ctx, userID)
	if err != nil {
		return usage, nil, fmt.Errorf("categorizeBatches: list rules: %w", err)
	}
	ruleTexts := make([]string, 0, len(rules))
	for _, r := range rules {
		ruleTexts = append(ruleTexts, r.Text)
	}

	ranges := batch.Split(len(candidates), p.cfg.Batch)
	for i, r := range ranges {
		batchNo := i + 1
		rows := candidates[r[0]:r[1]]
		cache := newBatchCache()

		var pending []*unresolvedRow
		for idx := range rows {
			row := &rows[idx]
			resolved, err := p.precheckRow(ctx, userID, row)
			if err != nil {
				return usage, failed, err
			}
			if resolved {
				cache.learn(row.txn.MerchantRawName, row.txn.MerchantID, row.txn.CategoryID)
				continue
			}
			pending = append(pending, row)
		}
		if len(pending) == 0 {
			continue
		}

		req, err := p.buildBatchRequest(ctx, userID, pending, ruleTexts)
		if err != nil {
			return usage, failed, err
		}
		res, err := p.model.CategorizeBatch(ctx, req)
		usage.Input += res.Usage.Input
		usage.Output += res.Usage.Output
		if err != nil {
			if errors.Is(err, agent.ErrBatchFailed) {
				log.Warn().Err(err).Int("batch", batchNo).Msg("batch failed, continuing with siblings")
				failed = append(failed, batchNo)
				continue
			}
			return usage, failed, fmt.Errorf("categorizeBatches: batch %d: %w", batchNo, err)
		}

		p.persistBatch(ctx, userID, cache, pending, res, rules)
	}
	return usage, failed, nil
}

func (p *Processor) buildBatchRequest(ctx context.Context, userID string, pending []*unresolvedRow, ruleTexts []string) (agent.BatchRequest, error) {
	categories, err := p.store.ListCategories(ctx, userID)
	if err != nil {
		return agent.BatchRequest{}, fmt.Errorf("buildBatchRequest: %w", err)
	}
	names := make([]string, 0, len(categories))
	for _, c := range categories {
		names = append(names, c.Name)
	}

	req := agent.BatchRequest{UserRules: ruleTexts, Categories: names}
	seenHints := make(map[string]bool)
	for _, row := range pending {
		item := agent.BatchItem{
			ID:          row.txn.ID,
			Description: row.parsed.Description,
			Amount:      row.parsed.OriginalAmount,
			Date:        row.parsed.OriginalDate,
		}
		if item.Description == "" {
			// Invalid rows go to the model with their raw fields intact.
			item.Fields = row.txn.RawData.Map()
		}
		req.Items = append(req.Items, item)

		for _, hint := range row.hints {
			if seenHints[hint.ID] {
				continue
			}
			seenHints[hint.ID] = true
			req.Hints = append(req.Hints, agent.ContextHint{
				Description: hint.Description,
				Merchant:    hint.MerchantRawName,
				Category:    p.categoryName(ctx, hint.UserID, hint.CategoryID),
			})
		}
	}
	return req, nil
}

func (p *Processor) categoryName(ctx context.Context, userID, categoryID string) string {
	categories, err := p.store.ListCategories(ctx, userID)
	if err != nil {
		return ""
	}
	for _, c := range categories {
		if c.ID == categoryID {
			return c.Name
		}
	}
	return ""
}

// persistBatch applies one model response. Malformed items are dropped
// with a warning and their rows left open; row-scoped persistence errors
// never abort the batch.
func (p *Processor) persistBatch(ctx context.Context, userID string, cache *batchCache, pending []*unresolvedRow, res agent.BatchResult, rules []*domain.Rule) {
	log := logger.FromContext(ctx)

	byID := make(map[string]*unresolvedRow, len(pending))
	for _, row := range pending {
		byID[row.txn.ID] = row
	}

	for _, name := range res.NewCategories {
		if strings.TrimSpace(name) == "" {
			continue
		}
		if _, _, err := p.store.GetOrCreateCategory(ctx, userID, name); err != nil {
			log.Warn().Err(err).Str("category", name).Msg("create model-suggested category")
		}
	}

	for _, c := range res.Categorizations {
		row, ok := byID[c.TransactionID]
		if !ok {
			log.Warn().Str("transaction_id", c.TransactionID).Msg("model returned unknown transaction id")
			continue
		}
		t := row.txn
		if t.ModifiedByUser {
			continue
		}

		if c.NotExpense {
			t.TransactionType = domain.TypeIncome
			t.Status = domain.StatusUncategorized
			if err := p.store.UpdateTransaction(ctx, t); err != nil {
				log.Warn().Err(err).Str("transaction_id", t.ID).Msg("persist income correction")
			}
			continue
		}

		merchantName := strings.TrimSpace(c.Merchant)
		if merchantName == "" {
			merchantName = row.parsed.MerchantHint
		}
		if merchantName == "" || strings.TrimSpace(c.Category) == "" {
			log.Warn().Str("transaction_id", t.ID).Msg("malformed categorization dropped")
			t.FailureCode = "malformed_categorization"
			_ = p.store.UpdateTransaction(ctx, t)
			continue
		}

		var merchantID, categoryID string
		if entry, ok := cache.lookup(merchantName); ok {
			merchantID = entry.merchantID
			categoryID = entry.categoryID
			merchantName = entry.merchantName
		} else {
			merchant, _, err := p.store.GetOrCreateMerchant(ctx, userID, merchantName)
			if err != nil {
				log.Warn().Err(err).Str("transaction_id", t.ID).Msg("get-or-create merchant")
				continue
			}
			category, _, err := p.store.GetOrCreateCategory(ctx, userID, c.Category)
			if err != nil {
				log.Warn().Err(err).Str("transaction_id", t.ID).Msg("get-or-create category")
				continue
			}
			merchantID = merchant.ID
			categoryID = category.ID
			cache.learn(merchantName, merchantID, categoryID)
		}

		// Rules bound to a merchant override whatever the model said.
		for _, rule := range rules {
			if rule.MerchantID == merchantID && rule.CategoryID != "" {
				categoryID = rule.CategoryID
			}
		}

		t.MerchantID = merchantID
		t.MerchantRawName = merchantName
		t.CategoryID = categoryID
		if c.Description != "" && t.Description == "" {
			t.Description = c.Description
			t.NormalizedDescription = domain.NormalizeDescription(c.Description)
		}
		if t.OriginalAmount == "" && c.Amount != "" {
			if amount, ok := parse.ParseAmount(c.Amount); ok {
				t.Amount = amount
				t.OriginalAmount = c.Amount
			}
		}
		if t.TransactionDate.IsZero() {
			t.FailureCode = "missing_date"
			t.Status = domain.StatusUncategorized
			if err := p.store.UpdateTransaction(ctx, t); err != nil {
				log.Warn().Err(err).Str("transaction_id", t.ID).Msg("persist dateless row")
			}
			continue
		}

		p.markResolved(ctx, t)
	}
}
