package match

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/spesalog/spesalog/internal/domain"
	"github.com/spesalog/spesalog/internal/logger"
	"github.com/spesalog/spesalog/internal/store"
)

// Embedder produces a vector for a cleaned description. Implemented by
// agent.GeminiClient; nil disables the semantic stage.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Candidate is the row being matched against prior data.
type Candidate struct {
	MerchantHint string
	Description  string
}

// Result is the matcher's answer. Reference, when non-nil, is a prior
// transaction whose merchant and category are safe to copy. Context holds
// looser semantic neighbours forwarded to the model as hints, never
// auto-accepted.
type Result struct {
	Reference *domain.Transaction
	Context   []*domain.Transaction
}

// Config holds the matcher thresholds.
type Config struct {
	FuzzyThreshold          float64
	MerchantFuzzyThreshold  float64
	SemanticAutoDistance    float64
	SemanticContextDistance float64
	// HistoryLimit caps how many prior transactions are considered.
	HistoryLimit int
}

// Matcher finds a previously categorized transaction to copy from, trying
// exact normalized-name lookup, trigram fuzzy similarity, and semantic
// embedding distance in that order, short-circuiting on the first hit.
type Matcher struct {
	store    store.Store
	embedder Embedder
	cfg      Config
	learner  *TemplateLearner

	mu    sync.Mutex
	cache map[string][]float32 // transaction ID -> embedding
}

// New builds a matcher. embedder may be nil; learner may be nil.
func New(s store.Store, embedder Embedder, learner *TemplateLearner, cfg Config) *Matcher {
	if cfg.HistoryLimit == 0 {
		cfg.HistoryLimit = 2000
	}
	return &Matcher{
		store:    s,
		embedder: embedder,
		cfg:      cfg,
		learner:  learner,
		cache:    make(map[string][]float32),
	}
}

// FindReference runs the three-stage strategy for one candidate.
func (m *Matcher) FindReference(ctx context.Context, userID string, cand Candidate) (Result, error) {
	log := logger.FromContext(ctx)

	history, err := m.store.ListCategorized(ctx, userID, m.cfg.HistoryLimit)
	if err != nil {
		return Result{}, fmt.Errorf("FindReference: list categorized: %w", err)
	}
	if len(history) == 0 {
		return Result{}, nil
	}

	if ref, err := m.exactMatch(ctx, userID, cand, history); err != nil {
		return Result{}, err
	} else if ref != nil {
		log.Debug().Str("merchant", ref.MerchantRawName).Msg("precheck: exact merchant match")
		return Result{Reference: ref}, nil
	}

	if ref := m.fuzzyMatch(cand, history); ref != nil {
		log.Debug().Str("merchant", ref.MerchantRawName).Msg("precheck: fuzzy match")
		return Result{Reference: ref}, nil
	}

	if m.embedder != nil {
		res, err := m.semanticMatch(ctx, userID, cand, history)
		if err != nil {
			// The semantic stage is best-effort: an embedding outage must
			// not fail the precheck.
			log.Warn().Err(err).Msg("precheck: semantic stage unavailable")
			return Result{}, nil
		}
		return res, nil
	}
	return Result{}, nil
}

// exactMatch normalizes the merchant hint and looks for an exact merchant
// row, then returns the reference carrying that merchant's most frequent
// category, ties broken by most recent date.
func (m *Matcher) exactMatch(ctx context.Context, userID string, cand Candidate, history []*domain.Transaction) (*domain.Transaction, error) {
	name := cand.MerchantHint
	if name == "" {
		return nil, nil
	}
	normalized := domain.NormalizeName(name)
	if normalized == "" {
		return nil, nil
	}
	merchant, err := m.store.GetMerchantByNormalizedName(ctx, userID, normalized)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("exactMatch: %w", err)
	}
	return pickByCategoryFrequency(history, func(t *domain.Transaction) bool {
		return t.MerchantID == merchant.ID
	}), nil
}

// fuzzyMatch scores the candidate against stored merchant names and
// descriptions with trigram word similarity.
func (m *Matcher) fuzzyMatch(cand Candidate, history []*domain.Transaction) *domain.Transaction {
	type scored struct {
		txn   *domain.Transaction
		score float64
	}
	var hits []scored

	candName := CleanDescription(cand.MerchantHint)
	candDesc := CleanDescription(cand.Description)

	for _, t := range history {
		best := 0.0
		if candName != "" && t.MerchantRawName != "" {
			if s := WordSimilarity(candName, CleanDescription(t.MerchantRawName)); s >= m.cfg.MerchantFuzzyThreshold && s > best {
				best = s
			}
		}
		if candDesc != "" && t.Description != "" {
			if s := WordSimilarity(candDesc, CleanDescription(t.Description)); s >= m.cfg.FuzzyThreshold && s > best {
				best = s
			}
		}
		if best > 0 {
			hits = append(hits, scored{txn: t, score: best})
		}
	}
	if len(hits) == 0 {
		return nil
	}

	// Prefer the category with the highest occurrence count among the
	// qualifying hits, then highest similarity, then most recent date.
	counts := make(map[string]int)
	for _, h := range hits {
		counts[h.txn.CategoryID]++
	}
	sort.SliceStable(hits, func(i, j int) bool {
		ci, cj := counts[hits[i].txn.CategoryID], counts[hits[j].txn.CategoryID]
		if ci != cj {
			return ci > cj
		}
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].txn.TransactionDate.After(hits[j].txn.TransactionDate)
	})
	return hits[0].txn
}

// semanticMatch embeds the cleaned description and ranks history by cosine
// distance. Below the auto threshold, the hit is returned as a reference
// if the reliability guard passes; below the context threshold, hits are
// returned as context for the model.
func (m *Matcher) semanticMatch(ctx context.Context, userID string, cand Candidate, history []*domain.Transaction) (Result, error) {
	desc := cand.Description
	if m.learner != nil {
		desc = m.learner.Clean(userID, desc)
	}
	cleaned := CleanDescription(desc)
	if cleaned == "" {
		return Result{}, nil
	}

	vec, err := m.embedder.Embed(ctx, cleaned)
	if err != nil {
		return Result{}, fmt.Errorf("semanticMatch: embed candidate: %w", err)
	}

	type scored struct {
		txn  *domain.Transaction
		dist float64
	}
	var neighbours []scored
	for _, t := range history {
		tv, err := m.embeddingFor(ctx, t)
		if err != nil {
			return Result{}, err
		}
		d := cosineDistance(vec, tv)
		if d <= m.cfg.SemanticContextDistance {
			neighbours = append(neighbours, scored{txn: t, dist: d})
		}
	}
	if len(neighbours) == 0 {
		return Result{}, nil
	}
	sort.Slice(neighbours, func(i, j int) bool { return neighbours[i].dist < neighbours[j].dist })

	best := neighbours[0]
	if best.dist <= m.cfg.SemanticAutoDistance &&
		reliableMatch(cand.Description, best.txn.Description, best.txn.MerchantRawName) {
		return Result{Reference: best.txn}, nil
	}

	res := Result{}
	for _, n := range neighbours {
		res.Context = append(res.Context, n.txn)
		if len(res.Context) == 5 {
			break
		}
	}
	return res, nil
}

func (m *Matcher) embeddingFor(ctx context.Context, t *domain.Transaction) ([]float32, error) {
	m.mu.Lock()
	if v, ok := m.cache[t.ID]; ok {
		m.mu.Unlock()
		return v, nil
	}
	m.mu.Unlock()

	v, err := m.embedder.Embed(ctx, CleanDescription(t.Description))
	if err != nil {
		return nil, fmt.Errorf("embeddingFor %s: %w", t.ID, err)
	}
	m.mu.Lock()
	m.cache[t.ID] = v
	m.mu.Unlock()
	return v, nil
}

func cosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 1
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

// pickByCategoryFrequency returns the transaction of the most frequent
// category among rows matching keep, ties broken by most recent date.
func pickByCategoryFrequency(history []*domain.Transaction, keep func(*domain.Transaction) bool) *domain.Transaction {
	counts := make(map[string]int)
	var matched []*domain.Transaction
	for _, t := range history {
		if keep(t) {
			matched = append(matched, t)
			counts[t.CategoryID]++
		}
	}
	if len(matched) == 0 {
		return nil
	}
	sort.SliceStable(matched, func(i, j int) bool {
		ci, cj := counts[matched[i].CategoryID], counts[matched[j].CategoryID]
		if ci != cj {
			return ci > cj
		}
		return matched[i].TransactionDate.After(matched[j].TransactionDate)
	})
	return matched[0]
}
