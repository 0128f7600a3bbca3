package match

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/spesalog/spesalog/internal/store"
)

// TemplateLearner finds per-user boilerplate tokens that a bank prints on
// every row ("pagamento pos carta", operation codes) so the matcher can
// strip them before embedding. A token counts as boilerplate when it
// appears in at least FreqThreshold of the sampled descriptions after the
// merchant's own tokens are removed.
type TemplateLearner struct {
	store         store.TransactionStore
	minSample     int
	freqThreshold float64

	mu    sync.Mutex
	noise map[string]map[string]bool // userID -> boilerplate tokens
}

func NewTemplateLearner(s store.TransactionStore, minSample int, freqThreshold float64) *TemplateLearner {
	return &TemplateLearner{
		store:         s,
		minSample:     minSample,
		freqThreshold: freqThreshold,
		noise:         make(map[string]map[string]bool),
	}
}

// Learn recomputes the user's boilerplate set. Below the minimum sample
// size it clears the set rather than learning from noise.
func (l *TemplateLearner) Learn(ctx context.Context, userID string) error {
	history, err := l.store.ListCategorized(ctx, userID, 0)
	if err != nil {
		return fmt.Errorf("Learn: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(history) < l.minSample {
		delete(l.noise, userID)
		return nil
	}

	counts := make(map[string]int)
	for _, t := range history {
		merchantTokens := tokenSet(t.MerchantRawName)
		seen := make(map[string]bool)
		for _, tok := range tokenize(CleanDescription(t.Description)) {
			if merchantTokens[tok] || isNumericToken(tok) || seen[tok] {
				continue
			}
			seen[tok] = true
			counts[tok]++
		}
	}

	threshold := int(float64(len(history)) * l.freqThreshold)
	set := make(map[string]bool)
	for tok, n := range counts {
		if n >= threshold && threshold > 0 {
			set[tok] = true
		}
	}
	l.noise[userID] = set
	return nil
}

// Clean removes the user's learned boilerplate tokens from a description.
// Unknown users pass through unchanged.
func (l *TemplateLearner) Clean(userID, desc string) string {
	l.mu.Lock()
	set := l.noise[userID]
	l.mu.Unlock()
	if len(set) == 0 {
		return desc
	}
	var kept []string
	for _, tok := range strings.Fields(desc) {
		if set[strings.ToLower(tok)] {
			continue
		}
		kept = append(kept, tok)
	}
	return strings.Join(kept, " ")
}
