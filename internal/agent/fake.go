package agent

import (
	"context"
	"strings"

	"github.com/spesalog/spesalog/internal/domain"
)

// Fake is a deterministic offline Categorizer for simulation mode and
// tests. Assignments maps an uppercased description substring to the
// category it should yield; unmatched expenses fall back to Fallback.
type Fake struct {
	Assignments map[string]string
	Fallback    string
}

// NewFake builds a simulation categorizer.
func NewFake(assignments map[string]string) *Fake {
	return &Fake{Assignments: assignments, Fallback: "altro"}
}

// CategorizeBatch implements Categorizer without any network call.
func (f *Fake) CategorizeBatch(_ context.Context, req BatchRequest) (BatchResult, error) {
	var result BatchResult
	for _, item := range req.Items {
		upper := strings.ToUpper(item.Description)
		cat := Categorization{
			TransactionID: item.ID,
			Merchant:      fakeMerchant(item.Description),
		}
		if strings.HasPrefix(strings.TrimSpace(item.Amount), "+") {
			cat.NotExpense = true
			result.Categorizations = append(result.Categorizations, cat)
			continue
		}
		cat.Category = f.Fallback
		for needle, category := range f.Assignments {
			if strings.Contains(upper, strings.ToUpper(needle)) {
				cat.Category = category
				break
			}
		}
		result.Categorizations = append(result.Categorizations, cat)
	}
	return result, nil
}

// fakeMerchant keeps the leading non-numeric words of the description.
func fakeMerchant(desc string) string {
	var words []string
	for _, w := range strings.Fields(desc) {
		if isNumericWord(w) {
			continue
		}
		words = append(words, w)
		if len(words) == 4 {
			break
		}
	}
	return strings.Join(words, " ")
}

func isNumericWord(w string) bool {
	for _, r := range w {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' {
			return false
		}
	}
	return true
}

// DetectStructure implements Categorizer with column-name keywords.
func (f *Fake) DetectStructure(_ context.Context, req StructureRequest) (*domain.FileStructure, TokenUsage, error) {
	roles := map[string]string{}
	assign := func(role, col string) {
		if roles[role] == "" {
			roles[role] = col
		}
	}
	for _, col := range req.Columns {
		lower := strings.ToLower(col)
		switch {
		case strings.Contains(lower, "data") || strings.Contains(lower, "date"):
			assign("date", col)
		case strings.Contains(lower, "descr") || strings.Contains(lower, "causale"):
			assign("description", col)
		case strings.Contains(lower, "uscite") || strings.Contains(lower, "addebit") || strings.Contains(lower, "dare"):
			assign("expense_amount", col)
		case strings.Contains(lower, "entrate") || strings.Contains(lower, "accredit") || strings.Contains(lower, "avere"):
			assign("income_amount", col)
		case strings.Contains(lower, "importo") || strings.Contains(lower, "amount"):
			assign("expense_amount", col)
		}
	}
	if req.DateColumnHint != "" {
		roles["date"] = req.DateColumnHint
	}
	return structureFromRoles(roles, req.Columns), TokenUsage{}, nil
}

// ValidateRule implements Categorizer: every rule naming a known category
// is valid.
func (f *Fake) ValidateRule(_ context.Context, text string, categories []string) (RuleValidation, error) {
	lower := strings.ToLower(text)
	for _, c := range categories {
		if strings.Contains(lower, strings.ToLower(c)) {
			return RuleValidation{Valid: true, Category: c}, nil
		}
	}
	return RuleValidation{Valid: false, Reason: ReasonMissingCategory}, nil
}

var _ Categorizer = (*Fake)(nil)
