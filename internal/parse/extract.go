package parse

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spesalog/spesalog/internal/domain"
)

// ParsedTransaction is the result of applying the extractors to one RawRow.
// An invalid result is not an error; the row is deferred to model-assisted
// resolution instead of being dropped.
type ParsedTransaction struct {
	Amount         decimal.Decimal
	OriginalAmount string
	AmountColumn   string

	Date         time.Time
	OriginalDate string
	DateColumn   string

	Description string
	// MerchantHint is set only when the structure names a merchant column.
	MerchantHint string

	// Type is income when the amount came from an income column or carries
	// a positive sign under a known structure.
	Type domain.TransactionType
}

// IsValid holds iff both an amount and a date were extracted.
func (p *ParsedTransaction) IsValid() bool {
	return p.OriginalAmount != "" && !p.Date.IsZero()
}

// Extract resolves amount, date and description from a row. When the
// structure is known and complete its column mapping is used directly;
// otherwise every field is scanned heuristically.
func Extract(row domain.RawRow, structure *domain.FileStructure) ParsedTransaction {
	if structure != nil && structure.Complete() {
		return extractStructured(row, structure)
	}
	return extractHeuristic(row)
}

func extractStructured(row domain.RawRow, s *domain.FileStructure) ParsedTransaction {
	var p ParsedTransaction
	p.Type = domain.TypeExpense

	source := row.Value(s.ExpenseAmountColumn)
	column := s.ExpenseAmountColumn
	if strings.TrimSpace(source) == "" && s.IncomeAmountColumn != "" {
		source = row.Value(s.IncomeAmountColumn)
		column = s.IncomeAmountColumn
		p.Type = domain.TypeIncome
	}
	if cands := findAmounts(column, source); len(cands) > 0 {
		if best, ok := pickAmount(cands); ok {
			p.Amount = best.value
			p.OriginalAmount = best.source
			p.AmountColumn = column
			// A positive amount in the expense column is money in.
			if column == s.ExpenseAmountColumn && best.value.IsPositive() && strings.Contains(best.source, "+") {
				p.Type = domain.TypeIncome
			}
		}
	}

	if dates := findDates(s.DateColumn, row.Value(s.DateColumn)); len(dates) > 0 {
		if best, ok := pickDate(dates); ok {
			p.Date = best.date
			p.OriginalDate = best.source
			p.DateColumn = s.DateColumn
		}
	}

	p.Description = strings.TrimSpace(row.Value(s.DescriptionColumn))
	if s.MerchantColumn != "" {
		p.MerchantHint = strings.TrimSpace(row.Value(s.MerchantColumn))
	}
	return p
}

func extractHeuristic(row domain.RawRow) ParsedTransaction {
	var p ParsedTransaction
	p.Type = domain.TypeExpense

	var amounts []amountCandidate
	var dates []dateCandidate
	row.Each(func(column, value string) {
		amounts = append(amounts, findAmounts(column, value)...)
		dates = append(dates, findDates(column, value)...)
	})

	usedColumns := map[string]bool{}
	if best, ok := pickDate(dates); ok {
		p.Date = best.date
		p.OriginalDate = best.source
		p.DateColumn = best.column
		usedColumns[best.column] = true
	}

	// A field already claimed as the date column must not donate an amount;
	// a 02-01-06 token also matches the bare-integer pattern.
	filtered := amounts[:0]
	for _, c := range amounts {
		if !usedColumns[c.column] {
			filtered = append(filtered, c)
		}
	}
	if best, ok := pickAmount(filtered); ok {
		p.Amount = best.value
		p.OriginalAmount = best.source
		p.AmountColumn = best.column
		usedColumns[best.column] = true
		if best.value.IsPositive() && strings.Contains(best.source, "+") {
			p.Type = domain.TypeIncome
		}
	}

	// Longest remaining string field carries the description.
	longest := ""
	row.Each(func(column, value string) {
		v := strings.TrimSpace(value)
		if usedColumns[column] {
			return
		}
		if len(v) > len(longest) {
			longest = v
		}
	})
	p.Description = longest
	return p
}
