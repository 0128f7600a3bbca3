package parse

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// amountPattern matches signed numbers in either Italian (1.234,56) or
// US (1,234.56) formatting, with optional space-grouped thousands and
// bare integers.
var amountPattern = regexp.MustCompile(`[-+]?\d{1,3}(?:[.,\x{00A0} ]\d{3})*(?:[.,]\d+)?|[-+]?\d+(?:[.,]\d+)?`)

// amountCandidate is one number found inside a field value.
type amountCandidate struct {
	value  decimal.Decimal
	source string // the token as it appeared
	field  string // full field value the token came from
	column string
	// twoDecimals marks candidates with at least two decimal digits.
	// Bare integers are usually IDs, not amounts.
	twoDecimals bool
}

// parseAmountToken normalizes a single numeric token. It decides which
// separator is the decimal one: when both appear, the last one wins;
// a lone separator followed by exactly one or two digits is decimal,
// otherwise it is a thousands separator.
func parseAmountToken(token string) (decimal.Decimal, int, bool) {
	s := strings.ReplaceAll(token, " ", "")
	s = strings.ReplaceAll(s, " ", "")

	sign := ""
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		sign = s[:1]
		s = s[1:]
	}
	if s == "" {
		return decimal.Zero, 0, false
	}

	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")

	var intPart, fracPart string
	switch {
	case lastDot >= 0 && lastComma >= 0:
		sep := lastDot
		if lastComma > lastDot {
			sep = lastComma
		}
		intPart, fracPart = s[:sep], s[sep+1:]
	case lastComma >= 0:
		frac := s[lastComma+1:]
		if len(frac) <= 2 {
			intPart, fracPart = s[:lastComma], frac
		} else {
			intPart = s
		}
	case lastDot >= 0:
		frac := s[lastDot+1:]
		if len(frac) <= 2 {
			intPart, fracPart = s[:lastDot], frac
		} else {
			intPart = s
		}
	default:
		intPart = s
	}

	intPart = strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, intPart)
	if intPart == "" && fracPart == "" {
		return decimal.Zero, 0, false
	}
	if intPart == "" {
		intPart = "0"
	}

	normalized := sign + intPart
	if fracPart != "" {
		normalized += "." + fracPart
	}
	d, err := decimal.NewFromString(normalized)
	if err != nil {
		return decimal.Zero, 0, false
	}
	return d, len(fracPart), true
}

// ParseAmount parses a standalone amount string, e.g. one returned by the
// categorization model.
func ParseAmount(s string) (decimal.Decimal, bool) {
	if best, ok := pickAmount(findAmounts("", s)); ok {
		return best.value, true
	}
	return decimal.Zero, false
}

// findAmounts extracts every amount candidate from one field value.
func findAmounts(column, value string) []amountCandidate {
	var out []amountCandidate
	for _, token := range amountPattern.FindAllString(value, -1) {
		d, fracDigits, ok := parseAmountToken(token)
		if !ok {
			continue
		}
		out = append(out, amountCandidate{
			value:       d,
			source:      token,
			field:       value,
			column:      column,
			twoDecimals: fracDigits >= 2,
		})
	}
	return out
}

// pickAmount applies the cross-field selection rules: candidates with at
// least two decimal digits beat bare integers; agreeing candidates resolve
// to the first in field order; disagreeing candidates resolve to the one
// from the shortest source field, on the heuristic that a short field is a
// dedicated amount column rather than free text containing a number.
func pickAmount(candidates []amountCandidate) (amountCandidate, bool) {
	if len(candidates) == 0 {
		return amountCandidate{}, false
	}

	pool := make([]amountCandidate, 0, len(candidates))
	for _, c := range candidates {
		if c.twoDecimals {
			pool = append(pool, c)
		}
	}
	if len(pool) == 0 {
		pool = candidates
	}

	best := pool[0]
	agree := true
	for _, c := range pool[1:] {
		if !c.value.Abs().Equal(best.value.Abs()) {
			agree = false
		}
	}
	if agree {
		return best, true
	}
	for _, c := range pool[1:] {
		if len(strings.TrimSpace(c.field)) < len(strings.TrimSpace(best.field)) {
			best = c
		}
	}
	return best, true
}
