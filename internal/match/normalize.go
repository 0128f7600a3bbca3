package match

import (
	"regexp"
	"strings"
)

// Patterns for stripping transactional noise out of a description before
// any fuzzy or semantic comparison. Dates, times, amounts and long
// reference codes vary between two purchases at the same merchant and
// would otherwise drag the similarity down.
var (
	datePattern   = regexp.MustCompile(`\b\d{1,2}[./-]\d{1,2}[./-]\d{2,4}\b|\b\d{4}-\d{2}-\d{2}\b`)
	timePattern   = regexp.MustCompile(`\b\d{1,2}:\d{2}(?::\d{2})?\b`)
	amountPattern = regexp.MustCompile(`[-+]?\d{1,3}(?:[.,]\d{3})*[.,]\d{2}\b`)
	longIDPattern = regexp.MustCompile(`\b[A-Za-z0-9*]{10,}\b`)
	spacePattern  = regexp.MustCompile(`\s+`)
)

// CleanDescription removes dates, times, amounts and long identifiers,
// then collapses whitespace and lowercases.
func CleanDescription(desc string) string {
	s := datePattern.ReplaceAllString(desc, " ")
	s = timePattern.ReplaceAllString(s, " ")
	s = amountPattern.ReplaceAllString(s, " ")
	s = longIDPattern.ReplaceAllString(s, " ")
	s = spacePattern.ReplaceAllString(s, " ")
	return strings.ToLower(strings.TrimSpace(s))
}

var numericToken = regexp.MustCompile(`^[\d./:,-]+$`)

// isNumericToken reports whether a token is purely numeric noise
// (dates, card fragments, reference numbers).
func isNumericToken(tok string) bool {
	return numericToken.MatchString(tok)
}

func tokenize(s string) []string {
	return strings.Fields(strings.ToLower(s))
}

// tokenSet builds a membership set of lowercased tokens.
func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range tokenize(s) {
		set[tok] = true
	}
	return set
}

// reliableMatch guards a semantic near-match against conflating two
// syntactically close but distinct merchants. The match is unreliable if
// the two descriptions differ by a non-numeric word that does not appear
// in the matched merchant's name. Numeric differences never invalidate.
func reliableMatch(candidateDesc, matchDesc, merchantName string) bool {
	candTokens := tokenSet(CleanDescription(candidateDesc))
	matchTokens := tokenSet(CleanDescription(matchDesc))
	merchant := strings.ToLower(merchantName)

	check := func(tokens map[string]bool, other map[string]bool) bool {
		for tok := range tokens {
			if other[tok] || isNumericToken(tok) {
				continue
			}
			if !strings.Contains(merchant, tok) {
				return false
			}
		}
		return true
	}
	return check(candTokens, matchTokens) && check(matchTokens, candTokens)
}
