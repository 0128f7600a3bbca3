package parse

import (
	"strings"
	"time"
)

// DateFormats is the ordered list of layouts tried against each token.
// Day-first Italian formats come before ISO and US layouts so that an
// ambiguous 03/04/2025 reads as 3 April.
var DateFormats = []string{
	"02/01/2006",
	"02-01-2006",
	"02.01.2006",
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"20060102",
	"02/01/06",
	"02-01-06",
}

var dateSplitter = strings.NewReplacer(";", " ", ",", " ", "\t", " ", "|", " ", "\n", " ")

// plausible rejects parses that are syntactically valid but cannot be a
// transaction date.
func plausible(t time.Time) bool {
	y := t.Year()
	return y >= 1970 && y <= 2100
}

// parseDateToken tries every layout against one token.
func parseDateToken(token string) (time.Time, bool) {
	token = strings.TrimSpace(token)
	if len(token) < 6 {
		return time.Time{}, false
	}
	for _, layout := range DateFormats {
		if len(token) != len(layout) {
			continue
		}
		// The compact layout would happily eat an 8-digit account number
		// fragment with a dot in it, so require all digits.
		if layout == "20060102" && strings.ContainsAny(token, "./-") {
			continue
		}
		t, err := time.Parse(layout, token)
		if err == nil && plausible(t) {
			return t, true
		}
	}
	return time.Time{}, false
}

// dateCandidate is one parseable date found inside a field.
type dateCandidate struct {
	date   time.Time
	source string
	column string
}

// findDates splits a field value on common delimiters and parses each token.
func findDates(column, value string) []dateCandidate {
	var out []dateCandidate
	for _, token := range strings.Fields(dateSplitter.Replace(value)) {
		if t, ok := parseDateToken(token); ok {
			out = append(out, dateCandidate{date: t, source: token, column: column})
		}
	}
	return out
}

// pickDate returns the earliest candidate. Multiple dates on one row are
// usually a booking-date and value-date pair; the earlier one is canonical.
func pickDate(candidates []dateCandidate) (dateCandidate, bool) {
	if len(candidates) == 0 {
		return dateCandidate{}, false
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.date.Before(best.date) {
			best = c
		}
	}
	return best, true
}

// ParseDate parses a standalone date string, used by the ingest footer
// cropper and the structure detector.
func ParseDate(value string) (time.Time, bool) {
	if cands := findDates("", value); len(cands) > 0 {
		return cands[0].date, true
	}
	return time.Time{}, false
}
