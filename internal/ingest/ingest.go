// Package ingest turns raw delimited export bytes into RawRows. Bank
// exports bury the real header under title lines and append balance
// footers, so the header is hunted and the footer cropped before rows are
// handed to the pipeline.
package ingest

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/spesalog/spesalog/internal/domain"
	"github.com/spesalog/spesalog/internal/parse"
)

// ParseError is the distinguishable error kind for malformed input.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ingest: %s: %v", e.Reason, e.Err)
	}
	return "ingest: " + e.Reason
}

func (e *ParseError) Unwrap() error { return e.Err }

// DefaultHeaderKeywords are the column names bank exports commonly use.
// A row containing at least two of them is taken as the header.
var DefaultHeaderKeywords = []string{
	"data", "date", "descrizione", "description", "causale",
	"importo", "amount", "uscite", "entrate", "valuta",
	"dare", "avere", "addebiti", "accrediti", "movimento",
}

// Options tunes the reader.
type Options struct {
	// KnownColumns, when a structure for this layout exists, pins the
	// header to the row matching these column names.
	KnownColumns []string
	// HeaderKeywords overrides DefaultHeaderKeywords.
	HeaderKeywords []string
}

// Parse reads delimited bytes into rows. It returns the rows and the
// header columns in source order.
func Parse(data []byte, opts Options) ([]domain.RawRow, []string, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil, &ParseError{Reason: "empty file"}
	}

	records, err := readRecords(data)
	if err != nil {
		return nil, nil, err
	}

	headerIdx := findHeader(records, opts)
	if headerIdx < 0 {
		return nil, nil, &ParseError{Reason: "no header row found"}
	}
	columns := cleanHeader(records[headerIdx])

	var rows []domain.RawRow
	for _, record := range records[headerIdx+1:] {
		if isBlank(record) {
			continue
		}
		values := make(map[string]string, len(columns))
		for i, col := range columns {
			if i < len(record) {
				values[col] = strings.TrimSpace(record[i])
			}
		}
		rows = append(rows, domain.NewRawRow(columns, values))
	}
	if len(rows) == 0 {
		return nil, nil, &ParseError{Reason: "no data rows after header"}
	}

	rows = cropFooter(rows, columns)
	return rows, columns, nil
}

// readRecords sniffs the delimiter and reads every record, tolerating
// ragged row lengths.
func readRecords(data []byte) ([][]string, error) {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	delim := sniffDelimiter(text)

	r := csv.NewReader(strings.NewReader(text))
	r.Comma = delim
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	records, err := r.ReadAll()
	if err != nil {
		return nil, &ParseError{Reason: "malformed delimited input", Err: err}
	}
	if len(records) == 0 {
		return nil, &ParseError{Reason: "no records"}
	}
	return records, nil
}

// sniffDelimiter picks the separator with the most occurrences over the
// first lines. Italian exports favor the semicolon.
func sniffDelimiter(text string) rune {
	lines := strings.SplitN(text, "\n", 10)
	counts := map[rune]int{';': 0, ',': 0, '\t': 0}
	for _, line := range lines {
		for d := range counts {
			counts[d] += strings.Count(line, string(d))
		}
	}
	best := ';'
	for _, d := range []rune{';', ',', '\t'} {
		if counts[d] > counts[best] {
			best = d
		}
	}
	return best
}

// findHeader locates the header row: first by matching known column
// names, then by keyword heuristic.
func findHeader(records [][]string, opts Options) int {
	if len(opts.KnownColumns) > 0 {
		known := make(map[string]bool, len(opts.KnownColumns))
		for _, c := range opts.KnownColumns {
			known[strings.ToLower(strings.TrimSpace(c))] = true
		}
		for i, record := range records {
			hits := 0
			for _, field := range record {
				if known[strings.ToLower(strings.TrimSpace(field))] {
					hits++
				}
			}
			if hits == len(opts.KnownColumns) {
				return i
			}
		}
	}

	keywords := opts.HeaderKeywords
	if len(keywords) == 0 {
		keywords = DefaultHeaderKeywords
	}
	for i, record := range records {
		hits := 0
		for _, field := range record {
			f := strings.ToLower(strings.TrimSpace(field))
			for _, kw := range keywords {
				if f == kw || strings.Contains(f, kw) {
					hits++
					break
				}
			}
		}
		if hits >= 2 {
			return i
		}
	}
	return -1
}

func cleanHeader(record []string) []string {
	columns := make([]string, 0, len(record))
	for i, field := range record {
		col := strings.TrimSpace(field)
		if col == "" {
			col = fmt.Sprintf("column_%d", i+1)
		}
		columns = append(columns, col)
	}
	return columns
}

func isBlank(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

// cropFooter drops trailing rows whose date column does not parse as a
// date. Balance and totals footers carry no date.
func cropFooter(rows []domain.RawRow, columns []string) []domain.RawRow {
	dateCol := mostDatedColumn(rows, columns)
	if dateCol == "" {
		return rows
	}
	end := len(rows)
	for end > 0 {
		if _, ok := parse.ParseDate(rows[end-1].Value(dateCol)); ok {
			break
		}
		end--
	}
	if end == 0 {
		return rows
	}
	return rows[:end]
}

// mostDatedColumn finds the column with the most parseable dates.
func mostDatedColumn(rows []domain.RawRow, columns []string) string {
	best := ""
	bestCount := 0
	for _, col := range columns {
		count := 0
		for _, row := range rows {
			if _, ok := parse.ParseDate(row.Value(col)); ok {
				count++
			}
		}
		if count > bestCount {
			best = col
			bestCount = count
		}
	}
	return best
}
