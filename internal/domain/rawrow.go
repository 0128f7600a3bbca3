package domain

// RawRow is one row of an uploaded export: column name -> verbatim string
// value, with iteration order preserved from the source file. It is immutable
// once built; extractors and the categorization agent only ever read it.
type RawRow struct {
	keys   []string
	values map[string]string
}

// NewRawRow builds a row from ordered column names and their values.
// Columns without a value are stored as empty strings.
func NewRawRow(columns []string, values map[string]string) RawRow {
	keys := make([]string, len(columns))
	copy(keys, columns)
	vals := make(map[string]string, len(columns))
	for _, c := range columns {
		vals[c] = values[c]
	}
	return RawRow{keys: keys, values: vals}
}

// Columns returns the column names in source order.
func (r RawRow) Columns() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Get returns the value for a column and whether the column exists.
func (r RawRow) Get(column string) (string, bool) {
	v, ok := r.values[column]
	return v, ok
}

// Value returns the value for a column, or "" if the column is absent.
func (r RawRow) Value(column string) string {
	return r.values[column]
}

// Len returns the number of columns.
func (r RawRow) Len() int { return len(r.keys) }

// IsEmpty reports whether every value is empty.
func (r RawRow) IsEmpty() bool {
	for _, k := range r.keys {
		if r.values[k] != "" {
			return false
		}
	}
	return true
}

// Each calls fn for every column/value pair in source order.
func (r RawRow) Each(fn func(column, value string)) {
	for _, k := range r.keys {
		fn(k, r.values[k])
	}
}

// Map returns a plain map copy of the row, losing order. Used where the
// storage layer serializes raw data as JSON.
func (r RawRow) Map() map[string]string {
	out := make(map[string]string, len(r.keys))
	for _, k := range r.keys {
		out[k] = r.values[k]
	}
	return out
}
