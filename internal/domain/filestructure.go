package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

// FileStructure maps a file layout's column names to semantic roles.
// It is keyed by a hash of the column-name set and shared across users:
// two banks exporting the same columns share one structure.
type FileStructure struct {
	Hash string

	DateColumn          string
	DescriptionColumn   string
	MerchantColumn      string
	IncomeAmountColumn  string
	ExpenseAmountColumn string
	OperationTypeColumn string

	// LowConfidence marks a structure produced without model help.
	// Rows under it always go through model-assisted resolution.
	LowConfidence bool

	Columns   []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Complete reports whether every role a resolver needs is assigned.
// OperationType and Merchant are optional roles.
func (s *FileStructure) Complete() bool {
	return s.DateColumn != "" &&
		s.DescriptionColumn != "" &&
		(s.IncomeAmountColumn != "" || s.ExpenseAmountColumn != "")
}

// StructureHash computes the identity of a column layout. The hash is a
// pure function of the column-name set: order does not matter, values
// never participate.
func StructureHash(columns []string) string {
	sorted := make([]string, len(columns))
	copy(sorted, columns)
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, "|")))
	return hex.EncodeToString(sum[:])
}
