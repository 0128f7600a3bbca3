package domain

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionStatus is the resolution state of a transaction.
type TransactionStatus string

const (
	// StatusPending means only raw data is populated; resolution has not run.
	StatusPending TransactionStatus = "pending"
	// StatusProcessing means the owning upload is being resolved right now.
	StatusProcessing TransactionStatus = "processing"
	// StatusCategorized means amount, date, merchant and category are all set.
	StatusCategorized TransactionStatus = "categorized"
	// StatusUncategorized means resolution finished without enough confidence.
	StatusUncategorized TransactionStatus = "uncategorized"
)

// TransactionType separates money out from money in.
type TransactionType string

const (
	TypeExpense TransactionType = "expense"
	TypeIncome  TransactionType = "income"
)

// Transaction is the central record of the pipeline.
type Transaction struct {
	ID       string
	UserID   string
	UploadID string

	MerchantID      string // empty until resolved
	MerchantRawName string // merchant string as it appeared in the source
	CategoryID      string // empty until resolved

	Amount                decimal.Decimal
	OriginalAmount        string // verbatim source string, sign preserved
	TransactionDate       time.Time
	OriginalDate          string
	Description           string
	NormalizedDescription string

	Status          TransactionStatus
	TransactionType TransactionType
	FailureCode     string

	// ModifiedByUser locks the row against automated overwrite.
	ModifiedByUser bool

	// RawData keeps the source row for re-resolution.
	RawData RawRow

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Resolved reports whether the row carries everything a categorized
// expense needs.
func (t *Transaction) Resolved() bool {
	return !t.TransactionDate.IsZero() &&
		!t.Amount.IsZero() &&
		t.MerchantID != "" &&
		t.CategoryID != ""
}

// Merchant is a user-scoped payee. NormalizedName is the fuzzy-matching key.
type Merchant struct {
	ID             string
	UserID         string
	Name           string
	NormalizedName string
	CreatedAt      time.Time
}

// Category is a user-scoped expense label.
type Category struct {
	ID        string
	UserID    string
	Name      string
	IsDefault bool
	CreatedAt time.Time
}

// Rule is a free-text user instruction that overrides model inference.
// MerchantID/CategoryID are optional fast-path bindings.
type Rule struct {
	ID         string
	UserID     string
	Text       string
	MerchantID string
	CategoryID string
	IsActive   bool
	CreatedAt  time.Time
}

// DefaultCategories is the fixed set seeded for a user on first run.
var DefaultCategories = []string{
	"casa", "spesa", "sport", "spese mediche",
	"trasporti", "affitto", "abbonamenti",
	"shopping", "scuola", "bollette", "vacanze",
	"regali", "vita sociale", "carburante", "auto", "altro",
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// NormalizeName lowercases a merchant name and strips everything that is
// not a letter or digit. Two names normalizing to the same string are the
// same merchant.
func NormalizeName(name string) string {
	return nonAlnum.ReplaceAllString(strings.ToLower(name), "")
}

// NormalizeDescription collapses whitespace and lowercases a description
// for the duplicate guard.
func NormalizeDescription(desc string) string {
	return strings.Join(strings.Fields(strings.ToLower(desc)), " ")
}
