// Package agent talks to the categorization model. The model is an
// untrusted collaborator: every response goes through defensive JSON
// parsing and every call is wrapped in retry with backoff.
package agent

import (
	"context"
	"errors"

	"github.com/spesalog/spesalog/internal/domain"
)

// ErrBatchFailed marks a batch-scoped failure after retry exhaustion.
// It fails that batch only; sibling batches keep going.
var ErrBatchFailed = errors.New("agent: batch categorization failed")

// BatchItem is one transaction submitted for categorization.
type BatchItem struct {
	ID          string            `json:"transaction_id"`
	Description string            `json:"description"`
	Amount      string            `json:"amount,omitempty"`
	Date        string            `json:"date,omitempty"`
	Fields      map[string]string `json:"fields,omitempty"`
}

// ContextHint is a prior categorized transaction forwarded to the model as
// non-binding guidance.
type ContextHint struct {
	Description string `json:"description"`
	Merchant    string `json:"merchant"`
	Category    string `json:"category"`
}

// Categorization is the model's verdict on one item.
type Categorization struct {
	TransactionID   string `json:"transaction_id"`
	Category        string `json:"category"`
	Merchant        string `json:"merchant"`
	Amount          string `json:"amount,omitempty"`
	OriginalAmount  string `json:"original_amount,omitempty"`
	Description     string `json:"description,omitempty"`
	AppliedUserRule string `json:"applied_user_rule,omitempty"`
	// NotExpense marks rows the model recognized as income or transfers;
	// they get a type correction instead of an expense category.
	NotExpense bool `json:"not_expense,omitempty"`
}

// TokenUsage is the per-call token accounting reported by the backend.
type TokenUsage struct {
	Input  int
	Output int
}

// BatchResult is a parsed, validated model response for one batch.
type BatchResult struct {
	Categorizations []Categorization
	NewCategories   []string
	Usage           TokenUsage
}

// BatchRequest carries one batch and its user context to the model.
type BatchRequest struct {
	Items      []BatchItem
	UserRules  []string
	Categories []string
	Hints      []ContextHint
}

// StructureRequest asks the model to assign semantic roles to columns.
type StructureRequest struct {
	Columns []string
	Sample  []domain.RawRow
	// DateColumnHint is the column already detected heuristically, if any.
	DateColumnHint string
}

// RuleValidation is the model's parse of a free-text user rule.
type RuleValidation struct {
	Valid     bool     `json:"valid"`
	Reason    string   `json:"reason,omitempty"`
	Merchants []string `json:"merchants,omitempty"`
	Category  string   `json:"category,omitempty"`
	DateFrom  string   `json:"date_from,omitempty"`
	DateTo    string   `json:"date_to,omitempty"`
	Usage     TokenUsage
}

// Categorizer is the contract the pipeline requires from the model backend.
type Categorizer interface {
	// CategorizeBatch submits one batch. Retry and timeout handling live
	// inside the implementation; a returned error wraps ErrBatchFailed.
	CategorizeBatch(ctx context.Context, req BatchRequest) (BatchResult, error)

	// DetectStructure asks the model to map columns to roles.
	DetectStructure(ctx context.Context, req StructureRequest) (*domain.FileStructure, TokenUsage, error)

	// ValidateRule parses and vets a free-text user rule.
	ValidateRule(ctx context.Context, text string, categories []string) (RuleValidation, error)
}
