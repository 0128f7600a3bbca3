// Package store defines the persistence contract of the pipeline.
// Implementations: inmemory (tests, single-instance) and infra/bigquery.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/spesalog/spesalog/internal/domain"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrNotOwned is returned when a record exists but belongs to another user.
	ErrNotOwned = errors.New("store: not owned by user")
	// ErrUploadLocked is returned when an upload (or another upload of the
	// same user) is already claimed by a live owner.
	ErrUploadLocked = errors.New("store: upload locked")
	// ErrDuplicate is returned on a uniqueness violation, e.g. re-ingesting
	// a file whose checksum the user already uploaded.
	ErrDuplicate = errors.New("store: duplicate")
)

// TransactionStore persists transactions and serves similarity lookups.
type TransactionStore interface {
	CreateTransactions(ctx context.Context, txs []*domain.Transaction) error
	GetTransaction(ctx context.Context, userID, id string) (*domain.Transaction, error)
	UpdateTransaction(ctx context.Context, tx *domain.Transaction) error
	BulkUpdateTransactions(ctx context.Context, txs []*domain.Transaction) error

	// ListByUpload returns every transaction of one upload, creation order.
	ListByUpload(ctx context.Context, uploadID string) ([]*domain.Transaction, error)

	// ListCategorized returns the user's categorized transactions, most
	// recent first, for the similarity matcher. limit <= 0 means all.
	ListCategorized(ctx context.Context, userID string, limit int) ([]*domain.Transaction, error)

	// FindDuplicate looks up a categorized transaction with the same
	// normalized description and date. Returns ErrNotFound when clean.
	FindDuplicate(ctx context.Context, userID, normalizedDescription string, date time.Time) (*domain.Transaction, error)

	// CountByUploadStatus returns status counts for one upload.
	CountByUploadStatus(ctx context.Context, uploadID string) (domain.Progress, error)
}

// MerchantStore persists user-scoped merchants.
type MerchantStore interface {
	// GetOrCreateMerchant is atomic: concurrent calls with names normalizing
	// to the same key must yield one row. Reports whether it created.
	GetOrCreateMerchant(ctx context.Context, userID, name string) (*domain.Merchant, bool, error)
	GetMerchantByNormalizedName(ctx context.Context, userID, normalized string) (*domain.Merchant, error)
	ListMerchants(ctx context.Context, userID string) ([]*domain.Merchant, error)
}

// CategoryStore persists user-scoped categories.
type CategoryStore interface {
	GetOrCreateCategory(ctx context.Context, userID, name string) (*domain.Category, bool, error)
	ListCategories(ctx context.Context, userID string) ([]*domain.Category, error)
}

// RuleStore serves the user's categorization rules.
type RuleStore interface {
	CreateRule(ctx context.Context, rule *domain.Rule) error
	ListActiveRules(ctx context.Context, userID string) ([]*domain.Rule, error)
}

// StructureStore persists file structures, shared across users.
type StructureStore interface {
	GetStructure(ctx context.Context, hash string) (*domain.FileStructure, error)
	// SaveStructure has get-or-create semantics on the hash: a concurrent
	// first-writer race resolves to a single row, never duplicate hashes.
	SaveStructure(ctx context.Context, s *domain.FileStructure) (*domain.FileStructure, error)
}

// UploadStore persists uploads and implements the claim protocol.
type UploadStore interface {
	// CreateUpload returns ErrDuplicate when the user already uploaded a
	// file with the same checksum.
	CreateUpload(ctx context.Context, u *domain.Upload) error
	GetUpload(ctx context.Context, id string) (*domain.Upload, error)
	UpdateUpload(ctx context.Context, u *domain.Upload) error

	// ClaimUpload marks the upload processing and records owner as the
	// single resume marker. It fails with ErrUploadLocked when the upload
	// is held by a live owner, when it is already completed, or when
	// another upload of the same user is being processed. A claim older
	// than grace is considered dead and may be taken over.
	ClaimUpload(ctx context.Context, id, owner string, grace time.Duration) (*domain.Upload, error)

	// ReleaseUpload clears the owner marker and sets the final status.
	// Only the current owner may release.
	ReleaseUpload(ctx context.Context, id, owner string, status domain.UploadStatus, errMsg string) error

	// ListStuckUploads returns uploads sitting in processing longer than
	// grace, for the watchdog.
	ListStuckUploads(ctx context.Context, grace time.Duration) ([]*domain.Upload, error)
}

// Store is the full persistence surface the pipeline needs.
type Store interface {
	TransactionStore
	MerchantStore
	CategoryStore
	RuleStore
	StructureStore
	UploadStore

	// RunInTransaction executes fn atomically: either every write inside
	// commits or none does. Used by the finalize pass.
	RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
