// Package bigquery implements the persistence contract on BigQuery for
// durable deployments. Row mutations use DML so freshly written rows stay
// updatable; streaming inserts would sit in the buffer unmodifiable.
package bigquery

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/spesalog/spesalog/internal/domain"
)

const (
	transactionsTable = "transactions"
	merchantsTable    = "merchants"
	categoriesTable   = "categories"
	rulesTable        = "rules"
	structuresTable   = "file_structures"
	uploadsTable      = "uploads"

	// NUMERIC carries nine fractional digits.
	numericScale = 9
)

type TransactionRow struct {
	TransactionID string `bigquery:"transaction_id"` // REQUIRED

	UserID   string `bigquery:"user_id"`   // REQUIRED
	UploadID string `bigquery:"upload_id"` // REQUIRED

	MerchantID      bigquery.NullString `bigquery:"merchant_id"`       // NULLABLE
	MerchantRawName bigquery.NullString `bigquery:"merchant_raw_name"` // NULLABLE
	CategoryID      bigquery.NullString `bigquery:"category_id"`       // NULLABLE

	Amount         *big.Rat            `bigquery:"amount"`          // NULLABLE NUMERIC
	OriginalAmount bigquery.NullString `bigquery:"original_amount"` // NULLABLE

	TransactionDate bigquery.NullDate   `bigquery:"transaction_date"` // NULLABLE
	OriginalDate    bigquery.NullString `bigquery:"original_date"`    // NULLABLE

	Description           bigquery.NullString `bigquery:"description"`            // NULLABLE
	NormalizedDescription bigquery.NullString `bigquery:"normalized_description"` // NULLABLE

	Status          string              `bigquery:"status"`           // REQUIRED
	TransactionType string              `bigquery:"transaction_type"` // REQUIRED
	FailureCode     bigquery.NullString `bigquery:"failure_code"`     // NULLABLE
	ModifiedByUser  bool                `bigquery:"modified_by_user"`

	RawData bigquery.NullString `bigquery:"raw_data"` // NULLABLE JSON text

	CreatedTS time.Time `bigquery:"created_ts"`
	UpdatedTS time.Time `bigquery:"updated_ts"`
}

type MerchantRow struct {
	MerchantID     string    `bigquery:"merchant_id"` // REQUIRED
	UserID         string    `bigquery:"user_id"`     // REQUIRED
	Name           string    `bigquery:"name"`
	NormalizedName string    `bigquery:"normalized_name"`
	CreatedTS      time.Time `bigquery:"created_ts"`
}

type CategoryRow struct {
	CategoryID string    `bigquery:"category_id"` // REQUIRED
	UserID     string    `bigquery:"user_id"`     // REQUIRED
	Name       string    `bigquery:"name"`
	IsDefault  bool      `bigquery:"is_default"`
	CreatedTS  time.Time `bigquery:"created_ts"`
}

type RuleRow struct {
	RuleID     string              `bigquery:"rule_id"` // REQUIRED
	UserID     string              `bigquery:"user_id"` // REQUIRED
	Text       string              `bigquery:"text"`
	MerchantID bigquery.NullString `bigquery:"merchant_id"` // NULLABLE
	CategoryID bigquery.NullString `bigquery:"category_id"` // NULLABLE
	IsActive   bool                `bigquery:"is_active"`
	CreatedTS  time.Time           `bigquery:"created_ts"`
}

type FileStructureRow struct {
	Hash                string              `bigquery:"hash"` // REQUIRED
	DateColumn          bigquery.NullString `bigquery:"date_column"`
	DescriptionColumn   bigquery.NullString `bigquery:"description_column"`
	MerchantColumn      bigquery.NullString `bigquery:"merchant_column"`
	IncomeAmountColumn  bigquery.NullString `bigquery:"income_amount_column"`
	ExpenseAmountColumn bigquery.NullString `bigquery:"expense_amount_column"`
	OperationTypeColumn bigquery.NullString `bigquery:"operation_type_column"`
	LowConfidence       bool                `bigquery:"low_confidence"`
	Columns             []string            `bigquery:"columns"` // REPEATED
	CreatedTS           time.Time           `bigquery:"created_ts"`
	UpdatedTS           time.Time           `bigquery:"updated_ts"`
}

type UploadRow struct {
	UploadID      string                 `bigquery:"upload_id"` // REQUIRED
	UserID        string                 `bigquery:"user_id"`   // REQUIRED
	Filename      string                 `bigquery:"filename"`
	Checksum      string                 `bigquery:"checksum"`
	ArchiveURI    bigquery.NullString    `bigquery:"archive_uri"`
	StructureHash bigquery.NullString    `bigquery:"structure_hash"`
	Status        string                 `bigquery:"status"`
	Error         bigquery.NullString    `bigquery:"error"`
	Owner         bigquery.NullString    `bigquery:"owner"`
	ClaimedAt     bigquery.NullTimestamp `bigquery:"claimed_at"`
	TokensInput   int64                  `bigquery:"tokens_input"`
	TokensOutput  int64                  `bigquery:"tokens_output"`
	CreatedTS     time.Time              `bigquery:"created_ts"`
	CompletedTS   bigquery.NullTimestamp `bigquery:"completed_ts"`
}

func nullString(s string) bigquery.NullString {
	return bigquery.NullString{StringVal: s, Valid: s != ""}
}

func nullDate(t time.Time) bigquery.NullDate {
	if t.IsZero() {
		return bigquery.NullDate{}
	}
	return bigquery.NullDate{Date: civil.DateOf(t), Valid: true}
}

func nullTimestamp(t time.Time) bigquery.NullTimestamp {
	if t.IsZero() {
		return bigquery.NullTimestamp{}
	}
	return bigquery.NullTimestamp{Timestamp: t, Valid: true}
}

// rawRowJSON is the wire shape of a domain.RawRow; the column slice keeps
// source order through the round trip.
type rawRowJSON struct {
	Columns []string          `json:"columns"`
	Values  map[string]string `json:"values"`
}

func encodeRawRow(row domain.RawRow) (string, error) {
	if row.Len() == 0 {
		return "", nil
	}
	b, err := json.Marshal(rawRowJSON{Columns: row.Columns(), Values: row.Map()})
	if err != nil {
		return "", fmt.Errorf("encode raw row: %w", err)
	}
	return string(b), nil
}

func decodeRawRow(s string) (domain.RawRow, error) {
	if s == "" {
		return domain.RawRow{}, nil
	}
	var raw rawRowJSON
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return domain.RawRow{}, fmt.Errorf("decode raw row: %w", err)
	}
	return domain.NewRawRow(raw.Columns, raw.Values), nil
}

func toTransactionRow(t *domain.Transaction) (*TransactionRow, error) {
	raw, err := encodeRawRow(t.RawData)
	if err != nil {
		return nil, err
	}
	r := &TransactionRow{
		TransactionID:         t.ID,
		UserID:                t.UserID,
		UploadID:              t.UploadID,
		MerchantID:            nullString(t.MerchantID),
		MerchantRawName:       nullString(t.MerchantRawName),
		CategoryID:            nullString(t.CategoryID),
		OriginalAmount:        nullString(t.OriginalAmount),
		TransactionDate:       nullDate(t.TransactionDate),
		OriginalDate:          nullString(t.OriginalDate),
		Description:           nullString(t.Description),
		NormalizedDescription: nullString(t.NormalizedDescription),
		Status:                string(t.Status),
		TransactionType:       string(t.TransactionType),
		FailureCode:           nullString(t.FailureCode),
		ModifiedByUser:        t.ModifiedByUser,
		RawData:               nullString(raw),
		CreatedTS:             t.CreatedAt,
		UpdatedTS:             t.UpdatedAt,
	}
	if !t.Amount.IsZero() || t.OriginalAmount != "" {
		r.Amount = t.Amount.Rat()
	}
	return r, nil
}

func (r *TransactionRow) Domain() (*domain.Transaction, error) {
	raw, err := decodeRawRow(r.RawData.StringVal)
	if err != nil {
		return nil, fmt.Errorf("transaction %s: %w", r.TransactionID, err)
	}
	t := &domain.Transaction{
		ID:                    r.TransactionID,
		UserID:                r.UserID,
		UploadID:              r.UploadID,
		MerchantID:            r.MerchantID.StringVal,
		MerchantRawName:       r.MerchantRawName.StringVal,
		CategoryID:            r.CategoryID.StringVal,
		OriginalAmount:        r.OriginalAmount.StringVal,
		OriginalDate:          r.OriginalDate.StringVal,
		Description:           r.Description.StringVal,
		NormalizedDescription: r.NormalizedDescription.StringVal,
		Status:                domain.TransactionStatus(r.Status),
		TransactionType:       domain.TransactionType(r.TransactionType),
		FailureCode:           r.FailureCode.StringVal,
		ModifiedByUser:        r.ModifiedByUser,
		RawData:               raw,
		CreatedAt:             r.CreatedTS,
		UpdatedAt:             r.UpdatedTS,
	}
	if r.Amount != nil {
		amount, err := decimal.NewFromString(r.Amount.FloatString(numericScale))
		if err != nil {
			return nil, fmt.Errorf("transaction %s: amount: %w", r.TransactionID, err)
		}
		t.Amount = amount
	}
	if r.TransactionDate.Valid {
		t.TransactionDate = r.TransactionDate.Date.In(time.UTC)
	}
	return t, nil
}

func toUploadRow(u *domain.Upload) *UploadRow {
	return &UploadRow{
		UploadID:      u.ID,
		UserID:        u.UserID,
		Filename:      u.Filename,
		Checksum:      u.Checksum,
		ArchiveURI:    nullString(u.ArchiveURI),
		StructureHash: nullString(u.StructureHash),
		Status:        string(u.Status),
		Error:         nullString(u.Error),
		Owner:         nullString(u.Owner),
		ClaimedAt:     nullTimestamp(u.ClaimedAt),
		TokensInput:   int64(u.TokensInput),
		TokensOutput:  int64(u.TokensOutput),
		CreatedTS:     u.CreatedAt,
		CompletedTS:   nullTimestamp(u.CompletedAt),
	}
}

func (r *UploadRow) Domain() *domain.Upload {
	u := &domain.Upload{
		ID:            r.UploadID,
		UserID:        r.UserID,
		Filename:      r.Filename,
		Checksum:      r.Checksum,
		ArchiveURI:    r.ArchiveURI.StringVal,
		StructureHash: r.StructureHash.StringVal,
		Status:        domain.UploadStatus(r.Status),
		Error:         r.Error.StringVal,
		Owner:         r.Owner.StringVal,
		TokensInput:   int(r.TokensInput),
		TokensOutput:  int(r.TokensOutput),
		CreatedAt:     r.CreatedTS,
	}
	if r.ClaimedAt.Valid {
		u.ClaimedAt = r.ClaimedAt.Timestamp
	}
	if r.CompletedTS.Valid {
		u.CompletedAt = r.CompletedTS.Timestamp
	}
	return u
}

func (r *FileStructureRow) Domain() *domain.FileStructure {
	return &domain.FileStructure{
		Hash:                r.Hash,
		DateColumn:          r.DateColumn.StringVal,
		DescriptionColumn:   r.DescriptionColumn.StringVal,
		MerchantColumn:      r.MerchantColumn.StringVal,
		IncomeAmountColumn:  r.IncomeAmountColumn.StringVal,
		ExpenseAmountColumn: r.ExpenseAmountColumn.StringVal,
		OperationTypeColumn: r.OperationTypeColumn.StringVal,
		LowConfidence:       r.LowConfidence,
		Columns:             r.Columns,
		CreatedAt:           r.CreatedTS,
		UpdatedAt:           r.UpdatedTS,
	}
}
