package bigquery

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spesalog/spesalog/internal/domain"
)

func TestTransactionRowRoundTrip(t *testing.T) {
	raw := domain.NewRawRow(
		[]string{"DATA", "USCITE", "DESCRIZIONE"},
		map[string]string{"DATA": "01/02/2024", "USCITE": "-4,42", "DESCRIZIONE": "PAGAMENTO POS"},
	)
	in := &domain.Transaction{
		ID:                    "tx-1",
		UserID:                "user-1",
		UploadID:              "up-1",
		MerchantID:            "m-1",
		MerchantRawName:       "ESSELUNGA",
		CategoryID:            "c-1",
		Amount:                decimal.RequireFromString("-4.42"),
		OriginalAmount:        "-4,42",
		TransactionDate:       time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		OriginalDate:          "01/02/2024",
		Description:           "PAGAMENTO POS",
		NormalizedDescription: "pagamento pos",
		Status:                domain.StatusCategorized,
		TransactionType:       domain.TypeExpense,
		RawData:               raw,
		CreatedAt:             time.Date(2024, 2, 2, 10, 0, 0, 0, time.UTC),
	}

	row, err := toTransactionRow(in)
	require.NoError(t, err)
	out, err := row.Domain()
	require.NoError(t, err)

	assert.Equal(t, in.ID, out.ID)
	assert.True(t, out.Amount.Equal(in.Amount), "got %s", out.Amount)
	assert.Equal(t, in.TransactionDate, out.TransactionDate)
	assert.Equal(t, in.Status, out.Status)
	assert.Equal(t, in.RawData.Columns(), out.RawData.Columns(), "raw column order survives the round trip")
	assert.Equal(t, "-4,42", out.RawData.Value("USCITE"))
}

func TestTransactionRowZeroValues(t *testing.T) {
	in := &domain.Transaction{
		ID:       "tx-1",
		UserID:   "user-1",
		UploadID: "up-1",
		Status:   domain.StatusPending,
	}
	row, err := toTransactionRow(in)
	require.NoError(t, err)
	assert.Nil(t, row.Amount, "zero amount maps to NULL, not 0")
	assert.False(t, row.TransactionDate.Valid)

	out, err := row.Domain()
	require.NoError(t, err)
	assert.True(t, out.Amount.IsZero())
	assert.True(t, out.TransactionDate.IsZero())
}

func TestUploadRowRoundTrip(t *testing.T) {
	in := &domain.Upload{
		ID:            "up-1",
		UserID:        "user-1",
		Filename:      "export.csv",
		Checksum:      "abc",
		ArchiveURI:    "gs://bucket/uploads/user-1/x-export.csv",
		StructureHash: "h1",
		Status:        domain.UploadStatusProcessing,
		Owner:         "worker-1",
		ClaimedAt:     time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC),
		TokensInput:   120,
		TokensOutput:  45,
	}
	out := toUploadRow(in).Domain()
	assert.Equal(t, in, out)
}
