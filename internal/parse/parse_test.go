package parse

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spesalog/spesalog/internal/domain"
)

func row(pairs ...string) domain.RawRow {
	cols := make([]string, 0, len(pairs)/2)
	vals := make(map[string]string, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		cols = append(cols, pairs[i])
		vals[pairs[i]] = pairs[i+1]
	}
	return domain.NewRawRow(cols, vals)
}

func TestParseAmountTokenFormats(t *testing.T) {
	tests := []struct {
		token string
		want  string
	}{
		{"1.234,56", "1234.56"},
		{"1,234.56", "1234.56"},
		{"-1 234,56", "-1234.56"},
		{"-4,42", "-4.42"},
		{"+1000,00", "1000"},
		{"12", "12"},
		{"0,5", "0.5"},
	}
	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			got, _, ok := parseAmountToken(tt.token)
			if !ok {
				t.Fatalf("parseAmountToken(%q) failed", tt.token)
			}
			want, _ := decimal.NewFromString(tt.want)
			if !got.Equal(want) {
				t.Errorf("parseAmountToken(%q) = %s, want %s", tt.token, got, want)
			}
		})
	}
}

func TestAmountFormatInvariance(t *testing.T) {
	italian, _, _ := parseAmountToken("1.234,56")
	us, _, _ := parseAmountToken("1,234.56")
	spaced, _, _ := parseAmountToken("-1 234,56")

	if !italian.Equal(us) {
		t.Errorf("locale variants disagree: %s vs %s", italian, us)
	}
	if !spaced.Abs().Equal(italian) {
		t.Errorf("space-grouped variant disagrees: %s vs %s", spaced, italian)
	}
	if !spaced.IsNegative() {
		t.Error("sign lost on -1 234,56")
	}
}

func TestExtractShortestFieldWinsOnDisagreement(t *testing.T) {
	r := row(
		"DESCRIZIONE", "PAGAMENTO POS 12,99 PRESSO BAR CENTRALE",
		"IMPORTO", "-4,42",
		"DATA", "14/10/2025",
	)
	p := Extract(r, nil)
	if p.OriginalAmount != "-4,42" {
		t.Errorf("amount from shortest field expected, got %q from %q", p.OriginalAmount, p.AmountColumn)
	}
}

func TestExtractTwoDecimalPreference(t *testing.T) {
	// The reference number is a bare integer and must lose to the real amount.
	r := row(
		"RIF", "987654",
		"IMPORTO", "-50,00",
		"DATA", "01/11/2025",
	)
	p := Extract(r, nil)
	if !p.Amount.Equal(decimal.RequireFromString("-50")) {
		t.Errorf("amount = %s, want -50", p.Amount)
	}
}

func TestExtractIntegerAcceptedWhenOnlyCandidate(t *testing.T) {
	r := row("IMPORTO", "-120", "DATA", "01/11/2025", "DESCRIZIONE", "AFFITTO")
	p := Extract(r, nil)
	if !p.IsValid() {
		t.Fatal("integer-only amount must still be accepted when nothing else matches")
	}
	if !p.Amount.Equal(decimal.RequireFromString("-120")) {
		t.Errorf("amount = %s, want -120", p.Amount)
	}
}

func TestExtractEarliestDateWins(t *testing.T) {
	r := row("A", "20/10/2025", "B", "10/10/2025", "IMPORTO", "-4,42")
	p := Extract(r, nil)
	want := time.Date(2025, 10, 10, 0, 0, 0, 0, time.UTC)
	if !p.Date.Equal(want) {
		t.Errorf("date = %s, want %s", p.Date, want)
	}
	if p.DateColumn != "B" {
		t.Errorf("date column = %q, want B", p.DateColumn)
	}
}

func TestExtractMultipleDatesInOneField(t *testing.T) {
	r := row("DATE", "20/10/2025 18/10/2025", "IMPORTO", "-4,42")
	p := Extract(r, nil)
	want := time.Date(2025, 10, 18, 0, 0, 0, 0, time.UTC)
	if !p.Date.Equal(want) {
		t.Errorf("date = %s, want %s", p.Date, want)
	}
}

func TestDateFormatsDayFirst(t *testing.T) {
	got, ok := ParseDate("03/04/2025")
	if !ok {
		t.Fatal("parse failed")
	}
	if got.Month() != time.April || got.Day() != 3 {
		t.Errorf("03/04/2025 parsed as %s, want 3 April (day-first)", got)
	}
}

func TestExtractValidity(t *testing.T) {
	valid := Extract(row("IMPORTO", "-4,42", "DATA", "14/10/2025"), nil)
	if !valid.IsValid() {
		t.Error("row with amount and date must be valid")
	}

	noDate := Extract(row("IMPORTO", "-4,42", "NOTE", "nessuna data"), nil)
	if noDate.IsValid() {
		t.Error("row without a date must be invalid")
	}

	noAmount := Extract(row("DATA", "14/10/2025", "NOTE", "solo testo"), nil)
	if noAmount.IsValid() {
		t.Error("row without an amount must be invalid")
	}
}

func TestExtractDescriptionLongestRemainingField(t *testing.T) {
	r := row(
		"DATA", "14/10/2025",
		"USCITE", "-4,42",
		"CAUSALE", "POS",
		"DESCRIZIONE", "SUPERMERCATO X VIA ROMA",
	)
	p := Extract(r, nil)
	if p.Description != "SUPERMERCATO X VIA ROMA" {
		t.Errorf("description = %q", p.Description)
	}
}

func TestExtractWithStructure(t *testing.T) {
	s := &domain.FileStructure{
		DateColumn:          "DATA",
		DescriptionColumn:   "DESCRIZIONE",
		ExpenseAmountColumn: "USCITE",
		IncomeAmountColumn:  "ENTRATE",
	}

	expense := Extract(row(
		"DATA", "14/10/2025", "DESCRIZIONE", "SUPERMERCATO X", "USCITE", "-4,42", "ENTRATE", "",
	), s)
	if expense.Type != domain.TypeExpense {
		t.Errorf("type = %s, want expense", expense.Type)
	}
	if !expense.Amount.Equal(decimal.RequireFromString("-4.42")) {
		t.Errorf("amount = %s", expense.Amount)
	}

	income := Extract(row(
		"DATA", "01/11/2025", "DESCRIZIONE", "STIPENDIO", "USCITE", "", "ENTRATE", "+1000,00",
	), s)
	if income.Type != domain.TypeIncome {
		t.Errorf("type = %s, want income", income.Type)
	}
	if !income.Amount.Equal(decimal.RequireFromString("1000")) {
		t.Errorf("amount = %s", income.Amount)
	}
}

func TestCompactDateRequiresDigitsOnly(t *testing.T) {
	if _, ok := parseDateToken("20.10.25"); ok {
		// 8 chars but with separators, must not hit the compact layout.
		t.Log("parsed via a short layout, acceptable")
	}
	if _, ok := parseDateToken("20251014"); !ok {
		t.Error("compact YYYYMMDD should parse")
	}
}
