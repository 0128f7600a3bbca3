package match

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spesalog/spesalog/internal/domain"
	"github.com/spesalog/spesalog/internal/store/inmemory"
)

func testConfig() Config {
	return Config{
		FuzzyThreshold:          0.80,
		MerchantFuzzyThreshold:  0.85,
		SemanticAutoDistance:    0.06,
		SemanticContextDistance: 0.25,
	}
}

// seedCategorized inserts a categorized transaction with its merchant.
func seedCategorized(t *testing.T, s *inmemory.Store, userID, merchantName, categoryName, desc string, date time.Time) *domain.Transaction {
	t.Helper()
	ctx := context.Background()
	m, _, err := s.GetOrCreateMerchant(ctx, userID, merchantName)
	if err != nil {
		t.Fatal(err)
	}
	c, _, err := s.GetOrCreateCategory(ctx, userID, categoryName)
	if err != nil {
		t.Fatal(err)
	}
	txn := &domain.Transaction{
		UserID:          userID,
		UploadID:        "seed",
		MerchantID:      m.ID,
		MerchantRawName: merchantName,
		CategoryID:      c.ID,
		Description:     desc,
		Status:          domain.StatusCategorized,
		TransactionDate: date,
	}
	if err := s.CreateTransactions(ctx, []*domain.Transaction{txn}); err != nil {
		t.Fatal(err)
	}
	return txn
}

func TestCleanDescription(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"PAGAMENTO POS 14/10/2025 12:30 SUPERMERCATO X CARTA *1234567890", "pagamento pos supermercato x carta"},
		{"BONIFICO 1.234,56 AFFITTO", "bonifico affitto"},
		{"ESSELUNGA  MILANO", "esselunga milano"},
	}
	for _, tt := range tests {
		if got := CleanDescription(tt.in); got != tt.want {
			t.Errorf("CleanDescription(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSimilarity(t *testing.T) {
	if s := Similarity("esselunga", "esselunga"); s != 1 {
		t.Errorf("identical strings similarity = %v", s)
	}
	if s := Similarity("esselunga", "coop"); s > 0.2 {
		t.Errorf("unrelated strings similarity = %v", s)
	}
	close := Similarity("supermercato x", "supermercato x milano")
	if close < 0.4 {
		t.Errorf("near strings similarity = %v", close)
	}
}

func TestWordSimilarityFindsNameInsideDescription(t *testing.T) {
	s := WordSimilarity("esselunga", "pagamento pos esselunga milano carta")
	if s < 0.9 {
		t.Errorf("WordSimilarity = %v, want ~1 for exact word hit", s)
	}
}

func TestExactMatchShortCircuits(t *testing.T) {
	s := inmemory.New()
	ctx := context.Background()
	base := time.Date(2025, 10, 14, 0, 0, 0, 0, time.UTC)

	seedCategorized(t, s, "u1", "SUPERMERCATO X", "spesa", "SUPERMERCATO X VIA ROMA", base)

	// An embedder that fails loudly proves the semantic stage never runs.
	m := New(s, failingEmbedder{}, nil, testConfig())

	res, err := m.FindReference(ctx, "u1", Candidate{
		MerchantHint: "Supermercato X",
		Description:  "SUPERMERCATO X VIA ROMA 99",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Reference == nil {
		t.Fatal("expected exact match reference")
	}
	if res.Reference.MerchantRawName != "SUPERMERCATO X" {
		t.Errorf("reference merchant = %q", res.Reference.MerchantRawName)
	}
}

func TestExactMatchMostFrequentCategoryWins(t *testing.T) {
	s := inmemory.New()
	ctx := context.Background()
	base := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)

	seedCategorized(t, s, "u1", "COOP", "spesa", "COOP MILANO", base)
	seedCategorized(t, s, "u1", "COOP", "spesa", "COOP MILANO", base.AddDate(0, 0, 1))
	seedCategorized(t, s, "u1", "COOP", "casa", "COOP MILANO", base.AddDate(0, 0, 2))

	m := New(s, nil, nil, testConfig())
	res, err := m.FindReference(ctx, "u1", Candidate{MerchantHint: "coop", Description: "COOP MILANO"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Reference == nil {
		t.Fatal("expected reference")
	}
	cats, _ := s.ListCategories(ctx, "u1")
	var want string
	for _, c := range cats {
		if c.Name == "spesa" {
			want = c.ID
		}
	}
	if res.Reference.CategoryID != want {
		t.Errorf("category = %s, want the twice-used spesa", res.Reference.CategoryID)
	}
}

func TestFuzzyMatchThreshold(t *testing.T) {
	s := inmemory.New()
	ctx := context.Background()
	base := time.Date(2025, 10, 14, 0, 0, 0, 0, time.UTC)

	seedCategorized(t, s, "u1", "ESSELUNGA", "spesa", "PAGAMENTO POS ESSELUNGA MILANO", base)

	m := New(s, nil, nil, testConfig())

	// Same merchant buried in a different row's description.
	res, err := m.FindReference(ctx, "u1", Candidate{Description: "PAGAMENTO POS ESSELUNGA MILANO 18/11/2025"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Reference == nil {
		t.Fatal("expected fuzzy match")
	}

	// Unrelated description must not match.
	res, err = m.FindReference(ctx, "u1", Candidate{Description: "FARMACIA COMUNALE CENTRO"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Reference != nil {
		t.Errorf("unexpected match on unrelated description: %q", res.Reference.Description)
	}
}

// stubEmbedder returns canned vectors keyed by cleaned text.
type stubEmbedder struct {
	vectors map[string][]float32
}

func (e stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if v, ok := e.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("embedder must not be called")
}

func TestSemanticAutoAccept(t *testing.T) {
	s := inmemory.New()
	ctx := context.Background()
	base := time.Date(2025, 10, 14, 0, 0, 0, 0, time.UTC)

	ref := seedCategorized(t, s, "u1", "NETFLIX", "abbonamenti", "NETFLIX ABBONAMENTO", base)

	emb := stubEmbedder{vectors: map[string][]float32{
		"netflix abbonamento": {1, 0, 0},
		"abbonamento netflix": {0.999, 0.01, 0},
	}}
	m := New(s, emb, nil, testConfig())

	res, err := m.FindReference(ctx, "u1", Candidate{Description: "ABBONAMENTO NETFLIX"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Reference == nil || res.Reference.ID != ref.ID {
		t.Fatalf("expected semantic auto-accept of %s, got %+v", ref.ID, res.Reference)
	}
}

func TestSemanticAmbiguityGuard(t *testing.T) {
	s := inmemory.New()
	ctx := context.Background()
	base := time.Date(2025, 10, 14, 0, 0, 0, 0, time.UTC)

	seedCategorized(t, s, "u1", "FARMACIA ROSSI", "spese mediche", "FARMACIA ROSSI MILANO", base)

	// Embeddings are nearly identical, but the candidate differs by the
	// non-numeric word BIANCHI that is not part of the matched merchant.
	emb := stubEmbedder{vectors: map[string][]float32{
		"farmacia rossi milano":   {1, 0, 0},
		"farmacia bianchi milano": {0.999, 0.01, 0},
	}}
	m := New(s, emb, nil, testConfig())

	res, err := m.FindReference(ctx, "u1", Candidate{Description: "FARMACIA BIANCHI MILANO"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Reference != nil {
		t.Error("ambiguous semantic match must not be auto-accepted")
	}
	if len(res.Context) == 0 {
		t.Error("near match should still be forwarded as context")
	}
}

func TestSemanticNumericDifferencesDoNotInvalidate(t *testing.T) {
	s := inmemory.New()
	ctx := context.Background()
	base := time.Date(2025, 10, 14, 0, 0, 0, 0, time.UTC)

	ref := seedCategorized(t, s, "u1", "ESSELUNGA", "spesa", "ESSELUNGA MILANO 14/10/2025", base)

	emb := stubEmbedder{vectors: map[string][]float32{
		"esselunga milano": {1, 0, 0},
	}}
	m := New(s, emb, nil, testConfig())

	res, err := m.FindReference(ctx, "u1", Candidate{Description: "ESSELUNGA MILANO 18/11/2025"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Reference == nil || res.Reference.ID != ref.ID {
		t.Error("date-only difference must not block the auto-accept")
	}
}

func TestTemplateLearner(t *testing.T) {
	s := inmemory.New()
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 10; i++ {
		seedCategorized(t, s, "u1", "MERCHANT", "spesa",
			"pagamento pos MERCHANT operazione", base.AddDate(0, 0, i))
	}

	l := NewTemplateLearner(s, 5, 0.35)
	if err := l.Learn(ctx, "u1"); err != nil {
		t.Fatal(err)
	}

	cleaned := l.Clean("u1", "pagamento pos FARMACIA operazione")
	if cleaned != "FARMACIA" {
		t.Errorf("Clean = %q, want boilerplate stripped", cleaned)
	}

	// Below the sample floor nothing is learned.
	l2 := NewTemplateLearner(s, 100, 0.35)
	if err := l2.Learn(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	if got := l2.Clean("u1", "pagamento pos FARMACIA"); got != "pagamento pos FARMACIA" {
		t.Errorf("undersampled learner must pass through, got %q", got)
	}
}
