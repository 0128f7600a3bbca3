package inmemory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/spesalog/spesalog/internal/domain"
	"github.com/spesalog/spesalog/internal/store"
)

func TestGetOrCreateMerchantAtomic(t *testing.T) {
	s := New()
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]string, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// All names normalize to the same key.
			m, _, err := s.GetOrCreateMerchant(ctx, "u1", "Supermercato X")
			if err != nil {
				t.Error(err)
				return
			}
			ids[i] = m.ID
		}(i)
	}
	wg.Wait()

	for _, id := range ids[1:] {
		if id != ids[0] {
			t.Fatal("concurrent get-or-create produced distinct merchants")
		}
	}

	merchants, _ := s.ListMerchants(ctx, "u1")
	if len(merchants) != 1 {
		t.Fatalf("merchant count = %d, want 1", len(merchants))
	}
}

func TestTransactionOwnership(t *testing.T) {
	s := New()
	ctx := context.Background()

	tx := &domain.Transaction{UserID: "u1", UploadID: "up1", Status: domain.StatusPending}
	if err := s.CreateTransactions(ctx, []*domain.Transaction{tx}); err != nil {
		t.Fatal(err)
	}

	if _, err := s.GetTransaction(ctx, "u2", tx.ID); !errors.Is(err, store.ErrNotOwned) {
		t.Errorf("cross-user read error = %v, want ErrNotOwned", err)
	}
	if _, err := s.GetTransaction(ctx, "u1", "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("missing read error = %v, want ErrNotFound", err)
	}
}

func TestDuplicateChecksumRejected(t *testing.T) {
	s := New()
	ctx := context.Background()

	first := &domain.Upload{UserID: "u1", Filename: "a.csv", Checksum: "abc"}
	if err := s.CreateUpload(ctx, first); err != nil {
		t.Fatal(err)
	}
	again := &domain.Upload{UserID: "u1", Filename: "a-copy.csv", Checksum: "abc"}
	if err := s.CreateUpload(ctx, again); !errors.Is(err, store.ErrDuplicate) {
		t.Errorf("err = %v, want ErrDuplicate", err)
	}
	otherUser := &domain.Upload{UserID: "u2", Filename: "a.csv", Checksum: "abc"}
	if err := s.CreateUpload(ctx, otherUser); err != nil {
		t.Errorf("checksum scope must be per user: %v", err)
	}
}

func TestCreateUploadGeneratesID(t *testing.T) {
	s := New()
	ctx := context.Background()

	u := &domain.Upload{UserID: "u1", Filename: "a.csv", Checksum: "abc"}
	if err := s.CreateUpload(ctx, u); err != nil {
		t.Fatal(err)
	}
	if u.ID == "" {
		t.Fatal("upload ID not assigned")
	}
	if _, err := s.GetUpload(ctx, u.ID); err != nil {
		t.Errorf("GetUpload(%q) = %v", u.ID, err)
	}
	again := &domain.Upload{UserID: "u1", Filename: "a-copy.csv", Checksum: "abc"}
	if err := s.CreateUpload(ctx, again); !errors.Is(err, store.ErrDuplicate) {
		t.Errorf("err = %v, want ErrDuplicate", err)
	}
}

func TestClaimUpload(t *testing.T) {
	s := New()
	ctx := context.Background()
	grace := 10 * time.Minute

	u := &domain.Upload{UserID: "u1", Filename: "a.csv"}
	if err := s.CreateUpload(ctx, u); err != nil {
		t.Fatal(err)
	}

	if _, err := s.ClaimUpload(ctx, u.ID, "worker-1", grace); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ClaimUpload(ctx, u.ID, "worker-2", grace); !errors.Is(err, store.ErrUploadLocked) {
		t.Errorf("second claim error = %v, want ErrUploadLocked", err)
	}
	// Re-claim by the same owner is allowed (resume after restart).
	if _, err := s.ClaimUpload(ctx, u.ID, "worker-1", grace); err != nil {
		t.Errorf("owner re-claim failed: %v", err)
	}

	// A second upload of the same user is serialized behind the first.
	u2 := &domain.Upload{UserID: "u1", Filename: "b.csv"}
	if err := s.CreateUpload(ctx, u2); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ClaimUpload(ctx, u2.ID, "worker-2", grace); !errors.Is(err, store.ErrUploadLocked) {
		t.Errorf("same-user parallel claim error = %v, want ErrUploadLocked", err)
	}

	// Release, then the next upload can proceed.
	if err := s.ReleaseUpload(ctx, u.ID, "worker-1", domain.UploadStatusCompleted, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ClaimUpload(ctx, u2.ID, "worker-2", grace); err != nil {
		t.Errorf("claim after release failed: %v", err)
	}

	// Completed uploads cannot be re-claimed.
	if _, err := s.ClaimUpload(ctx, u.ID, "worker-3", grace); !errors.Is(err, store.ErrUploadLocked) {
		t.Errorf("claim of completed upload error = %v, want ErrUploadLocked", err)
	}
}

func TestStaleClaimTakenOver(t *testing.T) {
	s := New()
	ctx := context.Background()

	u := &domain.Upload{UserID: "u1", Filename: "a.csv"}
	if err := s.CreateUpload(ctx, u); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ClaimUpload(ctx, u.ID, "dead-worker", time.Minute); err != nil {
		t.Fatal(err)
	}

	// Zero grace treats every existing claim as dead.
	claimed, err := s.ClaimUpload(ctx, u.ID, "watchdog", 0)
	if err != nil {
		t.Fatalf("takeover of stale claim failed: %v", err)
	}
	if claimed.Owner != "watchdog" {
		t.Errorf("owner = %q, want watchdog", claimed.Owner)
	}
}

func TestRunInTransactionRollsBack(t *testing.T) {
	s := New()
	ctx := context.Background()

	tx := &domain.Transaction{UserID: "u1", UploadID: "up1", Status: domain.StatusPending}
	if err := s.CreateTransactions(ctx, []*domain.Transaction{tx}); err != nil {
		t.Fatal(err)
	}

	boom := errors.New("boom")
	err := s.RunInTransaction(ctx, func(ctx context.Context) error {
		tx.Status = domain.StatusCategorized
		if err := s.UpdateTransaction(ctx, tx); err != nil {
			return err
		}
		if err := s.CreateTransactions(ctx, []*domain.Transaction{
			{UserID: "u1", UploadID: "up1", Status: domain.StatusPending},
		}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}

	got, err := s.GetTransaction(ctx, "u1", tx.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusPending {
		t.Errorf("status = %s, rollback did not restore pending", got.Status)
	}
	all, _ := s.ListByUpload(ctx, "up1")
	if len(all) != 1 {
		t.Errorf("row count = %d after rollback, want 1", len(all))
	}
}

func TestFindDuplicate(t *testing.T) {
	s := New()
	ctx := context.Background()
	date := time.Date(2025, 10, 14, 0, 0, 0, 0, time.UTC)

	tx := &domain.Transaction{
		UserID:                "u1",
		UploadID:              "up1",
		Status:                domain.StatusCategorized,
		NormalizedDescription: "supermercato x",
		TransactionDate:       date,
	}
	if err := s.CreateTransactions(ctx, []*domain.Transaction{tx}); err != nil {
		t.Fatal(err)
	}

	if _, err := s.FindDuplicate(ctx, "u1", "supermercato x", date); err != nil {
		t.Errorf("expected duplicate hit: %v", err)
	}
	if _, err := s.FindDuplicate(ctx, "u1", "supermercato x", date.AddDate(0, 0, 1)); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("different date must not match: %v", err)
	}
	if _, err := s.FindDuplicate(ctx, "u2", "supermercato x", date); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("other user must not match: %v", err)
	}
}

func TestCountByUploadStatus(t *testing.T) {
	s := New()
	ctx := context.Background()

	rows := []*domain.Transaction{
		{UserID: "u1", UploadID: "up1", Status: domain.StatusCategorized},
		{UserID: "u1", UploadID: "up1", Status: domain.StatusCategorized},
		{UserID: "u1", UploadID: "up1", Status: domain.StatusUncategorized},
		{UserID: "u1", UploadID: "up1", Status: domain.StatusPending},
		{UserID: "u1", UploadID: "other", Status: domain.StatusPending},
	}
	if err := s.CreateTransactions(ctx, rows); err != nil {
		t.Fatal(err)
	}

	p, err := s.CountByUploadStatus(ctx, "up1")
	if err != nil {
		t.Fatal(err)
	}
	if p.Total != 4 || p.Categorized != 2 || p.Uncategorized != 1 || p.Pending != 1 {
		t.Errorf("progress = %+v", p)
	}
	if p.Done() {
		t.Error("upload with a pending row must not be done")
	}
}

func TestSaveStructureFirstWriterWins(t *testing.T) {
	s := New()
	ctx := context.Background()
	hash := domain.StructureHash([]string{"DATA", "USCITE"})

	first := &domain.FileStructure{Hash: hash, DateColumn: "DATA", ExpenseAmountColumn: "USCITE", DescriptionColumn: "DESCRIZIONE"}
	if _, err := s.SaveStructure(ctx, first); err != nil {
		t.Fatal(err)
	}

	second := &domain.FileStructure{Hash: hash, DateColumn: "ALTRO"}
	got, err := s.SaveStructure(ctx, second)
	if err != nil {
		t.Fatal(err)
	}
	if got.DateColumn != "DATA" {
		t.Errorf("existing structure overwritten: %+v", got)
	}

	// A full structure replaces a low-confidence one.
	lowHash := domain.StructureHash([]string{"X"})
	if _, err := s.SaveStructure(ctx, &domain.FileStructure{Hash: lowHash, LowConfidence: true}); err != nil {
		t.Fatal(err)
	}
	upgraded, err := s.SaveStructure(ctx, &domain.FileStructure{Hash: lowHash, DateColumn: "X", DescriptionColumn: "X", ExpenseAmountColumn: "X"})
	if err != nil {
		t.Fatal(err)
	}
	if upgraded.LowConfidence || upgraded.DateColumn != "X" {
		t.Errorf("low-confidence structure not upgraded: %+v", upgraded)
	}
}
