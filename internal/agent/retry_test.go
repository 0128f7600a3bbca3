package agent

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWithRetrySucceedsAfterFailures(t *testing.T) {
	attempts := 0
	err := withRetry(context.Background(), 5, time.Millisecond, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestWithRetryExhaustsBudget(t *testing.T) {
	boom := errors.New("down")
	attempts := 0
	err := withRetry(context.Background(), 2, time.Millisecond, func() error {
		attempts++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want initial call plus 2 retries", attempts)
	}
}

func TestWithRetryZeroBaseDelay(t *testing.T) {
	boom := errors.New("down")
	attempts := 0
	err := withRetry(context.Background(), 2, 0, func() error {
		attempts++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want initial call plus 2 retries", attempts)
	}
}

func TestWithRetryHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := withRetry(ctx, 5, time.Hour, func() error {
		return errors.New("always")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestFakeCategorizer(t *testing.T) {
	f := NewFake(map[string]string{"SUPERMERCATO": "spesa"})
	res, err := f.CategorizeBatch(context.Background(), BatchRequest{
		Items: []BatchItem{
			{ID: "t1", Description: "SUPERMERCATO X", Amount: "-4,42"},
			{ID: "t2", Description: "STIPENDIO", Amount: "+1000,00"},
			{ID: "t3", Description: "QUALCOSA DI IGNOTO", Amount: "-9,99"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Categorizations[0].Category != "spesa" {
		t.Errorf("t1 category = %q", res.Categorizations[0].Category)
	}
	if !res.Categorizations[1].NotExpense {
		t.Error("positive amount must be flagged not_expense")
	}
	if res.Categorizations[2].Category != "altro" {
		t.Errorf("fallback category = %q", res.Categorizations[2].Category)
	}
}
