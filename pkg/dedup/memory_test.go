package dedup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestClaimCreatesAndCountsAttempts(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	rec, ok, err := store.Claim(ctx, "analysis", "d-100")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if !ok || rec.Attempts != 1 || rec.Status != StatusPending {
		t.Fatalf("unexpected first claim: ok=%v rec=%+v", ok, rec)
	}

	rec, ok, err = store.Claim(ctx, "analysis", "d-100")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if !ok || rec.Attempts != 2 {
		t.Fatalf("expected second attempt, got ok=%v rec=%+v", ok, rec)
	}
}

func TestClaimAfterSuccessIsSkipped(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, _, err := store.Claim(ctx, "analysis", "d-100"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := store.MarkSucceeded(ctx, "analysis", "d-100"); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}

	rec, ok, err := store.Claim(ctx, "analysis", "d-100")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if ok {
		t.Fatal("claim after succeeded must not allow processing")
	}
	if rec.Status != StatusSucceeded || rec.Attempts != 1 {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestGroupsAreIndependent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, _, err := store.Claim(ctx, "analysis", "d-100"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := store.MarkSucceeded(ctx, "analysis", "d-100"); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}

	_, ok, err := store.Claim(ctx, "chat", "d-100")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if !ok {
		t.Fatal("another consumer group must process the delivery independently")
	}
}

func TestTerminalTransitionIsExactlyOnce(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, _, err := store.Claim(ctx, "g", "d-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := store.MarkFailed(ctx, "g", "d-1"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := store.MarkFailed(ctx, "g", "d-1"); err != nil {
		t.Fatalf("re-marking same outcome must be a no-op: %v", err)
	}
	if err := store.MarkSucceeded(ctx, "g", "d-1"); !errors.Is(err, ErrResolved) {
		t.Fatalf("expected ErrResolved for conflicting transition, got %v", err)
	}
}

func TestConcurrentResolveSingleWinner(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, _, err := store.Claim(ctx, "g", "d-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	const workers = 16
	var wg sync.WaitGroup
	results := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				results[i] = store.MarkSucceeded(ctx, "g", "d-1")
			} else {
				results[i] = store.MarkFailed(ctx, "g", "d-1")
			}
		}(i)
	}
	wg.Wait()

	rec, found, err := store.Get(ctx, "g", "d-1")
	if err != nil || !found {
		t.Fatalf("get: found=%v err=%v", found, err)
	}
	if rec.Status != StatusSucceeded && rec.Status != StatusFailed {
		t.Fatalf("record must be terminal, got %+v", rec)
	}
	for i, res := range results {
		if res != nil && !errors.Is(res, ErrResolved) {
			t.Fatalf("worker %d: unexpected error %v", i, res)
		}
	}
}

func TestPurgeKeepsPendingRecords(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, _, err := store.Claim(ctx, "g", "old-done"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := store.MarkSucceeded(ctx, "g", "old-done"); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}
	if _, _, err := store.Claim(ctx, "g", "old-pending"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	removed, err := store.Purge(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 purged record, got %d", removed)
	}
	if _, found, _ := store.Get(ctx, "g", "old-pending"); !found {
		t.Fatal("pending records must survive purge")
	}
}
