package memory

import (
	"context"
	"sync"
	"testing"
)

// memDurable is an in-memory DurableStore for tests.
type memDurable struct {
	mu      sync.Mutex
	records map[string][]SummaryRecord
	saveErr error
}

func newMemDurable() *memDurable {
	return &memDurable{records: make(map[string][]SummaryRecord)}
}

func (d *memDurable) SaveSummary(_ context.Context, record SummaryRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.saveErr != nil {
		return d.saveErr
	}
	d.records[record.SessionID] = append(d.records[record.SessionID], record)
	return nil
}

func (d *memDurable) RecentSummaries(_ context.Context, sessionID string, limit int) ([]SummaryRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	all := d.records[sessionID]
	out := make([]SummaryRecord, 0, limit)
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (d *memDurable) DeleteSession(_ context.Context, sessionID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.records, sessionID)
	return nil
}

func (d *memDurable) Close() error { return nil }

func (d *memDurable) count(sessionID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.records[sessionID])
}

func TestSummaryAddAndCurrent(t *testing.T) {
	ctx := context.Background()
	store := NewSummaryStore(NewInProcessTier(), newTestBreaker(100), nil, WriteSync, 20, nil)

	if !store.Add(ctx, "s1", "first summary", 5, nil) {
		t.Fatal("Add = false, want true")
	}
	store.Add(ctx, "s1", "second summary", 7, nil)

	current, ok := store.Current(ctx, "s1")
	if !ok || current != "second summary" {
		t.Fatalf("Current = %q, %v; want most recent summary", current, ok)
	}

	history := store.History(ctx, "s1", 10)
	if len(history) != 2 {
		t.Fatalf("len(history) = %d, want 2", len(history))
	}
	if history[0].Text != "second summary" || history[1].Text != "first summary" {
		t.Fatal("history is not most-recent-first")
	}
	if history[0].SourceMessageCount != 7 {
		t.Fatalf("SourceMessageCount = %d, want 7", history[0].SourceMessageCount)
	}
}

func TestSummaryRetentionBound(t *testing.T) {
	ctx := context.Background()
	store := NewSummaryStore(NewInProcessTier(), newTestBreaker(100), nil, WriteSync, 3, nil)

	for _, text := range []string{"one", "two", "three", "four", "five"} {
		store.Add(ctx, "s1", text, 1, nil)
	}

	history := store.History(ctx, "s1", 10)
	if len(history) != 3 {
		t.Fatalf("len(history) = %d, want retention bound 3", len(history))
	}
	if history[0].Text != "five" || history[2].Text != "three" {
		t.Fatalf("retention kept wrong records: %v", history)
	}
}

func TestSummaryDurableWriteThrough(t *testing.T) {
	ctx := context.Background()
	durable := newMemDurable()
	store := NewSummaryStore(NewInProcessTier(), newTestBreaker(100), durable, WriteSync, 20, nil)

	store.Add(ctx, "s1", "persisted", 3, nil)
	if n := durable.count("s1"); n != 1 {
		t.Fatalf("durable records = %d, want 1", n)
	}
}

func TestSummaryDurableFallbackWhenFastTierDown(t *testing.T) {
	ctx := context.Background()
	durable := newMemDurable()
	store := NewSummaryStore(failingTier{}, newTestBreaker(100), durable, WriteSync, 20, nil)

	// Fast tier rejects the write; durable still accepts it.
	if !store.Add(ctx, "s1", "survivor", 2, nil) {
		t.Fatal("Add = false, want true when durable tier accepts")
	}

	current, ok := store.Current(ctx, "s1")
	if !ok || current != "survivor" {
		t.Fatalf("Current = %q, %v; want durable fallback", current, ok)
	}
}

func TestSummaryRehydratesColdFastTier(t *testing.T) {
	ctx := context.Background()
	durable := newMemDurable()
	durable.SaveSummary(ctx, SummaryRecord{ID: "r1", SessionID: "s1", Text: "from durable"})

	tier := NewInProcessTier()
	store := NewSummaryStore(tier, newTestBreaker(100), durable, WriteSync, 20, nil)

	current, ok := store.Current(ctx, "s1")
	if !ok || current != "from durable" {
		t.Fatalf("Current = %q, %v; want cold-start recovery", current, ok)
	}

	// The read path should now be warm.
	raw, err := tier.Range(ctx, summaryKey("s1"), 0, -1)
	if err != nil || len(raw) != 1 {
		t.Fatalf("fast tier after rehydration: %d entries, err %v; want 1", len(raw), err)
	}
}

func TestSummaryStats(t *testing.T) {
	ctx := context.Background()
	store := NewSummaryStore(NewInProcessTier(), newTestBreaker(100), nil, WriteSync, 20, nil)

	if stats := store.Stats(ctx, "s1"); stats.SummaryCount != 0 {
		t.Fatalf("SummaryCount = %d, want 0", stats.SummaryCount)
	}

	store.Add(ctx, "s1", "a summary", 4, nil)
	stats := store.Stats(ctx, "s1")
	if stats.SummaryCount != 1 {
		t.Fatalf("SummaryCount = %d, want 1", stats.SummaryCount)
	}
	if stats.LastUpdated.IsZero() {
		t.Fatal("LastUpdated is zero, want set")
	}
}

func TestSummaryClearBothTiers(t *testing.T) {
	ctx := context.Background()
	durable := newMemDurable()
	store := NewSummaryStore(NewInProcessTier(), newTestBreaker(100), durable, WriteSync, 20, nil)

	store.Add(ctx, "s1", "gone soon", 1, nil)
	if !store.Clear(ctx, "s1") {
		t.Fatal("Clear = false, want true")
	}
	if _, ok := store.Current(ctx, "s1"); ok {
		t.Fatal("Current after Clear = ok, want miss")
	}
	if n := durable.count("s1"); n != 0 {
		t.Fatalf("durable records after Clear = %d, want 0", n)
	}
}

func TestSummaryAsyncWriterFlushesOnClose(t *testing.T) {
	ctx := context.Background()
	durable := newMemDurable()
	store := NewSummaryStore(NewInProcessTier(), newTestBreaker(100), durable, WriteAsync, 20, nil)

	store.Add(ctx, "s1", "queued", 1, nil)
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}
	if n := durable.count("s1"); n != 1 {
		t.Fatalf("durable records after Close = %d, want 1", n)
	}
}
