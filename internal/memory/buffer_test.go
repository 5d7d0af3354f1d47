package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ent0n29/mnemo/internal/reliability"
	"github.com/ent0n29/mnemo/internal/session"
	"github.com/ent0n29/mnemo/internal/tokens"
)

var errTierDown = errors.New("tier down")

// failingTier rejects every call, simulating an unreachable backend.
type failingTier struct{}

func (failingTier) PushTail(context.Context, string, ...string) error { return errTierDown }
func (failingTier) PushHead(context.Context, string, ...string) error { return errTierDown }
func (failingTier) Range(context.Context, string, int64, int64) ([]string, error) {
	return nil, errTierDown
}
func (failingTier) Len(context.Context, string) (int64, error) { return 0, errTierDown }
func (failingTier) Trim(context.Context, string, int64, int64) error { return errTierDown }
func (failingTier) Expire(context.Context, string, time.Duration) error { return errTierDown }
func (failingTier) TTL(context.Context, string) (time.Duration, error) { return 0, errTierDown }
func (failingTier) Delete(context.Context, ...string) error { return errTierDown }
func (failingTier) Info(context.Context) (TierInfo, error) { return TierInfo{}, errTierDown }
func (failingTier) Ping(context.Context) error { return errTierDown }
func (failingTier) Close() error { return nil }

func newTestBreaker(threshold int) *reliability.Breaker {
	return reliability.NewBreaker(reliability.BreakerConfig{
		FailureThreshold: threshold,
		RecoveryTimeout:  time.Minute,
		CallTimeout:      time.Second,
	})
}

func newTestBuffer(tier FastTier) *BufferStore {
	return NewBufferStore(tier, newTestBreaker(100), tokens.NewCounter(nil), time.Hour, nil)
}

func TestBufferAppendAndMessages(t *testing.T) {
	ctx := context.Background()
	buf := newTestBuffer(NewInProcessTier())

	for i, content := range []string{"hello", "hi there", "how are you"} {
		msg := Message{Role: RoleUser, Content: content, Timestamp: int64(i)}
		if !buf.Append(ctx, "s1", msg) {
			t.Fatalf("Append(%q) = false, want true", content)
		}
	}

	msgs := buf.Messages(ctx, "s1", 0)
	if len(msgs) != 3 {
		t.Fatalf("len(msgs) = %d, want 3", len(msgs))
	}
	if msgs[0].Content != "hello" || msgs[2].Content != "how are you" {
		t.Fatalf("messages out of order: %v", msgs)
	}

	recent := buf.Messages(ctx, "s1", 2)
	if len(recent) != 2 || recent[0].Content != "hi there" {
		t.Fatalf("Messages(limit=2) = %v, want last two", recent)
	}
}

func TestBufferAppendNeverTrims(t *testing.T) {
	ctx := context.Background()
	buf := newTestBuffer(NewInProcessTier())
	cfg := session.Config{MaxBufferMessages: 5, MaxBufferTokens: 100000, SummaryTriggerTokens: 100000}

	for i := 0; i < 8; i++ {
		buf.Append(ctx, "s1", Message{Role: RoleUser, Content: "msg"})
	}

	msgs := buf.Messages(ctx, "s1", 0)
	if len(msgs) != 8 {
		t.Fatalf("buffer holds %d messages after appends, want 8 (no trim on write)", len(msgs))
	}

	candidates := buf.EvictionCandidates(msgs, cfg)
	if len(candidates) != 3 {
		t.Fatalf("EvictionCandidates = %d messages, want 3", len(candidates))
	}
}

func TestBufferEvictionCandidatesByTokens(t *testing.T) {
	buf := newTestBuffer(NewInProcessTier())
	// Four messages of ~25 tokens each (100 chars / 4).
	long := make([]byte, 100)
	for i := range long {
		long[i] = 'a'
	}
	msgs := make([]Message, 4)
	for i := range msgs {
		msgs[i] = Message{Role: RoleUser, Content: string(long)}
	}

	cfg := session.Config{MaxBufferMessages: 100, MaxBufferTokens: 60, SummaryTriggerTokens: 100000}
	candidates := buf.EvictionCandidates(msgs, cfg)
	if len(candidates) != 2 {
		t.Fatalf("EvictionCandidates = %d messages, want 2 (100 tokens over a 60 cap)", len(candidates))
	}

	if candidates[0].Content != msgs[0].Content {
		t.Fatal("candidates are not the oldest prefix")
	}
}

func TestBufferDropOldest(t *testing.T) {
	ctx := context.Background()
	buf := newTestBuffer(NewInProcessTier())

	for _, c := range []string{"a", "b", "c", "d"} {
		buf.Append(ctx, "s1", Message{Role: RoleUser, Content: c})
	}
	if !buf.DropOldest(ctx, "s1", 2) {
		t.Fatal("DropOldest = false, want true")
	}

	msgs := buf.Messages(ctx, "s1", 0)
	if len(msgs) != 2 || msgs[0].Content != "c" {
		t.Fatalf("after DropOldest(2): %v, want [c d]", msgs)
	}
}

func TestBufferDegradedTier(t *testing.T) {
	ctx := context.Background()
	buf := newTestBuffer(failingTier{})

	if buf.Append(ctx, "s1", Message{Role: RoleUser, Content: "hello"}) {
		t.Fatal("Append on failing tier = true, want false")
	}
	if msgs := buf.Messages(ctx, "s1", 0); msgs != nil {
		t.Fatalf("Messages on failing tier = %v, want nil", msgs)
	}
	info := buf.Info(ctx, "s1")
	if info.MessageCount != 0 || info.TokenCount != 0 {
		t.Fatalf("Info on failing tier = %+v, want zero", info)
	}
	if !buf.DropOldest(ctx, "s1", 0) {
		t.Fatal("DropOldest(0) should succeed without touching the tier")
	}
}

func TestBufferDecodeFallback(t *testing.T) {
	ctx := context.Background()
	tier := NewInProcessTier()
	buf := newTestBuffer(tier)

	if err := tier.PushTail(ctx, bufferKey("s1"), "not json at all"); err != nil {
		t.Fatal(err)
	}
	buf.Append(ctx, "s1", Message{Role: RoleUser, Content: "valid"})

	msgs := buf.Messages(ctx, "s1", 0)
	if len(msgs) != 2 {
		t.Fatalf("len(msgs) = %d, want 2", len(msgs))
	}
	if msgs[0].Content != "not json at all" {
		t.Fatalf("corrupt entry content = %q, want raw payload preserved", msgs[0].Content)
	}
	if msgs[1].Content != "valid" {
		t.Fatalf("valid entry content = %q", msgs[1].Content)
	}
}

func TestBufferShouldTriggerSummary(t *testing.T) {
	ctx := context.Background()
	buf := newTestBuffer(NewInProcessTier())

	// Two 40-char messages are ~20 tokens total.
	long := make([]byte, 40)
	for i := range long {
		long[i] = 'a'
	}
	buf.Append(ctx, "s1", Message{Role: RoleUser, Content: string(long)})
	buf.Append(ctx, "s1", Message{Role: RoleUser, Content: string(long)})

	if !buf.ShouldTriggerSummary(ctx, "s1", 15) {
		t.Fatal("ShouldTriggerSummary(threshold=15) = false, want true above threshold")
	}
	if buf.ShouldTriggerSummary(ctx, "s1", 50) {
		t.Fatal("ShouldTriggerSummary(threshold=50) = true, want false below threshold")
	}
	if buf.ShouldTriggerSummary(ctx, "s1", 0) {
		t.Fatal("ShouldTriggerSummary(threshold=0) = true, want false when disabled")
	}
}

func TestBufferTierInfo(t *testing.T) {
	ctx := context.Background()
	buf := newTestBuffer(NewInProcessTier())

	buf.Append(ctx, "s1", Message{Role: RoleUser, Content: "hello"})
	buf.Messages(ctx, "s1", 0)

	info, ok := buf.TierInfo(ctx)
	if !ok {
		t.Fatal("TierInfo = not ok, want tier info from a live tier")
	}
	if info.Backend != "inprocess" {
		t.Fatalf("Backend = %q, want inprocess", info.Backend)
	}
	if info.KeyCount != 1 {
		t.Fatalf("KeyCount = %d, want 1", info.KeyCount)
	}

	down := newTestBuffer(failingTier{})
	if _, ok := down.TierInfo(ctx); ok {
		t.Fatal("TierInfo on failing tier = ok, want not ok")
	}
}

func TestBufferTTLRefreshOnAppend(t *testing.T) {
	ctx := context.Background()
	tier := NewInProcessTier()
	buf := NewBufferStore(tier, newTestBreaker(100), tokens.NewCounter(nil), 30*time.Minute, nil)

	buf.Append(ctx, "s1", Message{Role: RoleUser, Content: "hello"})
	info := buf.Info(ctx, "s1")
	if info.TTLRemaining <= 0 {
		t.Fatalf("TTLRemaining = %d, want > 0", info.TTLRemaining)
	}
}
