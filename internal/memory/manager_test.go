package memory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ent0n29/mnemo/internal/redact"
	"github.com/ent0n29/mnemo/internal/reliability"
	"github.com/ent0n29/mnemo/internal/session"
	"github.com/ent0n29/mnemo/internal/tokens"
)

// funcSummarizer adapts a function to the Summarizer interface.
type funcSummarizer func(ctx context.Context, prior string, msgs []Message) (string, error)

func (f funcSummarizer) Summarize(ctx context.Context, prior string, msgs []Message) (string, error) {
	return f(ctx, prior, msgs)
}

func joinSummarizer() Summarizer {
	return funcSummarizer(func(_ context.Context, prior string, msgs []Message) (string, error) {
		parts := make([]string, 0, len(msgs)+1)
		if prior != "" {
			parts = append(parts, prior)
		}
		for _, m := range msgs {
			parts = append(parts, m.Content)
		}
		return strings.Join(parts, " | "), nil
	})
}

func failSummarizer() Summarizer {
	return funcSummarizer(func(context.Context, string, []Message) (string, error) {
		return "", errors.New("model unavailable")
	})
}

type managerOpts struct {
	tier       FastTier
	breaker    *reliability.Breaker
	summarizer Summarizer
	redactor   *redact.Redactor
	defaults   session.Config
	cfg        ManagerConfig
}

func newTestManager(opts managerOpts) *Manager {
	if opts.tier == nil {
		opts.tier = NewInProcessTier()
	}
	if opts.breaker == nil {
		opts.breaker = newTestBreaker(100)
	}
	if opts.summarizer == nil {
		opts.summarizer = joinSummarizer()
	}
	if opts.defaults == (session.Config{}) {
		opts.defaults = session.Config{
			SummaryTriggerTokens: 100000,
			MaxBufferTokens:      200000,
			MaxBufferMessages:    100,
		}
	}
	counter := tokens.NewCounter(nil)
	buffer := NewBufferStore(opts.tier, opts.breaker, counter, time.Hour, nil)
	summaries := NewSummaryStore(opts.tier, opts.breaker, nil, WriteSync, 20, nil)
	sessions := session.NewRegistry(opts.defaults, time.Hour)
	return NewManager(buffer, summaries, sessions, opts.summarizer, opts.redactor, opts.breaker, counter, nil, opts.cfg)
}

func TestAddMessageValidation(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(managerOpts{})

	if _, err := m.AddMessage(ctx, "", RoleUser, "hello"); !errors.Is(err, ErrEmptySessionID) {
		t.Fatalf("empty session err = %v, want ErrEmptySessionID", err)
	}
	if _, err := m.AddMessage(ctx, "s1", RoleUser, "   "); !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("blank content err = %v, want ErrEmptyContent", err)
	}
	if _, err := m.AddMessage(ctx, "s1", Role("wizard"), "hello"); err == nil {
		t.Fatal("unknown role accepted, want error")
	}
	if _, err := m.AddMessage(ctx, "s1", RoleUser, strings.Repeat("x", maxContentBytes+1)); err == nil {
		t.Fatal("oversized content accepted, want error")
	}
}

func TestAddMessageStoresAndCounts(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(managerOpts{})

	msg, err := m.AddMessage(ctx, "s1", RoleUser, "hello there")
	if err != nil {
		t.Fatal(err)
	}
	if msg.TokenCount <= 0 {
		t.Fatalf("TokenCount = %d, want > 0", msg.TokenCount)
	}

	snap := m.GetContext(ctx, "s1")
	if snap.MessageCount != 1 || snap.BufferMessages[0].Content != "hello there" {
		t.Fatalf("GetContext after add: %+v", snap)
	}
}

func TestMessageTimestamps(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(managerOpts{})

	before := time.Now().Unix()
	msg, err := m.AddMessage(ctx, "s1", RoleUser, "hello")
	if err != nil {
		t.Fatal(err)
	}
	after := time.Now().Unix()
	if msg.Timestamp < before || msg.Timestamp > after {
		t.Fatalf("Timestamp = %d, want epoch seconds in [%d, %d]", msg.Timestamp, before, after)
	}

	at, err := m.AddMessageAt(ctx, "s1", RoleUser, "earlier", 1700000000)
	if err != nil {
		t.Fatal(err)
	}
	if at.Timestamp != 1700000000 {
		t.Fatalf("Timestamp = %d, want caller-supplied 1700000000", at.Timestamp)
	}

	snap := m.GetContext(ctx, "s1")
	if snap.BufferMessages[1].Timestamp != 1700000000 {
		t.Fatalf("stored Timestamp = %d, want 1700000000", snap.BufferMessages[1].Timestamp)
	}
}

func TestCompactionOnMessageOverflow(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(managerOpts{
		defaults: session.Config{
			SummaryTriggerTokens: 100000,
			MaxBufferTokens:      200000,
			MaxBufferMessages:    3,
		},
	})

	for _, c := range []string{"one", "two", "three", "four"} {
		if _, err := m.AddMessage(ctx, "s1", RoleUser, c); err != nil {
			t.Fatal(err)
		}
	}

	snap := m.GetContext(ctx, "s1")
	if snap.MessageCount != 3 {
		t.Fatalf("MessageCount = %d, want 3 after compaction", snap.MessageCount)
	}
	if snap.BufferMessages[0].Content != "two" {
		t.Fatalf("oldest surviving message = %q, want %q", snap.BufferMessages[0].Content, "two")
	}
	if !strings.Contains(snap.CurrentSummary, "one") {
		t.Fatalf("CurrentSummary = %q, want evicted message folded in", snap.CurrentSummary)
	}
}

func TestCompactionOnTokenTrigger(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(managerOpts{
		defaults: session.Config{
			// 40 chars of content is ~10 tokens; trigger at 15.
			SummaryTriggerTokens: 15,
			MaxBufferTokens:      200000,
			MaxBufferMessages:    100,
		},
	})

	long := strings.Repeat("a", 40)
	m.AddMessage(ctx, "s1", RoleUser, long)
	m.AddMessage(ctx, "s1", RoleUser, long)

	snap := m.GetContext(ctx, "s1")
	if snap.CurrentSummary == "" {
		t.Fatal("CurrentSummary empty, want token-trigger compaction to run")
	}
	if snap.MessageCount >= 2 {
		t.Fatalf("MessageCount = %d, want overflow compacted away", snap.MessageCount)
	}
}

func TestSummaryAccumulatesPrior(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(managerOpts{
		defaults: session.Config{
			SummaryTriggerTokens: 100000,
			MaxBufferTokens:      200000,
			MaxBufferMessages:    1,
		},
	})

	m.AddMessage(ctx, "s1", RoleUser, "alpha")
	m.AddMessage(ctx, "s1", RoleUser, "beta")
	m.AddMessage(ctx, "s1", RoleUser, "gamma")

	snap := m.GetContext(ctx, "s1")
	if !strings.Contains(snap.CurrentSummary, "alpha") || !strings.Contains(snap.CurrentSummary, "beta") {
		t.Fatalf("CurrentSummary = %q, want prior summaries folded in", snap.CurrentSummary)
	}
}

func TestHardBoundsEnforcedWhenSummarizerFails(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(managerOpts{
		summarizer: failSummarizer(),
		defaults: session.Config{
			SummaryTriggerTokens: 100000,
			MaxBufferTokens:      200000,
			MaxBufferMessages:    3,
		},
	})

	for _, c := range []string{"one", "two", "three", "four", "five"} {
		m.AddMessage(ctx, "s1", RoleUser, c)
	}

	snap := m.GetContext(ctx, "s1")
	if snap.MessageCount != 3 {
		t.Fatalf("MessageCount = %d, want hard bound 3 despite summarizer failure", snap.MessageCount)
	}
	if snap.CurrentSummary != "" {
		t.Fatalf("CurrentSummary = %q, want empty when summarizer fails", snap.CurrentSummary)
	}
}

func TestTriggerOverflowRetainedWhenSummarizerFails(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(managerOpts{
		summarizer: failSummarizer(),
		defaults: session.Config{
			SummaryTriggerTokens: 15,
			MaxBufferTokens:      200000,
			MaxBufferMessages:    100,
		},
	})

	long := strings.Repeat("a", 40)
	m.AddMessage(ctx, "s1", RoleUser, long)
	m.AddMessage(ctx, "s1", RoleUser, long)

	// Above the soft trigger but within hard bounds: nothing may be
	// dropped without a summary.
	snap := m.GetContext(ctx, "s1")
	if snap.MessageCount != 2 {
		t.Fatalf("MessageCount = %d, want 2 (no unsummarized eviction above soft trigger)", snap.MessageCount)
	}
}

func TestHardBoundsHoldWhenTriggerFires(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(managerOpts{
		defaults: session.Config{
			// 320 chars of content is 80 tokens, so seven restored
			// messages land above the soft trigger while the message
			// cap is the tighter constraint.
			SummaryTriggerTokens: 300,
			MaxBufferTokens:      4000,
			MaxBufferMessages:    2,
		},
	})

	ext := ExternalContext{}
	long := strings.Repeat("a", 320)
	for i := 0; i < 7; i++ {
		ext.Messages = append(ext.Messages, Message{Role: RoleUser, Content: long})
	}
	if err := m.SaveContext(ctx, "s1", ext); err != nil {
		t.Fatal(err)
	}

	snap := m.GetContext(ctx, "s1")
	if snap.MessageCount != 2 {
		t.Fatalf("MessageCount = %d, want message cap 2 enforced alongside the token trigger", snap.MessageCount)
	}
	if snap.CurrentSummary == "" {
		t.Fatal("CurrentSummary empty, want evicted overflow summarized")
	}
}

func TestGetContextIdempotent(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(managerOpts{})

	m.AddMessage(ctx, "s1", RoleUser, "hello")
	first := m.GetContext(ctx, "s1")
	second := m.GetContext(ctx, "s1")

	if first.MessageCount != second.MessageCount || first.TotalTokens != second.TotalTokens {
		t.Fatalf("GetContext not idempotent: %+v vs %+v", first, second)
	}
}

func TestDegradedModeNeverErrors(t *testing.T) {
	ctx := context.Background()
	breaker := newTestBreaker(2)
	m := newTestManager(managerOpts{tier: failingTier{}, breaker: breaker})

	for i := 0; i < 4; i++ {
		msg, err := m.AddMessage(ctx, "s1", RoleUser, "hello")
		if err != nil {
			t.Fatalf("AddMessage on dead tier err = %v, want nil (degraded)", err)
		}
		if msg == nil {
			t.Fatal("AddMessage returned nil message")
		}
	}

	if m.IsAvailable() {
		t.Fatal("IsAvailable = true, want false after breaker opened")
	}

	snap := m.GetContext(ctx, "s1")
	if snap.Available {
		t.Fatal("snapshot Available = true, want false with open breaker")
	}
	if snap.MessageCount != 0 {
		t.Fatalf("MessageCount = %d, want 0 on dead tier", snap.MessageCount)
	}
}

func TestRedactionBeforeSummarizer(t *testing.T) {
	ctx := context.Background()
	var mu sync.Mutex
	var seen []string
	capture := funcSummarizer(func(_ context.Context, _ string, msgs []Message) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		for _, m := range msgs {
			seen = append(seen, m.Content)
		}
		return "summary", nil
	})

	m := newTestManager(managerOpts{
		summarizer: capture,
		redactor:   redact.New(redact.Config{Method: redact.MethodPlaceholder}),
		defaults: session.Config{
			SummaryTriggerTokens: 100000,
			MaxBufferTokens:      200000,
			MaxBufferMessages:    1,
		},
	})

	m.AddMessage(ctx, "s1", RoleUser, "reach me at jane.doe@example.com please")
	m.AddMessage(ctx, "s1", RoleUser, "ok")

	mu.Lock()
	defer mu.Unlock()
	if len(seen) == 0 {
		t.Fatal("summarizer saw no messages")
	}
	for _, content := range seen {
		if strings.Contains(content, "jane.doe@example.com") {
			t.Fatalf("raw email reached summarizer: %q", content)
		}
	}
}

func TestSaveContextReplacesState(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(managerOpts{})

	m.AddMessage(ctx, "s1", RoleUser, "old state")
	err := m.SaveContext(ctx, "s1", ExternalContext{
		Messages: []Message{
			{Role: RoleUser, Content: "restored question"},
			{Role: RoleAssistant, Content: "restored answer"},
		},
		Summary: "earlier conversation about restoring state",
	})
	if err != nil {
		t.Fatal(err)
	}

	snap := m.GetContext(ctx, "s1")
	if snap.MessageCount != 2 {
		t.Fatalf("MessageCount = %d, want 2", snap.MessageCount)
	}
	if snap.BufferMessages[0].Content != "restored question" {
		t.Fatalf("first message = %q, want restored state", snap.BufferMessages[0].Content)
	}
	if snap.CurrentSummary != "earlier conversation about restoring state" {
		t.Fatalf("CurrentSummary = %q", snap.CurrentSummary)
	}
}

func TestClearSessionMemory(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(managerOpts{})

	m.AddMessage(ctx, "s1", RoleUser, "hello")
	if err := m.ClearSessionMemory(ctx, "s1"); err != nil {
		t.Fatal(err)
	}

	snap := m.GetContext(ctx, "s1")
	if snap.MessageCount != 0 || snap.CurrentSummary != "" {
		t.Fatalf("context after clear: %+v, want empty", snap)
	}
}

func TestSessionConfigOverride(t *testing.T) {
	m := newTestManager(managerOpts{})

	if err := m.SetSessionConfig("s1", session.Config{MaxBufferMessages: 7}); err != nil {
		t.Fatal(err)
	}
	cfg := m.SessionConfig("s1")
	if cfg.MaxBufferMessages != 7 {
		t.Fatalf("MaxBufferMessages = %d, want 7", cfg.MaxBufferMessages)
	}
	// Unset fields fall back to defaults.
	if cfg.SummaryTriggerTokens != 100000 {
		t.Fatalf("SummaryTriggerTokens = %d, want default", cfg.SummaryTriggerTokens)
	}

	if err := m.SetSessionConfig("s1", session.Config{MaxBufferMessages: -1}); err == nil {
		t.Fatal("negative override accepted, want error")
	}
	// A trigger above the effective token cap would let the buffer grow
	// past its hard bound, so the override must be refused.
	if err := m.SetSessionConfig("s1", session.Config{SummaryTriggerTokens: 250000}); err == nil {
		t.Fatal("trigger above token cap accepted, want error")
	}
}

func TestEventHook(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(managerOpts{
		defaults: session.Config{
			SummaryTriggerTokens: 100000,
			MaxBufferTokens:      200000,
			MaxBufferMessages:    1,
		},
	})

	var mu sync.Mutex
	var types []string
	m.SetEventHook(func(ev Event) {
		mu.Lock()
		types = append(types, ev.Type)
		mu.Unlock()
	})

	m.AddMessage(ctx, "s1", RoleUser, "first")
	m.AddMessage(ctx, "s1", RoleUser, "second")

	mu.Lock()
	defer mu.Unlock()
	var added, compacted bool
	for _, typ := range types {
		switch typ {
		case EventMessageAdded:
			added = true
		case EventCompaction:
			compacted = true
		}
	}
	if !added || !compacted {
		t.Fatalf("events = %v, want message_added and compaction", types)
	}
}
