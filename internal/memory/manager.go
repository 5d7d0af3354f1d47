package memory

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/ent0n29/mnemo/internal/observability"
	"github.com/ent0n29/mnemo/internal/redact"
	"github.com/ent0n29/mnemo/internal/reliability"
	"github.com/ent0n29/mnemo/internal/session"
	"github.com/ent0n29/mnemo/internal/tokens"
)

// Summarizer condenses a batch of evicted messages, folding in the
// prior summary so context accumulates instead of resetting.
type Summarizer interface {
	Summarize(ctx context.Context, prior string, msgs []Message) (string, error)
}

var (
	ErrEmptySessionID = errors.New("session id must not be empty")
	ErrEmptyContent   = errors.New("message content must not be empty")
)

const maxContentBytes = 64 * 1024

// ManagerConfig carries the knobs the manager itself owns. Per-session
// buffer limits live in session.Config.
type ManagerConfig struct {
	SummarizeTimeout time.Duration
	CompactAsync     bool
	RedactInbound    bool
}

// MemoryStats is the combined health view for one session. Tier is nil
// when the fast tier could not be queried.
type MemoryStats struct {
	SessionID      string                   `json:"session_id"`
	Buffer         BufferInfo               `json:"buffer"`
	Summaries      SummaryStats             `json:"summaries"`
	Tier           *TierInfo                `json:"tier,omitempty"`
	TierHitRatio   float64                  `json:"tier_hit_ratio"`
	ActiveSessions int                      `json:"active_sessions"`
	BreakerState   reliability.BreakerState `json:"breaker_state"`
	Config         session.Config           `json:"config"`
}

// Manager coordinates the buffer, summary store, redactor, and
// summarizer behind a per-session single-writer lock.
type Manager struct {
	buffer     *BufferStore
	summaries  *SummaryStore
	sessions   *session.Registry
	summarizer Summarizer
	redactor   *redact.Redactor
	breaker    *reliability.Breaker
	counter    *tokens.Counter
	metrics    *observability.Metrics
	cfg        ManagerConfig

	hookMu sync.RWMutex
	hook   func(Event)

	compactWG sync.WaitGroup
}

func NewManager(
	buffer *BufferStore,
	summaries *SummaryStore,
	sessions *session.Registry,
	summarizer Summarizer,
	redactor *redact.Redactor,
	breaker *reliability.Breaker,
	counter *tokens.Counter,
	metrics *observability.Metrics,
	cfg ManagerConfig,
) *Manager {
	if cfg.SummarizeTimeout <= 0 {
		cfg.SummarizeTimeout = 20 * time.Second
	}
	return &Manager{
		buffer:     buffer,
		summaries:  summaries,
		sessions:   sessions,
		summarizer: summarizer,
		redactor:   redactor,
		breaker:    breaker,
		counter:    counter,
		metrics:    metrics,
		cfg:        cfg,
	}
}

// SetEventHook registers a callback for memory lifecycle events.
// The hook must not block.
func (m *Manager) SetEventHook(hook func(Event)) {
	m.hookMu.Lock()
	m.hook = hook
	m.hookMu.Unlock()
}

func (m *Manager) emit(ev Event) {
	m.hookMu.RLock()
	hook := m.hook
	m.hookMu.RUnlock()
	if hook != nil {
		ev.At = time.Now().UTC()
		hook(ev)
	}
}

// AddMessage validates, optionally redacts, appends, and compacts.
// The returned message reflects what was stored.
func (m *Manager) AddMessage(ctx context.Context, sessionID string, role Role, content string) (*Message, error) {
	return m.AddMessageAt(ctx, sessionID, role, content, 0)
}

// AddMessageAt is AddMessage with a caller-supplied timestamp in epoch
// seconds. A zero timestamp means "now".
func (m *Manager) AddMessageAt(ctx context.Context, sessionID string, role Role, content string, timestamp int64) (*Message, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, ErrEmptySessionID
	}
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}
	if len(content) > maxContentBytes {
		return nil, fmt.Errorf("message content exceeds %d bytes", maxContentBytes)
	}
	if !role.Valid() {
		return nil, fmt.Errorf("unknown role %q", role)
	}

	if m.cfg.RedactInbound && m.redactor != nil {
		redacted, report := m.redactor.Redact(content)
		m.observeRedactions(report)
		content = redacted
	}

	unlock := m.sessions.Lock(sessionID)
	defer unlock()
	m.trackSessions()

	if timestamp == 0 {
		timestamp = time.Now().Unix()
	}
	msg := Message{
		Role:      role,
		Content:   content,
		Timestamp: timestamp,
	}
	messageTokens(m.counter, &msg)
	if !m.buffer.Append(ctx, sessionID, msg) {
		// Degraded: the message was not persisted but the caller's
		// conversation continues.
		m.opCounter("add_message", false)
		return &msg, nil
	}
	m.opCounter("add_message", true)
	m.emit(Event{Type: EventMessageAdded, SessionID: sessionID})

	cfg := m.sessions.ConfigFor(sessionID)
	if m.cfg.CompactAsync {
		m.compactWG.Add(1)
		go func() {
			defer m.compactWG.Done()
			unlock := m.sessions.Lock(sessionID)
			defer unlock()
			m.compactLocked(context.Background(), sessionID, cfg)
		}()
	} else {
		m.compactLocked(ctx, sessionID, cfg)
	}
	return &msg, nil
}

// compactLocked runs the summarize-then-evict cycle. Callers must hold
// the session write lock.
func (m *Manager) compactLocked(ctx context.Context, sessionID string, cfg session.Config) {
	msgs := m.buffer.Messages(ctx, sessionID, 0)
	if len(msgs) == 0 {
		return
	}

	var candidates []Message
	if shouldTrigger(m.counter, msgs, cfg.SummaryTriggerTokens) {
		candidates = m.buffer.TriggerOverflow(msgs, cfg.SummaryTriggerTokens)
	}
	// Both candidate sets are oldest-first prefixes, so the longer one
	// satisfies the trigger threshold and the hard bounds at once.
	if hard := m.buffer.EvictionCandidates(msgs, cfg); len(hard) > len(candidates) {
		candidates = hard
	}
	if len(candidates) == 0 {
		return
	}

	if m.summarizeAndStore(ctx, sessionID, candidates) {
		if m.buffer.DropOldest(ctx, sessionID, len(candidates)) {
			if m.metrics != nil {
				m.metrics.Compactions.Inc()
			}
			m.emit(Event{
				Type:      EventCompaction,
				SessionID: sessionID,
				Detail:    fmt.Sprintf("summarized %d messages", len(candidates)),
			})
		}
		return
	}

	// Summary failed. Messages above the trigger threshold stay put so
	// the next append retries them, but hard bounds are not negotiable.
	hard := m.buffer.EvictionCandidates(msgs, cfg)
	if len(hard) == 0 {
		return
	}
	if m.buffer.DropOldest(ctx, sessionID, len(hard)) {
		if m.metrics != nil {
			m.metrics.Evictions.Add(float64(len(hard)))
		}
		m.emit(Event{
			Type:      EventEviction,
			SessionID: sessionID,
			Detail:    fmt.Sprintf("evicted %d messages without summary", len(hard)),
		})
	}
}

// summarizeAndStore redacts the batch, merges it with the prior
// summary, and persists the result. PII never reaches the summarizer
// or the durable tier.
func (m *Manager) summarizeAndStore(ctx context.Context, sessionID string, batch []Message) bool {
	if m.summarizer == nil {
		return false
	}

	cleaned := make([]Message, len(batch))
	for i, msg := range batch {
		cleaned[i] = msg
		if m.redactor != nil {
			redacted, report := m.redactor.Redact(msg.Content)
			m.observeRedactions(report)
			cleaned[i].Content = redacted
		}
	}

	prior, _ := m.summaries.Current(ctx, sessionID)

	sctx, cancel := context.WithTimeout(ctx, m.cfg.SummarizeTimeout)
	defer cancel()

	start := time.Now()
	text, err := m.summarizer.Summarize(sctx, prior, cleaned)
	m.metrics.ObserveOp(observability.OpSummarize, time.Since(start), err == nil)
	if err != nil {
		if m.metrics != nil {
			m.metrics.SummarizeFailures.Inc()
		}
		log.Printf("summarize failed for session %s: %v", sessionID, err)
		return false
	}
	if strings.TrimSpace(text) == "" {
		if m.metrics != nil {
			m.metrics.SummarizeFailures.Inc()
		}
		log.Printf("summarizer returned empty text for session %s", sessionID)
		return false
	}

	return m.summaries.Add(ctx, sessionID, text, len(batch), nil)
}

// GetContext assembles the conversational context for prompt building.
// Never returns an error: degraded tiers yield a partial snapshot with
// Available=false.
func (m *Manager) GetContext(ctx context.Context, sessionID string) ContextSnapshot {
	start := time.Now()
	var snap ContextSnapshot

	msgs := m.buffer.Messages(ctx, sessionID, 0)
	snap.BufferMessages = msgs
	snap.MessageCount = len(msgs)

	if summary, ok := m.summaries.Current(ctx, sessionID); ok {
		snap.CurrentSummary = summary
	}

	snap.BufferInfo = m.buffer.Info(ctx, sessionID)
	snap.TotalTokens = batchTokens(m.counter, msgs)
	if snap.CurrentSummary != "" {
		snap.TotalTokens += m.counter.Count(snap.CurrentSummary)
	}

	// Reads above may have tripped the breaker; report honestly.
	snap.Available = m.breaker.State() != reliability.StateOpen

	m.metrics.ObserveOp(observability.OpPackageContext, time.Since(start), snap.Available)
	m.opCounter("get_context", snap.Available)
	return snap
}

// SaveContext replaces the session's memory with externally assembled
// state: the buffer becomes ext.Messages and ext.Summary, when set,
// becomes the newest summary record.
func (m *Manager) SaveContext(ctx context.Context, sessionID string, ext ExternalContext) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrEmptySessionID
	}

	unlock := m.sessions.Lock(sessionID)
	defer unlock()
	m.trackSessions()

	if !m.buffer.Clear(ctx, sessionID) {
		m.opCounter("save_context", false)
		return reliability.ErrDependencyUnavailable
	}
	for i := range ext.Messages {
		msg := ext.Messages[i]
		if msg.Timestamp == 0 {
			msg.Timestamp = time.Now().Unix()
		}
		if m.cfg.RedactInbound && m.redactor != nil {
			redacted, report := m.redactor.Redact(msg.Content)
			m.observeRedactions(report)
			msg.Content = redacted
		}
		if !m.buffer.Append(ctx, sessionID, msg) {
			m.opCounter("save_context", false)
			return reliability.ErrDependencyUnavailable
		}
	}
	if strings.TrimSpace(ext.Summary) != "" {
		text := ext.Summary
		if m.redactor != nil {
			redacted, report := m.redactor.Redact(text)
			m.observeRedactions(report)
			text = redacted
		}
		m.summaries.Add(ctx, sessionID, text, len(ext.Messages), map[string]any{"source": "external"})
	}
	m.opCounter("save_context", true)

	cfg := m.sessions.ConfigFor(sessionID)
	m.compactLocked(ctx, sessionID, cfg)
	return nil
}

// SetSessionConfig overrides buffer limits for one session.
func (m *Manager) SetSessionConfig(sessionID string, cfg session.Config) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrEmptySessionID
	}
	if err := m.sessions.SetConfig(sessionID, cfg); err != nil {
		return err
	}
	m.trackSessions()
	return nil
}

// SessionConfig returns the effective limits for the session.
func (m *Manager) SessionConfig(sessionID string) session.Config {
	return m.sessions.ConfigFor(sessionID)
}

// SummaryHistory returns up to limit summary records, most recent
// first. A zero limit means the full retained history.
func (m *Manager) SummaryHistory(ctx context.Context, sessionID string, limit int) []SummaryRecord {
	records := m.summaries.History(ctx, sessionID, limit)
	if records == nil {
		records = []SummaryRecord{}
	}
	return records
}

// GetMemoryStats reports buffer, summary, and breaker state for the
// session.
func (m *Manager) GetMemoryStats(ctx context.Context, sessionID string) MemoryStats {
	stats := MemoryStats{
		SessionID:    sessionID,
		BreakerState: m.breaker.State(),
		Config:       m.sessions.ConfigFor(sessionID),
	}
	stats.Buffer = m.buffer.Info(ctx, sessionID)
	stats.Summaries = m.summaries.Stats(ctx, sessionID)
	stats.ActiveSessions = m.sessions.ActiveCount()
	if info, ok := m.buffer.TierInfo(ctx); ok {
		stats.Tier = &info
		stats.TierHitRatio = info.HitRatio()
	}
	return stats
}

// ClearSessionMemory wipes both tiers for the session.
func (m *Manager) ClearSessionMemory(ctx context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrEmptySessionID
	}

	unlock := m.sessions.Lock(sessionID)
	defer unlock()

	bufOK := m.buffer.Clear(ctx, sessionID)
	sumOK := m.summaries.Clear(ctx, sessionID)
	m.sessions.Clear(sessionID)
	m.trackSessions()
	m.opCounter("clear", bufOK && sumOK)
	if !bufOK || !sumOK {
		return reliability.ErrDependencyUnavailable
	}
	m.emit(Event{Type: EventCleared, SessionID: sessionID})
	return nil
}

// IsAvailable reports whether the fast tier is accepting calls.
func (m *Manager) IsAvailable() bool {
	return m.breaker.State() != reliability.StateOpen
}

// Flush waits for in-flight async compactions, then closes the
// summary store's durable writer.
func (m *Manager) Flush() error {
	m.compactWG.Wait()
	return m.summaries.Close()
}

// trackSessions refreshes the active-session gauge from the registry.
func (m *Manager) trackSessions() {
	if m.metrics == nil {
		return
	}
	m.metrics.ActiveSessions.Set(float64(m.sessions.ActiveCount()))
}

func (m *Manager) opCounter(op string, ok bool) {
	if m.metrics == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "degraded"
	}
	m.metrics.Operations.WithLabelValues(op, outcome).Inc()
}

func (m *Manager) observeRedactions(report redact.Report) {
	if m.metrics == nil {
		return
	}
	for _, d := range report.Detections {
		m.metrics.Redactions.WithLabelValues(string(d.Type), string(d.Layer)).Inc()
	}
}
