package memory

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/ent0n29/mnemo/internal/observability"
	"github.com/ent0n29/mnemo/internal/reliability"
	"github.com/ent0n29/mnemo/internal/session"
	"github.com/ent0n29/mnemo/internal/tokens"
)

const bufferKeyPrefix = "mnemo:buf:"

func bufferKey(sessionID string) string { return bufferKeyPrefix + sessionID }

// BufferStore is the ephemeral per-session message log on the fast
// tier. It holds no exclusive state; every operation goes through the
// shared circuit breaker and absorbs unavailability into empty/false
// results instead of propagating it.
type BufferStore struct {
	tier    FastTier
	breaker *reliability.Breaker
	counter *tokens.Counter
	ttl     time.Duration
	metrics *observability.Metrics
}

func NewBufferStore(tier FastTier, breaker *reliability.Breaker, counter *tokens.Counter, ttl time.Duration, metrics *observability.Metrics) *BufferStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &BufferStore{
		tier:    tier,
		breaker: breaker,
		counter: counter,
		ttl:     ttl,
		metrics: metrics,
	}
}

// Append adds a message to the session buffer and refreshes the TTL.
// Bound enforcement is the manager's job: eviction candidates must be
// summarized before physical removal, so Append never trims.
func (s *BufferStore) Append(ctx context.Context, sessionID string, msg Message) bool {
	messageTokens(s.counter, &msg)
	encoded, err := json.Marshal(msg)
	if err != nil {
		log.Printf("buffer encode failed for session %s: %v", sessionID, err)
		return false
	}

	start := time.Now()
	err = s.breaker.Execute(ctx, func(ctx context.Context) error {
		key := bufferKey(sessionID)
		if err := s.tier.PushTail(ctx, key, string(encoded)); err != nil {
			return err
		}
		return s.tier.Expire(ctx, key, s.ttl)
	})
	s.metrics.ObserveOp(observability.OpBufferWrite, time.Since(start), err == nil)
	if err != nil {
		log.Printf("buffer append degraded for session %s: %v", sessionID, err)
		return false
	}
	return true
}

// Messages returns the session buffer in conversational order. A
// positive limit keeps only the most recent messages.
func (s *BufferStore) Messages(ctx context.Context, sessionID string, limit int) []Message {
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}

	var raw []string
	began := time.Now()
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		raw, err = s.tier.Range(ctx, bufferKey(sessionID), start, -1)
		return err
	})
	s.metrics.ObserveOp(observability.OpBufferRead, time.Since(began), err == nil)
	if err != nil {
		return nil
	}
	return s.decodeMessages(sessionID, raw)
}

func (s *BufferStore) decodeMessages(sessionID string, raw []string) []Message {
	if len(raw) == 0 {
		return nil
	}
	out := make([]Message, 0, len(raw))
	for _, entry := range raw {
		var m Message
		if err := json.Unmarshal([]byte(entry), &m); err != nil {
			// Best-effort fallback: keep the raw content rather than
			// dropping the turn.
			log.Printf("buffer decode failed for session %s: %v", sessionID, err)
			if s.metrics != nil {
				s.metrics.SerializationFailures.Inc()
			}
			m = Message{Content: entry}
		}
		out = append(out, m)
	}
	return out
}

// Info reports the buffer's size and remaining TTL.
func (s *BufferStore) Info(ctx context.Context, sessionID string) BufferInfo {
	var info BufferInfo
	msgs := s.Messages(ctx, sessionID, 0)
	info.MessageCount = len(msgs)
	info.TokenCount = batchTokens(s.counter, msgs)

	_ = s.breaker.Execute(ctx, func(ctx context.Context) error {
		ttl, err := s.tier.TTL(ctx, bufferKey(sessionID))
		if err != nil {
			return err
		}
		if ttl > 0 {
			info.TTLRemaining = int64(ttl.Seconds())
		}
		return nil
	})
	return info
}

// TierInfo reports backend health for the fast tier backing the buffer.
// The second return is false when the tier or its breaker is down.
func (s *BufferStore) TierInfo(ctx context.Context) (TierInfo, bool) {
	var info TierInfo
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		info, err = s.tier.Info(ctx)
		return err
	})
	return info, err == nil
}

// ShouldTriggerSummary reports whether the buffer's cumulative token
// count exceeds the trigger threshold.
func (s *BufferStore) ShouldTriggerSummary(ctx context.Context, sessionID string, threshold int) bool {
	return shouldTrigger(s.counter, s.Messages(ctx, sessionID, 0), threshold)
}

// EvictionCandidates computes the oldest messages that must leave the
// buffer for it to satisfy the hard bounds. Pure; no store access.
func (s *BufferStore) EvictionCandidates(msgs []Message, cfg session.Config) []Message {
	n := 0
	if cfg.MaxBufferMessages > 0 && len(msgs) > cfg.MaxBufferMessages {
		n = len(msgs) - cfg.MaxBufferMessages
	}
	if byTokens := overflow(s.counter, msgs, cfg.MaxBufferTokens); len(byTokens) > n {
		n = len(byTokens)
	}
	return msgs[:n]
}

// TriggerOverflow computes the oldest messages to compact so the
// remaining buffer fits under the summary trigger threshold. Pure.
func (s *BufferStore) TriggerOverflow(msgs []Message, triggerTokens int) []Message {
	return overflow(s.counter, msgs, triggerTokens)
}

// DropOldest removes the n oldest messages after they were summarized
// or accounted for by the caller.
func (s *BufferStore) DropOldest(ctx context.Context, sessionID string, n int) bool {
	if n <= 0 {
		return true
	}
	start := time.Now()
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		return s.tier.Trim(ctx, bufferKey(sessionID), int64(n), -1)
	})
	s.metrics.ObserveOp(observability.OpBufferWrite, time.Since(start), err == nil)
	if err != nil {
		log.Printf("buffer trim degraded for session %s: %v", sessionID, err)
		return false
	}
	return true
}

// Clear drops the session's buffer entirely.
func (s *BufferStore) Clear(ctx context.Context, sessionID string) bool {
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		return s.tier.Delete(ctx, bufferKey(sessionID))
	})
	if err != nil {
		log.Printf("buffer clear degraded for session %s: %v", sessionID, err)
		return false
	}
	return true
}
