package memory

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/mnemo/internal/observability"
	"github.com/ent0n29/mnemo/internal/reliability"
)

const summaryKeyPrefix = "mnemo:sum:"

func summaryKey(sessionID string) string { return summaryKeyPrefix + sessionID }

// WriteMode selects how summary records reach the durable tier.
type WriteMode string

const (
	// WriteSync persists to the durable tier inline with Add.
	WriteSync WriteMode = "sync"
	// WriteAsync hands records to a retrying background writer.
	WriteAsync WriteMode = "async"
)

// SummaryStore keeps each session's rolling summary history: fast tier
// as the read path of record, durable tier as the recovery source.
// History is append-only and bounded by a retention count.
type SummaryStore struct {
	tier      FastTier
	breaker   *reliability.Breaker
	durable   DurableStore
	mode      WriteMode
	retention int
	metrics   *observability.Metrics

	writeQ chan SummaryRecord
	done   chan struct{}
}

func NewSummaryStore(tier FastTier, breaker *reliability.Breaker, durable DurableStore, mode WriteMode, retention int, metrics *observability.Metrics) *SummaryStore {
	if retention <= 0 {
		retention = 20
	}
	if mode == "" {
		mode = WriteSync
	}
	s := &SummaryStore{
		tier:      tier,
		breaker:   breaker,
		durable:   durable,
		mode:      mode,
		retention: retention,
		metrics:   metrics,
	}
	if durable != nil && mode == WriteAsync {
		s.writeQ = make(chan SummaryRecord, 64)
		s.done = make(chan struct{})
		go s.durableWriteLoop()
	}
	return s
}

// Add appends a new summary record. Returns true when at least one
// tier accepted the record.
func (s *SummaryStore) Add(ctx context.Context, sessionID, text string, sourceCount int, metadata map[string]any) bool {
	record := SummaryRecord{
		ID:                 uuid.NewString(),
		SessionID:          sessionID,
		Text:               text,
		CreatedAt:          time.Now().UTC(),
		SourceMessageCount: sourceCount,
		Metadata:           metadata,
	}

	fastOK := s.pushFast(ctx, record)
	durableOK := s.writeDurable(ctx, record)
	return fastOK || durableOK
}

func (s *SummaryStore) pushFast(ctx context.Context, record SummaryRecord) bool {
	encoded, err := json.Marshal(record)
	if err != nil {
		log.Printf("summary encode failed for session %s: %v", record.SessionID, err)
		return false
	}

	start := time.Now()
	err = s.breaker.Execute(ctx, func(ctx context.Context) error {
		key := summaryKey(record.SessionID)
		if err := s.tier.PushHead(ctx, key, string(encoded)); err != nil {
			return err
		}
		// Retention bounds the history; oldest records fall off.
		return s.tier.Trim(ctx, key, 0, int64(s.retention-1))
	})
	s.metrics.ObserveOp(observability.OpSummaryWrite, time.Since(start), err == nil)
	if err != nil {
		log.Printf("summary fast-tier write degraded for session %s: %v", record.SessionID, err)
		return false
	}
	return true
}

func (s *SummaryStore) writeDurable(ctx context.Context, record SummaryRecord) bool {
	if s.durable == nil {
		return false
	}
	if s.mode == WriteAsync {
		select {
		case s.writeQ <- record:
			return true
		default:
			log.Printf("durable write queue full, dropping async write for session %s", record.SessionID)
			return false
		}
	}
	if err := s.durable.SaveSummary(ctx, record); err != nil {
		log.Printf("durable summary write failed for session %s: %v", record.SessionID, err)
		return false
	}
	return true
}

func (s *SummaryStore) durableWriteLoop() {
	defer close(s.done)
	for record := range s.writeQ {
		for attempt := 0; ; attempt++ {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err := s.durable.SaveSummary(ctx, record)
			cancel()
			if err == nil {
				break
			}
			if attempt >= 4 || !reliability.IsRetryableStoreError(err) {
				log.Printf("durable summary write abandoned for session %s: %v", record.SessionID, err)
				break
			}
			time.Sleep(reliability.ExponentialBackoff(attempt, 100*time.Millisecond, 5*time.Second))
		}
	}
}

// Current returns the most recent summary text. Falls back to the
// durable tier when the fast tier is unavailable, or rehydrates from
// it on a cold fast-tier miss.
func (s *SummaryStore) Current(ctx context.Context, sessionID string) (string, bool) {
	records := s.history(ctx, sessionID, 1)
	if len(records) > 0 {
		return records[0].Text, true
	}
	return "", false
}

// History returns up to limit records, most recent first.
func (s *SummaryStore) History(ctx context.Context, sessionID string, limit int) []SummaryRecord {
	if limit <= 0 || limit > s.retention {
		limit = s.retention
	}
	return s.history(ctx, sessionID, limit)
}

func (s *SummaryStore) history(ctx context.Context, sessionID string, limit int) []SummaryRecord {
	var raw []string
	start := time.Now()
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		raw, err = s.tier.Range(ctx, summaryKey(sessionID), 0, int64(limit-1))
		return err
	})
	s.metrics.ObserveOp(observability.OpSummaryRead, time.Since(start), err == nil)

	if err == nil && len(raw) > 0 {
		return s.decodeRecords(sessionID, raw)
	}
	if s.durable == nil {
		return nil
	}
	if err != nil && !errors.Is(err, reliability.ErrDependencyUnavailable) {
		log.Printf("summary fast-tier read failed for session %s: %v", sessionID, err)
	}

	// Fast tier open or cold: recover from the durable tier.
	records, derr := s.durable.RecentSummaries(ctx, sessionID, limit)
	if derr != nil {
		log.Printf("durable summary read failed for session %s: %v", sessionID, derr)
		return nil
	}
	if err == nil && len(records) > 0 {
		s.rehydrate(ctx, sessionID, records)
	}
	return records
}

// rehydrate writes durable records back to a healthy-but-cold fast
// tier so subsequent reads stay on the fast path.
func (s *SummaryStore) rehydrate(ctx context.Context, sessionID string, records []SummaryRecord) {
	encoded := make([]string, 0, len(records))
	// Oldest first so PushHead leaves most-recent at the head.
	for i := len(records) - 1; i >= 0; i-- {
		b, err := json.Marshal(records[i])
		if err != nil {
			continue
		}
		encoded = append(encoded, string(b))
	}
	if len(encoded) == 0 {
		return
	}
	_ = s.breaker.Execute(ctx, func(ctx context.Context) error {
		return s.tier.PushHead(ctx, summaryKey(sessionID), encoded...)
	})
}

func (s *SummaryStore) decodeRecords(sessionID string, raw []string) []SummaryRecord {
	out := make([]SummaryRecord, 0, len(raw))
	for _, entry := range raw {
		var r SummaryRecord
		if err := json.Unmarshal([]byte(entry), &r); err != nil {
			log.Printf("summary decode failed for session %s: %v", sessionID, err)
			if s.metrics != nil {
				s.metrics.SerializationFailures.Inc()
			}
			continue
		}
		out = append(out, r)
	}
	return out
}

// Stats reports summary activity for the session.
func (s *SummaryStore) Stats(ctx context.Context, sessionID string) SummaryStats {
	var stats SummaryStats
	records := s.history(ctx, sessionID, s.retention)
	stats.SummaryCount = len(records)
	if len(records) > 0 {
		stats.LastUpdated = records[0].CreatedAt
	}
	return stats
}

// Clear removes the session's summaries from both tiers.
func (s *SummaryStore) Clear(ctx context.Context, sessionID string) bool {
	ok := true
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		return s.tier.Delete(ctx, summaryKey(sessionID))
	})
	if err != nil {
		log.Printf("summary clear degraded for session %s: %v", sessionID, err)
		ok = false
	}
	if s.durable != nil {
		if err := s.durable.DeleteSession(ctx, sessionID); err != nil {
			log.Printf("durable summary clear failed for session %s: %v", sessionID, err)
			ok = false
		}
	}
	return ok
}

// Close flushes the async writer, if any.
func (s *SummaryStore) Close() error {
	if s.writeQ != nil {
		close(s.writeQ)
		<-s.done
	}
	return nil
}
