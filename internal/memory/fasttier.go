package memory

import (
	"context"
	"time"
)

// TierInfo carries dependency health metrics for the stats surface.
type TierInfo struct {
	Backend         string `json:"backend"`
	UsedMemoryBytes int64  `json:"used_memory_bytes"`
	KeyCount        int64  `json:"key_count"`
	Hits            int64  `json:"hits"`
	Misses          int64  `json:"misses"`
	EvictedKeys     int64  `json:"evicted_keys"`
	ExpiredKeys     int64  `json:"expired_keys"`
}

// HitRatio is hits over total lookups, 0 when no lookups happened.
func (i TierInfo) HitRatio() float64 {
	total := i.Hits + i.Misses
	if total == 0 {
		return 0
	}
	return float64(i.Hits) / float64(total)
}

// FastTier is the low-latency list store shared by BufferStore and
// SummaryStore. Keys hold ordered string entries; list semantics match
// redis (negative indexes count from the tail, Trim keeps [start,stop]).
type FastTier interface {
	PushTail(ctx context.Context, key string, values ...string) error
	PushHead(ctx context.Context, key string, values ...string) error
	Range(ctx context.Context, key string, start, stop int64) ([]string, error)
	Len(ctx context.Context, key string) (int64, error)
	Trim(ctx context.Context, key string, start, stop int64) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
	TTL(ctx context.Context, key string) (time.Duration, error)
	Delete(ctx context.Context, keys ...string) error
	Info(ctx context.Context) (TierInfo, error)
	Ping(ctx context.Context) error
	Close() error
}

// FastTierConfig selects and tunes the fast-tier backend.
type FastTierConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewFastTier creates a redis-backed tier when configured, otherwise
// an in-process tier for local/dev use.
func NewFastTier(ctx context.Context, cfg FastTierConfig) (FastTier, error) {
	if cfg.Addr == "" {
		return NewInProcessTier(), nil
	}
	return NewRedisTier(ctx, cfg)
}
