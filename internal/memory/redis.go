package memory

import (
	"bufio"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisTier backs the fast tier with redis lists.
type RedisTier struct {
	rdb *redis.Client
}

// NewRedisTier connects and validates the connection with a bounded ping.
func NewRedisTier(ctx context.Context, cfg FastTierConfig) (*RedisTier, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisTier{rdb: rdb}, nil
}

func (t *RedisTier) PushTail(ctx context.Context, key string, values ...string) error {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return t.rdb.RPush(ctx, key, args...).Err()
}

func (t *RedisTier) PushHead(ctx context.Context, key string, values ...string) error {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return t.rdb.LPush(ctx, key, args...).Err()
}

func (t *RedisTier) Range(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return t.rdb.LRange(ctx, key, start, stop).Result()
}

func (t *RedisTier) Len(ctx context.Context, key string) (int64, error) {
	return t.rdb.LLen(ctx, key).Result()
}

func (t *RedisTier) Trim(ctx context.Context, key string, start, stop int64) error {
	return t.rdb.LTrim(ctx, key, start, stop).Err()
}

func (t *RedisTier) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return t.rdb.Expire(ctx, key, ttl).Err()
}

func (t *RedisTier) TTL(ctx context.Context, key string) (time.Duration, error) {
	return t.rdb.TTL(ctx, key).Result()
}

func (t *RedisTier) Delete(ctx context.Context, keys ...string) error {
	return t.rdb.Del(ctx, keys...).Err()
}

// Info aggregates INFO memory/stats counters and the keyspace size.
func (t *RedisTier) Info(ctx context.Context) (TierInfo, error) {
	raw, err := t.rdb.Info(ctx, "memory", "stats").Result()
	if err != nil {
		return TierInfo{}, fmt.Errorf("redis info: %w", err)
	}
	info := parseRedisInfo(raw)
	info.Backend = "redis"

	if size, err := t.rdb.DBSize(ctx).Result(); err == nil {
		info.KeyCount = size
	}
	return info, nil
}

func (t *RedisTier) Ping(ctx context.Context) error {
	return t.rdb.Ping(ctx).Err()
}

func (t *RedisTier) Close() error {
	return t.rdb.Close()
}

func parseRedisInfo(raw string) TierInfo {
	var info TierInfo
	scanner := bufio.NewScanner(strings.NewReader(raw))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			continue
		}
		switch key {
		case "used_memory":
			info.UsedMemoryBytes = n
		case "keyspace_hits":
			info.Hits = n
		case "keyspace_misses":
			info.Misses = n
		case "evicted_keys":
			info.EvictedKeys = n
		case "expired_keys":
			info.ExpiredKeys = n
		}
	}
	return info
}
