package memory

import (
	"context"
	"sync"
	"time"
)

// InProcessTier is a simple in-process fast tier for local/dev use and
// tests. It mirrors the redis list semantics the stores rely on.
type InProcessTier struct {
	mu      sync.RWMutex
	lists   map[string][]string
	expiry  map[string]time.Time
	hits    int64
	misses  int64
	expired int64
}

func NewInProcessTier() *InProcessTier {
	return &InProcessTier{
		lists:  make(map[string][]string),
		expiry: make(map[string]time.Time),
	}
}

// dropExpired removes a key past its TTL; caller must hold the write lock.
func (t *InProcessTier) dropExpired(key string) {
	if deadline, ok := t.expiry[key]; ok && time.Now().After(deadline) {
		delete(t.lists, key)
		delete(t.expiry, key)
		t.expired++
	}
}

func (t *InProcessTier) PushTail(_ context.Context, key string, values ...string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dropExpired(key)
	t.lists[key] = append(t.lists[key], values...)
	return nil
}

func (t *InProcessTier) PushHead(_ context.Context, key string, values ...string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dropExpired(key)
	for _, v := range values {
		t.lists[key] = append([]string{v}, t.lists[key]...)
	}
	return nil
}

func (t *InProcessTier) Range(_ context.Context, key string, start, stop int64) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dropExpired(key)
	arr, ok := t.lists[key]
	if !ok {
		t.misses++
		return nil, nil
	}
	t.hits++

	lo, hi := normalizeRange(start, stop, int64(len(arr)))
	if lo > hi {
		return nil, nil
	}
	out := make([]string, hi-lo+1)
	copy(out, arr[lo:hi+1])
	return out, nil
}

func (t *InProcessTier) Len(_ context.Context, key string) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dropExpired(key)
	return int64(len(t.lists[key])), nil
}

func (t *InProcessTier) Trim(_ context.Context, key string, start, stop int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dropExpired(key)
	arr, ok := t.lists[key]
	if !ok {
		return nil
	}
	lo, hi := normalizeRange(start, stop, int64(len(arr)))
	if lo > hi {
		delete(t.lists, key)
		delete(t.expiry, key)
		return nil
	}
	kept := make([]string, hi-lo+1)
	copy(kept, arr[lo:hi+1])
	t.lists[key] = kept
	return nil
}

func (t *InProcessTier) Expire(_ context.Context, key string, ttl time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.lists[key]; ok {
		t.expiry[key] = time.Now().Add(ttl)
	}
	return nil
}

func (t *InProcessTier) TTL(_ context.Context, key string) (time.Duration, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dropExpired(key)
	deadline, ok := t.expiry[key]
	if !ok {
		return -1, nil
	}
	return time.Until(deadline), nil
}

func (t *InProcessTier) Delete(_ context.Context, keys ...string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, key := range keys {
		delete(t.lists, key)
		delete(t.expiry, key)
	}
	return nil
}

func (t *InProcessTier) Info(_ context.Context) (TierInfo, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var used int64
	for _, arr := range t.lists {
		for _, v := range arr {
			used += int64(len(v))
		}
	}
	return TierInfo{
		Backend:         "inprocess",
		UsedMemoryBytes: used,
		KeyCount:        int64(len(t.lists)),
		Hits:            t.hits,
		Misses:          t.misses,
		ExpiredKeys:     t.expired,
	}, nil
}

func (t *InProcessTier) Ping(context.Context) error { return nil }

func (t *InProcessTier) Close() error { return nil }

// normalizeRange maps redis-style (possibly negative) indexes onto
// [0, n) and returns an inclusive pair; lo > hi means empty.
func normalizeRange(start, stop, n int64) (int64, int64) {
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	return start, stop
}
