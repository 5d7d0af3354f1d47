// Package session tracks per-session state that must live in process:
// the single-writer lock serializing writes for one session id, and
// configuration overrides on top of process defaults. Buffer and
// summary content live in the storage tiers, not here.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type entry struct {
	// writeMu serializes append/compaction for one session id.
	writeMu      sync.Mutex
	override     Config
	lastActivity time.Time
}

// Registry is the process-wide session table. Reads are concurrent;
// writers for the same session id are serialized through Lock.
type Registry struct {
	mu            sync.RWMutex
	entries       map[string]*entry
	defaults      Config
	idleRetention time.Duration
	onSweep       func(active int)
}

func NewRegistry(defaults Config, idleRetention time.Duration) *Registry {
	if idleRetention <= 0 {
		idleRetention = time.Hour
	}
	return &Registry{
		entries:       make(map[string]*entry),
		defaults:      defaults,
		idleRetention: idleRetention,
	}
}

func (r *Registry) get(sessionID string) *entry {
	r.mu.RLock()
	e, ok := r.entries[sessionID]
	r.mu.RUnlock()
	if ok {
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[sessionID]; ok {
		return e
	}
	e = &entry{lastActivity: time.Now().UTC()}
	r.entries[sessionID] = e
	return e
}

// Lock acquires the single-writer lock for a session and returns the
// matching unlock. If the janitor evicted the entry between lookup and
// lock, the stale entry is released and the acquisition retried, so the
// returned lock always belongs to the registered entry.
func (r *Registry) Lock(sessionID string) func() {
	for {
		e := r.get(sessionID)
		e.writeMu.Lock()
		r.mu.Lock()
		if r.entries[sessionID] == e {
			e.lastActivity = time.Now().UTC()
			r.mu.Unlock()
			return e.writeMu.Unlock
		}
		r.mu.Unlock()
		e.writeMu.Unlock()
	}
}

// SetConfig stores a validated per-session override. The override is
// also checked against the merged effective config, so a session cannot
// end up with a summary trigger above its hard token cap.
func (r *Registry) SetConfig(sessionID string, override Config) error {
	if err := override.Validate(); err != nil {
		return err
	}
	merged := Merge(override, r.defaults)
	if merged.SummaryTriggerTokens > merged.MaxBufferTokens {
		return fmt.Errorf("effective summary_trigger_tokens %d exceeds max_buffer_tokens %d",
			merged.SummaryTriggerTokens, merged.MaxBufferTokens)
	}
	e := r.get(sessionID)
	r.mu.Lock()
	e.override = override
	e.lastActivity = time.Now().UTC()
	r.mu.Unlock()
	return nil
}

// ConfigFor returns the session's effective configuration: override
// merged over process defaults.
func (r *Registry) ConfigFor(sessionID string) Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[sessionID]
	if !ok {
		return r.defaults
	}
	return Merge(e.override, r.defaults)
}

// Defaults returns the process-wide configuration.
func (r *Registry) Defaults() Config {
	return r.defaults
}

// Clear drops the session's entry (config and lock state).
func (r *Registry) Clear(sessionID string) {
	r.mu.Lock()
	delete(r.entries, sessionID)
	r.mu.Unlock()
}

// ActiveCount reports tracked sessions, for stats surfaces.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// OnSweep registers a callback receiving the tracked-session count
// after each janitor sweep. Set before StartJanitor.
func (r *Registry) OnSweep(fn func(active int)) {
	r.onSweep = fn
}

// StartJanitor evicts entries idle past the retention window so the
// table does not grow with every session id ever seen.
func (r *Registry) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.evictIdle()
			}
		}
	}()
}

func (r *Registry) evictIdle() {
	cutoff := time.Now().UTC().Add(-r.idleRetention)

	r.mu.Lock()
	for id, e := range r.entries {
		if e.lastActivity.After(cutoff) {
			continue
		}
		// Evict only entries with no writer in flight. The lock is held
		// until the delete so a Lock caller racing us re-checks the map
		// and lands on a fresh entry.
		if !e.writeMu.TryLock() {
			continue
		}
		delete(r.entries, id)
		e.writeMu.Unlock()
	}
	active := len(r.entries)
	r.mu.Unlock()

	if r.onSweep != nil {
		r.onSweep(active)
	}
}
