package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nexus-scanner/nexus/internal/core"
	"github.com/nexus-scanner/nexus/pkg/types"
)

// memoryStore is a mutex-guarded TTL map. It backs single-process runs and
// tests; multi-process deployments use the redis backend.
type memoryStore struct {
	mu         sync.RWMutex
	entries    map[string]types.CacheEntry
	maxEntries int
	now        func() time.Time
}

func NewMemoryStore(maxEntries int) core.CacheStore {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	return &memoryStore{
		entries:    make(map[string]types.CacheEntry),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

func (s *memoryStore) Get(_ context.Context, fingerprint string) (types.CacheEntry, bool, error) {
	s.mu.RLock()
	entry, ok := s.entries[fingerprint]
	s.mu.RUnlock()

	if !ok {
		return types.CacheEntry{}, false, nil
	}
	if entry.Expired(s.now()) {
		s.mu.Lock()
		// Re-check under the write lock; a concurrent Put may have
		// refreshed the entry.
		if cur, ok := s.entries[fingerprint]; ok && cur.Expired(s.now()) {
			delete(s.entries, fingerprint)
		}
		s.mu.Unlock()
		return types.CacheEntry{}, false, nil
	}

	// Hand out a copy so callers cannot mutate the stored snapshot.
	out := entry
	out.Findings = make([]types.Finding, len(entry.Findings))
	copy(out.Findings, entry.Findings)
	return out, true, nil
}

func (s *memoryStore) Put(_ context.Context, fingerprint string, findings []types.Finding, ttl time.Duration) error {
	snapshot := make([]types.Finding, len(findings))
	copy(snapshot, findings)

	entry := types.CacheEntry{
		Fingerprint: fingerprint,
		Findings:    snapshot,
	}
	if ttl > 0 {
		entry.Expiry = s.now().Add(ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[fingerprint] = entry
	s.evictLocked()
	return nil
}

func (s *memoryStore) Invalidate(_ context.Context, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, fingerprint)
	return nil
}

func (s *memoryStore) Close() error { return nil }

// evictLocked drops expired entries first, then the entries closest to
// expiry until the store fits maxEntries. Caller holds the write lock.
func (s *memoryStore) evictLocked() {
	if len(s.entries) <= s.maxEntries {
		return
	}

	now := s.now()
	for fp, entry := range s.entries {
		if entry.Expired(now) {
			delete(s.entries, fp)
		}
	}
	if len(s.entries) <= s.maxEntries {
		return
	}

	type expiring struct {
		fp     string
		expiry time.Time
	}
	all := make([]expiring, 0, len(s.entries))
	for fp, entry := range s.entries {
		exp := entry.Expiry
		if exp.IsZero() {
			exp = now.Add(24 * time.Hour)
		}
		all = append(all, expiring{fp: fp, expiry: exp})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].expiry.Before(all[j].expiry) })

	for _, e := range all[:len(s.entries)-s.maxEntries] {
		delete(s.entries, e.fp)
	}
}
