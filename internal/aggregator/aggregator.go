// Package aggregator owns scan-level state. It is the only writer of a
// scan's ScanState; all other components read point-in-time snapshots. The
// finding set stays ordered by severity, then discovery depth, then resource
// identity, so two runs over identical inputs produce identical output
// regardless of task completion order.
package aggregator

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nexus-scanner/nexus/internal/core"
	"github.com/nexus-scanner/nexus/internal/logger"
	"github.com/nexus-scanner/nexus/internal/scheduler"
	"github.com/nexus-scanner/nexus/pkg/types"
)

type Aggregator struct {
	mu     sync.RWMutex
	state  types.ScanState
	pairs  map[string]bool // (resource, detector) pairs already recorded
	cache  core.CacheStore
	ttl    time.Duration
	logger *logger.Logger
}

func New(scanID string, target types.Target, cacheStore core.CacheStore, cacheTTL time.Duration, log *logger.Logger) *Aggregator {
	return &Aggregator{
		state: types.ScanState{
			ID:        scanID,
			Target:    target,
			Status:    types.ScanStatusPending,
			StartedAt: time.Now(),
		},
		pairs:  make(map[string]bool),
		cache:  cacheStore,
		ttl:    cacheTTL,
		logger: log.WithComponent("aggregator").WithScanID(scanID),
	}
}

// RecordDiscovered bumps the discovered-resource counter.
func (a *Aggregator) RecordDiscovered() {
	a.mu.Lock()
	a.state.Discovered++
	a.mu.Unlock()
}

// Ingest folds one task result into the scan. Re-ingesting a result for an
// already-recorded (resource, detector) pair replaces that pair's findings
// instead of duplicating them. The only error it returns is a cache
// infrastructure fault, which is fatal to the scan.
func (a *Aggregator) Ingest(ctx context.Context, result scheduler.TaskResult) error {
	if result.InfraErr != nil {
		return result.InfraErr
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	pairKey := result.Resource.Identity() + "|" + result.Detector
	if a.pairs[pairKey] {
		a.removePairLocked(result.Resource.Identity(), result.Detector)
	}
	a.pairs[pairKey] = true

	for _, f := range result.Findings {
		a.insertLocked(a.stamp(f, result))
	}
	a.state.Completed++

	// Fresh evaluations repopulate the cache; cache hits and degraded
	// results do not. Caching a failure would keep serving that failure
	// for the full TTL.
	if !result.CacheHit && !result.Degraded {
		if err := a.cache.Put(ctx, result.Fingerprint, result.Findings, a.ttl); err != nil {
			if errors.Is(err, types.ErrCacheUnavailable) {
				return err
			}
			a.logger.Warnw("Cache write failed", "fingerprint", result.Fingerprint, "error", err)
		}
	}

	return nil
}

// stamp fills in scan-level fields the detector does not know about.
func (a *Aggregator) stamp(f types.Finding, result scheduler.TaskResult) types.Finding {
	f.ScanID = a.state.ID
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	if f.Detector == "" {
		f.Detector = result.Detector
	}
	if f.DetectorVersion == "" {
		f.DetectorVersion = result.DetectorVersion
	}
	if f.Resource == "" {
		f.Resource = result.Resource.Identity()
	}
	f.Depth = result.Resource.Depth
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}
	return f
}

// findingLess is the deterministic ordering: severity first, then discovery
// depth, then resource identity, then detector name.
func findingLess(a, b types.Finding) bool {
	if a.Severity.Rank() != b.Severity.Rank() {
		return a.Severity.Rank() < b.Severity.Rank()
	}
	if a.Depth != b.Depth {
		return a.Depth < b.Depth
	}
	if a.Resource != b.Resource {
		return a.Resource < b.Resource
	}
	return a.Detector < b.Detector
}

// insertLocked places a finding at its sorted position. Insertion after
// equal elements keeps the sort stable, so findings a detector reported in
// order stay in that order.
func (a *Aggregator) insertLocked(f types.Finding) {
	findings := a.state.Findings
	i := sort.Search(len(findings), func(i int) bool {
		return findingLess(f, findings[i])
	})
	findings = append(findings, types.Finding{})
	copy(findings[i+1:], findings[i:])
	findings[i] = f
	a.state.Findings = findings
}

func (a *Aggregator) removePairLocked(resource, detector string) {
	kept := a.state.Findings[:0]
	for _, f := range a.state.Findings {
		if f.Resource == resource && f.Detector == detector {
			continue
		}
		kept = append(kept, f)
	}
	a.state.Findings = kept
}

// SetStatus transitions the scan status.
func (a *Aggregator) SetStatus(status types.ScanStatus) {
	a.mu.Lock()
	a.state.Status = status
	a.mu.Unlock()
}

// Finalize moves the scan into a terminal state and stamps the end time.
func (a *Aggregator) Finalize(status types.ScanStatus, errMsg string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.state.Status = status
	a.state.Error = errMsg
	now := time.Now()
	a.state.EndedAt = &now
}

// Snapshot returns a consistent point-in-time copy safe for concurrent
// readers.
func (a *Aggregator) Snapshot() types.ScanState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state.Clone()
}
