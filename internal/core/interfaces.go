package core

import (
	"context"
	"time"

	"github.com/nexus-scanner/nexus/pkg/types"
)

// Detector is one pluggable rule. Implementations are registered at startup
// and never change for the life of the process.
type Detector interface {
	Name() string
	Version() string

	// Applies reports whether the detector should run against the resource.
	// It is consulted once per (resource, detector) pair.
	Applies(resource types.Resource) bool

	// Evaluate runs the rule and returns zero or more findings. Errors and
	// panics are absorbed by the scheduler as detector faults.
	Evaluate(ctx context.Context, target types.Target, resource types.Resource) ([]types.Finding, error)
}

// Registry is the process-wide immutable detector set.
type Registry interface {
	Get(name string) (Detector, bool)
	List() []Detector
	Names() []string
}

// CacheStore is the shared finding-snapshot cache. Absence or staleness is
// always treated as "must evaluate". Put overwrites per fingerprint,
// last-writer-wins.
type CacheStore interface {
	Get(ctx context.Context, fingerprint string) (types.CacheEntry, bool, error)
	Put(ctx context.Context, fingerprint string, findings []types.Finding, ttl time.Duration) error
	Invalidate(ctx context.Context, fingerprint string) error
	Close() error
}

// EventBus decouples scan lifecycle notifications from transport. Delivery
// is best effort and FIFO per subscriber; a slow subscriber never stalls a
// publisher.
type EventBus interface {
	Publish(event types.Event)
	Subscribe() (<-chan types.Event, func())
	Close()
}

// Pool is the bounded worker pool shared by crawler fetches and detector
// tasks so total concurrent network activity stays capped.
type Pool interface {
	// Go runs fn on the pool, blocking while the pool is saturated. It
	// returns ctx.Err() without running fn if ctx ends first.
	Go(ctx context.Context, fn func()) error
	Wait()
}

// ScanStore persists finished scans for later querying. Persistence is a
// downstream concern; the engine itself never requires it.
type ScanStore interface {
	SaveScan(ctx context.Context, state *types.ScanState) error
	GetScan(ctx context.Context, scanID string) (*types.ScanState, error)
	ListScans(ctx context.Context, limit int) ([]types.ScanState, error)
	GetFindings(ctx context.Context, scanID string) ([]types.Finding, error)
	FindingsBySeverity(ctx context.Context, severity types.Severity, limit int) ([]types.Finding, error)
	Close() error
}

// Telemetry records engine metrics.
type Telemetry interface {
	RecordScan(ctx context.Context, status types.ScanStatus, duration time.Duration)
	RecordFinding(ctx context.Context, severity types.Severity)
	ScanStarted(ctx context.Context)
	ScanFinished(ctx context.Context)
	Close(ctx context.Context) error
}
