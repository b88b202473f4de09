package aggregator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-scanner/nexus/internal/cache"
	"github.com/nexus-scanner/nexus/internal/core"
	"github.com/nexus-scanner/nexus/internal/logger"
	"github.com/nexus-scanner/nexus/internal/scheduler"
	"github.com/nexus-scanner/nexus/pkg/types"
)

type recordingCache struct {
	core.CacheStore
	puts   []string
	putErr error
}

func (c *recordingCache) Put(ctx context.Context, fp string, findings []types.Finding, ttl time.Duration) error {
	c.puts = append(c.puts, fp)
	if c.putErr != nil {
		return c.putErr
	}
	return c.CacheStore.Put(ctx, fp, findings, ttl)
}

func newTestAggregator(store core.CacheStore) *Aggregator {
	if store == nil {
		store = cache.NewMemoryStore(100)
	}
	target := types.Target{Scheme: "https", Host: "example.com"}
	return New("scan-1", target, store, time.Minute, logger.Nop())
}

func result(resource, detector string, depth int, findings ...types.Finding) scheduler.TaskResult {
	return scheduler.TaskResult{
		Resource:        types.Resource{URL: resource, Depth: depth},
		Detector:        detector,
		DetectorVersion: "1.0.0",
		Fingerprint:     "fp-" + resource + "-" + detector,
		Findings:        findings,
	}
}

func TestIngestStampsFindings(t *testing.T) {
	agg := newTestAggregator(nil)

	r := result("https://example.com/", "headers", 0, types.Finding{
		Severity: types.SeverityMedium,
		Title:    "Missing header: X-Frame-Options",
	})
	require.NoError(t, agg.Ingest(context.Background(), r))

	state := agg.Snapshot()
	require.Len(t, state.Findings, 1)
	f := state.Findings[0]
	assert.Equal(t, "scan-1", f.ScanID)
	assert.NotEmpty(t, f.ID)
	assert.Equal(t, "headers", f.Detector)
	assert.Equal(t, "1.0.0", f.DetectorVersion)
	assert.Equal(t, "https://example.com/", f.Resource)
	assert.False(t, f.CreatedAt.IsZero())
	assert.Equal(t, 1, state.Completed)
}

func TestIngestReplacesPairOnReingest(t *testing.T) {
	agg := newTestAggregator(nil)
	ctx := context.Background()

	first := result("https://example.com/", "headers", 0,
		types.Finding{Severity: types.SeverityMedium, Title: "Missing header: X-Frame-Options"},
		types.Finding{Severity: types.SeverityLow, Title: "Missing header: Referrer-Policy"},
	)
	require.NoError(t, agg.Ingest(ctx, first))

	// Same pair again with a different result set: replaced, not appended.
	second := result("https://example.com/", "headers", 0,
		types.Finding{Severity: types.SeverityHigh, Title: "Missing header: Strict-Transport-Security"},
	)
	require.NoError(t, agg.Ingest(ctx, second))

	state := agg.Snapshot()
	require.Len(t, state.Findings, 1)
	assert.Equal(t, "Missing header: Strict-Transport-Security", state.Findings[0].Title)
}

func TestIngestKeepsDeterministicOrder(t *testing.T) {
	agg := newTestAggregator(nil)
	ctx := context.Background()

	// Deliver out of order; severity, then depth, then resource, then
	// detector decides the final arrangement.
	require.NoError(t, agg.Ingest(ctx, result("https://example.com/b", "tech-fingerprint", 1,
		types.Finding{Severity: types.SeverityLow, Title: "low-deep"})))
	require.NoError(t, agg.Ingest(ctx, result("https://example.com/", "ssl-check", 0,
		types.Finding{Severity: types.SeverityCritical, Title: "expired-cert"})))
	require.NoError(t, agg.Ingest(ctx, result("https://example.com/a", "headers", 1,
		types.Finding{Severity: types.SeverityLow, Title: "low-a"})))
	require.NoError(t, agg.Ingest(ctx, result("https://example.com/", "headers", 0,
		types.Finding{Severity: types.SeverityLow, Title: "low-seed"})))

	titles := make([]string, 0, 4)
	for _, f := range agg.Snapshot().Findings {
		titles = append(titles, f.Title)
	}
	assert.Equal(t, []string{"expired-cert", "low-seed", "low-a", "low-deep"}, titles)
}

func TestIngestOrderIsStableWithinPair(t *testing.T) {
	agg := newTestAggregator(nil)

	r := result("https://example.com/", "headers", 0,
		types.Finding{Severity: types.SeverityMedium, Title: "first"},
		types.Finding{Severity: types.SeverityMedium, Title: "second"},
		types.Finding{Severity: types.SeverityMedium, Title: "third"},
	)
	require.NoError(t, agg.Ingest(context.Background(), r))

	titles := make([]string, 0, 3)
	for _, f := range agg.Snapshot().Findings {
		titles = append(titles, f.Title)
	}
	assert.Equal(t, []string{"first", "second", "third"}, titles)
}

func TestIngestCachesWriteRules(t *testing.T) {
	rec := &recordingCache{CacheStore: cache.NewMemoryStore(100)}
	agg := newTestAggregator(rec)
	ctx := context.Background()

	fresh := result("https://example.com/", "headers", 0)
	require.NoError(t, agg.Ingest(ctx, fresh))

	hit := result("https://example.com/", "waf-fingerprint", 0)
	hit.CacheHit = true
	require.NoError(t, agg.Ingest(ctx, hit))

	degraded := result("https://example.com/", "tech-fingerprint", 0)
	degraded.Degraded = true
	require.NoError(t, agg.Ingest(ctx, degraded))

	// Only the fresh evaluation reaches the cache.
	assert.Equal(t, []string{fresh.Fingerprint}, rec.puts)
}

func TestIngestPropagatesInfraError(t *testing.T) {
	agg := newTestAggregator(nil)

	r := result("https://example.com/", "headers", 0)
	r.InfraErr = types.ErrCacheUnavailable
	err := agg.Ingest(context.Background(), r)
	assert.ErrorIs(t, err, types.ErrCacheUnavailable)

	// Nothing was recorded for the failed task.
	assert.Equal(t, 0, agg.Snapshot().Completed)
}

func TestIngestCacheWriteUnavailableIsFatal(t *testing.T) {
	rec := &recordingCache{CacheStore: cache.NewMemoryStore(100), putErr: types.ErrCacheUnavailable}
	agg := newTestAggregator(rec)

	err := agg.Ingest(context.Background(), result("https://example.com/", "headers", 0))
	assert.ErrorIs(t, err, types.ErrCacheUnavailable)
}

func TestSnapshotIsIsolated(t *testing.T) {
	agg := newTestAggregator(nil)
	require.NoError(t, agg.Ingest(context.Background(),
		result("https://example.com/", "headers", 0,
			types.Finding{Severity: types.SeverityLow, Title: "original", Metadata: map[string]interface{}{"k": "v"}})))

	snap := agg.Snapshot()
	snap.Findings[0].Title = "mutated"
	snap.Findings[0].Metadata["k"] = "mutated"

	fresh := agg.Snapshot()
	assert.Equal(t, "original", fresh.Findings[0].Title)
	assert.Equal(t, "v", fresh.Findings[0].Metadata["k"])
}

func TestFinalizeStampsEndTime(t *testing.T) {
	agg := newTestAggregator(nil)
	agg.SetStatus(types.ScanStatusRunning)
	agg.Finalize(types.ScanStatusCompleted, "")

	state := agg.Snapshot()
	assert.Equal(t, types.ScanStatusCompleted, state.Status)
	require.NotNil(t, state.EndedAt)
	assert.False(t, state.EndedAt.Before(state.StartedAt))
}
