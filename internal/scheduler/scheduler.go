// Package scheduler fans discovered resources out to applicable detectors.
// Every dispatched task produces exactly one result: a success, a cache hit,
// or a degraded finding after the retry budget is spent. Nothing is silently
// dropped, so the orchestrator's completion accounting always converges.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nexus-scanner/nexus/internal/cache"
	"github.com/nexus-scanner/nexus/internal/core"
	"github.com/nexus-scanner/nexus/internal/logger"
	"github.com/nexus-scanner/nexus/pkg/types"
)

// TaskResult is the unit handed to the aggregator.
type TaskResult struct {
	Resource        types.Resource
	Detector        string
	DetectorVersion string
	Fingerprint     string
	Findings        []types.Finding
	CacheHit        bool
	Degraded        bool

	// InfraErr carries cache infrastructure faults, the one failure class
	// the scan must not absorb.
	InfraErr error
}

type Scheduler struct {
	detectors []core.Detector
	pool      core.Pool
	cache     core.CacheStore
	logger    *logger.Logger

	target  types.Target
	opts    types.ScanOptions
	results chan<- TaskResult
}

func New(
	detectors []core.Detector,
	pool core.Pool,
	cacheStore core.CacheStore,
	log *logger.Logger,
	target types.Target,
	opts types.ScanOptions,
	results chan<- TaskResult,
) *Scheduler {
	return &Scheduler{
		detectors: detectors,
		pool:      pool,
		cache:     cacheStore,
		logger:    log.WithComponent("scheduler"),
		target:    target,
		opts:      opts,
		results:   results,
	}
}

// Schedule computes applicability once per (resource, detector) pair and
// dispatches one task per applicable detector onto the shared pool. It
// returns the number of tasks dispatched; the caller owes that many results
// on its results channel.
func (s *Scheduler) Schedule(ctx context.Context, resource types.Resource) int {
	dispatched := 0
	for _, d := range s.detectors {
		if !d.Applies(resource) {
			continue
		}

		d := d
		if err := s.pool.Go(ctx, func() {
			s.runTask(ctx, d, resource)
		}); err != nil {
			// Pool admission failed because the scan is shutting down;
			// the task was never dispatched so nothing is owed for it.
			break
		}
		dispatched++
	}
	return dispatched
}

// runTask consults the cache, evaluates on a miss, and always delivers
// exactly one TaskResult unless the context has ended.
func (s *Scheduler) runTask(ctx context.Context, d core.Detector, resource types.Resource) {
	fp := cache.Fingerprint(s.target, resource.Identity(), d.Name(), d.Version())
	result := TaskResult{
		Resource:        resource,
		Detector:        d.Name(),
		DetectorVersion: d.Version(),
		Fingerprint:     fp,
	}

	entry, hit, err := s.cache.Get(ctx, fp)
	switch {
	case err != nil && errors.Is(err, types.ErrCacheUnavailable):
		result.InfraErr = err
	case err != nil:
		// Anything else from the cache is treated as a miss.
		s.logger.Debugw("Cache read error treated as miss", "fingerprint", fp, "error", err)
		fallthrough
	default:
		if hit {
			result.CacheHit = true
			result.Findings = entry.Findings
		} else {
			result.Findings, result.Degraded = s.evaluate(ctx, d, resource)
		}
	}

	select {
	case s.results <- result:
	case <-ctx.Done():
	}
}

// evaluate runs the detector under the per-task timeout with retry and
// backoff. After the budget is spent it degrades to an INFO finding carrying
// an evaluation_failed note.
func (s *Scheduler) evaluate(ctx context.Context, d core.Detector, resource types.Resource) ([]types.Finding, bool) {
	attempts := s.opts.RetryCount + 1
	delay := s.opts.RetryDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return s.degradedFindings(d, resource, ctx.Err()), true
			}
			delay *= 2
		}

		findings, err := s.evaluateOnce(ctx, d, resource)
		if err == nil {
			return findings, false
		}
		if ctx.Err() != nil {
			return s.degradedFindings(d, resource, err), true
		}

		lastErr = err
		s.logger.Debugw("Detector attempt failed",
			"detector", d.Name(),
			"resource", resource.URL,
			"attempt", attempt+1,
			"error", err,
		)
	}

	fault := &types.DetectorFault{Detector: d.Name(), Resource: resource.URL, Err: lastErr}
	s.logger.Warnw("Detector degraded after retries",
		"detector", d.Name(),
		"resource", resource.URL,
		"attempts", attempts,
		"error", lastErr,
	)
	return s.degradedFindings(d, resource, fault), true
}

// evaluateOnce runs a single attempt under the task timeout, converting
// panics into detector faults.
func (s *Scheduler) evaluateOnce(ctx context.Context, d core.Detector, resource types.Resource) (findings []types.Finding, err error) {
	taskCtx := ctx
	if s.opts.TaskTimeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, s.opts.TaskTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.LogPanic(ctx, r, "scheduler.evaluate", "detector", d.Name())
			err = &types.DetectorFault{Detector: d.Name(), Resource: resource.URL, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	return d.Evaluate(taskCtx, s.target, resource)
}

func (s *Scheduler) degradedFindings(d core.Detector, resource types.Resource, cause error) []types.Finding {
	return []types.Finding{{
		Detector:        d.Name(),
		DetectorVersion: d.Version(),
		Resource:        resource.URL,
		Depth:           resource.Depth,
		Severity:        types.SeverityInfo,
		Title:           "Detector evaluation failed",
		Description:     fmt.Sprintf("Detector %s could not evaluate this resource; the result is degraded, not absent.", d.Name()),
		Evidence:        fmt.Sprintf("evaluation_failed: %v", cause),
		Metadata:        map[string]interface{}{"evaluation_failed": true},
	}}
}
