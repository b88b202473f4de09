package orchestrator

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/nexus-scanner/nexus/internal/core"
	"github.com/nexus-scanner/nexus/internal/crawler"
	"github.com/nexus-scanner/nexus/internal/scheduler"
	"github.com/nexus-scanner/nexus/internal/worker"
	"github.com/nexus-scanner/nexus/pkg/types"
)

const (
	reasonSeedResolution   = "seed_resolution_failed"
	reasonCacheUnavailable = "cache_unavailable"
	reasonCancelled        = "cancelled"

	resultBuffer = 256
)

// run drives one scan: crawl → schedule → aggregate → events, with a join
// barrier over lazily discovered tasks. The ingest loop below is the scan's
// single writer; the dispatch goroutine only counts what it owes.
func (e *Engine) run(scanCtx context.Context, sc *scan, target types.Target, opts types.ScanOptions, detectors []core.Detector) {
	defer close(sc.done)
	defer sc.cancel()

	start := time.Now()
	log := e.logger.WithScanID(sc.id).WithTarget(target.String())

	// Tasks outlive scan cancellation by the grace period, so they run
	// under their own context rather than scanCtx.
	taskCtx, taskCancel := context.WithCancel(context.Background())
	defer taskCancel()

	scanPool := worker.Scoped(e.pool, opts.Concurrency)
	crawl := crawler.New(e.client, e.limiter, scanPool, e.logger, e.cfg.UserAgent)

	sc.agg.SetStatus(types.ScanStatusRunning)
	e.telemetry.ScanStarted(taskCtx)
	e.bus.Publish(types.Event{
		Kind:   types.EventScanStarted,
		ScanID: sc.id,
		Time:   time.Now(),
		Target: target.String(),
	})

	resources, err := crawl.Crawl(scanCtx, target, opts)
	if err != nil {
		log.LogError(scanCtx, err, "orchestrator.crawl")
		e.finish(sc, types.ScanStatusFailed, reasonSeedResolution, err.Error(), start)
		return
	}

	results := make(chan scheduler.TaskResult, resultBuffer)
	sched := scheduler.New(detectors, scanPool, e.cache, e.logger, target, opts, results)

	var dispatched atomic.Int64
	dispatchDone := make(chan struct{})

	go func() {
		defer close(dispatchDone)
		for {
			select {
			case res, ok := <-resources:
				if !ok {
					return
				}
				sc.agg.RecordDiscovered()
				dispatched.Add(int64(sched.Schedule(taskCtx, res)))
			case <-scanCtx.Done():
				// Stop dispatching; the crawler winds down on its own.
				return
			}
		}
	}()

	progressEvery := e.cfg.ProgressEvery
	if progressEvery <= 0 {
		progressEvery = 2 * time.Second
	}
	ticker := time.NewTicker(progressEvery)
	defer ticker.Stop()

	var (
		ingested       int64
		fatal          error
		cancelled      bool
		abandoned      bool
		dispatchClosed bool
	)
	ctxDone := scanCtx.Done()
	var graceExpired <-chan time.Time

loop:
	for {
		if dispatchClosed && ingested == dispatched.Load() {
			break
		}

		select {
		case result := <-results:
			ingested++
			if err := sc.agg.Ingest(taskCtx, result); err != nil {
				fatal = err
				break loop
			}
			for _, f := range result.Findings {
				e.telemetry.RecordFinding(taskCtx, f.Severity)
			}

		case <-dispatchDone:
			dispatchClosed = true
			dispatchDone = nil

		case <-ticker.C:
			e.publishProgress(sc)

		case <-ctxDone:
			cancelled = true
			ctxDone = nil
			grace := e.cfg.CancelGrace
			if grace <= 0 {
				grace = 5 * time.Second
			}
			graceExpired = time.After(grace)

		case <-graceExpired:
			// In-flight tasks past the deadline are abandoned; their
			// results are discarded, never ingested.
			abandoned = true
			break loop
		}
	}
	taskCancel()

	switch {
	case fatal != nil:
		log.LogError(context.Background(), fatal, "orchestrator.ingest")
		e.finish(sc, types.ScanStatusFailed, reasonCacheUnavailable, fatal.Error(), start)
	case cancelled:
		log.Infow("Scan cancelled",
			"ingested", ingested,
			"dispatched", dispatched.Load(),
			"abandoned", abandoned,
		)
		e.finish(sc, types.ScanStatusCancelled, reasonCancelled, "", start)
	default:
		e.finish(sc, types.ScanStatusCompleted, "", "", start)
	}
}

// finish moves the scan into its terminal state, emits the closing events
// and persists the result when a store is wired.
func (e *Engine) finish(sc *scan, status types.ScanStatus, reason, errMsg string, start time.Time) {
	sc.agg.Finalize(status, errMsg)
	state := sc.agg.Snapshot()

	switch status {
	case types.ScanStatusCompleted:
		e.bus.Publish(types.Event{
			Kind:   types.EventScanCompleted,
			ScanID: sc.id,
			Time:   time.Now(),
			State:  &state,
		})
	default:
		e.bus.Publish(types.Event{
			Kind:   types.EventScanError,
			ScanID: sc.id,
			Time:   time.Now(),
			Reason: reason,
		})
	}

	if e.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.store.SaveScan(ctx, &state); err != nil && !errors.Is(err, context.Canceled) {
			e.logger.Warnw("Failed to persist scan", "scan_id", sc.id, "error", err)
		}
	}

	duration := time.Since(start)
	e.telemetry.RecordScan(context.Background(), status, duration)
	e.telemetry.ScanFinished(context.Background())

	e.logger.Infow("Scan finished",
		"scan_id", sc.id,
		"status", status,
		"discovered", state.Discovered,
		"completed", state.Completed,
		"findings", len(state.Findings),
		"duration_ms", duration.Milliseconds(),
	)
}

func (e *Engine) publishProgress(sc *scan) {
	state := sc.agg.Snapshot()
	e.bus.Publish(types.Event{
		Kind:       types.EventScanProgress,
		ScanID:     sc.id,
		Time:       time.Now(),
		Target:     state.Target.String(),
		Discovered: state.Discovered,
		Completed:  state.Completed,
		Findings:   len(state.Findings),
	})
}
