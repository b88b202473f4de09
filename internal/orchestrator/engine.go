// Package orchestrator drives scans from submission to a terminal state. One
// engine serves many concurrent scans; they share the cache store and the
// bounded worker pool and nothing else.
package orchestrator

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/nexus-scanner/nexus/internal/aggregator"
	"github.com/nexus-scanner/nexus/internal/config"
	"github.com/nexus-scanner/nexus/internal/core"
	"github.com/nexus-scanner/nexus/internal/logger"
	"github.com/nexus-scanner/nexus/internal/ratelimit"
	"github.com/nexus-scanner/nexus/internal/registry"
	"github.com/nexus-scanner/nexus/pkg/types"
)

type Engine struct {
	registry  core.Registry
	cache     core.CacheStore
	pool      core.Pool
	bus       core.EventBus
	store     core.ScanStore
	telemetry core.Telemetry
	client    *http.Client
	limiter   *ratelimit.Limiter
	logger    *logger.Logger
	cfg       config.EngineConfig

	mu    sync.RWMutex
	scans map[string]*scan
}

type scan struct {
	id     string
	agg    *aggregator.Aggregator
	cancel context.CancelFunc
	done   chan struct{}
}

// Options bundle the engine's collaborators. Store and Telemetry may be nil.
type Options struct {
	Registry  core.Registry
	Cache     core.CacheStore
	Pool      core.Pool
	Bus       core.EventBus
	Store     core.ScanStore
	Telemetry core.Telemetry
	Client    *http.Client
	Limiter   *ratelimit.Limiter
	Logger    *logger.Logger
	Config    config.EngineConfig
}

func NewEngine(opts Options) (*Engine, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if opts.Cache == nil {
		return nil, fmt.Errorf("cache store is required")
	}
	if opts.Pool == nil {
		return nil, fmt.Errorf("worker pool is required")
	}
	if opts.Bus == nil {
		return nil, fmt.Errorf("event bus is required")
	}
	if opts.Client == nil {
		return nil, fmt.Errorf("http client is required")
	}
	if opts.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if opts.Telemetry == nil {
		opts.Telemetry = noopTelemetry{}
	}

	return &Engine{
		registry:  opts.Registry,
		cache:     opts.Cache,
		pool:      opts.Pool,
		bus:       opts.Bus,
		store:     opts.Store,
		telemetry: opts.Telemetry,
		client:    opts.Client,
		limiter:   opts.Limiter,
		logger:    opts.Logger.WithComponent("orchestrator"),
		cfg:       opts.Config,
		scans:     make(map[string]*scan),
	}, nil
}

// Submit validates the target and options, registers a new scan and starts
// it. Invalid submissions fail synchronously with a validation error and
// never reach RUNNING.
func (e *Engine) Submit(rawTarget string, opts types.ScanOptions) (string, error) {
	target, err := types.ParseTarget(rawTarget)
	if err != nil {
		return "", &types.ValidationError{Field: "target", Reason: err.Error()}
	}
	if err := validateOptions(opts); err != nil {
		return "", err
	}

	detectors, err := registry.Select(e.registry, opts.EnabledDetectors)
	if err != nil {
		return "", &types.ValidationError{Field: "enabled_detectors", Reason: err.Error()}
	}

	scanID := uuid.New().String()
	agg := aggregator.New(scanID, target, e.cache, opts.CacheTTL, e.logger)

	var (
		scanCtx context.Context
		cancel  context.CancelFunc
	)
	if opts.Timeout > 0 {
		scanCtx, cancel = context.WithTimeout(context.Background(), opts.Timeout)
	} else {
		scanCtx, cancel = context.WithCancel(context.Background())
	}

	sc := &scan{
		id:     scanID,
		agg:    agg,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	e.mu.Lock()
	e.scans[scanID] = sc
	e.mu.Unlock()

	e.logger.Infow("Scan submitted",
		"scan_id", scanID,
		"target", target.String(),
		"max_depth", opts.MaxDepth,
		"detectors", len(detectors),
	)

	go e.run(scanCtx, sc, target, opts, detectors)

	return scanID, nil
}

// Cancel requests cooperative cancellation of a running scan.
func (e *Engine) Cancel(scanID string) error {
	e.mu.RLock()
	sc, ok := e.scans[scanID]
	e.mu.RUnlock()

	if !ok {
		return fmt.Errorf("unknown scan %s", scanID)
	}
	sc.cancel()
	return nil
}

// GetState returns a point-in-time snapshot of a scan.
func (e *Engine) GetState(scanID string) (types.ScanState, error) {
	e.mu.RLock()
	sc, ok := e.scans[scanID]
	e.mu.RUnlock()

	if !ok {
		return types.ScanState{}, fmt.Errorf("unknown scan %s", scanID)
	}
	return sc.agg.Snapshot(), nil
}

// List returns snapshots of every scan the engine knows about.
func (e *Engine) List() []types.ScanState {
	e.mu.RLock()
	scans := make([]*scan, 0, len(e.scans))
	for _, sc := range e.scans {
		scans = append(scans, sc)
	}
	e.mu.RUnlock()

	states := make([]types.ScanState, 0, len(scans))
	for _, sc := range scans {
		states = append(states, sc.agg.Snapshot())
	}
	return states
}

// Wait blocks until the scan reaches a terminal state or ctx ends.
func (e *Engine) Wait(ctx context.Context, scanID string) (types.ScanState, error) {
	e.mu.RLock()
	sc, ok := e.scans[scanID]
	e.mu.RUnlock()

	if !ok {
		return types.ScanState{}, fmt.Errorf("unknown scan %s", scanID)
	}

	select {
	case <-sc.done:
		return sc.agg.Snapshot(), nil
	case <-ctx.Done():
		return types.ScanState{}, ctx.Err()
	}
}

// Close cancels all scans and shuts the engine down.
func (e *Engine) Close() {
	e.mu.Lock()
	scans := make([]*scan, 0, len(e.scans))
	for _, sc := range e.scans {
		scans = append(scans, sc)
	}
	e.mu.Unlock()

	for _, sc := range scans {
		sc.cancel()
		<-sc.done
	}
	e.bus.Close()
}

func validateOptions(opts types.ScanOptions) error {
	switch {
	case opts.MaxDepth < 0:
		return &types.ValidationError{Field: "max_depth", Reason: "must not be negative"}
	case opts.Concurrency <= 0:
		return &types.ValidationError{Field: "concurrency", Reason: "must be positive"}
	case opts.Timeout < 0:
		return &types.ValidationError{Field: "timeout", Reason: "must not be negative"}
	case opts.TaskTimeout < 0:
		return &types.ValidationError{Field: "task_timeout", Reason: "must not be negative"}
	case opts.RetryCount < 0:
		return &types.ValidationError{Field: "retry_count", Reason: "must not be negative"}
	case opts.RetryDelay < 0:
		return &types.ValidationError{Field: "retry_delay", Reason: "must not be negative"}
	case opts.CacheTTL < 0:
		return &types.ValidationError{Field: "cache_ttl", Reason: "must not be negative"}
	case opts.MaxResources < 0:
		return &types.ValidationError{Field: "max_resources", Reason: "must not be negative"}
	}
	return nil
}

