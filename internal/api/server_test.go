package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-scanner/nexus/internal/cache"
	"github.com/nexus-scanner/nexus/internal/config"
	"github.com/nexus-scanner/nexus/internal/core"
	"github.com/nexus-scanner/nexus/internal/events"
	"github.com/nexus-scanner/nexus/internal/httpclient"
	"github.com/nexus-scanner/nexus/internal/logger"
	"github.com/nexus-scanner/nexus/internal/orchestrator"
	"github.com/nexus-scanner/nexus/internal/registry"
	"github.com/nexus-scanner/nexus/internal/worker"
	"github.com/nexus-scanner/nexus/pkg/types"
)

type stubDetector struct{}

var _ core.Detector = stubDetector{}

func (stubDetector) Name() string                { return "stub" }
func (stubDetector) Version() string             { return "1.0.0" }
func (stubDetector) Applies(types.Resource) bool { return true }

func (stubDetector) Evaluate(_ context.Context, _ types.Target, r types.Resource) ([]types.Finding, error) {
	return []types.Finding{{Severity: types.SeverityLow, Title: "stub finding", Resource: r.URL}}, nil
}

func newTestServer(t *testing.T) (*Server, *orchestrator.Engine) {
	t.Helper()

	reg, err := registry.New(stubDetector{})
	require.NoError(t, err)
	pool, err := worker.NewPool(8, logger.Nop())
	require.NoError(t, err)
	bus := events.NewBus(64, logger.Nop())

	eng, err := orchestrator.NewEngine(orchestrator.Options{
		Registry: reg,
		Cache:    cache.NewMemoryStore(100),
		Pool:     pool,
		Bus:      bus,
		Client:   httpclient.New(httpclient.Config{Timeout: 5 * time.Second, UserAgent: "nexus-test"}),
		Logger:   logger.Nop(),
		Config: config.EngineConfig{
			Workers:       8,
			ProgressEvery: 50 * time.Millisecond,
			CancelGrace:   300 * time.Millisecond,
			UserAgent:     "nexus-test",
		},
	})
	require.NoError(t, err)
	t.Cleanup(eng.Close)

	cfg := config.Default()
	cfg.RateLimit.RequestsPerSecond = 1000
	cfg.RateLimit.BurstSize = 1000
	return NewServer(eng, nil, bus, logger.Nop(), cfg), eng
}

func doRequest(s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	w := doRequest(s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestSubmitAndFetchScan(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html></html>")
	}))
	defer upstream.Close()

	s, eng := newTestServer(t)

	opts := types.DefaultScanOptions()
	opts.MaxDepth = 0
	opts.RespectRobots = false
	w := doRequest(s, http.MethodPost, "/api/v1/scans", map[string]interface{}{
		"target":  upstream.URL,
		"options": opts,
	})
	require.Equal(t, http.StatusAccepted, w.Code)

	var submitted struct {
		ScanID string `json:"scan_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &submitted))
	require.NotEmpty(t, submitted.ScanID)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := eng.Wait(ctx, submitted.ScanID)
	require.NoError(t, err)

	w = doRequest(s, http.MethodGet, "/api/v1/scans/"+submitted.ScanID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var state types.ScanState
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &state))
	assert.Equal(t, types.ScanStatusCompleted, state.Status)

	w = doRequest(s, http.MethodGet, "/api/v1/scans/"+submitted.ScanID+"/findings", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var findings struct {
		Findings []types.Finding `json:"findings"`
		Summary  types.Summary   `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &findings))
	require.Len(t, findings.Findings, 1)
	assert.Equal(t, "stub finding", findings.Findings[0].Title)
	assert.Equal(t, 1, findings.Summary.Total)

	w = doRequest(s, http.MethodGet, "/api/v1/scans", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Count)
}

func TestSubmitRejectsBadRequests(t *testing.T) {
	s, _ := newTestServer(t)

	// Missing target field fails binding.
	w := doRequest(s, http.MethodPost, "/api/v1/scans", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// A target the engine rejects comes back as a validation error.
	w = doRequest(s, http.MethodPost, "/api/v1/scans", map[string]interface{}{"target": "ftp://example.com"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "target")
}

func TestGetUnknownScan(t *testing.T) {
	s, _ := newTestServer(t)

	w := doRequest(s, http.MethodGet, "/api/v1/scans/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(s, http.MethodDelete, "/api/v1/scans/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(s, http.MethodGet, "/api/v1/scans/nope/findings", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRateLimitMiddleware(t *testing.T) {
	s, _ := newTestServer(t)
	// Rebuild with a tight limit to exercise 429s.
	cfg := config.Default()
	cfg.RateLimit.RequestsPerSecond = 1
	cfg.RateLimit.BurstSize = 2

	limited := NewServer(s.engine, nil, s.bus, logger.Nop(), cfg)
	var rejected bool
	for i := 0; i < 5; i++ {
		if doRequest(limited, http.MethodGet, "/health", nil).Code == http.StatusTooManyRequests {
			rejected = true
		}
	}
	assert.True(t, rejected)
}
