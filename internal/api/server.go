// Package api exposes the scan engine over HTTP: a JSON REST surface for
// scan lifecycle operations and a websocket feed of engine events.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nexus-scanner/nexus/internal/config"
	"github.com/nexus-scanner/nexus/internal/core"
	"github.com/nexus-scanner/nexus/internal/logger"
	"github.com/nexus-scanner/nexus/internal/orchestrator"
	"github.com/nexus-scanner/nexus/pkg/types"
)

type Server struct {
	engine *orchestrator.Engine
	store  core.ScanStore
	bus    core.EventBus
	logger *logger.Logger
	router *gin.Engine
	cfg    config.ServerConfig
}

// NewServer builds the HTTP surface. Store may be nil; history endpoints then
// fall back to in-memory engine state only.
func NewServer(engine *orchestrator.Engine, store core.ScanStore, bus core.EventBus, log *logger.Logger, cfg config.Config) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggingMiddleware(log))
	router.Use(RateLimitMiddleware(cfg.RateLimit))

	s := &Server{
		engine: engine,
		store:  store,
		bus:    bus,
		logger: log.WithComponent("api"),
		router: router,
		cfg:    cfg.Server,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/scans", s.handleSubmit)
		v1.GET("/scans", s.handleListScans)
		v1.GET("/scans/:id", s.handleGetScan)
		v1.DELETE("/scans/:id", s.handleCancelScan)
		v1.GET("/scans/:id/findings", s.handleGetFindings)
		v1.GET("/events", s.handleEvents)
	}
}

// Run serves until ctx ends, then drains with a short shutdown grace.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infow("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}

type submitRequest struct {
	Target  string             `json:"target" binding:"required"`
	Options *types.ScanOptions `json:"options,omitempty"`
}

func (s *Server) handleSubmit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	opts := types.DefaultScanOptions()
	if req.Options != nil {
		opts = *req.Options
	}

	scanID, err := s.engine.Submit(req.Target, opts)
	if err != nil {
		status := http.StatusInternalServerError
		if _, ok := err.(*types.ValidationError); ok {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"scan_id": scanID,
		"status":  types.ScanStatusPending,
	})
}

func (s *Server) handleListScans(c *gin.Context) {
	states := s.engine.List()
	sort.Slice(states, func(i, j int) bool {
		return states[i].StartedAt.After(states[j].StartedAt)
	})

	// In-memory state wins for scans the engine still tracks; the store only
	// adds scans from earlier process lifetimes.
	if s.store != nil {
		seen := make(map[string]bool, len(states))
		for _, st := range states {
			seen[st.ID] = true
		}
		stored, err := s.store.ListScans(c.Request.Context(), 100)
		if err != nil {
			s.logger.Warnw("Failed to list stored scans", "error", err)
		} else {
			for _, st := range stored {
				if !seen[st.ID] {
					states = append(states, st)
				}
			}
		}
	}

	c.JSON(http.StatusOK, gin.H{"scans": states, "count": len(states)})
}

func (s *Server) handleGetScan(c *gin.Context) {
	scanID := c.Param("id")

	state, err := s.engine.GetState(scanID)
	if err == nil {
		c.JSON(http.StatusOK, state)
		return
	}

	if s.store != nil {
		stored, serr := s.store.GetScan(c.Request.Context(), scanID)
		if serr == nil {
			c.JSON(http.StatusOK, stored)
			return
		}
	}

	c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("scan %s not found", scanID)})
}

func (s *Server) handleCancelScan(c *gin.Context) {
	scanID := c.Param("id")
	if err := s.engine.Cancel(scanID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"scan_id": scanID, "status": "cancelling"})
}

func (s *Server) handleGetFindings(c *gin.Context) {
	scanID := c.Param("id")

	state, err := s.engine.GetState(scanID)
	if err == nil {
		c.JSON(http.StatusOK, gin.H{
			"scan_id":  scanID,
			"findings": state.Findings,
			"summary":  types.Summarize(state.Findings),
		})
		return
	}

	if s.store != nil {
		findings, serr := s.store.GetFindings(c.Request.Context(), scanID)
		if serr == nil {
			c.JSON(http.StatusOK, gin.H{
				"scan_id":  scanID,
				"findings": findings,
				"summary":  types.Summarize(findings),
			})
			return
		}
	}

	c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("scan %s not found", scanID)})
}
