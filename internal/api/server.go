// Package api exposes the engine's operational surface over HTTP: liveness,
// memory and scheduler reports, the active variant set, and Prometheus
// metrics.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"indstream/internal/engine"
	"indstream/internal/memmon"
	"indstream/internal/metrics"
	"indstream/internal/model"
	"indstream/internal/scheduler"
)

// Server wires the health endpoints over a gin router.
type Server struct {
	addr   string
	router *gin.Engine
	srv    *http.Server
}

// Registry manages persisted indicator variants. The sqlite store
// implements this.
type Registry interface {
	CreateVariant(ctx context.Context, name, kind, params, scope, createdBy string) (string, error)
	SoftDeleteVariant(ctx context.Context, id string) error
}

// Deps are the components the API reports on. Any nil field disables its
// endpoint with a 503.
type Deps struct {
	Engine    *engine.Engine
	Scheduler *scheduler.Scheduler
	Memory    *memmon.Monitor
	Metrics   *metrics.Metrics
	Registry  Registry
}

// New builds the router. Call Run to start serving.
func New(addr string, deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		addr:   addr,
		router: router,
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
	})

	v1 := router.Group("/api/v1")
	v1.GET("/memory", func(c *gin.Context) {
		if deps.Memory == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "memory monitor disabled"})
			return
		}
		c.JSON(http.StatusOK, deps.Memory.Report())
	})
	v1.GET("/scheduler", func(c *gin.Context) {
		if deps.Scheduler == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "scheduler disabled"})
			return
		}
		c.JSON(http.StatusOK, deps.Scheduler.Counters())
	})
	v1.GET("/variants", func(c *gin.Context) {
		if deps.Engine == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "engine disabled"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"slots":    deps.Engine.SlotCount(),
			"variants": deps.Engine.ActiveVariants(),
		})
	})

	v1.POST("/variants", func(c *gin.Context) {
		if deps.Registry == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "registry disabled"})
			return
		}
		var req struct {
			Name   string `json:"name" binding:"required"`
			Kind   string `json:"kind" binding:"required"`
			Params string `json:"params" binding:"required"`
			Scope  string `json:"scope"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.Scope == "" {
			req.Scope = model.ScopeGlobal
		}
		id, err := deps.Registry.CreateVariant(c.Request.Context(),
			req.Name, req.Kind, req.Params, req.Scope, "api")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		// Accumulators appear on the next registry poll, not immediately.
		c.JSON(http.StatusCreated, gin.H{"id": id})
	})
	v1.DELETE("/variants/:id", func(c *gin.Context) {
		if deps.Registry == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "registry disabled"})
			return
		}
		if err := deps.Registry.SoftDeleteVariant(c.Request.Context(), c.Param("id")); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "retired"})
	})

	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(
			deps.Metrics.Registry(), promhttp.HandlerOpts{})))
	}

	return s
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutCtx)
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}
