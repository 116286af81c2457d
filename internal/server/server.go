// Package server exposes the logger over HTTP: memory queries, archive
// access, rotation, a websocket live tail and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/dnyoussef/hooklog/internal/aggregator"
	"github.com/dnyoussef/hooklog/internal/archive"
	"github.com/dnyoussef/hooklog/internal/hub"
	"github.com/dnyoussef/hooklog/internal/logger"
	"github.com/dnyoussef/hooklog/internal/metrics"
	"github.com/gin-gonic/gin"
)

// Server holds the Gin engine and its dependencies.
type Server struct {
	engine     *gin.Engine
	log        *logger.Logger
	archive    *archive.Archive
	hub        *hub.Hub
	aggregator *aggregator.Aggregator
	addr       string
	srv        *http.Server
}

// New wires the routes. hub and agg may be nil, which disables the live
// endpoints.
func New(l *logger.Logger, a *archive.Archive, h *hub.Hub, agg *aggregator.Aggregator, addr string) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.RedirectTrailingSlash = false
	engine.RedirectFixedPath = false

	s := &Server{
		engine:     engine,
		log:        l,
		archive:    a,
		hub:        h,
		aggregator: agg,
		addr:       addr,
	}
	s.setupRoutes()
	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) setupRoutes() {
	s.engine.GET("/healthz", s.handleHealth)

	api := s.engine.Group("/api/logs")
	api.GET("", s.handleQueryMemory)
	api.GET("/stats", s.handleMemoryStats)
	api.GET("/live", s.handleLive)
	api.DELETE("/memory", s.handleClearMemory)
	api.GET("/files", s.handleFiles)
	api.GET("/query", s.handleQueryFile)
	api.GET("/export", s.handleExport)
	api.POST("/rotate", s.handleRotate)
	api.GET("/correlation/:id", s.handleTrace)
	api.GET("/errors/recent", s.handleRecentErrors)
	api.GET("/critical", s.handleCritical)
	api.GET("/archive/stats", s.handleArchiveStats)

	s.engine.GET("/ws", s.handleWebSocket)
	s.engine.GET("/metrics", gin.WrapH(metrics.Handler()))

	// pprof profiling endpoints.
	s.engine.GET("/debug/pprof/", gin.WrapF(pprof.Index))
	s.engine.GET("/debug/pprof/cmdline", gin.WrapF(pprof.Cmdline))
	s.engine.GET("/debug/pprof/profile", gin.WrapF(pprof.Profile))
	s.engine.GET("/debug/pprof/symbol", gin.WrapF(pprof.Symbol))
	s.engine.GET("/debug/pprof/trace", gin.WrapF(pprof.Trace))
	s.engine.GET("/debug/pprof/allocs", gin.WrapH(pprof.Handler("allocs")))
	s.engine.GET("/debug/pprof/heap", gin.WrapH(pprof.Handler("heap")))
	s.engine.GET("/debug/pprof/goroutine", gin.WrapH(pprof.Handler("goroutine")))
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.srv = &http.Server{Addr: s.addr, Handler: s.engine, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}
