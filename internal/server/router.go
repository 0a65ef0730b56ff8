// Package server exposes the supervisor to the desktop shell over a
// localhost HTTP API.
package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sidekick-proj/sidekick/internal/metrics"
	"github.com/sidekick-proj/sidekick/internal/supervisor"
)

// Router provides embeddable HTTP handlers over a supervisor.
// Endpoints:
//
//	GET  /status    per-service snapshots
//	GET  /healthz   200 when all services healthy, 503 otherwise
//	GET  /ports     port precheck result
//	GET  /events    recent journal entries (?limit=)
//	POST /start     start all services
//	POST /stop      stop all services (?force=true)
//	POST /restart   stop then start
//	GET  /metrics   Prometheus metrics
type Router struct {
	sup *supervisor.Supervisor
}

func NewRouter(sup *supervisor.Supervisor) *Router {
	return &Router{sup: sup}
}

// Handler returns an http.Handler powered by gin that can be mounted in any
// server or mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	g.GET("/status", r.handleStatus)
	g.GET("/healthz", r.handleHealthz)
	g.GET("/ports", r.handlePorts)
	g.GET("/events", r.handleEvents)
	g.POST("/start", r.handleStart)
	g.POST("/stop", r.handleStop)
	g.POST("/restart", r.handleRestart)
	g.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr string, sup *supervisor.Supervisor) *http.Server {
	r := NewRouter(sup)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

func (r *Router) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"services":    r.sup.Statuses(),
		"all_healthy": r.sup.IsAllHealthy(),
	})
}

func (r *Router) handleHealthz(c *gin.Context) {
	if r.sup.IsAllHealthy() {
		c.JSON(http.StatusOK, okResp{OK: true})
		return
	}
	c.JSON(http.StatusServiceUnavailable, okResp{OK: false})
}

func (r *Router) handlePorts(c *gin.Context) {
	c.JSON(http.StatusOK, r.sup.CheckPortsAvailability())
}

func (r *Router) handleEvents(c *gin.Context) {
	limit := 50
	if q := c.Query("limit"); q != "" {
		if n, err := parsePositive(q); err == nil {
			limit = n
		}
	}
	evs, err := r.sup.RecentEvents(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": evs})
}

func (r *Router) handleStart(c *gin.Context) {
	if err := r.sup.StartServices(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStop(c *gin.Context) {
	force := c.Query("force") == "true"
	if err := r.sup.StopServices(c.Request.Context(), supervisor.StopOptions{Force: force}); err != nil {
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleRestart(c *gin.Context) {
	if err := r.sup.RestartServices(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}
