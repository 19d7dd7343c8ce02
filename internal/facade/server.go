// Package facade exposes the fused trading signal and operator controls over
// HTTP, for an external strategy host to consume without linking against
// the core directly.
package facade

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"futures-agent/internal/risk"
	"futures-agent/pkg/clock"
)

const signalCacheTTL = 30 * time.Second

// SignalProvider is implemented by the supervisor: it answers the façade's
// /signal query from whatever cached Decider output it already holds.
type SignalProvider interface {
	Signal(ctx context.Context, symbol string) (action string, qty int, confidence float64)
}

// HealthProvider reports whether each background subsystem is alive.
type HealthProvider interface {
	ComponentHealth() map[string]bool
}

type cachedSignal struct {
	action     string
	qty        int
	confidence float64
	expiresAt  time.Time
}

// Server wires the façade's gin.Engine and dependencies.
type Server struct {
	Router *gin.Engine

	provider SignalProvider
	health   HealthProvider
	risk     *risk.Gate
	metrics  *Metrics
	clock    clock.Clock

	cacheMu sync.Mutex
	cache   map[string]cachedSignal
}

// NewServer builds a Server with the teacher's middleware stack in order:
// Recovery, RequestID, Logger, RateLimit, Timeout, CORS.
func NewServer(provider SignalProvider, health HealthProvider, gate *risk.Gate, jwtSecret string, clk clock.Clock) *Server {
	r := gin.New()
	metrics := NewMetrics(clk.Now())

	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(metrics))
	r.Use(RateLimitMiddleware())
	r.Use(TimeoutMiddleware(10 * time.Second))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:   r,
		provider: provider,
		health:   health,
		risk:     gate,
		metrics:  metrics,
		clock:    clk,
		cache:    make(map[string]cachedSignal),
	}
	s.routes(jwtSecret)
	return s
}

func (s *Server) routes(jwtSecret string) {
	s.Router.GET("/signal", s.handleSignal)
	s.Router.GET("/health", s.handleHealth)
	s.Router.GET("/metrics", s.handleMetrics)

	admin := s.Router.Group("/")
	admin.Use(AuthMiddleware(jwtSecret))
	admin.POST("/kill", s.handleKill)
	admin.POST("/resume", s.handleResume)
	admin.POST("/record-trade", s.handleRecordTrade)
}

type signalResponse struct {
	Action     string  `json:"action"`
	Qty        int     `json:"qty"`
	Confidence float64 `json:"confidence"`
}

// handleSignal answers HOLD/0/0.0 for a missing symbol, a nil provider, or a
// provider panic. A provider call that outlasts TimeoutMiddleware's deadline
// is answered by that middleware's 408 response, not by HOLD/0/0.0.
func (s *Server) handleSignal(c *gin.Context) {
	symbol := c.Query("symbol")
	if symbol == "" {
		c.JSON(http.StatusOK, signalResponse{Action: "HOLD", Qty: 0, Confidence: 0})
		return
	}

	now := s.clock.Now()
	s.cacheMu.Lock()
	if cached, ok := s.cache[symbol]; ok && now.Before(cached.expiresAt) {
		s.cacheMu.Unlock()
		s.respondSignal(c, cached.action, cached.qty, cached.confidence, now)
		return
	}
	s.cacheMu.Unlock()

	action, qty, confidence := s.fetchSignal(c.Request.Context(), symbol)

	s.cacheMu.Lock()
	s.cache[symbol] = cachedSignal{action: action, qty: qty, confidence: confidence, expiresAt: now.Add(signalCacheTTL)}
	s.cacheMu.Unlock()

	s.respondSignal(c, action, qty, confidence, now)
}

func (s *Server) fetchSignal(ctx context.Context, symbol string) (action string, qty int, confidence float64) {
	action, qty, confidence = "HOLD", 0, 0
	if s.provider == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			action, qty, confidence = "HOLD", 0, 0
		}
	}()
	return s.provider.Signal(ctx, symbol)
}

func (s *Server) respondSignal(c *gin.Context, action string, qty int, confidence float64, now time.Time) {
	s.metrics.RecordSignal(action, now)
	c.JSON(http.StatusOK, signalResponse{Action: action, Qty: qty, Confidence: confidence})
}

func (s *Server) handleHealth(c *gin.Context) {
	components := map[string]bool{
		"microBlog":           false,
		"forum":               false,
		"news":                false,
		"scorer":              false,
		"backgroundCollector": false,
	}
	if s.health != nil {
		for k, v := range s.health.ComponentHealth() {
			components[k] = v
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"timestamp":  s.clock.Now(),
		"components": components,
	})
}

func (s *Server) handleMetrics(c *gin.Context) {
	snap := s.metrics.Snapshot(s.clock.Now())
	c.JSON(http.StatusOK, gin.H{
		"total_requests":    snap.TotalRequests,
		"signals_generated": snap.SignalsGenerated,
		"last_signal_time":  snap.LastSignalTime,
		"uptime_seconds":    snap.UptimeSeconds,
		"risk_stats":        s.risk.Snapshot(),
	})
}

func (s *Server) handleKill(c *gin.Context) {
	reason := c.Query("reason")
	s.risk.Kill(reason)
	c.JSON(http.StatusOK, gin.H{"killed": true, "reason": reason})
}

func (s *Server) handleResume(c *gin.Context) {
	s.risk.Resume()
	c.JSON(http.StatusOK, gin.H{"resumed": true})
}

func (s *Server) handleRecordTrade(c *gin.Context) {
	pnlStr := c.Query("pnl")
	pnl, err := strconv.ParseFloat(pnlStr, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid pnl"})
		return
	}
	s.risk.RecordTrade(pnl)
	c.JSON(http.StatusOK, gin.H{"recorded": true})
}
