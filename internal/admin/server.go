// Package admin serves the operator-facing HTTP surface: health, readiness,
// gateway status, and Prometheus metrics.
package admin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/danmuck/botlink/internal/gateway"
	"github.com/danmuck/botlink/internal/observability"
)

// Server exposes gateway state over HTTP for dashboards and probes.
type Server struct {
	gw     *gateway.Gateway
	logger zerolog.Logger

	addr      string
	router    *gin.Engine
	http      *http.Server
	listener  net.Listener
	done      chan struct{}
	startedAt time.Time
}

func New(gw *gateway.Gateway, addr string, corsOrigins []string, logger zerolog.Logger) *Server {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(logger))
	r.Use(observability.RequestMetricsMiddleware("botlinkd"))
	if len(corsOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: corsOrigins,
			AllowMethods: []string{"GET"},
			AllowHeaders: []string{"Origin", "Content-Type"},
			MaxAge:       12 * time.Hour,
		}))
	}

	s := &Server{
		gw:        gw,
		logger:    logger.With().Str("component", "admin").Logger(),
		addr:      addr,
		router:    r,
		done:      make(chan struct{}),
		startedAt: time.Now(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"uptime": time.Since(s.startedAt).String(),
			"peer":   s.gw.IsHealthy(),
		})
	})

	s.router.GET("/ready", func(c *gin.Context) {
		if !s.gw.IsHealthy() {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"reason": "no live peer connection",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ready": true})
	})

	s.router.GET("/status", func(c *gin.Context) {
		stats := s.gw.Stats()
		c.JSON(http.StatusOK, gin.H{
			"live_connections": stats.LiveConnections,
			"pending_calls":    stats.PendingCalls,
			"events_dropped":   stats.EventsDropped,
			"uptime":           stats.Uptime.String(),
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("admin: listen %s: %w", s.addr, err)
	}
	s.listener = ln
	s.http = &http.Server{
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		defer close(s.done)
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("admin server stopped")
		}
	}()

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("admin server listening")
	return nil
}

// Addr reports the bound listener address; empty before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) Close(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	err := s.http.Shutdown(ctx)
	select {
	case <-s.done:
	case <-ctx.Done():
	}
	return err
}
