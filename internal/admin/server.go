// Package admin serves the replication client's health and metrics over HTTP.
package admin

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/replica/internal/auth"
	"github.com/danmuck/replica/internal/observability"
	"github.com/danmuck/replica/internal/replication"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 5 * time.Second

// Source is the slice of a replication client the admin surface reports on.
type Source interface {
	ConnID() string
	Clock() *replication.Clock
	Done() <-chan struct{}
	Err() error
}

type Options struct {
	Name        string
	Addr        string
	CORSOrigins []string
	// Token guards /metrics when set. /healthz stays open for probes.
	Token auth.Validator
}

type Server struct {
	name     string
	addr     string
	source   Source
	token    auth.Validator
	router   *gin.Engine
	appeared time.Time
}

func New(opts Options, source Source) *Server {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware())
	if origins := normalizeOrigins(opts.CORSOrigins); len(origins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: origins,
			AllowMethods: []string{"GET"},
			AllowHeaders: []string{"Origin", "Content-Type"},
			MaxAge:       12 * time.Hour,
		}))
	}
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		name:     opts.Name,
		addr:     opts.Addr,
		source:   source,
		token:    opts.Token,
		router:   r,
		appeared: time.Now(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", s.health)
	metrics := []gin.HandlerFunc{gin.WrapH(promhttp.Handler())}
	if s.token != nil {
		metrics = append([]gin.HandlerFunc{auth.Require(s.token)}, metrics...)
	}
	s.router.GET("/metrics", metrics...)
}

// health reports 200 while the receive loop runs and 503 once it has
// stopped, for whatever reason.
func (s *Server) health(c *gin.Context) {
	body := gin.H{
		"service": s.name,
		"conn_id": s.source.ConnID(),
		"uptime":  time.Since(s.appeared).String(),
	}
	if now := s.source.Clock().Now(); !now.IsZero() {
		body["clock"] = now.Format(time.RFC3339Nano)
	}

	select {
	case <-s.source.Done():
		body["status"] = "stopped"
		if err := s.source.Err(); err != nil {
			body["error"] = err.Error()
		}
		c.JSON(http.StatusServiceUnavailable, body)
	default:
		body["status"] = "ok"
		c.JSON(http.StatusOK, body)
	}
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.addr).Msg("admin server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info().Str("addr", s.addr).Msg("admin server stopped")
	return nil
}

func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, origin := range origins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
