// Package api serves the coordinator to a local UI shell over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/roach88/answersync/internal/answer"
	"github.com/roach88/answersync/internal/metrics"
	"github.com/roach88/answersync/internal/submission"
)

// Service is the part of *submission.Coordinator the API exposes.
type Service interface {
	SubmitAnswer(ctx context.Context, req answer.SubmitRequest) (answer.SubmissionResult, error)
	RetryFailedSubmissions(ctx context.Context) int
	GetCachedAnswers(ctx context.Context) ([]answer.CachedAnswer, error)
	GetCachedAnswer(ctx context.Context, key answer.Key) (answer.CachedAnswer, bool, error)
	GetPendingCount(ctx context.Context) (int, error)
	ClearCache(ctx context.Context) error
	GetNetworkStatus() answer.NetworkStatus
	SyncInProgress() bool
	Signal(s submission.Signal) bool
}

// Server owns the gin engine.
type Server struct {
	svc      Service
	log      *zap.Logger
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	engine   *gin.Engine
}

type Option func(*Server)

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithGatherer exposes g on GET /metrics. Without it the route is absent.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

func NewServer(svc Service, opts ...Option) *Server {
	s := &Server{
		svc: svc,
		log: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.engine = s.routes()
	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.observe())

	v1 := r.Group("/v1")
	{
		v1.POST("/answers", s.submitAnswer)
		v1.GET("/answers", s.listAnswers)
		v1.GET("/answers/:lesson_id/:element_id", s.getAnswer)
		v1.DELETE("/answers", s.clearAnswers)
		v1.POST("/sync", s.sync)
		v1.GET("/status", s.status)
		v1.POST("/network/:state", s.network)
	}

	if s.gatherer != nil {
		h := promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})
		r.GET("/metrics", gin.WrapH(h))
	}
	return r
}

// observe logs and counts every request.
func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		elapsed := time.Since(start)
		status := c.Writer.Status()

		s.metrics.HTTPRequest(c.Request.Method, route, status, elapsed.Seconds())
		s.log.Debug("api request",
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("elapsed", elapsed),
		)
	}
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully within ten seconds.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("api listening", zap.String("addr", addr))
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
