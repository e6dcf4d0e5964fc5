// Package server exposes runs, reviews and live run events over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/contentpipe/config"
	"github.com/mohammad-safakhou/contentpipe/internal/archive"
	"github.com/mohammad-safakhou/contentpipe/internal/events"
	"github.com/mohammad-safakhou/contentpipe/internal/review"
	"github.com/mohammad-safakhou/contentpipe/internal/runstore"
	"github.com/mohammad-safakhou/contentpipe/internal/workflow"
)

// Searcher finds archived runs.
type Searcher interface {
	Search(q string, limit int) ([]archive.Hit, error)
}

// Deps are the collaborators behind the handlers.
type Deps struct {
	Runner  *workflow.Runner
	Bus     *events.Bus
	Archive Searcher
	Metrics http.Handler
	Logger  *zap.Logger
	// DefaultGraph is used when a run request names no graph.
	DefaultGraph string
}

// Server owns the echo instance and the background run goroutines it starts.
type Server struct {
	e      *echo.Echo
	cfg    config.ServerConfig
	deps   Deps
	logger *zap.Logger

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New builds the router.
func New(cfg config.ServerConfig, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("http")
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{cfg: cfg, deps: deps, logger: logger, baseCtx: ctx, cancel: cancel}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = s.errorHandler
	origins := cfg.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     origins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{echo.HeaderContentType, echo.HeaderAuthorization, "Cookie"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	metrics := deps.Metrics
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	e.GET("/metrics", echo.WrapHandler(metrics))

	auth := &AuthHandler{Secret: []byte(cfg.JWTSecret), TTL: cfg.TokenTTL, Reviewers: cfg.Reviewers}
	api := e.Group("/api")
	auth.Register(api.Group("/auth"))
	if len(auth.Secret) == 0 {
		logger.Warn("server.jwt_secret not set, review decisions are not authenticated")
	}

	runs := &RunsHandler{server: s}
	runs.Register(api, auth.Middleware())

	s.e = e
	return s
}

// Echo exposes the router, mainly for tests.
func (s *Server) Echo() *echo.Echo { return s.e }

// Start serves on addr until Shutdown.
func (s *Server) Start(addr string) error {
	if addr == "" {
		addr = s.cfg.Address
	}
	s.logger.Info("listening", zap.String("addr", addr))
	if err := s.e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the listener, cancels background runs and waits for them.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.e.Shutdown(ctx)
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return errors.Join(err, ctx.Err())
	}
	return err
}

// Wait blocks until background runs started by handlers return.
func (s *Server) Wait() { s.wg.Wait() }

func (s *Server) background(name string, fn func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := fn(s.baseCtx); err != nil {
			s.logger.Warn("background task failed", zap.String("task", name), zap.Error(err))
		}
	}()
}

// errorHandler renders every error as {"error": msg}.
func (s *Server) errorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if he.Message != nil {
			msg = fmt.Sprint(he.Message)
		}
	} else {
		code = statusFor(err)
	}
	req := c.Request()
	fields := []zap.Field{
		zap.Int("status", code),
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.String("remote", c.RealIP()),
		zap.Error(err),
	}
	if code >= http.StatusInternalServerError {
		s.logger.Error("request failed", fields...)
	} else {
		s.logger.Debug("request rejected", fields...)
	}
	if !c.Response().Committed {
		_ = c.JSON(code, map[string]interface{}{"error": msg})
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, runstore.ErrNotFound), errors.Is(err, review.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, review.ErrAlreadyDecided), errors.Is(err, workflow.ErrNotResumable), errors.Is(err, workflow.ErrRunBusy):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
