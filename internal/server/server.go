// Package server exposes the pipeline over HTTP.
package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/ppiankov/newsdigest/internal/app"
	"github.com/ppiankov/newsdigest/internal/model"
	"github.com/rs/zerolog"
)

// VerifyTokenHeader carries the shared secret for POST /run-pipeline
const VerifyTokenHeader = "X-Verify-Token"

// Runner is the part of app.App the server drives
type Runner interface {
	RunOnce(ctx context.Context) (*app.Outcome, error)
	LastRun() *model.PipelineRun
}

// Options configures the HTTP server
type Options struct {
	Addr            string
	VerifyToken     string
	ShutdownTimeout time.Duration
	Async           bool
}

// Server triggers pipeline runs over HTTP
type Server struct {
	runner Runner
	logger zerolog.Logger
	opts   Options
	now    func() time.Time

	// background runs outlive the request but not the server
	baseCtx context.Context
	wg      sync.WaitGroup
}

// RunResponse is the body of POST /run-pipeline
type RunResponse struct {
	Status    string           `json:"status"`
	RunID     string           `json:"run_id,omitempty"`
	State     model.RunState   `json:"state,omitempty"`
	Counts    *model.RunCounts `json:"counts,omitempty"`
	Failures  int              `json:"failures"`
	Deadline  bool             `json:"deadline_exceeded,omitempty"`
	Stories   int              `json:"stories"`
	Error     string           `json:"error,omitempty"`
	Message   string           `json:"message,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// New creates a Server
func New(runner Runner, logger zerolog.Logger, opts Options) *Server {
	if strings.TrimSpace(opts.Addr) == "" {
		opts.Addr = ":8080"
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	return &Server{
		runner:  runner,
		logger:  logger,
		opts:    opts,
		now:     time.Now,
		baseCtx: context.Background(),
	}
}

// Handler builds the echo router
func (s *Server) Handler() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			event := s.logger.Info()
			if v.Error != nil {
				event = s.logger.Error().Err(v.Error)
			}
			event.
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Str("request_id", v.RequestID).
				Msg("http request")
			return nil
		},
	}))

	e.GET("/", s.handleHealth)
	e.GET("/health", s.handleHealth)
	e.POST("/run-pipeline", s.handleRun, s.requireToken)
	return e
}

// Start serves until ctx is cancelled, then drains in-flight background runs
func (s *Server) Start(ctx context.Context) error {
	s.baseCtx = ctx
	e := s.Handler()

	httpServer := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error().Err(err).Msg("server shutdown failed")
		}
	}()

	s.logger.Info().Str("addr", s.opts.Addr).Bool("async", s.opts.Async).Msg("newsdigest server started")

	if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.wg.Wait()
	s.logger.Info().Msg("newsdigest server stopped")
	return nil
}

// requireToken rejects run requests without the configured token
func (s *Server) requireToken(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.opts.VerifyToken == "" {
			return next(c)
		}
		provided := c.Request().Header.Get(VerifyTokenHeader)
		if subtle.ConstantTimeCompare([]byte(provided), []byte(s.opts.VerifyToken)) != 1 {
			return echo.NewHTTPError(http.StatusUnauthorized, "Unauthorized")
		}
		return next(c)
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	body := map[string]any{
		"status":    "healthy",
		"service":   "newsdigest",
		"timestamp": s.now().UTC(),
	}
	if last := s.runner.LastRun(); last != nil {
		body["last_run"] = map[string]any{
			"run_id":  last.ID,
			"status":  last.Status(),
			"started": last.StartedAt.UTC(),
		}
	}
	return c.JSON(http.StatusOK, body)
}

func (s *Server) handleRun(c echo.Context) error {
	s.logger.Info().Str("user_agent", c.Request().UserAgent()).Msg("pipeline trigger received")

	if s.opts.Async {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if _, err := s.runner.RunOnce(s.baseCtx); err != nil {
				s.logger.Error().Err(err).Msg("background pipeline run failed")
			}
		}()
		return c.JSON(http.StatusAccepted, RunResponse{
			Status:    "accepted",
			Message:   "pipeline running, the digest will be delivered shortly",
			Timestamp: s.now().UTC(),
		})
	}

	out, err := s.runner.RunOnce(c.Request().Context())
	resp := RunResponse{Timestamp: s.now().UTC()}
	if out != nil && out.Result != nil && out.Result.Run != nil {
		run := out.Result.Run
		resp.Status = run.Status()
		resp.RunID = run.ID
		resp.State = run.State
		resp.Counts = &run.Counts
		resp.Failures = len(run.Failures)
		resp.Deadline = run.DeadlineExceeded
	}
	if out != nil && out.Digest != nil {
		resp.Stories = out.Digest.Metrics.TotalStories
	}

	status := http.StatusOK
	if err != nil {
		resp.Error = err.Error()
		if resp.Status == "" || errors.Is(err, app.ErrDelivery) {
			resp.Status = model.StatusFailed
		}
		status = http.StatusInternalServerError
	}
	return c.JSON(status, resp)
}

func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "Internal server error"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		if v, ok := he.Message.(string); ok && strings.TrimSpace(v) != "" {
			message = v
		} else if text := http.StatusText(status); text != "" {
			message = text
		}
	}
	_ = c.JSON(status, map[string]string{"error": message})
}
