package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/tveshas/quizagent/config"
	"github.com/tveshas/quizagent/internal/queue/streams"
	"github.com/tveshas/quizagent/internal/solver"
	"github.com/tveshas/quizagent/internal/submit"
	"github.com/tveshas/quizagent/internal/telemetry"
)

// SessionRunner runs one quiz session to a terminal outcome.
type SessionRunner interface {
	Run(ctx context.Context, startURL string) (*solver.QuizSession, error)
}

// StartPublisher hands session start requests to the queue instead of
// solving them in-process.
type StartPublisher interface {
	PublishStart(ctx context.Context, req streams.StartRequest, opts ...streams.PublishOption) (string, error)
}

// Server is the HTTP front door: it accepts quiz tasks, exposes session
// state to operators and serves Prometheus metrics.
type Server struct {
	cfg          *config.Config
	runner       SessionRunner
	store        solver.SessionStore
	telemetry    *telemetry.Telemetry
	publisher    StartPublisher // nil means solve in-process
	solveTimeout time.Duration
	logger       *log.Logger
}

// New wires the server. publisher may be nil; sessions are then launched on
// a background goroutine bounded by solveTimeout.
func New(cfg *config.Config, runner SessionRunner, store solver.SessionStore, tel *telemetry.Telemetry, publisher StartPublisher, solveTimeout time.Duration, logger *log.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if runner == nil && publisher == nil {
		return nil, fmt.Errorf("server requires a session runner or a queue publisher")
	}
	if store == nil {
		return nil, fmt.Errorf("server requires a session store")
	}
	if solveTimeout <= 0 {
		solveTimeout = cfg.Solver.Budget + 30*time.Second
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	}
	return &Server{
		cfg:          cfg,
		runner:       runner,
		store:        store,
		telemetry:    tel,
		publisher:    publisher,
		solveTimeout: solveTimeout,
		logger:       logger,
	}, nil
}

// Run builds the echo engine and blocks serving addr.
func (s *Server) Run(addr string) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		s.logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization", "Cookie"},
		AllowCredentials: true,
	}))

	s.Register(e)
	return e.Start(addr)
}

// Register attaches all routes to the provided echo engine.
func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	if s.telemetry != nil {
		e.GET("/metrics", echo.WrapHandler(s.telemetry.Handler()))
	}
	e.POST("/quiz", s.handleQuiz)

	api := e.Group("/api")
	api.Use(withAuth([]byte(s.cfg.Server.JWTSecret)))
	api.GET("/sessions", s.handleListSessions)
	api.GET("/sessions/:id", s.handleGetSession)
	api.GET("/metrics", s.handleMetricsSnapshot)
}

// quizRequest is the task payload. Extra fields are accepted and ignored.
type quizRequest struct {
	Email  string `json:"email"`
	Secret string `json:"secret"`
	URL    string `json:"url"`
}

// handleQuiz accepts a quiz task: 403 on a bad secret, 400 on malformed or
// oversized payloads, 200 once solving has been handed off. The response
// never waits for the solve itself.
func (s *Server) handleQuiz(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, submit.MaxPayloadSize+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable body")
	}
	if len(body) > submit.MaxPayloadSize {
		return echo.NewHTTPError(http.StatusBadRequest, "payload too large")
	}

	var req quizRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
	}
	if req.Email == "" || req.URL == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "email and url are required")
	}
	if req.Secret != s.cfg.Solver.Secret {
		s.logger.Printf("invalid secret attempt for email: %s", req.Email)
		return echo.NewHTTPError(http.StatusForbidden, "invalid secret")
	}
	if req.Email != s.cfg.Solver.Email {
		// Secret is authoritative; a mismatched email is only worth a log line.
		s.logger.Printf("email mismatch: %s vs %s", req.Email, s.cfg.Solver.Email)
	}

	start := streams.StartRequest{StartURL: req.URL, Requester: req.Email}
	if err := start.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if s.publisher != nil {
		if _, err := s.publisher.PublishStart(c.Request().Context(), start); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("enqueue: %v", err))
		}
		s.logger.Printf("quiz task enqueued: %s", req.URL)
	} else {
		go s.solveDetached(req.URL)
		s.logger.Printf("quiz task accepted: %s", req.URL)
	}

	return c.JSON(http.StatusOK, map[string]string{
		"status":  "accepted",
		"message": "quiz task received and processing started",
	})
}

// solveDetached runs one session off the request goroutine. The deadline
// monitor inside the orchestrator enforces the solving budget; the outer
// timeout only guards against a wedged collaborator.
func (s *Server) solveDetached(startURL string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.solveTimeout)
	defer cancel()
	sess, err := s.runner.Run(ctx, startURL)
	if err != nil {
		s.logger.Printf("session failed for %s: %v", startURL, err)
		return
	}
	s.logger.Printf("session %s finished: %s after %s", sess.ID, sess.Outcome, sess.Elapsed)
}

func (s *Server) handleListSessions(c echo.Context) error {
	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}
	sessions, err := s.store.List(c.Request().Context(), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if sessions == nil {
		sessions = []*solver.QuizSession{}
	}
	return c.JSON(http.StatusOK, sessions)
}

func (s *Server) handleGetSession(c echo.Context) error {
	sess, err := s.store.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, sess)
}

func (s *Server) handleMetricsSnapshot(c echo.Context) error {
	if s.telemetry == nil {
		return echo.NewHTTPError(http.StatusNotFound, "telemetry disabled")
	}
	return c.JSON(http.StatusOK, s.telemetry.Snapshot())
}
