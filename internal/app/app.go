package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tveshas/quizagent/config"
	"github.com/tveshas/quizagent/internal/capability"
	"github.com/tveshas/quizagent/internal/deadline"
	"github.com/tveshas/quizagent/internal/queue/streams"
	"github.com/tveshas/quizagent/internal/session/inmemory"
	"github.com/tveshas/quizagent/internal/session/redisstore"
	"github.com/tveshas/quizagent/internal/solver"
	"github.com/tveshas/quizagent/internal/store"
	"github.com/tveshas/quizagent/internal/submit"
	"github.com/tveshas/quizagent/internal/telemetry"
	"github.com/tveshas/quizagent/provider"
	"github.com/tveshas/quizagent/tools/chart"
	"github.com/tveshas/quizagent/tools/dataset"
	"github.com/tveshas/quizagent/tools/filefetch"
	"github.com/tveshas/quizagent/tools/scrape"
	"github.com/tveshas/quizagent/tools/webfetch"
)

// App holds the wired dependencies shared by the server, the worker and the
// one-shot CLI. Build is the single place collaborators are constructed, so
// every entrypoint solves quizzes with the same stack.
type App struct {
	Cfg          *config.Config
	Logger       *log.Logger
	Telemetry    *telemetry.Telemetry
	Store        solver.SessionStore
	Orchestrator *solver.Orchestrator
	Redis        *redis.Client
	Publisher    *streams.Publisher

	archive *store.Store
}

// Build constructs the full dependency graph from config.
func Build(ctx context.Context, cfg *config.Config, logger *log.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[APP] ", log.LstdFlags)
	}

	tel := telemetry.New(log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags))

	renderer, err := webfetch.NewRenderer(webfetch.RendererType(cfg.Browser.Renderer), webfetch.Options{
		Timeout:     cfg.Browser.Timeout,
		Settle:      cfg.Browser.Settle,
		MaxChars:    cfg.Browser.MaxChars,
		MaxBrowsers: cfg.Browser.MaxBrowsers,
	})
	if err != nil {
		return nil, fmt.Errorf("renderer: %w", err)
	}

	registry, err := capability.NewRegistry([]capability.Tool{
		scrape.New(renderer),
		filefetch.NewDownload(cfg.Tools.DownloadTimeout),
		&filefetch.PDFTool{},
		&filefetch.CSVTool{},
		&filefetch.ImageTool{},
		&dataset.AnalyzeTool{},
		&dataset.StatisticsTool{},
		&chart.Tool{},
	}, cfg.Tools.Required)
	if err != nil {
		return nil, fmt.Errorf("tool registry: %w", err)
	}

	reasoner, err := provider.NewReasoningClient(provider.Client(cfg.LLM.Provider), provider.Options{
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     cfg.LLM.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("reasoning client: %w", err)
	}

	submitter := submit.NewClient(cfg.Submission.Timeout, nil,
		submit.WithRetries(cfg.Submission.MaxRetries),
		submit.WithBackoff(cfg.Submission.Backoff),
	)

	app := &App{Cfg: cfg, Logger: logger, Telemetry: tel}

	if cfg.Storage.Redis.Enabled || cfg.Queue.Enabled {
		if cfg.Storage.Redis.Addr == "" {
			return nil, fmt.Errorf("storage.redis.addr is required for redis sessions or the queue")
		}
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.Redis.Addr,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		app.Redis = rdb
	}

	switch {
	case cfg.Storage.Postgres.Enabled:
		archive, err := store.New(cfg.Storage.Postgres.DSN)
		if err != nil {
			return nil, fmt.Errorf("postgres store: %w", err)
		}
		app.archive = archive
		app.Store = archive
	case cfg.Storage.Redis.Enabled:
		app.Store = redisstore.NewStore(app.Redis, cfg.Storage.Redis.SessionTTL)
	default:
		app.Store = inmemory.NewStore()
	}

	if cfg.Queue.Enabled {
		app.Publisher = streams.NewPublisher(app.Redis)
	}

	orch, err := solver.NewOrchestrator(
		solver.Params{
			Email:             cfg.Solver.Email,
			Secret:            cfg.Solver.Secret,
			MaxReasoningTurns: cfg.Solver.MaxReasoningTurns,
			MaxAttempts:       cfg.Solver.MaxAttempts,
			MaxChainLength:    cfg.Solver.MaxChainLength,
		},
		deadline.Config{Budget: cfg.Solver.Budget, StepTimeout: cfg.Solver.StepTimeout},
		renderer,
		reasoner,
		submitter,
		registry,
		app.Store,
		tel,
		log.New(log.Writer(), "[ORCH] ", log.LstdFlags),
	)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}
	app.Orchestrator = orch
	return app, nil
}

// Close releases pooled connections. Safe to call on a partially built App.
func (a *App) Close() error {
	var firstErr error
	if a.archive != nil {
		if err := a.archive.Close(); err != nil {
			firstErr = err
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// SolveTimeout returns a generous upper bound for one detached session run,
// leaving headroom beyond the solving budget for persistence.
func (a *App) SolveTimeout() time.Duration {
	return a.Cfg.Solver.Budget + 30*time.Second
}
