package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tveshas/quizagent/config"
	"github.com/tveshas/quizagent/internal/app"
	"github.com/tveshas/quizagent/internal/queue/streams"
	"github.com/tveshas/quizagent/internal/server"
	"github.com/tveshas/quizagent/internal/worker"
)

func main() {
	_ = godotenv.Load()

	var cfgPath string
	root := &cobra.Command{Use: "quizagent", Short: "LLM quiz solving service"}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file")

	root.AddCommand(
		serveCMD(&cfgPath),
		workerCMD(&cfgPath),
		solveCMD(&cfgPath),
		migrateCMD(&cfgPath),
		tokenCMD(&cfgPath),
	)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCMD(cfgPath *string) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(*cfgPath)
			if err := cfg.Solver.Validate(); err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Server.Address
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if cfg.Storage.Postgres.Enabled {
				if err := server.Migrate("file://migrations", cfg.Storage.Postgres.DSN, "up", 0); err != nil {
					return fmt.Errorf("migrate: %w", err)
				}
			}

			a, err := app.Build(ctx, cfg, log.New(os.Stdout, "[APP] ", log.LstdFlags))
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			var publisher server.StartPublisher
			if a.Publisher != nil {
				publisher = a.Publisher
			}
			srv, err := server.New(cfg, a.Orchestrator, a.Store, a.Telemetry, publisher, a.SolveTimeout(), nil)
			if err != nil {
				return err
			}
			return srv.Run(addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}

func workerCMD(cfgPath *string) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run a queue worker consuming session start requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(*cfgPath)
			if err := cfg.Solver.Validate(); err != nil {
				return err
			}
			if !cfg.Queue.Enabled {
				return fmt.Errorf("queue.enabled must be true to run a worker")
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := app.Build(ctx, cfg, log.New(os.Stdout, "[APP] ", log.LstdFlags))
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			if err := streams.EnsureGroup(ctx, a.Redis, streams.SessionStream, cfg.Queue.Group); err != nil {
				return err
			}
			if name == "" {
				name = cfg.Queue.Consumer
			}
			if name == "" {
				name = fmt.Sprintf("worker-%s", uuid.NewString()[:8])
			}
			consumer := streams.NewConsumer(a.Redis, cfg.Queue.Group, name)

			logger := log.New(os.Stdout, "[WORKER] ", log.LstdFlags)
			w, err := worker.NewRunner(consumer, a.Orchestrator, logger,
				worker.WithBlock(cfg.Queue.Block),
				worker.WithSolveTimeout(a.SolveTimeout()),
			)
			if err != nil {
				return err
			}
			if err := w.Run(ctx); err != nil && err != context.Canceled {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "consumer name (default from config or random)")
	return cmd
}

func solveCMD(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "solve <url>",
		Short: "Solve one quiz chain and print the session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(*cfgPath)
			if err := cfg.Solver.Validate(); err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := app.Build(ctx, cfg, log.New(os.Stdout, "[APP] ", log.LstdFlags))
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			runCtx, cancelRun := context.WithTimeout(ctx, a.SolveTimeout())
			defer cancelRun()

			sess, err := a.Orchestrator.Run(runCtx, args[0])
			if sess != nil {
				out, mErr := json.MarshalIndent(sess, "", "  ")
				if mErr == nil {
					fmt.Println(string(out))
				}
			}
			return err
		},
	}
	return cmd
}

func migrateCMD(cfgPath *string) *cobra.Command {
	var dir, direction string
	var steps int
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(*cfgPath)
			return server.Migrate(dir, cfg.Storage.Postgres.DSN, direction, steps)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "file://migrations", "migrations source")
	cmd.Flags().StringVar(&direction, "direction", "up", "up or down")
	cmd.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")
	return cmd
}

func tokenCMD(cfgPath *string) *cobra.Command {
	var subject string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an operator JWT for the /api endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(*cfgPath)
			if cfg.Server.JWTSecret == "" {
				return fmt.Errorf("server.jwt_secret not configured")
			}
			tok, err := server.SignJWT(subject, []byte(cfg.Server.JWTSecret), ttl)
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "operator", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
