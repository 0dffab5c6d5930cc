package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/garnizeh/taskgate/api"
	dbfs "github.com/garnizeh/taskgate/db"
	"github.com/garnizeh/taskgate/internal/admission"
	"github.com/garnizeh/taskgate/internal/config"
	"github.com/garnizeh/taskgate/internal/db"
	"github.com/garnizeh/taskgate/internal/evidence"
	"github.com/garnizeh/taskgate/internal/jobs"
	"github.com/garnizeh/taskgate/internal/lifecycle"
	"github.com/garnizeh/taskgate/internal/metrics"
	"github.com/garnizeh/taskgate/internal/models"
	"github.com/garnizeh/taskgate/internal/repository/sqlite"
	"github.com/garnizeh/taskgate/internal/rules"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "Path to config YAML file")
	migrate := pflag.Bool("migrate", false, "Apply migrations and seeds before serving")
	logLevel := pflag.String("log-level", "info", "Log level: debug, info, warn, error")
	pflag.Parse()

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	api.SetLogger(logger)

	if err := run(*configPath, *migrate, logger); err != nil {
		logger.Error("server failed", slog.Any("err", err))
		os.Exit(1)
	}
}

func run(configPath string, migrate bool, logger *slog.Logger) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger.Info("starting taskgate", slog.String("version", version), slog.String("build_time", buildTime))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open database connection
	conn, err := db.New(ctx, cfg.DatabasePath, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := conn.Close(); err != nil {
			logger.Error("close db", slog.Any("err", err))
		}
	}()

	if migrate || cfg.MigrateOnStart {
		if err := db.Migrate(ctx, conn, dbfs.Migrations, dbfs.SeedFiles); err != nil {
			return err
		}
		logger.Info("migrations applied")
	}

	repo := sqlite.New(conn, logger)
	ruleStore := rules.NewStore(rules.NewTable(cfg.Cooldowns), repo, logger)
	agg := metrics.New(repo, logger)
	machine := lifecycle.New(repo,
		admission.NewResolver(ruleStore, logger),
		evidence.NewVerifier(cfg.Evidence, logger),
		agg, cfg.Engine, logger)

	pool := jobs.NewWorkerPool(repo, map[string]jobs.Handler{
		models.JobExpireClaims: jobs.ExpireClaimsHandler(machine, time.Now, logger),
	}, logger, cfg.Jobs)
	pool.Start(ctx)
	defer pool.Stop()

	sweeper := jobs.NewScheduler(pool, models.JobExpireClaims, cfg.Engine.ClaimSweepInterval, logger)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	handler := api.SetupRoutes(cfg, version, buildTime, api.Services{
		DB:      conn,
		Machine: machine,
		Rules:   ruleStore,
		Metrics: agg,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.APITimeout,
		WriteTimeout: cfg.APITimeout,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("server starting", slog.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}
	logger.Info("shutting down server")

	// Give outstanding requests 30 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	logger.Info("server exited")
	return nil
}
