// Command server runs the book generation API: the HTTP surface, the
// background worker pool that executes generation jobs, and the job
// monitor that recovers stuck work.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/fablehouse/fable-api/internal/config"
	"github.com/fablehouse/fable-api/internal/pipeline"
	"github.com/fablehouse/fable-api/internal/platform/gemini"
	"github.com/fablehouse/fable-api/internal/platform/logger"
	"github.com/fablehouse/fable-api/internal/platform/postgres"
	"github.com/fablehouse/fable-api/internal/service"
	"github.com/fablehouse/fable-api/internal/storage"
	"github.com/fablehouse/fable-api/internal/task"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log := logger.Setup(cfg.Server.LogLevel)
	log.Info("starting fable-api",
		slog.Int("port", cfg.Server.Port),
		slog.String("log_level", cfg.Server.LogLevel))

	db, err := sql.Open("pgx", cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("failed to close database", slog.String("error", err.Error()))
		}
	}()

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return err
	}

	// Stores.
	jobStore := postgres.NewPostgresJobStore(db)
	creditStore := postgres.NewPostgresCreditStore(db)
	artifactStore := postgres.NewPostgresArtifactStore(db)
	bookStore := postgres.NewPostgresBookStore(db)

	// Object storage for rendered images.
	objects, err := storage.NewFilesystemStore(cfg.Image.StorageDir, cfg.Image.PublicBaseURL)
	if err != nil {
		return fmt.Errorf("failed to initialize object storage: %w", err)
	}

	// Generation adapters.
	ctx := context.Background()
	textGen, err := gemini.NewTextGenerator(ctx, log, cfg.LLM)
	if err != nil {
		return fmt.Errorf("failed to initialize text generator: %w", err)
	}
	imageGen, err := gemini.NewImageGenerator(ctx, log, cfg.Image, cfg.LLM.GeminiAPIKey, objects)
	if err != nil {
		return fmt.Errorf("failed to initialize image generator: %w", err)
	}

	// Pipeline.
	steps := pipeline.NewStepRunner(jobStore, log)
	fanout := pipeline.NewImageFanOut(imageGen, jobStore,
		cfg.Image.MaxConcurrent, cfg.Image.MaxRetries, cfg.Image.ImageTimeout(), log)
	orchestrator, err := pipeline.NewOrchestrator(pipeline.OrchestratorParams{
		Steps:      steps,
		Jobs:       jobStore,
		Artifacts:  artifactStore,
		Books:      bookStore,
		Moderator:  textGen,
		Stories:    textGen,
		Sheets:     textGen,
		Prompts:    textGen,
		FanOut:     fanout,
		LLMTimeout: cfg.LLM.LLMTimeout(),
		Logger:     log,
	})
	if err != nil {
		return fmt.Errorf("failed to build orchestrator: %w", err)
	}

	// Background workers and the job monitor.
	runner := task.NewRunner(jobStore, orchestrator, task.RunnerConfig{
		WorkerCount:  cfg.Worker.Count,
		QueueSize:    cfg.Worker.QueueSize,
		PollInterval: cfg.Worker.PollInterval(),
	}, log)
	if err := runner.Start(); err != nil {
		return fmt.Errorf("failed to start task runner: %w", err)
	}

	monitor := pipeline.NewMonitor(jobStore, pipeline.MonitorConfig{
		Interval:        cfg.Monitor.Interval(),
		StuckRunningAge: cfg.Monitor.StuckRunningAge(),
		StuckQueuedAge:  cfg.Monitor.StuckQueuedAge(),
		SLA:             cfg.Job.SLA(),
		MaxRetries:      cfg.Job.MaxRetries,
	}, log)
	monitor.Start()

	books := service.NewBookService(jobStore, creditStore, bookStore, runner, log)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           newRouter(books, monitor, cfg.Image.StorageDir, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case sig := <-stop:
		log.Info("shutting down", slog.String("signal", sig.String()))
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(),
		time.Duration(cfg.Worker.ShutdownSeconds)*time.Second)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", slog.String("error", err.Error()))
	}

	monitor.Stop()
	runner.Stop()

	log.Info("shutdown complete")
	return nil
}
