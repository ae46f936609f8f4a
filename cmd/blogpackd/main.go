package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/timf34/blogpack/internal/api"
	"github.com/timf34/blogpack/internal/config"
	"github.com/timf34/blogpack/internal/jobs"
	"github.com/timf34/blogpack/internal/pipeline"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to config file")
	flag.Parse()

	// Load configuration (auto-creates default if missing).
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Ensure data directory exists.
	if err := os.MkdirAll(cfg.Server.DataDir, 0o755); err != nil {
		slog.Error("failed to create data directory", "error", err)
		os.Exit(1)
	}

	// Open database with WAL mode and pragmas.
	db, err := jobs.OpenDatabase(filepath.Join(cfg.Server.DataDir, "blogpack.db"))
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Run schema migrations.
	if err := jobs.RunMigrations(db); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	runner := &pipeline.Runner{Config: cfg}
	queue := jobs.NewQueue(jobs.NewStore(db), jobs.Options{
		QueueDepth:       cfg.Server.QueueDepth,
		MaxConcurrent:    cfg.Server.MaxConcurrentRuns,
		RunTimeout:       time.Duration(cfg.Server.RunTimeoutMinutes) * time.Minute,
		Retention:        time.Duration(cfg.Server.RetentionMinutes) * time.Minute,
		MaxPosts:         cfg.Server.MaxPostsPerJob,
		MinMemoryPercent: cfg.Server.MinMemoryPercent,
		DataDir:          cfg.Server.DataDir,
		Run: func(ctx context.Context, req pipeline.Request, progress func(string)) (*pipeline.Summary, error) {
			r := *runner
			r.Progress = progress
			return r.Run(ctx, req)
		},
	})
	queue.Start()
	defer queue.Stop()

	router := api.NewRouter(queue)
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: router}

	// Shut down cleanly on SIGINT/SIGTERM so running jobs get cancelled and
	// recorded instead of vanishing.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown", "error", err)
		}
	}()

	slog.Info("starting server", "addr", addr, "data_dir", cfg.Server.DataDir)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}
