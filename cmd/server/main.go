package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	h "github.com/seriesvault/seriesvault/internal/api/http"
	cfgpkg "github.com/seriesvault/seriesvault/internal/config"
	"github.com/seriesvault/seriesvault/internal/fetch"
	"github.com/seriesvault/seriesvault/internal/ffmpeg"
	"github.com/seriesvault/seriesvault/internal/job"
	"github.com/seriesvault/seriesvault/internal/library"
	"github.com/seriesvault/seriesvault/internal/progress"
)

func main() {

	// .env is optional; real deployments configure through the environment.
	_ = godotenv.Load()

	cfg, err := cfgpkg.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	cfgpkg.SetupLogger(cfg)
	slog.Info("configuration loaded successfully")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store library.Store
	if cfg.DatabaseURL != "" {
		pg, err := library.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to open library database", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		store = pg
	} else {
		slog.Warn("no database configured, library records are kept in memory only")
		store = library.NewMemoryStore()
	}

	runner, err := ffmpeg.NewRunner(cfg.FFmpegBin, cfg.FFprobeBin, cfg.FFmpegExtraArgs, slog.Default())
	if err != nil {
		slog.Error("failed to initialize ffmpeg", "error", err)
		os.Exit(1)
	}
	guard := ffmpeg.NewTagGuard(runner)

	reporter := progress.NewReporter()
	fetcher := fetch.NewHTTPFetcher(cfg.FetchTimeout, cfg.TempDir, guard, runner, cfg.AllowGermanSub, slog.Default())
	reconciler := library.NewReconciler(store, slog.Default())
	supervisor := job.NewSupervisor(cfg, reporter, fetch.DirectResolver{}, fetcher, reconciler, slog.Default())
	scanner := library.NewScanner(store, guard, cfg.ScanWorkers, slog.Default())
	if cfg.ScanOnStart {
		go func() {
			if _, err := scanner.Scan(ctx, cfg.LibraryDir); err != nil {
				slog.Error("startup library scan failed", "error", err)
			}
		}()
	}

	handler := h.NewDownloadHandler(supervisor, reporter, store, scanner, cfg.LibraryDir, slog.Default())
	router := h.NewRouter(handler, slog.Default())
	// WriteTimeout stays unset: /api/events holds a response open for the
	// whole lifetime of a subscriber.
	server := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:     router,
		ReadTimeout: cfg.HTTPTimeout,
		IdleTimeout: cfg.HTTPTimeout,
	}

	go func() {
		slog.Info("server starting", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown failed", "error", err)
	} else {
		slog.Info("server stopped gracefully")
	}
}
