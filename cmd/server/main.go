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

	"github.com/JonMunkholm/analyzer/internal/catalog"
	"github.com/JonMunkholm/analyzer/internal/config"
	"github.com/JonMunkholm/analyzer/internal/ingest"
	"github.com/JonMunkholm/analyzer/internal/logging"
	"github.com/JonMunkholm/analyzer/internal/storage"
	"github.com/JonMunkholm/analyzer/internal/web"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("configuration loaded", "config", cfg.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	// No partial catalog is ever served: a failed scan stops startup.
	cat, err := catalog.Load(ctx, store)
	if err != nil {
		return err
	}
	slog.Info("catalog loaded", "records", cat.Len(), "driver", store.Driver)

	if cfg.Import.SeedFile != "" && cat.Len() == 0 {
		if err := seed(ctx, cat, cfg.Import.SeedFile); err != nil {
			return fmt.Errorf("seed catalog: %w", err)
		}
	}

	server := web.NewServer(cat, store, cfg)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", cfg.Server.Addr())
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
		slog.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}

	slog.Info("server stopped")
	return nil
}

// seed applies a CSV or YAML file to an empty catalog.
func seed(ctx context.Context, cat *catalog.Catalog, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	batch, err := ingest.Parse(f, ingest.FormatFor(path, ""))
	if err != nil {
		return err
	}
	res, err := ingest.Apply(ctx, cat, batch)
	if err != nil {
		return err
	}

	log := slog.With("batch_id", res.BatchID, "file", path)
	for _, rowErr := range res.Failed {
		log.Warn("seed row skipped", "line", rowErr.Line, "code", rowErr.Code, "error", rowErr.Message)
	}
	log.Info("catalog seeded", "created", res.Created, "failed", len(res.Failed))
	return nil
}
