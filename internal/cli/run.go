package cli

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/imedwei/mongo-backup/internal/backup"
	"github.com/imedwei/mongo-backup/internal/config"
	"github.com/imedwei/mongo-backup/internal/dump"
	"github.com/imedwei/mongo-backup/internal/health"
	"github.com/imedwei/mongo-backup/internal/metrics"
	"github.com/imedwei/mongo-backup/internal/server"
	"github.com/imedwei/mongo-backup/internal/storage"
	"github.com/spf13/viper"
)

const pushJobName = "mongo_backup"

func runBackup(ctx context.Context, v *viper.Viper) error {
	cfg, err := config.NewLoader(v).Load()
	if err != nil {
		return err
	}

	logger, logCloser, err := setupLogging(cfg, os.Stderr)
	if err != nil {
		return &backup.StageError{Stage: backup.StageValidation, Err: err}
	}
	defer func() { _ = logCloser.Close() }()

	logger.Info("Backup started",
		"version", Get().Short(),
		"uri", dump.RedactURI(cfg.MongoDB.URI),
		"storage", cfg.Provider(),
		"archive", cfg.Backup.Archive,
		"file_name", cfg.Backup.FileName,
		"delete_after_max_days", cfg.DeleteAfterMaxDays,
		"simulate", cfg.Simulate,
	)

	binary, err := dump.ResolveBinary(cfg.MongoDB.DumpBinaryPath)
	if err != nil {
		return &backup.StageError{Stage: backup.StageValidation, Err: err}
	}
	cfg.MongoDB.DumpBinaryPath = binary
	logToolVersion(ctx, logger, binary)

	target, err := storage.NewTarget(cfg)
	if err != nil {
		return &backup.StageError{Stage: backup.StageValidation, Err: err}
	}

	store, err := storage.NewStorage(ctx, target, logger)
	if err != nil {
		return &backup.StageError{Stage: backup.StageInitialize, Err: err}
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("Failed to close storage client", "error", err)
		}
	}()

	metrics.Info.WithLabelValues(Get().Short(), target.Provider()).Set(1)

	progress := health.NewProgress()
	srv := startServer(cfg, progress, logger)

	supervisor := dump.NewSupervisor(
		dump.WithConnectTimeout(cfg.MongoDB.ConnectTimeout),
		dump.WithLogger(logger),
	)

	orchestrator := backup.NewOrchestrator(cfg, store, supervisor, logger,
		backup.WithLocation(target.Location()),
		backup.WithObserver(progress),
	)

	runErr := orchestrator.Run(ctx)
	progress.Finish(runErr)

	if runErr != nil {
		logger.Error("Backup failed", "stage", backup.StageOf(runErr), "error", runErr)
	}

	if url := cfg.Metrics.PushgatewayURL; url != "" {
		if err := metrics.Push(url, pushJobName); err != nil {
			logger.Warn("Failed to push metrics", "url", url, "error", err)
		}
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), server.DefaultConfig().ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP server shutdown failed", "error", err)
		}
	}

	return runErr
}

func logToolVersion(ctx context.Context, logger *slog.Logger, binary string) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	version, err := dump.GetToolVersion(ctx, binary)
	if err != nil {
		logger.Warn("Could not detect mongodump version", "binary", binary, "error", err)
		return
	}
	logger.Info("Using mongodump", "binary", binary, "version", version.Full)
}

// startServer serves metrics and progress while the run is in progress.
// A server that cannot bind is logged and skipped.
func startServer(cfg *config.Config, progress *health.Progress, logger *slog.Logger) *server.Server {
	if cfg.Metrics.Port <= 0 {
		return nil
	}

	serverConfig := server.DefaultConfig()
	serverConfig.Port = cfg.Metrics.Port

	srv := server.New(serverConfig, metrics.Registry, logger)
	srv.RegisterHealthCheck("backup", progress.Check)

	if err := srv.Start(); err != nil {
		logger.Warn("Metrics server disabled", "error", err)
		return nil
	}
	return srv
}
