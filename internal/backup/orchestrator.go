package backup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"time"

	"github.com/imedwei/mongo-backup/internal/archive"
	"github.com/imedwei/mongo-backup/internal/config"
	"github.com/imedwei/mongo-backup/internal/dump"
	"github.com/imedwei/mongo-backup/internal/metrics"
	"github.com/imedwei/mongo-backup/internal/retention"
	"github.com/imedwei/mongo-backup/internal/storage"
	"github.com/imedwei/mongo-backup/internal/utils"
)

// Orchestrator coordinates the backup process.
type Orchestrator struct {
	config   *config.Config
	storage  storage.Storage
	dumper   Dumper
	archiver Archiver
	pruner   Pruner
	observer StageObserver
	logger   *slog.Logger

	location string
	tempDir  string
	now      func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithArchiver replaces the default zip archiver.
func WithArchiver(a Archiver) Option {
	return func(o *Orchestrator) { o.archiver = a }
}

// WithPruner replaces the default retention manager.
func WithPruner(p Pruner) Option {
	return func(o *Orchestrator) { o.pruner = p }
}

// WithObserver reports stage transitions to obs.
func WithObserver(obs StageObserver) Option {
	return func(o *Orchestrator) { o.observer = obs }
}

// WithLocation sets the bucket or container shown in log lines.
func WithLocation(location string) Option {
	return func(o *Orchestrator) { o.location = location }
}

// WithTempDir sets where the artifact is staged before upload.
func WithTempDir(dir string) Option {
	return func(o *Orchestrator) { o.tempDir = dir }
}

// WithClock sets the time source used for naming and retention.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// NewOrchestrator creates a new backup orchestrator.
func NewOrchestrator(cfg *config.Config, store storage.Storage, dumper Dumper, logger *slog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		config:   cfg,
		storage:  store,
		dumper:   dumper,
		archiver: archive.NewBuilder(logger),
		pruner:   retention.NewManager(logger),
		observer: nopObserver{},
		logger:   logger,
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// Run executes the backup process. Every failure is returned as a *StageError.
// Retention failures are logged and never fail the run.
func (o *Orchestrator) Run(ctx context.Context) (err error) {
	startTime := o.now()
	provider := o.config.Provider()

	defer func() {
		metrics.RecordBackupAttempt(err == nil)
		if stage := StageOf(err); stage != "" {
			metrics.BackupFailures.WithLabelValues(string(stage)).Inc()
		}
		metrics.BackupDuration.WithLabelValues("total").Observe(o.now().Sub(startTime).Seconds())
	}()

	o.logger.Info("Starting backup orchestration", "provider", provider, "location", o.location)

	o.observer.Enter(string(StageValidation))
	extraArgs, err := dump.ParseExtraArgs(o.config.MongoDB.DumpOptions)
	if err != nil {
		return &StageError{Stage: StageValidation, Err: err}
	}

	o.observer.Enter(string(StageInitialize))
	if err := o.storage.Initialize(ctx); err != nil {
		return &StageError{Stage: StageInitialize, Err: err}
	}

	o.observer.Enter(string(StageRetention))
	o.applyRetention(ctx, startTime)

	selfArchive := o.config.Backup.Archive
	mode := dump.ModeDirectory
	if selfArchive {
		mode = dump.ModeSelfArchive
	}
	ext := archive.Extension(selfArchive)

	tmp, err := os.CreateTemp(o.tempDir, "mongo-backup-*"+ext)
	if err != nil {
		return &StageError{Stage: StageDump, Err: fmt.Errorf("failed to create temp file: %w", err)}
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()
	defer o.remove(tmpPath)

	src := dump.Source{
		URI:        o.config.MongoDB.URI,
		BinaryPath: o.config.MongoDB.DumpBinaryPath,
		ExtraArgs:  extraArgs,
		OutputDir:  o.config.MongoDB.OutputDir,
	}

	if !selfArchive {
		defer o.removeAll(src.OutputDir)
	}

	o.observer.Enter(string(StageDump))
	dumpStart := o.now()
	if err := o.dumper.Run(ctx, src, mode, tmpPath); err != nil {
		return &StageError{Stage: StageDump, Err: err}
	}
	dumpDuration := o.now().Sub(dumpStart)
	metrics.BackupDuration.WithLabelValues("dump").Observe(dumpDuration.Seconds())

	if !selfArchive {
		o.observer.Enter(string(StageArchive))
		archiveStart := o.now()
		if _, err := o.archiver.Build(src.OutputDir, tmpPath); err != nil {
			return &StageError{Stage: StageArchive, Err: err}
		}
		metrics.BackupDuration.WithLabelValues("archive").Observe(o.now().Sub(archiveStart).Seconds())
	}

	name := utils.FormatFileName(o.config.Backup.FileName, startTime) + ext

	o.observer.Enter(string(StageUpload))
	uploadStart := o.now()
	size, err := o.upload(ctx, tmpPath, name)
	if err != nil {
		return &StageError{Stage: StageUpload, Err: err}
	}
	uploadDuration := o.now().Sub(uploadStart)
	metrics.BackupDuration.WithLabelValues("upload").Observe(uploadDuration.Seconds())

	metrics.BackupSize.Set(float64(size))
	metrics.LastBackupTimestamp.Set(float64(o.now().Unix()))

	o.logger.Info("Backup completed successfully",
		"provider", provider,
		"location", o.location,
		"name", name,
		"size", utils.FormatBytes(size),
		"bytes", size,
		"dump_duration", dumpDuration,
		"upload_duration", uploadDuration,
		"total_duration", o.now().Sub(startTime),
	)

	return nil
}

func (o *Orchestrator) applyRetention(ctx context.Context, now time.Time) {
	policy := retention.Policy{
		MaxAgeDays:  o.config.DeleteAfterMaxDays,
		Simulate:    o.config.Simulate,
		Concurrency: o.config.RetentionConcurrency,
	}

	if _, err := o.pruner.Prune(ctx, o.storage, policy, now); err != nil {
		// Don't fail the backup because of retention.
		o.logger.Warn("Failed to apply retention", "error", &StageError{Stage: StageRetention, Err: err})
	}
}

func (o *Orchestrator) upload(ctx context.Context, artifact, name string) (int64, error) {
	f, err := os.Open(artifact) // #nosec G304 -- artifact is our own temp file
	if err != nil {
		return 0, fmt.Errorf("failed to open artifact: %w", err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			o.logger.Warn("Failed to close artifact", "error", err)
		}
	}()

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat artifact: %w", err)
	}
	total := info.Size()

	o.logger.Info("Uploading archive", "destination", path.Join(o.location, name), "size", utils.FormatBytes(total))

	reader := utils.NewProgressReader(f, func(n int64, elapsed time.Duration) {
		o.logger.Info("Upload progress",
			"uploaded", utils.FormatBytes(n),
			"total", utils.FormatBytes(total),
			"rate", utils.FormatRate(float64(n)/elapsed.Seconds()),
		)
	})

	if err := o.storage.Upload(ctx, name, reader); err != nil {
		return 0, err
	}

	return reader.BytesRead(), nil
}

func (o *Orchestrator) remove(file string) {
	if err := os.Remove(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
		o.logger.Warn("Failed to remove temp file", "path", file, "error", err)
	}
}

func (o *Orchestrator) removeAll(dir string) {
	if err := os.RemoveAll(dir); err != nil {
		o.logger.Warn("Failed to remove dump directory", "path", dir, "error", err)
	}
}
