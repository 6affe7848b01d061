package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/imedwei/mongo-backup/internal/config"
	"github.com/imedwei/mongo-backup/internal/metrics"
)

// InstrumentedStorage wraps a Storage implementation with metrics and debug logging.
// It does not retry: every operation is attempted exactly once.
type InstrumentedStorage struct {
	storage  Storage
	provider string
	logger   *slog.Logger
}

// NewInstrumentedStorage creates a new storage wrapper that records every operation.
func NewInstrumentedStorage(storage Storage, provider string, logger *slog.Logger) *InstrumentedStorage {
	return &InstrumentedStorage{
		storage:  storage,
		provider: provider,
		logger:   logger,
	}
}

// Initialize implements Storage.Initialize.
func (s *InstrumentedStorage) Initialize(ctx context.Context) error {
	return s.record("initialize", "", func() error {
		return s.storage.Initialize(ctx)
	})
}

// Upload implements Storage.Upload.
func (s *InstrumentedStorage) Upload(ctx context.Context, name string, reader io.Reader) error {
	return s.record("upload", name, func() error {
		return s.storage.Upload(ctx, name, reader)
	})
}

// Delete implements Storage.Delete.
func (s *InstrumentedStorage) Delete(ctx context.Context, name string) error {
	return s.record("delete", name, func() error {
		return s.storage.Delete(ctx, name)
	})
}

// ListObjects implements Storage.ListObjects.
func (s *InstrumentedStorage) ListObjects(ctx context.Context) ([]Object, error) {
	var result []Object
	err := s.record("list", "", func() error {
		var err error
		result, err = s.storage.ListObjects(ctx)
		return err
	})
	return result, err
}

// Close closes the wrapped storage when it holds a client connection.
func (s *InstrumentedStorage) Close() error {
	if c, ok := s.storage.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (s *InstrumentedStorage) record(operation, name string, fn func() error) error {
	start := time.Now()
	err := fn()

	metrics.RecordStorageOperation(operation, s.provider, err == nil)
	s.logger.Debug("Storage operation",
		"operation", operation,
		"provider", s.provider,
		"name", name,
		"duration", time.Since(start),
		"error", err,
	)

	return err
}

// NewTarget maps the configured provider to its storage target.
// This is the only place that knows about provider names.
func NewTarget(cfg *config.Config) (Target, error) {
	switch cfg.Provider() {
	case config.ProviderGoogleCloud:
		return GCSConfig{
			Bucket:             cfg.GoogleStorage.BucketName,
			ProjectID:          cfg.GoogleStorage.ProjectID,
			ServiceAccountJSON: cfg.GoogleStorage.ServiceAccountJSON,
			Prefix:             cfg.Prefix,
		}, nil

	case config.ProviderAzure:
		return AzureConfig{
			ConnectionString: cfg.AzureStorage.ConnectionString,
			Container:        cfg.AzureStorage.Container,
			Prefix:           cfg.Prefix,
		}, nil

	case config.ProviderS3:
		return S3Config{
			AccessKeyID:     cfg.S3Storage.AccessKeyID,
			SecretAccessKey: cfg.S3Storage.SecretAccessKey,
			Region:          cfg.S3Storage.Region,
			Bucket:          cfg.S3Storage.Bucket,
			Endpoint:        cfg.S3Storage.Endpoint,
			Prefix:          cfg.Prefix,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported storage provider: %s", cfg.Storage)
	}
}

// NewStorage opens the target and wraps it with instrumentation.
// The returned storage still has to be initialized.
func NewStorage(ctx context.Context, target Target, logger *slog.Logger) (*InstrumentedStorage, error) {
	s, err := target.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s storage: %w", target.Provider(), err)
	}

	return NewInstrumentedStorage(s, target.Provider(), logger), nil
}
