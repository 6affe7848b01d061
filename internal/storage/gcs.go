package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"

	"cloud.google.com/go/storage"
	"github.com/imedwei/mongo-backup/internal/config"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSStorage implements Storage interface for Google Cloud Storage.
type GCSStorage struct {
	cfg    GCSConfig
	client *storage.Client
	bucket *storage.BucketHandle
}

// GCSConfig holds GCS-specific configuration.
type GCSConfig struct {
	Bucket             string
	ProjectID          string
	ServiceAccountJSON string // Optional, ambient credentials are used when empty
	Prefix             string // Optional prefix for all keys
}

// Provider implements Target.
func (c GCSConfig) Provider() string { return config.ProviderGoogleCloud }

// Location implements Target.
func (c GCSConfig) Location() string { return path.Join(c.Bucket, c.Prefix) }

// Open implements Target.
func (c GCSConfig) Open(ctx context.Context) (Storage, error) {
	if c.ServiceAccountJSON != "" {
		if err := ValidateServiceAccountJSON(c.ServiceAccountJSON); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInit, err)
		}
	}
	return NewGCSStorage(c), nil
}

// NewGCSStorage creates a new GCS storage provider. The client is created by Initialize.
func NewGCSStorage(cfg GCSConfig) *GCSStorage {
	return &GCSStorage{cfg: cfg}
}

// Initialize implements Storage.Initialize.
func (g *GCSStorage) Initialize(ctx context.Context) error {
	var opts []option.ClientOption
	if g.cfg.ServiceAccountJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(g.cfg.ServiceAccountJSON)))
	}
	if g.cfg.ProjectID != "" {
		opts = append(opts, option.WithQuotaProject(g.cfg.ProjectID))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return fmt.Errorf("%w: failed to create GCS client: %w", ErrInit, err)
	}

	bucket := client.Bucket(g.cfg.Bucket)

	// Reading the attributes proves both the credentials and the bucket.
	if _, err := bucket.Attrs(ctx); err != nil {
		_ = client.Close()
		return fmt.Errorf("%w: bucket %s is not accessible: %w", ErrInit, g.cfg.Bucket, err)
	}

	g.client = client
	g.bucket = bucket
	return nil
}

// Upload implements Storage.Upload.
func (g *GCSStorage) Upload(ctx context.Context, name string, reader io.Reader) error {
	// Canceling the writer's context is the only way to abandon the object;
	// Close alone would commit whatever was written so far.
	uploadCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := g.bucket.Object(g.getFullKey(name)).NewWriter(uploadCtx)
	w.ContentType = "application/octet-stream"

	if _, err := io.Copy(w, reader); err != nil {
		cancel()
		_ = w.Close()
		return fmt.Errorf("%w: failed to upload to GCS: %w", ErrUpload, err)
	}

	// Close writer to complete upload
	if err := w.Close(); err != nil {
		return fmt.Errorf("%w: failed to finalize GCS upload: %w", ErrUpload, err)
	}

	return nil
}

// Delete implements Storage.Delete.
func (g *GCSStorage) Delete(ctx context.Context, name string) error {
	err := g.bucket.Object(g.getFullKey(name)).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("%w: failed to delete %s from GCS: %w", ErrDelete, name, err)
	}
	return nil
}

// ListObjects implements Storage.ListObjects.
func (g *GCSStorage) ListObjects(ctx context.Context) ([]Object, error) {
	query := &storage.Query{}
	if g.cfg.Prefix != "" {
		query.Prefix = g.getFullKey("")
	}

	var objects []Object
	it := g.bucket.Objects(ctx, query)
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: failed to list GCS objects: %w", ErrList, err)
		}
		if attrs.Created.IsZero() {
			continue
		}

		objects = append(objects, Object{
			Name:      g.stripPrefix(attrs.Name),
			CreatedAt: attrs.Created.UTC(),
		})
	}

	return objects, nil
}

// Close closes the GCS client connection.
func (g *GCSStorage) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}

func (g *GCSStorage) getFullKey(key string) string {
	return joinKey(g.cfg.Prefix, key)
}

func (g *GCSStorage) stripPrefix(key string) string {
	return stripKeyPrefix(g.cfg.Prefix, key)
}

// ValidateServiceAccountJSON validates the service account JSON string.
func ValidateServiceAccountJSON(jsonStr string) error {
	var sa struct {
		Type string `json:"type"`
	}

	if err := json.Unmarshal([]byte(jsonStr), &sa); err != nil {
		return fmt.Errorf("invalid service account JSON: %w", err)
	}

	if sa.Type != "service_account" {
		return fmt.Errorf("invalid service account type: %s", sa.Type)
	}

	return nil
}

// joinKey returns the full object name with prefix. An empty key yields the
// prefix directory itself ("prefix/") so it can be used as a list filter.
func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	if key == "" {
		return path.Clean(prefix) + "/"
	}
	return path.Join(prefix, key)
}

// stripKeyPrefix removes the storage prefix from a key.
func stripKeyPrefix(prefix, key string) string {
	if prefix == "" {
		return key
	}
	p := path.Clean(prefix) + "/"
	if len(key) > len(p) && key[:len(p)] == p {
		return key[len(p):]
	}
	return key
}
