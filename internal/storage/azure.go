package storage

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
)

// AzureStorage implements Storage interface for Azure Blob Storage.
type AzureStorage struct {
	cfg    AzureConfig
	client *azblob.Client
}

// AzureConfig holds Azure-specific configuration.
type AzureConfig struct {
	ConnectionString string
	Container        string
	Prefix           string // Optional prefix for all keys
}

// Provider implements Target.
func (c AzureConfig) Provider() string { return "azure" }

// Location implements Target.
func (c AzureConfig) Location() string { return path.Join(c.Container, c.Prefix) }

// Open implements Target.
func (c AzureConfig) Open(ctx context.Context) (Storage, error) {
	return NewAzureStorage(c), nil
}

// NewAzureStorage creates a new Azure storage provider. The client is created by Initialize.
func NewAzureStorage(cfg AzureConfig) *AzureStorage {
	return &AzureStorage{cfg: cfg}
}

// Initialize implements Storage.Initialize. The container is created when it does not exist.
func (a *AzureStorage) Initialize(ctx context.Context) error {
	client, err := azblob.NewClientFromConnectionString(a.cfg.ConnectionString, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to create Azure client: %w", ErrInit, err)
	}

	if _, err := client.CreateContainer(ctx, a.cfg.Container, nil); err != nil {
		if !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
			return fmt.Errorf("%w: failed to create container %s: %w", ErrInit, a.cfg.Container, err)
		}
	}

	a.client = client
	return nil
}

// Upload implements Storage.Upload.
func (a *AzureStorage) Upload(ctx context.Context, name string, reader io.Reader) error {
	if _, err := a.client.UploadStream(ctx, a.cfg.Container, a.getFullKey(name), reader, nil); err != nil {
		return fmt.Errorf("%w: failed to upload to Azure: %w", ErrUpload, err)
	}
	return nil
}

// Delete implements Storage.Delete.
func (a *AzureStorage) Delete(ctx context.Context, name string) error {
	_, err := a.client.DeleteBlob(ctx, a.cfg.Container, a.getFullKey(name), nil)
	if err != nil && !bloberror.HasCode(err, bloberror.BlobNotFound) {
		return fmt.Errorf("%w: failed to delete %s from Azure: %w", ErrDelete, name, err)
	}
	return nil
}

// ListObjects implements Storage.ListObjects.
func (a *AzureStorage) ListObjects(ctx context.Context) ([]Object, error) {
	opts := &azblob.ListBlobsFlatOptions{}
	if a.cfg.Prefix != "" {
		prefix := a.getFullKey("")
		opts.Prefix = &prefix
	}

	var objects []Object
	pager := a.client.NewListBlobsFlatPager(a.cfg.Container, opts)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to list Azure blobs: %w", ErrList, err)
		}

		for _, item := range page.Segment.BlobItems {
			if item.Name == nil || item.Properties == nil || item.Properties.CreationTime == nil {
				continue
			}
			objects = append(objects, Object{
				Name:      a.stripPrefix(*item.Name),
				CreatedAt: item.Properties.CreationTime.UTC(),
			})
		}
	}

	return objects, nil
}

func (a *AzureStorage) getFullKey(key string) string {
	return joinKey(a.cfg.Prefix, key)
}

func (a *AzureStorage) stripPrefix(key string) string {
	return stripKeyPrefix(a.cfg.Prefix, key)
}
