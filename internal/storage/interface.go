// Package storage defines the interface for backup storage providers.
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// Error kinds returned by every Storage implementation. Backend SDK errors are
// wrapped so callers only ever need errors.Is against these values.
var (
	ErrInit   = errors.New("storage initialization failed")
	ErrUpload = errors.New("storage upload failed")
	ErrDelete = errors.New("storage delete failed")
	ErrList   = errors.New("storage list failed")
)

// Storage defines the interface for backup storage operations.
type Storage interface {
	// Initialize opens the backend session and verifies the bucket or container is usable.
	Initialize(ctx context.Context) error

	// Upload stores the stream under name, replacing any existing object.
	Upload(ctx context.Context, name string, reader io.Reader) error

	// Delete removes the object with the given name. Missing objects are not an error.
	Delete(ctx context.Context, name string) error

	// ListObjects returns every object that carries a backend creation timestamp.
	ListObjects(ctx context.Context) ([]Object, error)
}

// Object is a read-only view of a stored backup.
type Object struct {
	Name      string
	CreatedAt time.Time
}

// Target describes one configured backend. Open builds an uninitialized
// Storage for it; Location is used in log lines ("bucket", "container/prefix").
type Target interface {
	Provider() string
	Location() string
	Open(ctx context.Context) (Storage, error)
}
