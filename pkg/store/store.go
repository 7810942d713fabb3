// Package store defines the object store abstraction the vault mirrors
// files into. Implementations are bucket-scoped: one handle, one bucket.
package store

import (
	"context"
	"errors"
	"io"
	"time"
)

// ChunkSize is the buffer size used for hashing and streaming object bytes.
const ChunkSize = 8 * 1024 * 1024 // 8 MiB

// ErrNotFound indicates the requested key holds no blob.
var ErrNotFound = errors.New("object not found in store")

// ObjectInfo describes a stored blob.
type ObjectInfo struct {
	Size         int64
	ETag         string
	LastModified time.Time
}

// ObjectStore is a flat key → blob store bound to a single bucket.
//
// Absence is not an error for Delete: deleting a missing key returns
// (false, nil). Open and Stat report absence as ErrNotFound.
type ObjectStore interface {
	// EnsureBucket creates the bucket if it does not exist. Idempotent.
	EnsureBucket(ctx context.Context) error

	// BucketExists reports whether the bucket is reachable.
	BucketExists(ctx context.Context) (bool, error)

	// Put streams the file at localPath into the bucket under key.
	Put(ctx context.Context, key, localPath string) error

	// Delete removes the blob at key. Returns false when the key was
	// already absent.
	Delete(ctx context.Context, key string) (bool, error)

	// Exists reports whether a blob is present at key.
	Exists(ctx context.Context, key string) (bool, error)

	// Open returns a reader over the blob at key. The caller must close it.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Stat returns blob metadata, or ErrNotFound.
	Stat(ctx context.Context, key string) (*ObjectInfo, error)
}

// Observer receives per-operation telemetry from store implementations.
// A nil Observer disables collection with zero overhead.
type Observer interface {
	ObserveOperation(op string, duration time.Duration, err error)
}
