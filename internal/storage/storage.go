// Package storage provides the object store collaborator that holds
// published media, backed by any S3-compatible endpoint.
package storage

import (
	"context"
	"time"
)

// ObjectStore stores media blobs under string keys. Put is atomic per
// key; a partial multi-file upload must be surfaced to the caller as a
// single failure.
type ObjectStore interface {
	// Put uploads data under key and returns the stored key.
	Put(ctx context.Context, key string, data []byte) (string, error)
	// Presign returns a time-limited download URL for key.
	Presign(ctx context.Context, key string, ttl time.Duration) (string, error)
}
