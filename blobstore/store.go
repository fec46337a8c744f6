// Package blobstore mirrors converted shard directories to shared
// storage, so a training cluster can fetch features a conversion host
// produced without a shared filesystem.
//
// Stores hold immutable blobs named by their path relative to the shard
// directory. [Mirror] uploads shard files first and the metadata record
// last, so a reader that sees metadata.json can rely on every shard it
// references being present.
package blobstore

import (
	"context"
	"io"
	"os"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations return an error satisfying
// errors.Is(err, ErrNotFound); the default maps to os.ErrNotExist.
var ErrNotFound = os.ErrNotExist

// Store is an abstraction over shard blob storage.
type Store interface {
	// Open opens an existing blob for reading.
	Open(ctx context.Context, name string) (Blob, error)

	// Put writes a blob in one call. Small objects only (metadata,
	// progress records); shard payloads go through Create.
	Put(ctx context.Context, name string, data []byte) error

	// Create opens a blob for streaming writes. The blob becomes
	// visible on Close.
	Create(ctx context.Context, name string) (WritableBlob, error)

	// List returns the names of blobs starting with prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Blob is a read-only handle to shard data.
type Blob interface {
	io.Closer

	// ReadAt reads len(p) bytes at offset off.
	ReadAt(ctx context.Context, p []byte, off int64) (int, error)

	// Size returns the blob size in bytes.
	Size() int64
}

// WritableBlob is a streaming write handle. Nothing is visible to
// readers until Close returns nil.
type WritableBlob interface {
	io.WriteCloser

	// Abort discards the partial write. Safe after a failed Close.
	Abort() error
}
