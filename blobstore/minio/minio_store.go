// Package minio provides a blobstore backend on MinIO and other
// S3-compatible object stores, for clusters that mirror converted shard
// directories to a self-hosted object store.
package minio

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/minio/minio-go/v7"

	"github.com/hupe1980/wholestore/blobstore"
)

// Shard files can be gigabytes; streamed uploads buffer at most one
// part at a time.
const uploadPartSize = 16 << 20

// Store implements blobstore.Store on a bucket, with every blob name
// resolved under a fixed root prefix.
type Store struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewStore creates a store rooted at rootPrefix inside bucket, e.g.
// "datasets/ogbn-papers100M/wholegraph/".
func NewStore(client *minio.Client, bucket, rootPrefix string) *Store {
	return &Store{
		client: client,
		bucket: bucket,
		prefix: rootPrefix,
	}
}

func (s *Store) key(name string) string {
	return path.Join(s.prefix, name)
}

// isMissing reports whether err is the object store's absent-key answer.
func isMissing(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}

// Open opens an existing blob for reading.
func (s *Store) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	key := s.key(name)

	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isMissing(err) {
			return nil, blobstore.ErrNotFound
		}
		return nil, err
	}
	return &objectBlob{store: s, key: key, size: info.Size}, nil
}

// Put writes a blob in one shot. Object stores expose writes atomically,
// so a metadata record put this way is never visible half-written.
func (s *Store) Put(ctx context.Context, name string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.key(name),
		bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{})
	return err
}

// Create starts a streaming upload: the writer side of a pipe is handed
// to the caller while the uploader consumes the reader side, so the
// payload is never held in memory beyond one part.
func (s *Store) Create(ctx context.Context, name string) (blobstore.WritableBlob, error) {
	pr, pw := io.Pipe()
	up := &pipeUpload{pw: pw, done: make(chan error, 1)}

	go func() {
		_, err := s.client.PutObject(ctx, s.bucket, s.key(name), pr, -1,
			minio.PutObjectOptions{PartSize: uploadPartSize})
		_ = pr.CloseWithError(err)
		up.done <- err
	}()
	return up, nil
}

// Delete removes a blob. Deleting a missing blob is not an error.
func (s *Store) Delete(ctx context.Context, name string) error {
	err := s.client.RemoveObject(ctx, s.bucket, s.key(name), minio.RemoveObjectOptions{})
	if err != nil && !isMissing(err) {
		return err
	}
	return nil
}

// List returns all blob names under prefix, sorted.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    s.key(prefix),
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		if name := s.trimRoot(obj.Key); name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// trimRoot undoes key: listing returns absolute object keys, callers
// speak store-relative names.
func (s *Store) trimRoot(key string) string {
	name := strings.TrimPrefix(key, s.prefix)
	return strings.TrimPrefix(name, "/")
}

// objectBlob serves ranged reads with one GET per call. Shard imports
// read large contiguous spans, so per-call latency is amortized.
type objectBlob struct {
	store *Store
	key   string
	size  int64
}

func (b *objectBlob) Size() int64 { return b.size }

func (b *objectBlob) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	end := off + int64(len(p)) - 1
	if end >= b.size {
		end = b.size - 1
	}

	opts := minio.GetObjectOptions{}
	if err := opts.SetRange(off, end); err != nil {
		return 0, err
	}
	obj, err := b.store.client.GetObject(ctx, b.store.bucket, b.key, opts)
	if err != nil {
		return 0, err
	}
	defer obj.Close()

	return io.ReadFull(obj, p[:end-off+1])
}

func (b *objectBlob) Close() error { return nil }

// pipeUpload is the writer half of a streaming upload. Close waits for
// the uploader, so a nil return means the object is fully visible.
type pipeUpload struct {
	pw       *io.PipeWriter
	done     chan error
	finished atomic.Bool
}

func (u *pipeUpload) Write(p []byte) (int, error) {
	return u.pw.Write(p)
}

func (u *pipeUpload) Close() error {
	if !u.finished.CompareAndSwap(false, true) {
		return errors.New("already closed")
	}
	if err := u.pw.Close(); err != nil {
		return err
	}
	return <-u.done
}

func (u *pipeUpload) Abort() error {
	if !u.finished.CompareAndSwap(false, true) {
		return nil
	}
	return u.pw.CloseWithError(errors.New("upload aborted"))
}
