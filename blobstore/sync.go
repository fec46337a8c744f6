package blobstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/wholestore/internal/fs"
)

// metadataName is the record uploaded last during a mirror.
const metadataName = "metadata.json"

// Committer is an optional publish step a Store may provide. Commit is
// called after a successful mirror; until it returns nil, coordinated
// readers must treat the upload as unpublished.
type Committer interface {
	Commit(ctx context.Context, tag string) error
}

// MirrorOptions configures Mirror.
type MirrorOptions struct {
	// Concurrency is the number of parallel shard uploads. Default 4.
	Concurrency int

	// Tag labels the commit when the store is a Committer, e.g. a
	// dataset snapshot id.
	Tag string
}

// Mirror uploads the contents of a converted shard directory to store.
// Shard files go first, in parallel; metadata.json goes last, so any
// reader that can see the record can also see every shard it names.
// Hidden files (resume records, temp files) are not mirrored.
//
// If store implements [Committer], the commit runs after the metadata
// upload.
func Mirror(ctx context.Context, fsys fs.FileSystem, shardDir string, store Store, opts MirrorOptions) error {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}

	entries, err := fsys.ReadDir(shardDir)
	if err != nil {
		return fmt.Errorf("mirror %s: %w", shardDir, err)
	}

	var shards []string
	haveMetadata := false
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if e.Name() == metadataName {
			haveMetadata = true
			continue
		}
		shards = append(shards, e.Name())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for _, name := range shards {
		name := name
		g.Go(func() error {
			return uploadFile(gctx, fsys, filepath.Join(shardDir, name), name, store)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if haveMetadata {
		data, err := fs.ReadFile(fsys, filepath.Join(shardDir, metadataName))
		if err != nil {
			return err
		}
		if err := store.Put(ctx, metadataName, data); err != nil {
			return fmt.Errorf("mirror %s: %w", metadataName, err)
		}
	}

	if c, ok := store.(Committer); ok {
		return c.Commit(ctx, opts.Tag)
	}
	return nil
}

func uploadFile(ctx context.Context, fsys fs.FileSystem, path, name string, store Store) error {
	f, err := fsys.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("mirror %s: %w", name, err)
	}
	defer f.Close()

	w, err := store.Create(ctx, name)
	if err != nil {
		return fmt.Errorf("mirror %s: %w", name, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		w.Abort()
		return fmt.Errorf("mirror %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("mirror %s: %w", name, err)
	}
	return nil
}

// Fetch downloads every blob under prefix into dir, restoring a shard
// directory a conversion host mirrored earlier. metadata.json is written
// last with the same visibility rationale as Mirror.
func Fetch(ctx context.Context, store Store, prefix, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	names, err := store.List(ctx, prefix)
	if err != nil {
		return err
	}

	var metadata string
	for _, name := range names {
		if filepath.Base(name) == metadataName {
			metadata = name
			continue
		}
		if err := downloadFile(ctx, store, name, dir); err != nil {
			return err
		}
	}
	if metadata != "" {
		return downloadFile(ctx, store, metadata, dir)
	}
	return nil
}

func downloadFile(ctx context.Context, store Store, name, dir string) error {
	blob, err := store.Open(ctx, name)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", name, err)
	}
	defer blob.Close()

	data := make([]byte, blob.Size())
	if len(data) > 0 {
		if _, err := blob.ReadAt(ctx, data, 0); err != nil && err != io.EOF {
			return fmt.Errorf("fetch %s: %w", name, err)
		}
	}
	return os.WriteFile(filepath.Join(dir, filepath.Base(name)), data, 0o644)
}
