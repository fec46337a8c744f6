package blobstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewLocalStore(t.TempDir())

	payload := []byte("raw shard bytes")
	require.NoError(t, store.Put(ctx, "emb_part_0_of_1", payload))

	blob, err := store.Open(ctx, "emb_part_0_of_1")
	require.NoError(t, err)
	defer blob.Close()
	require.EqualValues(t, len(payload), blob.Size())

	buf := make([]byte, len(payload))
	_, err = blob.ReadAt(ctx, buf, 0)
	require.NoError(t, err)
	require.Equal(t, payload, buf)

	_, err = store.Open(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStoreCreateIsAtomic(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := NewLocalStore(dir)

	w, err := store.Create(ctx, "metadata.json")
	require.NoError(t, err)
	_, err = w.Write([]byte("{}"))
	require.NoError(t, err)

	// Nothing visible under the final name until Close.
	require.NoFileExists(t, filepath.Join(dir, "metadata.json"))
	require.NoError(t, w.Close())
	require.FileExists(t, filepath.Join(dir, "metadata.json"))

	// Abort leaves no residue.
	w, err = store.Create(ctx, "aborted")
	require.NoError(t, err)
	_, err = w.Write([]byte("junk"))
	require.NoError(t, err)
	require.NoError(t, w.Abort())
	require.NoFileExists(t, filepath.Join(dir, "aborted"))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestLocalStoreList(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := NewLocalStore(dir)

	for _, name := range []string{"wholegraph/metadata.json", "wholegraph/emb_part_0_of_1", "other"} {
		require.NoError(t, store.Put(ctx, name, []byte("x")))
	}
	// Hidden files are not listed.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wholegraph", ".progress"), []byte("x"), 0o644))

	names, err := store.List(ctx, "wholegraph/")
	require.NoError(t, err)
	require.Equal(t, []string{"wholegraph/emb_part_0_of_1", "wholegraph/metadata.json"}, names)
}
