package blobstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Put(ctx, "emb_part_0_of_2", []byte("hello")))

	blob, err := store.Open(ctx, "emb_part_0_of_2")
	require.NoError(t, err)
	defer blob.Close()
	require.EqualValues(t, 5, blob.Size())

	buf := make([]byte, 3)
	n, err := blob.ReadAt(ctx, buf, 1)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, "ell", string(buf))

	_, err = store.Open(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreCreate(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	w, err := store.Create(ctx, "emb_part_0_of_1")
	require.NoError(t, err)
	_, err = w.Write([]byte("abc"))
	require.NoError(t, err)

	// Not visible before Close.
	_, err = store.Open(ctx, "emb_part_0_of_1")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, w.Close())
	data, ok := store.Get("emb_part_0_of_1")
	require.True(t, ok)
	require.Equal(t, []byte("abc"), data)
}

func TestMemoryStoreAbort(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	w, err := store.Create(ctx, "partial")
	require.NoError(t, err)
	_, err = w.Write([]byte("abc"))
	require.NoError(t, err)
	require.NoError(t, w.Abort())

	_, err = store.Open(ctx, "partial")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreList(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	for _, name := range []string{"b/metadata.json", "b/emb_part_1_of_2", "b/emb_part_0_of_2", "a/other"} {
		require.NoError(t, store.Put(ctx, name, []byte("x")))
	}

	names, err := store.List(ctx, "b/")
	require.NoError(t, err)
	require.Equal(t, []string{"b/emb_part_0_of_2", "b/emb_part_1_of_2", "b/metadata.json"}, names)
}
