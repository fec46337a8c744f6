// Package testutil provides deterministic feature-tensor generators and
// partition-layout builders shared by tests.
package testutil

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hupe1980/wholestore/internal/fs"
	"github.com/hupe1980/wholestore/tensor"
	"github.com/hupe1980/wholestore/tensorfile"
)

// RNG encapsulates a seeded random number generator. It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Float32 returns a pseudo-random number in [0.0,1.0).
func (r *RNG) Float32() float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float32()
}

// FloatTensor generates a rows×width float32 tensor with values in
// [-1, 1).
func (r *RNG) FloatTensor(rows, width int) *tensor.Dense {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := tensor.New(tensor.Float32, rows, width)
	vals, err := t.Float32s()
	if err != nil {
		panic(err)
	}
	for i := range vals {
		vals[i] = r.rand.Float32()*2 - 1
	}
	return t
}

// IntTensor generates a 1-D int64 tensor with values in [0, bound).
func (r *RNG) IntTensor(rows int, bound int64) *tensor.Dense {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := tensor.New(tensor.Int64, rows)
	vals, err := t.Int64s()
	if err != nil {
		panic(err)
	}
	for i := range vals {
		vals[i] = r.rand.Int63n(bound)
	}
	return t
}

// SplitRows splits t into parts tensors along the first dimension, with
// the remainder rows going to the last part. It mimics how a graph
// partitioner spreads node features across partitions.
func SplitRows(t *tensor.Dense, parts int) []*tensor.Dense {
	rows := t.Rows()
	per := rows / parts
	out := make([]*tensor.Dense, 0, parts)
	start := 0
	for i := 0; i < parts; i++ {
		end := start + per
		if i == parts-1 {
			end = rows
		}
		view, err := t.RowRange(start, end)
		if err != nil {
			panic(err)
		}
		out = append(out, view.Clone())
		start = end
	}
	return out
}

// PartitionLayout describes a partitioned dataset to materialize on
// disk for conversion tests.
type PartitionLayout struct {
	// Dir is the dataset root. Each partition goes in Dir/partN.
	Dir string

	// FileName is the container file written inside each partition,
	// e.g. "node_feat.dgl".
	FileName string

	// Codec compresses the containers.
	Codec tensorfile.Codec
}

// WritePartitions writes one container per partition. features maps a
// two-stage key like "paper/feat" to per-partition tensors; every
// feature must have exactly as many tensors as there are partitions.
func WritePartitions(t *testing.T, layout PartitionLayout, features map[string][]*tensor.Dense) {
	t.Helper()

	parts := 0
	for _, tensors := range features {
		parts = len(tensors)
		break
	}
	require.Greater(t, parts, 0)

	for i := 0; i < parts; i++ {
		entries := make(map[string]*tensor.Dense, len(features))
		for key, tensors := range features {
			require.Len(t, tensors, parts)
			entries[key] = tensors[i]
		}

		partDir := filepath.Join(layout.Dir, fmt.Sprintf("part%d", i))
		require.NoError(t, os.MkdirAll(partDir, 0o755))
		require.NoError(t, tensorfile.Write(fs.Default, filepath.Join(partDir, layout.FileName), entries, layout.Codec))
	}
}
