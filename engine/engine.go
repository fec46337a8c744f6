// Package engine defines the consumed surface of the sharded-memory
// embedding engine: creation and destruction of distributed tensors,
// indexed gather/scatter, file-prefix export/import, sparse optimizers
// and the trainable-module wrapper.
//
// The production engine is an external native runtime; everything here
// is the Go contract against it. [HostEngine] is an in-process,
// host-memory reference implementation with the same semantics, used by
// tests and by single-process conversion runs.
//
// Gather, Scatter, CreateTensor and CreateOptimizer are collective on
// the real engine: every process of the group must call them in the same
// order with agreeing shapes and dtypes, or the underlying all-to-all
// protocol deadlocks. Calls block until the distributed operation
// completes; there is no cancellation once a collective has started.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/wholestore/tensor"
)

var (
	// ErrDestroyed is returned when operating on a destroyed tensor.
	ErrDestroyed = errors.New("tensor already destroyed")

	// ErrInvalidSpec is returned for unusable tensor specs.
	ErrInvalidSpec = errors.New("invalid tensor spec")

	// ErrIndexOutOfRange is returned when a gather/scatter index exceeds
	// the row count.
	ErrIndexOutOfRange = errors.New("index out of range")

	// ErrInvalidOptimizer is returned for unknown optimizer types.
	ErrInvalidOptimizer = errors.New("invalid optimizer type")

	// ErrShardMismatch is returned when imported shard files do not add
	// up to the tensor's row count.
	ErrShardMismatch = errors.New("shard files do not match tensor shape")
)

// Location is where a tensor's storage lives.
type Location uint8

const (
	// LocationHost keeps storage in pinned host memory.
	LocationHost Location = iota
	// LocationDevice keeps storage in accelerator memory.
	LocationDevice
)

// String returns the engine-native name of the location.
func (l Location) String() string {
	if l == LocationDevice {
		return "cuda"
	}
	return "cpu"
}

// MemoryType selects the engine's memory layout.
type MemoryType uint8

const (
	// MemoryContinuous is a single contiguous local allocation, used for
	// the per-shard conversion intermediates.
	MemoryContinuous MemoryType = iota
	// MemoryDistributed spreads rows across all processes of the group,
	// used for embedding tables.
	MemoryDistributed
)

// OptimizerType names a sparse optimizer algorithm.
type OptimizerType string

const (
	OptimizerSGD     OptimizerType = "sgd"
	OptimizerAdam    OptimizerType = "adam"
	OptimizerAdaGrad OptimizerType = "adagrad"
	OptimizerRMSProp OptimizerType = "rmsprop"
)

func (t OptimizerType) valid() bool {
	switch t {
	case OptimizerSGD, OptimizerAdam, OptimizerAdaGrad, OptimizerRMSProp:
		return true
	}
	return false
}

// OptimizerParams carries algorithm hyperparameters (lr, eps, ...).
type OptimizerParams map[string]float64

// Optimizer is a sparse optimizer created ahead of the tensors it
// tracks. The engine requires the optimizer to exist strictly before any
// tensor bound to it.
type Optimizer interface {
	Type() OptimizerType
	Params() OptimizerParams
}

// TensorSpec describes a distributed tensor to create.
type TensorSpec struct {
	Rows       int
	Width      int
	DType      tensor.DType
	MemoryType MemoryType
	Location   Location

	// Optimizer, when non-nil, binds the tensor to a sparse optimizer at
	// creation time. It cannot be attached later.
	Optimizer Optimizer

	// RandomInit fills the tensor at creation instead of zeroing it.
	RandomInit bool
}

func (s TensorSpec) validate() error {
	if s.Rows < 1 || s.Width < 1 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidSpec, s.Rows, s.Width)
	}
	if !s.DType.Valid() {
		return fmt.Errorf("%w: dtype %s", ErrInvalidSpec, s.DType)
	}
	return nil
}

// Tensor is a handle to engine-managed sharded storage.
type Tensor interface {
	Rows() int
	Width() int
	DType() tensor.DType

	// LocalSlice returns a host view of the rows owned by this process.
	// Mutations through the view are visible to the engine.
	LocalSlice() (*tensor.Dense, error)

	// Gather collects the rows at indices into a local dense tensor.
	// Collective: all processes must call with their own indices.
	Gather(ctx context.Context, indices []int64) (*tensor.Dense, error)

	// Scatter writes values (one row per index, dtype must already match)
	// to the rows at indices. Collective.
	Scatter(ctx context.Context, values *tensor.Dense, indices []int64) error

	// ToFile writes the local slice to a single file as raw row-major
	// little-endian bytes.
	ToFile(path string) error

	// ToFilePrefix exports the tensor under dir as one shard file per
	// process, named by PartFileName.
	ToFilePrefix(dir, prefix string) error

	// FromFilePrefix imports shardCount files named by PartFileName,
	// concatenated in shard order. The byte total must equal the
	// tensor's full size.
	FromFilePrefix(dir, prefix string, shardCount int) error

	// Destroy releases the underlying storage. Further operations return
	// ErrDestroyed.
	Destroy() error
}

// Engine creates engine-managed objects. CreateTensor and
// CreateOptimizer are collective on the real engine.
type Engine interface {
	Version() Version
	CreateTensor(ctx context.Context, spec TensorSpec) (Tensor, error)
	CreateOptimizer(ctx context.Context, typ OptimizerType, params OptimizerParams) (Optimizer, error)
}

// PartFileName is the shard file naming scheme shared by the engine's
// file-prefix export/import and the feature resharder: prefix, shard
// index and total shard count fully determine the name.
func PartFileName(prefix string, part, total int) string {
	return fmt.Sprintf("%s_part_%d_of_%d", prefix, part, total)
}
