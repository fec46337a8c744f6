package engine

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sync"

	"github.com/hupe1980/wholestore/internal/fs"
	"github.com/hupe1980/wholestore/tensor"
)

// hostVersion is the engine release the reference implementation mirrors.
var hostVersion = Version{Major: 24, Minor: 2, Patch: 0}

// HostEngine is the in-process reference implementation of [Engine].
// All rows live in host memory of the calling process, so every
// collective degenerates to a local operation. Tests and single-process
// conversion runs use it in place of the native runtime.
type HostEngine struct {
	version Version
	fsys    fs.FileSystem
	seed    int64
}

// HostOption configures a HostEngine.
type HostOption func(*HostEngine)

// WithHostVersion overrides the reported engine version. Used by tests
// exercising the minimum-version gate.
func WithHostVersion(v Version) HostOption {
	return func(e *HostEngine) { e.version = v }
}

// WithHostFS routes file export/import through fsys.
func WithHostFS(fsys fs.FileSystem) HostOption {
	return func(e *HostEngine) { e.fsys = fsys }
}

// WithRandomSeed sets the seed for RandomInit fills.
func WithRandomSeed(seed int64) HostOption {
	return func(e *HostEngine) { e.seed = seed }
}

// NewHostEngine creates a host-memory engine.
func NewHostEngine(opts ...HostOption) *HostEngine {
	e := &HostEngine{
		version: hostVersion,
		fsys:    fs.Default,
		seed:    1,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Version returns the engine release version.
func (e *HostEngine) Version() Version { return e.version }

// CreateOptimizer creates a sparse optimizer record.
func (e *HostEngine) CreateOptimizer(_ context.Context, typ OptimizerType, params OptimizerParams) (Optimizer, error) {
	if !typ.valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidOptimizer, typ)
	}
	if params == nil {
		params = OptimizerParams{}
	}
	return &sparseOptimizer{typ: typ, params: params}, nil
}

// CreateTensor allocates a host-memory tensor.
func (e *HostEngine) CreateTensor(_ context.Context, spec TensorSpec) (Tensor, error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}
	data := tensor.New(spec.DType, spec.Rows, spec.Width)
	if spec.RandomInit && spec.DType.IsFloat() {
		xavierFill(data, e.seed)
	}
	return &hostTensor{spec: spec, data: data, fsys: e.fsys}, nil
}

// xavierFill fills t uniformly in [-limit, limit) with
// limit = sqrt(6 / (rows + width)), matching the engine's embedding
// initializer.
func xavierFill(t *tensor.Dense, seed int64) {
	rng := rand.New(rand.NewSource(seed))
	limit := math.Sqrt(6.0 / float64(t.Rows()+t.Width()))
	f32 := t.DType() == tensor.Float32
	if f32 {
		vals, err := t.Float32s()
		if err == nil {
			for i := range vals {
				vals[i] = float32((rng.Float64()*2 - 1) * limit)
			}
			return
		}
	}
	conv := tensor.New(tensor.Float32, t.Shape()...)
	vals, _ := conv.Float32s()
	for i := range vals {
		vals[i] = float32((rng.Float64()*2 - 1) * limit)
	}
	if filled, err := conv.Convert(t.DType()); err == nil {
		copy(t.Bytes(), filled.Bytes())
	}
}

type hostTensor struct {
	spec TensorSpec
	fsys fs.FileSystem

	mu        sync.Mutex
	data      *tensor.Dense
	destroyed bool
}

func (t *hostTensor) Rows() int           { return t.spec.Rows }
func (t *hostTensor) Width() int          { return t.spec.Width }
func (t *hostTensor) DType() tensor.DType { return t.spec.DType }

func (t *hostTensor) LocalSlice() (*tensor.Dense, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.destroyed {
		return nil, ErrDestroyed
	}
	return t.data, nil
}

func (t *hostTensor) Gather(ctx context.Context, indices []int64) (*tensor.Dense, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.destroyed {
		return nil, ErrDestroyed
	}

	out := tensor.New(t.spec.DType, len(indices), t.spec.Width)
	rb := t.data.RowBytes()
	src := t.data.Bytes()
	dst := out.Bytes()
	for i, idx := range indices {
		if idx < 0 || idx >= int64(t.spec.Rows) {
			return nil, fmt.Errorf("%w: %d of %d rows", ErrIndexOutOfRange, idx, t.spec.Rows)
		}
		copy(dst[i*rb:(i+1)*rb], src[int(idx)*rb:])
	}
	return out, nil
}

func (t *hostTensor) Scatter(ctx context.Context, values *tensor.Dense, indices []int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.destroyed {
		return ErrDestroyed
	}
	if values.DType() != t.spec.DType {
		return fmt.Errorf("%w: scatter %s into %s tensor", ErrInvalidSpec, values.DType(), t.spec.DType)
	}
	if values.Rows() != len(indices) || values.Width() != t.spec.Width {
		return fmt.Errorf("%w: scatter %dx%d with %d indices into width %d",
			ErrInvalidSpec, values.Rows(), values.Width(), len(indices), t.spec.Width)
	}

	rb := t.data.RowBytes()
	src := values.Bytes()
	dst := t.data.Bytes()
	for i, idx := range indices {
		if idx < 0 || idx >= int64(t.spec.Rows) {
			return fmt.Errorf("%w: %d of %d rows", ErrIndexOutOfRange, idx, t.spec.Rows)
		}
		copy(dst[int(idx)*rb:int(idx)*rb+rb], src[i*rb:])
	}
	return nil
}

// ToFile writes the local slice as raw little-endian bytes. No temp-file
// indirection: shard export failures surface to the caller, which treats
// the whole feature as requiring reprocessing.
func (t *hostTensor) ToFile(path string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.destroyed {
		return ErrDestroyed
	}

	f, err := t.fsys.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(t.data.Bytes()); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ToFilePrefix exports one shard file per process. The host engine is
// single-process, so the export is a single part_0_of_1 file.
func (t *hostTensor) ToFilePrefix(dir, prefix string) error {
	return t.ToFile(filepath.Join(dir, PartFileName(prefix, 0, 1)))
}

func (t *hostTensor) FromFilePrefix(dir, prefix string, shardCount int) error {
	if shardCount < 1 {
		return fmt.Errorf("%w: shard count %d", ErrInvalidSpec, shardCount)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.destroyed {
		return ErrDestroyed
	}

	buf := make([]byte, 0, len(t.data.Bytes()))
	for i := 0; i < shardCount; i++ {
		path := filepath.Join(dir, PartFileName(prefix, i, shardCount))
		b, err := fs.ReadFile(t.fsys, path)
		if err != nil {
			return fmt.Errorf("read shard %d: %w", i, err)
		}
		buf = append(buf, b...)
	}
	if len(buf) != len(t.data.Bytes()) {
		return fmt.Errorf("%w: read %d bytes, tensor holds %d", ErrShardMismatch, len(buf), len(t.data.Bytes()))
	}
	copy(t.data.Bytes(), buf)
	return nil
}

func (t *hostTensor) Destroy() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.destroyed {
		return ErrDestroyed
	}
	t.destroyed = true
	t.data = nil
	return nil
}
