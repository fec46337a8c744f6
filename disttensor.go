package wholestore

import (
	"context"
	"fmt"

	"github.com/hupe1980/wholestore/comm"
	"github.com/hupe1980/wholestore/engine"
	"github.com/hupe1980/wholestore/tensor"
)

// BindState is the binding state of a [DistTensor].
//
// The optimizer/tensor/module triple is only ever in one of three legal
// configurations, and BindState names them explicitly so the illegal
// ones are unrepresentable in the handle's logic.
type BindState uint8

const (
	// StateUnbound: optimizer mode was requested and nothing has been
	// created yet.
	StateUnbound BindState = iota
	// StateBoundPlain: no optimizer; the tensor was created eagerly.
	StateBoundPlain
	// StateBoundTrainable: optimizer, tensor and module all exist.
	StateBoundTrainable
)

// String returns the state name.
func (s BindState) String() string {
	switch s {
	case StateUnbound:
		return "unbound"
	case StateBoundPlain:
		return "bound-plain"
	case StateBoundTrainable:
		return "bound-trainable"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// DistTensor is a handle over a sharded distributed tensor, optionally
// upgraded to a trainable embedding with an attached sparse optimizer.
//
// Creation, AttachOptimizer, Gather and Scatter are collective
// operations: see the package documentation for the cross-process
// contract.
type DistTensor struct {
	name     string
	rows     int
	width    int
	dtype    tensor.DType
	location engine.Location

	eng engine.Engine
	log *Logger

	optimizerMode bool
	state         BindState
	tensor        engine.Tensor
	optimizer     engine.Optimizer
	module        *engine.EmbeddingModule
}

// Option configures a DistTensor at creation.
type Option func(*DistTensor)

// WithLocation selects host or device storage. Default is host.
func WithLocation(loc engine.Location) Option {
	return func(d *DistTensor) { d.location = loc }
}

// WithOptimizerMode defers tensor creation until AttachOptimizer: the
// engine needs the sparse optimizer to exist strictly before any tensor
// it tracks.
func WithOptimizerMode() Option {
	return func(d *DistTensor) { d.optimizerMode = true }
}

// WithTensorLogger sets the handle's logger. Default discards output.
func WithTensorLogger(log *Logger) Option {
	return func(d *DistTensor) { d.log = log }
}

// New creates a distributed tensor handle. shape is strictly rows x
// embedding width. The process group must be initialized first, and the
// engine must be at least [engine.MinVersion].
//
// Without optimizer mode the underlying tensor is created immediately;
// with it, the handle starts unbound.
func New(ctx context.Context, eng engine.Engine, shape [2]int, dtype tensor.DType, name string, opts ...Option) (*DistTensor, error) {
	if _, err := comm.Current(); err != nil {
		return nil, err
	}
	if shape[0] < 1 || shape[1] < 1 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidShape, shape[0], shape[1])
	}
	if !dtype.Valid() {
		return nil, fmt.Errorf("%w: dtype %s", ErrInvalidShape, dtype)
	}
	if v := eng.Version(); !v.AtLeast(engine.MinVersion) {
		return nil, versionError(v)
	}

	d := &DistTensor{
		name:  name,
		rows:  shape[0],
		width: shape[1],
		dtype: dtype,
		eng:   eng,
		log:   NoopLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.log = d.log.WithName(name)

	if d.optimizerMode {
		d.state = StateUnbound
		return d, nil
	}

	t, err := eng.CreateTensor(ctx, engine.TensorSpec{
		Rows:       d.rows,
		Width:      d.width,
		DType:      d.dtype,
		MemoryType: engine.MemoryDistributed,
		Location:   d.location,
	})
	if err != nil {
		return nil, err
	}
	d.tensor = t
	d.state = StateBoundPlain
	return d, nil
}

// AttachOptimizer upgrades an unbound handle to a trainable embedding:
// it binds the optimizer, creates the tensor against it, then wraps the
// tensor in the trainable module, in that order. Collective; valid
// exactly once.
func (d *DistTensor) AttachOptimizer(ctx context.Context, opt engine.Optimizer) error {
	if !d.optimizerMode {
		return fmt.Errorf("%w: create the handle with WithOptimizerMode", ErrNotOptimizerMode)
	}
	if d.state == StateBoundTrainable || d.optimizer != nil {
		return ErrAlreadyBound
	}
	if opt == nil {
		return fmt.Errorf("%w: nil optimizer", engine.ErrInvalidOptimizer)
	}
	// The state machine makes a half-bound handle unreachable; verify
	// the triple anyway so corruption fails here and not mid-training.
	if d.tensor != nil {
		return &InvariantError{State: d.state, Detail: "tensor exists before optimizer"}
	}
	if d.module != nil {
		return &InvariantError{State: d.state, Detail: "module exists before optimizer"}
	}

	t, err := d.eng.CreateTensor(ctx, engine.TensorSpec{
		Rows:       d.rows,
		Width:      d.width,
		DType:      d.dtype,
		MemoryType: engine.MemoryDistributed,
		Location:   d.location,
		Optimizer:  opt,
		RandomInit: true,
	})
	if err != nil {
		d.log.LogAttach(ctx, string(opt.Type()), err)
		return err
	}
	m, err := engine.NewEmbeddingModule(t, opt)
	if err != nil {
		d.log.LogAttach(ctx, string(opt.Type()), err)
		return err
	}

	d.optimizer = opt
	d.tensor = t
	d.module = m
	d.state = StateBoundTrainable
	d.log.LogAttach(ctx, string(opt.Type()), nil)
	return nil
}

func (d *DistTensor) requireTensor() error {
	if d.tensor == nil {
		return fmt.Errorf("%w: state %s", ErrNoTensor, d.state)
	}
	return nil
}

// Gather collects the rows at indices into a local dense tensor.
// Collective: all processes must call, each with its own indices.
func (d *DistTensor) Gather(ctx context.Context, indices []int64) (*tensor.Dense, error) {
	if err := d.requireTensor(); err != nil {
		return nil, err
	}
	out, err := d.tensor.Gather(ctx, indices)
	d.log.LogGather(ctx, len(indices), err)
	return out, err
}

// Scatter writes one row of values per index. Values are cast to the
// handle's dtype when they differ. Collective, like Gather.
func (d *DistTensor) Scatter(ctx context.Context, values *tensor.Dense, indices []int64) error {
	if err := d.requireTensor(); err != nil {
		return err
	}
	if values.Rows() != len(indices) || values.Width() != d.width {
		return fmt.Errorf("%w: scatter %dx%d with %d indices into width %d",
			ErrInvalidShape, values.Rows(), values.Width(), len(indices), d.width)
	}
	if values.DType() != d.dtype {
		cast, err := values.Convert(d.dtype)
		if err != nil {
			return err
		}
		values = cast
	}
	err := d.tensor.Scatter(ctx, values, indices)
	d.log.LogScatter(ctx, len(indices), err)
	return err
}

// Save exports the tensor under dir as shard files named from prefix.
// The tensor must already exist.
func (d *DistTensor) Save(dir, prefix string) error {
	if err := d.requireTensor(); err != nil {
		return err
	}
	return d.tensor.ToFilePrefix(dir, prefix)
}

// Load imports shardCount shard files named from prefix under dir. The
// tensor must already exist; in optimizer mode the optimizer must be
// attached before loading so the imported rows are tracked.
func (d *DistTensor) Load(dir, prefix string, shardCount int) error {
	if d.tensor == nil {
		if d.optimizerMode {
			return fmt.Errorf("%w: attach the optimizer before loading", ErrNoTensor)
		}
		return fmt.Errorf("%w: state %s", ErrNoTensor, d.state)
	}
	return d.tensor.FromFilePrefix(dir, prefix, shardCount)
}

// Name returns the embedding name.
func (d *DistTensor) Name() string { return d.name }

// NumEmbeddings returns the row count.
func (d *DistTensor) NumEmbeddings() int { return d.rows }

// EmbeddingDim returns the embedding width.
func (d *DistTensor) EmbeddingDim() int { return d.width }

// DType returns the element type.
func (d *DistTensor) DType() tensor.DType { return d.dtype }

// State returns the current binding state.
func (d *DistTensor) State() BindState { return d.state }

// Optimizer returns the attached sparse optimizer, or nil.
func (d *DistTensor) Optimizer() engine.Optimizer { return d.optimizer }

// Module returns the trainable module wrapper, or nil for plain and
// unbound handles.
func (d *DistTensor) Module() *engine.EmbeddingModule { return d.module }
