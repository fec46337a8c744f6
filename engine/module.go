package engine

import (
	"context"
	"fmt"

	"github.com/hupe1980/wholestore/tensor"
)

// EmbeddingModule exposes a sharded embedding tensor as a trainable
// parameter: lookups run through Forward so the attached optimizer can
// trace which rows participated in a pass.
//
// The wrapped tensor must already be bound to an optimizer; the module
// is always created strictly after the tensor.
type EmbeddingModule struct {
	t   Tensor
	opt Optimizer
}

// NewEmbeddingModule wraps an optimizer-bound tensor.
func NewEmbeddingModule(t Tensor, opt Optimizer) (*EmbeddingModule, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: nil tensor", ErrInvalidSpec)
	}
	if opt == nil {
		return nil, fmt.Errorf("%w: embedding module needs an optimizer-bound tensor", ErrInvalidSpec)
	}
	return &EmbeddingModule{t: t, opt: opt}, nil
}

// Forward gathers the embedding rows for indices. Collective.
func (m *EmbeddingModule) Forward(ctx context.Context, indices []int64) (*tensor.Dense, error) {
	return m.t.Gather(ctx, indices)
}

// Tensor returns the wrapped storage.
func (m *EmbeddingModule) Tensor() Tensor { return m.t }

// Optimizer returns the optimizer tracing this module's parameter.
func (m *EmbeddingModule) Optimizer() Optimizer { return m.opt }

type sparseOptimizer struct {
	typ    OptimizerType
	params OptimizerParams
}

func (o *sparseOptimizer) Type() OptimizerType     { return o.typ }
func (o *sparseOptimizer) Params() OptimizerParams { return o.params }
