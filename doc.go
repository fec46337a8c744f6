// Package wholestore bridges partitioned graph datasets with a
// distributed sharded-memory feature store.
//
// It does two things. The convert subpackage reshards on-disk
// partitioned node/edge features into globally addressable shard files
// plus a metadata record. This package's [DistTensor] is the training
// side: a handle over a sharded tensor or trainable sharded embedding,
// giving indexed gather/scatter access during distributed training.
//
// # Process model
//
// wholestore assumes one process per accelerator device, bootstrapped
// through the comm package. DistTensor operations that touch the
// distributed store (creation, optimizer attachment, gather, scatter)
// are collective: every process in the group must issue them in the same
// order with agreeing shapes and dtypes. Indices may differ per process;
// call order and specs may not. All calls block until the distributed
// operation completes, and there is no cancellation once a collective
// has started, so a hang in one process blocks the whole group.
//
// # Handle lifecycle
//
// A handle is in exactly one of three states. Created without optimizer
// mode, the underlying tensor exists immediately and the handle stays a
// plain tensor. Created with [WithOptimizerMode], nothing is allocated
// until [DistTensor.AttachOptimizer] supplies the sparse optimizer; the
// engine requires the optimizer to exist strictly before the tensor, and
// the trainable-module wrapper is created strictly after it. The
// transition happens exactly once.
package wholestore
