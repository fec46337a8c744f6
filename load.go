package wholestore

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/hupe1980/wholestore/convert"
	"github.com/hupe1980/wholestore/engine"
	"github.com/hupe1980/wholestore/internal/fs"
	"github.com/hupe1980/wholestore/tensor"
)

// LoadFeature opens a converted feature as a read-mostly distributed
// tensor: it resolves the logical shape, dtype and shard count from the
// dataset's shard metadata record, creates a plain handle and imports
// the shard files written by the converter. Pass shardCount 0 to use
// the recorded count; a non-zero shardCount must match it, or
// [engine.ErrShardMismatch] is returned.
//
// Collective, like [New]: every process of the group must call it in
// the same order.
func LoadFeature(ctx context.Context, eng engine.Engine, root string, shardCount int, typeName, feature string, opts ...Option) (*DistTensor, error) {
	key := convert.FeatureKey(typeName, feature)
	shardDir := filepath.Join(root, convert.ShardDirName)

	meta := convert.NewMetadataStore(fs.Default, shardDir)
	entry, err := meta.Get(key)
	if err != nil {
		return nil, err
	}
	dtype, err := tensor.ParseDType(entry.DType)
	if err != nil {
		return nil, fmt.Errorf("feature %q: %w", key, err)
	}

	// The record is authoritative: the converter may have written fewer
	// shards than were requested from it.
	shards := entry.Shards
	if shards == 0 {
		shards = shardCount
	}
	if shardCount > 0 && shards != shardCount {
		return nil, fmt.Errorf("%w: feature %q was converted into %d shards, not %d",
			engine.ErrShardMismatch, key, shards, shardCount)
	}

	// 1-D features load as a single-column table.
	var shape [2]int
	switch len(entry.Shape) {
	case 1:
		shape = [2]int{entry.Shape[0], 1}
	case 2:
		shape = [2]int{entry.Shape[0], entry.Shape[1]}
	default:
		return nil, fmt.Errorf("%w: feature %q has shape %v", ErrInvalidShape, key, entry.Shape)
	}

	d, err := New(ctx, eng, shape, dtype, key, opts...)
	if err != nil {
		return nil, err
	}
	if err := d.Load(shardDir, convert.SafeKey(key), shards); err != nil {
		return nil, err
	}
	return d, nil
}
