package convert

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/hupe1980/wholestore/tensor"
	"github.com/hupe1980/wholestore/tensorfile"
)

// convertLowMemory streams one feature at a time: each partition's
// container is read, the feature's rows are appended to the running
// concatenation and the container is dropped before the next one is
// opened. Peak footprint is about twice the largest single feature, paid
// for with one read pass per feature plus a final pass that rewrites the
// trimmed containers.
//
// Output is byte-identical to the default path: same shard files, same
// metadata record, same trimmed containers.
func (c *Converter) convertLowMemory(ctx context.Context, fileName string, features map[string][]string) error {
	parts, err := Partitions(c.fsys, c.root)
	if err != nil {
		return err
	}
	shardDir := filepath.Join(c.root, ShardDirName)
	if err := c.fsys.MkdirAll(shardDir, 0o755); err != nil {
		return err
	}

	prog := noProgress()
	if !c.noProgress {
		if prog, err = loadProgress(c.fsys, shardDir, fileName); err != nil {
			return err
		}
	}

	shardCount := c.shardCount
	if shardCount == 0 {
		shardCount = len(parts)
	}
	r := c.newResharder()

	for _, typeName := range sortedTypes(features) {
		for _, feat := range features[typeName] {
			key := FeatureKey(typeName, feat)

			if prog.featureDone(key) {
				c.log.Info("feature already converted, skipping", "feature", key)
				continue
			}
			c.log.Info("processing feature", "feature", key, "partitions", len(parts))

			whole, reserved, err := c.streamFeature(ctx, parts, fileName, key)
			if err != nil {
				c.res.ReleaseMemory(reserved)
				return err
			}

			err = r.reshard(ctx, whole, key, shardCount)
			c.res.ReleaseMemory(reserved)
			if err != nil {
				return err
			}
			if err := prog.markFeature(key); err != nil {
				return err
			}
		}
	}

	// One more pass over the partitions, stripping every converted key
	// and rewriting the container. Partition ids are 0-indexed, the same
	// convention the default path trims with.
	for _, part := range parts {
		if prog.partitionTrimmed(part.Index) {
			continue
		}
		m, err := tensorfile.Read(c.fsys, filepath.Join(part.Dir, fileName))
		if err != nil {
			return fmt.Errorf("partition %d: %w", part.Index, err)
		}
		for _, typeName := range sortedTypes(features) {
			for _, feat := range features[typeName] {
				delete(m, FeatureKey(typeName, feat))
			}
		}
		if err := trimPartition(c.fsys, part.Dir, fileName, m, c.codec); err != nil {
			return err
		}
		if err := prog.markTrimmed(part.Index); err != nil {
			return err
		}
	}
	return prog.clear()
}

// streamFeature concatenates one feature across all partitions, holding
// at most one partition's container at a time. It returns the reserved
// byte count for the caller to release once the shards are on disk.
func (c *Converter) streamFeature(ctx context.Context, parts []Partition, fileName, key string) (*tensor.Dense, int64, error) {
	var whole *tensor.Dense
	var reserved int64

	for _, part := range parts {
		m, err := tensorfile.Read(c.fsys, filepath.Join(part.Dir, fileName))
		if err != nil {
			return nil, reserved, fmt.Errorf("partition %d: %w", part.Index, err)
		}
		t, ok := m[key]
		if !ok {
			return nil, reserved, &UnknownFeatureError{Key: key, Partition: part.Index, Available: sortedKeys(m)}
		}

		n := int64(len(t.Bytes()))
		if err := c.res.AcquireMemory(ctx, n); err != nil {
			return nil, reserved, err
		}
		reserved += n

		if whole == nil {
			shape := t.Shape()
			shape[0] = 0
			whole = tensor.New(t.DType(), shape...)
		}
		if err := whole.AppendRows(t); err != nil {
			return nil, reserved, fmt.Errorf("append partition %d of %q: %w", part.Index, key, err)
		}
		// m and the rest of its tensors fall out of scope here; only the
		// appended copy survives to the next iteration.
	}
	return whole, reserved, nil
}
