package convert

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/hupe1980/wholestore/tensor"
	"github.com/hupe1980/wholestore/tensorfile"
)

// convertHighMemory is the default path: every partition's container is
// loaded up front, then features are concatenated and resharded one by
// one. Worst-case footprint is about twice the total feature volume (the
// per-partition copies plus, transiently, a feature's concatenation).
func (c *Converter) convertHighMemory(ctx context.Context, fileName string, features map[string][]string) error {
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

	// Load every partition's container, reserving roughly its file size.
	featsData := make([]map[string]*tensor.Dense, len(parts))
	var reserved int64
	defer func() { c.res.ReleaseMemory(reserved) }()
	for i, part := range parts {
		path := filepath.Join(part.Dir, fileName)
		if info, statErr := c.fsys.Stat(path); statErr == nil {
			if err := c.res.AcquireMemory(ctx, info.Size()); err != nil {
				return err
			}
			reserved += info.Size()
		}
		if featsData[i], err = tensorfile.Read(c.fsys, path); err != nil {
			return fmt.Errorf("partition %d: %w", part.Index, err)
		}
	}

	for _, typeName := range sortedTypes(features) {
		for _, feat := range features[typeName] {
			key := FeatureKey(typeName, feat)

			if prog.featureDone(key) {
				c.log.Info("feature already converted, skipping", "feature", key)
				for _, m := range featsData {
					delete(m, key)
				}
				continue
			}

			tensors := make([]*tensor.Dense, len(featsData))
			var featBytes int64
			for i, m := range featsData {
				t, ok := m[key]
				if !ok {
					return &UnknownFeatureError{Key: key, Partition: parts[i].Index, Available: sortedKeys(m)}
				}
				tensors[i] = t
				featBytes += int64(len(t.Bytes()))
			}

			c.log.Info("processing feature", "feature", key, "partitions", len(parts))

			if err := c.res.AcquireMemory(ctx, featBytes); err != nil {
				return err
			}
			whole, err := tensor.Concat(tensors...)
			if err != nil {
				c.res.ReleaseMemory(featBytes)
				return fmt.Errorf("concat %q: %w", key, err)
			}
			// Drop the per-partition copies now, not at scope exit: the
			// containers stay loaded for trimming, but this feature's
			// rows must not be held twice longer than the reshard needs.
			for _, m := range featsData {
				delete(m, key)
			}
			tensors = nil

			err = r.reshard(ctx, whole, key, shardCount)
			c.res.ReleaseMemory(featBytes)
			if err != nil {
				return err
			}
			if err := prog.markFeature(key); err != nil {
				return err
			}
		}
	}

	// Rewrite every partition container without the converted features.
	for i, part := range parts {
		if prog.partitionTrimmed(part.Index) {
			continue
		}
		if err := trimPartition(c.fsys, part.Dir, fileName, featsData[i], c.codec); err != nil {
			return err
		}
		if err := prog.markTrimmed(part.Index); err != nil {
			return err
		}
	}
	return prog.clear()
}
