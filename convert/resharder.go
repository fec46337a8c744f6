package convert

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/hupe1980/wholestore/engine"
	"github.com/hupe1980/wholestore/internal/fs"
	"github.com/hupe1980/wholestore/resource"
	"github.com/hupe1980/wholestore/tensor"
)

// rowRange is a contiguous, half-open row interval of the whole tensor.
type rowRange struct {
	start int
	end   int
}

func (r rowRange) len() int { return r.end - r.start }

// shardRanges splits rows into at most shardCount contiguous ranges of
// ceil(rows/shardCount) rows each. The last range absorbs the remainder;
// when the ceiling division covers all rows early, no empty trailing
// ranges are produced.
func shardRanges(rows, shardCount int) ([]rowRange, error) {
	if rows < 1 {
		return nil, fmt.Errorf("%w: %d rows", ErrEmptyFeature, rows)
	}
	if shardCount < 1 {
		return nil, fmt.Errorf("shard count %d", shardCount)
	}

	// Round up to match the engine's partitioning scheme.
	shardSize := (rows + shardCount - 1) / shardCount

	var ranges []rowRange
	for i := 0; i < shardCount; i++ {
		start := i * shardSize
		if start >= rows {
			break
		}
		end := start + shardSize
		if i == shardCount-1 || end > rows {
			end = rows
		}
		ranges = append(ranges, rowRange{start: start, end: end})
	}
	return ranges, nil
}

// resharder materializes one concatenated feature as shard files through
// the engine: per range, create a continuous host tensor, copy the rows
// in, export to file, destroy. Peak engine memory for the step is one
// shard, never the whole tensor.
type resharder struct {
	eng      engine.Engine
	fsys     fs.FileSystem
	shardDir string
	meta     *MetadataStore
	res      *resource.Controller
	log      *slog.Logger
}

func (c *Converter) newResharder() *resharder {
	return &resharder{
		eng:      c.eng,
		fsys:     c.fsys,
		shardDir: filepath.Join(c.root, ShardDirName),
		meta:     NewMetadataStore(c.fsys, filepath.Join(c.root, ShardDirName)),
		res:      c.res,
		log:      c.log,
	}
}

// reshard writes the shard files for key and records its logical shape
// and dtype. Engine and filesystem errors propagate unmodified; partial
// shard files from a failed run are not cleaned up, and the caller must
// reprocess the feature from scratch.
func (r *resharder) reshard(ctx context.Context, whole *tensor.Dense, key string, shardCount int) error {
	ranges, err := shardRanges(whole.Rows(), shardCount)
	if err != nil {
		return fmt.Errorf("reshard %q: %w", key, err)
	}

	if err := r.fsys.MkdirAll(r.shardDir, 0o755); err != nil {
		return err
	}

	// File names and the metadata record carry the count actually
	// written, not the count requested: when the ceiling division covers
	// all rows in fewer ranges, a name embedding the requested count
	// would point at files that do not exist.
	effective := len(ranges)

	safe := SafeKey(key)
	for i, rng := range ranges {
		wt, err := r.eng.CreateTensor(ctx, engine.TensorSpec{
			Rows:       rng.len(),
			Width:      whole.Width(),
			DType:      whole.DType(),
			MemoryType: engine.MemoryContinuous,
			Location:   engine.LocationHost,
		})
		if err != nil {
			return fmt.Errorf("create shard %d of %q: %w", i, key, err)
		}

		local, err := wt.LocalSlice()
		if err != nil {
			return err
		}
		view, err := whole.RowRange(rng.start, rng.end)
		if err != nil {
			return err
		}
		copy(local.Bytes(), view.Bytes())

		if err := r.res.WaitIO(ctx, len(view.Bytes())); err != nil {
			return err
		}
		path := filepath.Join(r.shardDir, engine.PartFileName(safe, i, effective))
		if err := wt.ToFile(path); err != nil {
			return fmt.Errorf("write shard %d of %q: %w", i, key, err)
		}
		if err := wt.Destroy(); err != nil {
			return err
		}

		r.log.Debug("shard written",
			"feature", key,
			"shard", i,
			"rows", rng.len(),
			"path", path,
		)
	}

	return r.meta.Update(key, MetadataEntry{
		Shape:  whole.Shape(),
		DType:  whole.DType().String(),
		Shards: effective,
	})
}
