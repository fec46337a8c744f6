package convert

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hupe1980/wholestore/engine"
	wfs "github.com/hupe1980/wholestore/internal/fs"
	"github.com/hupe1980/wholestore/resource"
	"github.com/hupe1980/wholestore/tensor"
	"github.com/hupe1980/wholestore/tensorfile"
	"github.com/hupe1980/wholestore/testutil"
)

const (
	datasetRows  = 23
	datasetParts = 3
)

// buildDataset writes a 3-partition dataset with two convertible
// features and one bystander, and returns the logical whole tensors.
func buildDataset(t *testing.T, root string) map[string]*tensor.Dense {
	t.Helper()
	rng := testutil.NewRNG(42)

	whole := map[string]*tensor.Dense{
		"paper/feat":  rng.FloatTensor(datasetRows, 4),
		"paper/year":  rng.IntTensor(datasetRows, 3000),
		"paper/label": rng.FloatTensor(datasetRows, 1),
	}

	features := make(map[string][]*tensor.Dense, len(whole))
	for key, w := range whole {
		features[key] = testutil.SplitRows(w, datasetParts)
	}
	testutil.WritePartitions(t, testutil.PartitionLayout{
		Dir:      root,
		FileName: NodeFeatureFile,
		Codec:    tensorfile.CodecZSTD,
	}, features)
	return whole
}

func requireShardFiles(t *testing.T, shardDir, key string, whole *tensor.Dense, shardCount int) {
	t.Helper()
	ranges, err := shardRanges(whole.Rows(), shardCount)
	require.NoError(t, err)

	for i, rng := range ranges {
		path := filepath.Join(shardDir, engine.PartFileName(SafeKey(key), i, len(ranges)))
		data, err := os.ReadFile(path)
		require.NoError(t, err, "shard %d of %q", i, key)

		view, err := whole.RowRange(rng.start, rng.end)
		require.NoError(t, err)
		require.Equal(t, view.Bytes(), data, "shard %d of %q", i, key)
	}
}

func TestConvertHighMemory(t *testing.T) {
	root := t.TempDir()
	whole := buildDataset(t, root)

	c, err := New(engine.NewHostEngine(), root, WithCodec(tensorfile.CodecZSTD))
	require.NoError(t, err)
	require.NoError(t, c.Convert(context.Background(), NodeFeatureFile, map[string][]string{
		"paper": {"feat", "year"},
	}))

	shardDir := filepath.Join(root, ShardDirName)
	requireShardFiles(t, shardDir, "paper/feat", whole["paper/feat"], datasetParts)
	requireShardFiles(t, shardDir, "paper/year", whole["paper/year"], datasetParts)

	meta := NewMetadataStore(wfs.Default, shardDir)
	feat, err := meta.Get("paper/feat")
	require.NoError(t, err)
	require.Equal(t, MetadataEntry{Shape: []int{datasetRows, 4}, DType: "float32", Shards: datasetParts}, feat)
	year, err := meta.Get("paper/year")
	require.NoError(t, err)
	require.Equal(t, MetadataEntry{Shape: []int{datasetRows}, DType: "int64", Shards: datasetParts}, year)
	_, err = meta.Get("paper/label")
	require.Error(t, err)

	// Containers keep only the bystander feature; backups survive.
	wantLabels := testutil.SplitRows(whole["paper/label"], datasetParts)
	for i := 0; i < datasetParts; i++ {
		partDir := filepath.Join(root, fmt.Sprintf("part%d", i))
		got, err := tensorfile.Read(wfs.Default, filepath.Join(partDir, NodeFeatureFile))
		require.NoError(t, err)
		require.Len(t, got, 1)
		require.True(t, wantLabels[i].Equal(got["paper/label"]))
		require.FileExists(t, filepath.Join(partDir, NodeFeatureFile+".bak"))
	}

	// Resume record is gone after a successful run.
	require.NoFileExists(t, filepath.Join(shardDir, "."+NodeFeatureFile+".progress"))
}

func TestConvertShardCountOverride(t *testing.T) {
	root := t.TempDir()
	whole := buildDataset(t, root)

	c, err := New(engine.NewHostEngine(), root, WithShardCount(5))
	require.NoError(t, err)
	require.NoError(t, c.Convert(context.Background(), NodeFeatureFile, map[string][]string{
		"paper": {"feat"},
	}))

	requireShardFiles(t, filepath.Join(root, ShardDirName), "paper/feat", whole["paper/feat"], 5)
}

func TestConvertShardCountCapped(t *testing.T) {
	// 12 rows in 5 requested shards fit in 4 ranges of 3. File names and
	// metadata must carry the written count, or nothing could locate the
	// shards afterwards.
	root := t.TempDir()
	rng := testutil.NewRNG(11)
	whole := rng.FloatTensor(12, 2)
	testutil.WritePartitions(t, testutil.PartitionLayout{
		Dir:      root,
		FileName: NodeFeatureFile,
		Codec:    tensorfile.CodecNone,
	}, map[string][]*tensor.Dense{"node/x": testutil.SplitRows(whole, 2)})

	c, err := New(engine.NewHostEngine(), root, WithShardCount(5))
	require.NoError(t, err)
	require.NoError(t, c.Convert(context.Background(), NodeFeatureFile, map[string][]string{
		"node": {"x"},
	}))

	shardDir := filepath.Join(root, ShardDirName)
	requireShardFiles(t, shardDir, "node/x", whole, 5)
	for i := 0; i < 5; i++ {
		require.NoFileExists(t, filepath.Join(shardDir, engine.PartFileName("node~x", i, 5)))
	}

	entry, err := NewMetadataStore(wfs.Default, shardDir).Get("node/x")
	require.NoError(t, err)
	require.Equal(t, 4, entry.Shards)
}

func TestConvertUnknownFeature(t *testing.T) {
	root := t.TempDir()
	buildDataset(t, root)

	c, err := New(engine.NewHostEngine(), root)
	require.NoError(t, err)
	err = c.Convert(context.Background(), NodeFeatureFile, map[string][]string{
		"paper": {"citations"},
	})

	var unknown *UnknownFeatureError
	require.ErrorAs(t, err, &unknown)
	require.Equal(t, "paper/citations", unknown.Key)
	require.Equal(t, 0, unknown.Partition)
	require.Equal(t, []string{"paper/feat", "paper/label", "paper/year"}, unknown.Available)
}

func TestConvertPathsProduceIdenticalBytes(t *testing.T) {
	ctx := context.Background()
	features := map[string][]string{"paper": {"feat", "year"}}

	rootHigh := t.TempDir()
	buildDataset(t, rootHigh)
	high, err := New(engine.NewHostEngine(), rootHigh, WithCodec(tensorfile.CodecZSTD))
	require.NoError(t, err)
	require.NoError(t, high.Convert(ctx, NodeFeatureFile, features))

	rootLow := t.TempDir()
	buildDataset(t, rootLow)
	low, err := New(engine.NewHostEngine(), rootLow, WithCodec(tensorfile.CodecZSTD), WithLowMemory())
	require.NoError(t, err)
	require.NoError(t, low.Convert(ctx, NodeFeatureFile, features))

	require.Equal(t, snapshotTree(t, rootHigh), snapshotTree(t, rootLow))
}

// snapshotTree maps every relative file path under root to its contents.
func snapshotTree(t *testing.T, root string) map[string][]byte {
	t.Helper()
	files := make(map[string][]byte)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = data
		return nil
	})
	require.NoError(t, err)
	return files
}

func TestConvertSkipsFeaturesInResumeRecord(t *testing.T) {
	root := t.TempDir()
	buildDataset(t, root)
	shardDir := filepath.Join(root, ShardDirName)
	require.NoError(t, os.MkdirAll(shardDir, 0o755))

	// A resume record claiming paper/feat is already converted.
	rec, err := json.Marshal(progressRecord{Converted: []string{"paper/feat"}})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(shardDir, "."+NodeFeatureFile+".progress"), rec, 0o644))

	c, err := New(engine.NewHostEngine(), root)
	require.NoError(t, err)
	require.NoError(t, c.Convert(context.Background(), NodeFeatureFile, map[string][]string{
		"paper": {"feat", "year"},
	}))

	// paper/feat was skipped: no shards, no metadata entry.
	require.NoFileExists(t, filepath.Join(shardDir, engine.PartFileName("paper~feat", 0, datasetParts)))
	meta := NewMetadataStore(wfs.Default, shardDir)
	_, err = meta.Get("paper/feat")
	require.Error(t, err)
	_, err = meta.Get("paper/year")
	require.NoError(t, err)

	// But it was still stripped from the trimmed containers.
	got, err := tensorfile.Read(wfs.Default, filepath.Join(root, "part0", NodeFeatureFile))
	require.NoError(t, err)
	require.NotContains(t, got, "paper/feat")
	require.NotContains(t, got, "paper/year")
	require.Contains(t, got, "paper/label")
}

func TestConvertResumesAfterShardWriteFailure(t *testing.T) {
	root := t.TempDir()
	whole := buildDataset(t, root)
	ctx := context.Background()

	faulty := wfs.NewFaultyFS(nil)
	faulty.AddRule("paper~year_part_1", wfs.Fault{})

	eng := engine.NewHostEngine(engine.WithHostFS(faulty))
	c, err := New(eng, root, WithFileSystem(faulty))
	require.NoError(t, err)

	features := map[string][]string{"paper": {"feat", "year"}}
	require.ErrorIs(t, c.Convert(ctx, NodeFeatureFile, features), wfs.ErrInjected)

	// Containers are untouched until every feature's shards are on disk.
	got, err := tensorfile.Read(wfs.Default, filepath.Join(root, "part0", NodeFeatureFile))
	require.NoError(t, err)
	require.Contains(t, got, "paper/feat")

	// Second run completes from the resume record.
	faulty.ClearRules()
	require.NoError(t, c.Convert(ctx, NodeFeatureFile, features))

	shardDir := filepath.Join(root, ShardDirName)
	requireShardFiles(t, shardDir, "paper/feat", whole["paper/feat"], datasetParts)
	requireShardFiles(t, shardDir, "paper/year", whole["paper/year"], datasetParts)
}

func TestConvertWithController(t *testing.T) {
	root := t.TempDir()
	whole := buildDataset(t, root)

	res := resource.NewController(resource.Config{
		MemoryLimitBytes:   16 << 20,
		IOLimitBytesPerSec: 64 << 20,
	})
	c, err := New(engine.NewHostEngine(), root, WithController(res))
	require.NoError(t, err)
	require.NoError(t, c.Convert(context.Background(), NodeFeatureFile, map[string][]string{
		"paper": {"feat"},
	}))

	requireShardFiles(t, filepath.Join(root, ShardDirName), "paper/feat", whole["paper/feat"], datasetParts)
	require.EqualValues(t, 0, res.MemoryUsage())
}

func TestConvertNoFeatures(t *testing.T) {
	c, err := New(engine.NewHostEngine(), t.TempDir())
	require.NoError(t, err)
	require.NoError(t, c.Convert(context.Background(), NodeFeatureFile, nil))
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil, t.TempDir())
	require.Error(t, err)

	_, err = New(engine.NewHostEngine(), t.TempDir(), WithShardCount(-1))
	require.Error(t, err)
}

func TestFeatureKeys(t *testing.T) {
	key := FeatureKey("paper", "feat")
	require.Equal(t, "paper/feat", key)
	require.Equal(t, "paper~feat", SafeKey(key))
	require.Equal(t, "plain", SafeKey("plain"))
}
