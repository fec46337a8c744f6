// Package convert reshards on-disk partitioned graph features into the
// globally addressable shard format served by the sharded-memory engine.
//
// A partitioned dataset has directories part0..partN-1, each holding a
// feature container file keyed by "<type>/<feature>". Conversion
// concatenates a feature across partitions in numeric order, splits the
// result into contiguous row-range shards, writes one shard file per
// range under <root>/wholegraph/, records the logical shape and dtype in
// metadata.json, and finally rewrites each partition's container with
// the converted features removed.
//
// Two paths produce byte-identical output. The default path loads every
// partition's full container up front (peak memory about twice the total
// feature volume); the low-memory path streams one feature at a time
// (peak about twice the largest single feature) at the cost of one read
// pass per feature plus a final trim pass.
package convert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/hupe1980/wholestore/engine"
	"github.com/hupe1980/wholestore/internal/fs"
	"github.com/hupe1980/wholestore/resource"
	"github.com/hupe1980/wholestore/tensorfile"
)

const (
	// ShardDirName is the subdirectory of the dataset root that receives
	// shard files and metadata.
	ShardDirName = "wholegraph"

	// MetadataFileName is the shard metadata record inside ShardDirName.
	MetadataFileName = "metadata.json"

	// NodeFeatureFile and EdgeFeatureFile are the container file names
	// produced by the upstream graph partitioner.
	NodeFeatureFile = "node_feat.dgl"
	EdgeFeatureFile = "edge_feat.dgl"
)

var (
	// ErrNoPartitions is returned when the dataset root contains no
	// partN directories.
	ErrNoPartitions = errors.New("no partition directories found")

	// ErrEmptyFeature is returned when a feature has no rows to reshard.
	ErrEmptyFeature = errors.New("feature has no rows")
)

// UnknownFeatureError reports a requested feature key missing from a
// partition's container, together with the keys that partition holds.
type UnknownFeatureError struct {
	Key       string
	Partition int
	Available []string
}

func (e *UnknownFeatureError) Error() string {
	return fmt.Sprintf("unknown feature %q in partition %d; files contain: %s",
		e.Key, e.Partition, strings.Join(e.Available, ", "))
}

// FeatureKey builds the logical metadata key for a typed feature.
// Logical keys contain a slash and are what metadata.json is indexed by;
// they never appear in file names.
func FeatureKey(typeName, feature string) string {
	return typeName + "/" + feature
}

// SafeKey converts a logical key into its filesystem-safe form by
// replacing slashes. Only SafeKey output may be used in shard file
// names; only logical keys may be used for metadata lookup.
func SafeKey(key string) string {
	return strings.ReplaceAll(key, "/", "~")
}

// Converter converts features of one partitioned dataset.
type Converter struct {
	eng  engine.Engine
	root string

	fsys       fs.FileSystem
	log        *slog.Logger
	res        *resource.Controller
	codec      tensorfile.Codec
	lowMemory  bool
	shardCount int // 0 = one shard per source partition
	noProgress bool
}

// Option configures a Converter.
type Option func(*Converter)

// WithFileSystem routes all file access through fsys.
func WithFileSystem(fsys fs.FileSystem) Option {
	return func(c *Converter) { c.fsys = fsys }
}

// WithLogger sets the structured logger. Defaults to slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(c *Converter) { c.log = log }
}

// WithController bounds conversion memory and shard-write throughput.
func WithController(res *resource.Controller) Option {
	return func(c *Converter) { c.res = res }
}

// WithCodec sets the compression codec for rewritten partition
// containers. Shard files are always raw so the engine can import them
// directly.
func WithCodec(codec tensorfile.Codec) Option {
	return func(c *Converter) { c.codec = codec }
}

// WithLowMemory selects the streaming conversion path.
func WithLowMemory() Option {
	return func(c *Converter) { c.lowMemory = true }
}

// WithShardCount overrides the target shard count. The default is the
// number of source partitions.
func WithShardCount(n int) Option {
	return func(c *Converter) { c.shardCount = n }
}

// WithoutProgress disables the resume record. Re-runs then reprocess
// every feature and re-trim every partition from scratch.
func WithoutProgress() Option {
	return func(c *Converter) { c.noProgress = true }
}

// New creates a Converter for the dataset rooted at root.
func New(eng engine.Engine, root string, opts ...Option) (*Converter, error) {
	if eng == nil {
		return nil, fmt.Errorf("convert: nil engine")
	}
	c := &Converter{
		eng:   eng,
		root:  root,
		fsys:  fs.Default,
		log:   slog.Default(),
		codec: tensorfile.CodecNone,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.shardCount < 0 {
		return nil, fmt.Errorf("convert: shard count %d", c.shardCount)
	}
	return c, nil
}

// Convert reshards the requested features of one container file.
// features maps entity type to the feature names to convert, e.g.
// {"paper": ["feat", "year"]}. Types are processed in sorted order and
// features in the given order, so output is deterministic.
func (c *Converter) Convert(ctx context.Context, fileName string, features map[string][]string) error {
	if len(features) == 0 {
		return nil
	}
	if c.lowMemory {
		return c.convertLowMemory(ctx, fileName, features)
	}
	return c.convertHighMemory(ctx, fileName, features)
}

// sortedTypes returns the entity types in deterministic order.
func sortedTypes(features map[string][]string) []string {
	types := make([]string, 0, len(features))
	for t := range features {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// sortedKeys returns a container's keys in deterministic order for
// error reporting.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
