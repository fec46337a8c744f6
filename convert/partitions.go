package convert

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/hupe1980/wholestore/internal/fs"
)

var partDirPattern = regexp.MustCompile(`^part([0-9]+)$`)

// Partition is one on-disk source partition of the dataset.
type Partition struct {
	// Index is the numeric suffix of the directory name.
	Index int
	// Dir is the absolute partition directory.
	Dir string
}

// Partitions lists the partN directories under root in numeric order.
// The sort key is the parsed integer: a lexicographic sort would place
// part10 before part2 and silently scramble row order.
func Partitions(fsys fs.FileSystem, root string) ([]Partition, error) {
	entries, err := fsys.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}

	var parts []Partition
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		m := partDirPattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		idx, err := strconv.Atoi(m[1])
		if err != nil {
			return nil, fmt.Errorf("partition suffix %q: %w", e.Name(), err)
		}
		parts = append(parts, Partition{Index: idx, Dir: filepath.Join(root, e.Name())})
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w under %s", ErrNoPartitions, root)
	}

	sort.Slice(parts, func(i, j int) bool { return parts[i].Index < parts[j].Index })
	return parts, nil
}
