package convert

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/wholestore/internal/fs"
)

// progress is the resume record for one container file's conversion. It
// tracks which features have their shards fully on disk and which
// partitions have been trimmed, so a re-run after a crash skips
// completed work instead of redoing every pass.
//
// Trimmed partitions are a roaring bitmap over 0-indexed partition ids.
type progress struct {
	fsys fs.FileSystem
	path string

	converted map[string]bool
	trimmed   *roaring.Bitmap

	// disabled makes every mark a no-op and every query false, which is
	// what WithoutProgress selects.
	disabled bool
}

type progressRecord struct {
	Converted []string `json:"converted"`
	Trimmed   string   `json:"trimmed"` // base64 roaring bitmap
}

func noProgress() *progress {
	return &progress{disabled: true, converted: map[string]bool{}, trimmed: roaring.New()}
}

// loadProgress reads the resume record for fileName, or starts empty.
func loadProgress(fsys fs.FileSystem, shardDir, fileName string) (*progress, error) {
	p := &progress{
		fsys:      fsys,
		path:      filepath.Join(shardDir, "."+fileName+".progress"),
		converted: map[string]bool{},
		trimmed:   roaring.New(),
	}

	data, err := fs.ReadFile(fsys, p.path)
	if os.IsNotExist(err) {
		return p, nil
	}
	if err != nil {
		return nil, err
	}

	var rec progressRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse %s: %w", p.path, err)
	}
	for _, key := range rec.Converted {
		p.converted[key] = true
	}
	if rec.Trimmed != "" {
		if _, err := p.trimmed.FromBase64(rec.Trimmed); err != nil {
			return nil, fmt.Errorf("parse %s: %w", p.path, err)
		}
	}
	return p, nil
}

func (p *progress) featureDone(key string) bool {
	return !p.disabled && p.converted[key]
}

func (p *progress) partitionTrimmed(idx int) bool {
	return !p.disabled && p.trimmed.Contains(uint32(idx))
}

func (p *progress) markFeature(key string) error {
	if p.disabled {
		return nil
	}
	p.converted[key] = true
	return p.save()
}

func (p *progress) markTrimmed(idx int) error {
	if p.disabled {
		return nil
	}
	p.trimmed.Add(uint32(idx))
	return p.save()
}

func (p *progress) save() error {
	keys := make([]string, 0, len(p.converted))
	for k := range p.converted {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b64, err := p.trimmed.ToBase64()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(progressRecord{Converted: keys, Trimmed: b64}, "", "  ")
	if err != nil {
		return err
	}
	return fs.WriteFileAtomic(p.fsys, p.path, data, 0o644)
}

// clear removes the resume record after a fully successful conversion.
func (p *progress) clear() error {
	if p.disabled {
		return nil
	}
	if err := p.fsys.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
