package convert

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hupe1980/wholestore/internal/fs"
	"github.com/hupe1980/wholestore/tensor"
	"github.com/hupe1980/wholestore/tensorfile"
)

// trimPartition rewrites one partition's container with only the
// remaining (unconverted) features. The swap is atomic by convention:
//
//  1. write remaining features to new_<file>
//  2. rename <file> to <file>.bak
//  3. rename new_<file> to <file>
//
// The .bak file is never deleted; it is the manual rollback path. A
// crash between the two renames leaves the original missing with .bak
// and the temp present, which a re-run detects and completes instead of
// reporting an I/O error. Re-running after a successful trim is safe:
// the temp is rewritten and the swap replaces the older .bak.
func trimPartition(fsys fs.FileSystem, partDir, fileName string, remaining map[string]*tensor.Dense, codec tensorfile.Codec) error {
	orig := filepath.Join(partDir, fileName)
	tmp := filepath.Join(partDir, "new_"+fileName)
	bak := orig + ".bak"

	if err := tensorfile.Write(fsys, tmp, remaining, codec); err != nil {
		return fmt.Errorf("trim %s: %w", orig, err)
	}

	_, statErr := fsys.Stat(orig)
	switch {
	case statErr == nil:
		if err := fsys.Rename(orig, bak); err != nil {
			return fmt.Errorf("trim %s: %w", orig, err)
		}
	case os.IsNotExist(statErr):
		// Crash window from an earlier run: the original was already
		// moved aside. Require the .bak to actually exist before
		// completing the swap, so a missing original plus a missing
		// backup still surfaces as data loss.
		if _, bakErr := fsys.Stat(bak); bakErr != nil {
			return fmt.Errorf("trim %s: original and backup both missing: %w", orig, bakErr)
		}
	default:
		return fmt.Errorf("trim %s: %w", orig, statErr)
	}

	if err := fsys.Rename(tmp, orig); err != nil {
		return fmt.Errorf("trim %s: %w", orig, err)
	}
	return nil
}
