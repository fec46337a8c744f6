// Package tensorfile reads and writes the partition feature-file
// container: a flat file holding named tensors, one per feature key.
//
// This is the on-disk format of the per-partition node/edge feature files
// that conversion consumes and the trimmer rewrites. Payloads may be
// block-compressed; the codec is recorded in the header, so readers never
// need out-of-band configuration.
package tensorfile

import (
	"errors"
	"fmt"
)

// Magic identifies tensorfile containers (ASCII "WSTF").
const Magic = 0x57535446

// Version is the current container format version.
const Version = 1

// Codec selects the payload compression algorithm.
type Codec uint8

const (
	// CodecNone stores payloads raw.
	CodecNone Codec = 0
	// CodecLZ4 uses LZ4 block compression (fast, light ratio).
	CodecLZ4 Codec = 1
	// CodecZSTD uses zstd block compression (better ratio).
	CodecZSTD Codec = 2
)

// String returns the codec name.
func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecLZ4:
		return "lz4"
	case CodecZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("codec(%d)", uint8(c))
	}
}

var (
	// ErrInvalidMagic is returned when a file is not a tensorfile container.
	ErrInvalidMagic = errors.New("invalid tensorfile magic")
	// ErrInvalidVersion is returned for unsupported container versions.
	ErrInvalidVersion = errors.New("unsupported tensorfile version")
	// ErrInvalidCodec is returned for unknown codec identifiers.
	ErrInvalidCodec = errors.New("unknown tensorfile codec")
	// ErrCorrupt is returned when structural invariants do not hold.
	ErrCorrupt = errors.New("corrupt tensorfile")
)

// blockHeader precedes every payload.
// CompressedSize == 0 means the block is stored uncompressed.
const blockHeaderSize = 8

const maxKeyLen = 1 << 12
