package tensorfile

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/hupe1980/wholestore/internal/fs"
	"github.com/hupe1980/wholestore/tensor"
)

// fileHeader is the fixed 12-byte prologue of every container.
type fileHeader struct {
	Magic      uint32
	Version    uint16
	Codec      uint8
	Reserved   uint8
	EntryCount uint32
}

// Write writes the named tensors to path through fsys. Entries are
// written in sorted key order so identical inputs always produce
// identical bytes, which the conversion equivalence tests rely on.
func Write(fsys fs.FileSystem, path string, tensors map[string]*tensor.Dense, codec Codec) error {
	if codec != CodecNone && codec != CodecLZ4 && codec != CodecZSTD {
		return fmt.Errorf("%w: %d", ErrInvalidCodec, codec)
	}

	keys := make([]string, 0, len(tensors))
	for k := range tensors {
		if len(k) == 0 || len(k) > maxKeyLen {
			return fmt.Errorf("%w: key length %d", ErrCorrupt, len(k))
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	f, err := fsys.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)

	hdr := fileHeader{
		Magic:      Magic,
		Version:    Version,
		Codec:      uint8(codec),
		EntryCount: uint32(len(keys)),
	}
	if err := binary.Write(w, binary.LittleEndian, hdr); err != nil {
		f.Close()
		return err
	}

	for _, key := range keys {
		if err := writeEntry(w, key, tensors[key], codec); err != nil {
			f.Close()
			return fmt.Errorf("write entry %q: %w", key, err)
		}
	}

	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeEntry(w io.Writer, key string, t *tensor.Dense, codec Codec) error {
	if err := binary.Write(w, binary.LittleEndian, uint16(len(key))); err != nil {
		return err
	}
	if _, err := io.WriteString(w, key); err != nil {
		return err
	}
	shape := t.Shape()
	meta := []byte{uint8(t.DType()), uint8(len(shape))}
	if _, err := w.Write(meta); err != nil {
		return err
	}
	for _, dim := range shape {
		if err := binary.Write(w, binary.LittleEndian, uint64(dim)); err != nil {
			return err
		}
	}

	payload, compressed, err := compressBlock(t.Bytes(), codec)
	if err != nil {
		return err
	}
	raw := t.Bytes()
	var bh [blockHeaderSize]byte
	binary.LittleEndian.PutUint32(bh[0:4], uint32(len(raw)))
	if compressed {
		binary.LittleEndian.PutUint32(bh[4:8], uint32(len(payload)))
	}
	if _, err := w.Write(bh[:]); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

// Read loads all named tensors from path through fsys.
func Read(fsys fs.FileSystem, path string) (map[string]*tensor.Dense, error) {
	f, err := fsys.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := bufio.NewReader(f)

	var hdr fileHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if hdr.Magic != Magic {
		return nil, fmt.Errorf("%w: got 0x%08x", ErrInvalidMagic, hdr.Magic)
	}
	if hdr.Version != Version {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidVersion, hdr.Version)
	}
	codec := Codec(hdr.Codec)

	tensors := make(map[string]*tensor.Dense, hdr.EntryCount)
	for i := uint32(0); i < hdr.EntryCount; i++ {
		key, t, err := readEntry(r, codec)
		if err != nil {
			return nil, fmt.Errorf("read entry %d: %w", i, err)
		}
		if _, dup := tensors[key]; dup {
			return nil, fmt.Errorf("%w: duplicate key %q", ErrCorrupt, key)
		}
		tensors[key] = t
	}
	return tensors, nil
}

func readEntry(r io.Reader, codec Codec) (string, *tensor.Dense, error) {
	var keyLen uint16
	if err := binary.Read(r, binary.LittleEndian, &keyLen); err != nil {
		return "", nil, err
	}
	if keyLen == 0 || int(keyLen) > maxKeyLen {
		return "", nil, fmt.Errorf("%w: key length %d", ErrCorrupt, keyLen)
	}
	keyBuf := make([]byte, keyLen)
	if _, err := io.ReadFull(r, keyBuf); err != nil {
		return "", nil, err
	}

	var meta [2]byte
	if _, err := io.ReadFull(r, meta[:]); err != nil {
		return "", nil, err
	}
	dtype := tensor.DType(meta[0])
	if !dtype.Valid() {
		return "", nil, fmt.Errorf("%w: dtype %d", ErrCorrupt, meta[0])
	}
	ndims := int(meta[1])
	shape := make([]int, ndims)
	numEl := 1
	for d := 0; d < ndims; d++ {
		var dim uint64
		if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
			return "", nil, err
		}
		shape[d] = int(dim)
		numEl *= int(dim)
	}

	var bh [blockHeaderSize]byte
	if _, err := io.ReadFull(r, bh[:]); err != nil {
		return "", nil, err
	}
	uncompressedSize := int(binary.LittleEndian.Uint32(bh[0:4]))
	compressedSize := int(binary.LittleEndian.Uint32(bh[4:8]))
	if uncompressedSize != numEl*dtype.Size() {
		return "", nil, fmt.Errorf("%w: payload %d bytes for shape %v (%s)",
			ErrCorrupt, uncompressedSize, shape, dtype)
	}

	var data []byte
	if compressedSize == 0 {
		data = make([]byte, uncompressedSize)
		if _, err := io.ReadFull(r, data); err != nil {
			return "", nil, err
		}
	} else {
		payload := make([]byte, compressedSize)
		if _, err := io.ReadFull(r, payload); err != nil {
			return "", nil, err
		}
		var err error
		data, err = decompressBlock(payload, codec, uncompressedSize)
		if err != nil {
			return "", nil, err
		}
	}

	t, err := tensor.FromBytes(dtype, shape, data)
	if err != nil {
		return "", nil, err
	}
	return string(keyBuf), t, nil
}
