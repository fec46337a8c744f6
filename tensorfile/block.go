package tensorfile

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// zstd encoder/decoder pools; construction is expensive relative to a
// single feature payload.
var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// compressBlock compresses data with the given codec. It returns the
// payload bytes and whether they are actually compressed: incompressible
// blocks are stored raw so decompression stays optional per block.
func compressBlock(data []byte, codec Codec) ([]byte, bool, error) {
	if codec == CodecNone || len(data) == 0 {
		return data, false, nil
	}
	switch codec {
	case CodecLZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, dst, nil)
		if err != nil {
			return nil, false, fmt.Errorf("lz4 compress: %w", err)
		}
		if n == 0 || n >= len(data) {
			return data, false, nil
		}
		return dst[:n], true, nil
	case CodecZSTD:
		enc := getZstdEncoder()
		dst := enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
		if len(dst) >= len(data) {
			return data, false, nil
		}
		return dst, true, nil
	default:
		return nil, false, fmt.Errorf("%w: %d", ErrInvalidCodec, codec)
	}
}

// decompressBlock reverses compressBlock into a buffer of exactly
// uncompressedSize bytes.
func decompressBlock(payload []byte, codec Codec, uncompressedSize int) ([]byte, error) {
	switch codec {
	case CodecLZ4:
		dst := make([]byte, uncompressedSize)
		n, err := lz4.UncompressBlock(payload, dst)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if n != uncompressedSize {
			return nil, fmt.Errorf("%w: lz4 block decoded %d bytes, want %d", ErrCorrupt, n, uncompressedSize)
		}
		return dst, nil
	case CodecZSTD:
		dec := getZstdDecoder()
		dst, err := dec.DecodeAll(payload, make([]byte, 0, uncompressedSize))
		zstdDecoderPool.Put(dec)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(dst) != uncompressedSize {
			return nil, fmt.Errorf("%w: zstd block decoded %d bytes, want %d", ErrCorrupt, len(dst), uncompressedSize)
		}
		return dst, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrInvalidCodec, codec)
	}
}
