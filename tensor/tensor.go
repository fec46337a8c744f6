// Package tensor provides dense host tensors used as conversion
// intermediates and as the local view of distributed shards.
//
// A [Dense] is a row-major byte buffer plus shape and dtype. It is a value
// container, not a math library: the operations here (row slicing,
// concatenation, dtype conversion) are exactly what feature resharding
// needs and nothing more.
package tensor

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"unsafe"

	"github.com/hupe1980/wholestore/internal/f16"
)

var (
	// ErrUnknownDType is returned when parsing an unrecognized dtype name.
	ErrUnknownDType = errors.New("unknown dtype")

	// ErrShapeMismatch is returned when tensors disagree on width or dtype.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrUnalignedAccess is returned when a typed view would require
	// unaligned memory access.
	ErrUnalignedAccess = errors.New("unaligned memory access detected")
)

// Dense is a row-major host tensor.
//
// The zero value is not usable; construct with [New] or [FromBytes].
// Row-range views returned by [Dense.RowRange] alias the parent buffer.
type Dense struct {
	dtype DType
	shape []int
	data  []byte
}

// New allocates a zero-filled tensor with the given dtype and shape.
func New(dtype DType, shape ...int) *Dense {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return &Dense{
		dtype: dtype,
		shape: append([]int(nil), shape...),
		data:  make([]byte, n*dtype.Size()),
	}
}

// FromBytes wraps an existing row-major buffer without copying.
func FromBytes(dtype DType, shape []int, data []byte) (*Dense, error) {
	n := 1
	for _, s := range shape {
		if s < 0 {
			return nil, fmt.Errorf("%w: negative dimension %d", ErrShapeMismatch, s)
		}
		n *= s
	}
	if want := n * dtype.Size(); want != len(data) {
		return nil, fmt.Errorf("%w: shape %v (%s) needs %d bytes, got %d",
			ErrShapeMismatch, shape, dtype, want, len(data))
	}
	return &Dense{dtype: dtype, shape: append([]int(nil), shape...), data: data}, nil
}

// DType returns the element type.
func (t *Dense) DType() DType { return t.dtype }

// Shape returns a copy of the shape.
func (t *Dense) Shape() []int { return append([]int(nil), t.shape...) }

// Rows returns the size of the leading dimension, or 0 for a scalar.
func (t *Dense) Rows() int {
	if len(t.shape) == 0 {
		return 0
	}
	return t.shape[0]
}

// Width returns the number of elements per row. A 1-D tensor has width 1,
// matching the [n] -> [n, 1] promotion used for embedding tables.
func (t *Dense) Width() int {
	w := 1
	for _, s := range t.shape[1:] {
		w *= s
	}
	return w
}

// NumEl returns the total element count.
func (t *Dense) NumEl() int {
	n := 1
	for _, s := range t.shape {
		n *= s
	}
	return n
}

// RowBytes returns the byte size of one row.
func (t *Dense) RowBytes() int { return t.Width() * t.dtype.Size() }

// Bytes returns the underlying row-major buffer. The slice aliases the
// tensor; mutating it mutates the tensor.
func (t *Dense) Bytes() []byte { return t.data }

// RowRange returns a zero-copy view of rows [start, end).
func (t *Dense) RowRange(start, end int) (*Dense, error) {
	if start < 0 || end < start || end > t.Rows() {
		return nil, fmt.Errorf("%w: row range [%d, %d) out of [0, %d)",
			ErrShapeMismatch, start, end, t.Rows())
	}
	shape := append([]int{end - start}, t.shape[1:]...)
	rb := t.RowBytes()
	return &Dense{dtype: t.dtype, shape: shape, data: t.data[start*rb : end*rb]}, nil
}

// Clone returns a deep copy.
func (t *Dense) Clone() *Dense {
	return &Dense{
		dtype: t.dtype,
		shape: append([]int(nil), t.shape...),
		data:  append([]byte(nil), t.data...),
	}
}

// Equal reports whether two tensors agree on dtype, shape and contents.
func (t *Dense) Equal(o *Dense) bool {
	if t.dtype != o.dtype || len(t.shape) != len(o.shape) {
		return false
	}
	for i, s := range t.shape {
		if o.shape[i] != s {
			return false
		}
	}
	return bytes.Equal(t.data, o.data)
}

// Concat concatenates tensors along the row dimension, in order.
// All inputs must agree on dtype and trailing dimensions.
func Concat(ts ...*Dense) (*Dense, error) {
	if len(ts) == 0 {
		return nil, fmt.Errorf("%w: no tensors to concatenate", ErrShapeMismatch)
	}
	first := ts[0]
	rows := 0
	size := 0
	for _, t := range ts {
		if t.dtype != first.dtype || t.Width() != first.Width() {
			return nil, fmt.Errorf("%w: cannot concat %s%v with %s%v",
				ErrShapeMismatch, first.dtype, first.shape, t.dtype, t.shape)
		}
		rows += t.Rows()
		size += len(t.data)
	}
	data := make([]byte, 0, size)
	for _, t := range ts {
		data = append(data, t.data...)
	}
	shape := append([]int{rows}, first.shape[1:]...)
	return &Dense{dtype: first.dtype, shape: shape, data: data}, nil
}

// AppendRows grows t in place by the rows of src, which must agree on
// dtype and width. Used by the streaming (low-memory) conversion path.
func (t *Dense) AppendRows(src *Dense) error {
	if t.dtype != src.dtype || t.Width() != src.Width() {
		return fmt.Errorf("%w: cannot append %s%v to %s%v",
			ErrShapeMismatch, src.dtype, src.shape, t.dtype, t.shape)
	}
	t.data = append(t.data, src.data...)
	t.shape[0] += src.Rows()
	return nil
}

// Float32s returns the buffer as a []float32 without copying.
// Valid only for Float32 tensors.
func (t *Dense) Float32s() ([]float32, error) {
	if t.dtype != Float32 {
		return nil, fmt.Errorf("%w: Float32s on %s tensor", ErrShapeMismatch, t.dtype)
	}
	if len(t.data) == 0 {
		return nil, nil
	}
	if uintptr(unsafe.Pointer(&t.data[0]))%4 != 0 {
		return nil, ErrUnalignedAccess
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&t.data[0])), t.NumEl()), nil
}

// Int64s returns the buffer as an []int64 without copying.
// Valid only for Int64 tensors.
func (t *Dense) Int64s() ([]int64, error) {
	if t.dtype != Int64 {
		return nil, fmt.Errorf("%w: Int64s on %s tensor", ErrShapeMismatch, t.dtype)
	}
	if len(t.data) == 0 {
		return nil, nil
	}
	if uintptr(unsafe.Pointer(&t.data[0]))%8 != 0 {
		return nil, ErrUnalignedAccess
	}
	return unsafe.Slice((*int64)(unsafe.Pointer(&t.data[0])), t.NumEl()), nil
}

// Convert returns a copy of t with every element cast to dtype.
// Integer-to-integer casts go through int64; everything else goes through
// float64. Converting to the same dtype returns a clone.
func (t *Dense) Convert(dtype DType) (*Dense, error) {
	if !dtype.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDType, dtype)
	}
	if dtype == t.dtype {
		return t.Clone(), nil
	}
	out := New(dtype, t.shape...)
	n := t.NumEl()
	if !t.dtype.IsFloat() && !dtype.IsFloat() {
		for i := 0; i < n; i++ {
			out.setInt(i, t.intAt(i))
		}
		return out, nil
	}
	for i := 0; i < n; i++ {
		out.setFloat(i, t.floatAt(i))
	}
	return out, nil
}

func (t *Dense) floatAt(i int) float64 {
	es := t.dtype.Size()
	b := t.data[i*es:]
	switch t.dtype {
	case Float32:
		return float64(math.Float32frombits(le32(b)))
	case Float16:
		return float64(f16.ToFloat32(f16.Bits(le16(b))))
	case Float64:
		return math.Float64frombits(le64(b))
	default:
		return float64(t.intAt(i))
	}
}

func (t *Dense) intAt(i int) int64 {
	es := t.dtype.Size()
	b := t.data[i*es:]
	switch t.dtype {
	case Int32:
		return int64(int32(le32(b)))
	case Int64:
		return int64(le64(b))
	case Uint8:
		return int64(b[0])
	default:
		return int64(t.floatAt(i))
	}
}

func (t *Dense) setFloat(i int, v float64) {
	es := t.dtype.Size()
	b := t.data[i*es:]
	switch t.dtype {
	case Float32:
		put32(b, math.Float32bits(float32(v)))
	case Float16:
		put16(b, uint16(f16.FromFloat32(float32(v))))
	case Float64:
		put64(b, math.Float64bits(v))
	default:
		t.setInt(i, int64(v))
	}
}

func (t *Dense) setInt(i int, v int64) {
	es := t.dtype.Size()
	b := t.data[i*es:]
	switch t.dtype {
	case Int32:
		put32(b, uint32(int32(v)))
	case Int64:
		put64(b, uint64(v))
	case Uint8:
		b[0] = byte(v)
	default:
		t.setFloat(i, float64(v))
	}
}

func le16(b []byte) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }
func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
func le64(b []byte) uint64 {
	return uint64(le32(b)) | uint64(le32(b[4:]))<<32
}
func put16(b []byte, v uint16) { b[0] = byte(v); b[1] = byte(v >> 8) }
func put32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
func put64(b []byte, v uint64) { put32(b, uint32(v)); put32(b[4:], uint32(v>>32)) }
