package tensor

import "fmt"

// DType identifies the element type of a tensor.
//
// The string form is what gets persisted in shard metadata, so renaming a
// value is a breaking on-disk change.
type DType uint8

const (
	// Float32 is IEEE-754 binary32, the default feature dtype.
	Float32 DType = iota
	// Float16 is IEEE-754 binary16, stored packed and widened to float32
	// for arithmetic.
	Float16
	// Float64 is IEEE-754 binary64.
	Float64
	// Int32 is a 32-bit signed integer.
	Int32
	// Int64 is a 64-bit signed integer, the index dtype.
	Int64
	// Uint8 is an 8-bit unsigned integer (e.g. quantized features).
	Uint8
)

// Size returns the byte size of one element.
func (d DType) Size() int {
	switch d {
	case Float32, Int32:
		return 4
	case Float16:
		return 2
	case Float64, Int64:
		return 8
	case Uint8:
		return 1
	default:
		return 0
	}
}

// String returns the canonical name of the dtype.
func (d DType) String() string {
	switch d {
	case Float32:
		return "float32"
	case Float16:
		return "float16"
	case Float64:
		return "float64"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Uint8:
		return "uint8"
	default:
		return fmt.Sprintf("dtype(%d)", uint8(d))
	}
}

// Valid reports whether d is a known dtype.
func (d DType) Valid() bool {
	return d.Size() > 0
}

// IsFloat reports whether d is a floating-point dtype.
func (d DType) IsFloat() bool {
	return d == Float32 || d == Float16 || d == Float64
}

// ParseDType parses the canonical name produced by String.
func ParseDType(s string) (DType, error) {
	switch s {
	case "float32":
		return Float32, nil
	case "float16":
		return Float16, nil
	case "float64":
		return Float64, nil
	case "int32":
		return Int32, nil
	case "int64":
		return Int64, nil
	case "uint8":
		return Uint8, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownDType, s)
	}
}
