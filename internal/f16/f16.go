// Package f16 converts between IEEE-754 binary16 bit-patterns and
// float32. Feature tensors can be stored as float16 to halve shard
// size; all arithmetic stays in float32, so only the two scalar
// conversions are needed.
package f16

import "math"

// Bits is a raw binary16 bit-pattern: 1 sign bit, 5 exponent bits
// (bias 15), 10 fraction bits.
type Bits uint16

const (
	signMask Bits = 0x8000
	expMask  Bits = 0x7C00
	fracMask Bits = 0x03FF

	f32ExpMask  uint32 = 0x7F800000
	f32FracMask uint32 = 0x007FFFFF
)

// ToFloat32 widens a binary16 bit-pattern to float32. The conversion is
// exact: every binary16 value, subnormals and NaN payloads included, is
// representable in binary32.
func ToFloat32(h Bits) float32 {
	sign := uint32(h&signMask) << 16
	exp := uint32(h&expMask) >> 10
	frac := uint32(h & fracMask)

	switch exp {
	case 0:
		if frac == 0 {
			return math.Float32frombits(sign)
		}
		// A binary16 subnormal (exponent -14, no implicit leading 1)
		// always normalizes to a binary32 normal.
		e := int32(-14)
		m := frac
		for m&0x0400 == 0 {
			m <<= 1
			e--
		}
		m &= uint32(fracMask) // the leading 1 becomes implicit again
		return math.Float32frombits(sign | uint32(127+e)<<23 | m<<13)
	case 0x1F:
		if frac == 0 {
			return math.Float32frombits(sign | f32ExpMask)
		}
		return math.Float32frombits(sign | f32ExpMask | frac<<13)
	default:
		return math.Float32frombits(sign | uint32(int32(exp)-15+127)<<23 | frac<<13)
	}
}

// FromFloat32 narrows a float32 to a binary16 bit-pattern, rounding to
// nearest with ties to even. Values beyond the binary16 range become
// infinity; values below the smallest subnormal become signed zero.
func FromFloat32(f float32) Bits {
	bits := math.Float32bits(f)
	sign := Bits(bits>>16) & signMask
	exp := int32((bits & f32ExpMask) >> 23)
	frac := bits & f32FracMask

	if exp == 0xFF {
		if frac == 0 {
			return sign | expMask
		}
		// Keep the top payload bits but force a quiet, non-zero NaN.
		payload := Bits(frac>>13) | 0x0200
		return sign | expMask | payload&fracMask
	}

	// Binary32 zeros and subnormals are below the binary16 subnormal
	// range and collapse to signed zero.
	if exp == 0 {
		return sign
	}

	e16 := exp - 127 + 15
	if e16 >= 0x1F {
		return sign | expMask
	}

	if e16 <= 0 {
		if e16 < -10 {
			return sign
		}
		// Denormalize: shift the significand (with its leading 1 made
		// explicit) into the 10-bit fraction, rounding the remainder.
		mant := frac | 0x00800000
		shift := uint32(1-e16) + 13
		m := mant >> shift
		rem := mant & (1<<shift - 1)
		half := uint32(1) << (shift - 1)
		if rem > half || (rem == half && m&1 == 1) {
			m++
		}
		return sign | Bits(m)
	}

	m := frac >> 13
	rem := frac & 0x1FFF
	if rem > 0x1000 || (rem == 0x1000 && m&1 == 1) {
		m++
		if m == 0x0400 {
			// The rounded fraction carried into the exponent.
			m = 0
			e16++
			if e16 >= 0x1F {
				return sign | expMask
			}
		}
	}
	return sign | Bits(uint32(e16)<<10) | Bits(m)
}
