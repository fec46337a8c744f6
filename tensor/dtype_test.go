package tensor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDTypeRoundTrip(t *testing.T) {
	for _, d := range []DType{Float32, Float16, Float64, Int32, Int64, Uint8} {
		parsed, err := ParseDType(d.String())
		require.NoError(t, err, d.String())
		require.Equal(t, d, parsed)
		require.True(t, d.Valid())
		require.Greater(t, d.Size(), 0)
	}
}

func TestDTypeSizes(t *testing.T) {
	require.Equal(t, 4, Float32.Size())
	require.Equal(t, 2, Float16.Size())
	require.Equal(t, 8, Float64.Size())
	require.Equal(t, 4, Int32.Size())
	require.Equal(t, 8, Int64.Size())
	require.Equal(t, 1, Uint8.Size())
}

func TestParseDTypeUnknown(t *testing.T) {
	_, err := ParseDType("complex64")
	require.ErrorIs(t, err, ErrUnknownDType)

	require.False(t, DType(42).Valid())
}

func TestIsFloat(t *testing.T) {
	require.True(t, Float32.IsFloat())
	require.True(t, Float16.IsFloat())
	require.True(t, Float64.IsFloat())
	require.False(t, Int32.IsFloat())
	require.False(t, Int64.IsFloat())
	require.False(t, Uint8.IsFloat())
}
