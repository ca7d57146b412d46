package encoding

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		vector []float32
	}{
		{"unit vector", []float32{1, 0, 0}},
		{"negative components", []float32{-0.5, 0.25, -1.75}},
		{"single element", []float32{42.5}},
		{"tiny magnitudes", []float32{1e-38, -1e-38, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blob, err := EncodeVector(tt.vector)
			require.NoError(t, err)
			require.Len(t, blob, len(tt.vector)*4)

			decoded, err := DecodeVector(blob)
			require.NoError(t, err)
			assert.Equal(t, tt.vector, decoded)

			// Bit-identical, not merely approximately equal.
			for i := range tt.vector {
				assert.Equal(t, math.Float32bits(tt.vector[i]), math.Float32bits(decoded[i]))
			}
		})
	}
}

func TestEncodeVectorEmpty(t *testing.T) {
	_, err := EncodeVector(nil)
	assert.ErrorIs(t, err, ErrInvalidVector)

	_, err = EncodeVector([]float32{})
	assert.ErrorIs(t, err, ErrInvalidVector)
}

func TestDecodeVectorInvalid(t *testing.T) {
	_, err := DecodeVector(nil)
	assert.ErrorIs(t, err, ErrInvalidVector)

	// Length not a multiple of 4 cannot hold float32 words.
	_, err = DecodeVector([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrInvalidVector)
}

func TestValidateVector(t *testing.T) {
	assert.NoError(t, ValidateVector([]float32{0.1, 0.2}))
	assert.ErrorIs(t, ValidateVector(nil), ErrInvalidVector)
	assert.ErrorIs(t, ValidateVector([]float32{float32(math.NaN())}), ErrInvalidVector)
	assert.ErrorIs(t, ValidateVector([]float32{float32(math.Inf(1))}), ErrInvalidVector)
}

func TestMetadataRoundTrip(t *testing.T) {
	meta := map[string]any{
		"tag":    "release",
		"page":   float64(7),
		"draft":  false,
		"labels": []any{"a", "b"},
	}

	raw, err := EncodeMetadata(meta)
	require.NoError(t, err)

	decoded, err := DecodeMetadata(raw)
	require.NoError(t, err)
	assert.Equal(t, meta, decoded)
}

func TestMetadataNil(t *testing.T) {
	raw, err := EncodeMetadata(nil)
	require.NoError(t, err)
	assert.Empty(t, raw)

	decoded, err := DecodeMetadata("")
	require.NoError(t, err)
	assert.Nil(t, decoded)

	decoded, err = DecodeMetadata("null")
	require.NoError(t, err)
	assert.Nil(t, decoded)
}
