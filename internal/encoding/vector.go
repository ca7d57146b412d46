// Package encoding converts embedding vectors and chunk metadata between
// their Go representations and the forms persisted in SQLite.
package encoding

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// ErrInvalidVector is returned when vector data cannot be encoded or decoded.
var ErrInvalidVector = errors.New("invalid vector data")

// EncodeVector serializes a float32 vector as consecutive little-endian
// words. The dimension is not stored; the store validates it against the
// configured dimension on every write, so the BLOB length is always dim*4.
func EncodeVector(vector []float32) ([]byte, error) {
	if len(vector) == 0 {
		return nil, ErrInvalidVector
	}
	buf := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf, nil
}

// DecodeVector deserializes a BLOB produced by EncodeVector. The round trip
// is bit-exact, including NaN payloads.
func DecodeVector(data []byte) ([]float32, error) {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil, ErrInvalidVector
	}
	vector := make([]float32, len(data)/4)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vector, nil
}

// ValidateVector rejects empty vectors and vectors containing NaN or Inf
// components. NaN and Inf break cosine ordering, so they are hard write-time
// errors rather than stored values.
func ValidateVector(vector []float32) error {
	if len(vector) == 0 {
		return ErrInvalidVector
	}
	for i, v := range vector {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: non-finite component at index %d", ErrInvalidVector, i)
		}
	}
	return nil
}

// EncodeMetadata serializes free-form metadata to a JSON string. Nil maps
// encode to the empty string so the column stays NULL-ish and cheap.
func EncodeMetadata(metadata map[string]any) (string, error) {
	if metadata == nil {
		return "", nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(data), nil
}

// DecodeMetadata deserializes a JSON metadata string. Empty input yields a
// nil map.
func DecodeMetadata(raw string) (map[string]any, error) {
	if raw == "" || raw == "null" {
		return nil, nil
	}
	var metadata map[string]any
	if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return metadata, nil
}
