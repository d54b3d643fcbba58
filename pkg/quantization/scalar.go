// Package quantization implements the scalar (SQ8) quantizer used by the
// HNSW index's dual-precision search path (spec §3, §4.2).
//
// Grounded on the teacher's pkg/quantization/scalar_quantization.go
// (per-dimension min/max training, Encode/Decode pair) but reshaped from a
// variable-NBits bit-packed encoding to a fixed one-byte-per-dimension int8
// encoding, matching spec's "per-dimension min/max quantizer" and the
// dual-precision int8-traversal / f32-rerank contract, which needs
// byte-addressable per-dimension access rather than bit-packed fields.
package quantization

import (
	"errors"
	"fmt"
)

// ErrNotTrained is returned by Encode/Decode before Train has run.
var ErrNotTrained = errors.New("quantization: quantizer not trained")

// Quantizer compresses and reconstructs fixed-dimension float32 vectors.
type Quantizer interface {
	Encode(vec []float32) ([]byte, error)
	Decode(encoded []byte) ([]float32, error)
	Dimension() int
}

// ScalarQuantizer maps each float32 dimension to a single int8 via a
// per-dimension linear scale/offset learned from training data (SQ8).
type ScalarQuantizer struct {
	dim     int
	min     []float32
	max     []float32
	scale   []float32 // (max-min)/255, filled by Train; Encode and Decode compute max-min directly and do not read it
	trained bool
}

// NewScalarQuantizer creates an untrained SQ8 quantizer for the given
// dimension.
func NewScalarQuantizer(dim int) (*ScalarQuantizer, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("quantization: dimension must be positive, got %d", dim)
	}
	return &ScalarQuantizer{
		dim: dim,
		min: make([]float32, dim),
		max: make([]float32, dim),
	}, nil
}

// Dimension returns the vector dimension this quantizer was built for.
func (sq *ScalarQuantizer) Dimension() int { return sq.dim }

// Train learns per-dimension [min, max] ranges from a sample of vectors.
// Per spec §4.3, training is expected to run on up to a representative
// sample, not the full set; it is reached through hnsw.Index.TrainQuantizer,
// and the Collection does not call it.
func (sq *ScalarQuantizer) Train(vectors [][]float32) error {
	if len(vectors) == 0 {
		return errors.New("quantization: no training vectors provided")
	}

	for d := 0; d < sq.dim; d++ {
		sq.min[d] = vectors[0][d]
		sq.max[d] = vectors[0][d]
	}

	for _, vec := range vectors {
		if len(vec) != sq.dim {
			return fmt.Errorf("quantization: vector dimension %d != quantizer dimension %d", len(vec), sq.dim)
		}
		for d := 0; d < sq.dim; d++ {
			if vec[d] < sq.min[d] {
				sq.min[d] = vec[d]
			}
			if vec[d] > sq.max[d] {
				sq.max[d] = vec[d]
			}
		}
	}

	sq.scale = make([]float32, sq.dim)
	for d := 0; d < sq.dim; d++ {
		if sq.max[d] == sq.min[d] {
			sq.max[d] += 1e-6
		}
		sq.scale[d] = (sq.max[d] - sq.min[d]) / 255.0
	}

	sq.trained = true
	return nil
}

// Encode quantizes a vector to a one-byte-per-dimension int8 (stored as
// uint8 0..255) representation.
func (sq *ScalarQuantizer) Encode(vector []float32) ([]byte, error) {
	if !sq.trained {
		return nil, ErrNotTrained
	}
	if len(vector) != sq.dim {
		return nil, fmt.Errorf("quantization: vector dimension %d != quantizer dimension %d", len(vector), sq.dim)
	}

	encoded := make([]byte, sq.dim)
	for d := 0; d < sq.dim; d++ {
		normalized := (vector[d] - sq.min[d]) / (sq.max[d] - sq.min[d])
		if normalized < 0 {
			normalized = 0
		} else if normalized > 1 {
			normalized = 1
		}
		encoded[d] = byte(normalized*255.0 + 0.5)
	}
	return encoded, nil
}

// Decode reconstructs an approximate float32 vector from its SQ8 encoding.
func (sq *ScalarQuantizer) Decode(encoded []byte) ([]float32, error) {
	if !sq.trained {
		return nil, ErrNotTrained
	}
	if len(encoded) != sq.dim {
		return nil, fmt.Errorf("quantization: encoded length %d != quantizer dimension %d", len(encoded), sq.dim)
	}

	vector := make([]float32, sq.dim)
	for d := 0; d < sq.dim; d++ {
		vector[d] = float32(encoded[d])/255.0*(sq.max[d]-sq.min[d]) + sq.min[d]
	}
	return vector, nil
}

// CompressionRatio reports the memory savings over a raw float32 vector
// (always 4x for SQ8: 4 bytes -> 1 byte per dimension).
func (sq *ScalarQuantizer) CompressionRatio() float32 {
	return 4.0
}

// DualPrecisionVector holds both copies needed by spec §4.2's dual-precision
// traversal: an int8 copy for the layer-0 beam search and the original f32
// copy for reranking the survivors.
type DualPrecisionVector struct {
	Quantized []byte
	Full      []float32
}

// EncodeDual produces both copies for a vector in one call.
func (sq *ScalarQuantizer) EncodeDual(vector []float32) (DualPrecisionVector, error) {
	q, err := sq.Encode(vector)
	if err != nil {
		return DualPrecisionVector{}, err
	}
	full := make([]float32, len(vector))
	copy(full, vector)
	return DualPrecisionVector{Quantized: q, Full: full}, nil
}
