package quantization

import (
	"math/rand"
	"testing"
)

func trainingSet(rng *rand.Rand, n, d int) [][]float32 {
	vecs := make([][]float32, n)
	for i := range vecs {
		v := make([]float32, d)
		for j := range v {
			v[j] = rng.Float32()*20 - 10
		}
		vecs[i] = v
	}
	return vecs
}

func TestScalarQuantizerRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	const dim = 32
	sq, err := NewScalarQuantizer(dim)
	if err != nil {
		t.Fatalf("NewScalarQuantizer: %v", err)
	}

	vecs := trainingSet(rng, 200, dim)
	if err := sq.Train(vecs); err != nil {
		t.Fatalf("Train: %v", err)
	}

	for _, v := range vecs[:10] {
		encoded, err := sq.Encode(v)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		if len(encoded) != dim {
			t.Fatalf("encoded length = %d, want %d", len(encoded), dim)
		}
		decoded, err := sq.Decode(encoded)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		for i := range v {
			diff := float64(v[i] - decoded[i])
			if diff < 0 {
				diff = -diff
			}
			// SQ8 has a quantization step of (max-min)/255 per dimension;
			// for a [-10,10] range that's about 0.078.
			if diff > 0.2 {
				t.Errorf("dim %d: original=%v decoded=%v diff=%v exceeds SQ8 step tolerance", i, v[i], decoded[i], diff)
			}
		}
	}
}

func TestScalarQuantizerBeforeTrain(t *testing.T) {
	sq, _ := NewScalarQuantizer(4)
	if _, err := sq.Encode([]float32{1, 2, 3, 4}); err != ErrNotTrained {
		t.Fatalf("expected ErrNotTrained, got %v", err)
	}
}

func TestScalarQuantizerDimensionMismatch(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	sq, _ := NewScalarQuantizer(4)
	if err := sq.Train(trainingSet(rng, 10, 4)); err != nil {
		t.Fatalf("Train: %v", err)
	}
	if _, err := sq.Encode([]float32{1, 2, 3}); err == nil {
		t.Fatalf("expected dimension mismatch error")
	}
}

func TestDualPrecisionVector(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	const dim = 16
	sq, _ := NewScalarQuantizer(dim)
	vecs := trainingSet(rng, 50, dim)
	if err := sq.Train(vecs); err != nil {
		t.Fatalf("Train: %v", err)
	}

	dual, err := sq.EncodeDual(vecs[0])
	if err != nil {
		t.Fatalf("EncodeDual: %v", err)
	}
	if len(dual.Quantized) != dim || len(dual.Full) != dim {
		t.Fatalf("unexpected dual precision lengths: %d/%d", len(dual.Quantized), len(dual.Full))
	}
	for i := range vecs[0] {
		if dual.Full[i] != vecs[0][i] {
			t.Fatalf("full copy diverged at %d", i)
		}
	}
}

func TestCompressionRatio(t *testing.T) {
	sq, _ := NewScalarQuantizer(8)
	if r := sq.CompressionRatio(); r != 4.0 {
		t.Fatalf("CompressionRatio() = %v, want 4.0", r)
	}
}
