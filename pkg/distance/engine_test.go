package distance

import (
	"math"
	"math/rand"
	"testing"
)

func randVector(rng *rand.Rand, d int) []float32 {
	v := make([]float32, d)
	for i := range v {
		v[i] = rng.Float32()*2 - 1
	}
	return v
}

// TestBatchMatchesScalar is the property test required by spec §8 item 1:
// every SIMD variant must agree with the scalar reference within
// ε = 1e-5 * d for cosine/euclidean, bit-exact for Hamming/Jaccard.
func TestBatchMatchesScalar(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	dims := []int{8, 16, 128}

	for _, d := range dims {
		eps := float32(1e-5 * float64(d))
		q := randVector(rng, d)
		rows := 12
		m := make([]float32, rows*d)
		for i := range m {
			m[i] = rng.Float32()*2 - 1
		}

		t.Run("cosine", func(t *testing.T) {
			out := make([]float32, rows)
			wideCosineBatch(q, m, out)
			for i := 0; i < rows; i++ {
				want := scalarCosine(q, m[i*d:(i+1)*d])
				if diff := float32(math.Abs(float64(out[i] - want))); diff > eps {
					t.Fatalf("row %d: wide=%v scalar=%v diff=%v > eps=%v", i, out[i], want, diff, eps)
				}
			}
		})

		t.Run("euclidean", func(t *testing.T) {
			out := make([]float32, rows)
			wideEuclideanBatch(q, m, out)
			for i := 0; i < rows; i++ {
				want := scalarEuclidean(q, m[i*d:(i+1)*d])
				if diff := float32(math.Abs(float64(out[i] - want))); diff > eps {
					t.Fatalf("row %d: wide=%v scalar=%v diff=%v > eps=%v", i, out[i], want, diff, eps)
				}
			}
		})

		t.Run("dot", func(t *testing.T) {
			out := make([]float32, rows)
			wideDotBatch(q, m, out)
			for i := 0; i < rows; i++ {
				want := scalarDot(q, m[i*d:(i+1)*d])
				if diff := float32(math.Abs(float64(out[i] - want))); diff > eps {
					t.Fatalf("row %d: wide=%v scalar=%v diff=%v > eps=%v", i, out[i], want, diff, eps)
				}
			}
		})
	}
}

func TestHammingJaccardBitExact(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	a := make([]byte, 16)
	b := make([]byte, 16)
	rng.Read(a)
	rng.Read(b)

	d1 := HammingPacked(a, b)
	d2 := HammingPacked(a, b)
	if d1 != d2 {
		t.Fatalf("hamming not deterministic: %d vs %d", d1, d2)
	}

	j1 := JaccardPacked(a, b)
	j2 := JaccardPacked(a, b)
	if j1 != j2 {
		t.Fatalf("jaccard not deterministic: %v vs %v", j1, j2)
	}

	if HammingPacked(a, a) != 0 {
		t.Fatalf("hamming(a,a) should be 0")
	}
	if JaccardPacked(a, a) != 0 {
		t.Fatalf("jaccard(a,a) should be 0")
	}
}

func TestMetricOrientation(t *testing.T) {
	cases := []struct {
		m    Metric
		want bool
	}{
		{Cosine, true},
		{Dot, true},
		{Euclidean, false},
		{Hamming, false},
		{Jaccard, false},
	}
	for _, c := range cases {
		if got := c.m.HigherIsBetter(); got != c.want {
			t.Errorf("%v.HigherIsBetter() = %v, want %v", c.m, got, c.want)
		}
	}
}

func TestEngineDeterministicISA(t *testing.T) {
	e1 := NewEngine()
	e2 := NewEngine()
	if e1.ISA() != e2.ISA() {
		t.Fatalf("ISA detection not memoized consistently: %v vs %v", e1.ISA(), e2.ISA())
	}
}

func TestParseMetric(t *testing.T) {
	for _, name := range []string{"cosine", "euclidean", "dot", "hamming", "jaccard"} {
		if _, ok := ParseMetric(name); !ok {
			t.Errorf("ParseMetric(%q) should succeed", name)
		}
	}
	if _, ok := ParseMetric("bogus"); ok {
		t.Errorf("ParseMetric(bogus) should fail")
	}
}
