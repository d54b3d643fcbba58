package distance

import (
	"sync"

	"golang.org/x/sys/cpu"
)

// ISA identifies the instruction-set variant a kernel was compiled/selected
// for. The zero value is Scalar, the universal fallback.
type ISA int

const (
	Scalar ISA = iota
	SSE2
	AVX2
	AVX512
	NEON
)

func (i ISA) String() string {
	switch i {
	case SSE2:
		return "sse2"
	case AVX2:
		return "avx2"
	case AVX512:
		return "avx512"
	case NEON:
		return "neon"
	default:
		return "scalar"
	}
}

// isaOnce and isa are the only process-wide mutable state the distance
// package holds: the result of feature detection, computed once lazily. It is never
// mutated after the first DistanceEngine is constructed.
var (
	isaOnce sync.Once
	isa     ISA
)

func detectISA() ISA {
	isaOnce.Do(func() {
		isa = detectISAOnce()
	})
	return isa
}

// detectISAOnce runs the runtime CPU feature probe. The dispatch order is
// best available first: AVX-512 -> AVX2 -> SSE2 -> NEON -> scalar.
//
// Note: this module ships the dispatch *contract* and the scalar reference
// kernels; the AVX-512/AVX2/SSE2 tiers use the wide-word batch kernels in
// kernels_wide.go, while NEON and scalar use the scalar batch loop. The wide
// kernels are vectorizable pure Go loops rather than hand-written assembly or cgo intrinsics, matching the
// "no shader code, describe the dispatch contract" scope for GPU and the
// same spirit for CPU SIMD: VelesDB never hand-rolls asm, it lets the Go
// compiler's auto-vectorizer and wide-word loops do the work once the ISA
// tier is known, and falls back to the bit-exact scalar path whenever a
// tier can't be confirmed.
func detectISAOnce() ISA {
	switch {
	case cpu.X86.HasAVX512F && cpu.X86.HasAVX512DQ:
		return AVX512
	case cpu.X86.HasAVX2:
		return AVX2
	case cpu.X86.HasSSE2:
		return SSE2
	case cpu.ARM64.HasASIMD:
		return NEON
	default:
		return Scalar
	}
}

// DistanceEngine caches, per metric, the kernel function pointers selected
// for the running process's ISA. Hot callers (HNSW search) hold the engine
// by value/pointer and dispatch through the cached pointers: two indirect
// calls at most per distance computation, never a per-call ISA re-probe.
type DistanceEngine struct {
	isa ISA

	cosine    KernelFunc
	cosineSim KernelFunc
	euclidean KernelFunc
	dot       KernelFunc

	cosineBatch    BatchKernelFunc
	euclideanBatch BatchKernelFunc
	dotBatch       BatchKernelFunc
}

// NewEngine constructs a DistanceEngine for the running process's detected
// ISA. Construction is cheap after the first call (the probe is memoized).
func NewEngine() *DistanceEngine {
	tier := detectISA()
	e := &DistanceEngine{isa: tier}

	// The batch kernels are tier-aware (see kernels_wide.go); the per-pair
	// kernels are the same scalar reference at every tier because a single
	// pair comparison is already too small to benefit from wide registers
	// and the numeric contract (ε = 1e-5·d tolerance) must hold bit-for-bit
	// comparably across tiers regardless.
	e.cosine = scalarCosine
	e.cosineSim = scalarCosineSimilarity
	e.euclidean = scalarEuclidean
	e.dot = scalarDot

	e.cosineBatch = selectCosineBatch(tier)
	e.euclideanBatch = selectEuclideanBatch(tier)
	e.dotBatch = selectDotBatch(tier)

	return e
}

// ISA reports the instruction-set tier this engine dispatches to.
func (e *DistanceEngine) ISA() ISA { return e.isa }

// Distance computes the configured metric's value between a and b. For
// Hamming/Jaccard, a and b must be packed bitstrings reinterpreted as
// []byte via BytesOf; this method handles the float-vector metrics only.
func (e *DistanceEngine) Distance(m Metric, a, b []float32) float32 {
	switch m {
	case Cosine:
		return e.cosine(a, b)
	case Euclidean:
		return e.euclidean(a, b)
	case Dot:
		return -e.dot(a, b) // expose as a distance: smaller is better internally
	default:
		return scalarCosine(a, b)
	}
}

// Similarity computes the metric's natural "higher is better" score: cosine
// similarity, dot product, or the negated distance for Euclidean/Hamming/
// Jaccard (so ORDER BY similarity() DESC is always correct regardless of
// metric — see spec §4.1 "higher_is_better").
func (e *DistanceEngine) Similarity(m Metric, a, b []float32) float32 {
	switch m {
	case Cosine:
		return e.cosineSim(a, b)
	case Dot:
		return e.dot(a, b)
	case Euclidean:
		return -e.euclidean(a, b)
	case Hamming:
		return -float32(HammingPacked(BytesOf(a), BytesOf(b)))
	case Jaccard:
		return -JaccardPacked(BytesOf(a), BytesOf(b))
	default:
		return e.cosineSim(a, b)
	}
}

// OneVsMany computes the metric between q and every row of the flat matrix
// m (n vectors of len(q) each), writing n results into out. out must have
// capacity >= n.
func (e *DistanceEngine) OneVsMany(metric Metric, q []float32, m []float32, out []float32) {
	switch metric {
	case Cosine:
		e.cosineBatch(q, m, out)
	case Euclidean:
		e.euclideanBatch(q, m, out)
	case Dot:
		e.dotBatch(q, m, out)
	default:
		batchScalar(func(a, b []float32) float32 { return e.Distance(metric, a, b) })(q, m, out)
	}
}

// HammingPacked exposes the bit-exact Hamming kernel over packed bitstrings.
func HammingPacked(a, b []byte) int { return scalarHammingPacked(a, b) }

// JaccardPacked exposes the bit-exact Jaccard kernel over packed bitstrings.
func JaccardPacked(a, b []byte) float32 { return scalarJaccardPacked(a, b) }

// BytesOf converts a float32 slice to one byte per dimension: 1 where the
// component is non-zero, 0 otherwise. It does not pack bits; the result is
// the byte view passed to the Hamming/Jaccard kernels. VelesDB
// stores Binary-mode vectors directly as []byte; this helper only exists so
// Similarity's uniform []float32 signature can still route Hamming/Jaccard
// for collections that keep a float32 view around for other metrics.
func BytesOf(v []float32) []byte {
	b := make([]byte, len(v))
	for i, f := range v {
		if f != 0 {
			b[i] = 1
		}
	}
	return b
}
