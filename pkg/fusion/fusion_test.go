package fusion

import "testing"

func approxEqual(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < 1e-9
}

func TestRRFIsStrictlyRankBased(t *testing.T) {
	l1 := []Result{{ID: "x", Score: 0.1}, {ID: "y", Score: 0.2}, {ID: "z", Score: 0.3}}
	l2 := []Result{{ID: "z", Score: 99.0}, {ID: "y", Score: 50.0}, {ID: "x", Score: 1.0}}

	fused := Fuse([][]Result{l1, l2}, Config{Strategy: RRF, K: 60})

	scores := make(map[string]float64, len(fused))
	for _, f := range fused {
		scores[f.ID] = f.Score
	}

	want := 1.0/61.0 + 1.0/63.0
	if !approxEqual(scores["x"], want) {
		t.Fatalf("RRF(x) = %v, want %v (rank-based, must ignore underlying scores)", scores["x"], want)
	}
	if !approxEqual(scores["z"], want) {
		t.Fatalf("RRF(z) = %v, want %v", scores["z"], want)
	}
	wantY := 1.0/62.0 + 1.0/62.0
	if !approxEqual(scores["y"], wantY) {
		t.Fatalf("RRF(y) = %v, want %v", scores["y"], wantY)
	}
}

func TestRRFDefaultsKTo60(t *testing.T) {
	l1 := []Result{{ID: "a", Score: 1}}
	fused := Fuse([][]Result{l1}, Config{Strategy: RRF})
	want := 1.0 / 61.0
	if !approxEqual(fused[0].Score, want) {
		t.Fatalf("RRF with K=0 should default to 60, got score %v want %v", fused[0].Score, want)
	}
}

func TestAverageIsMeanOfNormalizedScoresPresent(t *testing.T) {
	l1 := []Result{{ID: "a", Score: 1}, {ID: "b", Score: 0}}
	l2 := []Result{{ID: "a", Score: 10}}

	fused := Fuse([][]Result{l1, l2}, Config{Strategy: Average})
	scores := make(map[string]float64)
	for _, f := range fused {
		scores[f.ID] = f.Score
	}

	if !approxEqual(scores["a"], 1.0) {
		t.Fatalf("Average(a) = %v, want 1.0 (appears as max in both normalized lists)", scores["a"])
	}
	if !approxEqual(scores["b"], 0.0) {
		t.Fatalf("Average(b) = %v, want 0.0 (only appears once, normalized to min)", scores["b"])
	}
}

func TestMaximumTakesHighestNormalizedScore(t *testing.T) {
	l1 := []Result{{ID: "a", Score: 0.1}, {ID: "b", Score: 0.9}}
	l2 := []Result{{ID: "a", Score: 100}}

	fused := Fuse([][]Result{l1, l2}, Config{Strategy: Maximum})
	scores := make(map[string]float64)
	for _, f := range fused {
		scores[f.ID] = f.Score
	}
	if !approxEqual(scores["a"], 1.0) {
		t.Fatalf("Maximum(a) = %v, want 1.0", scores["a"])
	}
}

func TestWeightedCombinesAvgMaxAndHitFraction(t *testing.T) {
	l1 := []Result{{ID: "a", Score: 1}, {ID: "b", Score: 0}}
	l2 := []Result{{ID: "a", Score: 1}}

	fused := Fuse([][]Result{l1, l2}, Config{
		Strategy: Weighted,
		Weights:  WeightedParams{WAvg: 0, WMax: 0, WHit: 1},
	})
	scores := make(map[string]float64)
	for _, f := range fused {
		scores[f.ID] = f.Score
	}
	if !approxEqual(scores["a"], 1.0) {
		t.Fatalf("WHit-only weighting: a appears in both lists, want hit fraction 1.0, got %v", scores["a"])
	}
	if !approxEqual(scores["b"], 0.5) {
		t.Fatalf("WHit-only weighting: b appears in one of two lists, want 0.5, got %v", scores["b"])
	}
}

func TestFuseSortsDescendingByScore(t *testing.T) {
	l1 := []Result{{ID: "low", Score: 0.1}, {ID: "high", Score: 0.9}}
	fused := Fuse([][]Result{l1}, Config{Strategy: Maximum})
	if fused[0].ID != "high" || fused[1].ID != "low" {
		t.Fatalf("Fuse should sort descending by score, got %v", fused)
	}
}
