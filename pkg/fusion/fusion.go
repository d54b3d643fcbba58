// Package fusion combines ranked result lists from independent search
// signals (vector, graph, text) into one ranked list.
package fusion

import "sort"

// Strategy selects how N ranked lists over a common id space are combined.
type Strategy int

const (
	RRF Strategy = iota
	Weighted
	Average
	Maximum
)

// DefaultRRFK is the standard RRF rank-damping constant.
const DefaultRRFK = 60

// WeightedParams parameterizes the Weighted strategy: the combined score is
// w_avg*avg_norm + w_max*max_norm + w_hit*hit_fraction. Weights need not sum
// to 1 but must be non-negative.
type WeightedParams struct {
	WAvg float64
	WMax float64
	WHit float64
}

// Config selects a fusion strategy and its parameters.
type Config struct {
	Strategy Strategy
	K        int // RRF only; 0 means DefaultRRFK
	Weights  WeightedParams
}

// Result is one item from a single ranked input list.
type Result struct {
	ID    string
	Score float64
}

// Fused is one item in a combined ranked output, carrying the number of
// input lists it appeared in.
type Fused struct {
	ID    string
	Score float64
	Hits  int
}

// Fuse combines lists according to cfg and returns them sorted by combined
// score descending (spec §4.8).
func Fuse(lists [][]Result, cfg Config) []Fused {
	switch cfg.Strategy {
	case RRF:
		return fuseRRF(lists, cfg.K)
	case Weighted:
		return fuseWeighted(lists, cfg.Weights)
	case Average:
		return fuseNormalized(lists, func(sum float64, n int) float64 { return sum / float64(n) })
	case Maximum:
		return fuseMax(lists)
	default:
		return fuseRRF(lists, cfg.K)
	}
}

// fuseRRF is strictly rank-based: score(id) = Σ 1/(k + rank_i(id) + 1), rank
// 0-indexed, absence from a list contributes nothing. It must never fall
// back to a score-derived approximation of rank.
func fuseRRF(lists [][]Result, k int) []Fused {
	if k <= 0 {
		k = DefaultRRFK
	}
	scores := make(map[string]*Fused)
	for _, list := range lists {
		for rank, r := range list {
			contribution := 1.0 / float64(k+rank+1)
			f, ok := scores[r.ID]
			if !ok {
				f = &Fused{ID: r.ID}
				scores[r.ID] = f
			}
			f.Score += contribution
			f.Hits++
		}
	}
	return sortedFused(scores)
}

// fuseWeighted min-max normalizes each input list independently, then for
// every id combines the mean, max, and hit-fraction of its normalized scores
// across the lists it appears in.
func fuseWeighted(lists [][]Result, w WeightedParams) []Fused {
	normalized := make([][]Result, len(lists))
	for i, list := range lists {
		normalized[i] = normalizeList(list)
	}

	sums := make(map[string]float64)
	maxes := make(map[string]float64)
	hits := make(map[string]int)
	for _, list := range normalized {
		for _, r := range list {
			sums[r.ID] += r.Score
			if r.Score > maxes[r.ID] {
				maxes[r.ID] = r.Score
			}
			hits[r.ID]++
		}
	}

	n := float64(len(lists))
	scores := make(map[string]*Fused, len(sums))
	for id, sum := range sums {
		avg := sum / float64(hits[id])
		hitFrac := float64(hits[id]) / n
		scores[id] = &Fused{
			ID:    id,
			Score: w.WAvg*avg + w.WMax*maxes[id] + w.WHit*hitFrac,
			Hits:  hits[id],
		}
	}
	return sortedFused(scores)
}

// fuseNormalized applies combine (given the sum of normalized scores across
// the lists an id appears in, and the count of those lists) to produce the
// combined score; used for Average.
func fuseNormalized(lists [][]Result, combine func(sum float64, n int) float64) []Fused {
	sums := make(map[string]float64)
	hits := make(map[string]int)
	for _, list := range lists {
		for _, r := range normalizeList(list) {
			sums[r.ID] += r.Score
			hits[r.ID]++
		}
	}
	scores := make(map[string]*Fused, len(sums))
	for id, sum := range sums {
		scores[id] = &Fused{ID: id, Score: combine(sum, hits[id]), Hits: hits[id]}
	}
	return sortedFused(scores)
}

func fuseMax(lists [][]Result) []Fused {
	maxes := make(map[string]float64)
	hits := make(map[string]int)
	for _, list := range lists {
		for _, r := range normalizeList(list) {
			if r.Score > maxes[r.ID] || hits[r.ID] == 0 {
				maxes[r.ID] = r.Score
			}
			hits[r.ID]++
		}
	}
	scores := make(map[string]*Fused, len(maxes))
	for id, s := range maxes {
		scores[id] = &Fused{ID: id, Score: s, Hits: hits[id]}
	}
	return sortedFused(scores)
}

// normalizeList min-max normalizes one list's scores to [0,1] independently
// of every other list, so lists on incompatible scales (cosine similarity,
// BM25) combine meaningfully.
func normalizeList(list []Result) []Result {
	if len(list) == 0 {
		return nil
	}
	min, max := list[0].Score, list[0].Score
	for _, r := range list {
		if r.Score < min {
			min = r.Score
		}
		if r.Score > max {
			max = r.Score
		}
	}
	out := make([]Result, len(list))
	if max == min {
		for i, r := range list {
			out[i] = Result{ID: r.ID, Score: 1}
		}
		return out
	}
	for i, r := range list {
		out[i] = Result{ID: r.ID, Score: (r.Score - min) / (max - min)}
	}
	return out
}

func sortedFused(scores map[string]*Fused) []Fused {
	out := make([]Fused, 0, len(scores))
	for _, f := range scores {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].Hits != out[j].Hits {
			return out[i].Hits > out[j].Hits
		}
		return out[i].ID < out[j].ID
	})
	return out
}
