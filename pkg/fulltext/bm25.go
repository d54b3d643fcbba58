package fulltext

import (
	"math"
	"sort"
	"sync"
)

// Default BM25 tuning constants (Robertson/Spärck Jones defaults).
const (
	DefaultK1 = 1.2
	DefaultB  = 0.75
)

// Result is one scored hit from TextSearch or HybridSearch.
type Result struct {
	ID    string
	Score float64
}

// Index is a trigram-backed BM25 full-text index over a single string
// field (spec §4.5). k1 controls term-frequency saturation, b controls
// document-length normalization strength.
type Index struct {
	mu sync.RWMutex

	k1, b float64

	documents     map[string]string
	invertedIndex map[string]map[string]int // term -> docID -> term frequency
	docLengths    map[string]int
	avgDocLength  float64
	docCount      int

	postings map[uint64]map[string]struct{} // trigram hash -> doc ids
}

// New builds a BM25 index with the standard k1/b defaults.
func New() *Index {
	return NewWithParams(DefaultK1, DefaultB)
}

// NewWithParams builds a BM25 index with explicit k1/b tuning.
func NewWithParams(k1, b float64) *Index {
	return &Index{
		k1:            k1,
		b:             b,
		documents:     make(map[string]string),
		invertedIndex: make(map[string]map[string]int),
		docLengths:    make(map[string]int),
		postings:      make(map[uint64]map[string]struct{}),
	}
}

// Index adds or replaces the document text stored under id.
func (idx *Index) Index(id, text string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.removeInternal(id)

	tokens := tokenize(text)
	if len(tokens) == 0 {
		return
	}

	idx.documents[id] = text
	idx.docLengths[id] = len(tokens)
	idx.docCount++

	termFreq := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		termFreq[tok]++
	}
	for term, freq := range termFreq {
		if idx.invertedIndex[term] == nil {
			idx.invertedIndex[term] = make(map[string]int)
		}
		idx.invertedIndex[term][id] = freq
	}

	for _, tri := range trigramsOf(text) {
		key := trigramKey(tri)
		if idx.postings[key] == nil {
			idx.postings[key] = make(map[string]struct{})
		}
		idx.postings[key][id] = struct{}{}
	}

	idx.updateAvgDocLength()
}

// Remove deletes a document from the index.
func (idx *Index) Remove(id string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeInternal(id)
}

func (idx *Index) removeInternal(id string) {
	text, ok := idx.documents[id]
	if !ok {
		return
	}

	termFreq := make(map[string]int)
	for _, tok := range tokenize(text) {
		termFreq[tok]++
	}
	for term := range termFreq {
		if docs, ok := idx.invertedIndex[term]; ok {
			delete(docs, id)
			if len(docs) == 0 {
				delete(idx.invertedIndex, term)
			}
		}
	}

	for _, tri := range trigramsOf(text) {
		key := trigramKey(tri)
		if docs, ok := idx.postings[key]; ok {
			delete(docs, id)
			if len(docs) == 0 {
				delete(idx.postings, key)
			}
		}
	}

	delete(idx.documents, id)
	delete(idx.docLengths, id)
	idx.docCount--
	idx.updateAvgDocLength()
}

func (idx *Index) updateAvgDocLength() {
	if idx.docCount == 0 {
		idx.avgDocLength = 0
		return
	}
	var total int
	for _, n := range idx.docLengths {
		total += n
	}
	idx.avgDocLength = float64(total) / float64(idx.docCount)
}

// calculateIDF uses the Lucene/Elasticsearch +1-smoothed BM25 IDF variant,
// which stays non-negative for terms present in most documents.
func (idx *Index) calculateIDF(term string) float64 {
	df := float64(len(idx.invertedIndex[term]))
	n := float64(idx.docCount)
	v := math.Log(1 + (n-df+0.5)/(df+0.5))
	if v < 0 {
		return 0
	}
	return v
}

// TextSearch runs standard BM25 scoring restricted to the trigram candidate
// set and returns the top k results by score, `text_search(q, k)` in
// spec terms.
func (idx *Index) TextSearch(query string, k int) []Result {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.docCount == 0 {
		return nil
	}
	queryTerms := tokenize(query)
	if len(queryTerms) == 0 {
		return nil
	}

	candidates := idx.candidatesByTrigram(query)
	scores := make(map[string]float64)

	for _, term := range queryTerms {
		docs, ok := idx.invertedIndex[term]
		if !ok {
			continue
		}
		idf := idx.calculateIDF(term)
		for docID, tf := range docs {
			if _, ok := candidates[docID]; !ok {
				continue
			}
			scores[docID] += idx.bm25Term(idf, float64(tf), float64(idx.docLengths[docID]))
		}
	}

	return topK(scores, k)
}

func (idx *Index) bm25Term(idf, tf, docLen float64) float64 {
	numerator := tf * (idx.k1 + 1)
	denominator := tf + idx.k1*(1-idx.b+idx.b*(docLen/idx.avgDocLength))
	return idf * (numerator / denominator)
}

// HybridSearch linearly combines a precomputed vector-similarity score per
// doc id with this index's BM25 text score, each min-max normalized to
// [0,1] before blending with weight alpha: `hybrid_search(q_vec, q_text, k,
// alpha)` in spec terms. alpha=1 is pure vector, alpha=0 is pure text.
func (idx *Index) HybridSearch(vectorScores map[string]float64, query string, k int, alpha float64) []Result {
	textHits := idx.TextSearch(query, len(vectorScores)+k)
	textScores := make(map[string]float64, len(textHits))
	for _, r := range textHits {
		textScores[r.ID] = r.Score
	}

	normVec := minMaxNormalize(vectorScores)
	normText := minMaxNormalize(textScores)

	ids := make(map[string]struct{}, len(normVec)+len(normText))
	for id := range normVec {
		ids[id] = struct{}{}
	}
	for id := range normText {
		ids[id] = struct{}{}
	}

	combined := make(map[string]float64, len(ids))
	for id := range ids {
		combined[id] = alpha*normVec[id] + (1-alpha)*normText[id]
	}
	return topK(combined, k)
}

func minMaxNormalize(scores map[string]float64) map[string]float64 {
	if len(scores) == 0 {
		return map[string]float64{}
	}
	min, max := math.Inf(1), math.Inf(-1)
	for _, s := range scores {
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}
	out := make(map[string]float64, len(scores))
	if max == min {
		for id := range scores {
			out[id] = 1
		}
		return out
	}
	for id, s := range scores {
		out[id] = (s - min) / (max - min)
	}
	return out
}

func topK(scores map[string]float64, k int) []Result {
	results := make([]Result, 0, len(scores))
	for id, score := range scores {
		results = append(results, Result{ID: id, Score: score})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if k > 0 && len(results) > k {
		results = results[:k]
	}
	return results
}

// Count returns the number of indexed documents.
func (idx *Index) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.docCount
}

// Get retrieves the original text stored for a document.
func (idx *Index) Get(id string) (string, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	text, ok := idx.documents[id]
	return text, ok
}
