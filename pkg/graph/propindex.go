package graph

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// PropertyIndex holds the point index (label+property -> id set) and any
// composite range indices created for this graph, plus the query-pattern
// Advisor that watches WHERE predicates to propose new ones (spec §4.4).
type PropertyIndex struct {
	mu     sync.RWMutex
	point  map[string]map[string]map[string]map[uint64]struct{} // label -> prop -> valueKey -> node ids
	ranges map[string]*rangeIndex                                // index name -> composite range index

	Advisor *Advisor
}

func NewPropertyIndex() PropertyIndex {
	return PropertyIndex{
		point:   make(map[string]map[string]map[string]map[uint64]struct{}),
		ranges:  make(map[string]*rangeIndex),
		Advisor: newAdvisor(),
	}
}

func valueKey(v any) string { return fmt.Sprintf("%v", v) }

// Index records that node carries property prop=value under label, both in
// the point index and in any composite range index that watches prop.
func (p *PropertyIndex) Index(label, prop string, value any, node uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	byProp, ok := p.point[label]
	if !ok {
		byProp = make(map[string]map[string]map[uint64]struct{})
		p.point[label] = byProp
	}
	byValue, ok := byProp[prop]
	if !ok {
		byValue = make(map[string]map[uint64]struct{})
		byProp[prop] = byValue
	}
	key := valueKey(value)
	ids, ok := byValue[key]
	if !ok {
		ids = make(map[uint64]struct{})
		byValue[key] = ids
	}
	ids[node] = struct{}{}

	for _, ri := range p.ranges {
		if ri.label == label {
			ri.update(node, prop, value)
		}
	}
}

// Remove undoes Index for one (label, prop, value, node) entry.
func (p *PropertyIndex) Remove(label, prop string, value any, node uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if byProp, ok := p.point[label]; ok {
		if byValue, ok := byProp[prop]; ok {
			if ids, ok := byValue[valueKey(value)]; ok {
				delete(ids, node)
				if len(ids) == 0 {
					delete(byValue, valueKey(value))
				}
			}
		}
	}

	for _, ri := range p.ranges {
		if ri.label != label || ri.values[node][prop] != valueKey(value) {
			continue
		}
		delete(ri.values[node], prop)
		if prop == ri.columns[0] {
			ri.removeNode(node)
		}
	}
}

// Lookup returns the node ids with label+prop==value.
func (p *PropertyIndex) Lookup(label, prop string, value any) []uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	ids := p.point[label][prop][valueKey(value)]
	out := make([]uint64, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// rangeIndexKey identifies a composite range index by the label and ordered
// column list it covers.
func rangeIndexKey(label string, columns []string) string {
	return label + "|" + strings.Join(columns, ",")
}

// CreateRangeIndex builds (or returns the existing) composite ordered index
// over columns for the given label. Composite entries are kept sorted so
// range scans (e.g. WHERE a > 5 AND a < 10) can binary-search the bounds
// instead of a full index scan.
func (p *PropertyIndex) CreateRangeIndex(label string, columns []string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := rangeIndexKey(label, columns)
	if _, ok := p.ranges[key]; ok {
		return
	}
	ri := &rangeIndex{label: label, columns: append([]string(nil), columns...)}
	for prop, byValue := range p.point[label] {
		if !ri.watches(prop) {
			continue
		}
		for valStr, ids := range byValue {
			for id := range ids {
				ri.update(id, prop, valStr)
			}
		}
	}
	p.ranges[key] = ri
}

// RangeScan returns node ids whose columns[0] value falls within [lo, hi]
// (inclusive), using the composite index if one exists for label+columns.
func (p *PropertyIndex) RangeScan(label string, columns []string, lo, hi any) ([]uint64, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	ri, ok := p.ranges[rangeIndexKey(label, columns)]
	if !ok {
		return nil, false
	}
	return ri.scan(valueKey(lo), valueKey(hi)), true
}

// rangeIndex is a sorted-slice composite index: entries are kept ordered by
// their first column's string key so RangeScan can binary-search the
// bounds. Values of later columns are recorded per node in values but do
// not affect entry order or RangeScan results.
type rangeIndex struct {
	label   string
	columns []string
	entries []rangeEntry
	values  map[uint64]map[string]string // node -> column -> valueKey, to rebuild/update entries
}

type rangeEntry struct {
	key  string // columns[0]'s valueKey
	node uint64
}

func (ri *rangeIndex) watches(prop string) bool {
	for _, c := range ri.columns {
		if c == prop {
			return true
		}
	}
	return false
}

func (ri *rangeIndex) update(node uint64, prop string, value any) {
	if !ri.watches(prop) {
		return
	}
	if ri.values == nil {
		ri.values = make(map[uint64]map[string]string)
	}
	cols, ok := ri.values[node]
	if !ok {
		cols = make(map[string]string)
		ri.values[node] = cols
	}
	var key string
	switch v := value.(type) {
	case string:
		key = v
	default:
		key = valueKey(v)
	}
	cols[prop] = key

	primary, ok := cols[ri.columns[0]]
	if !ok {
		return
	}
	ri.removeNode(node)
	i := sort.Search(len(ri.entries), func(i int) bool { return ri.entries[i].key >= primary })
	ri.entries = append(ri.entries, rangeEntry{})
	copy(ri.entries[i+1:], ri.entries[i:])
	ri.entries[i] = rangeEntry{key: primary, node: node}
}

func (ri *rangeIndex) removeNode(node uint64) {
	for i, e := range ri.entries {
		if e.node == node {
			ri.entries = append(ri.entries[:i], ri.entries[i+1:]...)
			return
		}
	}
}

func (ri *rangeIndex) scan(lo, hi string) []uint64 {
	start := sort.Search(len(ri.entries), func(i int) bool { return ri.entries[i].key >= lo })
	var out []uint64
	for i := start; i < len(ri.entries) && ri.entries[i].key <= hi; i++ {
		out = append(out, ri.entries[i].node)
	}
	return out
}

// Advisor tracks which (label, columns) WHERE-predicate shapes the executor
// has observed and proposes composite range indices once a shape recurs
// often enough to be worth the maintenance cost of an index.
type Advisor struct {
	mu         sync.Mutex
	counts     map[string]int
	suggested  map[string]bool
	threshold  int
}

func newAdvisor() *Advisor {
	return &Advisor{
		counts:    make(map[string]int),
		suggested: make(map[string]bool),
		threshold: 10,
	}
}

// IndexSuggestion is a proposed composite range index.
type IndexSuggestion struct {
	Label   string
	Columns []string
}

// Observe records one WHERE predicate over label+columns (columns in the
// order they appeared in the predicate).
func (a *Advisor) Observe(label string, columns []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := rangeIndexKey(label, columns)
	a.counts[key]++
}

// Suggestions returns shapes observed at least threshold times that have
// not yet been suggested, marking them as suggested so they are not
// repeated.
func (a *Advisor) Suggestions() []IndexSuggestion {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []IndexSuggestion
	for key, n := range a.counts {
		if n < a.threshold || a.suggested[key] {
			continue
		}
		a.suggested[key] = true
		parts := strings.SplitN(key, "|", 2)
		if len(parts) != 2 {
			continue
		}
		out = append(out, IndexSuggestion{Label: parts[0], Columns: strings.Split(parts[1], ",")})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Label != out[j].Label {
			return out[i].Label < out[j].Label
		}
		return strings.Join(out[i].Columns, ",") < strings.Join(out[j].Columns, ",")
	})
	return out
}
