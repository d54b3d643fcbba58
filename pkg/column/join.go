package column

import "fmt"

// JoinKind selects which rows a hash join keeps when a key has no match on
// one side. Only Inner and Left are implemented directly here: RIGHT, FULL,
// and USING joins are rejected at the query layer per spec §4.7
// (UnsupportedFeature), since they are straightforward to add later but are
// explicitly out of scope for the core executor today.
type JoinKind int

const (
	JoinInner JoinKind = iota
	JoinLeft
)

// HashJoin materializes an equi-join between two row sets by building a
// hash table over the right side (whatever its size) keyed on rightKey, then probing
// it once per left row — the standard hash-join shape used by the column
// store's own SQL backing and mirrored here so cross-collection joins
// (vector-collection rows joined against column-store rows) don't need a
// live SQL engine on both sides.
func HashJoin(left, right []Row, leftKey, rightKey string, kind JoinKind) ([]Row, error) {
	index := make(map[string][]Row, len(right))
	for _, r := range right {
		v, ok := r[rightKey]
		if !ok {
			return nil, fmt.Errorf("column: join key %q missing from right row", rightKey)
		}
		k := pkKey(v)
		index[k] = append(index[k], r)
	}

	var out []Row
	for _, l := range left {
		v, ok := l[leftKey]
		if !ok {
			return nil, fmt.Errorf("column: join key %q missing from left row", leftKey)
		}
		matches := index[pkKey(v)]
		if len(matches) == 0 {
			if kind == JoinLeft {
				out = append(out, mergeRows(l, nil, rightKey))
			}
			continue
		}
		for _, r := range matches {
			out = append(out, mergeRows(l, r, rightKey))
		}
	}
	return out, nil
}

// mergeRows combines a left row with its matched right row (or nil, for an
// unmatched LEFT JOIN row) into one output row. Right-side columns that
// collide with a left-side name are prefixed "right." to avoid silently
// shadowing the left value.
func mergeRows(left, right Row, rightKeyCol string) Row {
	merged := make(Row, len(left)+len(right))
	for k, v := range left {
		merged[k] = v
	}
	for k, v := range right {
		if _, collide := merged[k]; collide {
			merged["right."+k] = v
			continue
		}
		merged[k] = v
	}
	return merged
}
