package query

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/velesdb/veles/pkg/fulltext"
	"github.com/velesdb/veles/pkg/fusion"
)

// Row is one result row keyed by column/alias name, the shape both
// vector-collection rows and graph-bound property rows are normalized into
// before post-filtering and projection.
type Row map[string]any

// VectorHit is one k-NN candidate returned by a VectorIndex.
type VectorHit struct {
	ID    uint64
	Score float64 // higher is better, already converted from distance
}

// VectorIndex is the subset of pkg/hnsw's Index the executor depends on,
// expressed as an interface so pkg/query never imports pkg/hnsw directly —
// the Collection that wires them together owns that dependency.
type VectorIndex interface {
	Search(ctx context.Context, query []float32, k, overfetch int) ([]VectorHit, error)
}

// TextIndex is the subset of pkg/fulltext's Index the executor depends on.
type TextIndex interface {
	TextSearch(query string, k int) []fulltext.Result
}

// GraphHop is one edge of a multi-hop MATCH pattern, mirroring
// pkg/graph.Hop without importing pkg/graph.
type GraphHop struct {
	FromAlias string
	Label     string
	ToAlias   string
	MinHops   int
	MaxHops   int
}

// GraphBinding is one row of bound aliases produced by a MATCH pattern
// walk, mirroring pkg/graph.HopBinding.
type GraphBinding map[string]uint64

// GraphWalker is the subset of pkg/graph.Graph the executor depends on.
type GraphWalker interface {
	Seeds(label string) []uint64
	ChainHops(seedAlias string, seeds []uint64, hops []GraphHop) []GraphBinding
}

// RowStore is the subset of pkg/column.Store the executor depends on: fetch
// a row by its primary-key id and scan a collection for relational-only
// queries with no vector or graph predicate.
type RowStore interface {
	GetByID(id uint64) (Row, bool)
	Scan() ([]Row, error)
}

// Catalog resolves a FROM/JOIN table name to its backing stores, letting
// one Executor serve every collection in a database.
type Catalog interface {
	Vectors(collection string) (VectorIndex, bool)
	Texts(collection string) (TextIndex, bool)
	Rows(collection string) (RowStore, bool)
	Graph(collection string) (GraphWalker, bool)
}

// Executor runs a parsed Statement against a Catalog, implementing the
// nine-step pipeline: vector extraction, subquery resolution, filter
// conversion, vector pass, graph pass, cross-store fusion, post-filter,
// join, compound set ops.
type Executor struct {
	catalog Catalog
	params  map[string]any
}

// NewExecutor builds an Executor bound to catalog and a fixed parameter
// binding for $-prefixed references.
func NewExecutor(catalog Catalog, params map[string]any) *Executor {
	return &Executor{catalog: catalog, params: params}
}

// Execute runs stmt and returns its result rows.
func (e *Executor) Execute(ctx context.Context, stmt Statement) ([]Row, error) {
	switch s := stmt.(type) {
	case *SelectStatement:
		return e.executeSelect(ctx, s)
	case *MatchStatement:
		return e.executeMatch(ctx, s)
	}
	return nil, fmt.Errorf("velesql: unsupported statement type %T", stmt)
}

// --- SELECT ---

func (e *Executor) executeSelect(ctx context.Context, stmt *SelectStatement) ([]Row, error) {
	if err := resolveSubqueries(ctx, e, stmt); err != nil {
		return nil, err
	}

	plan := ChoosePlan(PlanInputFromSelect(stmt))

	vecExpr, textExpr, whereRest := extractSpecialPredicates(stmt.Where)

	whereFilter, err := CompileFilter(whereRest)
	if err != nil {
		return nil, err
	}

	limit := 0
	if stmt.Limit != nil {
		limit = *stmt.Limit
	}
	fetchN := limit
	if fetchN <= 0 {
		fetchN = 100
	}
	fetchN *= plan.Overfetch

	rows, err := e.fetchBaseRows(ctx, stmt.From, vecExpr, textExpr, plan, fetchN)
	if err != nil {
		return nil, err
	}

	for _, j := range stmt.Joins {
		rows, err = e.applyJoin(rows, j)
		if err != nil {
			return nil, err
		}
	}

	rows, err = filterRows(rows, whereFilter, e.params)
	if err != nil {
		return nil, err
	}

	if len(stmt.GroupBy) > 0 || hasAggregate(stmt.Columns) {
		rows, err = groupAndAggregate(rows, stmt.GroupBy, stmt.Columns, stmt.Having, e.params)
		if err != nil {
			return nil, err
		}
	}

	rows = sortRows(rows, stmt.OrderBy)

	rows = project(rows, stmt.Columns)

	if stmt.Limit != nil && len(rows) > *stmt.Limit {
		rows = rows[:*stmt.Limit]
	}

	if stmt.Compound != nil {
		rightRows, err := e.executeSelect(ctx, stmt.Compound.Right)
		if err != nil {
			return nil, err
		}
		rows = applySetOp(stmt.Compound.Op, rows, rightRows)
	}

	return rows, nil
}

// fetchBaseRows runs the vector and/or text passes (concurrently under
// PlanParallel) and falls back to a full relational scan when neither is
// present.
func (e *Executor) fetchBaseRows(ctx context.Context, collection string, vecExpr Expr, textExpr Expr, plan Plan, fetchN int) ([]Row, error) {
	if vecExpr == nil && textExpr == nil {
		store, ok := e.catalog.Rows(collection)
		if !ok {
			return nil, fmt.Errorf("velesql: unknown collection %q", collection)
		}
		return store.Scan()
	}

	var vecRows, textRows []Row
	run := func() error {
		var err error
		if vecExpr != nil {
			vecRows, err = e.runVectorExpr(ctx, collection, vecExpr, fetchN)
			if err != nil {
				return err
			}
		}
		return nil
	}
	runText := func() error {
		var err error
		if textExpr != nil {
			textRows, err = e.runTextExpr(collection, textExpr, fetchN)
			if err != nil {
				return err
			}
		}
		return nil
	}

	if plan.Tag == PlanParallel && vecExpr != nil && textExpr != nil {
		g, _ := errgroup.WithContext(ctx)
		g.Go(run)
		g.Go(runText)
		if err := g.Wait(); err != nil {
			return nil, err
		}
	} else {
		if err := run(); err != nil {
			return nil, err
		}
		if err := runText(); err != nil {
			return nil, err
		}
	}

	switch {
	case vecExpr != nil && textExpr != nil:
		return fuseRows(vecRows, textRows), nil
	case vecExpr != nil:
		return vecRows, nil
	default:
		return textRows, nil
	}
}

func (e *Executor) runVectorExpr(ctx context.Context, collection string, expr Expr, fetchN int) ([]Row, error) {
	idx, ok := e.catalog.Vectors(collection)
	if !ok {
		return nil, fmt.Errorf("velesql: collection %q has no vector index", collection)
	}
	store, hasRows := e.catalog.Rows(collection)

	switch v := expr.(type) {
	case NearExpr:
		q, err := resolveVector(v.Query, e.params)
		if err != nil {
			return nil, err
		}
		hits, err := idx.Search(ctx, q, fetchN, 1)
		if err != nil {
			return nil, err
		}
		return hitsToRows(hits, store, hasRows, "__vector_score"), nil

	case NearFusedExpr:
		lists := make([][]VectorHit, 0, len(v.Queries))
		for _, qExpr := range v.Queries {
			q, err := resolveVector(qExpr, e.params)
			if err != nil {
				return nil, err
			}
			hits, err := idx.Search(ctx, q, fetchN, 1)
			if err != nil {
				return nil, err
			}
			lists = append(lists, hits)
		}
		fused := fuseVectorHits(lists, v.Fusion)
		return hitsToRows(fused, store, hasRows, "__vector_score"), nil
	}
	return nil, fmt.Errorf("velesql: %T is not a vector predicate", expr)
}

func (e *Executor) runTextExpr(collection string, expr Expr, fetchN int) ([]Row, error) {
	m, ok := expr.(MatchExpr)
	if !ok {
		return nil, fmt.Errorf("velesql: %T is not a text predicate", expr)
	}
	idx, ok := e.catalog.Texts(collection)
	if !ok {
		return nil, fmt.Errorf("velesql: collection %q has no text index", collection)
	}
	q, err := resolveString(m.Query, e.params)
	if err != nil {
		return nil, err
	}
	results := idx.TextSearch(q, fetchN)
	store, hasRows := e.catalog.Rows(collection)

	rows := make([]Row, 0, len(results))
	for _, r := range results {
		row := Row{"id": r.ID, "__text_score": r.Score}
		if hasRows {
			if idNum, err := parseRowID(r.ID); err == nil {
				if base, ok := store.GetByID(idNum); ok {
					for k, v := range base {
						row[k] = v
					}
				}
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func hitsToRows(hits []VectorHit, store RowStore, hasRows bool, scoreField string) []Row {
	rows := make([]Row, 0, len(hits))
	for _, h := range hits {
		row := Row{"id": h.ID, scoreField: h.Score}
		if hasRows {
			if base, ok := store.GetByID(h.ID); ok {
				for k, v := range base {
					row[k] = v
				}
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// fuseRows merges vector-pass and text-pass row sets on "id" when both
// passes ran in parallel with no explicit NEAR_FUSED/fusion clause: rows
// present in both carry both score fields, rows present in only one keep
// whichever score they have.
func fuseRows(vecRows, textRows []Row) []Row {
	byID := make(map[any]Row, len(vecRows)+len(textRows))
	var order []any
	for _, r := range vecRows {
		id := r["id"]
		byID[id] = r
		order = append(order, id)
	}
	for _, r := range textRows {
		id := r["id"]
		if existing, ok := byID[id]; ok {
			for k, v := range r {
				existing[k] = v
			}
			continue
		}
		byID[id] = r
		order = append(order, id)
	}
	out := make([]Row, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out
}

// extractSpecialPredicates pulls the single top-level vector predicate and
// single top-level text predicate out of an AND-only WHERE tree, returning
// the remainder as a stateless filter expression. Vector/text predicates
// nested under OR are left in place and rejected by CompileFilter, since
// the planner's cross-store passes only know how to push down a top-level
// AND-ed predicate.
func extractSpecialPredicates(where Expr) (vec Expr, text Expr, rest Expr) {
	var walk func(e Expr) Expr
	walk = func(e Expr) Expr {
		switch v := e.(type) {
		case BinaryExpr:
			if v.Op == OpAnd {
				left := walk(v.Left)
				right := walk(v.Right)
				switch {
				case left == nil && right == nil:
					return nil
				case left == nil:
					return right
				case right == nil:
					return left
				default:
					return BinaryExpr{Op: OpAnd, Left: left, Right: right}
				}
			}
			return e
		case NearExpr:
			vec = v
			return nil
		case NearFusedExpr:
			vec = v
			return nil
		case MatchExpr:
			text = v
			return nil
		}
		return e
	}
	rest = walk(where)
	return vec, text, rest
}

func filterRows(rows []Row, f Filter, params map[string]any) ([]Row, error) {
	out := make([]Row, 0, len(rows))
	for _, r := range rows {
		ok, err := f.Eval(rowBinding{row: r, params: params})
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, r)
		}
	}
	return out, nil
}

type rowBinding struct {
	row    Row
	params map[string]any
}

func (b rowBinding) Column(table, column string) (any, bool) {
	if v, ok := b.row[column]; ok {
		return v, true
	}
	v, ok := b.row[table+"."+column]
	return v, ok
}

func (b rowBinding) Param(name string) (any, bool) {
	v, ok := b.params[name]
	return v, ok
}

func (e *Executor) applyJoin(left []Row, j JoinClause) ([]Row, error) {
	if j.Kind == JoinRight || j.Kind == JoinFull {
		return nil, unsupported("E010", "RIGHT and FULL JOIN are not supported")
	}
	if len(j.Using) > 0 {
		return nil, unsupported("E011", "JOIN USING(...) is not supported")
	}
	store, ok := e.catalog.Rows(j.Table)
	if !ok {
		return nil, fmt.Errorf("velesql: unknown join table %q", j.Table)
	}
	right, err := store.Scan()
	if err != nil {
		return nil, err
	}

	leftKey, rightKey, err := joinKeysFromOn(j.On)
	if err != nil {
		return nil, err
	}

	out := make([]Row, 0, len(left))
	rightByKey := make(map[any][]Row, len(right))
	for _, r := range right {
		rightByKey[r[rightKey]] = append(rightByKey[r[rightKey]], r)
	}
	for _, l := range left {
		matches := rightByKey[l[leftKey]]
		if len(matches) == 0 {
			if j.Kind == JoinLeft {
				out = append(out, l)
			}
			continue
		}
		for _, r := range matches {
			merged := make(Row, len(l)+len(r))
			for k, v := range l {
				merged[k] = v
			}
			for k, v := range r {
				if _, collide := merged[k]; collide {
					merged[j.Alias+"."+k] = v
					continue
				}
				merged[k] = v
			}
			out = append(out, merged)
		}
	}
	return out, nil
}

// joinKeysFromOn extracts the `left.col = right.col` equality the executor
// needs to build its hash join, the only ON-clause shape VelesQL supports.
func joinKeysFromOn(on Expr) (leftKey, rightKey string, err error) {
	b, ok := on.(BinaryExpr)
	if !ok || b.Op != OpEq {
		return "", "", unsupported("E012", "JOIN ON must be a single column equality")
	}
	lc, lok := b.Left.(ColumnRef)
	rc, rok := b.Right.(ColumnRef)
	if !lok || !rok {
		return "", "", unsupported("E012", "JOIN ON must be a single column equality")
	}
	return lc.Column, rc.Column, nil
}

func sortRows(rows []Row, orderBy []OrderItem) []Row {
	if len(orderBy) == 0 {
		return rows
	}
	out := make([]Row, len(rows))
	copy(out, rows)
	less := func(i, j int) bool {
		for _, o := range orderBy {
			av := evalOrderExpr(o.Expr, out[i])
			bv := evalOrderExpr(o.Expr, out[j])
			c, ok := compareValues(av, bv)
			if !ok || c == 0 {
				continue
			}
			if o.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	}
	insertionSort(out, less)
	return out
}

func insertionSort(rows []Row, less func(i, j int) bool) {
	for i := 1; i < len(rows); i++ {
		for k := i; k > 0 && less(k, k-1); k-- {
			rows[k], rows[k-1] = rows[k-1], rows[k]
		}
	}
}

func evalOrderExpr(e Expr, row Row) any {
	switch v := e.(type) {
	case ColumnRef:
		if v.Table != "" {
			if val, ok := row[v.Table+"."+v.Column]; ok {
				return val
			}
		}
		return row[v.Column]
	case FuncCall:
		if strings.EqualFold(v.Name, "SIMILARITY") {
			if s, ok := row["__vector_score"]; ok {
				return s
			}
		}
	}
	return nil
}

func project(rows []Row, cols []SelectItem) []Row {
	if len(cols) == 1 && cols[0].Star {
		return rows
	}
	out := make([]Row, 0, len(rows))
	for _, r := range rows {
		projected := make(Row, len(cols))
		for _, c := range cols {
			if c.Star {
				for k, v := range r {
					projected[k] = v
				}
				continue
			}
			name := c.Alias
			if name == "" {
				name = exprDisplayName(c.Expr)
			}
			if fc, ok := c.Expr.(FuncCall); ok && isAggregateName(fc.Name) {
				// groupAndAggregate already computed and stored this
				// value under the same name; re-evaluating the raw
				// FuncCall against a post-aggregation row makes no sense.
				projected[name] = r[name]
				continue
			}
			projected[name] = evalOrderExpr(c.Expr, r)
		}
		out = append(out, projected)
	}
	return out
}

func exprDisplayName(e Expr) string {
	switch v := e.(type) {
	case ColumnRef:
		return v.Column
	case FuncCall:
		return strings.ToLower(v.Name)
	}
	return "expr"
}

func applySetOp(op CompoundSetOp, left, right []Row) []Row {
	key := func(r Row) any { return r["id"] }
	switch op {
	case SetUnion:
		seen := make(map[any]bool)
		var out []Row
		for _, r := range append(append([]Row{}, left...), right...) {
			k := key(r)
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, r)
		}
		return out
	case SetUnionAll:
		return append(append([]Row{}, left...), right...)
	case SetIntersect:
		rightKeys := make(map[any]bool, len(right))
		for _, r := range right {
			rightKeys[key(r)] = true
		}
		var out []Row
		seen := make(map[any]bool)
		for _, r := range left {
			k := key(r)
			if rightKeys[k] && !seen[k] {
				seen[k] = true
				out = append(out, r)
			}
		}
		return out
	case SetExcept:
		rightKeys := make(map[any]bool, len(right))
		for _, r := range right {
			rightKeys[key(r)] = true
		}
		var out []Row
		for _, r := range left {
			if !rightKeys[key(r)] {
				out = append(out, r)
			}
		}
		return out
	}
	return left
}

// --- MATCH ---

func (e *Executor) executeMatch(ctx context.Context, stmt *MatchStatement) ([]Row, error) {
	if len(stmt.Elements) == 0 {
		return nil, fmt.Errorf("velesql: MATCH requires at least one node pattern")
	}

	first := stmt.Elements[0]
	// Assumes one collection's graph backs the whole pattern chain; VelesQL
	// does not support cross-collection MATCH.
	collName := first.NodeLabel
	graphColl, ok := e.catalog.Graph(collName)
	if !ok {
		return nil, fmt.Errorf("velesql: collection %q has no graph component", collName)
	}

	seeds := graphColl.Seeds(first.NodeLabel)
	var hops []GraphHop
	aliasAt := []string{first.NodeAlias}
	for i := 1; i+1 < len(stmt.Elements); i += 2 {
		edge := stmt.Elements[i]
		node := stmt.Elements[i+1]
		hops = append(hops, GraphHop{
			FromAlias: aliasAt[len(aliasAt)-1],
			Label:     edge.EdgeLabel,
			ToAlias:   node.NodeAlias,
			MinHops:   edge.MinHops,
			MaxHops:   edge.MaxHops,
		})
		aliasAt = append(aliasAt, node.NodeAlias)
	}

	bindings := graphColl.ChainHops(first.NodeAlias, seeds, hops)

	store, hasRows := e.catalog.Rows(collName)

	rows := make([]Row, 0, len(bindings))
	for _, b := range bindings {
		row := make(Row, len(b))
		for alias, id := range b {
			row[alias+".id"] = id
			if hasRows {
				if base, ok := store.GetByID(id); ok {
					for k, v := range base {
						row[alias+"."+k] = v
					}
				}
			}
		}
		rows = append(rows, row)
	}

	whereFilter, err := CompileFilter(stmt.Where)
	if err != nil {
		return nil, err
	}
	rows, err = filterRows(rows, whereFilter, e.params)
	if err != nil {
		return nil, err
	}

	rows = sortRows(rows, stmt.OrderBy)
	rows = project(rows, stmt.Return)

	if stmt.Limit != nil && len(rows) > *stmt.Limit {
		rows = rows[:*stmt.Limit]
	}
	return rows, nil
}

func resolveVector(e Expr, params map[string]any) ([]float32, error) {
	switch v := e.(type) {
	case Literal:
		if vec, ok := v.Value.([]float32); ok {
			return vec, nil
		}
	case ParamRef:
		if val, ok := params[v.Name]; ok {
			if vec, ok := val.([]float32); ok {
				return vec, nil
			}
			return nil, fmt.Errorf("velesql: parameter $%s is not a vector", v.Name)
		}
		return nil, fmt.Errorf("velesql: unbound parameter $%s", v.Name)
	}
	return nil, fmt.Errorf("velesql: expected a vector literal or parameter")
}

func resolveString(e Expr, params map[string]any) (string, error) {
	switch v := e.(type) {
	case Literal:
		if s, ok := v.Value.(string); ok {
			return s, nil
		}
	case ParamRef:
		if val, ok := params[v.Name]; ok {
			if s, ok := val.(string); ok {
				return s, nil
			}
		}
	}
	return "", fmt.Errorf("velesql: expected a string literal or parameter")
}

func parseRowID(s string) (uint64, error) {
	return strconv.ParseUint(s, 10, 64)
}

// fuseVectorHits combines N ranked vector-hit lists (one per NEAR_FUSED
// query) via pkg/fusion, translating the uint64 hit ids through strconv
// since fusion operates on opaque string ids.
func fuseVectorHits(lists [][]VectorHit, spec FusionSpec) []VectorHit {
	fusionLists := make([][]fusion.Result, 0, len(lists))
	for _, l := range lists {
		fl := make([]fusion.Result, 0, len(l))
		for _, h := range l {
			fl = append(fl, fusion.Result{ID: strconv.FormatUint(h.ID, 10), Score: h.Score})
		}
		fusionLists = append(fusionLists, fl)
	}

	cfg := fusion.Config{K: spec.K}
	switch strings.ToLower(spec.Strategy) {
	case "weighted":
		cfg.Strategy = fusion.Weighted
		if len(spec.Weights) == 3 {
			cfg.Weights = fusion.WeightedParams{WAvg: spec.Weights[0], WMax: spec.Weights[1], WHit: spec.Weights[2]}
		}
	case "average":
		cfg.Strategy = fusion.Average
	case "maximum":
		cfg.Strategy = fusion.Maximum
	default:
		cfg.Strategy = fusion.RRF
	}

	fused := fusion.Fuse(fusionLists, cfg)
	out := make([]VectorHit, 0, len(fused))
	for _, f := range fused {
		id, err := strconv.ParseUint(f.ID, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, VectorHit{ID: id, Score: f.Score})
	}
	return out
}
