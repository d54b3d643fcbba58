package query

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Binding resolves a column reference against whatever row shape the
// caller holds: a columnar Row for SELECT, or a set of alias-bound graph
// node properties for MATCH WHERE. Both SELECT and MATCH compile through
// the same Filter tree and share this one lookup seam, which is the
// mechanism that rules out a MATCH-side catch-all: there is nowhere left
// for one to hide.
type Binding interface {
	Column(table, column string) (any, bool)
	Param(name string) (any, bool)
}

// Filter is a compiled, stateless predicate node.
type Filter interface {
	Eval(b Binding) (bool, error)
}

// CompileFilter converts a WHERE/HAVING expression tree into a Filter,
// resolving temporal literals (NOW(), INTERVAL) to integer epoch seconds
// at compile time rather than leaving them to be reinterpreted per row.
// Vector (NEAR/NEAR_FUSED) and text (MATCH) predicates and subqueries are
// not stateless filters; callers must extract those before calling
// CompileFilter and are expected to pass nil for them (they are handled
// by the vector/text/subquery passes, not this tree).
func CompileFilter(e Expr) (Filter, error) {
	switch v := e.(type) {
	case nil:
		return trueFilter{}, nil
	case BinaryExpr:
		return compileBinary(v)
	case NotExpr:
		inner, err := CompileFilter(v.Expr)
		if err != nil {
			return nil, err
		}
		return notFilter{inner}, nil
	case LikeExpr:
		return compileLike(v)
	case BetweenExpr:
		return compileBetween(v)
	case InExpr:
		return compileIn(v)
	case IsNullExpr:
		return compileIsNull(v)
	case ContainsExpr:
		return compileContains(v)
	}
	return nil, fmt.Errorf("velesql: %T is not a stateless filter expression", e)
}

func compileBinary(v BinaryExpr) (Filter, error) {
	switch v.Op {
	case OpAnd:
		l, err := CompileFilter(v.Left)
		if err != nil {
			return nil, err
		}
		r, err := CompileFilter(v.Right)
		if err != nil {
			return nil, err
		}
		return andFilter{l, r}, nil
	case OpOr:
		l, err := CompileFilter(v.Left)
		if err != nil {
			return nil, err
		}
		r, err := CompileFilter(v.Right)
		if err != nil {
			return nil, err
		}
		return orFilter{l, r}, nil
	}

	left, err := compileValue(v.Left)
	if err != nil {
		return nil, err
	}
	right, err := compileValue(v.Right)
	if err != nil {
		return nil, err
	}
	return compareFilter{op: v.Op, left: left, right: right}, nil
}

func compileLike(v LikeExpr) (Filter, error) {
	left, err := compileValue(v.Expr)
	if err != nil {
		return nil, err
	}
	pat, err := compileValue(v.Pattern)
	if err != nil {
		return nil, err
	}
	return likeFilter{expr: left, pattern: pat, negate: v.Negate, ci: v.CaseInsensitive}, nil
}

func compileBetween(v BetweenExpr) (Filter, error) {
	expr, err := compileValue(v.Expr)
	if err != nil {
		return nil, err
	}
	low, err := compileValue(v.Low)
	if err != nil {
		return nil, err
	}
	high, err := compileValue(v.High)
	if err != nil {
		return nil, err
	}
	return betweenFilter{expr: expr, low: low, high: high, negate: v.Negate}, nil
}

func compileIn(v InExpr) (Filter, error) {
	if v.Subquery != nil {
		// Correlated/scalar subqueries resolve through subquery.go, which
		// rewrites InExpr{Subquery: ...} into InExpr{List: ...} before
		// handing the statement to CompileFilter. Reaching here means
		// that rewrite was skipped.
		return nil, fmt.Errorf("velesql: IN subquery must be resolved before CompileFilter")
	}
	expr, err := compileValue(v.Expr)
	if err != nil {
		return nil, err
	}
	list := make([]valueNode, 0, len(v.List))
	for _, item := range v.List {
		vn, err := compileValue(item)
		if err != nil {
			return nil, err
		}
		list = append(list, vn)
	}
	return inFilter{expr: expr, list: list, negate: v.Negate}, nil
}

func compileIsNull(v IsNullExpr) (Filter, error) {
	expr, err := compileValue(v.Expr)
	if err != nil {
		return nil, err
	}
	return isNullFilter{expr: expr, negate: v.Negate}, nil
}

func compileContains(v ContainsExpr) (Filter, error) {
	expr, err := compileValue(v.Expr)
	if err != nil {
		return nil, err
	}
	val, err := compileValue(v.Value)
	if err != nil {
		return nil, err
	}
	return containsFilter{expr: expr, value: val}, nil
}

// --- value nodes ---

// valueNode is either resolved at compile time (constVal) or looked up per
// row (fieldVal, paramVal).
type valueNode interface {
	resolve(b Binding) (any, error)
}

type constVal struct{ v any }

func (c constVal) resolve(Binding) (any, error) { return c.v, nil }

type fieldVal struct{ table, column string }

func (f fieldVal) resolve(b Binding) (any, error) {
	v, _ := b.Column(f.table, f.column)
	return v, nil
}

type paramVal struct{ name string }

func (p paramVal) resolve(b Binding) (any, error) {
	v, ok := b.Param(p.name)
	if !ok {
		return nil, fmt.Errorf("velesql: unbound parameter $%s", p.name)
	}
	return v, nil
}

func compileValue(e Expr) (valueNode, error) {
	switch v := e.(type) {
	case Literal:
		return constVal{v.Value}, nil
	case ColumnRef:
		return fieldVal{table: v.Table, column: v.Column}, nil
	case ParamRef:
		return paramVal{v.Name}, nil
	case FuncCall:
		return compileFuncValue(v)
	case BinaryExpr:
		return compileArithmetic(v)
	}
	return nil, fmt.Errorf("velesql: %T cannot appear as a filter value", e)
}

// compileFuncValue resolves temporal functions (NOW, INTERVAL) once at
// compile time to an integer epoch/duration-in-seconds value, per the
// filter-conversion step's requirement that temporal literals never pass
// through as an opaque number to be reinterpreted later.
func compileFuncValue(v FuncCall) (valueNode, error) {
	switch strings.ToUpper(v.Name) {
	case "COUNT", "SUM", "AVG", "MIN", "MAX":
		// HAVING evaluates against an already-aggregated row, where
		// groupAndAggregate stores each aggregate under its lowercase
		// function name (an aliased aggregate under both its alias and
		// that name). Look it up as an ordinary field rather than
		// recomputing the aggregate here.
		return fieldVal{column: strings.ToLower(v.Name)}, nil
	case "NOW":
		return constVal{time.Now().Unix()}, nil
	case "INTERVAL":
		if len(v.Args) != 1 {
			return nil, fmt.Errorf("velesql: INTERVAL expects exactly one string argument")
		}
		lit, ok := v.Args[0].(Literal)
		if !ok {
			return nil, fmt.Errorf("velesql: INTERVAL argument must be a string literal")
		}
		s, ok := lit.Value.(string)
		if !ok {
			return nil, fmt.Errorf("velesql: INTERVAL argument must be a string literal")
		}
		secs, err := parseIntervalSeconds(s)
		if err != nil {
			return nil, err
		}
		return constVal{secs}, nil
	}
	return nil, fmt.Errorf("velesql: %s() is not valid in a filter expression", v.Name)
}

var intervalRe = regexp.MustCompile(`^\s*(-?\d+)\s+(second|minute|hour|day|week|month|year)s?\s*$`)

func parseIntervalSeconds(s string) (int64, error) {
	m := intervalRe.FindStringSubmatch(strings.ToLower(s))
	if m == nil {
		return 0, fmt.Errorf("velesql: invalid INTERVAL literal %q", s)
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("velesql: invalid INTERVAL literal %q", s)
	}
	var unit int64
	switch m[2] {
	case "second":
		unit = 1
	case "minute":
		unit = 60
	case "hour":
		unit = 3600
	case "day":
		unit = 86400
	case "week":
		unit = 7 * 86400
	case "month":
		unit = 30 * 86400
	case "year":
		unit = 365 * 86400
	}
	return n * unit, nil
}

// compileArithmetic resolves a `NOW() - INTERVAL '7 days'`-shaped
// expression to a single constant when both sides fold to constants at
// compile time; otherwise it defers to per-row evaluation.
func compileArithmetic(v BinaryExpr) (valueNode, error) {
	left, err := compileValue(v.Left)
	if err != nil {
		return nil, err
	}
	right, err := compileValue(v.Right)
	if err != nil {
		return nil, err
	}
	if lc, ok := left.(constVal); ok {
		if rc, ok := right.(constVal); ok {
			ln, lok := toNumber(lc.v)
			rn, rok := toNumber(rc.v)
			if lok && rok {
				switch v.Op {
				case OpAdd:
					return constVal{int64(ln + rn)}, nil
				case OpSub:
					return constVal{int64(ln - rn)}, nil
				}
			}
		}
	}
	return arithVal{op: v.Op, left: left, right: right}, nil
}

type arithVal struct {
	op          BinaryOp
	left, right valueNode
}

func (a arithVal) resolve(b Binding) (any, error) {
	lv, err := a.left.resolve(b)
	if err != nil {
		return nil, err
	}
	rv, err := a.right.resolve(b)
	if err != nil {
		return nil, err
	}
	ln, lok := toNumber(lv)
	rn, rok := toNumber(rv)
	if !lok || !rok {
		return nil, fmt.Errorf("velesql: arithmetic on non-numeric values")
	}
	switch a.op {
	case OpAdd:
		return ln + rn, nil
	case OpSub:
		return ln - rn, nil
	}
	return nil, fmt.Errorf("velesql: unsupported arithmetic operator")
}

// --- filter nodes ---

type trueFilter struct{}

func (trueFilter) Eval(Binding) (bool, error) { return true, nil }

type andFilter struct{ left, right Filter }

func (f andFilter) Eval(b Binding) (bool, error) {
	l, err := f.left.Eval(b)
	if err != nil || !l {
		return false, err
	}
	return f.right.Eval(b)
}

type orFilter struct{ left, right Filter }

func (f orFilter) Eval(b Binding) (bool, error) {
	l, err := f.left.Eval(b)
	if err != nil {
		return false, err
	}
	if l {
		return true, nil
	}
	return f.right.Eval(b)
}

type notFilter struct{ inner Filter }

func (f notFilter) Eval(b Binding) (bool, error) {
	v, err := f.inner.Eval(b)
	return !v, err
}

type compareFilter struct {
	op          BinaryOp
	left, right valueNode
}

func (f compareFilter) Eval(b Binding) (bool, error) {
	lv, err := f.left.resolve(b)
	if err != nil {
		return false, err
	}
	rv, err := f.right.resolve(b)
	if err != nil {
		return false, err
	}
	c, ok := compareValues(lv, rv)
	if !ok {
		switch f.op {
		case OpEq:
			return false, nil
		case OpNe:
			return true, nil
		default:
			return false, nil
		}
	}
	switch f.op {
	case OpEq:
		return c == 0, nil
	case OpNe:
		return c != 0, nil
	case OpLt:
		return c < 0, nil
	case OpLe:
		return c <= 0, nil
	case OpGt:
		return c > 0, nil
	case OpGe:
		return c >= 0, nil
	}
	return false, fmt.Errorf("velesql: unsupported comparison operator")
}

type likeFilter struct {
	expr, pattern valueNode
	negate, ci    bool
}

func (f likeFilter) Eval(b Binding) (bool, error) {
	ev, err := f.expr.resolve(b)
	if err != nil {
		return false, err
	}
	pv, err := f.pattern.resolve(b)
	if err != nil {
		return false, err
	}
	s, _ := ev.(string)
	p, _ := pv.(string)
	matched := likeMatch(s, p, f.ci)
	if f.negate {
		matched = !matched
	}
	return matched, nil
}

// likeMatch implements SQL LIKE semantics: '%' matches any run of
// characters, '_' matches exactly one.
func likeMatch(s, pattern string, ci bool) bool {
	if ci {
		s = strings.ToLower(s)
		pattern = strings.ToLower(pattern)
	}
	return likeMatchRunes([]rune(s), []rune(pattern))
}

func likeMatchRunes(s, p []rune) bool {
	if len(p) == 0 {
		return len(s) == 0
	}
	switch p[0] {
	case '%':
		if likeMatchRunes(s, p[1:]) {
			return true
		}
		for i := 0; i < len(s); i++ {
			if likeMatchRunes(s[i+1:], p[1:]) {
				return true
			}
		}
		return false
	case '_':
		if len(s) == 0 {
			return false
		}
		return likeMatchRunes(s[1:], p[1:])
	default:
		if len(s) == 0 || s[0] != p[0] {
			return false
		}
		return likeMatchRunes(s[1:], p[1:])
	}
}

type betweenFilter struct {
	expr, low, high valueNode
	negate          bool
}

func (f betweenFilter) Eval(b Binding) (bool, error) {
	ev, err := f.expr.resolve(b)
	if err != nil {
		return false, err
	}
	lv, err := f.low.resolve(b)
	if err != nil {
		return false, err
	}
	hv, err := f.high.resolve(b)
	if err != nil {
		return false, err
	}
	cl, ok1 := compareValues(ev, lv)
	ch, ok2 := compareValues(ev, hv)
	in := ok1 && ok2 && cl >= 0 && ch <= 0
	if f.negate {
		return !in, nil
	}
	return in, nil
}

type inFilter struct {
	expr   valueNode
	list   []valueNode
	negate bool
}

func (f inFilter) Eval(b Binding) (bool, error) {
	ev, err := f.expr.resolve(b)
	if err != nil {
		return false, err
	}
	found := false
	for _, item := range f.list {
		iv, err := item.resolve(b)
		if err != nil {
			return false, err
		}
		if c, ok := compareValues(ev, iv); ok && c == 0 {
			found = true
			break
		}
	}
	if f.negate {
		return !found, nil
	}
	return found, nil
}

type isNullFilter struct {
	expr   valueNode
	negate bool
}

func (f isNullFilter) Eval(b Binding) (bool, error) {
	v, err := f.expr.resolve(b)
	if err != nil {
		return false, err
	}
	isNull := v == nil
	if f.negate {
		return !isNull, nil
	}
	return isNull, nil
}

type containsFilter struct{ expr, value valueNode }

func (f containsFilter) Eval(b Binding) (bool, error) {
	ev, err := f.expr.resolve(b)
	if err != nil {
		return false, err
	}
	vv, err := f.value.resolve(b)
	if err != nil {
		return false, err
	}
	switch container := ev.(type) {
	case string:
		needle, _ := vv.(string)
		return strings.Contains(container, needle), nil
	case []any:
		for _, item := range container {
			if c, ok := compareValues(item, vv); ok && c == 0 {
				return true, nil
			}
		}
		return false, nil
	}
	return false, nil
}

// compareValues orders two dynamically-typed scalars, reporting ok=false
// when they are not comparable (mismatched, non-comparable types).
func compareValues(a, b any) (int, bool) {
	if a == nil || b == nil {
		if a == nil && b == nil {
			return 0, true
		}
		return 0, false
	}
	an, aok := toNumber(a)
	bn, bok := toNumber(b)
	if aok && bok {
		switch {
		case an < bn:
			return -1, true
		case an > bn:
			return 1, true
		default:
			return 0, true
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs), true
	}
	ab, aok := a.(bool)
	bb, bok := b.(bool)
	if aok && bok {
		if ab == bb {
			return 0, true
		}
		return -1, true
	}
	return 0, false
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
