package query

import (
	"strconv"
	"strings"
)

// hasAggregate reports whether any projected column calls an aggregate
// function, which forces grouping even with no explicit GROUP BY (a single
// implicit group over every row).
func hasAggregate(cols []SelectItem) bool {
	for _, c := range cols {
		if fc, ok := c.Expr.(FuncCall); ok && isAggregateName(fc.Name) {
			return true
		}
	}
	return false
}

func isAggregateName(name string) bool {
	switch strings.ToUpper(name) {
	case "COUNT", "SUM", "AVG", "MIN", "MAX":
		return true
	}
	return false
}

// groupAndAggregate partitions rows by the GROUP BY key expressions,
// evaluates aggregate projections per group, then drops groups failing
// HAVING.
func groupAndAggregate(rows []Row, groupBy []Expr, cols []SelectItem, having Expr, params map[string]any) ([]Row, error) {
	type group struct {
		key  string
		rows []Row
	}
	order := make([]string, 0)
	groups := make(map[string]*group)

	keyOf := func(r Row) string {
		var sb strings.Builder
		for _, g := range groupBy {
			sb.WriteString("\x1f")
			v := evalOrderExpr(g, r)
			sb.WriteString(toGroupKeyString(v))
		}
		return sb.String()
	}

	for _, r := range rows {
		k := keyOf(r)
		g, ok := groups[k]
		if !ok {
			g = &group{key: k}
			groups[k] = g
			order = append(order, k)
		}
		g.rows = append(g.rows, r)
	}

	// An aggregate projection with no GROUP BY still forms one implicit
	// group over the full row set, including when there are zero rows
	// (e.g. COUNT(*) of an empty table must still return 0, not nothing).
	if len(groupBy) == 0 && len(order) == 0 {
		groups[""] = &group{}
		order = append(order, "")
	}

	out := make([]Row, 0, len(order))
	for _, k := range order {
		g := groups[k]
		aggregated := make(Row)
		if len(g.rows) > 0 {
			for name, v := range g.rows[0] {
				aggregated[name] = v
			}
		}
		for _, c := range cols {
			fc, ok := c.Expr.(FuncCall)
			if !ok || !isAggregateName(fc.Name) {
				continue
			}
			name := c.Alias
			if name == "" {
				name = strings.ToLower(fc.Name)
			}
			v := evalAggregate(fc, g.rows)
			aggregated[name] = v
			if c.Alias != "" {
				aggregated[strings.ToLower(fc.Name)] = v
			}
		}

		if having != nil {
			f, err := CompileFilter(having)
			if err != nil {
				return nil, err
			}
			ok, err := f.Eval(rowBinding{row: aggregated, params: params})
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		out = append(out, aggregated)
	}
	return out, nil
}

func toGroupKeyString(v any) string {
	switch t := v.(type) {
	case nil:
		return "\x00nil"
	case string:
		return t
	default:
		return fmtAny(t)
	}
}

func fmtAny(v any) string {
	switch t := v.(type) {
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	}
	return ""
}

func evalAggregate(fc FuncCall, rows []Row) any {
	switch strings.ToUpper(fc.Name) {
	case "COUNT":
		if len(fc.Args) == 1 {
			if _, ok := fc.Args[0].(StarExpr); ok {
				return int64(len(rows))
			}
		}
		n := int64(0)
		for _, r := range rows {
			if len(fc.Args) == 1 {
				if v := evalOrderExpr(fc.Args[0], r); v != nil {
					n++
				}
			}
		}
		return n
	case "SUM":
		var sum float64
		for _, r := range rows {
			if n, ok := toNumber(evalOrderExpr(arg0(fc), r)); ok {
				sum += n
			}
		}
		return sum
	case "AVG":
		var sum float64
		var n int
		for _, r := range rows {
			if v, ok := toNumber(evalOrderExpr(arg0(fc), r)); ok {
				sum += v
				n++
			}
		}
		if n == 0 {
			return nil
		}
		return sum / float64(n)
	case "MIN":
		var best any
		for _, r := range rows {
			v := evalOrderExpr(arg0(fc), r)
			if best == nil {
				best = v
				continue
			}
			if c, ok := compareValues(v, best); ok && c < 0 {
				best = v
			}
		}
		return best
	case "MAX":
		var best any
		for _, r := range rows {
			v := evalOrderExpr(arg0(fc), r)
			if best == nil {
				best = v
				continue
			}
			if c, ok := compareValues(v, best); ok && c > 0 {
				best = v
			}
		}
		return best
	}
	return nil
}

func arg0(fc FuncCall) Expr {
	if len(fc.Args) == 0 {
		return nil
	}
	return fc.Args[0]
}
