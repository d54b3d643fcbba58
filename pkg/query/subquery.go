package query

import "context"

// resolveSubqueries rewrites every `expr IN (SELECT ...)` and bare scalar
// subquery reachable from stmt's WHERE/HAVING into a literal list or
// literal value, running each nested SELECT through the same Executor
// before CompileFilter ever sees the statement. CompileFilter refuses to
// compile an InExpr that still carries a live Subquery, which is what
// forces every caller through this step first (spec §4.7 step 2).
func resolveSubqueries(ctx context.Context, e *Executor, stmt *SelectStatement) error {
	var err error
	stmt.Where, err = resolveExprSubqueries(ctx, e, stmt.Where)
	if err != nil {
		return err
	}
	stmt.Having, err = resolveExprSubqueries(ctx, e, stmt.Having)
	return err
}

func resolveExprSubqueries(ctx context.Context, e *Executor, expr Expr) (Expr, error) {
	switch v := expr.(type) {
	case nil:
		return nil, nil
	case BinaryExpr:
		l, err := resolveExprSubqueries(ctx, e, v.Left)
		if err != nil {
			return nil, err
		}
		r, err := resolveExprSubqueries(ctx, e, v.Right)
		if err != nil {
			return nil, err
		}
		v.Left, v.Right = l, r
		return v, nil
	case NotExpr:
		inner, err := resolveExprSubqueries(ctx, e, v.Expr)
		if err != nil {
			return nil, err
		}
		v.Expr = inner
		return v, nil
	case InExpr:
		if v.Subquery == nil {
			return v, nil
		}
		rows, err := e.executeSelect(ctx, v.Subquery)
		if err != nil {
			return nil, err
		}
		list, err := scalarColumn(rows)
		if err != nil {
			return nil, err
		}
		return InExpr{Expr: v.Expr, List: list, Negate: v.Negate}, nil
	case SubqueryExpr:
		rows, err := e.executeSelect(ctx, v.Stmt)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return Literal{Value: nil}, nil
		}
		if len(rows) > 1 {
			return nil, &ParseError{Code: ErrArityMismatch, Message: "scalar subquery returned more than one row"}
		}
		for _, val := range rows[0] {
			return Literal{Value: val}, nil
		}
		return Literal{Value: nil}, nil
	}
	return expr, nil
}

// scalarColumn flattens a subquery's single-column result set into a list
// of literal expressions usable on the right-hand side of IN.
func scalarColumn(rows []Row) ([]Expr, error) {
	out := make([]Expr, 0, len(rows))
	for _, r := range rows {
		if len(r) != 1 {
			return nil, &ParseError{Code: ErrArityMismatch, Message: "IN subquery must select exactly one column"}
		}
		for _, v := range r {
			out = append(out, Literal{Value: v})
		}
	}
	return out, nil
}
