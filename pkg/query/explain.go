package query

import (
	"fmt"
	"strings"
)

// PlanNodeKind names one node of an EXPLAIN plan tree (spec's EXPLAIN
// output: Scan, FilteredScan, FusedSearch, CrossStoreSearch, Join,
// Compound, Sort, Limit).
type PlanNodeKind string

const (
	NodeScan             PlanNodeKind = "Scan"
	NodeFilteredScan     PlanNodeKind = "FilteredScan"
	NodeFusedSearch      PlanNodeKind = "FusedSearch"
	NodeCrossStoreSearch PlanNodeKind = "CrossStoreSearch"
	NodeJoin             PlanNodeKind = "Join"
	NodeCompound         PlanNodeKind = "Compound"
	NodeSort             PlanNodeKind = "Sort"
	NodeLimit            PlanNodeKind = "Limit"
)

// PlanNode is one node of an EXPLAIN tree, annotated with the attributes
// relevant to its kind (strategy/n_queries for FusedSearch,
// strategy/overfetch/cost for CrossStoreSearch).
type PlanNode struct {
	Kind     PlanNodeKind
	Detail   string
	Children []*PlanNode
}

// Explain builds the EXPLAIN plan tree for stmt without executing it.
func Explain(stmt Statement) (*PlanNode, error) {
	switch s := stmt.(type) {
	case *SelectStatement:
		return explainSelect(s), nil
	case *MatchStatement:
		return explainMatch(s), nil
	}
	return nil, fmt.Errorf("velesql: cannot explain %T", stmt)
}

func explainSelect(stmt *SelectStatement) *PlanNode {
	in := PlanInputFromSelect(stmt)
	plan := ChoosePlan(in)

	vecExpr, textExpr, _ := extractSpecialPredicates(stmt.Where)

	var root *PlanNode
	switch {
	case vecExpr != nil && textExpr != nil:
		root = &PlanNode{
			Kind:   NodeCrossStoreSearch,
			Detail: fmt.Sprintf("strategy=%s overfetch=%d cost=%s", plan.Tag, plan.Overfetch, estimateCost(plan)),
		}
	case vecExpr != nil:
		if nf, ok := vecExpr.(NearFusedExpr); ok {
			root = &PlanNode{Kind: NodeFusedSearch, Detail: fmt.Sprintf("strategy=%s n_queries=%d", nf.Fusion.Strategy, len(nf.Queries))}
		} else {
			root = &PlanNode{Kind: NodeScan, Detail: "vector index"}
		}
	case textExpr != nil:
		root = &PlanNode{Kind: NodeScan, Detail: "text index"}
	default:
		root = &PlanNode{Kind: NodeScan, Detail: stmt.From}
	}

	if stmt.Where != nil {
		root = &PlanNode{Kind: NodeFilteredScan, Detail: "WHERE", Children: []*PlanNode{root}}
	}
	for _, j := range stmt.Joins {
		root = &PlanNode{Kind: NodeJoin, Detail: fmt.Sprintf("%s ON %s", j.Table, exprSummary(j.On)), Children: []*PlanNode{root}}
	}
	if len(stmt.OrderBy) > 0 {
		root = &PlanNode{Kind: NodeSort, Detail: orderBySummary(stmt.OrderBy), Children: []*PlanNode{root}}
	}
	if stmt.Limit != nil {
		root = &PlanNode{Kind: NodeLimit, Detail: fmt.Sprintf("%d", *stmt.Limit), Children: []*PlanNode{root}}
	}
	if stmt.Compound != nil {
		right := explainSelect(stmt.Compound.Right)
		root = &PlanNode{Kind: NodeCompound, Detail: compoundOpName(stmt.Compound.Op), Children: []*PlanNode{root, right}}
	}
	return root
}

func explainMatch(stmt *MatchStatement) *PlanNode {
	root := &PlanNode{Kind: NodeScan, Detail: "graph traversal"}
	if stmt.Where != nil {
		root = &PlanNode{Kind: NodeFilteredScan, Detail: "WHERE", Children: []*PlanNode{root}}
	}
	if len(stmt.OrderBy) > 0 {
		root = &PlanNode{Kind: NodeSort, Detail: orderBySummary(stmt.OrderBy), Children: []*PlanNode{root}}
	}
	if stmt.Limit != nil {
		root = &PlanNode{Kind: NodeLimit, Detail: fmt.Sprintf("%d", *stmt.Limit), Children: []*PlanNode{root}}
	}
	return root
}

func estimateCost(plan Plan) string {
	switch plan.Tag {
	case PlanParallel:
		return "max(vector,graph)"
	case PlanVectorFirst, PlanGraphFirst:
		return "sequential"
	default:
		return "single-pass"
	}
}

func compoundOpName(op CompoundSetOp) string {
	switch op {
	case SetUnion:
		return "UNION"
	case SetUnionAll:
		return "UNION ALL"
	case SetIntersect:
		return "INTERSECT"
	case SetExcept:
		return "EXCEPT"
	}
	return "?"
}

func orderBySummary(items []OrderItem) string {
	parts := make([]string, 0, len(items))
	for _, it := range items {
		dir := "ASC"
		if it.Desc {
			dir = "DESC"
		}
		parts = append(parts, exprSummary(it.Expr)+" "+dir)
	}
	return strings.Join(parts, ", ")
}

func exprSummary(e Expr) string {
	switch v := e.(type) {
	case nil:
		return ""
	case ColumnRef:
		if v.Table != "" {
			return v.Table + "." + v.Column
		}
		return v.Column
	case BinaryExpr:
		return exprSummary(v.Left) + " op " + exprSummary(v.Right)
	case FuncCall:
		return strings.ToLower(v.Name) + "(...)"
	}
	return "expr"
}

// String renders the plan tree as indented text, the shape a CLI's EXPLAIN
// output prints directly.
func (n *PlanNode) String() string {
	var sb strings.Builder
	n.write(&sb, 0)
	return sb.String()
}

func (n *PlanNode) write(sb *strings.Builder, depth int) {
	sb.WriteString(strings.Repeat("  ", depth))
	sb.WriteString(string(n.Kind))
	if n.Detail != "" {
		sb.WriteString(" (")
		sb.WriteString(n.Detail)
		sb.WriteString(")")
	}
	sb.WriteString("\n")
	for _, c := range n.Children {
		c.write(sb, depth+1)
	}
}
