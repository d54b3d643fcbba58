package query

// PlanTag names the shape of execution chosen for a statement, surfaced
// verbatim through EXPLAIN.
type PlanTag string

const (
	PlanVectorOnly  PlanTag = "VectorOnly"
	PlanGraphOnly   PlanTag = "GraphOnly"
	PlanVectorFirst PlanTag = "VectorFirst"
	PlanGraphFirst  PlanTag = "GraphFirst"
	PlanParallel    PlanTag = "Parallel"
)

// PlanInput summarizes the shape of a parsed query: which clause kinds are
// present. The planner never inspects literal values, only presence/absence.
type PlanInput struct {
	HasVector  bool
	HasText    bool
	HasGraph   bool
	HasFilter  bool
	HasLimit   bool
	HasOrderBy bool
}

// Plan is the chosen execution strategy plus its overfetch factor.
type Plan struct {
	Tag       PlanTag
	Overfetch int
}

// defaultOverfetch is the baseline multiplier applied to LIMIT before a
// post-filter or fusion pass trims back down to the requested size.
const defaultOverfetch = 4

// ChoosePlan implements the planner heuristics: vector/graph presence picks
// the tag, filter/order-by/limit presence adjusts the overfetch factor so a
// post-filter pass isn't starved of candidates.
func ChoosePlan(in PlanInput) Plan {
	var tag PlanTag
	switch {
	case in.HasVector && !in.HasGraph:
		tag = PlanVectorOnly
	case in.HasGraph && !in.HasVector:
		tag = PlanGraphOnly
	case in.HasVector && in.HasGraph:
		// The tag depends only on which clause kinds are present: a WHERE
		// filter together with ORDER BY picks GraphFirst, a filter alone
		// picks VectorFirst, and no filter runs both passes concurrently and
		// fuses. Where the filter applies, what ORDER BY sorts on and how
		// selective the MATCH is are not considered.
		switch {
		case in.HasFilter && in.HasOrderBy:
			tag = PlanGraphFirst
		case in.HasFilter:
			tag = PlanVectorFirst
		default:
			tag = PlanParallel
		}
	default:
		// neither vector nor graph: a plain relational query still needs a
		// tag for EXPLAIN; VectorOnly degrades gracefully to "scan" when no
		// vector index is consulted.
		tag = PlanVectorOnly
	}

	overfetch := 1
	if in.HasLimit {
		overfetch = defaultOverfetch
		if in.HasFilter {
			overfetch *= 2
		}
		if tag == PlanParallel {
			overfetch *= 2
		}
	}

	return Plan{Tag: tag, Overfetch: overfetch}
}

// PlanInputFromSelect derives a PlanInput from a parsed SELECT statement by
// walking its WHERE tree for vector/text predicates.
func PlanInputFromSelect(stmt *SelectStatement) PlanInput {
	in := PlanInput{
		HasFilter:  stmt.Where != nil,
		HasLimit:   stmt.Limit != nil,
		HasOrderBy: len(stmt.OrderBy) > 0,
	}
	walkExprKinds(stmt.Where, &in)
	for _, item := range stmt.Columns {
		walkExprKinds(item.Expr, &in)
	}
	for _, o := range stmt.OrderBy {
		walkExprKinds(o.Expr, &in)
	}
	return in
}

// PlanInputFromMatch derives a PlanInput from a parsed MATCH statement.
func PlanInputFromMatch(stmt *MatchStatement) PlanInput {
	in := PlanInput{
		HasGraph:   true,
		HasFilter:  stmt.Where != nil,
		HasLimit:   stmt.Limit != nil,
		HasOrderBy: len(stmt.OrderBy) > 0,
	}
	walkExprKinds(stmt.Where, &in)
	for _, item := range stmt.Return {
		walkExprKinds(item.Expr, &in)
	}
	return in
}

func walkExprKinds(e Expr, in *PlanInput) {
	switch v := e.(type) {
	case nil:
		return
	case NearExpr:
		in.HasVector = true
	case NearFusedExpr:
		in.HasVector = true
		for _, q := range v.Queries {
			walkExprKinds(q, in)
		}
	case MatchExpr:
		in.HasText = true
	case FuncCall:
		if v.Name == "SIMILARITY" {
			in.HasVector = true
		}
		for _, a := range v.Args {
			walkExprKinds(a, in)
		}
	case BinaryExpr:
		walkExprKinds(v.Left, in)
		walkExprKinds(v.Right, in)
	case NotExpr:
		walkExprKinds(v.Expr, in)
	case LikeExpr:
		walkExprKinds(v.Expr, in)
		walkExprKinds(v.Pattern, in)
	case BetweenExpr:
		walkExprKinds(v.Expr, in)
		walkExprKinds(v.Low, in)
		walkExprKinds(v.High, in)
	case InExpr:
		walkExprKinds(v.Expr, in)
		for _, e2 := range v.List {
			walkExprKinds(e2, in)
		}
	case IsNullExpr:
		walkExprKinds(v.Expr, in)
	case ContainsExpr:
		walkExprKinds(v.Expr, in)
		walkExprKinds(v.Value, in)
	}
}
