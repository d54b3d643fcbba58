package query

// Position locates a token in source text, mirroring the line/column
// tracking idiom of a hand-written recursive-descent SQL lexer.
type Position struct {
	Line   int
	Column int
}

// Statement is any top-level parsed VelesQL statement.
type Statement interface {
	statementNode()
}

// Expr is any node in a WHERE/ON/HAVING expression tree.
type Expr interface {
	exprNode()
}

// SelectStatement is `SELECT cols FROM coll [JOIN ...] [WHERE ...]
// [GROUP BY ...] [HAVING ...] [ORDER BY ...] [LIMIT n] [WITH (...)]`
// (spec §6), optionally chained into a compound statement.
type SelectStatement struct {
	Columns  []SelectItem
	From     string
	FromAlias string
	Joins    []JoinClause
	Where    Expr
	GroupBy  []Expr
	Having   Expr
	OrderBy  []OrderItem
	Limit    *int
	With     map[string]Literal

	Compound *CompoundClause // non-nil for `... UNION|INTERSECT|EXCEPT SELECT ...`
}

func (*SelectStatement) statementNode() {}

// CompoundSetOp is the set operator joining two SELECTs.
type CompoundSetOp int

const (
	SetUnion CompoundSetOp = iota
	SetUnionAll
	SetIntersect
	SetExcept
)

// CompoundClause chains the next SELECT onto a statement via a set
// operator (spec §4.7 step 9).
type CompoundClause struct {
	Op    CompoundSetOp
	Right *SelectStatement
}

// SelectItem is one projected column or expression, optionally aliased.
type SelectItem struct {
	Expr  Expr
	Alias string
	Star  bool // true for a bare `*`
}

// JoinKind mirrors the SQL join keyword parsed, including the ones the
// executor must reject (spec §4.7 step 8).
type JoinKind int

const (
	JoinInner JoinKind = iota
	JoinLeft
	JoinRight
	JoinFull
)

// JoinClause is one `JOIN coll2 ON ...` or `JOIN coll2 USING (...)`.
type JoinClause struct {
	Kind    JoinKind
	Table   string
	Alias   string
	On      Expr
	Using   []string // non-empty for USING(...); always UnsupportedFeature at execution
}

// OrderItem is one ORDER BY term.
type OrderItem struct {
	Expr Expr
	Desc bool
}

// MatchStatement is `MATCH (a:Label)-[:REL*min..max]->(b) WHERE ... RETURN
// ...` (spec §6).
type MatchStatement struct {
	Elements []PatternElement
	Where    Expr
	Return   []SelectItem
	OrderBy  []OrderItem
	Limit    *int
}

func (*MatchStatement) statementNode() {}

// Direction is the arrow direction of a parsed relationship pattern.
type Direction int

const (
	DirRight Direction = iota // (a)-[...]->(b)
	DirLeft                   // (a)<-[...]-(b)
	DirEither                 // (a)-[...]-(b)
)

// PatternElement is one `(alias:Label)` node or `-[alias:REL*min..max]->`
// relationship in a MATCH pattern chain.
type PatternElement struct {
	IsNode bool

	// Node fields
	NodeAlias string
	NodeLabel string

	// Relationship fields
	EdgeAlias string
	EdgeLabel string
	MinHops   int
	MaxHops   int
	Direction Direction
}

// --- Expressions ---

// Literal wraps a scalar or vector constant.
type Literal struct {
	Value any // int64, float64, string, bool, nil, []float32
}

func (Literal) exprNode() {}

// ParamRef is a bound query parameter like `$q`.
type ParamRef struct {
	Name string
}

func (ParamRef) exprNode() {}

// ColumnRef is `alias.column` or a bare `column`.
type ColumnRef struct {
	Table  string
	Column string
}

func (ColumnRef) exprNode() {}

// StarExpr is a bare `*` in a projection list.
type StarExpr struct{}

func (StarExpr) exprNode() {}

// BinaryOp enumerates binary comparison/logical/arithmetic operators.
type BinaryOp int

const (
	OpEq BinaryOp = iota
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpAnd
	OpOr
	OpAdd
	OpSub
)

// BinaryExpr is `left OP right`.
type BinaryExpr struct {
	Op    BinaryOp
	Left  Expr
	Right Expr
}

func (BinaryExpr) exprNode() {}

// NotExpr negates its operand.
type NotExpr struct {
	Expr Expr
}

func (NotExpr) exprNode() {}

// LikeExpr is `expr [NOT] [I]LIKE pattern`.
type LikeExpr struct {
	Expr            Expr
	Pattern         Expr
	Negate          bool
	CaseInsensitive bool
}

func (LikeExpr) exprNode() {}

// BetweenExpr is `expr [NOT] BETWEEN low AND high`.
type BetweenExpr struct {
	Expr   Expr
	Low    Expr
	High   Expr
	Negate bool
}

func (BetweenExpr) exprNode() {}

// InExpr is `expr [NOT] IN (list...)` or `expr [NOT] IN (subquery)`.
type InExpr struct {
	Expr     Expr
	List     []Expr
	Subquery *SelectStatement
	Negate   bool
}

func (InExpr) exprNode() {}

// IsNullExpr is `expr IS [NOT] NULL`.
type IsNullExpr struct {
	Expr   Expr
	Negate bool
}

func (IsNullExpr) exprNode() {}

// ContainsExpr is a text/array containment predicate.
type ContainsExpr struct {
	Expr  Expr
	Value Expr
}

func (ContainsExpr) exprNode() {}

// FuncCall is a scalar or aggregate function invocation, e.g.
// `similarity(field, $q)`, `COUNT(*)`, `NOW()`, `INTERVAL '7 days'`.
type FuncCall struct {
	Name string
	Args []Expr
}

func (FuncCall) exprNode() {}

// MatchExpr is `field MATCH 'query'` (BM25 text predicate).
type MatchExpr struct {
	Field Expr
	Query Expr
}

func (MatchExpr) exprNode() {}

// NearExpr is `field NEAR $q`.
type NearExpr struct {
	Field Expr
	Query Expr
}

func (NearExpr) exprNode() {}

// FusionSpec parses `USING FUSION (strategy = ..., k = ..., weights = [...])`.
type FusionSpec struct {
	Strategy string // "rrf" | "weighted" | "average" | "maximum"
	K        int
	Weights  []float64
}

// NearFusedExpr is `NEAR_FUSED($q1, $q2, ...) USING FUSION (...)`.
type NearFusedExpr struct {
	Field   Expr
	Queries []Expr
	Fusion  FusionSpec
}

func (NearFusedExpr) exprNode() {}

// SubqueryExpr embeds a scalar or IN-list subquery as an expression.
type SubqueryExpr struct {
	Stmt *SelectStatement
}

func (SubqueryExpr) exprNode() {}
