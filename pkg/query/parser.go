package query

import (
	"strconv"
	"strings"
)

// Parser is a recursive-descent VelesQL parser with a single token of
// lookahead, mirroring the hand-written-SQL-tokenizer idiom of reading
// tokens eagerly and dispatching on keyword type.
type Parser struct {
	lex  *Lexer
	cur  Token
	peek Token
}

// NewParser builds a Parser over src.
func NewParser(src string) *Parser {
	p := &Parser{lex: NewLexer(src)}
	p.advance()
	p.advance()
	return p
}

func (p *Parser) advance() {
	p.cur = p.peek
	p.peek = p.lex.Next()
}

func (p *Parser) at(t TokenType) bool { return p.cur.Type == t }

func (p *Parser) expect(t TokenType, what string) (Token, error) {
	if p.cur.Type != t {
		return Token{}, newParseError(ErrUnexpectedToken, p.cur.Pos, "expected %s, got %q", what, p.cur.Literal)
	}
	tok := p.cur
	p.advance()
	return tok, nil
}

// Parse parses one VelesQL statement (SELECT, possibly compound, or
// MATCH).
func Parse(src string) (Statement, error) {
	p := NewParser(src)
	stmt, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	if !p.at(TokEOF) && !p.at(TokSemicolon) {
		return nil, newParseError(ErrUnexpectedToken, p.cur.Pos, "unexpected trailing token %q", p.cur.Literal)
	}
	return stmt, nil
}

func (p *Parser) parseStatement() (Statement, error) {
	switch p.cur.Type {
	case TokSelect:
		return p.parseSelect()
	case TokMatch:
		return p.parseMatchStatement()
	default:
		return nil, newParseError(ErrUnexpectedToken, p.cur.Pos, "expected SELECT or MATCH, got %q", p.cur.Literal)
	}
}

// --- SELECT ---

func (p *Parser) parseSelect() (*SelectStatement, error) {
	if _, err := p.expect(TokSelect, "SELECT"); err != nil {
		return nil, err
	}

	stmt := &SelectStatement{}

	cols, err := p.parseSelectList()
	if err != nil {
		return nil, err
	}
	stmt.Columns = cols

	if _, err := p.expect(TokFrom, "FROM"); err != nil {
		return nil, err
	}
	table, alias, err := p.parseTableRef()
	if err != nil {
		return nil, err
	}
	stmt.From, stmt.FromAlias = table, alias

	for p.at(TokJoin) || p.at(TokInner) || p.at(TokLeft) || p.at(TokRight) || p.at(TokFull) {
		jc, err := p.parseJoinClause()
		if err != nil {
			return nil, err
		}
		stmt.Joins = append(stmt.Joins, jc)
	}

	if p.at(TokWhere) {
		p.advance()
		cond, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Where = cond
	}

	if p.at(TokGroup) {
		p.advance()
		if _, err := p.expect(TokBy, "BY"); err != nil {
			return nil, err
		}
		exprs, err := p.parseExprList()
		if err != nil {
			return nil, err
		}
		stmt.GroupBy = exprs
	}

	if p.at(TokHaving) {
		p.advance()
		cond, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Having = cond
	}

	if p.at(TokOrder) {
		p.advance()
		if _, err := p.expect(TokBy, "BY"); err != nil {
			return nil, err
		}
		items, err := p.parseOrderByList()
		if err != nil {
			return nil, err
		}
		stmt.OrderBy = items
	}

	if p.at(TokLimit) {
		p.advance()
		n, err := p.parseIntLiteral()
		if err != nil {
			return nil, err
		}
		stmt.Limit = &n
	}

	if p.at(TokWith) {
		p.advance()
		opts, err := p.parseWithOptions()
		if err != nil {
			return nil, err
		}
		stmt.With = opts
	}

	if p.at(TokUnion) || p.at(TokIntersect) || p.at(TokExcept) {
		op := SetUnion
		switch p.cur.Type {
		case TokUnion:
			p.advance()
			if p.at(TokAll) {
				p.advance()
				op = SetUnionAll
			}
		case TokIntersect:
			p.advance()
			op = SetIntersect
		case TokExcept:
			p.advance()
			op = SetExcept
		}
		right, err := p.parseSelect()
		if err != nil {
			return nil, err
		}
		stmt.Compound = &CompoundClause{Op: op, Right: right}
	}

	return stmt, nil
}

func (p *Parser) parseSelectList() ([]SelectItem, error) {
	var items []SelectItem
	for {
		if p.at(TokStar) {
			p.advance()
			items = append(items, SelectItem{Star: true})
		} else {
			expr, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			alias := ""
			if p.at(TokAs) {
				p.advance()
				tok, err := p.expect(TokIdent, "alias")
				if err != nil {
					return nil, err
				}
				alias = tok.Literal
			}
			items = append(items, SelectItem{Expr: expr, Alias: alias})
		}
		if p.at(TokComma) {
			p.advance()
			continue
		}
		break
	}
	return items, nil
}

func (p *Parser) parseTableRef() (table, alias string, err error) {
	tok, err := p.expect(TokIdent, "table name")
	if err != nil {
		return "", "", err
	}
	table = tok.Literal
	if p.at(TokAs) {
		p.advance()
		aliasTok, err := p.expect(TokIdent, "alias")
		if err != nil {
			return "", "", err
		}
		return table, aliasTok.Literal, nil
	}
	if p.at(TokIdent) {
		aliasTok := p.cur
		p.advance()
		return table, aliasTok.Literal, nil
	}
	return table, "", nil
}

func (p *Parser) parseJoinClause() (JoinClause, error) {
	kind := JoinInner
	switch p.cur.Type {
	case TokInner:
		p.advance()
	case TokLeft:
		p.advance()
		kind = JoinLeft
	case TokRight:
		p.advance()
		kind = JoinRight
	case TokFull:
		p.advance()
		kind = JoinFull
	}
	if _, err := p.expect(TokJoin, "JOIN"); err != nil {
		return JoinClause{}, err
	}
	table, alias, err := p.parseTableRef()
	if err != nil {
		return JoinClause{}, err
	}
	jc := JoinClause{Kind: kind, Table: table, Alias: alias}

	switch {
	case p.at(TokOn):
		p.advance()
		cond, err := p.parseExpr()
		if err != nil {
			return JoinClause{}, err
		}
		jc.On = cond
	case p.at(TokUsing):
		p.advance()
		if _, err := p.expect(TokLParen, "("); err != nil {
			return JoinClause{}, err
		}
		for {
			colTok, err := p.expect(TokIdent, "column name")
			if err != nil {
				return JoinClause{}, err
			}
			jc.Using = append(jc.Using, colTok.Literal)
			if p.at(TokComma) {
				p.advance()
				continue
			}
			break
		}
		if _, err := p.expect(TokRParen, ")"); err != nil {
			return JoinClause{}, err
		}
	default:
		return JoinClause{}, newParseError(ErrUnexpectedToken, p.cur.Pos, "expected ON or USING after JOIN table")
	}
	return jc, nil
}

func (p *Parser) parseOrderByList() ([]OrderItem, error) {
	var items []OrderItem
	for {
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		desc := false
		if p.at(TokAsc) {
			p.advance()
		} else if p.at(TokDesc) {
			p.advance()
			desc = true
		}
		items = append(items, OrderItem{Expr: expr, Desc: desc})
		if p.at(TokComma) {
			p.advance()
			continue
		}
		break
	}
	return items, nil
}

func (p *Parser) parseWithOptions() (map[string]Literal, error) {
	if _, err := p.expect(TokLParen, "("); err != nil {
		return nil, err
	}
	opts := make(map[string]Literal)
	for !p.at(TokRParen) {
		nameTok, err := p.expect(TokIdent, "option name")
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokEq, "="); err != nil {
			return nil, err
		}
		val, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		lit, ok := val.(Literal)
		if !ok {
			return nil, newParseError(ErrUnknownClause, p.cur.Pos, "WITH option %q must be a literal", nameTok.Literal)
		}
		opts[strings.ToLower(nameTok.Literal)] = lit
		if p.at(TokComma) {
			p.advance()
			continue
		}
	}
	if _, err := p.expect(TokRParen, ")"); err != nil {
		return nil, err
	}
	return opts, nil
}

func (p *Parser) parseIntLiteral() (int, error) {
	if !p.at(TokInt) {
		return 0, newParseError(ErrInvalidNumber, p.cur.Pos, "expected integer, got %q", p.cur.Literal)
	}
	n, err := strconv.Atoi(p.cur.Literal)
	if err != nil {
		return 0, newParseError(ErrInvalidNumber, p.cur.Pos, "invalid integer %q", p.cur.Literal)
	}
	p.advance()
	return n, nil
}

// --- MATCH ---

func (p *Parser) parseMatchStatement() (*MatchStatement, error) {
	if _, err := p.expect(TokMatch, "MATCH"); err != nil {
		return nil, err
	}
	stmt := &MatchStatement{}

	elems, err := p.parsePatternChain()
	if err != nil {
		return nil, err
	}
	stmt.Elements = elems

	if p.at(TokWhere) {
		p.advance()
		cond, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Where = cond
	}

	// RETURN is a soft keyword here (not reserved elsewhere).
	if p.at(TokIdent) && strings.EqualFold(p.cur.Literal, "RETURN") {
		p.advance()
		items, err := p.parseSelectList()
		if err != nil {
			return nil, err
		}
		stmt.Return = items
	} else {
		return nil, newParseError(ErrUnexpectedToken, p.cur.Pos, "expected RETURN, got %q", p.cur.Literal)
	}

	if p.at(TokOrder) {
		p.advance()
		if _, err := p.expect(TokBy, "BY"); err != nil {
			return nil, err
		}
		items, err := p.parseOrderByList()
		if err != nil {
			return nil, err
		}
		stmt.OrderBy = items
	}

	if p.at(TokLimit) {
		p.advance()
		n, err := p.parseIntLiteral()
		if err != nil {
			return nil, err
		}
		stmt.Limit = &n
	}

	return stmt, nil
}

func (p *Parser) parsePatternChain() ([]PatternElement, error) {
	var elems []PatternElement
	node, err := p.parseNodePattern()
	if err != nil {
		return nil, err
	}
	elems = append(elems, node)

	for p.at(TokMinus) || p.at(TokLt) {
		edge, err := p.parseEdgePattern()
		if err != nil {
			return nil, err
		}
		elems = append(elems, edge)
		next, err := p.parseNodePattern()
		if err != nil {
			return nil, err
		}
		elems = append(elems, next)
	}
	return elems, nil
}

func (p *Parser) parseNodePattern() (PatternElement, error) {
	if _, err := p.expect(TokLParen, "("); err != nil {
		return PatternElement{}, err
	}
	el := PatternElement{IsNode: true}
	if p.at(TokIdent) {
		el.NodeAlias = p.cur.Literal
		p.advance()
	}
	if p.atColon() {
		p.advance()
		labelTok, err := p.expect(TokIdent, "label")
		if err != nil {
			return PatternElement{}, err
		}
		el.NodeLabel = labelTok.Literal
	}
	if _, err := p.expect(TokRParen, ")"); err != nil {
		return PatternElement{}, err
	}
	return el, nil
}

// atColon reports whether the current token is a ':' label separator. The
// lexer has no dedicated colon token since patterns are the only place it
// appears, so it lexes as TokIllegal carrying literal ":".
func (p *Parser) atColon() bool {
	return p.cur.Type == TokIllegal && p.cur.Literal == ":"
}

func (p *Parser) parseEdgePattern() (PatternElement, error) {
	el := PatternElement{IsNode: false, Direction: DirRight, MinHops: 1, MaxHops: 1}

	leftArrow := false
	if p.at(TokLt) {
		leftArrow = true
		p.advance()
	}
	if _, err := p.expect(TokMinus, "-"); err != nil {
		return PatternElement{}, err
	}
	if p.at(TokLBracket) {
		p.advance()
		if p.at(TokIdent) {
			el.EdgeAlias = p.cur.Literal
			p.advance()
		}
		if p.atColon() {
			p.advance()
			labelTok, err := p.expect(TokIdent, "relationship label")
			if err != nil {
				return PatternElement{}, err
			}
			el.EdgeLabel = labelTok.Literal
		}
		if p.at(TokStar) {
			p.advance()
			min, max, err := p.parseHopRange()
			if err != nil {
				return PatternElement{}, err
			}
			el.MinHops, el.MaxHops = min, max
		}
		if _, err := p.expect(TokRBracket, "]"); err != nil {
			return PatternElement{}, err
		}
	}
	if _, err := p.expect(TokMinus, "-"); err != nil {
		return PatternElement{}, err
	}
	rightArrow := false
	if p.at(TokGt) {
		rightArrow = true
		p.advance()
	}

	switch {
	case leftArrow && !rightArrow:
		el.Direction = DirLeft
	case rightArrow && !leftArrow:
		el.Direction = DirRight
	default:
		el.Direction = DirEither
	}
	return el, nil
}

func (p *Parser) parseHopRange() (min, max int, err error) {
	min = 1
	max = 1
	if p.at(TokInt) {
		min, err = p.parseIntLiteral()
		if err != nil {
			return 0, 0, err
		}
		max = min
	}
	if p.at(TokDot) { // ".."
		p.advance()
		if _, err := p.expect(TokDot, "."); err != nil {
			return 0, 0, err
		}
		if p.at(TokInt) {
			max, err = p.parseIntLiteral()
			if err != nil {
				return 0, 0, err
			}
		} else {
			max = -1 // unbounded
		}
	}
	return min, max, nil
}

// --- Expressions (precedence-climbing) ---

func (p *Parser) parseExprList() ([]Expr, error) {
	var exprs []Expr
	for {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, e)
		if p.at(TokComma) {
			p.advance()
			continue
		}
		break
	}
	return exprs, nil
}

func (p *Parser) parseExpr() (Expr, error) { return p.parseOr() }

func (p *Parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.at(TokOr) {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: OpOr, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseAnd() (Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.at(TokAnd) {
		p.advance()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: OpAnd, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseNot() (Expr, error) {
	if p.at(TokNot) {
		p.advance()
		e, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return NotExpr{Expr: e}, nil
	}
	return p.parseComparison()
}

func (p *Parser) parseComparison() (Expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}

	switch p.cur.Type {
	case TokEq, TokNe, TokLt, TokLe, TokGt, TokGe:
		op := binaryOpFor(p.cur.Type)
		p.advance()
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return BinaryExpr{Op: op, Left: left, Right: right}, nil

	case TokNear:
		p.advance()
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return NearExpr{Field: left, Query: right}, nil

	case TokMatch:
		p.advance()
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return MatchExpr{Field: left, Query: right}, nil

	case TokContains:
		p.advance()
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return ContainsExpr{Expr: left, Value: right}, nil

	case TokLike, TokILike:
		ci := p.cur.Type == TokILike
		p.advance()
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return LikeExpr{Expr: left, Pattern: right, CaseInsensitive: ci}, nil

	case TokBetween:
		p.advance()
		low, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokAnd, "AND"); err != nil {
			return nil, err
		}
		high, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return BetweenExpr{Expr: left, Low: low, High: high}, nil

	case TokIn:
		p.advance()
		return p.parseInTail(left, false)

	case TokIs:
		p.advance()
		negate := false
		if p.at(TokNot) {
			negate = true
			p.advance()
		}
		if _, err := p.expect(TokNull, "NULL"); err != nil {
			return nil, err
		}
		return IsNullExpr{Expr: left, Negate: negate}, nil

	case TokNot:
		p.advance()
		switch p.cur.Type {
		case TokBetween:
			p.advance()
			low, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(TokAnd, "AND"); err != nil {
				return nil, err
			}
			high, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			return BetweenExpr{Expr: left, Low: low, High: high, Negate: true}, nil
		case TokIn:
			p.advance()
			return p.parseInTail(left, true)
		case TokLike, TokILike:
			ci := p.cur.Type == TokILike
			p.advance()
			right, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			return LikeExpr{Expr: left, Pattern: right, Negate: true, CaseInsensitive: ci}, nil
		}
		return nil, newParseError(ErrUnexpectedToken, p.cur.Pos, "unexpected token after NOT: %q", p.cur.Literal)
	}
	return left, nil
}

func (p *Parser) parseInTail(left Expr, negate bool) (Expr, error) {
	if _, err := p.expect(TokLParen, "("); err != nil {
		return nil, err
	}
	if p.at(TokSelect) {
		sub, err := p.parseSelect()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokRParen, ")"); err != nil {
			return nil, err
		}
		return InExpr{Expr: left, Subquery: sub, Negate: negate}, nil
	}
	list, err := p.parseExprList()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokRParen, ")"); err != nil {
		return nil, err
	}
	return InExpr{Expr: left, List: list, Negate: negate}, nil
}

func (p *Parser) parseAdditive() (Expr, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for p.at(TokPlus) || p.at(TokMinus) {
		op := OpAdd
		if p.cur.Type == TokMinus {
			op = OpSub
		}
		p.advance()
		right, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func binaryOpFor(t TokenType) BinaryOp {
	switch t {
	case TokEq:
		return OpEq
	case TokNe:
		return OpNe
	case TokLt:
		return OpLt
	case TokLe:
		return OpLe
	case TokGt:
		return OpGt
	case TokGe:
		return OpGe
	}
	return OpEq
}

func (p *Parser) parsePrimary() (Expr, error) {
	switch p.cur.Type {
	case TokInt:
		n, err := strconv.ParseInt(p.cur.Literal, 10, 64)
		if err != nil {
			return nil, newParseError(ErrInvalidNumber, p.cur.Pos, "invalid integer %q", p.cur.Literal)
		}
		p.advance()
		return Literal{Value: n}, nil

	case TokFloat:
		f, err := strconv.ParseFloat(p.cur.Literal, 64)
		if err != nil {
			return nil, newParseError(ErrInvalidNumber, p.cur.Pos, "invalid float %q", p.cur.Literal)
		}
		p.advance()
		return Literal{Value: f}, nil

	case TokString:
		s := p.cur.Literal
		p.advance()
		return Literal{Value: s}, nil

	case TokTrue:
		p.advance()
		return Literal{Value: true}, nil

	case TokFalse:
		p.advance()
		return Literal{Value: false}, nil

	case TokNull:
		p.advance()
		return Literal{Value: nil}, nil

	case TokParam:
		name := strings.TrimPrefix(p.cur.Literal, "$")
		p.advance()
		return ParamRef{Name: name}, nil

	case TokLBracket:
		return p.parseVectorLiteral()

	case TokNearFused:
		return p.parseNearFused()

	case TokLParen:
		p.advance()
		if p.at(TokSelect) {
			sub, err := p.parseSelect()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(TokRParen, ")"); err != nil {
				return nil, err
			}
			return SubqueryExpr{Stmt: sub}, nil
		}
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokRParen, ")"); err != nil {
			return nil, err
		}
		return e, nil

	case TokStar:
		p.advance()
		return StarExpr{}, nil

	case TokIdent:
		return p.parseIdentOrCall()

	case TokIllegal:
		if len(p.cur.Literal) > 1 {
			return nil, newParseError(ErrUnterminatedLiteral, p.cur.Pos, "unterminated string literal")
		}
		return nil, newParseError(ErrUnsupportedSyntax, p.cur.Pos, "unrecognized character %q", p.cur.Literal)
	}
	return nil, newParseError(ErrUnexpectedToken, p.cur.Pos, "unexpected token %q", p.cur.Literal)
}

func (p *Parser) parseIdentOrCall() (Expr, error) {
	name := p.cur.Literal
	p.advance()

	if p.at(TokDot) {
		p.advance()
		if p.at(TokStar) {
			p.advance()
			return StarExpr{}, nil
		}
		colTok, err := p.expect(TokIdent, "column name")
		if err != nil {
			return nil, err
		}
		return ColumnRef{Table: name, Column: colTok.Literal}, nil
	}

	if p.at(TokLParen) {
		p.advance()
		var args []Expr
		for !p.at(TokRParen) {
			if p.at(TokStar) { // COUNT(*)
				p.advance()
				args = append(args, StarExpr{})
			} else {
				a, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				args = append(args, a)
			}
			if p.at(TokComma) {
				p.advance()
				continue
			}
		}
		if _, err := p.expect(TokRParen, ")"); err != nil {
			return nil, err
		}
		return FuncCall{Name: strings.ToUpper(name), Args: args}, nil
	}

	return ColumnRef{Column: name}, nil
}

func (p *Parser) parseVectorLiteral() (Expr, error) {
	if _, err := p.expect(TokLBracket, "["); err != nil {
		return nil, err
	}
	var vec []float32
	for !p.at(TokRBracket) {
		neg := false
		if p.at(TokMinus) {
			neg = true
			p.advance()
		}
		var f float64
		switch p.cur.Type {
		case TokFloat:
			v, err := strconv.ParseFloat(p.cur.Literal, 64)
			if err != nil {
				return nil, newParseError(ErrNonFiniteVector, p.cur.Pos, "invalid vector component %q", p.cur.Literal)
			}
			f = v
		case TokInt:
			v, err := strconv.ParseFloat(p.cur.Literal, 64)
			if err != nil {
				return nil, newParseError(ErrNonFiniteVector, p.cur.Pos, "invalid vector component %q", p.cur.Literal)
			}
			f = v
		default:
			return nil, newParseError(ErrNonFiniteVector, p.cur.Pos, "expected numeric vector component, got %q", p.cur.Literal)
		}
		p.advance()
		if neg {
			f = -f
		}
		vec = append(vec, float32(f))
		if p.at(TokComma) {
			p.advance()
			continue
		}
	}
	if _, err := p.expect(TokRBracket, "]"); err != nil {
		return nil, err
	}
	return Literal{Value: vec}, nil
}

func (p *Parser) parseNearFused() (Expr, error) {
	if _, err := p.expect(TokNearFused, "NEAR_FUSED"); err != nil {
		return nil, err
	}
	if _, err := p.expect(TokLParen, "("); err != nil {
		return nil, err
	}
	queries, err := p.parseExprList()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokRParen, ")"); err != nil {
		return nil, err
	}

	fusion := FusionSpec{Strategy: "rrf", K: 60}
	if p.at(TokUsing) {
		p.advance()
		fusionKw, err := p.expect(TokIdent, "FUSION")
		if err != nil {
			return nil, err
		}
		if !strings.EqualFold(fusionKw.Literal, "FUSION") {
			return nil, newParseError(ErrUnknownClause, p.cur.Pos, "expected FUSION after USING, got %q", fusionKw.Literal)
		}
		if _, err := p.expect(TokLParen, "("); err != nil {
			return nil, err
		}
		for !p.at(TokRParen) {
			key, err := p.expect(TokIdent, "fusion option")
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(TokEq, "="); err != nil {
				return nil, err
			}
			switch strings.ToLower(key.Literal) {
			case "strategy":
				valTok := p.cur
				p.advance()
				fusion.Strategy = strings.ToLower(valTok.Literal)
			case "k":
				n, err := p.parseIntLiteral()
				if err != nil {
					return nil, err
				}
				fusion.K = n
			case "weights":
				if _, err := p.expect(TokLBracket, "["); err != nil {
					return nil, err
				}
				for !p.at(TokRBracket) {
					v, err := p.parsePrimary()
					if err != nil {
						return nil, err
					}
					lit, ok := v.(Literal)
					if !ok {
						return nil, newParseError(ErrUnknownClause, p.cur.Pos, "weights must be numeric literals")
					}
					fusion.Weights = append(fusion.Weights, toFloat(lit.Value))
					if p.at(TokComma) {
						p.advance()
						continue
					}
				}
				if _, err := p.expect(TokRBracket, "]"); err != nil {
					return nil, err
				}
			default:
				return nil, newParseError(ErrUnknownClause, p.cur.Pos, "unknown fusion option %q", key.Literal)
			}
			if p.at(TokComma) {
				p.advance()
				continue
			}
		}
		if _, err := p.expect(TokRParen, ")"); err != nil {
			return nil, err
		}
	}

	return NearFusedExpr{Queries: queries, Fusion: fusion}, nil
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case int64:
		return float64(n)
	case float64:
		return n
	}
	return 0
}
