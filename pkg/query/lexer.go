package query

import (
	"strings"
)

// TokenType enumerates VelesQL's lexical token kinds, mirroring the
// token.Type enum idiom of a hand-written SQL tokenizer: special tokens,
// identifiers/literals, operators, delimiters, then a block of keywords
// looked up via LookupIdent.
type TokenType int

const (
	TokEOF TokenType = iota
	TokIllegal

	TokIdent
	TokParam // $name
	TokInt
	TokFloat
	TokString

	TokPlus
	TokMinus
	TokStar
	TokSlash
	TokEq
	TokNe
	TokLt
	TokLe
	TokGt
	TokGe

	TokComma
	TokDot
	TokLParen
	TokRParen
	TokLBracket
	TokRBracket
	TokSemicolon

	keywordBeg
	TokSelect
	TokFrom
	TokWhere
	TokJoin
	TokInner
	TokLeft
	TokRight
	TokFull
	TokOn
	TokUsing
	TokAnd
	TokOr
	TokNot
	TokIn
	TokBetween
	TokLike
	TokILike
	TokIs
	TokNull
	TokAs
	TokOrder
	TokBy
	TokAsc
	TokDesc
	TokGroup
	TokHaving
	TokLimit
	TokWith
	TokUnion
	TokAll
	TokIntersect
	TokExcept
	TokNear
	TokNearFused
	TokMatch
	TokContains
	TokTrue
	TokFalse
	keywordEnd
)

var keywords = map[string]TokenType{
	"SELECT":      TokSelect,
	"FROM":        TokFrom,
	"WHERE":       TokWhere,
	"JOIN":        TokJoin,
	"INNER":       TokInner,
	"LEFT":        TokLeft,
	"RIGHT":       TokRight,
	"FULL":        TokFull,
	"ON":          TokOn,
	"USING":       TokUsing,
	"AND":         TokAnd,
	"OR":          TokOr,
	"NOT":         TokNot,
	"IN":          TokIn,
	"BETWEEN":     TokBetween,
	"LIKE":        TokLike,
	"ILIKE":       TokILike,
	"IS":          TokIs,
	"NULL":        TokNull,
	"AS":          TokAs,
	"ORDER":       TokOrder,
	"BY":          TokBy,
	"ASC":         TokAsc,
	"DESC":        TokDesc,
	"GROUP":       TokGroup,
	"HAVING":      TokHaving,
	"LIMIT":       TokLimit,
	"WITH":        TokWith,
	"UNION":       TokUnion,
	"ALL":         TokAll,
	"INTERSECT":   TokIntersect,
	"EXCEPT":      TokExcept,
	"NEAR":        TokNear,
	"NEAR_FUSED":  TokNearFused,
	"MATCH":       TokMatch,
	"CONTAINS":    TokContains,
	"TRUE":        TokTrue,
	"FALSE":       TokFalse,
}

// LookupIdent reports whether ident is a reserved keyword, returning its
// token type or TokIdent otherwise.
func LookupIdent(ident string) TokenType {
	if t, ok := keywords[strings.ToUpper(ident)]; ok {
		return t
	}
	return TokIdent
}

// Token is one lexical token with its source position.
type Token struct {
	Type    TokenType
	Literal string
	Pos     Position
}

// Lexer tokenizes VelesQL source text.
type Lexer struct {
	src    []rune
	pos    int
	line   int
	column int
}

// NewLexer builds a Lexer over src.
func NewLexer(src string) *Lexer {
	return &Lexer{src: []rune(src), line: 1, column: 1}
}

func (l *Lexer) peekRune() rune {
	if l.pos >= len(l.src) {
		return 0
	}
	return l.src[l.pos]
}

func (l *Lexer) peekRuneAt(offset int) rune {
	if l.pos+offset >= len(l.src) {
		return 0
	}
	return l.src[l.pos+offset]
}

func (l *Lexer) advance() rune {
	r := l.src[l.pos]
	l.pos++
	if r == '\n' {
		l.line++
		l.column = 1
	} else {
		l.column++
	}
	return r
}

func (l *Lexer) skipWhitespaceAndComments() {
	for l.pos < len(l.src) {
		r := l.peekRune()
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			l.advance()
		case r == '-' && l.peekRuneAt(1) == '-':
			for l.pos < len(l.src) && l.peekRune() != '\n' {
				l.advance()
			}
		default:
			return
		}
	}
}

// Next returns the next token in the stream, or a TokEOF token at the end.
func (l *Lexer) Next() Token {
	l.skipWhitespaceAndComments()
	pos := Position{Line: l.line, Column: l.column}
	if l.pos >= len(l.src) {
		return Token{Type: TokEOF, Pos: pos}
	}

	r := l.peekRune()
	switch {
	case isIdentStart(r):
		return l.lexIdent(pos)
	case isDigit(r):
		return l.lexNumber(pos)
	case r == '\'':
		return l.lexString(pos)
	case r == '$':
		return l.lexParam(pos)
	}

	l.advance()
	switch r {
	case '+':
		return Token{Type: TokPlus, Literal: "+", Pos: pos}
	case '-':
		return Token{Type: TokMinus, Literal: "-", Pos: pos}
	case '*':
		return Token{Type: TokStar, Literal: "*", Pos: pos}
	case '/':
		return Token{Type: TokSlash, Literal: "/", Pos: pos}
	case ',':
		return Token{Type: TokComma, Literal: ",", Pos: pos}
	case '.':
		return Token{Type: TokDot, Literal: ".", Pos: pos}
	case '(':
		return Token{Type: TokLParen, Literal: "(", Pos: pos}
	case ')':
		return Token{Type: TokRParen, Literal: ")", Pos: pos}
	case '[':
		return Token{Type: TokLBracket, Literal: "[", Pos: pos}
	case ']':
		return Token{Type: TokRBracket, Literal: "]", Pos: pos}
	case ';':
		return Token{Type: TokSemicolon, Literal: ";", Pos: pos}
	case '=':
		return Token{Type: TokEq, Literal: "=", Pos: pos}
	case '!':
		if l.peekRune() == '=' {
			l.advance()
			return Token{Type: TokNe, Literal: "!=", Pos: pos}
		}
		return Token{Type: TokIllegal, Literal: "!", Pos: pos}
	case '<':
		switch l.peekRune() {
		case '=':
			l.advance()
			return Token{Type: TokLe, Literal: "<=", Pos: pos}
		case '>':
			l.advance()
			return Token{Type: TokNe, Literal: "<>", Pos: pos}
		}
		return Token{Type: TokLt, Literal: "<", Pos: pos}
	case '>':
		if l.peekRune() == '=' {
			l.advance()
			return Token{Type: TokGe, Literal: ">=", Pos: pos}
		}
		return Token{Type: TokGt, Literal: ">", Pos: pos}
	}

	return Token{Type: TokIllegal, Literal: string(r), Pos: pos}
}

func (l *Lexer) lexIdent(pos Position) Token {
	var sb strings.Builder
	for l.pos < len(l.src) && isIdentPart(l.peekRune()) {
		sb.WriteRune(l.advance())
	}
	lit := sb.String()
	return Token{Type: LookupIdent(lit), Literal: lit, Pos: pos}
}

func (l *Lexer) lexNumber(pos Position) Token {
	var sb strings.Builder
	isFloat := false
	for l.pos < len(l.src) && (isDigit(l.peekRune()) || l.peekRune() == '.') {
		if l.peekRune() == '.' {
			if isFloat || !isDigit(l.peekRuneAt(1)) {
				break
			}
			isFloat = true
		}
		sb.WriteRune(l.advance())
	}
	typ := TokInt
	if isFloat {
		typ = TokFloat
	}
	return Token{Type: typ, Literal: sb.String(), Pos: pos}
}

func (l *Lexer) lexString(pos Position) Token {
	l.advance() // opening quote
	var sb strings.Builder
	for {
		if l.pos >= len(l.src) {
			return Token{Type: TokIllegal, Literal: sb.String(), Pos: pos}
		}
		r := l.advance()
		if r == '\'' {
			if l.peekRune() == '\'' { // doubled-quote escape
				sb.WriteRune(l.advance())
				continue
			}
			break
		}
		sb.WriteRune(r)
	}
	return Token{Type: TokString, Literal: sb.String(), Pos: pos}
}

func (l *Lexer) lexParam(pos Position) Token {
	l.advance() // '$'
	var sb strings.Builder
	sb.WriteRune('$')
	for l.pos < len(l.src) && isIdentPart(l.peekRune()) {
		sb.WriteRune(l.advance())
	}
	return Token{Type: TokParam, Literal: sb.String(), Pos: pos}
}

func isIdentStart(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func isIdentPart(r rune) bool {
	return isIdentStart(r) || isDigit(r)
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}
