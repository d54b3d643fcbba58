package query

import "fmt"

// ParseErrorCode is a stable numeric code identifying a class of VelesQL
// syntax error, surfaced verbatim to callers per spec §6/§7.
type ParseErrorCode string

const (
	ErrUnexpectedToken    ParseErrorCode = "E001"
	ErrUnterminatedLiteral ParseErrorCode = "E002"
	ErrInvalidNumber      ParseErrorCode = "E003"
	ErrNonFiniteVector    ParseErrorCode = "E004"
	ErrUnknownClause      ParseErrorCode = "E005"
	ErrArityMismatch      ParseErrorCode = "E006"
	ErrUnsupportedSyntax  ParseErrorCode = "E007"
)

// ParseError is VelesQL's user-facing syntax error: a stable code plus
// position, per spec §6 ("Errors ... ParseError{kind: E001..E007}").
type ParseError struct {
	Code    ParseErrorCode
	Message string
	Line    int
	Column  int
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("velesql: %s at %d:%d: %s", e.Code, e.Line, e.Column, e.Message)
}

func newParseError(code ParseErrorCode, pos Position, format string, args ...any) *ParseError {
	return &ParseError{Code: code, Message: fmt.Sprintf(format, args...), Line: pos.Line, Column: pos.Column}
}

// UnsupportedFeatureError marks a parsed-but-unimplemented production: the
// parser accepted the syntax but the executor refuses to silently drop or
// downgrade it (spec §7: "every parser production that lacks executor
// support must return UnsupportedFeature(code)").
type UnsupportedFeatureError struct {
	Code   string
	Detail string
}

func (e *UnsupportedFeatureError) Error() string {
	return fmt.Sprintf("velesql: unsupported feature %s: %s", e.Code, e.Detail)
}

func unsupported(code, detail string) error {
	return &UnsupportedFeatureError{Code: code, Detail: detail}
}
