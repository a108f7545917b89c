package pulsefile

import (
	"fmt"
	"strings"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokString
	tokMultiline
	tokNumber
	tokLBrace
	tokRBrace
	tokLBracket
	tokRBracket
	tokColon
	tokSemicolon
	tokComma
)

type token struct {
	kind tokenKind
	text string
	line int
	col  int
}

// describe renders a token for error messages.
func (t token) describe() string {
	switch t.kind {
	case tokEOF:
		return "end of input"
	case tokIdent:
		return fmt.Sprintf("%q", t.text)
	case tokString:
		return "string"
	case tokMultiline:
		return `"""string"""`
	case tokNumber:
		return fmt.Sprintf("number %v", t.text)
	}

	return fmt.Sprintf("'%v'", t.text)
}

var punct = map[byte]tokenKind{
	'{': tokLBrace,
	'}': tokRBrace,
	'[': tokLBracket,
	']': tokRBracket,
	':': tokColon,
	';': tokSemicolon,
	',': tokComma,
}

type lexer struct {
	src  string
	pos  int
	line int
	col  int
}

func newLexer(src string) *lexer {
	return &lexer{src: src, line: 1, col: 1}
}

// tokenize splits the whole input up front. The grammar is small enough
// that the parser never needs to stream.
func tokenize(src string) ([]token, error) {
	lx := newLexer(src)

	var toks []token
	for {
		tok, err := lx.next()
		if err != nil {
			return nil, err
		}

		toks = append(toks, tok)
		if tok.kind == tokEOF {
			return toks, nil
		}
	}
}

func (lx *lexer) peekByte(off int) byte {
	if lx.pos+off >= len(lx.src) {
		return 0
	}
	return lx.src[lx.pos+off]
}

func (lx *lexer) advance() byte {
	c := lx.src[lx.pos]
	lx.pos++
	if c == '\n' {
		lx.line++
		lx.col = 1
	} else {
		lx.col++
	}
	return c
}

func (lx *lexer) errorf(line, col int, format string, args ...interface{}) error {
	return &ParseError{Line: line, Column: col, Msg: fmt.Sprintf(format, args...)}
}

func (lx *lexer) skipSpaceAndComments() {
	for lx.pos < len(lx.src) {
		c := lx.src[lx.pos]
		switch {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			lx.advance()
		case c == '#' || (c == '/' && lx.peekByte(1) == '/'):
			for lx.pos < len(lx.src) && lx.src[lx.pos] != '\n' {
				lx.advance()
			}
		default:
			return
		}
	}
}

func (lx *lexer) next() (token, error) {
	lx.skipSpaceAndComments()

	line, col := lx.line, lx.col
	if lx.pos >= len(lx.src) {
		return token{kind: tokEOF, line: line, col: col}, nil
	}

	c := lx.src[lx.pos]

	if kind, ok := punct[c]; ok {
		lx.advance()
		return token{kind: kind, text: string(c), line: line, col: col}, nil
	}

	if c == '"' {
		if strings.HasPrefix(lx.src[lx.pos:], `"""`) {
			return lx.multiline(line, col)
		}
		return lx.quoted(line, col)
	}

	if isIdentStart(c) {
		start := lx.pos
		for lx.pos < len(lx.src) && isIdentPart(lx.src[lx.pos]) {
			lx.advance()
		}
		return token{kind: tokIdent, text: lx.src[start:lx.pos], line: line, col: col}, nil
	}

	// No known field takes a number, but unknown ones may.
	if isDigit(c) || (c == '-' && isDigit(lx.peekByte(1))) {
		start := lx.pos
		lx.advance()
		for lx.pos < len(lx.src) && (isIdentPart(lx.src[lx.pos]) || lx.src[lx.pos] == '.') {
			lx.advance()
		}
		return token{kind: tokNumber, text: lx.src[start:lx.pos], line: line, col: col}, nil
	}

	return token{}, lx.errorf(line, col, "unexpected character %q", rune(c))
}

// quoted reads a single-line "..." literal. Only \" and \\ are escapes;
// any other backslash is kept as written.
func (lx *lexer) quoted(line, col int) (token, error) {
	lx.advance()

	var sb strings.Builder
	for {
		if lx.pos >= len(lx.src) || lx.src[lx.pos] == '\n' {
			return token{}, lx.errorf(line, col, "unterminated string")
		}

		c := lx.advance()
		switch {
		case c == '"':
			return token{kind: tokString, text: sb.String(), line: line, col: col}, nil
		case c == '\\' && (lx.peekByte(0) == '"' || lx.peekByte(0) == '\\'):
			sb.WriteByte(lx.advance())
		default:
			sb.WriteByte(c)
		}
	}
}

// multiline reads a """...""" literal. The closing delimiter is the last
// three quotes of a run, so `"""echo "hi""""` holds `echo "hi"`. The body
// is trimmed of surrounding whitespace.
func (lx *lexer) multiline(line, col int) (token, error) {
	for i := 0; i < 3; i++ {
		lx.advance()
	}

	start := lx.pos
	for lx.pos < len(lx.src) {
		if lx.src[lx.pos] != '"' {
			lx.advance()
			continue
		}

		run := 0
		for lx.pos+run < len(lx.src) && lx.src[lx.pos+run] == '"' {
			run++
		}

		if run < 3 {
			for i := 0; i < run; i++ {
				lx.advance()
			}
			continue
		}

		end := lx.pos + run - 3
		body := lx.src[start:end]
		for i := 0; i < run; i++ {
			lx.advance()
		}

		return token{kind: tokMultiline, text: strings.TrimSpace(body), line: line, col: col}, nil
	}

	return token{}, lx.errorf(line, col, `unterminated """ string`)
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || c == '-' || isDigit(c)
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
