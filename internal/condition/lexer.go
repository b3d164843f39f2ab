// Package condition evaluates guard expressions attached to flow
// transitions. Evaluation is total: parse or evaluation failures never
// propagate, they yield false and a warning.
//
// Grammar: comparisons (== != < <= > >= in, is, is not, not in), boolean
// composition (and, or, not), literals (numbers, strings, true/false/null,
// lists, tuples, maps), dotted paths, and map subscripts.
package condition

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenIdent
	tokenNumber
	tokenString
	tokenOperator // == != < <= > >=
	tokenLParen
	tokenRParen
	tokenLBracket
	tokenRBracket
	tokenLBrace
	tokenRBrace
	tokenComma
	tokenColon
	tokenDot
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

type lexer struct {
	input  string
	pos    int
	tokens []token
}

// lex tokenizes the condition string. Keywords (and, or, not, in, is, true,
// false, null, none) are emitted as tokenIdent and classified by the parser.
func lex(input string) ([]token, error) {
	l := &lexer{input: input}
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		switch {
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			l.pos++
		case ch == '(':
			l.emit(tokenLParen, "(")
		case ch == ')':
			l.emit(tokenRParen, ")")
		case ch == '[':
			l.emit(tokenLBracket, "[")
		case ch == ']':
			l.emit(tokenRBracket, "]")
		case ch == '{':
			l.emit(tokenLBrace, "{")
		case ch == '}':
			l.emit(tokenRBrace, "}")
		case ch == ',':
			l.emit(tokenComma, ",")
		case ch == ':':
			l.emit(tokenColon, ":")
		case ch == '.':
			l.emit(tokenDot, ".")
		case ch == '\'' || ch == '"':
			if err := l.lexString(ch); err != nil {
				return nil, err
			}
		case ch >= '0' && ch <= '9':
			l.lexNumber()
		case ch == '-' && l.pos+1 < len(l.input) && l.input[l.pos+1] >= '0' && l.input[l.pos+1] <= '9':
			l.lexNumber()
		case isIdentStart(rune(ch)):
			l.lexIdent()
		case strings.ContainsRune("=!<>", rune(ch)):
			if err := l.lexOperator(); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("unexpected character %q at %d", ch, l.pos)
		}
	}
	l.tokens = append(l.tokens, token{kind: tokenEOF, pos: l.pos})
	return l.tokens, nil
}

func (l *lexer) emit(kind tokenKind, text string) {
	l.tokens = append(l.tokens, token{kind: kind, text: text, pos: l.pos})
	l.pos += len(text)
}

func (l *lexer) lexString(quote byte) error {
	start := l.pos
	l.pos++ // opening quote
	var sb strings.Builder
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		if ch == '\\' && l.pos+1 < len(l.input) {
			next := l.input[l.pos+1]
			switch next {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			default:
				sb.WriteByte(next)
			}
			l.pos += 2
			continue
		}
		if ch == quote {
			l.pos++
			l.tokens = append(l.tokens, token{kind: tokenString, text: sb.String(), pos: start})
			return nil
		}
		sb.WriteByte(ch)
		l.pos++
	}
	return fmt.Errorf("unterminated string at %d", start)
}

func (l *lexer) lexNumber() {
	start := l.pos
	if l.input[l.pos] == '-' {
		l.pos++
	}
	seenDot := false
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		if ch >= '0' && ch <= '9' {
			l.pos++
			continue
		}
		// A dot is part of the number only when followed by a digit,
		// so dotted paths after a literal still tokenize.
		if ch == '.' && !seenDot && l.pos+1 < len(l.input) && l.input[l.pos+1] >= '0' && l.input[l.pos+1] <= '9' {
			seenDot = true
			l.pos++
			continue
		}
		break
	}
	l.tokens = append(l.tokens, token{kind: tokenNumber, text: l.input[start:l.pos], pos: start})
}

func (l *lexer) lexIdent() {
	start := l.pos
	for l.pos < len(l.input) && isIdentPart(rune(l.input[l.pos])) {
		l.pos++
	}
	l.tokens = append(l.tokens, token{kind: tokenIdent, text: l.input[start:l.pos], pos: start})
}

func (l *lexer) lexOperator() error {
	start := l.pos
	two := ""
	if l.pos+1 < len(l.input) {
		two = l.input[l.pos : l.pos+2]
	}
	switch two {
	case "==", "!=", "<=", ">=":
		l.tokens = append(l.tokens, token{kind: tokenOperator, text: two, pos: start})
		l.pos += 2
		return nil
	}
	one := string(l.input[l.pos])
	if one == "<" || one == ">" {
		l.tokens = append(l.tokens, token{kind: tokenOperator, text: one, pos: start})
		l.pos++
		return nil
	}
	return fmt.Errorf("unexpected operator %q at %d", one, start)
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
