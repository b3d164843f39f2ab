package condition

import (
	"fmt"
	"strconv"
)

// Expression AST. The evaluator walks these nodes; no arithmetic is part of
// the grammar, only comparison, membership, and boolean composition.
type expr interface{ exprNode() }

type literalExpr struct{ value any }

type identExpr struct{ name string }

type attrExpr struct {
	base expr
	name string
}

type indexExpr struct {
	base expr
	key  expr
}

type listExpr struct{ items []expr }

type mapExpr struct {
	keys   []expr
	values []expr
}

type notExpr struct{ operand expr }

type binaryExpr struct {
	op    string // "and", "or", "==", "!=", "<", "<=", ">", ">=", "in", "not in", "is", "is not"
	left  expr
	right expr
}

func (literalExpr) exprNode() {}
func (identExpr) exprNode()   {}
func (attrExpr) exprNode()    {}
func (indexExpr) exprNode()   {}
func (listExpr) exprNode()    {}
func (mapExpr) exprNode()     {}
func (notExpr) exprNode()     {}
func (binaryExpr) exprNode()  {}

type parser struct {
	tokens []token
	pos    int
}

// parse builds the AST for a full condition. Trailing tokens are an error.
func parse(tokens []token) (expr, error) {
	p := &parser{tokens: tokens}
	e, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.current().kind != tokenEOF {
		return nil, fmt.Errorf("unexpected token %q at %d", p.current().text, p.current().pos)
	}
	return e, nil
}

func (p *parser) current() token { return p.tokens[p.pos] }

func (p *parser) advance() token {
	t := p.tokens[p.pos]
	if p.pos < len(p.tokens)-1 {
		p.pos++
	}
	return t
}

func (p *parser) matchKeyword(word string) bool {
	t := p.current()
	if t.kind == tokenIdent && t.text == word {
		p.advance()
		return true
	}
	return false
}

func (p *parser) parseOr() (expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.matchKeyword("or") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = binaryExpr{op: "or", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.matchKeyword("and") {
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = binaryExpr{op: "and", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (expr, error) {
	if t := p.current(); t.kind == tokenIdent && t.text == "not" {
		// "not in" is handled by parseComparison; only treat "not" as a
		// unary prefix here.
		next := p.tokens[p.pos+1]
		if next.kind != tokenIdent || next.text != "in" {
			p.advance()
			operand, err := p.parseNot()
			if err != nil {
				return nil, err
			}
			return notExpr{operand: operand}, nil
		}
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (expr, error) {
	left, err := p.parsePostfix()
	if err != nil {
		return nil, err
	}

	t := p.current()
	switch {
	case t.kind == tokenOperator:
		p.advance()
		right, err := p.parsePostfix()
		if err != nil {
			return nil, err
		}
		return binaryExpr{op: t.text, left: left, right: right}, nil
	case t.kind == tokenIdent && t.text == "in":
		p.advance()
		right, err := p.parsePostfix()
		if err != nil {
			return nil, err
		}
		return binaryExpr{op: "in", left: left, right: right}, nil
	case t.kind == tokenIdent && t.text == "not":
		next := p.tokens[p.pos+1]
		if next.kind == tokenIdent && next.text == "in" {
			p.advance()
			p.advance()
			right, err := p.parsePostfix()
			if err != nil {
				return nil, err
			}
			return binaryExpr{op: "not in", left: left, right: right}, nil
		}
		return nil, fmt.Errorf("unexpected 'not' at %d", t.pos)
	case t.kind == tokenIdent && t.text == "is":
		p.advance()
		op := "is"
		if p.matchKeyword("not") {
			op = "is not"
		}
		right, err := p.parsePostfix()
		if err != nil {
			return nil, err
		}
		return binaryExpr{op: op, left: left, right: right}, nil
	}
	return left, nil
}

// parsePostfix parses a primary followed by any chain of attribute access
// (dotted path) and subscripts (map[key]).
func (p *parser) parsePostfix() (expr, error) {
	e, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		t := p.current()
		switch t.kind {
		case tokenDot:
			p.advance()
			name := p.current()
			if name.kind != tokenIdent {
				return nil, fmt.Errorf("expected identifier after '.' at %d", name.pos)
			}
			p.advance()
			e = attrExpr{base: e, name: name.text}
		case tokenLBracket:
			p.advance()
			key, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			if p.current().kind != tokenRBracket {
				return nil, fmt.Errorf("expected ']' at %d", p.current().pos)
			}
			p.advance()
			e = indexExpr{base: e, key: key}
		default:
			return e, nil
		}
	}
}

func (p *parser) parsePrimary() (expr, error) {
	t := p.current()
	switch t.kind {
	case tokenNumber:
		p.advance()
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q at %d", t.text, t.pos)
		}
		return literalExpr{value: f}, nil
	case tokenString:
		p.advance()
		return literalExpr{value: t.text}, nil
	case tokenIdent:
		switch t.text {
		case "true", "True":
			p.advance()
			return literalExpr{value: true}, nil
		case "false", "False":
			p.advance()
			return literalExpr{value: false}, nil
		case "null", "none", "None":
			p.advance()
			return literalExpr{value: nil}, nil
		}
		p.advance()
		return identExpr{name: t.text}, nil
	case tokenLParen:
		// Parenthesized expression or tuple literal.
		p.advance()
		first, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.current().kind == tokenComma {
			items := []expr{first}
			for p.current().kind == tokenComma {
				p.advance()
				if p.current().kind == tokenRParen {
					break
				}
				item, err := p.parseOr()
				if err != nil {
					return nil, err
				}
				items = append(items, item)
			}
			if p.current().kind != tokenRParen {
				return nil, fmt.Errorf("expected ')' at %d", p.current().pos)
			}
			p.advance()
			return listExpr{items: items}, nil
		}
		if p.current().kind != tokenRParen {
			return nil, fmt.Errorf("expected ')' at %d", p.current().pos)
		}
		p.advance()
		return first, nil
	case tokenLBracket:
		p.advance()
		var items []expr
		for p.current().kind != tokenRBracket {
			item, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			items = append(items, item)
			if p.current().kind == tokenComma {
				p.advance()
				continue
			}
			break
		}
		if p.current().kind != tokenRBracket {
			return nil, fmt.Errorf("expected ']' at %d", p.current().pos)
		}
		p.advance()
		return listExpr{items: items}, nil
	case tokenLBrace:
		p.advance()
		var keys, values []expr
		for p.current().kind != tokenRBrace {
			key, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			if p.current().kind != tokenColon {
				return nil, fmt.Errorf("expected ':' at %d", p.current().pos)
			}
			p.advance()
			value, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			keys = append(keys, key)
			values = append(values, value)
			if p.current().kind == tokenComma {
				p.advance()
				continue
			}
			break
		}
		if p.current().kind != tokenRBrace {
			return nil, fmt.Errorf("expected '}' at %d", p.current().pos)
		}
		p.advance()
		return mapExpr{keys: keys, values: values}, nil
	}
	return nil, fmt.Errorf("unexpected token %q at %d", t.text, t.pos)
}
