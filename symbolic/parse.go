package symbolic

import (
	"fmt"
	"strconv"
	"unicode"
)

type tokenKind uint8

const (
	tokEOF tokenKind = iota
	tokNumber
	tokIdent
	tokOp
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// lexer splits a model expression into tokens.
type lexer struct {
	input []rune
	pos   int
}

func (l *lexer) next() (token, error) {
	for l.pos < len(l.input) && unicode.IsSpace(l.input[l.pos]) {
		l.pos++
	}
	if l.pos >= len(l.input) {
		return token{kind: tokEOF, pos: l.pos}, nil
	}
	start := l.pos
	ch := l.input[l.pos]
	switch {
	case unicode.IsDigit(ch) || ch == '.':
		for l.pos < len(l.input) && (unicode.IsDigit(l.input[l.pos]) || l.input[l.pos] == '.') {
			l.pos++
		}
		if l.pos < len(l.input) && (l.input[l.pos] == 'e' || l.input[l.pos] == 'E') {
			l.pos++
			if l.pos < len(l.input) && (l.input[l.pos] == '+' || l.input[l.pos] == '-') {
				l.pos++
			}
			for l.pos < len(l.input) && unicode.IsDigit(l.input[l.pos]) {
				l.pos++
			}
		}
		return token{tokNumber, string(l.input[start:l.pos]), start}, nil
	case unicode.IsLetter(ch) || ch == '_':
		for l.pos < len(l.input) && (unicode.IsLetter(l.input[l.pos]) || unicode.IsDigit(l.input[l.pos]) || l.input[l.pos] == '_') {
			l.pos++
		}
		return token{tokIdent, string(l.input[start:l.pos]), start}, nil
	case ch == '(':
		l.pos++
		return token{tokLParen, "(", start}, nil
	case ch == ')':
		l.pos++
		return token{tokRParen, ")", start}, nil
	case ch == '+' || ch == '-' || ch == '*' || ch == '/' || ch == '^':
		l.pos++
		return token{tokOp, string(ch), start}, nil
	}
	return token{}, fmt.Errorf("symbolic: unexpected %q at %d", ch, start)
}

var intrinsics = map[string]UnaryOp{
	"sin": OpSin, "cos": OpCos, "tan": OpTan, "exp": OpExp, "log": OpLog,
	"sqrt": OpSqrt, "asin": OpAsin, "acos": OpAcos, "atan": OpAtan,
}

var infix = map[string]struct {
	op         BinaryOp
	lbp        int
	rightAssoc bool
}{
	"+": {OpAdd, 10, false},
	"-": {OpSub, 10, false},
	"*": {OpMul, 20, false},
	"/": {OpDiv, 20, false},
	"^": {OpPow, 30, true},
}

const prefixBP = 25

// parser is a Pratt parser over the lexer's tokens.
type parser struct {
	lex     lexer
	tok     token
	symbols map[string]Operator
}

// Parse parses src, resolving identifiers through symbols.
// Supported: + - * / ^, unary minus, parentheses, numbers and the intrinsics sin cos tan exp log sqrt asin acos atan.
func Parse(src string, symbols map[string]Operator) (Operator, error) {
	p := &parser{lex: lexer{input: []rune(src)}, symbols: symbols}
	if err := p.advance(); err != nil {
		return nil, err
	}
	op, err := p.expression(0)
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokEOF {
		return nil, fmt.Errorf("symbolic: unexpected %q at %d", p.tok.text, p.tok.pos)
	}
	return op, nil
}

func (p *parser) advance() (err error) {
	p.tok, err = p.lex.next()
	return
}

func (p *parser) expression(rbp int) (Operator, error) {
	left, err := p.nud()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokOp {
		info := infix[p.tok.text]
		if info.lbp <= rbp {
			break
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		next := info.lbp
		if info.rightAssoc {
			next--
		}
		right, err := p.expression(next)
		if err != nil {
			return nil, err
		}
		left = newBinary(info.op, left, right)
	}
	return left, nil
}

func (p *parser) nud() (Operator, error) {
	t := p.tok
	if err := p.advance(); err != nil {
		return nil, err
	}
	switch t.kind {
	case tokNumber:
		v, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("symbolic: bad number %q at %d", t.text, t.pos)
		}
		return &Constant{v}, nil
	case tokOp:
		switch t.text {
		case "-":
			a, err := p.expression(prefixBP)
			if err != nil {
				return nil, err
			}
			return newUnary(OpNeg, a), nil
		case "+":
			return p.expression(prefixBP)
		}
	case tokLParen:
		e, err := p.expression(0)
		if err != nil {
			return nil, err
		}
		if p.tok.kind != tokRParen {
			return nil, fmt.Errorf("symbolic: missing ) at %d", p.tok.pos)
		}
		return e, p.advance()
	case tokIdent:
		if op, ok := intrinsics[t.text]; ok {
			if p.tok.kind != tokLParen {
				return nil, fmt.Errorf("symbolic: %s needs an argument at %d", t.text, p.tok.pos)
			}
			a, err := p.nud()
			if err != nil {
				return nil, err
			}
			return newUnary(op, a), nil
		}
		if s, ok := p.symbols[t.text]; ok {
			return s, nil
		}
		return nil, fmt.Errorf("symbolic: unknown symbol %q at %d", t.text, t.pos)
	case tokEOF:
		return nil, fmt.Errorf("symbolic: unexpected end of expression")
	}
	return nil, fmt.Errorf("symbolic: unexpected %q at %d", t.text, t.pos)
}
