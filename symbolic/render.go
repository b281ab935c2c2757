package symbolic

import (
	"fmt"
	"io"
	"strconv"
	"strings"
)

// FormatLiteral writes v with the given number of significant digits.
func FormatLiteral(v float64, precision int) string {
	if precision < 1 {
		precision = 1
	}
	s := strconv.FormatFloat(v, 'e', precision-1, 64)
	if v < 0 {
		return "(" + s + ")"
	}
	return s
}

// cWriter emits the statements of one function, hoisting shared nodes into temporaries.
type cWriter struct {
	f         *Function
	in, aux   string
	precision int
	refs      map[Operator]int
	temps     map[Operator]int
	lines     []string
}

// WriteC writes C statements computing every output of f into out[i] from in[].
// Nodes referenced more than once are computed once into aux[k]; the number of temporaries is returned.
func (f *Function) WriteC(w io.Writer, in, out, aux string, precision int) (int, error) {
	cw := &cWriter{f: f, in: in, aux: aux, precision: precision, refs: make(map[Operator]int), temps: make(map[Operator]int)}
	for _, op := range f.Out {
		cw.count(op)
	}
	results := make([]string, len(f.Out))
	for i, op := range f.Out {
		s, err := cw.expr(op)
		if err != nil {
			return 0, err
		}
		results[i] = s
	}
	for _, l := range cw.lines {
		if _, err := fmt.Fprintf(w, "%s\n", l); err != nil {
			return 0, err
		}
	}
	for i, s := range results {
		if _, err := fmt.Fprintf(w, "%s[%d] = %s;\n", out, i, s); err != nil {
			return 0, err
		}
	}
	return len(cw.temps), nil
}

func (cw *cWriter) count(op Operator) {
	cw.refs[op]++
	if cw.refs[op] > 1 {
		return
	}
	switch n := op.(type) {
	case *Unary:
		cw.count(n.A)
	case *Binary:
		cw.count(n.A)
		cw.count(n.B)
	}
}

func (cw *cWriter) expr(op Operator) (string, error) {
	if k, ok := cw.temps[op]; ok {
		return fmt.Sprintf("%s[%d]", cw.aux, k), nil
	}
	var s string
	switch n := op.(type) {
	case *Leaf:
		idx, err := cw.f.Layout.Index(n.V)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s[%d]", cw.in, idx), nil
	case *Constant:
		return FormatLiteral(n.Value, cw.precision), nil
	case *Unary:
		a, err := cw.expr(n.A)
		if err != nil {
			return "", err
		}
		if n.Op == OpNeg {
			s = "(-" + a + ")"
		} else {
			s = n.Op.String() + "(" + a + ")"
		}
	case *Binary:
		a, err := cw.expr(n.A)
		if err != nil {
			return "", err
		}
		b, err := cw.expr(n.B)
		if err != nil {
			return "", err
		}
		if n.Op == OpPow {
			s = "pow(" + a + "," + b + ")"
		} else {
			s = "(" + a + n.Op.String() + b + ")"
		}
	default:
		return "", fmt.Errorf("symbolic: cannot render %T", op)
	}
	if cw.refs[op] > 1 {
		k := len(cw.temps)
		cw.temps[op] = k
		cw.lines = append(cw.lines, fmt.Sprintf("%s[%d] = %s;", cw.aux, k, strings.TrimSpace(s)))
		return fmt.Sprintf("%s[%d]", cw.aux, k), nil
	}
	return s, nil
}
