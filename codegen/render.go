package codegen

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/ChristopherRabotin/irkgen/symbolic"
)

// Format parameterizes rendering.
type Format struct {
	RealType  string
	IntType   string
	Precision int // significant digits of real literals
}

// DefaultFormat renders real_t/int with full double precision.
var DefaultFormat = Format{RealType: "real_t", IntType: "int", Precision: 16}

// renderer writes C text.
type renderer struct {
	p      *Program
	f      Format
	buf    *bytes.Buffer
	indent int
}

// Render writes the program as C.
func (p *Program) Render(w io.Writer, f Format) error {
	r := &renderer{p: p, f: f, buf: &bytes.Buffer{}}
	r.writef("#include <math.h>\n\n")
	r.workspace()
	for _, v := range p.vars {
		if v.Scope == Static {
			r.static(v)
		}
	}
	for _, c := range p.callables {
		if err := r.callable(c); err != nil {
			return err
		}
	}
	_, err := w.Write(r.buf.Bytes())
	return err
}

func (r *renderer) writef(format string, args ...interface{}) {
	r.buf.WriteString(strings.Repeat("\t", r.indent))
	fmt.Fprintf(r.buf, format, args...)
}

func (r *renderer) typeName(t DataType) string {
	if t == Int {
		return r.f.IntType
	}
	return r.f.RealType
}

func (r *renderer) workspace() {
	var fields []*Variable
	for _, v := range r.p.vars {
		if v.Scope == Workspace {
			fields = append(fields, v)
		}
	}
	if len(fields) == 0 {
		return
	}
	name := r.p.Prefix + "Workspace"
	r.writef("typedef struct %s_\n{\n", name)
	for _, v := range fields {
		if v.Size() == 1 {
			r.writef("%s %s;\n", r.typeName(v.Type), v.Name)
		} else {
			r.writef("%s %s[ %d ];\n", r.typeName(v.Type), v.Name, v.Size())
		}
	}
	r.writef("} %s;\n\nextern %s %sworkspace;\n\n", name, name, r.p.Prefix)
}

func (r *renderer) static(v *Variable) {
	vals := make([]string, len(v.Values))
	for i, x := range v.Values {
		vals[i] = symbolic.FormatLiteral(x, r.f.Precision)
	}
	r.writef("static const %s %s[ %d ] = { %s };\n\n", r.f.RealType, v.Name, v.Size(), strings.Join(vals, ", "))
}

func (r *renderer) signature(name string, ret string, params []*Variable) string {
	ps := make([]string, len(params))
	for i, v := range params {
		if v.Scope == Value {
			ps[i] = fmt.Sprintf("%s %s", r.typeName(v.Type), v.Name)
		} else {
			ps[i] = fmt.Sprintf("%s* %s", r.typeName(v.Type), v.Name)
		}
	}
	return fmt.Sprintf("%s %s( %s )", ret, name, strings.Join(ps, ", "))
}

func (r *renderer) callable(c Callable) error {
	switch fn := c.(type) {
	case *Extern:
		r.writef("%s;\n\n", r.signature(fn.FName, "void", fn.Params()))
	case *ODEFunction:
		var body bytes.Buffer
		n, err := fn.F.WriteC(&body, fn.In.Name, fn.Out.Name, "a", r.f.Precision)
		if err != nil {
			return fmt.Errorf("codegen: %s: %w", fn.FName, err)
		}
		r.writef("%s\n{\n", r.signature(fn.FName, "void", fn.Params()))
		r.indent++
		if n > 0 {
			r.writef("%s a[%d];\n\n", r.f.RealType, n)
		}
		for _, line := range strings.Split(strings.TrimSpace(body.String()), "\n") {
			if line != "" {
				r.writef("%s\n", line)
			}
		}
		r.indent--
		r.writef("}\n\n")
	case *Function:
		if fn.Doc != "" {
			r.writef("/* %s */\n", fn.Doc)
		}
		ret := "void"
		if fn.Returns {
			ret = r.f.RealType
		}
		r.writef("%s\n{\n", r.signature(fn.FName, ret, fn.In))
		r.indent++
		counters := loopCounters(fn.Body)
		for _, name := range fn.IntLocals {
			counters[name] = true
		}
		names := make([]string, 0, len(counters))
		for name := range counters {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			r.writef("%s %s;\n", r.f.IntType, name)
		}
		for _, v := range fn.Locals {
			if v.Size() == 1 {
				r.writef("%s %s;\n", r.typeName(v.Type), v.Name)
			} else {
				r.writef("%s %s[ %d ];\n", r.typeName(v.Type), v.Name, v.Size())
			}
		}
		r.stmts(fn.Body)
		r.indent--
		r.writef("}\n\n")
	default:
		return fmt.Errorf("codegen: cannot render %T", c)
	}
	return nil
}

func loopCounters(stmts []Stmt) map[string]bool {
	out := make(map[string]bool)
	Walk(stmts, func(s Stmt) {
		if f, ok := s.(For); ok {
			out[f.Var] = true
		}
	})
	return out
}

func (r *renderer) stmts(stmts []Stmt) {
	for _, s := range stmts {
		r.stmt(s)
	}
}

func (r *renderer) stmt(s Stmt) {
	switch n := s.(type) {
	case Assign:
		op := [...]string{"=", "+=", "-="}[n.Op]
		r.writef("%s %s %s;\n", r.elem(n.Dst), op, r.expr(n.Src, 0))
	case SetInt:
		r.writef("%s = %s;\n", r.intExpr(n.Dst, 0), r.intExpr(n.Src, 0))
	case For:
		r.writef("for (%s = %s; %s < %s; ++%s)\n", n.Var, r.intExpr(n.From, 0), n.Var, r.intExpr(n.To, 0), n.Var)
		r.writef("{\n")
		r.indent++
		r.stmts(n.Body)
		r.indent--
		r.writef("}\n")
	case If:
		r.writef("if (%s)\n", r.cond(n.Cond))
		r.writef("{\n")
		r.indent++
		r.stmts(n.Then)
		r.indent--
		r.writef("}\n")
		if len(n.Else) > 0 {
			r.writef("else\n{\n")
			r.indent++
			r.stmts(n.Else)
			r.indent--
			r.writef("}\n")
		}
	case Call:
		args := make([]string, len(n.Args))
		for i, a := range n.Args {
			switch arg := a.(type) {
			case ArrayArg:
				args[i] = r.pointer(arg)
			case IntArg:
				args[i] = r.intExpr(arg.I, 0)
			case RealArg:
				args[i] = r.expr(arg.E, 0)
			}
		}
		call := fmt.Sprintf("%s( %s )", n.Fn.Name(), strings.Join(args, ", "))
		if n.Result != nil {
			r.writef("%s = %s;\n", r.elem(*n.Result), call)
		} else {
			r.writef("%s;\n", call)
		}
	case Return:
		if n.Value != nil {
			r.writef("return %s;\n", r.expr(n.Value, 0))
		} else {
			r.writef("return;\n")
		}
	case Comment:
		r.writef("/* %s */\n", string(n))
	case Block:
		if n.Label != "" {
			r.writef("/* %s */\n", n.Label)
		}
		r.stmts(n.Body)
	}
}

func (r *renderer) base(v *Variable) string {
	if v.Scope == Workspace {
		return r.p.Prefix + "workspace." + v.Name
	}
	return v.Name
}

func (r *renderer) scalar(v *Variable) bool {
	return v.Size() == 1 && (v.Scope == Local || v.Scope == Value || v.Scope == Workspace)
}

func (r *renderer) elem(e Elem) string {
	if r.scalar(e.V) {
		return r.base(e.V)
	}
	return fmt.Sprintf("%s[%s]", r.base(e.V), r.intExpr(e.Index, 0))
}

func (r *renderer) pointer(a ArrayArg) string {
	if l, ok := a.Offset.(ILit); ok && l == 0 {
		if r.scalar(a.V) {
			return "&" + r.base(a.V)
		}
		return r.base(a.V)
	}
	return fmt.Sprintf("&(%s[%s])", r.base(a.V), r.intExpr(a.Offset, 0))
}

// Precedence levels: 0 top, 1 additive, 2 multiplicative.
func (r *renderer) intExpr(e IntExpr, prec int) string {
	switch n := e.(type) {
	case ILit:
		return fmt.Sprintf("%d", int(n))
	case IVar:
		return string(n)
	case IElem:
		if r.scalar(n.V) {
			return r.base(n.V)
		}
		return fmt.Sprintf("%s[%s]", r.base(n.V), r.intExpr(n.Index, 0))
	case IBin:
		p := 1
		if n.Op == '*' {
			p = 2
		}
		s := fmt.Sprintf("%s %c %s", r.intExpr(n.A, p-1), n.Op, r.intExpr(n.B, p))
		if p <= prec {
			return "(" + s + ")"
		}
		return s
	case IFloor:
		return fmt.Sprintf("(%s)floor(%s)", r.f.IntType, r.expr(n.A, 0))
	}
	return "?"
}

func (r *renderer) expr(e Expr, prec int) string {
	switch n := e.(type) {
	case Num:
		return symbolic.FormatLiteral(float64(n), r.f.Precision)
	case Elem:
		return r.elem(n)
	case Bin:
		p := 1
		if n.Op == '*' || n.Op == '/' {
			p = 2
		}
		s := fmt.Sprintf("%s %c %s", r.expr(n.A, p-1), n.Op, r.expr(n.B, p))
		if p <= prec {
			return "(" + s + ")"
		}
		return s
	case Neg:
		return "(-" + r.expr(n.A, 3) + ")"
	case Abs:
		return "fabs(" + r.expr(n.A, 0) + ")"
	case ToReal:
		return fmt.Sprintf("((%s)%s)", r.f.RealType, r.intExpr(n.I, 3))
	}
	return "?"
}

func (r *renderer) cond(c Cond) string {
	switch n := c.(type) {
	case Cmp:
		return fmt.Sprintf("%s %s %s", r.expr(n.A, 0), n.Op, r.expr(n.B, 0))
	case ICmp:
		return fmt.Sprintf("%s %s %s", r.intExpr(n.A, 0), n.Op, r.intExpr(n.B, 0))
	case And:
		return fmt.Sprintf("(%s) && (%s)", r.cond(n.A), r.cond(n.B))
	}
	return "?"
}
