package codegen

import (
	"github.com/ChristopherRabotin/irkgen/symbolic"
)

// Stmt is one node of a statement sequence. Statements are never mutated once appended.
type Stmt interface{ isStmt() }

// AssignOp selects =, += or -=.
type AssignOp uint8

// Assignment operators.
const (
	Set AssignOp = iota
	AddTo
	SubFrom
)

// Assign stores a real value.
type Assign struct {
	Dst Elem
	Op  AssignOp
	Src Expr
}

// SetInt stores an integer value into an IVar or an IElem.
type SetInt struct {
	Dst IntExpr
	Src IntExpr
}

// For runs Body with Var from From up to To, exclusive.
type For struct {
	Var      string
	From, To IntExpr
	Body     []Stmt
}

// If branches on Cond.
type If struct {
	Cond       Cond
	Then, Else []Stmt
}

// CallArg is a call argument.
type CallArg interface{ isArg() }

// ArrayArg passes &V[Offset].
type ArrayArg struct {
	V      *Variable
	Offset IntExpr
}

// IntArg passes an integer by value.
type IntArg struct{ I IntExpr }

// RealArg passes a real by value.
type RealArg struct{ E Expr }

func (ArrayArg) isArg() {}
func (IntArg) isArg()   {}
func (RealArg) isArg()  {}

// Call invokes a callable, optionally storing its real result.
type Call struct {
	Fn     Callable
	Args   []CallArg
	Result *Elem
}

// Return ends the function, with an optional real value.
type Return struct{ Value Expr }

// Comment is copied verbatim to the rendered code.
type Comment string

// Block groups statements under a label, used to locate sections of generated code.
type Block struct {
	Label string
	Body  []Stmt
}

func (Assign) isStmt()  {}
func (SetInt) isStmt()  {}
func (For) isStmt()     {}
func (If) isStmt()      {}
func (Call) isStmt()    {}
func (Return) isStmt()  {}
func (Comment) isStmt() {}
func (Block) isStmt()   {}

// Callable is anything a Call can target.
type Callable interface {
	Name() string
	Params() []*Variable
}

// Function is a generated function.
type Function struct {
	FName     string
	Doc       string
	In        []*Variable
	Returns   bool // returns a real
	Locals    []*Variable
	IntLocals []string
	Body      []Stmt
}

// Name implements Callable.
func (f *Function) Name() string { return f.FName }

// Params implements Callable.
func (f *Function) Params() []*Variable { return f.In }

// Extern is a function declared but defined by the caller, with signature (in, out).
type Extern struct {
	FName   string
	In, Out *Variable
}

// NewExtern declares an external function reading nIn and writing nOut reals.
func NewExtern(name string, nIn, nOut int) *Extern {
	return &Extern{
		FName: name,
		In:    NewVariable("in", Real, 1, nIn, Arg),
		Out:   NewVariable("out", Real, 1, nOut, Arg),
	}
}

// Name implements Callable.
func (e *Extern) Name() string { return e.FName }

// Params implements Callable.
func (e *Extern) Params() []*Variable { return []*Variable{e.In, e.Out} }

// ODEFunction exports a symbolic function with signature (in, out).
type ODEFunction struct {
	FName   string
	F       *symbolic.Function
	In, Out *Variable
}

// NewODEFunction wraps f.
func NewODEFunction(name string, f *symbolic.Function) *ODEFunction {
	return &ODEFunction{
		FName: name,
		F:     f,
		In:    NewVariable("in", Real, 1, f.Layout.Size(), Arg),
		Out:   NewVariable("out", Real, 1, max(f.Dim(), 1), Arg),
	}
}

// Name implements Callable.
func (o *ODEFunction) Name() string { return o.FName }

// Params implements Callable.
func (o *ODEFunction) Params() []*Variable { return []*Variable{o.In, o.Out} }

// Walk calls fn on every statement of stmts in order, descending into nested bodies.
func Walk(stmts []Stmt, fn func(Stmt)) {
	for _, s := range stmts {
		fn(s)
		switch n := s.(type) {
		case For:
			Walk(n.Body, fn)
		case If:
			Walk(n.Then, fn)
			Walk(n.Else, fn)
		case Block:
			Walk(n.Body, fn)
		}
	}
}

// FindBlock returns the first block labelled label.
func FindBlock(stmts []Stmt, label string) (Block, bool) {
	var found Block
	ok := false
	Walk(stmts, func(s Stmt) {
		if b, isBlock := s.(Block); isBlock && !ok && b.Label == label {
			found, ok = b, true
		}
	})
	return found, ok
}

// Loads returns every real element read by s, nested statements excluded.
func Loads(s Stmt) []Elem {
	var out []Elem
	var expr func(e Expr)
	var iexpr func(e IntExpr)
	expr = func(e Expr) {
		switch n := e.(type) {
		case Elem:
			out = append(out, n)
			iexpr(n.Index)
		case Bin:
			expr(n.A)
			expr(n.B)
		case Neg:
			expr(n.A)
		case Abs:
			expr(n.A)
		case ToReal:
			iexpr(n.I)
		}
	}
	iexpr = func(e IntExpr) {
		switch n := e.(type) {
		case IElem:
			iexpr(n.Index)
		case IBin:
			iexpr(n.A)
			iexpr(n.B)
		case IFloor:
			expr(n.A)
		}
	}
	var cond func(c Cond)
	cond = func(c Cond) {
		switch n := c.(type) {
		case Cmp:
			expr(n.A)
			expr(n.B)
		case ICmp:
			iexpr(n.A)
			iexpr(n.B)
		case And:
			cond(n.A)
			cond(n.B)
		}
	}
	switch n := s.(type) {
	case Assign:
		expr(n.Src)
		if n.Op != Set {
			out = append(out, n.Dst)
		}
	case SetInt:
		iexpr(n.Src)
	case If:
		cond(n.Cond)
	case For:
		iexpr(n.From)
		iexpr(n.To)
	case Return:
		if n.Value != nil {
			expr(n.Value)
		}
	case Call:
		for _, a := range n.Args {
			switch arg := a.(type) {
			case IntArg:
				iexpr(arg.I)
			case RealArg:
				expr(arg.E)
			}
		}
	}
	return out
}
