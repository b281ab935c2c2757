// Package codegen holds the statement IR emitted by the generators, its C renderer and an interpreter.
package codegen

import "fmt"

// DataType is the numeric type of a variable.
type DataType uint8

// Data types.
const (
	Real DataType = iota
	Int
)

// Scope tells where a variable lives in the rendered code.
type Scope uint8

// Scopes.
const (
	// Workspace variables are fields of the caller-owned workspace struct.
	Workspace Scope = iota
	// Static variables are constant tables defined in the generated file.
	Static
	// Local variables live on the stack of one function.
	Local
	// Arg variables are arrays passed by pointer.
	Arg
	// Value variables are scalars passed by value.
	Value
)

// Variable is a declared symbol of the generated code, always a row-major matrix.
type Variable struct {
	Name       string
	Type       DataType
	Rows, Cols int
	Values     []float64 // only for Static
	Scope      Scope
}

// NewVariable returns a variable of the given shape.
func NewVariable(name string, t DataType, rows, cols int, scope Scope) *Variable {
	return &Variable{Name: name, Type: t, Rows: rows, Cols: cols, Scope: scope}
}

// NewStatic returns a constant real table.
func NewStatic(name string, rows, cols int, values []float64) *Variable {
	v := NewVariable(name, Real, rows, cols, Static)
	v.Values = append([]float64(nil), values...)
	return v
}

// Size returns rows*cols.
func (v *Variable) Size() int { return v.Rows * v.Cols }

func (v *Variable) String() string { return fmt.Sprintf("%s[%dx%d]", v.Name, v.Rows, v.Cols) }

// At returns the element (i, j) of a real variable.
func (v *Variable) At(i, j IntExpr) Elem {
	return Elem{v, IAdd(IMul(i, Lit(v.Cols)), j)}
}

// Idx returns the flat element i of a real variable.
func (v *Variable) Idx(i IntExpr) Elem { return Elem{v, i} }

// IAt returns the flat element i of an integer variable.
func (v *Variable) IAt(i IntExpr) IElem { return IElem{v, i} }

// IntExpr is an integer expression: literals, loop counters, integer array elements and affine combinations.
type IntExpr interface{ isInt() }

// ILit is an integer literal.
type ILit int

// IVar is an integer local or by-value parameter, including loop counters.
type IVar string

// IElem is an element of an integer array.
type IElem struct {
	V     *Variable
	Index IntExpr
}

// IBin is a binary integer operation: '+', '-' or '*'.
type IBin struct {
	Op   byte
	A, B IntExpr
}

// IFloor converts a real expression to an integer by flooring.
type IFloor struct{ A Expr }

func (ILit) isInt()   {}
func (IVar) isInt()   {}
func (IElem) isInt()  {}
func (IBin) isInt()   {}
func (IFloor) isInt() {}

// Lit returns an integer literal.
func Lit(n int) IntExpr { return ILit(n) }

// IAdd returns a+b, folding literals.
func IAdd(a, b IntExpr) IntExpr {
	la, aok := a.(ILit)
	lb, bok := b.(ILit)
	switch {
	case aok && bok:
		return la + lb
	case aok && la == 0:
		return b
	case bok && lb == 0:
		return a
	}
	return IBin{'+', a, b}
}

// ISub returns a-b, folding literals.
func ISub(a, b IntExpr) IntExpr {
	la, aok := a.(ILit)
	lb, bok := b.(ILit)
	switch {
	case aok && bok:
		return la - lb
	case bok && lb == 0:
		return a
	}
	return IBin{'-', a, b}
}

// IMul returns a*b, folding literals.
func IMul(a, b IntExpr) IntExpr {
	la, aok := a.(ILit)
	lb, bok := b.(ILit)
	switch {
	case aok && bok:
		return la * lb
	case aok && la == 0, bok && lb == 0:
		return ILit(0)
	case aok && la == 1:
		return b
	case bok && lb == 1:
		return a
	}
	return IBin{'*', a, b}
}

// Expr is a real expression.
type Expr interface{ isExpr() }

// Num is a real literal.
type Num float64

// Elem is an element of a real variable; it is also the target of assignments.
type Elem struct {
	V     *Variable
	Index IntExpr
}

// Bin is a binary real operation: '+', '-', '*' or '/'.
type Bin struct {
	Op   byte
	A, B Expr
}

// Neg is -A.
type Neg struct{ A Expr }

// Abs is |A|.
type Abs struct{ A Expr }

// ToReal converts an integer expression.
type ToReal struct{ I IntExpr }

func (Num) isExpr()    {}
func (Elem) isExpr()   {}
func (Bin) isExpr()    {}
func (Neg) isExpr()    {}
func (Abs) isExpr()    {}
func (ToReal) isExpr() {}

// Plus returns a+b, dropping literal zeros.
func Plus(a, b Expr) Expr {
	if isNum(a, 0) {
		return b
	}
	if isNum(b, 0) {
		return a
	}
	return Bin{'+', a, b}
}

// Minus returns a-b, dropping literal zeros.
func Minus(a, b Expr) Expr {
	if isNum(b, 0) {
		return a
	}
	if isNum(a, 0) {
		return Neg{b}
	}
	return Bin{'-', a, b}
}

// Times returns a*b, dropping literal ones and collapsing literal zeros.
func Times(a, b Expr) Expr {
	switch {
	case isNum(a, 0) || isNum(b, 0):
		return Num(0)
	case isNum(a, 1):
		return b
	case isNum(b, 1):
		return a
	case isNum(a, -1):
		return Neg{b}
	case isNum(b, -1):
		return Neg{a}
	}
	return Bin{'*', a, b}
}

// Over returns a/b.
func Over(a, b Expr) Expr {
	if isNum(b, 1) {
		return a
	}
	return Bin{'/', a, b}
}

func isNum(e Expr, v float64) bool {
	n, ok := e.(Num)
	return ok && float64(n) == v
}

// Cond is a boolean condition.
type Cond interface{ isCond() }

// Cmp compares two real expressions with one of > < >= <= == !=.
type Cmp struct {
	Op   string
	A, B Expr
}

// ICmp compares two integer expressions.
type ICmp struct {
	Op   string
	A, B IntExpr
}

// And is A && B.
type And struct{ A, B Cond }

func (Cmp) isCond()  {}
func (ICmp) isCond() {}
func (And) isCond()  {}
