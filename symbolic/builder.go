package symbolic

// Builder constructs nodes during differentiation.
type Builder interface {
	Constant(v float64) Operator
	Unary(op UnaryOp, a Operator) Operator
	Binary(op BinaryOp, a, b Operator) Operator
}

// Plain applies the differentiation rules literally, without any short-circuit.
var Plain Builder = plainBuilder{}

// Simplifying short-circuits additions and multiplications by neutral elements and folds constants.
var Simplifying Builder = simplifyingBuilder{}

type plainBuilder struct{}

func (plainBuilder) Constant(v float64) Operator { return &Constant{v} }

func (plainBuilder) Unary(op UnaryOp, a Operator) Operator { return newUnary(op, a) }

func (plainBuilder) Binary(op BinaryOp, a, b Operator) Operator { return newBinary(op, a, b) }

type simplifyingBuilder struct{}

var (
	zero = &Constant{0}
	one  = &Constant{1}
)

func (simplifyingBuilder) Constant(v float64) Operator {
	switch v {
	case 0:
		return zero
	case 1:
		return one
	}
	return &Constant{v}
}

func (s simplifyingBuilder) Unary(op UnaryOp, a Operator) Operator {
	if c, ok := a.(*Constant); ok && op == OpNeg {
		return s.Constant(-c.Value)
	}
	if u, ok := a.(*Unary); ok && op == OpNeg && u.Op == OpNeg {
		return u.A
	}
	return newUnary(op, a)
}

func (s simplifyingBuilder) Binary(op BinaryOp, a, b Operator) Operator {
	na, nb := a.NeutralElement(), b.NeutralElement()
	ca, aConst := a.(*Constant)
	cb, bConst := b.(*Constant)
	switch op {
	case OpAdd:
		if na == Zero {
			return b
		}
		if nb == Zero {
			return a
		}
	case OpSub:
		if nb == Zero {
			return a
		}
		if na == Zero {
			return s.Unary(OpNeg, b)
		}
	case OpMul:
		if na == Zero || nb == Zero {
			return zero
		}
		if na == One {
			return b
		}
		if nb == One {
			return a
		}
	case OpDiv:
		if na == Zero {
			return zero
		}
		if nb == One {
			return a
		}
		if bConst && cb.Value == 0 {
			return newBinary(op, a, b)
		}
	case OpPow:
		if nb == Zero {
			return one
		}
		if nb == One {
			return a
		}
	}
	if aConst && bConst {
		return s.Constant(op.apply(ca.Value, cb.Value))
	}
	return newBinary(op, a, b)
}

// Const returns a constant node.
func Const(v float64) Operator { return &Constant{v} }

// X returns the i-th differential state.
func X(i int) Operator { return NewLeaf(DifferentialState, i) }

// Z returns the i-th algebraic state.
func Z(i int) Operator { return NewLeaf(AlgebraicState, i) }

// U returns the i-th control.
func U(i int) Operator { return NewLeaf(Control, i) }

// P returns the i-th parameter.
func P(i int) Operator { return NewLeaf(Parameter, i) }

// DX returns the i-th differential state derivative.
func DX(i int) Operator { return NewLeaf(DifferentialStateDerivative, i) }

// T returns the time leaf.
func T() Operator { return NewLeaf(Time, 0) }

// Add returns a + b.
func Add(a, b Operator) Operator { return newBinary(OpAdd, a, b) }

// Sub returns a - b.
func Sub(a, b Operator) Operator { return newBinary(OpSub, a, b) }

// Mul returns a * b.
func Mul(a, b Operator) Operator { return newBinary(OpMul, a, b) }

// Div returns a / b.
func Div(a, b Operator) Operator { return newBinary(OpDiv, a, b) }

// Pow returns a ^ b.
func Pow(a, b Operator) Operator { return newBinary(OpPow, a, b) }

// Neg returns -a.
func Neg(a Operator) Operator { return newUnary(OpNeg, a) }

// Sin returns sin(a).
func Sin(a Operator) Operator { return newUnary(OpSin, a) }

// Cos returns cos(a).
func Cos(a Operator) Operator { return newUnary(OpCos, a) }

// Tan returns tan(a).
func Tan(a Operator) Operator { return newUnary(OpTan, a) }

// Exp returns exp(a).
func Exp(a Operator) Operator { return newUnary(OpExp, a) }

// Log returns the natural logarithm of a.
func Log(a Operator) Operator { return newUnary(OpLog, a) }

// Sqrt returns sqrt(a).
func Sqrt(a Operator) Operator { return newUnary(OpSqrt, a) }

// Asin returns asin(a).
func Asin(a Operator) Operator { return newUnary(OpAsin, a) }

// Acos returns acos(a).
func Acos(a Operator) Operator { return newUnary(OpAcos, a) }

// Atan returns atan(a).
func Atan(a Operator) Operator { return newUnary(OpAtan, a) }
