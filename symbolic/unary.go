package symbolic

import (
	"fmt"
	"math"
)

// UnaryOp enumerates the intrinsic functions.
type UnaryOp uint8

// Unary operations.
const (
	OpNeg UnaryOp = iota
	OpSin
	OpCos
	OpTan
	OpExp
	OpLog
	OpSqrt
	OpAsin
	OpAcos
	OpAtan
)

var unaryNames = [...]string{"-", "sin", "cos", "tan", "exp", "log", "sqrt", "asin", "acos", "atan"}

func (op UnaryOp) String() string { return unaryNames[op] }

// eval returns g(a), g'(a) and g''(a).
func (op UnaryOp) eval(a float64) (g, d1, d2 float64) {
	switch op {
	case OpNeg:
		return -a, -1, 0
	case OpSin:
		s, c := math.Sincos(a)
		return s, c, -s
	case OpCos:
		s, c := math.Sincos(a)
		return c, -s, -c
	case OpTan:
		t := math.Tan(a)
		return t, 1 + t*t, 2 * t * (1 + t*t)
	case OpExp:
		e := math.Exp(a)
		return e, e, e
	case OpLog:
		return math.Log(a), 1 / a, -1 / (a * a)
	case OpSqrt:
		r := math.Sqrt(a)
		return r, 0.5 / r, -0.25 / (r * a)
	case OpAsin:
		q := 1 - a*a
		return math.Asin(a), 1 / math.Sqrt(q), a / (q * math.Sqrt(q))
	case OpAcos:
		q := 1 - a*a
		return math.Acos(a), -1 / math.Sqrt(q), -a / (q * math.Sqrt(q))
	case OpAtan:
		q := 1 + a*a
		return math.Atan(a), 1 / q, -2 * a / (q * q)
	}
	panic(fmt.Sprintf("unknown unary op %d", op))
}

// Unary applies an intrinsic to one argument.
type Unary struct {
	Op  UnaryOp
	A   Operator
	buf *slotBuffer
}

func newUnary(op UnaryOp, a Operator) *Unary {
	return &Unary{Op: op, A: a, buf: newSlotBuffer(1)}
}

// Evaluate implements the Operator interface.
func (u *Unary) Evaluate(slot int, env Env) (float64, error) {
	a, err := u.A.Evaluate(slot, env)
	if err != nil {
		return 0, err
	}
	if err := u.buf.storeValues(slot, a); err != nil {
		return 0, err
	}
	g, _, _ := u.Op.eval(a)
	return g, nil
}

// Differentiate implements the Operator interface.
func (u *Unary) Differentiate(b Builder, v Variable) (Operator, error) {
	da, err := u.A.Differentiate(b, v)
	if err != nil {
		return nil, err
	}
	a := u.A
	mul := func(x, y Operator) Operator { return b.Binary(OpMul, x, y) }
	div := func(x, y Operator) Operator { return b.Binary(OpDiv, x, y) }
	oneMinusSq := func() Operator {
		return b.Unary(OpSqrt, b.Binary(OpSub, b.Constant(1), mul(a, a)))
	}
	switch u.Op {
	case OpNeg:
		return b.Unary(OpNeg, da), nil
	case OpSin:
		return mul(da, b.Unary(OpCos, a)), nil
	case OpCos:
		return b.Unary(OpNeg, mul(da, b.Unary(OpSin, a))), nil
	case OpTan:
		return mul(da, b.Binary(OpAdd, b.Constant(1), mul(u, u))), nil
	case OpExp:
		return mul(da, u), nil
	case OpLog:
		return div(da, a), nil
	case OpSqrt:
		return div(da, mul(b.Constant(2), u)), nil
	case OpAsin:
		return div(da, oneMinusSq()), nil
	case OpAcos:
		return b.Unary(OpNeg, div(da, oneMinusSq())), nil
	case OpAtan:
		return div(da, b.Binary(OpAdd, b.Constant(1), mul(a, a))), nil
	}
	return nil, fmt.Errorf("symbolic: cannot differentiate %s", u.Op)
}

// ADForward implements the Operator interface.
func (u *Unary) ADForward(slot int, env Env, seed []float64) (float64, float64, error) {
	a, da, err := u.A.ADForward(slot, env, seed)
	if err != nil {
		return 0, 0, err
	}
	if err := u.buf.storeValues(slot, a); err != nil {
		return 0, 0, err
	}
	if err := u.buf.storeTangents(slot, da); err != nil {
		return 0, 0, err
	}
	g, d1, _ := u.Op.eval(a)
	return g, forwardTerm(d1, da), nil
}

// ADBackward implements the Operator interface.
func (u *Unary) ADBackward(slot int, l Layout, seed float64, df []float64) error {
	args, err := u.buf.values(slot)
	if err != nil {
		return err
	}
	_, d1, _ := u.Op.eval(args[0])
	return u.A.ADBackward(slot, l, seed*d1, df)
}

// ADForward2 implements the Operator interface.
func (u *Unary) ADForward2(slot int, l Layout, w, uu []float64) (float64, float64, error) {
	args, err := u.buf.values(slot)
	if err != nil {
		return 0, 0, err
	}
	tans, err := u.buf.tangents(slot)
	if err != nil {
		return 0, 0, err
	}
	aw, avw, err := u.A.ADForward2(slot, l, w, uu)
	if err != nil {
		return 0, 0, err
	}
	_, d1, d2 := u.Op.eval(args[0])
	return d1 * aw, d2*tans[0]*aw + d1*avw, nil
}

// ADBackward2 implements the Operator interface.
func (u *Unary) ADBackward2(slot int, l Layout, seed, dseed float64, df, ddf []float64) error {
	args, err := u.buf.values(slot)
	if err != nil {
		return err
	}
	tans, err := u.buf.tangents(slot)
	if err != nil {
		return err
	}
	_, d1, d2 := u.Op.eval(args[0])
	return u.A.ADBackward2(slot, l, seed*d1, dseed*d1+seed*d2*tans[0], df, ddf)
}

// NeutralElement implements the Operator interface.
func (u *Unary) NeutralElement() NeutralElement { return Neither }

// Monotonicity implements the Operator interface.
func (u *Unary) Monotonicity() Monotonicity {
	m := u.A.Monotonicity()
	if m == ConstantMonotone {
		return ConstantMonotone
	}
	switch u.Op {
	case OpNeg, OpAcos:
		return flip(m)
	case OpExp, OpLog, OpSqrt, OpAsin, OpAtan:
		return m
	}
	return NotMonotone
}

// Curvature implements the Operator interface.
func (u *Unary) Curvature() Curvature {
	c := u.A.Curvature()
	if c == ConstantCurvature {
		return ConstantCurvature
	}
	switch u.Op {
	case OpNeg:
		switch c {
		case Convex:
			return Concave
		case Concave:
			return Convex
		}
		return c
	case OpExp:
		if c == Affine || c == Convex {
			return Convex
		}
	case OpLog, OpSqrt:
		if c == Affine || c == Concave {
			return Concave
		}
	}
	return NeitherConvex
}

// DependsOn implements the Operator interface.
func (u *Unary) DependsOn(v Variable) bool { return u.A.DependsOn(v) }

func (u *Unary) String() string {
	if u.Op == OpNeg {
		return "(-" + u.A.String() + ")"
	}
	return u.Op.String() + "(" + u.A.String() + ")"
}

func flip(m Monotonicity) Monotonicity {
	switch m {
	case Nondecreasing:
		return Nonincreasing
	case Nonincreasing:
		return Nondecreasing
	}
	return m
}
