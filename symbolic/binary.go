package symbolic

import (
	"fmt"
	"math"
)

// BinaryOp enumerates the arithmetic operators.
type BinaryOp uint8

// Binary operations.
const (
	OpAdd BinaryOp = iota
	OpSub
	OpMul
	OpDiv
	OpPow
)

var binaryNames = [...]string{"+", "-", "*", "/", "^"}

func (op BinaryOp) String() string { return binaryNames[op] }

func (op BinaryOp) apply(a, b float64) float64 {
	switch op {
	case OpAdd:
		return a + b
	case OpSub:
		return a - b
	case OpMul:
		return a * b
	case OpDiv:
		return a / b
	case OpPow:
		return math.Pow(a, b)
	}
	panic(fmt.Sprintf("unknown binary op %d", op))
}

// Binary combines two operands.
type Binary struct {
	Op   BinaryOp
	A, B Operator
	buf  *slotBuffer
}

func newBinary(op BinaryOp, a, b Operator) *Binary {
	return &Binary{Op: op, A: a, B: b, buf: newSlotBuffer(2)}
}

// partials returns ∂/∂a, ∂/∂b and the second derivatives ∂²/∂a², ∂²/∂a∂b, ∂²/∂b².
func (n *Binary) partials(a, b float64) (da, db, daa, dab, dbb float64) {
	switch n.Op {
	case OpAdd:
		return 1, 1, 0, 0, 0
	case OpSub:
		return 1, -1, 0, 0, 0
	case OpMul:
		return b, a, 0, 1, 0
	case OpDiv:
		return 1 / b, -a / (b * b), 0, -1 / (b * b), 2 * a / (b * b * b)
	case OpPow:
		if _, ok := n.B.(*Constant); ok {
			return b * math.Pow(a, b-1), 0, b * (b - 1) * math.Pow(a, b-2), 0, 0
		}
		p := math.Pow(a, b)
		l := math.Log(a)
		return b * math.Pow(a, b-1), p * l, b * (b - 1) * math.Pow(a, b-2), math.Pow(a, b-1) * (1 + b*l), p * l * l
	}
	panic(fmt.Sprintf("unknown binary op %d", n.Op))
}

// Evaluate implements the Operator interface.
func (n *Binary) Evaluate(slot int, env Env) (float64, error) {
	a, err := n.A.Evaluate(slot, env)
	if err != nil {
		return 0, err
	}
	b, err := n.B.Evaluate(slot, env)
	if err != nil {
		return 0, err
	}
	if err := n.buf.storeValues(slot, a, b); err != nil {
		return 0, err
	}
	return n.Op.apply(a, b), nil
}

// Differentiate implements the Operator interface.
func (n *Binary) Differentiate(bld Builder, v Variable) (Operator, error) {
	da, err := n.A.Differentiate(bld, v)
	if err != nil {
		return nil, err
	}
	db, err := n.B.Differentiate(bld, v)
	if err != nil {
		return nil, err
	}
	add := func(x, y Operator) Operator { return bld.Binary(OpAdd, x, y) }
	sub := func(x, y Operator) Operator { return bld.Binary(OpSub, x, y) }
	mul := func(x, y Operator) Operator { return bld.Binary(OpMul, x, y) }
	div := func(x, y Operator) Operator { return bld.Binary(OpDiv, x, y) }
	switch n.Op {
	case OpAdd:
		return add(da, db), nil
	case OpSub:
		return sub(da, db), nil
	case OpMul:
		return add(mul(da, n.B), mul(n.A, db)), nil
	case OpDiv:
		return sub(div(da, n.B), div(mul(n.A, db), mul(n.B, n.B))), nil
	case OpPow:
		if c, ok := n.B.(*Constant); ok {
			return mul(mul(bld.Constant(c.Value), bld.Binary(OpPow, n.A, bld.Constant(c.Value-1))), da), nil
		}
		dbase := mul(mul(n.B, bld.Binary(OpPow, n.A, sub(n.B, bld.Constant(1)))), da)
		dexp := mul(mul(n, bld.Unary(OpLog, n.A)), db)
		return add(dbase, dexp), nil
	}
	return nil, fmt.Errorf("symbolic: cannot differentiate %s", n.Op)
}

// ADForward implements the Operator interface.
func (n *Binary) ADForward(slot int, env Env, seed []float64) (float64, float64, error) {
	a, ta, err := n.A.ADForward(slot, env, seed)
	if err != nil {
		return 0, 0, err
	}
	b, tb, err := n.B.ADForward(slot, env, seed)
	if err != nil {
		return 0, 0, err
	}
	if err := n.buf.storeValues(slot, a, b); err != nil {
		return 0, 0, err
	}
	if err := n.buf.storeTangents(slot, ta, tb); err != nil {
		return 0, 0, err
	}
	da, db, _, _, _ := n.partials(a, b)
	return n.Op.apply(a, b), forwardTerm(da, ta) + forwardTerm(db, tb), nil
}

// forwardTerm multiplies a partial by a tangent, treating a zero tangent as a hard zero
// so that a non-finite partial on an inactive branch does not leak into the result.
func forwardTerm(d, t float64) float64 {
	if t == 0 {
		return 0
	}
	return d * t
}

// ADBackward implements the Operator interface.
func (n *Binary) ADBackward(slot int, l Layout, seed float64, df []float64) error {
	args, err := n.buf.values(slot)
	if err != nil {
		return err
	}
	da, db, _, _, _ := n.partials(args[0], args[1])
	if err := n.A.ADBackward(slot, l, seed*da, df); err != nil {
		return err
	}
	if n.Op == OpPow {
		if _, ok := n.B.(*Constant); ok {
			return nil
		}
	}
	return n.B.ADBackward(slot, l, seed*db, df)
}

// ADForward2 implements the Operator interface.
func (n *Binary) ADForward2(slot int, l Layout, w, u []float64) (float64, float64, error) {
	args, err := n.buf.values(slot)
	if err != nil {
		return 0, 0, err
	}
	tans, err := n.buf.tangents(slot)
	if err != nil {
		return 0, 0, err
	}
	aw, avw, err := n.A.ADForward2(slot, l, w, u)
	if err != nil {
		return 0, 0, err
	}
	bw, bvw, err := n.B.ADForward2(slot, l, w, u)
	if err != nil {
		return 0, 0, err
	}
	da, db, daa, dab, dbb := n.partials(args[0], args[1])
	av, bv := tans[0], tans[1]
	fw := forwardTerm(da, aw) + forwardTerm(db, bw)
	fvw := forwardTerm(da, avw) + forwardTerm(db, bvw) +
		forwardTerm(daa, av*aw) + forwardTerm(dab, av*bw+bv*aw) + forwardTerm(dbb, bv*bw)
	return fw, fvw, nil
}

// ADBackward2 implements the Operator interface.
func (n *Binary) ADBackward2(slot int, l Layout, seed, dseed float64, df, ddf []float64) error {
	args, err := n.buf.values(slot)
	if err != nil {
		return err
	}
	tans, err := n.buf.tangents(slot)
	if err != nil {
		return err
	}
	da, db, daa, dab, dbb := n.partials(args[0], args[1])
	av, bv := tans[0], tans[1]
	sa := seed * da
	dsa := dseed*da + seed*(forwardTerm(daa, av)+forwardTerm(dab, bv))
	if err := n.A.ADBackward2(slot, l, sa, dsa, df, ddf); err != nil {
		return err
	}
	if n.Op == OpPow {
		if _, ok := n.B.(*Constant); ok {
			return nil
		}
	}
	sb := seed * db
	dsb := dseed*db + seed*(forwardTerm(dab, av)+forwardTerm(dbb, bv))
	return n.B.ADBackward2(slot, l, sb, dsb, df, ddf)
}

// NeutralElement implements the Operator interface.
func (n *Binary) NeutralElement() NeutralElement { return Neither }

// Monotonicity implements the Operator interface.
func (n *Binary) Monotonicity() Monotonicity {
	ma, mb := n.A.Monotonicity(), n.B.Monotonicity()
	switch n.Op {
	case OpAdd:
		return sumMonotonicity(ma, mb)
	case OpSub:
		return sumMonotonicity(ma, flip(mb))
	case OpMul:
		if c, ok := n.A.(*Constant); ok {
			return scaleMonotonicity(mb, c.Value)
		}
		if c, ok := n.B.(*Constant); ok {
			return scaleMonotonicity(ma, c.Value)
		}
	case OpDiv:
		if c, ok := n.B.(*Constant); ok {
			return scaleMonotonicity(ma, c.Value)
		}
	}
	if ma == ConstantMonotone && mb == ConstantMonotone {
		return ConstantMonotone
	}
	return NotMonotone
}

// Curvature implements the Operator interface.
func (n *Binary) Curvature() Curvature {
	ca, cb := n.A.Curvature(), n.B.Curvature()
	switch n.Op {
	case OpAdd:
		return sumCurvature(ca, cb)
	case OpSub:
		return sumCurvature(ca, negCurvature(cb))
	case OpMul:
		if c, ok := n.A.(*Constant); ok {
			return scaleCurvature(cb, c.Value)
		}
		if c, ok := n.B.(*Constant); ok {
			return scaleCurvature(ca, c.Value)
		}
	case OpDiv:
		if c, ok := n.B.(*Constant); ok {
			return scaleCurvature(ca, c.Value)
		}
	case OpPow:
		if c, ok := n.B.(*Constant); ok {
			switch {
			case c.Value == 1:
				return ca
			case c.Value == 2 && ca == Affine:
				return Convex
			}
		}
	}
	if ca == ConstantCurvature && cb == ConstantCurvature {
		return ConstantCurvature
	}
	return NeitherConvex
}

// DependsOn implements the Operator interface.
func (n *Binary) DependsOn(v Variable) bool { return n.A.DependsOn(v) || n.B.DependsOn(v) }

func (n *Binary) String() string {
	return "(" + n.A.String() + n.Op.String() + n.B.String() + ")"
}

func sumMonotonicity(a, b Monotonicity) Monotonicity {
	switch {
	case a == ConstantMonotone:
		return b
	case b == ConstantMonotone:
		return a
	case a == b:
		return a
	}
	return NotMonotone
}

func scaleMonotonicity(m Monotonicity, c float64) Monotonicity {
	switch {
	case c == 0:
		return ConstantMonotone
	case c < 0:
		return flip(m)
	}
	return m
}

func negCurvature(c Curvature) Curvature {
	switch c {
	case Convex:
		return Concave
	case Concave:
		return Convex
	}
	return c
}

func sumCurvature(a, b Curvature) Curvature {
	switch {
	case a == ConstantCurvature:
		return b
	case b == ConstantCurvature:
		return a
	case a == Affine:
		return b
	case b == Affine:
		return a
	case a == b:
		return a
	}
	return NeitherConvex
}

func scaleCurvature(c Curvature, k float64) Curvature {
	switch {
	case k == 0:
		return ConstantCurvature
	case k < 0:
		return negCurvature(c)
	}
	return c
}
