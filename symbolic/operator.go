package symbolic

import (
	"fmt"
	"strconv"
)

// NeutralElement is the result of a structural check of whether a node is provably zero or one.
type NeutralElement uint8

// Neutral element classes.
const (
	Neither NeutralElement = iota
	Zero
	One
)

// Monotonicity is a best-effort hint on how a node varies with its leaves.
type Monotonicity uint8

// Monotonicity classes.
const (
	NotMonotone Monotonicity = iota
	Nondecreasing
	Nonincreasing
	ConstantMonotone
)

// Curvature is a best-effort convexity hint.
type Curvature uint8

// Curvature classes.
const (
	NeitherConvex Curvature = iota
	Convex
	Concave
	Affine
	ConstantCurvature
)

// Operator is a node of an expression DAG.
// Nodes are immutable once built except for their per-slot caches.
type Operator interface {
	// Evaluate computes the value at env, caching argument values at slot.
	Evaluate(slot int, env Env) (float64, error)
	// Differentiate builds ∂op/∂v through b.
	Differentiate(b Builder, v Variable) (Operator, error)
	// ADForward returns the value and the directional derivative along seed.
	ADForward(slot int, env Env, seed []float64) (float64, float64, error)
	// ADBackward accumulates seed·∇op into df. It needs a prior Evaluate or ADForward at slot.
	ADBackward(slot int, l Layout, seed float64, df []float64) error
	// ADForward2 returns ∇op·w and vᵀ∇²op·w + ∇op·u, where v is the seed of the prior ADForward at slot.
	ADForward2(slot int, l Layout, w, u []float64) (float64, float64, error)
	// ADBackward2 accumulates seed·∇op into df and dseed·∇op + seed·∇²op·v into ddf.
	ADBackward2(slot int, l Layout, seed, dseed float64, df, ddf []float64) error
	NeutralElement() NeutralElement
	Monotonicity() Monotonicity
	Curvature() Curvature
	// DependsOn reports whether v appears in the subgraph.
	DependsOn(v Variable) bool
	String() string
}

// Leaf is an input variable.
type Leaf struct {
	V Variable
}

// NewLeaf returns a leaf for v.
func NewLeaf(t VariableType, component int) *Leaf {
	return &Leaf{Variable{t, component}}
}

// Evaluate implements the Operator interface.
func (l *Leaf) Evaluate(slot int, env Env) (float64, error) {
	return env.value(l.V)
}

// Differentiate implements the Operator interface.
func (l *Leaf) Differentiate(b Builder, v Variable) (Operator, error) {
	if l.V.Type == Unknown || v.Type == Unknown {
		return nil, fmt.Errorf("%w: cannot differentiate %s w.r.t. %s", ErrNotInitialized, l.V, v)
	}
	if l.V == v {
		return b.Constant(1), nil
	}
	return b.Constant(0), nil
}

// ADForward implements the Operator interface.
func (l *Leaf) ADForward(slot int, env Env, seed []float64) (float64, float64, error) {
	idx, err := env.Layout.Index(l.V)
	if err != nil {
		return 0, 0, err
	}
	if idx >= len(env.X) || idx >= len(seed) {
		return 0, 0, fmt.Errorf("%w: %s beyond input", ErrNotInitialized, l.V)
	}
	return env.X[idx], seed[idx], nil
}

// ADBackward implements the Operator interface.
func (l *Leaf) ADBackward(slot int, lay Layout, seed float64, df []float64) error {
	idx, err := l.index(lay, len(df))
	if err != nil {
		return err
	}
	df[idx] += seed
	return nil
}

// ADForward2 implements the Operator interface.
func (l *Leaf) ADForward2(slot int, lay Layout, w, u []float64) (float64, float64, error) {
	idx, err := l.index(lay, min(len(w), len(u)))
	if err != nil {
		return 0, 0, err
	}
	return w[idx], u[idx], nil
}

// ADBackward2 implements the Operator interface.
func (l *Leaf) ADBackward2(slot int, lay Layout, seed, dseed float64, df, ddf []float64) error {
	idx, err := l.index(lay, min(len(df), len(ddf)))
	if err != nil {
		return err
	}
	df[idx] += seed
	ddf[idx] += dseed
	return nil
}

func (l *Leaf) index(lay Layout, n int) (int, error) {
	idx, err := lay.Index(l.V)
	if err != nil {
		return 0, err
	}
	if idx >= n {
		return 0, fmt.Errorf("%w: %s beyond accumulator of length %d", ErrNotInitialized, l.V, n)
	}
	return idx, nil
}

// NeutralElement implements the Operator interface.
func (l *Leaf) NeutralElement() NeutralElement { return Neither }

// Monotonicity implements the Operator interface.
func (l *Leaf) Monotonicity() Monotonicity { return Nondecreasing }

// Curvature implements the Operator interface.
func (l *Leaf) Curvature() Curvature { return Affine }

// DependsOn implements the Operator interface.
func (l *Leaf) DependsOn(v Variable) bool { return l.V == v }

func (l *Leaf) String() string { return l.V.String() }

// Constant is a numeric literal.
type Constant struct {
	Value float64
}

// Evaluate implements the Operator interface.
func (c *Constant) Evaluate(slot int, env Env) (float64, error) { return c.Value, nil }

// Differentiate implements the Operator interface.
func (c *Constant) Differentiate(b Builder, v Variable) (Operator, error) {
	return b.Constant(0), nil
}

// ADForward implements the Operator interface.
func (c *Constant) ADForward(slot int, env Env, seed []float64) (float64, float64, error) {
	return c.Value, 0, nil
}

// ADBackward implements the Operator interface.
func (c *Constant) ADBackward(slot int, l Layout, seed float64, df []float64) error { return nil }

// ADForward2 implements the Operator interface.
func (c *Constant) ADForward2(slot int, l Layout, w, u []float64) (float64, float64, error) {
	return 0, 0, nil
}

// ADBackward2 implements the Operator interface.
func (c *Constant) ADBackward2(slot int, l Layout, seed, dseed float64, df, ddf []float64) error {
	return nil
}

// NeutralElement implements the Operator interface.
func (c *Constant) NeutralElement() NeutralElement {
	switch c.Value {
	case 0:
		return Zero
	case 1:
		return One
	}
	return Neither
}

// Monotonicity implements the Operator interface.
func (c *Constant) Monotonicity() Monotonicity { return ConstantMonotone }

// Curvature implements the Operator interface.
func (c *Constant) Curvature() Curvature { return ConstantCurvature }

// DependsOn implements the Operator interface.
func (c *Constant) DependsOn(v Variable) bool { return false }

func (c *Constant) String() string {
	return strconv.FormatFloat(c.Value, 'g', -1, 64)
}
