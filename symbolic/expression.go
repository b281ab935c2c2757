package symbolic

import "fmt"

// Expression is a rows×cols matrix of operators, tagged with the variable type and first
// component it stands for when it is a block of leaves.
type Expression struct {
	rows, cols int
	ops        []Operator
	Type       VariableType
	Component  int
}

// NewExpression wraps ops in row-major order.
func NewExpression(rows, cols int, ops ...Operator) (*Expression, error) {
	if rows*cols != len(ops) {
		return nil, fmt.Errorf("symbolic: %d operators for a %dx%d expression", len(ops), rows, cols)
	}
	return &Expression{rows: rows, cols: cols, ops: ops}, nil
}

// NewVariables returns an n×1 expression of consecutive leaves of type t.
func NewVariables(t VariableType, n int) *Expression {
	e := &Expression{rows: n, cols: 1, ops: make([]Operator, n), Type: t}
	for i := range e.ops {
		e.ops[i] = NewLeaf(t, i)
	}
	return e
}

// Dims returns the shape.
func (e *Expression) Dims() (int, int) { return e.rows, e.cols }

// At returns the operator at (i, j).
func (e *Expression) At(i, j int) Operator { return e.ops[i*e.cols+j] }

// Elem returns the i-th entry of a vector expression.
func (e *Expression) Elem(i int) Operator { return e.ops[i] }

// Operators returns the row-major operators.
func (e *Expression) Operators() []Operator { return e.ops }

// Function is an ordered list of scalar outputs over a layout.
type Function struct {
	Layout Layout
	Out    []Operator
}

// NewFunction returns a function with the given outputs.
func NewFunction(l Layout, out ...Operator) *Function {
	return &Function{Layout: l, Out: out}
}

// Dim returns the number of outputs.
func (f *Function) Dim() int { return len(f.Out) }

func (f *Function) env(x []float64) (Env, error) {
	if len(x) < f.Layout.Size() {
		return Env{}, fmt.Errorf("%w: input of length %d, layout needs %d", ErrNotInitialized, len(x), f.Layout.Size())
	}
	return Env{f.Layout, x}, nil
}

// Evaluate writes every output at x into y.
func (f *Function) Evaluate(slot int, x, y []float64) error {
	env, err := f.env(x)
	if err != nil {
		return err
	}
	for i, op := range f.Out {
		if y[i], err = op.Evaluate(slot, env); err != nil {
			return err
		}
	}
	return nil
}

// Jacobian returns the row-major derivative of the outputs w.r.t. wrt at x.
// Forward mode is used when there are at least as many outputs as columns, backward mode otherwise.
func (f *Function) Jacobian(slot int, x []float64, wrt []Variable) ([]float64, error) {
	env, err := f.env(x)
	if err != nil {
		return nil, err
	}
	idx := make([]int, len(wrt))
	for j, v := range wrt {
		if idx[j], err = f.Layout.Index(v); err != nil {
			return nil, err
		}
	}
	nOut, n := len(f.Out), f.Layout.Size()
	jac := make([]float64, nOut*len(wrt))
	if nOut >= len(wrt) {
		seed := make([]float64, n)
		for j := range wrt {
			seed[idx[j]] = 1
			for i, op := range f.Out {
				if _, jac[i*len(wrt)+j], err = op.ADForward(slot, env, seed); err != nil {
					return nil, err
				}
			}
			seed[idx[j]] = 0
		}
		return jac, nil
	}
	df := make([]float64, n)
	for i, op := range f.Out {
		if _, err = op.Evaluate(slot, env); err != nil {
			return nil, err
		}
		for k := range df {
			df[k] = 0
		}
		if err = op.ADBackward(slot, f.Layout, 1, df); err != nil {
			return nil, err
		}
		for j := range wrt {
			jac[i*len(wrt)+j] = df[idx[j]]
		}
	}
	return jac, nil
}

// HessianVector returns, for every output i, w_i·∇²f_i·v summed over i, as a flat layout vector.
func (f *Function) HessianVector(slot int, x, w, v []float64) ([]float64, error) {
	env, err := f.env(x)
	if err != nil {
		return nil, err
	}
	n := f.Layout.Size()
	df, ddf := make([]float64, n), make([]float64, n)
	for i, op := range f.Out {
		if w[i] == 0 {
			continue
		}
		if _, _, err = op.ADForward(slot, env, v); err != nil {
			return nil, err
		}
		if err = op.ADBackward2(slot, f.Layout, w[i], 0, df, ddf); err != nil {
			return nil, err
		}
	}
	return ddf, nil
}

// Differentiate returns the symbolic row-major Jacobian w.r.t. wrt, built with b.
func (f *Function) Differentiate(b Builder, wrt []Variable) (*Function, error) {
	out := make([]Operator, 0, len(f.Out)*len(wrt))
	for _, op := range f.Out {
		for _, v := range wrt {
			d, err := op.Differentiate(b, v)
			if err != nil {
				return nil, err
			}
			out = append(out, d)
		}
	}
	return NewFunction(f.Layout, out...), nil
}

// DependsOn reports whether any output depends on v.
func (f *Function) DependsOn(v Variable) bool {
	for _, op := range f.Out {
		if op.DependsOn(v) {
			return true
		}
	}
	return false
}
