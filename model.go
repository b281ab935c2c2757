package irkgen

import (
	"fmt"

	"github.com/ChristopherRabotin/irkgen/symbolic"
	"github.com/samber/lo"
	"gonum.org/v1/gonum/mat"
)

// Dimensions of a model. The state is x = [x1 (linear input), x2 (implicit), x3 (linear output)].
type Dimensions struct {
	NX1, NX2, NX3 int
	NXA           int // algebraic states, part of the implicit block
	NU, NP        int
	NDX           int // 0 for an explicit right-hand side, NX1+NX2 for an implicit one
}

// NX returns the full state dimension.
func (d Dimensions) NX() int { return d.NX1 + d.NX2 + d.NX3 }

// Implicit reports whether the right-hand side is given as F(x, z, u, p, dx, t) = 0.
func (d Dimensions) Implicit() bool { return d.NDX > 0 }

// Layout returns the symbolic input layout shared by every model function.
func (d Dimensions) Layout() symbolic.Layout {
	return symbolic.Layout{NX: d.NX(), NXA: d.NXA, NU: d.NU, NP: d.NP, NDX: d.NDX}
}

func (d Dimensions) validate() error {
	for _, n := range []int{d.NX1, d.NX2, d.NX3, d.NXA, d.NU, d.NP, d.NDX} {
		if n < 0 {
			return fmt.Errorf("%w: negative dimension in %+v", ErrConfiguration, d)
		}
	}
	if d.NX() == 0 {
		return fmt.Errorf("%w: no differential state", ErrConfiguration)
	}
	if d.NDX != 0 && d.NDX != d.NX1+d.NX2 {
		return fmt.Errorf("%w: %d state derivatives for %d non-output states", ErrConfiguration, d.NDX, d.NX1+d.NX2)
	}
	return nil
}

// Output is one output function with an optional CRS sparsity pattern over
// the columns [x, z, u, dx] of its Jacobian.
type Output struct {
	Name    string
	Dim     int
	F       *symbolic.Function // nil for an external output
	JacName string             // external Jacobian, nonzeros in CRS order
	ColInd  []int
	RowPtr  []int
}

// External reports whether the output is declared but defined by the caller.
func (o Output) External() bool { return o.F == nil }

// NNZ returns the number of stored Jacobian entries.
func (o Output) NNZ() int { return len(o.ColInd) }

// Grid is the integration grid of the horizon.
type Grid struct {
	T     float64
	N     int   // shooting intervals
	Steps []int // integrator steps per interval, nil when equidistant
}

// Equidistant reports whether every interval uses the same number of steps.
func (g Grid) Equidistant() bool { return g.Steps == nil }

// Model collects everything the exporter reads. It is frozen by IRKExport.SetModel.
type Model struct {
	dims    Dimensions
	dimsSet bool

	rhs                *symbolic.Function
	rhsName, diffsName string

	m1, a1, b1 *mat.Dense
	m3, a3     *mat.Dense
	f3         *symbolic.Function

	outputs      []Output
	measurements []int
	grid         Grid
	gridSet      bool
	frozen       bool
}

// NewModel returns an empty model.
func NewModel() *Model { return &Model{} }

func (m *Model) mutable(what string) error {
	if m.frozen {
		return fmt.Errorf("%w: %s on a frozen model", ErrConfiguration, what)
	}
	return nil
}

func (m *Model) ready(what string) error {
	if err := m.mutable(what); err != nil {
		return err
	}
	if !m.dimsSet {
		return fmt.Errorf("%w: %s before the dimensions", ErrConfiguration, what)
	}
	return nil
}

// SetDimensions fixes the dimensions once.
func (m *Model) SetDimensions(d Dimensions) error {
	if err := m.mutable("dimensions"); err != nil {
		return err
	}
	if m.dimsSet {
		return fmt.Errorf("%w: dimensions already set", ErrConfiguration)
	}
	if err := d.validate(); err != nil {
		return err
	}
	m.dims, m.dimsSet = d, true
	return nil
}

// Dimensions returns the dimensions.
func (m *Model) Dimensions() Dimensions { return m.dims }

func (m *Model) rhsSet() bool { return m.rhs != nil || m.rhsName != "" }

// SetRHS sets the symbolic right-hand side of the implicit block, NX2+NXA components.
func (m *Model) SetRHS(ops ...symbolic.Operator) error {
	if err := m.ready("right-hand side"); err != nil {
		return err
	}
	if m.rhsSet() {
		return fmt.Errorf("%w: right-hand side already set", ErrConfiguration)
	}
	if len(ops) != m.dims.NX2+m.dims.NXA {
		return fmt.Errorf("%w: right-hand side has %d components, expected %d", ErrConfiguration, len(ops), m.dims.NX2+m.dims.NXA)
	}
	f := symbolic.NewFunction(m.dims.Layout(), ops...)
	if err := m.checkInputs("right-hand side", f, false); err != nil {
		return err
	}
	m.rhs = f
	return nil
}

// SetExternalRHS declares the right-hand side and its Jacobian as caller-defined functions.
func (m *Model) SetExternalRHS(rhs, diffs string) error {
	if err := m.ready("right-hand side"); err != nil {
		return err
	}
	if m.rhsSet() {
		return fmt.Errorf("%w: right-hand side already set", ErrConfiguration)
	}
	if rhs == "" || diffs == "" || rhs == diffs {
		return fmt.Errorf("%w: external right-hand side needs two distinct names", ErrConfiguration)
	}
	m.rhsName, m.diffsName = rhs, diffs
	return nil
}

// checkInputs rejects dependencies on x3, and on dx when noDX is set or the model is explicit.
func (m *Model) checkInputs(what string, f *symbolic.Function, noDX bool) error {
	d := m.dims
	for c := d.NX1 + d.NX2; c < d.NX(); c++ {
		if f.DependsOn(symbolic.Variable{Type: symbolic.DifferentialState, Component: c}) {
			return fmt.Errorf("%w: %s depends on the linear output state %d", ErrConfiguration, what, c)
		}
	}
	if noDX || !d.Implicit() {
		for c := 0; c < d.NX(); c++ {
			if f.DependsOn(symbolic.Variable{Type: symbolic.DifferentialStateDerivative, Component: c}) {
				return fmt.Errorf("%w: %s depends on a state derivative", ErrConfiguration, what)
			}
		}
	}
	return nil
}

func checkDims(name string, a *mat.Dense, r, c int) error {
	if a == nil {
		if r*c == 0 {
			return nil
		}
		return fmt.Errorf("%w: %s missing", ErrConfiguration, name)
	}
	if ar, ac := a.Dims(); ar != r || ac != c {
		return fmt.Errorf("%w: %s is %dx%d, expected %dx%d", ErrConfiguration, name, ar, ac, r, c)
	}
	return nil
}

// SetLinearInput sets M1 dx1 = A1 x1 + B1 u.
func (m *Model) SetLinearInput(m1, a1, b1 *mat.Dense) error {
	if err := m.ready("linear input"); err != nil {
		return err
	}
	if m.m1 != nil {
		return fmt.Errorf("%w: linear input already set", ErrConfiguration)
	}
	n := m.dims.NX1
	if n == 0 {
		return fmt.Errorf("%w: linear input without linear input states", ErrConfiguration)
	}
	if err := checkDims("M1", m1, n, n); err != nil {
		return err
	}
	if err := checkDims("A1", a1, n, n); err != nil {
		return err
	}
	if err := checkDims("B1", b1, n, m.dims.NU); err != nil {
		return err
	}
	m.m1, m.a1 = mat.DenseCopyOf(m1), mat.DenseCopyOf(a1)
	if b1 != nil {
		m.b1 = mat.DenseCopyOf(b1)
	}
	return nil
}

// SetLinearOutput sets M3 dx3 = A3 x3 + f3(x1, x2, z, u, p, t).
func (m *Model) SetLinearOutput(m3, a3 *mat.Dense, f3 ...symbolic.Operator) error {
	if err := m.ready("linear output"); err != nil {
		return err
	}
	if m.m3 != nil {
		return fmt.Errorf("%w: linear output already set", ErrConfiguration)
	}
	n := m.dims.NX3
	if n == 0 {
		return fmt.Errorf("%w: linear output without linear output states", ErrConfiguration)
	}
	if err := checkDims("M3", m3, n, n); err != nil {
		return err
	}
	if err := checkDims("A3", a3, n, n); err != nil {
		return err
	}
	if len(f3) != n {
		return fmt.Errorf("%w: f3 has %d components, expected %d", ErrConfiguration, len(f3), n)
	}
	f := symbolic.NewFunction(m.dims.Layout(), f3...)
	if err := m.checkInputs("f3", f, true); err != nil {
		return err
	}
	m.m3, m.a3, m.f3 = mat.DenseCopyOf(m3), mat.DenseCopyOf(a3), f
	return nil
}

// OutputColumns returns the variables of the output Jacobian columns: x, z, u and dx.
func (d Dimensions) OutputColumns() []symbolic.Variable {
	var cols []symbolic.Variable
	add := func(t symbolic.VariableType, n int) {
		for i := 0; i < n; i++ {
			cols = append(cols, symbolic.Variable{Type: t, Component: i})
		}
	}
	add(symbolic.DifferentialState, d.NX())
	add(symbolic.AlgebraicState, d.NXA)
	add(symbolic.Control, d.NU)
	add(symbolic.DifferentialStateDerivative, d.NDX)
	return cols
}

// validateCRS checks a 0-based CRS pattern; nil slices select the dense pattern.
func validateCRS(dim, ncols int, colInd, rowPtr []int) ([]int, []int, error) {
	if colInd == nil && rowPtr == nil {
		rowPtr = make([]int, dim+1)
		for r := 0; r < dim; r++ {
			for c := 0; c < ncols; c++ {
				colInd = append(colInd, c)
			}
			rowPtr[r+1] = len(colInd)
		}
		return colInd, rowPtr, nil
	}
	if len(rowPtr) != dim+1 {
		return nil, nil, fmt.Errorf("%w: row pointer of length %d for dimension %d", ErrConfiguration, len(rowPtr), dim)
	}
	if rowPtr[0] != 0 || rowPtr[dim] != len(colInd) {
		return nil, nil, fmt.Errorf("%w: row pointer %v does not span %d column indices", ErrConfiguration, rowPtr, len(colInd))
	}
	for r := 0; r < dim; r++ {
		if rowPtr[r+1] < rowPtr[r] {
			return nil, nil, fmt.Errorf("%w: decreasing row pointer at %d", ErrConfiguration, r)
		}
		for k := rowPtr[r]; k < rowPtr[r+1]; k++ {
			if colInd[k] < 0 || colInd[k] >= ncols {
				return nil, nil, fmt.Errorf("%w: column index %d outside [0,%d)", ErrConfiguration, colInd[k], ncols)
			}
			if k > rowPtr[r] && colInd[k] <= colInd[k-1] {
				return nil, nil, fmt.Errorf("%w: column indices of row %d not increasing", ErrConfiguration, r)
			}
		}
	}
	return append([]int(nil), colInd...), append([]int(nil), rowPtr...), nil
}

// AddOutput adds a symbolic output; colInd and rowPtr may be nil for a dense Jacobian.
func (m *Model) AddOutput(h []symbolic.Operator, colInd, rowPtr []int) error {
	if err := m.ready("output"); err != nil {
		return err
	}
	if len(h) == 0 {
		return fmt.Errorf("%w: empty output", ErrConfiguration)
	}
	cols := m.dims.OutputColumns()
	colInd, rowPtr, err := validateCRS(len(h), len(cols), colInd, rowPtr)
	if err != nil {
		return err
	}
	f := symbolic.NewFunction(m.dims.Layout(), h...)
	name := fmt.Sprintf("output%d", len(m.outputs))
	if err := m.checkInputs(name, f, false); err != nil {
		return err
	}
	m.outputs = append(m.outputs, Output{Name: name, Dim: len(h), F: f, ColInd: colInd, RowPtr: rowPtr})
	return nil
}

// AddExternalOutput declares a caller-defined output and its Jacobian.
func (m *Model) AddExternalOutput(name, jacName string, dim int, colInd, rowPtr []int) error {
	if err := m.ready("output"); err != nil {
		return err
	}
	if dim <= 0 || name == "" || jacName == "" || name == jacName {
		return fmt.Errorf("%w: external output %q/%q of dimension %d", ErrConfiguration, name, jacName, dim)
	}
	colInd, rowPtr, err := validateCRS(dim, len(m.dims.OutputColumns()), colInd, rowPtr)
	if err != nil {
		return err
	}
	m.outputs = append(m.outputs, Output{Name: name, Dim: dim, JacName: jacName, ColInd: colInd, RowPtr: rowPtr})
	return nil
}

// Outputs returns the outputs in declaration order.
func (m *Model) Outputs() []Output { return append([]Output(nil), m.outputs...) }

// SetMeasurements sets the total number of measurements of every output over the horizon.
// Nothing is stored when the vector is invalid.
func (m *Model) SetMeasurements(counts []int) error {
	if err := m.mutable("measurements"); err != nil {
		return err
	}
	if len(counts) != len(m.outputs) {
		return fmt.Errorf("%w: %d measurement counts for %d outputs", ErrConfiguration, len(counts), len(m.outputs))
	}
	if lo.SomeBy(counts, func(n int) bool { return n <= 0 }) {
		return fmt.Errorf("%w: non-positive measurement count in %v", ErrConfiguration, counts)
	}
	m.measurements = append([]int(nil), counts...)
	return nil
}

// Measurements returns the measurement counts.
func (m *Model) Measurements() []int { return append([]int(nil), m.measurements...) }

// SetGrid sets an equidistant grid of n intervals over the horizon t.
func (m *Model) SetGrid(t float64, n int) error {
	return m.setGrid(Grid{T: t, N: n})
}

// SetStepGrid sets a non-equidistant grid with the given steps per interval and a common step size.
func (m *Model) SetStepGrid(t float64, steps []int) error {
	if len(steps) == 0 || lo.SomeBy(steps, func(n int) bool { return n <= 0 }) {
		return fmt.Errorf("%w: invalid steps per interval %v", ErrConfiguration, steps)
	}
	return m.setGrid(Grid{T: t, N: len(steps), Steps: append([]int(nil), steps...)})
}

func (m *Model) setGrid(g Grid) error {
	if err := m.mutable("grid"); err != nil {
		return err
	}
	if !(g.T > 0) || g.N <= 0 {
		return fmt.Errorf("%w: horizon %g with %d intervals", ErrConfiguration, g.T, g.N)
	}
	m.grid, m.gridSet = g, true
	return nil
}

// Grid returns the integration grid.
func (m *Model) Grid() Grid { return m.grid }

// Freeze checks that the model is complete and forbids further changes.
func (m *Model) Freeze() error {
	if m.frozen {
		return nil
	}
	d := m.dims
	switch {
	case !m.dimsSet:
		return fmt.Errorf("%w: dimensions not set", ErrConfiguration)
	case d.NX2+d.NXA > 0 && !m.rhsSet():
		return fmt.Errorf("%w: right-hand side not set", ErrConfiguration)
	case d.NX1 > 0 && m.m1 == nil:
		return fmt.Errorf("%w: linear input not set", ErrConfiguration)
	case d.NX3 > 0 && m.m3 == nil:
		return fmt.Errorf("%w: linear output not set", ErrConfiguration)
	case !m.gridSet:
		return fmt.Errorf("%w: integration grid not set", ErrConfiguration)
	case len(m.outputs) > 0 && len(m.measurements) != len(m.outputs):
		return fmt.Errorf("%w: measurements not set for %d outputs", ErrConfiguration, len(m.outputs))
	}
	m.frozen = true
	return nil
}

// Frozen reports whether the model is frozen.
func (m *Model) Frozen() bool { return m.frozen }
