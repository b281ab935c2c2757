package symbolic

import (
	"errors"
	"fmt"
)

// ErrNotInitialized is returned when a leaf refers to a variable which has no storage in the layout.
var ErrNotInitialized = errors.New("symbolic: variable not initialized")

// VariableType classifies a leaf.
type VariableType uint8

// The zero value is deliberately unusable.
const (
	Unknown VariableType = iota
	DifferentialState
	AlgebraicState
	Control
	Parameter
	DifferentialStateDerivative
	Time
)

func (t VariableType) String() string {
	switch t {
	case DifferentialState:
		return "x"
	case AlgebraicState:
		return "z"
	case Control:
		return "u"
	case Parameter:
		return "p"
	case DifferentialStateDerivative:
		return "dx"
	case Time:
		return "t"
	}
	return "?"
}

// Variable identifies one scalar input of an expression.
type Variable struct {
	Type      VariableType
	Component int
}

func (v Variable) String() string {
	if v.Type == Time {
		return "t"
	}
	return fmt.Sprintf("%s%d", v.Type, v.Component)
}

// Layout fixes the flat ordering of all inputs: x, z, u, p, dx and finally t.
type Layout struct {
	NX, NXA, NU, NP, NDX int
}

// Size returns the length of a flat input vector, time included.
func (l Layout) Size() int {
	return l.NX + l.NXA + l.NU + l.NP + l.NDX + 1
}

// Index returns the flat position of v.
func (l Layout) Index(v Variable) (int, error) {
	offset, dim := 0, 0
	switch v.Type {
	case DifferentialState:
		offset, dim = 0, l.NX
	case AlgebraicState:
		offset, dim = l.NX, l.NXA
	case Control:
		offset, dim = l.NX+l.NXA, l.NU
	case Parameter:
		offset, dim = l.NX+l.NXA+l.NU, l.NP
	case DifferentialStateDerivative:
		offset, dim = l.NX+l.NXA+l.NU+l.NP, l.NDX
	case Time:
		return l.Size() - 1, nil
	default:
		return 0, fmt.Errorf("%w: %s has no type", ErrNotInitialized, v)
	}
	if v.Component < 0 || v.Component >= dim {
		return 0, fmt.Errorf("%w: %s outside dimension %d", ErrNotInitialized, v, dim)
	}
	return offset + v.Component, nil
}

// Variables returns every variable of the layout in flat order.
func (l Layout) Variables() []Variable {
	vars := make([]Variable, 0, l.Size())
	for _, blk := range []struct {
		t VariableType
		n int
	}{{DifferentialState, l.NX}, {AlgebraicState, l.NXA}, {Control, l.NU}, {Parameter, l.NP}, {DifferentialStateDerivative, l.NDX}} {
		for i := 0; i < blk.n; i++ {
			vars = append(vars, Variable{blk.t, i})
		}
	}
	return append(vars, Variable{Type: Time})
}

// Env is one input set: a layout and the flat values matching it.
type Env struct {
	Layout Layout
	X      []float64
}

func (e Env) value(v Variable) (float64, error) {
	idx, err := e.Layout.Index(v)
	if err != nil {
		return 0, err
	}
	if idx >= len(e.X) {
		return 0, fmt.Errorf("%w: %s beyond input of length %d", ErrNotInitialized, v, len(e.X))
	}
	return e.X[idx], nil
}
