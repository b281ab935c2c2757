package irkgen

import (
	"errors"
	"math"
	"testing"

	"github.com/ChristopherRabotin/irkgen/symbolic"
	"gonum.org/v1/gonum/floats/scalar"
)

func TestVerify(t *testing.T) {
	oscillator := func(grid func(m *Model) error) *Model {
		m := NewModel()
		m.SetDimensions(Dimensions{NX2: 2, NU: 1})
		m.SetRHS(symbolic.X(1), symbolic.Add(symbolic.Neg(symbolic.X(0)), symbolic.U(0)))
		if err := grid(m); err != nil {
			t.Fatal(err)
		}
		return m
	}
	t.Run("equidistant", func(t *testing.T) {
		m := oscillator(func(m *Model) error { return m.SetGrid(2, 4) })
		e, mc := setup(t, m, testOptions("RadauIIA5", 20))
		rpt, err := e.Verify(mc, []float64{1, 0}, []float64{0.5}, nil, 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(rpt.States) != 4 || len(rpt.Reference) != 4 {
			t.Fatalf("%d states, %d reference states", len(rpt.States), len(rpt.Reference))
		}
		if rpt.MaxError > 1e-7 {
			t.Fatalf("max error %g", rpt.MaxError)
		}
		// x0 = 0.5 + 0.5 cos(t)
		if x := rpt.States[3][0]; !scalar.EqualWithinAbs(x, 0.5+0.5*math.Cos(2), 1e-7) {
			t.Fatalf("x(2)=%.10f", x)
		}
	})
	t.Run("steps per interval", func(t *testing.T) {
		m := oscillator(func(m *Model) error { return m.SetStepGrid(1, []int{4, 6}) })
		e, mc := setup(t, m, testOptions("GaussLegendre4", 10))
		rpt, err := e.Verify(mc, []float64{1, 0}, []float64{0}, nil, 10)
		if err != nil {
			t.Fatal(err)
		}
		if x := rpt.States[0][0]; !scalar.EqualWithinAbs(x, math.Cos(0.4), 1e-5) {
			t.Fatalf("x(0.4)=%.10f", x)
		}
		if x := rpt.States[1][0]; !scalar.EqualWithinAbs(x, math.Cos(1), 1e-5) {
			t.Fatalf("x(1)=%.10f", x)
		}
	})
	t.Run("errors", func(t *testing.T) {
		m := oscillator(func(m *Model) error { return m.SetGrid(1, 1) })
		e, mc := setup(t, m, testOptions("RadauIIA3", 5))
		if _, err := e.Verify(mc, []float64{1}, []float64{0}, nil, 10); !errors.Is(err, ErrConfiguration) {
			t.Fatalf("wrong state size: %v", err)
		}
		if _, err := e.Verify(mc, []float64{1, 0}, []float64{0}, nil, 0); !errors.Is(err, ErrConfiguration) {
			t.Fatalf("no reference steps: %v", err)
		}
	})
}
