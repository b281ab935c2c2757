package irkgen

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/ChristopherRabotin/irkgen/symbolic"
	kitlog "github.com/go-kit/kit/log"
	"gonum.org/v1/gonum/floats/scalar"
)

var nop = kitlog.NewNopLogger()

func TestSimulationDecay(t *testing.T) {
	m := decay(t, 1)
	sim, err := NewSimulation(m, []float64{2}, nil, nil, nop)
	if err != nil {
		t.Fatal(err)
	}
	x, err := sim.Propagate(100, 0.01)
	if err != nil {
		t.Fatal(err)
	}
	if !scalar.EqualWithinAbs(x[0], 2*math.Exp(-1), 1e-9) {
		t.Fatalf("x=%.12f", x[0])
	}
	// Propagation continues from the last state.
	if x, _ = sim.Propagate(100, 0.01); !scalar.EqualWithinAbs(x[0], 2*math.Exp(-2), 1e-9) {
		t.Fatalf("x=%.12f", x[0])
	}
}

func TestSimulationErrors(t *testing.T) {
	m := NewModel()
	m.SetDimensions(Dimensions{NX2: 1, NDX: 1})
	m.SetRHS(symbolic.Add(symbolic.DX(0), symbolic.X(0)))
	if _, err := NewSimulation(m, []float64{1}, nil, nil, nop); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("implicit model: %v", err)
	}
	if _, err := NewSimulation(decay(t, 1), []float64{1, 2}, nil, nil, nop); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("wrong state size: %v", err)
	}
	sim, _ := NewSimulation(decay(t, 1), []float64{1}, nil, nil, nop)
	if _, err := sim.Propagate(0, 0.1); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("no steps: %v", err)
	}
}

func TestSimulationLogger(t *testing.T) {
	var buf bytes.Buffer
	sim, err := NewSimulation(decay(t, 1), []float64{1}, nil, nil, kitlog.NewLogfmtLogger(&buf))
	if err != nil {
		t.Fatal(err)
	}
	sim.fail(errors.New("overflow"))
	sim.fail(errors.New("ignored"))
	if !errors.Is(sim.err, ErrNumerical) {
		t.Fatalf("err=%v", sim.err)
	}
	out := buf.String()
	if !strings.Contains(out, "simulation=rk4") || !strings.Contains(out, "err=overflow") {
		t.Fatalf("log %q", out)
	}
	if strings.Count(out, "\n") != 1 {
		t.Fatalf("only the first failure is logged: %q", out)
	}
}
