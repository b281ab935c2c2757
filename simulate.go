package irkgen

import (
	"fmt"
	"os"

	"github.com/ChristopherRabotin/ode"
	kitlog "github.com/go-kit/kit/log"
	"gonum.org/v1/gonum/mat"
)

// Simulation is an ode.Integrable which propagates an explicit model with a fixed step RK4.
// It is the reference the generated integrators are verified against.
type Simulation struct {
	model  *Model
	m1inv  *mat.Dense
	m3inv  *mat.Dense
	x      []float64
	u, p   []float64
	in     []float64 // model input at the current evaluation
	out    []float64
	steps  int // steps to take
	done   int // steps taken
	err    error
	logger kitlog.Logger
}

// NewSimulation returns a simulation of m, which must be explicit and without algebraic states.
// A nil logger writes logfmt to stderr.
func NewSimulation(m *Model, x0, u, p []float64, logger kitlog.Logger) (*Simulation, error) {
	d := m.dims
	if !m.dimsSet {
		return nil, fmt.Errorf("%w: dimensions not set", ErrConfiguration)
	}
	if d.Implicit() || d.NXA > 0 {
		return nil, fmt.Errorf("%w: simulation needs an explicit model without algebraic states", ErrConfiguration)
	}
	if m.rhs == nil && d.NX2 > 0 {
		return nil, fmt.Errorf("%w: simulation needs a symbolic right-hand side", ErrConfiguration)
	}
	if len(x0) != d.NX() || len(u) != d.NU || len(p) != d.NP {
		return nil, fmt.Errorf("%w: initial state, controls or parameters of the wrong size", ErrConfiguration)
	}
	sim := &Simulation{model: m, x: append([]float64(nil), x0...), u: u, p: p}
	var err error
	if d.NX1 > 0 {
		if sim.m1inv, err = invert(m.m1); err != nil {
			return nil, fmt.Errorf("M1: %w", err)
		}
	}
	if d.NX3 > 0 {
		if sim.m3inv, err = invert(m.m3); err != nil {
			return nil, fmt.Errorf("M3: %w", err)
		}
	}
	sim.in = make([]float64, d.Layout().Size())
	sim.out = make([]float64, max(d.NX2, d.NX3))
	if logger == nil {
		logger = kitlog.NewLogfmtLogger(kitlog.NewSyncWriter(os.Stderr))
	}
	sim.logger = kitlog.With(logger, "simulation", "rk4")
	return sim, nil
}

// GetState gets the state.
func (s *Simulation) GetState() []float64 { return append([]float64(nil), s.x...) }

// SetState sets the next state at time t.
func (s *Simulation) SetState(t float64, x []float64) {
	copy(s.x, x)
	s.done++
}

// Stop returns whether we should stop the integration.
func (s *Simulation) Stop(t float64) bool { return s.done >= s.steps || s.err != nil }

// Func returns the state derivative.
func (s *Simulation) Func(t float64, x []float64) (fDot []float64) {
	d := s.model.dims
	fDot = make([]float64, d.NX())
	nxr := d.NX1 + d.NX2
	copy(s.in, x)
	copy(s.in[d.NX():], s.u)
	copy(s.in[d.NX()+d.NU:], s.p)
	s.in[len(s.in)-1] = t
	if d.NX1 > 0 {
		rhs := mat.NewVecDense(d.NX1, nil)
		rhs.MulVec(s.model.a1, mat.NewVecDense(d.NX1, append([]float64(nil), x[:d.NX1]...)))
		if s.model.b1 != nil && d.NU > 0 {
			var bu mat.VecDense
			bu.MulVec(s.model.b1, mat.NewVecDense(d.NU, append([]float64(nil), s.u...)))
			rhs.AddVec(rhs, &bu)
		}
		dx := mat.NewVecDense(d.NX1, fDot[:d.NX1])
		dx.MulVec(s.m1inv, rhs)
	}
	if d.NX2 > 0 {
		if err := s.model.rhs.Evaluate(0, s.in, s.out); err != nil {
			s.fail(err)
			return fDot
		}
		copy(fDot[d.NX1:nxr], s.out[:d.NX2])
	}
	if d.NX3 > 0 {
		if err := s.model.f3.Evaluate(0, s.in, s.out); err != nil {
			s.fail(err)
			return fDot
		}
		rhs := mat.NewVecDense(d.NX3, append([]float64(nil), s.out[:d.NX3]...))
		var ax mat.VecDense
		ax.MulVec(s.model.a3, mat.NewVecDense(d.NX3, append([]float64(nil), x[nxr:]...)))
		rhs.AddVec(rhs, &ax)
		dx := mat.NewVecDense(d.NX3, fDot[nxr:])
		dx.MulVec(s.m3inv, rhs)
	}
	return fDot
}

func (s *Simulation) fail(err error) {
	if s.err == nil {
		s.err = fmt.Errorf("%w: %v", ErrNumerical, err)
		s.logger.Log("level", "error", "subsys", "simulation", "err", err)
	}
}

// Propagate takes steps RK4 steps of size h from the current state and returns the new state.
func (s *Simulation) Propagate(steps int, h float64) ([]float64, error) {
	if steps <= 0 || !(h > 0) {
		return nil, fmt.Errorf("%w: %d steps of %g", ErrConfiguration, steps, h)
	}
	s.steps, s.done = steps, 0
	ode.NewRK4(0, h, s).Solve() // Blocking.
	if s.err != nil {
		return nil, s.err
	}
	return s.GetState(), nil
}
