package irkgen

import (
	"errors"
	"math"
	"testing"

	"github.com/ChristopherRabotin/irkgen/codegen"
	"github.com/ChristopherRabotin/irkgen/symbolic"
	kitlog "github.com/go-kit/kit/log"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/floats/scalar"
	"gonum.org/v1/gonum/mat"
)

func testOptions(integrator string, steps int) Options {
	opts := DefaultOptions()
	opts.Integrator = integrator
	opts.Steps = steps
	return opts
}

func setup(t *testing.T, m *Model, opts Options) (*IRKExport, *codegen.Machine) {
	t.Helper()
	e := NewIRKExport(DefaultRegistry(), opts, kitlog.NewNopLogger())
	if err := e.SetModel(m); err != nil {
		t.Fatal(err)
	}
	prog, err := e.Setup()
	if err != nil {
		t.Fatal(err)
	}
	return e, codegen.NewMachine(prog)
}

// decay returns x' = -rate*x over one interval of length 1.
func decay(t *testing.T, rate float64) *Model {
	m := NewModel()
	if err := m.SetDimensions(Dimensions{NX2: 1}); err != nil {
		t.Fatal(err)
	}
	if err := m.SetRHS(symbolic.Mul(symbolic.Const(-rate), symbolic.X(0))); err != nil {
		t.Fatal(err)
	}
	if err := m.SetGrid(1, 1); err != nil {
		t.Fatal(err)
	}
	return m
}

// pendulum returns a damped pendulum driven by one control.
func pendulum(t *testing.T) *Model {
	m := NewModel()
	if err := m.SetDimensions(Dimensions{NX2: 2, NU: 1}); err != nil {
		t.Fatal(err)
	}
	err := m.SetRHS(
		symbolic.X(1),
		symbolic.Add(symbolic.Sub(symbolic.Neg(symbolic.Sin(symbolic.X(0))), symbolic.Mul(symbolic.Const(0.1), symbolic.X(1))), symbolic.U(0)),
	)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.SetGrid(1, 1); err != nil {
		t.Fatal(err)
	}
	return m
}

func invoke(t *testing.T, mc *codegen.Machine, name string, args ...interface{}) {
	t.Helper()
	if _, err := mc.Call(name, args...); err != nil {
		t.Fatal(err)
	}
}

// sensFD returns the central differences of the state after one interval w.r.t. x0 then u.
func sensFD(t *testing.T, e *IRKExport, mc *codegen.Machine, eta []float64, eps float64) [][]float64 {
	t.Helper()
	nx, nw := e.nx, e.nw
	fd := make([][]float64, nx)
	for r := range fd {
		fd[r] = make([]float64, nw)
	}
	for d := 0; d < nw; d++ {
		idx := d
		if d >= nx {
			idx = e.uOff() + d - nx
		}
		plus, minus := append([]float64(nil), eta...), append([]float64(nil), eta...)
		plus[idx] += eps
		minus[idx] -= eps
		invoke(t, mc, "irk_integrate", plus, 1)
		invoke(t, mc, "irk_integrate", minus, 1)
		for r := 0; r < nx; r++ {
			fd[r][d] = (plus[r] - minus[r]) / (2 * eps)
		}
	}
	return fd
}

func TestImplicitEuler(t *testing.T) {
	for _, implicit := range []bool{false, true} {
		m := decay(t, 1)
		if implicit {
			m = NewModel()
			m.SetDimensions(Dimensions{NX2: 1, NDX: 1})
			if err := m.SetRHS(symbolic.Add(symbolic.DX(0), symbolic.X(0))); err != nil {
				t.Fatal(err)
			}
			m.SetGrid(1, 1)
		}
		e, mc := setup(t, m, testOptions("RadauIIA1", 10))
		if e.Step() != 0.1 || e.StepsPerInterval(0) != 10 || e.EtaSize() != 2 {
			t.Fatalf("h=%f steps=%d eta=%d", e.Step(), e.StepsPerInterval(0), e.EtaSize())
		}
		exp := math.Pow(1/1.1, 10)
		eta := []float64{1, 0}
		invoke(t, mc, "irk_integrate", eta, 1)
		if !scalar.EqualWithinAbs(eta[0], exp, 1e-14) {
			t.Fatalf("implicit=%v: x=%.16f expected %.16f", implicit, eta[0], exp)
		}
		eta = []float64{1, 0}
		invoke(t, mc, "irk_integrateSens", eta, 1)
		if !scalar.EqualWithinAbs(eta[0], exp, 1e-14) || !scalar.EqualWithinAbs(eta[1], exp, 1e-14) {
			t.Fatalf("implicit=%v: x=%f dx/dx0=%f expected %f", implicit, eta[0], eta[1], exp)
		}
		det, _ := mc.Workspace("rk_det")
		if !scalar.EqualWithinAbs(det[0], 1.1, 1e-14) {
			t.Fatalf("det=%f", det[0])
		}
	}
}

func TestSingleNewtonIterationIsExact(t *testing.T) {
	// On x' = lambda*x one Newton iteration solves the stage equations, so every step
	// multiplies x by the stability function R(z) = 1 + z*b'*(I - z*A)^-1*1.
	const (
		lambda = -2.0
		steps  = 4
		x0     = 1.5
	)
	z := lambda / steps
	paths := map[Structure]int{}
	for _, name := range []string{"RadauIIA1", "RadauIIA3", "RadauIIA5", "SDIRK2", "SDIRK3", "GaussLegendre2", "GaussLegendre4"} {
		tab, err := DefaultRegistry().Lookup(name)
		if err != nil {
			t.Fatal(err)
		}
		s := tab.Stages()
		var sys mat.Dense
		sys.Scale(-z, tab.A())
		sys.Add(DenseIdentity(s), &sys)
		ones := mat.NewVecDense(s, nil)
		for i := 0; i < s; i++ {
			ones.SetVec(i, 1)
		}
		var y mat.VecDense
		if err := y.SolveVec(&sys, ones); err != nil {
			t.Fatal(err)
		}
		r := 1 + z*mat.Dot(mat.NewVecDense(s, tab.B()), &y)
		exp := x0 * math.Pow(r, steps)

		opts := testOptions(name, steps)
		opts.NumIts, opts.NumItsInit = 1, 0
		e, mc := setup(t, decay(t, -lambda), opts)
		eta := make([]float64, e.EtaSize())
		eta[0] = x0
		invoke(t, mc, "irk_integrate", eta, 1)
		if !scalar.EqualWithinAbsOrRel(eta[0], exp, 1e-12, 1e-12) {
			t.Fatalf("%s: x=%.16f expected %.16f", name, eta[0], exp)
		}
		eta = make([]float64, e.EtaSize())
		eta[0] = x0
		invoke(t, mc, "irk_integrateSens", eta, 1)
		if !scalar.EqualWithinAbsOrRel(eta[1], math.Pow(r, steps), 1e-12, 1e-12) {
			t.Fatalf("%s: dx/dx0=%.16f expected %.16f", name, eta[1], math.Pow(r, steps))
		}
		paths[tab.Structure]++
	}
	if paths[FullyImplicit] == 0 || paths[DiagonallyImplicit] == 0 {
		t.Fatalf("stage solver paths %v", paths)
	}
}

func TestAlgebraicState(t *testing.T) {
	// x' = -x + z, 0 = z - x/2
	m := NewModel()
	m.SetDimensions(Dimensions{NX2: 1, NXA: 1})
	err := m.SetRHS(
		symbolic.Add(symbolic.Neg(symbolic.X(0)), symbolic.Z(0)),
		symbolic.Sub(symbolic.Z(0), symbolic.Mul(symbolic.Const(0.5), symbolic.X(0))),
	)
	if err != nil {
		t.Fatal(err)
	}
	m.SetGrid(1, 1)
	_, mc := setup(t, m, testOptions("RadauIIA1", 10))
	exp := math.Pow(1/1.05, 10)
	eta := []float64{1, 0}
	invoke(t, mc, "irk_integrateSens", eta, 1)
	if !scalar.EqualWithinAbs(eta[0], exp, 1e-14) || !scalar.EqualWithinAbs(eta[1], exp, 1e-14) {
		t.Fatalf("x=%f dx/dx0=%f expected %f", eta[0], eta[1], exp)
	}
	kkk, _ := mc.Workspace("rk_kkk")
	if !scalar.EqualWithinAbs(kkk[1], 0.5*math.Pow(1/1.05, 9)/1.05, 1e-14) {
		t.Fatalf("z=%f", kkk[1])
	}
}

func TestLinearSystemMatchesExpm(t *testing.T) {
	const u = 0.5
	x0 := []float64{1, 0}
	aug := mat.NewDense(3, 3, []float64{0, 1, 0, -2, -0.3, u, 0, 0, 0})
	var expm mat.Dense
	expm.Exp(aug)
	for _, tc := range []struct {
		name string
		tol  float64
	}{{"RadauIIA5", 1e-7}, {"GaussLegendre4", 1e-7}, {"RadauIIA3", 1e-5}, {"SDIRK3", 1e-4}} {
		m := NewModel()
		m.SetDimensions(Dimensions{NX2: 2, NU: 1})
		err := m.SetRHS(
			symbolic.X(1),
			symbolic.Add(symbolic.Sub(symbolic.Mul(symbolic.Const(-2), symbolic.X(0)), symbolic.Mul(symbolic.Const(0.3), symbolic.X(1))), symbolic.U(0)),
		)
		if err != nil {
			t.Fatal(err)
		}
		m.SetGrid(1, 1)
		e, mc := setup(t, m, testOptions(tc.name, 100))
		eta := make([]float64, e.EtaSize())
		copy(eta, x0)
		eta[e.uOff()] = u
		fd := sensFD(t, e, mc, eta, 1e-3)
		invoke(t, mc, "irk_integrateSens", eta, 1)
		for r := 0; r < 2; r++ {
			exp := expm.At(r, 0)*x0[0] + expm.At(r, 1)*x0[1] + expm.At(r, 2)
			if !scalar.EqualWithinAbs(eta[r], exp, tc.tol) {
				t.Fatalf("%s: x[%d]=%.12f expected %.12f", tc.name, r, eta[r], exp)
			}
			for d := 0; d < 3; d++ {
				g := eta[2+r*3+d]
				exp := expm.At(r, d)
				if d == 2 {
					exp /= u
				}
				if !scalar.EqualWithinAbs(g, exp, tc.tol) {
					t.Fatalf("%s: G[%d][%d]=%.12f expected %.12f", tc.name, r, d, g, exp)
				}
				if !scalar.EqualWithinAbs(g, fd[r][d], 1e-8) {
					t.Fatalf("%s: G[%d][%d]=%.12f finite differences %.12f", tc.name, r, d, g, fd[r][d])
				}
			}
		}
	}
}

func TestNonlinearSensitivities(t *testing.T) {
	for _, name := range []string{"RadauIIA3", "SDIRK2", "GaussLegendre4"} {
		run := func(mode SensitivityMode) []float64 {
			opts := testOptions(name, 20)
			opts.NumIts, opts.NumItsInit, opts.Sensitivity = 10, 5, mode
			e, mc := setup(t, pendulum(t), opts)
			eta := make([]float64, e.EtaSize())
			eta[0], eta[1], eta[e.uOff()] = 0.8, -0.2, 0.3
			fd := sensFD(t, e, mc, eta, 1e-4)
			invoke(t, mc, "irk_integrateSens", eta, 1)
			if mode == IFT {
				for r := 0; r < 2; r++ {
					for d := 0; d < 3; d++ {
						if g := eta[2+r*3+d]; !scalar.EqualWithinAbs(g, fd[r][d], 1e-5) {
							t.Fatalf("%s: G[%d][%d]=%.10f finite differences %.10f", name, r, d, g, fd[r][d])
						}
					}
				}
			}
			return eta
		}
		ift, iftr := run(IFT), run(IFTR)
		if !floats.EqualApprox(ift, iftr, 1e-2) {
			t.Fatalf("%s: IFT %v and IFTR %v disagree", name, ift, iftr)
		}
		if !scalar.EqualWithinAbs(ift[0], iftr[0], 1e-12) {
			t.Fatalf("%s: the sensitivity mode changed the state", name)
		}
	}
}

func TestLinearBlocks(t *testing.T) {
	// x1' = -x1 + u, x2' = x1 - x2, 2 x3' = -x3 + 2 x2^2
	m := NewModel()
	m.SetDimensions(Dimensions{NX1: 1, NX2: 1, NX3: 1, NU: 1})
	one := func(v float64) *mat.Dense { return mat.NewDense(1, 1, []float64{v}) }
	if err := m.SetLinearInput(one(1), one(-1), one(1)); err != nil {
		t.Fatal(err)
	}
	if err := m.SetRHS(symbolic.Sub(symbolic.X(0), symbolic.X(1))); err != nil {
		t.Fatal(err)
	}
	x2sq := symbolic.Mul(symbolic.Const(2), symbolic.Mul(symbolic.X(1), symbolic.X(1)))
	if err := m.SetLinearOutput(one(2), one(-1), x2sq); err != nil {
		t.Fatal(err)
	}
	m.SetGrid(1, 1)
	x0, u := []float64{0.5, -1, 2}, []float64{0.7}

	e, mc := setup(t, m, testOptions("RadauIIA5", 20))
	sim, err := NewSimulation(m, x0, u, nil, kitlog.NewNopLogger())
	if err != nil {
		t.Fatal(err)
	}
	ref, err := sim.Propagate(1000, 1e-3)
	if err != nil {
		t.Fatal(err)
	}
	eta := make([]float64, e.EtaSize())
	copy(eta, x0)
	eta[e.uOff()] = u[0]
	fd := sensFD(t, e, mc, eta, 1e-4)
	invoke(t, mc, "irk_integrateSens", eta, 1)
	if !floats.EqualApprox(eta[:3], ref, 1e-6) {
		t.Fatalf("x=%v reference %v", eta[:3], ref)
	}
	for r := 0; r < 3; r++ {
		for d := 0; d < 4; d++ {
			if g := eta[3+r*4+d]; !scalar.EqualWithinAbs(g, fd[r][d], 1e-7) {
				t.Fatalf("G[%d][%d]=%.10f finite differences %.10f", r, d, g, fd[r][d])
			}
		}
	}
	mat1, _ := mc.Workspace("rk_mat1")
	if len(mat1) != 3 {
		t.Fatalf("rk_mat1 has %d entries", len(mat1))
	}
}

func TestOutputs(t *testing.T) {
	m := NewModel()
	m.SetDimensions(Dimensions{NX2: 1})
	m.SetRHS(symbolic.Neg(symbolic.X(0)))
	if err := m.AddOutput([]symbolic.Operator{symbolic.Mul(symbolic.X(0), symbolic.X(0))}, nil, nil); err != nil {
		t.Fatal(err)
	}
	if err := m.SetMeasurements([]int{4}); err != nil {
		t.Fatal(err)
	}
	m.SetGrid(1, 2)
	opts := testOptions("RadauIIA5", 10)
	opts.ContinuousOutput = true
	e, mc := setup(t, m, opts)
	if nm := e.MeasurementsPerInterval(); len(nm) != 1 || nm[0] != 2 {
		t.Fatalf("measurements per interval %v", nm)
	}
	eta := []float64{1, 0}
	invoke(t, mc, "irk_integrateSens", eta, 1)
	out, _ := mc.Workspace("rk_out0")
	sens, _ := mc.Workspace("rk_outSens0")
	if out[0] != 1 || sens[0] != 2 {
		t.Fatalf("first measurement %f, sensitivity %f", out[0], sens[0])
	}
	if !scalar.EqualWithinAbs(out[1], math.Exp(-0.5), 1e-4) || !scalar.EqualWithinAbs(sens[1], 2*math.Exp(-0.5), 1e-4) {
		t.Fatalf("second measurement %f, sensitivity %f", out[1], sens[1])
	}

	// The continuous output at the end of the last step is the new state.
	xOut := make([]float64, 1)
	invoke(t, mc, "irk_reconstruct", 1.0, xOut)
	if !scalar.EqualWithinAbs(xOut[0], eta[0], 1e-14) {
		t.Fatalf("reconstruct(1)=%.16f, state %.16f", xOut[0], eta[0])
	}
	invoke(t, mc, "irk_reconstruct", 0.0, xOut)
	if math.Abs(xOut[0]-eta[0]*math.Exp(0.1)) > 1e-6 {
		t.Fatalf("reconstruct(0)=%.16f", xOut[0])
	}
}

func TestReconstructInterior(t *testing.T) {
	const x0 = 2.0
	opts := testOptions("RadauIIA5", 1)
	opts.ContinuousOutput = true
	e, mc := setup(t, decay(t, 1), opts)
	eta := make([]float64, e.EtaSize())
	eta[0] = x0
	invoke(t, mc, "irk_integrate", eta, 1)
	// rk_kkk already holds the extrapolated guess of the next step.
	k, _ := mc.Workspace("rk_kPrev")
	if got := x0 + e.Step()*floats.Dot(e.tab.B(), k); !scalar.EqualWithinAbs(got, eta[0], 1e-14) {
		t.Fatalf("saved stages give %.16f, state %.16f", got, eta[0])
	}
	poly, err := NewPolynomial(e.tab.C())
	if err != nil {
		t.Fatal(err)
	}
	// x(tau) = x0 + h*sum_j l_j(tau)*k_j with l_j the integrated Lagrange basis.
	exp := x0 + e.Step()*floats.Dot(poly.Evaluate(0.5), k)
	first := make([]float64, 1)
	invoke(t, mc, "irk_reconstruct", 0.5, first)
	if !scalar.EqualWithinAbs(first[0], exp, 1e-13) {
		t.Fatalf("reconstruct(0.5)=%.16f expected %.16f", first[0], exp)
	}
	if !scalar.EqualWithinAbs(first[0], x0*math.Exp(-0.5), 1e-3) {
		t.Fatalf("reconstruct(0.5)=%.16f far from the exact solution", first[0])
	}
	// Reconstruction reads the last step and leaves it untouched.
	again := make([]float64, 1)
	invoke(t, mc, "irk_reconstruct", 1.0, again)
	invoke(t, mc, "irk_reconstruct", 0.5, again)
	if again[0] != first[0] {
		t.Fatalf("second reconstruct(0.5)=%.16f, first %.16f", again[0], first[0])
	}
}

func TestSparseOutputSkipsUnusedStates(t *testing.T) {
	m := NewModel()
	m.SetDimensions(Dimensions{NX2: 3})
	m.SetRHS(symbolic.Neg(symbolic.X(0)), symbolic.Neg(symbolic.X(1)), symbolic.Neg(symbolic.X(2)))
	h := []symbolic.Operator{symbolic.Mul(symbolic.X(0), symbolic.X(1)), symbolic.X(0)}
	if err := m.AddOutput(h, []int{0, 1, 0}, []int{0, 2, 3}); err != nil {
		t.Fatal(err)
	}
	m.SetMeasurements([]int{3})
	m.SetGrid(1, 1)
	opts := testOptions("RadauIIA3", 3)
	opts.ContinuousOutput = true
	e, mc := setup(t, m, opts)
	fn, ok := e.Program().Lookup("irk_integrateSens")
	if !ok {
		t.Fatal("no integrateSens")
	}
	blk, ok := codegen.FindBlock(fn.(*codegen.Function).Body, "outputSens0")
	if !ok {
		t.Fatal("no output sensitivity block")
	}
	seen := map[int]bool{}
	codegen.Walk(blk.Body, func(s codegen.Stmt) {
		for _, el := range codegen.Loads(s) {
			base := 0
			switch idx := el.Index.(type) {
			case codegen.IBin:
				lit, isLit := idx.A.(codegen.ILit)
				if !isLit {
					continue
				}
				base = int(lit)
			case codegen.IVar:
			default:
				continue
			}
			switch el.V.Name {
			case "rk_eta":
				seen[(base-e.nx)/e.nw] = true
			case "rk_dk":
				seen[(base/e.nw)%e.nk] = true
			}
		}
	})
	if seen[2] || !seen[0] || !seen[1] {
		t.Fatalf("states read by the output sensitivities: %v", seen)
	}
	eta := make([]float64, e.EtaSize())
	eta[0], eta[1], eta[2] = 1, 2, 3
	invoke(t, mc, "irk_integrateSens", eta, 1)
	sens, _ := mc.Workspace("rk_outSens0")
	// First measurement at the start of the interval: d(x0*x1) = [x1, x0, 0], dx0 = [1, 0, 0].
	if !floats.Equal(sens[:6], []float64{2, 1, 0, 1, 0, 0}) {
		t.Fatalf("output sensitivities %v", sens[:6])
	}
}

func TestNonEquidistantGrid(t *testing.T) {
	m := NewModel()
	m.SetDimensions(Dimensions{NX2: 1})
	m.SetRHS(symbolic.Neg(symbolic.X(0)))
	if err := m.SetStepGrid(1, []int{4, 6}); err != nil {
		t.Fatal(err)
	}
	e, mc := setup(t, m, testOptions("RadauIIA1", 1))
	if e.Step() != 0.1 || e.StepsPerInterval(1) != 6 {
		t.Fatalf("h=%f steps=%d", e.Step(), e.StepsPerInterval(1))
	}
	for i, n := range []int{4, 6} {
		eta := []float64{1, 0}
		invoke(t, mc, "irk_integrate", eta, 1, i)
		if exp := math.Pow(1/1.1, float64(n)); !scalar.EqualWithinAbs(eta[0], exp, 1e-14) {
			t.Fatalf("interval %d: x=%f expected %f", i, eta[0], exp)
		}
	}
}

func TestExternalRHS(t *testing.T) {
	m := NewModel()
	m.SetDimensions(Dimensions{NX2: 1})
	if err := m.SetExternalRHS("model_rhs", "model_diffs"); err != nil {
		t.Fatal(err)
	}
	m.SetGrid(1, 1)
	_, mc := setup(t, m, testOptions("RadauIIA1", 10))
	mc.Bind("model_rhs", func(in, out []float64) error {
		out[0] = -2 * in[0]
		return nil
	})
	mc.Bind("model_diffs", func(in, out []float64) error {
		out[0] = -2
		return nil
	})
	eta := []float64{1, 0}
	invoke(t, mc, "irk_integrateSens", eta, 1)
	if exp := math.Pow(1/1.2, 10); !scalar.EqualWithinAbs(eta[0], exp, 1e-14) || !scalar.EqualWithinAbs(eta[1], exp, 1e-14) {
		t.Fatalf("x=%f G=%f expected %f", eta[0], eta[1], exp)
	}
}

func TestSetupErrors(t *testing.T) {
	cases := []struct {
		name   string
		opts   func(*Options)
		output bool
	}{
		{"indivisible steps", func(o *Options) { o.Steps = 7; o.Integrator = "RadauIIA1" }, false},
		{"unknown tableau", func(o *Options) { o.Integrator = "Euler" }, false},
		{"outputs without continuous output", func(o *Options) {}, true},
		{"continuous output without collocation", func(o *Options) { o.Integrator = "Skewed"; o.ContinuousOutput = true }, false},
		{"no iterations", func(o *Options) { o.NumIts = 0 }, false},
	}
	reg := DefaultRegistry()
	skewed := func() Tableau {
		return NewTableau("Skewed", 1, FullyImplicit, [][]float64{{0.5, 0}, {0.5, 0.5}}, []float64{0.5, 0.5}, []float64{0.5, 1})
	}
	if err := reg.Register("Skewed", skewed); err != nil {
		t.Fatal(err)
	}
	for _, tc := range cases {
		m := NewModel()
		m.SetDimensions(Dimensions{NX2: 1})
		m.SetRHS(symbolic.Neg(symbolic.X(0)))
		if tc.output {
			m.AddOutput([]symbolic.Operator{symbolic.X(0)}, nil, nil)
			m.SetMeasurements([]int{2})
		}
		m.SetGrid(1, 2)
		opts := DefaultOptions()
		tc.opts(&opts)
		e := NewIRKExport(reg, opts, kitlog.NewNopLogger())
		if err := e.SetModel(m); err != nil {
			t.Fatal(err)
		}
		if _, err := e.Setup(); !errors.Is(err, ErrConfiguration) {
			t.Fatalf("%s: expected a configuration error, got %v", tc.name, err)
		}
		if e.Program() != nil {
			t.Fatalf("%s: partial program kept", tc.name)
		}
	}
}

func TestSetupOnce(t *testing.T) {
	e := NewIRKExport(DefaultRegistry(), testOptions("RadauIIA1", 10), nil)
	if _, err := e.Setup(); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("setup without a model: %v", err)
	}
	if err := e.SetModel(decay(t, 1)); err != nil {
		t.Fatal(err)
	}
	if err := e.SetModel(decay(t, 1)); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("second model: %v", err)
	}
	if _, err := e.Setup(); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Setup(); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("second setup: %v", err)
	}
}

func TestFailedSetupKeepsNoOutputs(t *testing.T) {
	m := decay(t, 1)
	// The second output clashes with the first one in the generated program.
	if err := m.AddExternalOutput("meas", "meas_jac", 1, nil, nil); err != nil {
		t.Fatal(err)
	}
	if err := m.AddExternalOutput("meas", "meas_jac2", 1, nil, nil); err != nil {
		t.Fatal(err)
	}
	if err := m.SetMeasurements([]int{1, 1}); err != nil {
		t.Fatal(err)
	}
	opts := testOptions("RadauIIA3", 2)
	opts.ContinuousOutput = true
	e := NewIRKExport(DefaultRegistry(), opts, kitlog.NewNopLogger())
	if err := e.SetModel(m); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if _, err := e.Setup(); !errors.Is(err, codegen.ErrDuplicate) {
			t.Fatalf("setup %d: %v", i, err)
		}
		if e.Program() != nil || e.outs != nil || e.outJacs != nil || e.out != nil || e.outPoly != nil {
			t.Fatalf("setup %d left %d outputs behind", i, len(e.outs))
		}
	}
}

func TestSingularLinearInput(t *testing.T) {
	m := NewModel()
	m.SetDimensions(Dimensions{NX1: 1})
	m.SetLinearInput(mat.NewDense(1, 1, []float64{0}), mat.NewDense(1, 1, []float64{0}), nil)
	m.SetGrid(1, 1)
	e := NewIRKExport(DefaultRegistry(), testOptions("RadauIIA1", 1), kitlog.NewNopLogger())
	if err := e.SetModel(m); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Setup(); !errors.Is(err, ErrNumerical) {
		t.Fatalf("expected a numerical error, got %v", err)
	}
}
