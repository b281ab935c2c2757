// Package irkgen exports tailored implicit Runge-Kutta integrators with sensitivities
// and continuous output for embedded model predictive control.
package irkgen

import (
	"fmt"
	"math"
	"os"

	"github.com/ChristopherRabotin/irkgen/codegen"
	"github.com/ChristopherRabotin/irkgen/linsolve"
	"github.com/ChristopherRabotin/irkgen/symbolic"
	kitlog "github.com/go-kit/kit/log"
	"github.com/samber/lo"
	"gonum.org/v1/gonum/mat"
)

// IRKExport generates the integrator of one model. It is not safe for concurrent use.
type IRKExport struct {
	reg    *Registry
	opts   Options
	logger kitlog.Logger
	model  *Model

	tab      Tableau
	poly     *Polynomial
	dd       *mat.Dense
	h        float64
	numSteps int // steps per interval on an equidistant grid

	// dimensions
	d                                   Dimensions
	s, nx, nxr, nv, nk, nw, ndiff, nout int
	numMeas                             []int

	prog   *codegen.Program
	solver *linsolve.GaussElim

	rhs, diffs, f3, diffs3 codegen.Callable
	outs, outJacs          []codegen.Callable
	polyFn, dpolyFn        *codegen.Function

	// workspace
	eta                                *codegen.Variable // argument of the entry points
	ttt, xxx, kkk, aMat, bVec          *codegen.Variable
	perm, bPerm, rhsTemp, diffsTemp    *codegen.Variable
	kTemp, det, dk                     *codegen.Variable
	f3Temp, diffs3Temp, df3            *codegen.Variable
	xPrev, kPrev, tau, polyW, dpolyW   *codegen.Variable
	mTmp                               *codegen.Variable
	mat1, mat1u, mat3, mat3x, stepsTab *codegen.Variable
	out, outSens, outJac               []*codegen.Variable
	outIdx, outTau, outPoly, outDPoly  []*codegen.Variable
}

// NewIRKExport returns an exporter. A nil logger logs logfmt to stderr.
func NewIRKExport(reg *Registry, opts Options, logger kitlog.Logger) *IRKExport {
	if logger == nil {
		logger = kitlog.NewLogfmtLogger(kitlog.NewSyncWriter(os.Stderr))
	}
	logger = kitlog.With(logger, "export", opts.Prefix)
	return &IRKExport{reg: reg, opts: opts, logger: logger}
}

// SetModel freezes m and attaches it. A model can only be set once.
func (e *IRKExport) SetModel(m *Model) error {
	if e.model != nil {
		return fmt.Errorf("%w: model already set", ErrConfiguration)
	}
	if err := m.Freeze(); err != nil {
		return err
	}
	e.model = m
	e.logger.Log("level", "debug", "subsys", "model", "status", "frozen", "dims", fmt.Sprintf("%+v", m.dims), "outputs", len(m.outputs))
	return nil
}

// Step returns the integrator step size, valid after Setup.
func (e *IRKExport) Step() float64 { return e.h }

// StepsPerInterval returns the steps of interval i, valid after Setup.
func (e *IRKExport) StepsPerInterval(i int) int {
	if e.model.grid.Equidistant() {
		return e.numSteps
	}
	return e.model.grid.Steps[i]
}

// Tableau returns the tableau in use, valid after Setup.
func (e *IRKExport) Tableau() Tableau { return e.tab }

// EtaSize returns the length of rk_eta: x, the sensitivities, u and p.
func (e *IRKExport) EtaSize() int { return e.nx + e.nx*e.nw + e.d.NU + e.d.NP }

// Eta packs x, u and p into an rk_eta vector with the sensitivities seeded to [I|0], valid after Setup.
func (e *IRKExport) Eta(x, u, p []float64) ([]float64, error) {
	if len(x) != e.nx || len(u) != e.d.NU || len(p) != e.d.NP {
		return nil, fmt.Errorf("%w: eta from %d states, %d controls and %d parameters", ErrConfiguration, len(x), len(u), len(p))
	}
	eta := make([]float64, e.EtaSize())
	copy(eta, x)
	for c := 0; c < e.nx; c++ {
		eta[e.nx+c*e.nw+c] = 1
	}
	copy(eta[e.uOff():], u)
	copy(eta[e.uOff()+e.d.NU:], p)
	return eta, nil
}

// MeasurementsPerInterval returns the number of measurements of every output within one interval.
func (e *IRKExport) MeasurementsPerInterval() []int { return append([]int(nil), e.numMeas...) }

// Program returns the generated program, valid after Setup.
func (e *IRKExport) Program() *codegen.Program { return e.prog }

// Setup generates the program. It fails on the first error and keeps no partial program.
func (e *IRKExport) Setup() (*codegen.Program, error) {
	if e.prog != nil {
		return nil, fmt.Errorf("%w: already set up", ErrConfiguration)
	}
	if err := e.configure(); err != nil {
		return nil, err
	}
	prog := codegen.NewProgram(e.opts.Prefix)
	e.prog = prog
	err := e.build()
	if err != nil {
		e.prog = nil
		return nil, err
	}
	e.logger.Log("level", "info", "subsys", "irk", "integrator", e.tab.Name, "stages", e.s, "h", e.h, "functions", len(prog.Callables()), "variables", len(prog.Variables()))
	return prog, nil
}

func (e *IRKExport) configure() error {
	if err := e.opts.Validate(); err != nil {
		return err
	}
	if e.model == nil {
		return fmt.Errorf("%w: no model", ErrConfiguration)
	}
	tab, err := e.reg.Lookup(e.opts.Integrator)
	if err != nil {
		return err
	}
	e.tab = tab
	m := e.model
	e.d = m.dims
	e.s = tab.Stages()
	e.nx = e.d.NX()
	e.nxr = e.d.NX1 + e.d.NX2
	e.nv = e.d.NX2 + e.d.NXA
	e.nk = e.nx + e.d.NXA
	e.nw = e.nx + e.d.NU
	e.ndiff = e.nxr + e.d.NXA + e.d.NU + e.d.NDX
	e.nout = len(e.d.OutputColumns())

	g := m.grid
	if g.Equidistant() {
		if e.opts.Steps%g.N != 0 {
			return fmt.Errorf("%w: %d integrator steps over %d intervals", ErrConfiguration, e.opts.Steps, g.N)
		}
		e.numSteps = e.opts.Steps / g.N
		e.h = g.T / float64(e.opts.Steps)
	} else {
		e.h = g.T / float64(lo.Sum(g.Steps))
	}

	if e.opts.ContinuousOutput || len(m.outputs) > 0 {
		if !e.opts.ContinuousOutput {
			return fmt.Errorf("%w: outputs require continuous output", ErrConfiguration)
		}
		if !tab.IsCollocation() {
			return fmt.Errorf("%w: continuous output is not available for %s", ErrConfiguration, tab.Name)
		}
		if e.poly, err = NewPolynomial(tab.C()); err != nil {
			return err
		}
	}
	e.dd = Extrapolation(tab.C())
	const ε = 2.220446049250313e-16
	e.numMeas = lo.Map(m.measurements, func(total int, _ int) int {
		return int(math.Ceil(float64(total)/float64(g.N) - 10*ε))
	})
	e.logger.Log("level", "debug", "subsys", "irk", "integrator", tab.Name, "structure", tab.Structure, "steps", e.opts.Steps, "sensitivities", e.opts.Sensitivity)
	return nil
}

func (e *IRKExport) build() error {
	steps := []func() error{e.setupSolver, e.setupFunctions, e.setupLinearBlocks, e.setupWorkspace, e.setupOutputs, e.setupEntryPoints}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

func (e *IRKExport) name(n string) string { return e.opts.Prefix + n }

func (e *IRKExport) setupSolver() error {
	if e.nv == 0 {
		return nil
	}
	dim := e.nv
	if e.tab.Structure == FullyImplicit {
		dim *= e.s
	}
	e.solver = linsolve.NewGaussElim(e.name("solve"))
	if err := e.solver.Init(dim, true, e.opts.Unroll); err != nil {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	if err := e.solver.Setup(); err != nil {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	e.logger.Log("level", "debug", "subsys", "linsolve", "dimension", dim, "unroll", e.opts.Unroll)
	return e.prog.Add(e.solver.Functions()...)
}

// diffColumns returns the columns of the right-hand side Jacobian: x1, x2, z, u and dx.
func (e *IRKExport) diffColumns() []symbolic.Variable {
	var cols []symbolic.Variable
	add := func(t symbolic.VariableType, n int) {
		for i := 0; i < n; i++ {
			cols = append(cols, symbolic.Variable{Type: t, Component: i})
		}
	}
	add(symbolic.DifferentialState, e.nxr)
	add(symbolic.AlgebraicState, e.d.NXA)
	add(symbolic.Control, e.d.NU)
	add(symbolic.DifferentialStateDerivative, e.d.NDX)
	return cols
}

func (e *IRKExport) setupFunctions() error {
	m := e.model
	n := e.d.Layout().Size()
	if e.nv > 0 {
		if m.rhs != nil {
			jac, err := m.rhs.Differentiate(symbolic.Simplifying, e.diffColumns())
			if err != nil {
				return fmt.Errorf("%w: right-hand side: %v", ErrConfiguration, err)
			}
			e.rhs = codegen.NewODEFunction(e.name("rhs"), m.rhs)
			e.diffs = codegen.NewODEFunction(e.name("diffs"), jac)
		} else {
			e.rhs = codegen.NewExtern(m.rhsName, n, e.nv)
			e.diffs = codegen.NewExtern(m.diffsName, n, e.nv*e.ndiff)
		}
		if err := e.prog.Add(e.rhs, e.diffs); err != nil {
			return err
		}
	}
	if e.d.NX3 > 0 {
		cols := e.diffColumns()[:e.nxr+e.d.NXA+e.d.NU]
		jac, err := m.f3.Differentiate(symbolic.Simplifying, cols)
		if err != nil {
			return fmt.Errorf("%w: linear output: %v", ErrConfiguration, err)
		}
		e.f3 = codegen.NewODEFunction(e.name("rhs3"), m.f3)
		e.diffs3 = codegen.NewODEFunction(e.name("diffs3"), jac)
		if err := e.prog.Add(e.f3, e.diffs3); err != nil {
			return err
		}
	}
	cols := e.d.OutputColumns()
	outs := make([]codegen.Callable, 0, len(m.outputs))
	outJacs := make([]codegen.Callable, 0, len(m.outputs))
	for _, o := range m.outputs {
		var fn, jacFn codegen.Callable
		if o.External() {
			fn = codegen.NewExtern(o.Name, n, o.Dim)
			jacFn = codegen.NewExtern(o.JacName, n, o.NNZ())
		} else {
			nz := make([]symbolic.Operator, 0, o.NNZ())
			for r := 0; r < o.Dim; r++ {
				for k := o.RowPtr[r]; k < o.RowPtr[r+1]; k++ {
					d, err := o.F.Out[r].Differentiate(symbolic.Simplifying, cols[o.ColInd[k]])
					if err != nil {
						return fmt.Errorf("%w: %s: %v", ErrConfiguration, o.Name, err)
					}
					nz = append(nz, d)
				}
			}
			fn = codegen.NewODEFunction(e.name(o.Name), o.F)
			jacFn = codegen.NewODEFunction(e.name(o.Name+"_jac"), symbolic.NewFunction(o.F.Layout, nz...))
		}
		if err := e.prog.Add(fn, jacFn); err != nil {
			return err
		}
		outs = append(outs, fn)
		outJacs = append(outJacs, jacFn)
	}
	if e.poly != nil {
		polyFn, dpolyFn := e.polynomialFunctions()
		if err := e.prog.Add(polyFn, dpolyFn); err != nil {
			return err
		}
		e.polyFn, e.dpolyFn = polyFn, dpolyFn
	}
	e.outs, e.outJacs = outs, outJacs
	return nil
}

// polynomialFunctions emits the runtime evaluation of the continuous output basis.
func (e *IRKExport) polynomialFunctions() (*codegen.Function, *codegen.Function) {
	mk := func(name string, integral bool) *codegen.Function {
		tau := codegen.NewVariable("tau", codegen.Real, 1, 1, codegen.Value)
		coeffs := codegen.NewVariable("coeffs", codegen.Real, 1, e.s, codegen.Arg)
		t := tau.Idx(codegen.Lit(0))
		var body []codegen.Stmt
		for j := 0; j < e.s; j++ {
			c := e.poly.Basis(j)
			if integral {
				c = e.poly.Integral(j)
			}
			v := codegen.Expr(codegen.Num(c[len(c)-1]))
			for k := len(c) - 2; k >= 0; k-- {
				v = codegen.Plus(codegen.Num(c[k]), codegen.Times(t, v))
			}
			if integral {
				v = codegen.Times(t, v)
			}
			body = append(body, codegen.Assign{Dst: coeffs.Idx(codegen.Lit(j)), Src: v})
		}
		return &codegen.Function{FName: e.name(name), In: []*codegen.Variable{tau, coeffs}, Body: body}
	}
	return mk("polynomial", true), mk("derivedPolynomial", false)
}

func (e *IRKExport) setupLinearBlocks() error {
	m, a := e.model, e.tab.A()
	if e.d.NX1 > 0 {
		minv, err := invert(stageMatrix(a, m.m1, m.a1, e.h))
		if err != nil {
			return fmt.Errorf("linear input: %w", err)
		}
		var mk mat.Dense
		mk.Mul(minv, stack(e.s, m.a1))
		e.mat1 = codegen.NewStatic("rk_mat1", e.s*e.d.NX1, e.d.NX1, rowMajor(&mk))
		if err := e.prog.Declare(e.mat1); err != nil {
			return err
		}
		if e.d.NU > 0 && m.b1 != nil {
			var nk mat.Dense
			nk.Mul(minv, stack(e.s, m.b1))
			e.mat1u = codegen.NewStatic("rk_mat1u", e.s*e.d.NX1, e.d.NU, rowMajor(&nk))
			if err := e.prog.Declare(e.mat1u); err != nil {
				return err
			}
		}
	}
	if e.d.NX3 > 0 {
		minv, err := invert(stageMatrix(a, m.m3, m.a3, e.h))
		if err != nil {
			return fmt.Errorf("linear output: %w", err)
		}
		var mx mat.Dense
		mx.Mul(minv, stack(e.s, m.a3))
		e.mat3 = codegen.NewStatic("rk_mat3", e.s*e.d.NX3, e.s*e.d.NX3, rowMajor(minv))
		e.mat3x = codegen.NewStatic("rk_mat3x", e.s*e.d.NX3, e.d.NX3, rowMajor(&mx))
		return e.prog.Declare(e.mat3, e.mat3x)
	}
	return nil
}

func (e *IRKExport) setupWorkspace() error {
	ws := func(name string, n int) *codegen.Variable {
		return codegen.NewVariable(name, codegen.Real, 1, n, codegen.Workspace)
	}
	e.eta = codegen.NewVariable("rk_eta", codegen.Real, 1, e.EtaSize(), codegen.Arg)
	e.ttt = ws("rk_ttt", 1)
	e.xxx = ws("rk_xxx", e.d.Layout().Size())
	e.kkk = codegen.NewVariable("rk_kkk", codegen.Real, e.s, e.nk, codegen.Workspace)
	e.dk = ws("rk_dk", e.s*e.nk*e.nw)
	e.det = ws("rk_det", 1)
	vars := []*codegen.Variable{e.ttt, e.xxx, e.kkk, e.dk, e.det}
	if e.nv > 0 {
		dim := e.solver.Dim()
		e.aMat = ws("rk_A", e.s*e.nv*e.nv)
		if e.tab.Structure == FullyImplicit {
			e.aMat = ws("rk_A", dim*dim)
		}
		e.bVec = ws("rk_b", e.s*e.nv)
		e.perm = codegen.NewVariable("rk_perm", codegen.Int, 1, e.s*e.nv, codegen.Workspace)
		e.bPerm = ws("rk_bPerm", dim)
		e.rhsTemp = ws("rk_rhsTemp", e.nv)
		e.diffsTemp = ws("rk_diffsTemp", e.s*e.nv*e.ndiff)
		e.kTemp = ws("rk_kTemp", e.s)
		vars = append(vars, e.aMat, e.bVec, e.perm, e.bPerm, e.rhsTemp, e.diffsTemp, e.kTemp)
	}
	if e.d.NX3 > 0 {
		e.f3Temp = ws("rk_f3", e.s*e.d.NX3)
		e.diffs3Temp = ws("rk_diffs3", e.s*e.d.NX3*(e.nxr+e.d.NXA+e.d.NU))
		e.df3 = ws("rk_df3", e.s*e.d.NX3)
		vars = append(vars, e.f3Temp, e.diffs3Temp, e.df3)
	}
	if e.poly != nil {
		e.xPrev = ws("rk_xPrev", e.nx)
		e.kPrev = ws("rk_kPrev", e.s*e.nk)
		e.tau = ws("rk_tau", 1)
		e.polyW = ws("rk_poly", e.s)
		e.dpolyW = ws("rk_dpoly", e.s)
		e.mTmp = ws("rk_mTmp", 1)
		vars = append(vars, e.xPrev, e.kPrev, e.tau, e.polyW, e.dpolyW, e.mTmp)
	}
	if g := e.model.grid; !g.Equidistant() {
		e.stepsTab = codegen.NewStatic("rk_numSteps", 1, g.N, lo.Map(g.Steps, func(n int, _ int) float64 { return float64(n) }))
		vars = append(vars, e.stepsTab)
	}
	return e.prog.Declare(vars...)
}

func (e *IRKExport) setupOutputs() error {
	n := len(e.model.outputs)
	out, outSens, outJac := make([]*codegen.Variable, n), make([]*codegen.Variable, n), make([]*codegen.Variable, n)
	var outIdx, outTau, outPoly, outDPoly []*codegen.Variable
	for o, h := range e.model.outputs {
		nm := e.numMeas[o]
		out[o] = codegen.NewVariable(fmt.Sprintf("rk_out%d", o), codegen.Real, nm, h.Dim, codegen.Workspace)
		outSens[o] = codegen.NewVariable(fmt.Sprintf("rk_outSens%d", o), codegen.Real, nm*h.Dim, e.nw, codegen.Workspace)
		outJac[o] = codegen.NewVariable(fmt.Sprintf("rk_outJac%d", o), codegen.Real, 1, max(h.NNZ(), 1), codegen.Workspace)
		if err := e.prog.Declare(out[o], outSens[o], outJac[o]); err != nil {
			return err
		}
		if !e.model.grid.Equidistant() {
			continue
		}
		// Measurement j falls at j*numSteps/nm steps into the interval.
		idx, taus := make([]float64, nm), make([]float64, nm)
		polys, dpolys := make([]float64, 0, nm*e.s), make([]float64, 0, nm*e.s)
		for j := 0; j < nm; j++ {
			pos := j * e.numSteps
			idx[j] = float64(pos / nm)
			taus[j] = float64(pos%nm) / float64(nm)
			polys = append(polys, e.poly.Evaluate(taus[j])...)
			dpolys = append(dpolys, e.poly.EvaluateDerived(taus[j])...)
		}
		outIdx = append(outIdx, codegen.NewStatic(fmt.Sprintf("rk_outIdx%d", o), 1, nm, idx))
		outTau = append(outTau, codegen.NewStatic(fmt.Sprintf("rk_outTau%d", o), 1, nm, taus))
		outPoly = append(outPoly, codegen.NewStatic(fmt.Sprintf("rk_outPoly%d", o), nm, e.s, polys))
		outDPoly = append(outDPoly, codegen.NewStatic(fmt.Sprintf("rk_outDPoly%d", o), nm, e.s, dpolys))
		if err := e.prog.Declare(outIdx[o], outTau[o], outPoly[o], outDPoly[o]); err != nil {
			return err
		}
	}
	e.out, e.outSens, e.outJac = out, outSens, outJac
	e.outIdx, e.outTau, e.outPoly, e.outDPoly = outIdx, outTau, outPoly, outDPoly
	return nil
}

func (e *IRKExport) setupEntryPoints() error {
	fns := []codegen.Callable{e.integrator(false), e.integrator(true)}
	if e.poly != nil {
		fns = append(fns, e.reconstruct())
	}
	return e.prog.Add(fns...)
}
