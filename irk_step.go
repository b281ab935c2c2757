package irkgen

import (
	"fmt"

	"github.com/ChristopherRabotin/irkgen/codegen"
)

// Loop counters and integer locals of the entry points.
const (
	runVar   = "run"
	itVar    = "i"
	dirVar   = "run1"
	measVar  = "j"
	zeroVar  = "k"
	itsVar   = "rk_its"
	stepsVar = "numSteps"
	resetVar = "reset"
	indexVar = "rk_index"
)

func lit(n int) codegen.IntExpr { return codegen.Lit(n) }

func num(v float64) codegen.Expr { return codegen.Num(v) }

func at(v *codegen.Variable, i int) codegen.Elem { return v.Idx(lit(i)) }

func set(dst codegen.Elem, src codegen.Expr) codegen.Stmt { return codegen.Assign{Dst: dst, Src: src} }

func sum(terms ...codegen.Expr) codegen.Expr {
	var s codegen.Expr = num(0)
	for _, t := range terms {
		s = codegen.Plus(s, t)
	}
	return s
}

func ieq(a codegen.IntExpr, b int) codegen.Cond { return codegen.ICmp{Op: "==", A: a, B: lit(b)} }

func arg(v *codegen.Variable, off int) codegen.CallArg { return codegen.ArrayArg{V: v, Offset: lit(off)} }

func call(fn codegen.Callable, args ...codegen.CallArg) codegen.Stmt {
	return codegen.Call{Fn: fn, Args: args}
}

// k returns stage i, column c of rk_kkk: [k1 | k2 | k3 | z].
func (e *IRKExport) k(i, c int) codegen.Elem { return at(e.kkk, i*e.nk+c) }

// varCol maps an unknown of the implicit block (k2 then z) to its rk_kkk column.
func (e *IRKExport) varCol(c int) int {
	if c < e.d.NX2 {
		return e.d.NX1 + c
	}
	return e.nx + c - e.d.NX2
}

// diff returns stage i, row r, column c of the stored right-hand side Jacobian.
func (e *IRKExport) diff(i, r, c int) codegen.Elem {
	return at(e.diffsTemp, (i*e.nv+r)*e.ndiff+c)
}

// u returns the offset of the controls in rk_eta.
func (e *IRKExport) uOff() int { return e.nx + e.nx*e.nw }

func (e *IRKExport) integrator(sens bool) *codegen.Function {
	name := e.name("integrate")
	doc := "integrates one interval"
	if sens {
		name, doc = e.name("integrateSens"), "integrates one interval with sensitivities and outputs"
	}
	reset := codegen.NewVariable(resetVar, codegen.Int, 1, 1, codegen.Value)
	in := []*codegen.Variable{e.eta, reset}
	intLocals := []string{itsVar}
	var steps codegen.IntExpr = lit(e.numSteps)
	var body []codegen.Stmt
	body = append(body, set(at(e.ttt, 0), num(0)))
	base := e.nx + e.d.NXA
	for c := 0; c < e.d.NU+e.d.NP; c++ {
		body = append(body, set(at(e.xxx, base+c), at(e.eta, e.uOff()+c)))
	}
	body = append(body, codegen.If{Cond: ieq(codegen.IVar(resetVar), 1), Then: []codegen.Stmt{
		codegen.For{Var: zeroVar, From: lit(0), To: lit(e.s * e.nk), Body: []codegen.Stmt{
			set(e.kkk.Idx(codegen.IVar(zeroVar)), num(0)),
		}},
	}})
	if !e.model.grid.Equidistant() {
		index := codegen.NewVariable(indexVar, codegen.Int, 1, 1, codegen.Value)
		in = append(in, index)
		intLocals = append(intLocals, stepsVar)
		body = append(body, codegen.SetInt{Dst: codegen.IVar(stepsVar), Src: codegen.IFloor{A: e.stepsTab.Idx(codegen.IVar(indexVar))}})
		steps = codegen.IVar(stepsVar)
	}
	if sens {
		body = append(body, codegen.For{Var: zeroVar, From: lit(0), To: lit(e.nx * e.nw), Body: []codegen.Stmt{
			set(e.eta.Idx(codegen.IAdd(lit(e.nx), codegen.IVar(zeroVar))), num(0)),
		}})
		for r := 0; r < e.nx; r++ {
			body = append(body, set(at(e.eta, e.nx+r*e.nw+r), num(1)))
		}
	}
	body = append(body, codegen.For{Var: runVar, From: lit(0), To: steps, Body: e.step(sens, steps)})
	return &codegen.Function{FName: name, Doc: doc, In: in, IntLocals: intLocals, Body: body}
}

// step emits one integrator step.
func (e *IRKExport) step(sens bool, steps codegen.IntExpr) []codegen.Stmt {
	var s []codegen.Stmt
	if e.d.NX1 > 0 {
		s = append(s, codegen.Block{Label: "linearInput", Body: e.linearInput()})
	}
	if e.nv > 0 {
		s = append(s, codegen.Block{Label: "newton", Body: e.newton()})
	}
	if e.d.NX3 > 0 {
		s = append(s, codegen.Block{Label: "linearOutput", Body: e.linearOutput(sens)})
	}
	if sens {
		s = append(s, codegen.Block{Label: "sensitivities", Body: e.sensitivities()})
	}
	for o := range e.model.outputs {
		s = append(s, codegen.Block{Label: fmt.Sprintf("output%d", o), Body: e.output(o, sens, steps)})
	}
	if e.poly != nil {
		var save []codegen.Stmt
		for c := 0; c < e.nx; c++ {
			save = append(save, set(at(e.xPrev, c), at(e.eta, c)))
		}
		for i := 0; i < e.s*e.nk; i++ {
			save = append(save, set(at(e.kPrev, i), at(e.kkk, i)))
		}
		s = append(s, codegen.Block{Label: "continuousOutput", Body: save})
	}
	b := e.tab.B()
	for c := 0; c < e.nx; c++ {
		terms := make([]codegen.Expr, 0, e.s)
		for i := 0; i < e.s; i++ {
			terms = append(terms, codegen.Times(num(e.h*b[i]), e.k(i, c)))
		}
		s = append(s, codegen.Assign{Dst: at(e.eta, c), Op: codegen.AddTo, Src: sum(terms...)})
	}
	if sens {
		var upd []codegen.Stmt
		for c := 0; c < e.nx; c++ {
			terms := make([]codegen.Expr, 0, e.s)
			for i := 0; i < e.s; i++ {
				terms = append(terms, codegen.Times(num(e.h*b[i]), e.dkAt(i, c)))
			}
			upd = append(upd, codegen.Assign{Dst: e.g(c), Op: codegen.AddTo, Src: sum(terms...)})
		}
		s = append(s, codegen.For{Var: dirVar, From: lit(0), To: lit(e.nw), Body: upd})
	}
	if e.nv > 0 {
		s = append(s, codegen.Block{Label: "extrapolation", Body: e.extrapolate()})
	}
	return append(s, codegen.Assign{Dst: at(e.ttt, 0), Op: codegen.AddTo, Src: num(e.h)})
}

// stageInputs writes the model inputs of stage i into rk_xxx.
func (e *IRKExport) stageInputs(i int) []codegen.Stmt {
	var s []codegen.Stmt
	for c := 0; c < e.nxr; c++ {
		terms := []codegen.Expr{at(e.eta, c)}
		for j := 0; j < e.s; j++ {
			if a := e.tab.Aij(i, j); a != 0 {
				terms = append(terms, codegen.Times(num(e.h*a), e.k(j, c)))
			}
		}
		s = append(s, set(at(e.xxx, c), sum(terms...)))
	}
	for c := e.nxr; c < e.nx; c++ {
		s = append(s, set(at(e.xxx, c), at(e.eta, c)))
	}
	for c := 0; c < e.d.NXA; c++ {
		s = append(s, set(at(e.xxx, e.nx+c), e.k(i, e.nx+c)))
	}
	dxOff := e.nx + e.d.NXA + e.d.NU + e.d.NP
	for c := 0; c < e.d.NDX; c++ {
		s = append(s, set(at(e.xxx, dxOff+c), e.k(i, c)))
	}
	return append(s, set(at(e.xxx, dxOff+e.d.NDX), codegen.Plus(at(e.ttt, 0), num(e.tab.C()[i]*e.h))))
}

// linearInput computes k1 in closed form.
func (e *IRKExport) linearInput() []codegen.Stmt {
	var s []codegen.Stmt
	n1, nu := e.d.NX1, e.d.NU
	for i := 0; i < e.s; i++ {
		for r := 0; r < n1; r++ {
			row := i*n1 + r
			var terms []codegen.Expr
			for c := 0; c < n1; c++ {
				terms = append(terms, codegen.Times(at(e.mat1, row*n1+c), at(e.eta, c)))
			}
			if e.mat1u != nil {
				for c := 0; c < nu; c++ {
					terms = append(terms, codegen.Times(at(e.mat1u, row*nu+c), at(e.eta, e.uOff()+c)))
				}
			}
			s = append(s, set(e.k(i, r), sum(terms...)))
		}
	}
	return s
}

// residual writes the Newton residual of stage i into rk_b.
func (e *IRKExport) residual(i int) []codegen.Stmt {
	s := e.stageInputs(i)
	s = append(s, call(e.rhs, arg(e.xxx, 0), arg(e.rhsTemp, 0)))
	for r := 0; r < e.nv; r++ {
		var v codegen.Expr = at(e.rhsTemp, r)
		if !e.d.Implicit() {
			var kr codegen.Expr = num(0)
			if r < e.d.NX2 {
				kr = e.k(i, e.d.NX1+r)
			}
			v = codegen.Minus(kr, at(e.rhsTemp, r))
		}
		s = append(s, set(at(e.bVec, i*e.nv+r), v))
	}
	return s
}

// entry returns the Newton matrix entry of block (i, j), row r, unknown c.
func (e *IRKExport) entry(i, j, r, c int) codegen.Expr {
	d := e.d
	a := e.tab.Aij(i, j)
	if c >= d.NX2 {
		if i != j {
			return num(0)
		}
		z := e.diff(i, r, e.nxr+c-d.NX2)
		if d.Implicit() {
			return z
		}
		return codegen.Neg{A: z}
	}
	var coupling codegen.Expr = num(0)
	if a != 0 {
		coupling = codegen.Times(num(e.h*a), e.diff(i, r, d.NX1+c))
	}
	if d.Implicit() {
		if i != j {
			return coupling
		}
		return codegen.Plus(coupling, e.diff(i, r, e.nxr+d.NXA+d.NU+d.NX1+c))
	}
	δ := 0.
	if i == j && r == c {
		δ = 1
	}
	return codegen.Minus(num(δ), coupling)
}

// assemble fills the coupled matrix, or the diagonal block of stage only for diagonally implicit tableaus.
func (e *IRKExport) assemble(stage int) []codegen.Stmt {
	var s []codegen.Stmt
	if e.tab.Structure == DiagonallyImplicit {
		for r := 0; r < e.nv; r++ {
			for c := 0; c < e.nv; c++ {
				s = append(s, set(at(e.aMat, (stage*e.nv+r)*e.nv+c), e.entry(stage, stage, r, c)))
			}
		}
		return s
	}
	n := e.s * e.nv
	for i := 0; i < e.s; i++ {
		for r := 0; r < e.nv; r++ {
			for j := 0; j < e.s; j++ {
				for c := 0; c < e.nv; c++ {
					s = append(s, set(at(e.aMat, (i*e.nv+r)*n+j*e.nv+c), e.entry(i, j, r, c)))
				}
			}
		}
	}
	return s
}

// solve factorizes and solves the system of stage (or the coupled system when stage < 0).
func (e *IRKExport) solve(stage int) codegen.Stmt {
	aOff, bOff := 0, 0
	if stage >= 0 {
		aOff, bOff = stage*e.nv*e.nv, stage*e.nv
	}
	res := at(e.det, 0)
	return codegen.Call{Fn: e.solver.Solve(), Args: []codegen.CallArg{arg(e.aMat, aOff), arg(e.bVec, bOff), arg(e.perm, bOff)}, Result: &res}
}

func (e *IRKExport) solveReuse(stage int) codegen.Stmt {
	aOff, bOff := 0, 0
	if stage >= 0 {
		aOff, bOff = stage*e.nv*e.nv, stage*e.nv
	}
	return call(e.solver.Reuse(), arg(e.aMat, aOff), arg(e.bVec, bOff), arg(e.perm, bOff), arg(e.bPerm, 0))
}

// iterations sets rk_its, with the extra iterations on the first step after a reset.
func (e *IRKExport) iterations() []codegen.Stmt {
	s := []codegen.Stmt{codegen.SetInt{Dst: codegen.IVar(itsVar), Src: lit(e.opts.NumIts)}}
	if e.opts.NumItsInit > 0 {
		s = append(s, codegen.If{
			Cond: codegen.And{A: ieq(codegen.IVar(runVar), 0), B: ieq(codegen.IVar(resetVar), 1)},
			Then: []codegen.Stmt{codegen.SetInt{Dst: codegen.IVar(itsVar), Src: lit(e.opts.NumIts + e.opts.NumItsInit)}},
		})
	}
	return s
}

// newton emits the fixed-count Newton iteration of the implicit block.
func (e *IRKExport) newton() []codegen.Stmt {
	first := ieq(codegen.IVar(itVar), 0)
	update := func(i int) []codegen.Stmt {
		var s []codegen.Stmt
		for c := 0; c < e.nv; c++ {
			s = append(s, codegen.Assign{Dst: e.k(i, e.varCol(c)), Op: codegen.SubFrom, Src: at(e.bVec, i*e.nv+c)})
		}
		return s
	}
	diffs := func(i int) codegen.Stmt {
		return call(e.diffs, arg(e.xxx, 0), arg(e.diffsTemp, i*e.nv*e.ndiff))
	}
	s := e.iterations()
	if e.tab.Structure == DiagonallyImplicit {
		for i := 0; i < e.s; i++ {
			body := e.residual(i)
			factor := []codegen.Stmt{diffs(i)}
			factor = append(factor, e.assemble(i)...)
			factor = append(factor, e.solve(i))
			body = append(body, codegen.If{Cond: first, Then: factor, Else: []codegen.Stmt{e.solveReuse(i)}})
			body = append(body, update(i)...)
			s = append(s, codegen.For{Var: itVar, From: lit(0), To: codegen.IVar(itsVar), Body: body})
		}
		return s
	}
	var body []codegen.Stmt
	for i := 0; i < e.s; i++ {
		body = append(body, e.residual(i)...)
		body = append(body, codegen.If{Cond: first, Then: []codegen.Stmt{diffs(i)}})
	}
	factor := e.assemble(-1)
	factor = append(factor, e.solve(-1))
	body = append(body, codegen.If{Cond: first, Then: factor, Else: []codegen.Stmt{e.solveReuse(-1)}})
	for i := 0; i < e.s; i++ {
		body = append(body, update(i)...)
	}
	return append(s, codegen.For{Var: itVar, From: lit(0), To: codegen.IVar(itsVar), Body: body})
}

// linearOutput evaluates f3 at the converged stages and solves for k3 in closed form.
func (e *IRKExport) linearOutput(sens bool) []codegen.Stmt {
	var s []codegen.Stmt
	n3 := e.d.NX3
	nd3 := e.nxr + e.d.NXA + e.d.NU
	for i := 0; i < e.s; i++ {
		s = append(s, e.stageInputs(i)...)
		s = append(s, call(e.f3, arg(e.xxx, 0), arg(e.f3Temp, i*n3)))
		if sens {
			s = append(s, call(e.diffs3, arg(e.xxx, 0), arg(e.diffs3Temp, i*n3*nd3)))
		}
	}
	for i := 0; i < e.s; i++ {
		for r := 0; r < n3; r++ {
			row := i*n3 + r
			var terms []codegen.Expr
			for c := 0; c < n3; c++ {
				terms = append(terms, codegen.Times(at(e.mat3x, row*n3+c), at(e.eta, e.nxr+c)))
			}
			for q := 0; q < e.s*n3; q++ {
				terms = append(terms, codegen.Times(at(e.mat3, row*e.s*n3+q), at(e.f3Temp, q)))
			}
			s = append(s, set(e.k(i, e.nxr+r), sum(terms...)))
		}
	}
	return s
}

// extrapolate replaces the implicit stage values by DD times themselves.
func (e *IRKExport) extrapolate() []codegen.Stmt {
	var s []codegen.Stmt
	for c := 0; c < e.nv; c++ {
		col := e.varCol(c)
		for i := 0; i < e.s; i++ {
			var terms []codegen.Expr
			for j := 0; j < e.s; j++ {
				if v := e.dd.At(i, j); v != 0 {
					terms = append(terms, codegen.Times(num(v), e.k(j, col)))
				}
			}
			s = append(s, set(at(e.kTemp, i), sum(terms...)))
		}
		for i := 0; i < e.s; i++ {
			s = append(s, set(e.k(i, col), at(e.kTemp, i)))
		}
	}
	return s
}

// reconstruct emits x(t_n + τh) and z(t_n + τh) of the last step into xOut.
func (e *IRKExport) reconstruct() *codegen.Function {
	tau := codegen.NewVariable("tau", codegen.Real, 1, 1, codegen.Value)
	xOut := codegen.NewVariable("xOut", codegen.Real, 1, e.nk, codegen.Arg)
	t := codegen.RealArg{E: tau.Idx(lit(0))}
	body := []codegen.Stmt{
		call(e.polyFn, t, arg(e.polyW, 0)),
		call(e.dpolyFn, t, arg(e.dpolyW, 0)),
	}
	for c := 0; c < e.nk; c++ {
		var terms []codegen.Expr
		coeffs := e.dpolyW
		if c < e.nx {
			terms = append(terms, at(e.xPrev, c))
			coeffs = e.polyW
		}
		for i := 0; i < e.s; i++ {
			term := codegen.Times(at(coeffs, i), at(e.kPrev, i*e.nk+c))
			if c < e.nx {
				term = codegen.Times(num(e.h), term)
			}
			terms = append(terms, term)
		}
		body = append(body, set(at(xOut, c), sum(terms...)))
	}
	return &codegen.Function{FName: e.name("reconstruct"), Doc: "evaluates the continuous output of the last step", In: []*codegen.Variable{tau, xOut}, Body: body}
}
