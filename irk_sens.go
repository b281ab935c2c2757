package irkgen

import (
	"github.com/ChristopherRabotin/irkgen/codegen"
)

func (e *IRKExport) dir() codegen.IntExpr { return codegen.IVar(dirVar) }

// g returns the sensitivity of state c along the current direction.
func (e *IRKExport) g(c int) codegen.Elem {
	return e.eta.Idx(codegen.IAdd(lit(e.nx+c*e.nw), e.dir()))
}

// dkAt returns the sensitivity of stage i, rk_kkk column c, along the current direction.
func (e *IRKExport) dkAt(i, c int) codegen.Elem {
	return e.dk.Idx(codegen.IAdd(lit((i*e.nk+c)*e.nw), e.dir()))
}

// control returns v[base + (run1 - NX)], the column of the control direction.
func (e *IRKExport) control(v *codegen.Variable, base int) codegen.Elem {
	return v.Idx(codegen.IAdd(lit(base), codegen.ISub(e.dir(), lit(e.nx))))
}

func (e *IRKExport) isControl() codegen.Cond {
	return codegen.ICmp{Op: ">=", A: e.dir(), B: lit(e.nx)}
}

// stateTangent returns the derivative of the stage value of state c (c < NX1+NX2) of stage i,
// counting only the stages in known.
func (e *IRKExport) stateTangent(i, c int, known func(j int) bool) codegen.Expr {
	terms := []codegen.Expr{e.g(c)}
	for j := 0; j < e.s; j++ {
		if a := e.tab.Aij(i, j); a != 0 && known(j) {
			terms = append(terms, codegen.Times(num(e.h*a), e.dkAt(j, c)))
		}
	}
	return sum(terms...)
}

// sensitivities emits dk for every direction: linear input, implicit block, linear output.
func (e *IRKExport) sensitivities() []codegen.Stmt {
	var s []codegen.Stmt
	if e.d.NX1 > 0 {
		s = append(s, codegen.For{Var: dirVar, From: lit(0), To: lit(e.nw), Body: e.linearInputSens()})
	}
	if e.nv > 0 {
		s = append(s, e.implicitSens()...)
	}
	if e.d.NX3 > 0 {
		s = append(s, codegen.For{Var: dirVar, From: lit(0), To: lit(e.nw), Body: e.linearOutputSens()})
	}
	return s
}

func (e *IRKExport) linearInputSens() []codegen.Stmt {
	var s []codegen.Stmt
	n1, nu := e.d.NX1, e.d.NU
	for i := 0; i < e.s; i++ {
		for r := 0; r < n1; r++ {
			row := i*n1 + r
			var terms []codegen.Expr
			for c := 0; c < n1; c++ {
				terms = append(terms, codegen.Times(at(e.mat1, row*n1+c), e.g(c)))
			}
			s = append(s, set(e.dkAt(i, r), sum(terms...)))
			if e.mat1u != nil {
				s = append(s, codegen.If{Cond: e.isControl(), Then: []codegen.Stmt{
					codegen.Assign{Dst: e.dkAt(i, r), Op: codegen.AddTo, Src: e.control(e.mat1u, row*nu)},
				}})
			}
		}
	}
	return s
}

// sensRHS writes the right-hand side of the sensitivity system of stage i into rk_b,
// using the stored Jacobian and the directions already solved for the stages in known.
func (e *IRKExport) sensRHS(i int, known func(j int) bool) []codegen.Stmt {
	var s []codegen.Stmt
	d := e.d
	all := func(int) bool { return true }
	for r := 0; r < e.nv; r++ {
		var terms []codegen.Expr
		for c := 0; c < d.NX1; c++ {
			terms = append(terms, codegen.Times(e.diff(i, r, c), e.stateTangent(i, c, all)))
		}
		for c := d.NX1; c < e.nxr; c++ {
			terms = append(terms, codegen.Times(e.diff(i, r, c), e.stateTangent(i, c, known)))
		}
		if d.Implicit() {
			for c := 0; c < d.NX1; c++ {
				terms = append(terms, codegen.Times(e.diff(i, r, e.nxr+d.NXA+d.NU+c), e.dkAt(i, c)))
			}
		}
		v := sum(terms...)
		dst := at(e.bVec, i*e.nv+r)
		ctrl := e.control(e.diffsTemp, (i*e.nv+r)*e.ndiff+e.nxr+d.NXA)
		var op codegen.AssignOp = codegen.AddTo
		if d.Implicit() {
			v = codegen.Neg{A: v}
			op = codegen.SubFrom
		}
		s = append(s, set(dst, v))
		if d.NU > 0 {
			s = append(s, codegen.If{Cond: e.isControl(), Then: []codegen.Stmt{codegen.Assign{Dst: dst, Op: op, Src: ctrl}}})
		}
	}
	return s
}

// storeSens copies the solved directions of stage i from rk_b into rk_dk.
func (e *IRKExport) storeSens(i int) []codegen.Stmt {
	var s []codegen.Stmt
	for c := 0; c < e.nv; c++ {
		s = append(s, set(e.dkAt(i, e.varCol(c)), at(e.bVec, i*e.nv+c)))
	}
	return s
}

// implicitSens solves one linear system per direction. IFT refactorizes at the converged stages,
// IFTR reuses the factorization of the first Newton iteration.
func (e *IRKExport) implicitSens() []codegen.Stmt {
	ift := e.opts.Sensitivity == IFT
	firstDir := ieq(e.dir(), 0)
	refresh := func(i int) []codegen.Stmt {
		s := e.stageInputs(i)
		return append(s, call(e.diffs, arg(e.xxx, 0), arg(e.diffsTemp, i*e.nv*e.ndiff)))
	}
	solve := func(stage int) codegen.Stmt {
		if ift {
			return codegen.If{Cond: firstDir, Then: []codegen.Stmt{e.solve(stage)}, Else: []codegen.Stmt{e.solveReuse(stage)}}
		}
		return e.solveReuse(stage)
	}
	var s []codegen.Stmt
	if e.tab.Structure == DiagonallyImplicit {
		for i := 0; i < e.s; i++ {
			if ift {
				s = append(s, refresh(i)...)
				s = append(s, e.assemble(i)...)
			}
			stage := i
			body := e.sensRHS(i, func(j int) bool { return j < stage })
			body = append(body, solve(i))
			body = append(body, e.storeSens(i)...)
			s = append(s, codegen.For{Var: dirVar, From: lit(0), To: lit(e.nw), Body: body})
		}
		return s
	}
	if ift {
		for i := 0; i < e.s; i++ {
			s = append(s, refresh(i)...)
		}
		s = append(s, e.assemble(-1)...)
	}
	var body []codegen.Stmt
	for i := 0; i < e.s; i++ {
		body = append(body, e.sensRHS(i, func(int) bool { return false })...)
	}
	body = append(body, solve(-1))
	for i := 0; i < e.s; i++ {
		body = append(body, e.storeSens(i)...)
	}
	return append(s, codegen.For{Var: dirVar, From: lit(0), To: lit(e.nw), Body: body})
}

// linearOutputSens differentiates f3 along the full stage tangents and solves for dk3 in closed form.
func (e *IRKExport) linearOutputSens() []codegen.Stmt {
	var s []codegen.Stmt
	n3 := e.d.NX3
	nd3 := e.nxr + e.d.NXA + e.d.NU
	all := func(int) bool { return true }
	for j := 0; j < e.s; j++ {
		for q := 0; q < n3; q++ {
			row := (j*n3 + q) * nd3
			var terms []codegen.Expr
			for c := 0; c < e.nxr; c++ {
				terms = append(terms, codegen.Times(at(e.diffs3Temp, row+c), e.stateTangent(j, c, all)))
			}
			for c := 0; c < e.d.NXA; c++ {
				terms = append(terms, codegen.Times(at(e.diffs3Temp, row+e.nxr+c), e.dkAt(j, e.nx+c)))
			}
			dst := at(e.df3, j*n3+q)
			s = append(s, set(dst, sum(terms...)))
			if e.d.NU > 0 {
				s = append(s, codegen.If{Cond: e.isControl(), Then: []codegen.Stmt{
					codegen.Assign{Dst: dst, Op: codegen.AddTo, Src: e.control(e.diffs3Temp, row+e.nxr+e.d.NXA)},
				}})
			}
		}
	}
	for i := 0; i < e.s; i++ {
		for r := 0; r < n3; r++ {
			row := i*n3 + r
			var terms []codegen.Expr
			for c := 0; c < n3; c++ {
				terms = append(terms, codegen.Times(at(e.mat3x, row*n3+c), e.g(e.nxr+c)))
			}
			for q := 0; q < e.s*n3; q++ {
				terms = append(terms, codegen.Times(at(e.mat3, row*e.s*n3+q), at(e.df3, q)))
			}
			s = append(s, set(e.dkAt(i, e.nxr+r), sum(terms...)))
		}
	}
	return s
}
