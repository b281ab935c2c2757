package irkgen

import (
	"fmt"

	"github.com/ChristopherRabotin/irkgen/codegen"
)

// output emits the measurements of output o that fall within the current step.
// Measurement j of an interval falls at j*numSteps/nm steps into the interval.
func (e *IRKExport) output(o int, sens bool, steps codegen.IntExpr) []codegen.Stmt {
	nm := e.numMeas[o]
	j := codegen.IVar(measVar)
	run := codegen.IVar(runVar)
	var locate []codegen.Stmt
	var hit codegen.Cond
	if e.model.grid.Equidistant() {
		hit = codegen.ICmp{Op: "==", A: run, B: codegen.IFloor{A: e.outIdx[o].Idx(j)}}
		locate = append(locate, set(at(e.tau, 0), e.outTau[o].Idx(j)))
		for i := 0; i < e.s; i++ {
			row := codegen.IAdd(codegen.IMul(j, lit(e.s)), lit(i))
			locate = append(locate,
				set(at(e.polyW, i), e.outPoly[o].Idx(row)),
				set(at(e.dpolyW, i), e.outDPoly[o].Idx(row)))
		}
	} else {
		hit = codegen.ICmp{Op: "==", A: run, B: codegen.IFloor{A: at(e.mTmp, 0)}}
		locate = append(locate,
			set(at(e.tau, 0), codegen.Minus(at(e.mTmp, 0), codegen.ToReal{I: run})),
			call(e.polyFn, codegen.RealArg{E: at(e.tau, 0)}, arg(e.polyW, 0)),
			call(e.dpolyFn, codegen.RealArg{E: at(e.tau, 0)}, arg(e.dpolyW, 0)))
	}

	body := append(locate, e.outputInputs()...)
	dim := e.model.outputs[o].Dim
	body = append(body, call(e.outs[o], arg(e.xxx, 0), codegen.ArrayArg{V: e.out[o], Offset: codegen.IMul(j, lit(dim))}))
	if sens {
		body = append(body, call(e.outJacs[o], arg(e.xxx, 0), arg(e.outJac[o], 0)))
		body = append(body, codegen.Block{Label: fmt.Sprintf("outputSens%d", o), Body: []codegen.Stmt{
			codegen.For{Var: dirVar, From: lit(0), To: lit(e.nw), Body: e.outputSens(o)},
		}})
	}

	var loop []codegen.Stmt
	if !e.model.grid.Equidistant() {
		pos := codegen.ToReal{I: codegen.IMul(j, steps)}
		loop = append(loop, set(at(e.mTmp, 0), codegen.Over(pos, num(float64(nm)))))
	}
	loop = append(loop, codegen.If{Cond: hit, Then: body})
	return []codegen.Stmt{codegen.For{Var: measVar, From: lit(0), To: lit(nm), Body: loop}}
}

// outputInputs writes x, z, dx and t at rk_tau of the current step into rk_xxx.
func (e *IRKExport) outputInputs() []codegen.Stmt {
	var s []codegen.Stmt
	interp := func(coeffs *codegen.Variable, c int) []codegen.Expr {
		terms := make([]codegen.Expr, 0, e.s)
		for i := 0; i < e.s; i++ {
			terms = append(terms, codegen.Times(at(coeffs, i), e.k(i, c)))
		}
		return terms
	}
	for c := 0; c < e.nx; c++ {
		s = append(s, set(at(e.xxx, c), codegen.Plus(at(e.eta, c), codegen.Times(num(e.h), sum(interp(e.polyW, c)...)))))
	}
	for c := 0; c < e.d.NXA; c++ {
		s = append(s, set(at(e.xxx, e.nx+c), sum(interp(e.dpolyW, e.nx+c)...)))
	}
	dxOff := e.nx + e.d.NXA + e.d.NU + e.d.NP
	for c := 0; c < e.d.NDX; c++ {
		s = append(s, set(at(e.xxx, dxOff+c), sum(interp(e.dpolyW, c)...)))
	}
	return append(s, set(at(e.xxx, dxOff+e.d.NDX), codegen.Plus(at(e.ttt, 0), codegen.Times(at(e.tau, 0), num(e.h)))))
}

// outputTangent returns the derivative along the current direction of output column col.
func (e *IRKExport) outputTangent(col int) codegen.Expr {
	d := e.d
	interp := func(coeffs *codegen.Variable, c int) codegen.Expr {
		terms := make([]codegen.Expr, 0, e.s)
		for i := 0; i < e.s; i++ {
			terms = append(terms, codegen.Times(at(coeffs, i), e.dkAt(i, c)))
		}
		return sum(terms...)
	}
	switch {
	case col < e.nx:
		return codegen.Plus(e.g(col), codegen.Times(num(e.h), interp(e.polyW, col)))
	case col < e.nx+d.NXA:
		return interp(e.dpolyW, col)
	default:
		return interp(e.dpolyW, col-e.nx-d.NXA-d.NU)
	}
}

// outputSens emits the sensitivities of output o along the current direction,
// visiting only the structural nonzeros of its Jacobian.
func (e *IRKExport) outputSens(o int) []codegen.Stmt {
	out := e.model.outputs[o]
	uLo, uHi := e.nx+e.d.NXA, e.nx+e.d.NXA+e.d.NU
	j := codegen.IVar(measVar)
	var s []codegen.Stmt
	for r := 0; r < out.Dim; r++ {
		dst := e.outSens[o].Idx(codegen.IAdd(codegen.IMul(j, lit(out.Dim*e.nw)), codegen.IAdd(lit(r*e.nw), e.dir())))
		var terms []codegen.Expr
		var controls []codegen.Stmt
		for k := out.RowPtr[r]; k < out.RowPtr[r+1]; k++ {
			col := out.ColInd[k]
			if col >= uLo && col < uHi {
				controls = append(controls, codegen.If{
					Cond: ieq(e.dir(), e.nx+col-uLo),
					Then: []codegen.Stmt{codegen.Assign{Dst: dst, Op: codegen.AddTo, Src: at(e.outJac[o], k)}},
				})
				continue
			}
			terms = append(terms, codegen.Times(at(e.outJac[o], k), e.outputTangent(col)))
		}
		s = append(s, set(dst, sum(terms...)))
		s = append(s, controls...)
	}
	return s
}
