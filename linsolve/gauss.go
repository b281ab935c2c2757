// Package linsolve generates dense linear solvers based on Gaussian elimination with partial pivoting.
package linsolve

import (
	"errors"
	"fmt"

	"github.com/ChristopherRabotin/irkgen/codegen"
)

// ErrInit is returned on an invalid or conflicting initialization.
var ErrInit = errors.New("linsolve: invalid initialization")

// GaussElim emits solve, reuse-solve and triangular-solve routines for a fixed dimension.
type GaussElim struct {
	name          string
	dim           int
	reuse, unroll bool
	initialized   bool

	solve, reuseFn, triangular *codegen.Function
}

// NewGaussElim returns a generator whose routines are named after name.
func NewGaussElim(name string) *GaussElim {
	return &GaussElim{name: name}
}

// Init fixes the dimension and the options.
func (g *GaussElim) Init(dim int, reuse, unroll bool) error {
	if dim <= 0 {
		return fmt.Errorf("%w: dimension %d", ErrInit, dim)
	}
	if g.initialized && (dim != g.dim || reuse != g.reuse || unroll != g.unroll) {
		return fmt.Errorf("%w: %s already initialized with dimension %d", ErrInit, g.name, g.dim)
	}
	g.dim, g.reuse, g.unroll, g.initialized = dim, reuse, unroll, true
	return nil
}

// Dim returns the dimension.
func (g *GaussElim) Dim() int { return g.dim }

// Solve returns solve(A, b, perm) -> det. It must follow Setup.
func (g *GaussElim) Solve() *codegen.Function { return g.solve }

// Reuse returns solveReuse(A, b, perm, bPerm), or nil when reuse is off.
func (g *GaussElim) Reuse() *codegen.Function { return g.reuseFn }

// Functions returns the routines in declaration order.
func (g *GaussElim) Functions() []codegen.Callable {
	out := []codegen.Callable{g.triangular, g.solve}
	if g.reuseFn != nil {
		out = append(out, g.reuseFn)
	}
	return out
}

// loop emits a counted loop, or its unrolled body when unrolling is on and the bounds are literals.
func (g *GaussElim) loop(v string, from, to codegen.IntExpr, body func(codegen.IntExpr) []codegen.Stmt) []codegen.Stmt {
	lf, fok := from.(codegen.ILit)
	lt, tok := to.(codegen.ILit)
	if g.unroll && fok && tok {
		var out []codegen.Stmt
		for k := int(lf); k < int(lt); k++ {
			out = append(out, body(codegen.ILit(k))...)
		}
		return out
	}
	return []codegen.Stmt{codegen.For{Var: v, From: from, To: to, Body: body(codegen.IVar(v))}}
}

// Setup builds the routines.
func (g *GaussElim) Setup() error {
	if !g.initialized {
		return fmt.Errorf("%w: %s set up before init", ErrInit, g.name)
	}
	g.triangular = g.setupTriangular()
	g.solve = g.setupSolve()
	if g.reuse {
		g.reuseFn = g.setupReuse()
	}
	return nil
}

func (g *GaussElim) matrix(name string) *codegen.Variable {
	return codegen.NewVariable(name, codegen.Real, g.dim, g.dim, codegen.Arg)
}

func (g *GaussElim) vector(name string, t codegen.DataType) *codegen.Variable {
	return codegen.NewVariable(name, t, 1, g.dim, codegen.Arg)
}

func (g *GaussElim) setupTriangular() *codegen.Function {
	n := g.dim
	A, b := g.matrix("A"), g.vector("b", codegen.Real)
	body := g.loop("ii", codegen.Lit(0), codegen.Lit(n), func(ii codegen.IntExpr) []codegen.Stmt {
		i := codegen.ISub(codegen.Lit(n-1), ii)
		stmts := g.loop("j", codegen.IAdd(i, codegen.Lit(1)), codegen.Lit(n), func(j codegen.IntExpr) []codegen.Stmt {
			return []codegen.Stmt{codegen.Assign{Dst: b.Idx(i), Op: codegen.SubFrom, Src: codegen.Times(A.At(i, j), b.Idx(j))}}
		})
		return append(stmts, codegen.Assign{Dst: b.Idx(i), Src: codegen.Over(b.Idx(i), A.At(i, i))})
	})
	return &codegen.Function{
		FName: g.name + "_triangular",
		Doc:   fmt.Sprintf("back substitution of an upper triangular %dx%d system", n, n),
		In:    []*codegen.Variable{A, b},
		Body:  body,
	}
}

func (g *GaussElim) setupSolve() *codegen.Function {
	n := g.dim
	A, b, perm := g.matrix("A"), g.vector("b", codegen.Real), g.vector("rk_perm", codegen.Int)
	det := codegen.NewVariable("det", codegen.Real, 1, 1, codegen.Local)
	valueMax := codegen.NewVariable("valueMax", codegen.Real, 1, 1, codegen.Local)
	temp := codegen.NewVariable("temp", codegen.Real, 1, 1, codegen.Local)
	indexMax, intSwap := codegen.IVar("indexMax"), codegen.IVar("intSwap")
	at := func(v *codegen.Variable) codegen.Elem { return v.Idx(codegen.Lit(0)) }
	swap := func(x, y codegen.Elem) []codegen.Stmt {
		return []codegen.Stmt{
			codegen.Assign{Dst: at(temp), Src: x},
			codegen.Assign{Dst: x, Src: y},
			codegen.Assign{Dst: y, Src: at(temp)},
		}
	}
	zeroPivot := func(pivot codegen.Expr) codegen.Stmt {
		return codegen.If{Cond: codegen.Cmp{Op: "==", A: pivot, B: codegen.Num(0)}, Then: []codegen.Stmt{codegen.Return{Value: codegen.Num(0)}}}
	}

	body := []codegen.Stmt{codegen.Assign{Dst: at(det), Src: codegen.Num(1)}}
	body = append(body, g.loop("i", codegen.Lit(0), codegen.Lit(n), func(i codegen.IntExpr) []codegen.Stmt {
		return []codegen.Stmt{codegen.SetInt{Dst: perm.IAt(i), Src: i}}
	})...)
	body = append(body, g.loop("i", codegen.Lit(0), codegen.Lit(n-1), func(i codegen.IntExpr) []codegen.Stmt {
		var s []codegen.Stmt
		// Pivot search: the first row with the largest magnitude wins.
		s = append(s,
			codegen.SetInt{Dst: indexMax, Src: i},
			codegen.Assign{Dst: at(valueMax), Src: codegen.Abs{A: A.At(i, i)}},
		)
		s = append(s, g.loop("j", codegen.IAdd(i, codegen.Lit(1)), codegen.Lit(n), func(j codegen.IntExpr) []codegen.Stmt {
			return []codegen.Stmt{
				codegen.Assign{Dst: at(temp), Src: codegen.Abs{A: A.At(j, i)}},
				codegen.If{Cond: codegen.Cmp{Op: ">", A: at(temp), B: at(valueMax)}, Then: []codegen.Stmt{
					codegen.Assign{Dst: at(valueMax), Src: at(temp)},
					codegen.SetInt{Dst: indexMax, Src: j},
				}},
			}
		})...)
		s = append(s, zeroPivot(at(valueMax)))
		var swaps []codegen.Stmt
		swaps = append(swaps, g.loop("k", codegen.Lit(0), codegen.Lit(n), func(k codegen.IntExpr) []codegen.Stmt {
			return swap(A.At(i, k), A.At(indexMax, k))
		})...)
		swaps = append(swaps, swap(b.Idx(i), b.Idx(indexMax))...)
		swaps = append(swaps,
			codegen.SetInt{Dst: intSwap, Src: perm.IAt(i)},
			codegen.SetInt{Dst: perm.IAt(i), Src: perm.IAt(indexMax)},
			codegen.SetInt{Dst: perm.IAt(indexMax), Src: intSwap},
			codegen.Assign{Dst: at(det), Src: codegen.Neg{A: at(det)}},
		)
		s = append(s,
			codegen.If{Cond: codegen.ICmp{Op: ">", A: indexMax, B: i}, Then: swaps},
			codegen.Assign{Dst: at(det), Src: codegen.Times(at(det), A.At(i, i))},
		)
		// Elimination below the pivot; the negated multipliers stay in the lower part.
		s = append(s, g.loop("j", codegen.IAdd(i, codegen.Lit(1)), codegen.Lit(n), func(j codegen.IntExpr) []codegen.Stmt {
			inner := []codegen.Stmt{codegen.Assign{Dst: A.At(j, i), Src: codegen.Neg{A: codegen.Over(A.At(j, i), A.At(i, i))}}}
			inner = append(inner, g.loop("k", codegen.IAdd(i, codegen.Lit(1)), codegen.Lit(n), func(k codegen.IntExpr) []codegen.Stmt {
				return []codegen.Stmt{codegen.Assign{Dst: A.At(j, k), Op: codegen.AddTo, Src: codegen.Times(A.At(j, i), A.At(i, k))}}
			})...)
			return append(inner, codegen.Assign{Dst: b.Idx(j), Op: codegen.AddTo, Src: codegen.Times(A.At(j, i), b.Idx(i))})
		})...)
		return s
	})...)
	last := A.At(codegen.Lit(n-1), codegen.Lit(n-1))
	body = append(body,
		zeroPivot(last),
		codegen.Assign{Dst: at(det), Src: codegen.Times(at(det), last)},
		codegen.Call{Fn: g.triangular, Args: []codegen.CallArg{codegen.ArrayArg{V: A, Offset: codegen.Lit(0)}, codegen.ArrayArg{V: b, Offset: codegen.Lit(0)}}},
		codegen.Return{Value: at(det)},
	)
	return &codegen.Function{
		FName:     g.name,
		Doc:       fmt.Sprintf("solves a %dx%d system in place, returns the determinant (zero when singular)", n, n),
		In:        []*codegen.Variable{A, b, perm},
		Returns:   true,
		Locals:    []*codegen.Variable{det, valueMax, temp},
		IntLocals: []string{string(indexMax), string(intSwap)},
		Body:      body,
	}
}

func (g *GaussElim) setupReuse() *codegen.Function {
	n := g.dim
	A, b, perm := g.matrix("A"), g.vector("b", codegen.Real), g.vector("rk_perm", codegen.Int)
	bPerm := g.vector("bPerm", codegen.Real)
	var body []codegen.Stmt
	body = append(body, g.loop("i", codegen.Lit(0), codegen.Lit(n), func(i codegen.IntExpr) []codegen.Stmt {
		return []codegen.Stmt{codegen.Assign{Dst: bPerm.Idx(i), Src: b.Idx(perm.IAt(i))}}
	})...)
	body = append(body, g.loop("j", codegen.Lit(1), codegen.Lit(n), func(j codegen.IntExpr) []codegen.Stmt {
		return g.loop("i", codegen.Lit(0), j, func(i codegen.IntExpr) []codegen.Stmt {
			return []codegen.Stmt{codegen.Assign{Dst: bPerm.Idx(j), Op: codegen.AddTo, Src: codegen.Times(A.At(j, i), bPerm.Idx(i))}}
		})
	})...)
	body = append(body, codegen.Call{Fn: g.triangular, Args: []codegen.CallArg{codegen.ArrayArg{V: A, Offset: codegen.Lit(0)}, codegen.ArrayArg{V: bPerm, Offset: codegen.Lit(0)}}})
	body = append(body, g.loop("i", codegen.Lit(0), codegen.Lit(n), func(i codegen.IntExpr) []codegen.Stmt {
		return []codegen.Stmt{codegen.Assign{Dst: b.Idx(i), Src: bPerm.Idx(i)}}
	})...)
	return &codegen.Function{
		FName: g.name + "_reuse",
		Doc:   fmt.Sprintf("solves a %dx%d system with the factorization left by %s", n, n, g.name),
		In:    []*codegen.Variable{A, b, perm, bPerm},
		Body:  body,
	}
}
