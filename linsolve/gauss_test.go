package linsolve

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/ChristopherRabotin/irkgen/codegen"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/floats/scalar"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

func machine(t *testing.T, dim int, unroll bool) *codegen.Machine {
	g := NewGaussElim("solve")
	if err := g.Init(dim, true, unroll); err != nil {
		t.Fatal(err)
	}
	if err := g.Setup(); err != nil {
		t.Fatal(err)
	}
	p := codegen.NewProgram("ls_")
	if err := p.Add(g.Functions()...); err != nil {
		t.Fatal(err)
	}
	return codegen.NewMachine(p)
}

func randomSystem(dist distuv.Uniform, n int) ([]float64, []float64, []float64) {
	a := make([]float64, n*n)
	for i := range a {
		a[i] = dist.Rand()
	}
	b1, b2 := make([]float64, n), make([]float64, n)
	for i := 0; i < n; i++ {
		b1[i] = dist.Rand()
		b2[i] = dist.Rand()
	}
	return a, b1, b2
}

func gonumSolve(t *testing.T, a, b []float64, n int) []float64 {
	var x mat.VecDense
	if err := x.SolveVec(mat.NewDense(n, n, append([]float64(nil), a...)), mat.NewVecDense(n, append([]float64(nil), b...))); err != nil {
		t.Fatal(err)
	}
	return x.RawVector().Data
}

func TestSolveAndReuseMatchGonum(t *testing.T) {
	dist := distuv.Uniform{Min: -1, Max: 1, Src: rand.NewPCG(3, 4)}
	for _, unroll := range []bool{false, true} {
		for n := 1; n <= 6; n++ {
			t.Run(fmt.Sprintf("n=%d/unroll=%v", n, unroll), func(t *testing.T) {
				m := machine(t, n, unroll)
				for trial := 0; trial < 5; trial++ {
					a, b1, b2 := randomSystem(dist, n)
					x1 := gonumSolve(t, a, b1, n)
					x2 := gonumSolve(t, a, b2, n)
					A := append([]float64(nil), a...)
					sol1 := append([]float64(nil), b1...)
					perm := make([]float64, n)
					det, err := m.Call("solve", A, sol1, perm)
					if err != nil {
						t.Fatal(err)
					}
					if !floats.EqualApprox(sol1, x1, 1e-9) {
						t.Fatalf("solve: %v, expected %v", sol1, x1)
					}
					if ref := mat.Det(mat.NewDense(n, n, append([]float64(nil), a...))); !scalar.EqualWithinAbsOrRel(det, ref, 1e-10, 1e-10) {
						t.Fatalf("det %g, expected %g", det, ref)
					}
					sol2 := append([]float64(nil), b2...)
					if _, err := m.Call("solve_reuse", A, sol2, perm, make([]float64, n)); err != nil {
						t.Fatal(err)
					}
					if !floats.EqualApprox(sol2, x2, 1e-9) {
						t.Fatalf("reuse: %v, expected %v", sol2, x2)
					}
					// Residual of the reuse path against the original matrix.
					for i := 0; i < n; i++ {
						r := -b2[i]
						for j := 0; j < n; j++ {
							r += a[i*n+j] * sol2[j]
						}
						if math.Abs(r) > 1e-9 {
							t.Fatalf("residual %g in row %d", r, i)
						}
					}
				}
			})
		}
	}
}

func TestPivotTiesKeepFirstRow(t *testing.T) {
	m := machine(t, 2, false)
	A := []float64{1, 2, -1, 3}
	b := []float64{3, 2}
	perm := make([]float64, 2)
	det, err := m.Call("solve", A, b, perm)
	if err != nil {
		t.Fatal(err)
	}
	if perm[0] != 0 || perm[1] != 1 {
		t.Fatalf("equal magnitudes should not swap, perm=%v", perm)
	}
	if !scalar.EqualWithinAbs(det, 5, 1e-14) || !floats.EqualApprox(b, []float64{1, 1}, 1e-14) {
		t.Fatalf("det=%g x=%v", det, b)
	}

	A = []float64{0, 1, 2, 0}
	b = []float64{1, 4}
	det, err = m.Call("solve", A, b, perm)
	if err != nil {
		t.Fatal(err)
	}
	if perm[0] != 1 || perm[1] != 0 {
		t.Fatalf("expected a swap, perm=%v", perm)
	}
	if !scalar.EqualWithinAbs(det, -2, 1e-14) || !floats.EqualApprox(b, []float64{2, 1}, 1e-14) {
		t.Fatalf("det=%g x=%v", det, b)
	}
}

func TestSingular(t *testing.T) {
	m := machine(t, 3, true)
	A := []float64{1, 2, 3, 2, 4, 6, 1, 0, 1}
	det, err := m.Call("solve", A, []float64{1, 2, 3}, make([]float64, 3))
	if err != nil {
		t.Fatal(err)
	}
	if det != 0 {
		t.Fatalf("singular system should report det=0, got %g", det)
	}
}

func TestInit(t *testing.T) {
	g := NewGaussElim("s")
	if err := g.Setup(); !errors.Is(err, ErrInit) {
		t.Fatalf("setup before init should fail, got %v", err)
	}
	if err := g.Init(0, false, false); !errors.Is(err, ErrInit) {
		t.Fatalf("dimension 0 should fail, got %v", err)
	}
	if err := g.Init(3, false, false); err != nil {
		t.Fatal(err)
	}
	if err := g.Init(3, false, false); err != nil {
		t.Fatalf("identical re-init should pass, got %v", err)
	}
	if err := g.Init(4, false, false); !errors.Is(err, ErrInit) {
		t.Fatalf("re-init with another dimension should fail, got %v", err)
	}
	if err := g.Setup(); err != nil {
		t.Fatal(err)
	}
	if g.Reuse() != nil || len(g.Functions()) != 2 {
		t.Fatal("reuse routine emitted without reuse")
	}
}

func TestUnrolledCodeHasNoLoops(t *testing.T) {
	for _, unroll := range []bool{false, true} {
		g := NewGaussElim("solve")
		if err := g.Init(3, true, unroll); err != nil {
			t.Fatal(err)
		}
		if err := g.Setup(); err != nil {
			t.Fatal(err)
		}
		p := codegen.NewProgram("ls_")
		if err := p.Add(g.Functions()...); err != nil {
			t.Fatal(err)
		}
		var buf bytes.Buffer
		if err := p.Render(&buf, codegen.DefaultFormat); err != nil {
			t.Fatal(err)
		}
		code := buf.String()
		if hasLoop := strings.Contains(code, "for ("); hasLoop == unroll {
			t.Fatalf("unroll=%v but loops present=%v:\n%s", unroll, hasLoop, code)
		}
		for _, want := range []string{"real_t solve( real_t* A, real_t* b, int* rk_perm )", "void solve_reuse(", "solve_triangular( A, b );"} {
			if !strings.Contains(code, want) {
				t.Fatalf("missing %q in\n%s", want, code)
			}
		}
	}
}
