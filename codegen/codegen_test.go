package codegen

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/ChristopherRabotin/irkgen/symbolic"
	"github.com/google/go-cmp/cmp"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/floats/scalar"
)

// axpy builds y += a*x over n entries and returns sum(y).
func axpy(n int) (*Program, *Function) {
	p := NewProgram("test_")
	acc := NewVariable("acc", Real, 1, 1, Workspace)
	scale := NewStatic("scale", 1, 1, []float64{2})
	if err := p.Declare(acc, scale); err != nil {
		panic(err)
	}
	a := NewVariable("a", Real, 1, 1, Value)
	x := NewVariable("x", Real, 1, n, Arg)
	y := NewVariable("y", Real, 1, n, Arg)
	cnt := NewVariable("cnt", Int, 1, 1, Value)
	i := IVar("i")
	fn := &Function{
		FName:   "axpy",
		In:      []*Variable{a, x, y, cnt},
		Returns: true,
		Body: []Stmt{
			Assign{Dst: acc.Idx(Lit(0)), Src: Num(0)},
			For{Var: "i", From: Lit(0), To: IVar("cnt"), Body: []Stmt{
				Assign{Dst: y.Idx(i), Op: AddTo, Src: Times(Times(a.Idx(Lit(0)), scale.Idx(Lit(0))), x.Idx(i))},
				Assign{Dst: acc.Idx(Lit(0)), Op: AddTo, Src: y.Idx(i)},
			}},
			Return{Value: acc.Idx(Lit(0))},
		},
	}
	if err := p.Add(fn); err != nil {
		panic(err)
	}
	return p, fn
}

func TestMachineRunsLoops(t *testing.T) {
	p, _ := axpy(3)
	m := NewMachine(p)
	x := []float64{1, 2, 3}
	y := []float64{10, 20, 30}
	sum, err := m.Call("axpy", 0.5, x, y, 3)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]float64{11, 22, 33}, y); diff != "" {
		t.Fatalf("y mismatch (-want +got):\n%s", diff)
	}
	if !scalar.EqualWithinAbs(sum, 66, 1e-14) {
		t.Fatalf("sum=%g", sum)
	}
	acc, ok := m.Workspace("acc")
	if !ok || acc[0] != 66 {
		t.Fatalf("workspace acc=%v", acc)
	}
	if _, err := m.Call("axpy", 0.5, x, y, 4); !errors.Is(err, ErrExec) {
		t.Fatalf("expected an out of range error, got %v", err)
	}
	if _, err := m.Call("axpy", 0.5, x[:2], y, 2); !errors.Is(err, ErrExec) {
		t.Fatalf("expected a short argument error, got %v", err)
	}
}

func TestRender(t *testing.T) {
	p, _ := axpy(3)
	var buf bytes.Buffer
	if err := p.Render(&buf, Format{RealType: "double", IntType: "long", Precision: 3}); err != nil {
		t.Fatal(err)
	}
	code := buf.String()
	for _, want := range []string{
		"typedef struct test_Workspace_",
		"double acc;",
		"extern test_Workspace test_workspace;",
		"static const double scale[ 1 ] = { 2.00e+00 };",
		"double axpy( double a, double* x, double* y, long cnt )",
		"long i;",
		"for (i = 0; i < cnt; ++i)",
		"y[i] += a * scale[0] * x[i];",
		"return test_workspace.acc;",
	} {
		if !strings.Contains(code, want) {
			t.Fatalf("missing %q in\n%s", want, code)
		}
	}
}

func TestIntFolding(t *testing.T) {
	tests := []struct {
		got  IntExpr
		want IntExpr
	}{
		{IAdd(Lit(2), Lit(3)), ILit(5)},
		{IAdd(Lit(0), IVar("i")), IVar("i")},
		{IMul(IVar("i"), Lit(1)), IVar("i")},
		{IMul(Lit(0), IVar("i")), ILit(0)},
		{ISub(IVar("i"), Lit(0)), IVar("i")},
		{IAdd(IMul(Lit(3), Lit(4)), Lit(1)), ILit(13)},
	}
	for i, tt := range tests {
		if tt.got != tt.want {
			t.Fatalf("case %d: got %#v, want %#v", i, tt.got, tt.want)
		}
	}
}

func TestExternAndODEFunction(t *testing.T) {
	l := symbolic.Layout{NX: 2}
	f := symbolic.NewFunction(l, symbolic.Mul(symbolic.X(0), symbolic.X(1)), symbolic.Sin(symbolic.X(0)))
	ode := NewODEFunction("model", f)
	ext := NewExtern("user", 2, 1)
	p := NewProgram("t_")
	buf := NewVariable("buf", Real, 1, 3, Workspace)
	out := NewVariable("out", Real, 1, 3, Workspace)
	if err := p.Declare(buf, out); err != nil {
		t.Fatal(err)
	}
	run := &Function{FName: "run", Body: []Stmt{
		Call{Fn: ode, Args: []CallArg{ArrayArg{buf, Lit(0)}, ArrayArg{out, Lit(0)}}},
		Call{Fn: ext, Args: []CallArg{ArrayArg{out, Lit(0)}, ArrayArg{out, Lit(2)}}},
	}}
	if err := p.Add(ode, ext, run); err != nil {
		t.Fatal(err)
	}
	if err := p.Add(ext); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	m := NewMachine(p)
	if _, err := m.Call("run"); !errors.Is(err, ErrExec) {
		t.Fatalf("unbound extern should fail, got %v", err)
	}
	m.Bind("user", func(in, out []float64) error {
		out[0] = in[0] + in[1]
		return nil
	})
	ws, _ := m.Workspace("buf")
	ws[0], ws[1] = 2, 3
	if _, err := m.Call("run"); err != nil {
		t.Fatal(err)
	}
	res, _ := m.Workspace("out")
	if !floats.EqualApprox(res, []float64{6, 0.9092974268256817, 6.909297426825682}, 1e-14) {
		t.Fatalf("got %v", res)
	}
	var code bytes.Buffer
	if err := p.Render(&code, DefaultFormat); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"void user( real_t* in, real_t* out );", "out[1] = sin(in[0]);", "user( t_workspace.out, &(t_workspace.out[2]) );"} {
		if !strings.Contains(code.String(), want) {
			t.Fatalf("missing %q in\n%s", want, code.String())
		}
	}
}

func TestFindBlockAndLoads(t *testing.T) {
	v := NewVariable("v", Real, 2, 2, Workspace)
	body := []Stmt{
		Comment("start"),
		For{Var: "i", From: Lit(0), To: Lit(2), Body: []Stmt{
			Block{Label: "inner", Body: []Stmt{
				Assign{Dst: v.At(Lit(0), Lit(1)), Op: AddTo, Src: v.At(Lit(1), IVar("i"))},
			}},
		}},
	}
	b, ok := FindBlock(body, "inner")
	if !ok || len(b.Body) != 1 {
		t.Fatal("block not found")
	}
	loads := Loads(b.Body[0])
	if len(loads) != 2 {
		t.Fatalf("expected two loads, got %d", len(loads))
	}
	if loads[1].Index != ILit(1) {
		t.Fatalf("destination index should fold to 1, got %#v", loads[1].Index)
	}
	if _, ok := FindBlock(body, "missing"); ok {
		t.Fatal("found a missing block")
	}
}
