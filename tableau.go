package irkgen

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/floats/scalar"
	"gonum.org/v1/gonum/mat"
)

// Structure distinguishes the two stage couplings the exporter handles.
type Structure uint8

const (
	// FullyImplicit tableaus solve one coupled system of all stages.
	FullyImplicit Structure = iota
	// DiagonallyImplicit tableaus solve one system per stage, in order.
	DiagonallyImplicit
)

func (s Structure) String() string {
	if s == DiagonallyImplicit {
		return "diagonally implicit"
	}
	return "fully implicit"
}

// Tableau is a Butcher tableau. It is immutable once returned by a provider.
type Tableau struct {
	Name      string
	Order     int
	Structure Structure
	a         *mat.Dense
	b, c      []float64
}

// NewTableau copies its inputs.
func NewTableau(name string, order int, st Structure, a [][]float64, b, c []float64) Tableau {
	s := len(b)
	t := Tableau{Name: name, Order: order, Structure: st, a: mat.NewDense(s, s, nil), b: append([]float64(nil), b...), c: append([]float64(nil), c...)}
	for i := 0; i < s && i < len(a); i++ {
		for j := 0; j < s && j < len(a[i]); j++ {
			t.a.Set(i, j, a[i][j])
		}
	}
	return t
}

// Stages returns s.
func (t Tableau) Stages() int { return len(t.b) }

// A returns a copy of the coefficient matrix.
func (t Tableau) A() *mat.Dense { return mat.DenseCopyOf(t.a) }

// Aij returns one coefficient.
func (t Tableau) Aij(i, j int) float64 { return t.a.At(i, j) }

// B returns a copy of the weights.
func (t Tableau) B() []float64 { return append([]float64(nil), t.b...) }

// C returns a copy of the nodes.
func (t Tableau) C() []float64 { return append([]float64(nil), t.c...) }

// Validate checks the shape, the row-sum condition and, for diagonally implicit tableaus, the triangular structure.
func (t Tableau) Validate() error {
	s := t.Stages()
	if s == 0 || len(t.c) != s {
		return fmt.Errorf("%w: tableau %s has %d weights and %d nodes", ErrConfiguration, t.Name, s, len(t.c))
	}
	if r, c := t.a.Dims(); r != s || c != s {
		return fmt.Errorf("%w: tableau %s has a %dx%d matrix for %d stages", ErrConfiguration, t.Name, r, c, s)
	}
	for i := 0; i < s; i++ {
		if !scalar.EqualWithinAbs(floats.Sum(mat.Row(nil, i, t.a)), t.c[i], 1e-12) {
			return fmt.Errorf("%w: tableau %s row %d does not sum to its node", ErrConfiguration, t.Name, i)
		}
		if t.Structure != DiagonallyImplicit {
			continue
		}
		if t.a.At(i, i) == 0 {
			return fmt.Errorf("%w: tableau %s has a zero diagonal at %d", ErrConfiguration, t.Name, i)
		}
		for j := i + 1; j < s; j++ {
			if t.a.At(i, j) != 0 {
				return fmt.Errorf("%w: tableau %s is not lower triangular", ErrConfiguration, t.Name)
			}
		}
	}
	return nil
}

// IsCollocation reports whether the continuous output polynomial reproduces the weights at τ=1.
func (t Tableau) IsCollocation() bool {
	p, err := NewPolynomial(t.c)
	if err != nil {
		return false
	}
	return floats.EqualApprox(p.Evaluate(1), t.b, 1e-10)
}

// RadauIIA1 is implicit Euler.
func RadauIIA1() Tableau {
	return NewTableau("RadauIIA1", 1, FullyImplicit, [][]float64{{1}}, []float64{1}, []float64{1})
}

// RadauIIA3 is the two-stage Radau IIA method.
func RadauIIA3() Tableau {
	return NewTableau("RadauIIA3", 3, FullyImplicit,
		[][]float64{{5. / 12, -1. / 12}, {3. / 4, 1. / 4}},
		[]float64{3. / 4, 1. / 4},
		[]float64{1. / 3, 1})
}

// RadauIIA5 is the three-stage Radau IIA method.
func RadauIIA5() Tableau {
	s6 := math.Sqrt(6)
	a := [][]float64{
		{(88 - 7*s6) / 360, (296 - 169*s6) / 1800, (-2 + 3*s6) / 225},
		{(296 + 169*s6) / 1800, (88 + 7*s6) / 360, (-2 - 3*s6) / 225},
		{(16 - s6) / 36, (16 + s6) / 36, 1. / 9},
	}
	return NewTableau("RadauIIA5", 5, FullyImplicit, a, a[2], []float64{(4 - s6) / 10, (4 + s6) / 10, 1})
}

// GaussLegendre2 is the implicit midpoint rule.
func GaussLegendre2() Tableau {
	return NewTableau("GaussLegendre2", 2, FullyImplicit, [][]float64{{0.5}}, []float64{1}, []float64{0.5})
}

// GaussLegendre4 is the two-stage Gauss method.
func GaussLegendre4() Tableau {
	s3 := math.Sqrt(3)
	return NewTableau("GaussLegendre4", 4, FullyImplicit,
		[][]float64{{0.25, 0.25 - s3/6}, {0.25 + s3/6, 0.25}},
		[]float64{0.5, 0.5},
		[]float64{0.5 - s3/6, 0.5 + s3/6})
}

// GaussLegendre6 is the three-stage Gauss method.
func GaussLegendre6() Tableau {
	s15 := math.Sqrt(15)
	return NewTableau("GaussLegendre6", 6, FullyImplicit,
		[][]float64{
			{5. / 36, 2./9 - s15/15, 5./36 - s15/30},
			{5./36 + s15/24, 2. / 9, 5./36 - s15/24},
			{5./36 + s15/30, 2./9 + s15/15, 5. / 36},
		},
		[]float64{5. / 18, 4. / 9, 5. / 18},
		[]float64{0.5 - s15/10, 0.5, 0.5 + s15/10})
}

// SDIRK2 is the two-stage L-stable singly diagonally implicit method.
func SDIRK2() Tableau {
	γ := 1 - math.Sqrt2/2
	return NewTableau("SDIRK2", 2, DiagonallyImplicit,
		[][]float64{{γ, 0}, {1 - γ, γ}},
		[]float64{1 - γ, γ},
		[]float64{γ, 1})
}

// SDIRK3 is Alexander's three-stage L-stable method.
func SDIRK3() Tableau {
	const γ = 0.43586652150845899941601945
	b1 := -(6*γ*γ - 16*γ + 1) / 4
	b2 := (6*γ*γ - 20*γ + 5) / 4
	return NewTableau("SDIRK3", 3, DiagonallyImplicit,
		[][]float64{{γ, 0, 0}, {(1 - γ) / 2, γ, 0}, {b1, b2, γ}},
		[]float64{b1, b2, γ},
		[]float64{γ, (1 + γ) / 2, 1})
}

// Registry maps integrator names to tableau providers. It is filled explicitly, never by init.
type Registry struct {
	providers map[string]func() Tableau
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]func() Tableau)}
}

// Register adds a provider under name.
func (r *Registry) Register(name string, provider func() Tableau) error {
	if _, dup := r.providers[name]; dup {
		return fmt.Errorf("%w: integrator %s registered twice", ErrConfiguration, name)
	}
	r.providers[name] = provider
	return nil
}

// Lookup returns a validated tableau.
func (r *Registry) Lookup(name string) (Tableau, error) {
	provider, ok := r.providers[name]
	if !ok {
		return Tableau{}, fmt.Errorf("%w: unknown integrator %s", ErrConfiguration, name)
	}
	t := provider()
	return t, t.Validate()
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegisterDefaults registers every built-in tableau.
func RegisterDefaults(r *Registry) error {
	for _, provider := range []func() Tableau{RadauIIA1, RadauIIA3, RadauIIA5, GaussLegendre2, GaussLegendre4, GaussLegendre6, SDIRK2, SDIRK3} {
		if err := r.Register(provider().Name, provider); err != nil {
			return err
		}
	}
	return nil
}

// DefaultRegistry returns a registry holding the built-in tableaus.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	if err := RegisterDefaults(r); err != nil {
		panic(err)
	}
	return r
}
