package irkgen

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Polynomial is the Lagrange basis on the collocation nodes of a tableau.
// Derived evaluation returns l_j(τ); plain evaluation returns ∫_0^τ l_j.
type Polynomial struct {
	nodes []float64
	basis [][]float64 // basis[j][k] multiplies τ^k in l_j
}

// NewPolynomial precomputes the basis coefficients; the nodes must be distinct.
func NewPolynomial(c []float64) (*Polynomial, error) {
	s := len(c)
	if s == 0 {
		return nil, fmt.Errorf("%w: no collocation nodes", ErrConfiguration)
	}
	p := &Polynomial{nodes: append([]float64(nil), c...), basis: make([][]float64, s)}
	for j := 0; j < s; j++ {
		others := make([]float64, 0, s-1)
		denom := 1.
		for m := 0; m < s; m++ {
			if m != j {
				others = append(others, c[m])
				denom *= c[j] - c[m]
			}
		}
		if denom == 0 {
			return nil, fmt.Errorf("%w: repeated collocation node %g", ErrNumerical, c[j])
		}
		// Π (τ - c_m) = Σ_k τ^k (-1)^(s-1-k) e_(s-1-k)
		p.basis[j] = make([]float64, s)
		for k := 0; k < s; k++ {
			q := s - 1 - k
			e := symmetricSum(others, q)
			if q%2 == 1 {
				e = -e
			}
			p.basis[j][k] = e / denom
		}
	}
	return p, nil
}

// symmetricSum returns the elementary symmetric polynomial of degree q of values.
func symmetricSum(values []float64, q int) float64 {
	sum := 0.
	combinations(len(values), q, func(idx []int) {
		prod := 1.
		for _, i := range idx {
			prod *= values[i]
		}
		sum += prod
	})
	return sum
}

// combinations calls fn with every increasing q-subset of 0..n-1.
func combinations(n, q int, fn func([]int)) {
	picked := make([]int, 0, q)
	var rec func(start int)
	rec = func(start int) {
		if len(picked) == q {
			fn(picked)
			return
		}
		for i := start; i <= n-(q-len(picked)); i++ {
			picked = append(picked, i)
			rec(i + 1)
			picked = picked[:len(picked)-1]
		}
	}
	rec(0)
}

// Stages returns the number of basis polynomials.
func (p *Polynomial) Stages() int { return len(p.nodes) }

// Basis returns the coefficients of l_j in increasing powers.
func (p *Polynomial) Basis(j int) []float64 { return append([]float64(nil), p.basis[j]...) }

// Integral returns the coefficients of ∫_0^τ l_j in increasing powers, starting at τ^1.
func (p *Polynomial) Integral(j int) []float64 {
	out := make([]float64, len(p.basis[j]))
	for k, v := range p.basis[j] {
		out[k] = v / float64(k+1)
	}
	return out
}

// Evaluate returns ∫_0^τ l_j for every j.
func (p *Polynomial) Evaluate(τ float64) []float64 {
	out := make([]float64, len(p.basis))
	for j := range p.basis {
		out[j] = τ * horner(p.Integral(j), τ)
	}
	return out
}

// EvaluateDerived returns l_j(τ) for every j.
func (p *Polynomial) EvaluateDerived(τ float64) []float64 {
	out := make([]float64, len(p.basis))
	for j, coeffs := range p.basis {
		out[j] = horner(coeffs, τ)
	}
	return out
}

func horner(coeffs []float64, τ float64) float64 {
	v := 0.
	for k := len(coeffs) - 1; k >= 0; k-- {
		v = v*τ + coeffs[k]
	}
	return v
}

// Extrapolation returns DD with DD_ij = l_j(1 + c_i), which maps the stage values of one step
// to the initial guess of the next. Repeated nodes fall back to repeating the last stage.
func Extrapolation(c []float64) *mat.Dense {
	s := len(c)
	dd := mat.NewDense(s, s, nil)
	p, err := NewPolynomial(c)
	if err != nil {
		for i := 0; i < s; i++ {
			dd.Set(i, s-1, 1)
		}
		return dd
	}
	for i := 0; i < s; i++ {
		dd.SetRow(i, p.EvaluateDerived(1+c[i]))
	}
	return dd
}
