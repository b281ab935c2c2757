package irkgen

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// DenseIdentity returns an identity matrix of type Dense and of the provided size.
func DenseIdentity(n int) *mat.Dense {
	d := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		d.Set(i, i, 1)
	}
	return d
}

// stack returns 1_s ⊗ b, the s copies of b on top of each other.
func stack(s int, b mat.Matrix) *mat.Dense {
	var out mat.Dense
	out.Kronecker(mat.NewDense(s, 1, ones(s)), b)
	return &out
}

// stageMatrix returns I_s ⊗ m − h·A ⊗ j, the matrix of the stage equations of a linear block.
func stageMatrix(a mat.Matrix, m, j mat.Matrix, h float64) *mat.Dense {
	s, _ := a.Dims()
	var left, right mat.Dense
	left.Kronecker(DenseIdentity(s), m)
	right.Kronecker(a, j)
	right.Scale(h, &right)
	left.Sub(&left, &right)
	return &left
}

// invert returns the inverse of a square constant matrix.
func invert(a *mat.Dense) (*mat.Dense, error) {
	n, c := a.Dims()
	if n != c {
		return nil, fmt.Errorf("%w: inverting a %dx%d matrix", ErrConfiguration, n, c)
	}
	var inv mat.Dense
	if err := inv.Inverse(a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNumerical, err)
	}
	return &inv, nil
}

// rowMajor returns the elements of a in row-major order.
func rowMajor(a mat.Matrix) []float64 {
	r, c := a.Dims()
	out := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out = append(out, a.At(i, j))
		}
	}
	return out
}

func ones(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1
	}
	return out
}
