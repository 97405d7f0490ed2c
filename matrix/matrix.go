package matrix

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Flatten appends the elements of m to dst in row-major order and
// returns the resulting slice. If dst is nil a new slice is allocated.
// It panics if m is nil.
func Flatten(dst []float64, m mat.Matrix) []float64 {
	rows, cols := m.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			dst = append(dst, m.At(i, j))
		}
	}

	return dst
}

// Unflatten reads rows*cols elements of data in row-major order into a
// new dense matrix and returns it.
// It panics if data is shorter than rows*cols.
func Unflatten(rows, cols int, data []float64) *mat.Dense {
	out := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out.Set(i, j, data[i*cols+j])
		}
	}

	return out
}

// Symmetrize overwrites square matrix m with (m + mᵀ)/2.
// It panics if m is not square.
func Symmetrize(m *mat.Dense) {
	rows, cols := m.Dims()
	if rows != cols {
		panic("matrix: symmetrize of non-square matrix")
	}

	for i := 0; i < rows; i++ {
		for j := i + 1; j < cols; j++ {
			v := (m.At(i, j) + m.At(j, i)) / 2.0
			m.Set(i, j, v)
			m.Set(j, i, v)
		}
	}
}

// SymmetryError returns the largest absolute difference between m and
// its transpose. It panics if m is not square.
func SymmetryError(m mat.Matrix) float64 {
	rows, cols := m.Dims()
	if rows != cols {
		panic("matrix: symmetry check of non-square matrix")
	}

	var max float64
	for i := 0; i < rows; i++ {
		for j := i + 1; j < cols; j++ {
			if d := math.Abs(m.At(i, j) - m.At(j, i)); d > max {
				max = d
			}
		}
	}

	return max
}

// ToSym copies square matrix m into a new symmetric matrix, averaging
// the off-diagonal pairs. It panics if m is not square.
func ToSym(m mat.Matrix) *mat.SymDense {
	rows, cols := m.Dims()
	if rows != cols {
		panic("matrix: conversion of non-square matrix")
	}

	s := mat.NewSymDense(rows, nil)
	for i := 0; i < rows; i++ {
		for j := i; j < cols; j++ {
			s.SetSym(i, j, (m.At(i, j)+m.At(j, i))/2.0)
		}
	}

	return s
}
