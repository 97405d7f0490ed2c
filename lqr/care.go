package lqr

import (
	"fmt"

	"github.com/milosgajdos/go-feedback/matrix"
	"gonum.org/v1/gonum/mat"
)

// care solves the continuous-time algebraic Riccati equation
//
//	Aᵗ·S + S·A - S·B·Qu⁻¹·Bᵗ·S + Qx = 0
//
// for the stabilizing solution S via the eigendecomposition of the
// associated Hamiltonian matrix
//
//	H = | A   -B·Qu⁻¹·Bᵗ |
//	    | -Qx     -Aᵗ    |
//
// The stable invariant subspace of H is spanned by the eigenvectors with
// eigenvalues in the open left half plane; with the subspace basis stacked
// as [X1; X2] the solution is S = X2·X1⁻¹. Complex conjugate eigenvector
// pairs contribute their real and imaginary parts as two real basis columns.
// It returns error if Qu is singular or if H does not have an n-dimensional
// stable subspace, which happens iff (A, B) is not stabilizable.
func care(A, B mat.Matrix, Qx, Qu mat.Symmetric) (*mat.SymDense, error) {
	n, _ := A.Dims()
	_, m := B.Dims()

	quInv := mat.NewDense(m, m, nil)
	if err := quInv.Inverse(Qu); err != nil {
		return nil, fmt.Errorf("singular input weight matrix: %v", err)
	}

	// R = B·Qu⁻¹·Bᵗ
	bq := new(mat.Dense)
	bq.Mul(B, quInv)
	r := new(mat.Dense)
	r.Mul(bq, B.T())

	h := mat.NewDense(2*n, 2*n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			h.Set(i, j, A.At(i, j))
			h.Set(i, n+j, -r.At(i, j))
			h.Set(n+i, j, -Qx.At(i, j))
			h.Set(n+i, n+j, -A.At(j, i))
		}
	}

	var eig mat.Eigen
	if ok := eig.Factorize(h, mat.EigenRight); !ok {
		return nil, fmt.Errorf("Hamiltonian eigendecomposition failed")
	}
	vals := eig.Values(nil)
	vecs := mat.NewCDense(2*n, 2*n, nil)
	eig.VectorsTo(vecs)

	// real basis of the stable invariant subspace
	var cols [][]float64
	for i := 0; i < 2*n; i++ {
		re, im := real(vals[i]), imag(vals[i])
		if re >= 0 || im < 0 {
			// unstable, or the conjugate of a pair already taken
			continue
		}

		col := make([]float64, 2*n)
		for j := 0; j < 2*n; j++ {
			col[j] = real(vecs.At(j, i))
		}
		cols = append(cols, col)

		if im > 0 {
			col := make([]float64, 2*n)
			for j := 0; j < 2*n; j++ {
				col[j] = imag(vecs.At(j, i))
			}
			cols = append(cols, col)
		}
	}

	if len(cols) != n {
		return nil, fmt.Errorf("no stabilizing solution: stable subspace dimension %d, need %d", len(cols), n)
	}

	x1 := mat.NewDense(n, n, nil)
	x2 := mat.NewDense(n, n, nil)
	for j, col := range cols {
		for i := 0; i < n; i++ {
			x1.Set(i, j, col[i])
			x2.Set(i, j, col[n+i])
		}
	}

	// S = X2·X1⁻¹ i.e. X1ᵗ·Sᵗ = X2ᵗ
	var st mat.Dense
	if err := st.Solve(x1.T(), x2.T()); err != nil {
		return nil, fmt.Errorf("no stabilizing solution: singular subspace basis: %v", err)
	}

	// the exact solution is symmetric; average out the solve residual
	return matrix.ToSym(st.T()), nil
}
