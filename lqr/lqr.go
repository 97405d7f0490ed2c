// Package lqr synthesizes Linear-Quadratic Regulator state feedback gains
// from a plant linearization and quadratic design weights.
package lqr

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Regulator is an LQR design: the stabilizing Riccati solution together
// with the optimal feedback gain. It is immutable once computed.
type Regulator struct {
	// k is the optimal feedback gain
	k *mat.Dense
	// s is the stabilizing Riccati solution
	s *mat.SymDense
}

// New designs an LQR for the linearized dynamics (A, B) with state weight
// Qx (positive semi-definite) and input weight Qu (positive definite).
// It solves the continuous-time algebraic Riccati equation for the
// stabilizing solution S and returns the regulator with gain
//
//	K = Qu⁻¹·Bᵗ·S
//
// For (A, B) stabilizable, the closed loop matrix A - B·K has every
// eigenvalue in the open left half plane; this is verified and an error
// is returned if the check fails.
func New(A, B mat.Matrix, Qx, Qu mat.Symmetric) (*Regulator, error) {
	ar, ac := A.Dims()
	br, bc := B.Dims()
	if ar != ac {
		return nil, fmt.Errorf("invalid system matrix dimensions: [%d x %d]", ar, ac)
	}
	if br != ar {
		return nil, fmt.Errorf("invalid control matrix dimensions: [%d x %d]", br, bc)
	}
	if Qx.SymmetricDim() != ar {
		return nil, fmt.Errorf("invalid state weight dimension: %d", Qx.SymmetricDim())
	}
	if Qu.SymmetricDim() != bc {
		return nil, fmt.Errorf("invalid input weight dimension: %d", Qu.SymmetricDim())
	}

	s, err := care(A, B, Qx, Qu)
	if err != nil {
		return nil, err
	}

	quInv := mat.NewDense(bc, bc, nil)
	if err := quInv.Inverse(Qu); err != nil {
		return nil, fmt.Errorf("singular input weight matrix: %v", err)
	}

	// K = Qu⁻¹·Bᵗ·S
	bs := new(mat.Dense)
	bs.Mul(B.T(), s)
	k := new(mat.Dense)
	k.Mul(quInv, bs)

	// closed loop must be strictly stable
	bk := new(mat.Dense)
	bk.Mul(B, k)
	acl := mat.DenseCopyOf(A)
	acl.Sub(acl, bk)

	var eig mat.Eigen
	if ok := eig.Factorize(acl, mat.EigenNone); !ok {
		return nil, fmt.Errorf("closed loop eigendecomposition failed")
	}
	for _, v := range eig.Values(nil) {
		if real(v) >= 0 {
			return nil, fmt.Errorf("no stabilizing solution: closed loop eigenvalue %v", v)
		}
	}

	return &Regulator{k: k, s: s}, nil
}

// Gain returns the optimal feedback gain K.
func (r *Regulator) Gain() *mat.Dense {
	k := new(mat.Dense)
	k.CloneFrom(r.k)

	return k
}

// Solution returns the stabilizing Riccati solution S.
func (r *Regulator) Solution() *mat.SymDense {
	s := mat.NewSymDense(r.s.SymmetricDim(), nil)
	s.CopySym(r.s)

	return s
}
