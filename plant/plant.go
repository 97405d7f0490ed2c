package plant

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
)

// Model is a nonlinear plant model.
//
// The model owns its state, input and output dimensions together with their
// labels and exposes its dynamics, output map and state Jacobian. The state
// Jacobian must be valid at an arbitrary point, not just at an equilibrium:
// estimators linearize the model along the estimated trajectory.
type Model interface {
	// Dims returns state, input and output dimensions of the model
	Dims() (nx, nu, ny int)
	// StateNames returns state labels
	StateNames() []string
	// InputNames returns input labels
	InputNames() []string
	// OutputNames returns output labels
	OutputNames() []string
	// Dynamics returns the state derivative at time t
	Dynamics(t float64, x, u mat.Vector) (mat.Vector, error)
	// Output returns the model output for state x
	Output(x mat.Vector) (mat.Vector, error)
	// Jacobian returns the state Jacobian of the dynamics at (x, u)
	Jacobian(x, u mat.Vector) (*mat.Dense, error)
}

// LinearModel is a linearization of a Model at an equilibrium point.
// It is immutable once computed.
type LinearModel struct {
	// A is the state Jacobian of the dynamics
	A *mat.Dense
	// B is the input Jacobian of the dynamics
	B *mat.Dense
	// C is the state Jacobian of the output map
	C *mat.Dense
	// Xe is the equilibrium state
	Xe *mat.VecDense
	// Ue is the equilibrium input
	Ue *mat.VecDense
}

// TrimSpec configures an equilibrium solve.
type TrimSpec struct {
	// X0 is the initial state guess
	X0 []float64
	// U0 is the initial input guess
	U0 []float64
	// Y0 are target outputs; if nil the output map is unconstrained
	Y0 []float64
	// FixedStates are state indices pinned to their X0 values
	FixedStates []int
	// FixedInputs are input indices pinned to their U0 values
	FixedInputs []int
	// Tol is the residual norm tolerance; defaults to 1e-10
	Tol float64
	// MaxIter caps the Newton iterations; defaults to 100
	MaxIter int
}

// Trim finds an equilibrium point (xe, ue) of m such that
// Dynamics(0, xe, ue) = 0 and, if target outputs are given, Output(xe) = y0.
// The free states and inputs are adjusted by a damped Newton iteration with
// a finite difference Jacobian; fixed indices keep their guessed values.
// It returns error if the iteration does not converge to the requested
// tolerance: no equilibrium found.
func Trim(m Model, spec TrimSpec) (xe, ue *mat.VecDense, err error) {
	nx, nu, ny := m.Dims()
	if len(spec.X0) != nx || len(spec.U0) != nu {
		return nil, nil, fmt.Errorf("invalid trim guess dimensions: [%d, %d]", len(spec.X0), len(spec.U0))
	}
	if spec.Y0 != nil && len(spec.Y0) != ny {
		return nil, nil, fmt.Errorf("invalid trim target dimension: %d", len(spec.Y0))
	}

	tol := spec.Tol
	if tol == 0 {
		tol = 1e-10
	}
	maxIter := spec.MaxIter
	if maxIter == 0 {
		maxIter = 100
	}

	fixedX := indexSet(spec.FixedStates)
	fixedU := indexSet(spec.FixedInputs)

	// free decision variables: non-fixed states followed by non-fixed inputs
	var freeX, freeU []int
	for i := 0; i < nx; i++ {
		if !fixedX[i] {
			freeX = append(freeX, i)
		}
	}
	for i := 0; i < nu; i++ {
		if !fixedU[i] {
			freeU = append(freeU, i)
		}
	}

	x := make([]float64, nx)
	u := make([]float64, nu)
	copy(x, spec.X0)
	copy(u, spec.U0)

	nr := nx
	if spec.Y0 != nil {
		nr += ny
	}

	residual := func(r, z []float64) {
		for i, ix := range freeX {
			x[ix] = z[i]
		}
		for i, iu := range freeU {
			u[iu] = z[len(freeX)+i]
		}

		xv := mat.NewVecDense(nx, x)
		uv := mat.NewVecDense(nu, u)

		xdot, derr := m.Dynamics(0, xv, uv)
		if derr != nil {
			panic(derr)
		}
		for i := 0; i < nx; i++ {
			r[i] = xdot.AtVec(i)
		}

		if spec.Y0 != nil {
			y, oerr := m.Output(xv)
			if oerr != nil {
				panic(oerr)
			}
			for i := 0; i < ny; i++ {
				r[nx+i] = y.AtVec(i) - spec.Y0[i]
			}
		}
	}

	z := make([]float64, len(freeX)+len(freeU))
	for i, ix := range freeX {
		z[i] = spec.X0[ix]
	}
	for i, iu := range freeU {
		z[len(freeX)+i] = spec.U0[iu]
	}

	r := make([]float64, nr)
	jac := mat.NewDense(nr, len(z), nil)

	for iter := 0; iter < maxIter; iter++ {
		residual(r, z)
		if norm(r) < tol {
			for i, ix := range freeX {
				x[ix] = z[i]
			}
			for i, iu := range freeU {
				u[iu] = z[len(freeX)+i]
			}
			return mat.NewVecDense(nx, x), mat.NewVecDense(nu, u), nil
		}

		fd.Jacobian(jac, residual, z, &fd.JacobianSettings{
			Formula: fd.Central,
		})

		// solve J*dz = -r in the least squares sense
		rhs := mat.NewVecDense(nr, nil)
		for i := 0; i < nr; i++ {
			rhs.SetVec(i, -r[i])
		}
		var dz mat.VecDense
		if serr := dz.SolveVec(jac, rhs); serr != nil {
			return nil, nil, fmt.Errorf("no equilibrium found: singular trim Jacobian: %v", serr)
		}
		for i := range z {
			z[i] += dz.AtVec(i)
		}
	}

	residual(r, z)
	return nil, nil, fmt.Errorf("no equilibrium found: residual %.6g after %d iterations", norm(r), maxIter)
}

// Linearize computes the linearization (A, B, C) of m at the point (xe, ue).
// A comes from the model Jacobian; B and C are computed by central finite
// differences of the dynamics and the output map respectively.
func Linearize(m Model, xe, ue mat.Vector) (*LinearModel, error) {
	nx, nu, ny := m.Dims()
	if xe.Len() != nx || ue.Len() != nu {
		return nil, fmt.Errorf("invalid linearization point dimensions: [%d, %d]", xe.Len(), ue.Len())
	}

	A, err := m.Jacobian(xe, ue)
	if err != nil {
		return nil, fmt.Errorf("failed to compute state Jacobian: %v", err)
	}

	// input Jacobian of the dynamics at fixed xe
	B := mat.NewDense(nx, nu, nil)
	fd.Jacobian(B, func(xdot, u []float64) {
		out, derr := m.Dynamics(0, xe, mat.NewVecDense(nu, u))
		if derr != nil {
			panic(derr)
		}
		for i := range xdot {
			xdot[i] = out.AtVec(i)
		}
	}, vecData(ue), &fd.JacobianSettings{Formula: fd.Central})

	// state Jacobian of the output map at xe
	C := mat.NewDense(ny, nx, nil)
	fd.Jacobian(C, func(y, x []float64) {
		out, oerr := m.Output(mat.NewVecDense(nx, x))
		if oerr != nil {
			panic(oerr)
		}
		for i := range y {
			y[i] = out.AtVec(i)
		}
	}, vecData(xe), &fd.JacobianSettings{Formula: fd.Central})

	return &LinearModel{
		A:  A,
		B:  B,
		C:  C,
		Xe: mat.VecDenseCopyOf(xe),
		Ue: mat.VecDenseCopyOf(ue),
	}, nil
}

func indexSet(idx []int) map[int]bool {
	set := make(map[int]bool, len(idx))
	for _, i := range idx {
		set[i] = true
	}

	return set
}

func norm(v []float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}

	return math.Sqrt(sum)
}

func vecData(v mat.Vector) []float64 {
	data := make([]float64, v.Len())
	for i := range data {
		data[i] = v.AtVec(i)
	}

	return data
}
