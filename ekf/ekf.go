// Package ekf implements a continuous-time Extended Kalman Filter, also
// known as the extended Kalman-Bucy filter. The filter propagates the state
// estimate and its error covariance jointly as one augmented ODE, so it
// plugs into an interconnection as a regular dynamical block.
package ekf

import (
	"fmt"

	gomatrix "github.com/milosgajdos/matrix"

	feedback "github.com/milosgajdos/go-feedback"
	"github.com/milosgajdos/go-feedback/matrix"
	"github.com/milosgajdos/go-feedback/plant"
	"gonum.org/v1/gonum/mat"
)

// Config configures an EKF.
type Config struct {
	// Model is the plant model whose state is estimated. Its Jacobian is
	// evaluated at the current estimate on every derivative call.
	Model plant.Model
	// C is the output map: y = C·x
	C *mat.Dense
	// F is the disturbance-to-state map
	F *mat.Dense
	// Qv is the process disturbance intensity
	Qv mat.Symmetric
	// Qw is the sensor noise intensity; it must be invertible
	Qw mat.Symmetric
}

// EKF is a continuous-time extended Kalman filter block.
//
// Its augmented state is the estimate x̂ followed by the row-major
// flattening of the error covariance P. The derivative implements the
// Kalman-Bucy update law with the plant linearized at the current estimate:
//
//	L  = P·Cᵗ·Qw⁻¹
//	x̂' = f(x̂, u) - L·(C·x̂ - y)
//	P' = A·P + P·Aᵗ - P·Cᵗ·Qw⁻¹·C·P + F·Qv·Fᵗ
//
// Note the observer gain uses Qw⁻¹ directly rather than the discrete-time
// (C·P·Cᵗ + Qw)⁻¹: that is the continuous-time form and must not be
// "corrected" to the discrete one.
//
// Ports: inputs "y" (the measured plant output) and "u" (the control
// actually applied, not the commanded reference); output "xhat".
type EKF struct {
	m     plant.Model
	c     *mat.Dense
	qwInv *mat.Dense
	fqf   *mat.Dense
	nx    int
	nu    int
	ny    int
}

// New creates a new EKF and returns it.
// It returns error if any dimension is inconsistent with the model or if
// Qw is singular. Qw invertibility is checked here, once, and its inverse
// is fixed for the lifetime of the block.
func New(cfg Config) (*EKF, error) {
	if cfg.Model == nil {
		return nil, fmt.Errorf("invalid model: %v", cfg.Model)
	}
	nx, nu, _ := cfg.Model.Dims()
	if nx <= 0 {
		return nil, fmt.Errorf("invalid model dimensions: %d", nx)
	}

	if cfg.C == nil {
		return nil, fmt.Errorf("invalid output map: %v", cfg.C)
	}
	ny, cc := cfg.C.Dims()
	if cc != nx {
		return nil, fmt.Errorf("invalid output map dimensions: [%d x %d]", ny, cc)
	}

	if cfg.Qw == nil || cfg.Qw.SymmetricDim() != ny {
		return nil, fmt.Errorf("invalid sensor noise covariance")
	}
	qwInv := mat.NewDense(ny, ny, nil)
	if err := qwInv.Inverse(cfg.Qw); err != nil {
		return nil, fmt.Errorf("singular sensor noise covariance: %v", err)
	}

	if cfg.F == nil {
		return nil, fmt.Errorf("invalid disturbance map: %v", cfg.F)
	}
	fr, fc := cfg.F.Dims()
	if fr != nx {
		return nil, fmt.Errorf("invalid disturbance map dimensions: [%d x %d]", fr, fc)
	}
	if cfg.Qv == nil || cfg.Qv.SymmetricDim() != fc {
		return nil, fmt.Errorf("invalid process noise covariance")
	}

	// F·Qv·Fᵗ is constant: precompute it
	fq := new(mat.Dense)
	fq.Mul(cfg.F, cfg.Qv)
	fqf := new(mat.Dense)
	fqf.Mul(fq, cfg.F.T())

	return &EKF{
		m:     cfg.Model,
		c:     mat.DenseCopyOf(cfg.C),
		qwInv: qwInv,
		fqf:   fqf,
		nx:    nx,
		nu:    nu,
		ny:    ny,
	}, nil
}

// StateDim returns the augmented state dimension n + n².
func (k *EKF) StateDim() int {
	return k.nx + k.nx*k.nx
}

// Inputs returns the EKF input ports.
func (k *EKF) Inputs() []feedback.Port {
	return []feedback.Port{
		{Name: "y", Size: k.ny},
		{Name: "u", Size: k.nu},
	}
}

// Outputs returns the EKF output ports.
func (k *EKF) Outputs() []feedback.Port {
	return []feedback.Port{{Name: "xhat", Size: k.nx}}
}

// Derivative returns the augmented state derivative [x̂'; vec(P')].
func (k *EKF) Derivative(t float64, aug, in mat.Vector) (mat.Vector, error) {
	xhat, p, err := k.SplitState(aug)
	if err != nil {
		return nil, err
	}
	if in.Len() != k.ny+k.nu {
		return nil, fmt.Errorf("invalid input vector length: %d", in.Len())
	}

	y := mat.NewVecDense(k.ny, nil)
	for i := 0; i < k.ny; i++ {
		y.SetVec(i, in.AtVec(i))
	}
	u := mat.NewVecDense(k.nu, nil)
	for i := 0; i < k.nu; i++ {
		u.SetVec(i, in.AtVec(k.ny+i))
	}

	a, err := k.m.Jacobian(xhat, u)
	if err != nil {
		return nil, fmt.Errorf("failed to linearize at estimate: %v", err)
	}

	// L = P·Cᵗ·Qw⁻¹
	pct := new(mat.Dense)
	pct.Mul(p, k.c.T())
	l := new(mat.Dense)
	l.Mul(pct, k.qwInv)

	// x̂' = f(x̂, u) - L·(C·x̂ - y)
	innov := mat.NewVecDense(k.ny, nil)
	innov.MulVec(k.c, xhat)
	innov.SubVec(innov, y)

	xhatdot, err := k.m.Dynamics(t, xhat, u)
	if err != nil {
		return nil, fmt.Errorf("failed to propagate estimate: %v", err)
	}
	corr := mat.NewVecDense(k.nx, nil)
	corr.MulVec(l, innov)

	// P' = A·P + P·Aᵗ - L·C·P + F·Qv·Fᵗ
	ap := new(mat.Dense)
	ap.Mul(a, p)
	pat := new(mat.Dense)
	pat.Mul(p, a.T())
	cp := new(mat.Dense)
	cp.Mul(k.c, p)
	lcp := new(mat.Dense)
	lcp.Mul(l, cp)

	pdot := new(mat.Dense)
	pdot.Add(ap, pat)
	pdot.Sub(pdot, lcp)
	pdot.Add(pdot, k.fqf)

	out := mat.NewVecDense(k.StateDim(), nil)
	for i := 0; i < k.nx; i++ {
		out.SetVec(i, xhatdot.AtVec(i)-corr.AtVec(i))
	}
	data := matrix.Flatten(make([]float64, 0, k.nx*k.nx), pdot)
	for i, v := range data {
		out.SetVec(k.nx+i, v)
	}

	return out, nil
}

// Output returns the state estimate x̂. The covariance stays internal.
func (k *EKF) Output(t float64, aug, in mat.Vector) (mat.Vector, error) {
	if aug.Len() != k.StateDim() {
		return nil, fmt.Errorf("invalid augmented state length: %d", aug.Len())
	}

	out := mat.NewVecDense(k.nx, nil)
	for i := 0; i < k.nx; i++ {
		out.SetVec(i, aug.AtVec(i))
	}

	return out, nil
}

// NewState builds the augmented initial state from the initial estimate
// and initial covariance. A nil covariance defaults to identity.
func (k *EKF) NewState(xhat0 mat.Vector, p0 mat.Matrix) (*mat.VecDense, error) {
	if xhat0 == nil || xhat0.Len() != k.nx {
		return nil, fmt.Errorf("invalid initial estimate: %v", xhat0)
	}

	if p0 == nil {
		eye, err := gomatrix.NewDenseValIdentity(k.nx, 1.0)
		if err != nil {
			return nil, err
		}
		p0 = eye
	}
	pr, pc := p0.Dims()
	if pr != k.nx || pc != k.nx {
		return nil, fmt.Errorf("invalid initial covariance dimensions: [%d x %d]", pr, pc)
	}

	aug := mat.NewVecDense(k.StateDim(), nil)
	for i := 0; i < k.nx; i++ {
		aug.SetVec(i, xhat0.AtVec(i))
	}
	data := matrix.Flatten(make([]float64, 0, k.nx*k.nx), p0)
	for i, v := range data {
		aug.SetVec(k.nx+i, v)
	}

	return aug, nil
}

// SplitState unpacks an augmented state vector into the estimate and the
// covariance. The covariance is re-symmetrized on unpack: the Riccati ODE
// does not enforce symmetry and numerical integration may drift off it.
// Use SymmetryError to observe the drift before it is averaged out.
func (k *EKF) SplitState(aug mat.Vector) (*mat.VecDense, *mat.Dense, error) {
	if aug == nil || aug.Len() != k.StateDim() {
		return nil, nil, fmt.Errorf("invalid augmented state length: %v", aug)
	}

	xhat := mat.NewVecDense(k.nx, nil)
	for i := 0; i < k.nx; i++ {
		xhat.SetVec(i, aug.AtVec(i))
	}

	data := make([]float64, k.nx*k.nx)
	for i := range data {
		data[i] = aug.AtVec(k.nx + i)
	}
	p := matrix.Unflatten(k.nx, k.nx, data)
	matrix.Symmetrize(p)

	return xhat, p, nil
}

// SymmetryError returns the covariance symmetry drift ‖P - Pᵗ‖ of the
// given augmented state, a diagnostic for numerical integration quality.
func (k *EKF) SymmetryError(aug mat.Vector) (float64, error) {
	if aug == nil || aug.Len() != k.StateDim() {
		return 0, fmt.Errorf("invalid augmented state length: %v", aug)
	}

	data := make([]float64, k.nx*k.nx)
	for i := range data {
		data[i] = aug.AtVec(k.nx + i)
	}

	return matrix.SymmetryError(matrix.Unflatten(k.nx, k.nx, data)), nil
}
