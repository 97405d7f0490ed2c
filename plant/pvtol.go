package plant

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// PVTOL is a planar vertical takeoff and landing aircraft: a rigid body
// moving in a vertical plane, actuated by a body-frame lateral force F1
// (offset from the center of mass, so it also produces a torque) and a
// body-frame thrust F2. Its six states are position (x, y), attitude theta
// and their velocities; the measured outputs are x, y and theta.
type PVTOL struct {
	// Mass is vehicle mass
	Mass float64
	// Inertia is the moment of inertia about the center of mass
	Inertia float64
	// Arm is the moment arm of the lateral force
	Arm float64
	// Damping is the aerodynamic translational damping coefficient
	Damping float64
	// Gravity is gravitational acceleration
	Gravity float64
}

// NewPVTOL creates a new PVTOL model and returns it.
// It returns error if mass or inertia are not positive.
func NewPVTOL(mass, inertia, arm, damping, gravity float64) (*PVTOL, error) {
	if mass <= 0 || inertia <= 0 {
		return nil, fmt.Errorf("invalid PVTOL parameters: mass %v, inertia %v", mass, inertia)
	}

	return &PVTOL{
		Mass:    mass,
		Inertia: inertia,
		Arm:     arm,
		Damping: damping,
		Gravity: gravity,
	}, nil
}

// Dims returns PVTOL state, input and output dimensions.
func (p *PVTOL) Dims() (nx, nu, ny int) {
	return 6, 2, 3
}

// StateNames returns PVTOL state labels.
func (p *PVTOL) StateNames() []string {
	return []string{"x", "y", "theta", "xdot", "ydot", "thetadot"}
}

// InputNames returns PVTOL input labels.
func (p *PVTOL) InputNames() []string {
	return []string{"F1", "F2"}
}

// OutputNames returns PVTOL output labels.
func (p *PVTOL) OutputNames() []string {
	return []string{"x", "y", "theta"}
}

// Dynamics returns the PVTOL state derivative at (x, u):
//
//	m x'' = F1 cos(th) - F2 sin(th) - c x'
//	m y'' = F1 sin(th) + F2 cos(th) - m g - c y'
//	J th'' = r F1
func (p *PVTOL) Dynamics(t float64, x, u mat.Vector) (mat.Vector, error) {
	if x.Len() != 6 {
		return nil, fmt.Errorf("invalid state vector length: %d", x.Len())
	}
	if u.Len() != 2 {
		return nil, fmt.Errorf("invalid input vector length: %d", u.Len())
	}

	th := x.AtVec(2)
	f1, f2 := u.AtVec(0), u.AtVec(1)
	sin, cos := math.Sincos(th)

	xdot := mat.NewVecDense(6, nil)
	xdot.SetVec(0, x.AtVec(3))
	xdot.SetVec(1, x.AtVec(4))
	xdot.SetVec(2, x.AtVec(5))
	xdot.SetVec(3, (f1*cos-f2*sin-p.Damping*x.AtVec(3))/p.Mass)
	xdot.SetVec(4, (f1*sin+f2*cos-p.Damping*x.AtVec(4))/p.Mass-p.Gravity)
	xdot.SetVec(5, p.Arm*f1/p.Inertia)

	return xdot, nil
}

// Output returns the measured PVTOL outputs (x, y, theta).
func (p *PVTOL) Output(x mat.Vector) (mat.Vector, error) {
	if x.Len() != 6 {
		return nil, fmt.Errorf("invalid state vector length: %d", x.Len())
	}

	y := mat.NewVecDense(3, nil)
	y.SetVec(0, x.AtVec(0))
	y.SetVec(1, x.AtVec(1))
	y.SetVec(2, x.AtVec(2))

	return y, nil
}

// Jacobian returns the analytic state Jacobian of the PVTOL dynamics
// evaluated at an arbitrary point (x, u).
func (p *PVTOL) Jacobian(x, u mat.Vector) (*mat.Dense, error) {
	if x.Len() != 6 {
		return nil, fmt.Errorf("invalid state vector length: %d", x.Len())
	}
	if u.Len() != 2 {
		return nil, fmt.Errorf("invalid input vector length: %d", u.Len())
	}

	th := x.AtVec(2)
	f1, f2 := u.AtVec(0), u.AtVec(1)
	sin, cos := math.Sincos(th)

	jac := mat.NewDense(6, 6, nil)
	jac.Set(0, 3, 1)
	jac.Set(1, 4, 1)
	jac.Set(2, 5, 1)
	jac.Set(3, 2, (-f1*sin-f2*cos)/p.Mass)
	jac.Set(3, 3, -p.Damping/p.Mass)
	jac.Set(4, 2, (f1*cos-f2*sin)/p.Mass)
	jac.Set(4, 4, -p.Damping/p.Mass)

	return jac, nil
}

// DisturbanceMap returns the map from the two body force disturbances to
// the state derivative: unit forces entering the translational dynamics.
func (p *PVTOL) DisturbanceMap() *mat.Dense {
	f := mat.NewDense(6, 2, nil)
	f.Set(3, 0, 1.0/p.Mass)
	f.Set(4, 1, 1.0/p.Mass)

	return f
}
