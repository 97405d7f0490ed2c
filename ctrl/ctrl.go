// Package ctrl provides stateless control blocks for interconnection:
// LQR-style state feedback around an equilibrium and constant sources.
package ctrl

import (
	"fmt"

	feedback "github.com/milosgajdos/go-feedback"
	"gonum.org/v1/gonum/mat"
)

// Option configures a StateFeedback block.
type Option func(*StateFeedback)

// WithEstimateInput renames the estimate input port. The default name is
// "xhat"; a full state feedback loop wires the true plant state instead by
// renaming the port to the plant state signal.
func WithEstimateInput(name string) Option {
	return func(c *StateFeedback) {
		c.estSignal = name
	}
}

// StateFeedback is a stateless state feedback block computing
//
//	u = ue - K·(x̂ - xe)
//
// from the gain K and the equilibrium signals (xe, ue). It has no internal
// state and no failure modes beyond dimension mismatch.
//
// Ports: inputs "xe", "ue" and "xhat" (renamable); output "u".
type StateFeedback struct {
	k         *mat.Dense
	estSignal string
	nx        int
	nu        int
}

// New creates a new state feedback block with gain K and returns it.
// It returns error if K is nil or empty.
func New(K *mat.Dense, opts ...Option) (*StateFeedback, error) {
	if K == nil {
		return nil, fmt.Errorf("invalid gain matrix: %v", K)
	}
	nu, nx := K.Dims()
	if nu <= 0 || nx <= 0 {
		return nil, fmt.Errorf("invalid gain matrix dimensions: [%d x %d]", nu, nx)
	}

	c := &StateFeedback{
		k:         mat.DenseCopyOf(K),
		estSignal: "xhat",
		nx:        nx,
		nu:        nu,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// StateDim returns 0: state feedback is stateless.
func (c *StateFeedback) StateDim() int {
	return 0
}

// Inputs returns the feedback block input ports.
func (c *StateFeedback) Inputs() []feedback.Port {
	return []feedback.Port{
		{Name: "xe", Size: c.nx},
		{Name: "ue", Size: c.nu},
		{Name: c.estSignal, Size: c.nx},
	}
}

// Outputs returns the feedback block output ports.
func (c *StateFeedback) Outputs() []feedback.Port {
	return []feedback.Port{{Name: "u", Size: c.nu}}
}

// Derivative returns a nil derivative: the block has no state.
func (c *StateFeedback) Derivative(t float64, x, in mat.Vector) (mat.Vector, error) {
	return nil, nil
}

// Output computes the feedback law from the resolved inputs.
func (c *StateFeedback) Output(t float64, x, in mat.Vector) (mat.Vector, error) {
	if in == nil || in.Len() != 2*c.nx+c.nu {
		return nil, fmt.Errorf("invalid input vector: %v", in)
	}

	dev := mat.NewVecDense(c.nx, nil)
	for i := 0; i < c.nx; i++ {
		// x̂ - xe
		dev.SetVec(i, in.AtVec(c.nx+c.nu+i)-in.AtVec(i))
	}

	kdev := mat.NewVecDense(c.nu, nil)
	kdev.MulVec(c.k, dev)

	u := mat.NewVecDense(c.nu, nil)
	for i := 0; i < c.nu; i++ {
		u.SetVec(i, in.AtVec(c.nx+i)-kdev.AtVec(i))
	}

	return u, nil
}

// Constant is a stateless source block emitting a fixed signal.
type Constant struct {
	name string
	val  *mat.VecDense
}

// NewConstant creates a constant source for signal name and returns it.
// It returns error if val is nil or empty.
func NewConstant(name string, val mat.Vector) (*Constant, error) {
	if val == nil || val.Len() == 0 {
		return nil, fmt.Errorf("invalid constant value: %v", val)
	}

	return &Constant{
		name: name,
		val:  mat.VecDenseCopyOf(val),
	}, nil
}

// StateDim returns 0: sources are stateless.
func (c *Constant) StateDim() int {
	return 0
}

// Inputs returns no ports: sources have no inputs.
func (c *Constant) Inputs() []feedback.Port {
	return nil
}

// Outputs returns the source output port.
func (c *Constant) Outputs() []feedback.Port {
	return []feedback.Port{{Name: c.name, Size: c.val.Len()}}
}

// Derivative returns a nil derivative: the block has no state.
func (c *Constant) Derivative(t float64, x, in mat.Vector) (mat.Vector, error) {
	return nil, nil
}

// Output returns the constant value.
func (c *Constant) Output(t float64, x, in mat.Vector) (mat.Vector, error) {
	return mat.VecDenseCopyOf(c.val), nil
}
