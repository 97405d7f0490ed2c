package plant

import (
	"fmt"

	feedback "github.com/milosgajdos/go-feedback"
	"gonum.org/v1/gonum/mat"
)

// Block wraps a Model as a feedback.Block so it can be interconnected
// with controllers and estimators. Besides the control input u the block
// exposes a disturbance input v routed into the state derivative through
// the disturbance map F, so process noise enters as a plain input signal.
//
// Ports: inputs "u" (and "v" when F is given), outputs "y0" (the noise
// free measurement) and "x" (the full state).
type Block struct {
	m  Model
	f  *mat.Dense
	nx int
	nu int
	ny int
	nd int
}

// NewBlock creates a new plant block from m. F is the disturbance to state
// map; it may be nil in which case the block has no disturbance input.
// It returns error if F dimensions do not match the model state dimension.
func NewBlock(m Model, F *mat.Dense) (*Block, error) {
	nx, nu, ny := m.Dims()
	if nx <= 0 || nu <= 0 {
		return nil, fmt.Errorf("invalid model dimensions: [%d x %d]", nx, nu)
	}

	nd := 0
	if F != nil {
		fr, fc := F.Dims()
		if fr != nx {
			return nil, fmt.Errorf("invalid disturbance map dimensions: [%d x %d]", fr, fc)
		}
		nd = fc
	}

	return &Block{m: m, f: F, nx: nx, nu: nu, ny: ny, nd: nd}, nil
}

// Model returns the wrapped plant model.
func (b *Block) Model() Model {
	return b.m
}

// StateDim returns the plant state dimension.
func (b *Block) StateDim() int {
	return b.nx
}

// Inputs returns the plant block input ports.
func (b *Block) Inputs() []feedback.Port {
	in := []feedback.Port{{Name: "u", Size: b.nu}}
	if b.nd > 0 {
		in = append(in, feedback.Port{Name: "v", Size: b.nd})
	}

	return in
}

// Outputs returns the plant block output ports.
func (b *Block) Outputs() []feedback.Port {
	return []feedback.Port{
		{Name: "y0", Size: b.ny},
		{Name: "x", Size: b.nx},
	}
}

// Derivative returns the plant state derivative given the resolved block
// inputs: the control vector followed by the disturbance vector.
func (b *Block) Derivative(t float64, x, in mat.Vector) (mat.Vector, error) {
	if in.Len() != b.nu+b.nd {
		return nil, fmt.Errorf("invalid input vector length: %d", in.Len())
	}

	u := mat.NewVecDense(b.nu, nil)
	for i := 0; i < b.nu; i++ {
		u.SetVec(i, in.AtVec(i))
	}

	xdot, err := b.m.Dynamics(t, x, u)
	if err != nil {
		return nil, err
	}

	out := mat.VecDenseCopyOf(xdot)
	if b.nd > 0 {
		v := mat.NewVecDense(b.nd, nil)
		for i := 0; i < b.nd; i++ {
			v.SetVec(i, in.AtVec(b.nu+i))
		}
		fv := mat.NewVecDense(b.nx, nil)
		fv.MulVec(b.f, v)
		out.AddVec(out, fv)
	}

	return out, nil
}

// Output returns the plant measurements followed by the full state.
// Plant outputs depend on state only; the input vector is ignored.
func (b *Block) Output(t float64, x, in mat.Vector) (mat.Vector, error) {
	y, err := b.m.Output(x)
	if err != nil {
		return nil, err
	}

	out := mat.NewVecDense(b.ny+b.nx, nil)
	for i := 0; i < b.ny; i++ {
		out.SetVec(i, y.AtVec(i))
	}
	for i := 0; i < b.nx; i++ {
		out.SetVec(b.ny+i, x.AtVec(i))
	}

	return out, nil
}
