// Package sim integrates dynamical blocks over a time grid. The driver is
// a fixed step RK4 integrator with linearly interpolated exogenous inputs;
// it samples states and outputs at every grid point and fails the run on
// numerical divergence instead of returning partial results.
package sim

import (
	"fmt"
	"math"

	feedback "github.com/milosgajdos/go-feedback"
	"gonum.org/v1/gonum/mat"
)

// Option configures a simulation run.
type Option func(*config)

type config struct {
	substeps int
}

// WithSubsteps sets the number of RK4 steps taken per grid interval.
// The default is 1. More substeps trade time for accuracy; the driver
// never adapts the step size on its own.
func WithSubsteps(n int) Option {
	return func(c *config) {
		c.substeps = n
	}
}

// Trajectory is the time-indexed result of one simulation run: the block
// state and outputs at every grid point, with name to row-index mappings
// for the output and input signals. It is never mutated once returned.
type Trajectory struct {
	// Times is the simulation time grid
	Times []float64
	// States stores the block state per grid point column-wise
	States *mat.Dense
	// Outputs stores the block outputs per grid point column-wise
	Outputs *mat.Dense
	// OutputIndex maps output signal names to their first row in Outputs
	OutputIndex map[string]int
	// InputIndex maps input signal names to their first row of the
	// exogenous input trajectory the run was driven with
	InputIndex map[string]int
}

// Output returns the row of Outputs holding the named scalar signal plus
// offset i into the signal vector.
func (tr *Trajectory) Output(name string, i int) []float64 {
	row, ok := tr.OutputIndex[name]
	if !ok {
		return nil
	}

	return mat.Row(nil, row+i, tr.Outputs)
}

// Run integrates block b over the time grid ts driven by the exogenous
// input trajectory u and returns the resulting trajectory.
//
// ts must be strictly increasing. u holds one column per grid point and one
// row per external input element, in the block's declared port order; it is
// linearly interpolated between grid points for the intermediate integrator
// stages. u may be nil if b has no inputs. x0 is the initial block state.
//
// It returns error if the grid, input or state dimensions are invalid, if
// any block evaluation fails, or if the state stops being finite, in which
// case the run is aborted and no partial trajectory is returned.
func Run(b feedback.Block, ts []float64, u *mat.Dense, x0 mat.Vector, opts ...Option) (*Trajectory, error) {
	cfg := &config{substeps: 1}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.substeps < 1 {
		return nil, fmt.Errorf("invalid substep count: %d", cfg.substeps)
	}

	if len(ts) < 2 {
		return nil, fmt.Errorf("invalid time grid length: %d", len(ts))
	}
	for i := 1; i < len(ts); i++ {
		if ts[i] <= ts[i-1] {
			return nil, fmt.Errorf("time grid not increasing at sample %d", i)
		}
	}

	inSize := feedback.InSize(b)
	if inSize > 0 {
		if u == nil {
			return nil, fmt.Errorf("missing input trajectory")
		}
		ur, uc := u.Dims()
		if ur != inSize || uc != len(ts) {
			return nil, fmt.Errorf("invalid input trajectory dimensions: [%d x %d]", ur, uc)
		}
	}

	if x0 == nil || x0.Len() != b.StateDim() {
		return nil, fmt.Errorf("invalid initial state: %v", x0)
	}

	uAt := newInterp(ts, u, inSize)
	x := mat.VecDenseCopyOf(x0)

	outSize := feedback.OutSize(b)
	states := mat.NewDense(max(b.StateDim(), 1), len(ts), nil)
	outputs := mat.NewDense(max(outSize, 1), len(ts), nil)

	record := func(col int, t float64) error {
		for i := 0; i < b.StateDim(); i++ {
			states.Set(i, col, x.AtVec(i))
		}
		out, err := b.Output(t, x, uAt(t))
		if err != nil {
			return fmt.Errorf("output evaluation failed at t=%g: %v", t, err)
		}
		for i := 0; i < outSize; i++ {
			outputs.Set(i, col, out.AtVec(i))
		}
		return nil
	}

	if err := record(0, ts[0]); err != nil {
		return nil, err
	}

	for k := 0; k < len(ts)-1; k++ {
		h := (ts[k+1] - ts[k]) / float64(cfg.substeps)
		t := ts[k]
		for s := 0; s < cfg.substeps; s++ {
			if err := rk4(b, t, h, x, uAt); err != nil {
				return nil, err
			}
			t += h
			if !finite(x) {
				return nil, fmt.Errorf("integration failed: non-finite state at t=%g", t)
			}
		}
		if err := record(k+1, ts[k+1]); err != nil {
			return nil, err
		}
	}

	return &Trajectory{
		Times:       append([]float64(nil), ts...),
		States:      states,
		Outputs:     outputs,
		OutputIndex: portIndex(b.Outputs()),
		InputIndex:  portIndex(b.Inputs()),
	}, nil
}

// rk4 advances x in place by one classical Runge-Kutta step of size h.
func rk4(b feedback.Block, t, h float64, x *mat.VecDense, uAt func(float64) *mat.VecDense) error {
	k1, err := b.Derivative(t, x, uAt(t))
	if err != nil {
		return fmt.Errorf("derivative evaluation failed at t=%g: %v", t, err)
	}

	tmp := mat.NewVecDense(x.Len(), nil)
	tmp.AddScaledVec(x, h/2, k1)
	k2, err := b.Derivative(t+h/2, tmp, uAt(t+h/2))
	if err != nil {
		return fmt.Errorf("derivative evaluation failed at t=%g: %v", t+h/2, err)
	}

	tmp.AddScaledVec(x, h/2, k2)
	k3, err := b.Derivative(t+h/2, tmp, uAt(t+h/2))
	if err != nil {
		return fmt.Errorf("derivative evaluation failed at t=%g: %v", t+h/2, err)
	}

	tmp.AddScaledVec(x, h, k3)
	k4, err := b.Derivative(t+h, tmp, uAt(t+h))
	if err != nil {
		return fmt.Errorf("derivative evaluation failed at t=%g: %v", t+h, err)
	}

	x.AddScaledVec(x, h/6, k1)
	x.AddScaledVec(x, h/3, k2)
	x.AddScaledVec(x, h/3, k3)
	x.AddScaledVec(x, h/6, k4)

	return nil
}

// newInterp returns a linear interpolant of the column-sampled input
// trajectory u over the grid ts.
func newInterp(ts []float64, u *mat.Dense, size int) func(float64) *mat.VecDense {
	if size == 0 {
		return func(t float64) *mat.VecDense { return nil }
	}

	k := 0
	return func(t float64) *mat.VecDense {
		for k < len(ts)-2 && t > ts[k+1] {
			k++
		}
		for k > 0 && t < ts[k] {
			k--
		}

		frac := (t - ts[k]) / (ts[k+1] - ts[k])
		if frac < 0 {
			frac = 0
		}
		if frac > 1 {
			frac = 1
		}

		out := mat.NewVecDense(size, nil)
		for i := 0; i < size; i++ {
			out.SetVec(i, (1-frac)*u.At(i, k)+frac*u.At(i, k+1))
		}
		return out
	}
}

func portIndex(ports []feedback.Port) map[string]int {
	idx := make(map[string]int, len(ports))
	off := 0
	for _, p := range ports {
		idx[p.Name] = off
		off += p.Size
	}

	return idx
}

func finite(x *mat.VecDense) bool {
	for i := 0; i < x.Len(); i++ {
		v := x.AtVec(i)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}

	return true
}
