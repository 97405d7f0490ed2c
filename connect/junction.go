package connect

import (
	"fmt"

	feedback "github.com/milosgajdos/go-feedback"
	"gonum.org/v1/gonum/mat"
)

// Sum is a stateless summing junction: its output signal is the elementwise
// sum of its input signals. It is typically used to add sensor noise to a
// plant measurement before it reaches an estimator.
type Sum struct {
	out  string
	ins  []string
	size int
}

// NewSum creates a summing junction producing signal out of the given size
// from the input signals ins. It returns error if fewer than two inputs
// are given or if size is not positive.
func NewSum(out string, size int, ins ...string) (*Sum, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid signal size: %d", size)
	}
	if len(ins) < 2 {
		return nil, fmt.Errorf("summing junction needs at least 2 inputs, got %d", len(ins))
	}

	return &Sum{out: out, ins: ins, size: size}, nil
}

// StateDim returns 0: junctions are stateless.
func (s *Sum) StateDim() int {
	return 0
}

// Inputs returns the junction input ports.
func (s *Sum) Inputs() []feedback.Port {
	in := make([]feedback.Port, len(s.ins))
	for i, name := range s.ins {
		in[i] = feedback.Port{Name: name, Size: s.size}
	}

	return in
}

// Outputs returns the junction output port.
func (s *Sum) Outputs() []feedback.Port {
	return []feedback.Port{{Name: s.out, Size: s.size}}
}

// Derivative returns a nil derivative: the block has no state.
func (s *Sum) Derivative(t float64, x, in mat.Vector) (mat.Vector, error) {
	return nil, nil
}

// Output sums the resolved input signals.
func (s *Sum) Output(t float64, x, in mat.Vector) (mat.Vector, error) {
	if in == nil || in.Len() != len(s.ins)*s.size {
		return nil, fmt.Errorf("invalid input vector: %v", in)
	}

	out := mat.NewVecDense(s.size, nil)
	for i := 0; i < len(s.ins); i++ {
		for j := 0; j < s.size; j++ {
			out.SetVec(j, out.AtVec(j)+in.AtVec(i*s.size+j))
		}
	}

	return out, nil
}
