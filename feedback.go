package feedback

import "gonum.org/v1/gonum/mat"

// Port is a named vector-valued signal of a dynamical block.
type Port struct {
	// Name identifies the signal
	Name string
	// Size is the signal vector length
	Size int
}

// Block is a continuous-time dynamical block.
//
// A block owns a state vector of StateDim length, consumes the input
// signals listed by Inputs and produces the output signals listed by
// Outputs. The input and output vectors passed to Derivative and Output
// are the concatenations of the declared ports in their declared order.
//
// Blocks whose outputs depend on their inputs (direct feedthrough) must
// be stateless i.e. StateDim must return 0. Outputs of stateful blocks
// are evaluated before their inputs have been routed, so they must be a
// function of time and state only.
//
// Empty vectors are passed and returned as nil: stateless blocks return a
// nil derivative and receive a nil state, and blocks without inputs
// receive a nil input vector.
type Block interface {
	// StateDim returns the number of continuous states
	StateDim() int
	// Inputs returns block input ports
	Inputs() []Port
	// Outputs returns block output ports
	Outputs() []Port
	// Derivative returns the state derivative at time t
	Derivative(t float64, x, u mat.Vector) (mat.Vector, error)
	// Output returns block outputs at time t
	Output(t float64, x, u mat.Vector) (mat.Vector, error)
}

// InSize returns the total input vector length of b.
func InSize(b Block) int {
	size := 0
	for _, p := range b.Inputs() {
		size += p.Size
	}

	return size
}

// OutSize returns the total output vector length of b.
func OutSize(b Block) int {
	size := 0
	for _, p := range b.Outputs() {
		size += p.Size
	}

	return size
}
