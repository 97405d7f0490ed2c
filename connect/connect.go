// Package connect composes named dynamical blocks into one composite
// system. Signal routing is resolved by name exactly once, at construction
// time, into a static index based wiring table: any block input whose name
// matches another block's output is wired to that output, the remaining
// inputs must be declared external. The composite is itself a
// feedback.Block and is immutable once built.
package connect

import (
	"fmt"

	feedback "github.com/milosgajdos/go-feedback"
	"gonum.org/v1/gonum/mat"
)

// Named is a component block with its instance name.
type Named struct {
	// Name identifies the block inside the composite
	Name string
	// Block is the component itself
	Block feedback.Block
}

// source locates the producer of one input port.
type source struct {
	// external input when true, block output otherwise
	external bool
	// offset into the external input vector or the producer output vector
	offset int
	// producing block index when internal
	blk  int
	size int
}

// System is a composite dynamical system. Its state vector is the
// concatenation of the component states in declaration order.
type System struct {
	blocks    []Named
	stateOff  []int
	stateDim  int
	extIn     []feedback.Port
	extInOff  []int
	extOut    []feedback.Port
	sources   [][]source
	outSrc    []source
	evalOrder []int
}

// New builds a composite system from the component blocks, the names of
// the external input signals and the names of the external output signals.
// Name resolution happens here, once; evaluation performs no lookups.
// It returns error if
// - block names or produced output signals are duplicated
// - an input signal is neither produced by a component nor external
// - a declared external input is not consumed, or port sizes disagree
// - the stateless components form a zero-delay algebraic loop
func New(blocks []Named, extIn, extOut []string) (*System, error) {
	if len(blocks) == 0 {
		return nil, fmt.Errorf("no component blocks given")
	}

	names := make(map[string]bool, len(blocks))
	for _, b := range blocks {
		if b.Name == "" || b.Block == nil {
			return nil, fmt.Errorf("invalid component block: %q", b.Name)
		}
		if names[b.Name] {
			return nil, fmt.Errorf("duplicate block name: %q", b.Name)
		}
		names[b.Name] = true
	}

	// producer locations of every output signal
	type producer struct {
		blk    int
		offset int
		size   int
	}
	produced := make(map[string]producer)
	for i, b := range blocks {
		off := 0
		for _, p := range b.Block.Outputs() {
			if _, ok := produced[p.Name]; ok {
				return nil, fmt.Errorf("duplicate output signal: %q", p.Name)
			}
			produced[p.Name] = producer{blk: i, offset: off, size: p.Size}
			off += p.Size
		}
	}

	extIdx := make(map[string]int, len(extIn))
	extSize := make([]int, len(extIn))
	for i, name := range extIn {
		if _, ok := extIdx[name]; ok {
			return nil, fmt.Errorf("duplicate external input: %q", name)
		}
		if _, ok := produced[name]; ok {
			return nil, fmt.Errorf("external input %q shadows a component output", name)
		}
		extIdx[name] = i
	}

	// wiring table
	sources := make([][]source, len(blocks))
	for i, b := range blocks {
		for _, p := range b.Block.Inputs() {
			if prod, ok := produced[p.Name]; ok {
				if prod.size != p.Size {
					return nil, fmt.Errorf("signal %q size mismatch: produced %d, consumed %d", p.Name, prod.size, p.Size)
				}
				sources[i] = append(sources[i], source{blk: prod.blk, offset: prod.offset, size: p.Size})
				continue
			}
			if j, ok := extIdx[p.Name]; ok {
				if extSize[j] != 0 && extSize[j] != p.Size {
					return nil, fmt.Errorf("external input %q size mismatch: %d vs %d", p.Name, extSize[j], p.Size)
				}
				extSize[j] = p.Size
				sources[i] = append(sources[i], source{external: true, blk: j, size: p.Size})
				continue
			}
			return nil, fmt.Errorf("unresolved input %q of block %q: not produced by any component and not declared external", p.Name, b.Name)
		}
	}

	// external input offsets in declaration order
	extPorts := make([]feedback.Port, len(extIn))
	extOff := make([]int, len(extIn))
	off := 0
	for i, name := range extIn {
		if extSize[i] == 0 {
			return nil, fmt.Errorf("external input %q is not consumed by any component", name)
		}
		extPorts[i] = feedback.Port{Name: name, Size: extSize[i]}
		extOff[i] = off
		off += extSize[i]
	}
	for i := range sources {
		for j := range sources[i] {
			if sources[i][j].external {
				sources[i][j].offset = extOff[sources[i][j].blk]
			}
		}
	}

	// external outputs must be produced signals
	outPorts := make([]feedback.Port, len(extOut))
	outSrc := make([]source, len(extOut))
	for i, name := range extOut {
		prod, ok := produced[name]
		if !ok {
			return nil, fmt.Errorf("unknown external output: %q", name)
		}
		outPorts[i] = feedback.Port{Name: name, Size: prod.size}
		outSrc[i] = source{blk: prod.blk, offset: prod.offset, size: prod.size}
	}

	order, err := evalOrder(blocks, sources)
	if err != nil {
		return nil, err
	}

	stateOff := make([]int, len(blocks))
	dim := 0
	for i, b := range blocks {
		stateOff[i] = dim
		dim += b.Block.StateDim()
	}

	return &System{
		blocks:    blocks,
		stateOff:  stateOff,
		stateDim:  dim,
		extIn:     extPorts,
		extInOff:  extOff,
		extOut:    outPorts,
		sources:   sources,
		outSrc:    outSrc,
		evalOrder: order,
	}, nil
}

// evalOrder orders output evaluation: stateful blocks first in declaration
// order, stateless blocks in topological order of their mutual wiring.
// A cycle among stateless blocks is a zero-delay algebraic loop.
func evalOrder(blocks []Named, sources [][]source) ([]int, error) {
	order := make([]int, 0, len(blocks))
	for i, b := range blocks {
		if b.Block.StateDim() > 0 {
			order = append(order, i)
		}
	}

	// in-degree of each stateless block counting stateless producers only
	indeg := make(map[int]int)
	for i, b := range blocks {
		if b.Block.StateDim() > 0 {
			continue
		}
		indeg[i] = 0
		for _, src := range sources[i] {
			if !src.external && blocks[src.blk].Block.StateDim() == 0 {
				indeg[i]++
			}
		}
	}

	var ready []int
	for i, b := range blocks {
		if b.Block.StateDim() == 0 && indeg[i] == 0 {
			ready = append(ready, i)
		}
	}

	resolved := 0
	for len(ready) > 0 {
		i := ready[0]
		ready = ready[1:]
		order = append(order, i)
		resolved++
		for j, b := range blocks {
			if b.Block.StateDim() > 0 {
				continue
			}
			for _, src := range sources[j] {
				if !src.external && src.blk == i {
					indeg[j]--
					if indeg[j] == 0 {
						ready = append(ready, j)
					}
				}
			}
		}
	}

	if resolved != len(indeg) {
		var loop []string
		for i, d := range indeg {
			if d > 0 {
				loop = append(loop, blocks[i].Name)
			}
		}
		return nil, fmt.Errorf("algebraic loop detected among blocks %v", loop)
	}

	return order, nil
}

// StateDim returns the composite state dimension.
func (s *System) StateDim() int {
	return s.stateDim
}

// Inputs returns the external input ports in declaration order.
func (s *System) Inputs() []feedback.Port {
	in := make([]feedback.Port, len(s.extIn))
	copy(in, s.extIn)

	return in
}

// Outputs returns the external output ports in declaration order.
func (s *System) Outputs() []feedback.Port {
	out := make([]feedback.Port, len(s.extOut))
	copy(out, s.extOut)

	return out
}

// StateOffset returns the offset and length of the named component's state
// inside the composite state vector.
func (s *System) StateOffset(name string) (offset, dim int, err error) {
	for i, b := range s.blocks {
		if b.Name == name {
			return s.stateOff[i], b.Block.StateDim(), nil
		}
	}

	return 0, 0, fmt.Errorf("unknown block: %q", name)
}

// signals evaluates every component output at time t given composite state
// x and external inputs uext, in the precomputed evaluation order.
// Stateful blocks get a nil input vector: their outputs are a function of
// state only and their inputs have not been routed yet at this point.
func (s *System) signals(t float64, x, uext mat.Vector) ([]*mat.VecDense, error) {
	outs := make([]*mat.VecDense, len(s.blocks))
	for _, i := range s.evalOrder {
		b := s.blocks[i]
		var in mat.Vector
		if b.Block.StateDim() == 0 {
			in = s.gather(i, uext, outs)
		}

		out, err := b.Block.Output(t, s.stateOf(i, x), in)
		if err != nil {
			return nil, fmt.Errorf("block %q output failed: %v", b.Name, err)
		}
		outs[i] = mat.VecDenseCopyOf(out)
	}

	return outs, nil
}

// gather concatenates the resolved inputs of block i per the wiring table.
// It returns nil for blocks with no inputs.
func (s *System) gather(i int, uext mat.Vector, outs []*mat.VecDense) mat.Vector {
	size := feedback.InSize(s.blocks[i].Block)
	if size == 0 {
		return nil
	}

	in := mat.NewVecDense(size, nil)
	off := 0
	for _, src := range s.sources[i] {
		for j := 0; j < src.size; j++ {
			if src.external {
				in.SetVec(off+j, uext.AtVec(src.offset+j))
			} else {
				in.SetVec(off+j, outs[src.blk].AtVec(src.offset+j))
			}
		}
		off += src.size
	}

	return in
}

// stateOf returns the state slice of block i as a fresh vector, or nil for
// stateless blocks. Blocks never alias each other's state.
func (s *System) stateOf(i int, x mat.Vector) mat.Vector {
	dim := s.blocks[i].Block.StateDim()
	if dim == 0 {
		return nil
	}

	out := mat.NewVecDense(dim, nil)
	for j := 0; j < dim; j++ {
		out.SetVec(j, x.AtVec(s.stateOff[i]+j))
	}

	return out
}

// Derivative evaluates component outputs, routes them per the wiring table
// together with the external inputs, then concatenates the component state
// derivatives in declaration order.
func (s *System) Derivative(t float64, x, uext mat.Vector) (mat.Vector, error) {
	if x == nil || x.Len() != s.stateDim {
		return nil, fmt.Errorf("invalid composite state vector: %v", x)
	}
	if in := feedback.InSize(s); uext == nil && in > 0 || uext != nil && uext.Len() != in {
		return nil, fmt.Errorf("invalid external input vector: %v", uext)
	}

	outs, err := s.signals(t, x, uext)
	if err != nil {
		return nil, err
	}

	xdot := mat.NewVecDense(s.stateDim, nil)
	for i, b := range s.blocks {
		if b.Block.StateDim() == 0 {
			continue
		}
		d, derr := b.Block.Derivative(t, s.stateOf(i, x), s.gather(i, uext, outs))
		if derr != nil {
			return nil, fmt.Errorf("block %q derivative failed: %v", b.Name, derr)
		}
		for j := 0; j < b.Block.StateDim(); j++ {
			xdot.SetVec(s.stateOff[i]+j, d.AtVec(j))
		}
	}

	return xdot, nil
}

// Output returns the external output signals in declaration order.
func (s *System) Output(t float64, x, uext mat.Vector) (mat.Vector, error) {
	if x == nil || x.Len() != s.stateDim {
		return nil, fmt.Errorf("invalid composite state vector: %v", x)
	}

	outs, err := s.signals(t, x, uext)
	if err != nil {
		return nil, err
	}

	out := mat.NewVecDense(feedback.OutSize(s), nil)
	off := 0
	for _, src := range s.outSrc {
		for j := 0; j < src.size; j++ {
			out.SetVec(off+j, outs[src.blk].AtVec(src.offset+j))
		}
		off += src.size
	}

	return out, nil
}
