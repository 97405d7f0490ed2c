package ctrl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"
)

func TestNew(t *testing.T) {
	assert := assert.New(t)

	k := mat.NewDense(2, 6, nil)
	c, err := New(k)
	assert.NotNil(c)
	assert.NoError(err)

	assert.Equal(0, c.StateDim())
	in := c.Inputs()
	assert.Equal("xe", in[0].Name)
	assert.Equal("ue", in[1].Name)
	assert.Equal("xhat", in[2].Name)
	assert.Equal("u", c.Outputs()[0].Name)

	c, err = New(k, WithEstimateInput("x"))
	assert.NoError(err)
	assert.Equal("x", c.Inputs()[2].Name)

	// stateless blocks have a nil derivative
	d, err := c.Derivative(0, nil, nil)
	assert.NoError(err)
	assert.Nil(d)

	c, err = New(nil)
	assert.Nil(c)
	assert.Error(err)
}

func TestOutput(t *testing.T) {
	assert := assert.New(t)

	// u = ue - K·(x̂ - xe) on a 2-state 1-input gain
	k := mat.NewDense(1, 2, []float64{1, 2})
	c, err := New(k)
	assert.NoError(err)

	// xe = (1, 1), ue = 3, x̂ = (2, 0)
	in := mat.NewVecDense(5, []float64{1, 1, 3, 2, 0})
	out, err := c.Output(0, nil, in)
	assert.NoError(err)
	assert.InDelta(3.0-(1.0*1.0+2.0*(-1.0)), out.AtVec(0), 1e-12)

	// the block is idle at the equilibrium
	in = mat.NewVecDense(5, []float64{1, 1, 3, 1, 1})
	out, err = c.Output(0, nil, in)
	assert.NoError(err)
	assert.InDelta(3.0, out.AtVec(0), 1e-12)

	_, err = c.Output(0, nil, mat.NewVecDense(2, nil))
	assert.Error(err)
	_, err = c.Output(0, nil, nil)
	assert.Error(err)
}

func TestConstant(t *testing.T) {
	assert := assert.New(t)

	val := mat.NewVecDense(2, []float64{0, 39.2})
	c, err := NewConstant("ue", val)
	assert.NotNil(c)
	assert.NoError(err)

	assert.Equal(0, c.StateDim())
	assert.Nil(c.Inputs())
	assert.Equal("ue", c.Outputs()[0].Name)
	assert.Equal(2, c.Outputs()[0].Size)

	out, err := c.Output(0, nil, nil)
	assert.NoError(err)
	assert.True(mat.Equal(val, out))

	// the source holds a copy, not a reference
	val.SetVec(0, 99)
	out, err = c.Output(0, nil, nil)
	assert.NoError(err)
	assert.Equal(0.0, out.AtVec(0))

	c, err = NewConstant("ue", nil)
	assert.Nil(c)
	assert.Error(err)
}
