package ekf

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"

	"github.com/milosgajdos/go-feedback/plant"
)

var (
	pvt *plant.PVTOL
	cfg Config
)

func setup() {
	pvt, _ = plant.NewPVTOL(4.0, 0.0475, 0.25, 0.05, 9.8)

	c := mat.NewDense(3, 6, nil)
	c.Set(0, 0, 1)
	c.Set(1, 1, 1)
	c.Set(2, 2, 1)

	cfg = Config{
		Model: pvt,
		C:     c,
		F:     pvt.DisturbanceMap(),
		Qv:    mat.NewSymDense(2, []float64{1e-2, 0, 0, 1e-2}),
		Qw: mat.NewSymDense(3, []float64{
			2e-4, 0, 1e-5,
			0, 2e-4, 1e-5,
			1e-5, 1e-5, 1e-4,
		}),
	}
}

func TestMain(m *testing.M) {
	setup()
	os.Exit(m.Run())
}

func TestNew(t *testing.T) {
	assert := assert.New(t)

	f, err := New(cfg)
	assert.NotNil(f)
	assert.NoError(err)

	assert.Equal(6+36, f.StateDim())
	assert.Equal("y", f.Inputs()[0].Name)
	assert.Equal("u", f.Inputs()[1].Name)
	assert.Equal("xhat", f.Outputs()[0].Name)

	// nil model
	bad := cfg
	bad.Model = nil
	f, err = New(bad)
	assert.Nil(f)
	assert.Error(err)

	// invalid output map
	bad = cfg
	bad.C = mat.NewDense(3, 2, nil)
	f, err = New(bad)
	assert.Nil(f)
	assert.Error(err)

	// singular sensor noise covariance
	bad = cfg
	bad.Qw = mat.NewSymDense(3, nil)
	f, err = New(bad)
	assert.Nil(f)
	assert.Error(err)
	assert.Contains(err.Error(), "singular sensor noise covariance")

	// invalid disturbance map
	bad = cfg
	bad.F = mat.NewDense(3, 2, nil)
	f, err = New(bad)
	assert.Nil(f)
	assert.Error(err)

	// process noise dimension mismatch
	bad = cfg
	bad.Qv = mat.NewSymDense(3, nil)
	f, err = New(bad)
	assert.Nil(f)
	assert.Error(err)
}

func TestStateRoundTrip(t *testing.T) {
	assert := assert.New(t)

	f, err := New(cfg)
	assert.NoError(err)

	xhat0 := mat.NewVecDense(6, []float64{1, 2, 3, 4, 5, 6})
	p0 := mat.NewDense(6, 6, nil)
	for i := 0; i < 6; i++ {
		p0.Set(i, i, 0.5)
	}

	aug, err := f.NewState(xhat0, p0)
	assert.NotNil(aug)
	assert.NoError(err)
	assert.Equal(f.StateDim(), aug.Len())

	xhat, p, err := f.SplitState(aug)
	assert.NoError(err)
	assert.True(mat.Equal(xhat0, xhat))
	assert.True(mat.Equal(p0, p))

	// nil covariance defaults to identity
	aug, err = f.NewState(xhat0, nil)
	assert.NoError(err)
	_, p, err = f.SplitState(aug)
	assert.NoError(err)
	for i := 0; i < 6; i++ {
		assert.Equal(1.0, p.At(i, i))
	}

	// invalid initial estimate
	aug, err = f.NewState(mat.NewVecDense(3, nil), nil)
	assert.Nil(aug)
	assert.Error(err)
}

func TestDerivativeAtEquilibrium(t *testing.T) {
	assert := assert.New(t)

	f, err := New(cfg)
	assert.NoError(err)

	// zero covariance, estimate at the hover equilibrium and perfect
	// measurement: the estimate must not move and the covariance grows
	// with the process noise intensity only
	xe := mat.NewVecDense(6, nil)
	aug, err := f.NewState(xe, mat.NewDense(6, 6, nil))
	assert.NoError(err)

	in := mat.NewVecDense(5, nil)
	in.SetVec(4, pvt.Mass*pvt.Gravity) // hover thrust

	xdot, err := f.Derivative(0, aug, in)
	assert.NoError(err)

	for i := 0; i < 6; i++ {
		assert.InDelta(0.0, xdot.AtVec(i), 1e-12)
	}

	// P' = F·Qv·Fᵗ
	fqf := new(mat.Dense)
	fq := new(mat.Dense)
	fq.Mul(cfg.F, cfg.Qv)
	fqf.Mul(fq, cfg.F.T())

	for i := 0; i < 6; i++ {
		for j := 0; j < 6; j++ {
			assert.InDelta(fqf.At(i, j), xdot.AtVec(6+6*i+j), 1e-12)
		}
	}

	// invalid input vector
	_, err = f.Derivative(0, aug, mat.NewVecDense(3, nil))
	assert.Error(err)
}

func TestOutput(t *testing.T) {
	assert := assert.New(t)

	f, err := New(cfg)
	assert.NoError(err)

	xhat0 := mat.NewVecDense(6, []float64{1, 2, 3, 4, 5, 6})
	aug, err := f.NewState(xhat0, nil)
	assert.NoError(err)

	out, err := f.Output(0, aug, nil)
	assert.NoError(err)
	assert.True(mat.Equal(xhat0, out))

	_, err = f.Output(0, mat.NewVecDense(3, nil), nil)
	assert.Error(err)
}

func TestSymmetryError(t *testing.T) {
	assert := assert.New(t)

	f, err := New(cfg)
	assert.NoError(err)

	aug := mat.NewVecDense(f.StateDim(), nil)
	aug.SetVec(6+1, 2) // P[0][1] slot

	drift, err := f.SymmetryError(aug)
	assert.NoError(err)
	assert.Equal(2.0, drift)

	_, err = f.SymmetryError(mat.NewVecDense(3, nil))
	assert.Error(err)
}
