package noise

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"

	"gonum.org/v1/gonum/mat"
)

// White draws a sampled approximation of continuous-time white noise of
// intensity cov over the time grid ts. It returns a k x len(ts) matrix whose
// columns are independent zero-mean Gaussian draws with covariance cov/dt,
// dt being the (uniform) grid spacing: integrating the returned trajectory
// over one grid interval recovers the requested intensity.
// Samples are drawn from src which is owned by the caller, so a fixed seed
// yields a bit-for-bit reproducible trajectory.
// It fails with error if the grid has fewer than 2 points, if src is nil or
// if SVD factorization of cov fails.
func White(cov mat.Symmetric, ts []float64, src rand.Source) (*mat.Dense, error) {
	if len(ts) < 2 {
		return nil, fmt.Errorf("invalid time grid length: %d", len(ts))
	}

	if src == nil {
		return nil, fmt.Errorf("invalid random source: %v", src)
	}

	dt := ts[1] - ts[0]
	if dt <= 0 {
		return nil, fmt.Errorf("invalid time grid spacing: %v", dt)
	}

	samples, err := withCovN(cov, len(ts), src)
	if err != nil {
		return nil, err
	}
	samples.Scale(1.0/math.Sqrt(dt), samples)

	return samples, nil
}

// withCovN draws n random samples from a zero-mean Normal distribution with
// covariance cov and returns them stored in the columns of a k x n matrix.
// SVD is used instead of Cholesky as Cholesky can be numerically unstable
// if cov is (almost) singular.
func withCovN(cov mat.Symmetric, n int, src rand.Source) (*mat.Dense, error) {
	var svd mat.SVD
	ok := svd.Factorize(cov, mat.SVDFull)
	if !ok {
		return nil, fmt.Errorf("SVD factorization failed")
	}

	U := new(mat.Dense)
	svd.UTo(U)
	vals := svd.Values(nil)
	for i := range vals {
		vals[i] = math.Sqrt(vals[i])
	}
	diag := mat.NewDiagDense(len(vals), vals)
	U.Mul(U, diag)

	rnd := rand.New(src)
	rows, _ := cov.Dims()
	data := make([]float64, rows*n)
	for i := range data {
		data[i] = rnd.NormFloat64()
	}
	samples := mat.NewDense(rows, n, data)
	samples.Mul(U, samples)

	return samples, nil
}
