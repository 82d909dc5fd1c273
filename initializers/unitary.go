package initializers

import (
	"math/rand"

	rt "github.com/jvhoffbauer/returnn"
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"
)

type unitary struct{}

// Unitary returns the "random_unitary" policy: an orthonormal basis of shape (n, m), obtained
// from the thin SVD of a random Gaussian matrix. The rows are orthonormal when n <= m, the
// columns when n > m.
func Unitary() unitary {
	return unitary{}
}

func (unitary) TypeString() string { return "random_unitary" }

func (unitary) Init(rng *rand.Rand, dt tensor.Dtype, shape ...int) (tensor.Tensor, error) {
	if len(shape) != 2 {
		return nil, rt.Configf("random_unitary requires a 2-D shape, got %v", shape)
	}
	n, m := shape[0], shape[1]

	x := gaussianDense(rng, n, m)
	var svd mat.SVD
	if !svd.Factorize(x, mat.SVDThin) {
		return nil, rt.Configf("SVD of the %dx%d random matrix did not converge", n, m)
	}

	// Thin U is (n, min(n,m)); it matches the target shape when m <= n. Otherwise the target
	// shape is covered by V transposed.
	out := make([]float64, n*m)
	if m <= n {
		var u mat.Dense
		svd.UTo(&u)
		for i := 0; i < n; i++ {
			for j := 0; j < m; j++ {
				out[i*m+j] = u.At(i, j)
			}
		}
	} else {
		var v mat.Dense
		svd.VTo(&v) // (m, n)
		for i := 0; i < n; i++ {
			for j := 0; j < m; j++ {
				out[i*m+j] = v.At(j, i)
			}
		}
	}
	return dense(dt, shape, func(i int) float64 { return out[i] })
}

type unitaryTiled struct{}

// UnitaryTiled returns the "random_unitary_tiled" policy: for a wide target the smaller
// dimension k yields k-by-k orthonormal tiles which are concatenated until they cover the larger
// dimension, then truncated to the exact shape (and transposed back when the smaller dimension
// comes first).
func UnitaryTiled() unitaryTiled {
	return unitaryTiled{}
}

func (unitaryTiled) TypeString() string { return "random_unitary_tiled" }

func (unitaryTiled) Init(rng *rand.Rand, dt tensor.Dtype, shape ...int) (tensor.Tensor, error) {
	if len(shape) != 2 {
		return nil, rt.Configf("random_unitary_tiled requires a 2-D shape, got %v", shape)
	}
	n, m := shape[0], shape[1]
	transpose := false
	if n > m {
		transpose = true
		n, m = m, n
	}
	fac := ((m - 1) / n) + 1

	// tiled is (n, fac*n) row-major; every tile is an orthonormal n-by-n basis.
	tiled := make([]float64, n*fac*n)
	for t := 0; t < fac; t++ {
		var svd mat.SVD
		if !svd.Factorize(gaussianDense(rng, n, n), mat.SVDThin) {
			return nil, rt.Configf("SVD of the %dx%d random matrix did not converge", n, n)
		}
		var u mat.Dense
		svd.UTo(&u)
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				tiled[i*fac*n+t*n+j] = u.At(i, j)
			}
		}
	}

	out := make([]float64, n*m)
	for i := 0; i < n; i++ {
		copy(out[i*m:(i+1)*m], tiled[i*fac*n:i*fac*n+m])
	}
	if transpose {
		flipped := make([]float64, len(out))
		for i := 0; i < n; i++ {
			for j := 0; j < m; j++ {
				flipped[j*n+i] = out[i*m+j]
			}
		}
		out = flipped
	}
	return dense(dt, shape, func(i int) float64 { return out[i] })
}

func gaussianDense(rng *rand.Rand, n, m int) *mat.Dense {
	data := make([]float64, n*m)
	for i := range data {
		data[i] = rng.NormFloat64()
	}
	return mat.NewDense(n, m, data)
}
