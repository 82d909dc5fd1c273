package initializers

import (
	"math/rand"

	rt "github.com/jvhoffbauer/returnn"
	"gorgonia.org/tensor"
)

type zeros struct{}

// Zeros returns the "zeros" policy. It is the default bias initializer.
func Zeros() zeros {
	return zeros{}
}

func (zeros) TypeString() string { return "zeros" }

func (zeros) Init(_ *rand.Rand, dt tensor.Dtype, shape ...int) (tensor.Tensor, error) {
	return dense(dt, shape, func(int) float64 { return 0 })
}

type eye struct{}

// Eye returns the "eye" policy: the (n, m) identity matrix, ones on the main diagonal.
func Eye() eye {
	return eye{}
}

func (eye) TypeString() string { return "eye" }

func (eye) Init(_ *rand.Rand, dt tensor.Dtype, shape ...int) (tensor.Tensor, error) {
	if len(shape) != 2 {
		return nil, rt.Configf("eye requires a 2-D shape, got %v", shape)
	}
	m := shape[1]
	return dense(dt, shape, func(i int) float64 {
		if i/m == i%m {
			return 1
		}
		return 0
	})
}
