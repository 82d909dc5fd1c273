// Package initializers provides the named parameter-initialization policies. Importing the
// package registers every policy with the root package, so that layers can resolve the names
// requested by a model config ("zeros", "random_normal", "random_uniform", "random_unitary",
// "random_unitary_tiled", "eye").
package initializers

import (
	"math"

	rt "github.com/jvhoffbauer/returnn"
	"gorgonia.org/tensor"
)

func init() {
	rt.RegisterInitializer("zeros", func(params map[string]float64) (rt.Initializer, error) {
		if err := rejectParams("zeros", params); err != nil {
			return nil, err
		}
		return Zeros(), nil
	})
	rt.RegisterInitializer("eye", func(params map[string]float64) (rt.Initializer, error) {
		if err := rejectParams("eye", params); err != nil {
			return nil, err
		}
		return Eye(), nil
	})
	rt.RegisterInitializer("random_normal", func(params map[string]float64) (rt.Initializer, error) {
		n := Normal()
		for k, v := range params {
			if k != "scale" {
				return nil, rt.Configf("random_normal does not take parameter %q", k)
			}
			n = n.Scale(v)
		}
		return n, nil
	})
	rt.RegisterInitializer("random_uniform", func(params map[string]float64) (rt.Initializer, error) {
		u := Uniform()
		for k, v := range params {
			switch k {
			case "limit":
				u = u.Limit(v)
			case "p":
				u = u.P(v)
			default:
				return nil, rt.Configf("random_uniform does not take parameter %q", k)
			}
		}
		if u.limit != 0 && u.p != 0 {
			return nil, rt.Configf("random_uniform takes either limit or p, not both")
		}
		return u, nil
	})
	rt.RegisterInitializer("random_unitary", func(params map[string]float64) (rt.Initializer, error) {
		if err := rejectParams("random_unitary", params); err != nil {
			return nil, err
		}
		return Unitary(), nil
	})
	rt.RegisterInitializer("random_unitary_tiled", func(params map[string]float64) (rt.Initializer, error) {
		if err := rejectParams("random_unitary_tiled", params); err != nil {
			return nil, err
		}
		return UnitaryTiled(), nil
	})
}

func rejectParams(name string, params map[string]float64) error {
	for k := range params {
		return rt.Configf("%s does not take parameter %q", name, k)
	}
	return nil
}

// dense builds a tensor of the requested dtype and shape with values drawn from gen, which is
// called once per element in row-major order.
func dense(dt tensor.Dtype, shape []int, gen func(i int) float64) (tensor.Tensor, error) {
	size := 1
	for _, d := range shape {
		if d < 1 {
			return nil, rt.Configf("invalid initializer shape %v", shape)
		}
		size *= d
	}
	switch dt {
	case tensor.Float64:
		backing := make([]float64, size)
		for i := range backing {
			backing[i] = gen(i)
		}
		return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(backing)), nil
	case tensor.Float32:
		backing := make([]float32, size)
		for i := range backing {
			backing[i] = float32(gen(i))
		}
		return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(backing)), nil
	}
	return nil, rt.Configf("unsupported dtype %v", dt)
}

// fanInOut reads the fan-in and fan-out of a weight shape: (n, m), (n, depth, m), or (n,) for
// biases (fan-out 0).
func fanInOut(shape []int) (n, m int) {
	n = shape[0]
	if len(shape) > 1 {
		m = shape[len(shape)-1]
	}
	return n, m
}

// sqrt is shorthand for math.Sqrt; the scaling formulas below read better with it.
func sqrt(x float64) float64 { return math.Sqrt(x) }
