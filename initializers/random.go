package initializers

import (
	"math/rand"

	rt "github.com/jvhoffbauer/returnn"
	"gorgonia.org/tensor"
)

type normal struct {
	scale float64
}

// Normal returns the "random_normal" policy: samples ~ N(0, 1/scale), where the effective scale
// is sqrt((n+m)/12) by default, or sqrt(scale/12) when set explicitly via Scale.
func Normal() normal {
	return normal{}
}

// Scale sets the explicit scale of the distribution, returning the updated policy.
func (p normal) Scale(scale float64) normal {
	p.scale = scale
	return p
}

func (p normal) TypeString() string { return "random_normal" }

func (p normal) Init(rng *rand.Rand, dt tensor.Dtype, shape ...int) (tensor.Tensor, error) {
	n, m := fanInOut(shape)
	scale := p.scale
	if scale == 0 {
		scale = sqrt(float64(n+m) / 12)
	} else {
		scale = sqrt(scale / 12)
	}
	sd := 1 / scale
	return dense(dt, shape, func(int) float64 {
		return rng.NormFloat64() * sd
	})
}

type uniform struct {
	limit, p float64
}

// Uniform returns the "random_uniform" policy: samples ~ U(-l, l). The bound l may be set
// directly with Limit, derived from a fan sum p as sqrt(6/p) with P, or left to default to
// p = n+m. Limit and P are mutually exclusive.
func Uniform() uniform {
	return uniform{}
}

// Limit sets the bound of the distribution directly, returning the updated policy.
func (p uniform) Limit(l float64) uniform {
	p.limit = l
	return p
}

// P sets the fan sum the bound is derived from, returning the updated policy.
func (p uniform) P(fan float64) uniform {
	p.p = fan
	return p
}

func (p uniform) TypeString() string { return "random_uniform" }

func (p uniform) Init(rng *rand.Rand, dt tensor.Dtype, shape ...int) (tensor.Tensor, error) {
	if p.limit != 0 && p.p != 0 {
		return nil, rt.Configf("random_uniform takes either limit or p, not both")
	}
	l := p.limit
	if l == 0 {
		fan := p.p
		if fan == 0 {
			n, m := fanInOut(shape)
			fan = float64(n + m)
		}
		l = sqrt(6 / fan)
	}
	return dense(dt, shape, func(int) float64 {
		return rng.Float64()*2*l - l
	})
}
