package returnn

import (
	"math/rand"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// An Initializer produces the starting value for a parameter tensor. Implementations live in the
// subpackage "initializers" and are registered here by name, so that layers can resolve the
// policy requested by their configuration.
//
// Weight policies receive 2-D shapes (n, m), or (n, depth, m) for layers with depth > 1. Bias
// policies receive (n,) or (depth, n). The returned tensor must match the requested shape and
// dtype exactly.
type Initializer interface {
	// TypeString returns the name the Initializer is registered under, e.g. "random_uniform".
	TypeString() string

	// Init returns a fresh tensor of the given shape, drawn with the provided RNG.
	Init(rng *rand.Rand, dt tensor.Dtype, shape ...int) (tensor.Tensor, error)
}

// WeightInit names an initialization policy together with its explicit numeric parameters,
// replacing the free-form init expressions of older model configs. Recognized parameter keys are
// policy-specific ("scale" for random_normal; "limit" or "p" for random_uniform).
type WeightInit struct {
	Name   string
	Params map[string]float64
}

// InitializerMaker constructs an Initializer from its numeric parameters. Contradictory
// parameter combinations must be rejected with a ConfigError.
type InitializerMaker func(params map[string]float64) (Initializer, error)

var initializerMakers = make(map[string]InitializerMaker)

// RegisterInitializer registers a named initializer policy. It panics when the name is already
// taken, since registration happens in package init functions.
func RegisterInitializer(name string, maker InitializerMaker) {
	if maker == nil {
		panic(NilArgError{"InitializerMaker"})
	}
	if _, ok := initializerMakers[name]; ok {
		panic(Configf("initializer %q is already registered", name))
	}
	initializerMakers[name] = maker
}

// NewInitializer resolves a WeightInit against the registry. Unknown policy names return
// ErrUnknownInitializer.
func NewInitializer(spec WeightInit) (Initializer, error) {
	maker, ok := initializerMakers[spec.Name]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownInitializer, "%q", spec.Name)
	}
	return maker(spec.Params)
}
