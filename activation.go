package returnn

import (
	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
)

// Activation is an element-wise nonlinearity applied to a layer's preactivation block.
type Activation func(*gorgonia.Node) (*gorgonia.Node, error)

var activations = map[string]Activation{
	"identity": func(x *gorgonia.Node) (*gorgonia.Node, error) { return x, nil },
	"tanh":     gorgonia.Tanh,
	"sigmoid":  gorgonia.Sigmoid,
	"relu":     gorgonia.Rectify,
	"softsign": softsign,
}

// ActivationByName resolves an activation function by its attribute string. The empty string
// resolves to "identity".
func ActivationByName(name string) (Activation, error) {
	if name == "" {
		name = "identity"
	}
	if f, ok := activations[name]; ok {
		return f, nil
	}
	return nil, errors.Wrapf(ErrUnknownActivation, "%q", name)
}

// softsign is x / (1 + |x|), a cheaper saturating alternative to tanh.
func softsign(x *gorgonia.Node) (*gorgonia.Node, error) {
	abs, err := gorgonia.Abs(x)
	if err != nil {
		return nil, err
	}
	one := gorgonia.NewScalar(x.Graph(), x.Dtype(), gorgonia.WithValue(oneOf(x.Dtype())))
	denom, err := gorgonia.Add(abs, one)
	if err != nil {
		return nil, err
	}
	return gorgonia.HadamardDiv(x, denom)
}
