// Package units implements the recurrence cell families and registers them with the root
// package: "vanilla", the LSTM variants "lstme" (elementwise, transform-capable), "lstmp"
// (fused whole-sequence pass) and "lstmc" (transform/feedback host), "gru", and "sru".
//
// Importing this package (usually blank) is what makes the type strings resolvable:
//
//	import _ "github.com/jvhoffbauer/returnn/units"
package units

import (
	rt "github.com/jvhoffbauer/returnn"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func init() {
	rt.RegisterUnit("vanilla", newVanilla)
	rt.RegisterUnit("lstme", newLSTME)
	rt.RegisterUnit("lstmp", newLSTMP)
	rt.RegisterUnit("lstmc", newLSTMC)
	rt.RegisterUnit("gru", newGRU)
	rt.RegisterUnit("sru", newSRU)
}

// sliceCols takes columns [from, to) of a (batch, width) tensor.
func sliceCols(x *gorgonia.Node, from, to int) (*gorgonia.Node, error) {
	return gorgonia.Slice(x, gorgonia.S(0, x.Shape()[0]), gorgonia.S(from, to))
}

func sigmoid(x *gorgonia.Node) (*gorgonia.Node, error) { return gorgonia.Sigmoid(x) }
func tanh(x *gorgonia.Node) (*gorgonia.Node, error)    { return gorgonia.Tanh(x) }

// oneMinus computes 1-x in x's dtype.
func oneMinus(x *gorgonia.Node) (*gorgonia.Node, error) {
	var one *gorgonia.Node
	if x.Dtype() == tensor.Float32 {
		one = gorgonia.NewScalar(x.Graph(), x.Dtype(), gorgonia.WithValue(float32(1)))
	} else {
		one = gorgonia.NewScalar(x.Graph(), x.Dtype(), gorgonia.WithValue(float64(1)))
	}
	return gorgonia.Sub(one, x)
}
