package returnn

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
)

func init() {
	RegisterLayerClass("linear_recurrent")
}

// LinearRecurrentLayerArgs configures a LinearRecurrentLayer.
type LinearRecurrentLayerArgs struct {
	LayerArgs

	// Activation is applied to the scanned sequence; default "sigmoid".
	Activation string

	// Direction is 1 (default) for forward time order, -1 for reversed.
	Direction int
}

// LinearRecurrentLayer is a gated linear recurrence, basically a very simple LSTM: a learned
// per-feature retain gate blends the previous state into each step's input,
//
//	h_t = a*h_{t-1} + x_t
//
// with padded steps carrying the state through unchanged. See arxiv.org/abs/1510.02693.
type LinearRecurrentLayer struct {
	*Layer

	direction int
	wIn       []*gorgonia.Node
}

// NewLinearRecurrentLayer builds the gated linear recurrence over the argument sources.
func NewLinearRecurrentLayer(args LinearRecurrentLayerArgs) (*LinearRecurrentLayer, error) {
	if args.Class == "" {
		args.Class = "linear_recurrent"
	}
	if args.Activation == "" {
		args.Activation = "sigmoid"
	}
	if args.Direction == 0 {
		args.Direction = 1
	}
	if args.Direction != 1 && args.Direction != -1 {
		return nil, Configf("direction must be 1 or -1, got %d", args.Direction)
	}
	if args.Depth > 1 {
		return nil, Configf("linear recurrence does not support depth > 1")
	}
	act, err := ActivationByName(args.Activation)
	if err != nil {
		return nil, errors.Wrapf(err, "Can't build linear recurrent layer %q", args.Name)
	}
	base, err := NewLayer(args.LayerArgs)
	if err != nil {
		return nil, err
	}
	l := &LinearRecurrentLayer{Layer: base, direction: args.Direction}
	l.attrs.Set("activation", args.Activation)
	l.attrs.Set("direction", args.Direction)

	aRaw, err := l.CreateBias(l.nOut, "a", "")
	if err != nil {
		return nil, err
	}
	a, err := gorgonia.Sigmoid(l.AddParam(aRaw, fmt.Sprintf("a_%s", l.name)))
	if err != nil {
		return nil, err
	}
	a1, err := gorgonia.Reshape(a, []int{1, l.nOut})
	if err != nil {
		return nil, err
	}

	x, wIn, err := l.linearForwardOutput()
	if err != nil {
		return nil, errors.Wrapf(err, "Can't build the input map of %q", l.name)
	}
	l.wIn = wIn

	seqLen := l.index.Shape()[0]
	batches := l.index.Shape()[1]
	h := gorgonia.NodeFromAny(l.graph,
		fillTensor(l.dt, 0, batches, l.nOut),
		gorgonia.WithName(fmt.Sprintf("%s.h0", l.name)))

	steps := make([]*gorgonia.Node, seqLen)
	for n := 0; n < seqLen; n++ {
		t := n
		if l.direction < 0 {
			t = seqLen - 1 - n
		}
		xT, err := sliceAxis(x, 0, t)
		if err != nil {
			return nil, err
		}
		iT, err := sliceAxis(l.index, 0, t)
		if err != nil {
			return nil, err
		}
		retained, err := gorgonia.BroadcastHadamardProd(h, a1, nil, []byte{0})
		if err != nil {
			return nil, err
		}
		next, err := gorgonia.Add(retained, xT)
		if err != nil {
			return nil, err
		}
		if h, err = BlendByIndex(next, h, iT); err != nil {
			return nil, err
		}
		steps[t] = h
	}

	seq, err := StackTime(steps)
	if err != nil {
		return nil, errors.Wrapf(err, "Can't stack the recurrence of %q", l.name)
	}
	out, err := act(seq)
	if err != nil {
		return nil, errors.Wrapf(err, "Can't activate layer %q", l.name)
	}
	if err := l.MakeOutput(out, false); err != nil {
		return nil, errors.Wrapf(err, "Can't finish linear recurrent layer %q", l.name)
	}
	return l, nil
}

// ForwardWeights returns the per-source input weight nodes, ordered like Sources.
func (l *LinearRecurrentLayer) ForwardWeights() []*gorgonia.Node { return l.wIn }
