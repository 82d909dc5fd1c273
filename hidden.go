package returnn

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
)

func init() {
	RegisterLayerClass("hidden", "forward")
}

// ForwardLayerArgs configures a ForwardLayer.
type ForwardLayerArgs struct {
	LayerArgs

	// Activation names the element-wise nonlinearity applied to the preactivation; default
	// "sigmoid".
	Activation string
}

// ForwardLayer is the plain dense layer: per-source forward weights map the (masked) source
// activations to the layer width, the bias and nonlinearity are applied, and the result runs
// through the output pipeline.
type ForwardLayer struct {
	*Layer
	wIn []*gorgonia.Node
}

// NewForwardLayer builds a dense layer over the argument sources.
func NewForwardLayer(args ForwardLayerArgs) (*ForwardLayer, error) {
	if args.Class == "" {
		args.Class = "hidden"
	}
	if args.Activation == "" {
		args.Activation = "sigmoid"
	}
	act, err := ActivationByName(args.Activation)
	if err != nil {
		return nil, errors.Wrapf(err, "Can't build forward layer %q", args.Name)
	}
	base, err := NewLayer(args.LayerArgs)
	if err != nil {
		return nil, err
	}
	l := &ForwardLayer{Layer: base}
	l.attrs.Set("activation", args.Activation)

	z, wIn, err := l.linearForwardOutput()
	if err != nil {
		return nil, errors.Wrapf(err, "Can't build the input map of %q", l.name)
	}
	l.wIn = wIn
	h, err := act(z)
	if err != nil {
		return nil, errors.Wrapf(err, "Can't activate layer %q", l.name)
	}
	if err := l.MakeOutput(h, true); err != nil {
		return nil, errors.Wrapf(err, "Can't finish forward layer %q", l.name)
	}
	return l, nil
}

// ForwardWeights returns the per-source input weight nodes, ordered like Sources.
func (l *ForwardLayer) ForwardWeights() []*gorgonia.Node { return l.wIn }

// linearForwardOutput builds z = b + sum over sources of dot(mass * mask * x, W_in), allocating
// one forward weight per source. Sparse sources contribute an embedding lookup instead of a
// product. The returned weight nodes are ordered like the sources.
func (l *Layer) linearForwardOutput() (*gorgonia.Node, []*gorgonia.Node, error) {
	if len(l.sources) == 0 {
		return nil, nil, Configf("layer %q needs at least one source", l.name)
	}

	var z *gorgonia.Node
	addTerm := func(term *gorgonia.Node) (err error) {
		if z == nil {
			z = term
			return nil
		}
		z, err = gorgonia.Add(z, term)
		return err
	}

	wIn := make([]*gorgonia.Node, len(l.sources))
	for i, s := range l.sources {
		name := fmt.Sprintf("W_in_%s_%s", s.LayerName(), l.name)
		w, err := l.CreateForwardWeights(s.NOut(), l.nOut, name)
		if err != nil {
			return nil, nil, err
		}
		w = l.AddParam(w, name)
		wIn[i] = w

		if s.IsSparse() {
			widths := []int{l.nOut}
			if l.depth > 1 {
				widths = []int{l.depth, l.nOut}
			}
			emb, err := embedRows(w, s.OutputNode(), widths...)
			if err != nil {
				return nil, nil, errors.Wrapf(err, "Can't embed sparse source %q", s.LayerName())
			}
			if err := addTerm(emb); err != nil {
				return nil, nil, err
			}
			continue
		}

		x := s.OutputNode()
		if m := l.masks[i]; m != nil {
			if l.depth > 1 {
				// The mask multiplies the contracted axis, so applying it to the weight is
				// the same product, with one feature draw per depth copy.
				md, err := gorgonia.Reshape(m, []int{s.NOut(), l.depth, 1})
				if err != nil {
					return nil, nil, err
				}
				if w, err = gorgonia.BroadcastHadamardProd(w, md, nil, []byte{2}); err != nil {
					return nil, nil, err
				}
			} else {
				m3, err := gorgonia.Reshape(m, []int{1, 1, s.NOut()})
				if err != nil {
					return nil, nil, err
				}
				if x, err = gorgonia.BroadcastHadamardProd(x, m3, nil, []byte{0, 1}); err != nil {
					return nil, nil, err
				}
			}
			if x, err = gorgonia.Mul(l.scalar(l.mass), x); err != nil {
				return nil, nil, err
			}
		}
		term, err := dot(x, w)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "Can't map source %q", s.LayerName())
		}
		if err := addTerm(term); err != nil {
			return nil, nil, err
		}
	}

	if l.b == nil {
		return z, wIn, nil
	}
	shape := make([]int, z.Shape().Dims())
	for i := range shape {
		shape[i] = 1
	}
	copy(shape[len(shape)-l.b.Shape().Dims():], l.b.Shape())
	b, err := gorgonia.Reshape(l.b, shape)
	if err != nil {
		return nil, nil, err
	}
	if z, err = gorgonia.BroadcastAdd(z, b, nil, []byte{0, 1}); err != nil {
		return nil, nil, err
	}
	return z, wIn, nil
}
