// Package transforms implements recurrent transforms and registers them with the root package.
// Currently that is "attention_dot", soft dot-product attention over the layer's base sequences.
//
// Import blank to make the type strings resolvable:
//
//	import _ "github.com/jvhoffbauer/returnn/transforms"
package transforms

import (
	"fmt"

	rt "github.com/jvhoffbauer/returnn"
	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func init() {
	rt.RegisterTransform("attention_dot", func() rt.RecurrentTransform { return &attentionDot{} })
}

// attentionDot scores every base position against a projection of the previous output, softmaxes
// the scores over time, and feeds the pooled context back as a bias on the unit input. The
// attention weights of each step are carried (and exposed) through the "att_weights" state
// variable.
type attentionDot struct {
	layer *rt.RecurrentLayer

	base    *gorgonia.Node // (base length, batch, width)
	baseLen int
	width   int

	wRe *gorgonia.Node // (NumOut, width)
	wIn *gorgonia.Node // (width, NumIn)

	vars map[string]*gorgonia.Node
}

func (a *attentionDot) TypeString() string { return "attention_dot" }

func (a *attentionDot) Attach(layer *rt.RecurrentLayer) error {
	sources := layer.BaseSources()
	if len(sources) == 0 {
		return rt.Configf("attention_dot needs a base (or encoders)")
	}
	a.layer = layer

	nodes := make([]*gorgonia.Node, len(sources))
	for i, s := range sources {
		if s.IsSparse() {
			return rt.Configf("attention base %q is sparse", s.LayerName())
		}
		nodes[i] = s.OutputNode()
		a.width += s.NOut()
	}
	a.base = nodes[0]
	if len(nodes) > 1 {
		var err error
		if a.base, err = gorgonia.Concat(2, nodes...); err != nil {
			return errors.Wrap(err, "Can't concatenate the attention base")
		}
	}
	a.baseLen = a.base.Shape()[0]

	dims := layer.Unit().Dims()
	p := dims.NumOut + a.width
	wRe, err := layer.RandomUniformWeights(dims.NumOut, a.width, p, fmt.Sprintf("W_att_re_%s", layer.Name()))
	if err != nil {
		return err
	}
	a.wRe = layer.AddParam(wRe, fmt.Sprintf("W_att_re_%s", layer.Name()))
	wIn, err := layer.RandomUniformWeights(a.width, dims.NumIn, p, fmt.Sprintf("W_att_in_%s", layer.Name()))
	if err != nil {
		return err
	}
	a.wIn = layer.AddParam(wIn, fmt.Sprintf("W_att_in_%s", layer.Name()))

	batches := layer.NumBatches()
	a.vars = map[string]*gorgonia.Node{
		"att_weights": gorgonia.NodeFromAny(layer.Graph(),
			zeroTensor(layer.DType(), batches, a.baseLen),
			gorgonia.WithName(fmt.Sprintf("%s.att_weights0", layer.Name()))),
	}
	return nil
}

func (a *attentionDot) StateVars() map[string]*gorgonia.Node { return a.vars }

func (a *attentionDot) Step(yP *gorgonia.Node, state []*gorgonia.Node) (*gorgonia.Node, []*gorgonia.Node, error) {
	if a.layer == nil {
		return nil, nil, rt.Configf("attention_dot is not attached")
	}
	q, err := gorgonia.Mul(yP, a.wRe) // (batch, width)
	if err != nil {
		return nil, nil, err
	}
	if q, err = gorgonia.Tanh(q); err != nil {
		return nil, nil, err
	}
	batches := q.Shape()[0]
	q3, err := gorgonia.Reshape(q, []int{1, batches, a.width})
	if err != nil {
		return nil, nil, err
	}
	scored, err := gorgonia.BroadcastHadamardProd(a.base, q3, nil, []byte{0})
	if err != nil {
		return nil, nil, err
	}
	scores, err := gorgonia.Sum(scored, 2) // (base length, batch)
	if err != nil {
		return nil, nil, err
	}
	weights, err := gorgonia.SoftMax(scores, 0)
	if err != nil {
		return nil, nil, err
	}
	w3, err := gorgonia.Reshape(weights, []int{a.baseLen, batches, 1})
	if err != nil {
		return nil, nil, err
	}
	weighted, err := gorgonia.BroadcastHadamardProd(a.base, w3, nil, []byte{2})
	if err != nil {
		return nil, nil, err
	}
	context, err := gorgonia.Sum(weighted, 0) // (batch, width)
	if err != nil {
		return nil, nil, err
	}
	bias, err := gorgonia.Mul(context, a.wIn) // (batch, NumIn)
	if err != nil {
		return nil, nil, err
	}
	wOut, err := gorgonia.Transpose(weights, 1, 0) // (batch, base length)
	if err != nil {
		return nil, nil, err
	}
	return bias, []*gorgonia.Node{wOut}, nil
}

func (a *attentionDot) Cost() (*gorgonia.Node, error) { return nil, nil }

func zeroTensor(dt tensor.Dtype, dims ...int) tensor.Tensor {
	return tensor.New(tensor.Of(dt), tensor.WithShape(dims...))
}
