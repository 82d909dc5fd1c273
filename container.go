package returnn

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// ParamResolver intercepts parameter registration, keyed by (layer name, parameter name). It
// returns a substitute node to alias an existing parameter (sharing/tying across layers), or nil
// to let the layer allocate fresh storage. The layer registering an aliased parameter does not
// own its storage and only forwards reads and writes.
type ParamResolver func(layerName, paramName string, param *gorgonia.Node) *gorgonia.Node

// ContainerArgs holds the construction arguments common to every layer.
type ContainerArgs struct {
	Graph *gorgonia.ExprGraph
	Name  string
	Class string

	// DType is the floating dtype of all parameters. Defaults to tensor.Float64.
	DType tensor.Dtype

	// RNG drives every initializer and construction-time random draw of this layer. It is
	// threaded in explicitly; reproducibility across layers follows from the documented
	// construction order of the network builder.
	RNG *rand.Rand

	Depth     int    // number of ensemble copies, default 1
	Consensus string // depth-collapse strategy, default "flat"
	TrainFlag bool

	ForwardWeightsInit   *WeightInit // default random_normal
	RecurrentWeightsInit *WeightInit // default random_uniform
	BiasInit             *WeightInit // default zeros

	Resolver ParamResolver
}

// Container is the base of every layer: it owns the named parameters, the attribute map, and the
// initialization policies. Layer and RecurrentLayer build on it.
type Container struct {
	graph *gorgonia.ExprGraph
	name  string
	class string
	dt    tensor.Dtype
	rng   *rand.Rand
	depth int

	trainFlag bool

	attrs    Attrs
	params   map[string]*gorgonia.Node
	resolver ParamResolver

	fwInit, recInit, biasInit Initializer
}

func newContainer(args ContainerArgs) (*Container, error) {
	if args.Graph == nil {
		return nil, NilArgError{"Graph"}
	}
	if args.RNG == nil {
		return nil, NilArgError{"RNG"}
	}
	if args.Name == "" {
		return nil, Configf(`layer name cannot be ""`)
	}
	if args.DType == nil {
		args.DType = tensor.Float64
	}
	if args.Depth == 0 {
		args.Depth = 1
	}
	if args.Consensus == "" {
		args.Consensus = "flat"
	}
	if !consensusStrategies[args.Consensus] {
		return nil, errors.Wrapf(ErrUnknownConsensus, "%q", args.Consensus)
	}

	c := &Container{
		graph:     args.Graph,
		name:      args.Name,
		class:     args.Class,
		dt:        args.DType,
		rng:       args.RNG,
		depth:     args.Depth,
		trainFlag: args.TrainFlag,
		attrs:     make(Attrs),
		params:    make(map[string]*gorgonia.Node),
		resolver:  args.Resolver,
	}

	if args.Depth != 1 {
		c.attrs.Set("depth", args.Depth)
	}
	if args.Consensus != "flat" {
		c.attrs.Set("consensus", args.Consensus)
	}

	var err error
	if c.fwInit, err = resolveInit(args.ForwardWeightsInit, "random_normal"); err != nil {
		return nil, errors.Wrapf(err, "Can't resolve forward weights initializer for %q", c.name)
	}
	if c.recInit, err = resolveInit(args.RecurrentWeightsInit, "random_uniform"); err != nil {
		return nil, errors.Wrapf(err, "Can't resolve recurrent weights initializer for %q", c.name)
	}
	if c.biasInit, err = resolveInit(args.BiasInit, "zeros"); err != nil {
		return nil, errors.Wrapf(err, "Can't resolve bias initializer for %q", c.name)
	}
	if args.ForwardWeightsInit != nil {
		c.attrs.Set("forward_weights_init", args.ForwardWeightsInit.Name)
	}
	if args.RecurrentWeightsInit != nil {
		c.attrs.Set("recurrent_weights_init", args.RecurrentWeightsInit.Name)
	}
	if args.BiasInit != nil {
		c.attrs.Set("bias_init", args.BiasInit.Name)
	}

	return c, nil
}

func resolveInit(spec *WeightInit, def string) (Initializer, error) {
	if spec == nil {
		spec = &WeightInit{Name: def}
	}
	return NewInitializer(*spec)
}

// Name returns the unique name of the layer.
func (c *Container) Name() string { return c.name }

// Class returns the layer class string, e.g. "rec".
func (c *Container) Class() string { return c.class }

// Graph returns the expression graph the layer builds its output on.
func (c *Container) Graph() *gorgonia.ExprGraph { return c.graph }

// DType returns the floating dtype of the layer's parameters.
func (c *Container) DType() tensor.Dtype { return c.dt }

// Depth returns the ensemble depth of the layer (1 for ordinary layers).
func (c *Container) Depth() int { return c.depth }

// TrainFlag reports whether the layer was built for training.
func (c *Container) TrainFlag() bool { return c.trainFlag }

// Attrs returns the attribute map. Mutate only during construction.
func (c *Container) Attrs() Attrs { return c.attrs }

// SetAttr stores an attribute; see Attrs.Set.
func (c *Container) SetAttr(name string, value interface{}) { c.attrs.Set(name, value) }

// AddParam registers a parameter node under a unique name. If a resolver was supplied at
// construction and intercepts the (layer, name) pair, the substitute node is returned instead
// and the layer does not own storage for it. Registering a name twice replaces the previous
// entry, which is how loading re-binds parameters.
func (c *Container) AddParam(param *gorgonia.Node, name string) *gorgonia.Node {
	if param == nil {
		panic(NilArgError{"param"})
	}
	if name == "" {
		name = param.Name()
	}
	if name == "" {
		name = fmt.Sprintf("param_%d", len(c.params))
	}
	if c.resolver != nil {
		if substitute := c.resolver(c.name, name, param); substitute != nil {
			return substitute
		}
	}
	c.params[name] = param
	return param
}

// Param returns the parameter registered under name, or nil.
func (c *Container) Param(name string) *gorgonia.Node { return c.params[name] }

// ParamNames returns the registered parameter names in a well-defined (sorted) order.
func (c *Container) ParamNames() []string {
	names := make([]string, 0, len(c.params))
	for name := range c.params {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ParamNodes returns the parameter nodes sorted by name, for handing to an optimizer.
func (c *Container) ParamNodes() []*gorgonia.Node {
	names := c.ParamNames()
	nodes := make([]*gorgonia.Node, len(names))
	for i, name := range names {
		nodes[i] = c.params[name]
	}
	return nodes
}

// ParamsDict returns the current value of every parameter, keyed by name.
func (c *Container) ParamsDict() map[string]tensor.Tensor {
	out := make(map[string]tensor.Tensor, len(c.params))
	for name, node := range c.params {
		out[name] = node.Value().(tensor.Tensor)
	}
	return out
}

// SetParamsDict assigns values to parameters by name. Every named parameter must exist and the
// shapes must match exactly; a ShapeMismatchError aborts the assignment of that parameter.
func (c *Container) SetParamsDict(params map[string]tensor.Tensor) error {
	for name, value := range params {
		node, ok := c.params[name]
		if !ok {
			return errors.Errorf("In %q, no parameter named %q", c.name, name)
		}
		if !node.Shape().Eq(value.Shape()) {
			return ShapeMismatchError{Param: name, Want: []int(node.Shape()), Got: []int(value.Shape())}
		}
		if err := gorgonia.Let(node, value); err != nil {
			return errors.Wrapf(err, "Can't assign parameter %q in %q", name, c.name)
		}
	}
	return nil
}

// NumParams returns the total number of scalar values across all parameters of the layer.
func (c *Container) NumParams() int {
	total := 0
	for _, node := range c.params {
		total += node.Shape().TotalSize()
	}
	return total
}

// newParamNode wraps an initialized tensor in a graph input node.
func (c *Container) newParamNode(name string, value tensor.Tensor) *gorgonia.Node {
	return gorgonia.NodeFromAny(c.graph, value, gorgonia.WithName(name))
}

// CreateBias creates a bias parameter node of shape (n,), or (depth, n) when depth > 1, using
// the layer's bias initializer.
func (c *Container) CreateBias(n int, prefix, name string) (*gorgonia.Node, error) {
	if name == "" {
		if prefix == "" {
			prefix = "b"
		}
		name = fmt.Sprintf("%s_%s", prefix, c.name)
	}
	shape := []int{n}
	if c.depth > 1 {
		shape = []int{c.depth, n}
	}
	value, err := c.biasInit.Init(c.rng, c.dt, shape...)
	if err != nil {
		return nil, errors.Wrapf(err, "Can't initialize bias %q", name)
	}
	return c.newParamNode(name, value), nil
}

func (c *Container) createWeights(init Initializer, n, m int, name string) (*gorgonia.Node, error) {
	shape := []int{n, m}
	if c.depth > 1 {
		shape = []int{n, c.depth, m}
	}
	value, err := init.Init(c.rng, c.dt, shape...)
	if err != nil {
		return nil, errors.Wrapf(err, "Can't initialize weights %q with %q", name, init.TypeString())
	}
	if !value.Shape().Eq(tensor.Shape(shape)) {
		return nil, ShapeMismatchError{Param: name, Want: shape, Got: []int(value.Shape())}
	}
	return c.newParamNode(name, value), nil
}

// CreateForwardWeights creates an (n, m) weight parameter (with a middle depth axis when
// depth > 1) using the layer's forward weights initializer.
func (c *Container) CreateForwardWeights(n, m int, name string) (*gorgonia.Node, error) {
	if name == "" {
		name = fmt.Sprintf("W_%s_%d", c.name, len(c.params))
	}
	return c.createWeights(c.fwInit, n, m, name)
}

// CreateRecurrentWeights is CreateForwardWeights with the recurrent weights initializer.
func (c *Container) CreateRecurrentWeights(n, m int, name string) (*gorgonia.Node, error) {
	if name == "" {
		name = fmt.Sprintf("W_re_%s_%d", c.name, len(c.params))
	}
	return c.createWeights(c.recInit, n, m, name)
}

// RandomUniformWeights draws an (n, m) weight with U(-sqrt(6/p), sqrt(6/p)) regardless of the
// configured policy. Several layer internals (depth projection, reset gates, LM embeddings) fix
// this scheme by construction.
func (c *Container) RandomUniformWeights(n, m, p int, name string) (*gorgonia.Node, error) {
	init, err := NewInitializer(WeightInit{Name: "random_uniform", Params: map[string]float64{"p": float64(p)}})
	if err != nil {
		return nil, err
	}
	value, err := init.Init(c.rng, c.dt, n, m)
	if err != nil {
		return nil, errors.Wrapf(err, "Can't initialize weights %q", name)
	}
	return c.newParamNode(name, value), nil
}

// dot contracts the last axis of x with the first axis of w. For plain matrices this is a matrix
// product; higher ranks (time-major inputs, depth weights) go through tensordot.
func dot(x, w *gorgonia.Node) (*gorgonia.Node, error) {
	if x.Shape().Dims() == 2 && w.Shape().Dims() == 2 {
		return gorgonia.Mul(x, w)
	}
	return gorgonia.Tensordot([]int{x.Shape().Dims() - 1}, []int{0}, x, w)
}
