package returnn

import (
	"fmt"
	"math/rand"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// A Source is anything a layer can read its input from: another layer's output, or a SourceLayer
// wrapping raw network input. Outputs are time-major, (time, batch, feature) for dense sources
// and (time, batch) integer ids for sparse ones.
type Source interface {
	LayerName() string
	OutputNode() *gorgonia.Node
	OutputIndex() *gorgonia.Node
	NOut() int
	IsSparse() bool
}

// SourceLayerArgs configures a SourceLayer.
type SourceLayerArgs struct {
	Graph  *gorgonia.ExprGraph
	Name   string
	NOut   int
	Output *gorgonia.Node // external data node, (time, batch, n_out) or (time, batch) when sparse
	Index  *gorgonia.Node // (time, batch) 0/1 flags
	Sparse bool
	Delay  int
}

// SourceLayer wraps an external data tensor so it can act as a layer source. It owns no
// parameters and contributes no cost or constraints.
type SourceLayer struct {
	*Container
	output *gorgonia.Node
	index  *gorgonia.Node
	nOut   int
	sparse bool
}

// NewSourceLayer builds a SourceLayer. A non-zero delay shifts the sequence forward in time,
// filling the first delay frames with zeros.
func NewSourceLayer(args SourceLayerArgs) (*SourceLayer, error) {
	if args.Output == nil {
		return nil, NilArgError{"Output"}
	}
	c, err := newContainer(ContainerArgs{
		Graph: args.Graph,
		Name:  args.Name,
		Class: "source",
		RNG:   rand.New(rand.NewSource(0)), // never drawn from: no parameters
	})
	if err != nil {
		return nil, err
	}

	out := args.Output
	if args.Delay > 0 {
		shape := out.Shape()
		if args.Delay >= shape[0] {
			return nil, Configf("delay %d exceeds sequence length %d", args.Delay, shape[0])
		}
		zShape := append([]int{args.Delay}, shape[1:]...)
		pad := gorgonia.NodeFromAny(c.graph,
			tensor.New(tensor.Of(out.Dtype()), tensor.WithShape(zShape...)),
			gorgonia.WithName(fmt.Sprintf("%s.delay_pad", args.Name)))
		head, err := gorgonia.Slice(out, gorgonia.S(0, shape[0]-args.Delay))
		if err != nil {
			return nil, errors.Wrapf(err, "Can't delay source %q", args.Name)
		}
		if out, err = gorgonia.Concat(0, pad, head); err != nil {
			return nil, errors.Wrapf(err, "Can't delay source %q", args.Name)
		}
	}

	c.attrs.Set("n_out", args.NOut)
	c.attrs.Set("sparse", args.Sparse)
	c.attrs.Set("delay", args.Delay)
	return &SourceLayer{Container: c, output: out, index: args.Index, nOut: args.NOut, sparse: args.Sparse}, nil
}

// LayerName implements Source.
func (s *SourceLayer) LayerName() string { return s.name }

// OutputNode implements Source.
func (s *SourceLayer) OutputNode() *gorgonia.Node { return s.output }

// OutputIndex implements Source.
func (s *SourceLayer) OutputIndex() *gorgonia.Node { return s.index }

// NOut implements Source.
func (s *SourceLayer) NOut() int { return s.nOut }

// IsSparse implements Source.
func (s *SourceLayer) IsSparse() bool { return s.sparse }

// MakeConstraints returns nil: source layers have no parameters.
func (s *SourceLayer) MakeConstraints() *gorgonia.Node { return nil }

// Cost returns no cost: source layers are not trained against anything.
func (s *SourceLayer) Cost() (*gorgonia.Node, map[*gorgonia.Node]*gorgonia.Node, error) {
	return nil, nil, nil
}

// LayerArgs configures a Layer.
type LayerArgs struct {
	ContainerArgs

	Sources []Source
	NOut    int

	// Index is the (time, batch) tensor of 0/1 flags marking valid timesteps.
	Index *gorgonia.Node

	// Targets maps target keys to (time, batch) integer label nodes; TargetNOut gives the
	// number of classes per key. Used by the language-model path of recurrent layers.
	Targets    map[string]*gorgonia.Node
	TargetNOut map[string]int
	Target     string

	L1, L2, L2Eye, VarReg float64
	CostScale             float64 // default 1

	// Mask is "unity" (default), "dropout", or "none". Dropout in (0,1) with mask "dropout"
	// (or "none") draws a per-source Bernoulli mask and rescales by 1/(1-dropout).
	Mask    string
	Dropout float64

	DisableBias     bool
	BatchNorm       bool
	Residual        bool
	LayerDrop       float64
	Sparse          bool
	SparseFiltering bool
}

// Layer is the generic non-recurrent layer: per-layer bookkeeping (masking, regularization
// accumulator) plus the output post-processing pipeline. RecurrentLayer builds on it.
type Layer struct {
	*Container

	sources []Source
	index   *gorgonia.Node
	nOut    int

	b     *gorgonia.Node
	mass  float64
	masks []*gorgonia.Node // nil entries mean no masking for that source

	l1, l2, l2eye, varreg float64
	constraints           *gorgonia.Node

	targets    map[string]*gorgonia.Node
	targetNOut map[string]int

	output *gorgonia.Node
}

// NewLayer validates the arguments and builds the layer bookkeeping. The output itself is set
// later through MakeOutput, once the concrete computation (dense transform, recurrence, ...) has
// been wired.
func NewLayer(args LayerArgs) (*Layer, error) {
	if args.Index == nil {
		return nil, NilArgError{"Index"}
	}
	if args.ContainerArgs.Class == "" {
		args.ContainerArgs.Class = "hidden"
	}
	c, err := newContainer(args.ContainerArgs)
	if err != nil {
		return nil, err
	}

	mask := args.Mask
	if mask == "" {
		mask = "unity"
	}
	switch mask {
	case "unity", "dropout", "none":
	default:
		return nil, errors.Wrapf(ErrInvalidMask, "%q", mask)
	}

	l := &Layer{
		Container:  c,
		sources:    args.Sources,
		index:      args.Index,
		nOut:       args.NOut,
		mass:       1,
		masks:      make([]*gorgonia.Node, len(args.Sources)),
		l1:         args.L1,
		l2:         args.L2,
		l2eye:      args.L2Eye,
		varreg:     args.VarReg,
		targets:    args.Targets,
		targetNOut: args.TargetNOut,
	}

	c.attrs.Set("mask", mask)
	c.attrs.Set("dropout", args.Dropout)
	c.attrs.Set("sparse", args.Sparse)
	c.attrs.Set("sparse_filtering", args.SparseFiltering)
	c.attrs.Set("layer_drop", args.LayerDrop)
	c.attrs.Set("residual", args.Residual)
	c.attrs.Set("n_out", args.NOut)
	c.attrs.Set("L1", args.L1)
	c.attrs.Set("L2", args.L2)
	if args.L2Eye > 0 {
		c.attrs.Set("L2_eye", args.L2Eye)
	}
	c.attrs.Set("varreg", args.VarReg)
	c.attrs.Set("batch_norm", args.BatchNorm)
	if args.Target != "" {
		c.attrs.Set("target", args.Target)
	}
	if args.CostScale != 0 && args.CostScale != 1 {
		c.attrs.Set("cost_scale", args.CostScale)
	}

	if !args.DisableBias {
		b, err := c.CreateBias(args.NOut, "b", "")
		if err != nil {
			return nil, err
		}
		l.b = l.AddParam(b, fmt.Sprintf("b_%s", c.name))
	} else {
		c.attrs.Set("with_bias", false)
	}

	if mask == "dropout" || (mask == "none" && args.Dropout > 0) {
		if !(args.Dropout > 0 && args.Dropout < 1) {
			return nil, Configf("dropout rate must be in (0, 1), got %v", args.Dropout)
		}
		// Applying the mass during training keeps E[x] = mass * (1-dropout) = 1, so no
		// separate mask or mass is needed for testing.
		l.mass = 1 / (1 - args.Dropout)
		for i, s := range l.sources {
			shape := []int{s.NOut()}
			if c.depth > 1 {
				shape = []int{s.NOut(), c.depth}
			}
			l.masks[i] = gorgonia.BinomialRandomNode(c.graph, c.dt, 1, 1-args.Dropout, shape...)
		}
	}

	return l, nil
}

// Sources returns the ordered source list.
func (l *Layer) Sources() []Source { return l.sources }

// LayerName implements Source.
func (l *Layer) LayerName() string { return l.name }

// OutputNode implements Source. It is nil until MakeOutput has run.
func (l *Layer) OutputNode() *gorgonia.Node { return l.output }

// OutputIndex implements Source.
func (l *Layer) OutputIndex() *gorgonia.Node { return l.index }

// NOut implements Source.
func (l *Layer) NOut() int { return l.Attrs().Int("n_out") }

// IsSparse implements Source.
func (l *Layer) IsSparse() bool { return l.Attrs().Bool("sparse") }

// Mass returns the inverse-keep-probability rescale factor applied to dropout-masked source
// activations (1 when no dropout is configured).
func (l *Layer) Mass() float64 { return l.mass }

// SourceMasks returns the per-source dropout mask nodes; entries are nil when the source is not
// masked.
func (l *Layer) SourceMasks() []*gorgonia.Node { return l.masks }

// Bias returns the bias parameter, or nil when the layer was built without one.
func (l *Layer) Bias() *gorgonia.Node { return l.b }

// Target returns the label node and class count for the layer's configured target key.
func (l *Layer) Target(key string) (*gorgonia.Node, int) {
	if l.targets == nil {
		return nil, 0
	}
	return l.targets[key], l.targetNOut[key]
}

// AddParam registers a parameter like Container.AddParam and additionally accumulates the
// layer's regularization terms for it.
func (l *Layer) AddParam(param *gorgonia.Node, name string) *gorgonia.Node {
	return l.addParam(param, name, true)
}

// AddParamUnconstrained registers a parameter without regularization terms.
func (l *Layer) AddParamUnconstrained(param *gorgonia.Node, name string) *gorgonia.Node {
	return l.addParam(param, name, false)
}

func (l *Layer) addParam(param *gorgonia.Node, name string, constrained bool) *gorgonia.Node {
	param = l.Container.AddParam(param, name)
	if !constrained {
		return param
	}
	if l.l1 > 0 {
		l.addConstraint(scale(l.scalar(l.l1), sumAll(absNode(param))))
	}
	if l.l2 > 0 {
		l.addConstraint(scale(l.scalar(l.l2), sumAll(squareNode(param))))
	}
	if l.l2eye > 0 {
		if param.Shape().Dims() == 2 {
			eyeNode := gorgonia.NodeFromAny(l.graph,
				eyeTensor(l.dt, param.Shape()[0], param.Shape()[1]),
				gorgonia.WithName(fmt.Sprintf("%s.eye_%s", l.name, name)))
			dev := gorgonia.Must(gorgonia.Sub(param, eyeNode))
			l.addConstraint(scale(l.scalar(l.l2eye), sumAll(squareNode(dev))))
		} else {
			// degrades to plain L2 on non-matrix parameters
			l.addConstraint(scale(l.scalar(l.l2eye), sumAll(squareNode(param))))
		}
	}
	if l.varreg > 0 {
		size := param.Shape().TotalSize()
		sd := gorgonia.Must(gorgonia.Sqrt(varAll(param)))
		dev := gorgonia.Must(gorgonia.Sub(sd, l.scalar(1/float64(size))))
		l.addConstraint(scale(l.scalar(l.varreg), squareNode(dev)))
	}
	return param
}

func (l *Layer) addConstraint(term *gorgonia.Node) {
	if l.constraints == nil {
		l.constraints = term
		return
	}
	l.constraints = gorgonia.Must(gorgonia.Add(l.constraints, term))
}

// MakeConstraints returns the accumulated scalar regularization term, or nil when the layer has
// none.
func (l *Layer) MakeConstraints() *gorgonia.Node { return l.constraints }

var consensusStrategies = map[string]bool{
	"flat": true, "max": true, "min": true, "mean": true, "sum": true,
	"prod": true, "var": true, "project": true, "random": true,
}

// MakeConsensus reduces the depth axis of x according to the layer's consensus strategy.
func (l *Layer) MakeConsensus(x *gorgonia.Node, axis int) (*gorgonia.Node, error) {
	cns := "flat"
	if v := l.Attrs().String("consensus"); v != "" {
		cns = v
	}
	switch cns {
	case "max":
		return gorgonia.Max(x, axis)
	case "min":
		neg, err := gorgonia.Neg(x)
		if err != nil {
			return nil, err
		}
		max, err := gorgonia.Max(neg, axis)
		if err != nil {
			return nil, err
		}
		return gorgonia.Neg(max)
	case "mean":
		return gorgonia.Mean(x, axis)
	case "sum":
		return gorgonia.Sum(x, axis)
	case "prod":
		acc, err := sliceAxis(x, axis, 0)
		if err != nil {
			return nil, err
		}
		for d := 1; d < x.Shape()[axis]; d++ {
			s, err := sliceAxis(x, axis, d)
			if err != nil {
				return nil, err
			}
			if acc, err = gorgonia.HadamardProd(acc, s); err != nil {
				return nil, err
			}
		}
		return acc, nil
	case "var":
		sq, err := gorgonia.Mean(gorgonia.Must(gorgonia.Square(x)), axis)
		if err != nil {
			return nil, err
		}
		mu, err := gorgonia.Mean(x, axis)
		if err != nil {
			return nil, err
		}
		return gorgonia.Sub(sq, gorgonia.Must(gorgonia.Square(mu)))
	case "flat":
		if l.depth == 1 {
			return x, nil
		}
		shape := x.Shape()
		merged := append([]int{}, shape[:axis]...)
		tail := 1
		for _, d := range shape[axis:] {
			tail *= d
		}
		merged = append(merged, tail)
		return gorgonia.Reshape(x, merged)
	case "project":
		init, err := NewInitializer(WeightInit{
			Name:   "random_uniform",
			Params: map[string]float64{"p": float64(l.nOut + l.depth + 1)},
		})
		if err != nil {
			return nil, err
		}
		value, err := init.Init(l.rng, l.dt, l.depth)
		if err != nil {
			return nil, err
		}
		p := l.AddParam(l.newParamNode(fmt.Sprintf("W_proj_%s", l.name), value), fmt.Sprintf("W_proj_%s", l.name))
		return gorgonia.Tensordot([]int{axis}, []int{0}, x, p)
	case "random":
		return sliceAxis(x, axis, l.rng.Intn(x.Shape()[axis]))
	}
	return nil, errors.Wrapf(ErrUnknownConsensus, "%q", cns)
}

// BatchNorm normalizes h over the batch axis (per-batch mean and standard deviation with a 1e-10
// epsilon), with an optional learned scale and shift.
func (l *Layer) BatchNorm(h *gorgonia.Node, dim int, useShift, useStd bool) (*gorgonia.Node, error) {
	shape := h.Shape()
	if len(shape) != 3 {
		return nil, Configf("batch norm expects a (time, batch, feature) tensor, got %v", shape)
	}
	t, f := shape[0], shape[2]

	mu, err := gorgonia.Mean(h, 1)
	if err != nil {
		return nil, err
	}
	if mu, err = gorgonia.Reshape(mu, []int{t, 1, f}); err != nil {
		return nil, err
	}
	dev, err := gorgonia.BroadcastSub(h, mu, nil, []byte{1})
	if err != nil {
		return nil, err
	}
	variance, err := gorgonia.Mean(gorgonia.Must(gorgonia.Square(dev)), 1)
	if err != nil {
		return nil, err
	}
	sd, err := gorgonia.Sqrt(variance)
	if err != nil {
		return nil, err
	}
	if sd, err = gorgonia.Add(sd, l.scalar(1e-10)); err != nil {
		return nil, err
	}
	if sd, err = gorgonia.Reshape(sd, []int{t, 1, f}); err != nil {
		return nil, err
	}
	bn, err := gorgonia.BroadcastHadamardDiv(dev, sd, nil, []byte{1})
	if err != nil {
		return nil, err
	}

	if useStd {
		gamma := l.AddParam(l.newParamNode(fmt.Sprintf("%s_gamma", l.name), fillTensor(l.dt, 0.1, dim)),
			fmt.Sprintf("%s_gamma", l.name))
		g3, err := gorgonia.Reshape(gamma, []int{1, 1, dim})
		if err != nil {
			return nil, err
		}
		if bn, err = gorgonia.BroadcastHadamardProd(bn, g3, nil, []byte{0, 1}); err != nil {
			return nil, err
		}
	}
	if useShift {
		beta := l.AddParam(l.newParamNode(fmt.Sprintf("%s_beta", l.name), fillTensor(l.dt, 0, dim)),
			fmt.Sprintf("%s_beta", l.name))
		b3, err := gorgonia.Reshape(beta, []int{1, 1, dim})
		if err != nil {
			return nil, err
		}
		if bn, err = gorgonia.BroadcastAdd(bn, b3, nil, []byte{0, 1}); err != nil {
			return nil, err
		}
	}
	return bn, nil
}

// MakeOutput feeds the computed activation through the output pipeline: consensus collapse,
// batch norm, residual add, layer drop, sparse argmax, sparse filtering. Each stage is
// optional but the order is fixed. The result becomes the layer's output.
func (l *Layer) MakeOutput(output *gorgonia.Node, collapse bool) error {
	if output == nil {
		return NilArgError{"output"}
	}
	var err error

	if collapse && l.depth > 1 {
		if output, err = l.MakeConsensus(output, 2); err != nil {
			return errors.Wrapf(err, "Can't collapse depth of layer %q", l.name)
		}
		if l.Attrs().String("consensus") == "" { // flat
			l.attrs.Set("n_out", l.Attrs().Int("n_out")*l.depth)
		}
	}

	if l.Attrs().Bool("batch_norm") {
		if output, err = l.BatchNorm(output, l.Attrs().Int("n_out"), true, true); err != nil {
			return errors.Wrapf(err, "Can't batch-normalize layer %q", l.name)
		}
	}

	if l.Attrs().Bool("residual") {
		z, nIn, err := l.concatDenseSources()
		if err != nil {
			return errors.Wrapf(err, "Can't build residual input of layer %q", l.name)
		}
		if nIn != l.Attrs().Int("n_out") {
			return Configf("residual requires source width %d to match output width %d", nIn, l.Attrs().Int("n_out"))
		}
		if output, err = gorgonia.Add(output, z); err != nil {
			return errors.Wrapf(err, "Can't add residual of layer %q", l.name)
		}
	}

	if drop := l.Attrs().Float("layer_drop"); drop > 0 {
		if output, err = l.layerDrop(output, drop); err != nil {
			return errors.Wrapf(err, "Can't apply layer drop to layer %q", l.name)
		}
	}

	if l.Attrs().Bool("sparse") {
		am, err := gorgonia.Argmax(output, output.Shape().Dims()-1)
		if err != nil {
			return errors.Wrapf(err, "Can't collapse sparse output of layer %q", l.name)
		}
		shape := append([]int{}, am.Shape()...)
		shape = append(shape, 1)
		if output, err = gorgonia.Reshape(am, shape); err != nil {
			return errors.Wrapf(err, "Can't collapse sparse output of layer %q", l.name)
		}
	}

	if l.Attrs().Bool("sparse_filtering") {
		if output, err = l.sparseFilter(output); err != nil {
			return errors.Wrapf(err, "Can't sparse-filter layer %q", l.name)
		}
	}

	l.output = output
	return nil
}

// layerDrop implements stochastic depth: during training the computed output is replaced by the
// (projected) source input with probability drop, redrawn per execution; during inference the
// two paths are blended with the fixed weight drop.
func (l *Layer) layerDrop(output *gorgonia.Node, drop float64) (*gorgonia.Node, error) {
	z, nIn, err := l.concatDenseSources()
	if err != nil {
		return nil, err
	}
	nOut := l.Attrs().Int("n_out")
	if nIn != nOut {
		logrus.Infof("Layer drop with additional projection %d -> %d", nIn, nOut)
		w, err := l.CreateForwardWeights(nIn, nOut, fmt.Sprintf("W_drop_%s", l.name))
		if err != nil {
			return nil, err
		}
		w = l.AddParam(w, fmt.Sprintf("W_drop_%s", l.name))
		if z, err = dot(z, w); err != nil {
			return nil, err
		}
	}

	if l.trainFlag {
		draw := gorgonia.BinomialRandomNode(l.graph, l.dt, 1, drop, 1)
		gate, err := gorgonia.Slice(draw, gorgonia.S(0))
		if err != nil {
			return nil, err
		}
		keep, err := gorgonia.Sub(l.scalar(1), gate)
		if err != nil {
			return nil, err
		}
		// gate is 0 or 1, so this is an exact either/or per execution.
		return gorgonia.Add(scale(gate, z), scale(keep, output))
	}
	return gorgonia.Add(scale(l.scalar(drop), z), scale(l.scalar(1-drop), output))
}

func (l *Layer) sparseFilter(output *gorgonia.Node) (*gorgonia.Node, error) {
	shape := output.Shape()
	if len(shape) != 3 {
		return nil, Configf("sparse filtering expects a (time, batch, feature) tensor, got %v", shape)
	}
	t, b, f := shape[0], shape[1], shape[2]

	fs, err := gorgonia.Sqrt(gorgonia.Must(gorgonia.Add(gorgonia.Must(gorgonia.Square(output)), l.scalar(1e-8))))
	if err != nil {
		return nil, err
	}
	l2Rows, err := gorgonia.Sqrt(gorgonia.Must(gorgonia.Sum(gorgonia.Must(gorgonia.Square(fs)), 1)))
	if err != nil {
		return nil, err
	}
	if l2Rows, err = gorgonia.Reshape(l2Rows, []int{t, 1, f}); err != nil {
		return nil, err
	}
	nfs, err := gorgonia.BroadcastHadamardDiv(fs, l2Rows, nil, []byte{1})
	if err != nil {
		return nil, err
	}
	l2Cols, err := gorgonia.Sqrt(gorgonia.Must(gorgonia.Sum(gorgonia.Must(gorgonia.Square(nfs)), 0)))
	if err != nil {
		return nil, err
	}
	if l2Cols, err = gorgonia.Reshape(l2Cols, []int{1, b, f}); err != nil {
		return nil, err
	}
	return gorgonia.BroadcastHadamardDiv(nfs, l2Cols, nil, []byte{0})
}

// concatDenseSources concatenates the source outputs along the feature axis, returning the
// concatenation and its total width. Sparse sources cannot participate.
func (l *Layer) concatDenseSources() (*gorgonia.Node, int, error) {
	if len(l.sources) == 0 {
		return nil, 0, Configf("layer %q has no sources to concatenate", l.name)
	}
	nodes := make([]*gorgonia.Node, 0, len(l.sources))
	width := 0
	for _, s := range l.sources {
		if s.IsSparse() {
			return nil, 0, Configf("source %q is sparse and cannot be concatenated densely", s.LayerName())
		}
		nodes = append(nodes, s.OutputNode())
		width += s.NOut()
	}
	if len(nodes) == 1 {
		return nodes[0], width, nil
	}
	cat, err := gorgonia.Concat(nodes[0].Shape().Dims()-1, nodes...)
	if err != nil {
		return nil, 0, err
	}
	return cat, width, nil
}

// Cost returns the optional training loss and optional externally-fixed gradients of the layer.
// The base layer has neither.
func (l *Layer) Cost() (*gorgonia.Node, map[*gorgonia.Node]*gorgonia.Node, error) {
	return nil, nil, nil
}

// CostScale returns the configured cost scale (1 by default).
func (l *Layer) CostScale() float64 {
	if v := l.Attrs().Float("cost_scale"); v != 0 {
		return v
	}
	return 1
}

// scalar returns a scalar constant node of the layer's dtype.
func (c *Container) scalar(v float64) *gorgonia.Node {
	if c.dt == tensor.Float32 {
		return gorgonia.NewScalar(c.graph, c.dt, gorgonia.WithValue(float32(v)))
	}
	return gorgonia.NewScalar(c.graph, c.dt, gorgonia.WithValue(v))
}

func absNode(n *gorgonia.Node) *gorgonia.Node    { return gorgonia.Must(gorgonia.Abs(n)) }
func squareNode(n *gorgonia.Node) *gorgonia.Node { return gorgonia.Must(gorgonia.Square(n)) }
func sumAll(n *gorgonia.Node) *gorgonia.Node     { return gorgonia.Must(gorgonia.Sum(n)) }

func scale(s, n *gorgonia.Node) *gorgonia.Node { return gorgonia.Must(gorgonia.Mul(s, n)) }

func varAll(n *gorgonia.Node) *gorgonia.Node {
	sq := gorgonia.Must(gorgonia.Mean(squareNode(n)))
	mu := gorgonia.Must(gorgonia.Mean(n))
	return gorgonia.Must(gorgonia.Sub(sq, squareNode(mu)))
}

// sliceAxis takes the i-th slice of x along the given axis, dropping that axis.
func sliceAxis(x *gorgonia.Node, axis, i int) (*gorgonia.Node, error) {
	slices := make([]tensor.Slice, axis+1)
	for a := 0; a < axis; a++ {
		slices[a] = gorgonia.S(0, x.Shape()[a])
	}
	slices[axis] = gorgonia.S(i)
	return gorgonia.Slice(x, slices...)
}

func eyeTensor(dt tensor.Dtype, n, m int) tensor.Tensor {
	if dt == tensor.Float32 {
		backing := make([]float32, n*m)
		for i := 0; i < n && i < m; i++ {
			backing[i*m+i] = 1
		}
		return tensor.New(tensor.WithShape(n, m), tensor.WithBacking(backing))
	}
	backing := make([]float64, n*m)
	for i := 0; i < n && i < m; i++ {
		backing[i*m+i] = 1
	}
	return tensor.New(tensor.WithShape(n, m), tensor.WithBacking(backing))
}

func fillTensor(dt tensor.Dtype, v float64, dims ...int) tensor.Tensor {
	size := 1
	for _, d := range dims {
		size *= d
	}
	if dt == tensor.Float32 {
		backing := make([]float32, size)
		for i := range backing {
			backing[i] = float32(v)
		}
		return tensor.New(tensor.WithShape(dims...), tensor.WithBacking(backing))
	}
	backing := make([]float64, size)
	for i := range backing {
		backing[i] = v
	}
	return tensor.New(tensor.WithShape(dims...), tensor.WithBacking(backing))
}
