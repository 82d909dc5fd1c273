package returnn

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func init() {
	RegisterLayerClass("rec", "recurrent")
}

// Backend selects which unit implementations the layer may pick when resolving the generic
// "lstm" request: CPU environments always get the elementwise step, GPU environments prefer the
// fused pass when no transform or feedback forces the step-hosting variant.
type Backend int

const (
	CPU Backend = iota
	GPU
)

// RecurrentLayerArgs configures a RecurrentLayer.
type RecurrentLayerArgs struct {
	LayerArgs

	// Unit is the cell type string. "lstm" (the default) resolves by backend and features; an
	// explicit "lstmc"/"lstmp" falls back to "lstme" on CPU.
	Unit    string
	Backend Backend

	// Direction is 1 (default) for forward time order, -1 for reversed.
	Direction int

	// Truncation > 0 cuts gradient flow every that many steps.
	Truncation int

	// Sampling runs the recurrence only every Nth timestep, per stride offset, and interleaves
	// the per-stride outputs back to full length. Default 1.
	Sampling int

	// NDec, when > 0 and the layer has no sources, unfolds the recurrence for that many steps
	// over an all-ones index (generative decoding).
	NDec int

	// Encoders seed this layer's initial states with the final states of upstream recurrent
	// layers, concatenated along the feature axis and scaled by AttentionWeight.
	Encoders        []*RecurrentLayer
	AttentionWeight float64 // default 1

	// Base is the attention base sequence set; defaults to the encoders' outputs.
	Base []Source

	// Transform names the recurrent transform: "none" (default), a registered transform, or
	// "input" for the sequence-level attention bias that needs no per-step state.
	Transform string

	AttentionStore bool
	AttentionAlign bool

	// LM enables language-model feedback against the layer's target labels. DropLM is the
	// probability of dropping the ground-truth label in favor of the model's own prediction
	// during training: 0 (the default) is full teacher forcing, values in (0,1) draw a per-step
	// Bernoulli schedule, and 1 always feeds back the model's own prediction. ForceLM applies
	// the training behavior at evaluation too.
	LM      bool
	ForceLM bool
	DropLM  float64

	// ForgetBiasShift is added to the forget-gate block of the bias at initialization; it
	// requires a 4-gate unit (NumIn == 4*NumUnits).
	ForgetBiasShift float64
}

// RecurrentLayer composes a Layer with a recurrence unit, the scan executor, and an optional
// recurrent transform.
type RecurrentLayer struct {
	*Layer

	unit      Unit
	transform RecurrentTransform
	direction int

	wRe *gorgonia.Node
	wIn []*gorgonia.Node

	encoders []*RecurrentLayer
	base     []Source
	attWt    float64

	lm     *LMFeedback
	lmMask *gorgonia.Node

	finalStates []*gorgonia.Node
	aux         map[string][]*gorgonia.Node
	attention   []*gorgonia.Node
	backptrs    [][]*gorgonia.Node
	boundaries  []Boundary
}

// NewRecurrentLayer builds the full recurrence: input map, unit, scan passes, attention
// bookkeeping, and the output pipeline.
func NewRecurrentLayer(args RecurrentLayerArgs) (*RecurrentLayer, error) {
	if args.LayerArgs.Class == "" {
		args.LayerArgs.Class = "rec"
	}
	args.LayerArgs.DisableBias = true // the bias is sized to the unit input, not the output
	layer, err := NewLayer(args.LayerArgs)
	if err != nil {
		return nil, err
	}

	if args.Direction == 0 {
		args.Direction = 1
	}
	if args.Sampling == 0 {
		args.Sampling = 1
	}
	if args.AttentionWeight == 0 {
		args.AttentionWeight = 1
	}
	transformName := args.Transform
	if transformName == "" {
		transformName = "none"
	}

	requested := args.Unit
	if requested == "" {
		requested = "lstm"
	}
	hasTransform := transformName != "none" && transformName != "input"
	unitName := requested
	switch {
	case requested == "lstm" && args.Backend == CPU:
		unitName = "lstme"
	case requested == "lstm" && !hasTransform && (!args.LM || args.DropLM == 0):
		unitName = "lstmp"
	case requested == "lstm":
		unitName = "lstmc"
	case (requested == "lstmc" || requested == "lstmp") && args.Backend == CPU:
		unitName = "lstme"
	}

	base := args.Base
	if base == nil {
		for _, e := range args.Encoders {
			base = append(base, e)
		}
	}

	r := &RecurrentLayer{
		Layer:     layer,
		direction: args.Direction,
		encoders:  args.Encoders,
		base:      base,
		attWt:     args.AttentionWeight,
		aux:       make(map[string][]*gorgonia.Node),
	}

	srcNames := make([]string, len(r.sources))
	for i, s := range r.sources {
		srcNames[i] = s.LayerName()
	}
	if len(srcNames) > 0 {
		r.SetAttr("from", strings.Join(srcNames, ","))
	} else {
		r.SetAttr("from", "null")
	}
	r.SetAttr("unit", requested)
	r.SetAttr("truncation", args.Truncation)
	r.SetAttr("sampling", args.Sampling)
	r.SetAttr("direction", args.Direction)
	r.SetAttr("lm", args.LM)
	r.SetAttr("force_lm", args.ForceLM)
	r.SetAttr("droplm", args.DropLM)
	r.SetAttr("recurrent_transform", transformName)
	r.SetAttr("n_dec", args.NDec)
	r.SetAttr("attention_store", args.AttentionStore)
	r.SetAttr("attention_align", args.AttentionAlign)
	if args.ForgetBiasShift != 0 {
		r.SetAttr("bias_random_init_forget_shift", args.ForgetBiasShift)
	}
	if len(args.Encoders) > 0 {
		encNames := make([]string, len(args.Encoders))
		for i, e := range args.Encoders {
			encNames[i] = e.Name()
		}
		r.SetAttr("encoder", strings.Join(encNames, ","))
	}

	// Decoder mode: unfold over a synthetic all-ones index of the requested length.
	if args.NDec > 0 && len(r.sources) == 0 {
		b := r.index.Shape()[1]
		r.index = gorgonia.NodeFromAny(r.graph,
			fillTensor(r.dt, 1, args.NDec, b),
			gorgonia.WithName(fmt.Sprintf("%s.index", r.name)))
	}

	transform, err := NewTransform(transformName)
	if err != nil {
		return nil, errors.Wrapf(err, "Can't build recurrent layer %q", r.name)
	}
	r.transform = transform

	// Language-model wiring happens before unit construction: the scheduled-sampling mode hands
	// the unit a feedback hook, full teacher forcing instead folds the labels into z below.
	var lmForUnit *LMFeedback
	teacherForcing := false
	var labels *gorgonia.Node
	if args.LM {
		targetKey := args.Target
		if targetKey == "" {
			targetKey = "classes"
		}
		var nCls int
		labels, nCls = r.Target(targetKey)
		if labels == nil || nCls == 0 {
			return nil, Configf("recurrent layer %q has lm set but no %q target", r.name, targetKey)
		}
		active := r.trainFlag || args.ForceLM
		switch {
		case args.DropLM == 0 && active:
			teacherForcing = true
		case args.DropLM < 1 && active:
			r.lmMask = gorgonia.Must(gorgonia.Reshape(
				gorgonia.BinomialRandomNode(r.graph, r.dt, 1, 1-args.DropLM,
					r.index.Shape()[0], r.index.Shape()[1]),
				[]int{r.index.Shape()[0], r.index.Shape()[1], 1}))
			lmForUnit = &LMFeedback{} // weights filled in once the unit dims are known
		default:
			lmForUnit = &LMFeedback{} // eval without forcing: full own-prediction feedback
		}
	}
	if unitName == "lstmp" {
		// the fused pass has no feedback path; teacher forcing still works through z
		lmForUnit = nil
	}

	unit, err := NewUnit(unitName, UnitArgs{
		Graph:     r.graph,
		NumUnits:  args.NOut,
		DType:     r.dt,
		RNG:       r.rng,
		LayerName: r.name,
		Transform: transform,
		LM:        lmForUnit,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "Can't build recurrent layer %q", r.name)
	}
	r.unit = unit
	dims := unit.Dims()

	if args.LM {
		targetKey := args.Target
		if targetKey == "" {
			targetKey = "classes"
		}
		_, nCls := r.Target(targetKey)
		wIn, err := r.RandomUniformWeights(dims.NumOut, nCls, dims.NumOut+nCls,
			fmt.Sprintf("W_lm_in_%s", r.name))
		if err != nil {
			return nil, err
		}
		wOut, err := r.RandomUniformWeights(nCls, dims.NumIn, dims.NumIn+nCls,
			fmt.Sprintf("W_lm_out_%s", r.name))
		if err != nil {
			return nil, err
		}
		r.lm = &LMFeedback{
			WIn:  r.AddParam(wIn, fmt.Sprintf("W_lm_in_%s", r.name)),
			WOut: r.AddParam(wOut, fmt.Sprintf("W_lm_out_%s", r.name)),
		}
		if lmForUnit != nil {
			*lmForUnit = *r.lm
		}
	}

	// The bias covers the fused gate preactivation, so its width is the unit input width.
	bValue, err := r.biasInit.Init(r.rng, r.dt, dims.NumIn)
	if err != nil {
		return nil, errors.Wrapf(err, "Can't initialize bias of %q", r.name)
	}
	if args.ForgetBiasShift != 0 {
		if dims.NumIn != 4*dims.NumUnits {
			return nil, Configf("forget-gate bias shift requires a 4-gate unit, %q has n_in %d for %d units",
				unitName, dims.NumIn, dims.NumUnits)
		}
		shiftRange(bValue, dims.NumUnits, 2*dims.NumUnits, args.ForgetBiasShift)
	}
	b := r.AddParam(r.newParamNode(fmt.Sprintf("b_%s", r.name), bValue), fmt.Sprintf("b_%s", r.name))
	r.b = b

	if dims.NumRe > 0 {
		wRe, err := r.RandomUniformWeights(dims.NumOut, dims.NumRe, dims.NumOut+dims.NumRe,
			fmt.Sprintf("W_re_%s", r.name))
		if err != nil {
			return nil, err
		}
		r.wRe = r.AddParam(wRe, fmt.Sprintf("W_re_%s", r.name))
	}

	z, err := r.makeInput(dims, b, teacherForcing, labels)
	if err != nil {
		return nil, errors.Wrapf(err, "Can't build the input map of %q", r.name)
	}

	if transformName == "input" {
		bias, err := r.inputAttentionBias(dims)
		if err != nil {
			return nil, errors.Wrapf(err, "Can't build the input attention bias of %q", r.name)
		}
		if z, err = gorgonia.BroadcastAdd(z, bias, nil, []byte{0}); err != nil {
			return nil, errors.Wrapf(err, "Can't bias the input map of %q", r.name)
		}
	}

	if transform != nil {
		if err := transform.Attach(r); err != nil {
			return nil, errors.Wrapf(err, "Can't attach transform %q to %q", transform.TypeString(), r.name)
		}
	}

	output, err := r.scanStrides(z, args.Sampling, args.Truncation)
	if err != nil {
		return nil, errors.Wrapf(err, "Can't scan recurrent layer %q", r.name)
	}

	if args.AttentionStore && transform != nil {
		if err := r.storeAttention(); err != nil {
			return nil, errors.Wrapf(err, "Can't store attention of %q", r.name)
		}
	}
	if args.AttentionAlign && transform != nil {
		names := SortedStateVarNames(transform.StateVars())
		for _, name := range names {
			if strings.HasPrefix(name, "K_") {
				r.backptrs = append(r.backptrs, r.aux[name])
			}
		}
	}

	for name, node := range unit.Params() {
		r.AddParam(node, name)
	}

	if err := r.MakeOutput(output, true); err != nil {
		return nil, errors.Wrapf(err, "Can't finish recurrent layer %q", r.name)
	}
	return r, nil
}

// makeInput builds z = b + sum over sources of dot(mass * mask * x, W_in), with embedding lookup
// for sparse sources and the teacher-forcing label embedding folded in when requested.
func (r *RecurrentLayer) makeInput(dims UnitDims, b *gorgonia.Node, teacherForcing bool, labels *gorgonia.Node) (*gorgonia.Node, error) {
	seqLen := r.index.Shape()[0]
	batches := r.index.Shape()[1]

	var z *gorgonia.Node
	addTerm := func(term *gorgonia.Node) (err error) {
		if z == nil {
			z = term
			return nil
		}
		z, err = gorgonia.Add(z, term)
		return err
	}

	r.wIn = make([]*gorgonia.Node, len(r.sources))
	for i, s := range r.sources {
		name := fmt.Sprintf("W_in_%s_%s", s.LayerName(), r.name)
		w, err := r.RandomUniformWeights(s.NOut(), dims.NumIn, s.NOut()+dims.NumIn+dims.NumRe, name)
		if err != nil {
			return nil, err
		}
		w = r.AddParam(w, name)
		r.wIn[i] = w

		if s.IsSparse() {
			emb, err := embedRows(w, s.OutputNode(), dims.NumIn)
			if err != nil {
				return nil, errors.Wrapf(err, "Can't embed sparse source %q", s.LayerName())
			}
			if err := addTerm(emb); err != nil {
				return nil, err
			}
			continue
		}

		x := s.OutputNode()
		if m := r.masks[i]; m != nil {
			m3, err := gorgonia.Reshape(m, []int{1, 1, s.NOut()})
			if err != nil {
				return nil, err
			}
			if x, err = gorgonia.BroadcastHadamardProd(x, m3, nil, []byte{0, 1}); err != nil {
				return nil, err
			}
			if x, err = gorgonia.Mul(r.scalar(r.mass), x); err != nil {
				return nil, err
			}
		}
		term, err := dot(x, w)
		if err != nil {
			return nil, errors.Wrapf(err, "Can't map source %q", s.LayerName())
		}
		if err := addTerm(term); err != nil {
			return nil, err
		}
	}

	if z == nil {
		z = gorgonia.NodeFromAny(r.graph,
			fillTensor(r.dt, 0, seqLen, batches, dims.NumIn),
			gorgonia.WithName(fmt.Sprintf("%s.z0", r.name)))
	}

	if teacherForcing {
		emb, err := embedRows(r.lm.WOut, labels, dims.NumIn)
		if err != nil {
			return nil, errors.Wrap(err, "Can't embed the teacher-forcing labels")
		}
		if z, err = gorgonia.Add(z, emb); err != nil {
			return nil, err
		}
	} else if r.lmMask != nil {
		emb, err := embedRows(r.lm.WOut, labels, dims.NumIn)
		if err != nil {
			return nil, errors.Wrap(err, "Can't embed the scheduled-sampling labels")
		}
		masked, err := gorgonia.BroadcastHadamardProd(emb, r.lmMask, nil, []byte{2})
		if err != nil {
			return nil, err
		}
		if z, err = gorgonia.Add(z, masked); err != nil {
			return nil, err
		}
	}

	b3, err := gorgonia.Reshape(b, []int{1, 1, dims.NumIn})
	if err != nil {
		return nil, err
	}
	return gorgonia.BroadcastAdd(z, b3, nil, []byte{0, 1})
}

// inputAttentionBias computes the sequence-level attention bias of the "input" transform: a
// softmax-over-time pooling of the base sequences, projected to the unit input width. It is one
// bias for the whole sequence, which keeps the fused unit usable.
func (r *RecurrentLayer) inputAttentionBias(dims UnitDims) (*gorgonia.Node, error) {
	if len(r.base) == 0 {
		return nil, Configf("the input transform needs a base (or encoders)")
	}
	nodes := make([]*gorgonia.Node, len(r.base))
	width := 0
	for i, s := range r.base {
		nodes[i] = s.OutputNode()
		width += s.NOut()
	}
	xc := nodes[0]
	if len(nodes) > 1 {
		var err error
		if xc, err = gorgonia.Concat(2, nodes...); err != nil {
			return nil, err
		}
	}

	p := r.Attrs().Int("n_out") + width
	wxc, err := r.RandomUniformWeights(width, 1, p, "W_att_xc")
	if err != nil {
		return nil, err
	}
	wxc = r.AddParam(wxc, "W_att_xc")
	win, err := r.RandomUniformWeights(width, dims.NumIn, p, "W_att_in")
	if err != nil {
		return nil, err
	}
	win = r.AddParam(win, "W_att_in")

	scores, err := dot(xc, wxc) // (time, batch, 1)
	if err != nil {
		return nil, err
	}
	if scores, err = gorgonia.Tanh(scores); err != nil {
		return nil, err
	}
	if scores, err = gorgonia.Exp(scores); err != nil {
		return nil, err
	}
	total, err := gorgonia.Sum(scores, 0) // (batch, 1)
	if err != nil {
		return nil, err
	}
	shape := scores.Shape()
	t3, err := gorgonia.Reshape(total, []int{1, shape[1], 1})
	if err != nil {
		return nil, err
	}
	weights, err := gorgonia.BroadcastHadamardDiv(scores, t3, nil, []byte{0})
	if err != nil {
		return nil, err
	}
	pooled, err := gorgonia.BroadcastHadamardProd(xc, weights, nil, []byte{2})
	if err != nil {
		return nil, err
	}
	if pooled, err = gorgonia.Sum(pooled, 0); err != nil { // (batch, width)
		return nil, err
	}
	bias, err := gorgonia.Mul(pooled, win) // (batch, NumIn)
	if err != nil {
		return nil, err
	}
	return gorgonia.Reshape(bias, []int{1, shape[1], dims.NumIn})
}

// scanStrides runs the scan once per sampling stride and interleaves the per-stride outputs back
// into a full-length sequence.
func (r *RecurrentLayer) scanStrides(z *gorgonia.Node, sampling, truncation int) (*gorgonia.Node, error) {
	dims := r.unit.Dims()
	seqLen := r.index.Shape()[0]
	batches := r.index.Shape()[1]

	init, err := r.initStates(dims, batches)
	if err != nil {
		return nil, err
	}

	results := make([]*ScanResult, sampling)
	for s := 0; s < sampling; s++ {
		zS, idxS := z, r.index
		lmMaskS := r.lmMask
		if sampling > 1 {
			if zS, err = gorgonia.Slice(z, gorgonia.S(s, seqLen, sampling)); err != nil {
				return nil, err
			}
			if idxS, err = gorgonia.Slice(r.index, gorgonia.S(s, seqLen, sampling)); err != nil {
				return nil, err
			}
			if r.lmMask != nil {
				if lmMaskS, err = gorgonia.Slice(r.lmMask, gorgonia.S(s, seqLen, sampling)); err != nil {
					return nil, err
				}
			}
		}
		res, err := Scan(ScanArgs{
			Unit:       r.unit,
			Z:          zS,
			Index:      idxS,
			WRe:        r.wRe,
			InitStates: init,
			Transform:  r.transform,
			Reverse:    r.direction == -1,
			Truncation: truncation,
			LMMask:     lmMaskS,
		})
		if err != nil {
			return nil, err
		}
		results[s] = res
		r.boundaries = append(r.boundaries, res.Boundaries...)
	}

	r.finalStates = results[0].States
	r.aux = results[sampling-1].Aux

	if sampling == 1 {
		return results[0].Output, nil
	}

	// Scatter stride outputs back: full[t] lives at position t/sampling of stride t%sampling.
	perTime := make([]*gorgonia.Node, seqLen)
	for t := 0; t < seqLen; t++ {
		step, err := sliceAxis(results[t%sampling].Output, 0, t/sampling)
		if err != nil {
			return nil, err
		}
		perTime[t] = step
	}
	return StackTime(perTime)
}

// initStates builds the initial carried states: the encoders' scaled final states concatenated
// along the feature axis, or zeros.
func (r *RecurrentLayer) initStates(dims UnitDims, batches int) ([]*gorgonia.Node, error) {
	init := make([]*gorgonia.Node, dims.NumAct)
	if len(r.encoders) == 0 {
		for i := range init {
			init[i] = gorgonia.NodeFromAny(r.graph,
				fillTensor(r.dt, 0, batches, dims.NumOut),
				gorgonia.WithName(fmt.Sprintf("%s.state0_%d", r.name, i)))
		}
		return init, nil
	}
	for i := range init {
		parts := make([]*gorgonia.Node, len(r.encoders))
		for j, e := range r.encoders {
			if len(e.finalStates) <= i {
				return nil, Configf("encoder %q carries %d states, %q needs %d",
					e.Name(), len(e.finalStates), r.name, dims.NumAct)
			}
			part := e.finalStates[i]
			if r.attWt != 1 {
				var err error
				if part, err = gorgonia.Mul(r.scalar(r.attWt), part); err != nil {
					return nil, err
				}
			}
			parts[j] = part
		}
		if len(parts) == 1 {
			init[i] = parts[0]
			continue
		}
		cat, err := gorgonia.Concat(1, parts...)
		if err != nil {
			return nil, err
		}
		init[i] = cat
	}
	return init, nil
}

// storeAttention collects the "att_" state sequences for inspection: natural time order, shifted
// forward by one step with a one-hot final row pointing at the last (or first, when reversed)
// base position.
func (r *RecurrentLayer) storeAttention() error {
	names := SortedStateVarNames(r.transform.StateVars())
	for _, name := range names {
		if !strings.HasPrefix(name, "att_") {
			continue
		}
		steps := append([]*gorgonia.Node{}, r.aux[name]...)
		if len(steps) == 0 {
			continue
		}
		if r.direction == -1 {
			for i, j := 0, len(steps)-1; i < j; i, j = i+1, j-1 {
				steps[i], steps[j] = steps[j], steps[i]
			}
		}
		shape := steps[0].Shape() // (batch, base length)
		hot := 0
		if r.direction != -1 {
			hot = shape[1] - 1
		}
		backing := fillTensor(r.dt, 0, shape[0], shape[1])
		setColumn(backing, hot, 1)
		last := gorgonia.NodeFromAny(r.graph, backing,
			gorgonia.WithName(fmt.Sprintf("%s.%s_last", r.name, name)))
		steps = append(steps[1:], last)

		seq, err := StackTime(steps)
		if err != nil {
			return err
		}
		r.attention = append(r.attention, seq)
	}
	return nil
}

// Unit returns the resolved recurrence unit.
func (r *RecurrentLayer) Unit() Unit { return r.unit }

// Transform returns the attached recurrent transform, nil for none.
func (r *RecurrentLayer) Transform() RecurrentTransform { return r.transform }

// BaseSources returns the attention base sequence set.
func (r *RecurrentLayer) BaseSources() []Source { return r.base }

// NumBatches returns the batch size the layer was built for.
func (r *RecurrentLayer) NumBatches() int { return r.index.Shape()[1] }

// FinalStates returns the carried states after the last step, one per state slot.
func (r *RecurrentLayer) FinalStates() []*gorgonia.Node { return r.finalStates }

// Attention returns the stored attention weight sequences (attention_store only).
func (r *RecurrentLayer) Attention() []*gorgonia.Node { return r.attention }

// Backpointers returns the per-step "K_" backpointer nodes (attention_align only), one slice per
// backpointer state variable, in processing order. Feed the evaluated values to Backtrace.
func (r *RecurrentLayer) Backpointers() [][]*gorgonia.Node { return r.backptrs }

// Boundaries returns the gradient-truncation cuts recorded during scanning.
func (r *RecurrentLayer) Boundaries() []Boundary { return r.boundaries }

// Cost returns the transform's extra loss when one is attached.
func (r *RecurrentLayer) Cost() (*gorgonia.Node, map[*gorgonia.Node]*gorgonia.Node, error) {
	if r.transform == nil {
		return nil, nil, nil
	}
	cost, err := r.transform.Cost()
	if err != nil {
		return nil, nil, errors.Wrapf(err, "Can't compute the transform cost of %q", r.name)
	}
	return cost, nil, nil
}

// Backtrace follows hard-alignment backpointers to a base position per decoder step: starting
// from the last base position, each step's matrix k (base position, batch) holds the offset to
// subtract. The returned alignment is (steps, batch).
func Backtrace(k []tensor.Tensor, baseLen int) ([][]int, error) {
	if len(k) == 0 {
		return nil, nil
	}
	batches := k[0].Shape()[1]
	pos := make([]int, batches)
	for b := range pos {
		pos[b] = baseLen - 1
	}
	aln := make([][]int, len(k))
	for t, kt := range k {
		aln[t] = make([]int, batches)
		for b := 0; b < batches; b++ {
			if pos[b] < 0 || pos[b] >= kt.Shape()[0] {
				return nil, errors.Errorf("Can't backtrace, position %d out of range at step %d", pos[b], t)
			}
			v, err := kt.At(pos[b], b)
			if err != nil {
				return nil, errors.Wrapf(err, "Can't backtrace at step %d", t)
			}
			off, err := asInt(v)
			if err != nil {
				return nil, errors.Wrapf(err, "Can't backtrace at step %d", t)
			}
			pos[b] -= off
			aln[t][b] = pos[b]
		}
	}
	return aln, nil
}

func asInt(v interface{}) (int, error) {
	switch x := v.(type) {
	case int:
		return x, nil
	case int32:
		return int(x), nil
	case int64:
		return int(x), nil
	case float32:
		return int(x), nil
	case float64:
		return int(x), nil
	}
	return 0, errors.Errorf("unsupported backpointer type %T", v)
}

// embedRows looks rows of w up by the integer ids in the (time, batch) tensor ids, producing
// (time, batch, widths...).
func embedRows(w, ids *gorgonia.Node, widths ...int) (*gorgonia.Node, error) {
	shape := ids.Shape()
	if len(shape) == 3 && shape[2] == 1 {
		var err error
		if ids, err = gorgonia.Reshape(ids, []int{shape[0], shape[1]}); err != nil {
			return nil, err
		}
		shape = ids.Shape()
	}
	if len(shape) != 2 {
		return nil, Configf("sparse ids must be (time, batch), got %v", shape)
	}
	flat, err := gorgonia.Reshape(ids, []int{shape[0] * shape[1]})
	if err != nil {
		return nil, err
	}
	rows, err := gorgonia.ByIndices(w, flat, 0)
	if err != nil {
		return nil, err
	}
	return gorgonia.Reshape(rows, append([]int{shape[0], shape[1]}, widths...))
}

func shiftRange(t tensor.Tensor, from, to int, delta float64) {
	switch data := t.Data().(type) {
	case []float64:
		for i := from; i < to; i++ {
			data[i] += delta
		}
	case []float32:
		for i := from; i < to; i++ {
			data[i] += float32(delta)
		}
	}
}

func setColumn(t tensor.Tensor, col int, v float64) {
	shape := t.Shape()
	rows, cols := shape[0], shape[1]
	switch data := t.Data().(type) {
	case []float64:
		for i := 0; i < rows; i++ {
			data[i*cols+col] = v
		}
	case []float32:
		for i := 0; i < rows; i++ {
			data[i*cols+col] = float32(v)
		}
	}
}
