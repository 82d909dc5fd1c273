package returnn

import (
	"math/rand"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// UnitDims describes the widths of a recurrent unit for n hidden units: the per-step input slice
// it consumes (NumIn), its visible output (NumOut), the recurrent contribution dot(y_prev, W_re)
// it expects (NumRe), and how many state tensors it carries across steps (NumAct; the first is
// always the visible output).
type UnitDims struct {
	NumUnits int
	NumIn    int
	NumOut   int
	NumRe    int
	NumAct   int
}

// StepInputs is everything a unit sees at one timestep. All per-batch tensors are (batch, width).
type StepInputs struct {
	// IndexT holds the (batch,) 0/1 validity flags of this step. Units must leave the carried
	// states of rows flagged 0 unchanged.
	IndexT *gorgonia.Node

	// ZT is the (batch, NumIn) input preactivation slice for this step.
	ZT *gorgonia.Node

	// States are the carried states from the previous step, len Dims().NumAct, States[0] being
	// the previous visible output.
	States []*gorgonia.Node

	// Aux carries the transform's extra state tensors, ordered by sorted variable name.
	Aux []*gorgonia.Node

	// WRe is the (NumOut, NumRe) recurrent weight; the unit forms dot(States[0], WRe) itself.
	WRe *gorgonia.Node

	// LMMaskT is the optional (batch, 1) scheduled-sampling mask slice for this step; nil when
	// the unit has no language-model feedback or feedback is unconditional.
	LMMaskT *gorgonia.Node
}

// StepResult is what a unit hands back: the updated carried states (len NumAct, States[0] is the
// step's visible output) and the updated transform states in the same order they came in.
type StepResult struct {
	States []*gorgonia.Node
	Aux    []*gorgonia.Node
}

// A Unit is one recurrence cell family (vanilla, the LSTM variants, GRU, SRU). Implementations
// register themselves with RegisterUnit; a unit that can fuse the whole sequence loop additionally
// implements Scanner.
type Unit interface {
	Dims() UnitDims
	TypeString() string

	// Params returns the parameters the unit allocated for itself (reset gates, feedback
	// embeddings); most units own none and return nil.
	Params() map[string]*gorgonia.Node

	Step(in StepInputs) (StepResult, error)
}

// LMFeedback carries the language-model feedback weights a unit mixes into its input: the
// previous output is projected to class scores through WIn, softmaxed, and embedded back to the
// unit input width through WOut.
type LMFeedback struct {
	WIn  *gorgonia.Node // (NumOut, classes)
	WOut *gorgonia.Node // (classes, NumIn)
}

// Feedback computes the feedback term for a previous output yP (batch, NumOut), optionally scaled
// per batch row by (1 - mask) when mask is a (batch, 1) 0/1 draw.
func (lm *LMFeedback) Feedback(yP, mask *gorgonia.Node) (*gorgonia.Node, error) {
	scores, err := gorgonia.Mul(yP, lm.WIn)
	if err != nil {
		return nil, err
	}
	if scores, err = gorgonia.SoftMax(scores, 1); err != nil {
		return nil, err
	}
	fb, err := gorgonia.Mul(scores, lm.WOut)
	if err != nil {
		return nil, err
	}
	if mask == nil {
		return fb, nil
	}
	one := gorgonia.NewScalar(mask.Graph(), mask.Dtype(), gorgonia.WithValue(oneOf(mask.Dtype())))
	keep, err := gorgonia.Sub(one, mask)
	if err != nil {
		return nil, err
	}
	return gorgonia.BroadcastHadamardProd(fb, keep, nil, []byte{1})
}

func oneOf(dt tensor.Dtype) interface{} {
	if dt == tensor.Float32 {
		return float32(1)
	}
	return float64(1)
}

// UnitArgs is what a unit constructor receives.
type UnitArgs struct {
	Graph    *gorgonia.ExprGraph
	NumUnits int
	DType    tensor.Dtype
	RNG      *rand.Rand

	// LayerName is the owning layer's name, used to derive unit parameter names.
	LayerName string

	// Transform is the attached recurrent transform, nil for "none". Units that cannot host a
	// transform must reject a non-nil value.
	Transform RecurrentTransform

	// LM is the language-model feedback wiring, nil when the layer has none.
	LM *LMFeedback
}

// UnitMaker constructs a unit for a registered name.
type UnitMaker func(args UnitArgs) (Unit, error)

var unitMakers = make(map[string]UnitMaker)

// RegisterUnit registers a unit constructor under its type string. Re-registering a name or
// registering a nil maker panics: both are programming errors, caught at init time.
func RegisterUnit(name string, maker UnitMaker) {
	if maker == nil {
		panic(errors.Errorf("Can't register unit %q with nil maker", name))
	}
	if _, ok := unitMakers[name]; ok {
		panic(errors.Errorf("Can't register unit %q twice", name))
	}
	unitMakers[name] = maker
}

// UnitRegistered reports whether a unit type string has a registered constructor.
func UnitRegistered(name string) bool {
	_, ok := unitMakers[name]
	return ok
}

// NewUnit constructs the unit registered under name.
func NewUnit(name string, args UnitArgs) (Unit, error) {
	maker, ok := unitMakers[name]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownUnit, "%q", name)
	}
	return maker(args)
}

// BlendByIndex blends a freshly computed state with its previous value using the (batch,) 0/1
// step flags: rows with flag 1 take the new value, rows with flag 0 keep the old one. Units use
// this so padded steps carry state through unchanged.
func BlendByIndex(next, prev, indexT *gorgonia.Node) (*gorgonia.Node, error) {
	b := indexT.Shape()[0]
	i1, err := gorgonia.Reshape(indexT, []int{b, 1})
	if err != nil {
		return nil, err
	}
	one := gorgonia.NewScalar(indexT.Graph(), indexT.Dtype(), gorgonia.WithValue(oneOf(indexT.Dtype())))
	k1, err := gorgonia.Sub(one, i1)
	if err != nil {
		return nil, err
	}
	on, err := gorgonia.BroadcastHadamardProd(next, i1, nil, []byte{1})
	if err != nil {
		return nil, err
	}
	off, err := gorgonia.BroadcastHadamardProd(prev, k1, nil, []byte{1})
	if err != nil {
		return nil, err
	}
	return gorgonia.Add(on, off)
}
