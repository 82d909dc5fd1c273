package units

import (
	"fmt"

	rt "github.com/jvhoffbauer/returnn"
	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
)

// gru carries a single state with update and reset gates. The fused input preactivation holds
// [update, reset, candidate]; the recurrent weight only covers the two gates (NumRe = 2n), while
// the candidate's recurrent path runs through the unit's own W_reset parameter, applied to the
// reset-scaled previous output.
type gru struct {
	n         int
	wReset    *gorgonia.Node
	paramName string
}

func newGRU(args rt.UnitArgs) (rt.Unit, error) {
	if args.NumUnits < 1 {
		return nil, rt.Configf("gru requires at least 1 unit, got %d", args.NumUnits)
	}
	if args.LM != nil {
		return nil, rt.Configf("unit gru does not support language-model feedback")
	}
	n := args.NumUnits
	init, err := rt.NewInitializer(rt.WeightInit{
		Name:   "random_uniform",
		Params: map[string]float64{"p": float64(3 * n)},
	})
	if err != nil {
		return nil, err
	}
	value, err := init.Init(args.RNG, args.DType, n, n)
	if err != nil {
		return nil, errors.Wrap(err, "Can't initialize the reset projection")
	}
	name := fmt.Sprintf("W_reset_%s", args.LayerName)
	w := gorgonia.NodeFromAny(args.Graph, value, gorgonia.WithName(name))
	return &gru{n: n, wReset: w, paramName: name}, nil
}

func (u *gru) Dims() rt.UnitDims {
	return rt.UnitDims{NumUnits: u.n, NumIn: 3 * u.n, NumOut: u.n, NumRe: 2 * u.n, NumAct: 1}
}

func (u *gru) TypeString() string { return "gru" }

func (u *gru) Params() map[string]*gorgonia.Node {
	return map[string]*gorgonia.Node{u.paramName: u.wReset}
}

func (u *gru) Step(in rt.StepInputs) (rt.StepResult, error) {
	yP := in.States[0]
	n := u.n

	zRe, err := gorgonia.Mul(yP, in.WRe) // (batch, 2n)
	if err != nil {
		return rt.StepResult{}, err
	}
	zGates, err := sliceCols(in.ZT, 0, 2*n)
	if err != nil {
		return rt.StepResult{}, err
	}
	gates, err := gorgonia.Add(zGates, zRe)
	if err != nil {
		return rt.StepResult{}, err
	}
	uGate, err := sliceCols(gates, 0, n)
	if err != nil {
		return rt.StepResult{}, err
	}
	if uGate, err = sigmoid(uGate); err != nil {
		return rt.StepResult{}, err
	}
	rGate, err := sliceCols(gates, n, 2*n)
	if err != nil {
		return rt.StepResult{}, err
	}
	if rGate, err = sigmoid(rGate); err != nil {
		return rt.StepResult{}, err
	}

	reset, err := gorgonia.HadamardProd(rGate, yP)
	if err != nil {
		return rt.StepResult{}, err
	}
	cRe, err := gorgonia.Mul(reset, u.wReset)
	if err != nil {
		return rt.StepResult{}, err
	}
	cIn, err := sliceCols(in.ZT, 2*n, 3*n)
	if err != nil {
		return rt.StepResult{}, err
	}
	c, err := gorgonia.Add(cIn, cRe)
	if err != nil {
		return rt.StepResult{}, err
	}
	if c, err = tanh(c); err != nil {
		return rt.StepResult{}, err
	}

	keep, err := gorgonia.HadamardProd(uGate, yP)
	if err != nil {
		return rt.StepResult{}, err
	}
	inv, err := oneMinus(uGate)
	if err != nil {
		return rt.StepResult{}, err
	}
	fresh, err := gorgonia.HadamardProd(inv, c)
	if err != nil {
		return rt.StepResult{}, err
	}
	y, err := gorgonia.Add(keep, fresh)
	if err != nil {
		return rt.StepResult{}, err
	}
	return rt.StepResult{States: []*gorgonia.Node{y}, Aux: in.Aux}, nil
}
