package units

import (
	rt "github.com/jvhoffbauer/returnn"
	"gorgonia.org/gorgonia"
)

// vanilla is the plain tanh recurrence: y_t = tanh(z_t + dot(y_{t-1}, W_re)). It carries a single
// state and applies no step masking of its own.
type vanilla struct {
	n int
}

func newVanilla(args rt.UnitArgs) (rt.Unit, error) {
	if args.NumUnits < 1 {
		return nil, rt.Configf("vanilla requires at least 1 unit, got %d", args.NumUnits)
	}
	if args.LM != nil {
		return nil, rt.Configf("unit vanilla does not support language-model feedback")
	}
	return &vanilla{n: args.NumUnits}, nil
}

func (u *vanilla) Dims() rt.UnitDims {
	return rt.UnitDims{NumUnits: u.n, NumIn: u.n, NumOut: u.n, NumRe: u.n, NumAct: 1}
}

func (u *vanilla) TypeString() string { return "vanilla" }

func (u *vanilla) Params() map[string]*gorgonia.Node { return nil }

func (u *vanilla) Step(in rt.StepInputs) (rt.StepResult, error) {
	zRe, err := gorgonia.Mul(in.States[0], in.WRe)
	if err != nil {
		return rt.StepResult{}, err
	}
	z, err := gorgonia.Add(in.ZT, zRe)
	if err != nil {
		return rt.StepResult{}, err
	}
	y, err := tanh(z)
	if err != nil {
		return rt.StepResult{}, err
	}
	return rt.StepResult{States: []*gorgonia.Node{y}, Aux: in.Aux}, nil
}
