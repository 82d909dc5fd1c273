package units

import (
	rt "github.com/jvhoffbauer/returnn"
	"gorgonia.org/gorgonia"
)

// sru is a single-state gated recurrence: from the summed preactivation z' = z_t + dot(y_{t-1},
// W_re), split as [candidate, reset, update], it computes y_t = u * y_{t-1} + (1-u) * (r *
// tanh(candidate)). Cheaper than a GRU since the candidate needs no extra recurrent projection.
type sru struct {
	n int
}

func newSRU(args rt.UnitArgs) (rt.Unit, error) {
	if args.NumUnits < 1 {
		return nil, rt.Configf("sru requires at least 1 unit, got %d", args.NumUnits)
	}
	if args.LM != nil {
		return nil, rt.Configf("unit sru does not support language-model feedback")
	}
	return &sru{n: args.NumUnits}, nil
}

func (u *sru) Dims() rt.UnitDims {
	return rt.UnitDims{NumUnits: u.n, NumIn: 3 * u.n, NumOut: u.n, NumRe: 3 * u.n, NumAct: 1}
}

func (u *sru) TypeString() string { return "sru" }

func (u *sru) Params() map[string]*gorgonia.Node { return nil }

func (u *sru) Step(in rt.StepInputs) (rt.StepResult, error) {
	yP := in.States[0]
	n := u.n

	zRe, err := gorgonia.Mul(yP, in.WRe)
	if err != nil {
		return rt.StepResult{}, err
	}
	z, err := gorgonia.Add(in.ZT, zRe)
	if err != nil {
		return rt.StepResult{}, err
	}

	c, err := sliceCols(z, 0, n)
	if err != nil {
		return rt.StepResult{}, err
	}
	if c, err = tanh(c); err != nil {
		return rt.StepResult{}, err
	}
	r, err := sliceCols(z, n, 2*n)
	if err != nil {
		return rt.StepResult{}, err
	}
	if r, err = sigmoid(r); err != nil {
		return rt.StepResult{}, err
	}
	uGate, err := sliceCols(z, 2*n, 3*n)
	if err != nil {
		return rt.StepResult{}, err
	}
	if uGate, err = sigmoid(uGate); err != nil {
		return rt.StepResult{}, err
	}

	fresh, err := gorgonia.HadamardProd(r, c)
	if err != nil {
		return rt.StepResult{}, err
	}
	inv, err := oneMinus(uGate)
	if err != nil {
		return rt.StepResult{}, err
	}
	if fresh, err = gorgonia.HadamardProd(inv, fresh); err != nil {
		return rt.StepResult{}, err
	}
	keep, err := gorgonia.HadamardProd(uGate, yP)
	if err != nil {
		return rt.StepResult{}, err
	}
	y, err := gorgonia.Add(keep, fresh)
	if err != nil {
		return rt.StepResult{}, err
	}
	return rt.StepResult{States: []*gorgonia.Node{y}, Aux: in.Aux}, nil
}
