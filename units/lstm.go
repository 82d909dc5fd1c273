package units

import (
	"fmt"

	rt "github.com/jvhoffbauer/returnn"
	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
)

// lstmCore is the gate math shared by the LSTM variants. The fused input preactivation holds the
// four gates in the column order [input, forget, output, candidate].
type lstmCore struct {
	n int
}

func (u lstmCore) Dims() rt.UnitDims {
	return rt.UnitDims{NumUnits: u.n, NumIn: 4 * u.n, NumOut: u.n, NumRe: 4 * u.n, NumAct: 2}
}

// step advances one LSTM timestep. Rows whose index flag is 0 keep both the output and the cell
// from the previous step, so padded frames never disturb the carried state.
func (u lstmCore) step(in rt.StepInputs, lm *rt.LMFeedback) (rt.StepResult, error) {
	yP, cP := in.States[0], in.States[1]

	zT := in.ZT
	if lm != nil {
		fb, err := lm.Feedback(yP, in.LMMaskT)
		if err != nil {
			return rt.StepResult{}, errors.Wrap(err, "Can't compute feedback")
		}
		if zT, err = gorgonia.Add(zT, fb); err != nil {
			return rt.StepResult{}, err
		}
	}

	zRe, err := gorgonia.Mul(yP, in.WRe)
	if err != nil {
		return rt.StepResult{}, err
	}
	z, err := gorgonia.Add(zT, zRe)
	if err != nil {
		return rt.StepResult{}, err
	}

	n := u.n
	gates := make([]*gorgonia.Node, 4)
	for i := range gates {
		if gates[i], err = sliceCols(z, i*n, (i+1)*n); err != nil {
			return rt.StepResult{}, err
		}
	}
	gi, err := sigmoid(gates[0])
	if err != nil {
		return rt.StepResult{}, err
	}
	gf, err := sigmoid(gates[1])
	if err != nil {
		return rt.StepResult{}, err
	}
	go_, err := sigmoid(gates[2])
	if err != nil {
		return rt.StepResult{}, err
	}
	gc, err := tanh(gates[3])
	if err != nil {
		return rt.StepResult{}, err
	}

	hold, err := gorgonia.HadamardProd(gf, cP)
	if err != nil {
		return rt.StepResult{}, err
	}
	write, err := gorgonia.HadamardProd(gi, gc)
	if err != nil {
		return rt.StepResult{}, err
	}
	c, err := gorgonia.Add(hold, write)
	if err != nil {
		return rt.StepResult{}, err
	}
	cOut, err := tanh(c)
	if err != nil {
		return rt.StepResult{}, err
	}
	y, err := gorgonia.HadamardProd(go_, cOut)
	if err != nil {
		return rt.StepResult{}, err
	}

	if y, err = rt.BlendByIndex(y, yP, in.IndexT); err != nil {
		return rt.StepResult{}, err
	}
	if c, err = rt.BlendByIndex(c, cP, in.IndexT); err != nil {
		return rt.StepResult{}, err
	}
	return rt.StepResult{States: []*gorgonia.Node{y, c}, Aux: in.Aux}, nil
}

// lstme steps elementwise through the generic executor and hosts a transform bias.
type lstme struct {
	lstmCore
}

func newLSTME(args rt.UnitArgs) (rt.Unit, error) {
	if args.NumUnits < 1 {
		return nil, rt.Configf("lstme requires at least 1 unit, got %d", args.NumUnits)
	}
	if args.LM != nil {
		return nil, rt.Configf("unit lstme does not support language-model feedback, use lstmc")
	}
	return &lstme{lstmCore{n: args.NumUnits}}, nil
}

func (u *lstme) TypeString() string { return "lstme" }

func (u *lstme) Params() map[string]*gorgonia.Node { return nil }

func (u *lstme) Step(in rt.StepInputs) (rt.StepResult, error) {
	return u.step(in, nil)
}

// lstmc is the transform host: it requires an attached transform or language-model feedback, and
// mixes the feedback term into its input inside the step.
type lstmc struct {
	lstmCore
	lm *rt.LMFeedback
}

func newLSTMC(args rt.UnitArgs) (rt.Unit, error) {
	if args.NumUnits < 1 {
		return nil, rt.Configf("lstmc requires at least 1 unit, got %d", args.NumUnits)
	}
	if args.Transform == nil && args.LM == nil {
		return nil, rt.Configf("unit lstmc requires a recurrent transform or language-model feedback")
	}
	return &lstmc{lstmCore: lstmCore{n: args.NumUnits}, lm: args.LM}, nil
}

func (u *lstmc) TypeString() string { return "lstmc" }

func (u *lstmc) Params() map[string]*gorgonia.Node { return nil }

func (u *lstmc) Step(in rt.StepInputs) (rt.StepResult, error) {
	return u.step(in, u.lm)
}

// lstmp runs the whole sequence pass itself. It computes exactly what lstme computes, but cannot
// host a transform or feedback, which is what frees it to own the loop.
type lstmp struct {
	lstmCore
}

func newLSTMP(args rt.UnitArgs) (rt.Unit, error) {
	if args.NumUnits < 1 {
		return nil, rt.Configf("lstmp requires at least 1 unit, got %d", args.NumUnits)
	}
	if args.Transform != nil {
		return nil, rt.Configf("unit lstmp does not support recurrent transforms, use lstme or lstmc")
	}
	if args.LM != nil {
		return nil, rt.Configf("unit lstmp does not support language-model feedback, use lstmc")
	}
	return &lstmp{lstmCore{n: args.NumUnits}}, nil
}

func (u *lstmp) TypeString() string { return "lstmp" }

func (u *lstmp) Params() map[string]*gorgonia.Node { return nil }

// Step exists to satisfy the interface; the executor always routes lstmp through Scan.
func (u *lstmp) Step(in rt.StepInputs) (rt.StepResult, error) {
	return u.step(in, nil)
}

// Scan implements the fused pass over the full input preactivation.
func (u *lstmp) Scan(args rt.ScanArgs) (*rt.ScanResult, error) {
	seqLen := args.Z.Shape()[0]
	states := append([]*gorgonia.Node{}, args.InitStates...)
	result := &rt.ScanResult{Aux: make(map[string][]*gorgonia.Node)}

	outputs := make([]*gorgonia.Node, seqLen)
	for step := 0; step < seqLen; step++ {
		t := step
		if args.Reverse {
			t = seqLen - 1 - step
		}
		zT, err := gorgonia.Slice(args.Z, gorgonia.S(t))
		if err != nil {
			return nil, errors.Wrapf(err, "Can't slice step %d of the input", t)
		}
		iT, err := gorgonia.Slice(args.Index, gorgonia.S(t))
		if err != nil {
			return nil, errors.Wrapf(err, "Can't slice step %d of the index", t)
		}
		res, err := u.step(rt.StepInputs{IndexT: iT, ZT: zT, States: states, WRe: args.WRe}, nil)
		if err != nil {
			return nil, errors.Wrapf(err, "Can't step unit lstmp at %d", t)
		}
		states = res.States
		outputs[t] = states[0]

		if args.Truncation > 0 && (step+1)%args.Truncation == 0 && step+1 < seqLen {
			for i, s := range states {
				v := gorgonia.NewMatrix(s.Graph(), s.Dtype(),
					gorgonia.WithShape(s.Shape()...),
					gorgonia.WithName(fmt.Sprintf("lstmp.trunc_%d_%d", step, i)),
					gorgonia.WithInit(gorgonia.Zeroes()))
				result.Boundaries = append(result.Boundaries, rt.Boundary{Src: s, Var: v})
				states[i] = v
			}
		}
	}

	output, err := rt.StackTime(outputs)
	if err != nil {
		return nil, errors.Wrap(err, "Can't stack the recurrence output")
	}
	result.Output = output
	result.States = states
	return result, nil
}
