package returnn

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
)

// ScanArgs configures one recurrence pass over a full sequence.
type ScanArgs struct {
	Unit Unit

	// Z is the precomputed input preactivation, (time, batch, NumIn).
	Z *gorgonia.Node

	// Index is the (time, batch) tensor of 0/1 step flags.
	Index *gorgonia.Node

	// WRe is the recurrent weight handed to the unit at every step.
	WRe *gorgonia.Node

	// InitStates seed the carried states, len Unit.Dims().NumAct, each (batch, NumOut).
	InitStates []*gorgonia.Node

	// Transform optionally biases the unit input each step and threads its own state; nil for
	// plain recurrences.
	Transform RecurrentTransform

	// Reverse processes the sequence from the last step to the first. The output is returned in
	// natural time order either way.
	Reverse bool

	// Truncation > 0 cuts gradient flow through the carried states every Truncation steps by
	// routing them through detached variable nodes; see ScanResult.Boundaries.
	Truncation int

	// LMMask is the optional (time, batch, 1) scheduled-sampling mask.
	LMMask *gorgonia.Node
}

// Boundary is one gradient-truncation cut: Var is a detached input node that replaced the carried
// state Src in the downstream graph. Before execution the driver evaluates Src and binds its
// value to Var; gradients stop at Var.
type Boundary struct {
	Src *gorgonia.Node
	Var *gorgonia.Node
}

// ScanResult is the outcome of a recurrence pass.
type ScanResult struct {
	// Output is the stacked visible output, (time, batch, NumOut), in natural time order.
	Output *gorgonia.Node

	// States are the final carried states.
	States []*gorgonia.Node

	// Aux holds the transform state values recorded after every step, per variable name, in
	// processing order (so reversed relative to natural time when Reverse is set).
	Aux map[string][]*gorgonia.Node

	Boundaries []Boundary
}

// A Scanner is a unit that fuses the whole sequence loop itself instead of being stepped by the
// generic executor (e.g. a projection variant that batches its input transform).
type Scanner interface {
	Scan(args ScanArgs) (*ScanResult, error)
}

// Scan unrolls the recurrence over the time axis of args.Z. Units implementing Scanner take over
// the whole pass; everything else is stepped one slice at a time, with the transform bias applied
// to the input slice before the unit sees it.
func Scan(args ScanArgs) (*ScanResult, error) {
	if args.Unit == nil {
		return nil, NilArgError{"Unit"}
	}
	if args.Z == nil {
		return nil, NilArgError{"Z"}
	}
	if args.Index == nil {
		return nil, NilArgError{"Index"}
	}
	dims := args.Unit.Dims()
	if len(args.InitStates) != dims.NumAct {
		return nil, Configf("unit %q carries %d states, got %d initial values",
			args.Unit.TypeString(), dims.NumAct, len(args.InitStates))
	}

	if scanner, ok := args.Unit.(Scanner); ok {
		return scanner.Scan(args)
	}

	seqLen := args.Z.Shape()[0]
	states := append([]*gorgonia.Node{}, args.InitStates...)

	var auxNames []string
	var aux []*gorgonia.Node
	result := &ScanResult{Aux: make(map[string][]*gorgonia.Node)}
	if args.Transform != nil {
		vars := args.Transform.StateVars()
		auxNames = SortedStateVarNames(vars)
		aux = make([]*gorgonia.Node, len(auxNames))
		for i, name := range auxNames {
			aux[i] = vars[name]
		}
	}

	outputs := make([]*gorgonia.Node, seqLen)
	for step := 0; step < seqLen; step++ {
		t := step
		if args.Reverse {
			t = seqLen - 1 - step
		}

		zT, err := sliceAxis(args.Z, 0, t)
		if err != nil {
			return nil, errors.Wrapf(err, "Can't slice step %d of the input", t)
		}
		iT, err := sliceAxis(args.Index, 0, t)
		if err != nil {
			return nil, errors.Wrapf(err, "Can't slice step %d of the index", t)
		}
		var lmMaskT *gorgonia.Node
		if args.LMMask != nil {
			if lmMaskT, err = sliceAxis(args.LMMask, 0, t); err != nil {
				return nil, errors.Wrapf(err, "Can't slice step %d of the feedback mask", t)
			}
		}

		if args.Transform != nil {
			bias, updated, err := args.Transform.Step(states[0], aux)
			if err != nil {
				return nil, errors.Wrapf(err, "Can't apply transform %q at step %d",
					args.Transform.TypeString(), t)
			}
			if bias != nil {
				if zT, err = gorgonia.Add(zT, bias); err != nil {
					return nil, errors.Wrapf(err, "Can't bias step %d of the input", t)
				}
			}
			aux = updated
			for i, name := range auxNames {
				result.Aux[name] = append(result.Aux[name], aux[i])
			}
		}

		res, err := args.Unit.Step(StepInputs{
			IndexT:  iT,
			ZT:      zT,
			States:  states,
			Aux:     aux,
			WRe:     args.WRe,
			LMMaskT: lmMaskT,
		})
		if err != nil {
			return nil, errors.Wrapf(err, "Can't step unit %q at %d", args.Unit.TypeString(), t)
		}
		if len(res.States) != dims.NumAct {
			return nil, Configf("unit %q returned %d states, expected %d",
				args.Unit.TypeString(), len(res.States), dims.NumAct)
		}
		states = res.States
		outputs[t] = states[0]

		if args.Truncation > 0 && (step+1)%args.Truncation == 0 && step+1 < seqLen {
			for i, s := range states {
				v := gorgonia.NewMatrix(s.Graph(), s.Dtype(),
					gorgonia.WithShape(s.Shape()...),
					gorgonia.WithName(fmt.Sprintf("%s.trunc_%d_%d", args.Unit.TypeString(), step, i)),
					gorgonia.WithInit(gorgonia.Zeroes()))
				result.Boundaries = append(result.Boundaries, Boundary{Src: s, Var: v})
				states[i] = v
			}
		}
	}

	output, err := StackTime(outputs)
	if err != nil {
		return nil, errors.Wrap(err, "Can't stack the recurrence output")
	}
	result.Output = output
	result.States = states
	return result, nil
}

// StackTime stacks per-step (batch, width) tensors into one (time, batch, width) tensor.
func StackTime(steps []*gorgonia.Node) (*gorgonia.Node, error) {
	if len(steps) == 0 {
		return nil, Configf("can't stack an empty sequence")
	}
	expanded := make([]*gorgonia.Node, len(steps))
	for i, s := range steps {
		shape := append([]int{1}, s.Shape()...)
		e, err := gorgonia.Reshape(s, shape)
		if err != nil {
			return nil, err
		}
		expanded[i] = e
	}
	if len(expanded) == 1 {
		return expanded[0], nil
	}
	return gorgonia.Concat(0, expanded...)
}
