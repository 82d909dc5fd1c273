package returnn

import (
	"sort"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
)

// A RecurrentTransform augments a recurrence with per-step machinery (attention, pointer
// backtracking) that reads the previous output and its own extra state. Its state tensors are
// threaded through the scan alongside the unit's, always in sorted-name order, so a transform's
// behavior never depends on map iteration.
type RecurrentTransform interface {
	TypeString() string

	// Attach binds the transform to its owning layer. Parameters and initial state nodes are
	// created here, once the layer's sources and widths are known.
	Attach(layer *RecurrentLayer) error

	// StateVars returns the transform's extra state tensors keyed by name, holding their initial
	// values. Names starting with "att_" mark per-step attention weights that the layer stores
	// for inspection; names starting with "K_" mark hard-alignment backpointers.
	StateVars() map[string]*gorgonia.Node

	// Step computes the bias this transform adds to the unit input at one step, from the
	// previous visible output yP (batch, NumOut) and the current state values in sorted-name
	// order. It returns the bias (batch, NumIn) and the updated state values, same order.
	Step(yP *gorgonia.Node, state []*gorgonia.Node) (*gorgonia.Node, []*gorgonia.Node, error)

	// Cost returns an optional extra loss term for the transform, or nil.
	Cost() (*gorgonia.Node, error)
}

// SortedStateVarNames returns the state variable names in the canonical (sorted) threading order.
func SortedStateVarNames(vars map[string]*gorgonia.Node) []string {
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TransformMaker constructs a fresh, unattached transform.
type TransformMaker func() RecurrentTransform

var transformMakers = make(map[string]TransformMaker)

// RegisterTransform registers a transform constructor under its type string.
func RegisterTransform(name string, maker TransformMaker) {
	if maker == nil {
		panic(errors.Errorf("Can't register recurrent transform %q with nil maker", name))
	}
	if _, ok := transformMakers[name]; ok {
		panic(errors.Errorf("Can't register recurrent transform %q twice", name))
	}
	transformMakers[name] = maker
}

// NewTransform constructs the transform registered under name. "none" and "" mean no transform
// and return nil. "input" is resolved by the recurrent layer itself (it becomes a sequence-level
// input bias, not a per-step transform) and also returns nil here.
func NewTransform(name string) (RecurrentTransform, error) {
	switch name {
	case "", "none", "input":
		return nil, nil
	}
	maker, ok := transformMakers[name]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownTransform, "%q", name)
	}
	return maker(), nil
}
