package returnn_test

import (
	"errors"
	"sort"
	"testing"

	rt "github.com/jvhoffbauer/returnn"
	"gorgonia.org/gorgonia"
)

func TestSortedStateVarNames(t *testing.T) {
	vars := map[string]*gorgonia.Node{
		"att_weights": nil,
		"K_align":     nil,
		"att_beam":    nil,
		"zeta":        nil,
	}
	got := rt.SortedStateVarNames(vars)
	if !sort.StringsAreSorted(got) {
		t.Errorf("names not sorted: %v", got)
	}
	if len(got) != len(vars) {
		t.Errorf("got %d names for %d vars", len(got), len(vars))
	}
	// the threading order is positional, so repeated calls must agree
	again := rt.SortedStateVarNames(vars)
	for i := range got {
		if got[i] != again[i] {
			t.Fatalf("ordering is not stable: %v vs %v", got, again)
		}
	}
}

func TestNewTransformNone(t *testing.T) {
	for _, name := range []string{"", "none", "input"} {
		tr, err := rt.NewTransform(name)
		if err != nil {
			t.Errorf("NewTransform(%q): %v", name, err)
		}
		if tr != nil {
			t.Errorf("NewTransform(%q) should be nil", name)
		}
	}
}

func TestNewTransformUnknown(t *testing.T) {
	_, err := rt.NewTransform("attention_psychic")
	if !errors.Is(err, rt.ErrUnknownTransform) {
		t.Errorf("expected ErrUnknownTransform, got %v", err)
	}
}
