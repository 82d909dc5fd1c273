package returnn_test

import (
	"errors"
	"math"
	"testing"

	rt "github.com/jvhoffbauer/returnn"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func TestActivationUnknown(t *testing.T) {
	if _, err := rt.ActivationByName("maxout"); !errors.Is(err, rt.ErrUnknownActivation) {
		t.Errorf("expected ErrUnknownActivation, got %v", err)
	}
}

func TestActivationEmptyIsIdentity(t *testing.T) {
	act, err := rt.ActivationByName("")
	if err != nil {
		t.Fatal(err)
	}
	g := gorgonia.NewGraph()
	x := gorgonia.NodeFromAny(g,
		tensor.New(tensor.WithShape(2), tensor.WithBacking([]float64{1, 2})),
		gorgonia.WithName("x"))
	y, err := act(x)
	if err != nil {
		t.Fatal(err)
	}
	if y != x {
		t.Error("identity activation did not return its input")
	}
}

func TestSoftsign(t *testing.T) {
	in := []float64{-2, -0.5, 0, 0.5, 2}
	g := gorgonia.NewGraph()
	x := gorgonia.NodeFromAny(g,
		tensor.New(tensor.WithShape(len(in)), tensor.WithBacking(append([]float64{}, in...))),
		gorgonia.WithName("x"))
	act, err := rt.ActivationByName("softsign")
	if err != nil {
		t.Fatal(err)
	}
	y, err := act(x)
	if err != nil {
		t.Fatal(err)
	}
	runGraph(t, g)

	got := values(t, y)
	for i, v := range in {
		want := v / (1 + math.Abs(v))
		if got[i] != want {
			t.Errorf("softsign(%v) = %v, want %v", v, got[i], want)
		}
	}
}
