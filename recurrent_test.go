package returnn_test

import (
	"errors"
	"math"
	"math/rand"
	"reflect"
	"testing"

	rt "github.com/jvhoffbauer/returnn"
	_ "github.com/jvhoffbauer/returnn/initializers"
	_ "github.com/jvhoffbauer/returnn/units"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func newRecurrent(t *testing.T, g *gorgonia.ExprGraph, args rt.RecurrentLayerArgs) *rt.RecurrentLayer {
	t.Helper()
	layer, err := rt.NewRecurrentLayer(args)
	if err != nil {
		t.Fatalf("NewRecurrentLayer: %v", err)
	}
	return layer
}

func TestRecurrentVanillaRuns(t *testing.T) {
	g := gorgonia.NewGraph()
	src := newTestSource(t, g, "in0", 3, 2, 5, func(i int) float64 { return 0.01 * float64(i%17) })
	layer := newRecurrent(t, g, rt.RecurrentLayerArgs{
		LayerArgs: rt.LayerArgs{
			ContainerArgs: rt.ContainerArgs{Graph: g, Name: "rec1", RNG: rand.New(rand.NewSource(5))},
			Sources:       []rt.Source{src},
			NOut:          4,
			Index:         onesIndex(g, "idx", 3, 2),
		},
		Unit: "vanilla",
	})
	runGraph(t, g)

	out := layer.OutputNode()
	if !out.Shape().Eq(tensor.Shape{3, 2, 4}) {
		t.Fatalf("output shape %v, want (3, 2, 4)", out.Shape())
	}
	for i, v := range values(t, out) {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("output[%d] = %v", i, v)
		}
	}
	if len(layer.FinalStates()) != 1 {
		t.Errorf("vanilla carries %d final states", len(layer.FinalStates()))
	}
}

func TestRecurrentLSTMAutoSelection(t *testing.T) {
	g := gorgonia.NewGraph()
	src := newTestSource(t, g, "in0", 2, 2, 3, func(int) float64 { return 0.1 })
	layer := newRecurrent(t, g, rt.RecurrentLayerArgs{
		LayerArgs: rt.LayerArgs{
			ContainerArgs: rt.ContainerArgs{Graph: g, Name: "rec1", RNG: rand.New(rand.NewSource(5))},
			Sources:       []rt.Source{src},
			NOut:          4,
			Index:         onesIndex(g, "idx", 2, 2),
		},
		// Unit defaults to "lstm": resolves to the elementwise step on CPU
		Backend: rt.CPU,
	})
	if got := layer.Unit().TypeString(); got != "lstme" {
		t.Errorf("resolved unit %q, want lstme", got)
	}
	if layer.Attrs().String("unit") != "lstm" {
		t.Errorf("the requested unit name should be recorded, got %q", layer.Attrs().String("unit"))
	}
}

func TestRecurrentToConfig(t *testing.T) {
	g := gorgonia.NewGraph()
	src := newTestSource(t, g, "in0", 2, 2, 3, func(int) float64 { return 0.1 })
	layer := newRecurrent(t, g, rt.RecurrentLayerArgs{
		LayerArgs: rt.LayerArgs{
			ContainerArgs: rt.ContainerArgs{Graph: g, Name: "rec1", RNG: rand.New(rand.NewSource(5))},
			Sources:       []rt.Source{src},
			NOut:          4,
			Index:         onesIndex(g, "idx", 2, 2),
		},
		Unit: "gru",
	})

	cfg := layer.ToConfig()
	if cfg.String("class") != "rec" {
		t.Errorf("class = %q", cfg.String("class"))
	}
	if cfg.String("unit") != "gru" {
		t.Errorf("unit = %q", cfg.String("unit"))
	}
	from, ok := cfg["from"].([]string)
	if !ok || len(from) != 1 || from[0] != "in0" {
		t.Errorf("from = %#v, want [in0]", cfg["from"])
	}
	if !reflect.DeepEqual(cfg, layer.ToConfig()) {
		t.Error("ToConfig is not stable across calls")
	}
}

func TestRecurrentSampling(t *testing.T) {
	g := gorgonia.NewGraph()
	src := newTestSource(t, g, "in0", 4, 2, 3, func(i int) float64 { return 0.02 * float64(i%9) })
	layer := newRecurrent(t, g, rt.RecurrentLayerArgs{
		LayerArgs: rt.LayerArgs{
			ContainerArgs: rt.ContainerArgs{Graph: g, Name: "rec1", RNG: rand.New(rand.NewSource(5))},
			Sources:       []rt.Source{src},
			NOut:          4,
			Index:         onesIndex(g, "idx", 4, 2),
		},
		Unit:     "vanilla",
		Sampling: 2,
	})
	runGraph(t, g)

	out := layer.OutputNode()
	if !out.Shape().Eq(tensor.Shape{4, 2, 4}) {
		t.Fatalf("sampled output shape %v, want (4, 2, 4)", out.Shape())
	}
}

func TestRecurrentReverseDirection(t *testing.T) {
	g := gorgonia.NewGraph()
	src := newTestSource(t, g, "in0", 3, 2, 3, func(i int) float64 { return 0.05 * float64(i%7) })
	layer := newRecurrent(t, g, rt.RecurrentLayerArgs{
		LayerArgs: rt.LayerArgs{
			ContainerArgs: rt.ContainerArgs{Graph: g, Name: "rec1", RNG: rand.New(rand.NewSource(5))},
			Sources:       []rt.Source{src},
			NOut:          4,
			Index:         onesIndex(g, "idx", 3, 2),
		},
		Unit:      "vanilla",
		Direction: -1,
	})
	runGraph(t, g)
	if !layer.OutputNode().Shape().Eq(tensor.Shape{3, 2, 4}) {
		t.Fatalf("reversed output shape %v", layer.OutputNode().Shape())
	}
	if layer.Attrs().Int("direction") != -1 {
		t.Errorf("direction attr = %d", layer.Attrs().Int("direction"))
	}
}

func TestForgetShiftRequiresFourGates(t *testing.T) {
	g := gorgonia.NewGraph()
	src := newTestSource(t, g, "in0", 2, 2, 3, func(int) float64 { return 0 })
	_, err := rt.NewRecurrentLayer(rt.RecurrentLayerArgs{
		LayerArgs: rt.LayerArgs{
			ContainerArgs: rt.ContainerArgs{Graph: g, Name: "rec1", RNG: rand.New(rand.NewSource(5))},
			Sources:       []rt.Source{src},
			NOut:          4,
			Index:         onesIndex(g, "idx", 2, 2),
		},
		Unit:            "vanilla",
		ForgetBiasShift: 1,
	})
	var cfg rt.ConfigError
	if !errors.As(err, &cfg) {
		t.Errorf("expected a ConfigError for a 1-gate unit, got %v", err)
	}
}

func TestForgetShiftApplied(t *testing.T) {
	g := gorgonia.NewGraph()
	src := newTestSource(t, g, "in0", 2, 2, 3, func(int) float64 { return 0 })
	layer := newRecurrent(t, g, rt.RecurrentLayerArgs{
		LayerArgs: rt.LayerArgs{
			ContainerArgs: rt.ContainerArgs{Graph: g, Name: "rec1", RNG: rand.New(rand.NewSource(5))},
			Sources:       []rt.Source{src},
			NOut:          3,
			Index:         onesIndex(g, "idx", 2, 2),
		},
		Unit:            "lstme",
		ForgetBiasShift: 0.5,
	})
	b := layer.Param("b_rec1")
	if b == nil {
		t.Fatal("no bias parameter")
	}
	data := b.Value().Data().([]float64)
	if len(data) != 12 {
		t.Fatalf("bias width %d, want 12", len(data))
	}
	for i, v := range data {
		want := 0.0
		if i >= 3 && i < 6 { // forget-gate block
			want = 0.5
		}
		if v != want {
			t.Errorf("b[%d] = %v, want %v", i, v, want)
		}
	}
}

func TestRecurrentEncoderInit(t *testing.T) {
	g := gorgonia.NewGraph()
	src := newTestSource(t, g, "in0", 3, 2, 3, func(i int) float64 { return 0.03 * float64(i%5) })
	enc := newRecurrent(t, g, rt.RecurrentLayerArgs{
		LayerArgs: rt.LayerArgs{
			ContainerArgs: rt.ContainerArgs{Graph: g, Name: "enc1", RNG: rand.New(rand.NewSource(5))},
			Sources:       []rt.Source{src},
			NOut:          4,
			Index:         onesIndex(g, "enc.idx", 3, 2),
		},
		Unit: "vanilla",
	})
	dec := newRecurrent(t, g, rt.RecurrentLayerArgs{
		LayerArgs: rt.LayerArgs{
			ContainerArgs: rt.ContainerArgs{Graph: g, Name: "dec1", RNG: rand.New(rand.NewSource(6))},
			NOut:          4,
			Index:         onesIndex(g, "dec.idx", 1, 2),
		},
		Unit:     "vanilla",
		NDec:     2,
		Encoders: []*rt.RecurrentLayer{enc},
	})
	runGraph(t, g)

	if !dec.OutputNode().Shape().Eq(tensor.Shape{2, 2, 4}) {
		t.Fatalf("decoder output shape %v, want (2, 2, 4)", dec.OutputNode().Shape())
	}
	if dec.Attrs().String("encoder") != "enc1" {
		t.Errorf("encoder attr = %q", dec.Attrs().String("encoder"))
	}
}

// onesPointer is a transform whose only state variable is a "K_" backpointer matrix of ones:
// every decoder step points one base position back, so a backtrace walks the base in reverse.
type onesPointer struct {
	vars map[string]*gorgonia.Node
}

func init() {
	rt.RegisterTransform("ones_pointer", func() rt.RecurrentTransform { return &onesPointer{} })
}

func (p *onesPointer) TypeString() string { return "ones_pointer" }

func (p *onesPointer) Attach(layer *rt.RecurrentLayer) error {
	base := layer.BaseSources()
	if len(base) == 0 {
		return rt.Configf("ones_pointer needs a base")
	}
	baseLen := base[0].OutputNode().Shape()[0]
	batches := layer.NumBatches()
	backing := make([]float64, baseLen*batches)
	for i := range backing {
		backing[i] = 1
	}
	p.vars = map[string]*gorgonia.Node{
		"K_ptr": gorgonia.NodeFromAny(layer.Graph(),
			tensor.New(tensor.WithShape(baseLen, batches), tensor.WithBacking(backing)),
			gorgonia.WithName(layer.Name()+".K_ptr0")),
	}
	return nil
}

func (p *onesPointer) StateVars() map[string]*gorgonia.Node { return p.vars }

func (p *onesPointer) Step(yP *gorgonia.Node, state []*gorgonia.Node) (*gorgonia.Node, []*gorgonia.Node, error) {
	return nil, state, nil
}

func (p *onesPointer) Cost() (*gorgonia.Node, error) { return nil, nil }

func TestAttentionAlignBackpointers(t *testing.T) {
	g := gorgonia.NewGraph()
	base := newTestSource(t, g, "base0", 3, 2, 3, func(i int) float64 { return 0.01 * float64(i%5) })
	src := newTestSource(t, g, "in0", 2, 2, 3, func(i int) float64 { return 0.02 * float64(i%3) })
	layer := newRecurrent(t, g, rt.RecurrentLayerArgs{
		LayerArgs: rt.LayerArgs{
			ContainerArgs: rt.ContainerArgs{Graph: g, Name: "dec1", RNG: rand.New(rand.NewSource(5))},
			Sources:       []rt.Source{src},
			NOut:          4,
			Index:         onesIndex(g, "idx", 2, 2),
		},
		Unit:           "vanilla",
		Base:           []rt.Source{base},
		Transform:      "ones_pointer",
		AttentionAlign: true,
	})
	runGraph(t, g)

	ptrs := layer.Backpointers()
	if len(ptrs) != 1 {
		t.Fatalf("got %d backpointer variables, want 1", len(ptrs))
	}
	if len(ptrs[0]) != 2 {
		t.Fatalf("got %d backpointer steps, want 2", len(ptrs[0]))
	}
	k := make([]tensor.Tensor, len(ptrs[0]))
	for i, n := range ptrs[0] {
		kt, ok := n.Value().(tensor.Tensor)
		if !ok {
			t.Fatalf("backpointer %d holds %T", i, n.Value())
		}
		k[i] = kt
	}
	aln, err := rt.Backtrace(k, 3)
	if err != nil {
		t.Fatalf("Backtrace: %v", err)
	}
	want := [][]int{{1, 1}, {0, 0}}
	if !reflect.DeepEqual(aln, want) {
		t.Errorf("alignment = %v, want %v", aln, want)
	}
}

func TestBacktrace(t *testing.T) {
	// two decoder steps, one batch row, base length 3: offsets 1 then 1 walk 2 -> 1 -> 0
	k0 := tensor.New(tensor.WithShape(3, 1), tensor.WithBacking([]float64{0, 1, 1}))
	k1 := tensor.New(tensor.WithShape(3, 1), tensor.WithBacking([]float64{0, 1, 2}))
	aln, err := rt.Backtrace([]tensor.Tensor{k0, k1}, 3)
	if err != nil {
		t.Fatalf("Backtrace: %v", err)
	}
	if len(aln) != 2 || aln[0][0] != 1 || aln[1][0] != 0 {
		t.Errorf("alignment = %v, want [[1] [0]]", aln)
	}
}
