package units_test

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	rt "github.com/jvhoffbauer/returnn"
	_ "github.com/jvhoffbauer/returnn/initializers"
	_ "github.com/jvhoffbauer/returnn/units"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func node(g *gorgonia.ExprGraph, name string, shape []int, backing []float64) *gorgonia.Node {
	return gorgonia.NodeFromAny(g,
		tensor.New(tensor.WithShape(shape...), tensor.WithBacking(backing)),
		gorgonia.WithName(name))
}

func ones(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1
	}
	return out
}

func eyeBacking(n int) []float64 {
	out := make([]float64, n*n)
	for i := 0; i < n; i++ {
		out[i*n+i] = 1
	}
	return out
}

func run(t *testing.T, g *gorgonia.ExprGraph) {
	t.Helper()
	machine := gorgonia.NewTapeMachine(g)
	defer machine.Close()
	if err := machine.RunAll(); err != nil {
		t.Fatalf("RunAll: %v", err)
	}
}

func mustUnit(t *testing.T, name string, args rt.UnitArgs) rt.Unit {
	t.Helper()
	u, err := rt.NewUnit(name, args)
	if err != nil {
		t.Fatalf("NewUnit(%s): %v", name, err)
	}
	return u
}

func TestUnknownUnit(t *testing.T) {
	_, err := rt.NewUnit("perceptron9000", rt.UnitArgs{})
	if !errors.Is(err, rt.ErrUnknownUnit) {
		t.Errorf("expected ErrUnknownUnit, got %v", err)
	}
}

func TestUnitDims(t *testing.T) {
	cases := []struct {
		name             string
		in, out, re, act int
	}{
		{"vanilla", 4, 4, 4, 1},
		{"lstme", 16, 4, 16, 2},
		{"lstmp", 16, 4, 16, 2},
		{"gru", 12, 4, 8, 1},
		{"sru", 12, 4, 12, 1},
	}
	for _, c := range cases {
		g := gorgonia.NewGraph()
		u := mustUnit(t, c.name, rt.UnitArgs{
			Graph: g, NumUnits: 4, DType: tensor.Float64,
			RNG: rand.New(rand.NewSource(1)), LayerName: "l1",
		})
		d := u.Dims()
		if d.NumIn != c.in || d.NumOut != c.out || d.NumRe != c.re || d.NumAct != c.act {
			t.Errorf("%s dims = %+v", c.name, d)
		}
	}
}

func TestLSTMCRequiresTransformOrFeedback(t *testing.T) {
	_, err := rt.NewUnit("lstmc", rt.UnitArgs{
		Graph: gorgonia.NewGraph(), NumUnits: 4, DType: tensor.Float64,
		RNG: rand.New(rand.NewSource(1)), LayerName: "l1",
	})
	var cfg rt.ConfigError
	if !errors.As(err, &cfg) {
		t.Errorf("expected a ConfigError, got %v", err)
	}
}

func TestGRUOwnsResetParam(t *testing.T) {
	g := gorgonia.NewGraph()
	u := mustUnit(t, "gru", rt.UnitArgs{
		Graph: g, NumUnits: 4, DType: tensor.Float64,
		RNG: rand.New(rand.NewSource(1)), LayerName: "l1",
	})
	params := u.Params()
	if len(params) != 1 {
		t.Fatalf("gru owns %d params, want 1", len(params))
	}
	w, ok := params["W_reset_l1"]
	if !ok {
		t.Fatalf("no W_reset_l1 in %v", params)
	}
	if !w.Shape().Eq(tensor.Shape{4, 4}) {
		t.Errorf("W_reset shape %v, want (4, 4)", w.Shape())
	}
}

// A vanilla recurrence with W_re = I reduces to y_t = tanh(z_t + y_{t-1}).
func TestVanillaRecurrence(t *testing.T) {
	const seqLen, batches, n = 3, 2, 4
	g := gorgonia.NewGraph()

	zd := make([]float64, seqLen*batches*n)
	for i := range zd {
		zd[i] = 0.05 * float64(i%11)
	}
	z := node(g, "z", []int{seqLen, batches, n}, zd)
	index := node(g, "i", []int{seqLen, batches}, ones(seqLen*batches))
	wRe := node(g, "W_re", []int{n, n}, eyeBacking(n))
	init := node(g, "s0", []int{batches, n}, make([]float64, batches*n))

	u := mustUnit(t, "vanilla", rt.UnitArgs{
		Graph: g, NumUnits: n, DType: tensor.Float64,
		RNG: rand.New(rand.NewSource(1)), LayerName: "l1",
	})
	res, err := rt.Scan(rt.ScanArgs{
		Unit: u, Z: z, Index: index, WRe: wRe,
		InitStates: []*gorgonia.Node{init},
	})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	run(t, g)

	got := res.Output.Value().Data().([]float64)
	prev := make([]float64, batches*n)
	for step := 0; step < seqLen; step++ {
		for i := 0; i < batches*n; i++ {
			want := math.Tanh(zd[step*batches*n+i] + prev[i])
			if math.Abs(got[step*batches*n+i]-want) > 1e-9 {
				t.Errorf("y[%d][%d] = %v, want %v", step, i, got[step*batches*n+i], want)
			}
			prev[i] = want
		}
	}
}

// A batch row whose index flag is 0 must carry its output through the step unchanged.
func TestLSTMHoldState(t *testing.T) {
	const seqLen, batches, n = 2, 2, 2
	for _, name := range []string{"lstme", "lstmp"} {
		g := gorgonia.NewGraph()

		zd := make([]float64, seqLen*batches*4*n)
		for i := range zd {
			zd[i] = 0.3 * float64(i%5)
		}
		z := node(g, "z", []int{seqLen, batches, 4 * n}, zd)
		// second step is padding for batch row 1
		index := node(g, "i", []int{seqLen, batches}, []float64{1, 1, 1, 0})
		wd := make([]float64, n*4*n)
		for i := range wd {
			wd[i] = 0.1
		}
		wRe := node(g, "W_re", []int{n, 4 * n}, wd)
		init := []*gorgonia.Node{
			node(g, "y0", []int{batches, n}, make([]float64, batches*n)),
			node(g, "c0", []int{batches, n}, make([]float64, batches*n)),
		}

		u := mustUnit(t, name, rt.UnitArgs{
			Graph: g, NumUnits: n, DType: tensor.Float64,
			RNG: rand.New(rand.NewSource(1)), LayerName: "l1",
		})
		res, err := rt.Scan(rt.ScanArgs{Unit: u, Z: z, Index: index, WRe: wRe, InitStates: init})
		if err != nil {
			t.Fatalf("%s Scan: %v", name, err)
		}
		run(t, g)

		got := res.Output.Value().Data().([]float64)
		// (time, batch, n) layout: row 1 of step 1 vs row 1 of step 0
		for j := 0; j < n; j++ {
			before := got[0*batches*n+1*n+j]
			after := got[1*batches*n+1*n+j]
			if before != after {
				t.Errorf("%s: padded row changed: %v -> %v", name, before, after)
			}
			active := got[1*batches*n+0*n+j]
			if active == got[0*batches*n+0*n+j] {
				t.Errorf("%s: active row did not change", name)
			}
		}
	}
}

// The hold-state property also covers the step-hosting variant with feedback wired in.
func TestLSTMCHoldState(t *testing.T) {
	const seqLen, batches, n, cls = 2, 2, 2, 3
	g := gorgonia.NewGraph()

	zd := make([]float64, seqLen*batches*4*n)
	for i := range zd {
		zd[i] = 0.25 * float64(i%4)
	}
	z := node(g, "z", []int{seqLen, batches, 4 * n}, zd)
	index := node(g, "i", []int{seqLen, batches}, []float64{1, 1, 1, 0})
	wd := make([]float64, n*4*n)
	for i := range wd {
		wd[i] = 0.1
	}
	wRe := node(g, "W_re", []int{n, 4 * n}, wd)

	lmIn := make([]float64, n*cls)
	for i := range lmIn {
		lmIn[i] = 0.2 * float64(i%3)
	}
	lmOut := make([]float64, cls*4*n)
	for i := range lmOut {
		lmOut[i] = 0.05 * float64(i%5)
	}
	u := mustUnit(t, "lstmc", rt.UnitArgs{
		Graph: g, NumUnits: n, DType: tensor.Float64,
		RNG: rand.New(rand.NewSource(1)), LayerName: "l1",
		LM: &rt.LMFeedback{
			WIn:  node(g, "W_lm_in", []int{n, cls}, lmIn),
			WOut: node(g, "W_lm_out", []int{cls, 4 * n}, lmOut),
		},
	})
	init := []*gorgonia.Node{
		node(g, "y0", []int{batches, n}, make([]float64, batches*n)),
		node(g, "c0", []int{batches, n}, make([]float64, batches*n)),
	}
	res, err := rt.Scan(rt.ScanArgs{Unit: u, Z: z, Index: index, WRe: wRe, InitStates: init})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	run(t, g)

	got := res.Output.Value().Data().([]float64)
	for j := 0; j < n; j++ {
		before := got[0*batches*n+1*n+j]
		after := got[1*batches*n+1*n+j]
		if before != after {
			t.Errorf("padded row changed: %v -> %v", before, after)
		}
	}
}

// A scheduled-sampling mask of 1 means "this row got the ground truth", so the own-prediction
// feedback must come out zeroed for it and untouched for mask-0 rows.
func TestFeedbackMaskGatesPrediction(t *testing.T) {
	const batches, n, cls, nIn = 2, 2, 3, 4
	g := gorgonia.NewGraph()

	// constant columns make the expected feedback independent of the softmax weights:
	// each output j is sum_k softmax_k * col_j = col_j
	cols := []float64{1, 2, 3, 4}
	lmOut := make([]float64, cls*nIn)
	for k := 0; k < cls; k++ {
		copy(lmOut[k*nIn:], cols)
	}
	lm := &rt.LMFeedback{
		WIn:  node(g, "W_lm_in", []int{n, cls}, []float64{0.1, -0.2, 0.3, 0.4, 0, -0.1}),
		WOut: node(g, "W_lm_out", []int{cls, nIn}, lmOut),
	}
	yP := node(g, "y_p", []int{batches, n}, []float64{0.5, -0.25, 1, 0.75})
	mask := node(g, "m", []int{batches, 1}, []float64{1, 0})

	fb, err := lm.Feedback(yP, mask)
	if err != nil {
		t.Fatalf("Feedback: %v", err)
	}
	run(t, g)

	got := fb.Value().Data().([]float64)
	for j := 0; j < nIn; j++ {
		if got[j] != 0 {
			t.Errorf("masked row fed back %v at %d, want 0", got[j], j)
		}
		if math.Abs(got[nIn+j]-cols[j]) > 1e-9 {
			t.Errorf("open row fed back %v at %d, want %v", got[nIn+j], j, cols[j])
		}
	}
}

// The fused pass must compute exactly what the elementwise step computes.
func TestLSTMPMatchesLSTME(t *testing.T) {
	const seqLen, batches, n = 3, 2, 3
	outputs := make(map[string][]float64)
	for _, name := range []string{"lstme", "lstmp"} {
		g := gorgonia.NewGraph()
		zd := make([]float64, seqLen*batches*4*n)
		for i := range zd {
			zd[i] = 0.07*float64(i%13) - 0.3
		}
		z := node(g, "z", []int{seqLen, batches, 4 * n}, zd)
		index := node(g, "i", []int{seqLen, batches}, ones(seqLen*batches))
		wd := make([]float64, n*4*n)
		for i := range wd {
			wd[i] = 0.02 * float64(i%7)
		}
		wRe := node(g, "W_re", []int{n, 4 * n}, wd)
		init := []*gorgonia.Node{
			node(g, "y0", []int{batches, n}, make([]float64, batches*n)),
			node(g, "c0", []int{batches, n}, make([]float64, batches*n)),
		}
		u := mustUnit(t, name, rt.UnitArgs{
			Graph: g, NumUnits: n, DType: tensor.Float64,
			RNG: rand.New(rand.NewSource(1)), LayerName: "l1",
		})
		res, err := rt.Scan(rt.ScanArgs{Unit: u, Z: z, Index: index, WRe: wRe, InitStates: init})
		if err != nil {
			t.Fatalf("%s Scan: %v", name, err)
		}
		run(t, g)
		outputs[name] = append([]float64{}, res.Output.Value().Data().([]float64)...)
	}
	e, p := outputs["lstme"], outputs["lstmp"]
	for i := range e {
		if math.Abs(e[i]-p[i]) > 1e-12 {
			t.Errorf("output[%d]: lstme %v vs lstmp %v", i, e[i], p[i])
		}
	}
}

// Reversed scanning processes the last step first but still returns natural time order.
func TestVanillaReverse(t *testing.T) {
	const seqLen, batches, n = 3, 1, 2
	g := gorgonia.NewGraph()
	zd := []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6}
	z := node(g, "z", []int{seqLen, batches, n}, zd)
	index := node(g, "i", []int{seqLen, batches}, ones(seqLen*batches))
	wRe := node(g, "W_re", []int{n, n}, eyeBacking(n))
	init := node(g, "s0", []int{batches, n}, make([]float64, batches*n))

	u := mustUnit(t, "vanilla", rt.UnitArgs{
		Graph: g, NumUnits: n, DType: tensor.Float64,
		RNG: rand.New(rand.NewSource(1)), LayerName: "l1",
	})
	res, err := rt.Scan(rt.ScanArgs{
		Unit: u, Z: z, Index: index, WRe: wRe,
		InitStates: []*gorgonia.Node{init},
		Reverse:    true,
	})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	run(t, g)

	got := res.Output.Value().Data().([]float64)
	prev := make([]float64, n)
	want := make([]float64, seqLen*n)
	for step := seqLen - 1; step >= 0; step-- {
		for j := 0; j < n; j++ {
			prev[j] = math.Tanh(zd[step*n+j] + prev[j])
			want[step*n+j] = prev[j]
		}
	}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-9 {
			t.Errorf("y[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

// Truncation records one detached boundary per carried state at every cut.
func TestTruncationBoundaries(t *testing.T) {
	const seqLen, batches, n = 5, 1, 2
	g := gorgonia.NewGraph()
	zd := make([]float64, seqLen*batches*n)
	z := node(g, "z", []int{seqLen, batches, n}, zd)
	index := node(g, "i", []int{seqLen, batches}, ones(seqLen*batches))
	wRe := node(g, "W_re", []int{n, n}, eyeBacking(n))
	init := node(g, "s0", []int{batches, n}, make([]float64, batches*n))

	u := mustUnit(t, "vanilla", rt.UnitArgs{
		Graph: g, NumUnits: n, DType: tensor.Float64,
		RNG: rand.New(rand.NewSource(1)), LayerName: "l1",
	})
	res, err := rt.Scan(rt.ScanArgs{
		Unit: u, Z: z, Index: index, WRe: wRe,
		InitStates: []*gorgonia.Node{init},
		Truncation: 2,
	})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	// cuts after steps 2 and 4, one state each
	if len(res.Boundaries) != 2 {
		t.Fatalf("got %d boundaries, want 2", len(res.Boundaries))
	}
	for i, b := range res.Boundaries {
		if b.Src == nil || b.Var == nil {
			t.Errorf("boundary %d is incomplete", i)
		}
	}
}
