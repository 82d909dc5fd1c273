// Package returnn provides layer and recurrent-cell abstractions for building symbolic-graph
// recurrent networks on top of gorgonia: base layer containers with named parameters, a family
// of initialization policies, several recurrent unit variants, and a generic scan executor with
// attention hooks.
//
// For brevity, the package is abbreviated 'rt'.
//
// Building Layers
//
// Every layer is built against a gorgonia expression graph, an explicit random source, and a
// (time, batch) index mask flagging the valid positions of each sequence:
//
//	g := gorgonia.NewGraph()
//	rng := rand.New(rand.NewSource(42))
//	layer, err := rt.NewRecurrentLayer(rt.RecurrentLayerArgs{
//		LayerArgs: rt.LayerArgs{
//			ContainerArgs: rt.ContainerArgs{Graph: g, Name: "rec1", RNG: rng},
//			Sources:       []rt.Source{input},
//			NOut:          128,
//			Index:         index,
//		},
//		Unit: "lstm",
//	})
//
// NewForwardLayer (a plain dense layer) and NewLinearRecurrentLayer (a gated linear
// accumulator) are built the same way and run through the same output pipeline.
//
// Construction is where all validation happens: unknown unit, consensus, transform, or
// activation names, invalid mask modes, and contradictory settings fail immediately and are
// never recovered. After construction the layer's output node is fixed; evaluation is deferred
// to whatever machine runs the graph.
//
// Units and Transforms
//
// Cell implementations live in the subpackage "units" and register themselves by type string;
// recurrent transforms (attention) live in "transforms". Both are resolved at layer
// construction, so the subpackages must be imported (usually blank) by the caller:
//
//	import (
//		_ "github.com/jvhoffbauer/returnn/transforms"
//		_ "github.com/jvhoffbauer/returnn/units"
//	)
//
// The "lstm" unit name auto-selects an implementation: the elementwise step on CPU, the fused
// pass on GPU when no per-step transform or feedback is attached, and the transform-hosting
// variant otherwise. All three compute the same function for the same weights.
//
// Initializers
//
// Parameter initialization policies are registered the same way, in the subpackage
// "initializers": zeros, eye, random_normal, random_uniform, random_unitary, and
// random_unitary_tiled. A layer picks them per parameter group through ContainerArgs:
//
//	ForwardWeightsInit: &rt.WeightInit{Name: "random_unitary"},
//	BiasInit:           &rt.WeightInit{Name: "zeros"},
//
// Saving and Loading
//
// A layer serializes to a LayerData record: class string, parameter tensors by name, and the
// JSON-flattened attribute map. Writing that record to disk is the caller's concern. Loading is
// deliberately tolerant: missing or unmatched parameters warn and are skipped, renamed layer
// classes resolve through registered aliases, while shape mismatches and NaN/Inf values abort.
package returnn
