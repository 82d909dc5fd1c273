package returnn

import (
	"math"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// LayerData is the serialized form of one layer: the class string, every parameter tensor by
// name, and the flattened attribute map (composite attributes JSON-encoded). Writing LayerData
// to an actual storage format is the persistence collaborator's job, not this package's.
type LayerData struct {
	Class  string
	Params map[string]tensor.Tensor
	Attrs  map[string]string
}

// Layer classes may be renamed between versions; older serialized models keep working as long as
// the old name is registered as an alias of the current one.
var layerClassAliases = make(map[string]string)

// RegisterLayerClass registers a canonical layer class name together with any historical
// aliases, so that loading tolerates serialized models written under an old name.
func RegisterLayerClass(canonical string, aliases ...string) {
	layerClassAliases[canonical] = canonical
	for _, a := range aliases {
		layerClassAliases[a] = canonical
	}
}

func resolveLayerClass(name string) string {
	if canonical, ok := layerClassAliases[name]; ok {
		return canonical
	}
	return name
}

// Save fills a LayerData record with the layer's current parameter values and attributes.
func (c *Container) Save(data *LayerData) error {
	if data == nil {
		return NilArgError{"LayerData"}
	}
	attrs, err := c.attrs.Encode()
	if err != nil {
		return errors.Wrapf(err, "Can't save attributes of layer %q", c.name)
	}
	data.Class = c.class
	data.Attrs = attrs
	data.Params = make(map[string]tensor.Tensor, len(c.params))
	for name, node := range c.params {
		value := node.Value().(tensor.Tensor)
		clone := value.Clone().(tensor.Tensor)
		data.Params[name] = clone
	}
	return nil
}

// Load assigns parameter values from a LayerData record. Parameters declared by the layer but
// absent from the record are left at their prior (freshly-initialized) value with a warning, as
// are stored parameters the layer does not declare. A class-name mismatch only warns, unless the
// two names resolve to different registered implementations, which warns more loudly; serialized
// models from renamed layer classes keep loading. Shape disagreement or NaN/Inf values abort the
// load.
func (c *Container) Load(data *LayerData) error {
	if data == nil {
		return NilArgError{"LayerData"}
	}
	if data.Class != c.class {
		if resolveLayerClass(data.Class) != resolveLayerClass(c.class) {
			logrus.Warnf("invalid layer class for %q (expected %s, got %s)", c.name, c.class, data.Class)
		} else {
			logrus.Warnf("layer class name mismatch for %q (expected %s, got %s)", c.name, c.class, data.Class)
		}
	}
	for name := range c.params {
		if _, ok := data.Params[name]; !ok {
			logrus.Warnf("unable to load parameter %s in %s", name, c.name)
		}
	}
	for name, value := range data.Params {
		node, ok := c.params[name]
		if !ok {
			logrus.Warnf("unable to match parameter %s in %s", name, c.name)
			continue
		}
		if !node.Shape().Eq(value.Shape()) {
			return errors.Wrapf(
				ShapeMismatchError{Param: name, Want: []int(node.Shape()), Got: []int(value.Shape())},
				"Can't load layer %q", c.name)
		}
		if hasNonFinite(value) {
			return errors.Wrapf(ValueCorruptionError{Param: name}, "Can't load layer %q", c.name)
		}
		if err := gorgonia.Let(node, value); err != nil {
			return errors.Wrapf(err, "Can't load parameter %q into layer %q", name, c.name)
		}
	}
	return nil
}

func hasNonFinite(t tensor.Tensor) bool {
	switch data := t.Data().(type) {
	case []float64:
		for _, v := range data {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return true
			}
		}
	case []float32:
		for _, v := range data {
			f := float64(v)
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return true
			}
		}
	case float64:
		return math.IsNaN(data) || math.IsInf(data, 0)
	case float32:
		f := float64(data)
		return math.IsNaN(f) || math.IsInf(f, 0)
	}
	return false
}
