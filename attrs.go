package returnn

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Attrs is the attribute map of a layer. Values are bool, int, float64, string, or (for composite
// attributes) []interface{} / map[string]interface{}. Attributes are set during construction only;
// afterwards the map is treated as read-only.
type Attrs map[string]interface{}

// Set stores an attribute. Composite values must survive a JSON round trip; Set panics with
// ConfigError on values that cannot be encoded, since that is always a construction bug.
func (a Attrs) Set(name string, value interface{}) {
	switch value.(type) {
	case bool, int, float64, string, []string, []interface{}, map[string]interface{}:
	default:
		if _, err := json.Marshal(value); err != nil {
			panic(Configf("attribute %q has unencodable type %T", name, value))
		}
	}
	a[name] = value
}

// Float reads a float attribute, tolerating int values. Missing attributes read as zero.
func (a Attrs) Float(name string) float64 {
	switch v := a[name].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

// Int reads an int attribute. Missing attributes read as zero.
func (a Attrs) Int(name string) int {
	switch v := a[name].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// Bool reads a bool attribute. Missing attributes read as false.
func (a Attrs) Bool(name string) bool {
	v, _ := a[name].(bool)
	return v
}

// String reads a string attribute. Missing attributes read as "".
func (a Attrs) String(name string) string {
	v, _ := a[name].(string)
	return v
}

// Encode flattens the attribute map for storage: scalars stay as-is, composite values are
// JSON-encoded strings.
func (a Attrs) Encode() (map[string]string, error) {
	out := make(map[string]string, len(a))
	for k, v := range a {
		switch t := v.(type) {
		case string:
			out[k] = t
		case bool:
			out[k] = strconv.FormatBool(t)
		case int:
			out[k] = strconv.Itoa(t)
		case float64:
			out[k] = strconv.FormatFloat(t, 'g', -1, 64)
		default:
			b, err := json.Marshal(v)
			if err != nil {
				return nil, errors.Wrapf(err, "Can't encode attribute %q", k)
			}
			out[k] = string(b)
		}
	}
	return out, nil
}

var trailingNumber = regexp.MustCompile(`^.*?([0-9]+)[^0-9]*$`)

// GuessSourceLayerName guesses the previous layer's name from a layer name following the
// "hidden_N_fw" scheme: the trailing number is decremented by one. Returns "" when the name does
// not match the scheme or the number is already zero.
func GuessSourceLayerName(layerName string) string {
	m := trailingNumber.FindStringSubmatchIndex(layerName)
	if m == nil {
		return ""
	}
	start, end := m[2], m[3]
	nr, err := strconv.Atoi(layerName[start:end])
	if err != nil || nr <= 0 {
		return ""
	}
	return layerName[:start] + strconv.Itoa(nr-1) + layerName[end:]
}

// ToConfig returns an attribute map suitable for reconstructing the layer from a declarative
// spec. The "from" attribute is normalized: split into an explicit list, dropped entirely when
// the layer is sourced from raw input data, or guessed from the layer name when empty.
func (c *Container) ToConfig() Attrs {
	attrs := make(Attrs, len(c.attrs)+1)
	for k, v := range c.attrs {
		attrs[k] = v
	}
	if from, ok := attrs["from"].(string); ok {
		switch from {
		case "data":
			delete(attrs, "from")
		case "":
			if guessed := GuessSourceLayerName(c.name); guessed != "" {
				attrs["from"] = []string{guessed}
			} else {
				delete(attrs, "from")
			}
		default:
			attrs["from"] = strings.Split(from, ",")
		}
	}
	attrs["class"] = c.class
	return attrs
}
