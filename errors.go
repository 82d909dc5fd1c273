package returnn

import "fmt"

// Error is a wrapper for specific types of errors for which there is no additional information
// necessary. These errors are defined as global variables.
type Error struct{ string }

func (err Error) Error() string {
	return err.string
}

// These are the global errors that may be returned or panicked.
var (
	ErrUnknownUnit        = Error{"Unit type is not recognized"}
	ErrUnknownInitializer = Error{"Initializer is not recognized"}
	ErrUnknownConsensus   = Error{"Consensus method is not recognized"}
	ErrUnknownTransform   = Error{"Recurrent transform is not recognized"}
	ErrUnknownActivation  = Error{"Activation function is not recognized"}
	ErrInvalidMask        = Error{`Mask mode is not one of "unity", "dropout", "none"`}
)

// NilArgError documents errors resulting from certain arguments provided to a function being nil.
type NilArgError struct{ string }

func (err NilArgError) Error() string {
	return err.string + " is nil"
}

// ConfigError marks a contradictory or invalid construction-time configuration. These are never
// recovered from; construction aborts.
type ConfigError struct{ string }

func (err ConfigError) Error() string {
	return err.string
}

// Configf formats a ConfigError.
func Configf(format string, args ...interface{}) ConfigError {
	return ConfigError{fmt.Sprintf(format, args...)}
}

// ShapeMismatchError documents a parameter tensor whose shape disagrees with the shape declared
// for it. It is fatal for the assignment of that parameter.
type ShapeMismatchError struct {
	Param string
	Want  []int
	Got   []int
}

func (err ShapeMismatchError) Error() string {
	return fmt.Sprintf("invalid shape for parameter %q (expected %v, got %v)", err.Param, err.Want, err.Got)
}

// ValueCorruptionError documents a parameter tensor containing NaN or Inf values. Loading a
// corrupted parameter aborts the whole load.
type ValueCorruptionError struct {
	Param string
}

func (err ValueCorruptionError) Error() string {
	return fmt.Sprintf("parameter %q contains NaN or Inf values", err.Param)
}
