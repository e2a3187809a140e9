package layer

import (
	"errors"
	"fmt"
	"strings"
)

// Errors returned by layer routing and ref construction.
var (
	// ErrAmbiguousRouting indicates --global or --local combined with other flags.
	ErrAmbiguousRouting = errors.New("ambiguous layer routing")

	// ErrNoMatchingLayer indicates a flag combination no layer accepts.
	ErrNoMatchingLayer = errors.New("no matching layer")

	// ErrInvalidParameter indicates a missing, forbidden or malformed parameter.
	ErrInvalidParameter = errors.New("invalid layer parameter")

	// ErrUnknownLayer indicates a layer name that does not exist.
	ErrUnknownLayer = errors.New("unknown layer")

	// ErrNotLayerRef indicates a ref outside the layer namespace.
	ErrNotLayerRef = errors.New("not a layer ref")
)

// AmbiguousRoutingError lists the flags that could not be combined.
type AmbiguousRoutingError struct {
	Flags []string
}

// Error implements the error interface.
func (e *AmbiguousRoutingError) Error() string {
	return fmt.Sprintf("ambiguous layer routing: %s cannot be combined", strings.Join(e.Flags, ", "))
}

// Unwrap returns ErrAmbiguousRouting.
func (e *AmbiguousRoutingError) Unwrap() error {
	return ErrAmbiguousRouting
}

// NoMatchingLayerError lists the flags that select no layer.
type NoMatchingLayerError struct {
	Flags []string
}

// Error implements the error interface.
func (e *NoMatchingLayerError) Error() string {
	return fmt.Sprintf("no layer matches %s", strings.Join(e.Flags, " + "))
}

// Unwrap returns ErrNoMatchingLayer.
func (e *NoMatchingLayerError) Unwrap() error {
	return ErrNoMatchingLayer
}

// ParameterError describes a parameter a layer cannot accept.
type ParameterError struct {
	Layer  Layer
	Param  string
	Value  string
	Reason string
}

// Error implements the error interface.
func (e *ParameterError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("layer %s: %s %q: %s", e.Layer, e.Param, e.Value, e.Reason)
	}
	return fmt.Sprintf("layer %s: %s: %s", e.Layer, e.Param, e.Reason)
}

// Unwrap returns ErrInvalidParameter.
func (e *ParameterError) Unwrap() error {
	return ErrInvalidParameter
}
