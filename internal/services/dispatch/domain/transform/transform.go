// Package transform applies an ordered list of parameter transformations to a
// command's parameters.
//
// Specs are folded left to right: each one receives the output of the
// previous. Apply never recovers panics raised by compute, transform or custom
// functions; callers that need fault isolation recover around it.
package transform

import (
	"errors"
	"fmt"

	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/param"
)

// Kind tags a transformation spec.
type Kind string

const (
	KindMap       Kind = "map"
	KindCast      Kind = "cast"
	KindCompute   Kind = "compute"
	KindTransform Kind = "transform"
	KindDefault   Kind = "default"
	KindCustom    Kind = "custom"
)

// Spec is one transformation step. Only the fields relevant to Kind are set.
type Spec struct {
	Kind        Kind
	Field       string
	To          string
	Type        CastType
	Compute     func(param.Map) (any, error)
	Transform   func(any) (any, error)
	Default     any
	DefaultFunc func() any
	Custom      func(param.Map) (param.Map, error)
}

// String renders the spec for diagnostics.
func (s Spec) String() string {
	switch s.Kind {
	case KindMap:
		return fmt.Sprintf("map(%s -> %s)", s.Field, s.To)
	case KindCast:
		return fmt.Sprintf("cast(%s, %s)", s.Field, s.Type)
	case KindCustom:
		return "custom"
	default:
		return fmt.Sprintf("%s(%s)", s.Kind, s.Field)
	}
}

// Map moves field to to when field is present.
func Map(field, to string) Spec {
	return Spec{Kind: KindMap, Field: field, To: to}
}

// Cast coerces field to typ, keeping the original value when coercion fails.
func Cast(field string, typ CastType) Spec {
	return Spec{Kind: KindCast, Field: field, Type: typ}
}

// Compute always sets field to fn(params).
func Compute(field string, fn func(param.Map) (any, error)) Spec {
	return Spec{Kind: KindCompute, Field: field, Compute: fn}
}

// Transform replaces field with fn(value) when field is present.
func Transform(field string, fn func(any) (any, error)) Spec {
	return Spec{Kind: KindTransform, Field: field, Transform: fn}
}

// Default sets field to value when it is absent or nil.
func Default(field string, value any) Spec {
	return Spec{Kind: KindDefault, Field: field, Default: value}
}

// DefaultFunc sets field to fn() when it is absent or nil.
func DefaultFunc(field string, fn func() any) Spec {
	return Spec{Kind: KindDefault, Field: field, DefaultFunc: fn}
}

// Custom replaces the whole map with fn(params).
func Custom(fn func(param.Map) (param.Map, error)) Spec {
	return Spec{Kind: KindCustom, Custom: fn}
}

// ErrUnknownKind indicates a spec with an unrecognized kind.
var ErrUnknownKind = errors.New("unknown transform kind")

// StepError reports which spec failed.
type StepError struct {
	Index int
	Spec  Spec
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("transform step %d %s: %v", e.Index, e.Spec, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Apply runs specs over a copy of params and returns the result. The input map
// is never modified.
func Apply(params param.Map, specs []Spec) (param.Map, error) {
	current := params.Clone()
	for i, spec := range specs {
		next, err := applyOne(current, spec)
		if err != nil {
			return nil, &StepError{Index: i, Spec: spec, Err: err}
		}
		current = next
	}
	return current, nil
}

func applyOne(params param.Map, spec Spec) (param.Map, error) {
	switch spec.Kind {
	case KindMap:
		value, ok := params[spec.Field]
		if !ok || spec.Field == spec.To {
			return params, nil
		}
		delete(params, spec.Field)
		params[spec.To] = value
		return params, nil

	case KindCast:
		value, ok := params[spec.Field]
		if !ok {
			return params, nil
		}
		if cast, ok := spec.Type.Coerce(value); ok {
			params[spec.Field] = cast
		}
		return params, nil

	case KindCompute:
		if spec.Compute == nil {
			return nil, fmt.Errorf("compute %s: function is required", spec.Field)
		}
		value, err := spec.Compute(params.Clone())
		if err != nil {
			return nil, err
		}
		params[spec.Field] = value
		return params, nil

	case KindTransform:
		value, ok := params[spec.Field]
		if !ok {
			return params, nil
		}
		if spec.Transform == nil {
			return nil, fmt.Errorf("transform %s: function is required", spec.Field)
		}
		updated, err := spec.Transform(value)
		if err != nil {
			return nil, err
		}
		params[spec.Field] = updated
		return params, nil

	case KindDefault:
		if params.Present(spec.Field) {
			return params, nil
		}
		if spec.DefaultFunc != nil {
			params[spec.Field] = spec.DefaultFunc()
		} else {
			params[spec.Field] = spec.Default
		}
		return params, nil

	case KindCustom:
		if spec.Custom == nil {
			return nil, errors.New("custom: function is required")
		}
		replaced, err := spec.Custom(params.Clone())
		if err != nil {
			return nil, err
		}
		if replaced == nil {
			replaced = param.Map{}
		}
		return replaced, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, spec.Kind)
	}
}
