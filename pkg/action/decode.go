package action

import (
	"encoding/json"
	"fmt"
	"reflect"
)

var noInputType = reflect.TypeFor[NoInput]()

// acceptsUnvalidated reports whether I can be used without an input schema.
func acceptsUnvalidated[I any]() bool {
	t := reflect.TypeFor[I]()
	return t == noInputType || t.Kind() == reflect.Interface
}

func typeName[I any]() string {
	return reflect.TypeFor[I]().String()
}

// decoderFor returns the conversion from a validated JSON-shaped value to I.
// Interface types receive the value unchanged; NoInput discards it; anything
// else goes through a JSON round trip.
func decoderFor[I any]() func(any) (any, error) {
	t := reflect.TypeFor[I]()
	switch {
	case t == noInputType:
		return func(any) (any, error) { return NoInput{}, nil }
	case t.Kind() == reflect.Interface:
		return nil
	}
	return func(v any) (any, error) {
		if typed, ok := v.(I); ok {
			return typed, nil
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode input: %w", err)
		}
		var out I
		if err := json.Unmarshal(b, &out); err != nil {
			return nil, fmt.Errorf("input does not match %s: %w", t, err)
		}
		return out, nil
	}
}
