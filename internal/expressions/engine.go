package expressions

import (
	"context"
	"encoding/json"
	"fmt"
)

// Engine evaluates expressions against a data value.
// Three implementations: CEL (guards), GoJQ (projections), Expr (arithmetic and delays).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data any) (any, error)
}

// Plain converts an arbitrary Go value into its JSON shape: objects become
// map[string]any, arrays []any and numbers float64.
func Plain(v any) (any, error) {
	switch v.(type) {
	case nil, string, bool, float64:
		return v, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("convert %T to JSON value: %w", v, err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("convert %T to JSON value: %w", v, err)
	}
	return out, nil
}
