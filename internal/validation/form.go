package validation

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/rendis/actionkit/pkg/schema"
)

// fieldShape is what form decoding needs to know about one property.
type fieldShape struct {
	types     []string
	itemTypes []string
}

func (f fieldShape) isArray() bool {
	return hasType(f.types, "array")
}

// DecodeForm turns a form payload into a plain object. Repeated keys become
// arrays only for properties s types as "array" (a trailing "[]" on the key
// also marks an array); every other key keeps its last value. Scalar strings
// are coerced to the declared number, integer or boolean type when they parse
// cleanly, and left as strings otherwise so validation can report them.
func DecodeForm(s *schema.Schema, form map[string][]string) map[string]any {
	shapes := propertyShapes(s)
	out := make(map[string]any, len(form))

	for rawKey, values := range form {
		key, forced := strings.CutSuffix(rawKey, "[]")
		shape := shapes[key]

		if forced || shape.isArray() {
			items, _ := out[key].([]any)
			for _, val := range values {
				items = append(items, coerce(val, shape.itemTypes))
			}
			if items == nil {
				items = []any{}
			}
			out[key] = items
			continue
		}
		if len(values) == 0 {
			continue
		}
		out[key] = coerce(values[len(values)-1], shape.types)
	}
	return out
}

// propertyShapes collects top-level property types from s, following allOf
// branches so intersected chain schemas are covered.
func propertyShapes(s *schema.Schema) map[string]fieldShape {
	shapes := make(map[string]fieldShape)
	if s == nil {
		return shapes
	}
	var doc any
	if err := json.Unmarshal(s.Raw(), &doc); err != nil {
		return shapes
	}
	collectShapes(doc, shapes)
	return shapes
}

func collectShapes(node any, shapes map[string]fieldShape) {
	obj, ok := node.(map[string]any)
	if !ok {
		return
	}
	if props, ok := obj["properties"].(map[string]any); ok {
		for name, p := range props {
			pobj, ok := p.(map[string]any)
			if !ok {
				continue
			}
			shape := shapes[name]
			shape.types = append(shape.types, typesOf(pobj["type"])...)
			if items, ok := pobj["items"].(map[string]any); ok {
				shape.itemTypes = append(shape.itemTypes, typesOf(items["type"])...)
			}
			shapes[name] = shape
		}
	}
	if all, ok := obj["allOf"].([]any); ok {
		for _, sub := range all {
			collectShapes(sub, shapes)
		}
	}
}

func typesOf(v any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []any:
		out := make([]string, 0, len(t))
		for _, x := range t {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func hasType(types []string, want string) bool {
	for _, t := range types {
		if t == want {
			return true
		}
	}
	return false
}

// coerce converts a form string to the first declared scalar type it parses as.
func coerce(val string, types []string) any {
	if val == "" && hasType(types, "null") {
		return nil
	}
	if hasType(types, "integer") {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			return n
		}
	}
	if hasType(types, "number") {
		if f, err := strconv.ParseFloat(val, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return f
		}
	}
	if hasType(types, "boolean") {
		switch strings.ToLower(val) {
		case "true", "on", "1":
			return true
		case "false", "off", "0":
			return false
		}
	}
	return val
}
