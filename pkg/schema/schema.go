package schema

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// Schema is an immutable JSON Schema (draft 2020-12) document describing the
// accepted input or declared output of an action.
type Schema struct {
	raw json.RawMessage
}

// Parse wraps a raw JSON Schema document. The document must be a JSON object
// or a boolean schema.
func Parse(raw []byte) (*Schema, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("schema: empty document")
	}
	var doc any
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, fmt.Errorf("schema: invalid JSON: %w", err)
	}
	switch doc.(type) {
	case map[string]any, bool:
	default:
		return nil, fmt.Errorf("schema: document must be an object or boolean, got %T", doc)
	}
	cp := make(json.RawMessage, len(trimmed))
	copy(cp, trimmed)
	return &Schema{raw: cp}, nil
}

// MustParse is like Parse but panics on error. Intended for package-level
// schema declarations.
func MustParse(raw string) *Schema {
	s, err := Parse([]byte(raw))
	if err != nil {
		panic(err)
	}
	return s
}

// For reflects a schema from the Go type T. Struct fields follow their json
// tags; fields without omitempty are required. Additional properties are
// allowed so reflected schemas can be intersected with AllOf.
func For[T any]() *Schema {
	r := &jsonschema.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: true,
	}
	reflected := r.Reflect(new(T))
	// $schema is only legal at a resource root, and these documents end up
	// nested inside allOf.
	reflected.Version = ""
	b, err := json.Marshal(reflected)
	if err != nil {
		panic(fmt.Sprintf("schema: reflect %T: %v", *new(T), err))
	}
	return &Schema{raw: b}
}

// AllOf returns the intersection of two schemas: a value is accepted only
// when both accept it. A nil side yields the other side unchanged.
func AllOf(a, b *Schema) *Schema {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	raw, _ := json.Marshal(map[string]any{
		"allOf": []json.RawMessage{a.raw, b.raw},
	})
	return &Schema{raw: raw}
}

// Raw returns a copy of the underlying document.
func (s *Schema) Raw() json.RawMessage {
	if s == nil {
		return nil
	}
	cp := make(json.RawMessage, len(s.raw))
	copy(cp, s.raw)
	return cp
}

// Key returns a stable identity for caching compiled forms of the document.
func (s *Schema) Key() string {
	return string(s.raw)
}

func (s *Schema) String() string {
	return string(s.raw)
}

// MarshalJSON emits the document verbatim.
func (s *Schema) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("null"), nil
	}
	return s.Raw(), nil
}

// UnmarshalJSON accepts any document Parse accepts.
func (s *Schema) UnmarshalJSON(b []byte) error {
	parsed, err := Parse(b)
	if err != nil {
		return err
	}
	s.raw = parsed.raw
	return nil
}
