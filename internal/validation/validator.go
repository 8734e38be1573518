package validation

import "github.com/rendis/actionkit/pkg/schema"

// Validator checks values against JSON Schema documents.
// Uses JSON Schema Draft 2020-12.
type Validator interface {
	// Validate returns the flattened issues for value, or nil issues when the
	// value is accepted. A non-nil error means the schema itself is unusable.
	Validate(s *schema.Schema, value any) (*schema.Issues, error)
}
