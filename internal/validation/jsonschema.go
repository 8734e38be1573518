package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rendis/actionkit/pkg/schema"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const requiredMessage = "Required"

// JSONSchemaValidator implements the Validator interface using JSON Schema Draft 2020-12.
// It is safe for concurrent use.
type JSONSchemaValidator struct {
	printer *message.Printer

	// mu guards the compiled schema cache.
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewJSONSchemaValidator creates a validator with an empty compile cache.
func NewJSONSchemaValidator() *JSONSchemaValidator {
	return &JSONSchemaValidator{
		printer: message.NewPrinter(language.English),
		cache:   make(map[string]*jsonschema.Schema),
	}
}

// Validate checks value against s. A nil schema accepts everything.
func (v *JSONSchemaValidator) Validate(s *schema.Schema, value any) (*schema.Issues, error) {
	if s == nil {
		return nil, nil
	}

	compiled, err := v.getOrCompile(s)
	if err != nil {
		return nil, err
	}

	// Convert to a JSON-compatible value (json.Number for numbers).
	doc, err := toJSONValue(value)
	if err != nil {
		issues := &schema.Issues{}
		issues.AddForm("value is not JSON-serializable")
		return issues, nil
	}

	err = compiled.Validate(doc)
	if err == nil {
		return nil, nil
	}

	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return nil, fmt.Errorf("validate: %w", err)
	}
	issues := &schema.Issues{}
	v.flatten(verr, issues)
	if issues.Empty() {
		issues.AddForm(verr.Error())
	}
	return issues, nil
}

// Compile checks that s is a usable schema, populating the cache.
func (v *JSONSchemaValidator) Compile(s *schema.Schema) error {
	if s == nil {
		return nil
	}
	_, err := v.getOrCompile(s)
	return err
}

// getOrCompile returns a cached compiled schema or compiles and caches a new one.
func (v *JSONSchemaValidator) getOrCompile(s *schema.Schema) (*jsonschema.Schema, error) {
	key := s.Key()

	v.mu.RLock()
	if cached, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	// Double-check after acquiring write lock.
	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	url := fmt.Sprintf("actionkit://schema/%d", len(v.cache))

	// Fresh compiler per document so resources never collide.
	c := newCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}

	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	v.cache[key] = compiled
	return compiled, nil
}

func newCompiler() *jsonschema.Compiler {
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	return c
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// flatten walks a ValidationError tree and files every leaf under the
// top-level property its instance location starts with. Leaves located at the
// root become form errors, except required and additionalProperties failures,
// which name the offending properties themselves.
func (v *JSONSchemaValidator) flatten(verr *jsonschema.ValidationError, issues *schema.Issues) {
	if len(verr.Causes) > 0 {
		for _, cause := range verr.Causes {
			v.flatten(cause, issues)
		}
		return
	}

	if len(verr.InstanceLocation) == 0 {
		switch k := verr.ErrorKind.(type) {
		case *kind.Required:
			for _, name := range k.Missing {
				issues.AddField(name, requiredMessage)
			}
			return
		case *kind.AdditionalProperties:
			for _, name := range k.Properties {
				issues.AddField(name, "Unrecognized property")
			}
			return
		}
		issues.AddForm(v.message(verr))
		return
	}

	issues.AddField(verr.InstanceLocation[0], v.message(verr))
}

func (v *JSONSchemaValidator) message(verr *jsonschema.ValidationError) string {
	if verr.ErrorKind == nil {
		return verr.Error()
	}
	msg := verr.ErrorKind.LocalizedString(v.printer)
	if len(verr.InstanceLocation) > 1 {
		return "/" + strings.Join(verr.InstanceLocation[1:], "/") + ": " + msg
	}
	return msg
}
