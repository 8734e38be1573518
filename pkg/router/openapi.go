package router

import (
	"encoding/json"
	"net/http"
	"regexp"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/rendis/actionkit/pkg/action"
	"github.com/rendis/actionkit/pkg/schema"
)

// chiParam matches a chi path parameter, with or without a regexp.
var chiParam = regexp.MustCompile(`\{([^}:]+)(:[^}]*)?\}`)

// OpenAPI builds an OpenAPI 3 document describing every route. Input and
// output schemas are embedded as declared by the actions.
func (r *Router) OpenAPI() (*openapi3.T, error) {
	r.mu.RLock()
	routes := append([]*route(nil), r.routes...)
	r.mu.RUnlock()

	doc := &openapi3.T{
		OpenAPI: "3.0.3",
		Info:    &openapi3.Info{Title: r.title, Version: r.version},
		Paths:   openapi3.NewPaths(),
		Components: &openapi3.Components{
			Schemas: openapi3.Schemas{"ActionError": openapi3.NewSchemaRef("", actionErrorSchema)},
		},
	}

	// Operation IDs must be unique; an action exposed on several routes
	// gets the method appended after its first route.
	usedIDs := make(map[string]bool, len(routes))
	for _, rt := range routes {
		path, params := openAPIPath(rt.pattern)
		op, err := operation(rt, params)
		if err != nil {
			return nil, err
		}
		if usedIDs[op.OperationID] {
			op.OperationID += "." + strings.ToLower(rt.method)
		}
		usedIDs[op.OperationID] = true
		item := doc.Paths.Value(path)
		if item == nil {
			item = &openapi3.PathItem{}
			doc.Paths.Set(path, item)
		}
		item.SetOperation(strings.ToUpper(rt.method), op)
	}
	return doc, nil
}

func (r *Router) handleOpenAPI(w http.ResponseWriter, _ *http.Request) {
	doc, err := r.OpenAPI()
	if err != nil {
		r.logger.Error("build openapi document", "error", err)
		writeError(w, schema.NewError(schema.ErrCodeInternal, "Could not build the API description"))
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// openAPIPath converts a chi pattern into an OpenAPI path template and lists
// its parameters.
func openAPIPath(pattern string) (string, []string) {
	var params []string
	path := chiParam.ReplaceAllStringFunc(pattern, func(m string) string {
		name := chiParam.FindStringSubmatch(m)[1]
		params = append(params, name)
		return "{" + name + "}"
	})
	return path, params
}

func operation(rt *route, pathParams []string) (*openapi3.Operation, error) {
	inv := rt.invoker
	op := openapi3.NewOperation()
	op.OperationID = inv.Name()
	op.Summary = rt.summary
	op.Tags = rt.tags

	isPath := make(map[string]bool, len(pathParams))
	for _, name := range pathParams {
		isPath[name] = true
		op.AddParameter(openapi3.NewPathParameter(name).WithSchema(openapi3.NewStringSchema()))
	}

	in, err := schemaRef(inv.InputSchema())
	if err != nil {
		return nil, err
	}
	if in != nil {
		switch rt.method {
		case http.MethodGet, http.MethodDelete, http.MethodHead:
			props, err := topLevelProperties(inv.InputSchema())
			if err != nil {
				return nil, err
			}
			for _, p := range props {
				if isPath[p.name] {
					continue
				}
				op.AddParameter(openapi3.NewQueryParameter(p.name).WithSchema(p.schema))
			}
		default:
			body := openapi3.NewRequestBody().WithRequired(true)
			if inv.InputKind() == action.InputValue {
				body.WithJSONSchemaRef(in)
			} else {
				body.WithContent(openapi3.Content{
					"application/x-www-form-urlencoded": openapi3.NewMediaType().WithSchemaRef(in),
				})
			}
			op.RequestBody = &openapi3.RequestBodyRef{Value: body}
		}
	}

	out, err := schemaRef(inv.OutputSchema())
	if err != nil {
		return nil, err
	}
	success := openapi3.NewResponse().WithDescription("Successful invocation")
	if out != nil {
		success.WithJSONSchemaRef(out)
	}
	failure := openapi3.NewResponse().
		WithDescription("Normalized action error").
		WithJSONSchemaRef(openapi3.NewSchemaRef("#/components/schemas/ActionError", actionErrorSchema))

	op.Responses = openapi3.NewResponsesWithCapacity(2)
	op.Responses.Set("200", &openapi3.ResponseRef{Value: success})
	op.Responses.Set("default", &openapi3.ResponseRef{Value: failure})
	op.Extensions = map[string]any{"x-action-name": inv.Name()}
	return op, nil
}

// schemaRef embeds s as an inline schema.
func schemaRef(s *schema.Schema) (*openapi3.SchemaRef, error) {
	if s == nil {
		return nil, nil
	}
	out, err := decodeSchema(s.Raw())
	if err != nil {
		return nil, err
	}
	return openapi3.NewSchemaRef("", out), nil
}

// decodeSchema parses a JSON Schema document. OpenAPI 3.0 has no boolean
// schemas, so subschemas written as true become the empty schema.
func decodeSchema(raw []byte) (*openapi3.Schema, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	b, err := json.Marshal(dropBooleanSchemas(doc))
	if err != nil {
		return nil, err
	}
	var out openapi3.Schema
	if err := out.UnmarshalJSON(b); err != nil {
		return nil, err
	}
	return &out, nil
}

func dropBooleanSchemas(node any) any {
	switch v := node.(type) {
	case bool:
		if v {
			return map[string]any{}
		}
		return map[string]any{"not": map[string]any{}}
	case map[string]any:
		for key, child := range v {
			switch key {
			case "properties", "patternProperties", "$defs", "definitions":
				if m, ok := child.(map[string]any); ok {
					for name, sub := range m {
						m[name] = dropBooleanSchemas(sub)
					}
				}
			case "items", "not":
				v[key] = dropBooleanSchemas(child)
			case "allOf", "anyOf", "oneOf":
				if list, ok := child.([]any); ok {
					for i, sub := range list {
						list[i] = dropBooleanSchemas(sub)
					}
				}
			case "additionalProperties":
				if _, isBool := child.(bool); !isBool {
					v[key] = dropBooleanSchemas(child)
				}
			}
		}
		return v
	default:
		return node
	}
}

type property struct {
	name   string
	schema *openapi3.Schema
}

// topLevelProperties lists the properties of an object schema, following
// allOf branches, sorted by name.
func topLevelProperties(s *schema.Schema) ([]property, error) {
	doc, err := decodeSchema(s.Raw())
	if err != nil {
		return nil, err
	}
	seen := make(map[string]*openapi3.Schema)
	collectProperties(doc, seen)

	out := make([]property, 0, len(seen))
	for name, ps := range seen {
		out = append(out, property{name: name, schema: ps})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out, nil
}

func collectProperties(s *openapi3.Schema, seen map[string]*openapi3.Schema) {
	if s == nil {
		return
	}
	for name, ref := range s.Properties {
		if ref != nil && ref.Value != nil {
			if _, ok := seen[name]; !ok {
				seen[name] = ref.Value
			}
		}
	}
	for _, sub := range s.AllOf {
		if sub != nil {
			collectProperties(sub.Value, seen)
		}
	}
}

var actionErrorSchema = newActionErrorSchema()

func newActionErrorSchema() *openapi3.Schema {
	fieldErrors := openapi3.NewObjectSchema().
		WithAdditionalProperties(openapi3.NewArraySchema().WithItems(openapi3.NewStringSchema()))
	s := openapi3.NewObjectSchema().
		WithProperty("code", openapi3.NewStringSchema()).
		WithProperty("message", openapi3.NewStringSchema()).
		WithProperty("data", &openapi3.Schema{}).
		WithProperty("fieldErrors", fieldErrors).
		WithProperty("formErrors", openapi3.NewArraySchema().WithItems(openapi3.NewStringSchema()))
	s.Required = []string{"code", "message"}
	return s
}

// MarshalOpenAPI renders the OpenAPI document as indented JSON.
func (r *Router) MarshalOpenAPI() ([]byte, error) {
	doc, err := r.OpenAPI()
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(doc, "", "  ")
}
