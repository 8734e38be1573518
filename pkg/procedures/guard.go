package procedures

import (
	"context"
	"net/http"
	"net/url"
	"sync"

	"github.com/rendis/actionkit/internal/expressions"
	"github.com/rendis/actionkit/pkg/action"
	"github.com/rendis/actionkit/pkg/schema"
)

var celEngine = sync.OnceValues(expressions.NewCELEngine)

// Guard appends a procedure that evaluates a CEL predicate and passes the
// context through unchanged when it holds. The predicate sees:
//   - ctx:     the context produced so far (structs are seen through their JSON form)
//   - input:   the raw arguments; form values are collapsed to their last value
//   - request: method, path and headers of the HTTP request, when there is one
//
// A false or failing predicate fails the invocation with FORBIDDEN. Guard
// panics when the expression does not compile.
func Guard[P any](pb action.ProcedureBuilder[P], expression string) *action.Procedure[P, P] {
	engine, err := celEngine()
	if err != nil {
		panic("procedures: " + err.Error())
	}
	if err := engine.Compile(expression); err != nil {
		panic("procedures: guard: " + err.Error())
	}

	return action.BuildProcedure(pb, func(ctx context.Context, req action.ProcedureRequest[P]) (P, error) {
		data := map[string]any{
			"ctx":     req.Ctx,
			"input":   guardInput(req.Raw),
			"request": requestInfo(req.HTTP),
		}
		ok, err := engine.EvaluateBool(ctx, expression, data)
		if err != nil {
			return req.Ctx, schema.NewError(schema.ErrCodeForbidden, "Forbidden").WithCause(err)
		}
		if !ok {
			return req.Ctx, schema.NewError(schema.ErrCodeForbidden, "Forbidden")
		}
		return req.Ctx, nil
	})
}

func guardInput(raw any) any {
	var form map[string][]string
	switch v := raw.(type) {
	case url.Values:
		form = v
	case map[string][]string:
		form = v
	default:
		return raw
	}
	out := make(map[string]any, len(form))
	for k, vs := range form {
		if len(vs) > 0 {
			out[k] = vs[len(vs)-1]
		}
	}
	return out
}

func requestInfo(r *http.Request) map[string]any {
	if r == nil {
		return map[string]any{}
	}
	headers := make(map[string]any, len(r.Header))
	for k := range r.Header {
		headers[http.CanonicalHeaderKey(k)] = r.Header.Get(k)
	}
	return map[string]any{
		"method":  r.Method,
		"path":    r.URL.Path,
		"headers": headers,
	}
}
