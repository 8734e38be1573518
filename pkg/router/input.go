package router

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/rendis/actionkit/internal/validation"
	"github.com/rendis/actionkit/pkg/action"
	"github.com/rendis/actionkit/pkg/schema"
)

// input merges the request into the action's raw arguments. Precedence is
// body < query < path. Form bodies stay url.Values so the engine can decode
// them against the input schema; JSON bodies become an object with the query
// and path values coerced and laid over it.
func (r *Router) input(w http.ResponseWriter, req *http.Request, inv action.Invoker) (any, *schema.ActionError) {
	params := requestParams(req)

	if req.Body == nil || req.Body == http.NoBody || req.ContentLength == 0 {
		if len(params) == 0 && inv.InputSchema() == nil {
			return nil, nil
		}
		return params, nil
	}

	req.Body = http.MaxBytesReader(w, req.Body, r.maxBodyBytes)

	mediaType := "application/json"
	if ct := req.Header.Get("Content-Type"); ct != "" {
		mt, _, err := mime.ParseMediaType(ct)
		if err != nil {
			return nil, schema.NewError(schema.ErrCodeBadRequest, "Malformed Content-Type header")
		}
		mediaType = mt
	}

	switch mediaType {
	case "application/x-www-form-urlencoded":
		if err := req.ParseForm(); err != nil {
			return nil, bodyError(err)
		}
		return overlay(req.PostForm, params), nil
	case "multipart/form-data":
		if err := req.ParseMultipartForm(r.maxBodyBytes); err != nil {
			return nil, bodyError(err)
		}
		return overlay(url.Values(req.MultipartForm.Value), params), nil
	case "application/json":
		return jsonInput(req.Body, params, inv.InputSchema())
	default:
		return nil, schema.NewErrorf(schema.ErrCodeBadRequest, "Unsupported content type %q", mediaType)
	}
}

// requestParams collects query values, then path parameters over them.
func requestParams(req *http.Request) url.Values {
	params := req.URL.Query()
	if rctx := chi.RouteContext(req.Context()); rctx != nil {
		for i, key := range rctx.URLParams.Keys {
			if key == "*" {
				continue
			}
			params.Set(key, rctx.URLParams.Values[i])
		}
	}
	return params
}

func overlay(body, params url.Values) url.Values {
	out := make(url.Values, len(body)+len(params))
	for k, vs := range body {
		out[k] = vs
	}
	for k, vs := range params {
		out[k] = vs
	}
	return out
}

func jsonInput(body io.Reader, params url.Values, s *schema.Schema) (any, *schema.ActionError) {
	b, err := io.ReadAll(body)
	if err != nil {
		return nil, bodyError(err)
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return params, nil
	}

	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var decoded any
	if err := dec.Decode(&decoded); err != nil {
		return nil, schema.NewError(schema.ErrCodeBadRequest, "Malformed JSON body").WithCause(err)
	}
	if len(params) == 0 {
		return decoded, nil
	}

	obj, ok := decoded.(map[string]any)
	if !ok {
		return nil, schema.NewError(schema.ErrCodeBadRequest,
			"Request body must be a JSON object when path or query parameters are present")
	}
	for k, v := range validation.DecodeForm(s, params) {
		obj[k] = v
	}
	return obj, nil
}

func bodyError(err error) *schema.ActionError {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return schema.NewErrorf(schema.ErrCodeBadRequest, "Request body exceeds %d bytes", tooLarge.Limit).WithCause(err)
	}
	return schema.NewError(schema.ErrCodeBadRequest, "Unreadable request body").WithCause(err)
}
