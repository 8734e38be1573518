package router

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rendis/actionkit/internal/expressions"
	"github.com/rendis/actionkit/internal/logging"
	"github.com/rendis/actionkit/pkg/action"
	"github.com/rendis/actionkit/pkg/schema"
)

// InvocationIDHeader carries the invocation ID back to the client.
const InvocationIDHeader = "X-Invocation-Id"

const defaultMaxBodyBytes = 1 << 20

// Router exposes actions over HTTP. Each route merges path parameters, query
// parameters and the request body into one input object, invokes the action
// and writes its result as JSON.
type Router struct {
	mux    chi.Router
	logger *slog.Logger
	jq     *expressions.GoJQEngine

	title        string
	version      string
	maxBodyBytes int64

	mu     sync.RWMutex
	routes []*route
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the router logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithInfo sets the title and version of the generated OpenAPI document.
func WithInfo(title, version string) Option {
	return func(r *Router) {
		r.title = title
		r.version = version
	}
}

// WithMaxBodyBytes limits the size of request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(r *Router) {
		if n > 0 {
			r.maxBodyBytes = n
		}
	}
}

// WithMiddleware installs chi middlewares ahead of every route.
func WithMiddleware(mw ...func(http.Handler) http.Handler) Option {
	return func(r *Router) {
		r.mux.Use(mw...)
	}
}

// New creates a Router serving the OpenAPI document at GET /openapi.json.
func New(opts ...Option) *Router {
	r := &Router{
		mux:          chi.NewRouter(),
		jq:           expressions.NewGoJQEngine(),
		title:        "actionkit",
		version:      "dev",
		maxBodyBytes: defaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	r.mux.Get("/openapi.json", r.handleOpenAPI)
	return r
}

type route struct {
	method     string
	pattern    string
	invoker    action.Invoker
	projection string
	summary    string
	tags       []string
}

// RouteOption configures a single route.
type RouteOption func(*route)

// WithProjection reshapes successful output with a jq expression before it
// is written, e.g. "{id, name}". Raw responses are not projected.
func WithProjection(expr string) RouteOption {
	return func(rt *route) { rt.projection = expr }
}

// WithSummary sets the OpenAPI summary of the route. It defaults to the
// action description.
func WithSummary(summary string) RouteOption {
	return func(rt *route) { rt.summary = summary }
}

// WithTags groups the route in the OpenAPI document.
func WithTags(tags ...string) RouteOption {
	return func(rt *route) { rt.tags = append(rt.tags, tags...) }
}

// Handle exposes inv at method and pattern (chi syntax, e.g. /users/{id}).
// It panics when the projection does not compile.
func (r *Router) Handle(method, pattern string, inv action.Invoker, opts ...RouteOption) {
	rt := &route{method: method, pattern: pattern, invoker: inv, summary: inv.Description()}
	for _, opt := range opts {
		opt(rt)
	}
	if rt.projection != "" {
		if err := r.jq.Compile(rt.projection); err != nil {
			panic("router: projection of " + inv.Name() + ": " + err.Error())
		}
	}

	r.mu.Lock()
	r.routes = append(r.routes, rt)
	r.mu.Unlock()

	r.mux.Method(method, pattern, r.handler(rt))
}

// Mount attaches an arbitrary handler, e.g. a metrics endpoint.
func (r *Router) Mount(pattern string, h http.Handler) {
	r.mux.Handle(pattern, h)
}

// ServeHTTP implements http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func (r *Router) handler(rt *route) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		ctx := req.Context()
		invocationID := uuid.NewString()
		ctx = logging.WithIDs(ctx, invocationID, rt.invoker.Name())
		w.Header().Set(InvocationIDHeader, invocationID)

		raw, inErr := r.input(w, req, rt.invoker)
		if inErr != nil {
			writeError(w, inErr)
			return
		}

		meta := schema.NewResponseMeta()
		value, aErr, sig := rt.invoker.InvokeAny(ctx, raw,
			action.WithRequest(req),
			action.WithResponseMeta(meta),
			action.WithInvocationID(invocationID),
		)

		if sig != nil {
			r.writeSignal(w, req, sig)
			return
		}

		copyHeader(w.Header(), meta.Header())
		if aErr != nil {
			if aErr.Status() >= http.StatusInternalServerError {
				logging.LogWith(ctx, r.logger).Error("action request failed",
					slog.String("code", aErr.Code),
					slog.String("route", rt.pattern))
			}
			writeError(w, aErr)
			return
		}

		if rawResp, ok := value.(*schema.RawResponse); ok {
			writeRaw(w, rawResp)
			return
		}

		if rt.projection != "" {
			projected, err := r.jq.Evaluate(ctx, rt.projection, value)
			if err != nil {
				logging.LogWith(ctx, r.logger).Error("projection failed",
					slog.String("route", rt.pattern),
					slog.Any("error", err))
				writeError(w, schema.Normalize(err))
				return
			}
			value = projected
		}

		writeJSON(w, meta.Status(), value)
	}
}

func (r *Router) writeSignal(w http.ResponseWriter, req *http.Request, err error) {
	sig, ok := schema.AsControlSignal(err)
	if !ok {
		writeError(w, schema.Normalize(err))
		return
	}
	switch sig.Kind {
	case schema.SignalRedirect:
		http.Redirect(w, req, sig.Location, sig.Status)
	case schema.SignalNotFound:
		writeError(w, schema.NewError(schema.ErrCodeNotFound, "Not found"))
	default:
		writeError(w, schema.NewErrorf(schema.ErrCodeInternal, "unknown control signal %q", sig.Kind))
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	if status == http.StatusNoContent || status == http.StatusNotModified {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a normalized error with its default status.
func writeError(w http.ResponseWriter, err *schema.ActionError) {
	writeJSON(w, err.Status(), err)
}

func writeRaw(w http.ResponseWriter, resp *schema.RawResponse) {
	copyHeader(w.Header(), resp.Header)
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	w.Write(resp.Body)
}

func copyHeader(dst, src http.Header) {
	for k, vs := range src {
		dst.Del(k)
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}
