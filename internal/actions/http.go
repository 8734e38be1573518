package actions

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rendis/actionkit/pkg/action"
	"github.com/rendis/actionkit/pkg/schema"
)

// HTTPConfig configures the http.request action.
type HTTPConfig struct {
	MaxResponseBody int64
	DefaultTimeout  time.Duration
	// MaxAttempts above one retries failed requests with exponential backoff.
	MaxAttempts int
	// RetryDelay replaces the default exponential backoff between attempts.
	RetryDelay func(attempt int, err error) time.Duration
	// Breaker, when set, guards the action with a circuit breaker.
	Breaker *action.BreakerConfig
}

const (
	defaultMaxResponseBody = 10 * 1024 * 1024 // 10MB
	defaultHTTPTimeout     = 30 * time.Second
)

type httpAuth struct {
	Type        string `json:"type" jsonschema:"enum=bearer,enum=basic,enum=api_key"`
	Token       string `json:"token,omitempty"`
	Username    string `json:"username,omitempty"`
	Password    string `json:"password,omitempty"`
	HeaderName  string `json:"header_name,omitempty"`
	HeaderValue string `json:"header_value,omitempty"`
}

type httpRequestInput struct {
	Method            string            `json:"method,omitempty" jsonschema:"default=GET"`
	URL               string            `json:"url" jsonschema:"minLength=1"`
	Headers           map[string]string `json:"headers,omitempty"`
	Body              any               `json:"body,omitempty"`
	BodyEncoding      string            `json:"body_encoding,omitempty" jsonschema:"enum=json,enum=form,enum=text,enum=raw,default=json"`
	Auth              *httpAuth         `json:"auth,omitempty"`
	Timeout           string            `json:"timeout,omitempty"`
	FollowRedirects   *bool             `json:"follow_redirects,omitempty"`
	MaxRedirects      int               `json:"max_redirects,omitempty" jsonschema:"minimum=0,default=10"`
	TLSSkipVerify     bool              `json:"tls_skip_verify,omitempty"`
	FailOnErrorStatus bool              `json:"fail_on_error_status,omitempty"`
}

type httpResponseOutput struct {
	StatusCode  int               `json:"status_code"`
	Status      string            `json:"status"`
	Headers     map[string]string `json:"headers"`
	Body        any               `json:"body"`
	ContentType string            `json:"content_type"`
	DurationMs  int64             `json:"duration_ms"`
}

type httpRequester struct {
	config HTTPConfig
}

// NewHTTPRequestAction creates the http.request action.
func NewHTTPRequestAction(cfg HTTPConfig, opts ...action.Option) *action.Action[httpRequestInput, httpResponseOutput] {
	if cfg.MaxResponseBody <= 0 {
		cfg.MaxResponseBody = defaultMaxResponseBody
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaultHTTPTimeout
	}
	h := &httpRequester{config: cfg}

	b := action.New(opts...).
		Name("http.request").
		Describe("Execute an HTTP request with control over method, headers, body, auth and redirects").
		Input(schema.For[httpRequestInput]()).
		Output(schema.For[httpResponseOutput]())
	if cfg.MaxAttempts > 1 {
		delay := cfg.RetryDelay
		if delay == nil {
			delay = action.ExponentialDelay(100*time.Millisecond, 5*time.Second)
		}
		b = b.Retry(action.RetryPolicy{MaxAttempts: cfg.MaxAttempts, DelayFunc: delay})
	}
	if cfg.Breaker != nil {
		b = b.Breaker(*cfg.Breaker)
	}
	return action.Handler(b, h.do)
}

func (h *httpRequester) do(ctx context.Context, req action.Request[httpRequestInput, action.NoContext]) (httpResponseOutput, error) {
	in := req.Input

	u, err := url.ParseRequestURI(in.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return httpResponseOutput{}, schema.NewErrorf(schema.ErrCodeBadRequest, "Invalid url %q", in.URL).
			WithFieldErrors(map[string][]string{"url": {"must be an absolute http or https URL"}})
	}

	timeout := h.config.DefaultTimeout
	if in.Timeout != "" {
		d, err := time.ParseDuration(in.Timeout)
		if err != nil {
			return httpResponseOutput{}, schema.NewErrorf(schema.ErrCodeBadRequest, "Invalid timeout %q", in.Timeout).
				WithFieldErrors(map[string][]string{"timeout": {err.Error()}})
		}
		timeout = d
	}

	bodyReader, contentType, err := encodeBody(in.Body, in.BodyEncoding)
	if err != nil {
		return httpResponseOutput{}, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := strings.ToUpper(in.Method)
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(reqCtx, method, in.URL, bodyReader)
	if err != nil {
		return httpResponseOutput{}, schema.NewError(schema.ErrCodeBadRequest, "Could not build the request").WithCause(err)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	for k, v := range in.Headers {
		httpReq.Header.Set(k, v)
	}
	applyAuth(httpReq, in.Auth)

	client := h.client(in)

	start := time.Now()
	resp, err := client.Do(httpReq)
	durationMs := time.Since(start).Milliseconds()
	if err != nil {
		return httpResponseOutput{}, schema.NewError(schema.ErrCodeServiceUnavailable, "Upstream request failed").WithCause(err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, h.config.MaxResponseBody))
	if err != nil {
		return httpResponseOutput{}, schema.NewError(schema.ErrCodeServiceUnavailable, "Could not read upstream response").WithCause(err)
	}

	respContentType := resp.Header.Get("Content-Type")
	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	out := httpResponseOutput{
		StatusCode:  resp.StatusCode,
		Status:      resp.Status,
		Headers:     headers,
		Body:        parseBody(bodyBytes, respContentType),
		ContentType: respContentType,
		DurationMs:  durationMs,
	}

	if in.FailOnErrorStatus && resp.StatusCode >= 400 {
		code := schema.ErrCodeUnprocessable
		if resp.StatusCode >= 500 {
			code = schema.ErrCodeServiceUnavailable
		}
		return httpResponseOutput{}, schema.NewErrorf(code, "Upstream returned %d", resp.StatusCode).WithData(out)
	}
	return out, nil
}

func (h *httpRequester) client(in httpRequestInput) *http.Client {
	// Each request gets its own transport so TLS settings never leak.
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if in.TLSSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	client := &http.Client{Transport: transport}

	follow := in.FollowRedirects == nil || *in.FollowRedirects
	limit := in.MaxRedirects
	if limit == 0 {
		limit = 10
	}
	if !follow {
		client.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	} else {
		client.CheckRedirect = func(_ *http.Request, via []*http.Request) error {
			if len(via) >= limit {
				return fmt.Errorf("stopped after %d redirects", limit)
			}
			return nil
		}
	}
	return client
}

func encodeBody(body any, encoding string) (io.Reader, string, error) {
	if body == nil {
		return nil, "", nil
	}
	switch encoding {
	case "form":
		fields, ok := body.(map[string]any)
		if !ok {
			return nil, "", schema.NewError(schema.ErrCodeBadRequest, "Form bodies must be objects").
				WithFieldErrors(map[string][]string{"body": {"must be an object"}})
		}
		vals := url.Values{}
		for k, v := range fields {
			vals.Set(k, fmt.Sprintf("%v", v))
		}
		return strings.NewReader(vals.Encode()), "application/x-www-form-urlencoded", nil
	case "text":
		return strings.NewReader(fmt.Sprintf("%v", body)), "text/plain", nil
	case "raw":
		return strings.NewReader(fmt.Sprintf("%v", body)), "", nil
	default:
		b, err := json.Marshal(body)
		if err != nil {
			return nil, "", schema.NewError(schema.ErrCodeBadRequest, "Body is not JSON encodable").WithCause(err)
		}
		return strings.NewReader(string(b)), "application/json", nil
	}
}

func applyAuth(req *http.Request, auth *httpAuth) {
	if auth == nil {
		return
	}
	switch auth.Type {
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+auth.Token)
	case "basic":
		req.SetBasicAuth(auth.Username, auth.Password)
	case "api_key":
		if auth.HeaderName != "" {
			req.Header.Set(auth.HeaderName, auth.HeaderValue)
		}
	}
}

func parseBody(b []byte, contentType string) any {
	if len(b) == 0 {
		return nil
	}
	if strings.Contains(contentType, "application/json") {
		var v any
		if err := json.Unmarshal(b, &v); err == nil {
			return v
		}
	}
	return string(b)
}
