package schema

import (
	"net/http"
	"sync"
)

// ResponseMeta lets a handler influence the transport response without
// returning a raw response. It is safe for concurrent use because a timed-out
// handler may still be writing to it while the adapter reads it.
type ResponseMeta struct {
	mu     sync.Mutex
	status int
	header http.Header
}

// NewResponseMeta returns metadata with status 200 and no headers.
func NewResponseMeta() *ResponseMeta {
	return &ResponseMeta{status: http.StatusOK, header: make(http.Header)}
}

// SetStatus overrides the response status.
func (m *ResponseMeta) SetStatus(status int) {
	m.mu.Lock()
	m.status = status
	m.mu.Unlock()
}

// Status returns the response status.
func (m *ResponseMeta) Status() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// SetHeader replaces a response header.
func (m *ResponseMeta) SetHeader(key, value string) {
	m.mu.Lock()
	m.header.Set(key, value)
	m.mu.Unlock()
}

// AddHeader appends a response header value.
func (m *ResponseMeta) AddHeader(key, value string) {
	m.mu.Lock()
	m.header.Add(key, value)
	m.mu.Unlock()
}

// Header returns a copy of the accumulated headers.
func (m *ResponseMeta) Header() http.Header {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.header.Clone()
}

// RawResponse is a handler result the transport writes verbatim, skipping
// output validation and serialization.
type RawResponse struct {
	Status int
	Header http.Header
	Body   []byte
}
