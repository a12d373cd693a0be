// Package testutil provides testing helpers for HTTP handlers and cloesce
// runtimes. It does not import the root package and can be used from any
// package.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

// RequestBuilder helps construct test HTTP requests with fluent API.
type RequestBuilder struct {
	method       string
	path         string
	body         []byte
	headers      map[string]string
	query        url.Values
	contextSetup ContextSetupFunc
}

// ContextSetupFunc prepares the request context before the request is
// served.
type ContextSetupFunc func(ctx context.Context, w http.ResponseWriter, r *http.Request) context.Context

// NewRequest creates a new request builder.
// Optionally accepts a ContextSetupFunc to configure the request context.
func NewRequest(contextSetup ...ContextSetupFunc) *RequestBuilder {
	var setup ContextSetupFunc
	if len(contextSetup) > 0 {
		setup = contextSetup[0]
	}
	return &RequestBuilder{
		method:       http.MethodGet,
		path:         "/",
		headers:      make(map[string]string),
		query:        url.Values{},
		contextSetup: setup,
	}
}

// GET sets the HTTP method to GET.
func (b *RequestBuilder) GET(path string) *RequestBuilder {
	return b.Method(http.MethodGet, path)
}

// POST sets the HTTP method to POST.
func (b *RequestBuilder) POST(path string) *RequestBuilder {
	return b.Method(http.MethodPost, path)
}

// Method sets any HTTP method.
func (b *RequestBuilder) Method(method, path string) *RequestBuilder {
	b.method = method
	b.path = path
	return b
}

// WithJSON sets the request body as JSON.
func (b *RequestBuilder) WithJSON(v any) *RequestBuilder {
	data, _ := json.Marshal(v)
	b.body = data
	b.headers["Content-Type"] = "application/json"
	return b
}

// WithBody sets the raw request body.
func (b *RequestBuilder) WithBody(body string) *RequestBuilder {
	b.body = []byte(body)
	return b
}

// WithBytes sets an octet-stream request body.
func (b *RequestBuilder) WithBytes(body []byte) *RequestBuilder {
	b.body = body
	b.headers["Content-Type"] = "application/octet-stream"
	return b
}

// WithHeader adds a header to the request.
func (b *RequestBuilder) WithHeader(key, value string) *RequestBuilder {
	b.headers[key] = value
	return b
}

// WithQuery adds a query parameter.
func (b *RequestBuilder) WithQuery(key, value string) *RequestBuilder {
	b.query.Add(key, value)
	return b
}

// Build creates the HTTP request and ResponseRecorder.
// Uses the contextSetup provided to NewRequest().
func (b *RequestBuilder) Build() (*http.Request, *httptest.ResponseRecorder) {
	path := b.path
	if len(b.query) > 0 {
		path += "?" + b.query.Encode()
	}

	var req *http.Request
	if len(b.body) > 0 {
		req = httptest.NewRequest(b.method, path, bytes.NewReader(b.body))
	} else {
		req = httptest.NewRequest(b.method, path, nil)
	}

	for k, v := range b.headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()

	if b.contextSetup != nil {
		req = req.WithContext(b.contextSetup(req.Context(), w, req))
	}

	return req, w
}

// Do builds the request and serves it with h.
func (b *RequestBuilder) Do(h http.Handler) *httptest.ResponseRecorder {
	req, w := b.Build()
	h.ServeHTTP(w, req)
	return w
}

// Envelope is the decoded result body of a cloesce route.
type Envelope struct {
	OK      bool            `json:"ok"`
	Status  int             `json:"status"`
	Data    json.RawMessage `json:"data"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Details map[string]any  `json:"details"`
}

// AssertStatus checks that the response has the expected status code.
func AssertStatus(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int) {
	t.Helper()
	if w.Code != expectedStatus {
		t.Errorf("expected status %d, got %d\nBody: %s", expectedStatus, w.Code, w.Body.String())
	}
}

// DecodeEnvelope decodes the response body as a result envelope and checks
// that its status matches the HTTP status.
func DecodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) *Envelope {
	t.Helper()

	contentType := w.Header().Get("Content-Type")
	if !strings.Contains(contentType, "application/json") {
		t.Errorf("expected Content-Type to contain application/json, got %s", contentType)
	}

	var env Envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("failed to decode envelope: %v\nBody: %s", err, w.Body.String())
	}
	if env.Status != w.Code {
		t.Errorf("envelope status %d does not match HTTP status %d", env.Status, w.Code)
	}
	return &env
}

// AssertOK checks for a successful envelope and decodes its data into v,
// when v is not nil.
func AssertOK(t *testing.T, w *httptest.ResponseRecorder, v any) *Envelope {
	t.Helper()
	env := DecodeEnvelope(t, w)
	if !env.OK {
		t.Fatalf("expected ok result, got %d %s: %s", env.Status, env.Code, env.Message)
	}
	if v != nil {
		if err := json.Unmarshal(env.Data, v); err != nil {
			t.Fatalf("failed to decode data: %v\nData: %s", err, env.Data)
		}
	}
	return env
}

// AssertData checks for a successful envelope whose data equals expected,
// compared as JSON.
func AssertData(t *testing.T, w *httptest.ResponseRecorder, expected any) {
	t.Helper()
	env := AssertOK(t, w, nil)

	expectedJSON, _ := json.Marshal(expected)
	var expectedData, actualData any
	json.Unmarshal(expectedJSON, &expectedData)
	json.Unmarshal(env.Data, &actualData)

	expectedStr, _ := json.MarshalIndent(expectedData, "", "  ")
	actualStr, _ := json.MarshalIndent(actualData, "", "  ")

	if string(expectedStr) != string(actualStr) {
		t.Errorf("data mismatch:\nExpected:\n%s\nActual:\n%s", expectedStr, actualStr)
	}
}

// AssertJSONError checks for a failed envelope with the expected code.
func AssertJSONError(t *testing.T, w *httptest.ResponseRecorder, expectedCode string) *Envelope {
	t.Helper()
	env := DecodeEnvelope(t, w)
	if env.OK {
		t.Fatalf("expected failed result, got ok: %s", env.Data)
	}
	if env.Code != expectedCode {
		t.Errorf("expected error code %s, got %s (message: %s)", expectedCode, env.Code, env.Message)
	}
	return env
}

// AssertHeader checks that a response header has the expected value.
func AssertHeader(t *testing.T, w *httptest.ResponseRecorder, key, expectedValue string) {
	t.Helper()
	actual := w.Header().Get(key)
	if actual != expectedValue {
		t.Errorf("expected header %s=%s, got %s", key, expectedValue, actual)
	}
}

// DecodeJSON decodes the response body into the provided value.
func DecodeJSON(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response: %v\nBody: %s", err, w.Body.String())
	}
}
