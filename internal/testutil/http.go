package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// HTTPResult captures HTTP response details for test assertions
type HTTPResult struct {
	Code    int
	Error   error
	Headers http.Header
	Cookies []*http.Cookie
	Body    []byte
}

// RequestOption adjusts a test request before it is served.
type RequestOption func(*http.Request)

func WithHeader(key string, value string) RequestOption {
	return func(r *http.Request) { r.Header.Set(key, value) }
}

func WithCookie(cookie *http.Cookie) RequestOption {
	return func(r *http.Request) { r.AddCookie(cookie) }
}

// WithCookies carries every cookie from an earlier result forward.
func WithCookies(result HTTPResult) RequestOption {
	return func(r *http.Request) {
		for _, c := range result.Cookies {
			r.AddCookie(c)
		}
	}
}

// ExpectStatus validates the HTTP status code and fails the test if it doesn't match
func ExpectStatus(
	t *testing.T,
	expected int,
	result HTTPResult,
) {
	t.Helper()
	if result.Error != nil {
		t.Fatalf("request error: %v", result.Error)
	}
	if result.Code != expected {
		t.Fatalf("expected status %d, got %d. Body: %s", expected, result.Code, string(result.Body))
	}
}

// ExpectRedirect validates a 303 response and returns the Location header
func ExpectRedirect(
	t *testing.T,
	result HTTPResult,
) string {
	t.Helper()
	if result.Code != http.StatusSeeOther {
		t.Fatalf("expected redirect (303), got %d. Body: %s", result.Code, string(result.Body))
	}
	location := result.Headers.Get("Location")
	if location == "" {
		t.Fatal("expected Location header in redirect")
	}
	return location
}

// Do serves one request against handler and optionally decodes a JSON
// response into response.
func Do(
	handler http.Handler,
	method string,
	url string,
	body io.Reader,
	response any,
	opts ...RequestOption,
) HTTPResult {
	req := httptest.NewRequest(method, url, body)
	for _, opt := range opts {
		opt(req)
	}
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	result := HTTPResult{
		Code:    res.Code,
		Headers: res.Header(),
		Cookies: res.Result().Cookies(),
		Body:    res.Body.Bytes(),
	}
	if response != nil && res.Body.Len() > 0 {
		if err := json.Unmarshal(res.Body.Bytes(), response); err != nil {
			result.Error = fmt.Errorf("failed to decode JSON: %v\n%s", err, res.Body.String())
		}
	}
	return result
}

// Get performs a GET request and optionally decodes JSON response
func Get(
	handler http.Handler,
	url string,
	response any,
	opts ...RequestOption,
) HTTPResult {
	return Do(handler, http.MethodGet, url, nil, response, opts...)
}

// SendJSON performs a request with a JSON body
func SendJSON(
	handler http.Handler,
	method string,
	url string,
	body string,
	response any,
	opts ...RequestOption,
) HTTPResult {
	opts = append([]RequestOption{WithHeader("Content-Type", "application/json")}, opts...)
	return Do(handler, method, url, strings.NewReader(body), response, opts...)
}

// PostJSON performs a POST with JSON body
func PostJSON(
	handler http.Handler,
	url string,
	body string,
	response any,
	opts ...RequestOption,
) HTTPResult {
	return SendJSON(handler, http.MethodPost, url, body, response, opts...)
}
