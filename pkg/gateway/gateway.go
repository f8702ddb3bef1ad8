package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

var ErrBadBaseURL = errors.New("invalid gateway base url")

const DefaultTimeout = 10 * time.Second

type Options struct {
	BaseURL   string
	Timeout   time.Duration
	Transport http.RoundTripper
	Logger    *zap.Logger
}

// Gateway is the single outbound path to the remote API.
type Gateway struct {
	base   *url.URL
	client *http.Client
	logger *zap.Logger
}

// Response is a successful (2xx) reply. Body may be empty.
type Response struct {
	Status int
	Header http.Header
	Body   json.RawMessage
}

// Decode unmarshals the body into out. An empty body leaves out untouched.
func (r *Response) Decode(out any) error {
	if out == nil || len(bytes.TrimSpace(r.Body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func New(tokens TokenSource, opts Options) (*Gateway, error) {
	base, err := url.Parse(opts.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrBadBaseURL, opts.BaseURL)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	next := opts.Transport
	if next == nil {
		next = http.DefaultTransport
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Gateway{
		base: base,
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: &bearerTransport{tokens: tokens, host: base.Host, next: next},
		},
		logger: logger.Named("gateway"),
	}, nil
}

// BaseURL is the fixed base every request path is resolved against.
func (g *Gateway) BaseURL() string {
	return g.base.String()
}

func (g *Gateway) resolve(path string, query url.Values) string {
	u := *g.base
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(path, "/")
	u.RawPath = ""
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// Request sends one request and returns the 2xx response. It never
// retries. Failures are *TransportError or *APIError.
func (g *Gateway) Request(
	ctx context.Context,
	method string,
	path string,
	body any,
	query url.Values,
) (
	*Response,
	error,
) {
	target := g.resolve(path, query)

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s %s body: %w", method, target, err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", method, target, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	res, err := g.client.Do(req)
	if err != nil {
		g.logger.Warn("request failed",
			zap.String("method", method),
			zap.String("url", target),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return nil, &TransportError{Method: method, URL: target, Err: err}
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, &TransportError{Method: method, URL: target, Err: err}
	}

	g.logger.Debug("request",
		zap.String("method", method),
		zap.String("url", target),
		zap.Int("status", res.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, &APIError{
			Method:  method,
			URL:     target,
			Status:  res.StatusCode,
			Payload: decodePayload(raw),
			Raw:     raw,
		}
	}

	return &Response{
		Status: res.StatusCode,
		Header: res.Header,
		Body:   json.RawMessage(raw),
	}, nil
}

// Do is Request followed by decoding the body into out.
func (g *Gateway) Do(
	ctx context.Context,
	method string,
	path string,
	body any,
	query url.Values,
	out any,
) error {
	res, err := g.Request(ctx, method, path, body, query)
	if err != nil {
		return err
	}
	return res.Decode(out)
}

func (g *Gateway) Get(ctx context.Context, path string, query url.Values, out any) error {
	return g.Do(ctx, http.MethodGet, path, nil, query, out)
}

func (g *Gateway) Post(ctx context.Context, path string, body any, out any) error {
	return g.Do(ctx, http.MethodPost, path, body, nil, out)
}

func (g *Gateway) Put(ctx context.Context, path string, body any, query url.Values, out any) error {
	return g.Do(ctx, http.MethodPut, path, body, query, out)
}

func (g *Gateway) Delete(ctx context.Context, path string) error {
	return g.Do(ctx, http.MethodDelete, path, nil, nil, nil)
}

func decodePayload(raw []byte) any {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil
	}
	var payload any
	if err := json.Unmarshal(trimmed, &payload); err != nil {
		return string(trimmed)
	}
	return payload
}
