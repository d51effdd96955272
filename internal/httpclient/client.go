// Package httpclient builds the per-test HTTP session and requests.
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/torosent/loadpilot/internal/config"
)

// NewClient creates the keep-alive session for one test. The connection pool
// is sized to the test's concurrency cap; HTTP/2 is not attempted.
func NewClient(timeout time.Duration, maxConcurrency int) *http.Client {
	if timeout < 0 {
		timeout = 0
	}
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     false,
		MaxIdleConns:          maxConcurrency,
		MaxIdleConnsPerHost:   maxConcurrency,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// RequestBuilder produces one *http.Request per invocation from a validated
// test spec. It is safe for concurrent use.
type RequestBuilder struct {
	method   string
	target   string
	headers  http.Header
	body     BodySource
	bodyType string
	auth     *config.AuthSpec
}

func NewRequestBuilder(spec *config.TestSpec) (*RequestBuilder, error) {
	if spec == nil {
		return nil, errors.New("spec cannot be nil")
	}

	target, err := resolveTarget(spec)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	for key, value := range spec.Headers {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" || strings.ContainsAny(trimmedKey, "\r\n") {
			return nil, fmt.Errorf("invalid header key %q", key)
		}
		if strings.ContainsAny(value, "\r\n") {
			return nil, fmt.Errorf("invalid header value for %s", trimmedKey)
		}
		headers.Set(http.CanonicalHeaderKey(trimmedKey), value)
	}

	body, contentType, err := NewBodySource(spec)
	if err != nil {
		return nil, err
	}
	if contentType != "" && headers.Get("Content-Type") == "" {
		headers.Set("Content-Type", contentType)
	}

	b := &RequestBuilder{
		method:  spec.Method,
		target:  target,
		headers: headers,
		body:    body,
		auth:    spec.Auth,
	}

	if b.auth != nil && b.auth.Type == config.AuthTypeBearer {
		if headers.Get("Authorization") == "" {
			headers.Set("Authorization", "Bearer "+b.auth.Token)
		}
	}

	return b, nil
}

func resolveTarget(spec *config.TestSpec) (string, error) {
	u, err := url.Parse(spec.URL)
	if err != nil {
		return "", fmt.Errorf("target url: %w", err)
	}
	if len(spec.Params) > 0 {
		q := u.Query()
		for k, v := range spec.Params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Build assembles a request. Bodies attach only to POST/PUT/PATCH.
func (b *RequestBuilder) Build(ctx context.Context) (*http.Request, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	var reader io.ReadCloser = http.NoBody
	withBody := b.body != nil && bodyMethod(b.method)
	if withBody {
		r, err := b.body.NewReader()
		if err != nil {
			return nil, err
		}
		reader = r
	}

	req, err := http.NewRequestWithContext(ctx, b.method, b.target, reader)
	if err != nil {
		return nil, err
	}

	req.Header = make(http.Header, len(b.headers))
	for key, values := range b.headers {
		for _, val := range values {
			req.Header.Add(key, val)
		}
	}

	if withBody {
		if length, ok := b.body.ContentLength(); ok {
			req.ContentLength = length
		}
		req.GetBody = func() (io.ReadCloser, error) { return b.body.NewReader() }
	}

	if b.auth != nil && b.auth.Type == config.AuthTypeBasic {
		req.SetBasicAuth(b.auth.Username, b.auth.Password)
	}

	return req, nil
}

func bodyMethod(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return false
}
