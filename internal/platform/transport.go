package platform

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Response is the raw transport outcome: status, headers, body. The
// classifier owns its interpretation.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Transport is the injected capability that actually talks HTTP. Anything
// that can send method+headers+body and return status+headers+body works;
// tests inject fakes here.
type Transport interface {
	RoundTrip(ctx context.Context, method, endpoint string, header http.Header, body []byte) (*Response, error)
}

// HTTPTransport is the production Transport over net/http.
type HTTPTransport struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPTransport creates a transport rooted at baseURL. apiKey, when
// non-empty, is sent on every request.
func NewHTTPTransport(baseURL, apiKey string, timeout time.Duration) *HTTPTransport {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPTransport{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// RoundTrip sends one request and reads the full body. A returned error is
// always a local/network failure; HTTP-level errors come back as a Response.
func (t *HTTPTransport) RoundTrip(ctx context.Context, method, endpoint string, header http.Header, body []byte) (*Response, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}

	url := t.baseURL + "/" + strings.TrimLeft(endpoint, "/")
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if len(body) > 0 && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if t.apiKey != "" {
		req.Header.Set("X-API-Key", t.apiKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transport call failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: data}, nil
}
