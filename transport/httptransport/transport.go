// Package httptransport sends queued requests over HTTP.
package httptransport

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultTimeout      = 30 * time.Second
	defaultMaxBodyBytes = 64 * 1024
)

// HTTPClient abstracts http.Client for tests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type Option func(*Transport)

func WithHTTPClient(client HTTPClient) Option {
	return func(t *Transport) {
		if client != nil {
			t.client = client
		}
	}
}

// WithTimeout replaces the default client with one using the given timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(t *Transport) {
		if timeout > 0 {
			t.client = &http.Client{Timeout: timeout}
		}
	}
}

// WithBodyLimit caps how many response bytes are kept.
func WithBodyLimit(limit int64) Option {
	return func(t *Transport) {
		if limit > 0 {
			t.maxBodyBytes = limit
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(t *Transport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// Transport implements eventqueue.Transport on net/http.
// Any error before a response is received is reported as status 0.
type Transport struct {
	client       HTTPClient
	logger       *zap.Logger
	maxBodyBytes int64
}

func New(opts ...Option) *Transport {
	t := &Transport{
		client:       &http.Client{Timeout: defaultTimeout},
		logger:       zap.NewNop(),
		maxBodyBytes: defaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Transport) Send(ctx context.Context, method, url string, headers map[string]string, body string) (int, string) {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		t.logger.Error("Failed to build http request", zap.String("url", url), zap.Error(err))
		return 0, ""
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		t.logger.Warn("Http request failed", zap.String("url", url), zap.Error(err))
		return 0, ""
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBodyBytes))
	if err != nil {
		t.logger.Warn("Failed to read response body", zap.String("url", url), zap.Error(err))
	}
	return resp.StatusCode, string(data)
}
