package analytics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	xhttp "OIWatch/pkg/http"

	"github.com/cenkalti/backoff/v4"
)

// HTTPServiceBase is the shared foundation of model service clients.
// It centralizes client construction and JSON POST request handling.
type HTTPServiceBase struct {
	baseURL  string
	client   *xhttp.Client
	attempts int
}

// BaseOption configures HTTPServiceBase.
type BaseOption func(*baseConfig)

type baseConfig struct {
	timeout   time.Duration
	attempts  int
	transport http.RoundTripper
}

// WithRequestTimeout bounds every call.
func WithRequestTimeout(d time.Duration) BaseOption {
	return func(c *baseConfig) { c.timeout = d }
}

// WithAttempts sets the total number of tries for transient failures.
func WithAttempts(n int) BaseOption {
	return func(c *baseConfig) { c.attempts = n }
}

// WithRoundTripper replaces the HTTP transport.
func WithRoundTripper(rt http.RoundTripper) BaseOption {
	return func(c *baseConfig) { c.transport = rt }
}

// NewHTTPServiceBase builds a client for baseURL.
func NewHTTPServiceBase(baseURL string, opts ...BaseOption) *HTTPServiceBase {
	cfg := baseConfig{timeout: 10 * time.Second, attempts: 1}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.attempts < 1 {
		cfg.attempts = 1
	}
	clientOpts := []xhttp.ClientOption{xhttp.WithTimeout(cfg.timeout)}
	if cfg.transport != nil {
		clientOpts = append(clientOpts, xhttp.WithTransport(cfg.transport))
	}
	return &HTTPServiceBase{
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   xhttp.NewClient(clientOpts...),
		attempts: cfg.attempts,
	}
}

// PostJSON posts payload to path under baseURL and decodes JSON into dest.
func (b *HTTPServiceBase) PostJSON(ctx context.Context, path string, payload, dest any) error {
	if b.client == nil || b.baseURL == "" {
		return fmt.Errorf("model service client not initialized")
	}
	err := b.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:  xhttp.MethodPost,
		URL:     b.baseURL + path,
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    payload,
	}, dest)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	return nil
}

// PostJSONWithRetry retries transient failures with exponential backoff.
// 4xx answers other than 429 are returned at once.
func (b *HTTPServiceBase) PostJSONWithRetry(ctx context.Context, path string, payload, dest any) error {
	if b.attempts <= 1 {
		return b.PostJSON(ctx, path, payload, dest)
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 50 * time.Millisecond
	eb.MaxInterval = 2 * time.Second
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(b.attempts-1)), ctx)

	return backoff.Retry(func() error {
		err := b.PostJSON(ctx, path, payload, dest)
		if err == nil {
			return nil
		}
		var se *xhttp.StatusError
		if errors.As(err, &se) && !se.Temporary() {
			return backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}
