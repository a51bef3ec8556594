package binance

import (
	"net/http"
	"time"

	xlogger "OIWatch/pkg/logger"

	"golang.org/x/time/rate"
)

// WithBaseURLs sets the futures data host (open interest) and the fapi host (klines).
func WithBaseURLs(futuresDataURL, fapiURL string) Option {
	return func(c *Client) {
		if futuresDataURL != "" {
			c.futuresDataURL = futuresDataURL
		}
		if fapiURL != "" {
			c.fapiURL = fapiURL
		}
	}
}

// WithPeriod sets the sampling period, e.g. "5m".
func WithPeriod(period string) Option {
	return func(c *Client) {
		if period != "" {
			c.period = period
		}
	}
}

// WithRateLimit shares one token bucket across all callers of the client.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps > 0 && burst > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

// WithMaxElapsed caps the total retry time of one request.
func WithMaxElapsed(d time.Duration) Option {
	return func(c *Client) {
		c.maxElapsed = d
	}
}

// WithTimeout sets the per request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithTransport replaces the HTTP round tripper.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.transport = rt
	}
}

func WithLogger(l *xlogger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l.With(xlogger.String("component", "binance"))
		}
	}
}
