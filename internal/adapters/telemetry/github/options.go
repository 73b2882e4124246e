package github

import (
	"net/http"
	"time"

	"github.com/okian/ucoin/pkg/logger"
)

// Defaults for the GitHub client.
const (
	DefaultEndpoint = "https://api.github.com/graphql"
	DefaultTimeout  = 15 * time.Second
	DefaultRPS      = 10.0
	DefaultBurst    = 10
)

// Option configures a Client.
type Option func(*Client)

// WithEndpoint overrides the GraphQL endpoint.
func WithEndpoint(url string) Option {
	return func(c *Client) {
		if url != "" {
			c.endpoint = url
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRateLimit sets the sustained request rate and burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps > 0 {
			c.rps = rps
		}
		if burst > 0 {
			c.burst = burst
		}
	}
}

// WithBreakerName names the circuit breaker in state-change logs.
func WithBreakerName(name string) Option {
	return func(c *Client) {
		if name != "" {
			c.breakerName = name
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}
