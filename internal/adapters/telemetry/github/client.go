// Package github reads contribution counts from the GitHub GraphQL API using
// a service-held token.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/okian/ucoin/internal/domain/telemetry"
	"github.com/okian/ucoin/pkg/logger"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

const contributionsQuery = `query($login: String!, $from: DateTime!, $to: DateTime!) {
  user(login: $login) {
    contributionsCollection(from: $from, to: $to) {
      contributionCalendar { totalContributions }
    }
  }
}`

const maxBodyBytes = 1 << 20

var _ telemetry.Source = (*Client)(nil)

// Client is a rate-limited, circuit-broken GitHub contributions source.
type Client struct {
	endpoint    string
	token       string
	http        *http.Client
	timeout     time.Duration
	rps         float64
	burst       int
	breakerName string
	log         logger.Logger

	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// New creates a Client authenticated with token.
func New(token string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("github: token is required")
	}
	c := &Client{
		endpoint:    DefaultEndpoint,
		token:       token,
		http:        &http.Client{},
		timeout:     DefaultTimeout,
		rps:         DefaultRPS,
		burst:       DefaultBurst,
		breakerName: "github-telemetry",
		log:         logger.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.limiter = rate.NewLimiter(rate.Limit(c.rps), c.burst)

	st := gobreaker.Settings{
		Name:     c.breakerName,
		Interval: 60 * time.Second,
		Timeout:  30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures >= 5 {
				return true
			}
			if counts.Requests < 20 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) > 0.5
		},
		// An unknown handle is a valid answer, not an upstream failure.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, telemetry.ErrNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn(context.Background(), "circuit breaker state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()))
		},
	}
	c.breaker = gobreaker.NewCircuitBreaker(st)
	return c, nil
}

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type gqlError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type gqlResponse struct {
	Data struct {
		User *struct {
			ContributionsCollection struct {
				ContributionCalendar struct {
					TotalContributions *int `json:"totalContributions"`
				} `json:"contributionCalendar"`
			} `json:"contributionsCollection"`
		} `json:"user"`
	} `json:"data"`
	Errors []gqlError `json:"errors"`
}

// Contributions returns the total contributions of q.Handle in [q.From, q.To].
func (c *Client) Contributions(ctx context.Context, q telemetry.Query) (int, error) {
	handle := strings.TrimSpace(q.Handle)
	if handle == "" {
		return 0, telemetry.ErrEmptyHandle
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("%w: rate limit wait: %w", telemetry.ErrTransient, err)
	}

	out, err := c.breaker.Execute(func() (any, error) {
		return c.fetch(ctx, handle, q.From, q.To)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return 0, fmt.Errorf("%w: %w", telemetry.ErrTransient, err)
		}
		return 0, err
	}
	return out.(int), nil
}

func (c *Client) fetch(ctx context.Context, handle string, from, to time.Time) (int, error) {
	body, err := json.Marshal(gqlRequest{
		Query: contributionsQuery,
		Variables: map[string]any{
			"login": handle,
			"from":  from.UTC().Format(time.RFC3339),
			"to":    to.UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", telemetry.ErrTransient, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, fmt.Errorf("%w: read body: %w", telemetry.ErrTransient, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return 0, fmt.Errorf("%w: status %d", telemetry.ErrTransient, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return 0, fmt.Errorf("github: unexpected status %d", resp.StatusCode)
	}

	var gr gqlResponse
	if err := json.Unmarshal(raw, &gr); err != nil {
		return 0, fmt.Errorf("%w: %w", telemetry.ErrMalformedResponse, err)
	}
	for _, e := range gr.Errors {
		if e.Type == "NOT_FOUND" {
			return 0, fmt.Errorf("%w: %s", telemetry.ErrNotFound, handle)
		}
	}
	if len(gr.Errors) > 0 {
		return 0, fmt.Errorf("github: graphql error: %s", gr.Errors[0].Message)
	}
	if gr.Data.User == nil {
		return 0, fmt.Errorf("%w: %s", telemetry.ErrNotFound, handle)
	}
	total := gr.Data.User.ContributionsCollection.ContributionCalendar.TotalContributions
	if total == nil || *total < 0 {
		return 0, fmt.Errorf("%w: missing totalContributions", telemetry.ErrMalformedResponse)
	}
	return *total, nil
}
