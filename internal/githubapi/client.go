package githubapi

import (
	"context"
	"log/slog"
	"net/http"
	"reflect"
	"time"

	"github.com/shurcooL/githubv4"
)

type Config struct {
	// Transport is the underlying round tripper; http.DefaultTransport if nil.
	Transport http.RoundTripper
	// Tokens is the default token provider, see Client.WithTokenProvider.
	Tokens         TokenProvider
	URL            string
	APIVersion     string
	UserAgent      string
	Retry          RetryPolicy
	RequestTimeout time.Duration
	LowWaterMark   int
}

// Client is a GitHub GraphQL client with retries and rate-limit tracking.
// Copies made by WithTokenProvider share the rate-limit state.
type Client struct {
	gql      *githubv4.Client
	tokens   TokenProvider
	limits   *rateLimitTracker
	lowWater int
}

func NewClient(cfg Config) *Client {
	if cfg.URL == "" {
		cfg.URL = "https://api.github.com/graphql"
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.LowWaterMark <= 0 {
		cfg.LowWaterMark = DefaultLowWaterMark
	}
	if cfg.Transport == nil {
		cfg.Transport = http.DefaultTransport
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "ghsync"
	}

	limits := newRateLimitTracker()
	httpClient := &http.Client{
		Transport: &transport{
			base:       cfg.Transport,
			limits:     limits,
			now:        time.Now,
			apiVersion: cfg.APIVersion,
			userAgent:  cfg.UserAgent,
			retry:      cfg.Retry.withDefaults(),
			timeout:    cfg.RequestTimeout,
		},
	}

	c := &Client{
		gql:      githubv4.NewEnterpriseClient(cfg.URL, httpClient),
		tokens:   cfg.Tokens,
		limits:   limits,
		lowWater: cfg.LowWaterMark,
	}

	limits.subscribe(LowWaterObserver{
		Mark: cfg.LowWaterMark,
		Fn: func(s RateLimitState) {
			slog.Warn("github rate limit running low",
				"remaining", s.Remaining,
				"limit", s.Limit,
				"reset", s.Reset)
		},
	})

	return c
}

// WithTokenProvider returns a client that authenticates with tp.
func (c *Client) WithTokenProvider(tp TokenProvider) *Client {
	cp := *c
	cp.tokens = tp
	return &cp
}

func (c *Client) Query(ctx context.Context, q any, variables map[string]any) error {
	return wrapError(c.gql.Query(withTokenProvider(ctx, c.tokens), q, variables))
}

// Mutate runs a mutation through the same retry path as Query. A mutation that
// leaves m untouched returns ErrEmptyMutation.
func (c *Client) Mutate(ctx context.Context, m any, input githubv4.Input, variables map[string]any) error {
	if err := c.gql.Mutate(withTokenProvider(ctx, c.tokens), m, input, variables); err != nil {
		return wrapError(err)
	}
	if v := reflect.ValueOf(m); v.Kind() == reflect.Pointer && v.Elem().IsZero() {
		return ErrEmptyMutation
	}
	return nil
}

// RateLimit returns the last observed quota.
func (c *Client) RateLimit() RateLimitState {
	return c.limits.current()
}

// Observe registers o for every rate-limit update and returns a function
// that removes it.
func (c *Client) Observe(o RateLimitObserver) func() {
	return c.limits.subscribe(o)
}

func (c *Client) LowWaterMark() int {
	return c.lowWater
}
