package githubapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

const DefaultAPIVersion = "2022-11-28"

// transport injects credentials and API headers, retries retryable failures
// and records rate-limit headers. It turns every failure, including a 200
// carrying GraphQL errors, into an *APIError.
type transport struct {
	base       http.RoundTripper
	limits     *rateLimitTracker
	now        func() time.Time
	apiVersion string
	userAgent  string
	retry      RetryPolicy
	timeout    time.Duration
}

func (t *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("buffering request body: %w", err)
		}
	}

	token, err := t.resolveToken(ctx)
	if err != nil {
		return nil, &APIError{Type: ErrorTypeAuth, Message: "resolving token: " + err.Error(), Cause: err, Attempts: 1}
	}

	resp, _, err := Execute(ctx, t.retry, func(int) (*http.Response, error) {
		return t.attempt(ctx, req, body, token)
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (t *transport) resolveToken(ctx context.Context) (string, error) {
	tp := tokenProviderFrom(ctx)
	if tp == nil {
		slog.WarnContext(ctx, "github request has no token provider, sending unauthenticated")
		return "", nil
	}

	token, err := tp.Token(ctx)
	if err != nil {
		return "", err
	}
	if token == "" {
		slog.WarnContext(ctx, "github token missing, sending unauthenticated")
	}
	return token, nil
}

func (t *transport) attempt(ctx context.Context, req *http.Request, body []byte, token string) (*http.Response, error) {
	attemptCtx := ctx
	if t.timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	r := req.Clone(attemptCtx)
	r.Body = io.NopCloser(bytes.NewReader(body))
	r.ContentLength = int64(len(body))
	r.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	r.Header.Set("X-GitHub-Api-Version", t.apiVersion)
	r.Header.Set("Accept", "application/json")
	if t.userAgent != "" {
		r.Header.Set("User-Agent", t.userAgent)
	}
	if token != "" {
		(&oauth2.Token{AccessToken: token}).SetAuthHeader(r)
	}

	resp, err := t.base.RoundTrip(r)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, newNetworkError(err)
	}

	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, newNetworkError(fmt.Errorf("reading response body: %w", err))
	}

	state, _ := t.limits.update(resp.Header, t.now())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newStatusError(resp.StatusCode, data, state)
	}

	if gqlErrs := parseGraphQLErrors(data); len(gqlErrs) > 0 {
		return nil, newGraphQLError(resp.StatusCode, gqlErrs)
	}

	resp.Body = io.NopCloser(bytes.NewReader(data))
	resp.ContentLength = int64(len(data))
	return resp, nil
}

func parseGraphQLErrors(data []byte) []GraphQLError {
	var envelope struct {
		Errors []GraphQLError `json:"errors"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil
	}
	return envelope.Errors
}
