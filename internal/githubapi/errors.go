package githubapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ErrorType categorizes failures talking to the GitHub API.
type ErrorType string

const (
	ErrorTypeAuth       ErrorType = "authentication"
	ErrorTypeForbidden  ErrorType = "forbidden"
	ErrorTypeRateLimit  ErrorType = "rate_limit"
	ErrorTypeServer     ErrorType = "server"
	ErrorTypeNetwork    ErrorType = "network"
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeGraphQL    ErrorType = "graphql"
	ErrorTypeUnknown    ErrorType = "unknown"
)

// ErrEmptyMutation is returned when a mutation succeeds at the transport
// level but yields no data.
var ErrEmptyMutation = errors.New("mutation returned no data")

// GraphQLError is one entry of the "errors" array in a GraphQL response.
type GraphQLError struct {
	Type    string `json:"type,omitempty"`
	Message string `json:"message"`
	Path    []any  `json:"path,omitempty"`
}

// APIError is returned by Client for every failed request once retries are
// exhausted or the failure is not retryable.
type APIError struct {
	Cause         error          `json:"-"`
	Type          ErrorType      `json:"type"`
	Message       string         `json:"message"`
	GraphQLErrors []GraphQLError `json:"graphql_errors,omitempty"`
	StatusCode    int            `json:"status_code,omitempty"`
	Attempts      int            `json:"attempts"`
}

func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "github %s error", e.Type)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Attempts > 1 {
		fmt.Fprintf(&b, " after %d attempts", e.Attempts)
	}
	return b.String()
}

func (e *APIError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether another attempt may succeed.
func (e *APIError) Retryable() bool {
	switch e.Type {
	case ErrorTypeRateLimit, ErrorTypeServer, ErrorTypeNetwork:
		return true
	default:
		return false
	}
}

// IsRetryable is the default retry predicate.
func IsRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	return false
}

// IsAuthError reports whether err means the token was rejected or missing.
func IsAuthError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Type == ErrorTypeAuth
}

func IsRateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Type == ErrorTypeRateLimit
}

func classifyStatus(code int) ErrorType {
	switch {
	case code == http.StatusUnauthorized:
		return ErrorTypeAuth
	case code == http.StatusForbidden:
		return ErrorTypeForbidden
	case code == http.StatusTooManyRequests:
		return ErrorTypeRateLimit
	case code == http.StatusUnprocessableEntity || code == http.StatusBadRequest:
		return ErrorTypeValidation
	case code >= 500:
		return ErrorTypeServer
	default:
		return ErrorTypeUnknown
	}
}

func newStatusError(code int, body []byte, state RateLimitState) *APIError {
	errType := classifyStatus(code)
	// GitHub reports an exhausted primary quota as 403.
	if errType == ErrorTypeForbidden && state.Known() && state.Remaining == 0 {
		errType = ErrorTypeRateLimit
	}

	msg := strings.TrimSpace(string(body))
	if len(msg) > 512 {
		msg = msg[:512]
	}
	if msg == "" {
		msg = http.StatusText(code)
	}

	return &APIError{Type: errType, StatusCode: code, Message: msg}
}

func newGraphQLError(code int, gqlErrs []GraphQLError) *APIError {
	errType := ErrorTypeGraphQL
	msgs := make([]string, 0, len(gqlErrs))
	for _, e := range gqlErrs {
		if e.Type == "RATE_LIMITED" {
			errType = ErrorTypeRateLimit
		}
		msgs = append(msgs, e.Message)
	}
	return &APIError{
		Type:          errType,
		StatusCode:    code,
		Message:       strings.Join(msgs, "; "),
		GraphQLErrors: gqlErrs,
	}
}

func newNetworkError(err error) *APIError {
	msg := err.Error()
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		msg = "timeout: " + msg
	}
	return &APIError{Type: ErrorTypeNetwork, Message: msg, Cause: err}
}

// wrapError normalizes whatever githubv4 returned into an *APIError, leaving
// context errors untouched so callers can match them with errors.Is.
func wrapError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &APIError{Type: ErrorTypeUnknown, Message: err.Error(), Cause: err, Attempts: 1}
}
