package types

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

type ErrorKindType string

const (
	KindUnknownStream       ErrorKindType = "unknown_stream"
	KindCyclicDependency    ErrorKindType = "cyclic_dependency"
	KindRateLimitExceeded   ErrorKindType = "rate_limit_exceeded"
	KindUpstreamUnavailable ErrorKindType = "upstream_unavailable"
	KindUpstreamRequest     ErrorKindType = "upstream_request"
	KindUpstreamAuth        ErrorKindType = "upstream_auth"
	KindSchemaViolation     ErrorKindType = "schema_violation"
	KindCancelled           ErrorKindType = "cancelled"
	KindInternal            ErrorKindType = "internal"
)

// UnknownStreamError is returned when a stream id is not registered by the driver
type UnknownStreamError struct {
	StreamID string
}

func (e *UnknownStreamError) Error() string {
	return fmt.Sprintf("unknown stream [%s]", e.StreamID)
}

type CyclicDependencyError struct {
	Cycle []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("cyclic stream dependency: %s", strings.Join(e.Cycle, " -> "))
}

type RateLimitExceededError struct {
	Attempts int
	// wait requested by the last response, zero if unknown
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitExceededError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limit exceeded after %d attempts (retry after %s): %s", e.Attempts, e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("rate limit exceeded after %d attempts: %s", e.Attempts, e.Err)
}

func (e *RateLimitExceededError) Unwrap() error { return e.Err }

type UpstreamUnavailableError struct {
	Attempts int
	Err      error
}

func (e *UpstreamUnavailableError) Error() string {
	return fmt.Sprintf("upstream unavailable after %d attempts: %s", e.Attempts, e.Err)
}

func (e *UpstreamUnavailableError) Unwrap() error { return e.Err }

// UpstreamRequestError is a non retryable rejection of the request (4xx)
type UpstreamRequestError struct {
	StatusCode int
	URL        string
	Message    string
}

func (e *UpstreamRequestError) Error() string {
	return fmt.Sprintf("request to %s failed with status %d: %s", e.URL, e.StatusCode, e.Message)
}

type UpstreamAuthError struct {
	StatusCode int
	URL        string
	Message    string
}

func (e *UpstreamAuthError) Error() string {
	return fmt.Sprintf("request to %s was not authorized (status %d): %s", e.URL, e.StatusCode, e.Message)
}

// Unauthenticated reports a rejected credential, as opposed to a forbidden resource
func (e *UpstreamAuthError) Unauthenticated() bool {
	return e.StatusCode == 401
}

type SchemaViolationError struct {
	Stream  string
	Field   string
	Message string
}

func (e *SchemaViolationError) Error() string {
	return fmt.Sprintf("record of stream [%s] violates schema at field [%s]: %s", e.Stream, e.Field, e.Message)
}

// ErrorKind returns the machine readable kind of an error, empty for nil
func ErrorKind(err error) ErrorKindType {
	if err == nil {
		return ""
	}

	var (
		unknownStream *UnknownStreamError
		cyclic        *CyclicDependencyError
		rateLimit     *RateLimitExceededError
		unavailable   *UpstreamUnavailableError
		request       *UpstreamRequestError
		auth          *UpstreamAuthError
		schema        *SchemaViolationError
	)

	switch {
	case errors.As(err, &unknownStream):
		return KindUnknownStream
	case errors.As(err, &cyclic):
		return KindCyclicDependency
	case errors.As(err, &rateLimit):
		return KindRateLimitExceeded
	case errors.As(err, &unavailable):
		return KindUpstreamUnavailable
	case errors.As(err, &auth):
		return KindUpstreamAuth
	case errors.As(err, &request):
		return KindUpstreamRequest
	case errors.As(err, &schema):
		return KindSchemaViolation
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	default:
		return KindInternal
	}
}

// IsUnauthenticated reports errors after which no further requests should be scheduled
func IsUnauthenticated(err error) bool {
	var auth *UpstreamAuthError
	return errors.As(err, &auth) && auth.Unauthenticated()
}
