package engine

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

var (
	ErrCircuitOpen = errors.New("call skipped: circuit breaker open")
)

// NoRetry marks an error as permanent. The runner returns it after the first
// attempt, unwrapped.
//
//	return engine.NoRetry(fmt.Errorf("bad input: %w", err))
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return noRetryError{err: err}
}

type noRetryError struct{ err error }

func (e noRetryError) Error() string { return fmt.Sprintf("no-retry: %v", e.err) }
func (e noRetryError) Unwrap() error { return e.err }

// RetryAfter attaches a suggested delay, e.g. from an HTTP Retry-After
// header. The hint is bounded by the retry max delay.
func RetryAfter(err error, after time.Duration) error {
	if err == nil {
		return nil
	}
	if after < 0 {
		after = 0
	}
	return retryAfterError{err: err, after: after}
}

type RetryAfterError interface {
	error
	RetryAfter() time.Duration
}

type retryAfterError struct {
	err   error
	after time.Duration
}

func (e retryAfterError) Error() string             { return fmt.Sprintf("retry-after(%s): %v", e.after, e.err) }
func (e retryAfterError) Unwrap() error             { return e.err }
func (e retryAfterError) RetryAfter() time.Duration { return e.after }

// StatusError is a non-2xx HTTP response from an upstream API.
type StatusError struct {
	Service string
	Code    int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d %s", e.Service, e.Code, http.StatusText(e.Code))
}

// HTTPStatusError classifies resp: nil for 2xx, RetryAfter for 429, a
// retryable error for 5xx and NoRetry for everything else.
func HTTPStatusError(service string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	err := &StatusError{Service: service, Code: resp.StatusCode}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		secs, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
		return RetryAfter(err, time.Duration(secs)*time.Second)
	case resp.StatusCode >= 500:
		return err
	default:
		return NoRetry(err)
	}
}
