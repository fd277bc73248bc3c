package llm

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Error types classifying backend failures. Each class has a bounded,
// documented recovery path in the dispatcher:
//
//	RateLimitError  -> cooldown + rotation, retry budget untouched
//	UnsupportedError -> backend permanently skipped, budget untouched
//	TransientError  -> one retry-budget unit with linear backoff
//	ExhaustedError  -> budget gone; the only class allowed to propagate

// RateLimitError signals a rate or quota rejection. It is resolved by
// rotating backends, never by failing the request.
type RateLimitError struct {
	err error

	// RetryAfter is the recommended cooldown extracted from the failure
	// text, or zero when none was found.
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return e.err.Error()
}

func (e *RateLimitError) Unwrap() error {
	return e.err
}

// NewRateLimitError wraps an error as a rate-limit signal.
func NewRateLimitError(err error, retryAfter time.Duration) error {
	return &RateLimitError{err: err, RetryAfter: retryAfter}
}

// UnsupportedError signals that a backend does not exist or cannot serve
// generation requests. The backend is excluded for the process lifetime.
type UnsupportedError struct {
	err error
}

func (e *UnsupportedError) Error() string {
	return e.err.Error()
}

func (e *UnsupportedError) Unwrap() error {
	return e.err
}

// NewUnsupportedError wraps an error as a permanent backend rejection.
func NewUnsupportedError(err error) error {
	return &UnsupportedError{err: err}
}

// TransientError represents a temporary error that may succeed on retry.
type TransientError struct {
	err error
}

func (e *TransientError) Error() string {
	return e.err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.err
}

// NewTransientError wraps an error as transient (retryable).
func NewTransientError(err error) error {
	return &TransientError{err: err}
}

// ExhaustedError reports that the generic retry budget ran out.
// It carries the last underlying cause.
type ExhaustedError struct {
	Attempts int
	LastErr  error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry budget exhausted after %d attempts: %v", e.Attempts, e.LastErr)
}

func (e *ExhaustedError) Unwrap() error {
	return e.LastErr
}

// IsRateLimit returns true if the error is a rate-limit signal.
func IsRateLimit(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}

// IsUnsupported returns true if the error marks a backend as unusable.
func IsUnsupported(err error) bool {
	var u *UnsupportedError
	return errors.As(err, &u)
}

// IsExhausted returns true if the error is a retry-budget exhaustion.
func IsExhausted(err error) bool {
	var ex *ExhaustedError
	return errors.As(err, &ex)
}

// rateMarkers and unsupportedMarkers classify failures whose only signal is
// free text (network-level errors, SDK messages). Checked in priority order:
// rate markers win over unsupported markers.
var (
	rateMarkers        = []string{"quota", "rate limit", "rate_limit", "too many requests", "429"}
	unsupportedMarkers = []string{"not found", "404", "not supported", "unsupported model", "unknown model"}
)

// ClassifyMessage classifies an unwrapped error by its message text.
// Already-classified errors pass through unchanged.
func ClassifyMessage(err error) error {
	if err == nil || IsRateLimit(err) || IsUnsupported(err) {
		return err
	}

	text := strings.ToLower(err.Error())
	for _, marker := range rateMarkers {
		if strings.Contains(text, marker) {
			retryAfter, _ := ParseRetryWait(err.Error())
			return NewRateLimitError(err, retryAfter)
		}
	}
	for _, marker := range unsupportedMarkers {
		if strings.Contains(text, marker) {
			return NewUnsupportedError(err)
		}
	}
	return NewTransientError(err)
}
