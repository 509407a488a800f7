package extract

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Kind classifies an extraction failure for the retry policy.
type Kind int

const (
	// KindTransient covers timeouts and flaky upstream errors; retry with
	// backoff.
	KindTransient Kind = iota
	// KindRateLimited means the upstream quota is exhausted; retryable, and
	// may carry the provider's own retry hint.
	KindRateLimited
	// KindInvalid means the input itself was rejected; never retry.
	KindInvalid
	// KindFatal is a permanent provider-side rejection; never retry.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRateLimited:
		return "rate_limited"
	case KindInvalid:
		return "invalid"
	default:
		return "fatal"
	}
}

// Error is a classified extraction failure.
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter time.Duration // optional upstream hint, rate-limited only
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extract: %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("extract: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the worker should retry after err. Classified
// transient and rate-limited failures retry, as do raw timeouts; anything
// else is treated as permanent.
func Retryable(err error) bool {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Kind == KindTransient || ee.Kind == KindRateLimited
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return false
}

// RetryAfterHint returns the upstream retry hint attached to err, if any.
func RetryAfterHint(err error) time.Duration {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.RetryAfter
	}
	return 0
}
