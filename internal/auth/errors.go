package auth

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken matches ErrInvalidToken too, so callers that only care
	// about validity need a single check.
	ErrExpiredToken = fmt.Errorf("%w: token has expired", ErrInvalidToken)
)

var (
	errTokenRevoked   = errors.New("token revoked")
	errWrongTokenKind = errors.New("wrong token kind")
)

type RateLimitedError struct {
	Endpoint   string
	RetryAfter time.Duration
}

func (e RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s", e.Endpoint)
}

// RetryAfterSeconds rounds up and never reports less than one second.
func (e RateLimitedError) RetryAfterSeconds() int {
	return ceilSeconds(e.RetryAfter)
}

func ceilSeconds(d time.Duration) int {
	seconds := int(math.Ceil(d.Seconds()))
	if seconds < 1 {
		return 1
	}
	return seconds
}

// rejectReason is the log-only label for a failed credential. It is never
// sent to the client.
func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrExpiredToken):
		return "expired"
	case errors.Is(err, errTokenRevoked):
		return "revoked"
	case errors.Is(err, errWrongTokenKind):
		return "wrong_kind"
	default:
		return "invalid"
	}
}
