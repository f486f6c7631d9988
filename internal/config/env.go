package config

import (
	"strconv"
	"strings"
	"time"
)

// envReader remembers the first malformed value so Load can report it
// instead of silently falling back.
type envReader struct {
	lookup func(string) string
	err    error
}

func (r *envReader) raw(name string) string {
	return strings.TrimSpace(r.lookup(name))
}

func (r *envReader) fail(name, reason string) {
	if r.err == nil {
		r.err = &ConfigurationError{Field: name, Reason: reason}
	}
}

func (r *envReader) stringOr(name, fallback string) string {
	value := r.raw(name)
	if value == "" {
		return fallback
	}
	return value
}

func (r *envReader) intOr(name string, fallback int) int {
	value := r.raw(name)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		r.fail(name, "must be a positive integer")
		return fallback
	}
	return parsed
}

func (r *envReader) boolOr(name string, fallback bool) bool {
	value := strings.ToLower(r.raw(name))
	if value == "" {
		return fallback
	}

	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		r.fail(name, "must be a boolean")
		return fallback
	}
}

func (r *envReader) secondsOr(name string, fallback int) time.Duration {
	return time.Duration(r.intOr(name, fallback)) * time.Second
}

func (r *envReader) minutesOr(name string, fallback int) time.Duration {
	return time.Duration(r.intOr(name, fallback)) * time.Minute
}

func (r *envReader) hoursOr(name string, fallback int) time.Duration {
	return time.Duration(r.intOr(name, fallback)) * time.Hour
}

func (r *envReader) daysOr(name string, fallback int) time.Duration {
	return time.Duration(r.intOr(name, fallback)) * 24 * time.Hour
}
