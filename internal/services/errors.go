package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

var (
	ErrNetwork     = errors.New("network error")
	ErrTimeout     = errors.New("timeout")
	ErrRateLimited = errors.New("rate limited")
	ErrAuth        = errors.New("authentication error")
	ErrUpstream    = errors.New("upstream server error")
	ErrLocalIO     = errors.New("local io error")
)

// Kind is the classification attached to capability failures. The retry
// policy and the failure queue both key on it.
type Kind string

const (
	KindNetwork   Kind = "network"
	KindTimeout   Kind = "timeout"
	KindRateLimit Kind = "rate_limit"
	KindAuth      Kind = "authentication"
	KindServer    Kind = "server_error"
	KindLocalIO   Kind = "local_io"
	KindUnknown   Kind = "unknown"
)

// Kinds lists every classification in a stable order.
func Kinds() []Kind {
	return []Kind{KindNetwork, KindTimeout, KindRateLimit, KindAuth, KindServer, KindLocalIO, KindUnknown}
}

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above; nil leaves the error unclassified.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		if err != nil {
			return fmt.Errorf("%s: %w", detail, err)
		}
		return errors.New(detail)
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// KindOf maps an error to its classification. Unmarked errors classify as
// unknown; context deadline expiry counts as a timeout even when the
// capability forgot to mark it.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrAuth):
		return KindAuth
	case errors.Is(err, ErrRateLimited):
		return KindRateLimit
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrUpstream):
		return KindServer
	case errors.Is(err, ErrNetwork):
		return KindNetwork
	case errors.Is(err, ErrLocalIO):
		return KindLocalIO
	default:
		return KindUnknown
	}
}

// Marker returns the sentinel corresponding to a classification, or nil for
// unknown. Useful when rebuilding classified errors from persisted kinds.
func Marker(kind Kind) error {
	switch kind {
	case KindNetwork:
		return ErrNetwork
	case KindTimeout:
		return ErrTimeout
	case KindRateLimit:
		return ErrRateLimited
	case KindAuth:
		return ErrAuth
	case KindServer:
		return ErrUpstream
	case KindLocalIO:
		return ErrLocalIO
	default:
		return nil
	}
}

// BackoffError carries a server-advertised wait, typically parsed from a
// Retry-After header. Wrap it under a rate-limit marker so the retry loop
// can honor the hint instead of its static schedule.
type BackoffError struct {
	After time.Duration
}

func (e *BackoffError) Error() string {
	return fmt.Sprintf("retry after %s", e.After)
}

// RetryAfter extracts a server-advertised backoff from an error chain.
func RetryAfter(err error) (time.Duration, bool) {
	var backoff *BackoffError
	if errors.As(err, &backoff) && backoff.After > 0 {
		return backoff.After, true
	}
	return 0, false
}

// ParseRetryAfter reads a Retry-After header value, either delta
// seconds or an HTTP date. Unparseable or elapsed values yield zero.
func ParseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if wait := time.Until(at); wait > 0 {
			return wait
		}
	}
	return 0
}

// ParseKind normalizes a stored kind string, defaulting to unknown.
func ParseKind(value string) Kind {
	candidate := Kind(strings.ToLower(strings.TrimSpace(value)))
	for _, kind := range Kinds() {
		if candidate == kind {
			return kind
		}
	}
	return KindUnknown
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
