package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// ErrorKind classifies a model call failure
type ErrorKind int

const (
	KindUnavailable ErrorKind = iota // 5xx, connection failures
	KindTimeout                      // Per-call deadline hit
	KindRateLimited                  // 429 with room to retry
	KindInvalid                      // Output rejected, or request refused as malformed
	KindAuth                         // Credentials rejected
	KindQuota                        // Quota exhausted with no retry-after
)

func (k ErrorKind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindRateLimited:
		return "rate_limited"
	case KindInvalid:
		return "invalid"
	case KindAuth:
		return "auth"
	case KindQuota:
		return "quota"
	default:
		return "unavailable"
	}
}

// ErrSchemaViolation marks output that does not match the expected schema
var ErrSchemaViolation = errors.New("response does not match schema")

// ModelError is the error type returned by providers and the Client
type ModelError struct {
	Kind       ErrorKind
	Provider   string
	StatusCode int           // HTTP status when known
	RetryAfter time.Duration // Provider hint, zero when absent
	Err        error
}

func (e *ModelError) Error() string {
	var b strings.Builder
	b.WriteString("model ")
	b.WriteString(e.Kind.String())
	if e.Provider != "" {
		b.WriteString(" (")
		b.WriteString(e.Provider)
		if e.StatusCode != 0 {
			b.WriteString(" ")
			b.WriteString(strconv.Itoa(e.StatusCode))
		}
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ModelError) Unwrap() error {
	return e.Err
}

// Transient reports whether the failure may succeed on retry
func (e *ModelError) Transient() bool {
	switch e.Kind {
	case KindTimeout, KindRateLimited, KindUnavailable:
		return true
	default:
		return false
	}
}

// KindOf extracts the ErrorKind of err, if it carries one
func KindOf(err error) (ErrorKind, bool) {
	var me *ModelError
	if errors.As(err, &me) {
		return me.Kind, true
	}
	return 0, false
}

// IsTransient reports whether err is a retry-eligible model failure
func IsTransient(err error) bool {
	var me *ModelError
	return errors.As(err, &me) && me.Transient()
}

// IsPermanent reports whether err is a model failure that must not be retried
func IsPermanent(err error) bool {
	var me *ModelError
	return errors.As(err, &me) && !me.Transient()
}

// IsAuth reports whether err is a credentials failure
func IsAuth(err error) bool {
	kind, ok := KindOf(err)
	return ok && kind == KindAuth
}

// newStatusError maps an HTTP status and body to a ModelError
func newStatusError(provider string, status int, header http.Header, body string) *ModelError {
	retryAfter := parseRetryAfter(header)
	kind := KindInvalid
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = KindAuth
	case status == http.StatusTooManyRequests:
		kind = KindRateLimited
		if retryAfter == 0 && looksLikeQuota(body) {
			kind = KindQuota
		}
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		kind = KindTimeout
	case status >= 500:
		kind = KindUnavailable
	}
	return &ModelError{
		Kind:       kind,
		Provider:   provider,
		StatusCode: status,
		RetryAfter: retryAfter,
		Err:        fmt.Errorf("%s", truncate(body, 300)),
	}
}

// newTransportError maps a failed round trip to a ModelError
func newTransportError(provider string, err error) *ModelError {
	kind := KindUnavailable
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = KindTimeout
	}
	return &ModelError{Kind: kind, Provider: provider, Err: err}
}

func looksLikeQuota(body string) bool {
	lower := strings.ToLower(body)
	return strings.Contains(lower, "quota") || strings.Contains(lower, "insufficient_quota") ||
		strings.Contains(lower, "billing")
}

func parseRetryAfter(header http.Header) time.Duration {
	if header == nil {
		return 0
	}
	v := strings.TrimSpace(header.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
