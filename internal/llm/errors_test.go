package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func TestNewStatusError(t *testing.T) {
	tests := []struct {
		status    int
		header    http.Header
		body      string
		want      ErrorKind
		transient bool
	}{
		{http.StatusUnauthorized, nil, "bad key", KindAuth, false},
		{http.StatusForbidden, nil, "", KindAuth, false},
		{http.StatusTooManyRequests, nil, "slow down", KindRateLimited, true},
		{http.StatusTooManyRequests, nil, "insufficient_quota", KindQuota, false},
		{http.StatusTooManyRequests, http.Header{"Retry-After": {"30"}}, "quota", KindRateLimited, true},
		{http.StatusGatewayTimeout, nil, "", KindTimeout, true},
		{http.StatusServiceUnavailable, nil, "", KindUnavailable, true},
		{http.StatusBadRequest, nil, "malformed", KindInvalid, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d %s", tt.status, tt.body), func(t *testing.T) {
			err := newStatusError("p", tt.status, tt.header, tt.body)
			if err.Kind != tt.want {
				t.Errorf("kind = %s, want %s", err.Kind, tt.want)
			}
			if err.Transient() != tt.transient {
				t.Errorf("transient = %v, want %v", err.Transient(), tt.transient)
			}
		})
	}
}

func TestNewTransportError(t *testing.T) {
	if err := newTransportError("p", context.DeadlineExceeded); err.Kind != KindTimeout {
		t.Errorf("deadline should map to timeout, got %s", err.Kind)
	}
	if err := newTransportError("p", errors.New("connection refused")); err.Kind != KindUnavailable {
		t.Errorf("connection failure should map to unavailable, got %s", err.Kind)
	}
}

func TestParseRetryAfter(t *testing.T) {
	if got := parseRetryAfter(http.Header{"Retry-After": {"12"}}); got != 12*time.Second {
		t.Errorf("got %v", got)
	}
	future := time.Now().Add(time.Minute).UTC().Format(http.TimeFormat)
	if got := parseRetryAfter(http.Header{"Retry-After": {future}}); got <= 0 || got > time.Minute {
		t.Errorf("http date: got %v", got)
	}
	if got := parseRetryAfter(http.Header{"Retry-After": {"soon"}}); got != 0 {
		t.Errorf("garbage: got %v", got)
	}
}

func TestModelError_Chain(t *testing.T) {
	inner := errors.New("boom")
	err := fmt.Errorf("wrapped: %w", &ModelError{Kind: KindAuth, Provider: "openai", StatusCode: 401, Err: inner})

	if !IsAuth(err) || !IsPermanent(err) || IsTransient(err) {
		t.Error("unexpected classification")
	}
	if !errors.Is(err, inner) {
		t.Error("inner error lost")
	}
	if !strings.Contains(err.Error(), "model auth (openai 401): boom") {
		t.Errorf("unexpected message %q", err.Error())
	}
	if _, ok := KindOf(errors.New("plain")); ok {
		t.Error("plain errors carry no kind")
	}
}

func TestTruncate_KeepsRunesWhole(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"  padded  ", 6, "padded"},
		{"abcdef", 3, "abc..."},
		{"квота", 3, "к..."},
		{"日本語", 4, "日..."},
	}
	for _, tt := range tests {
		got := truncate(tt.in, tt.n)
		if got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("truncate(%q, %d) produced invalid UTF-8", tt.in, tt.n)
		}
	}
}
