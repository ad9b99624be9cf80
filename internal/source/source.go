// Package source fetches recent email messages per account.
package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ppiankov/newsdigest/internal/model"
)

// Source supplies the messages one account received within a window
type Source interface {
	FetchRecent(ctx context.Context, account string, window time.Duration) ([]model.Message, error)
}

// ErrorKind classifies a per-account failure
type ErrorKind string

const (
	AuthExpired ErrorKind = "auth_expired"
	Unavailable ErrorKind = "unavailable"
)

// AccountError is a failure scoped to one account
type AccountError struct {
	Account string
	Kind    ErrorKind
	Err     error
}

func (e *AccountError) Error() string {
	return fmt.Sprintf("account %s: %s: %v", e.Account, e.Kind, e.Err)
}

func (e *AccountError) Unwrap() error {
	return e.Err
}

// FailureKind labels the error in run summaries
func (e *AccountError) FailureKind() string {
	return string(e.Kind)
}

// IsAuthExpired reports whether err is an account credentials failure
func IsAuthExpired(err error) bool {
	var ae *AccountError
	return errors.As(err, &ae) && ae.Kind == AuthExpired
}

func unavailable(account string, err error) *AccountError {
	return &AccountError{Account: account, Kind: Unavailable, Err: err}
}

// within reports whether t is no older than window at now
func within(t, now time.Time, window time.Duration) bool {
	return !t.Before(now.Add(-window))
}
