package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/ppiankov/newsdigest/internal/llm"
	"github.com/ppiankov/newsdigest/internal/model"
)

var (
	// ErrNoData means no account produced any message
	ErrNoData = errors.New("no data available: every account failed or none configured")

	// ErrModelAuth means the model backend rejected our credentials
	ErrModelAuth = errors.New("model authentication failed")

	// ErrDeadlineExceeded marks work skipped because the run deadline passed
	ErrDeadlineExceeded = errors.New("run deadline exceeded")
)

// Failure kinds that do not come from the model client or a source
const (
	KindDeadline  = "deadline"
	KindCancelled = "cancelled"
	KindError     = "error"
)

// RunError is a run-level failure carrying the last state reached
type RunError struct {
	State model.RunState
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("pipeline failed while %s: %v", e.State, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// ModelClient is the structured generation call every stage depends on.
// *llm.Client satisfies it.
type ModelClient interface {
	Generate(ctx context.Context, call llm.Call, out any) (*llm.CallStats, error)
}

// StageReport is what a stage hands back besides its output
type StageReport struct {
	Stats    model.StageStats
	Failures []model.Failure
}

func (r *StageReport) addCall(stats *llm.CallStats) {
	if stats == nil {
		return
	}
	reprompts, hits := 0, 0
	if stats.Reprompted {
		reprompts = 1
	}
	if stats.Cached {
		hits = 1
	}
	r.Stats.Add(1, stats.Retries, reprompts, hits)
}

// failureKind labels an absorbed error for the run summary
func failureKind(err error) string {
	if kind, ok := llm.KindOf(err); ok {
		return kind.String()
	}
	var ke interface{ FailureKind() string }
	if errors.As(err, &ke) {
		return ke.FailureKind()
	}
	switch {
	case errors.Is(err, ErrDeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return KindDeadline
	case errors.Is(err, context.Canceled):
		return KindCancelled
	}
	return KindError
}

// skipped reports whether the stage should stop scheduling new items
func skipped(ctx context.Context) error {
	switch err := ctx.Err(); {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return ErrDeadlineExceeded
	default:
		return err
	}
}
