package schedule

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ppiankov/newsdigest/internal/app"
	"github.com/ppiankov/newsdigest/internal/model"
	"github.com/ppiankov/newsdigest/internal/pipeline"
	"github.com/rs/zerolog"
)

type countingRunner struct {
	calls   atomic.Int32
	block   chan struct{}
	started chan struct{}
	err     error
}

func (r *countingRunner) RunOnce(ctx context.Context) (*app.Outcome, error) {
	r.calls.Add(1)
	if r.started != nil {
		select {
		case r.started <- struct{}{}:
		default:
		}
	}
	if r.block != nil {
		<-r.block
	}
	if r.err != nil {
		return nil, r.err
	}
	run := model.NewPipelineRun("r1", time.Now())
	run.Advance(model.StateDone)
	return &app.Outcome{Result: &pipeline.Result{Run: run}}, nil
}

func TestNew_InvalidSpec(t *testing.T) {
	if _, err := New("every morning", &countingRunner{}, zerolog.Nop(), false); err == nil {
		t.Error("expected parse error")
	}
}

func TestNew_NextActivation(t *testing.T) {
	s, err := New("0 7 * * *", &countingRunner{}, zerolog.Nop(), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.Next().IsZero() {
		t.Error("next is unknown before the scheduler starts")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)

	next := s.Next()
	if next.Hour() != 7 || next.Minute() != 0 || !next.After(time.Now()) {
		t.Errorf("unexpected next activation %v", next)
	}
	cancel()
	<-done
}

func TestRun_RunOnStartAndSkipOverlap(t *testing.T) {
	runner := &countingRunner{block: make(chan struct{}), started: make(chan struct{}, 1)}
	s, err := New("@every 1h", runner, zerolog.Nop(), true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()

	select {
	case <-runner.started:
	case <-time.After(2 * time.Second):
		t.Fatal("startup run did not begin")
	}

	// a tick during the startup run is skipped
	s.cron.Entry(s.entry).WrappedJob.Run()
	if got := runner.calls.Load(); got != 1 {
		t.Errorf("expected overlapping tick to be skipped, got %d calls", got)
	}

	close(runner.block)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestTick_LogsFailure(t *testing.T) {
	var buf bytes.Buffer
	runner := &countingRunner{err: errors.New("model auth")}
	s, err := New("@daily", runner, zerolog.New(&buf), false)
	if err != nil {
		t.Fatal(err)
	}
	s.tick()
	if runner.calls.Load() != 1 || !strings.Contains(buf.String(), "scheduled run failed") {
		t.Errorf("expected logged failure, got %q", buf.String())
	}
}
