// Package schedule runs the pipeline on a cron schedule.
package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ppiankov/newsdigest/internal/app"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Runner is the part of app.App the scheduler drives
type Runner interface {
	RunOnce(ctx context.Context) (*app.Outcome, error)
}

// Scheduler triggers one run per cron tick. A tick that fires while the
// previous run is still going is skipped.
type Scheduler struct {
	cron    *cron.Cron
	entry   cron.EntryID
	runner  Runner
	logger  zerolog.Logger
	spec    string
	ctx     context.Context
	onStart bool
}

// New parses spec (standard five-field cron or a descriptor such as @daily)
func New(spec string, runner Runner, logger zerolog.Logger, runOnStart bool) (*Scheduler, error) {
	cl := cronLogger{logger: logger}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		runner:  runner,
		logger:  logger,
		spec:    spec,
		ctx:     context.Background(),
		onStart: runOnStart,
	}

	id, err := s.cron.AddFunc(spec, s.tick)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	s.entry = id
	return s, nil
}

// Run blocks until ctx is cancelled, then waits for a running job to finish
func (s *Scheduler) Run(ctx context.Context) error {
	s.ctx = ctx
	s.cron.Start()
	s.logger.Info().Str("schedule", s.spec).Time("next", s.Next()).Msg("scheduler started")

	var startup sync.WaitGroup
	if s.onStart {
		// through the job wrapper so a tick can't overlap it
		startup.Add(1)
		go func() {
			defer startup.Done()
			s.cron.Entry(s.entry).WrappedJob.Run()
		}()
	}

	<-ctx.Done()
	stopped := s.cron.Stop()
	<-stopped.Done()
	startup.Wait()
	s.logger.Info().Msg("scheduler stopped")
	return nil
}

// Next returns the next activation time
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

func (s *Scheduler) tick() {
	if s.ctx.Err() != nil {
		return
	}
	s.logger.Info().Msg("scheduled run starting")
	out, err := s.runner.RunOnce(s.ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("scheduled run failed")
		return
	}
	run := out.Result.Run
	s.logger.Info().
		Str("run_id", run.ID).
		Str("status", run.Status()).
		Dur("duration", run.Duration()).
		Time("next", s.Next()).
		Msg("scheduled run finished")
}

// cronLogger adapts zerolog to cron.Logger
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
