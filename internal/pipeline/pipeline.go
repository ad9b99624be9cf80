package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ppiankov/newsdigest/internal/model"
	"github.com/rs/zerolog"
)

// Options wires the stages of a Pipeline
type Options struct {
	Fetcher      *Fetcher
	Classifier   *Classifier
	Extractor    *Extractor
	Deduplicator *Deduplicator
	Categorizer  Categorizer
	Timeout      time.Duration // Whole-run deadline, 0 disables
	Logger       zerolog.Logger
	Now          func() time.Time
	NewID        func() string
}

// Pipeline sequences fetch, classification, extraction, deduplication and
// categorization. It holds no per-run state, so concurrent Run calls are
// independent.
type Pipeline struct {
	fetcher     *Fetcher
	classifier  *Classifier
	extractor   *Extractor
	dedup       *Deduplicator
	categorizer Categorizer
	timeout     time.Duration
	logger      zerolog.Logger
	now         func() time.Time
	newID       func() string
}

// New creates a Pipeline
func New(opts Options) *Pipeline {
	p := &Pipeline{
		fetcher:     opts.Fetcher,
		classifier:  opts.Classifier,
		extractor:   opts.Extractor,
		dedup:       opts.Deduplicator,
		categorizer: opts.Categorizer,
		timeout:     opts.Timeout,
		logger:      opts.Logger,
		now:         opts.Now,
		newID:       opts.NewID,
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.newID == nil {
		p.newID = uuid.NewString
	}
	return p
}

// Result is the output of one run
type Result struct {
	Clusters []model.StoryCluster    `json:"clusters"`
	Sections []model.CategorySection `json:"sections"`
	Run      *model.PipelineRun      `json:"run"`
}

// Run executes one pipeline invocation. On a run-level failure it returns
// the partial Result, whose Run summary is in the Failed state, together with
// a *RunError naming the state that was reached.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	run := model.NewPipelineRun(p.newID(), p.now())
	result := &Result{Run: run}
	logger := p.logger.With().Str("run_id", run.ID).Logger()

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	fail := func(err error) (*Result, error) {
		state := run.State
		run.Error = err.Error()
		run.Advance(model.StateFailed)
		run.FinishedAt = p.now()
		logger.Error().Err(err).Str("state", string(state)).Msg("run failed")
		return result, &RunError{State: state, Err: err}
	}
	record := func(r StageReport) {
		run.RecordStage(r.Stats)
		run.RecordFailures(r.Failures...)
	}

	logger.Info().Msg("run started")

	// 1. Fetch
	accounts := len(p.fetcher.accounts)
	run.Counts.Accounts = accounts
	if accounts == 0 {
		return fail(fmt.Errorf("%w: no accounts configured", ErrNoData))
	}
	fetched, report := p.fetcher.Fetch(ctx)
	record(report)
	run.Counts.Fetched = len(fetched.Messages) + fetched.Excluded
	run.Counts.Excluded = fetched.Excluded
	if err := cancelled(ctx); err != nil {
		return fail(err)
	}
	if fetched.Succeeded == 0 {
		return fail(fmt.Errorf("%w: all %d accounts failed", ErrNoData, accounts))
	}

	// 2. Classify
	run.Advance(model.StateClassifying)
	items, report, err := p.classifier.Classify(ctx, fetched.Messages)
	record(report)
	if err != nil {
		return fail(err)
	}
	if err := cancelled(ctx); err != nil {
		return fail(err)
	}
	run.Counts.Classified = len(items)
	newsworthy := make([]model.ClassifiedItem, 0, len(items))
	for _, item := range items {
		if item.IsNewsworthy {
			newsworthy = append(newsworthy, item)
		}
	}
	run.Counts.Newsworthy = len(newsworthy)

	// 3. Extract
	run.Advance(model.StateExtracting)
	cands, report, err := p.extractor.Extract(ctx, newsworthy)
	record(report)
	if err != nil {
		return fail(err)
	}
	if err := cancelled(ctx); err != nil {
		return fail(err)
	}
	run.Counts.Candidates = len(cands)

	// 4. Deduplicate
	run.Advance(model.StateDeduplicating)
	clusters, report := p.dedup.Deduplicate(ctx, cands)
	record(report)
	if err := cancelled(ctx); err != nil {
		return fail(err)
	}
	run.Counts.Clusters = len(clusters)

	// 5. Categorize
	result.Clusters = clusters
	result.Sections = p.categorizer.Categorize(clusters)

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		run.DeadlineExceeded = true
	}
	run.Advance(model.StateDone)
	run.FinishedAt = p.now()

	totals := run.Totals()
	logger.Info().
		Str("status", run.Status()).
		Int("fetched", run.Counts.Fetched).
		Int("newsworthy", run.Counts.Newsworthy).
		Int("candidates", run.Counts.Candidates).
		Int("clusters", run.Counts.Clusters).
		Int("failures", len(run.Failures)).
		Int("model_calls", totals.ModelCalls).
		Int("retries", totals.Retries).
		Bool("deadline_exceeded", run.DeadlineExceeded).
		Dur("duration", run.Duration()).
		Msg("run finished")

	return result, nil
}

// cancelled returns the context error when the caller gave up on the run.
// An expired deadline is not a cancellation; it yields a partial result.
func cancelled(ctx context.Context) error {
	if err := ctx.Err(); errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
