// Package app assembles a runnable digest pipeline from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ppiankov/newsdigest/internal/cache"
	"github.com/ppiankov/newsdigest/internal/delivery"
	"github.com/ppiankov/newsdigest/internal/llm"
	"github.com/ppiankov/newsdigest/internal/model"
	"github.com/ppiankov/newsdigest/internal/pipeline"
	"github.com/ppiankov/newsdigest/internal/source"
	"github.com/rs/zerolog"
)

// ErrDelivery wraps sink failures after a successful run
var ErrDelivery = errors.New("digest delivery failed")

// Deps are the collaborators App needs. New builds them from config.
type Deps struct {
	Source    source.Source
	Model     pipeline.ModelClient
	Deliverer delivery.Deliverer
	Closers   []io.Closer
}

// App runs the pipeline and delivers its digest
type App struct {
	cfg       *model.Config
	pipeline  *pipeline.Pipeline
	deliverer delivery.Deliverer
	closers   []io.Closer
	logger    zerolog.Logger
	now       func() time.Time
	last      atomic.Pointer[model.PipelineRun]
}

// Outcome is what one RunOnce produced
type Outcome struct {
	Result *pipeline.Result
	Digest *delivery.Digest
}

// New builds every collaborator from cfg
func New(ctx context.Context, cfg *model.Config, logger zerolog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	var deps Deps
	closeAll := func() {
		for _, c := range deps.Closers {
			_ = c.Close()
		}
	}

	provider, err := llm.NewProvider(llm.ApplyEnvKeys(llm.ConfigFromModel(cfg.LLM)))
	if err != nil {
		return nil, err
	}

	opts := []llm.ClientOption{llm.WithLogger(logger)}
	responseCache, err := cache.New(cfg.Cache)
	if err != nil {
		return nil, err
	}
	if responseCache != nil {
		opts = append(opts, llm.WithCache(responseCache))
		if closer, ok := responseCache.(io.Closer); ok {
			deps.Closers = append(deps.Closers, closer)
		}
	}
	deps.Model = llm.NewClient(provider, llm.ClientConfigFromModel(cfg), opts...)

	deps.Source, err = newSource(cfg.Sources, logger)
	if err != nil {
		closeAll()
		return nil, err
	}

	deps.Deliverer, err = newDeliverer(ctx, cfg.Delivery, &deps)
	if err != nil {
		closeAll()
		return nil, err
	}

	logger.Info().
		Str("provider", provider.Name()).
		Str("model", cfg.LLM.Model).
		Str("source", cfg.Sources.Kind).
		Int("accounts", len(cfg.Sources.Accounts)).
		Str("delivery", deps.Deliverer.Name()).
		Msg("pipeline assembled")

	return NewWithDeps(cfg, deps, logger), nil
}

// NewWithDeps assembles the pipeline around caller-provided collaborators
func NewWithDeps(cfg *model.Config, deps Deps, logger zerolog.Logger) *App {
	workers := cfg.Concurrency.Workers

	accounts := make([]string, 0, len(cfg.Sources.Accounts))
	for _, acct := range cfg.Sources.Accounts {
		accounts = append(accounts, acct.Name)
	}

	p := pipeline.New(pipeline.Options{
		Fetcher: pipeline.NewFetcher(deps.Source, accounts, cfg.Sources.Window,
			cfg.Sources.ExcludedSenders, cfg.Concurrency.FetchWorkers, logger),
		Classifier: pipeline.NewClassifier(deps.Model, pipeline.ClassifierOptions{
			Threshold:    cfg.Classification.ConfidenceThreshold,
			MaxBodyChars: cfg.Classification.MaxBodyChars,
			Workers:      workers,
		}, logger),
		Extractor: pipeline.NewExtractor(deps.Model, pipeline.ExtractorOptions{
			MaxStoriesPerItem: cfg.Extraction.MaxStoriesPerItem,
			MaxBodyChars:      cfg.Classification.MaxBodyChars,
			Workers:           workers,
			FallbackOnError:   cfg.Extraction.FallbackOnError,
		}, logger),
		Deduplicator: pipeline.NewDeduplicator(pipeline.NewLLMGrouper(deps.Model), pipeline.DedupOptions{
			BatchSize:      cfg.Dedup.BatchSize,
			MaxMergePasses: cfg.Dedup.MaxMergePasses,
			Workers:        workers,
		}, logger),
		Categorizer: pipeline.Categorizer{
			MaxPerCategory:  cfg.Digest.MaxPerCategory,
			CrossList:       cfg.Digest.CrossList,
			KeywordFallback: cfg.Digest.KeywordFallback,
		},
		Timeout: cfg.Run.Timeout,
		Logger:  logger,
	})

	deliverer := deps.Deliverer
	if deliverer == nil {
		deliverer = delivery.Multi{}
	}
	return &App{
		cfg:       cfg,
		pipeline:  p,
		deliverer: deliverer,
		closers:   deps.Closers,
		logger:    logger,
		now:       time.Now,
	}
}

// RunOnce executes one pipeline run and delivers the digest. A failed run is
// not delivered. The Outcome is non-nil whenever the pipeline started.
func (a *App) RunOnce(ctx context.Context) (*Outcome, error) {
	result, err := a.pipeline.Run(ctx)
	if result != nil {
		a.last.Store(result.Run)
	}
	if err != nil {
		return &Outcome{Result: result}, err
	}

	digest := delivery.NewDigest(result, a.now())
	out := &Outcome{Result: result, Digest: digest}

	if derr := a.deliverer.Deliver(ctx, digest); derr != nil {
		a.logger.Error().Err(derr).Str("run_id", result.Run.ID).Msg("digest delivery failed")
		return out, fmt.Errorf("%w: %w", ErrDelivery, derr)
	}
	a.logger.Info().
		Str("run_id", result.Run.ID).
		Str("sink", a.deliverer.Name()).
		Int("stories", digest.Metrics.TotalStories).
		Msg("digest delivered")
	return out, nil
}

// LastRun returns the summary of the most recent run, or nil
func (a *App) LastRun() *model.PipelineRun {
	return a.last.Load()
}

// Close releases connections held by caches and sinks
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func newSource(cfg model.SourcesConfig, logger zerolog.Logger) (source.Source, error) {
	switch strings.ToLower(cfg.Kind) {
	case "", "dir":
		return source.NewDirSource(cfg.Dir, logger), nil
	case "gmail":
		var opts []source.GmailOption
		if cfg.MaxMessages > 0 {
			opts = append(opts, source.WithMaxMessages(cfg.MaxMessages))
		}
		return source.NewGmailSource(cfg.CredentialsFile, cfg.Accounts, logger, opts...)
	default:
		return nil, fmt.Errorf("unknown source kind: %s (supported: dir, gmail)", cfg.Kind)
	}
}

func newDeliverer(ctx context.Context, cfg model.DeliveryConfig, deps *Deps) (delivery.Deliverer, error) {
	var sinks delivery.Multi
	if cfg.OutputDir != "" {
		sinks = append(sinks, delivery.NewFileDeliverer(cfg.OutputDir))
	}
	if cfg.S3Bucket != "" {
		s3Sink, err := delivery.NewS3Deliverer(ctx, cfg.S3Bucket, cfg.S3Prefix, cfg.S3Region)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s3Sink)
	}
	if len(cfg.KafkaBrokers) > 0 {
		topic := cfg.KafkaTopic
		if topic == "" {
			topic = "newsdigest.digests"
		}
		kafkaSink, err := delivery.NewKafkaDeliverer(cfg.KafkaBrokers, topic)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, kafkaSink)
		deps.Closers = append(deps.Closers, kafkaSink)
	}
	return sinks, nil
}
