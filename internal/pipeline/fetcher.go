package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/ppiankov/newsdigest/internal/model"
	"github.com/ppiankov/newsdigest/internal/source"
	"github.com/ppiankov/newsdigest/internal/worker"
	"github.com/rs/zerolog"
)

// Fetcher pulls recent messages for every account from one Source
type Fetcher struct {
	source          source.Source
	accounts        []string
	window          time.Duration
	excludedSenders []string
	workers         int
	logger          zerolog.Logger
}

// NewFetcher creates a Fetcher. Excluded senders match case-insensitively
// anywhere in the From header.
func NewFetcher(src source.Source, accounts []string, window time.Duration, excludedSenders []string, workers int, logger zerolog.Logger) *Fetcher {
	if workers <= 0 {
		workers = 1
	}
	excluded := make([]string, 0, len(excludedSenders))
	for _, s := range excludedSenders {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			excluded = append(excluded, s)
		}
	}
	return &Fetcher{
		source:          src,
		accounts:        accounts,
		window:          window,
		excludedSenders: excluded,
		workers:         workers,
		logger:          logger,
	}
}

// FetchResult is the merged output of one fetch fan-out
type FetchResult struct {
	Messages  []model.Message // Canonical order, excluded senders removed
	Excluded  int
	Succeeded int // Accounts that answered
}

// Fetch asks every account concurrently. A failing account is reported and
// the others continue.
func (f *Fetcher) Fetch(ctx context.Context) (*FetchResult, StageReport) {
	start := time.Now()
	report := StageReport{Stats: model.StageStats{Stage: model.StageFetch, Input: len(f.accounts)}}

	perAccount := make([][]model.Message, len(f.accounts))
	errs := worker.RunIndexed(ctx, f.workers, len(f.accounts), func(ctx context.Context, i int) error {
		msgs, err := f.source.FetchRecent(ctx, f.accounts[i], f.window)
		perAccount[i] = msgs
		return err
	})

	result := &FetchResult{}
	for i, err := range errs {
		account := f.accounts[i]
		if err != nil {
			report.Failures = append(report.Failures, model.Failure{
				Stage:   model.StageFetch,
				Account: account,
				Kind:    failureKind(err),
				Error:   err.Error(),
			})
			f.logger.Warn().Err(err).Str("account", account).Msg("account fetch failed")
			continue
		}
		result.Succeeded++
		for _, msg := range perAccount[i] {
			if f.isExcluded(msg.Sender) {
				result.Excluded++
				continue
			}
			result.Messages = append(result.Messages, msg)
		}
		f.logger.Info().Str("account", account).Int("messages", len(perAccount[i])).Msg("account fetched")
	}
	model.SortMessages(result.Messages)

	report.Stats.Output = len(result.Messages)
	report.Stats.Failed = len(report.Failures)
	report.Stats.Duration = time.Since(start)
	return result, report
}

func (f *Fetcher) isExcluded(sender string) bool {
	lower := strings.ToLower(sender)
	for _, ex := range f.excludedSenders {
		if strings.Contains(lower, ex) {
			return true
		}
	}
	return false
}
