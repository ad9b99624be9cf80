package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ppiankov/newsdigest/internal/llm"
	"github.com/ppiankov/newsdigest/internal/model"
	"github.com/ppiankov/newsdigest/internal/worker"
	"github.com/rs/zerolog"
)

const fallbackSummaryChars = 280

// ExtractorOptions tunes the extraction stage
type ExtractorOptions struct {
	MaxStoriesPerItem int  // Extra stories beyond this are dropped, 0 means no limit
	MaxBodyChars      int  // Body truncation limit, 0 disables
	Workers           int  // Concurrent items
	FallbackOnError   bool // Emit a low-confidence candidate for items whose call failed
}

// Extractor splits newsworthy items into story candidates
type Extractor struct {
	client ModelClient
	opts   ExtractorOptions
	logger zerolog.Logger
}

// NewExtractor creates an extraction stage
func NewExtractor(client ModelClient, opts ExtractorOptions, logger zerolog.Logger) *Extractor {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Extractor{client: client, opts: opts, logger: logger}
}

type extractionResponse struct {
	Stories []extractedStory `json:"stories"`
}

type extractedStory struct {
	Title               string   `json:"title"`
	Summary             string   `json:"summary"`
	KeyPoints           []string `json:"key_points"`
	SourceURLs          []string `json:"source_urls"`
	PrimaryCategory     string   `json:"primary_category"`
	SecondaryCategories []string `json:"secondary_categories"`
	Confidence          float64  `json:"confidence"`
}

// Extract returns candidates in item order, then story order within an item.
// Items not marked newsworthy are ignored. An item with no story yields no
// candidate and is not a failure. The returned error is non-nil only when the
// model rejected our credentials.
func (e *Extractor) Extract(ctx context.Context, items []model.ClassifiedItem) ([]model.StoryCandidate, StageReport, error) {
	start := time.Now()

	eligible := make([]model.ClassifiedItem, 0, len(items))
	for _, item := range items {
		if item.IsNewsworthy {
			eligible = append(eligible, item)
		}
	}
	report := StageReport{Stats: model.StageStats{Stage: model.StageExtract, Input: len(eligible)}}

	stageCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([][]model.StoryCandidate, len(eligible))
	calls := make([]*llm.CallStats, len(eligible))
	var authOnce sync.Once
	var authErr error

	errs := worker.RunIndexed(stageCtx, e.opts.Workers, len(eligible), func(ctx context.Context, i int) error {
		cands, stats, err := e.extractOne(ctx, eligible[i])
		calls[i] = stats
		if err != nil && llm.IsAuth(err) {
			authOnce.Do(func() {
				authErr = err
				cancel()
			})
		}
		results[i] = cands
		return err
	})

	var out []model.StoryCandidate
	for i, err := range errs {
		report.addCall(calls[i])
		if err != nil {
			msg := eligible[i].Message
			report.Failures = append(report.Failures, model.Failure{
				Stage:   model.StageExtract,
				Account: msg.Account,
				ItemID:  msg.ID,
				Kind:    failureKind(err),
				Error:   err.Error(),
			})
			if e.opts.FallbackOnError && authErr == nil && !stopped(err) {
				out = append(out, fallbackCandidate(eligible[i]))
			}
			continue
		}
		out = append(out, results[i]...)
	}

	report.Stats.Output = len(out)
	report.Stats.Failed = len(report.Failures)
	report.Stats.Duration = time.Since(start)

	e.logger.Info().
		Str("stage", model.StageExtract).
		Int("input", report.Stats.Input).
		Int("candidates", len(out)).
		Int("failed", report.Stats.Failed).
		Dur("duration", report.Stats.Duration).
		Msg("stage finished")

	if authErr != nil {
		return out, report, fmt.Errorf("%w: %w", ErrModelAuth, authErr)
	}
	return out, report, nil
}

func (e *Extractor) extractOne(ctx context.Context, item model.ClassifiedItem) ([]model.StoryCandidate, *llm.CallStats, error) {
	var resp extractionResponse
	stats, err := e.client.Generate(ctx, llm.Call{
		Name:   model.StageExtract,
		ItemID: item.Message.ID,
		System: extractInstruction(item.PrimaryCategory()),
		Prompt: extractPrompt(item, e.opts.MaxBodyChars),
		Schema: extractionSchema,
	}, &resp)
	if err != nil {
		return nil, stats, fmt.Errorf("extract %s: %w", item.Message.ID, err)
	}

	stories := resp.Stories
	if e.opts.MaxStoriesPerItem > 0 && len(stories) > e.opts.MaxStoriesPerItem {
		e.logger.Warn().
			Str("item", item.Message.ID).
			Int("stories", len(stories)).
			Int("limit", e.opts.MaxStoriesPerItem).
			Msg("dropping stories over the per-item limit")
		stories = stories[:e.opts.MaxStoriesPerItem]
	}

	cands := make([]model.StoryCandidate, 0, len(stories))
	for n, story := range stories {
		cands = append(cands, buildCandidate(item, n, story))
	}
	return cands, stats, nil
}

func buildCandidate(item model.ClassifiedItem, n int, story extractedStory) model.StoryCandidate {
	msg := item.Message

	primary := item.PrimaryCategory()
	if cat, ok := model.ParseCategory(story.PrimaryCategory); ok {
		primary = cat
	}
	secondary := item.SecondaryCategories()
	if len(story.SecondaryCategories) > 0 {
		secondary = nil
		for _, label := range story.SecondaryCategories {
			if cat, ok := model.ParseCategory(label); ok {
				secondary = append(secondary, cat)
			}
		}
	}

	return model.StoryCandidate{
		ID:                  model.CandidateID(msg.ID, n),
		Title:               strings.TrimSpace(story.Title),
		Summary:             strings.TrimSpace(story.Summary),
		KeyPoints:           nonEmpty(story.KeyPoints),
		SourceURLs:          uniqueStrings(nonEmpty(story.SourceURLs)),
		SourceMessageID:     msg.ID,
		SourceAccount:       msg.Account,
		ReceivedAt:          msg.ReceivedAt,
		PrimaryCategory:     primary,
		SecondaryCategories: withoutCategory(secondary, primary),
		Confidence:          story.Confidence,
	}
}

// fallbackCandidate stands in for an item whose extraction failed
func fallbackCandidate(item model.ClassifiedItem) model.StoryCandidate {
	msg := item.Message
	summary := strings.Join(strings.Fields(msg.Body), " ")
	if r := []rune(summary); len(r) > fallbackSummaryChars {
		summary = string(r[:fallbackSummaryChars]) + "..."
	}
	return model.StoryCandidate{
		ID:                  model.CandidateID(msg.ID, 0),
		Title:               strings.TrimSpace(msg.Subject),
		Summary:             summary,
		SourceMessageID:     msg.ID,
		SourceAccount:       msg.Account,
		ReceivedAt:          msg.ReceivedAt,
		PrimaryCategory:     item.PrimaryCategory(),
		SecondaryCategories: item.SecondaryCategories(),
		Fallback:            true,
	}
}

// stopped reports whether err came from the run ending rather than the item
func stopped(err error) bool {
	if _, ok := llm.KindOf(err); ok {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrDeadlineExceeded)
}

func nonEmpty(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func withoutCategory(cats []model.Category, drop model.Category) []model.Category {
	seen := map[model.Category]bool{drop: true}
	var out []model.Category
	for _, c := range cats {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}
