package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ppiankov/newsdigest/internal/llm"
	"github.com/ppiankov/newsdigest/internal/model"
	"github.com/ppiankov/newsdigest/internal/worker"
	"github.com/rs/zerolog"
)

// ClassifierOptions tunes the classification stage
type ClassifierOptions struct {
	Threshold    float64 // Confidence below this forces not newsworthy
	MaxBodyChars int     // Body truncation limit, 0 disables
	Workers      int     // Concurrent items; the model client still bounds calls
}

// Classifier decides, per message, whether it is newsworthy
type Classifier struct {
	client ModelClient
	opts   ClassifierOptions
	logger zerolog.Logger
}

// NewClassifier creates a classification stage
func NewClassifier(client ModelClient, opts ClassifierOptions, logger zerolog.Logger) *Classifier {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Classifier{client: client, opts: opts, logger: logger}
}

type classificationResponse struct {
	IsNewsworthy bool    `json:"is_newsworthy"`
	Confidence   float64 `json:"confidence"`
	Categories   []struct {
		Category   string  `json:"category"`
		Confidence float64 `json:"confidence"`
	} `json:"categories"`
	Reason string `json:"reason"`
}

// Classify returns one item per successfully classified message, in input
// order. Failed messages are reported and left out. The returned error is
// non-nil only when the model rejected our credentials.
func (c *Classifier) Classify(ctx context.Context, msgs []model.Message) ([]model.ClassifiedItem, StageReport, error) {
	start := time.Now()
	report := StageReport{Stats: model.StageStats{Stage: model.StageClassify, Input: len(msgs)}}

	stageCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]*model.ClassifiedItem, len(msgs))
	calls := make([]*llm.CallStats, len(msgs))
	var authOnce sync.Once
	var authErr error

	errs := worker.RunIndexed(stageCtx, c.opts.Workers, len(msgs), func(ctx context.Context, i int) error {
		item, stats, err := c.classifyOne(ctx, msgs[i])
		calls[i] = stats
		if err != nil {
			if llm.IsAuth(err) {
				authOnce.Do(func() {
					authErr = err
					cancel()
				})
			}
			return err
		}
		results[i] = &item
		return nil
	})

	items := make([]model.ClassifiedItem, 0, len(msgs))
	for i, err := range errs {
		report.addCall(calls[i])
		if err != nil {
			report.Failures = append(report.Failures, model.Failure{
				Stage:   model.StageClassify,
				Account: msgs[i].Account,
				ItemID:  msgs[i].ID,
				Kind:    failureKind(err),
				Error:   err.Error(),
			})
			continue
		}
		items = append(items, *results[i])
	}

	report.Stats.Output = len(items)
	report.Stats.Failed = len(report.Failures)
	report.Stats.Duration = time.Since(start)

	c.logger.Info().
		Str("stage", model.StageClassify).
		Int("input", report.Stats.Input).
		Int("classified", len(items)).
		Int("failed", report.Stats.Failed).
		Dur("duration", report.Stats.Duration).
		Msg("stage finished")

	if authErr != nil {
		return items, report, fmt.Errorf("%w: %w", ErrModelAuth, authErr)
	}
	return items, report, nil
}

func (c *Classifier) classifyOne(ctx context.Context, msg model.Message) (model.ClassifiedItem, *llm.CallStats, error) {
	var resp classificationResponse
	stats, err := c.client.Generate(ctx, llm.Call{
		Name:   model.StageClassify,
		ItemID: msg.ID,
		System: classifySystem,
		Prompt: classifyPrompt(msg, c.opts.MaxBodyChars),
		Schema: classificationSchema,
	}, &resp)
	if err != nil {
		return model.ClassifiedItem{}, stats, fmt.Errorf("classify %s: %w", msg.ID, err)
	}

	item := model.ClassifiedItem{
		Message:      msg,
		IsNewsworthy: resp.IsNewsworthy && resp.Confidence >= c.opts.Threshold,
		Confidence:   resp.Confidence,
		Categories:   normalizeCategories(resp),
		Reason:       resp.Reason,
	}
	return item, stats, nil
}

// normalizeCategories maps labels to known categories, keeps the strongest
// score per category and orders them by confidence
func normalizeCategories(resp classificationResponse) []model.CategoryScore {
	best := make(map[model.Category]int)
	var out []model.CategoryScore
	for _, label := range resp.Categories {
		cat, _ := model.ParseCategory(label.Category)
		if idx, ok := best[cat]; ok {
			if label.Confidence > out[idx].Confidence {
				out[idx].Confidence = label.Confidence
			}
			continue
		}
		best[cat] = len(out)
		out = append(out, model.CategoryScore{Category: cat, Confidence: label.Confidence})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Confidence > out[j].Confidence
	})
	return out
}
