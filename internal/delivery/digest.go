// Package delivery renders a run's digest and hands it to configured sinks.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ppiankov/newsdigest/internal/model"
	"github.com/ppiankov/newsdigest/internal/pipeline"
)

// Digest is the deliverable form of one pipeline run
type Digest struct {
	RunID       string                  `json:"run_id"`
	Title       string                  `json:"title"`
	GeneratedAt time.Time               `json:"generated_at"`
	Status      string                  `json:"status"`
	Sections    []model.CategorySection `json:"sections"`
	Metrics     Metrics                 `json:"metrics"`
	Run         *model.PipelineRun      `json:"run"`
}

// Metrics summarizes the digest content
type Metrics struct {
	TotalStories      int            `json:"total_stories"`
	StoriesByCategory map[string]int `json:"stories_by_category"`
	KeywordFallback   int            `json:"keyword_categorized"`
	Fallback          int            `json:"fallback_stories"`
}

// NewDigest builds a digest from a run result
func NewDigest(result *pipeline.Result, now time.Time) *Digest {
	d := &Digest{
		RunID:       result.Run.ID,
		Title:       "News digest for " + now.Format("Monday, January 2, 2006"),
		GeneratedAt: now,
		Status:      result.Run.Status(),
		Sections:    result.Sections,
		Run:         result.Run,
		Metrics:     Metrics{StoriesByCategory: make(map[string]int)},
	}
	for _, section := range result.Sections {
		d.Metrics.StoriesByCategory[string(section.Category)] = len(section.Stories) + section.Overflow
		for _, story := range section.Stories {
			d.Metrics.TotalStories++
			if story.Representative.PrimaryCategory == model.CategoryOther && story.Category != model.CategoryOther {
				d.Metrics.KeywordFallback++
			}
			if story.Representative.Fallback {
				d.Metrics.Fallback++
			}
		}
	}
	return d
}

// Deliverer sends a digest to one destination
type Deliverer interface {
	Name() string
	Deliver(ctx context.Context, d *Digest) error
}

// Multi delivers to every sink and joins their errors. A failing sink does
// not stop the others.
type Multi []Deliverer

// Name returns the sink names
func (m Multi) Name() string {
	return fmt.Sprintf("multi(%d)", len(m))
}

// Deliver sends d to each sink in order
func (m Multi) Deliver(ctx context.Context, d *Digest) error {
	var errs []error
	for _, sink := range m {
		if err := sink.Deliver(ctx, d); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
		}
	}
	return errors.Join(errs...)
}
