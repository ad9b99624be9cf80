package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/ppiankov/newsdigest/internal/llm"
	"github.com/ppiankov/newsdigest/internal/model"
)

func TestClassify_CountsAndOrder(t *testing.T) {
	msgs := []model.Message{
		message("work", "m1", 1, "a@news.com"),
		message("work", "m2", 2, "b@news.com"),
		message("work", "m3", 3, "c@news.com"),
		message("home", "m4", 4, "d@news.com"),
		message("home", "m5", 5, "e@news.com"),
	}
	fm := &fakeModel{
		classify: func(ctx context.Context, id string) (string, error) {
			// Earlier messages answer last
			delay := map[string]time.Duration{"m1": 30, "m2": 20, "m3": 0, "m4": 10, "m5": 0}[id]
			time.Sleep(delay * time.Millisecond)
			if id == "m3" {
				return "", &llm.ModelError{Kind: llm.KindRateLimited, Provider: "fake", Err: errors.New("429")}
			}
			return newsworthy(0.9, "Economy"), nil
		},
	}

	c := NewClassifier(fm, ClassifierOptions{Threshold: 0.5, Workers: 5}, nop)
	items, report, err := c.Classify(context.Background(), msgs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(items)+len(report.Failures) != len(msgs) {
		t.Errorf("classified %d + failed %d != input %d", len(items), len(report.Failures), len(msgs))
	}
	want := []string{"m1", "m2", "m4", "m5"}
	for i, item := range items {
		if item.Message.ID != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], item.Message.ID)
		}
	}
	if len(report.Failures) != 1 {
		t.Fatalf("expected 1 failure, got %d", len(report.Failures))
	}
	f := report.Failures[0]
	if f.ItemID != "m3" || f.Account != "work" || f.Kind != "rate_limited" || f.Stage != model.StageClassify {
		t.Errorf("unexpected failure %+v", f)
	}
	if report.Stats.Input != 5 || report.Stats.Output != 4 || report.Stats.Failed != 1 || report.Stats.ModelCalls != 5 {
		t.Errorf("unexpected stats %+v", report.Stats)
	}
}

func TestClassify_ThresholdForcesNotNewsworthy(t *testing.T) {
	fm := &fakeModel{
		classify: func(ctx context.Context, id string) (string, error) {
			if id == "low" {
				return newsworthy(0.3, "AI"), nil
			}
			return newsworthy(0.7, "AI"), nil
		},
	}
	c := NewClassifier(fm, ClassifierOptions{Threshold: 0.5}, nop)
	items, _, err := c.Classify(context.Background(), []model.Message{
		message("a", "low", 1, "x"),
		message("a", "high", 2, "x"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if items[0].IsNewsworthy {
		t.Error("confidence below threshold must not be newsworthy")
	}
	if items[0].Confidence != 0.3 {
		t.Errorf("raw confidence must be kept, got %v", items[0].Confidence)
	}
	if !items[1].IsNewsworthy {
		t.Error("confidence above threshold should be newsworthy")
	}
}

func TestClassify_AuthFailureStopsStage(t *testing.T) {
	fm := &fakeModel{
		classify: func(ctx context.Context, id string) (string, error) {
			return "", &llm.ModelError{Kind: llm.KindAuth, Provider: "fake", StatusCode: 401, Err: errors.New("bad key")}
		},
	}
	var msgs []model.Message
	for i := 0; i < 20; i++ {
		msgs = append(msgs, message("a", string(rune('a'+i)), int64(i), "x"))
	}

	c := NewClassifier(fm, ClassifierOptions{Workers: 1}, nop)
	items, report, err := c.Classify(context.Background(), msgs)
	if !errors.Is(err, ErrModelAuth) {
		t.Fatalf("expected ErrModelAuth, got %v", err)
	}
	if !llm.IsAuth(err) {
		t.Error("expected the model error to stay in the chain")
	}
	if len(items) != 0 {
		t.Errorf("expected no items, got %d", len(items))
	}
	if got := fm.calls.Load(); got >= int32(len(msgs)) {
		t.Errorf("expected remaining items to be skipped, made %d calls", got)
	}
	if len(report.Failures) != len(msgs) {
		t.Errorf("every message must be accounted for, got %d failures", len(report.Failures))
	}
}

func TestClassify_NormalizesCategories(t *testing.T) {
	fm := &fakeModel{
		classify: func(ctx context.Context, id string) (string, error) {
			return `{"is_newsworthy":true,"confidence":0.9,"categories":[
				{"category":"stocks","confidence":0.6},
				{"category":"Crypto","confidence":0.2},
				{"category":"ai","confidence":0.8},
				{"category":"AI","confidence":0.1}]}`, nil
		},
	}
	c := NewClassifier(fm, ClassifierOptions{Threshold: 0.5}, nop)
	items, _, err := c.Classify(context.Background(), []model.Message{message("a", "m", 1, "x")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := items[0].Categories
	want := []model.CategoryScore{
		{Category: model.CategoryAI, Confidence: 0.8},
		{Category: model.CategoryStocks, Confidence: 0.6},
		{Category: model.CategoryOther, Confidence: 0.2},
	}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: got %v, want %v", i, got[i], want[i])
		}
	}
	if items[0].PrimaryCategory() != model.CategoryAI {
		t.Errorf("unexpected primary %s", items[0].PrimaryCategory())
	}
}

func TestClassify_SchemaViolationIsAFailure(t *testing.T) {
	fm := &fakeModel{
		classify: func(ctx context.Context, id string) (string, error) {
			return `{"is_newsworthy":"yes"}`, nil
		},
	}
	c := NewClassifier(fm, ClassifierOptions{}, nop)
	items, report, err := c.Classify(context.Background(), []model.Message{message("a", "m", 1, "x")})
	if err != nil {
		t.Fatalf("schema violations are per item, got %v", err)
	}
	if len(items) != 0 || len(report.Failures) != 1 {
		t.Errorf("expected the item to fail, got %d items %d failures", len(items), len(report.Failures))
	}
}

func TestClassifyPrompt_TruncatesBody(t *testing.T) {
	msg := message("a", "m", 1, "x")
	msg.Body = strings.Repeat("é", 100)

	prompt := classifyPrompt(msg, 10)
	if !strings.HasSuffix(prompt, TruncatedMarker) {
		t.Error("expected truncation marker")
	}
	if !strings.Contains(prompt, strings.Repeat("é", 10)+"\n\n"+TruncatedMarker) {
		t.Error("expected body cut at 10 runes")
	}
}

func TestTruncateBody(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		limit int
		want  string
	}{
		{"short", "hello", 10, "hello"},
		{"exact", "hello", 5, "hello"},
		{"cut", "hello world", 5, "hello\n\n" + TruncatedMarker},
		{"disabled", "hello world", 0, "hello world"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TruncateBody(tt.text, tt.limit)
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
			if !utf8.ValidString(got) {
				t.Error("invalid utf-8")
			}
		})
	}
}
