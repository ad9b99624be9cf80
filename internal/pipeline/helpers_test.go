package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ppiankov/newsdigest/internal/llm"
	"github.com/ppiankov/newsdigest/internal/model"
	"github.com/ppiankov/newsdigest/internal/source"
	"github.com/rs/zerolog"
)

var nop = zerolog.Nop()

// fakeModel answers stage calls from per-stage functions keyed by item id.
// Answers are decoded through the real schemas.
type fakeModel struct {
	classify func(ctx context.Context, itemID string) (string, error)
	extract  func(ctx context.Context, itemID string) (string, error)

	calls   atomic.Int32
	mu      sync.Mutex
	seenIDs map[string]int
}

func (f *fakeModel) Generate(ctx context.Context, call llm.Call, out any) (*llm.CallStats, error) {
	f.calls.Add(1)
	f.mu.Lock()
	if f.seenIDs == nil {
		f.seenIDs = make(map[string]int)
	}
	f.seenIDs[call.Name+"/"+call.ItemID]++
	f.mu.Unlock()

	stats := &llm.CallStats{Attempts: 1}
	if err := ctx.Err(); err != nil {
		return stats, err
	}

	var answer func(context.Context, string) (string, error)
	switch call.Name {
	case model.StageClassify:
		answer = f.classify
	case model.StageExtract:
		answer = f.extract
	}
	if answer == nil {
		return stats, fmt.Errorf("unexpected call %s", call.Name)
	}
	text, err := answer(ctx, call.ItemID)
	if err != nil {
		return stats, err
	}
	return stats, call.Schema.Decode(text, out)
}

func (f *fakeModel) called(stage, itemID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seenIDs[stage+"/"+itemID]
}

func newsworthy(conf float64, categories ...string) string {
	cats := ""
	for i, c := range categories {
		if i > 0 {
			cats += ","
		}
		cats += fmt.Sprintf(`{"category":%q,"confidence":0.9}`, c)
	}
	return fmt.Sprintf(`{"is_newsworthy":true,"confidence":%v,"categories":[%s],"reason":"news"}`, conf, cats)
}

const notNewsworthy = `{"is_newsworthy":false,"confidence":0.9,"categories":[],"reason":"receipt"}`

func stories(titles ...string) string {
	out := `{"stories":[`
	for i, t := range titles {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprintf(`{"title":%q,"summary":%q,"confidence":0.8}`, t, t)
	}
	return out + `]}`
}

// groupFunc adapts a function to the Grouper interface
type groupFunc func(ctx context.Context, cands []model.StoryCandidate) ([][]int, *llm.CallStats, error)

func (f groupFunc) Group(ctx context.Context, cands []model.StoryCandidate) ([][]int, *llm.CallStats, error) {
	return f(ctx, cands)
}

// eventGrouper groups candidates whose event function returns the same key
func eventGrouper(event func(model.StoryCandidate) string, calls *atomic.Int32) Grouper {
	return groupFunc(func(ctx context.Context, cands []model.StoryCandidate) ([][]int, *llm.CallStats, error) {
		if calls != nil {
			calls.Add(1)
		}
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		pos := make(map[string]int)
		var groups [][]int
		for i, c := range cands {
			key := event(c)
			p, ok := pos[key]
			if !ok {
				p = len(groups)
				pos[key] = p
				groups = append(groups, nil)
			}
			groups[p] = append(groups[p], i)
		}
		return groups, &llm.CallStats{Attempts: 1}, nil
	})
}

func bySummary(c model.StoryCandidate) string { return c.Summary }

func candidate(id, title, event string, ts int64, conf float64) model.StoryCandidate {
	return model.StoryCandidate{
		ID:              id,
		Title:           title,
		Summary:         event,
		SourceMessageID: "msg-" + id,
		SourceAccount:   "work",
		ReceivedAt:      time.Unix(ts, 0).UTC(),
		PrimaryCategory: model.CategoryOther,
		Confidence:      conf,
	}
}

func message(account, id string, ts int64, sender string) model.Message {
	return model.Message{
		ID:         id,
		Account:    account,
		Subject:    "subject " + id,
		Sender:     sender,
		ReceivedAt: time.Unix(ts, 0).UTC(),
		Body:       "body of " + id,
	}
}

// fakeSource serves fixed messages or errors per account
type fakeSource struct {
	messages map[string][]model.Message
	errs     map[string]error
}

func (s *fakeSource) FetchRecent(ctx context.Context, account string, window time.Duration) ([]model.Message, error) {
	if err := s.errs[account]; err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.messages[account], nil
}

var _ source.Source = (*fakeSource)(nil)
