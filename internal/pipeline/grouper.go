package pipeline

import (
	"context"
	"fmt"

	"github.com/ppiankov/newsdigest/internal/llm"
	"github.com/ppiankov/newsdigest/internal/model"
)

// Grouper partitions a small set of candidates into groups describing the
// same event. Groups hold indices into the given slice. Indices that are out
// of range or repeated are ignored by the caller, and missing indices become
// singletons.
type Grouper interface {
	Group(ctx context.Context, cands []model.StoryCandidate) ([][]int, *llm.CallStats, error)
}

// LLMGrouper asks the model to group candidates by event
type LLMGrouper struct {
	client ModelClient
}

// NewLLMGrouper creates a model-backed Grouper
func NewLLMGrouper(client ModelClient) *LLMGrouper {
	return &LLMGrouper{client: client}
}

type groupingResponse struct {
	Groups [][]int `json:"groups"`
}

// Group issues one comparison call for the whole slice
func (g *LLMGrouper) Group(ctx context.Context, cands []model.StoryCandidate) ([][]int, *llm.CallStats, error) {
	if len(cands) < 2 {
		return singletons(len(cands)), nil, nil
	}

	var resp groupingResponse
	stats, err := g.client.Generate(ctx, llm.Call{
		Name:   model.StageDedup,
		ItemID: fmt.Sprintf("%s..%s", cands[0].ID, cands[len(cands)-1].ID),
		System: groupSystem,
		Prompt: groupPrompt(cands),
		Schema: groupingSchema,
	}, &resp)
	if err != nil {
		return nil, stats, fmt.Errorf("group %d candidates: %w", len(cands), err)
	}
	return resp.Groups, stats, nil
}

func singletons(n int) [][]int {
	groups := make([][]int, n)
	for i := range groups {
		groups[i] = []int{i}
	}
	return groups
}
