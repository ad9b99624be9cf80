package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ppiankov/newsdigest/internal/llm"
	"github.com/ppiankov/newsdigest/internal/model"
	"github.com/ppiankov/newsdigest/internal/worker"
	"github.com/rs/zerolog"
)

// DedupOptions tunes the deduplication engine
type DedupOptions struct {
	BatchSize      int // Candidates per comparison call
	MaxMergePasses int // Upper bound on cross-batch merge passes
	Workers        int // Concurrent comparison calls
}

// Deduplicator collapses candidates describing the same event into clusters
type Deduplicator struct {
	grouper Grouper
	opts    DedupOptions
	logger  zerolog.Logger
}

// NewDeduplicator creates a deduplication engine around grouper
func NewDeduplicator(grouper Grouper, opts DedupOptions, logger zerolog.Logger) *Deduplicator {
	if opts.BatchSize < 2 {
		opts.BatchSize = 40
	}
	if opts.MaxMergePasses < 0 {
		opts.MaxMergePasses = 0
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Deduplicator{grouper: grouper, opts: opts, logger: logger}
}

// Deduplicate partitions cands into clusters. Every candidate ends up in
// exactly one cluster; a failed comparison leaves its candidates as
// singletons. Clusters come back ordered by their earliest member.
func (d *Deduplicator) Deduplicate(ctx context.Context, cands []model.StoryCandidate) ([]model.StoryCluster, StageReport) {
	start := time.Now()
	report := StageReport{Stats: model.StageStats{Stage: model.StageDedup, Input: len(cands)}}
	if len(cands) == 0 {
		report.Stats.Duration = time.Since(start)
		return []model.StoryCluster{}, report
	}

	ordered := make([]model.StoryCandidate, len(cands))
	copy(ordered, cands)
	sort.SliceStable(ordered, func(i, j int) bool {
		return model.CandidateLess(ordered[i], ordered[j])
	})

	uf := newUnionFind(len(ordered))
	all := make([]int, len(ordered))
	for i := range all {
		all[i] = i
	}
	batches := worker.Chunk(all, d.opts.BatchSize)
	d.groupWindows(ctx, ordered, uf, batches, "batch", &report)

	passes := 0
	if len(batches) > 1 {
		passes = d.merge(ctx, ordered, uf, &report)
	}

	clusters := buildClusters(ordered, uf.groups())

	report.Stats.Output = len(clusters)
	report.Stats.Failed = len(report.Failures)
	report.Stats.Duration = time.Since(start)

	d.logger.Info().
		Str("stage", model.StageDedup).
		Int("input", len(cands)).
		Int("batches", len(batches)).
		Int("merge_passes", passes).
		Int("clusters", len(clusters)).
		Int("failed", report.Stats.Failed).
		Dur("duration", report.Stats.Duration).
		Msg("stage finished")

	return clusters, report
}

// merge runs cross-batch passes over group representatives and returns the
// number of passes made. Every pass compares every pair of representatives,
// so it stops when one group is left, after the first pass that merges
// nothing, or at MaxMergePasses.
func (d *Deduplicator) merge(ctx context.Context, cands []model.StoryCandidate, uf *unionFind, report *StageReport) int {
	for pass := 0; pass < d.opts.MaxMergePasses; pass++ {
		if err := skipped(ctx); err != nil {
			report.Failures = append(report.Failures, model.Failure{
				Stage:  model.StageDedup,
				ItemID: fmt.Sprintf("merge pass %d", pass),
				Kind:   failureKind(err),
				Error:  err.Error(),
			})
			return pass
		}

		groups := uf.groups()
		if len(groups) < 2 {
			return pass
		}
		reps := make([]int, len(groups))
		for i, members := range groups {
			reps[i] = pickRepresentative(cands, members)
		}

		windows := pairWindows(reps, d.opts.BatchSize)
		if !d.groupWindows(ctx, cands, uf, windows, fmt.Sprintf("merge %d window", pass), report) {
			return pass + 1
		}
	}
	return d.opts.MaxMergePasses
}

// pairWindows covers every pair of representatives with at least one window
// of at most size entries. Representatives are cut into blocks of half a
// window and each window joins two blocks; a set that fits in one window is
// never split.
func pairWindows(reps []int, size int) [][]int {
	if len(reps) <= size {
		return [][]int{reps}
	}
	blocks := worker.Chunk(reps, max(size/2, 1))
	windows := make([][]int, 0, len(blocks)*(len(blocks)-1)/2)
	for i := range blocks {
		for j := i + 1; j < len(blocks); j++ {
			w := make([]int, 0, len(blocks[i])+len(blocks[j]))
			w = append(w, blocks[i]...)
			windows = append(windows, append(w, blocks[j]...))
		}
	}
	return windows
}

// groupWindows asks the grouper about every window with at least two
// entries and unions what it reports. It returns whether anything merged.
func (d *Deduplicator) groupWindows(ctx context.Context, cands []model.StoryCandidate, uf *unionFind, windows [][]int, label string, report *StageReport) bool {
	var todo [][]int
	for _, w := range windows {
		if len(w) > 1 {
			todo = append(todo, w)
		}
	}

	groups := make([][][]int, len(todo))
	calls := make([]*llm.CallStats, len(todo))
	errs := worker.RunIndexed(ctx, d.opts.Workers, len(todo), func(ctx context.Context, w int) error {
		subset := make([]model.StoryCandidate, len(todo[w]))
		for k, idx := range todo[w] {
			subset[k] = cands[idx]
		}
		g, stats, err := d.grouper.Group(ctx, subset)
		calls[w] = stats
		groups[w] = g
		return err
	})

	merged := false
	for w, err := range errs {
		report.addCall(calls[w])
		if err != nil {
			report.Failures = append(report.Failures, model.Failure{
				Stage:  model.StageDedup,
				ItemID: fmt.Sprintf("%s %d", label, w),
				Kind:   failureKind(err),
				Error:  err.Error(),
			})
			d.logger.Warn().Err(err).Str("window", fmt.Sprintf("%s %d", label, w)).
				Int("candidates", len(todo[w])).
				Msg("comparison failed, keeping candidates apart")
			continue
		}
		if applyGroups(uf, todo[w], groups[w]) {
			merged = true
		}
	}
	return merged
}

// applyGroups unions the window positions named by each group
func applyGroups(uf *unionFind, window []int, groups [][]int) bool {
	seen := make(map[int]bool, len(window))
	merged := false
	for _, g := range groups {
		first := -1
		for _, local := range g {
			if local < 0 || local >= len(window) || seen[local] {
				continue
			}
			seen[local] = true
			if first < 0 {
				first = window[local]
				continue
			}
			if uf.union(first, window[local]) {
				merged = true
			}
		}
	}
	return merged
}

// pickRepresentative prefers the highest confidence, then the earliest
// timestamp, then the earliest canonical position. members must be ascending.
func pickRepresentative(cands []model.StoryCandidate, members []int) int {
	best := members[0]
	for _, m := range members[1:] {
		c, b := cands[m], cands[best]
		if c.Confidence > b.Confidence ||
			(c.Confidence == b.Confidence && c.ReceivedAt.Before(b.ReceivedAt)) {
			best = m
		}
	}
	return best
}

// clusterCategory takes the most common primary category. A tie goes to the
// representative's category when it is among the tied ones, otherwise to the
// earliest member holding a tied category.
func clusterCategory(cands []model.StoryCandidate, members []int, rep int) model.Category {
	counts := make(map[model.Category]int)
	top := 0
	for _, m := range members {
		cat := categoryOrOther(cands[m].PrimaryCategory)
		counts[cat]++
		if counts[cat] > top {
			top = counts[cat]
		}
	}
	if cat := categoryOrOther(cands[rep].PrimaryCategory); counts[cat] == top {
		return cat
	}
	for _, m := range members {
		if cat := categoryOrOther(cands[m].PrimaryCategory); counts[cat] == top {
			return cat
		}
	}
	return model.CategoryOther
}

func categoryOrOther(c model.Category) model.Category {
	if c == "" {
		return model.CategoryOther
	}
	return c
}

func buildClusters(cands []model.StoryCandidate, groups [][]int) []model.StoryCluster {
	clusters := make([]model.StoryCluster, 0, len(groups))
	for _, members := range groups {
		rep := pickRepresentative(cands, members)
		cluster := model.StoryCluster{
			Representative: cands[rep],
			Members:        make([]model.StoryCandidate, 0, len(members)),
			Category:       clusterCategory(cands, members, rep),
		}

		var msgIDs, accounts []string
		urls := append([]string(nil), cands[rep].SourceURLs...)
		for _, m := range members {
			c := cands[m]
			cluster.Members = append(cluster.Members, c)
			msgIDs = append(msgIDs, c.SourceMessageID)
			accounts = append(accounts, c.SourceAccount)
			urls = append(urls, c.SourceURLs...)
		}
		cluster.SourceMessageIDs = uniqueStrings(msgIDs)
		cluster.Accounts = uniqueStrings(nonEmpty(accounts))
		cluster.SourceURLs = uniqueStrings(urls)
		clusters = append(clusters, cluster)
	}
	return clusters
}

// unionFind is an arena of parent indices. The lower index always becomes
// the root, so a root is the earliest member of its group.
type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (u *unionFind) find(x int) int {
	root := x
	for u.parent[root] != root {
		root = u.parent[root]
	}
	for u.parent[x] != root {
		next := u.parent[x]
		u.parent[x] = root
		x = next
	}
	return root
}

// union merges the groups of a and b and reports whether they were apart
func (u *unionFind) union(a, b int) bool {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return false
	}
	if rb < ra {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
	return true
}

// groups returns members per group, each ascending, ordered by first member
func (u *unionFind) groups() [][]int {
	index := make(map[int]int)
	var out [][]int
	for i := range u.parent {
		r := u.find(i)
		pos, ok := index[r]
		if !ok {
			pos = len(out)
			index[r] = pos
			out = append(out, nil)
		}
		out[pos] = append(out[pos], i)
	}
	return out
}
