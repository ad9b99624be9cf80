package model

import "time"

// RunState is a step of the pipeline state machine
type RunState string

const (
	StateFetching      RunState = "fetching"
	StateClassifying   RunState = "classifying"
	StateExtracting    RunState = "extracting"
	StateDeduplicating RunState = "deduplicating"
	StateDone          RunState = "done"
	StateFailed        RunState = "failed"
)

var stateOrder = map[RunState]int{
	StateFetching:      0,
	StateClassifying:   1,
	StateExtracting:    2,
	StateDeduplicating: 3,
	StateDone:          4,
	StateFailed:        4,
}

// Terminal reports whether no further transition is possible
func (s RunState) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Stage names used in stats and failure records
const (
	StageFetch      = "fetch"
	StageClassify   = "classify"
	StageExtract    = "extract"
	StageDedup      = "dedup"
	StageCategorize = "categorize"
)

// Run outcome labels returned to callers
const (
	StatusCompleted = "completed"
	StatusDegraded  = "degraded"
	StatusFailed    = "failed"
)

// Failure records one absorbed error
type Failure struct {
	Stage   string `json:"stage"`
	Account string `json:"account,omitempty"`
	ItemID  string `json:"item_id,omitempty"`
	Kind    string `json:"kind"`
	Error   string `json:"error"`
}

// StageStats holds counts and timing for one stage
type StageStats struct {
	Stage      string        `json:"stage"`
	Input      int           `json:"input"`
	Output     int           `json:"output"`
	Failed     int           `json:"failed"`
	Duration   time.Duration `json:"duration_ns"`
	ModelCalls int           `json:"model_calls,omitempty"`
	Retries    int           `json:"retries,omitempty"`
	Reprompts  int           `json:"reprompts,omitempty"`
	CacheHits  int           `json:"cache_hits,omitempty"`
}

// Add folds model call counters from another stats value
func (s *StageStats) Add(calls, retries, reprompts, cacheHits int) {
	s.ModelCalls += calls
	s.Retries += retries
	s.Reprompts += reprompts
	s.CacheHits += cacheHits
}

// RunCounts are the headline numbers of a run
type RunCounts struct {
	Accounts   int `json:"accounts"`
	Fetched    int `json:"fetched"`
	Excluded   int `json:"excluded"`
	Classified int `json:"classified"`
	Newsworthy int `json:"newsworthy"`
	Candidates int `json:"candidates"`
	Clusters   int `json:"clusters"`
}

// PipelineRun is the summary of one invocation. It is owned by that invocation only.
type PipelineRun struct {
	ID               string       `json:"id"`
	StartedAt        time.Time    `json:"started_at"`
	FinishedAt       time.Time    `json:"finished_at,omitempty"`
	State            RunState     `json:"state"`
	Counts           RunCounts    `json:"counts"`
	Stages           []StageStats `json:"stages"`
	Failures         []Failure    `json:"failures,omitempty"`
	DeadlineExceeded bool         `json:"deadline_exceeded,omitempty"`
	Error            string       `json:"error,omitempty"`
}

// NewPipelineRun starts a run summary in the Fetching state
func NewPipelineRun(id string, startedAt time.Time) *PipelineRun {
	return &PipelineRun{
		ID:        id,
		StartedAt: startedAt,
		State:     StateFetching,
	}
}

// Advance moves the run forward. Backward moves and moves out of a terminal
// state are ignored and reported as false.
func (r *PipelineRun) Advance(next RunState) bool {
	if r.State.Terminal() {
		return false
	}
	if next != StateFailed && stateOrder[next] < stateOrder[r.State] {
		return false
	}
	r.State = next
	return true
}

// RecordStage appends stage stats
func (r *PipelineRun) RecordStage(s StageStats) {
	r.Stages = append(r.Stages, s)
}

// RecordFailures appends absorbed failures
func (r *PipelineRun) RecordFailures(f ...Failure) {
	r.Failures = append(r.Failures, f...)
}

// Stage returns stats for the named stage
func (r *PipelineRun) Stage(name string) (StageStats, bool) {
	for _, s := range r.Stages {
		if s.Stage == name {
			return s, true
		}
	}
	return StageStats{}, false
}

// FailuresFor returns the failures recorded by a stage
func (r *PipelineRun) FailuresFor(stage string) []Failure {
	var out []Failure
	for _, f := range r.Failures {
		if f.Stage == stage {
			out = append(out, f)
		}
	}
	return out
}

// Duration is the wall-clock length of the run
func (r *PipelineRun) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Status distinguishes a clean run, a run with degraded input, and a failed run
func (r *PipelineRun) Status() string {
	switch {
	case r.State == StateFailed:
		return StatusFailed
	case len(r.Failures) > 0 || r.DeadlineExceeded:
		return StatusDegraded
	default:
		return StatusCompleted
	}
}

// Totals sums model call counters across stages
func (r *PipelineRun) Totals() StageStats {
	total := StageStats{Stage: "total"}
	for _, s := range r.Stages {
		total.Add(s.ModelCalls, s.Retries, s.Reprompts, s.CacheHits)
		total.Failed += s.Failed
		total.Duration += s.Duration
	}
	return total
}
