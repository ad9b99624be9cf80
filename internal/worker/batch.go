package worker

import (
	"context"
	"errors"
)

// ErrNotRun marks an index that was never started
var ErrNotRun = errors.New("not run")

// IndexedResult is the outcome of one position handled by RunIndexed
type IndexedResult struct {
	Index int
	Err   error
}

// GetError returns the error from the indexed result
func (r *IndexedResult) GetError() error {
	return r.Err
}

// indexedJob calls fn for one index, skipping it once ctx has ended
type indexedJob struct {
	index int
	fn    func(ctx context.Context, index int) error
}

// Execute runs the job unless the context already ended
func (j *indexedJob) Execute(ctx context.Context) Result {
	if err := ctx.Err(); err != nil {
		return &IndexedResult{Index: j.index, Err: err}
	}
	return &IndexedResult{Index: j.index, Err: j.fn(ctx, j.index)}
}

// RunIndexed calls fn for every index in [0, n) on at most workers
// goroutines and returns one error slot per index, in index order.
// Indices that never started because ctx ended report ctx's error.
// fn must only write to state owned by its index.
func RunIndexed(ctx context.Context, workers, n int, fn func(ctx context.Context, index int) error) []error {
	errs := make([]error, n)
	if n == 0 {
		return errs
	}
	if workers > n {
		workers = n
	}

	pool := NewPool(ctx, workers)
	pool.Start()
	for i := 0; i < n; i++ {
		if !pool.Submit(&indexedJob{index: i, fn: fn}) {
			break
		}
	}

	done := make([]bool, n)
	for _, r := range pool.Wait() {
		ir := r.(*IndexedResult)
		errs[ir.Index] = ir.Err
		done[ir.Index] = true
	}
	for i := range errs {
		if done[i] {
			continue
		}
		if err := ctx.Err(); err != nil {
			errs[i] = err
		} else {
			errs[i] = ErrNotRun
		}
	}
	return errs
}

// Chunk splits items into consecutive slices of at most size elements
func Chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = len(items)
	}
	var chunks [][]T
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end])
	}
	return chunks
}
