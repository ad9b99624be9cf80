package worker

import (
	"context"
	"errors"
	"reflect"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunIndexed_PreservesIndexOrder(t *testing.T) {
	n := 25
	out := make([]int, n)

	errs := RunIndexed(context.Background(), 4, n, func(ctx context.Context, i int) error {
		// Later indices finish first
		time.Sleep(time.Duration(n-i) * time.Millisecond)
		out[i] = i * i
		if i%5 == 0 {
			return errors.New("boom")
		}
		return nil
	})

	if len(errs) != n {
		t.Fatalf("expected %d error slots, got %d", n, len(errs))
	}
	for i := 0; i < n; i++ {
		if out[i] != i*i {
			t.Errorf("slot %d: expected %d, got %d", i, i*i, out[i])
		}
		if (i%5 == 0) != (errs[i] != nil) {
			t.Errorf("slot %d: unexpected error state %v", i, errs[i])
		}
	}
}

func TestRunIndexed_Empty(t *testing.T) {
	called := false
	errs := RunIndexed(context.Background(), 4, 0, func(ctx context.Context, i int) error {
		called = true
		return nil
	})
	if len(errs) != 0 || called {
		t.Errorf("expected no calls and no slots, got %d slots, called=%v", len(errs), called)
	}
}

func TestRunIndexed_CancelledSkipsRemaining(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var ran int32

	errs := RunIndexed(ctx, 1, 10, func(ctx context.Context, i int) error {
		atomic.AddInt32(&ran, 1)
		if i == 2 {
			cancel()
		}
		return nil
	})

	if got := atomic.LoadInt32(&ran); got >= 10 {
		t.Errorf("expected cancellation to skip work, ran %d", got)
	}
	skipped := 0
	for _, err := range errs {
		if errors.Is(err, context.Canceled) {
			skipped++
		}
	}
	if skipped == 0 {
		t.Error("expected skipped indices to report context.Canceled")
	}
	if errs[0] != nil || errs[1] != nil {
		t.Errorf("completed indices must keep their result, got %v %v", errs[0], errs[1])
	}
}

func TestChunk(t *testing.T) {
	tests := []struct {
		name  string
		items []int
		size  int
		want  [][]int
	}{
		{"even", []int{1, 2, 3, 4}, 2, [][]int{{1, 2}, {3, 4}}},
		{"remainder", []int{1, 2, 3, 4, 5}, 2, [][]int{{1, 2}, {3, 4}, {5}}},
		{"larger than input", []int{1, 2}, 10, [][]int{{1, 2}}},
		{"empty", nil, 3, nil},
		{"zero size means one chunk", []int{1, 2, 3}, 0, [][]int{{1, 2, 3}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Chunk(tt.items, tt.size)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Chunk(%v, %d) = %v, want %v", tt.items, tt.size, got, tt.want)
			}
		})
	}
}
