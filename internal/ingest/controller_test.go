package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/capture-cli/internal/sam"
)

// scriptedSource returns one scripted response per call, in order.
type scriptedSource struct {
	steps   []step
	offsets []int
}

type step struct {
	page []int
	err  error
}

func (s *scriptedSource) Name() string { return "scripted" }

func (s *scriptedSource) Fetch(_ context.Context, offset, _ int) ([]int, error) {
	s.offsets = append(s.offsets, offset)
	if len(s.steps) == 0 {
		return nil, nil
	}
	st := s.steps[0]
	s.steps = s.steps[1:]
	return st.page, st.err
}

func keepEven(_ context.Context, v int) (int, bool) { return v, v%2 == 0 }

type sink struct {
	batches [][]int
	failOn  map[int]bool // batch call index -> fail
	calls   int
}

func (s *sink) persist(_ context.Context, items []int) (int64, error) {
	call := s.calls
	s.calls++
	if s.failOn[call] {
		return 0, errors.New("write failed")
	}
	s.batches = append(s.batches, append([]int(nil), items...))
	return int64(len(items)), nil
}

func noSleep(slept *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*slept = append(*slept, d)
		return nil
	}
}

func TestPaginate_RateLimitedPageRetriedAtSameOffset(t *testing.T) {
	var slept []time.Duration
	src := &scriptedSource{steps: []step{
		{page: []int{2, 4}},
		{err: sam.ErrRateLimited},
		{page: []int{6, 8}},
		{page: nil},
	}}
	out := &sink{}

	rep := Paginate(context.Background(), Controller{PageSize: 2, BatchSize: 10, Backoff: 10 * time.Second, Sleep: noSleep(&slept)},
		src, keepEven, out.persist)

	assert.Equal(t, []int{0, 2, 2, 4}, src.offsets)
	assert.Equal(t, []time.Duration{10 * time.Second}, slept)
	assert.Equal(t, 1, rep.RateLimited)
	assert.Equal(t, 2, rep.Pages)
	assert.Equal(t, 4, rep.Fetched)
	assert.Equal(t, int64(4), rep.Upserted)
	assert.False(t, rep.Aborted)
	assert.Equal(t, [][]int{{2, 4}, {6, 8}}, out.batches)
}

func TestPaginate_ErrorAbortsKeepingEarlierBatches(t *testing.T) {
	src := &scriptedSource{steps: []step{
		{page: []int{2, 4}},
		{err: errors.New("connection refused")},
		{page: []int{6}},
	}}
	out := &sink{}

	rep := Paginate(context.Background(), Controller{PageSize: 2}, src, keepEven, out.persist)

	require.True(t, rep.Aborted)
	assert.Contains(t, rep.Error(), "connection refused")
	assert.Equal(t, int64(2), rep.Upserted)
	assert.Equal(t, []int{0, 2}, src.offsets)
}

func TestPaginate_SkipsAndBatches(t *testing.T) {
	src := &scriptedSource{steps: []step{
		{page: []int{1, 2, 3, 4, 6}},
	}}
	out := &sink{}

	rep := Paginate(context.Background(), Controller{PageSize: 5, BatchSize: 2}, src, keepEven, out.persist)

	assert.Equal(t, 5, rep.Fetched)
	assert.Equal(t, 3, rep.Normalized)
	assert.Equal(t, 2, rep.Skipped)
	assert.Equal(t, [][]int{{2, 4}, {6}}, out.batches)
}

func TestPaginate_FailedBatchDroppedAndCounted(t *testing.T) {
	src := &scriptedSource{steps: []step{
		{page: []int{2, 4, 6, 8}},
	}}
	out := &sink{failOn: map[int]bool{0: true}}

	rep := Paginate(context.Background(), Controller{PageSize: 4, BatchSize: 2}, src, keepEven, out.persist)

	assert.Equal(t, 1, rep.FailedBatches)
	assert.Equal(t, int64(2), rep.Upserted)
	assert.Equal(t, [][]int{{6, 8}}, out.batches)
	assert.False(t, rep.Aborted)
}

func TestPaginate_CancelledDuringBackoff(t *testing.T) {
	src := &scriptedSource{steps: []step{{err: sam.ErrRateLimited}}}
	sleep := func(context.Context, time.Duration) error { return context.Canceled }

	rep := Paginate(context.Background(), Controller{Sleep: sleep}, src, keepEven, (&sink{}).persist)

	require.True(t, rep.Aborted)
	assert.ErrorIs(t, rep.Err, context.Canceled)
	assert.Equal(t, 1, rep.RateLimited)
}

func TestPaginate_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := &scriptedSource{}

	rep := Paginate(ctx, Controller{}, src, keepEven, (&sink{}).persist)
	assert.True(t, rep.Aborted)
	assert.Empty(t, src.offsets)
}

func TestControllerDefaults(t *testing.T) {
	c := Controller{}.withDefaults()
	assert.Equal(t, DefaultPageSize, c.PageSize)
	assert.Equal(t, DefaultBatchSize, c.BatchSize)
	assert.Equal(t, DefaultBackoff, c.Backoff)
	assert.NotNil(t, c.Sleep)
}
