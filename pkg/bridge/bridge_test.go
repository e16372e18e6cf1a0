package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meterbridge/meterbridge/pkg/publish"
)

type fakeSink struct {
	mu         sync.Mutex
	connectErr error
	publishErr error
	published  [][]publish.Message
	connected  bool
	closed     bool
}

func (s *fakeSink) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connectErr != nil {
		return s.connectErr
	}
	s.connected = true
	return nil
}

func (s *fakeSink) Publish(ctx context.Context, msgs []publish.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.published = append(s.published, msgs)
	return s.publishErr
}

func (s *fakeSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type fakePipeline struct {
	name  string
	msgs  []publish.Message
	err   error
	polls chan time.Time
}

func (p *fakePipeline) Name() string            { return p.name }
func (p *fakePipeline) Interval() time.Duration { return time.Hour }

func (p *fakePipeline) Poll(ctx context.Context, now time.Time) ([]publish.Message, error) {
	if _, ok := ctx.Deadline(); !ok {
		return nil, errors.New("cycle without deadline")
	}
	if p.polls != nil {
		p.polls <- now
	}
	return p.msgs, p.err
}

func TestCycle(t *testing.T) {
	ctx := context.Background()
	msgs := []publish.Message{{Topic: "digimeto/data", Payload: []byte("{}"), Retain: true}}

	t.Run("Success", func(t *testing.T) {
		sink := &fakeSink{}
		p := &fakePipeline{name: "digimeto", msgs: msgs}
		b := New(sink, time.Minute, p)
		now := time.Date(2025, 1, 5, 12, 0, 0, 0, time.UTC)
		b.now = func() time.Time { return now }

		require.NoError(t, b.Cycle(ctx, p))
		require.Len(t, sink.published, 1)
		assert.Equal(t, msgs, sink.published[0])

		st := b.Statuses()
		require.Len(t, st, 1)
		assert.Equal(t, "digimeto", st[0].Pipeline)
		assert.Equal(t, now, st[0].LastRun)
		assert.Equal(t, now, st[0].LastSuccess)
		assert.Empty(t, st[0].LastError)
		assert.Equal(t, 1, st[0].Messages)
		assert.NotEmpty(t, st[0].Cycle)
	})

	t.Run("PartialResultsArePublished", func(t *testing.T) {
		sink := &fakeSink{}
		p := &fakePipeline{name: "digimeto", msgs: msgs}
		b := New(sink, time.Minute, p)
		first := time.Date(2025, 1, 5, 12, 0, 0, 0, time.UTC)
		b.now = func() time.Time { return first }
		require.NoError(t, b.Cycle(ctx, p))

		second := first.Add(time.Hour)
		b.now = func() time.Time { return second }
		p.err = errors.New("years: fetch failed")
		err := b.Cycle(ctx, p)
		require.Error(t, err)
		assert.Len(t, sink.published, 2)

		st := b.Statuses()[0]
		assert.Equal(t, second, st.LastRun)
		assert.Equal(t, first, st.LastSuccess)
		assert.Equal(t, "years: fetch failed", st.LastError)
	})

	t.Run("NothingToPublish", func(t *testing.T) {
		sink := &fakeSink{}
		p := &fakePipeline{name: "minol", err: errors.New("login failed")}
		b := New(sink, time.Minute, p)
		assert.Error(t, b.Cycle(ctx, p))
		assert.Empty(t, sink.published)
		assert.True(t, b.Statuses()[0].LastSuccess.IsZero())
	})

	t.Run("PublishFailure", func(t *testing.T) {
		cause := errors.New("broker gone")
		sink := &fakeSink{publishErr: cause}
		p := &fakePipeline{name: "digimeto", msgs: msgs}
		b := New(sink, time.Minute, p)
		err := b.Cycle(ctx, p)
		assert.ErrorIs(t, err, cause)
		assert.Equal(t, "broker gone", b.Statuses()[0].LastError)
	})
}

func TestStatusesSorted(t *testing.T) {
	b := New(&fakeSink{}, 0, &fakePipeline{name: "minol"}, &fakePipeline{name: "digimeto"})
	st := b.Statuses()
	require.Len(t, st, 2)
	assert.Equal(t, "digimeto", st[0].Pipeline)
	assert.Equal(t, "minol", st[1].Pipeline)
	assert.Equal(t, DefaultCycleTimeout, b.cycleTimeout)
}

func TestRun(t *testing.T) {
	t.Run("NoPipelines", func(t *testing.T) {
		assert.Error(t, New(&fakeSink{}, time.Minute).Run(context.Background()))
	})

	t.Run("ConnectFailure", func(t *testing.T) {
		cause := errors.New("refused")
		p := &fakePipeline{name: "digimeto"}
		err := New(&fakeSink{connectErr: cause}, time.Minute, p).Run(context.Background())
		assert.ErrorIs(t, err, cause)
	})

	t.Run("PollsImmediatelyAndStops", func(t *testing.T) {
		sink := &fakeSink{}
		digimeto := &fakePipeline{name: "digimeto", polls: make(chan time.Time, 1)}
		minol := &fakePipeline{name: "minol", polls: make(chan time.Time, 1)}
		b := New(sink, time.Minute, digimeto, minol)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- b.Run(ctx) }()

		for _, ch := range []chan time.Time{digimeto.polls, minol.polls} {
			select {
			case <-ch:
			case <-time.After(5 * time.Second):
				t.Fatal("pipeline was not polled")
			}
		}
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("Run did not return")
		}
		assert.True(t, sink.connected)
		assert.True(t, sink.closed)
	})
	t.Run("IdleGapAfterSlowCycle", func(t *testing.T) {
		p := &slowPipeline{interval: 50 * time.Millisecond, work: 80 * time.Millisecond}
		b := New(&fakeSink{}, time.Minute, p)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- b.Run(ctx) }()

		require.Eventually(t, func() bool { return p.count() >= 3 }, 5*time.Second, 10*time.Millisecond)
		cancel()
		require.NoError(t, <-done)

		p.mu.Lock()
		defer p.mu.Unlock()
		for i := 1; i < len(p.starts) && i < len(p.ends); i++ {
			assert.GreaterOrEqual(t, p.starts[i].Sub(p.ends[i-1]), p.interval)
		}
	})
}

// slowPipeline records when each poll starts and finishes.
type slowPipeline struct {
	mu       sync.Mutex
	interval time.Duration
	work     time.Duration
	starts   []time.Time
	ends     []time.Time
}

func (p *slowPipeline) Name() string            { return "slow" }
func (p *slowPipeline) Interval() time.Duration { return p.interval }

func (p *slowPipeline) Poll(ctx context.Context, now time.Time) ([]publish.Message, error) {
	p.mu.Lock()
	p.starts = append(p.starts, time.Now())
	p.mu.Unlock()
	time.Sleep(p.work)
	p.mu.Lock()
	p.ends = append(p.ends, time.Now())
	p.mu.Unlock()
	return nil, nil
}

func (p *slowPipeline) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.starts)
}
