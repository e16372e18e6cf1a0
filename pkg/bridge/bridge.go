// Package bridge runs the portal pipelines on a schedule and hands their
// messages to the publish sink.
package bridge

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/meterbridge/meterbridge/pkg/log"
	"github.com/meterbridge/meterbridge/pkg/publish"
)

// DefaultCycleTimeout bounds one poll cycle.
const DefaultCycleTimeout = 10 * time.Minute

// Pipeline is one portal's poll cycle. Poll may return messages together
// with an error when only part of the data could be produced.
type Pipeline interface {
	Name() string
	Interval() time.Duration
	Poll(ctx context.Context, now time.Time) ([]publish.Message, error)
}

// Status is the outcome of a pipeline's most recent cycle.
type Status struct {
	Pipeline    string    `json:"pipeline"`
	Cycle       string    `json:"cycle,omitempty"`
	LastRun     time.Time `json:"lastRun,omitzero"`
	LastSuccess time.Time `json:"lastSuccess,omitzero"`
	LastError   string    `json:"lastError,omitempty"`
	Messages    int       `json:"messages"`
}

// Bridge schedules pipelines. Cycles of one pipeline never overlap; different
// pipelines run independently.
type Bridge struct {
	pipelines    []Pipeline
	sink         publish.Sink
	cycleTimeout time.Duration
	now          func() time.Time

	mu     sync.Mutex
	status map[string]Status
}

// New returns a Bridge publishing to sink.
func New(sink publish.Sink, cycleTimeout time.Duration, pipelines ...Pipeline) *Bridge {
	b := &Bridge{}
	b.setup(sink, cycleTimeout, pipelines)
	return b
}

func (b *Bridge) setup(sink publish.Sink, cycleTimeout time.Duration, pipelines []Pipeline) {
	b.pipelines = pipelines
	b.sink = sink
	b.cycleTimeout = cycleTimeout
	if b.cycleTimeout <= 0 {
		b.cycleTimeout = DefaultCycleTimeout
	}
	b.now = time.Now
	b.status = make(map[string]Status, len(pipelines))
	for _, p := range pipelines {
		b.status[p.Name()] = Status{Pipeline: p.Name()}
	}
}

// Run connects the sink and polls every pipeline until ctx is done.
func (b *Bridge) Run(ctx context.Context) error {
	if len(b.pipelines) == 0 {
		return errors.New("no pipelines enabled")
	}
	if err := b.sink.Connect(ctx); err != nil {
		return err
	}
	defer func() {
		if err := b.sink.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close sink", slog.Any("error", err))
		}
	}()

	eg, ctx := errgroup.WithContext(ctx)
	for _, p := range b.pipelines {
		eg.Go(func() error {
			b.loop(ctx, p)
			return nil
		})
	}
	return eg.Wait()
}

// loop waits a full interval after each cycle finishes, so a slow portal
// never causes back-to-back cycles.
func (b *Bridge) loop(ctx context.Context, p Pipeline) {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		b.Cycle(ctx, p)
		timer.Reset(p.Interval())
	}
}

// Cycle runs one poll of p and publishes whatever it produced. Errors are
// logged and recorded in the status; they never stop the schedule.
func (b *Bridge) Cycle(ctx context.Context, p Pipeline) error {
	id := uuid.NewString()
	ctx = log.WithAttrs(ctx, slog.String("pipeline", p.Name()), slog.String("cycle", id))
	ctx, cancel := context.WithTimeout(ctx, b.cycleTimeout)
	defer cancel()

	started := b.now()
	log.Ctx(ctx).InfoContext(ctx, "starting cycle")

	msgs, err := p.Poll(ctx, started)
	if len(msgs) > 0 {
		if perr := b.sink.Publish(ctx, msgs); perr != nil {
			err = errors.Join(err, perr)
		}
	}

	st := Status{
		Pipeline: p.Name(),
		Cycle:    id,
		LastRun:  started,
		Messages: len(msgs),
	}
	b.mu.Lock()
	st.LastSuccess = b.status[p.Name()].LastSuccess
	if err != nil {
		st.LastError = err.Error()
	} else {
		st.LastSuccess = started
	}
	b.status[p.Name()] = st
	b.mu.Unlock()

	if err != nil {
		log.Ctx(ctx).ErrorContext(
			ctx,
			"cycle failed",
			slog.Int("messages", len(msgs)),
			slog.Duration("took", b.now().Sub(started)),
			slog.Any("error", err),
		)
		return err
	}
	log.Ctx(ctx).InfoContext(
		ctx,
		"cycle finished",
		slog.Int("messages", len(msgs)),
		slog.Duration("took", b.now().Sub(started)),
	)
	return nil
}

// Statuses returns the status of every pipeline sorted by name.
func (b *Bridge) Statuses() []Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Status, 0, len(b.status))
	for _, st := range b.status {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pipeline < out[j].Pipeline })
	return out
}
