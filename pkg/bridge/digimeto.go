package bridge

import (
	"context"
	"errors"
	"time"

	"github.com/meterbridge/meterbridge/pkg/aggregate"
	"github.com/meterbridge/meterbridge/pkg/fetch"
	"github.com/meterbridge/meterbridge/pkg/publish"
	"github.com/meterbridge/meterbridge/pkg/types"
)

// DefaultHistoryDays is how far back the Digimeto series are requested.
const DefaultHistoryDays = 1095

type batchFetcher[T any] interface {
	FetchAll(ctx context.Context, keys []string, start, end time.Time) (map[string]T, fetch.Result, error)
}

// DigimetoPipeline fetches every granularity, normalizes them and renders
// the Digimeto topics.
type DigimetoPipeline struct {
	Fetcher     batchFetcher[types.RawPeriodSeries]
	Engine      *aggregate.Engine
	Catalog     publish.Catalog
	Location    *time.Location
	HistoryDays int
	Every       time.Duration
}

// Name implements Pipeline.
func (p *DigimetoPipeline) Name() string { return "digimeto" }

// Interval implements Pipeline.
func (p *DigimetoPipeline) Interval() time.Duration { return p.Every }

// Poll implements Pipeline.
func (p *DigimetoPipeline) Poll(ctx context.Context, now time.Time) ([]publish.Message, error) {
	if p.Location != nil {
		now = now.In(p.Location)
	}
	days := p.HistoryDays
	if days <= 0 {
		days = DefaultHistoryDays
	}
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, -days)

	keys := make([]string, len(types.AllGranularities))
	for i, g := range types.AllGranularities {
		keys[i] = string(g)
	}
	series, _, fetchErr := p.Fetcher.FetchAll(ctx, keys, start, now)
	if len(series) == 0 {
		if fetchErr == nil {
			fetchErr = errors.New("portal returned no series")
		}
		return nil, fetchErr
	}

	raw := make(map[types.Granularity]types.RawPeriodSeries, len(series))
	for k, s := range series {
		raw[types.Granularity(k)] = s
	}
	reading, aggErr := p.Engine.Normalize(raw, now)
	msgs, err := p.Catalog.Digimeto(reading, p.Engine.Config(), now)
	if err != nil {
		return nil, errors.Join(fetchErr, aggErr, err)
	}
	return msgs, errors.Join(fetchErr, aggErr)
}
