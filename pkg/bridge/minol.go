package bridge

import (
	"context"
	"errors"
	"time"

	"github.com/meterbridge/meterbridge/pkg/billing"
	"github.com/meterbridge/meterbridge/pkg/publish"
	"github.com/meterbridge/meterbridge/pkg/types"
)

// DefaultMonthsBack is how many months of Minol data are requested. The
// previous billing period needs up to 23 of them.
const DefaultMonthsBack = 24

// MinolPipeline fetches every consumption kind and renders customer, period
// and room sensors.
type MinolPipeline struct {
	Fetcher    batchFetcher[types.ConsumptionReport]
	Billing    billing.Config
	Catalog    publish.Catalog
	Location   *time.Location
	MonthsBack int
	Every      time.Duration
}

// Name implements Pipeline.
func (p *MinolPipeline) Name() string { return "minol" }

// Interval implements Pipeline.
func (p *MinolPipeline) Interval() time.Duration { return p.Every }

// Poll implements Pipeline.
func (p *MinolPipeline) Poll(ctx context.Context, now time.Time) ([]publish.Message, error) {
	if p.Location != nil {
		now = now.In(p.Location)
	}
	months := p.MonthsBack
	if months <= 0 {
		months = DefaultMonthsBack
	}
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).AddDate(0, -months, 0)

	keys := make([]string, len(types.AllConsumptionKinds))
	for i, k := range types.AllConsumptionKinds {
		keys[i] = string(k)
	}
	reports, res, fetchErr := p.Fetcher.FetchAll(ctx, keys, start, now)
	if len(reports) == 0 {
		if fetchErr == nil {
			fetchErr = errors.New("portal returned no reports")
		}
		return nil, fetchErr
	}

	state := publish.MinolState{Customer: res.Identifiers.Customer}
	for _, kind := range types.AllConsumptionKinds {
		r, ok := reports[string(kind)]
		if !ok {
			continue
		}
		state.Periods = append(state.Periods, billing.Summarize(r, now, p.Billing))
		r.Rooms = billing.ActiveRooms(r.Rooms)
		state.Reports = append(state.Reports, r)
	}
	msgs, err := p.Catalog.Minol(state)
	if err != nil {
		return nil, errors.Join(fetchErr, err)
	}
	return msgs, fetchErr
}
