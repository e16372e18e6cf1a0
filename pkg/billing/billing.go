// Package billing computes fiscal billing periods and reduces monthly
// consumption timelines into period totals.
package billing

import (
	"time"

	"github.com/meterbridge/meterbridge/pkg/numeric"
	"github.com/meterbridge/meterbridge/pkg/types"
)

const (
	DefaultFiscalStartMonth = 9
	// DefaultHotWaterFactor converts the portal's hot water kWh figure back
	// into cubic meters.
	DefaultHotWaterFactor = 58.15

	totalPlaces = 2
)

// Config holds the billing settings.
type Config struct {
	// FiscalStartMonth is 1 for January through 12 for December.
	FiscalStartMonth int
	HotWaterFactor   float64
}

// ComputePeriods returns the billing period containing now, the one before
// it and how many months of the current period have started, counting the
// current month.
func ComputePeriods(now time.Time, fiscalStartMonth int) (current, previous types.BillingPeriod, monthsActive int) {
	year, month := now.Year(), int(now.Month())
	if month >= fiscalStartMonth {
		current = types.BillingPeriod{StartYear: year, EndYear: year + 1}
		monthsActive = month - fiscalStartMonth + 1
	} else {
		current = types.BillingPeriod{StartYear: year - 1, EndYear: year}
		monthsActive = (12 - fiscalStartMonth) + month + 1
	}
	previous = types.BillingPeriod{StartYear: current.StartYear - 1, EndYear: current.EndYear - 1}
	return current, previous, monthsActive
}

// SumPeriod sums months entries of timeline, the newest of which is
// offsetFromEnd entries before the last one. A window reaching past the start
// of the timeline sums to 0.
func SumPeriod(timeline []types.TimelineEntry, months, offsetFromEnd int) float64 {
	end := len(timeline) - offsetFromEnd
	start := end - months
	if months <= 0 || start < 0 || end > len(timeline) {
		return 0
	}
	var sum numeric.Accumulator
	for _, e := range timeline[start:end] {
		sum.Add(e.Value)
	}
	return sum.Float64()
}

// ReferenceDeviationPercent compares the actual rows of timeline against its
// reference rows. ok is false when the reference sums to zero.
func ReferenceDeviationPercent(timeline []types.TimelineEntry) (percent float64, ok bool) {
	var actual, reference numeric.Accumulator
	for _, e := range timeline {
		if e.IsReference() {
			reference.Add(e.Value)
		} else {
			actual.Add(e.Value)
		}
	}
	return numeric.Percent(actual.Float64(), reference.Float64())
}

// Summarize builds the period view of one consumption report.
func Summarize(report types.ConsumptionReport, now time.Time, cfg Config) types.PeriodSummary {
	actual := report.ActualTimeline()
	current, previous, monthsActive := ComputePeriods(now, cfg.FiscalStartMonth)

	s := types.PeriodSummary{
		Kind:          report.Kind,
		Current:       current,
		Previous:      previous,
		MonthsActive:  monthsActive,
		CurrentTotal:  SumPeriod(actual, min(monthsActive, len(actual)), 0),
		PreviousTotal: SumPeriod(actual, 12, monthsActive),
	}
	if len(actual)-monthsActive-12 >= 0 {
		s.PreviousFullMonths = 12
	}
	if report.Kind == types.ConsumptionHotWater && cfg.HotWaterFactor > 0 {
		s.CurrentTotal /= cfg.HotWaterFactor
		s.PreviousTotal /= cfg.HotWaterFactor
	}
	s.CurrentTotal = numeric.Round(s.CurrentTotal, totalPlaces)
	s.PreviousTotal = numeric.Round(s.PreviousTotal, totalPlaces)

	if pct, ok := ReferenceDeviationPercent(report.Timeline); ok {
		pct = numeric.Round(pct, totalPlaces)
		s.DeviationPercent = &pct
	}
	return s
}

// ActiveRooms drops rooms without positive consumption; the portal lists
// unused and placeholder devices with zero.
func ActiveRooms(rooms []types.RoomConsumption) []types.RoomConsumption {
	out := make([]types.RoomConsumption, 0, len(rooms))
	for _, r := range rooms {
		if r.Consumption > 0 {
			out = append(out, r)
		}
	}
	return out
}
