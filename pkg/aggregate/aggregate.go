// Package aggregate reduces raw period series into a NormalizedReading with
// fixed size, rank keyed histories.
package aggregate

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/meterbridge/meterbridge/pkg/numeric"
	"github.com/meterbridge/meterbridge/pkg/types"
)

const (
	DefaultDayWindow   = 7
	DefaultMonthWindow = 13
	DefaultYearWindow  = 3
	// DefaultTodayWindow is one day of quarter hour samples plus slack.
	DefaultTodayWindow = 150
	// DefaultScaleFactor turns a 15 minute kWh value into watts.
	DefaultScaleFactor = 4000

	valuePlaces = 3
)

// Config holds the window sizes. Zero values select the defaults.
type Config struct {
	DayWindow   int
	MonthWindow int
	YearWindow  int
	TodayWindow int
	ScaleFactor float64
}

// Engine is stateless; every call starts from scratch.
type Engine struct {
	cfg Config
}

// New returns an Engine, filling unset config values with defaults.
func New(cfg Config) *Engine {
	if cfg.DayWindow <= 0 {
		cfg.DayWindow = DefaultDayWindow
	}
	if cfg.MonthWindow <= 0 {
		cfg.MonthWindow = DefaultMonthWindow
	}
	if cfg.YearWindow <= 0 {
		cfg.YearWindow = DefaultYearWindow
	}
	if cfg.TodayWindow <= 0 {
		cfg.TodayWindow = DefaultTodayWindow
	}
	if cfg.ScaleFactor <= 0 {
		cfg.ScaleFactor = DefaultScaleFactor
	}
	return &Engine{cfg: cfg}
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Normalize builds a reading from whatever granularities are present. It
// never fails outright: a metric whose input contains nulls is left at its
// zero value and reported in the returned error, which wraps
// types.ErrAggregation. The reading is always usable.
func (e *Engine) Normalize(raw map[types.Granularity]types.RawPeriodSeries, now time.Time) (types.NormalizedReading, error) {
	r := types.NormalizedReading{
		Timestamp: now,
		History: types.History{
			Days:   map[string]float64{},
			Months: map[string]float64{},
			Years:  map[string]types.YearValue{},
		},
	}
	var errs []error

	for _, g := range types.AllGranularities {
		s, ok := raw[g]
		if !ok {
			continue
		}
		if s.Details != nil && r.Meter.MaloID == "" {
			r.Meter.MaloID = s.Details.MaloID
			r.Meter.MetPoint = s.Details.MetPointName
			r.Meter.Unit = s.Details.Unit
			r.Meter.MQ = s.Details.OBIS
		}
		if len(s.Samples) == 0 {
			continue
		}
		switch g {
		case types.GranularityQuarterHour:
			errs = append(errs, e.quarterHours(&r, s.Samples, now)...)
		case types.GranularityDay:
			errs = append(errs, e.days(&r, s.Samples, now)...)
		case types.GranularityMonth:
			errs = append(errs, e.months(&r, s.Samples)...)
		case types.GranularityYear:
			errs = append(errs, e.years(&r, s.Samples)...)
		}
	}
	return r, errors.Join(errs...)
}

func (e *Engine) quarterHours(r *types.NormalizedReading, samples []types.Sample, now time.Time) []error {
	var errs []error

	last := samples[len(samples)-1]
	if last.Value == nil {
		errs = append(errs, nullError(types.GranularityQuarterHour, "current", last))
	} else {
		r.Consumption.Current = numeric.Round(*last.Value*e.cfg.ScaleFactor, 0)
	}

	today := now.Format(time.DateOnly)
	var sum numeric.Accumulator
	var todayErr error
	for _, s := range tail(samples, e.cfg.TodayWindow) {
		if s.Date() != today {
			continue
		}
		if s.Value == nil {
			todayErr = nullError(types.GranularityQuarterHour, "today", s)
			break
		}
		sum.Add(*s.Value)
	}
	if todayErr != nil {
		errs = append(errs, todayErr)
	} else {
		r.Consumption.Today = numeric.Round(sum.Float64(), valuePlaces)
	}
	return errs
}

func (e *Engine) days(r *types.NormalizedReading, samples []types.Sample, now time.Time) []error {
	var errs []error

	if vals, err := recentFirst(types.GranularityDay, tail(samples, e.cfg.DayWindow)); err != nil {
		errs = append(errs, err)
	} else {
		for i, v := range vals {
			r.History.Days[types.DayKey(i+1)] = numeric.Round(v, valuePlaces)
		}
	}

	last := samples[len(samples)-1]
	if last.Value == nil {
		errs = append(errs, nullError(types.GranularityDay, "days_last", last))
	} else {
		r.Consumption.DaysLast = numeric.Round(*last.Value, valuePlaces)
	}

	// calendar year on purpose, billing periods are computed separately
	year := strconv.Itoa(now.Year())
	var sum numeric.Accumulator
	var yearErr error
	for _, s := range samples {
		if s.YearPrefix() != year {
			continue
		}
		if s.Value == nil {
			yearErr = nullError(types.GranularityDay, "current_year", s)
			break
		}
		sum.Add(*s.Value)
	}
	if yearErr != nil {
		errs = append(errs, yearErr)
	} else {
		r.Consumption.CurrentYear = numeric.Round(sum.Float64(), valuePlaces)
	}
	return errs
}

func (e *Engine) months(r *types.NormalizedReading, samples []types.Sample) []error {
	vals, err := recentFirst(types.GranularityMonth, tail(samples, e.cfg.MonthWindow))
	if err != nil {
		return []error{err}
	}
	for i, v := range vals {
		r.History.Months[types.MonthKey(i+1)] = numeric.Round(v, valuePlaces)
	}
	return nil
}

func (e *Engine) years(r *types.NormalizedReading, samples []types.Sample) []error {
	var errs []error

	window := tail(samples, e.cfg.YearWindow)
	if vals, err := recentFirst(types.GranularityYear, window); err != nil {
		errs = append(errs, err)
	} else {
		for i, v := range vals {
			s := window[len(window)-1-i]
			r.History.Years[types.YearKey(i+1)] = types.YearValue{
				Value: numeric.Round(v, valuePlaces),
				Year:  types.ParseYearLabel(s.Timestamp),
			}
		}
	}

	last := samples[len(samples)-1]
	if last.Value == nil {
		errs = append(errs, nullError(types.GranularityYear, "reading", last))
	} else {
		r.Meter.Reading = numeric.Round(*last.Value, valuePlaces)
		r.Consumption.YearsLast = r.Meter.Reading
	}
	return errs
}

// tail returns the last n samples.
func tail(samples []types.Sample, n int) []types.Sample {
	if len(samples) > n {
		return samples[len(samples)-n:]
	}
	return samples
}

// recentFirst returns the window's values newest first, failing on the first
// null.
func recentFirst(g types.Granularity, window []types.Sample) ([]float64, error) {
	out := make([]float64, 0, len(window))
	for i := len(window) - 1; i >= 0; i-- {
		if window[i].Value == nil {
			return nil, nullError(g, "history", window[i])
		}
		out = append(out, *window[i].Value)
	}
	return out, nil
}

func nullError(g types.Granularity, metric string, s types.Sample) error {
	return fmt.Errorf("%w: %s %s: null value at %q", types.ErrAggregation, g, metric, s.Timestamp)
}
