package aggregate

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/meterbridge/meterbridge/pkg/billing"
	"github.com/meterbridge/meterbridge/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var cet = time.FixedZone("CET", 3600)

func ptr(v float64) *float64 {
	return &v
}

func series(g types.Granularity, first time.Time, step func(time.Time, int) time.Time, values ...*float64) types.RawPeriodSeries {
	s := types.RawPeriodSeries{Granularity: g}
	for i, v := range values {
		s.Samples = append(s.Samples, types.Sample{
			Timestamp: step(first, i).Format("2006-01-02T15:04:05-07:00"),
			Value:     v,
		})
	}
	return s
}

func daily(t time.Time, i int) time.Time   { return t.AddDate(0, 0, i) }
func monthly(t time.Time, i int) time.Time { return t.AddDate(0, i, 0) }
func yearly(t time.Time, i int) time.Time  { return t.AddDate(i, 0, 0) }
func quarter(t time.Time, i int) time.Time { return t.Add(time.Duration(i) * 15 * time.Minute) }

func values(vs ...float64) []*float64 {
	out := make([]*float64, len(vs))
	for i, v := range vs {
		out[i] = ptr(v)
	}
	return out
}

func TestNormalize(t *testing.T) {
	e := New(Config{})
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, cet)

	t.Run("DaysMostRecentFirst", func(t *testing.T) {
		raw := map[types.Granularity]types.RawPeriodSeries{
			types.GranularityDay: series(types.GranularityDay, time.Date(2025, 2, 28, 0, 0, 0, 0, cet), daily,
				values(1.1111, 2.2222, 3.3333, 4.4444, 5.5555, 6.6666, 7.7777, 8.8888, 9.9999)...),
		}
		r, err := e.Normalize(raw, now)
		require.NoError(t, err)
		require.Len(t, r.History.Days, 7)
		expected := []float64{10.0, 8.889, 7.778, 6.667, 5.556, 4.444, 3.333}
		for i, v := range expected {
			assert.Equal(t, v, r.History.Days[types.DayKey(i+1)], "day_%d", i+1)
		}
		assert.Equal(t, 10.0, r.Consumption.DaysLast)
	})

	t.Run("ShortMonthsHaveNoPhantomKeys", func(t *testing.T) {
		raw := map[types.Granularity]types.RawPeriodSeries{
			types.GranularityMonth: series(types.GranularityMonth, time.Date(2024, 11, 1, 0, 0, 0, 0, cet), monthly,
				values(100, 200, 300, 400, 500)...),
		}
		r, err := e.Normalize(raw, now)
		require.NoError(t, err)
		assert.Len(t, r.History.Months, 5)
		assert.Equal(t, 500.0, r.History.Months["month_1"])
		assert.Equal(t, 100.0, r.History.Months["month_5"])
		assert.NotContains(t, r.History.Months, "month_6")
	})

	t.Run("MonthsWindow", func(t *testing.T) {
		vs := make([]float64, 20)
		for i := range vs {
			vs[i] = float64(i + 1)
		}
		raw := map[types.Granularity]types.RawPeriodSeries{
			types.GranularityMonth: series(types.GranularityMonth, time.Date(2023, 8, 1, 0, 0, 0, 0, cet), monthly, values(vs...)...),
		}
		r, err := e.Normalize(raw, now)
		require.NoError(t, err)
		assert.Len(t, r.History.Months, 13)
		assert.Equal(t, 20.0, r.History.Months["month_1"])
		assert.Equal(t, 8.0, r.History.Months["month_13"])
	})

	t.Run("YearsWithLabels", func(t *testing.T) {
		s := series(types.GranularityYear, time.Date(2021, 1, 1, 0, 0, 0, 0, cet), yearly, values(1000, 2000, 3000, 4000.12345, 5000)...)
		s.Samples[2].Timestamp = "garbage"
		raw := map[types.Granularity]types.RawPeriodSeries{types.GranularityYear: s}

		r, err := e.Normalize(raw, now)
		require.NoError(t, err)
		require.Len(t, r.History.Years, 3)
		assert.Equal(t, types.YearValue{Value: 5000, Year: types.ParsedYear(2025)}, r.History.Years["year_1"])
		assert.Equal(t, types.YearValue{Value: 4000.123, Year: types.ParsedYear(2024)}, r.History.Years["year_2"])
		assert.Equal(t, types.UnknownYear(), r.History.Years["year_3"].Year)
		assert.Equal(t, types.YearLabelUnknown, r.History.Years["year_3"].Year.String())
		assert.Equal(t, 5000.0, r.Meter.Reading)
		assert.Equal(t, 5000.0, r.Consumption.YearsLast)
	})

	t.Run("QuarterHours", func(t *testing.T) {
		// 8 samples yesterday evening, 4 today
		start := time.Date(2025, 3, 9, 22, 0, 0, 0, cet)
		vs := values(1, 1, 1, 1, 1, 1, 1, 1, 0.1, 0.2, 0.3, 0.123)
		raw := map[types.Granularity]types.RawPeriodSeries{
			types.GranularityQuarterHour: series(types.GranularityQuarterHour, start, quarter, vs...),
		}
		r, err := e.Normalize(raw, now)
		require.NoError(t, err)
		assert.Equal(t, 492.0, r.Consumption.Current)
		assert.Equal(t, 0.723, r.Consumption.Today)
	})

	t.Run("TodayWindowBound", func(t *testing.T) {
		small := New(Config{TodayWindow: 2})
		start := time.Date(2025, 3, 10, 0, 0, 0, 0, cet)
		raw := map[types.Granularity]types.RawPeriodSeries{
			types.GranularityQuarterHour: series(types.GranularityQuarterHour, start, quarter, values(5, 1, 2)...),
		}
		r, err := small.Normalize(raw, now)
		require.NoError(t, err)
		assert.Equal(t, 3.0, r.Consumption.Today)
	})

	t.Run("MissingGranularities", func(t *testing.T) {
		r, err := e.Normalize(nil, now)
		require.NoError(t, err)
		assert.Equal(t, types.Consumption{}, r.Consumption)
		assert.Empty(t, r.History.Days)
		assert.NotNil(t, r.History.Days)
		assert.Empty(t, r.History.Months)
		assert.Empty(t, r.History.Years)
		assert.Equal(t, now, r.Timestamp)

		r, err = e.Normalize(map[types.Granularity]types.RawPeriodSeries{
			types.GranularityDay: {Granularity: types.GranularityDay},
		}, now)
		require.NoError(t, err)
		assert.Empty(t, r.History.Days)
	})

	t.Run("NullValuesDegradeOneGranularity", func(t *testing.T) {
		days := values(1, 2, 3)
		days[1] = nil
		raw := map[types.Granularity]types.RawPeriodSeries{
			types.GranularityDay:   series(types.GranularityDay, time.Date(2025, 3, 7, 0, 0, 0, 0, cet), daily, days...),
			types.GranularityMonth: series(types.GranularityMonth, time.Date(2025, 2, 1, 0, 0, 0, 0, cet), monthly, values(10, 20)...),
		}
		r, err := e.Normalize(raw, now)
		assert.ErrorIs(t, err, types.ErrAggregation)
		assert.Empty(t, r.History.Days)
		assert.Equal(t, 0.0, r.Consumption.CurrentYear)
		// the latest day itself is fine
		assert.Equal(t, 3.0, r.Consumption.DaysLast)
		assert.Len(t, r.History.Months, 2)
	})

	t.Run("MeterDetails", func(t *testing.T) {
		d := series(types.GranularityDay, time.Date(2025, 3, 9, 0, 0, 0, 0, cet), daily, values(1)...)
		d.Details = &types.SeriesDetails{MaloID: "DAY", MetPointName: "mp", Unit: "kWh", OBIS: "1.8.0"}
		q := series(types.GranularityQuarterHour, now, quarter, values(0.1)...)
		q.Details = &types.SeriesDetails{MaloID: "QUARTER", Unit: "kWh"}
		r, err := e.Normalize(map[types.Granularity]types.RawPeriodSeries{
			types.GranularityDay:         d,
			types.GranularityQuarterHour: q,
		}, now)
		require.NoError(t, err)
		assert.Equal(t, "QUARTER", r.Meter.MaloID)
	})

	t.Run("Idempotent", func(t *testing.T) {
		raw := map[types.Granularity]types.RawPeriodSeries{
			types.GranularityQuarterHour: series(types.GranularityQuarterHour, time.Date(2025, 3, 10, 0, 0, 0, 0, cet), quarter, values(0.1, 0.2, 0.3)...),
			types.GranularityDay:         series(types.GranularityDay, time.Date(2025, 2, 1, 0, 0, 0, 0, cet), daily, values(1.5, 2.5, 3.5, 4.5, 5.5, 6.5, 7.5, 8.5)...),
			types.GranularityMonth:       series(types.GranularityMonth, time.Date(2024, 1, 1, 0, 0, 0, 0, cet), monthly, values(10, 20, 30, 40, 50, 60, 70, 80, 90, 100, 110, 120, 130, 140)...),
			types.GranularityYear:        series(types.GranularityYear, time.Date(2023, 1, 1, 0, 0, 0, 0, cet), yearly, values(1000, 2000, 3000)...),
		}
		r1, err := e.Normalize(raw, now)
		require.NoError(t, err)
		r2, err := e.Normalize(raw, now)
		require.NoError(t, err)

		b1, err := json.Marshal(r1)
		require.NoError(t, err)
		b2, err := json.Marshal(r2)
		require.NoError(t, err)
		assert.Equal(t, string(b1), string(b2))
		assert.Contains(t, string(b1), `"year":"2025"`)
	})
}

func TestEndToEndDailySeries(t *testing.T) {
	e := New(Config{})
	// ten days straddling new year, five of them in the current year
	first := time.Date(2024, 12, 27, 0, 0, 0, 0, cet)
	now := time.Date(2025, 1, 5, 18, 0, 0, 0, cet)
	raw := map[types.Granularity]types.RawPeriodSeries{
		types.GranularityDay: series(types.GranularityDay, first, daily, values(1, 2, 3, 4, 5, 6, 7, 8, 9, 10)...),
	}

	r, err := e.Normalize(raw, now)
	require.NoError(t, err)
	assert.Equal(t, 6.0+7+8+9+10, r.Consumption.CurrentYear)
	assert.Equal(t, 10.0, r.History.Days["day_1"])
	assert.Equal(t, 4.0, r.History.Days["day_7"])

	current, _, monthsActive := billing.ComputePeriods(now, 1)
	assert.Equal(t, types.BillingPeriod{StartYear: 2025, EndYear: 2026}, current)
	assert.Equal(t, 1, monthsActive)
}

func ExampleEngine_Normalize() {
	e := New(Config{})
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	raw := map[types.Granularity]types.RawPeriodSeries{
		types.GranularityDay: {
			Granularity: types.GranularityDay,
			Samples: []types.Sample{
				{Timestamp: "2025-03-08T00:00:00+01:00", Value: ptr(4.2)},
				{Timestamp: "2025-03-09T00:00:00+01:00", Value: ptr(5.1234)},
			},
		},
	}
	r, _ := e.Normalize(raw, now)
	fmt.Println(r.History.Days["day_1"], r.History.Days["day_2"], r.Consumption.CurrentYear)
	// Output: 5.123 4.2 9.323
}
