package types

import "strings"

// Granularity is the sampling period of a raw series as the portal names it.
type Granularity string

const (
	GranularityQuarterHour Granularity = "15mins"
	GranularityDay         Granularity = "days"
	GranularityMonth       Granularity = "months"
	GranularityYear        Granularity = "years"
)

// AllGranularities is the set requested every cycle, finest first.
var AllGranularities = []Granularity{
	GranularityQuarterHour,
	GranularityDay,
	GranularityMonth,
	GranularityYear,
}

// Sample is one (timestamp, value) pair. Timestamps are kept as the portal
// sent them (ISO-8601 with offset) so date comparisons happen in the portal's
// local calendar. A nil Value means the portal sent null.
type Sample struct {
	Timestamp string
	Value     *float64
}

// Date returns the calendar date part (YYYY-MM-DD) of the timestamp.
func (s Sample) Date() string {
	d, _, _ := strings.Cut(s.Timestamp, "T")
	return d
}

// YearPrefix returns everything before the first '-' of the timestamp.
func (s Sample) YearPrefix() string {
	y, _, _ := strings.Cut(s.Timestamp, "-")
	return y
}

// SeriesDetails is metering point metadata the portal attaches to a series.
type SeriesDetails struct {
	MaloID       string `json:"maloId"`
	MetPointName string `json:"metpoint"`
	Unit         string `json:"unit"`
	OBIS         string `json:"mq"`
}

// RawPeriodSeries is one portal series in ascending time order; the last
// sample is the most recent.
type RawPeriodSeries struct {
	Granularity Granularity
	Samples     []Sample
	Details     *SeriesDetails
}
