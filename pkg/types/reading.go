package types

import (
	"encoding/json"
	"strconv"
	"time"
)

// YearLabelUnknown is displayed when a year could not be parsed.
const YearLabelUnknown = "unknown"

// YearLabel is either a parsed year or explicitly unknown.
type YearLabel struct {
	year  int
	known bool
}

// ParsedYear returns a known YearLabel.
func ParsedYear(year int) YearLabel {
	return YearLabel{year: year, known: true}
}

// UnknownYear returns the fallback YearLabel.
func UnknownYear() YearLabel {
	return YearLabel{}
}

// ParseYearLabel parses the leading year of a timestamp like
// "2024-01-01T00:00:00+01:00".
func ParseYearLabel(timestamp string) YearLabel {
	s := Sample{Timestamp: timestamp}.YearPrefix()
	if len(s) != 4 {
		return UnknownYear()
	}
	y, err := strconv.Atoi(s)
	if err != nil || y <= 0 {
		return UnknownYear()
	}
	return ParsedYear(y)
}

// Year returns the parsed year and whether it is known.
func (l YearLabel) Year() (int, bool) {
	return l.year, l.known
}

func (l YearLabel) String() string {
	if !l.known {
		return YearLabelUnknown
	}
	return strconv.Itoa(l.year)
}

// MarshalJSON encodes the label as its display string.
func (l YearLabel) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// Consumption holds the scalar consumption metrics of a reading.
type Consumption struct {
	// Current is the instantaneous rate in whole watts.
	Current     float64 `json:"current"`
	Today       float64 `json:"today"`
	DaysLast    float64 `json:"days_last"`
	YearsLast   float64 `json:"years_last"`
	CurrentYear float64 `json:"current_year"`
}

// MeterInfo holds the latest meter reading and metering point metadata.
type MeterInfo struct {
	Reading  float64 `json:"reading"`
	MaloID   string  `json:"maloId,omitempty"`
	MetPoint string  `json:"metpoint,omitempty"`
	Unit     string  `json:"unit,omitempty"`
	MQ       string  `json:"mq,omitempty"`
}

// YearValue is one yearly history bucket.
type YearValue struct {
	Value float64   `json:"value"`
	Year  YearLabel `json:"year"`
}

// History holds the fixed size histories keyed by rank, 1 being most recent.
type History struct {
	Days   map[string]float64   `json:"days"`
	Months map[string]float64   `json:"months"`
	Years  map[string]YearValue `json:"years"`
}

// NormalizedReading is the stateless result of one aggregation pass.
type NormalizedReading struct {
	Timestamp   time.Time   `json:"timestamp"`
	Consumption Consumption `json:"consumption"`
	History     History     `json:"history"`
	Meter       MeterInfo   `json:"meter"`
}

// DayKey returns the history key for rank i (1-based).
func DayKey(i int) string { return "day_" + strconv.Itoa(i) }

// MonthKey returns the history key for rank i (1-based).
func MonthKey(i int) string { return "month_" + strconv.Itoa(i) }

// YearKey returns the history key for rank i (1-based).
func YearKey(i int) string { return "year_" + strconv.Itoa(i) }
