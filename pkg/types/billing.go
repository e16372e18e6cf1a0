package types

import "fmt"

// BillingPeriod is the half-open interval [StartYear, EndYear) anchored on the
// configured fiscal start month.
type BillingPeriod struct {
	StartYear int `json:"startYear"`
	EndYear   int `json:"endYear"`
}

func (p BillingPeriod) String() string {
	return fmt.Sprintf("%d/%d", p.StartYear, p.EndYear)
}

// ConsumptionKind is a sub-metered consumption category.
type ConsumptionKind string

const (
	ConsumptionHeating   ConsumptionKind = "heating"
	ConsumptionHotWater  ConsumptionKind = "hot_water"
	ConsumptionColdWater ConsumptionKind = "cold_water"
)

// AllConsumptionKinds is the set requested every cycle.
var AllConsumptionKinds = []ConsumptionKind{
	ConsumptionHeating,
	ConsumptionHotWater,
	ConsumptionColdWater,
}

// ReferenceKeyFigure marks reference baseline rows in a timeline.
const ReferenceKeyFigure = "REF"

// TimelineEntry is one monthly row of a consumption chart.
type TimelineEntry struct {
	Period    string  `json:"period"`
	PeriodInt int     `json:"period_int"`
	Value     float64 `json:"value"`
	Label     string  `json:"label"`
	KeyFigure string  `json:"keyFigure,omitempty"`
	NumValues int     `json:"num_values"`
}

// IsReference reports whether the row is part of the reference baseline.
func (e TimelineEntry) IsReference() bool {
	return e.KeyFigure == ReferenceKeyFigure || e.Label == ReferenceKeyFigure
}

// RoomConsumption is one physical sub-meter.
type RoomConsumption struct {
	RoomName             string  `json:"room_name"`
	RoomKey              string  `json:"room_key"`
	DeviceNumber         string  `json:"device_number"`
	Consumption          float64 `json:"consumption"`
	ConsumptionEvaluated float64 `json:"consumption_evaluated"`
	EvaluationScore      string  `json:"evaluation_score,omitempty"`
	Reading              float64 `json:"reading"`
	InitialReading       float64 `json:"initial_reading"`
	Unit                 string  `json:"unit"`
}

// ConsumptionReport is the per kind result of one portal query.
type ConsumptionReport struct {
	Kind             ConsumptionKind   `json:"kind"`
	Rooms            []RoomConsumption `json:"by_room"`
	Timeline         []TimelineEntry   `json:"timeline"`
	TotalConsumption float64           `json:"total_consumption"`
}

// ActualTimeline returns the non-reference rows in order.
func (r ConsumptionReport) ActualTimeline() []TimelineEntry {
	out := make([]TimelineEntry, 0, len(r.Timeline))
	for _, e := range r.Timeline {
		if !e.IsReference() {
			out = append(out, e)
		}
	}
	return out
}

// PeriodSummary is the billing view of one consumption kind.
type PeriodSummary struct {
	Kind               ConsumptionKind `json:"kind"`
	Current            BillingPeriod   `json:"current"`
	Previous           BillingPeriod   `json:"previous"`
	MonthsActive       int             `json:"monthsActive"`
	CurrentTotal       float64         `json:"currentTotal"`
	PreviousTotal      float64         `json:"previousTotal"`
	PreviousFullMonths int             `json:"previousFullMonths"`
	// DeviationPercent is nil when the reference baseline sums to zero.
	DeviationPercent *float64 `json:"deviationPercent,omitempty"`
}
