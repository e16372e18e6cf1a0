package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestYearLabel(t *testing.T) {
	tests := []struct {
		ts    string
		year  int
		known bool
		str   string
	}{
		{"2024-01-01T00:00:00+01:00", 2024, true, "2024"},
		{"1999-12-31", 1999, true, "1999"},
		{"", 0, false, YearLabelUnknown},
		{"abcd-01-01", 0, false, YearLabelUnknown},
		{"20240101", 0, false, YearLabelUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.ts, func(t *testing.T) {
			l := ParseYearLabel(tt.ts)
			y, ok := l.Year()
			assert.Equal(t, tt.known, ok)
			assert.Equal(t, tt.year, y)
			assert.Equal(t, tt.str, l.String())
		})
	}

	b, err := json.Marshal(YearValue{Value: 1.5, Year: UnknownYear()})
	require.NoError(t, err)
	assert.JSONEq(t, `{"value":1.5,"year":"unknown"}`, string(b))
}

func TestSampleParts(t *testing.T) {
	s := Sample{Timestamp: "2025-03-04T12:15:00+01:00"}
	assert.Equal(t, "2025-03-04", s.Date())
	assert.Equal(t, "2025", s.YearPrefix())
}

func TestTimelineEntryIsReference(t *testing.T) {
	assert.True(t, TimelineEntry{KeyFigure: "REF"}.IsReference())
	assert.True(t, TimelineEntry{Label: "REF"}.IsReference())
	assert.False(t, TimelineEntry{KeyFigure: "ABS", Label: "Jan"}.IsReference())

	r := ConsumptionReport{Timeline: []TimelineEntry{
		{Period: "01.2025", Value: 1},
		{Period: "01.2025", Value: 5, KeyFigure: "REF"},
		{Period: "02.2025", Value: 2},
	}}
	actual := r.ActualTimeline()
	require.Len(t, actual, 2)
	assert.Equal(t, 1.0, actual[0].Value)
	assert.Equal(t, 2.0, actual[1].Value)
}
