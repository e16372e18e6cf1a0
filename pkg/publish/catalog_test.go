package publish

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meterbridge/meterbridge/pkg/aggregate"
	"github.com/meterbridge/meterbridge/pkg/types"
)

func byTopic(msgs []Message) map[string]string {
	out := make(map[string]string, len(msgs))
	for _, m := range msgs {
		out[m.Topic] = string(m.Payload)
	}
	return out
}

func decodeDiscovery(t *testing.T, payload string) map[string]any {
	t.Helper()
	var d map[string]any
	require.NoError(t, json.Unmarshal([]byte(payload), &d))
	return d
}

func testReading() types.NormalizedReading {
	return types.NormalizedReading{
		Timestamp: time.Date(2025, 1, 5, 12, 0, 0, 0, time.UTC),
		Consumption: types.Consumption{
			Current:     492,
			Today:       0.723,
			DaysLast:    10,
			YearsLast:   1234.5,
			CurrentYear: 40,
		},
		History: types.History{
			Days:   map[string]float64{"day_1": 10, "day_2": 9},
			Months: map[string]float64{"month_1": 300.25},
			Years: map[string]types.YearValue{
				"year_1": {Value: 1234.5, Year: types.ParsedYear(2024)},
				"year_2": {Value: 1100, Year: types.UnknownYear()},
			},
		},
		Meter: types.MeterInfo{
			Reading:  1234.5,
			MaloID:   "50000000001",
			MetPoint: "DE0001",
			Unit:     "kWh",
			MQ:       "1-1:1.8.0",
		},
	}
}

func TestDigimeto(t *testing.T) {
	now := time.Date(2025, 1, 5, 12, 0, 0, 0, time.UTC)
	msgs, err := DefaultCatalog().Digimeto(testReading(), aggregate.Config{}, now)
	require.NoError(t, err)

	for _, m := range msgs {
		assert.True(t, m.Retain, m.Topic)
	}
	topics := byTopic(msgs)

	t.Run("State", func(t *testing.T) {
		assert.Equal(t, "492", topics["digimeto/consumption/current"])
		assert.Equal(t, "0.723", topics["digimeto/consumption/today"])
		assert.Equal(t, "10", topics["digimeto/consumption/days_last"])
		assert.Equal(t, "1234.5", topics["digimeto/consumption/years_last"])
		assert.Equal(t, "40", topics["digimeto/consumption/current_year"])
		assert.Equal(t, "1234.5", topics["digimeto/meter/reading"])
		assert.Equal(t, "50000000001", topics["digimeto/meter/maloId"])
		assert.Equal(t, "1-1:1.8.0", topics["digimeto/meter/mq"])
	})

	t.Run("History", func(t *testing.T) {
		assert.Equal(t, "10", topics["digimeto/history/days/day_1"])
		assert.Equal(t, "9", topics["digimeto/history/days/day_2"])
		assert.NotContains(t, topics, "digimeto/history/days/day_3")
		assert.Equal(t, "300.25", topics["digimeto/history/months/month_1"])
		assert.Equal(t, "1234.5", topics["digimeto/history/years/year_1"])
		assert.Equal(t, "1100", topics["digimeto/history/years/year_2"])
	})

	t.Run("Snapshot", func(t *testing.T) {
		var snapshot map[string]any
		require.NoError(t, json.Unmarshal([]byte(topics["digimeto/data"]), &snapshot))
		assert.Contains(t, snapshot, "consumption")
		assert.Contains(t, snapshot, "history")
		assert.Contains(t, snapshot, "meter")
	})

	t.Run("Discovery", func(t *testing.T) {
		today := decodeDiscovery(t, topics["homeassistant/sensor/digimeto/today/config"])
		assert.Equal(t, "Verbrauch Heute", today["name"])
		assert.Equal(t, "dg_today", today["unique_id"])
		assert.Equal(t, "digimeto/consumption/today", today["state_topic"])
		assert.Equal(t, "total_increasing", today["state_class"])
		assert.Equal(t, map[string]any{
			"identifiers":  []any{"digimeto"},
			"name":         "Digimeto Zähler",
			"manufacturer": "Digimeto",
		}, today["device"])

		malo := decodeDiscovery(t, topics["homeassistant/sensor/digimeto/maloId/config"])
		assert.Equal(t, "digimeto/meter/maloId", malo["state_topic"])
		assert.NotContains(t, malo, "unit_of_measurement")
		assert.NotContains(t, malo, "device_class")
	})

	t.Run("DayNames", func(t *testing.T) {
		day1 := decodeDiscovery(t, topics["homeassistant/sensor/digimeto/day_1/config"])
		assert.Equal(t, "Verbrauch Samstag (04.01.)", day1["name"])
		assert.Equal(t, "digimeto/history/days/day_1", day1["state_topic"])
		day7 := decodeDiscovery(t, topics["homeassistant/sensor/digimeto/day_7/config"])
		assert.Equal(t, "Verbrauch Sonntag (29.12.)", day7["name"])
	})

	t.Run("MonthNames", func(t *testing.T) {
		mon1 := decodeDiscovery(t, topics["homeassistant/sensor/digimeto/mon_1/config"])
		assert.Equal(t, "Verbrauch Dezember 2024", mon1["name"])
		assert.Equal(t, "digimeto/history/months/month_1", mon1["state_topic"])
		mon13 := decodeDiscovery(t, topics["homeassistant/sensor/digimeto/mon_13/config"])
		assert.Equal(t, "Verbrauch Dezember 2023", mon13["name"])
	})

	t.Run("YearNames", func(t *testing.T) {
		y1 := decodeDiscovery(t, topics["homeassistant/sensor/digimeto/year_1/config"])
		assert.Equal(t, "Verbrauch Jahr 2024", y1["name"])
		y2 := decodeDiscovery(t, topics["homeassistant/sensor/digimeto/year_2/config"])
		assert.Equal(t, "Verbrauch Jahr Jahr -1", y2["name"])
		y3 := decodeDiscovery(t, topics["homeassistant/sensor/digimeto/year_3/config"])
		assert.Equal(t, "Verbrauch Jahr Jahr -2", y3["name"])
	})
}

func TestDigimetoDiscoveryFollowsWindows(t *testing.T) {
	r := testReading()
	for i := 1; i <= 10; i++ {
		r.History.Days[types.DayKey(i)] = float64(i)
	}
	for i := 1; i <= 3; i++ {
		r.History.Months[types.MonthKey(i)] = float64(i)
	}
	now := time.Date(2025, 1, 5, 12, 0, 0, 0, time.UTC)
	msgs, err := DefaultCatalog().Digimeto(r, aggregate.Config{DayWindow: 10, MonthWindow: 3, YearWindow: 2}, now)
	require.NoError(t, err)
	topics := byTopic(msgs)

	day10 := decodeDiscovery(t, topics["homeassistant/sensor/digimeto/day_10/config"])
	assert.Equal(t, "Verbrauch Donnerstag (26.12.)", day10["name"])
	assert.NotContains(t, topics, "homeassistant/sensor/digimeto/day_11/config")
	assert.Contains(t, topics, "homeassistant/sensor/digimeto/mon_3/config")
	assert.NotContains(t, topics, "homeassistant/sensor/digimeto/mon_4/config")
	assert.NotContains(t, topics, "homeassistant/sensor/digimeto/mon_13/config")
	assert.NotContains(t, topics, "homeassistant/sensor/digimeto/year_3/config")

	for _, kind := range []string{"day", "mon", "year"} {
		for i := 1; ; i++ {
			payload, ok := topics[fmt.Sprintf("homeassistant/sensor/digimeto/%s_%d/config", kind, i)]
			if !ok {
				break
			}
			state := decodeDiscovery(t, payload)["state_topic"].(string)
			assert.Contains(t, topics, state, "discovery without state for %s_%d", kind, i)
		}
	}
}

func TestDigimetoWithoutMeterDetails(t *testing.T) {
	r := testReading()
	r.Meter = types.MeterInfo{Reading: 5}
	msgs, err := DefaultCatalog().Digimeto(r, aggregate.Config{}, time.Now())
	require.NoError(t, err)
	topics := byTopic(msgs)
	assert.Equal(t, "5", topics["digimeto/meter/reading"])
	assert.NotContains(t, topics, "digimeto/meter/maloId")
}

func TestDigimetoPrefixes(t *testing.T) {
	c := Catalog{DigimetoPrefix: "home/power", MinolPrefix: "m", DiscoveryPrefix: "ha"}
	msgs, err := c.Digimeto(testReading(), aggregate.Config{}, time.Now())
	require.NoError(t, err)
	topics := byTopic(msgs)
	assert.Contains(t, topics, "home/power/data")
	today := decodeDiscovery(t, topics["ha/sensor/digimeto/today/config"])
	assert.Equal(t, "home/power/consumption/today", today["state_topic"])
}

func TestMinol(t *testing.T) {
	deviation := 20.0
	state := MinolState{
		Customer: &types.CustomerInfo{
			Name:           "Erika Mustermann",
			Email:          "erika@example.com",
			CustomerNumber: "123456",
			TenantNumber:   "000003",
			Address:        "Musterstr. 1, 12345 Berlin",
		},
		Periods: []types.PeriodSummary{
			{
				Kind:               types.ConsumptionHeating,
				Current:            types.BillingPeriod{StartYear: 2024, EndYear: 2025},
				Previous:           types.BillingPeriod{StartYear: 2023, EndYear: 2024},
				MonthsActive:       7,
				CurrentTotal:       812.5,
				PreviousTotal:      1500,
				PreviousFullMonths: 12,
				DeviationPercent:   &deviation,
			},
			{
				Kind:          types.ConsumptionHotWater,
				Current:       types.BillingPeriod{StartYear: 2024, EndYear: 2025},
				Previous:      types.BillingPeriod{StartYear: 2023, EndYear: 2024},
				MonthsActive:  7,
				CurrentTotal:  3.2,
				PreviousTotal: 0,
			},
		},
		Reports: []types.ConsumptionReport{
			{
				Kind: types.ConsumptionHeating,
				Rooms: []types.RoomConsumption{
					{RoomName: "Wohn-Zimmer 1", DeviceNumber: "A17", Consumption: 42.5, Reading: 100, InitialReading: 57.5},
					{RoomName: "Bad", Consumption: 3},
				},
				Timeline: []types.TimelineEntry{
					{Period: "202401", Value: 10, Label: "01.2024"},
					{Period: "202401", Value: 99, Label: "01.2024", KeyFigure: types.ReferenceKeyFigure},
				},
			},
		},
	}

	msgs, err := DefaultCatalog().Minol(state)
	require.NoError(t, err)
	topics := byTopic(msgs)

	t.Run("CustomerInfo", func(t *testing.T) {
		assert.Equal(t, "123456", topics["minol/customer_info/state"])
		var attrs map[string]any
		require.NoError(t, json.Unmarshal([]byte(topics["minol/customer_info/attributes"]), &attrs))
		assert.Equal(t, "erika@example.com", attrs["email"])
		assert.Equal(t, "000003", attrs["tenant_number"])
		assert.Equal(t, "Musterstr. 1, 12345 Berlin", attrs["address"])

		d := decodeDiscovery(t, topics["homeassistant/sensor/minol/customer_info/config"])
		assert.Equal(t, "minol_customer_info", d["unique_id"])
		assert.Equal(t, "minol/customer_info/attributes", d["json_attributes_topic"])
		assert.Equal(t, "mqtt", d["platform"])
	})

	t.Run("Periods", func(t *testing.T) {
		assert.Equal(t, "812.5", topics["minol/heating_period_current/state"])
		assert.Equal(t, "1500", topics["minol/heating_period_last/state"])
		assert.JSONEq(t, `{"zeitraum":"2024/2025","monate_aktiv":7,"abweichung_referenz_prozent":20}`, topics["minol/heating_period_current/attributes"])
		assert.JSONEq(t, `{"zeitraum":"2023/2024","monate_voll":12}`, topics["minol/heating_period_last/attributes"])
		assert.JSONEq(t, `{"zeitraum":"2024/2025","monate_aktiv":7}`, topics["minol/hot_water_period_current/attributes"])

		cur := decodeDiscovery(t, topics["homeassistant/sensor/minol/heating_period_current/config"])
		assert.Equal(t, "Minol Heizung Aktuelle Periode", cur["name"])
		assert.Equal(t, "kWh", cur["unit_of_measurement"])
		assert.Equal(t, "energy", cur["device_class"])
		assert.Equal(t, "mdi:radiator", cur["icon"])
		assert.Equal(t, "total_increasing", cur["state_class"])

		last := decodeDiscovery(t, topics["homeassistant/sensor/minol/hot_water_period_last/config"])
		assert.Equal(t, "Minol Warmwasser Letzte Periode", last["name"])
		assert.Equal(t, "m³", last["unit_of_measurement"])
		assert.Equal(t, "total", last["state_class"])
	})

	t.Run("Rooms", func(t *testing.T) {
		assert.Equal(t, "42.5", topics["minol/heating_wohnzimmer1_A17/state"])
		assert.JSONEq(t, `{
			"room_name": "Wohn-Zimmer 1",
			"device_number": "A17",
			"current_reading": 100,
			"initial_reading": 57.5,
			"monthly_history": [{"period":"202401","period_int":0,"value":10,"label":"01.2024","num_values":0}]
		}`, topics["minol/heating_wohnzimmer1_A17/attributes"])
		assert.NotContains(t, topics["minol/heating_bad_unknown/attributes"], types.ReferenceKeyFigure)
		assert.Equal(t, "3", topics["minol/heating_bad_unknown/state"])

		d := decodeDiscovery(t, topics["homeassistant/sensor/minol/heating_wohnzimmer1_A17/config"])
		assert.Equal(t, "Minol Wohn-Zimmer 1 Heizung (A17)", d["name"])
		assert.Equal(t, "minol_heating_wohnzimmer1_A17", d["unique_id"])
		assert.Equal(t, map[string]any{
			"identifiers":  []any{"minol_account"},
			"name":         "Minol Customer Portal",
			"manufacturer": "Minol",
		}, d["device"])
	})
}

func TestMinolWithoutCustomer(t *testing.T) {
	msgs, err := DefaultCatalog().Minol(MinolState{})
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestSafeName(t *testing.T) {
	assert.Equal(t, "küche2", safeName("Küche 2"))
	assert.Equal(t, "", safeName("--"))
}
