package publish

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/meterbridge/meterbridge/pkg/types"
)

type minolCategory struct {
	name        string
	unit        string
	icon        string
	deviceClass string
}

var minolCategories = map[types.ConsumptionKind]minolCategory{
	types.ConsumptionHeating:   {"Heizung", "kWh", "mdi:radiator", "energy"},
	types.ConsumptionHotWater:  {"Warmwasser", "m³", "mdi:water-thermometer", "water"},
	types.ConsumptionColdWater: {"Kaltwasser", "m³", "mdi:water-pump", "water"},
}

// MinolState is everything one Minol cycle publishes. Rooms in Reports are
// expected to be filtered already.
type MinolState struct {
	Customer *types.CustomerInfo
	Periods  []types.PeriodSummary
	Reports  []types.ConsumptionReport
}

type customerAttributes struct {
	Email          string `json:"email"`
	CustomerNumber string `json:"customer_number"`
	TenantNumber   string `json:"tenant_number"`
	PropertyNumber string `json:"property_number"`
	Floor          string `json:"floor"`
	Position       string `json:"position"`
	Address        string `json:"address"`
	Name           string `json:"name"`
	MoveInDate     string `json:"move_in_date"`
}

type currentPeriodAttributes struct {
	Period           string   `json:"zeitraum"`
	MonthsActive     int      `json:"monate_aktiv"`
	DeviationPercent *float64 `json:"abweichung_referenz_prozent,omitempty"`
}

type previousPeriodAttributes struct {
	Period     string `json:"zeitraum"`
	FullMonths int    `json:"monate_voll"`
}

type roomAttributes struct {
	RoomName       string                `json:"room_name"`
	DeviceNumber   string                `json:"device_number"`
	CurrentReading float64               `json:"current_reading"`
	InitialReading float64               `json:"initial_reading"`
	MonthlyHistory []types.TimelineEntry `json:"monthly_history"`
}

// Minol returns discovery, state and attribute messages for one cycle.
func (c Catalog) Minol(s MinolState) ([]Message, error) {
	var m messages

	if s.Customer != nil {
		info := s.Customer
		const uid = "customer_info"
		c.minolSensor(&m, uid, "Minol Customer Info", minolCategory{icon: "mdi:account"}, "")
		m.text(c.minolTopic(uid, "state"), info.CustomerNumber)
		m.json(c.minolTopic(uid, "attributes"), customerAttributes{
			Email:          info.Email,
			CustomerNumber: info.CustomerNumber,
			TenantNumber:   info.TenantNumber,
			PropertyNumber: info.PropertyNumber,
			Floor:          info.Floor,
			Position:       info.Position,
			Address:        info.Address,
			Name:           info.Name,
			MoveInDate:     info.MoveInDate,
		})
	}

	for _, p := range s.Periods {
		cat, ok := minolCategories[p.Kind]
		if !ok {
			continue
		}
		uid := string(p.Kind) + "_period_current"
		c.minolSensor(&m, uid, fmt.Sprintf("Minol %s Aktuelle Periode", cat.name), cat, "total_increasing")
		m.number(c.minolTopic(uid, "state"), p.CurrentTotal)
		m.json(c.minolTopic(uid, "attributes"), currentPeriodAttributes{
			Period:           p.Current.String(),
			MonthsActive:     p.MonthsActive,
			DeviationPercent: p.DeviationPercent,
		})

		uid = string(p.Kind) + "_period_last"
		c.minolSensor(&m, uid, fmt.Sprintf("Minol %s Letzte Periode", cat.name), cat, "total")
		m.number(c.minolTopic(uid, "state"), p.PreviousTotal)
		m.json(c.minolTopic(uid, "attributes"), previousPeriodAttributes{
			Period:     p.Previous.String(),
			FullMonths: p.PreviousFullMonths,
		})
	}

	for _, r := range s.Reports {
		cat, ok := minolCategories[r.Kind]
		if !ok {
			continue
		}
		timeline := r.ActualTimeline()
		for _, room := range r.Rooms {
			number := room.DeviceNumber
			if number == "" {
				number = "unknown"
			}
			uid := fmt.Sprintf("%s_%s_%s", r.Kind, safeName(room.RoomName), number)
			c.minolSensor(&m, uid, fmt.Sprintf("Minol %s %s (%s)", room.RoomName, cat.name, number), cat, "total_increasing")
			m.number(c.minolTopic(uid, "state"), room.Consumption)
			m.json(c.minolTopic(uid, "attributes"), roomAttributes{
				RoomName:       room.RoomName,
				DeviceNumber:   number,
				CurrentReading: room.Reading,
				InitialReading: room.InitialReading,
				MonthlyHistory: timeline,
			})
		}
	}
	return m.out, m.err
}

func (c Catalog) minolTopic(uid, leaf string) string {
	return fmt.Sprintf("%s/%s/%s", c.MinolPrefix, uid, leaf)
}

func (c Catalog) minolSensor(m *messages, uid, name string, cat minolCategory, stateClass string) {
	m.json(fmt.Sprintf("%s/sensor/minol/%s/config", c.DiscoveryPrefix, uid), discovery{
		Name:              name,
		UniqueID:          "minol_" + uid,
		StateTopic:        c.minolTopic(uid, "state"),
		AttributesTopic:   c.minolTopic(uid, "attributes"),
		UnitOfMeasurement: cat.unit,
		DeviceClass:       cat.deviceClass,
		StateClass:        stateClass,
		Icon:              cat.icon,
		Platform:          "mqtt",
		Device:            &device{Identifiers: []string{"minol_account"}, Name: "Minol Customer Portal", Manufacturer: "Minol"},
	})
}

// safeName keeps letters and digits, lower cased.
func safeName(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}
