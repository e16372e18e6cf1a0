package publish

import (
	"fmt"
	"strconv"
	"time"

	"github.com/meterbridge/meterbridge/pkg/aggregate"
	"github.com/meterbridge/meterbridge/pkg/types"
)

var (
	germanWeekdays = [...]string{"Sonntag", "Montag", "Dienstag", "Mittwoch", "Donnerstag", "Freitag", "Samstag"}
	germanMonths   = [...]string{"Januar", "Februar", "März", "April", "Mai", "Juni", "Juli", "August", "September", "Oktober", "November", "Dezember"}
)

type digimetoMetric struct {
	section     string
	key         string
	name        string
	unit        string
	deviceClass string
	stateClass  string
}

var digimetoMetrics = []digimetoMetric{
	{"consumption", "today", "Verbrauch Heute", "kWh", "energy", "total_increasing"},
	{"consumption", "current_year", "Verbrauch Aktuelles Jahr", "kWh", "energy", "total_increasing"},
	{"meter", "maloId", "Marktlokation ID", "", "", ""},
	{"meter", "metpoint", "Messstellenbezeichnung", "", "", ""},
	{"meter", "mq", "Zähler OBIS Code", "", "", ""},
}

// Digimeto returns the state messages for r followed by the discovery
// documents. Discovery covers exactly the history windows of w, zero values
// meaning the defaults. Day and month sensors are named after the calendar
// day and month relative to now.
func (c Catalog) Digimeto(r types.NormalizedReading, w aggregate.Config, now time.Time) ([]Message, error) {
	var m messages
	p := c.DigimetoPrefix

	m.json(p+"/data", r)

	m.number(p+"/consumption/current", r.Consumption.Current)
	m.number(p+"/consumption/today", r.Consumption.Today)
	m.number(p+"/consumption/days_last", r.Consumption.DaysLast)
	m.number(p+"/consumption/years_last", r.Consumption.YearsLast)
	m.number(p+"/consumption/current_year", r.Consumption.CurrentYear)

	m.number(p+"/meter/reading", r.Meter.Reading)
	if r.Meter.MaloID != "" {
		m.text(p+"/meter/maloId", r.Meter.MaloID)
		m.text(p+"/meter/metpoint", r.Meter.MetPoint)
		m.text(p+"/meter/unit", r.Meter.Unit)
		m.text(p+"/meter/mq", r.Meter.MQ)
	}

	for i := 1; i <= len(r.History.Days); i++ {
		if v, ok := r.History.Days[types.DayKey(i)]; ok {
			m.number(p+"/history/days/"+types.DayKey(i), v)
		}
	}
	for i := 1; i <= len(r.History.Months); i++ {
		if v, ok := r.History.Months[types.MonthKey(i)]; ok {
			m.number(p+"/history/months/"+types.MonthKey(i), v)
		}
	}
	for i := 1; i <= len(r.History.Years); i++ {
		if v, ok := r.History.Years[types.YearKey(i)]; ok {
			m.number(p+"/history/years/"+types.YearKey(i), v.Value)
		}
	}

	c.digimetoDiscovery(&m, r, aggregate.New(w).Config(), now)
	return m.out, m.err
}

func (c Catalog) digimetoDiscovery(m *messages, r types.NormalizedReading, w aggregate.Config, now time.Time) {
	p := c.DigimetoPrefix
	dev := &device{Identifiers: []string{"digimeto"}, Name: "Digimeto Zähler", Manufacturer: "Digimeto"}
	topic := func(id string) string {
		return fmt.Sprintf("%s/sensor/digimeto/%s/config", c.DiscoveryPrefix, id)
	}

	for _, metric := range digimetoMetrics {
		m.json(topic(metric.key), discovery{
			Name:              metric.name,
			ObjectID:          "digimeto_" + metric.key,
			UniqueID:          "dg_" + metric.key,
			StateTopic:        fmt.Sprintf("%s/%s/%s", p, metric.section, metric.key),
			UnitOfMeasurement: metric.unit,
			DeviceClass:       metric.deviceClass,
			StateClass:        metric.stateClass,
			Device:            dev,
		})
	}

	for i := 1; i <= w.DayWindow; i++ {
		day := now.AddDate(0, 0, -i)
		m.json(topic("day_"+strconv.Itoa(i)), discovery{
			Name:              fmt.Sprintf("Verbrauch %s (%s)", germanWeekdays[day.Weekday()], day.Format("02.01.")),
			ObjectID:          "digimeto_day_" + strconv.Itoa(i),
			UniqueID:          "dg_day_" + strconv.Itoa(i),
			StateTopic:        p + "/history/days/" + types.DayKey(i),
			UnitOfMeasurement: "kWh",
			DeviceClass:       "energy",
			StateClass:        "measurement",
			Device:            dev,
		})
	}

	firstOfMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	for i := 1; i <= w.MonthWindow; i++ {
		month := firstOfMonth.AddDate(0, -i, 0)
		m.json(topic("mon_"+strconv.Itoa(i)), discovery{
			Name:              fmt.Sprintf("Verbrauch %s %d", germanMonths[month.Month()-1], month.Year()),
			ObjectID:          "digimeto_mon_" + strconv.Itoa(i),
			UniqueID:          "dg_mon_" + strconv.Itoa(i),
			StateTopic:        p + "/history/months/" + types.MonthKey(i),
			UnitOfMeasurement: "kWh",
			DeviceClass:       "energy",
			StateClass:        "measurement",
			Device:            dev,
		})
	}

	for i := 1; i <= w.YearWindow; i++ {
		label := fmt.Sprintf("Jahr -%d", i-1)
		if y, ok := r.History.Years[types.YearKey(i)]; ok {
			if _, known := y.Year.Year(); known {
				label = y.Year.String()
			}
		}
		m.json(topic("year_"+strconv.Itoa(i)), discovery{
			Name:              "Verbrauch Jahr " + label,
			ObjectID:          "digimeto_year_" + strconv.Itoa(i),
			UniqueID:          "dg_year_" + strconv.Itoa(i),
			StateTopic:        p + "/history/years/" + types.YearKey(i),
			UnitOfMeasurement: "kWh",
			DeviceClass:       "energy",
			StateClass:        "total_increasing",
			Device:            dev,
		})
	}
}
