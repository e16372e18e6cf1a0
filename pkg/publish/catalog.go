// Package publish turns readings and billing summaries into bus messages and
// Home Assistant discovery documents, and delivers them to a sink.
package publish

import (
	"encoding/json"
	"strconv"
)

const (
	DefaultDigimetoPrefix  = "digimeto"
	DefaultMinolPrefix     = "minol"
	DefaultDiscoveryPrefix = "homeassistant"
)

// Message is one retained topic/value pair.
type Message struct {
	Topic   string
	Payload []byte
	Retain  bool
}

// Catalog knows the topic layout. It holds no state.
type Catalog struct {
	DigimetoPrefix  string
	MinolPrefix     string
	DiscoveryPrefix string
}

// DefaultCatalog returns the catalog with the default prefixes.
func DefaultCatalog() Catalog {
	return Catalog{
		DigimetoPrefix:  DefaultDigimetoPrefix,
		MinolPrefix:     DefaultMinolPrefix,
		DiscoveryPrefix: DefaultDiscoveryPrefix,
	}
}

type device struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
}

type discovery struct {
	Name              string  `json:"name"`
	ObjectID          string  `json:"object_id,omitempty"`
	UniqueID          string  `json:"unique_id"`
	StateTopic        string  `json:"state_topic"`
	AttributesTopic   string  `json:"json_attributes_topic,omitempty"`
	UnitOfMeasurement string  `json:"unit_of_measurement,omitempty"`
	DeviceClass       string  `json:"device_class,omitempty"`
	StateClass        string  `json:"state_class,omitempty"`
	Icon              string  `json:"icon,omitempty"`
	Platform          string  `json:"platform,omitempty"`
	Device            *device `json:"device"`
}

// messages accumulates messages and the first encoding error.
type messages struct {
	out []Message
	err error
}

func (m *messages) raw(topic string, payload []byte) {
	m.out = append(m.out, Message{Topic: topic, Payload: payload, Retain: true})
}

func (m *messages) text(topic, value string) {
	m.raw(topic, []byte(value))
}

func (m *messages) number(topic string, v float64) {
	m.text(topic, formatFloat(v))
}

func (m *messages) json(topic string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		if m.err == nil {
			m.err = err
		}
		return
	}
	m.raw(topic, b)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
