package publish

import (
	"context"
	"fmt"
	"strings"

	"github.com/levenlabs/go-lflag"
)

// Sink delivers messages to a bus.
type Sink interface {
	// Connect establishes the connection, retrying with backoff.
	Connect(ctx context.Context) error
	// Publish delivers msgs in order.
	Publish(ctx context.Context, msgs []Message) error

	// Lifecycle
	Close() error
}

// ConfiguredCatalog sets up the topic layout based on flags.
func ConfiguredCatalog() *Catalog {
	digimeto := lflag.String("digimeto-topic-prefix", DefaultDigimetoPrefix, "Topic prefix for Digimeto state")
	minol := lflag.String("minol-topic-prefix", DefaultMinolPrefix, "Topic prefix for Minol state")
	discovery := lflag.String("discovery-prefix", DefaultDiscoveryPrefix, "Home Assistant discovery prefix")

	c := &Catalog{}
	lflag.Do(func() {
		c.DigimetoPrefix = strings.TrimSuffix(*digimeto, "/")
		c.MinolPrefix = strings.TrimSuffix(*minol, "/")
		c.DiscoveryPrefix = strings.TrimSuffix(*discovery, "/")
	})
	return c
}

// Configured sets up the Sink based on flags.
func Configured() Sink {
	sinkType := lflag.String("publish-sink", "mqtt", "Where to publish readings (available: mqtt, kafka)")

	var p struct{ Sink }

	ms := configuredMQTT()
	ks := configuredKafka()

	lflag.Do(func() {
		switch *sinkType {
		case "mqtt":
			if err := ms.Validate(); err != nil {
				panic(fmt.Sprintf("mqtt sink validation failed: %v", err))
			}
			p.Sink = ms
		case "kafka":
			if err := ks.Validate(); err != nil {
				panic(fmt.Sprintf("kafka sink validation failed: %v", err))
			}
			p.Sink = ks
		default:
			panic(fmt.Sprintf("unknown publish sink: %s", *sinkType))
		}
	})

	return &p
}
