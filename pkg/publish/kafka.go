package publish

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/levenlabs/go-lflag"
	"github.com/segmentio/kafka-go"
)

// KafkaConfig configures the Kafka sink.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	RequiredAcks int
}

type kafkaMessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink writes every message to one Kafka topic. The bus topic becomes
// the record key so compaction keeps the latest value per topic.
type KafkaSink struct {
	cfg    KafkaConfig
	writer kafkaMessageWriter
}

func configuredKafka() *KafkaSink {
	brokers := lflag.String("kafka-brokers", "localhost:9092", "comma-delimited list of Kafka brokers")
	topic := lflag.String("kafka-topic", "meterbridge", "Kafka topic for published readings")
	acks := 1
	lflag.JSON(&acks, "kafka-required-acks", acks, "Kafka acks to wait for (-1 all, 0 none, 1 leader)")

	s := &KafkaSink{}
	lflag.Do(func() {
		cfg := KafkaConfig{Topic: *topic, RequiredAcks: acks}
		for _, b := range strings.Split(*brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.Brokers = append(cfg.Brokers, b)
			}
		}
		s.cfg = cfg
	})
	return s
}

// NewKafkaSink returns a sink for cfg.
func NewKafkaSink(cfg KafkaConfig) *KafkaSink {
	return &KafkaSink{cfg: cfg}
}

// Validate checks the configuration.
func (s *KafkaSink) Validate() error {
	if len(s.cfg.Brokers) == 0 {
		return errors.New("kafka-brokers is required")
	}
	if s.cfg.Topic == "" {
		return errors.New("kafka-topic is required")
	}
	switch kafka.RequiredAcks(s.cfg.RequiredAcks) {
	case kafka.RequireAll, kafka.RequireNone, kafka.RequireOne:
	default:
		return fmt.Errorf("invalid kafka-required-acks: %d", s.cfg.RequiredAcks)
	}
	return nil
}

// Connect creates the writer. kafka-go dials lazily on the first write.
func (s *KafkaSink) Connect(ctx context.Context) error {
	if s.writer != nil {
		return nil
	}
	s.writer = &kafka.Writer{
		Addr:                   kafka.TCP(s.cfg.Brokers...),
		Topic:                  s.cfg.Topic,
		RequiredAcks:           kafka.RequiredAcks(s.cfg.RequiredAcks),
		AllowAutoTopicCreation: false,
		Balancer:               &kafka.Hash{},
	}
	return nil
}

// Publish writes msgs as one batch.
func (s *KafkaSink) Publish(ctx context.Context, msgs []Message) error {
	if s.writer == nil {
		return errors.New("kafka sink is not connected")
	}
	if len(msgs) == 0 {
		return nil
	}
	records := make([]kafka.Message, len(msgs))
	for i, m := range msgs {
		records[i] = kafka.Message{
			Key:   []byte(m.Topic),
			Value: m.Payload,
			Headers: []kafka.Header{
				{Key: "retain", Value: []byte(strconv.FormatBool(m.Retain))},
			},
		}
	}
	if err := s.writer.WriteMessages(ctx, records...); err != nil {
		return fmt.Errorf("failed to write %d messages to kafka topic %s: %w", len(records), s.cfg.Topic, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (s *KafkaSink) Close() error {
	if s.writer == nil {
		return nil
	}
	return s.writer.Close()
}
