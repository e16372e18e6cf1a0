package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/levenlabs/go-lflag"

	"github.com/meterbridge/meterbridge/pkg/log"
)

// MQTTConfig configures the MQTT sink.
type MQTTConfig struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	QoS            byte
	ConnectRetries uint64
	ConnectTimeout time.Duration
}

// MQTTSink publishes retained messages through a paho client.
type MQTTSink struct {
	cfg    MQTTConfig
	client mqtt.Client
}

func configuredMQTT() *MQTTSink {
	broker := lflag.String("mqtt-broker", "tcp://localhost:1883", "MQTT broker URL")
	clientID := lflag.String("mqtt-client-id", "meterbridge", "MQTT client id")
	username := lflag.String("mqtt-username", "", "MQTT username")
	password := lflag.String("mqtt-password", "", "MQTT password")
	qos := 0
	lflag.JSON(&qos, "mqtt-qos", qos, "MQTT QoS for published messages (0, 1 or 2)")
	retries := uint64(5)
	lflag.JSON(&retries, "mqtt-connect-retries", retries, "How often to retry the initial MQTT connect")
	timeout := lflag.Duration("mqtt-connect-timeout", 10*time.Second, "Timeout for a single MQTT connect attempt")

	s := &MQTTSink{}
	lflag.Do(func() {
		s.cfg = MQTTConfig{
			Broker:         *broker,
			ClientID:       *clientID,
			Username:       *username,
			Password:       *password,
			QoS:            byte(qos),
			ConnectRetries: retries,
			ConnectTimeout: *timeout,
		}
	})
	return s
}

// NewMQTTSink returns a sink for cfg. The client is created but not connected.
func NewMQTTSink(cfg MQTTConfig) *MQTTSink {
	return &MQTTSink{cfg: cfg}
}

func newMQTTSinkWithClient(cfg MQTTConfig, client mqtt.Client) *MQTTSink {
	return &MQTTSink{cfg: cfg, client: client}
}

// Validate checks the configuration.
func (s *MQTTSink) Validate() error {
	if s.cfg.Broker == "" {
		return errors.New("mqtt-broker is required")
	}
	if s.cfg.QoS > 2 {
		return fmt.Errorf("invalid mqtt-qos: %d", s.cfg.QoS)
	}
	return nil
}

func (s *MQTTSink) options() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions().
		AddBroker(s.cfg.Broker).
		SetClientID(s.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(s.cfg.ConnectTimeout)
	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
		opts.SetPassword(s.cfg.Password)
	}
	return opts
}

// Connect connects to the broker, retrying with exponential backoff.
func (s *MQTTSink) Connect(ctx context.Context) error {
	if s.client == nil {
		s.client = mqtt.NewClient(s.options())
	}
	if s.client.IsConnected() {
		return nil
	}

	op := func() error {
		token := s.client.Connect()
		select {
		case <-token.Done():
			return token.Error()
		case <-ctx.Done():
			return backoff.Permanent(ctx.Err())
		}
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), s.cfg.ConnectRetries), ctx)
	notify := func(err error, wait time.Duration) {
		log.Ctx(ctx).WarnContext(
			ctx,
			"mqtt connect failed, retrying",
			slog.String("broker", s.cfg.Broker),
			slog.Duration("wait", wait),
			slog.Any("error", err),
		)
	}
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return fmt.Errorf("failed to connect to mqtt broker %s: %w", s.cfg.Broker, err)
	}
	log.Ctx(ctx).InfoContext(ctx, "connected to mqtt broker", slog.String("broker", s.cfg.Broker))
	return nil
}

// Publish sends every message and waits for each to be acknowledged. A failed
// message does not stop the rest; all failures are returned joined.
func (s *MQTTSink) Publish(ctx context.Context, msgs []Message) error {
	if s.client == nil {
		return errors.New("mqtt sink is not connected")
	}
	var errs []error
	for _, m := range msgs {
		token := s.client.Publish(m.Topic, s.cfg.QoS, m.Retain, m.Payload)
		select {
		case <-token.Done():
			if err := token.Error(); err != nil {
				errs = append(errs, fmt.Errorf("failed to publish %s: %w", m.Topic, err))
			}
		case <-ctx.Done():
			return errors.Join(append(errs, ctx.Err())...)
		}
	}
	return errors.Join(errs...)
}

// Close disconnects from the broker.
func (s *MQTTSink) Close() error {
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(250)
	}
	return nil
}
