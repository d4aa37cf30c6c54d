package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// messageWriter is the part of kafka.Writer the notifier uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig configures the Kafka alert sink.
type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic" default:"signalbot.alerts"`
	WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
}

// KafkaNotifier publishes each alert as a JSON message keyed by asset, so
// downstream consumers can follow signals and lifecycle events.
type KafkaNotifier struct {
	writer messageWriter
	topic  string
	key    []byte
}

// NewKafkaNotifier creates a synchronous writer against cfg.Brokers.
func NewKafkaNotifier(cfg KafkaConfig, asset string) (*KafkaNotifier, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: brokers are required")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  1, // retries happen in Retrier
		WriteTimeout: cfg.WriteTimeout,
		BatchSize:    1,
	}
	return &KafkaNotifier{writer: w, topic: cfg.Topic, key: []byte(asset)}, nil
}

func (k *KafkaNotifier) Send(ctx context.Context, alert Alert) error {
	if alert.At.IsZero() {
		alert.At = time.Now().UTC()
	}
	v, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("kafka: marshal alert: %w", err)
	}
	if err := k.writer.WriteMessages(ctx, kafka.Message{Key: k.key, Value: v, Time: alert.At}); err != nil {
		return fmt.Errorf("kafka: write to %s: %w", k.topic, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (k *KafkaNotifier) Close() error {
	return k.writer.Close()
}
