package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"firestige.xyz/strouter/internal/config"
	"firestige.xyz/strouter/internal/log"
)

// KafkaEnvelope is the wire format of events forwarded to Kafka.
type KafkaEnvelope struct {
	Node      string      `json:"node"`
	Topic     string      `json:"topic"`
	Key       string      `json:"key"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// KafkaSink forwards bus events to a Kafka topic. Writes are asynchronous;
// delivery failures are logged.
type KafkaSink struct {
	node   string
	writer *kafka.Writer
}

func NewKafkaSink(cfg config.EventsKafkaConfig, node string) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	logger := log.GetLogger().WithField("topic", cfg.Topic)
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.WithError(err).Warnf("failed to deliver %d event(s) to kafka", len(messages))
			}
		},
	}
	return &KafkaSink{node: node, writer: w}, nil
}

// Handle is an eventbus Handler.
func (s *KafkaSink) Handle(event *Event) error {
	msg, err := encodeKafkaMessage(s.node, event, time.Now())
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.writer.WriteMessages(ctx, msg)
}

func (s *KafkaSink) Close() error {
	if s.writer == nil {
		return nil
	}
	w := s.writer
	s.writer = nil
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close kafka writer: %w", err)
	}
	return nil
}

func encodeKafkaMessage(node string, event *Event, now time.Time) (kafka.Message, error) {
	value, err := json.Marshal(KafkaEnvelope{
		Node:      node,
		Topic:     event.Topic,
		Key:       event.Key,
		Timestamp: now.UTC(),
		Payload:   event.Payload,
	})
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to encode event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(event.Key),
		Value: value,
		Headers: []kafka.Header{
			{Key: "topic", Value: []byte(event.Topic)},
		},
	}, nil
}

// LogHandler writes every event to logger at debug level.
func LogHandler(logger log.Logger) Handler {
	return func(event *Event) error {
		if logger.IsDebugEnabled() {
			logger.WithFields(map[string]interface{}{
				"topic": event.Topic,
				"key":   event.Key,
			}).Debugf("%+v", event.Payload)
		}
		return nil
	}
}
