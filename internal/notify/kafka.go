package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/JakeFAU/lurk/internal/lurk"
)

// KafkaName labels the Kafka sink.
const KafkaName = "kafka"

// KafkaConfig configures the Kafka sink.
type KafkaConfig struct {
	Brokers  []string
	Topic    string
	ClientID string
}

// Kafka publishes one JSON message per product, keyed by provider:sku so a
// product always lands on the same partition.
type Kafka struct {
	producer sarama.SyncProducer
	topic    string
	logger   *zap.Logger
}

// NewKafka connects a synchronous producer to the brokers.
func NewKafka(cfg KafkaConfig, logger *zap.Logger) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, lurk.Configf("kafka: at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, lurk.Configf("kafka: topic is required")
	}
	sc := sarama.NewConfig()
	if cfg.ClientID != "" {
		sc.ClientID = cfg.ClientID
	}
	sc.Producer.Return.Successes = true
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Retry.Max = 3

	producer, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return NewKafkaWithProducer(producer, cfg.Topic, logger), nil
}

// NewKafkaWithProducer wraps an existing producer.
func NewKafkaWithProducer(producer sarama.SyncProducer, topic string, logger *zap.Logger) *Kafka {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Kafka{producer: producer, topic: topic, logger: logger.With(zap.String("sink", KafkaName))}
}

// Name implements Sink.
func (*Kafka) Name() string { return KafkaName }

// Notify sends every product in a single batch.
func (k *Kafka) Notify(_ context.Context, products []lurk.Product) error {
	if len(products) == 0 {
		return nil
	}
	msgs := make([]*sarama.ProducerMessage, 0, len(products))
	for _, p := range products {
		msg, err := productMessage(k.topic, p)
		if err != nil {
			return &lurk.NotificationError{Sink: KafkaName, Err: err}
		}
		msgs = append(msgs, msg)
	}
	if err := k.producer.SendMessages(msgs); err != nil {
		return &lurk.NotificationError{Sink: KafkaName, Err: fmt.Errorf("send messages: %w", err)}
	}
	k.logger.Debug("products published", zap.String("topic", k.topic), zap.Int("messages", len(msgs)))
	return nil
}

func productMessage(topic string, p lurk.Product) (*sarama.ProducerMessage, error) {
	value, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal product %s: %w", p.Key(), err)
	}
	return &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(p.Key()),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("provider"), Value: []byte(p.Provider)},
		},
	}, nil
}

// Close flushes and closes the producer.
func (k *Kafka) Close() error {
	if err := k.producer.Close(); err != nil {
		return fmt.Errorf("close kafka producer: %w", err)
	}
	return nil
}
