// Package kafkatransport mirrors queued API calls onto a Kafka topic.
package kafkatransport

import (
	"context"
	"fmt"
	"net/http"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"
)

const (
	defaultTopic = "eventqueue-requests"

	headerMethod = "eq-method"
	headerURL    = "eq-url"
	keyHeader    = "Idempotency-Key"

	flushTimeoutMs = 15 * 1000
)

// Producer is the subset of *kafka.Producer the transport uses.
type Producer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Flush(timeoutMs int) int
	Close()
}

// HeaderBuilder turns request headers into Kafka message headers.
type HeaderBuilder func(method, url string, headers map[string]string) []kafka.Header

type Option func(*Transport)

func WithTopic(topic string) Option {
	return func(t *Transport) {
		if topic != "" {
			t.topic = topic
		}
	}
}

// WithProducerConfig overrides or adds librdkafka properties.
func WithProducerConfig(props kafka.ConfigMap) Option {
	return func(t *Transport) {
		for k, v := range props {
			t.producerProps[k] = v
		}
	}
}

// WithProducer uses an existing producer instead of creating one.
func WithProducer(producer Producer) Option {
	return func(t *Transport) {
		t.producer = producer
	}
}

func WithHeaderBuilder(builder HeaderBuilder) Option {
	return func(t *Transport) {
		if builder != nil {
			t.headerBuilder = builder
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(t *Transport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// Transport implements eventqueue.Transport by producing each request as a message
// and waiting for its delivery report. A delivered message maps to status 200,
// anything else to status 0.
type Transport struct {
	logger        *zap.Logger
	producer      Producer
	producerProps kafka.ConfigMap
	topic         string
	headerBuilder HeaderBuilder
}

func New(opts ...Option) (*Transport, error) {
	t := &Transport{
		logger: zap.NewNop(),
		producerProps: kafka.ConfigMap{
			"acks":               "all",
			"retries":            3,
			"linger.ms":          10,
			"enable.idempotence": true,
			"compression.type":   "snappy",
		},
		topic:         defaultTopic,
		headerBuilder: buildHeaders,
	}
	for _, opt := range opts {
		opt(t)
	}

	if t.producer == nil {
		producer, err := kafka.NewProducer(&t.producerProps)
		if err != nil {
			return nil, fmt.Errorf("failed to create kafka producer: %w", err)
		}
		t.producer = producer
	}
	return t, nil
}

func (t *Transport) Send(ctx context.Context, method, url string, headers map[string]string, body string) (int, string) {
	topic := t.topic
	msg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(headers[keyHeader]),
		Value:          []byte(body),
		Headers:        t.headerBuilder(method, url, headers),
	}

	delivery := make(chan kafka.Event, 1)
	if err := t.producer.Produce(msg, delivery); err != nil {
		t.logger.Warn("Failed to produce request", zap.String("topic", topic), zap.Error(err))
		return 0, ""
	}

	select {
	case <-ctx.Done():
		return 0, ""
	case e := <-delivery:
		m, ok := e.(*kafka.Message)
		if !ok {
			t.logger.Warn("Unexpected delivery event", zap.String("event", e.String()))
			return 0, ""
		}
		if m.TopicPartition.Error != nil {
			t.logger.Warn("Delivery failed", zap.String("topic", topic), zap.Error(m.TopicPartition.Error))
			return 0, ""
		}
		t.logger.Debug("Request mirrored to kafka",
			zap.String("topic", topic),
			zap.Int32("partition", m.TopicPartition.Partition),
			zap.String("offset", m.TopicPartition.Offset.String()),
		)
		return http.StatusOK, ""
	}
}

// Close flushes pending messages and closes the producer.
func (t *Transport) Close() error {
	t.logger.Info("Closing kafka producer")
	t.producer.Flush(flushTimeoutMs)
	t.producer.Close()
	return nil
}

func buildHeaders(method, url string, headers map[string]string) []kafka.Header {
	out := []kafka.Header{
		{Key: headerMethod, Value: []byte(method)},
		{Key: headerURL, Value: []byte(url)},
	}
	for k, v := range headers {
		out = append(out, kafka.Header{Key: k, Value: []byte(v)})
	}
	return out
}
