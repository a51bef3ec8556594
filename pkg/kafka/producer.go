package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
)

var compressionCodecs = map[string]kafka.Compression{
	"gzip":   kafka.Gzip,
	"snappy": kafka.Snappy,
	"lz4":    kafka.Lz4,
	"zstd":   kafka.Zstd,
}

// Producer publishes JSON events to Kafka.
type Producer struct {
	writer  *kafka.Writer
	metrics *producerMetrics
}

// NewProducer validates the options and creates a synchronous writer.
func NewProducer(opts ...ProducerOption) (*Producer, error) {
	cfg := defaultProducerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	var bal kafka.Balancer = &kafka.LeastBytes{}
	if cfg.HashByKey {
		bal = &kafka.Hash{}
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     bal,
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:  compressionCodecs[cfg.Compression],
		MaxAttempts:  cfg.MaxAttempts,
		WriteTimeout: cfg.WriteTimeout,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
	}
	return &Producer{writer: writer, metrics: producerMetricsFor(cfg.Registerer)}, nil
}

// Publish writes one message and waits for the configured acks.
// value may be []byte, a string, or anything encoding/json accepts.
func (p *Producer) Publish(ctx context.Context, topic string, key []byte, value any) error {
	payload, err := encodeValue(value)
	if err != nil {
		return err
	}
	start := time.Now()
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   key,
		Value: payload,
		Time:  start,
	})
	p.metrics.observe(topic, len(payload), time.Since(start), err)
	if err != nil {
		return fmt.Errorf("kafka publish %s: %w", topic, err)
	}
	return nil
}

// Close flushes pending writes and closes the writer.
func (p *Producer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

func encodeValue(value any) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		b, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("marshal value: %w", err)
		}
		return b, nil
	}
}

type producerMetrics struct {
	messages *prometheus.CounterVec
	bytes    *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

var (
	defaultMetricsOnce sync.Once
	defaultMetrics     *producerMetrics
)

// producerMetricsFor registers once on the default registry, or fresh on reg.
func producerMetricsFor(reg prometheus.Registerer) *producerMetrics {
	if reg != nil {
		return newProducerMetrics(reg)
	}
	defaultMetricsOnce.Do(func() { defaultMetrics = newProducerMetrics(prometheus.DefaultRegisterer) })
	return defaultMetrics
}

func newProducerMetrics(reg prometheus.Registerer) *producerMetrics {
	f := promauto.With(reg)
	return &producerMetrics{
		messages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "oiwatch_kafka_publish_total",
			Help: "Kafka publishes by topic and result",
		}, []string{"topic", "result"}),
		bytes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "oiwatch_kafka_publish_bytes_total",
			Help: "Payload bytes published to Kafka",
		}, []string{"topic"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "oiwatch_kafka_publish_seconds",
			Help:    "Kafka publish latency including acks",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"topic"}),
	}
}

func (m *producerMetrics) observe(topic string, n int, took time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	} else {
		m.bytes.WithLabelValues(topic).Add(float64(n))
	}
	m.messages.WithLabelValues(topic, result).Inc()
	m.latency.WithLabelValues(topic).Observe(took.Seconds())
}
