package kafka

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProducerValidates(t *testing.T) {
	cases := map[string][]ProducerOption{
		"no brokers":  nil,
		"compression": {WithBrokers([]string{"127.0.0.1:9092"}), WithCompression("brotli")},
		"attempts":    {WithBrokers([]string{"127.0.0.1:9092"}), WithMaxAttempts(0)},
		"batch size":  {WithBrokers([]string{"127.0.0.1:9092"}), WithBatching(0, 0)},
	}
	for name, opts := range cases {
		_, err := NewProducer(append(opts, WithRegisterer(prometheus.NewRegistry()))...)
		assert.Error(t, err, name)
	}
}

func TestNewProducerAppliesOptions(t *testing.T) {
	p, err := NewProducer(
		WithBrokers([]string{"127.0.0.1:9092"}),
		WithCompression("zstd"),
		WithRequiredAcks(1),
		WithWriteTimeout(3*time.Second),
		WithBatching(10, 20*time.Millisecond),
		WithRegisterer(prometheus.NewRegistry()),
	)
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, kafka.RequiredAcks(1), p.writer.RequiredAcks)
	assert.Equal(t, kafka.Zstd, p.writer.Compression)
	assert.Equal(t, 3*time.Second, p.writer.WriteTimeout)
	assert.Equal(t, 10, p.writer.BatchSize)
	assert.Equal(t, 20*time.Millisecond, p.writer.BatchTimeout)
	assert.IsType(t, &kafka.Hash{}, p.writer.Balancer, "hash by key is the default")
}

func TestDefaultsFlushEveryMessage(t *testing.T) {
	p, err := NewProducer(WithBrokers([]string{"127.0.0.1:9092"}), WithHashByKey(false), WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, 1, p.writer.BatchSize)
	assert.Equal(t, kafka.RequiredAcks(-1), p.writer.RequiredAcks)
	assert.Equal(t, kafka.Gzip, p.writer.Compression)
	assert.IsType(t, &kafka.LeastBytes{}, p.writer.Balancer)
}

func TestEncodeValue(t *testing.T) {
	b, err := encodeValue([]byte("raw"))
	require.NoError(t, err)
	assert.Equal(t, "raw", string(b))

	b, err = encodeValue(map[string]any{"symbol": "BTCUSDT"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"symbol":"BTCUSDT"}`, string(b))

	_, err = encodeValue(make(chan int))
	assert.Error(t, err)
}

func TestPublishMetrics(t *testing.T) {
	m := newProducerMetrics(prometheus.NewRegistry())
	m.observe("alerts", 42, time.Millisecond, nil)
	m.observe("alerts", 42, time.Millisecond, errors.New("leader not available"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.messages.WithLabelValues("alerts", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.messages.WithLabelValues("alerts", "error")))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.bytes.WithLabelValues("alerts")))
}
