package repository

import (
	"context"

	"OIWatch/internal/domain/models"
	"OIWatch/internal/domain/repository"
	pkgkafka "OIWatch/pkg/kafka"
)

// alertEvent is the JSON payload published per alert.
type alertEvent struct {
	Symbol    string  `json:"symbol"`
	Value     float64 `json:"value"`
	Metric    string  `json:"metric"`
	Threshold float64 `json:"threshold"`
	Message   string  `json:"message"`
	Timestamp int64   `json:"ts"`
}

// KafkaAlertPublisher publishes alerts keyed by symbol.
type KafkaAlertPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

// NewKafkaAlertPublisher creates a publisher writing to topic.
func NewKafkaAlertPublisher(producer *pkgkafka.Producer, topic string) *KafkaAlertPublisher {
	return &KafkaAlertPublisher{producer: producer, topic: topic}
}

var _ repository.AlertPublisher = (*KafkaAlertPublisher)(nil)

func (p *KafkaAlertPublisher) PublishAlert(ctx context.Context, a models.Alert) error {
	return p.producer.Publish(ctx, p.topic, []byte(a.Symbol), alertEvent{
		Symbol:    a.Symbol,
		Value:     a.Value,
		Metric:    a.Metric,
		Threshold: a.Threshold,
		Message:   a.Message,
		Timestamp: a.Timestamp.UnixMilli(),
	})
}

func (p *KafkaAlertPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
