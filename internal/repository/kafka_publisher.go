package repository

import (
	"context"

	"TrendScan/internal/domain/models"
	domrepo "TrendScan/internal/domain/repository"
	pkgkafka "TrendScan/pkg/kafka"
)

// KafkaPublisher announces committed batches on a single topic. One message
// per batch, keyed by batch ID, carrying the full record set.
type KafkaPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

func NewKafkaPublisher(producer *pkgkafka.Producer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

func (p *KafkaPublisher) PublishBatch(ctx context.Context, batch *models.IngestionBatch) error {
	return p.producer.Publish(ctx, p.topic, []byte(batch.ID), map[string]interface{}{
		"batch_id":   batch.ID,
		"created_at": batch.CreatedAt,
		"tier":       string(batch.Tier),
		"records":    batch.Records,
	})
}

func (p *KafkaPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

var _ domrepo.Publisher = (*KafkaPublisher)(nil)
