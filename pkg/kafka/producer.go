package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Producer publishes Events to their topic and mirrors handler failures to
// a dead-letter topic so a stuck consumer never silently drops data.
type Producer struct {
	client    *kgo.Client
	logger    *logrus.Logger
	clusterID string
}

// NewProducer creates a Kafka producer for the tracking core's event bus.
func NewProducer(brokers []string, clusterID string, logger *logrus.Logger) (*Producer, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.ClientID("fieldtrack"),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.ProducerLinger(10 * time.Millisecond),
		kgo.ProducerBatchMaxBytes(1000000),
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	return &Producer{client: client, logger: logger, clusterID: clusterID}, nil
}

func (p *Producer) Close() error {
	p.client.Close()
	return nil
}

// Publish produces event on its own topic, keyed by UserID so that all
// events for one user land on the same partition and preserve order.
func (p *Producer) Publish(ctx context.Context, event Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	record := &kgo.Record{
		Topic: string(event.Type),
		Key:   []byte(event.UserID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "event_id", Value: []byte(event.ID)},
			{Key: "company_id", Value: []byte(event.CompanyID)},
		},
	}

	result := p.client.ProduceSync(ctx, record)
	if err := result.FirstErr(); err != nil {
		return fmt.Errorf("produce event: %w", err)
	}
	return nil
}

// PublishDLQ mirrors a failed message's DLQ payload onto the dead-letter
// topic, key-preserved so operators can trace it back to its origin.
func (p *Producer) PublishDLQ(ctx context.Context, key string, payload []byte) error {
	record := &kgo.Record{
		Topic: string(TopicLocationDLQ),
		Key:   []byte(key),
		Value: payload,
	}
	result := p.client.ProduceSync(ctx, record)
	if err := result.FirstErr(); err != nil {
		return fmt.Errorf("produce dlq message: %w", err)
	}
	return nil
}

func (p *Producer) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.client.Ping(ctx); err != nil {
		return fmt.Errorf("kafka health check failed: %w", err)
	}
	return nil
}

func (p *Producer) GetMetrics() map[string]interface{} {
	return map[string]interface{}{"cluster_id": p.clusterID}
}
