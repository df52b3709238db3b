package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/twmb/franz-go/pkg/kgo"
)

// DLQPublisher is the narrow slice of Producer a Consumer needs to hand off
// a message whose handler could not process it.
type DLQPublisher interface {
	PublishDLQ(ctx context.Context, key string, payload []byte) error
}

// Consumer polls one or more topics and dispatches each record to the
// Handler registered for its topic. A handler failure stops processing for
// that record's partition (subsequent records on the same partition are
// left uncommitted, so a restart reprocesses them); other partitions
// continue independently. If a DLQPublisher is attached, a handler failure
// is instead routed to the DLQ topic and committed past, rather than
// blocking the partition forever.
type Consumer struct {
	client    *kgo.Client
	logger    *logrus.Logger
	clusterID string
	groupID   string
	handlers  map[string]Handler
	dlq       DLQPublisher
}

// NewConsumer creates a Kafka consumer bound to a consumer group.
func NewConsumer(brokers []string, groupID, clusterID, clientID string, logger *logrus.Logger) (*Consumer, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(groupID),
		kgo.ClientID(clientID),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		kgo.DisableAutoCommit(),
		kgo.BlockRebalanceOnPoll(),
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	return &Consumer{
		client:    client,
		logger:    logger,
		clusterID: clusterID,
		groupID:   groupID,
		handlers:  make(map[string]Handler),
	}, nil
}

// AddHandler registers the handler invoked for records on topic.
func (c *Consumer) AddHandler(topic string, handler Handler) {
	c.handlers[topic] = handler
	c.client.AddConsumeTopics(topic)
}

// SetDLQPublisher attaches the producer a handler failure should be routed
// to. Left nil, a handler failure just blocks its partition until the next
// poll retries it.
func (c *Consumer) SetDLQPublisher(dlq DLQPublisher) {
	c.dlq = dlq
}

func (c *Consumer) Close() error {
	c.client.Close()
	return nil
}

// Start polls until ctx is cancelled, dispatching each fetched record to its
// topic's handler and committing only the records that handled cleanly.
func (c *Consumer) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		fetches := c.client.PollFetches(ctx)
		if errs := fetches.Errors(); len(errs) > 0 {
			for _, e := range errs {
				c.logger.WithError(e.Err).WithField("topic", e.Topic).Error("kafka fetch error")
			}
			continue
		}

		var records []*kgo.Record
		iter := fetches.RecordIter()
		for !iter.Done() {
			records = append(records, iter.Next())
		}

		toCommit := c.processRecords(ctx, records)
		if len(toCommit) > 0 {
			if err := c.client.CommitRecords(ctx, toCommit...); err != nil {
				c.logger.WithError(err).Error("failed to commit records")
			}
		}
	}
}

// processRecords dispatches each record to its topic's handler in arrival
// order, stopping at the first failure within a given partition so that
// partition's backlog is retried on the next poll rather than skipped.
func (c *Consumer) processRecords(ctx context.Context, records []*kgo.Record) []*kgo.Record {
	blocked := make(map[int32]bool)
	commit := make([]*kgo.Record, 0, len(records))

	for _, rec := range records {
		if blocked[rec.Partition] {
			continue
		}

		handler, ok := c.handlers[rec.Topic]
		if !ok {
			commit = append(commit, rec)
			continue
		}

		var event Event
		if err := json.Unmarshal(rec.Value, &event); err != nil {
			c.logger.WithError(err).WithFields(logrus.Fields{
				"topic":     rec.Topic,
				"partition": rec.Partition,
				"offset":    rec.Offset,
			}).Error("failed to decode event, committing past malformed record")
			commit = append(commit, rec)
			continue
		}

		if err := handler(ctx, event); err != nil {
			if c.dlq == nil {
				c.logger.WithError(err).WithFields(logrus.Fields{
					"topic":     rec.Topic,
					"partition": rec.Partition,
					"offset":    rec.Offset,
				}).Error("handler failed, blocking partition until next poll")
				blocked[rec.Partition] = true
				continue
			}

			if dlqErr := c.sendToDLQ(ctx, rec, err); dlqErr != nil {
				c.logger.WithError(dlqErr).WithFields(logrus.Fields{
					"topic":     rec.Topic,
					"partition": rec.Partition,
					"offset":    rec.Offset,
				}).Error("failed to publish to dlq, blocking partition until next poll")
				blocked[rec.Partition] = true
				continue
			}

			c.logger.WithError(err).WithFields(logrus.Fields{
				"topic":     rec.Topic,
				"partition": rec.Partition,
				"offset":    rec.Offset,
			}).Warn("handler failed, message sent to dlq")
		}

		commit = append(commit, rec)
	}

	return commit
}

// sendToDLQ encodes rec plus the handler's error and publishes it to the
// DLQ topic, keyed by the original record's key (falling back to
// topic:partition:offset when the record carries none).
func (c *Consumer) sendToDLQ(ctx context.Context, rec *kgo.Record, handlerErr error) error {
	msg := recordToMessage(rec)
	payload, err := EncodeDLQMessage(msg, handlerErr, c.groupID)
	if err != nil {
		return fmt.Errorf("encode dlq payload: %w", err)
	}

	key := string(rec.Key)
	if key == "" {
		key = fmt.Sprintf("%s:%d:%d", rec.Topic, rec.Partition, rec.Offset)
	}

	return c.dlq.PublishDLQ(ctx, key, payload)
}

func recordToMessage(rec *kgo.Record) Message {
	headers := make(map[string]string, len(rec.Headers))
	for _, h := range rec.Headers {
		headers[h.Key] = string(h.Value)
	}
	return Message{
		Topic:     rec.Topic,
		Partition: rec.Partition,
		Offset:    rec.Offset,
		Key:       rec.Key,
		Value:     rec.Value,
		Headers:   headers,
		Timestamp: rec.Timestamp,
	}
}

func (c *Consumer) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.client.Ping(ctx); err != nil {
		return fmt.Errorf("kafka health check failed: %w", err)
	}
	return nil
}

func (c *Consumer) GetClient() *kgo.Client {
	return c.client
}

func (c *Consumer) GetMetrics() map[string]interface{} {
	return map[string]interface{}{
		"cluster_id": c.clusterID,
		"group_id":   c.groupID,
	}
}
