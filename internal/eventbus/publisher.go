// Package eventbus adapts the tracking core's event-publishing and
// event-consuming narrow interfaces (ingest.EventPublisher,
// shiftengine.EventPublisher) onto the Kafka-backed pkg/kafka producer and
// consumer, and wires the consumer side to notification fan-out.
package eventbus

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"fieldtrack/pkg/kafka"
	"fieldtrack/pkg/models"
)

// KafkaProducer is the publish subset Publisher needs of *kafka.Producer.
type KafkaProducer interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// Publisher implements both ingest.EventPublisher and shiftengine.EventPublisher
// over a single Kafka producer, so ingest and shiftengine never import
// pkg/kafka directly.
type Publisher struct {
	producer KafkaProducer
	logger   *logrus.Logger
}

// New builds a Publisher over producer.
func New(producer KafkaProducer, logger *logrus.Logger) *Publisher {
	return &Publisher{producer: producer, logger: logger}
}

// PublishLocationAccepted implements ingest.EventPublisher. Deliberately
// unconsumed in-process: analytics already accumulate synchronously inside
// ingest.Ingest, so a location.accepted consumer would double-count them.
// It exists for external consumers (reporting, audit trails) only.
func (p *Publisher) PublishLocationAccepted(ctx context.Context, companyID, userID string, sample models.LocationSample) error {
	return p.producer.Publish(ctx, kafka.Event{
		ID:        uuid.NewString(),
		Type:      kafka.TopicLocationAccepted,
		CompanyID: companyID,
		UserID:    userID,
		Data: map[string]interface{}{
			"lat":        sample.Lat,
			"lon":        sample.Lon,
			"accuracy_m": sample.AccuracyM,
			"timestamp":  sample.Timestamp,
		},
		Timestamp: time.Now(),
	})
}

// PublishGeofenceTransition implements ingest.EventPublisher.
func (p *Publisher) PublishGeofenceTransition(ctx context.Context, companyID, userID string, event models.GeofenceEvent) error {
	return p.producer.Publish(ctx, kafka.Event{
		ID:        uuid.NewString(),
		Type:      kafka.TopicGeofenceTransition,
		CompanyID: companyID,
		UserID:    userID,
		Data: map[string]interface{}{
			"geofence_id": event.GeofenceID,
			"shift_id":    event.ShiftID,
			"event_type":  string(event.EventType),
			"timestamp":   event.Timestamp,
		},
		Timestamp: time.Now(),
	})
}

// PublishShiftEnded implements shiftengine.EventPublisher.
func (p *Publisher) PublishShiftEnded(ctx context.Context, companyID, userID string, shift models.Shift) error {
	return p.producer.Publish(ctx, kafka.Event{
		ID:        uuid.NewString(),
		Type:      kafka.TopicShiftEnded,
		CompanyID: companyID,
		UserID:    userID,
		Data: map[string]interface{}{
			"shift_id":            shift.ID,
			"role_bucket":         string(shift.RoleBucket),
			"total_distance_km":   shift.TotalDistanceKm,
			"travel_time_minutes": shift.TravelTimeMinutes,
			"ended_automatically": shift.EndedAutomatically,
		},
		Timestamp: time.Now(),
	})
}
