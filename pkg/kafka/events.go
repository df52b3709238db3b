package kafka

import (
	"context"
	"time"
)

// EventType names one of the topics the tracking core publishes to decouple
// ingest and shift end from notification fan-out.
type EventType string

const (
	TopicLocationAccepted   EventType = "location.accepted"
	TopicGeofenceTransition EventType = "geofence.transition"
	TopicShiftEnded         EventType = "shift.ended"
	TopicLocationDLQ        EventType = "tracking.location.dlq"
)

// Event is the envelope published on every domain topic. Data carries the
// topic-specific payload (a LocationSample, a GeofenceEvent, a Shift summary)
// as a JSON-shaped map so consumers can evolve independently of producers.
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	CompanyID string                 `json:"company_id,omitempty"`
	UserID    string                 `json:"user_id,omitempty"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
}

// Message is a raw Kafka record as seen by a consumer, independent of the
// franz-go client type so handlers and tests don't need to import kgo.
type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
}

// Handler processes one decoded Event. When it returns an error and the
// consumer has a DLQPublisher attached, the originating record is published
// to the dead-letter topic and its offset is committed; without one, the
// record and the rest of its partition in that poll are left uncommitted.
type Handler func(ctx context.Context, event Event) error
