package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestHandlerDecodesEventFromMessageValue(t *testing.T) {
	event := Event{
		ID:        "evt-1",
		Type:      TopicLocationAccepted,
		CompanyID: "company-1",
		UserID:    "user-1",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"lat": 37.7749,
			"lon": -122.4194,
		},
	}
	value, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("failed to marshal event: %v", err)
	}

	var got Event
	var handler Handler = func(_ context.Context, e Event) error {
		got = e
		return nil
	}

	msg := Message{Topic: string(TopicLocationAccepted), Value: value}
	var decoded Event
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("failed to unmarshal message: %v", err)
	}
	if err := handler(context.Background(), decoded); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.ID != "evt-1" || got.CompanyID != "company-1" || got.UserID != "user-1" {
		t.Fatalf("event fields not preserved through the Message round trip: %+v", got)
	}
}
