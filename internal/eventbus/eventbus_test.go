package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"fieldtrack/pkg/kafka"
	"fieldtrack/pkg/models"
)

type capturingProducer struct {
	published []kafka.Event
}

func (p *capturingProducer) Publish(_ context.Context, event kafka.Event) error {
	p.published = append(p.published, event)
	return nil
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(discard{})
	return l
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func TestPublishLocationAcceptedSetsTopicAndKeys(t *testing.T) {
	p := &capturingProducer{}
	pub := New(p, quietLogger())

	err := pub.PublishLocationAccepted(context.Background(), "co-1", "u1", models.LocationSample{
		Lat: 1.5, Lon: 2.5, AccuracyM: 10, Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(p.published) != 1 {
		t.Fatalf("expected one published event, got %d", len(p.published))
	}
	got := p.published[0]
	if got.Type != kafka.TopicLocationAccepted || got.CompanyID != "co-1" || got.UserID != "u1" {
		t.Fatalf("unexpected event envelope: %+v", got)
	}
}

func TestPublishGeofenceTransitionSetsTopic(t *testing.T) {
	p := &capturingProducer{}
	pub := New(p, quietLogger())

	err := pub.PublishGeofenceTransition(context.Background(), "co-1", "u1", models.GeofenceEvent{
		GeofenceID: "gf-1", ShiftID: "sh-1", EventType: models.EventEntry, Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.published[0].Type != kafka.TopicGeofenceTransition {
		t.Fatalf("expected geofence transition topic, got %v", p.published[0].Type)
	}
}

func TestPublishShiftEndedSetsTopic(t *testing.T) {
	p := &capturingProducer{}
	pub := New(p, quietLogger())

	err := pub.PublishShiftEnded(context.Background(), "co-1", "u1", models.Shift{ID: "sh-1", RoleBucket: models.BucketEmployee})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.published[0].Type != kafka.TopicShiftEnded {
		t.Fatalf("expected shift ended topic, got %v", p.published[0].Type)
	}
}

type fakeUsers struct{ users map[string]models.User }

func (f fakeUsers) GetUser(_ context.Context, userID string) (models.User, error) {
	return f.users[userID], nil
}

type capturingNotifier struct {
	notified   []string
	roleCalled *models.Role
}

func (n *capturingNotifier) Notify(_ context.Context, userID, _, _ string) error {
	n.notified = append(n.notified, userID)
	return nil
}
func (n *capturingNotifier) NotifyRole(_ context.Context, _ string, role models.Role, _, _, _ string) error {
	n.roleCalled = &role
	return nil
}

func TestHandleGeofenceTransitionNotifiesGroupAdmin(t *testing.T) {
	groupAdminID := "ga1"
	users := fakeUsers{users: map[string]models.User{
		"u1": {ID: "u1", CompanyID: "co-1", Role: models.RoleEmployee, GroupAdminID: &groupAdminID},
	}}
	notifier := &capturingNotifier{}

	err := handleGeofenceTransition(context.Background(), kafka.Event{
		UserID: "u1", Data: map[string]interface{}{"event_type": string(models.EventEntry)},
	}, users, notifier, quietLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(notifier.notified) != 1 || notifier.notified[0] != groupAdminID {
		t.Fatalf("expected notify of group admin %q, got %v", groupAdminID, notifier.notified)
	}
}

func TestHandleGeofenceTransitionSkipsUserWithNoGroupAdmin(t *testing.T) {
	users := fakeUsers{users: map[string]models.User{
		"u1": {ID: "u1", CompanyID: "co-1", Role: models.RoleEmployee},
	}}
	notifier := &capturingNotifier{}

	if err := handleGeofenceTransition(context.Background(), kafka.Event{UserID: "u1"}, users, notifier, quietLogger()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(notifier.notified) != 0 {
		t.Fatalf("expected no notification, got %v", notifier.notified)
	}
}

func TestHandleShiftEndedEscalatesToGroupAdminRole(t *testing.T) {
	users := fakeUsers{users: map[string]models.User{
		"u1": {ID: "u1", CompanyID: "co-1", Role: models.RoleEmployee},
	}}
	notifier := &capturingNotifier{}

	err := handleShiftEnded(context.Background(), kafka.Event{UserID: "u1"}, users, notifier, quietLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if notifier.roleCalled == nil || *notifier.roleCalled != models.RoleGroupAdmin {
		t.Fatalf("expected escalation to group-admin role, got %v", notifier.roleCalled)
	}
}

func TestHandleShiftEndedNoEscalationForManagement(t *testing.T) {
	users := fakeUsers{users: map[string]models.User{
		"mgr1": {ID: "mgr1", CompanyID: "co-1", Role: models.RoleManagement},
	}}
	notifier := &capturingNotifier{}

	if err := handleShiftEnded(context.Background(), kafka.Event{UserID: "mgr1"}, users, notifier, quietLogger()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if notifier.roleCalled != nil {
		t.Fatalf("expected no escalation for management, got %v", notifier.roleCalled)
	}
}
