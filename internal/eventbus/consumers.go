package eventbus

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"fieldtrack/pkg/kafka"
	"fieldtrack/pkg/models"
)

// KafkaConsumer is the registration subset Register needs of *kafka.Consumer.
type KafkaConsumer interface {
	AddHandler(topic string, handler kafka.Handler)
}

// UserLookup resolves the company/supervisor context event handlers need.
type UserLookup interface {
	GetUser(ctx context.Context, userID string) (models.User, error)
}

// Notifier is the single-recipient and role-fan-out notification primitive
// handlers use. Notify (not NotifyGroup, which fans out to a group admin's
// own reports) is the correct call for reaching a supervisor directly.
type Notifier interface {
	Notify(ctx context.Context, userID, title, message string) error
	NotifyRole(ctx context.Context, companyID string, role models.Role, title, message, excludeUserID string) error
}

// supervisorRole mirrors shiftengine's escalation ladder: employee reports
// to their group admin, a group admin's shift events escalate to
// management. Management has no role above it.
func supervisorRole(role models.Role) models.Role {
	switch role {
	case models.RoleEmployee:
		return models.RoleGroupAdmin
	case models.RoleGroupAdmin:
		return models.RoleManagement
	default:
		return ""
	}
}

// Register wires consumer's geofence.transition and shift.ended handlers to
// notify the transitioning/ending user's supervisor. location.accepted is
// intentionally left unregistered: see Publisher.PublishLocationAccepted.
func Register(consumer KafkaConsumer, users UserLookup, notifier Notifier, logger *logrus.Logger) {
	consumer.AddHandler(string(kafka.TopicGeofenceTransition), func(ctx context.Context, event kafka.Event) error {
		return handleGeofenceTransition(ctx, event, users, notifier, logger)
	})
	consumer.AddHandler(string(kafka.TopicShiftEnded), func(ctx context.Context, event kafka.Event) error {
		return handleShiftEnded(ctx, event, users, notifier, logger)
	})
}

func handleGeofenceTransition(ctx context.Context, event kafka.Event, users UserLookup, notifier Notifier, logger *logrus.Logger) error {
	user, err := users.GetUser(ctx, event.UserID)
	if err != nil {
		return fmt.Errorf("resolve transitioning user: %w", err)
	}
	if user.GroupAdminID == nil {
		return nil
	}

	eventType, _ := event.Data["event_type"].(string)
	verb := "entered"
	if eventType == string(models.EventExit) {
		verb = "left"
	}

	return notifier.Notify(ctx, *user.GroupAdminID, "Geofence Update",
		fmt.Sprintf("An employee under your group %s a tracked geofence.", verb))
}

func handleShiftEnded(ctx context.Context, event kafka.Event, users UserLookup, notifier Notifier, logger *logrus.Logger) error {
	user, err := users.GetUser(ctx, event.UserID)
	if err != nil {
		return fmt.Errorf("resolve shift owner: %w", err)
	}
	escalateTo := supervisorRole(user.Role)
	if escalateTo == "" {
		return nil
	}
	return notifier.NotifyRole(ctx, user.CompanyID, escalateTo, "Shift Ended",
		fmt.Sprintf("A shift ended for user %s.", event.UserID), "")
}
