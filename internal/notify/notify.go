// Package notify is the push + in-app notification fan-out layer. One
// Dispatch call can target many recipients; a failure reaching one of them
// never aborts delivery to the rest.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"fieldtrack/pkg/models"
)

// ErrDeviceNotRegistered is returned by a PushProvider when the remote
// provider reports the token is no longer valid. Dispatcher treats this as
// a signal to deactivate the token, not as a delivery failure to surface.
var ErrDeviceNotRegistered = errors.New("device token not registered")

// PushProvider sends one message to one device token.
type PushProvider interface {
	Send(ctx context.Context, token models.DeviceToken, title, message string, data map[string]interface{}) error
}

// TokenStore resolves and retires device tokens.
type TokenStore interface {
	ActiveTokens(ctx context.Context, userID string) ([]models.DeviceToken, error)
	Deactivate(ctx context.Context, tokenID string) error
}

// RoleDirectory resolves the recipients of a role- or group-targeted
// notification. Neither method filters on whether a user is active; every
// matching user row is returned.
type RoleDirectory interface {
	UsersByRole(ctx context.Context, companyID string, role models.Role, excludeUserID string) ([]string, error)
	UsersUnderGroupAdmin(ctx context.Context, groupAdminID string) ([]string, error)
}

// AuditStore persists the push/in-app rows a delivery attempt produces.
type AuditStore interface {
	RecordPush(ctx context.Context, userID, title string, sentAt time.Time) error
	RecordInApp(ctx context.Context, userID, title, message string) error
}

// Dispatcher is the C13 NotificationDispatcher: it fans a Notification out
// to every listed recipient's active device tokens, in-app feed, and audit
// log, and offers role/group fan-out helpers used by ShiftEngine's
// auto-end and reminder flows.
type Dispatcher struct {
	tokens TokenStore
	roles  RoleDirectory
	push   PushProvider
	audit  AuditStore
	logger *logrus.Logger
}

// New wires a Dispatcher from its collaborators.
func New(tokens TokenStore, roles RoleDirectory, push PushProvider, audit AuditStore, logger *logrus.Logger) *Dispatcher {
	return &Dispatcher{tokens: tokens, roles: roles, push: push, audit: audit, logger: logger}
}

// Dispatch delivers n to every id in n.UserIDs. Errors from individual
// recipients are joined and returned, but every recipient is still
// attempted.
func (d *Dispatcher) Dispatch(ctx context.Context, n models.Notification) error {
	var errs []error
	for _, userID := range n.UserIDs {
		if err := d.dispatchOne(ctx, userID, n); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, userID string, n models.Notification) error {
	if err := d.audit.RecordInApp(ctx, userID, n.Title, n.Message); err != nil {
		d.logger.WithError(err).WithField("user_id", userID).Warn("failed to record in-app notification")
	}

	tokens, err := d.tokens.ActiveTokens(ctx, userID)
	if err != nil {
		return fmt.Errorf("loading device tokens for %s: %w", userID, err)
	}

	var errs []error
	for _, tok := range tokens {
		if err := d.push.Send(ctx, tok, n.Title, n.Message, n.Data); err != nil {
			if errors.Is(err, ErrDeviceNotRegistered) {
				if derr := d.tokens.Deactivate(ctx, tok.ID); derr != nil {
					d.logger.WithError(derr).WithField("token_id", tok.ID).Warn("failed to deactivate stale device token")
				}
				continue
			}
			errs = append(errs, fmt.Errorf("push to token %s: %w", tok.ID, err))
			continue
		}
		if aerr := d.audit.RecordPush(ctx, userID, n.Title, time.Now()); aerr != nil {
			d.logger.WithError(aerr).WithField("user_id", userID).Warn("failed to record push audit row")
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Notify implements shiftengine.Notifier: a single-recipient convenience
// wrapper over Dispatch.
func (d *Dispatcher) Notify(ctx context.Context, userID, title, message string) error {
	return d.Dispatch(ctx, models.Notification{
		UserIDs: []string{userID}, Title: title, Message: message,
		Type: "shift", Priority: models.PriorityNormal,
	})
}

// NotifyRole implements shiftengine.Notifier: fans out to every user with
// role in companyID, optionally excluding one sender/subject.
func (d *Dispatcher) NotifyRole(ctx context.Context, companyID string, role models.Role, title, message string, excludeUserID string) error {
	ids, err := d.roles.UsersByRole(ctx, companyID, role, excludeUserID)
	if err != nil {
		return fmt.Errorf("resolving role recipients: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}
	return d.Dispatch(ctx, models.Notification{
		UserIDs: ids, Title: title, Message: message,
		Type: "shift", Priority: models.PriorityNormal,
	})
}

// NotifyGroup fans a notification out to every employee under groupAdminID,
// per spec's sendGroupNotification.
func (d *Dispatcher) NotifyGroup(ctx context.Context, groupAdminID, title, message string) error {
	ids, err := d.roles.UsersUnderGroupAdmin(ctx, groupAdminID)
	if err != nil {
		return fmt.Errorf("resolving group recipients: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}
	return d.Dispatch(ctx, models.Notification{
		UserIDs: ids, Title: title, Message: message,
		Type: "group", Priority: models.PriorityNormal,
	})
}
