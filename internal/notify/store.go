package notify

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"fieldtrack/pkg/models"
)

// SQLStore implements TokenStore, RoleDirectory, and AuditStore against the
// relational schema directly — device_tokens, users, push_notifications,
// notifications.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore wraps db.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// ActiveTokens implements TokenStore.
func (s *SQLStore) ActiveTokens(ctx context.Context, userID string) ([]models.DeviceToken, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, token, platform, device_name, active
		FROM device_tokens WHERE user_id = $1 AND active = true
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.DeviceToken
	for rows.Next() {
		var t models.DeviceToken
		if err := rows.Scan(&t.ID, &t.UserID, &t.Token, &t.Platform, &t.DeviceName, &t.Active); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Deactivate implements TokenStore.
func (s *SQLStore) Deactivate(ctx context.Context, tokenID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE device_tokens SET active = false WHERE id = $1`, tokenID)
	return err
}

// UsersByRole implements RoleDirectory.
func (s *SQLStore) UsersByRole(ctx context.Context, companyID string, role models.Role, excludeUserID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM users WHERE company_id = $1 AND role = $2 AND id != $3
	`, companyID, role, excludeUserID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIDs(rows)
}

// UsersUnderGroupAdmin implements RoleDirectory.
func (s *SQLStore) UsersUnderGroupAdmin(ctx context.Context, groupAdminID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM users WHERE group_admin_id = $1`, groupAdminID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIDs(rows)
}

func scanIDs(rows *sql.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// RecordPush implements AuditStore.
func (s *SQLStore) RecordPush(ctx context.Context, userID, title string, sentAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO push_notifications (id, user_id, title, sent, sent_at)
		VALUES ($1, $2, $3, true, $4)
	`, uuid.NewString(), userID, title, sentAt)
	return err
}

// RecordInApp implements AuditStore.
func (s *SQLStore) RecordInApp(ctx context.Context, userID, title, message string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, title, message, read)
		VALUES ($1, $2, $3, $4, false)
	`, uuid.NewString(), userID, title, message)
	return err
}
