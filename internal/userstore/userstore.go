// Package userstore is the read-only user lookup every other package
// depends on through its own narrow UserLookup interface — administrative
// CRUD on the users table itself stays out of scope here.
package userstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"fieldtrack/pkg/models"
)

// ErrUserNotFound is returned when no row matches the requested id.
var ErrUserNotFound = errors.New("user not found")

// Store looks up users by id against the relational schema directly.
type Store struct {
	db *sql.DB
}

// New wraps db.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// GetUser implements the UserLookup interface shiftengine, live, scheduler,
// and attendance each declare locally.
func (s *Store) GetUser(ctx context.Context, userID string) (models.User, error) {
	var u models.User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, company_id, email, role, group_admin_id, manager_id, created_at, updated_at
		FROM users WHERE id = $1
	`, userID).Scan(&u.ID, &u.CompanyID, &u.Email, &u.Role, &u.GroupAdminID, &u.ManagerID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return models.User{}, fmt.Errorf("user %s: %w", userID, ErrUserNotFound)
		}
		return models.User{}, fmt.Errorf("querying user %s: %w", userID, err)
	}
	return u, nil
}
