package models

import "time"

// Role is a user's position in the company hierarchy.
type Role string

const (
	RoleEmployee   Role = "employee"
	RoleGroupAdmin Role = "group-admin"
	RoleManagement Role = "management"
	RoleSuperAdmin Role = "super-admin"
)

// User identifies a caller of the tracking core. GroupAdminID, when set,
// must reference a user in the same company — checked at write time by
// whatever administrative CRUD owns user records (out of scope here).
type User struct {
	ID           string    `json:"id" db:"id"`
	CompanyID    string    `json:"company_id" db:"company_id"`
	Email        string    `json:"email" db:"email"`
	Role         Role      `json:"role" db:"role"`
	GroupAdminID *string   `json:"group_admin_id,omitempty" db:"group_admin_id"`
	ManagerID    *string   `json:"manager_id,omitempty" db:"manager_id"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// CompanyStatus gates login for non-super-admin members.
type CompanyStatus string

const (
	CompanyStatusActive   CompanyStatus = "active"
	CompanyStatusDisabled CompanyStatus = "disabled"
)

// Company is the top-level tenant boundary every other entity hangs off.
type Company struct {
	ID                  string        `json:"id" db:"id"`
	Name                string        `json:"name" db:"name"`
	Status              CompanyStatus `json:"status" db:"status"`
	AttendanceBridgeURL string        `json:"attendance_bridge_url,omitempty" db:"attendance_bridge_url"`
	AttendanceBridgeOn  bool          `json:"attendance_bridge_enabled" db:"attendance_bridge_enabled"`
	CreatedAt           time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at" db:"updated_at"`
}

// DeviceToken is a push registration for a user's device. The pair
// (UserID, Token) is unique; NotificationDispatcher deactivates a token on
// a provider-reported invalid-token error rather than deleting the row.
type DeviceToken struct {
	ID         string     `json:"id" db:"id"`
	UserID     string     `json:"user_id" db:"user_id"`
	Token      string     `json:"token" db:"token"`
	Platform   string     `json:"platform" db:"platform"` // "ios", "android", "web"
	DeviceName string     `json:"device_name,omitempty" db:"device_name"`
	Active     bool       `json:"active" db:"active"`
	LastUsed   *time.Time `json:"last_used,omitempty" db:"last_used"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}
