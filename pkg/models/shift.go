package models

import "time"

// ShiftStatus is the lifecycle state of a shift.
type ShiftStatus string

const (
	ShiftActive    ShiftStatus = "active"
	ShiftCompleted ShiftStatus = "completed"
)

// RoleBucket names the physical table a shift's role maps to. Employee,
// group-admin, and management shifts carry different downstream reporting
// columns, so they are split into separate tables instead of one
// polymorphic "kind" column with nullable role-specific fields.
type RoleBucket string

const (
	BucketEmployee   RoleBucket = "employee_shifts"
	BucketGroupAdmin RoleBucket = "group_admin_shifts"
	BucketManagement RoleBucket = "management_shifts"
)

// Shift is one clock-in/clock-out span for a user. At most one row per user
// has EndTime nil; LocationHistory is monotone in time. TotalDistanceKm sums
// the great-circle segments between consecutive samples whose midpoint lies
// outside every company geofence, so it can be less than the great-circle
// length of the whole path.
type Shift struct {
	ID                 string      `json:"id" db:"id"`
	UserID             string      `json:"user_id" db:"user_id"`
	CompanyID          string      `json:"company_id" db:"company_id"`
	RoleBucket         RoleBucket  `json:"role_bucket" db:"role_bucket"`
	StartTime          time.Time   `json:"start_time" db:"start_time"`
	EndTime            *time.Time  `json:"end_time,omitempty" db:"end_time"`
	StartLocation      LatLon      `json:"start_location" db:"-"`
	EndLocation        *LatLon     `json:"end_location,omitempty" db:"-"`
	LocationHistory    []LatLon    `json:"location_history,omitempty" db:"-"`
	TotalDistanceKm    float64     `json:"total_distance_km" db:"total_distance_km"`
	TravelTimeMinutes  float64     `json:"travel_time_minutes" db:"travel_time_minutes"`
	EndedAutomatically bool        `json:"ended_automatically" db:"ended_automatically"`
	Status             ShiftStatus `json:"status" db:"status"`
	CreatedAt          time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at" db:"updated_at"`
}

// ShiftTimer tracks a scheduled auto-end for a shift. At most one
// non-completed timer exists per user; EndTime is always StartTime +
// DurationHours, computed once at creation and never recomputed.
type ShiftTimer struct {
	ID               string     `json:"id" db:"id"`
	ShiftID          string     `json:"shift_id" db:"shift_id"`
	UserID           string     `json:"user_id" db:"user_id"`
	DurationHours    float64    `json:"duration_hours" db:"duration_hours"`
	StartTime        time.Time  `json:"start_time" db:"start_time"`
	EndTime          time.Time  `json:"end_time" db:"end_time"`
	RoleType         Role       `json:"role_type" db:"role_type"`
	ShiftBucket      RoleBucket `json:"shift_bucket" db:"shift_bucket"`
	Completed        bool       `json:"completed" db:"completed"`
	NotificationSent bool       `json:"notification_sent" db:"notification_sent"`
}

// LocationSample is one append-only GPS reading. Timestamp is non-decreasing
// per (UserID, ShiftID) except for out-of-order network delivery, which is
// reordered by server-assigned ArrivalTime, never by the device clock.
type LocationSample struct {
	ID               string    `json:"id" db:"id"`
	UserID           string    `json:"user_id" db:"user_id"`
	ShiftID          *string   `json:"shift_id,omitempty" db:"shift_id"`
	Lat              float64   `json:"lat" db:"lat"`
	Lon              float64   `json:"lon" db:"lon"`
	AccuracyM        float64   `json:"accuracy_m" db:"accuracy_m"`
	BatteryPct       float64   `json:"battery_pct" db:"battery_pct"`
	SpeedMps         float64   `json:"speed_mps" db:"speed_mps"`
	IsMoving         bool      `json:"is_moving" db:"is_moving"`
	Timestamp        time.Time `json:"timestamp" db:"timestamp"`
	ArrivalTime      time.Time `json:"arrival_time" db:"arrival_time"`
	GeofenceStatus   string    `json:"geofence_status,omitempty" db:"geofence_status"`
	IsTrackingActive bool      `json:"is_tracking_active" db:"is_tracking_active"`
}

// DailyAnalytics is the per-user, per-day rollup AnalyticsAggregator
// maintains. The (UserID, Date) pair is unique; Date is the UTC calendar day
// of the samples, stored as midnight UTC of that day.
type DailyAnalytics struct {
	UserID     string    `json:"user_id" db:"user_id"`
	Date       time.Time `json:"date" db:"date"`
	DistanceKm float64   `json:"distance_km" db:"distance_km"`
	TravelMin  float64   `json:"travel_min" db:"travel_min"`
	IndoorMin  float64   `json:"indoor_min" db:"indoor_min"`
	OutdoorMin float64   `json:"outdoor_min" db:"outdoor_min"`
}
