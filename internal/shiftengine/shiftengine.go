// Package shiftengine owns the shift lifecycle state machine: start, end,
// timers, and the minute-tick auto-end sweep.
package shiftengine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"fieldtrack/internal/analytics"
	"fieldtrack/internal/apperr"
	"fieldtrack/internal/geofencestore"
	"fieldtrack/pkg/geo"
	"fieldtrack/pkg/models"
)

// bucketDescriptor is the sole place a role bucket's physical table name is
// spelled out; every query goes through descriptorFor instead of switching
// on role strings inline.
type bucketDescriptor struct {
	table           string
	computesMetrics bool
}

var descriptors = map[models.RoleBucket]bucketDescriptor{
	models.BucketEmployee:   {table: string(models.BucketEmployee), computesMetrics: true},
	models.BucketGroupAdmin: {table: string(models.BucketGroupAdmin), computesMetrics: false},
	models.BucketManagement: {table: string(models.BucketManagement), computesMetrics: false},
}

func descriptorFor(bucket models.RoleBucket) (bucketDescriptor, error) {
	d, ok := descriptors[bucket]
	if !ok {
		return bucketDescriptor{}, apperr.New(apperr.KindValidation, fmt.Sprintf("unknown role bucket %q", bucket))
	}
	return d, nil
}

func bucketForRole(role models.Role) (models.RoleBucket, error) {
	switch role {
	case models.RoleEmployee:
		return models.BucketEmployee, nil
	case models.RoleGroupAdmin:
		return models.BucketGroupAdmin, nil
	case models.RoleManagement, models.RoleSuperAdmin:
		return models.BucketManagement, nil
	default:
		return "", apperr.New(apperr.KindValidation, fmt.Sprintf("unknown role %q", role))
	}
}

// supervisorRole returns the role that should be notified above role on an
// auto-ended shift: employee -> group-admin, group-admin -> management.
// Management has no role above it, so the empty string means "no escalation".
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

// UserLookup resolves the role/company/supervisor context ShiftEngine needs
// but does not own (administrative user CRUD is out of scope here).
type UserLookup interface {
	GetUser(ctx context.Context, userID string) (models.User, error)
}

// GeofenceLookup is the containment subset ShiftEngine needs to validate a
// shift-start location and to classify travel segments at shift-end.
type GeofenceLookup interface {
	IsInside(ctx context.Context, lat, lon float64, companyID string) (geofencestore.Containment, error)
	List(ctx context.Context, companyID string) ([]models.Geofence, error)
}

// Notifier delivers the user- and role-facing notifications ShiftEngine
// fires on auto-end; the full fan-out/token-hygiene logic lives in
// NotificationDispatcher, which implements this interface.
type Notifier interface {
	Notify(ctx context.Context, userID, title, message string) error
	NotifyRole(ctx context.Context, companyID string, role models.Role, title, message string, excludeUserID string) error
}

// AttendanceClient is the narrow view ShiftEngine needs of the attendance
// bridge: fire a punch for a just-ended employee, never propagating failure
// back into the sweep.
type AttendanceClient interface {
	Punch(ctx context.Context, employeeCodes []string) error
}

// EventPublisher mirrors a manually-ended shift onto the event bus. Optional:
// SetEventPublisher attaches one, and a nil publisher skips publication. The
// auto-end sweep already notifies a supervisor directly via Notifier; this
// covers the REST-triggered EndShift path, which previously notified no one.
type EventPublisher interface {
	PublishShiftEnded(ctx context.Context, companyID, userID string, shift models.Shift) error
}

// Engine implements the ShiftEngine component.
type Engine struct {
	db         *sql.DB
	users      UserLookup
	geofences  GeofenceLookup
	analytics  *analytics.Aggregator
	notifier   Notifier
	attendance AttendanceClient
	events     EventPublisher
	logger     *logrus.Logger
}

// New wires Engine's collaborators. attendance may be nil when the
// attendance bridge is disabled for every tenant.
func New(db *sql.DB, users UserLookup, geofences GeofenceLookup, analyticsAgg *analytics.Aggregator,
	notifier Notifier, attendance AttendanceClient, logger *logrus.Logger) *Engine {
	return &Engine{db: db, users: users, geofences: geofences, analytics: analyticsAgg, notifier: notifier, attendance: attendance, logger: logger}
}

// SetEventPublisher attaches the event bus publisher.
func (e *Engine) SetEventPublisher(events EventPublisher) {
	e.events = events
}

// StartShift opens a new shift for userID at loc. Unless overridePermission
// is set, loc must fall within one of the company's configured geofences
// when the company has any configured at all.
func (e *Engine) StartShift(ctx context.Context, userID string, loc models.LatLon, overridePermission bool) (*models.Shift, error) {
	user, err := e.users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	bucket, err := bucketForRole(user.Role)
	if err != nil {
		return nil, err
	}
	desc, err := descriptorFor(bucket)
	if err != nil {
		return nil, err
	}

	if !overridePermission {
		if err := e.requireWithinGeofence(ctx, user.CompanyID, loc); err != nil {
			return nil, err
		}
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "begin start-shift transaction", err)
	}
	defer tx.Rollback()

	var existing string
	err = tx.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT id FROM %s WHERE user_id = $1 AND end_time IS NULL FOR UPDATE`, desc.table),
		userID,
	).Scan(&existing)
	if err == nil {
		return nil, apperr.New(apperr.KindConflict, "an active shift already exists for this user")
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.Wrap(apperr.KindStorage, "check active shift", err)
	}

	now := time.Now().UTC()
	locJSON, err := json.Marshal(loc)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "encode start location", err)
	}

	shift := &models.Shift{
		ID:            uuid.NewString(),
		UserID:        userID,
		CompanyID:     user.CompanyID,
		RoleBucket:    bucket,
		StartTime:     now,
		StartLocation: loc,
		Status:        models.ShiftActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, user_id, company_id, role_bucket, start_time, start_location, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, desc.table), shift.ID, shift.UserID, shift.CompanyID, shift.RoleBucket, shift.StartTime, locJSON, shift.Status, shift.CreatedAt, shift.UpdatedAt)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "insert shift", err)
	}

	if err := e.analytics.InitializeDayTx(ctx, tx, userID, now); err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "initialize daily analytics row", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "commit start-shift transaction", err)
	}
	return shift, nil
}

// EndShift closes userID's active shift at loc, computing route metrics from
// the shift's persisted location samples.
func (e *Engine) EndShift(ctx context.Context, userID string, loc models.LatLon, now time.Time) (*models.Shift, error) {
	user, err := e.users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	bucket, err := bucketForRole(user.Role)
	if err != nil {
		return nil, err
	}
	desc, err := descriptorFor(bucket)
	if err != nil {
		return nil, err
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "begin end-shift transaction", err)
	}
	defer tx.Rollback()

	var shiftID string
	var startTime time.Time
	err = tx.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT id, start_time FROM %s WHERE user_id = $1 AND end_time IS NULL FOR UPDATE`, desc.table),
		userID,
	).Scan(&shiftID, &startTime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "no active shift for this user")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "load active shift", err)
	}

	var distanceKm, travelMin float64
	if desc.computesMetrics {
		distanceKm, travelMin, err = e.travelMetrics(ctx, tx, shiftID, user.CompanyID)
		if err != nil {
			return nil, err
		}
	}

	locJSON, err := json.Marshal(loc)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "encode end location", err)
	}

	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET end_time = $1, end_location = $2, total_distance_km = $3,
			travel_time_minutes = $4, status = $5, updated_at = $1
		WHERE id = $6
	`, desc.table), now, locJSON, distanceKm, travelMin, models.ShiftCompleted, shiftID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "update shift on end", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE shift_timers SET completed = true WHERE shift_id = $1 AND completed = false`, shiftID); err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "complete related timers", err)
	}

	if err := e.analytics.FinalizeDayTx(ctx, tx, userID, now, true); err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "finalize daily analytics", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "commit end-shift transaction", err)
	}

	end := now
	result := &models.Shift{
		ID: shiftID, UserID: userID, CompanyID: user.CompanyID, RoleBucket: bucket,
		StartTime: startTime, EndTime: &end, EndLocation: &loc,
		TotalDistanceKm: distanceKm, TravelTimeMinutes: travelMin, Status: models.ShiftCompleted,
	}

	if e.events != nil {
		if err := e.events.PublishShiftEnded(ctx, user.CompanyID, userID, *result); err != nil {
			e.logger.WithError(err).Warn("failed to publish shift ended event")
		}
	}

	return result, nil
}

// travelMetrics sums the great-circle length of the segments of shiftID's
// location history whose midpoint falls outside every one of companyID's
// geofences, and the elapsed time between the first and last sample — the
// single "segments outside geofences" distance definition used everywhere.
func (e *Engine) travelMetrics(ctx context.Context, tx *sql.Tx, shiftID, companyID string) (distanceKm, travelMinutes float64, err error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT lat, lon, timestamp FROM location_samples
		WHERE shift_id = $1 ORDER BY timestamp ASC
	`, shiftID)
	if err != nil {
		return 0, 0, apperr.Wrap(apperr.KindStorage, "load shift location history", err)
	}
	defer rows.Close()

	fences, err := e.geofences.List(ctx, companyID)
	if err != nil {
		return 0, 0, apperr.Wrap(apperr.KindStorage, "load company geofences", err)
	}

	type point struct {
		lat, lon float64
		ts       time.Time
	}
	var points []point
	for rows.Next() {
		var p point
		if err := rows.Scan(&p.lat, &p.lon, &p.ts); err != nil {
			return 0, 0, apperr.Wrap(apperr.KindStorage, "scan location history row", err)
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return 0, 0, apperr.Wrap(apperr.KindStorage, "iterate location history", err)
	}
	if len(points) < 2 {
		return 0, 0, nil
	}

	for i := 1; i < len(points); i++ {
		a, b := points[i-1], points[i]
		midLat, midLon := (a.lat+b.lat)/2, (a.lon+b.lon)/2
		if models.InsideAnyGeofence(fences, midLat, midLon) {
			continue
		}
		distanceKm += geo.Distance(a.lat, a.lon, b.lat, b.lon) / 1000.0
	}
	travelMinutes = points[len(points)-1].ts.Sub(points[0].ts).Minutes()
	return distanceKm, travelMinutes, nil
}

func (e *Engine) requireWithinGeofence(ctx context.Context, companyID string, loc models.LatLon) error {
	fences, err := e.geofences.List(ctx, companyID)
	if err != nil {
		return apperr.Wrap(apperr.KindStorage, "load company geofences", err)
	}
	if len(fences) == 0 {
		return nil
	}
	containment, err := e.geofences.IsInside(ctx, loc.Lat, loc.Lon, companyID)
	if err != nil {
		return apperr.Wrap(apperr.KindStorage, "check shift-start containment", err)
	}
	if !containment.Inside {
		return apperr.New(apperr.KindValidation, "shift must start within a company geofence")
	}
	return nil
}

// SetTimer schedules userID's active shift to auto-end after hours, removing
// any prior non-completed timer first.
func (e *Engine) SetTimer(ctx context.Context, userID string, hours float64) (*models.ShiftTimer, error) {
	if hours <= 0 || hours > 24 {
		return nil, apperr.New(apperr.KindValidation, "timer hours must be in (0, 24]")
	}
	user, err := e.users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	bucket, err := bucketForRole(user.Role)
	if err != nil {
		return nil, err
	}
	desc, err := descriptorFor(bucket)
	if err != nil {
		return nil, err
	}

	var shiftID string
	var startTime time.Time
	err = e.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT id, start_time FROM %s WHERE user_id = $1 AND end_time IS NULL`, desc.table),
		userID,
	).Scan(&shiftID, &startTime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "no active shift for this user")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "load active shift for timer", err)
	}

	if _, err := e.db.ExecContext(ctx, `DELETE FROM shift_timers WHERE user_id = $1 AND completed = false`, userID); err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "delete prior timer", err)
	}

	timer := &models.ShiftTimer{
		ID:            uuid.NewString(),
		ShiftID:       shiftID,
		UserID:        userID,
		DurationHours: hours,
		StartTime:     startTime,
		EndTime:       startTime.Add(time.Duration(hours * float64(time.Hour))),
		RoleType:      user.Role,
		ShiftBucket:   bucket,
	}
	_, err = e.db.ExecContext(ctx, `
		INSERT INTO shift_timers (id, shift_id, user_id, duration_hours, start_time, end_time, role_type, shift_bucket, completed, notification_sent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, false, false)
	`, timer.ID, timer.ShiftID, timer.UserID, timer.DurationHours, timer.StartTime, timer.EndTime, timer.RoleType, timer.ShiftBucket)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "insert timer", err)
	}
	return timer, nil
}

// ActiveShift returns userID's open shift, if any.
func (e *Engine) ActiveShift(ctx context.Context, userID string) (*models.Shift, error) {
	user, err := e.users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	bucket, err := bucketForRole(user.Role)
	if err != nil {
		return nil, err
	}
	desc, err := descriptorFor(bucket)
	if err != nil {
		return nil, err
	}

	var shift models.Shift
	var startLocJSON []byte
	err = e.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id, user_id, company_id, role_bucket, start_time, start_location,
			total_distance_km, travel_time_minutes, status, created_at, updated_at
		FROM %s WHERE user_id = $1 AND end_time IS NULL
	`, desc.table), userID).Scan(&shift.ID, &shift.UserID, &shift.CompanyID, &shift.RoleBucket,
		&shift.StartTime, &startLocJSON, &shift.TotalDistanceKm, &shift.TravelTimeMinutes,
		&shift.Status, &shift.CreatedAt, &shift.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "no active shift for this user")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "load active shift", err)
	}
	if len(startLocJSON) > 0 {
		if err := json.Unmarshal(startLocJSON, &shift.StartLocation); err != nil {
			return nil, apperr.Wrap(apperr.KindStorage, "decode start location", err)
		}
	}
	return &shift, nil
}

// ShiftHistory returns userID's shifts (open or closed) with a start time in
// [start, end], most recent first. A user's role (and therefore bucket) is
// fixed for their whole history, so only that one bucket's table is queried.
func (e *Engine) ShiftHistory(ctx context.Context, userID string, start, end time.Time) ([]models.Shift, error) {
	user, err := e.users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	bucket, err := bucketForRole(user.Role)
	if err != nil {
		return nil, err
	}
	desc, err := descriptorFor(bucket)
	if err != nil {
		return nil, err
	}

	rows, err := e.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, user_id, company_id, role_bucket, start_time, end_time,
			start_location, end_location, total_distance_km, travel_time_minutes,
			ended_automatically, status, created_at, updated_at
		FROM %s WHERE user_id = $1 AND start_time BETWEEN $2 AND $3
		ORDER BY start_time DESC
	`, desc.table), userID, start, end)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "query shift history", err)
	}
	defer rows.Close()

	var shifts []models.Shift
	for rows.Next() {
		var s models.Shift
		var startLocJSON, endLocJSON []byte
		if err := rows.Scan(&s.ID, &s.UserID, &s.CompanyID, &s.RoleBucket, &s.StartTime, &s.EndTime,
			&startLocJSON, &endLocJSON, &s.TotalDistanceKm, &s.TravelTimeMinutes,
			&s.EndedAutomatically, &s.Status, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, apperr.Wrap(apperr.KindStorage, "scan shift history row", err)
		}
		if len(startLocJSON) > 0 {
			_ = json.Unmarshal(startLocJSON, &s.StartLocation)
		}
		if len(endLocJSON) > 0 {
			var loc models.LatLon
			if json.Unmarshal(endLocJSON, &loc) == nil {
				s.EndLocation = &loc
			}
		}
		shifts = append(shifts, s)
	}
	return shifts, rows.Err()
}

// CancelTimer removes userID's non-completed timer, if any.
func (e *Engine) CancelTimer(ctx context.Context, userID string) error {
	_, err := e.db.ExecContext(ctx, `DELETE FROM shift_timers WHERE user_id = $1 AND completed = false`, userID)
	if err != nil {
		return apperr.Wrap(apperr.KindStorage, "cancel timer", err)
	}
	return nil
}

// GetTimer returns userID's non-completed timer and its shift, if any.
func (e *Engine) GetTimer(ctx context.Context, userID string) (*models.ShiftTimer, error) {
	var t models.ShiftTimer
	err := e.db.QueryRowContext(ctx, `
		SELECT id, shift_id, user_id, duration_hours, start_time, end_time, role_type, shift_bucket, completed, notification_sent
		FROM shift_timers WHERE user_id = $1 AND completed = false
	`, userID).Scan(&t.ID, &t.ShiftID, &t.UserID, &t.DurationHours, &t.StartTime, &t.EndTime, &t.RoleType, &t.ShiftBucket, &t.Completed, &t.NotificationSent)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "no active timer for this user")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "load timer", err)
	}
	return &t, nil
}

// dueTimer is one row selected by a sweep query.
type dueTimer struct {
	id, shiftID, userID string
	bucket              models.RoleBucket
	endTime             time.Time
}

// AutoEndSweep closes every shift whose timer has expired. Each timer is
// processed in its own transaction so one failure never blocks the rest of
// the sweep.
func (e *Engine) AutoEndSweep(ctx context.Context, now time.Time) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT id, shift_id, user_id, shift_bucket, end_time FROM shift_timers
		WHERE completed = false AND end_time <= $1
	`, now)
	if err != nil {
		e.logger.WithError(err).Error("auto-end sweep: failed to query due timers")
		return
	}
	var due []dueTimer
	for rows.Next() {
		var t dueTimer
		if err := rows.Scan(&t.id, &t.shiftID, &t.userID, &t.bucket, &t.endTime); err != nil {
			e.logger.WithError(err).Error("auto-end sweep: failed to scan timer row")
			continue
		}
		due = append(due, t)
	}
	rows.Close()

	for _, t := range due {
		e.autoEndOne(ctx, t)
	}
}

func (e *Engine) autoEndOne(ctx context.Context, t dueTimer) {
	logger := e.logger.WithField("timer_id", t.id).WithField("user_id", t.userID)

	desc, err := descriptorFor(t.bucket)
	if err != nil {
		logger.WithError(err).Error("auto-end sweep: unknown role bucket")
		return
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		logger.WithError(err).Error("auto-end sweep: failed to begin transaction")
		return
	}
	defer tx.Rollback()

	var companyID string
	var stillActive bool
	err = tx.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT company_id FROM %s WHERE id = $1 AND end_time IS NULL FOR UPDATE`, desc.table),
		t.shiftID,
	).Scan(&companyID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		stillActive = false
	case err != nil:
		logger.WithError(err).Error("auto-end sweep: failed to re-verify shift")
		return
	default:
		stillActive = true
	}

	if !stillActive {
		if _, err := tx.ExecContext(ctx, `UPDATE shift_timers SET completed = true WHERE id = $1`, t.id); err != nil {
			logger.WithError(err).Error("auto-end sweep: failed to complete stale timer")
			return
		}
		if err := tx.Commit(); err != nil {
			logger.WithError(err).Error("auto-end sweep: failed to commit stale-timer completion")
		}
		return
	}

	var distanceKm, travelMin float64
	if desc.computesMetrics {
		distanceKm, travelMin, err = e.travelMetrics(ctx, tx, t.shiftID, companyID)
		if err != nil {
			logger.WithError(err).Error("auto-end sweep: failed to compute travel metrics")
			return
		}
	}

	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET end_time = $1, total_distance_km = $2, travel_time_minutes = $3,
			ended_automatically = true, status = $4, updated_at = $1
		WHERE id = $5
	`, desc.table), t.endTime, distanceKm, travelMin, models.ShiftCompleted, t.shiftID)
	if err != nil {
		logger.WithError(err).Error("auto-end sweep: failed to close shift")
		return
	}

	if e.attendance != nil {
		if err := e.attendance.Punch(ctx, []string{t.userID}); err != nil {
			logger.WithError(err).Warn("auto-end sweep: attendance bridge punch failed, shift still ends")
		}
	}

	if err := e.analytics.FinalizeDayTx(ctx, tx, t.userID, t.endTime, true); err != nil {
		logger.WithError(err).Error("auto-end sweep: failed to finalize analytics")
		return
	}

	if _, err := tx.ExecContext(ctx, `UPDATE shift_timers SET completed = true WHERE id = $1`, t.id); err != nil {
		logger.WithError(err).Error("auto-end sweep: failed to mark timer completed")
		return
	}

	if err := tx.Commit(); err != nil {
		logger.WithError(err).Error("auto-end sweep: failed to commit")
		return
	}

	e.notifyAutoEnd(ctx, t.userID, logger)
}

func (e *Engine) notifyAutoEnd(ctx context.Context, userID string, logger *logrus.Entry) {
	if err := e.notifier.Notify(ctx, userID, "Shift Automatically Ended", "Your shift was automatically ended after your scheduled timer elapsed."); err != nil {
		logger.WithError(err).Warn("auto-end sweep: failed to notify user")
	}
	user, err := e.users.GetUser(ctx, userID)
	if err != nil {
		logger.WithError(err).Warn("auto-end sweep: failed to look up user for supervisor notification")
		return
	}
	escalateTo := supervisorRole(user.Role)
	if escalateTo == "" {
		return
	}
	if err := e.notifier.NotifyRole(ctx, user.CompanyID, escalateTo, "Employee Shift Automatically Ended",
		fmt.Sprintf("A shift under your supervision was automatically ended for user %s.", userID), ""); err != nil {
		logger.WithError(err).Warn("auto-end sweep: failed to notify supervisor role")
	}
}

// SendTimerReminders pushes "Shift Ending Soon" to every user whose timer
// ends within the next reminderMinutes and hasn't already been notified.
func (e *Engine) SendTimerReminders(ctx context.Context, reminderMinutes int, now time.Time) {
	window := now.Add(time.Duration(reminderMinutes) * time.Minute)
	rows, err := e.db.QueryContext(ctx, `
		SELECT id, user_id FROM shift_timers
		WHERE completed = false AND notification_sent = false AND end_time > $1 AND end_time <= $2
	`, now, window)
	if err != nil {
		e.logger.WithError(err).Error("timer reminders: failed to query due timers")
		return
	}
	type pending struct{ id, userID string }
	var out []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.id, &p.userID); err != nil {
			e.logger.WithError(err).Error("timer reminders: failed to scan row")
			continue
		}
		out = append(out, p)
	}
	rows.Close()

	for _, p := range out {
		if err := e.notifier.Notify(ctx, p.userID, "Shift Ending Soon", "Your shift will automatically end soon."); err != nil {
			e.logger.WithError(err).WithField("user_id", p.userID).Warn("timer reminders: failed to notify user")
		}
		if _, err := e.db.ExecContext(ctx, `UPDATE shift_timers SET notification_sent = true WHERE id = $1`, p.id); err != nil {
			e.logger.WithError(err).WithField("timer_id", p.id).Error("timer reminders: failed to mark notification sent")
		}
	}
}
