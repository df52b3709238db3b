// Package locationstore persists accepted location samples and answers the
// group-admin read queries over them: the latest sample per employee, and
// one employee's history across a date range.
package locationstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"fieldtrack/pkg/models"
)

// Store implements ingest.Persister against the relational schema, plus the
// two read queries group-admin tracking needs.
type Store struct {
	db *sql.DB
}

// New wraps db.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// InsertSample implements ingest.Persister.
func (s *Store) InsertSample(ctx context.Context, sample models.LocationSample) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO location_samples (
			id, user_id, shift_id, lat, lon, accuracy_m, battery_pct, speed_mps,
			is_moving, timestamp, arrival_time, geofence_status, is_tracking_active
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, id, sample.UserID, sample.ShiftID, sample.Lat, sample.Lon, sample.AccuracyM, sample.BatteryPct,
		sample.SpeedMps, sample.IsMoving, sample.Timestamp, sample.ArrivalTime, sample.GeofenceStatus, sample.IsTrackingActive)
	if err != nil {
		return "", err
	}
	return id, nil
}

// LatestForUsers returns the most recent sample for each of userIDs that has
// ever reported one, one row per user. DISTINCT ON (user_id) with an
// ORDER BY that breaks ties by timestamp is the standard Postgres idiom for
// "latest row per group"; it rides the same lib/pq driver already used
// throughout this package, not a separate dependency.
func (s *Store) LatestForUsers(ctx context.Context, userIDs []string) ([]models.LocationSample, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT ON (user_id)
			id, user_id, shift_id, lat, lon, accuracy_m, battery_pct, speed_mps,
			is_moving, timestamp, arrival_time, geofence_status, is_tracking_active
		FROM location_samples
		WHERE user_id = ANY($1)
		ORDER BY user_id, timestamp DESC
	`, pq.Array(userIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSamples(rows)
}

// History returns userID's samples with a timestamp in [start, end],
// earliest first.
func (s *Store) History(ctx context.Context, userID string, start, end time.Time) ([]models.LocationSample, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, shift_id, lat, lon, accuracy_m, battery_pct, speed_mps,
			is_moving, timestamp, arrival_time, geofence_status, is_tracking_active
		FROM location_samples
		WHERE user_id = $1 AND timestamp BETWEEN $2 AND $3
		ORDER BY timestamp ASC
	`, userID, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSamples(rows)
}

func scanSamples(rows *sql.Rows) ([]models.LocationSample, error) {
	var out []models.LocationSample
	for rows.Next() {
		var sample models.LocationSample
		if err := rows.Scan(&sample.ID, &sample.UserID, &sample.ShiftID, &sample.Lat, &sample.Lon,
			&sample.AccuracyM, &sample.BatteryPct, &sample.SpeedMps, &sample.IsMoving, &sample.Timestamp,
			&sample.ArrivalTime, &sample.GeofenceStatus, &sample.IsTrackingActive); err != nil {
			return nil, err
		}
		out = append(out, sample)
	}
	return out, rows.Err()
}
