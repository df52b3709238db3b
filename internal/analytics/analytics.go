// Package analytics maintains the per-user, per-day rollup of distance
// travelled and indoor/outdoor time.
package analytics

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"fieldtrack/pkg/geo"
	"fieldtrack/pkg/models"
)

const indoorAccuracyThresholdM = 20.0
const indoorSpeedThresholdMps = 0.5

// Store is the cache subset Aggregator needs to remember the last sample
// per user, so distance/elapsed-time deltas can be computed incrementally.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// GeofenceLister is the containment subset Aggregator needs to exclude
// in-geofence segments from distanceKm, mirroring ShiftEngine's
// travelMetrics so sum(shift.totalDistanceKm) and dailyAnalytics(d).distanceKm
// always agree for the same day.
type GeofenceLister interface {
	List(ctx context.Context, companyID string) ([]models.Geofence, error)
}

const prevSampleTTL = 24 * time.Hour

type prevSample struct {
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	Timestamp time.Time `json:"timestamp"`
}

func prevKey(userID string) string { return "analytics:prev:" + userID }

// Aggregator upserts the daily rollup row as samples are accepted.
type Aggregator struct {
	db        *sql.DB
	cache     Store
	geofences GeofenceLister
}

// New wraps db, cache, and the geofence lookup Accumulate uses to exclude
// in-geofence segments from distanceKm.
func New(db *sql.DB, cache Store, geofences GeofenceLister) *Aggregator {
	return &Aggregator{db: db, cache: cache, geofences: geofences}
}

// Range returns userID's daily rollups with a date in [start, end], earliest
// first.
func (a *Aggregator) Range(ctx context.Context, userID string, start, end time.Time) ([]models.DailyAnalytics, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT user_id, date, distance_km, travel_min, indoor_min, outdoor_min
		FROM daily_analytics WHERE user_id = $1 AND date BETWEEN $2 AND $3
		ORDER BY date ASC
	`, userID, dayOf(start), dayOf(end))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.DailyAnalytics
	for rows.Next() {
		var d models.DailyAnalytics
		if err := rows.Scan(&d.UserID, &d.Date, &d.DistanceKm, &d.TravelMin, &d.IndoorMin, &d.OutdoorMin); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Accumulate folds one accepted sample into its calendar day's rollup: the
// great-circle distance from the previous sample is added to distanceKm
// unless the segment's midpoint falls inside one of companyID's geofences —
// the same exclusion ShiftEngine's travelMetrics applies, so a shift's
// totalDistanceKm and its day's dailyAnalytics distanceKm always agree. The
// elapsed time since the previous sample is added to the indoor or outdoor
// bucket depending on the current sample's classification. A sample with no
// cached predecessor for the user has nothing to diff against, so it only
// seeds the cache; the predecessor is kept per user, not per day.
func (a *Aggregator) Accumulate(ctx context.Context, userID, companyID string, sample models.LocationSample) error {
	prev, ok, err := a.loadPrev(ctx, userID)
	if err != nil {
		return err
	}
	if err := a.savePrev(ctx, userID, sample); err != nil {
		return err
	}
	if !ok {
		return nil
	}

	dt := sample.Timestamp.Sub(prev.Timestamp)
	if dt <= 0 {
		return nil
	}

	distKm := 0.0
	excluded, err := a.insideGeofence(ctx, companyID, (sample.Lat+prev.Lat)/2, (sample.Lon+prev.Lon)/2)
	if err != nil {
		return err
	}
	if !excluded {
		distKm = geo.Distance(sample.Lat, sample.Lon, prev.Lat, prev.Lon) / 1000.0
	}
	minutes := dt.Minutes()

	indoor := sample.AccuracyM > indoorAccuracyThresholdM || sample.SpeedMps < indoorSpeedThresholdMps
	indoorMin, outdoorMin := 0.0, 0.0
	if indoor {
		indoorMin = minutes
	} else {
		outdoorMin = minutes
	}

	return a.upsert(ctx, a.db, userID, dayOf(sample.Timestamp), distKm, minutes, indoorMin, outdoorMin)
}

// InitializeDay ensures a rollup row exists for userID's calendar day
// containing at, without disturbing any totals already accumulated for it.
func (a *Aggregator) InitializeDay(ctx context.Context, userID string, at time.Time) error {
	return a.upsert(ctx, a.db, userID, dayOf(at), 0, 0, 0, 0)
}

// InitializeDayTx is InitializeDay enlisted in an already-open transaction,
// so ShiftEngine can fold it into the same atomic unit as the shift it
// opens.
func (a *Aggregator) InitializeDayTx(ctx context.Context, tx *sql.Tx, userID string, at time.Time) error {
	return a.upsert(ctx, tx, userID, dayOf(at), 0, 0, 0, 0)
}

// FinalizeDay ensures date's rollup for userID is persisted once it becomes
// the user's last active shift's end. With our additive-upsert schema there
// is no separate "closed" flag to flip; finalization is a no-op trigger
// point kept for callers (ShiftEngine) that need to know the day is done.
func (a *Aggregator) FinalizeDay(ctx context.Context, userID string, date time.Time, isLastActiveShift bool) error {
	if !isLastActiveShift {
		return nil
	}
	return a.upsert(ctx, a.db, userID, dayOf(date), 0, 0, 0, 0)
}

// FinalizeDayTx is FinalizeDay enlisted in an already-open transaction.
func (a *Aggregator) FinalizeDayTx(ctx context.Context, tx *sql.Tx, userID string, date time.Time, isLastActiveShift bool) error {
	if !isLastActiveShift {
		return nil
	}
	return a.upsert(ctx, tx, userID, dayOf(date), 0, 0, 0, 0)
}

// execer is satisfied by both *sql.DB and *sql.Tx, letting upsert run
// either standalone or enlisted in a caller's transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (a *Aggregator) upsert(ctx context.Context, exec execer, userID string, date time.Time, distanceKm, travelMin, indoorMin, outdoorMin float64) error {
	_, err := exec.ExecContext(ctx, `
		INSERT INTO daily_analytics (user_id, date, distance_km, travel_min, indoor_min, outdoor_min)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, date) DO UPDATE SET
			distance_km = daily_analytics.distance_km + EXCLUDED.distance_km,
			travel_min  = daily_analytics.travel_min + EXCLUDED.travel_min,
			indoor_min  = daily_analytics.indoor_min + EXCLUDED.indoor_min,
			outdoor_min = daily_analytics.outdoor_min + EXCLUDED.outdoor_min
	`, userID, date, distanceKm, travelMin, indoorMin, outdoorMin)
	return err
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (a *Aggregator) loadPrev(ctx context.Context, userID string) (prevSample, bool, error) {
	raw, ok, err := a.cache.Get(ctx, prevKey(userID))
	if err != nil || !ok {
		return prevSample{}, false, err
	}
	var p prevSample
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return prevSample{}, false, err
	}
	return p, true, nil
}

// insideGeofence reports whether (lat, lon) falls inside any of companyID's
// geofences. With no geofence lookup configured, nothing is excluded.
func (a *Aggregator) insideGeofence(ctx context.Context, companyID string, lat, lon float64) (bool, error) {
	if a.geofences == nil {
		return false, nil
	}
	fences, err := a.geofences.List(ctx, companyID)
	if err != nil {
		return false, err
	}
	return models.InsideAnyGeofence(fences, lat, lon), nil
}

func (a *Aggregator) savePrev(ctx context.Context, userID string, sample models.LocationSample) error {
	b, err := json.Marshal(prevSample{Lat: sample.Lat, Lon: sample.Lon, Timestamp: sample.Timestamp})
	if err != nil {
		return err
	}
	return a.cache.Set(ctx, prevKey(userID), string(b), prevSampleTTL)
}
