package models

import (
	"time"

	"fieldtrack/pkg/geo"
)

// ShapeKind distinguishes a polygon geofence from a centre-point-and-radius one.
type ShapeKind string

const (
	ShapeCircle  ShapeKind = "circle"
	ShapePolygon ShapeKind = "polygon"
)

// LatLon is a WGS84 coordinate pair.
type LatLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Geofence is a company-scoped containment region, either a circle (centre +
// radius) or a polygon ring. RadiusMeters applies to circles only; polygon
// containment does not read it.
type Geofence struct {
	ID           string    `json:"id" db:"id"`
	CompanyID    string    `json:"company_id" db:"company_id"`
	Name         string    `json:"name" db:"name"`
	Shape        ShapeKind `json:"shape" db:"shape"`
	Center       *LatLon   `json:"center,omitempty" db:"-"`
	Polygon      []LatLon  `json:"polygon,omitempty" db:"-"`
	RadiusMeters float64   `json:"radius_meters" db:"radius_meters"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// EventType is the direction of a geofence crossing.
type EventType string

const (
	EventEntry EventType = "entry"
	EventExit  EventType = "exit"
)

// GeofenceEvent records a debounced entry/exit transition emitted by
// GeofenceHysteresis, persisted for shift history and analytics.
type GeofenceEvent struct {
	ID         string    `json:"id" db:"id"`
	UserID     string    `json:"user_id" db:"user_id"`
	GeofenceID string    `json:"geofence_id" db:"geofence_id"`
	ShiftID    string    `json:"shift_id" db:"shift_id"`
	EventType  EventType `json:"event_type" db:"event_type"`
	Timestamp  time.Time `json:"timestamp" db:"timestamp"`
}

// HysteresisState is the cache-only debounce state GeofenceHysteresis keeps
// per (userId, geofenceId) pair to avoid flapping transitions near a boundary.
type HysteresisState struct {
	Inside           bool      `json:"inside"`
	LastTransition   time.Time `json:"last_transition"`
	ConsecutiveCount int       `json:"consecutive_count"`
}

// InsideAnyGeofence reports whether (lat, lon) falls within any of fences.
// This is the single containment check used everywhere a distance
// computation needs to exclude in-geofence segments, so ShiftEngine's
// per-shift totals and AnalyticsAggregator's daily rollups always agree.
func InsideAnyGeofence(fences []Geofence, lat, lon float64) bool {
	for _, f := range fences {
		switch f.Shape {
		case ShapeCircle:
			if f.Center != nil && geo.PointInCircle(lat, lon, f.Center.Lat, f.Center.Lon, f.RadiusMeters) {
				return true
			}
		case ShapePolygon:
			if len(f.Polygon) >= 3 {
				ring := make([][2]float64, len(f.Polygon))
				for i, p := range f.Polygon {
					ring[i] = [2]float64{p.Lat, p.Lon}
				}
				if geo.PointInRing(lat, lon, ring) {
					return true
				}
			}
		}
	}
	return false
}
