// Package geofencestore is the CRUD and containment-query component over
// company-scoped geofences.
package geofencestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"fieldtrack/internal/apperr"
	"fieldtrack/pkg/geo"
	"fieldtrack/pkg/models"
)

// Store is the CRUD + containment query component over geofences.
type Store struct {
	db *sql.DB
}

// New wraps db.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateInput carries the fields needed to create a geofence; ID/timestamps
// are assigned by Create.
type CreateInput struct {
	CompanyID    string
	Name         string
	Shape        models.ShapeKind
	Center       *models.LatLon
	Polygon      []models.LatLon
	RadiusMeters float64
}

// Create validates and inserts a geofence scoped to companyId. The company's
// existence is the caller's responsibility to have already established
// (typically via a foreign key constraint on company_id); Create validates
// only the geometry itself.
func (s *Store) Create(ctx context.Context, in CreateInput) (*models.Geofence, error) {
	if err := validateGeometry(in.Shape, in.Center, in.Polygon, in.RadiusMeters); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	g := &models.Geofence{
		ID:           uuid.NewString(),
		CompanyID:    in.CompanyID,
		Name:         in.Name,
		Shape:        in.Shape,
		Center:       in.Center,
		Polygon:      in.Polygon,
		RadiusMeters: in.RadiusMeters,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	centerJSON, polygonJSON, err := encodeGeometry(g)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "encode geofence geometry", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO geofences (id, company_id, name, shape, center, polygon, radius_meters, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, g.ID, g.CompanyID, g.Name, g.Shape, centerJSON, polygonJSON, g.RadiusMeters, g.CreatedAt, g.UpdatedAt)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "insert geofence", err)
	}
	return g, nil
}

// UpdateInput holds the subset of fields to change; nil/zero fields are left
// untouched, per the "rewrite only the provided subset" rule.
type UpdateInput struct {
	Name         *string
	Center       *models.LatLon
	Polygon      []models.LatLon
	RadiusMeters *float64
}

// Update partially updates geofence id scoped to companyId, bumping
// updated_at, or returns apperr.KindNotFound if no row matches.
func (s *Store) Update(ctx context.Context, id, companyID string, in UpdateInput) (*models.Geofence, error) {
	existing, err := s.Get(ctx, id, companyID)
	if err != nil {
		return nil, err
	}

	if in.Name != nil {
		existing.Name = *in.Name
	}
	if in.Center != nil {
		existing.Center = in.Center
	}
	if in.Polygon != nil {
		existing.Polygon = in.Polygon
	}
	if in.RadiusMeters != nil {
		existing.RadiusMeters = *in.RadiusMeters
	}
	if err := validateGeometry(existing.Shape, existing.Center, existing.Polygon, existing.RadiusMeters); err != nil {
		return nil, err
	}
	existing.UpdatedAt = time.Now().UTC()

	centerJSON, polygonJSON, err := encodeGeometry(existing)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "encode geofence geometry", err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE geofences SET name = $1, center = $2, polygon = $3, radius_meters = $4, updated_at = $5
		WHERE id = $6 AND company_id = $7
	`, existing.Name, centerJSON, polygonJSON, existing.RadiusMeters, existing.UpdatedAt, id, companyID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "update geofence", err)
	}
	return existing, nil
}

// Delete removes geofence id scoped to companyId.
func (s *Store) Delete(ctx context.Context, id, companyID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM geofences WHERE id = $1 AND company_id = $2`, id, companyID)
	if err != nil {
		return apperr.Wrap(apperr.KindStorage, "delete geofence", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.KindNotFound, "geofence not found")
	}
	return nil
}

// Get fetches a single geofence scoped to companyId.
func (s *Store) Get(ctx context.Context, id, companyID string) (*models.Geofence, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, company_id, name, shape, center, polygon, radius_meters, created_at, updated_at
		FROM geofences WHERE id = $1 AND company_id = $2
	`, id, companyID)
	return scanGeofence(row)
}

// List returns all geofences for a company.
func (s *Store) List(ctx context.Context, companyID string) ([]models.Geofence, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, company_id, name, shape, center, polygon, radius_meters, created_at, updated_at
		FROM geofences WHERE company_id = $1
		ORDER BY created_at
	`, companyID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "list geofences", err)
	}
	defer rows.Close()

	var out []models.Geofence
	for rows.Next() {
		g, err := scanGeofence(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *g)
	}
	return out, rows.Err()
}

// Containment is the result of an IsInside query.
type Containment struct {
	Inside     bool
	GeofenceID string
	Name       string
}

// IsInside answers whether (lat, lon) falls within any of companyId's
// geofences, evaluating polygon membership or great-circle disk containment
// per fence. The first matching fence wins; fences are evaluated in
// creation order.
func (s *Store) IsInside(ctx context.Context, lat, lon float64, companyID string) (Containment, error) {
	fences, err := s.List(ctx, companyID)
	if err != nil {
		return Containment{}, err
	}
	for _, f := range fences {
		if fenceContains(f, lat, lon) {
			return Containment{Inside: true, GeofenceID: f.ID, Name: f.Name}, nil
		}
	}
	return Containment{}, nil
}

// RecordEvent persists a debounced entry/exit transition GeofenceHysteresis
// has already resolved, implementing ingest.GeofenceEventRecorder.
func (s *Store) RecordEvent(ctx context.Context, event models.GeofenceEvent) error {
	id := event.ID
	if id == "" {
		id = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO geofence_events (id, user_id, geofence_id, shift_id, event_type, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, id, event.UserID, event.GeofenceID, event.ShiftID, event.EventType, event.Timestamp)
	if err != nil {
		return apperr.Wrap(apperr.KindStorage, "insert geofence event", err)
	}
	return nil
}

func fenceContains(f models.Geofence, lat, lon float64) bool {
	switch f.Shape {
	case models.ShapeCircle:
		if f.Center == nil {
			return false
		}
		return geo.PointInCircle(lat, lon, f.Center.Lat, f.Center.Lon, f.RadiusMeters)
	case models.ShapePolygon:
		if len(f.Polygon) < 3 {
			return false
		}
		ring := make([][2]float64, len(f.Polygon))
		for i, p := range f.Polygon {
			ring[i] = [2]float64{p.Lat, p.Lon}
		}
		return geo.PointInRing(lat, lon, ring)
	default:
		return false
	}
}

func validateGeometry(shape models.ShapeKind, center *models.LatLon, polygon []models.LatLon, radiusMeters float64) error {
	switch shape {
	case models.ShapeCircle:
		if center == nil {
			return apperr.New(apperr.KindValidation, "circle geofence requires a center point")
		}
		if !geo.ValidLatLon(center.Lat, center.Lon) {
			return apperr.New(apperr.KindValidation, "circle geofence center is out of range")
		}
		if radiusMeters <= 0 {
			return apperr.New(apperr.KindValidation, "geofence radius must be greater than zero")
		}
	case models.ShapePolygon:
		if len(polygon) < 3 {
			return apperr.New(apperr.KindValidation, "polygon geofence requires at least 3 points")
		}
		for _, p := range polygon {
			if !geo.ValidLatLon(p.Lat, p.Lon) {
				return apperr.New(apperr.KindValidation, "polygon geofence has an out-of-range point")
			}
		}
	default:
		return apperr.New(apperr.KindValidation, fmt.Sprintf("unknown geofence shape %q", shape))
	}
	return nil
}

func encodeGeometry(g *models.Geofence) (centerJSON, polygonJSON []byte, err error) {
	if g.Center != nil {
		centerJSON, err = json.Marshal(g.Center)
		if err != nil {
			return nil, nil, err
		}
	}
	if g.Polygon != nil {
		polygonJSON, err = json.Marshal(g.Polygon)
		if err != nil {
			return nil, nil, err
		}
	}
	return centerJSON, polygonJSON, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanGeofence(row rowScanner) (*models.Geofence, error) {
	var g models.Geofence
	var centerJSON, polygonJSON sql.NullString
	err := row.Scan(&g.ID, &g.CompanyID, &g.Name, &g.Shape, &centerJSON, &polygonJSON,
		&g.RadiusMeters, &g.CreatedAt, &g.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "geofence not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "scan geofence", err)
	}
	if centerJSON.Valid && centerJSON.String != "" {
		var c models.LatLon
		if err := json.Unmarshal([]byte(centerJSON.String), &c); err != nil {
			return nil, apperr.Wrap(apperr.KindStorage, "decode geofence center", err)
		}
		g.Center = &c
	}
	if polygonJSON.Valid && polygonJSON.String != "" {
		var poly []models.LatLon
		if err := json.Unmarshal([]byte(polygonJSON.String), &poly); err != nil {
			return nil, apperr.Wrap(apperr.KindStorage, "decode geofence polygon", err)
		}
		g.Polygon = poly
	}
	return &g, nil
}
