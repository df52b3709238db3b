package geofencestore

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"fieldtrack/internal/apperr"
	"fieldtrack/pkg/models"
)

func newStoreWithMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func TestCreateRejectsZeroRadiusCircle(t *testing.T) {
	s, _ := newStoreWithMock(t)
	_, err := s.Create(context.Background(), CreateInput{
		CompanyID: "c1",
		Name:      "HQ",
		Shape:     models.ShapeCircle,
		Center:    &models.LatLon{Lat: 1, Lon: 1},
	})
	appErr, ok := apperr.As(err)
	if !ok || appErr.Kind != apperr.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreateRejectsPolygonWithFewerThanThreePoints(t *testing.T) {
	s, _ := newStoreWithMock(t)
	_, err := s.Create(context.Background(), CreateInput{
		CompanyID: "c1",
		Name:      "Yard",
		Shape:     models.ShapePolygon,
		Polygon:   []models.LatLon{{Lat: 1, Lon: 1}, {Lat: 2, Lon: 2}},
	})
	appErr, ok := apperr.As(err)
	if !ok || appErr.Kind != apperr.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreateInsertsWellFormedCircle(t *testing.T) {
	s, mock := newStoreWithMock(t)
	mock.ExpectExec("INSERT INTO geofences").
		WithArgs(sqlmock.AnyArg(), "c1", "HQ", models.ShapeCircle, sqlmock.AnyArg(), sqlmock.AnyArg(), 100.0, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	g, err := s.Create(context.Background(), CreateInput{
		CompanyID:    "c1",
		Name:         "HQ",
		Shape:        models.ShapeCircle,
		Center:       &models.LatLon{Lat: 37.0, Lon: -122.0},
		RadiusMeters: 100,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.ID == "" {
		t.Fatal("expected generated ID")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDeleteReturnsNotFoundWhenNoRowsAffected(t *testing.T) {
	s, mock := newStoreWithMock(t)
	mock.ExpectExec("DELETE FROM geofences").
		WithArgs("g1", "c1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.Delete(context.Background(), "g1", "c1")
	appErr, ok := apperr.As(err)
	if !ok || appErr.Kind != apperr.KindNotFound {
		t.Fatalf("expected not_found error, got %v", err)
	}
}

func TestIsInsideMatchesCircleFence(t *testing.T) {
	s, mock := newStoreWithMock(t)
	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "company_id", "name", "shape", "center", "polygon", "radius_meters", "created_at", "updated_at"}).
		AddRow("g1", "c1", "HQ", models.ShapeCircle, `{"lat":37,"lon":-122}`, nil, 500.0, now, now)
	mock.ExpectQuery("FROM geofences WHERE company_id").WithArgs("c1").WillReturnRows(rows)

	res, err := s.IsInside(context.Background(), 37.0001, -122.0001, "c1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Inside || res.GeofenceID != "g1" {
		t.Fatalf("expected inside g1, got %+v", res)
	}
}

func TestIsInsideReportsOutsideWhenNoFenceMatches(t *testing.T) {
	s, mock := newStoreWithMock(t)
	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "company_id", "name", "shape", "center", "polygon", "radius_meters", "created_at", "updated_at"}).
		AddRow("g1", "c1", "HQ", models.ShapeCircle, `{"lat":0,"lon":0}`, nil, 10.0, now, now)
	mock.ExpectQuery("FROM geofences WHERE company_id").WithArgs("c1").WillReturnRows(rows)

	res, err := s.IsInside(context.Background(), 37.0, -122.0, "c1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Inside {
		t.Fatalf("expected outside, got %+v", res)
	}
}

func TestRecordEventInsertsTransition(t *testing.T) {
	s, mock := newStoreWithMock(t)
	mock.ExpectExec("INSERT INTO geofence_events").
		WithArgs(sqlmock.AnyArg(), "u1", "g1", "sh1", models.EventEntry, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := s.RecordEvent(context.Background(), models.GeofenceEvent{
		UserID: "u1", GeofenceID: "g1", ShiftID: "sh1", EventType: models.EventEntry, Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
