package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"fieldtrack/pkg/cache"
	"fieldtrack/pkg/models"
)

type localStore struct{ m *cache.LocalMap }

func (s localStore) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := s.m.Get(key)
	return v, ok, nil
}

func (s localStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.m.Set(key, value, ttl)
	return nil
}

type fakeGeofences struct{ fences []models.Geofence }

func (f fakeGeofences) List(_ context.Context, _ string) ([]models.Geofence, error) {
	return f.fences, nil
}

func newAggregator(t *testing.T, geofences GeofenceLister) (*Aggregator, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db, localStore{m: cache.NewLocalMap()}, geofences), mock
}

func TestAccumulateFirstSampleOfDaySeedsCacheWithoutUpsert(t *testing.T) {
	a, mock := newAggregator(t, nil)
	err := a.Accumulate(context.Background(), "u1", "co-1", models.LocationSample{
		Lat: 37.0, Lon: -122.0, AccuracyM: 5, SpeedMps: 1.0, Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expected no DB calls for the first sample, got: %v", err)
	}
}

func TestAccumulateSecondSampleUpsertsOutdoorBucket(t *testing.T) {
	a, mock := newAggregator(t, nil)
	ctx := context.Background()
	now := time.Now()

	if err := a.Accumulate(ctx, "u2", "co-1", models.LocationSample{
		Lat: 37.0, Lon: -122.0, AccuracyM: 5, SpeedMps: 2.0, Timestamp: now,
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mock.ExpectExec("INSERT INTO daily_analytics").
		WithArgs("u2", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), 0.0, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := a.Accumulate(ctx, "u2", "co-1", models.LocationSample{
		Lat: 37.001, Lon: -122.001, AccuracyM: 5, SpeedMps: 2.0, Timestamp: now.Add(time.Minute),
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAccumulateClassifiesIndoorByPoorAccuracy(t *testing.T) {
	a, mock := newAggregator(t, nil)
	ctx := context.Background()
	now := time.Now()

	if err := a.Accumulate(ctx, "u3", "co-1", models.LocationSample{
		Lat: 37.0, Lon: -122.0, AccuracyM: 50, SpeedMps: 2.0, Timestamp: now,
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mock.ExpectExec("INSERT INTO daily_analytics").
		WithArgs("u3", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), 0.0).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := a.Accumulate(ctx, "u3", "co-1", models.LocationSample{
		Lat: 37.001, Lon: -122.001, AccuracyM: 50, SpeedMps: 2.0, Timestamp: now.Add(time.Minute),
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAccumulateExcludesSegmentInsideCompanyGeofence(t *testing.T) {
	fences := fakeGeofences{fences: []models.Geofence{
		{ID: "office", Shape: models.ShapeCircle, Center: &models.LatLon{Lat: 37.0, Lon: -122.0}, RadiusMeters: 500},
	}}
	a, mock := newAggregator(t, fences)
	ctx := context.Background()
	now := time.Now()

	if err := a.Accumulate(ctx, "u5", "co-1", models.LocationSample{
		Lat: 37.0, Lon: -122.0, AccuracyM: 5, SpeedMps: 2.0, Timestamp: now,
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mock.ExpectExec("INSERT INTO daily_analytics").
		WithArgs("u5", sqlmock.AnyArg(), 0.0, sqlmock.AnyArg(), 0.0, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := a.Accumulate(ctx, "u5", "co-1", models.LocationSample{
		Lat: 37.0005, Lon: -122.0005, AccuracyM: 5, SpeedMps: 2.0, Timestamp: now.Add(time.Minute),
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFinalizeDaySkipsWhenOtherShiftsActive(t *testing.T) {
	a, mock := newAggregator(t, nil)
	if err := a.FinalizeDay(context.Background(), "u4", time.Now(), false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expected no DB call when other shifts remain active: %v", err)
	}
}

func TestRangeReturnsRowsOrderedByDate(t *testing.T) {
	a, mock := newAggregator(t, nil)
	start := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT user_id, date, distance_km, travel_min, indoor_min, outdoor_min").
		WithArgs("u1", dayOf(start), dayOf(end)).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "date", "distance_km", "travel_min", "indoor_min", "outdoor_min"}).
			AddRow("u1", start, 3.5, 40.0, 100.0, 200.0))

	out, err := a.Range(context.Background(), "u1", start, end)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 || out[0].DistanceKm != 3.5 {
		t.Fatalf("unexpected range result: %+v", out)
	}
}
