package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus"

	"fieldtrack/internal/analytics"
	"fieldtrack/internal/geofencestore"
	"fieldtrack/internal/retryqueue"
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

func (s localStore) Del(_ context.Context, key string) error {
	s.m.Del(key)
	return nil
}

type fakePersister struct {
	err error
	n   int
}

func (p *fakePersister) InsertSample(_ context.Context, _ models.LocationSample) (string, error) {
	p.n++
	if p.err != nil {
		return "", p.err
	}
	return "loc-1", nil
}

type fakeGeofences struct{}

func (fakeGeofences) IsInside(_ context.Context, _, _ float64, _ string) (geofencestore.Containment, error) {
	return geofencestore.Containment{}, nil
}

func (fakeGeofences) List(_ context.Context, _ string) ([]models.Geofence, error) { return nil, nil }

type fakeGeoEvents struct{ n int }

func (f *fakeGeoEvents) RecordEvent(_ context.Context, _ models.GeofenceEvent) error {
	f.n++
	return nil
}

type fakeBroadcaster struct{ n int }

func (f *fakeBroadcaster) Broadcast(_ context.Context, _ BroadcastUpdate) error {
	f.n++
	return nil
}

type fakeDLQ struct{}

func (fakeDLQ) PublishDLQ(_ context.Context, _ string, _ []byte) error { return nil }

func newIngest(t *testing.T, persister Persister) (*Ingest, CacheStore) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	mock.MatchExpectationsInOrder(false)
	mock.ExpectExec("INSERT INTO daily_analytics").WillReturnResult(sqlmock.NewResult(1, 1))

	store := localStore{m: cache.NewLocalMap()}
	logger := logrus.New()
	logger.SetOutput(logNowhere{})

	rq := retryqueue.New(store, fakeDLQ{}, logger)
	agg := analytics.New(db, store, fakeGeofences{})

	return New(store, persister, fakeGeofences{}, &fakeGeoEvents{}, agg, &fakeBroadcaster{}, rq, logger), store
}

type logNowhere struct{}

func (logNowhere) Write(p []byte) (int, error) { return len(p), nil }

func sample(lat, lon float64, ts time.Time) models.LocationSample {
	return models.LocationSample{Lat: lat, Lon: lon, AccuracyM: 10, BatteryPct: 80, SpeedMps: 1, Timestamp: ts}
}

func TestIngestAcceptsValidSampleAndCachesLastLocation(t *testing.T) {
	persister := &fakePersister{}
	ing, store := newIngest(t, persister)
	ctx := context.Background()
	now := time.Now()

	resp, err := ing.Ingest(ctx, Request{
		UserID: "u1", CompanyID: "c1", Sample: sample(37.0, -122.0, now), IsBackground: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.LocationID != "loc-1" {
		t.Fatalf("expected location id loc-1, got %q", resp.LocationID)
	}
	if _, ok, _ := store.Get(ctx, lastLocationKey("u1")); !ok {
		t.Fatal("expected last-location cache entry to be written")
	}
}

func TestIngestRejectsInvalidForegroundSampleWithoutPersisting(t *testing.T) {
	persister := &fakePersister{}
	ing, _ := newIngest(t, persister)
	ctx := context.Background()

	bad := sample(999, -122.0, time.Now())
	_, err := ing.Ingest(ctx, Request{UserID: "u2", CompanyID: "c1", Sample: bad})
	if err == nil {
		t.Fatal("expected a validation error for out-of-range coordinates")
	}
	if persister.n != 0 {
		t.Fatalf("expected no persistence attempt on rejection, got %d calls", persister.n)
	}
}

func TestIngestBackgroundSwallowsValidationFailure(t *testing.T) {
	persister := &fakePersister{}
	ing, _ := newIngest(t, persister)
	ctx := context.Background()

	bad := sample(999, -122.0, time.Now())
	resp := ing.IngestBackground(ctx, Request{UserID: "u3", CompanyID: "c1", Sample: bad})
	if resp.LocationID != "" {
		t.Fatalf("expected no location id on a discarded background sample, got %q", resp.LocationID)
	}
}

func TestIngestEnqueuesRetryOnPersistenceFailure(t *testing.T) {
	persister := &fakePersister{err: errors.New("db unavailable")}
	ing, store := newIngest(t, persister)
	ctx := context.Background()

	_, err := ing.Ingest(ctx, Request{UserID: "u4", CompanyID: "c1", Sample: sample(37.0, -122.0, time.Now()), IsBackground: true})
	if err == nil {
		t.Fatal("expected a storage error to propagate")
	}
	if _, ok, _ := store.Get(ctx, "retry:location:keys"); !ok {
		t.Fatal("expected the failed sample to be indexed in the retry queue")
	}
}
