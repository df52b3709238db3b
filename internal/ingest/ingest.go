// Package ingest is the REST/socket entry point for location samples: it
// orchestrates smoothing, validation, persistence, caching, geofence
// hysteresis, analytics, and live fan-out for one accepted update.
package ingest

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"fieldtrack/internal/analytics"
	"fieldtrack/internal/apperr"
	"fieldtrack/internal/batterypolicy"
	"fieldtrack/internal/geofencestore"
	"fieldtrack/internal/hysteresis"
	"fieldtrack/internal/kalman"
	"fieldtrack/internal/retryqueue"
	"fieldtrack/internal/validator"
	"fieldtrack/pkg/models"
)

const lastLocationTTL = 5 * time.Minute

// CacheStore is the cache subset Ingest needs directly (the lastLocation
// entry); sub-components receive the same concrete store for their own
// keys.
type CacheStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// Persister writes an accepted sample to the system of record.
type Persister interface {
	InsertSample(ctx context.Context, sample models.LocationSample) (string, error)
}

// GeofenceLookup answers containment queries for a company.
type GeofenceLookup interface {
	IsInside(ctx context.Context, lat, lon float64, companyID string) (geofencestore.Containment, error)
}

// GeofenceEventRecorder persists a debounced geofence transition.
type GeofenceEventRecorder interface {
	RecordEvent(ctx context.Context, event models.GeofenceEvent) error
}

// Broadcaster fans an accepted update out to authorized subscribers.
type Broadcaster interface {
	Broadcast(ctx context.Context, update BroadcastUpdate) error
}

// EventPublisher mirrors accepted samples and geofence transitions onto the
// event bus for consumers outside the synchronous request path. It is
// optional: SetEventPublisher attaches one, and a nil publisher silently
// skips publication, matching how AddHandler/SetDLQPublisher compose on the
// Kafka consumer side.
type EventPublisher interface {
	PublishLocationAccepted(ctx context.Context, companyID, userID string, sample models.LocationSample) error
	PublishGeofenceTransition(ctx context.Context, companyID, userID string, event models.GeofenceEvent) error
}

// BroadcastUpdate is the payload handed to the live broadcaster.
type BroadcastUpdate struct {
	UserID    string
	CompanyID string
	Sample    models.LocationSample
	IsActive  bool
}

// Request is one incoming location update.
type Request struct {
	UserID              string
	CompanyID           string
	Sample              models.LocationSample
	IsBackground        bool
	BatteryReported     bool
	IsCharging          bool
	ActiveShiftID       string // empty if the user has no active shift
	CompanyMinAccuracyM float64
}

// Response is returned to REST/socket callers on acceptance.
type Response struct {
	LocationID     string
	Warning        string
	NextIntervalMs int
}

// Ingest wires every sub-component LocationIngest needs.
type Ingest struct {
	cache        CacheStore
	persister    Persister
	geofences    GeofenceLookup
	geoEvents    GeofenceEventRecorder
	analyticsAgg *analytics.Aggregator
	broadcaster  Broadcaster
	retryQueue   *retryqueue.Queue
	events       EventPublisher
	logger       *logrus.Logger

	smoothersMu sync.Mutex
	smoothers   map[string]*kalman.Smoother
}

// SetEventPublisher attaches the event bus publisher. Optional: an Ingest
// with no publisher set skips publication entirely, same as a Kafka
// consumer with no DLQ publisher set.
func (in *Ingest) SetEventPublisher(events EventPublisher) {
	in.events = events
}

// New builds an Ingest from its sub-components.
func New(cache CacheStore, persister Persister, geofences GeofenceLookup, geoEvents GeofenceEventRecorder,
	analyticsAgg *analytics.Aggregator, broadcaster Broadcaster, retryQueue *retryqueue.Queue, logger *logrus.Logger) *Ingest {
	return &Ingest{
		cache:        cache,
		persister:    persister,
		geofences:    geofences,
		geoEvents:    geoEvents,
		analyticsAgg: analyticsAgg,
		broadcaster:  broadcaster,
		retryQueue:   retryQueue,
		logger:       logger,
		smoothers:    make(map[string]*kalman.Smoother),
	}
}

func lastLocationKey(userID string) string { return "lastLocation:" + userID }

type cachedLocation struct {
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	Timestamp time.Time `json:"timestamp"`
}

// Ingest smooths (unless background), validates, persists, and fans out
// req.Sample. On persistence failure the sample is handed to the retry
// queue and an error is returned; on validation failure the error
// propagates directly (never retried — the payload itself is invalid).
func (in *Ingest) Ingest(ctx context.Context, req Request) (Response, error) {
	sample := req.Sample

	if !req.IsBackground {
		smoothed := in.smootherFor(req.UserID).Update(kalman.Measurement{
			Lat: sample.Lat, Lon: sample.Lon, AccuracyM: sample.AccuracyM,
			DT: dtSince(ctx, in.cache, req.UserID, sample.Timestamp),
		})
		sample.Lat, sample.Lon = smoothed.Lat, smoothed.Lon
	}

	prior, err := in.loadPrior(ctx, req.UserID)
	if err != nil {
		return Response{}, apperr.Wrap(apperr.KindCache, "load prior location", err)
	}

	result, err := validator.Validate(validator.Input{
		Sample:              sample,
		IsBackground:        req.IsBackground,
		BatteryReported:     req.BatteryReported,
		Prior:               prior,
		CompanyMinAccuracyM: req.CompanyMinAccuracyM,
	})
	if err != nil {
		return Response{}, err
	}

	locationID, err := in.persister.InsertSample(ctx, sample)
	if err != nil {
		if payload, marshalErr := json.Marshal(sample); marshalErr == nil {
			_ = in.retryQueue.Enqueue(ctx, req.UserID, payload, err)
		}
		return Response{}, apperr.Wrap(apperr.KindStorage, "persist location sample", err)
	}

	if err := in.saveLastLocation(ctx, req.UserID, sample); err != nil {
		in.logger.WithError(err).Warn("failed to update last-location cache entry")
	}

	containment, err := in.geofences.IsInside(ctx, sample.Lat, sample.Lon, req.CompanyID)
	if err != nil {
		in.logger.WithError(err).Warn("geofence containment lookup failed")
	} else if containment.GeofenceID != "" {
		event, err := hysteresis.Evaluate(ctx, in.cache.(hysteresis.Store), req.UserID, containment.GeofenceID, containment.Inside, req.ActiveShiftID, sample.Timestamp)
		if err != nil {
			in.logger.WithError(err).Warn("geofence hysteresis evaluation failed")
		} else if event != nil {
			if err := in.geoEvents.RecordEvent(ctx, *event); err != nil {
				in.logger.WithError(err).Warn("failed to record geofence event")
			}
			if in.events != nil {
				if err := in.events.PublishGeofenceTransition(ctx, req.CompanyID, req.UserID, *event); err != nil {
					in.logger.WithError(err).Warn("failed to publish geofence transition event")
				}
			}
		}
	}

	if err := in.analyticsAgg.Accumulate(ctx, req.UserID, req.CompanyID, sample); err != nil {
		in.logger.WithError(err).Warn("analytics accumulation failed")
	}

	if in.events != nil {
		if err := in.events.PublishLocationAccepted(ctx, req.CompanyID, req.UserID, sample); err != nil {
			in.logger.WithError(err).Warn("failed to publish location accepted event")
		}
	}

	if err := in.broadcaster.Broadcast(ctx, BroadcastUpdate{
		UserID: req.UserID, CompanyID: req.CompanyID, Sample: sample, IsActive: req.ActiveShiftID != "",
	}); err != nil {
		in.logger.WithError(err).Warn("live broadcast failed")
	}

	nextInterval, err := batterypolicy.NextIntervalMs(ctx, in.cache.(batterypolicy.Store), req.UserID, batterypolicy.Input{
		BatteryPct: sample.BatteryPct, IsCharging: req.IsCharging, SpeedMps: sample.SpeedMps, InGeofence: containment.Inside,
	})
	if err != nil {
		in.logger.WithError(err).Warn("battery policy computation failed")
	}

	return Response{LocationID: locationID, Warning: result.Warning, NextIntervalMs: nextInterval}, nil
}

// IngestBackground wraps Ingest for the always-acknowledge background path:
// validation failures are logged and discarded instead of propagated, so a
// disconnected mobile client never enters a retry storm over a single bad
// sample.
func (in *Ingest) IngestBackground(ctx context.Context, req Request) Response {
	req.IsBackground = true
	resp, err := in.Ingest(ctx, req)
	if err != nil {
		in.logger.WithError(err).WithField("user_id", req.UserID).Warn("background location update discarded")
		return Response{Warning: "discarded: " + err.Error()}
	}
	return resp
}

func (in *Ingest) smootherFor(userID string) *kalman.Smoother {
	in.smoothersMu.Lock()
	defer in.smoothersMu.Unlock()
	s, ok := in.smoothers[userID]
	if !ok {
		s = kalman.New()
		in.smoothers[userID] = s
	}
	return s
}

func (in *Ingest) loadPrior(ctx context.Context, userID string) (*validator.PriorSample, error) {
	raw, ok, err := in.cache.Get(ctx, lastLocationKey(userID))
	if err != nil || !ok {
		return nil, err
	}
	var loc cachedLocation
	if err := json.Unmarshal([]byte(raw), &loc); err != nil {
		return nil, nil
	}
	return &validator.PriorSample{Lat: loc.Lat, Lon: loc.Lon, Timestamp: loc.Timestamp.Unix()}, nil
}

func (in *Ingest) saveLastLocation(ctx context.Context, userID string, sample models.LocationSample) error {
	b, err := json.Marshal(cachedLocation{Lat: sample.Lat, Lon: sample.Lon, Timestamp: sample.Timestamp})
	if err != nil {
		return err
	}
	return in.cache.Set(ctx, lastLocationKey(userID), string(b), lastLocationTTL)
}

func dtSince(ctx context.Context, cache CacheStore, userID string, now time.Time) float64 {
	raw, ok, err := cache.Get(ctx, lastLocationKey(userID))
	if err != nil || !ok {
		return 1
	}
	var loc cachedLocation
	if err := json.Unmarshal([]byte(raw), &loc); err != nil {
		return 1
	}
	dt := now.Sub(loc.Timestamp).Seconds()
	if dt <= 0 {
		return 1
	}
	return dt
}
