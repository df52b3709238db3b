// Package hysteresis debounces geofence boundary crossings so GPS noise
// near a fence edge doesn't produce a flurry of spurious entry/exit events.
package hysteresis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"fieldtrack/pkg/models"
)

const (
	minTimeBetweenTransitions = 60 * time.Second
	threshold                 = 3
)

// Store is the cache subset Hysteresis needs to persist per-(user,
// geofence) debounce state.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// stateTTL bounds how long a stale debounce state lingers once a user
// stops reporting near a fence; the next observation simply reinitializes.
const stateTTL = 24 * time.Hour

func stateKey(userID, geofenceID string) string {
	return fmt.Sprintf("hysteresis:%s:%s", userID, geofenceID)
}

// Evaluate applies the debounce rules to a freshly observed containment
// reading. When the debounced state flips, activeShiftID (if non-empty)
// produces a GeofenceEvent; with no active shift the state still updates
// but no event is returned, per the "no shift, no event row" rule.
func Evaluate(ctx context.Context, store Store, userID, geofenceID string, nowInside bool, activeShiftID string, now time.Time) (*models.GeofenceEvent, error) {
	key := stateKey(userID, geofenceID)
	state, ok, err := load(ctx, store, key)
	if err != nil {
		return nil, err
	}

	if !ok {
		state = models.HysteresisState{Inside: nowInside, LastTransition: now, ConsecutiveCount: 0}
		if err := save(ctx, store, key, state); err != nil {
			return nil, err
		}
		return transitionEvent(userID, geofenceID, activeShiftID, nowInside, now), nil
	}

	if nowInside == state.Inside {
		if now.Sub(state.LastTransition) > minTimeBetweenTransitions {
			state.ConsecutiveCount = 1
		} else {
			state.ConsecutiveCount++
		}
		return nil, save(ctx, store, key, state)
	}

	// Reading differs from the debounced state.
	if now.Sub(state.LastTransition) < minTimeBetweenTransitions {
		state.ConsecutiveCount = 0
		return nil, save(ctx, store, key, state)
	}

	state.ConsecutiveCount++
	if state.ConsecutiveCount < threshold {
		return nil, save(ctx, store, key, state)
	}

	state.Inside = nowInside
	state.LastTransition = now
	state.ConsecutiveCount = 0
	if err := save(ctx, store, key, state); err != nil {
		return nil, err
	}
	return transitionEvent(userID, geofenceID, activeShiftID, nowInside, now), nil
}

func transitionEvent(userID, geofenceID, activeShiftID string, inside bool, now time.Time) *models.GeofenceEvent {
	if activeShiftID == "" {
		return nil
	}
	eventType := models.EventExit
	if inside {
		eventType = models.EventEntry
	}
	return &models.GeofenceEvent{
		ID:         uuid.NewString(),
		UserID:     userID,
		GeofenceID: geofenceID,
		ShiftID:    activeShiftID,
		EventType:  eventType,
		Timestamp:  now,
	}
}

func load(ctx context.Context, store Store, key string) (models.HysteresisState, bool, error) {
	raw, ok, err := store.Get(ctx, key)
	if err != nil || !ok {
		return models.HysteresisState{}, false, err
	}
	var s models.HysteresisState
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return models.HysteresisState{}, false, err
	}
	return s, true, nil
}

func save(ctx context.Context, store Store, key string, s models.HysteresisState) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return store.Set(ctx, key, string(b), stateTTL)
}
