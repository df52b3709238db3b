// Package batterypolicy derives the next location-sampling interval from a
// device's battery, motion, and proximity-to-geofence state.
package batterypolicy

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

const (
	minIntervalMs      = 10_000  // 10s
	maxIntervalMs      = 300_000 // 5min
	movingSpeedMps     = 0.5
	batteryDialCeiling = 75.0

	stationaryTTL = 1 * time.Hour
)

// Store is the cache subset BatteryPolicy needs to track the per-user
// consecutive-stationary-sample streak across calls.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

func stationaryKey(userID string) string { return fmt.Sprintf("battery:%s:stationary", userID) }

// Input is the device/company state used to compute the next interval.
type Input struct {
	BatteryPct   float64
	IsCharging   bool
	SpeedMps     float64
	InGeofence   bool
	CompanyMinMs int // 0 means unconfigured
	CompanyMaxMs int // 0 means unconfigured
}

// NextIntervalMs computes nextIntervalMs per §4.8's base/movement/
// near-fence/battery-dial/clamp formula, updating the caller's consecutive-
// stationary streak in store.
func NextIntervalMs(ctx context.Context, store Store, userID string, in Input) (int, error) {
	stationary, err := loadStationaryStreak(ctx, store, userID)
	if err != nil {
		return 0, err
	}

	moving := in.SpeedMps > movingSpeedMps
	if moving {
		stationary = 0
	} else {
		stationary++
	}
	if err := saveStationaryStreak(ctx, store, userID, stationary); err != nil {
		return 0, err
	}

	base := baseInterval(in.BatteryPct, in.IsCharging)

	if moving {
		base *= 0.5
	} else {
		n := stationary
		if n > 5 {
			n = 5
		}
		base *= 1 + 0.5*float64(n)
	}

	if in.InGeofence {
		base *= 0.75
	}

	if in.BatteryPct <= batteryDialCeiling {
		base *= 1 + (batteryDialCeiling-in.BatteryPct)/batteryDialCeiling
	}

	if in.CompanyMinMs > 0 || in.CompanyMaxMs > 0 {
		lo, hi := in.CompanyMinMs, in.CompanyMaxMs
		if lo <= 0 {
			lo = minIntervalMs
		}
		if hi <= 0 {
			hi = maxIntervalMs
		}
		base = clamp(base, float64(lo), float64(hi))
	}

	base = clamp(base, minIntervalMs, maxIntervalMs)
	return int(base), nil
}

func baseInterval(batteryPct float64, isCharging bool) float64 {
	switch {
	case isCharging:
		return minIntervalMs
	case batteryPct <= 15:
		return maxIntervalMs
	case batteryPct <= 25:
		return 0.75 * maxIntervalMs
	default:
		return 2 * minIntervalMs
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func loadStationaryStreak(ctx context.Context, store Store, userID string) (int, error) {
	raw, ok, err := store.Get(ctx, stationaryKey(userID))
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	n, convErr := strconv.Atoi(raw)
	if convErr != nil {
		return 0, nil
	}
	return n, nil
}

func saveStationaryStreak(ctx context.Context, store Store, userID string, n int) error {
	return store.Set(ctx, stationaryKey(userID), strconv.Itoa(n), stationaryTTL)
}
