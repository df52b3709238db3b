// Package validator gates incoming location samples with an ordered set of
// predicates before they reach persistence.
package validator

import (
	"fmt"

	"fieldtrack/internal/apperr"
	"fieldtrack/pkg/geo"
	"fieldtrack/pkg/models"
)

const (
	maxAccuracyForegroundM = 500.0
	maxAccuracyBackgroundM = 15000.0
	minBatteryPct          = 5.0
	maxSpeedKmh            = 120.0
	maxSpeedMps            = maxSpeedKmh * 1000.0 / 3600.0
)

// Reason codes carried on a rejection, stable for client-side handling.
const (
	ReasonInvalidCoordinates = "invalid_coordinates"
	ReasonPoorAccuracy       = "poor_accuracy"
	ReasonLowBattery         = "low_battery"
	ReasonImplausibleSpeed   = "implausible_speed"
	ReasonCompanyPolicy      = "company_policy_accuracy"
)

// PriorSample is the subset of the previously stored sample the speed check
// needs.
type PriorSample struct {
	Lat       float64
	Lon       float64
	Timestamp int64 // unix seconds
}

// Input is one incoming sample plus the context needed to validate it.
type Input struct {
	Sample models.LocationSample
	// IsBackground marks a delayed/background-delivered sample: accuracy
	// failures downgrade to a warning instead of a rejection.
	IsBackground bool
	// BatteryReported is false when the client omitted battery level;
	// the battery gate only applies when it was reported.
	BatteryReported bool
	// Prior is the last stored sample for this user, if any.
	Prior *PriorSample
	// CompanyMinAccuracyM is the company's configured accuracy floor, in
	// metres; zero means unconfigured (gate passes).
	CompanyMinAccuracyM float64
}

// Result is the outcome of validating a sample: either accepted outright,
// accepted with a warning (background accuracy overrun), or rejected.
type Result struct {
	Accepted bool
	Warning  string
}

// Validate runs the ordered gates from §4.5: coordinates, accuracy, battery,
// speed, company policy. The first failing gate determines the outcome: a
// background sample is accepted with a warning, a foreground sample is
// rejected outright.
func Validate(in Input) (Result, error) {
	reason, msg := firstViolation(in)
	if reason == "" {
		return Result{Accepted: true}, nil
	}
	if in.IsBackground {
		return Result{Accepted: true, Warning: msg}, nil
	}
	return Result{}, apperr.LocationRejected(reason, msg)
}

func firstViolation(in Input) (reason, msg string) {
	s := in.Sample

	if !geo.ValidLatLon(s.Lat, s.Lon) {
		return ReasonInvalidCoordinates, fmt.Sprintf("coordinates out of range: lat=%v lon=%v", s.Lat, s.Lon)
	}

	if limit := accuracyLimit(in.IsBackground); s.AccuracyM > limit {
		return ReasonPoorAccuracy, fmt.Sprintf("accuracy %.1fm exceeds %.1fm threshold", s.AccuracyM, limit)
	}

	if in.BatteryReported && s.BatteryPct < minBatteryPct {
		return ReasonLowBattery, fmt.Sprintf("battery %.1f%% below %.1f%% minimum", s.BatteryPct, minBatteryPct)
	}

	if in.Prior != nil {
		dt := float64(s.Timestamp.Unix() - in.Prior.Timestamp)
		if dt > 0 {
			dist := geo.Distance(s.Lat, s.Lon, in.Prior.Lat, in.Prior.Lon)
			if dist/dt > maxSpeedMps {
				return ReasonImplausibleSpeed, fmt.Sprintf("implied speed %.1f m/s exceeds %.1f m/s", dist/dt, maxSpeedMps)
			}
		}
	}

	if in.CompanyMinAccuracyM > 0 && s.AccuracyM > in.CompanyMinAccuracyM {
		return ReasonCompanyPolicy, fmt.Sprintf("accuracy %.1fm exceeds company policy %.1fm", s.AccuracyM, in.CompanyMinAccuracyM)
	}

	return "", ""
}

func accuracyLimit(isBackground bool) float64 {
	if isBackground {
		return maxAccuracyBackgroundM
	}
	return maxAccuracyForegroundM
}
