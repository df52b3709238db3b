package geo

import (
	"math"
	"testing"
)

func TestDistanceKnownCities(t *testing.T) {
	// Bengaluru to a point ~1km east.
	d := Distance(12.97, 77.59, 12.97, 77.5992)
	if d < 950 || d > 1050 {
		t.Fatalf("expected ~1000m, got %f", d)
	}
}

func TestDistanceZeroForSamePoint(t *testing.T) {
	if d := Distance(12.97, 77.59, 12.97, 77.59); d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestDistanceAlwaysFiniteAndNonNegative(t *testing.T) {
	d := Distance(-90, -180, 90, 180)
	if math.IsNaN(d) || math.IsInf(d, 0) || d < 0 {
		t.Fatalf("expected finite non-negative distance, got %f", d)
	}
}

func TestPointInCircle(t *testing.T) {
	if !PointInCircle(12.97, 77.5909, 12.97, 77.59, 200) {
		t.Fatal("expected point within 200m radius to be inside")
	}
	if PointInCircle(12.97, 77.70, 12.97, 77.59, 200) {
		t.Fatal("expected distant point to be outside")
	}
}

func TestValidLatLon(t *testing.T) {
	if !ValidLatLon(0, 0) {
		t.Fatal("expected origin to be valid")
	}
	if ValidLatLon(91, 0) || ValidLatLon(0, 181) {
		t.Fatal("expected out-of-range coordinates to be invalid")
	}
	if ValidLatLon(math.NaN(), 0) {
		t.Fatal("expected NaN to be invalid")
	}
}
