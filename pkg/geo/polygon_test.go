package geo

import "testing"

func TestPointInRingSquare(t *testing.T) {
	square := [][2]float64{
		{12.90, 77.50},
		{12.90, 77.60},
		{13.00, 77.60},
		{13.00, 77.50},
	}

	if !PointInRing(12.95, 77.55, square) {
		t.Fatal("expected center point to be inside")
	}
	if PointInRing(13.50, 78.00, square) {
		t.Fatal("expected distant point to be outside")
	}
}

func TestPointInRingDegenerate(t *testing.T) {
	if PointInRing(0, 0, [][2]float64{{0, 0}, {1, 1}}) {
		t.Fatal("expected fewer than 3 vertices to never contain")
	}
}
