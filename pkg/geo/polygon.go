package geo

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// PointInRing reports whether (lat, lon) lies inside the polygon described
// by ring, a closed or open sequence of (lat, lon) vertices.
func PointInRing(lat, lon float64, ring [][2]float64) bool {
	if len(ring) < 3 {
		return false
	}

	points := make(orb.Ring, 0, len(ring))
	for _, v := range ring {
		// orb uses (x, y) = (lon, lat).
		points = append(points, orb.Point{v[1], v[0]})
	}

	poly := orb.Polygon{points}
	return planar.PolygonContains(poly, orb.Point{lon, lat})
}
