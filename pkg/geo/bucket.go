package geo

import "github.com/uber/h3-go/v4"

const defaultResolution = 5

// Bucket is a coarse H3 spatial cell, used to group nearby live locations
// for the group-admin dashboard without a full geometry query.
type Bucket struct {
	H3Index    uint64
	Resolution int
}

// ToBucket returns the H3 bucket containing (lat, lon) plus the bucket's
// centroid. ok is false for invalid coordinates.
func ToBucket(lat, lon float64) (bucket Bucket, centroidLat, centroidLon float64, ok bool) {
	if !ValidLatLon(lat, lon) {
		return Bucket{}, 0, 0, false
	}

	cell := h3.LatLngToCell(h3.NewLatLng(lat, lon), defaultResolution)
	if cell == 0 {
		return Bucket{}, 0, 0, false
	}

	centroid := h3.CellToLatLng(cell)
	return Bucket{H3Index: uint64(cell), Resolution: defaultResolution}, centroid.Lat, centroid.Lng, true
}
