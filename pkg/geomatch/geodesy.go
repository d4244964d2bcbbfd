package geomatch

import (
	"github.com/golang/geo/s2"
)

// EarthRadiusMeters is the WGS-84 mean earth radius used for great-circle
// distances.
const EarthRadiusMeters = 6371008.8

// DistanceMeters returns the great-circle distance between two coordinates
// on the WGS-84 sphere.
func DistanceMeters(lat1, lng1, lat2, lng2 float64) float64 {
	a := s2.LatLngFromDegrees(lat1, lng1)
	b := s2.LatLngFromDegrees(lat2, lng2)
	return a.Distance(b).Radians() * EarthRadiusMeters
}

// RingContains reports whether the closed polygon ring (latitude, longitude
// vertices) contains the point. The ring is normalized so that vertex
// winding order does not flip the interior to the complement of the shape.
func RingContains(ring [][2]float64, lat, lng float64) bool {
	if len(ring) < 3 {
		return false
	}
	// Drop an explicit closing vertex if the editor included one.
	n := len(ring)
	if ring[0] == ring[n-1] {
		n--
	}
	if n < 3 {
		return false
	}

	points := make([]s2.Point, 0, n)
	for i := 0; i < n; i++ {
		points = append(points, s2.PointFromLatLng(s2.LatLngFromDegrees(ring[i][0], ring[i][1])))
	}
	loop := s2.LoopFromPoints(points)
	if !loop.IsNormalized() {
		loop.Invert()
	}
	return loop.ContainsPoint(s2.PointFromLatLng(s2.LatLngFromDegrees(lat, lng)))
}
