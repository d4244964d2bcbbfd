package geomatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistanceMetersKnownPairs(t *testing.T) {
	// Times Square to the Empire State Building, roughly 1.1 km.
	d := DistanceMeters(40.7580, -73.9855, 40.7484, -73.9857)
	assert.InDelta(t, 1070, d, 40)

	// Same point.
	assert.InDelta(t, 0, DistanceMeters(51.5, -0.12, 51.5, -0.12), 0.001)

	// London to Paris, roughly 344 km.
	d = DistanceMeters(51.5074, -0.1278, 48.8566, 2.3522)
	assert.InDelta(t, 344_000, d, 3_000)
}

func TestDistanceMetersSymmetric(t *testing.T) {
	d1 := DistanceMeters(40.7, -74.0, 34.05, -118.24)
	d2 := DistanceMeters(34.05, -118.24, 40.7, -74.0)
	assert.InDelta(t, d1, d2, 0.0001)
}

func TestRingContains(t *testing.T) {
	// A square around the origin.
	ring := [][2]float64{
		{-1, -1},
		{-1, 1},
		{1, 1},
		{1, -1},
	}

	assert.True(t, RingContains(ring, 0, 0))
	assert.True(t, RingContains(ring, 0.9, 0.9))
	assert.False(t, RingContains(ring, 2, 0))
	assert.False(t, RingContains(ring, 0, -1.5))
}

func TestRingContainsDegenerate(t *testing.T) {
	assert.False(t, RingContains(nil, 0, 0))
	assert.False(t, RingContains([][2]float64{{0, 0}, {1, 1}}, 0.5, 0.5))
}
