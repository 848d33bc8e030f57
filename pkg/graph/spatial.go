// Package graph implements the matching graph engine: upserting a
// transaction's matching attributes and performing bounded BFS traversal
// of the resulting hyperedge graph under confidence/depth/count/temporal/
// spatial filters.
package graph

import "math"

// Point is a geographic coordinate pair, adapted directly from the
// teacher's apoc/spatial package.
type Point struct {
	Latitude  float64
	Longitude float64
}

// HaversineDistance returns the great-circle distance between two points
// in metres. Adapted from apoc/spatial.HaversineDistance, which returns
// kilometres; the spatial filter thresholds in this spec are specified in
// metres (spec §4.2), so the conversion is folded in here rather than left
// to every caller.
func HaversineDistance(a, b Point) float64 {
	const earthRadiusMetres = 6371000.0

	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusMetres * c
}
