// Package geo provides the distance calculations used to filter and rank
// providers against a job's location.
package geo

import (
	"math"
	"sort"
)

const earthRadiusKm = 6371.0

// Point is a latitude/longitude pair in decimal degrees.
type Point struct {
	Lat float64
	Lng float64
}

// HaversineKm returns the great-circle distance between two points in
// kilometers.
func HaversineKm(a, b Point) float64 {
	lat1 := degToRad(a.Lat)
	lat2 := degToRad(b.Lat)
	dLat := degToRad(b.Lat - a.Lat)
	dLng := degToRad(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusKm * c
}

func degToRad(deg float64) float64 {
	return deg * math.Pi / 180
}

// Candidate pairs an arbitrary identifier with a location, for use with
// FilterByRadius.
type Candidate struct {
	ID    string
	Point Point
}

// FilterByRadius returns the candidates within radiusKm of origin, along
// with each candidate's distance, sorted nearest-first.
func FilterByRadius(origin Point, candidates []Candidate, radiusKm float64) []RankedCandidate {
	out := make([]RankedCandidate, 0, len(candidates))
	for _, c := range candidates {
		d := HaversineKm(origin, c.Point)
		if d <= radiusKm {
			out = append(out, RankedCandidate{Candidate: c, DistanceKm: d})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DistanceKm < out[j].DistanceKm })
	return out
}

// RankedCandidate is a Candidate annotated with its distance from the
// reference origin.
type RankedCandidate struct {
	Candidate
	DistanceKm float64
}
