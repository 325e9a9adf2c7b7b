package geo

import (
	"math"

	"github.com/example/carpool-matching/internal/models"
)

const earthRadiusKm = 6371.0

// RoutePosition locates the nearest approach of a point to a route: the
// distance in km and the index of the segment achieving it. A route with
// fewer than 2 points has no segments; SegmentIndex is -1 and DistanceKm +Inf.
type RoutePosition struct {
	DistanceKm   float64
	SegmentIndex int
}

// Valid reports whether the position refers to an actual segment.
func (p RoutePosition) Valid() bool { return p.SegmentIndex >= 0 }

func toRad(deg float64) float64 { return deg * math.Pi / 180 }

// Distance returns the great-circle (haversine) distance between two points
// in kilometers. Symmetric, zero for identical points.
func Distance(a, b models.GeoPoint) float64 {
	dLat := toRad(b.Lat - a.Lat)
	dLon := toRad(b.Lon - a.Lon)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusKm * c
}

// DistanceToSegment returns the km distance from p to the segment
// [segStart, segEnd]. The projection treats lat/lon as a flat plane, which
// under-estimates true distance for long segments and near the poles; kept
// as-is because the matching threshold is calibrated against it.
func DistanceToSegment(p, segStart, segEnd models.GeoPoint) float64 {
	a := p.Lat - segStart.Lat
	b := p.Lon - segStart.Lon
	c := segEnd.Lat - segStart.Lat
	d := segEnd.Lon - segStart.Lon

	dot := a*c + b*d
	lenSq := c*c + d*d
	param := -1.0
	if lenSq != 0 {
		param = dot / lenSq
	}

	var lat, lon float64
	switch {
	case param < 0:
		lat, lon = segStart.Lat, segStart.Lon
	case param > 1:
		lat, lon = segEnd.Lat, segEnd.Lon
	default:
		lat = segStart.Lat + param*c
		lon = segStart.Lon + param*d
	}

	return Distance(p, models.GeoPoint{Lat: lat, Lon: lon})
}

// ClosestPointOnRoute scans every consecutive segment of route (ordered
// [lon, lat] pairs) and returns the minimum DistanceToSegment together with
// the index of the segment achieving it. Comparison is strict less-than, so
// ties resolve to the lowest index.
func ClosestPointOnRoute(p models.GeoPoint, route [][]float64) RoutePosition {
	pos := RoutePosition{DistanceKm: math.Inf(1), SegmentIndex: -1}
	for i := 0; i+1 < len(route); i++ {
		segStart := models.GeoPoint{Lat: route[i][1], Lon: route[i][0]}
		segEnd := models.GeoPoint{Lat: route[i+1][1], Lon: route[i+1][0]}
		if d := DistanceToSegment(p, segStart, segEnd); d < pos.DistanceKm {
			pos.DistanceKm = d
			pos.SegmentIndex = i
		}
	}
	return pos
}
