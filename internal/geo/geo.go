// Package geo validates that a reported position is close enough to a store.
package geo

import "math"

// EarthRadiusMeters is the mean Earth radius used by DistanceMeters.
const EarthRadiusMeters = 6371000.0

// DefaultRadiusMeters is the check-in proximity allowed when none is configured.
const DefaultRadiusMeters = 300.0

// Point is a WGS84 coordinate in decimal degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// PointOf returns a Point when both coordinates are present, nil otherwise.
func PointOf(lat, lng *float64) *Point {
	if lat == nil || lng == nil {
		return nil
	}
	return &Point{Lat: *lat, Lng: *lng}
}

// DistanceMeters returns the great-circle distance between two points using
// the haversine formula.
func DistanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusMeters * c
}

// Distance is DistanceMeters over Points.
func Distance(a, b Point) float64 {
	return DistanceMeters(a.Lat, a.Lng, b.Lat, b.Lng)
}

// WithinRadius reports whether point lies within radiusMeters of ref.
func WithinRadius(point, ref Point, radiusMeters float64) bool {
	return Distance(point, ref) <= radiusMeters
}

// Outcome is the result class of a geofence check.
type Outcome int

const (
	// Unverifiable means one side had no coordinates; not a failure.
	Unverifiable Outcome = iota
	Inside
	Outside
)

func (o Outcome) String() string {
	switch o {
	case Inside:
		return "inside"
	case Outside:
		return "outside"
	default:
		return "unverifiable"
	}
}

// Verdict is the outcome of Verify together with the measured distance.
type Verdict struct {
	Outcome        Outcome
	DistanceMeters float64
	RadiusMeters   float64
}

// Verify checks point against ref. A missing point or reference yields
// Unverifiable. A non-positive radius falls back to DefaultRadiusMeters.
func Verify(point, ref *Point, radiusMeters float64) Verdict {
	if radiusMeters <= 0 {
		radiusMeters = DefaultRadiusMeters
	}
	v := Verdict{Outcome: Unverifiable, RadiusMeters: radiusMeters}
	if point == nil || ref == nil {
		return v
	}
	v.DistanceMeters = Distance(*point, *ref)
	if v.DistanceMeters <= radiusMeters {
		v.Outcome = Inside
	} else {
		v.Outcome = Outside
	}
	return v
}
