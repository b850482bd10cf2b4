package location

import "math"

// EarthRadiusKm is the Earth radius in kilometers for Haversine.
const EarthRadiusKm = 6371.0

// EarthRadiusMeters is EarthRadiusKm in meters.
const EarthRadiusMeters = EarthRadiusKm * 1000

// Point is a WGS84 coordinate in degrees.
type Point struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
}

// Valid reports whether the point lies within latitude/longitude bounds.
func (p Point) Valid() bool {
	return p.Latitude >= -90 && p.Latitude <= 90 && p.Longitude >= -180 && p.Longitude <= 180 &&
		!math.IsNaN(p.Latitude) && !math.IsNaN(p.Longitude)
}

// HaversineMeters returns the great-circle distance in meters between a and b.
func HaversineMeters(a, b Point) float64 {
	return EarthRadiusMeters * centralAngle(a.Latitude, a.Longitude, b.Latitude, b.Longitude)
}

func centralAngle(lat1, lng1, lat2, lng2 float64) float64 {
	rad := func(d float64) float64 { return d * math.Pi / 180 }
	φ1, φ2 := rad(lat1), rad(lat2)
	Δφ := rad(lat2 - lat1)
	Δλ := rad(lng2 - lng1)
	a := math.Sin(Δφ/2)*math.Sin(Δφ/2) +
		math.Cos(φ1)*math.Cos(φ2)*math.Sin(Δλ/2)*math.Sin(Δλ/2)
	return 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// OffsetNorth returns p moved meters along its meridian. Negative values move south.
func OffsetNorth(p Point, meters float64) Point {
	return Point{
		Latitude:  p.Latitude + (meters/EarthRadiusMeters)*180/math.Pi,
		Longitude: p.Longitude,
	}
}
