package proximity

// Label describes how deep inside a geofence a point is, from its depth
// (0-100). Zero means outside and yields "".
func Label(depthPct float64) string {
	switch {
	case depthPct >= 75:
		return "At site"
	case depthPct >= 50:
		return "On site"
	case depthPct >= 25:
		return "Inside"
	case depthPct > 0:
		return "Near edge"
	default:
		return ""
	}
}

// Depth computes (1 - distance/radius) * 100: 100 at the center, 0 at the
// boundary and beyond.
func Depth(distanceMeters, radiusMeters float64) float64 {
	if radiusMeters <= 0 {
		return 0
	}
	if distanceMeters >= radiusMeters {
		return 0
	}
	p := (1 - distanceMeters/radiusMeters) * 100
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
