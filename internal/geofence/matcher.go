// Package geofence resolves which work location, if any, contains a point.
package geofence

import (
	"fmt"
	"strings"

	"fieldclock/internal/models"
	"fieldclock/pkg/location"
)

// Policy decides which region wins when several overlap at a point.
type Policy string

const (
	// PolicyFirstMatch returns the first containing region in input order.
	PolicyFirstMatch Policy = "first"
	// PolicyNearest returns the containing region whose center is closest,
	// falling back to input order on equal distances.
	PolicyNearest Policy = "nearest"
)

// ParsePolicy maps a config value to a Policy. Empty means PolicyFirstMatch.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyFirstMatch:
		return PolicyFirstMatch, nil
	case PolicyNearest:
		return PolicyNearest, nil
	default:
		return "", fmt.Errorf("unknown geofence policy %q", s)
	}
}

// Matcher is stateless; the zero value uses PolicyFirstMatch.
type Matcher struct {
	Policy Policy
}

func NewMatcher(policy Policy) *Matcher {
	return &Matcher{Policy: policy}
}

// Match returns the active region containing p. The boundary is inclusive.
func (m *Matcher) Match(p location.Point, regions []models.WorkLocation) (*models.WorkLocation, bool) {
	var (
		best     *models.WorkLocation
		bestDist float64
	)
	for i := range regions {
		r := &regions[i]
		if !r.Active {
			continue
		}
		d := Distance(p, r)
		if d > r.RadiusMeters {
			continue
		}
		if m == nil || m.Policy != PolicyNearest {
			return r, true
		}
		if best == nil || d < bestDist {
			best, bestDist = r, d
		}
	}
	return best, best != nil
}

// Contains reports whether p lies within region.
func Contains(p location.Point, region *models.WorkLocation) bool {
	return Distance(p, region) <= region.RadiusMeters
}

// Distance is the great-circle distance in meters from p to the region center.
func Distance(p location.Point, region *models.WorkLocation) float64 {
	return location.HaversineMeters(p, region.Center())
}

// Match uses the default first-match policy.
func Match(p location.Point, regions []models.WorkLocation) (*models.WorkLocation, bool) {
	return (*Matcher)(nil).Match(p, regions)
}
