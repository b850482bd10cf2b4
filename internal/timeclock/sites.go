package timeclock

import (
	"context"

	"fieldclock/internal/models"
)

// StaticSites is a fixed WorkLocationSource, handy for tests and demos.
type StaticSites []models.WorkLocation

func (s StaticSites) ListActive(context.Context) ([]models.WorkLocation, error) {
	out := make([]models.WorkLocation, 0, len(s))
	for _, site := range s {
		if site.Active {
			out = append(out, site)
		}
	}
	return out, nil
}

func (s StaticSites) Get(_ context.Context, id string) (*models.WorkLocation, error) {
	for i := range s {
		if s[i].ID == id {
			site := s[i]
			return &site, nil
		}
	}
	return nil, nil
}
