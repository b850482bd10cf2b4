package models

import (
	"errors"
	"time"

	"fieldclock/pkg/location"
)

var (
	ErrInvalidRadius      = errors.New("radius must be greater than zero")
	ErrInvalidCoordinates = errors.New("coordinates out of range")
	ErrNameRequired       = errors.New("name is required")
)

// WorkLocation is a circular job site. Administrators create and edit these;
// the clock engine only reads them.
type WorkLocation struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	Name         string    `gorm:"size:255;not null" json:"name"`
	Address      string    `gorm:"size:512" json:"address"`
	Latitude     float64   `gorm:"type:decimal(10,8);not null" json:"latitude"`
	Longitude    float64   `gorm:"type:decimal(11,8);not null" json:"longitude"`
	RadiusMeters float64   `gorm:"not null;default:100" json:"radius_meters"`
	ProjectID    *string   `gorm:"size:64;index" json:"project_id,omitempty"`
	Active       bool      `gorm:"not null;index" json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (WorkLocation) TableName() string {
	return "work_locations"
}

// Center returns the geofence center.
func (w *WorkLocation) Center() location.Point {
	return location.Point{Latitude: w.Latitude, Longitude: w.Longitude}
}

func (w *WorkLocation) Validate() error {
	if w.Name == "" {
		return ErrNameRequired
	}
	if !(w.RadiusMeters > 0) {
		return ErrInvalidRadius
	}
	if !w.Center().Valid() {
		return ErrInvalidCoordinates
	}
	return nil
}
