package models

import (
	"time"
)

// UserLocation stores the last fix a device reported for a user.
// Using separate lat/lng columns for portability and Haversine queries.
type UserLocation struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	UserID         string    `gorm:"uniqueIndex;size:128;not null" json:"user_id"`
	Latitude       float64   `gorm:"type:decimal(10,8);not null" json:"latitude"`
	Longitude      float64   `gorm:"type:decimal(11,8);not null" json:"longitude"`
	AccuracyMeters float64   `gorm:"type:decimal(8,2)" json:"accuracy_meters"`
	FixedAt        time.Time `gorm:"not null;index" json:"fixed_at"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName allows custom table name.
func (UserLocation) TableName() string {
	return "user_locations"
}

// DeviceToken is the push registration of a user's device.
type DeviceToken struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    string    `gorm:"uniqueIndex;size:128;not null" json:"user_id"`
	FCMToken  string    `gorm:"size:512;not null" json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (DeviceToken) TableName() string {
	return "device_tokens"
}
