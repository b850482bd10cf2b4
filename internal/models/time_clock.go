package models

import (
	"time"

	"fieldclock/pkg/location"
)

// TimeClockEntry is one clock transition. Entries are append-only.
type TimeClockEntry struct {
	ID               string    `gorm:"primaryKey;size:36" json:"id"`
	UserID           string    `gorm:"size:128;not null;index:idx_entries_user_ts" json:"user_id"`
	Timestamp        time.Time `gorm:"not null;index:idx_entries_user_ts" json:"timestamp"`
	Kind             string    `gorm:"size:16;not null" json:"kind"` // CLOCK_IN | CLOCK_OUT
	WorkLocationID   string    `gorm:"size:36;index" json:"work_location_id"`
	WorkLocationName string    `gorm:"size:255" json:"work_location_name"`
	Latitude         float64   `gorm:"type:decimal(10,8)" json:"latitude"`
	Longitude        float64   `gorm:"type:decimal(11,8)" json:"longitude"`
	ProjectID        *string   `gorm:"size:64" json:"project_id,omitempty"`
	Notes            string    `gorm:"type:text" json:"notes"`
	Automatic        bool      `gorm:"not null;default:false" json:"automatic"`
	CreatedAt        time.Time `json:"created_at"`
}

func (TimeClockEntry) TableName() string {
	return "time_clock_entries"
}

func (e *TimeClockEntry) Point() location.Point {
	return location.Point{Latitude: e.Latitude, Longitude: e.Longitude}
}

// TimeClockSession is a work interval opened by a CLOCK_IN entry and closed,
// once, by a CLOCK_OUT entry.
type TimeClockSession struct {
	ID               string     `gorm:"primaryKey;size:36" json:"id"`
	UserID           string     `gorm:"size:128;not null;index:idx_sessions_user_date" json:"user_id"`
	ClockInEntryID   string     `gorm:"size:36;not null;uniqueIndex" json:"clock_in_entry_id"`
	ClockOutEntryID  *string    `gorm:"size:36;uniqueIndex" json:"clock_out_entry_id,omitempty"`
	ClockInAt        time.Time  `gorm:"not null" json:"clock_in_at"`
	ClockOutAt       *time.Time `json:"clock_out_at,omitempty"`
	DurationMs       *int64     `json:"duration_ms,omitempty"`
	WorkLocationID   string     `gorm:"size:36;index" json:"work_location_id"`
	WorkLocationName string     `gorm:"size:255" json:"work_location_name"`
	ProjectID        *string    `gorm:"size:64" json:"project_id,omitempty"`
	SessionDate      time.Time  `gorm:"not null;index:idx_sessions_user_date" json:"session_date"`
	Notes            string     `gorm:"type:text" json:"notes"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func (TimeClockSession) TableName() string {
	return "time_clock_sessions"
}

// IsOpen reports whether the session still waits for its clock-out.
func (s *TimeClockSession) IsOpen() bool { return s.ClockOutEntryID == nil }

// Duration returns the closed session length, or zero while open.
func (s *TimeClockSession) Duration() time.Duration {
	if s.DurationMs == nil {
		return 0
	}
	return time.Duration(*s.DurationMs) * time.Millisecond
}

// TimeClockStatus is the per-user snapshot of the open session. It is a
// projection of the ledger, rewritten on every transition.
type TimeClockStatus struct {
	UserID                  string     `gorm:"primaryKey;size:128" json:"user_id"`
	IsClockedIn             bool       `gorm:"not null;default:false" json:"is_clocked_in"`
	CurrentWorkLocationID   *string    `gorm:"size:36" json:"current_work_location_id"`
	CurrentWorkLocationName *string    `gorm:"size:255" json:"current_work_location_name"`
	CurrentProjectID        *string    `gorm:"size:64" json:"current_project_id"`
	LastClockInAt           *time.Time `json:"last_clock_in_at"`
	CurrentSessionID        *string    `gorm:"size:36" json:"current_session_id"`
	UpdatedAt               time.Time  `json:"updated_at"`
}

func (TimeClockStatus) TableName() string {
	return "time_clock_status"
}

// ClockedOutStatus is the baseline status for a user with no open session.
func ClockedOutStatus(userID string, at time.Time) TimeClockStatus {
	return TimeClockStatus{UserID: userID, UpdatedAt: at}
}

// ClockedInStatus derives the status for a freshly opened session.
func ClockedInStatus(session *TimeClockSession, at time.Time) TimeClockStatus {
	locID := session.WorkLocationID
	locName := session.WorkLocationName
	sessionID := session.ID
	clockIn := session.ClockInAt
	return TimeClockStatus{
		UserID:                  session.UserID,
		IsClockedIn:             true,
		CurrentWorkLocationID:   &locID,
		CurrentWorkLocationName: &locName,
		CurrentProjectID:        session.ProjectID,
		LastClockInAt:           &clockIn,
		CurrentSessionID:        &sessionID,
		UpdatedAt:               at,
	}
}
