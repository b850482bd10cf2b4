package domain

// Entry kinds recorded in the time clock log.
const (
	EntryClockIn  = "CLOCK_IN"
	EntryClockOut = "CLOCK_OUT"
)

// Time clock event types delivered to observers.
const (
	EventEnteredWorkLocation = "ENTERED_WORK_LOCATION"
	EventLeftWorkLocation    = "LEFT_WORK_LOCATION"
	EventManualClockIn       = "MANUAL_CLOCK_IN"
	EventManualClockOut      = "MANUAL_CLOCK_OUT"
)

// Clock states per user.
const (
	StateOut = "OUT"
	StateIn  = "IN"
)

// DefaultRadiusMeters is the geofence radius used when a work location omits one.
const DefaultRadiusMeters = 100.0

// Push notification types
const (
	NotifyAutoClockIn     = "AUTO_CLOCK_IN"
	NotifyAutoClockOut    = "AUTO_CLOCK_OUT"
	NotifyLocationRequest = "LOCATION_REQUEST"
)
