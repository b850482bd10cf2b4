package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"fieldclock/internal/ledger"
	"fieldclock/internal/timeclock"
)

// clockError maps engine and ledger errors to a status and a stable code.
func clockError(err error) (int, string) {
	switch {
	case errors.Is(err, ledger.ErrAlreadyClockedIn):
		return http.StatusConflict, "ALREADY_CLOCKED_IN"
	case errors.Is(err, ledger.ErrNotClockedIn):
		return http.StatusConflict, "NOT_CLOCKED_IN"
	case errors.Is(err, ledger.ErrInvalidDuration):
		return http.StatusUnprocessableEntity, "INVALID_DURATION"
	case errors.Is(err, timeclock.ErrLocationUnavailable):
		return http.StatusServiceUnavailable, "LOCATION_UNAVAILABLE"
	case errors.Is(err, timeclock.ErrUnknownWorkLocation):
		return http.StatusNotFound, "UNKNOWN_WORK_LOCATION"
	case errors.Is(err, timeclock.ErrNoWorkLocation):
		return http.StatusNotFound, "NO_WORK_LOCATION"
	case errors.Is(err, timeclock.ErrStaleFix):
		return http.StatusConflict, "STALE_FIX"
	case errors.Is(err, timeclock.ErrInvalidFix), errors.Is(err, ledger.ErrInvalidRange), errors.Is(err, timeclock.ErrUnknownCommand):
		return http.StatusBadRequest, "INVALID_REQUEST"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

func writeClockError(c *gin.Context, err error) {
	status, code := clockError(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
		_ = c.Error(err)
	}
	c.JSON(status, gin.H{"error": msg, "code": code})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg, "code": "INVALID_REQUEST"})
}
