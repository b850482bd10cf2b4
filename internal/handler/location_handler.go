package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"fieldclock/internal/timeclock"
	"fieldclock/internal/tracker"
	"fieldclock/pkg/location"
)

// LocationHandler receives fixes from devices and feeds them to the engine.
type LocationHandler struct {
	source *tracker.ReportedSource
	engine *timeclock.Engine
	log    *logrus.Entry
}

func NewLocationHandler(source *tracker.ReportedSource, engine *timeclock.Engine, log *logrus.Entry) *LocationHandler {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &LocationHandler{source: source, engine: engine, log: log}
}

// UpdateLocation stores the fix, wakes pending location requests and runs
// the automatic clock rules on it.
func (h *LocationHandler) UpdateLocation(c *gin.Context) {
	userID := c.Param("userId")
	var req struct {
		Latitude       *float64   `json:"lat" binding:"required"`
		Longitude      *float64   `json:"lon" binding:"required"`
		AccuracyMeters float64    `json:"accuracy"`
		Timestamp      *time.Time `json:"timestamp"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	fix := tracker.Fix{
		Point:          location.Point{Latitude: *req.Latitude, Longitude: *req.Longitude},
		AccuracyMeters: req.AccuracyMeters,
	}
	if req.Timestamp != nil {
		fix.Timestamp = *req.Timestamp
	}
	// Checked before Report so a bad fix never becomes the last known one.
	fix, err := h.engine.PrepareFix(fix)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := h.source.Report(userID, fix); err != nil {
		h.log.WithError(err).WithField("user_id", userID).Warn("persist location")
	}

	t, err := h.engine.HandleLocationUpdate(c.Request.Context(), userID, fix)
	if errors.Is(err, timeclock.ErrStaleFix) {
		c.JSON(http.StatusOK, gin.H{"applied": false, "reason": "stale_fix"})
		return
	}
	if err != nil {
		writeClockError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"applied": true, "transition": t})
}

func (h *LocationHandler) GetLocation(c *gin.Context) {
	fix, ok := h.source.LastKnown(c.Request.Context(), c.Param("userId"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no location reported"})
		return
	}
	c.JSON(http.StatusOK, fix)
}

// CheckLocation asks the device for a fresh fix and applies it.
func (h *LocationHandler) CheckLocation(c *gin.Context) {
	t, err := h.engine.CheckLocation(c.Request.Context(), c.Param("userId"))
	if err != nil {
		writeClockError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}
