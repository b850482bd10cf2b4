package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"fieldclock/internal/command"
	"fieldclock/internal/ledger"
	"fieldclock/internal/timeclock"
	"fieldclock/pkg/location"
)

type TimeClockHandler struct {
	engine *timeclock.Engine
	ledger *ledger.Ledger
	loc    *time.Location
}

// NewTimeClockHandler parses plain dates in loc; nil means UTC.
func NewTimeClockHandler(engine *timeclock.Engine, l *ledger.Ledger, loc *time.Location) *TimeClockHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &TimeClockHandler{engine: engine, ledger: l, loc: loc}
}

type pointFields struct {
	Lat *float64 `json:"lat"`
	Lon *float64 `json:"lon"`
}

// point returns nil when no coordinates were sent.
func (p pointFields) point() (*location.Point, error) {
	if p.Lat == nil && p.Lon == nil {
		return nil, nil
	}
	if p.Lat == nil || p.Lon == nil {
		return nil, fmt.Errorf("lat and lon must be sent together")
	}
	return &location.Point{Latitude: *p.Lat, Longitude: *p.Lon}, nil
}

func (h *TimeClockHandler) ClockIn(c *gin.Context) {
	var req struct {
		UserID         string  `json:"userId" binding:"required"`
		WorkLocationID string  `json:"workLocationId" binding:"required"`
		ProjectID      *string `json:"projectId"`
		Notes          string  `json:"notes"`
		pointFields
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	p, err := req.point()
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	t, err := h.engine.ManualClockIn(c.Request.Context(), timeclock.ClockInRequest{
		UserID:         req.UserID,
		WorkLocationID: req.WorkLocationID,
		Point:          p,
		ProjectID:      req.ProjectID,
		Notes:          req.Notes,
	})
	if err != nil {
		writeClockError(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

func (h *TimeClockHandler) ClockOut(c *gin.Context) {
	var req struct {
		UserID string `json:"userId" binding:"required"`
		Notes  string `json:"notes"`
		pointFields
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	p, err := req.point()
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	t, err := h.engine.ManualClockOut(c.Request.Context(), timeclock.ClockOutRequest{UserID: req.UserID, Point: p, Notes: req.Notes})
	if err != nil {
		writeClockError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *TimeClockHandler) Status(c *gin.Context) {
	st, err := h.engine.Status(c.Request.Context(), c.Param("userId"))
	if err != nil {
		writeClockError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// Sessions lists all sessions, or those between start and end when both
// are given.
func (h *TimeClockHandler) Sessions(c *gin.Context) {
	userID := c.Param("userId")
	start, end, ok, err := h.parseRange(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	ctx := c.Request.Context()
	if !ok {
		list, err := h.ledger.Sessions(ctx, userID)
		if err != nil {
			writeClockError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"sessions": list})
		return
	}
	list, err := h.ledger.SessionsInRange(ctx, userID, start, end)
	if err != nil {
		writeClockError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": list})
}

func (h *TimeClockHandler) TotalHours(c *gin.Context) {
	start, end, ok, err := h.parseRange(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	if !ok {
		badRequest(c, "start and end are required")
		return
	}
	hours, err := h.ledger.TotalHours(c.Request.Context(), c.Param("userId"), start, end)
	if err != nil {
		writeClockError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"totalHours": hours})
}

func (h *TimeClockHandler) Entries(c *gin.Context) {
	list, err := h.ledger.Entries(c.Request.Context(), c.Param("userId"))
	if err != nil {
		writeClockError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": list})
}

// Command runs a spoken or typed phrase such as "clock me in".
func (h *TimeClockHandler) Command(c *gin.Context) {
	var req struct {
		Text  string `json:"text" binding:"required"`
		Notes string `json:"notes"`
		pointFields
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	p, err := req.point()
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	cmd, ok := command.Interpret(req.Text)
	if !ok {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "command not recognized", "code": "UNKNOWN_COMMAND"})
		return
	}
	t, err := h.engine.Execute(c.Request.Context(), c.Param("userId"), cmd, p, req.Notes)
	if err != nil {
		writeClockError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"command": cmd, "transition": t})
}

func (h *TimeClockHandler) parseRange(c *gin.Context) (start, end time.Time, ok bool, err error) {
	s, e := c.Query("start"), c.Query("end")
	if s == "" && e == "" {
		return start, end, false, nil
	}
	if s == "" || e == "" {
		return start, end, false, fmt.Errorf("start and end must be sent together")
	}
	if start, err = parseDay(s, h.loc); err != nil {
		return start, end, false, fmt.Errorf("invalid start: %w", err)
	}
	if end, err = parseDay(e, h.loc); err != nil {
		return start, end, false, fmt.Errorf("invalid end: %w", err)
	}
	return start, end, true, nil
}

// parseDay accepts RFC 3339 timestamps or YYYY-MM-DD dates.
func parseDay(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.ParseInLocation(time.DateOnly, s, loc)
}
