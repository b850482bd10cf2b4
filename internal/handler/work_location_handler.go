package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"fieldclock/internal/domain"
	"fieldclock/internal/geofence"
	"fieldclock/internal/models"
	"fieldclock/internal/repository"
	"fieldclock/pkg/location"
	"fieldclock/pkg/proximity"
)

type WorkLocationHandler struct {
	repo *repository.WorkLocationRepository
}

func NewWorkLocationHandler(repo *repository.WorkLocationRepository) *WorkLocationHandler {
	return &WorkLocationHandler{repo: repo}
}

type workLocationRequest struct {
	Name         string   `json:"name" binding:"required"`
	Address      string   `json:"address"`
	Latitude     *float64 `json:"latitude" binding:"required"`
	Longitude    *float64 `json:"longitude" binding:"required"`
	RadiusMeters *float64 `json:"radius_meters"`
	ProjectID    *string  `json:"project_id"`
	Active       *bool    `json:"active"`
}

func (r workLocationRequest) apply(loc *models.WorkLocation) {
	loc.Name = r.Name
	loc.Address = r.Address
	loc.Latitude = *r.Latitude
	loc.Longitude = *r.Longitude
	loc.RadiusMeters = domain.DefaultRadiusMeters
	if r.RadiusMeters != nil {
		loc.RadiusMeters = *r.RadiusMeters
	}
	loc.ProjectID = r.ProjectID
	loc.Active = r.Active == nil || *r.Active
}

// List returns active sites; ?all=true includes deactivated ones. With lat
// and lon the distance from that point is included per site.
func (h *WorkLocationHandler) List(c *gin.Context) {
	list, err := h.repo.List(c.Request.Context(), c.Query("all") == "true")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list failed"})
		return
	}
	var from *location.Point
	if p, err := (pointFields{Lat: queryFloat(c, "lat"), Lon: queryFloat(c, "lon")}).point(); err == nil && p != nil {
		from = p
	}
	out := make([]gin.H, len(list))
	for i := range list {
		item := gin.H{"work_location": list[i]}
		if from != nil {
			d := geofence.Distance(*from, &list[i])
			item["distance_meters"] = d
			item["inside"] = geofence.Contains(*from, &list[i])
			item["proximity"] = proximity.Label(proximity.Depth(d, list[i].RadiusMeters))
		}
		out[i] = item
	}
	c.JSON(http.StatusOK, gin.H{"work_locations": out})
}

func (h *WorkLocationHandler) Get(c *gin.Context) {
	loc, err := h.repo.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	if loc == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "work location not found"})
		return
	}
	c.JSON(http.StatusOK, loc)
}

func (h *WorkLocationHandler) Create(c *gin.Context) {
	var req workLocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	var loc models.WorkLocation
	req.apply(&loc)
	if err := loc.Validate(); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := h.repo.Create(c.Request.Context(), &loc); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create failed"})
		return
	}
	c.JSON(http.StatusCreated, loc)
}

func (h *WorkLocationHandler) Update(c *gin.Context) {
	var req workLocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	loc := models.WorkLocation{ID: c.Param("id")}
	req.apply(&loc)
	if err := loc.Validate(); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := h.repo.Update(c.Request.Context(), &loc); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "work location not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	h.Get(c)
}

// Deactivate keeps the row so past sessions still resolve their site.
func (h *WorkLocationHandler) Deactivate(c *gin.Context) {
	if err := h.repo.Deactivate(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "work location not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
