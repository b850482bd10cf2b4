package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"fieldclock/internal/repository"
)

type DeviceHandler struct {
	repo *repository.DeviceTokenRepository
}

func NewDeviceHandler(repo *repository.DeviceTokenRepository) *DeviceHandler {
	return &DeviceHandler{repo: repo}
}

func (h *DeviceHandler) SetPushToken(c *gin.Context) {
	var req struct {
		Token string `json:"token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := h.repo.Set(c.Param("userId"), req.Token); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *DeviceHandler) ClearPushToken(c *gin.Context) {
	if err := h.repo.Clear(c.Param("userId")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
