package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"fieldtrack/pkg/models"
)

type locationPointRequest struct {
	Lat float64 `json:"lat" binding:"required"`
	Lon float64 `json:"lon" binding:"required"`
}

type startShiftRequest struct {
	Location           locationPointRequest `json:"location" binding:"required"`
	OverridePermission bool                 `json:"override_permission"`
}

func (h *Handler) postStartShift(c *gin.Context) {
	var req startShiftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	shift, err := h.shifts.StartShift(c.Request.Context(), callerID(c),
		models.LatLon{Lat: req.Location.Lat, Lon: req.Location.Lon}, req.OverridePermission)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, shift)
}

func (h *Handler) postEndShift(c *gin.Context) {
	var req startShiftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	shift, err := h.shifts.EndShift(c.Request.Context(), callerID(c),
		models.LatLon{Lat: req.Location.Lat, Lon: req.Location.Lon}, time.Now())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, shift)
}

func (h *Handler) getCurrentShift(c *gin.Context) {
	shift, err := h.shifts.ActiveShift(c.Request.Context(), callerID(c))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, shift)
}

func (h *Handler) getShiftHistory(c *gin.Context) {
	start, end, err := parseDateRange(c)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	shifts, err := h.shifts.ShiftHistory(c.Request.Context(), callerID(c), start, end)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"shifts": shifts})
}

type timerRequest struct {
	Hours float64 `json:"hours" binding:"required"`
}

func (h *Handler) postTimer(c *gin.Context) {
	var req timerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	timer, err := h.shifts.SetTimer(c.Request.Context(), callerID(c), req.Hours)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, timer)
}

func (h *Handler) deleteTimer(c *gin.Context) {
	if err := h.shifts.CancelTimer(c.Request.Context(), callerID(c)); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) getTimer(c *gin.Context) {
	timer, err := h.shifts.GetTimer(c.Request.Context(), callerID(c))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, timer)
}
