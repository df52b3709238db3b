package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"fieldtrack/internal/apperr"
	"fieldtrack/internal/ingest"
	"fieldtrack/pkg/models"
)

// locationRequest is the wire shape of a location submission, mobile-client
// facing: flat fields rather than a nested models.LocationSample, since the
// server assigns id/shift_id/arrival_time itself.
type locationRequest struct {
	Lat             float64   `json:"lat" binding:"required"`
	Lon             float64   `json:"lon" binding:"required"`
	AccuracyM       float64   `json:"accuracy_m"`
	BatteryPct      float64   `json:"battery_pct"`
	SpeedMps        float64   `json:"speed_mps"`
	IsMoving        bool      `json:"is_moving"`
	Timestamp       time.Time `json:"timestamp" binding:"required"`
	BatteryReported bool      `json:"battery_reported"`
	IsCharging      bool      `json:"is_charging"`
}

func (h *Handler) buildIngestRequest(c *gin.Context, req locationRequest, isBackground bool) ingest.Request {
	activeShiftID := ""
	if shift, err := h.shifts.ActiveShift(c.Request.Context(), callerID(c)); err == nil {
		activeShiftID = shift.ID
	}
	return ingest.Request{
		UserID:    callerID(c),
		CompanyID: callerCompanyID(c),
		Sample: models.LocationSample{
			UserID: callerID(c), Lat: req.Lat, Lon: req.Lon, AccuracyM: req.AccuracyM,
			BatteryPct: req.BatteryPct, SpeedMps: req.SpeedMps, IsMoving: req.IsMoving,
			Timestamp: req.Timestamp, ArrivalTime: time.Now(), IsTrackingActive: activeShiftID != "",
		},
		IsBackground:    isBackground,
		BatteryReported: req.BatteryReported,
		IsCharging:      req.IsCharging,
		ActiveShiftID:   activeShiftID,
	}
}

// postLocation answers 400 only when the request body does not bind. Past
// that it always answers 200: mobile clients treat a non-200 response as a
// network failure and re-send indefinitely, so a rejected or failed
// submission is reported in the body via success/errorCode instead.
func (h *Handler) postLocation(c *gin.Context) {
	var req locationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	now := time.Now()
	resp, err := h.ingest.Ingest(c.Request.Context(), h.buildIngestRequest(c, req, false))
	if err != nil {
		c.JSON(http.StatusOK, gin.H{
			"success":   false,
			"errorCode": errorCode(err),
			"timestamp": now,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":          true,
		"locationId":       resp.LocationID,
		"timestamp":        now,
		"location_id":      resp.LocationID,
		"warning":          resp.Warning,
		"next_interval_ms": resp.NextIntervalMs,
	})
}

func (h *Handler) postLocationBackground(c *gin.Context) {
	var req locationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusOK, gin.H{
			"success":   false,
			"errorCode": string(apperr.KindValidation),
			"timestamp": time.Now(),
		})
		return
	}

	resp := h.ingest.IngestBackground(c.Request.Context(), h.buildIngestRequest(c, req, true))
	c.JSON(http.StatusOK, gin.H{
		"success":          true,
		"locationId":       resp.LocationID,
		"timestamp":        time.Now(),
		"location_id":      resp.LocationID,
		"warning":          resp.Warning,
		"next_interval_ms": resp.NextIntervalMs,
	})
}

// errorCode maps a failed Ingest call onto the machine-readable code the
// mobile client's success:false branch switches on.
func errorCode(err error) string {
	if appErr, ok := apperr.As(err); ok {
		return string(appErr.Kind)
	}
	return string(apperr.KindFatal)
}
