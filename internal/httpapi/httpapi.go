// Package httpapi is the REST ingress for the tracking core: it binds
// request bodies and query params, resolves the caller from the JWT the
// auth middleware attaches to the Gin context, and translates apperr kinds
// into HTTP status codes.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"fieldtrack/internal/analytics"
	"fieldtrack/internal/apperr"
	"fieldtrack/internal/ingest"
	"fieldtrack/internal/shiftengine"
	"fieldtrack/pkg/auth"
	"fieldtrack/pkg/models"
)

// UserLookup resolves a caller's profile, narrowed to what response
// shaping and company-accuracy-floor resolution need.
type UserLookup interface {
	GetUser(ctx context.Context, userID string) (models.User, error)
}

// EmployeeDirectory answers "who reports to this group admin", the set
// group-admin tracking reads are scoped to.
type EmployeeDirectory interface {
	UsersUnderGroupAdmin(ctx context.Context, groupAdminID string) ([]string, error)
}

// LocationReader answers the group-admin read queries over location_samples.
type LocationReader interface {
	LatestForUsers(ctx context.Context, userIDs []string) ([]models.LocationSample, error)
	History(ctx context.Context, userID string, start, end time.Time) ([]models.LocationSample, error)
}

// Handler implements every route the tracking core's REST surface exposes.
type Handler struct {
	ingest    *ingest.Ingest
	shifts    *shiftengine.Engine
	analytics *analytics.Aggregator
	locations LocationReader
	users     UserLookup
	employees EmployeeDirectory
	jwtSecret []byte
	logger    *logrus.Logger
}

// New wires Handler's collaborators.
func New(in *ingest.Ingest, shifts *shiftengine.Engine, analyticsAgg *analytics.Aggregator,
	locations LocationReader, users UserLookup, employees EmployeeDirectory, jwtSecret []byte, logger *logrus.Logger) *Handler {
	return &Handler{
		ingest: in, shifts: shifts, analytics: analyticsAgg, locations: locations,
		users: users, employees: employees, jwtSecret: jwtSecret, logger: logger,
	}
}

// RegisterRoutes mounts every route spec.md's external-interfaces table
// names onto router, behind JWT auth.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	tracking := router.Group("/employee-tracking", auth.JWTAuthMiddleware(h.jwtSecret))
	tracking.POST("/location", h.postLocation)
	tracking.POST("/location/background", h.postLocationBackground)
	tracking.POST("/start-shift", h.postStartShift)
	tracking.POST("/end-shift", h.postEndShift)
	tracking.GET("/current-shift", h.getCurrentShift)
	tracking.GET("/shift-history", h.getShiftHistory)
	tracking.GET("/analytics", h.getAnalytics)

	timer := router.Group("/shift/timer", auth.JWTAuthMiddleware(h.jwtSecret))
	timer.POST("", h.postTimer)
	timer.DELETE("", h.deleteTimer)
	timer.GET("", h.getTimer)

	groupAdmin := router.Group("/group-admin-tracking", auth.JWTAuthMiddleware(h.jwtSecret),
		auth.RequireRole(auth.RoleGroupAdmin, auth.RoleManagement, auth.RoleSuperAdmin))
	groupAdmin.GET("/active-locations", h.getActiveLocations)
	groupAdmin.GET("/employee-history", h.getEmployeeHistory)
}

// callerID pulls the JWT-verified user id the auth middleware attached.
func callerID(c *gin.Context) string {
	v, _ := c.Get("user_id")
	id, _ := v.(string)
	return id
}

func callerCompanyID(c *gin.Context) string {
	v, _ := c.Get("company_id")
	id, _ := v.(string)
	return id
}

// writeError maps err onto a status code via apperr, falling back to 500
// for errors this core's components never wrap in apperr.Error.
func writeError(c *gin.Context, logger *logrus.Logger, err error) {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		body := gin.H{"error": appErr.Msg}
		if appErr.Reason != "" {
			body["reason"] = appErr.Reason
		}
		c.JSON(apperr.HTTPStatus(appErr.Kind), body)
		return
	}
	logger.WithError(err).Error("unmapped error reached httpapi")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func parseDateRange(c *gin.Context) (time.Time, time.Time, error) {
	startStr := c.Query("start_date")
	endStr := c.Query("end_date")
	if startStr == "" || endStr == "" {
		return time.Time{}, time.Time{}, apperr.New(apperr.KindValidation, "start_date and end_date are required")
	}
	start, err := time.Parse("2006-01-02", startStr)
	if err != nil {
		return time.Time{}, time.Time{}, apperr.New(apperr.KindValidation, "start_date must be YYYY-MM-DD")
	}
	end, err := time.Parse("2006-01-02", endStr)
	if err != nil {
		return time.Time{}, time.Time{}, apperr.New(apperr.KindValidation, "end_date must be YYYY-MM-DD")
	}
	return start, end, nil
}
