package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"fieldtrack/internal/apperr"
)

// groupAdminFor returns the group-admin id a caller's reads are scoped to:
// a group admin scopes to themself, while management/super-admin can scope
// to any group_admin_id they pass explicitly.
func groupAdminFor(c *gin.Context) string {
	if requested := c.Query("group_admin_id"); requested != "" {
		return requested
	}
	return callerID(c)
}

// getActiveLocations returns the most recent location sample for every
// employee under the caller's group (or an explicit group_admin_id for
// management/super-admin callers).
func (h *Handler) getActiveLocations(c *gin.Context) {
	employeeIDs, err := h.employees.UsersUnderGroupAdmin(c.Request.Context(), groupAdminFor(c))
	if err != nil {
		writeError(c, h.logger, apperr.Wrap(apperr.KindStorage, "load group employees", err))
		return
	}

	samples, err := h.locations.LatestForUsers(c.Request.Context(), employeeIDs)
	if err != nil {
		writeError(c, h.logger, apperr.Wrap(apperr.KindStorage, "load latest employee locations", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"locations": samples})
}

// getEmployeeHistory returns one employee's location history for a single
// day (today, unless date is given); the caller must be that employee's
// group admin or outrank the role entirely — UsersUnderGroupAdmin is
// checked as the membership gate.
func (h *Handler) getEmployeeHistory(c *gin.Context) {
	employeeID := c.Query("employee_id")
	if employeeID == "" {
		writeError(c, h.logger, apperr.New(apperr.KindValidation, "employee_id is required"))
		return
	}

	employeeIDs, err := h.employees.UsersUnderGroupAdmin(c.Request.Context(), groupAdminFor(c))
	if err != nil {
		writeError(c, h.logger, apperr.Wrap(apperr.KindStorage, "load group employees", err))
		return
	}
	if !contains(employeeIDs, employeeID) {
		writeError(c, h.logger, apperr.New(apperr.KindAuthz, "employee is not in this group"))
		return
	}

	day := time.Now()
	if dateStr := c.Query("date"); dateStr != "" {
		parsed, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			writeError(c, h.logger, apperr.New(apperr.KindValidation, "date must be YYYY-MM-DD"))
			return
		}
		day = parsed
	}
	y, m, d := day.UTC().Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	samples, err := h.locations.History(c.Request.Context(), employeeID, start, end)
	if err != nil {
		writeError(c, h.logger, apperr.Wrap(apperr.KindStorage, "load employee location history", err))
		return
	}
	shifts, err := h.shifts.ShiftHistory(c.Request.Context(), employeeID, start, end)
	if err != nil {
		writeError(c, h.logger, apperr.Wrap(apperr.KindStorage, "load employee shift history", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"locations": samples, "shifts": shifts})
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
