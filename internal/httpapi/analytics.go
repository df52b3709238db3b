package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"fieldtrack/internal/apperr"
	"fieldtrack/pkg/auth"
)

// getAnalytics answers the caller's own daily rollups unless employee_id is
// given and the caller outranks an individual contributor, matching the
// same role gate ShiftHistory's single-user scope implies everywhere else
// in this surface.
func (h *Handler) getAnalytics(c *gin.Context) {
	start, end, err := parseDateRange(c)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	userID := callerID(c)
	if requested := c.Query("employee_id"); requested != "" && requested != userID {
		roleVal, _ := c.Get("role")
		role, _ := roleVal.(auth.Role)
		if role != auth.RoleGroupAdmin && role != auth.RoleManagement && role != auth.RoleSuperAdmin {
			writeError(c, h.logger, apperr.New(apperr.KindAuthz, "not permitted to view another employee's analytics"))
			return
		}
		userID = requested
	}

	rows, err := h.analytics.Range(c.Request.Context(), userID, start, end)
	if err != nil {
		writeError(c, h.logger, apperr.Wrap(apperr.KindStorage, "load analytics range", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"analytics": rows})
}
