package attendance

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"fieldtrack/pkg/models"
)

// UserLookup resolves the company an employee code (a user id) belongs to,
// so TenantGate can enforce per-company enablement — the bridge's Punch
// contract carries no tenant field of its own.
type UserLookup interface {
	GetUser(ctx context.Context, userID string) (models.User, error)
}

// TenantGate adapts Client into shiftengine.AttendanceClient, gating calls
// to an explicit per-company allowlist (ATTENDANCE_ENABLED_TENANTS) instead
// of a hardcoded tenant or environment check.
type TenantGate struct {
	client  *Client
	users   UserLookup
	enabled map[string]bool
	logger  *logrus.Logger
}

// NewTenantGate builds a TenantGate; enabledTenants is the company id
// allowlist.
func NewTenantGate(client *Client, users UserLookup, enabledTenants []string, logger *logrus.Logger) *TenantGate {
	set := make(map[string]bool, len(enabledTenants))
	for _, t := range enabledTenants {
		set[t] = true
	}
	return &TenantGate{client: client, users: users, enabled: set, logger: logger}
}

// Punch implements shiftengine.AttendanceClient. If any employee code in
// the batch belongs to a company outside the allowlist, the whole batch is
// skipped rather than partially punched, since Sparrow has no per-employee
// tenant scoping to split on.
func (g *TenantGate) Punch(ctx context.Context, employeeCodes []string) error {
	for _, code := range employeeCodes {
		user, err := g.users.GetUser(ctx, code)
		if err != nil {
			return fmt.Errorf("resolving tenant for employee code %s: %w", code, err)
		}
		if !g.enabled[user.CompanyID] {
			g.logger.WithField("company_id", user.CompanyID).Debug("attendance bridge disabled for tenant, skipping punch")
			return nil
		}
	}

	result, err := g.client.Punch(ctx, employeeCodes)
	if err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("attendance bridge punch failed: %s (%s)", strings.Join(result.SparrowErrors, "; "), result.ErrorType)
	}
	return nil
}
