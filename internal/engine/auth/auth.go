// Package auth decides which roles hold which permissions. Policies come
// from the rbac section of the config and are evaluated by casbin.
package auth

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/sirupsen/logrus"

	"caseline/internal/config"
)

// Permissions checked by the engine and the API.
const (
	PermIncidentSubmit   = "incident.submit"
	PermIncidentReport   = "incident.report_others"
	PermIncidentRead     = "incident.read"
	PermIncidentReadOwn  = "incident.read_own"
	PermIncidentDecide   = "incident.decide"
	PermCaseRead         = "case.read"
	PermCaseReadTeam     = "case.read_team"
	PermCaseReadOwn      = "case.read_own"
	PermCaseAdvance      = "case.advance"
	PermCaseNotes        = "case.notes"
	PermCaseClose        = "case.close"
	PermCaseSummary      = "case.summary"
	PermNotificationRead = "notification.read"
	PermEventRead        = "event.read"
	PermUserManage       = "user.manage"
	PermConfigManage     = "config.manage"
	PermScheduleManage   = "schedule.manage"
	PermAPIKeyManage     = "apikey.manage"
)

const rbacModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.sub == p.sub && (p.obj == "*" || r.obj == p.obj) && (p.act == "*" || r.act == p.act)
`

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
	Reason     string
}

func (e ForbiddenError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("permission %s required: %s", e.Permission, e.Reason)
	}
	return fmt.Sprintf("permission %s required", e.Permission)
}

type Authorizer struct {
	enforcer *casbin.Enforcer
	roles    map[string][]string
	logger   *logrus.Entry
}

// NewAuthorizer loads every role's permissions from cfg into an enforcer.
func NewAuthorizer(cfg *config.Config, logger *logrus.Logger) (*Authorizer, error) {
	m, err := model.NewModelFromString(rbacModel)
	if err != nil {
		return nil, fmt.Errorf("auth: model: %w", err)
	}
	enf, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to initialize enforcer: %w", err)
	}
	roles := map[string][]string{}
	for roleID, role := range cfg.RBAC.Roles {
		for _, perm := range role.Permissions {
			obj, act := split(perm)
			if _, err := enf.AddPolicy(roleID, obj, act); err != nil {
				return nil, fmt.Errorf("auth: add policy %s %s: %w", roleID, perm, err)
			}
			roles[roleID] = append(roles[roleID], perm)
		}
	}
	var entry *logrus.Entry
	if logger != nil {
		entry = logger.WithField("component", "authz")
	} else {
		entry = logrus.WithField("component", "authz")
	}
	return &Authorizer{enforcer: enf, roles: roles, logger: entry}, nil
}

// split turns "case.read_team" into ("case", "read_team"); "*" matches all.
func split(perm string) (string, string) {
	if perm == "*" {
		return "*", "*"
	}
	i := strings.LastIndex(perm, ".")
	if i < 0 {
		return perm, "*"
	}
	return perm[:i], perm[i+1:]
}

// Allowed reports whether role holds perm.
func (a *Authorizer) Allowed(role, perm string) (bool, error) {
	obj, act := split(perm)
	ok, err := a.enforcer.Enforce(role, obj, act)
	if err != nil {
		return false, fmt.Errorf("auth: enforce failed: %w", err)
	}
	return ok, nil
}

// Require returns ForbiddenError unless role holds perm.
func (a *Authorizer) Require(ctx context.Context, subject, role, perm string) error {
	ok, err := a.Allowed(role, perm)
	if err != nil {
		return err
	}
	if !ok {
		a.logger.WithContext(ctx).WithFields(logrus.Fields{
			"subject":    subject,
			"role":       role,
			"permission": perm,
		}).Warn("authz denied request")
		return ForbiddenError{Permission: perm}
	}
	return nil
}

// Permissions lists the permissions configured for role.
func (a *Authorizer) Permissions(role string) []string {
	perms := append([]string(nil), a.roles[role]...)
	sort.Strings(perms)
	return perms
}
