package engine

import (
	"context"
	"strings"

	"github.com/go-faster/errors"

	"caseline/internal/domain"
	"caseline/internal/engine/auth"
	"caseline/internal/repo"
)

// Actor resolves a user id to a known user.
func (e Engine) Actor(ctx context.Context, userID string) (domain.User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.User{}, auth.ForbiddenError{Reason: "no user"}
	}
	u, err := e.Repo.GetUser(ctx, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, auth.ForbiddenError{Reason: "unknown user " + userID}
	}
	if err != nil {
		return domain.User{}, persistence("load user", err)
	}
	return u, nil
}

// Authorize loads the user and checks that their role holds perm.
func (e Engine) Authorize(ctx context.Context, userID, perm string) (domain.User, error) {
	u, err := e.Actor(ctx, userID)
	if err != nil {
		var fe auth.ForbiddenError
		if errors.As(err, &fe) {
			fe.Permission = perm
			return domain.User{}, fe
		}
		return domain.User{}, err
	}
	if err := e.Auth.Require(ctx, u.ID, u.Role, perm); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

func (e Engine) allowed(u domain.User, perm string) bool {
	ok, err := e.Auth.Allowed(u.Role, perm)
	return err == nil && ok
}

// CanDecide checks that u may approve or reject inc. Team leaders only
// decide incidents raised in their own team.
func (e Engine) CanDecide(ctx context.Context, u domain.User, inc domain.Incident) error {
	if err := e.Auth.Require(ctx, u.ID, u.Role, auth.PermIncidentDecide); err != nil {
		return err
	}
	if u.Role == domain.RoleTeamLeader && (u.TeamID == nil || *u.TeamID != inc.TeamID) {
		return auth.ForbiddenError{Permission: auth.PermIncidentDecide, Reason: "incident belongs to another team"}
	}
	return nil
}

// CanViewIncident checks read access to a single incident.
func (e Engine) CanViewIncident(ctx context.Context, u domain.User, inc domain.Incident) error {
	if e.allowed(u, auth.PermIncidentRead) {
		if u.Role != domain.RoleTeamLeader || (u.TeamID != nil && *u.TeamID == inc.TeamID) {
			return nil
		}
	}
	if e.allowed(u, auth.PermIncidentReadOwn) && inc.WorkerID == u.ID {
		return nil
	}
	return auth.ForbiddenError{Permission: auth.PermIncidentRead}
}

// CanViewCase checks read access to a single case: everything with
// case.read, the user's teams with case.read_team, their own cases with
// case.read_own.
func (e Engine) CanViewCase(ctx context.Context, u domain.User, c domain.Case) error {
	if e.allowed(u, auth.PermCaseRead) {
		return nil
	}
	if e.allowed(u, auth.PermCaseReadTeam) {
		teams, err := e.VisibleTeams(ctx, u)
		if err != nil {
			return err
		}
		for _, t := range teams {
			if t == c.TeamID {
				return nil
			}
		}
	}
	if e.allowed(u, auth.PermCaseReadOwn) && c.WorkerID == u.ID {
		return nil
	}
	return auth.ForbiddenError{Permission: auth.PermCaseRead}
}

// VisibleTeams returns the teams a team leader or supervisor oversees.
func (e Engine) VisibleTeams(ctx context.Context, u domain.User) ([]string, error) {
	if u.Role == domain.RoleSupervisor {
		teams, err := e.Repo.SupervisedTeams(ctx, u.ID)
		if err != nil {
			return nil, persistence("load supervised teams", err)
		}
		return teams, nil
	}
	if u.TeamID != nil {
		return []string{*u.TeamID}, nil
	}
	return nil, nil
}
