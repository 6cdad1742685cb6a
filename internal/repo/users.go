package repo

import (
	"context"
	"database/sql"
	"strings"

	"github.com/go-faster/errors"

	"caseline/internal/domain"
)

func scanUser(s scanner) (domain.User, error) {
	var u domain.User
	var teamID, supervisorID sql.NullString
	err := s.Scan(&u.ID, &u.Name, &u.Role, &teamID, &supervisorID, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	if err != nil {
		return u, errors.Wrap(err, "scan user")
	}
	u.TeamID = stringPtr(teamID)
	u.SupervisorID = stringPtr(supervisorID)
	return u, nil
}

// UpsertUser inserts a user or replaces its name, role and team links.
func (r Repo) UpsertUser(ctx context.Context, u domain.User) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO users(id,name,role,team_id,supervisor_id,created_at) VALUES (?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, role=excluded.role, team_id=excluded.team_id, supervisor_id=excluded.supervisor_id`,
		u.ID, u.Name, u.Role, nullableStringPtr(u.TeamID), nullableStringPtr(u.SupervisorID), u.CreatedAt)
	if err != nil {
		return errors.Wrap(err, "upsert user")
	}
	return nil
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT id,name,role,team_id,supervisor_id,created_at FROM users WHERE id=?`, id))
}

type UserFilters struct {
	TeamID string
	Role   string
}

func (r Repo) ListUsers(ctx context.Context, f UserFilters) ([]domain.User, error) {
	var clauses []string
	var args []any
	if f.TeamID != "" {
		clauses = append(clauses, "team_id=?")
		args = append(args, f.TeamID)
	}
	if f.Role != "" {
		clauses = append(clauses, "role=?")
		args = append(args, f.Role)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,role,team_id,supervisor_id,created_at FROM users `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list users")
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "list users")
	}
	return res, nil
}

// SupervisedTeams returns the team ids of users reporting to supervisorID,
// plus the supervisor's own team.
func (r Repo) SupervisedTeams(ctx context.Context, supervisorID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT DISTINCT team_id FROM users WHERE team_id IS NOT NULL AND (supervisor_id=? OR id=?) ORDER BY team_id`,
		supervisorID, supervisorID)
	if err != nil {
		return nil, errors.Wrap(err, "supervised teams")
	}
	defer rows.Close()
	var teams []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, errors.Wrap(err, "scan team")
		}
		teams = append(teams, t)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "supervised teams")
	}
	return teams, nil
}
